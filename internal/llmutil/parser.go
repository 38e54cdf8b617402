// File: internal/llmutil/parser.go

// Package llmutil provides shared helpers for parsing structured responses
// from language models.
package llmutil

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ParseJSONResponse decodes a JSON object of type T from raw LLM output.
// Models wrap JSON in markdown fences or prose more often than not; the
// parser strips fences first, then falls back to the outermost brace pair.
func ParseJSONResponse[T any](raw string) (*T, error) {
	candidate := strings.TrimSpace(raw)

	if fenced, ok := extractFencedBlock(candidate); ok {
		candidate = fenced
	} else if braced, ok := extractBracedBlock(candidate); ok {
		candidate = braced
	}

	var out T
	if err := json.UnmarshalFromString(candidate, &out); err != nil {
		return nil, fmt.Errorf("failed to parse model response as JSON: %w", err)
	}
	return &out, nil
}

func extractFencedBlock(s string) (string, bool) {
	start := strings.Index(s, "```")
	if start == -1 {
		return "", false
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl != -1 && !strings.ContainsAny(rest[:nl], "{}") {
		// Skip a language tag like "json" on the fence line.
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end == -1 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

func extractBracedBlock(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
