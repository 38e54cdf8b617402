// File: internal/coordinator/tools.go
package coordinator

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/browser"
)

// toolFunc is one dispatchable tool. Params arrive as the caller's decoded
// JSON object; results must be JSON-encodable.
type toolFunc func(ctx context.Context, sess *Session, params map[string]any) (any, error)

// tools returns the registry of named tools exposed through ExecuteTool.
func (c *Coordinator) tools() map[string]toolFunc {
	return map[string]toolFunc{
		"navigate_to_url":  c.toolNavigate,
		"extract_text":     c.toolExtractText,
		"wait_for_element": c.toolWaitForElement,
		"scroll_page":      c.toolScrollPage,
		"take_screenshot":  c.toolScreenshot,
	}
}

// ToolNames lists the registered tools for discovery.
func (c *Coordinator) ToolNames() []string {
	names := make([]string, 0, len(c.tools()))
	for name := range c.tools() {
		names = append(names, name)
	}
	return names
}

func stringParam(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("parameter %q must be a non-empty string", key)
	}
	return s, nil
}

func (c *Coordinator) toolNavigate(ctx context.Context, sess *Session, params map[string]any) (any, error) {
	url, err := stringParam(params, "url")
	if err != nil {
		return nil, err
	}
	wait := schemas.WaitLoad
	if w, ok := params["wait_until"].(string); ok && w != "" {
		wait = schemas.WaitUntil(w)
	}
	navStart := time.Now()
	if err := sess.adapter.Navigate(ctx, url, wait); err != nil {
		return nil, err
	}
	sess.setURL(url)
	c.engine.Cache().InvalidateSession(sess.ID)
	return map[string]any{"url": url, "load_ms": time.Since(navStart).Milliseconds()}, nil
}

func (c *Coordinator) toolExtractText(ctx context.Context, sess *Session, params map[string]any) (any, error) {
	locator, err := stringParam(params, "locator")
	if err != nil {
		return nil, err
	}
	handle, err := sess.adapter.Find(ctx, locator)
	if err != nil {
		return nil, err
	}
	return map[string]any{"locator": locator, "text": handle.Text}, nil
}

func (c *Coordinator) toolWaitForElement(ctx context.Context, sess *Session, params map[string]any) (any, error) {
	locator, err := stringParam(params, "locator")
	if err != nil {
		return nil, err
	}
	timeout := 10 * time.Second
	if ms, ok := params["timeout_ms"].(float64); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	start := time.Now()
	for {
		if _, err := sess.adapter.Find(wctx, locator); err == nil {
			return map[string]any{"locator": locator, "waited_ms": time.Since(start).Milliseconds()}, nil
		}
		select {
		case <-wctx.Done():
			return nil, browser.NewError(browser.KindTimeout, locator, wctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) toolScrollPage(ctx context.Context, sess *Session, params map[string]any) (any, error) {
	direction, _ := params["direction"].(string)
	if direction != "up" && direction != "down" {
		direction = "down"
	}
	amount := 600
	if a, ok := params["amount"].(float64); ok && a > 0 {
		amount = int(a)
	}
	delta := amount
	if direction == "up" {
		delta = -amount
	}
	if err := sess.adapter.Evaluate(ctx, fmt.Sprintf("window.scrollBy(0, %d)", delta), nil); err != nil {
		return nil, err
	}
	return map[string]any{"direction": direction, "amount": amount}, nil
}

func (c *Coordinator) toolScreenshot(ctx context.Context, sess *Session, params map[string]any) (any, error) {
	shot, err := sess.adapter.Screenshot(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"encoding": "base64",
		"data":     base64.StdEncoding.EncodeToString(shot),
		"bytes":    len(shot),
	}, nil
}
