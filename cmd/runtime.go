// File: cmd/runtime.go
package cmd

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/browser"
	"github.com/webpilot-ai/webpilot/internal/config"
	"github.com/webpilot-ai/webpilot/internal/coordinator"
	"github.com/webpilot-ai/webpilot/internal/executor"
	"github.com/webpilot-ai/webpilot/internal/learning"
	"github.com/webpilot-ai/webpilot/internal/llmclient"
	"github.com/webpilot-ai/webpilot/internal/perception"
	"github.com/webpilot-ai/webpilot/internal/planner"
)

// runtime is the assembled stack behind the coordinator for one command
// invocation.
type runtime struct {
	coord *coordinator.Coordinator
	cache *perception.Cache
	store *learning.Store
}

// buildRuntime wires perception, learning, planning, and execution over a
// chromedp browser factory.
func buildRuntime(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*runtime, error) {
	cache := perception.NewCache(cfg.Perception, logger)
	engine := perception.NewEngine(cfg.Perception, cache, logger)

	var sink learning.Sink
	if cfg.Learning.SinkPath != "" {
		path, err := config.ExpandPath(cfg.Learning.SinkPath)
		if err != nil {
			cache.Close()
			return nil, err
		}
		sink, err = learning.NewSQLiteSink(path)
		if err != nil {
			cache.Close()
			return nil, fmt.Errorf("opening learning sink: %w", err)
		}
	}
	store := learning.NewStore(cfg.Learning, sink, logger)
	if sink != nil {
		if records, err := sink.Load(ctx); err != nil {
			logger.Warn("Failed to load prior learning records.", zap.Error(err))
		} else {
			store.Import(records)
		}
	}
	store.Start()

	llm, err := llmclient.New(ctx, cfg.LLM, logger)
	if err != nil {
		store.Close()
		cache.Close()
		return nil, err
	}

	pl := planner.New(cfg.Planner, store, llm, logger)
	ex := executor.New(cfg.Executor, engine, store, logger)
	factory := func(ctx context.Context) (browser.Adapter, error) {
		return browser.NewChromedp(ctx, cfg.Browser, logger)
	}

	coord := coordinator.New(cfg, factory, engine, pl, ex, store, logger)
	return &runtime{coord: coord, cache: cache, store: store}, nil
}

func (r *runtime) close(ctx context.Context) {
	r.coord.Close(ctx)
	r.store.Close()
	r.cache.Close()
}

// createSession opens a browser session, returning its id.
func (r *runtime) createSession(ctx context.Context, url, depth string) (string, error) {
	resp := r.coord.CreateSession(ctx, url, depth)
	if !resp.Success {
		return "", fmt.Errorf("creating session: %s", resp.Error)
	}
	return resp.Data.(map[string]string)["session_id"], nil
}

// printResponse renders the envelope as indented JSON on stdout. A failed
// response also becomes a non-zero exit.
func printResponse(resp *schemas.Response) error {
	json := jsoniter.ConfigCompatibleWithStandardLibrary
	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}
	fmt.Println(string(out))
	if !resp.Success {
		return fmt.Errorf("operation failed: %s", resp.Error)
	}
	return nil
}
