// File: cmd/analyze.go
package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/observability"
)

// newAnalyzeCmd creates and configures the `analyze` command.
func newAnalyzeCmd() *cobra.Command {
	var depth string

	analyzeCmd := &cobra.Command{
		Use:   "analyze [url]",
		Short: "Opens a page and prints its perception snapshot",
		Example: `  webpilot analyze https://example.com
  webpilot analyze --depth deep https://news.test`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			rt, err := buildRuntime(ctx, appConfig, logger)
			if err != nil {
				return err
			}
			defer rt.close(context.Background())

			sessionID, err := rt.createSession(ctx, args[0], depth)
			if err != nil {
				return err
			}
			defer rt.coord.DestroySession(context.Background(), sessionID)

			return printResponse(rt.coord.Analyze(ctx, sessionID, schemas.PerceptionDepth(depth)))
		},
	}

	analyzeCmd.Flags().StringVarP(&depth, "depth", "d", "", "perception depth (lightning|quick|standard|deep); adaptive when empty")
	return analyzeCmd
}
