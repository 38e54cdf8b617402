// File: cmd/act.go
package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/webpilot-ai/webpilot/internal/observability"
)

// newActCmd creates and configures the `act` command.
func newActCmd() *cobra.Command {
	var (
		url    string
		depth  string
		useLLM bool
	)

	actCmd := &cobra.Command{
		Use:   "act [intent...]",
		Short: "Plans and executes a natural language intent against a page",
		Example: `  webpilot act --url https://example.com "click the login button"
  webpilot act --url https://shop.test "type coffee grinder in the search field"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg := appConfig
			if cmd.Flags().Changed("use-llm") {
				cfg.Planner.UseLLM = useLLM
			}

			rt, err := buildRuntime(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer rt.close(context.Background())

			sessionID, err := rt.createSession(ctx, url, depth)
			if err != nil {
				return err
			}
			defer rt.coord.DestroySession(context.Background(), sessionID)

			intent := strings.Join(args, " ")
			return printResponse(rt.coord.Act(ctx, sessionID, intent))
		},
	}

	actCmd.Flags().StringVarP(&url, "url", "u", "", "page to open before acting")
	actCmd.Flags().StringVarP(&depth, "depth", "d", "", "perception depth preference (lightning|quick|standard|deep)")
	actCmd.Flags().BoolVar(&useLLM, "use-llm", false, "use the configured LLM for understanding and planning")
	return actCmd
}
