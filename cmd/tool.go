// File: cmd/tool.go
package cmd

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/webpilot-ai/webpilot/internal/observability"
)

// newToolCmd creates and configures the `tool` command.
func newToolCmd() *cobra.Command {
	var (
		url    string
		params map[string]string
	)

	toolCmd := &cobra.Command{
		Use:   "tool [name]",
		Short: "Runs a single registered tool against a fresh session",
		Long: `Runs one of the registered tools and prints its result.

Available tools: navigate_to_url, extract_text, wait_for_element,
scroll_page, take_screenshot.`,
		Example: `  webpilot tool extract_text --url https://example.com -p locator=css=h1
  webpilot tool wait_for_element --url https://app.test -p locator=css=#ready -p timeout_ms=5000`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			rt, err := buildRuntime(ctx, appConfig, logger)
			if err != nil {
				return err
			}
			defer rt.close(context.Background())

			sessionID, err := rt.createSession(ctx, url, "")
			if err != nil {
				return err
			}
			defer rt.coord.DestroySession(context.Background(), sessionID)

			return printResponse(rt.coord.ExecuteTool(ctx, sessionID, args[0], coerceParams(params)))
		},
	}

	toolCmd.Flags().StringVarP(&url, "url", "u", "", "page to open before running the tool")
	toolCmd.Flags().StringToStringVarP(&params, "param", "p", nil, "tool parameter as key=value (repeatable)")
	return toolCmd
}

// coerceParams converts numeric flag values so the tool registry sees the
// same types a JSON-decoded request would carry.
func coerceParams(params map[string]string) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			out[k] = f
			continue
		}
		out[k] = v
	}
	return out
}
