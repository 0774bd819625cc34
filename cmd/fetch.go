package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/fetchgate/internal/gateway"
)

type fetchOutput struct {
	HTML   string `json:"html,omitempty"`
	Error  string `json:"error,omitempty"`
	Status int    `json:"status"`
}

func newFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <url>",
		Short: "Fetches one URL through the gateway and prints the JSON result",
		Long: `Runs a single request through the same validation, robots.txt and timeout
pipeline the server uses, then prints {"html": ...} or {"error": ...} to stdout.
Exits non-zero when the fetch fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			out := fetchOutput{}
			result, fetchErr := appInstance.Gateway().Fetch(cmd.Context(), args[0])
			if fetchErr != nil {
				out.Status = http.StatusInternalServerError
				out.Error = fetchErr.Error()
				if gwErr, ok := gateway.AsError(fetchErr); ok {
					out.Status = gwErr.Status
					out.Error = gwErr.Message
				}
			} else {
				out.Status = result.StatusCode
				out.HTML = result.HTML
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetEscapeHTML(false)
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return fmt.Errorf("write result: %w", err)
			}
			if fetchErr != nil {
				return fmt.Errorf("fetch %s failed with status %d", args[0], out.Status)
			}
			return nil
		},
	}
}
