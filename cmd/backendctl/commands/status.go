package commands

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var jsonFormat bool
	c := &cobra.Command{
		Use:   "status",
		Short: "Show aggregate backend counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp statusResponse
			if err := client().do(cmd.Context(), "GET", "/status", nil, &resp); err != nil {
				return err
			}
			if jsonFormat {
				encoded, err := json.Marshal(resp)
				if err != nil {
					return err
				}
				cmd.Println(string(encoded))
				return nil
			}
			cmd.Printf("%d backend(s)\n", resp.BackendCount)
			for status, count := range resp.ByStatus {
				cmd.Printf("  %s: %d\n", status, count)
			}
			return nil
		},
	}
	c.Flags().BoolVar(&jsonFormat, "json", false, "format output as JSON")
	return c
}
