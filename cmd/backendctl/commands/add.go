package commands

import (
	"github.com/spf13/cobra"
)

func newAddCmd() *cobra.Command {
	var typeID, title, settings string
	var enabled bool
	c := &cobra.Command{
		Use:   "add",
		Short: "Register a new backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{
				"type":     typeID,
				"title":    title,
				"settings": settings,
				"enabled":  enabled,
			}
			var out backendSnapshot
			if err := client().do(cmd.Context(), "POST", "/backends", req, &out); err != nil {
				return err
			}
			rendered, err := renderBackends([]backendSnapshot{out})
			if err != nil {
				return err
			}
			cmd.Print(rendered)
			return nil
		},
	}
	c.Flags().StringVar(&typeID, "type", "", "backend type id (required)")
	c.Flags().StringVar(&title, "title", "", "display title")
	c.Flags().StringVar(&settings, "settings", "", "raw JSON settings blob for the backend type")
	c.Flags().BoolVar(&enabled, "enabled", true, "whether the backend starts enabled")
	_ = c.MarkFlagRequired("type")
	return c
}
