package commands

import (
	"strconv"

	"github.com/spf13/cobra"
)

func newEditCmd() *cobra.Command {
	var title, settings string
	c := &cobra.Command{
		Use:   "edit <id>",
		Short: "Replace a backend's settings and optionally its title",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return err
			}
			req := map[string]any{"settings": settings}
			if cmd.Flags().Changed("title") {
				req["title"] = title
			}
			var out backendSnapshot
			if err := client().do(cmd.Context(), "POST", "/backends/"+strconv.Itoa(id), req, &out); err != nil {
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
	c.Flags().StringVar(&title, "title", "", "new display title")
	c.Flags().StringVar(&settings, "settings", "", "new raw JSON settings blob (replaces the current settings; empty if omitted)")
	return c
}
