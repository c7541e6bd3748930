package commands

import (
	"github.com/spf13/cobra"
)

func newReloadCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "reload",
		Short: "Restart every registered backend (clean shutdown, then re-init)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().do(cmd.Context(), "POST", "/reload", nil, nil); err != nil {
				return err
			}
			cmd.Println("reload triggered")
			return nil
		},
	}
	return c
}
