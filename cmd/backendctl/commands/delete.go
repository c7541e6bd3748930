package commands

import (
	"strconv"

	"github.com/spf13/cobra"
)

func newDeleteCmd() *cobra.Command {
	c := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Remove a backend from the registry",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return err
			}
			if err := client().do(cmd.Context(), "DELETE", "/backends/"+strconv.Itoa(id), nil, nil); err != nil {
				return err
			}
			cmd.Printf("backend %d removed\n", id)
			return nil
		},
	}
	return c
}
