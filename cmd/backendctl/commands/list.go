package commands

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	c := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registered backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			var backends []backendSnapshot
			if err := client().do(cmd.Context(), "GET", "/backends", nil, &backends); err != nil {
				return err
			}
			rendered, err := renderBackends(backends)
			if err != nil {
				return err
			}
			cmd.Print(rendered)
			return nil
		},
	}
	return c
}

func renderBackends(backends []backendSnapshot) (string, error) {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.Options(
		tablewriter.WithHeader([]string{"ID", "TYPE", "TITLE", "STATUS", "ENABLED", "USAGES", "MODEL"}),
		tablewriter.WithAlignment(tw.MakeAlign(7, tw.AlignLeft)),
	)

	for _, b := range backends {
		model := "<none>"
		if b.CurrentModel != nil {
			model = *b.CurrentModel
		}
		if err := table.Append([]string{
			strconv.Itoa(b.ID),
			b.TypeID,
			b.Title,
			b.Status,
			strconv.FormatBool(b.Enabled),
			fmt.Sprintf("%d/%d", b.Usages, b.MaxUsages),
			model,
		}); err != nil {
			return "", fmt.Errorf("failed to append row: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return "", fmt.Errorf("failed to render table: %w", err)
	}
	return buf.String(), nil
}
