package main

import (
	"fmt"

	"github.com/ashureev/intake-portal/internal/wizard"
	"github.com/spf13/cobra"
)

func newStepsCmd() *cobra.Command {
	steps := &cobra.Command{
		Use:   "steps",
		Short: "Work with step catalogs",
	}
	steps.AddCommand(&cobra.Command{
		Use:   "lint <file>",
		Short: "Validate a YAML or JSON step catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := wizard.LoadCatalogFile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fields := 0
			for _, s := range catalog.Steps() {
				req := "optional"
				if s.Required {
					req = "required"
				}
				fmt.Fprintf(out, "  %-16s %-8s %d fields\n", s.ID, req, len(s.Fields))
				fields += len(s.Fields)
			}
			fmt.Fprintf(out, "ok: %d steps, %d fields\n", catalog.Len(), fields)
			return nil
		},
	})
	return steps
}
