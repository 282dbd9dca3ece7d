package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/ashureev/intake-portal/internal/domain"
	"github.com/ashureev/intake-portal/internal/draft"
	"github.com/spf13/cobra"
)

func newDraftsCmd(opts *globalOptions) *cobra.Command {
	drafts := &cobra.Command{
		Use:   "drafts",
		Short: "Inspect and purge stored drafts",
	}
	drafts.AddCommand(newDraftsListCmd(opts), newDraftsShowCmd(opts), newDraftsPurgeCmd(opts))
	return drafts
}

func newDraftsListCmd(opts *globalOptions) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List drafts, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st := domain.DraftStatus(status)
			if st != "" && st != domain.StatusDraft && st != domain.StatusSubmitted {
				return fmt.Errorf("invalid status %q", status)
			}
			s, closeFn, err := openDrafts(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeFn()

			list, err := s.List(cmd.Context(), st)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "EMAIL\tSTATUS\tSTEP\tVERSION\tUPDATED")
			for _, d := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", d.Email, d.Status, d.CurrentStep, d.Version, d.UpdatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (draft|submitted)")
	return cmd
}

func newDraftsShowCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <email>",
		Short: "Print a stored draft as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := domain.NormalizeEmail(args[0])
			if err != nil {
				return err
			}
			s, closeFn, err := openDrafts(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeFn()

			d, err := s.Load(cmd.Context(), email)
			if err != nil {
				return err
			}
			if d == nil {
				return fmt.Errorf("no draft for %s", email)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(d)
		},
	}
}

func newDraftsPurgeCmd(opts *globalOptions) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete unsubmitted drafts not updated within --older-than",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			s, closeFn, err := openDrafts(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeFn()

			n, err := draft.PurgeStale(cmd.Context(), s, olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d drafts\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 90*24*time.Hour, "age threshold")
	return cmd
}
