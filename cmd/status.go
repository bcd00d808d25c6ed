package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show catalog row counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("ingest"); err != nil {
			return err
		}

		store, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		if err := store.Ping(ctx); err != nil {
			return eris.Wrap(err, "status: ping")
		}

		counts, err := store.Counts(ctx)
		if err != nil {
			return eris.Wrap(err, "status")
		}

		fmt.Printf("rate entries:        %d\n", counts.RateEntries)
		fmt.Printf("notes:               %d\n", counts.Notes)
		fmt.Printf("note references:     %d\n", counts.NoteReferences)
		fmt.Printf("trade agreements:    %d\n", counts.TradeAgreements)
		fmt.Printf("eligibility records: %d\n", counts.Eligibility)
		fmt.Printf("extra taxes:         %d\n", counts.ExtraTaxes)
		fmt.Printf("pending candidates:  %d\n", counts.PendingCandidates)
		fmt.Printf("calculations:        %d\n", counts.Calculations)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
