package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/tariff-engine/internal/model"
	"github.com/sells-group/tariff-engine/internal/notes"
)

var notesCmd = &cobra.Command{
	Use:   "notes",
	Short: "Resolve note-pointer rate texts",
}

var notesResolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve a rate text that points at a chapter note",
	Long: `Resolve a rate text like "See additional U.S. note 20(r) to chapter 99"
to a concrete note formula. The resolution is cached per
(HTS number, column, year); repeated calls return the cached reference.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("ingest"); err != nil {
			return err
		}

		hts, _ := cmd.Flags().GetString("hts")
		colStr, _ := cmd.Flags().GetString("column")
		rateText, _ := cmd.Flags().GetString("text")
		year, _ := cmd.Flags().GetInt("year")
		exact, _ := cmd.Flags().GetBool("exact")

		col := model.SourceColumn(colStr)
		if !col.Valid() {
			return eris.Errorf("invalid --column %q (general, special, other, chapter99)", colStr)
		}
		if year == 0 {
			year = time.Now().UTC().Year()
		}

		store, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		resolver := notes.NewResolver(store, nil)
		ref, err := resolver.Resolve(ctx, hts, col, rateText, year, exact)
		if err != nil {
			return eris.Wrap(err, "resolve note")
		}

		out, err := json.MarshalIndent(ref, "", "  ")
		if err != nil {
			return eris.Wrap(err, "resolve note: marshal reference")
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	notesResolveCmd.Flags().String("hts", "", "HTS number the rate text belongs to")
	notesResolveCmd.Flags().String("column", "general", "schedule column: general, special, other, chapter99")
	notesResolveCmd.Flags().String("text", "", "the note-pointer rate text")
	notesResolveCmd.Flags().Int("year", 0, "schedule year (default current year)")
	notesResolveCmd.Flags().Bool("exact", false, "disable similarity widening")
	_ = notesResolveCmd.MarkFlagRequired("hts")
	_ = notesResolveCmd.MarkFlagRequired("text")
	notesCmd.AddCommand(notesResolveCmd)
	rootCmd.AddCommand(notesCmd)
}
