package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/tariff-engine/internal/eligibility"
	"github.com/sells-group/tariff-engine/internal/engine"
	"github.com/sells-group/tariff-engine/internal/extratax"
	"github.com/sells-group/tariff-engine/internal/formula"
	"github.com/sells-group/tariff-engine/internal/model"
	"github.com/sells-group/tariff-engine/internal/notes"
)

var calculateCmd = &cobra.Command{
	Use:   "calculate",
	Short: "Calculate duty for one entry",
	Long: `Calculate total duty for one customs entry.

Looks up the current rate entry for the HTS number and entry date, resolves
the duty formula (stored, note-resolved, pattern-matched, or AI-extracted),
evaluates it, applies any extra taxes in force, and persists the breakdown
as an audit record.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "calculate"))

		if err := cfg.Validate("calculate"); err != nil {
			return err
		}

		input, err := parseCalculationInput(cmd)
		if err != nil {
			return err
		}

		store, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		eval := formula.NewEvaluator(cfg.Formula.Scale)
		orch := engine.New(
			store,
			initGenerator(store),
			notes.NewResolver(store, nil),
			eligibility.NewResolver(store),
			extratax.NewEngine(store, eval),
			eval,
			engine.Config{
				ConfidenceThreshold: cfg.Extract.ConfidenceThreshold,
				ExactNotes:          cfg.Notes.ExactOnly,
				PersistFormulas:     cfg.Extract.PersistFormulas,
			},
		)

		log.Info("calculating",
			zap.String("hts_number", input.HTSNumber),
			zap.String("country", input.CountryCode),
		)

		result, err := orch.Calculate(ctx, input)
		if err != nil {
			return eris.Wrap(err, "calculate")
		}

		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return eris.Wrap(err, "calculate: marshal result")
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	calculateCmd.Flags().String("hts", "", "HTS number (e.g. 8517.62.00)")
	calculateCmd.Flags().String("country", "", "country of origin, ISO code")
	calculateCmd.Flags().String("date", "", "entry date YYYY-MM-DD (default today)")
	calculateCmd.Flags().String("value", "0", "declared customs value in USD")
	calculateCmd.Flags().String("quantity", "0", "units of merchandise")
	calculateCmd.Flags().String("weight", "0", "net weight in kilograms")
	calculateCmd.Flags().String("agreement", "", "trade agreement code to claim (e.g. USMCA)")
	calculateCmd.Flags().Bool("certificate", false, "attest that a certificate of origin is held")
	_ = calculateCmd.MarkFlagRequired("hts")
	_ = calculateCmd.MarkFlagRequired("country")
	rootCmd.AddCommand(calculateCmd)
}

func parseCalculationInput(cmd *cobra.Command) (model.CalculationInput, error) {
	var input model.CalculationInput

	input.HTSNumber, _ = cmd.Flags().GetString("hts")
	input.CountryCode, _ = cmd.Flags().GetString("country")
	input.AgreementCode, _ = cmd.Flags().GetString("agreement")
	input.ClaimCertificate, _ = cmd.Flags().GetBool("certificate")

	dateStr, _ := cmd.Flags().GetString("date")
	if dateStr == "" {
		input.EntryDate = time.Now().UTC().Truncate(24 * time.Hour)
	} else {
		d, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			return input, eris.Wrapf(err, "parse --date %q", dateStr)
		}
		input.EntryDate = d
	}

	for _, f := range []struct {
		name string
		dst  *decimal.Decimal
	}{
		{"value", &input.DeclaredValue},
		{"quantity", &input.Quantity},
		{"weight", &input.WeightKG},
	} {
		s, _ := cmd.Flags().GetString(f.name)
		d, err := decimal.NewFromString(s)
		if err != nil {
			return input, eris.Wrapf(err, "parse --%s %q", f.name, s)
		}
		*f.dst = d
	}

	return input, nil
}
