package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/sells-group/tariff-engine/internal/model"
)

var hundred = decimal.NewFromInt(100)

var taxesCmd = &cobra.Command{
	Use:   "taxes",
	Short: "Inspect extra-tax rules",
}

var taxesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List extra taxes in force for a country and date",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("ingest"); err != nil {
			return err
		}

		country, _ := cmd.Flags().GetString("country")
		hts, _ := cmd.Flags().GetString("hts")
		dateStr, _ := cmd.Flags().GetString("date")

		at := time.Now().UTC()
		if dateStr != "" {
			d, err := time.Parse("2006-01-02", dateStr)
			if err != nil {
				return eris.Wrapf(err, "parse --date %q", dateStr)
			}
			at = d
		}

		store, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		taxes, err := store.ListActiveExtraTaxes(ctx, country, at)
		if err != nil {
			return eris.Wrap(err, "list taxes")
		}

		shown := 0
		for _, t := range taxes {
			if hts != "" && !t.MatchesHTS(hts) {
				continue
			}
			shown++
			fmt.Printf("%-12s %-16s hts=%-12s country=%-4s %s\n",
				t.TaxCode, t.Mode, t.HTSScope, t.CountryScope, describeTaxAmount(t))
		}
		if shown == 0 {
			fmt.Println("No matching extra taxes")
		}
		return nil
	},
}

func describeTaxAmount(t model.ExtraTax) string {
	switch {
	case t.Formula != "":
		return fmt.Sprintf("formula %q", t.Formula)
	case t.IsPercentage:
		s := fmt.Sprintf("%s%% of %s", t.Rate.Mul(hundred).String(), t.BaseValue)
		if t.MinimumAmount != nil || t.MaximumAmount != nil {
			s += clampSuffix(t)
		}
		return s
	default:
		return fmt.Sprintf("flat %s", t.Rate.String())
	}
}

func clampSuffix(t model.ExtraTax) string {
	s := ""
	if t.MinimumAmount != nil {
		s += fmt.Sprintf(" min %s", t.MinimumAmount.String())
	}
	if t.MaximumAmount != nil {
		s += fmt.Sprintf(" max %s", t.MaximumAmount.String())
	}
	return s
}

func init() {
	taxesListCmd.Flags().String("country", "", "country of origin, ISO code")
	taxesListCmd.Flags().String("hts", "", "restrict to rules covering this HTS number")
	taxesListCmd.Flags().String("date", "", "date YYYY-MM-DD (default today)")
	_ = taxesListCmd.MarkFlagRequired("country")
	taxesCmd.AddCommand(taxesListCmd)
	rootCmd.AddCommand(taxesCmd)
}
