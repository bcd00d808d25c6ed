package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/tariff-engine/internal/model"
)

// seedFile is the fixture layout. Field names follow the model JSON tags; the
// YAML document is decoded generically and re-encoded as JSON so that the
// model types' own tags and decimal/time parsing apply.
type seedFile struct {
	RateEntries        []model.RateEntry         `json:"rate_entries"`
	Notes              []model.Note              `json:"notes"`
	NoteRates          []model.NoteRate          `json:"note_rates"`
	TradeAgreements    []model.TradeAgreement    `json:"trade_agreements"`
	EligibilityRecords []model.EligibilityRecord `json:"eligibility_records"`
	ExtraTaxes         []model.ExtraTax          `json:"extra_taxes"`
}

var seedCmd = &cobra.Command{
	Use:   "seed <fixtures.yaml>",
	Short: "Load catalog fixtures from a YAML file",
	Long: `Load rate entries, notes, trade agreements, eligibility records, and
extra-tax rules from a YAML fixture file. Existing rows with the same keys
are updated in place.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "seed"))

		if err := cfg.Validate("ingest"); err != nil {
			return err
		}

		seed, err := readSeedFile(args[0])
		if err != nil {
			return err
		}

		store, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		if err := store.Migrate(ctx); err != nil {
			return eris.Wrap(err, "seed: migrate")
		}

		steps := []struct {
			name  string
			count int
			run   func() error
		}{
			{"rate entries", len(seed.RateEntries), func() error { return store.InsertRateEntries(ctx, seed.RateEntries) }},
			{"notes", len(seed.Notes), func() error { return store.InsertNotes(ctx, seed.Notes) }},
			{"note rates", len(seed.NoteRates), func() error { return store.InsertNoteRates(ctx, seed.NoteRates) }},
			{"trade agreements", len(seed.TradeAgreements), func() error { return store.InsertTradeAgreements(ctx, seed.TradeAgreements) }},
			{"eligibility records", len(seed.EligibilityRecords), func() error { return store.InsertEligibilityRecords(ctx, seed.EligibilityRecords) }},
			{"extra taxes", len(seed.ExtraTaxes), func() error { return store.InsertExtraTaxes(ctx, seed.ExtraTaxes) }},
		}
		for _, s := range steps {
			if s.count == 0 {
				continue
			}
			if err := s.run(); err != nil {
				return eris.Wrapf(err, "seed: insert %s", s.name)
			}
			log.Info("seeded", zap.String("kind", s.name), zap.Int("count", s.count))
			fmt.Printf("%-20s %d\n", s.name, s.count)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func readSeedFile(path string) (*seedFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "seed: read %s", path)
	}

	var generic map[string]any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, eris.Wrapf(err, "seed: parse %s", path)
	}
	bridge, err := json.Marshal(generic)
	if err != nil {
		return nil, eris.Wrap(err, "seed: re-encode fixtures")
	}

	var seed seedFile
	if err := json.Unmarshal(bridge, &seed); err != nil {
		return nil, eris.Wrapf(err, "seed: decode %s", path)
	}
	return &seed, nil
}
