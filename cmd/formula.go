package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/tariff-engine/internal/formula"
	"github.com/sells-group/tariff-engine/internal/model"
)

var formulaCmd = &cobra.Command{
	Use:   "formula",
	Short: "Extract, validate, and review duty formulas",
}

var formulaExtractCmd = &cobra.Command{
	Use:   "extract <rate text>",
	Short: "Extract a structured formula from rate text",
	Long: `Extract a structured formula from free-form rate text.

Known patterns (percentages, per-unit amounts, "Free", compound rates) match
without any API call. Unmatched texts fall back to AI extraction, which
requires TARIFF_ANTHROPIC_KEY.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rateText := strings.Join(args, " ")

		gen := initGenerator(nil)
		result, err := gen.Generate(cmd.Context(), rateText)
		if err != nil {
			return eris.Wrapf(err, "extract %q", rateText)
		}

		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return eris.Wrap(err, "extract: marshal result")
		}
		fmt.Println(string(out))
		return nil
	},
}

var formulaValidateCmd = &cobra.Command{
	Use:   "validate <expression>",
	Short: "Check an expression against the formula grammar",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		expr := strings.Join(args, " ")

		if err := formula.Validate(expr); err != nil {
			return err
		}
		vars, err := formula.Variables(expr)
		if err != nil {
			return err
		}

		fmt.Printf("valid; variables: %s\n", strings.Join(vars, ", "))
		return nil
	},
}

var formulaCandidatesCmd = &cobra.Command{
	Use:   "candidates",
	Short: "List AI-proposed formulas awaiting review",
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

		limit, _ := cmd.Flags().GetInt("limit")
		candidates, err := store.ListPendingCandidates(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "list candidates")
		}

		if len(candidates) == 0 {
			fmt.Println("No pending candidates")
			return nil
		}
		for _, c := range candidates {
			fmt.Printf("%s  conf=%.2f  %q -> %s\n", c.ID, c.Confidence, c.RateText, c.Formula)
		}
		return nil
	},
}

var formulaApproveCmd = &cobra.Command{
	Use:   "approve <candidate-id>",
	Short: "Approve a pending formula candidate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewCandidate(cmd, args[0], model.CandidateApproved)
	},
}

var formulaRejectCmd = &cobra.Command{
	Use:   "reject <candidate-id>",
	Short: "Reject a pending formula candidate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewCandidate(cmd, args[0], model.CandidateRejected)
	},
}

func reviewCandidate(cmd *cobra.Command, id string, status model.CandidateStatus) error {
	ctx := cmd.Context()

	if err := cfg.Validate("ingest"); err != nil {
		return err
	}

	store, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.SetCandidateStatus(ctx, id, status); err != nil {
		return eris.Wrapf(err, "set candidate %s to %s", id, status)
	}

	fmt.Printf("%s -> %s\n", id, status)
	return nil
}

func init() {
	formulaCandidatesCmd.Flags().Int("limit", 50, "maximum candidates to list")
	formulaCmd.AddCommand(formulaExtractCmd)
	formulaCmd.AddCommand(formulaValidateCmd)
	formulaCmd.AddCommand(formulaCandidatesCmd)
	formulaCmd.AddCommand(formulaApproveCmd)
	formulaCmd.AddCommand(formulaRejectCmd)
	rootCmd.AddCommand(formulaCmd)
}
