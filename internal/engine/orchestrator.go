// Package engine orchestrates a full duty calculation: rate lookup, formula
// resolution, preferential-treatment claims, evaluation, extra-tax stacking,
// and the audit record.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/tariff-engine/internal/extract"
	"github.com/sells-group/tariff-engine/internal/extratax"
	"github.com/sells-group/tariff-engine/internal/formula"
	"github.com/sells-group/tariff-engine/internal/model"
)

// Store is the slice of the catalog the orchestrator needs.
type Store interface {
	GetCurrentRateEntry(ctx context.Context, htsNumber, countryCode string, at time.Time) (*model.RateEntry, error)
	UpdateRateEntryFormula(ctx context.Context, entryID string, f model.Formula) error
	InsertCalculationRecord(ctx context.Context, result model.CalculationResult) error
}

// Extractor turns rate text into a structured formula.
type Extractor interface {
	Generate(ctx context.Context, rateText string) (*extract.Result, error)
}

// NoteResolver resolves note-pointer rate texts.
type NoteResolver interface {
	Resolve(ctx context.Context, htsNumber string, col model.SourceColumn, rateText string, year int, exactOnly bool) (*model.NoteReference, error)
}

// EligibilityChecker evaluates preferential-treatment claims.
type EligibilityChecker interface {
	Check(ctx context.Context, input model.CalculationInput) (*model.EligibilityDecision, error)
}

// TaxEngine stacks extra taxes onto base duty.
type TaxEngine interface {
	Apply(ctx context.Context, input model.CalculationInput, baseDuty decimal.Decimal) (*extratax.Breakdown, error)
}

// Config tunes orchestration behavior.
type Config struct {
	// ConfidenceThreshold rejects AI-extracted formulas below it during a
	// calculation; they queue for review instead of producing a number.
	ConfidenceThreshold float64
	// ExactNotes disables similarity widening during note resolution.
	ExactNotes bool
	// PersistFormulas writes freshly extracted formulas back onto their
	// rate entries so later calculations skip extraction.
	PersistFormulas bool
}

// Orchestrator runs calculations end to end.
type Orchestrator struct {
	store       Store
	extractor   Extractor
	notes       NoteResolver
	eligibility EligibilityChecker
	taxes       TaxEngine
	eval        *formula.Evaluator
	cfg         Config
}

// New creates an Orchestrator. eligibility and taxes may be nil when those
// subsystems are not configured; claims then degrade and no extra taxes apply.
func New(store Store, extractor Extractor, notes NoteResolver, eligibility EligibilityChecker, taxes TaxEngine, eval *formula.Evaluator, cfg Config) *Orchestrator {
	return &Orchestrator{
		store:       store,
		extractor:   extractor,
		notes:       notes,
		eligibility: eligibility,
		taxes:       taxes,
		eval:        eval,
		cfg:         cfg,
	}
}

// Calculate runs the full pipeline for one entry. Rate lookup and formula
// resolution failures are fatal; a failed preferential claim and per-tax
// failures degrade with recorded reasons instead.
func (o *Orchestrator) Calculate(ctx context.Context, input model.CalculationInput) (*model.CalculationResult, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	entry, err := o.store.GetCurrentRateEntry(ctx, input.HTSNumber, input.CountryCode, input.EntryDate)
	if err != nil {
		return nil, err
	}

	result := &model.CalculationResult{
		ID:           uuid.New().String(),
		Input:        input,
		CalculatedAt: time.Now().UTC(),
	}

	// A preferential claim that fails any gate degrades to the general rate
	// with the reason recorded, never silently. That covers eligibility
	// storage failures too: the claim is simply not honored.
	preferential := false
	if input.AgreementCode != "" && o.eligibility != nil {
		decision, err := o.eligibility.Check(ctx, input)
		switch {
		case err != nil:
			zap.L().Warn("engine: eligibility check failed",
				zap.String("agreement", input.AgreementCode),
				zap.Error(err),
			)
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("preferential claim not evaluated: %v", err))
		case decision.Eligible:
			result.Eligibility = decision
			preferential = true
		default:
			result.Eligibility = decision
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("preferential claim denied: %s", decision.Reason))
		}
	}

	var baseDuty decimal.Decimal
	if preferential {
		baseDuty, err = o.preferentialDuty(ctx, entry, result)
		if err != nil {
			return nil, err
		}
	} else {
		baseDuty, err = o.generalDuty(ctx, entry, input, result)
		if err != nil {
			return nil, err
		}
	}
	result.BaseDuty = baseDuty
	result.Total = baseDuty

	if o.taxes != nil {
		breakdown, err := o.taxes.Apply(ctx, input, baseDuty)
		if err != nil {
			return nil, err
		}
		result.TaxLines = breakdown.Lines
		result.Warnings = append(result.Warnings, breakdown.Warnings...)
		result.Total = breakdown.Total
	}

	if err := o.store.InsertCalculationRecord(ctx, *result); err != nil {
		// The computed result is still correct; surface the audit gap.
		zap.L().Error("engine: failed to persist calculation record",
			zap.String("calculation_id", result.ID),
			zap.Error(err),
		)
		result.Warnings = append(result.Warnings, "calculation record was not persisted")
	}

	zap.L().Info("engine: calculation complete",
		zap.String("calculation_id", result.ID),
		zap.String("hts_number", input.HTSNumber),
		zap.String("country", input.CountryCode),
		zap.String("total", result.Total.String()),
	)
	return result, nil
}

// generalDuty resolves and evaluates the entry's own rate.
func (o *Orchestrator) generalDuty(ctx context.Context, entry *model.RateEntry, input model.CalculationInput, result *model.CalculationResult) (decimal.Decimal, error) {
	col := model.ColumnGeneral
	rateText, _ := entry.RateText.Column(col)

	prov := model.RateProvenance{
		RateEntryID:     entry.ID,
		DocumentVersion: entry.DocumentVersion,
		SourceColumn:    col,
		RateText:        rateText,
	}

	var expr string
	switch {
	case entry.Formula != nil:
		expr = entry.Formula.Expression
		prov.Formula = expr
		prov.Method = entry.Formula.Method
		prov.Confidence = entry.Formula.Confidence

	case extract.IsNoteReference(rateText):
		if o.notes == nil {
			return decimal.Zero, &model.NotFoundError{Kind: "note reference", Key: input.HTSNumber}
		}
		ref, err := o.notes.Resolve(ctx, input.HTSNumber, col, rateText, input.EntryDate.Year(), o.cfg.ExactNotes)
		if err != nil {
			return decimal.Zero, err
		}
		expr = ref.Formula
		prov.Formula = expr
		prov.Method = model.MethodNote
		prov.Confidence = ref.Confidence
		prov.NoteReferenceID = ref.ID

	default:
		r, err := o.extractor.Generate(ctx, rateText)
		if err != nil {
			return decimal.Zero, err
		}
		if err := o.checkConfidence(r, input.HTSNumber); err != nil {
			return decimal.Zero, err
		}
		expr = r.Formula
		prov.Formula = expr
		prov.Method = r.Method
		prov.Confidence = r.Confidence

		if o.cfg.PersistFormulas {
			f := model.Formula{Expression: r.Formula, Variables: r.Variables, Confidence: r.Confidence, Method: r.Method}
			if err := o.store.UpdateRateEntryFormula(ctx, entry.ID, f); err != nil {
				zap.L().Warn("engine: failed to persist extracted formula",
					zap.String("rate_entry_id", entry.ID),
					zap.Error(err),
				)
			}
		}
	}

	result.Provenance = prov
	return o.evaluateDuty(expr, input)
}

// preferentialDuty evaluates the granted preferential rate.
func (o *Orchestrator) preferentialDuty(ctx context.Context, entry *model.RateEntry, result *model.CalculationResult) (decimal.Decimal, error) {
	rate := result.Eligibility.PreferentialRate

	prov := model.RateProvenance{
		RateEntryID:     entry.ID,
		DocumentVersion: entry.DocumentVersion,
		SourceColumn:    model.ColumnSpecial,
		RateText:        rate,
	}

	if result.Eligibility.RateType == "free" || strings.EqualFold(strings.TrimSpace(rate), "free") {
		prov.Formula = "0"
		prov.Method = model.MethodPattern
		prov.Confidence = 1
		result.Provenance = prov
		return decimal.Zero.Round(o.eval.Scale()), nil
	}

	r, err := o.extractor.Generate(ctx, rate)
	if err != nil {
		return decimal.Zero, eris.Wrapf(err, "engine: extract preferential rate %q", rate)
	}
	if err := o.checkConfidence(r, result.Input.HTSNumber); err != nil {
		return decimal.Zero, err
	}
	prov.Formula = r.Formula
	prov.Method = r.Method
	prov.Confidence = r.Confidence
	result.Provenance = prov
	return o.evaluateDuty(r.Formula, result.Input)
}

// checkConfidence rejects AI-extracted formulas below the threshold on every
// path that would turn them into a duty amount. The proposal is queued for
// review by the extractor; a duty amount must not be built on it.
func (o *Orchestrator) checkConfidence(r *extract.Result, htsNumber string) error {
	if r.Method == model.MethodAI && r.Confidence < o.cfg.ConfidenceThreshold {
		return &model.NotFoundError{
			Kind: "formula",
			Key:  fmt.Sprintf("%s: extraction confidence %.2f below threshold %.2f", htsNumber, r.Confidence, o.cfg.ConfidenceThreshold),
		}
	}
	return nil
}

func (o *Orchestrator) evaluateDuty(expr string, input model.CalculationInput) (decimal.Decimal, error) {
	return o.eval.Evaluate(expr, map[string]decimal.Decimal{
		"value":    input.DeclaredValue,
		"quantity": input.Quantity,
		"weight":   input.WeightKG,
	})
}

func validateInput(input model.CalculationInput) error {
	switch {
	case strings.TrimSpace(input.HTSNumber) == "":
		return eris.New("engine: hts number is required")
	case strings.TrimSpace(input.CountryCode) == "":
		return eris.New("engine: country code is required")
	case input.EntryDate.IsZero():
		return eris.New("engine: entry date is required")
	case input.DeclaredValue.IsNegative():
		return eris.New("engine: declared value must not be negative")
	case input.Quantity.IsNegative():
		return eris.New("engine: quantity must not be negative")
	case input.WeightKG.IsNegative():
		return eris.New("engine: weight must not be negative")
	}
	return nil
}
