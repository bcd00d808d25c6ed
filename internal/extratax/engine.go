// Package extratax layers independently-governed fees and trade-remedy
// tariffs on top of base duty: processing fees, Section 301 style add-ons,
// conditional surcharges, and post-calculation levies.
package extratax

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/tariff-engine/internal/formula"
	"github.com/sells-group/tariff-engine/internal/model"
)

// Store is the slice of the catalog the engine needs.
type Store interface {
	ListActiveExtraTaxes(ctx context.Context, countryCode string, at time.Time) ([]model.ExtraTax, error)
}

// Breakdown is the outcome of applying every matching extra tax.
type Breakdown struct {
	Lines    []model.TaxLine
	Total    decimal.Decimal // base duty plus all applied taxes
	Warnings []string
}

// Engine applies extra-tax rules in deterministic order.
type Engine struct {
	store Store
	eval  *formula.Evaluator
}

// NewEngine creates an Engine that rounds tax amounts with the evaluator's
// scale rules.
func NewEngine(store Store, eval *formula.Evaluator) *Engine {
	return &Engine{store: store, eval: eval}
}

// Apply computes all extra taxes matching the input, stacked onto baseDuty.
//
// Two passes run in (priority, tax code) order. The first pass covers
// ADD_ON, STANDALONE, and CONDITIONAL rules; ADD_ON amounts accumulate into
// the running total, the other two are computed against the untouched base
// and contribute only to the grand total. The second pass covers
// POST_CALCULATION rules, whose "total" base is the post-ADD_ON running
// total. A rule that fails to compute is skipped with a warning; it never
// aborts the breakdown.
func (e *Engine) Apply(ctx context.Context, input model.CalculationInput, baseDuty decimal.Decimal) (*Breakdown, error) {
	taxes, err := e.store.ListActiveExtraTaxes(ctx, input.CountryCode, input.EntryDate)
	if err != nil {
		return nil, eris.Wrap(err, "extratax: list active taxes")
	}

	var matched []model.ExtraTax
	for _, t := range taxes {
		if t.MatchesHTS(input.HTSNumber) && t.MatchesCountry(input.CountryCode) {
			matched = append(matched, t)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority < matched[j].Priority
		}
		return matched[i].TaxCode < matched[j].TaxCode
	})

	b := &Breakdown{}
	running := baseDuty
	extras := decimal.Zero

	for _, t := range matched {
		if t.Mode == model.ModePostCalculation {
			continue
		}
		amount, applied, warn := e.computeTax(t, input, baseDuty, running)
		if warn != "" {
			b.Warnings = append(b.Warnings, warn)
			continue
		}
		if !applied {
			continue
		}
		b.Lines = append(b.Lines, model.TaxLine{TaxCode: t.TaxCode, Mode: t.Mode, Amount: amount})
		if t.Mode == model.ModeAddOn {
			running = running.Add(amount)
		} else {
			extras = extras.Add(amount)
		}
	}

	for _, t := range matched {
		if t.Mode != model.ModePostCalculation {
			continue
		}
		amount, applied, warn := e.computeTax(t, input, baseDuty, running)
		if warn != "" {
			b.Warnings = append(b.Warnings, warn)
			continue
		}
		if !applied {
			continue
		}
		b.Lines = append(b.Lines, model.TaxLine{TaxCode: t.TaxCode, Mode: t.Mode, Amount: amount})
		extras = extras.Add(amount)
	}

	b.Total = running.Add(extras)
	return b, nil
}

// computeTax evaluates one rule. applied is false when a condition gates the
// rule off; warn is non-empty when the rule could not be computed at all.
func (e *Engine) computeTax(t model.ExtraTax, input model.CalculationInput, baseDuty, running decimal.Decimal) (amount decimal.Decimal, applied bool, warn string) {
	if !t.Mode.Valid() {
		return decimal.Zero, false, fmt.Sprintf("tax %s skipped: unknown mode %q", t.TaxCode, t.Mode)
	}

	vars := map[string]decimal.Decimal{
		"value":    input.DeclaredValue,
		"quantity": input.Quantity,
		"weight":   input.WeightKG,
		"duty":     baseDuty,
		"total":    running,
	}

	if t.Condition != "" {
		ok, err := e.eval.EvaluateCondition(t.Condition, vars)
		if err != nil {
			return decimal.Zero, false, fmt.Sprintf("tax %s skipped: condition %q: %v", t.TaxCode, t.Condition, err)
		}
		if !ok {
			zap.L().Debug("extratax: condition not met",
				zap.String("tax_code", t.TaxCode),
				zap.String("condition", t.Condition),
			)
			return decimal.Zero, false, ""
		}
	}

	switch {
	case t.Formula != "":
		v, err := e.eval.Evaluate(t.Formula, vars)
		if err != nil {
			return decimal.Zero, false, fmt.Sprintf("tax %s skipped: formula %q: %v", t.TaxCode, t.Formula, err)
		}
		amount = v
	case t.IsPercentage:
		base, ok := vars[string(t.BaseValue)]
		if !ok || !t.BaseValue.Valid() {
			return decimal.Zero, false, fmt.Sprintf("tax %s skipped: unknown base value %q", t.TaxCode, t.BaseValue)
		}
		amount = base.Mul(t.Rate).Round(e.eval.Scale())
	default:
		amount = t.Rate.Round(e.eval.Scale())
	}

	if t.MinimumAmount != nil && amount.LessThan(*t.MinimumAmount) {
		amount = *t.MinimumAmount
	}
	if t.MaximumAmount != nil && amount.GreaterThan(*t.MaximumAmount) {
		amount = *t.MaximumAmount
	}
	return amount, true, ""
}
