package extratax

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/tariff-engine/internal/formula"
	"github.com/sells-group/tariff-engine/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeStore struct {
	taxes []model.ExtraTax
	err   error
}

func (f *fakeStore) ListActiveExtraTaxes(_ context.Context, _ string, _ time.Time) ([]model.ExtraTax, error) {
	return f.taxes, f.err
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testInput() model.CalculationInput {
	return model.CalculationInput{
		HTSNumber:     "8517.62.00",
		CountryCode:   "CN",
		EntryDate:     time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		DeclaredValue: dec("10000"),
		Quantity:      dec("100"),
		WeightKG:      dec("250"),
	}
}

func newEngine(taxes ...model.ExtraTax) *Engine {
	return NewEngine(&fakeStore{taxes: taxes}, formula.NewEvaluator(formula.DefaultScale))
}

func effective() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }

func TestApply_NoTaxes(t *testing.T) {
	e := newEngine()
	b, err := e.Apply(context.Background(), testInput(), dec("500.00"))
	require.NoError(t, err)
	assert.Empty(t, b.Lines)
	assert.True(t, b.Total.Equal(dec("500.00")))
}

func TestApply_AddOnAccumulates(t *testing.T) {
	e := newEngine(
		model.ExtraTax{ID: "t1", TaxCode: "SEC301", HTSScope: "85", CountryScope: "CN",
			Mode: model.ModeAddOn, IsPercentage: true, Rate: dec("0.25"),
			BaseValue: model.BaseDeclaredValue, Priority: 10, EffectiveDate: effective()},
	)

	// 500 base + 25% of 10000 = 3000
	b, err := e.Apply(context.Background(), testInput(), dec("500.00"))
	require.NoError(t, err)
	require.Len(t, b.Lines, 1)
	assert.True(t, b.Lines[0].Amount.Equal(dec("2500.00")))
	assert.True(t, b.Total.Equal(dec("3000.00")))
}

func TestApply_StandaloneDoesNotFeedRunningTotal(t *testing.T) {
	e := newEngine(
		// add-on first: running total becomes 600
		model.ExtraTax{ID: "t1", TaxCode: "ADD", HTSScope: "ALL", CountryScope: "ALL",
			Mode: model.ModeAddOn, IsPercentage: true, Rate: dec("0.01"),
			BaseValue: model.BaseDeclaredValue, Priority: 10, EffectiveDate: effective()},
		// standalone on duty: computed from the untouched base duty of 500
		model.ExtraTax{ID: "t2", TaxCode: "HMF", HTSScope: "ALL", CountryScope: "ALL",
			Mode: model.ModeStandalone, IsPercentage: true, Rate: dec("0.1"),
			BaseValue: model.BaseDuty, Priority: 20, EffectiveDate: effective()},
	)

	b, err := e.Apply(context.Background(), testInput(), dec("500.00"))
	require.NoError(t, err)
	require.Len(t, b.Lines, 2)
	assert.True(t, b.Lines[1].Amount.Equal(dec("50.00")), "standalone uses base duty, not running total")
	// 500 + 100 add-on + 50 standalone
	assert.True(t, b.Total.Equal(dec("650.00")))
}

func TestApply_PostCalculationUsesRunningTotal(t *testing.T) {
	e := newEngine(
		model.ExtraTax{ID: "t1", TaxCode: "SEC301", HTSScope: "ALL", CountryScope: "ALL",
			Mode: model.ModeAddOn, IsPercentage: true, Rate: dec("0.25"),
			BaseValue: model.BaseDeclaredValue, Priority: 10, EffectiveDate: effective()},
		model.ExtraTax{ID: "t2", TaxCode: "SURCHARGE", HTSScope: "ALL", CountryScope: "ALL",
			Mode: model.ModePostCalculation, IsPercentage: true, Rate: dec("0.1"),
			BaseValue: model.BaseTotal, Priority: 5, EffectiveDate: effective()},
	)

	// base 500 + 2500 add-on = 3000 running; post-calc 10% of 3000 = 300
	b, err := e.Apply(context.Background(), testInput(), dec("500.00"))
	require.NoError(t, err)
	require.Len(t, b.Lines, 2)
	assert.Equal(t, "SEC301", b.Lines[0].TaxCode)
	assert.Equal(t, "SURCHARGE", b.Lines[1].TaxCode, "post-calculation runs last despite lower priority")
	assert.True(t, b.Lines[1].Amount.Equal(dec("300.00")))
	assert.True(t, b.Total.Equal(dec("3300.00")))
}

func TestApply_ConditionalGating(t *testing.T) {
	applies := model.ExtraTax{ID: "t1", TaxCode: "LUXURY", HTSScope: "ALL", CountryScope: "ALL",
		Mode: model.ModeConditional, Condition: "value > 5000", IsPercentage: true,
		Rate: dec("0.05"), BaseValue: model.BaseDeclaredValue, Priority: 10, EffectiveDate: effective()}

	b, err := newEngine(applies).Apply(context.Background(), testInput(), dec("500.00"))
	require.NoError(t, err)
	require.Len(t, b.Lines, 1)
	assert.True(t, b.Total.Equal(dec("1000.00")))

	gated := applies
	gated.Condition = "value > 50000"
	b, err = newEngine(gated).Apply(context.Background(), testInput(), dec("500.00"))
	require.NoError(t, err)
	assert.Empty(t, b.Lines)
	assert.Empty(t, b.Warnings)
	assert.True(t, b.Total.Equal(dec("500.00")))
}

func TestApply_MinMaxClamp(t *testing.T) {
	minAmt := dec("31.67")
	maxAmt := dec("614.35")
	mpf := model.ExtraTax{ID: "t1", TaxCode: "MPF", HTSScope: "ALL", CountryScope: "ALL",
		Mode: model.ModeStandalone, IsPercentage: true, Rate: dec("0.003464"),
		BaseValue: model.BaseDeclaredValue, MinimumAmount: &minAmt, MaximumAmount: &maxAmt,
		Priority: 10, EffectiveDate: effective()}

	// 0.3464% of 10000 = 34.64, within bounds
	b, err := newEngine(mpf).Apply(context.Background(), testInput(), dec("0"))
	require.NoError(t, err)
	assert.True(t, b.Lines[0].Amount.Equal(dec("34.64")))

	// small shipment clamps up to the minimum
	small := testInput()
	small.DeclaredValue = dec("100")
	b, err = newEngine(mpf).Apply(context.Background(), small, dec("0"))
	require.NoError(t, err)
	assert.True(t, b.Lines[0].Amount.Equal(minAmt))

	// large shipment clamps down to the maximum
	large := testInput()
	large.DeclaredValue = dec("1000000")
	b, err = newEngine(mpf).Apply(context.Background(), large, dec("0"))
	require.NoError(t, err)
	assert.True(t, b.Lines[0].Amount.Equal(maxAmt))
}

func TestApply_FormulaTax(t *testing.T) {
	e := newEngine(
		model.ExtraTax{ID: "t1", TaxCode: "WEIGHTFEE", HTSScope: "ALL", CountryScope: "ALL",
			Mode: model.ModeAddOn, Formula: "weight * 0.5", Priority: 10, EffectiveDate: effective()},
	)

	b, err := e.Apply(context.Background(), testInput(), dec("500.00"))
	require.NoError(t, err)
	require.Len(t, b.Lines, 1)
	assert.True(t, b.Lines[0].Amount.Equal(dec("125.00")))
	assert.True(t, b.Total.Equal(dec("625.00")))
}

func TestApply_DeterministicOrdering(t *testing.T) {
	e := newEngine(
		model.ExtraTax{ID: "t2", TaxCode: "BBB", HTSScope: "ALL", CountryScope: "ALL",
			Mode: model.ModeAddOn, Rate: dec("10"), Priority: 10, EffectiveDate: effective()},
		model.ExtraTax{ID: "t1", TaxCode: "AAA", HTSScope: "ALL", CountryScope: "ALL",
			Mode: model.ModeAddOn, Rate: dec("5"), Priority: 10, EffectiveDate: effective()},
		model.ExtraTax{ID: "t3", TaxCode: "ZZZ", HTSScope: "ALL", CountryScope: "ALL",
			Mode: model.ModeAddOn, Rate: dec("1"), Priority: 1, EffectiveDate: effective()},
	)

	b, err := e.Apply(context.Background(), testInput(), dec("0"))
	require.NoError(t, err)
	require.Len(t, b.Lines, 3)
	assert.Equal(t, "ZZZ", b.Lines[0].TaxCode, "lower priority applies first")
	assert.Equal(t, "AAA", b.Lines[1].TaxCode, "priority ties break on tax code")
	assert.Equal(t, "BBB", b.Lines[2].TaxCode)
}

func TestApply_HTSScopeFiltering(t *testing.T) {
	e := newEngine(
		model.ExtraTax{ID: "t1", TaxCode: "CH85", HTSScope: "85", CountryScope: "ALL",
			Mode: model.ModeAddOn, Rate: dec("10"), Priority: 10, EffectiveDate: effective()},
		model.ExtraTax{ID: "t2", TaxCode: "CH61", HTSScope: "61", CountryScope: "ALL",
			Mode: model.ModeAddOn, Rate: dec("20"), Priority: 10, EffectiveDate: effective()},
		model.ExtraTax{ID: "t3", TaxCode: "EXACT", HTSScope: "8517.62.00", CountryScope: "ALL",
			Mode: model.ModeAddOn, Rate: dec("30"), Priority: 10, EffectiveDate: effective()},
	)

	b, err := e.Apply(context.Background(), testInput(), dec("0"))
	require.NoError(t, err)
	require.Len(t, b.Lines, 2)
	assert.Equal(t, "CH85", b.Lines[0].TaxCode)
	assert.Equal(t, "EXACT", b.Lines[1].TaxCode)
}

func TestApply_BrokenRuleWarnsAndContinues(t *testing.T) {
	e := newEngine(
		model.ExtraTax{ID: "t1", TaxCode: "BROKEN", HTSScope: "ALL", CountryScope: "ALL",
			Mode: model.ModeAddOn, Formula: "value *", Priority: 1, EffectiveDate: effective()},
		model.ExtraTax{ID: "t2", TaxCode: "GOOD", HTSScope: "ALL", CountryScope: "ALL",
			Mode: model.ModeAddOn, Rate: dec("10"), Priority: 2, EffectiveDate: effective()},
	)

	b, err := e.Apply(context.Background(), testInput(), dec("500.00"))
	require.NoError(t, err)
	require.Len(t, b.Lines, 1)
	assert.Equal(t, "GOOD", b.Lines[0].TaxCode)
	require.Len(t, b.Warnings, 1)
	assert.Contains(t, b.Warnings[0], "BROKEN")
	assert.True(t, b.Total.Equal(dec("510.00")))
}

func TestApply_StoreFailure(t *testing.T) {
	e := NewEngine(&fakeStore{err: errors.New("connection refused")}, formula.NewEvaluator(formula.DefaultScale))
	_, err := e.Apply(context.Background(), testInput(), dec("0"))
	require.Error(t, err)
}
