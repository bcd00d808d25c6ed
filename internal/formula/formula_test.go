package formula

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/tariff-engine/internal/model"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestEvaluate_AdValorem(t *testing.T) {
	e := NewEvaluator(2)
	got, err := e.Evaluate("value * 0.05", map[string]decimal.Decimal{
		"value": dec("10000"),
	})
	require.NoError(t, err)
	assert.Equal(t, "500.00", got.StringFixed(2))
}

func TestEvaluate_CompoundRate(t *testing.T) {
	e := NewEvaluator(2)
	got, err := e.Evaluate("value * 0.025 + quantity * 1.50", map[string]decimal.Decimal{
		"value":    dec("4000"),
		"quantity": dec("12"),
	})
	require.NoError(t, err)
	assert.Equal(t, "118.00", got.StringFixed(2))
}

func TestEvaluate_MinMaxClamp(t *testing.T) {
	e := NewEvaluator(2)
	vars := map[string]decimal.Decimal{"value": dec("100000")}

	got, err := e.Evaluate("min(value * 0.003464, 538.40)", vars)
	require.NoError(t, err)
	assert.Equal(t, "346.40", got.StringFixed(2))

	got, err = e.Evaluate("max(min(value * 0.003464, 538.40), 27.75)", map[string]decimal.Decimal{
		"value": dec("100"),
	})
	require.NoError(t, err)
	assert.Equal(t, "27.75", got.StringFixed(2))
}

func TestEvaluate_Parentheses(t *testing.T) {
	e := NewEvaluator(2)
	got, err := e.Evaluate("(value + weight) * 0.10", map[string]decimal.Decimal{
		"value":  dec("90"),
		"weight": dec("10"),
	})
	require.NoError(t, err)
	assert.Equal(t, "10.00", got.StringFixed(2))
}

func TestEvaluate_UnboundVariableIsError(t *testing.T) {
	e := NewEvaluator(2)
	_, err := e.Evaluate("value * rate", map[string]decimal.Decimal{
		"value": dec("100"),
	})
	require.Error(t, err)

	var synErr *model.FormulaSyntaxError
	require.True(t, errors.As(err, &synErr))
	assert.Contains(t, synErr.Reason, "unbound variable rate")
}

func TestEvaluate_DivisionByZero(t *testing.T) {
	e := NewEvaluator(2)
	_, err := e.Evaluate("value / 0", map[string]decimal.Decimal{"value": dec("1")})
	require.Error(t, err)

	var synErr *model.FormulaSyntaxError
	assert.True(t, errors.As(err, &synErr))
}

func TestEvaluate_MalformedInput(t *testing.T) {
	e := NewEvaluator(2)
	for _, expr := range []string{
		"value *",
		"* value",
		"value ** 2",
		"min(value)",
		"foo(value, 2)",
		"(value * 2",
		"1.2.3",
		"value @ 2",
	} {
		_, err := e.Evaluate(expr, map[string]decimal.Decimal{"value": dec("1")})
		assert.Error(t, err, "expr %q should not parse", expr)
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	e := NewEvaluator(4)
	vars := map[string]decimal.Decimal{
		"value":  dec("12345.6789"),
		"weight": dec("321.7"),
	}
	first, err := e.Evaluate("value / 3 + weight * 0.0125", vars)
	require.NoError(t, err)

	for range 50 {
		got, err := e.Evaluate("value / 3 + weight * 0.0125", vars)
		require.NoError(t, err)
		assert.True(t, first.Equal(got))
		assert.Equal(t, first.String(), got.String())
	}
}

func TestEvaluate_ScaleRounding(t *testing.T) {
	vars := map[string]decimal.Decimal{"value": dec("10")}

	two := NewEvaluator(2)
	got, err := two.Evaluate("value / 3", vars)
	require.NoError(t, err)
	assert.Equal(t, "3.33", got.StringFixed(2))

	four := NewEvaluator(4)
	got, err = four.Evaluate("value / 3", vars)
	require.NoError(t, err)
	assert.Equal(t, "3.3333", got.StringFixed(4))
}

func TestEvaluate_NegativeLiteral(t *testing.T) {
	e := NewEvaluator(2)
	got, err := e.Evaluate("-5 + value", map[string]decimal.Decimal{"value": dec("12")})
	require.NoError(t, err)
	assert.Equal(t, "7.00", got.StringFixed(2))
}

func TestVariables(t *testing.T) {
	vars, err := Variables("min(value * rate, cap) + value")
	require.NoError(t, err)
	assert.Equal(t, []string{"value", "rate", "cap"}, vars)
}

func TestVariables_NoneForLiteral(t *testing.T) {
	vars, err := Variables("0")
	require.NoError(t, err)
	assert.Empty(t, vars)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("value * 0.05"))
	assert.Error(t, Validate("value >"))
}

func TestEvaluateCondition(t *testing.T) {
	e := NewEvaluator(2)
	vars := map[string]decimal.Decimal{
		"value":  dec("2500"),
		"weight": dec("100"),
	}

	cases := []struct {
		cond string
		want bool
	}{
		{"value > 2000", true},
		{"value > 2500", false},
		{"value >= 2500", true},
		{"value == 2500", true},
		{"value != 2500", false},
		{"weight < 50", false},
		{"weight <= 100", true},
		{"value * 0.01 > weight", false},
	}
	for _, tc := range cases {
		got, err := e.EvaluateCondition(tc.cond, vars)
		require.NoError(t, err, "cond %q", tc.cond)
		assert.Equal(t, tc.want, got, "cond %q", tc.cond)
	}
}

func TestEvaluateCondition_RequiresComparison(t *testing.T) {
	e := NewEvaluator(2)
	_, err := e.EvaluateCondition("value + 1", map[string]decimal.Decimal{"value": dec("1")})
	require.Error(t, err)
}

func TestEvaluateCondition_UnboundVariable(t *testing.T) {
	e := NewEvaluator(2)
	_, err := e.EvaluateCondition("price > 100", map[string]decimal.Decimal{"value": dec("1")})
	require.Error(t, err)

	var synErr *model.FormulaSyntaxError
	assert.True(t, errors.As(err, &synErr))
}
