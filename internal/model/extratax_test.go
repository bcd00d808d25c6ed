package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExtraTaxMatchesHTS(t *testing.T) {
	tests := []struct {
		scope string
		hts   string
		want  bool
	}{
		{"ALL", "8517.62.00", true},
		{"", "8517.62.00", true},
		{"85", "8517.62.00", true},
		{"85", "6109.10.00", false},
		{"8517.62.00", "8517.62.00", true},
		{"8517.62.00", "85176200", true},
		{"8517.62.00", "8517.62.10", false},
		{"99", "9903.88.01", true},
	}
	for _, tt := range tests {
		tax := ExtraTax{HTSScope: tt.scope}
		assert.Equal(t, tt.want, tax.MatchesHTS(tt.hts), "scope=%q hts=%q", tt.scope, tt.hts)
	}
}

func TestExtraTaxMatchesCountry(t *testing.T) {
	tax := ExtraTax{CountryScope: "CN"}
	assert.True(t, tax.MatchesCountry("CN"))
	assert.True(t, tax.MatchesCountry("cn"))
	assert.False(t, tax.MatchesCountry("MX"))

	assert.True(t, ExtraTax{CountryScope: "ALL"}.MatchesCountry("MX"))
	assert.True(t, ExtraTax{}.MatchesCountry("MX"))
}

func TestExtraTaxActiveAt(t *testing.T) {
	eff := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	exp := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	tax := ExtraTax{EffectiveDate: eff, ExpirationDate: &exp}
	assert.False(t, tax.ActiveAt(eff.Add(-time.Hour)))
	assert.True(t, tax.ActiveAt(eff))
	assert.False(t, tax.ActiveAt(exp))

	open := ExtraTax{EffectiveDate: eff}
	assert.True(t, open.ActiveAt(exp.AddDate(5, 0, 0)))
}

func TestApplicationModeValid(t *testing.T) {
	for _, m := range []ApplicationMode{ModeAddOn, ModeStandalone, ModeConditional, ModePostCalculation} {
		assert.True(t, m.Valid(), "%s", m)
	}
	assert.False(t, ApplicationMode("add_on").Valid())
	assert.False(t, ApplicationMode("").Valid())
}

func TestBaseValueValid(t *testing.T) {
	for _, b := range []BaseValue{BaseDeclaredValue, BaseDuty, BaseTotal, BaseQuantity, BaseWeight} {
		assert.True(t, b.Valid(), "%s", b)
	}
	assert.False(t, BaseValue("declared_value").Valid())
}
