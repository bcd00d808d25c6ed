package model

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ApplicationMode controls how an extra tax layers onto the base duty.
type ApplicationMode string

const (
	// ModeAddOn accumulates onto the running duty total in priority order.
	ModeAddOn ApplicationMode = "ADD_ON"
	// ModeStandalone is computed from the untouched base value, independent
	// of duty already computed.
	ModeStandalone ApplicationMode = "STANDALONE"
	// ModeConditional applies only when the rule's condition predicate holds.
	ModeConditional ApplicationMode = "CONDITIONAL"
	// ModePostCalculation is computed after all ADD_ON taxes, from the
	// post-ADD_ON running total.
	ModePostCalculation ApplicationMode = "POST_CALCULATION"
)

// Valid reports whether the mode is one of the closed set.
func (m ApplicationMode) Valid() bool {
	switch m {
	case ModeAddOn, ModeStandalone, ModeConditional, ModePostCalculation:
		return true
	}
	return false
}

// BaseValue selects which input amount a percentage-based extra tax is
// computed against.
type BaseValue string

const (
	BaseDeclaredValue BaseValue = "value"
	BaseDuty          BaseValue = "duty"
	BaseTotal         BaseValue = "total"
	BaseQuantity      BaseValue = "quantity"
	BaseWeight        BaseValue = "weight"
)

// Valid reports whether the base selector is one of the closed set.
func (b BaseValue) Valid() bool {
	switch b {
	case BaseDeclaredValue, BaseDuty, BaseTotal, BaseQuantity, BaseWeight:
		return true
	}
	return false
}

// ExtraTax is an independently-governed fee or tariff layered on top of (or
// computed alongside) base duty: processing fees, trade-remedy tariffs, etc.
type ExtraTax struct {
	ID             string           `json:"id"`
	TaxCode        string           `json:"tax_code"`
	HTSScope       string           `json:"hts_scope"`     // full HTS number, 2-digit chapter, or "ALL"
	CountryScope   string           `json:"country_scope"` // ISO country code or "ALL"
	Mode           ApplicationMode  `json:"mode"`
	RateText       string           `json:"rate_text,omitempty"`
	Formula        string           `json:"formula,omitempty"`
	IsPercentage   bool             `json:"is_percentage"`
	Rate           decimal.Decimal  `json:"rate"` // fractional rate when IsPercentage (0.25 = 25%)
	BaseValue      BaseValue        `json:"base_value"`
	Condition      string           `json:"condition,omitempty"` // predicate over calculation variables; empty = always
	MinimumAmount  *decimal.Decimal `json:"minimum_amount,omitempty"`
	MaximumAmount  *decimal.Decimal `json:"maximum_amount,omitempty"`
	Priority       int              `json:"priority"` // lower applies first
	EffectiveDate  time.Time        `json:"effective_date"`
	ExpirationDate *time.Time       `json:"expiration_date,omitempty"`
}

// ActiveAt reports whether the rule's date window contains d.
func (t ExtraTax) ActiveAt(d time.Time) bool {
	if d.Before(t.EffectiveDate) {
		return false
	}
	return t.ExpirationDate == nil || d.Before(*t.ExpirationDate)
}

// MatchesHTS reports whether the rule's HTS scope covers the given number.
// Scope is either "ALL", a bare 2-digit chapter, or a full HTS number
// compared digit-for-digit with separators ignored.
func (t ExtraTax) MatchesHTS(htsNumber string) bool {
	scope := strings.TrimSpace(t.HTSScope)
	if scope == "" || strings.EqualFold(scope, "ALL") {
		return true
	}
	if len(scope) == 2 {
		if ch, err := strconv.Atoi(scope); err == nil {
			return Chapter(htsNumber) == ch
		}
	}
	return normalizeHTS(scope) == normalizeHTS(htsNumber)
}

// MatchesCountry reports whether the rule's country scope covers the code.
func (t ExtraTax) MatchesCountry(countryCode string) bool {
	scope := strings.TrimSpace(t.CountryScope)
	if scope == "" || strings.EqualFold(scope, "ALL") {
		return true
	}
	return strings.EqualFold(scope, countryCode)
}

// normalizeHTS strips dot separators so "9903.88.01" and "99038801" compare equal.
func normalizeHTS(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), ".", "")
}
