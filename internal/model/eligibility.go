package model

import (
	"strings"
	"time"
)

// TradeAgreement identifies a preferential trade program and its partners.
type TradeAgreement struct {
	Code             string   `json:"code"` // e.g. "USMCA"
	Name             string   `json:"name"`
	PartnerCountries []string `json:"partner_countries"`
}

// HasPartner reports whether countryCode is a partner of the agreement.
func (a TradeAgreement) HasPartner(countryCode string) bool {
	for _, c := range a.PartnerCountries {
		if strings.EqualFold(c, countryCode) {
			return true
		}
	}
	return false
}

// EligibilityRecord states the preferential rate for an HTS number under a
// trade agreement, and whether a certificate of origin is required to claim it.
type EligibilityRecord struct {
	ID                  string     `json:"id"`
	AgreementCode       string     `json:"agreement_code"`
	HTSNumber           string     `json:"hts_number"`
	PreferentialRate    string     `json:"preferential_rate"` // rate text, e.g. "Free" or "2.5%"
	RateType            string     `json:"rate_type"`         // "free", "percentage", "formula"
	CertificateRequired bool       `json:"certificate_required"`
	OriginRuleText      string     `json:"origin_rule_text,omitempty"`
	EffectiveDate       time.Time  `json:"effective_date"`
	ExpirationDate      *time.Time `json:"expiration_date,omitempty"`
}

// CurrentAt reports whether the record's date window contains d.
func (r EligibilityRecord) CurrentAt(d time.Time) bool {
	if d.Before(r.EffectiveDate) {
		return false
	}
	return r.ExpirationDate == nil || d.Before(*r.ExpirationDate)
}
