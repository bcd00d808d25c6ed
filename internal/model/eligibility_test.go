package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTradeAgreementHasPartner(t *testing.T) {
	usmca := TradeAgreement{Code: "USMCA", PartnerCountries: []string{"CA", "MX"}}

	assert.True(t, usmca.HasPartner("CA"))
	assert.True(t, usmca.HasPartner("mx"))
	assert.False(t, usmca.HasPartner("CN"))
	assert.False(t, TradeAgreement{}.HasPartner("CA"))
}

func TestEligibilityRecordCurrentAt(t *testing.T) {
	eff := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	exp := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	rec := EligibilityRecord{EffectiveDate: eff, ExpirationDate: &exp}
	assert.False(t, rec.CurrentAt(eff.Add(-time.Second)))
	assert.True(t, rec.CurrentAt(eff))
	assert.False(t, rec.CurrentAt(exp))

	open := EligibilityRecord{EffectiveDate: eff}
	assert.True(t, open.CurrentAt(exp.AddDate(3, 0, 0)))
}
