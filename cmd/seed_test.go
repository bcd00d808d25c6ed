package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestReadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	fixture := `
rate_entries:
  - id: re-1
    hts_number: "8517.62.00"
    country_scope: ALL
    rate_text:
      general: "2.5%"
    effective_date: "2025-01-01T00:00:00Z"
trade_agreements:
  - code: USMCA
    name: United States-Mexico-Canada Agreement
    partner_countries: [CA, MX]
extra_taxes:
  - id: t1
    tax_code: MPF
    hts_scope: ALL
    country_scope: ALL
    mode: STANDALONE
    is_percentage: true
    rate: "0.003464"
    base_value: value
    minimum_amount: "31.67"
    maximum_amount: "614.35"
    priority: 100
    effective_date: "2025-01-01T00:00:00Z"
`
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o644))

	seed, err := readSeedFile(path)
	require.NoError(t, err)

	require.Len(t, seed.RateEntries, 1)
	assert.Equal(t, "8517.62.00", seed.RateEntries[0].HTSNumber)
	assert.Equal(t, "2.5%", seed.RateEntries[0].RateText.General)

	require.Len(t, seed.TradeAgreements, 1)
	assert.True(t, seed.TradeAgreements[0].HasPartner("mx"))

	require.Len(t, seed.ExtraTaxes, 1)
	mpf := seed.ExtraTaxes[0]
	assert.Equal(t, "MPF", mpf.TaxCode)
	assert.Equal(t, "0.003464", mpf.Rate.String())
	require.NotNil(t, mpf.MinimumAmount)
	assert.Equal(t, "31.67", mpf.MinimumAmount.String())
	assert.Empty(t, seed.Notes)
}

func TestReadSeedFileMissing(t *testing.T) {
	_, err := readSeedFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestReadSeedFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rate_entries: {not: [a, list"), 0o644))

	_, err := readSeedFile(path)
	require.Error(t, err)
}
