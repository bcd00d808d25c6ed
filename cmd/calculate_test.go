package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCalculationInput(t *testing.T) {
	require.NoError(t, calculateCmd.Flags().Set("hts", "8517.62.00"))
	require.NoError(t, calculateCmd.Flags().Set("country", "CN"))
	require.NoError(t, calculateCmd.Flags().Set("date", "2025-06-01"))
	require.NoError(t, calculateCmd.Flags().Set("value", "10000"))
	require.NoError(t, calculateCmd.Flags().Set("quantity", "100"))
	require.NoError(t, calculateCmd.Flags().Set("weight", "250.5"))
	require.NoError(t, calculateCmd.Flags().Set("agreement", "USMCA"))
	require.NoError(t, calculateCmd.Flags().Set("certificate", "true"))

	input, err := parseCalculationInput(calculateCmd)
	require.NoError(t, err)

	assert.Equal(t, "8517.62.00", input.HTSNumber)
	assert.Equal(t, "CN", input.CountryCode)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), input.EntryDate)
	assert.Equal(t, "10000", input.DeclaredValue.String())
	assert.Equal(t, "100", input.Quantity.String())
	assert.Equal(t, "250.5", input.WeightKG.String())
	assert.Equal(t, "USMCA", input.AgreementCode)
	assert.True(t, input.ClaimCertificate)
}

func TestParseCalculationInputBadDate(t *testing.T) {
	require.NoError(t, calculateCmd.Flags().Set("hts", "8517.62.00"))
	require.NoError(t, calculateCmd.Flags().Set("country", "CN"))
	require.NoError(t, calculateCmd.Flags().Set("date", "June 1"))

	_, err := parseCalculationInput(calculateCmd)
	require.Error(t, err)
}

func TestParseCalculationInputBadAmount(t *testing.T) {
	require.NoError(t, calculateCmd.Flags().Set("hts", "8517.62.00"))
	require.NoError(t, calculateCmd.Flags().Set("country", "CN"))
	require.NoError(t, calculateCmd.Flags().Set("date", "2025-06-01"))
	require.NoError(t, calculateCmd.Flags().Set("value", "ten grand"))

	_, err := parseCalculationInput(calculateCmd)
	require.Error(t, err)
}
