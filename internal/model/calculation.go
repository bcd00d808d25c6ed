package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CalculationInput is the snapshot of caller-supplied inputs for one duty
// calculation.
type CalculationInput struct {
	HTSNumber     string          `json:"hts_number"`
	CountryCode   string          `json:"country_code"`
	EntryDate     time.Time       `json:"entry_date"`
	DeclaredValue decimal.Decimal `json:"declared_value"`
	Quantity      decimal.Decimal `json:"quantity"`
	WeightKG      decimal.Decimal `json:"weight_kg"`

	// AgreementCode, when set, requests preferential treatment under that
	// trade agreement. ClaimCertificate attests that a certificate of origin
	// is held for agreements that require one.
	AgreementCode    string `json:"agreement_code,omitempty"`
	ClaimCertificate bool   `json:"claim_certificate,omitempty"`
}

// RateProvenance records where the duty formula came from: the rate entry
// version, the schedule column, and the extraction or resolution path.
type RateProvenance struct {
	RateEntryID     string           `json:"rate_entry_id"`
	DocumentVersion string           `json:"document_version,omitempty"`
	SourceColumn    SourceColumn     `json:"source_column"`
	RateText        string           `json:"rate_text"`
	Formula         string           `json:"formula"`
	Method          ExtractionMethod `json:"method"`
	Confidence      float64          `json:"confidence"`
	NoteReferenceID string           `json:"note_reference_id,omitempty"`
}

// EligibilityDecision is the outcome of a preferential-treatment request,
// carried into the audit record even when the claim is denied.
type EligibilityDecision struct {
	AgreementCode       string `json:"agreement_code"`
	Eligible            bool   `json:"eligible"`
	PreferentialRate    string `json:"preferential_rate,omitempty"`
	RateType            string `json:"rate_type,omitempty"`
	CertificateRequired bool   `json:"certificate_required"`
	Reason              string `json:"reason,omitempty"`
}

// TaxLine is one computed extra-tax amount in the breakdown.
type TaxLine struct {
	TaxCode string          `json:"tax_code"`
	Mode    ApplicationMode `json:"mode"`
	Amount  decimal.Decimal `json:"amount"`
}

// CalculationResult is the full provenance-annotated breakdown returned to
// the caller and persisted as an immutable audit record.
type CalculationResult struct {
	ID           string               `json:"id"`
	Input        CalculationInput     `json:"input"`
	Provenance   RateProvenance       `json:"provenance"`
	Eligibility  *EligibilityDecision `json:"eligibility,omitempty"`
	BaseDuty     decimal.Decimal      `json:"base_duty"`
	TaxLines     []TaxLine            `json:"tax_lines"`
	Warnings     []string             `json:"warnings,omitempty"`
	Total        decimal.Decimal      `json:"total"`
	CalculatedAt time.Time            `json:"calculated_at"`
}
