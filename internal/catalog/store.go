// Package catalog persists the versioned rate schedule, legal notes and
// their resolved references, trade-agreement eligibility, extra-tax rules,
// review candidates, and calculation audit records.
package catalog

import (
	"context"
	"time"

	"github.com/sells-group/tariff-engine/internal/model"
)

// Counts summarizes row counts per table for status reporting.
type Counts struct {
	RateEntries       int `json:"rate_entries"`
	Notes             int `json:"notes"`
	NoteReferences    int `json:"note_references"`
	TradeAgreements   int `json:"trade_agreements"`
	Eligibility       int `json:"eligibility_records"`
	ExtraTaxes        int `json:"extra_taxes"`
	PendingCandidates int `json:"pending_candidates"`
	Calculations      int `json:"calculations"`
}

// Store defines the persistence interface for the tariff catalog.
type Store interface {
	// Rate catalog
	InsertRateEntries(ctx context.Context, entries []model.RateEntry) error
	GetCurrentRateEntry(ctx context.Context, htsNumber, countryCode string, at time.Time) (*model.RateEntry, error)
	UpdateRateEntryFormula(ctx context.Context, entryID string, f model.Formula) error

	// Notes and resolved references
	InsertNotes(ctx context.Context, notes []model.Note) error
	InsertNoteRates(ctx context.Context, rates []model.NoteRate) error
	ListNoteCandidates(ctx context.Context, chapter int, noteNumber string, year int) ([]model.Note, error)
	ListNoteRates(ctx context.Context, noteID string) ([]model.NoteRate, error)
	GetNoteReference(ctx context.Context, htsNumber string, col model.SourceColumn, year int) (*model.NoteReference, error)
	// CreateNoteReference inserts the resolved reference unless another
	// caller won the race; inserted reports whether this call's row landed.
	CreateNoteReference(ctx context.Context, ref model.NoteReference) (inserted bool, err error)

	// Trade agreements and eligibility
	InsertTradeAgreements(ctx context.Context, agreements []model.TradeAgreement) error
	GetTradeAgreement(ctx context.Context, code string) (*model.TradeAgreement, error)
	InsertEligibilityRecords(ctx context.Context, records []model.EligibilityRecord) error
	GetEligibility(ctx context.Context, agreementCode, htsNumber string, at time.Time) (*model.EligibilityRecord, error)

	// Extra taxes. HTS-scope matching happens in Go (model.ExtraTax.MatchesHTS);
	// the query filters country scope and the date window only.
	InsertExtraTaxes(ctx context.Context, taxes []model.ExtraTax) error
	ListActiveExtraTaxes(ctx context.Context, countryCode string, at time.Time) ([]model.ExtraTax, error)

	// Formula review queue
	InsertFormulaCandidate(ctx context.Context, c model.FormulaCandidate) error
	ListPendingCandidates(ctx context.Context, limit int) ([]model.FormulaCandidate, error)
	SetCandidateStatus(ctx context.Context, id string, status model.CandidateStatus) error

	// Calculation audit records
	InsertCalculationRecord(ctx context.Context, result model.CalculationResult) error
	GetCalculationRecord(ctx context.Context, id string) (*model.CalculationResult, error)

	// Lifecycle
	Counts(ctx context.Context) (*Counts, error)
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
