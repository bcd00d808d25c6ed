package model

import (
	"time"
)

// SourceColumn identifies which rate column of the tariff schedule a rate
// text was taken from.
type SourceColumn string

const (
	ColumnGeneral   SourceColumn = "general"
	ColumnSpecial   SourceColumn = "special"
	ColumnOther     SourceColumn = "other"
	ColumnChapter99 SourceColumn = "chapter99"
)

// Valid reports whether the column is one of the known schedule columns.
func (c SourceColumn) Valid() bool {
	switch c {
	case ColumnGeneral, ColumnSpecial, ColumnOther, ColumnChapter99:
		return true
	}
	return false
}

// RateText holds the free-form legal rate description per schedule column.
// Columns are named fields rather than a keyed map so that the set of legal
// columns is closed at compile time.
type RateText struct {
	General   string `json:"general,omitempty"`
	Special   string `json:"special,omitempty"`
	Other     string `json:"other,omitempty"`
	Chapter99 string `json:"chapter99,omitempty"`
}

// Column returns the rate text for the given schedule column.
func (rt RateText) Column(col SourceColumn) (string, bool) {
	switch col {
	case ColumnGeneral:
		return rt.General, true
	case ColumnSpecial:
		return rt.Special, true
	case ColumnOther:
		return rt.Other, true
	case ColumnChapter99:
		return rt.Chapter99, true
	}
	return "", false
}

// ExtractionMethod records how a formula was obtained from rate text.
type ExtractionMethod string

const (
	MethodPattern ExtractionMethod = "pattern"
	MethodAI      ExtractionMethod = "ai"
	// MethodNote marks a formula taken from a resolved chapter note rather
	// than extracted from the rate text itself.
	MethodNote ExtractionMethod = "note"
)

// Formula is a restricted arithmetic expression over named variables,
// together with the provenance of its extraction.
type Formula struct {
	Expression string           `json:"expression"`
	Variables  []string         `json:"variables"`
	Confidence float64          `json:"confidence"`
	Method     ExtractionMethod `json:"method"`
}

// RateEntry is one versioned row of the rate catalog. At most one entry is
// current for a given (HTS number, date) pair; versioning is by immutable
// date windows, never by rewriting rows in place.
type RateEntry struct {
	ID              string     `json:"id"`
	HTSNumber       string     `json:"hts_number"`
	CountryScope    string     `json:"country_scope"` // ISO country code or "ALL"
	RateText        RateText   `json:"rate_text"`
	Formula         *Formula   `json:"formula,omitempty"` // nil until resolved
	DocumentVersion string     `json:"document_version,omitempty"`
	EffectiveDate   time.Time  `json:"effective_date"`
	ExpirationDate  *time.Time `json:"expiration_date,omitempty"` // nil = open-ended
	CreatedAt       time.Time  `json:"created_at"`
}

// CurrentAt reports whether the entry's effective window contains d.
func (e RateEntry) CurrentAt(d time.Time) bool {
	if d.Before(e.EffectiveDate) {
		return false
	}
	return e.ExpirationDate == nil || d.Before(*e.ExpirationDate)
}

// Chapter returns the 2-digit chapter prefix of an HTS number, or 0 if the
// number is too short to carry one.
func Chapter(htsNumber string) int {
	if len(htsNumber) < 2 {
		return 0
	}
	d1 := htsNumber[0] - '0'
	d2 := htsNumber[1] - '0'
	if d1 > 9 || d2 > 9 {
		return 0
	}
	return int(d1)*10 + int(d2)
}
