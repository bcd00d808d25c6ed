package model

import "time"

// Note is a chapter-scoped legal clarification ("Additional U.S. Note N")
// that may itself encode one or more rate formulas. Notes are keyed to the
// source document they were parsed from; re-publications of the same
// chapter/year produce new rows with later processing timestamps.
type Note struct {
	ID          string    `json:"id"`
	Chapter     int       `json:"chapter"`
	NoteNumber  string    `json:"note_number"` // normalized, e.g. "20(r)"
	Year        int       `json:"year"`
	DocumentID  string    `json:"document_id"`
	ProcessedAt time.Time `json:"processed_at"`
	Text        string    `json:"text,omitempty"`
}

// NoteRate is one candidate rate formula extracted from a note.
type NoteRate struct {
	ID         string   `json:"id"`
	NoteID     string   `json:"note_id"`
	Formula    string   `json:"formula"`
	Variables  []string `json:"variables"`
	Confidence float64  `json:"confidence"`
	Verified   bool     `json:"verified"`
}

// NoteReference is the resolved, cached link from an HTS rate text to a
// specific note and formula. Exactly one row exists per
// (hts_number, source_column, year) — enforced by a uniqueness constraint
// at the storage layer.
type NoteReference struct {
	ID           string       `json:"id"`
	HTSNumber    string       `json:"hts_number"`
	SourceColumn SourceColumn `json:"source_column"`
	Year         int          `json:"year"`
	Chapter      int          `json:"chapter"`
	NoteNumber   string       `json:"note_number"`
	NoteID       string       `json:"note_id"`
	Formula      string       `json:"formula"`
	Variables    []string     `json:"variables"`
	Confidence   float64      `json:"confidence"`
	Verified     bool         `json:"verified"`
	CreatedAt    time.Time    `json:"created_at"`
}
