package model

import "time"

// CandidateStatus is the human-review state of an AI-proposed formula.
type CandidateStatus string

const (
	CandidatePending  CandidateStatus = "PENDING"
	CandidateApproved CandidateStatus = "APPROVED"
	CandidateRejected CandidateStatus = "REJECTED"
)

// FormulaCandidate is an AI-proposed formula awaiting review. Results below
// the configured confidence threshold land here instead of being applied to
// a RateEntry.
type FormulaCandidate struct {
	ID          string          `json:"id"`
	RateText    string          `json:"rate_text"`
	Formula     string          `json:"formula"`
	Variables   []string        `json:"variables"`
	Confidence  float64         `json:"confidence"`
	Explanation string          `json:"explanation,omitempty"`
	Status      CandidateStatus `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
}
