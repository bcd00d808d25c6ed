package model

import (
	"fmt"
	"strings"
)

// NotFoundError indicates no matching rate, note, or eligibility record
// exists for the given key and date. Resolution fails closed with this error
// rather than substituting a guessed value.
type NotFoundError struct {
	Kind string // "rate entry", "note", "eligibility record", ...
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found for %s", e.Kind, e.Key)
}

// AmbiguousResolutionError indicates multiple equally-ranked note candidates
// under exact-match constraints.
type AmbiguousResolutionError struct {
	Key        string
	Candidates []string
}

func (e *AmbiguousResolutionError) Error() string {
	return fmt.Sprintf("ambiguous resolution for %s: %d equally-ranked candidates (%s)",
		e.Key, len(e.Candidates), strings.Join(e.Candidates, ", "))
}

// FormulaSyntaxError indicates a malformed stored formula or a reference to
// an unbound variable during evaluation.
type FormulaSyntaxError struct {
	Formula string
	Pos     int
	Reason  string
}

func (e *FormulaSyntaxError) Error() string {
	return fmt.Sprintf("formula %q: %s at position %d", e.Formula, e.Reason, e.Pos)
}

// ExternalServiceError indicates a collaborator (AI extraction, storage)
// timed out or failed at the transport level.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}
