package notes

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tariff-engine/internal/model"
)

// Store is the slice of the catalog the resolver needs.
type Store interface {
	GetNoteReference(ctx context.Context, htsNumber string, col model.SourceColumn, year int) (*model.NoteReference, error)
	CreateNoteReference(ctx context.Context, ref model.NoteReference) (bool, error)
	ListNoteCandidates(ctx context.Context, chapter int, noteNumber string, year int) ([]model.Note, error)
	ListNoteRates(ctx context.Context, noteID string) ([]model.NoteRate, error)
}

// SimilaritySearcher widens a note lookup when no exact candidate exists,
// e.g. against re-numbered notes from adjacent revisions. Resolution under
// exactOnly never consults it.
type SimilaritySearcher interface {
	FindSimilar(ctx context.Context, chapter int, noteNumber string, year int) ([]model.Note, error)
}

// Resolver maps note-pointer rate texts to their stored formulas.
type Resolver struct {
	store      Store
	similarity SimilaritySearcher
}

// NewResolver creates a Resolver. similarity may be nil, in which case
// lookups behave as if exactOnly were always set.
func NewResolver(store Store, similarity SimilaritySearcher) *Resolver {
	return &Resolver{store: store, similarity: similarity}
}

// Resolve returns the note reference for (htsNumber, col, year), computing
// and caching it on first use. Concurrent resolutions of the same key are
// safe: the storage layer keeps exactly one row per key, and the loser of
// an insert race adopts the winner's row.
func (r *Resolver) Resolve(ctx context.Context, htsNumber string, col model.SourceColumn, rateText string, year int, exactOnly bool) (*model.NoteReference, error) {
	if !col.Valid() {
		return nil, eris.Errorf("notes: invalid source column %q", col)
	}

	cached, err := r.store.GetNoteReference(ctx, htsNumber, col, year)
	if err != nil {
		return nil, eris.Wrap(err, "notes: lookup cached reference")
	}
	if cached != nil {
		return cached, nil
	}

	ref, ok := ParseReference(rateText, htsNumber)
	if !ok {
		return nil, &model.NotFoundError{
			Kind: "note reference",
			Key:  fmt.Sprintf("%s/%s: no note pointer in %q", htsNumber, col, rateText),
		}
	}

	note, err := r.selectNote(ctx, ref, year, exactOnly)
	if err != nil {
		return nil, err
	}

	rate, err := r.selectRate(ctx, note)
	if err != nil {
		return nil, err
	}

	resolved := model.NoteReference{
		ID:           uuid.New().String(),
		HTSNumber:    htsNumber,
		SourceColumn: col,
		Year:         year,
		Chapter:      note.Chapter,
		NoteNumber:   note.NoteNumber,
		NoteID:       note.ID,
		Formula:      rate.Formula,
		Variables:    rate.Variables,
		Confidence:   rate.Confidence,
		Verified:     rate.Verified,
	}

	inserted, err := r.store.CreateNoteReference(ctx, resolved)
	if err != nil {
		return nil, eris.Wrap(err, "notes: persist reference")
	}
	if !inserted {
		// Another resolver won the race; its row is authoritative.
		winner, err := r.store.GetNoteReference(ctx, htsNumber, col, year)
		if err != nil {
			return nil, eris.Wrap(err, "notes: re-read reference after race")
		}
		if winner == nil {
			return nil, eris.Errorf("notes: reference for %s/%s/%d vanished after insert conflict", htsNumber, col, year)
		}
		return winner, nil
	}

	zap.L().Info("notes: resolved reference",
		zap.String("hts_number", htsNumber),
		zap.String("source_column", string(col)),
		zap.Int("chapter", note.Chapter),
		zap.String("note_number", note.NoteNumber),
	)
	return &resolved, nil
}

// selectNote picks the current version of the targeted note. Candidates come
// back newest ProcessedAt first; two distinct documents sharing the newest
// timestamp leave no defensible winner.
func (r *Resolver) selectNote(ctx context.Context, ref Reference, year int, exactOnly bool) (*model.Note, error) {
	key := fmt.Sprintf("chapter %d note %s (%d)", ref.Chapter, ref.NoteNumber, year)

	candidates, err := r.store.ListNoteCandidates(ctx, ref.Chapter, ref.NoteNumber, year)
	if err != nil {
		return nil, eris.Wrap(err, "notes: list candidates")
	}

	if len(candidates) == 0 && !exactOnly && r.similarity != nil {
		candidates, err = r.similarity.FindSimilar(ctx, ref.Chapter, ref.NoteNumber, year)
		if err != nil {
			return nil, eris.Wrap(err, "notes: similarity search")
		}
	}
	if len(candidates) == 0 {
		return nil, &model.NotFoundError{Kind: "note", Key: key}
	}

	latest := candidates[0]
	var ties []string
	for _, c := range candidates {
		if c.ProcessedAt.Equal(latest.ProcessedAt) && c.DocumentID != latest.DocumentID {
			ties = append(ties, c.DocumentID)
		}
	}
	if len(ties) > 0 {
		return nil, &model.AmbiguousResolutionError{
			Key:        key,
			Candidates: append([]string{latest.DocumentID}, ties...),
		}
	}
	return &latest, nil
}

// selectRate picks the note's best formula: verified entries outrank
// unverified, then higher confidence wins. The store returns rates in that
// order already.
func (r *Resolver) selectRate(ctx context.Context, note *model.Note) (*model.NoteRate, error) {
	rates, err := r.store.ListNoteRates(ctx, note.ID)
	if err != nil {
		return nil, eris.Wrap(err, "notes: list rates")
	}
	if len(rates) == 0 {
		return nil, &model.NotFoundError{
			Kind: "note rate",
			Key:  fmt.Sprintf("chapter %d note %s", note.Chapter, note.NoteNumber),
		}
	}
	return &rates[0], nil
}
