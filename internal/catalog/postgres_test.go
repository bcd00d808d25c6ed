package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/tariff-engine/internal/model"
)

var rateEntryCols = []string{
	"id", "hts_number", "country_scope",
	"rate_general", "rate_special", "rate_other", "rate_chapter99",
	"formula_expression", "formula_variables", "formula_confidence", "formula_method",
	"document_version", "effective_date", "expiration_date", "created_at",
}

// noteReferenceAnyArgs matches the 12 INSERT arguments of CreateNoteReference
// without asserting their values; pgxmock requires the argument count to match.
func noteReferenceAnyArgs() []any {
	args := make([]any, 12)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *PostgresStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPostgresWithPool(mock)
}

func TestGetCurrentRateEntry_WithFormula(t *testing.T) {
	mock, store := newMockStore(t)

	effective := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	expr := "value * 0.05"
	method := "pattern"
	conf := 1.0

	mock.ExpectQuery(`SELECT id, hts_number, country_scope`).
		WithArgs("6109.10.00", "CN", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(rateEntryCols).AddRow(
			"re-1", "6109.10.00", "ALL",
			"5%", "Free (A,AU)", "45%", "",
			&expr, []byte(`["value"]`), &conf, &method,
			"2025-rev1", effective, nil, effective,
		))

	e, err := store.GetCurrentRateEntry(context.Background(), "6109.10.00", "CN", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "re-1", e.ID)
	assert.Equal(t, "5%", e.RateText.General)
	require.NotNil(t, e.Formula)
	assert.Equal(t, "value * 0.05", e.Formula.Expression)
	assert.Equal(t, []string{"value"}, e.Formula.Variables)
	assert.Equal(t, model.MethodPattern, e.Formula.Method)
	assert.Nil(t, e.ExpirationDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCurrentRateEntry_NotFound(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectQuery(`SELECT id, hts_number, country_scope`).
		WithArgs("9999.99.99", "CN", pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetCurrentRateEntry(context.Background(), "9999.99.99", "CN", time.Now())
	require.Error(t, err)

	var nfErr *model.NotFoundError
	require.True(t, errors.As(err, &nfErr))
	assert.Equal(t, "rate entry", nfErr.Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRateEntryFormula_NotFound(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectExec(`UPDATE rate_entries`).
		WithArgs("value * 0.05", []byte(`["value"]`), 1.0, "pattern", "missing-id").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateRateEntryFormula(context.Background(), "missing-id", model.Formula{
		Expression: "value * 0.05",
		Variables:  []string{"value"},
		Confidence: 1,
		Method:     model.MethodPattern,
	})
	require.Error(t, err)

	var nfErr *model.NotFoundError
	assert.True(t, errors.As(err, &nfErr))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNoteReference_MissIsNil(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectQuery(`SELECT id, hts_number, source_column`).
		WithArgs("9903.88.01", "general", 2025).
		WillReturnError(pgx.ErrNoRows)

	ref, err := store.GetNoteReference(context.Background(), "9903.88.01", model.ColumnGeneral, 2025)
	require.NoError(t, err)
	assert.Nil(t, ref)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateNoteReference_Inserted(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectExec(`INSERT INTO note_references`).
		WithArgs(noteReferenceAnyArgs()...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	inserted, err := store.CreateNoteReference(context.Background(), model.NoteReference{
		ID:           "nr-1",
		HTSNumber:    "9903.88.01",
		SourceColumn: model.ColumnGeneral,
		Year:         2025,
		Chapter:      99,
		NoteNumber:   "20(r)",
		NoteID:       "note-1",
		Formula:      "value * 0.25",
		Variables:    []string{"value"},
		Confidence:   1,
	})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateNoteReference_LostRace(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectExec(`INSERT INTO note_references`).
		WithArgs(noteReferenceAnyArgs()...).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := store.CreateNoteReference(context.Background(), model.NoteReference{
		ID:           "nr-2",
		HTSNumber:    "9903.88.01",
		SourceColumn: model.ColumnGeneral,
		Year:         2025,
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListNoteCandidates_OrderedByProcessedAt(t *testing.T) {
	mock, store := newMockStore(t)

	newer := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	older := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, chapter, note_number`).
		WithArgs(99, "20(r)", 2025).
		WillReturnRows(pgxmock.NewRows([]string{"id", "chapter", "note_number", "year", "document_id", "processed_at", "note_text"}).
			AddRow("n-2", 99, "20(r)", 2025, "doc-b", newer, "revised text").
			AddRow("n-1", 99, "20(r)", 2025, "doc-a", older, "original text"))

	notes, err := store.ListNoteCandidates(context.Background(), 99, "20(r)", 2025)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, "n-2", notes[0].ID)
	assert.Equal(t, "doc-b", notes[0].DocumentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTradeAgreement(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectQuery(`SELECT code, name, partner_countries`).
		WithArgs("USMCA").
		WillReturnRows(pgxmock.NewRows([]string{"code", "name", "partner_countries"}).
			AddRow("USMCA", "United States-Mexico-Canada Agreement", []byte(`["CA","MX"]`)))

	a, err := store.GetTradeAgreement(context.Background(), "USMCA")
	require.NoError(t, err)
	assert.Equal(t, []string{"CA", "MX"}, a.PartnerCountries)
	assert.True(t, a.HasPartner("mx"))
	assert.False(t, a.HasPartner("CN"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEligibility_NotFound(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectQuery(`SELECT id, agreement_code, hts_number`).
		WithArgs("USMCA", "6109.10.00", pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetEligibility(context.Background(), "USMCA", "6109.10.00", time.Now())
	require.Error(t, err)

	var nfErr *model.NotFoundError
	require.True(t, errors.As(err, &nfErr))
	assert.Equal(t, "eligibility record", nfErr.Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveExtraTaxes_ParsesDecimals(t *testing.T) {
	mock, store := newMockStore(t)

	effective := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	maxAmt := "528.33"

	cols := []string{"id", "tax_code", "hts_scope", "country_scope", "mode", "rate_text", "formula",
		"is_percentage", "rate", "base_value", "condition", "minimum_amount", "maximum_amount", "priority",
		"effective_date", "expiration_date"}

	mock.ExpectQuery(`SELECT id, tax_code, hts_scope`).
		WithArgs("CN", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("t-1", "SEC301", "85", "CN", "ADD_ON", "25%", "",
				true, "0.25", "value", "", nil, nil, 10, effective, nil).
			AddRow("t-2", "MPF", "ALL", "ALL", "STANDALONE", "0.3464%", "",
				true, "0.003464", "value", "", nil, &maxAmt, 20, effective, nil))

	taxes, err := store.ListActiveExtraTaxes(context.Background(), "CN", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, taxes, 2)

	assert.Equal(t, "SEC301", taxes[0].TaxCode)
	assert.True(t, taxes[0].Rate.Equal(decimal.RequireFromString("0.25")))
	assert.Nil(t, taxes[0].MaximumAmount)
	assert.True(t, taxes[0].MatchesHTS("8517.62.00"))
	assert.False(t, taxes[0].MatchesHTS("6109.10.00"))

	assert.Equal(t, "MPF", taxes[1].TaxCode)
	require.NotNil(t, taxes[1].MaximumAmount)
	assert.True(t, taxes[1].MaximumAmount.Equal(decimal.RequireFromString("528.33")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetCandidateStatus_NotFound(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectExec(`UPDATE formula_candidates`).
		WithArgs("APPROVED", "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.SetCandidateStatus(context.Background(), "missing", model.CandidateApproved)
	require.Error(t, err)

	var nfErr *model.NotFoundError
	assert.True(t, errors.As(err, &nfErr))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCalculationRecord_RoundTrip(t *testing.T) {
	mock, store := newMockStore(t)

	result := model.CalculationResult{
		ID: "calc-1",
		Input: model.CalculationInput{
			HTSNumber:     "6109.10.00",
			CountryCode:   "CN",
			EntryDate:     time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
			DeclaredValue: decimal.RequireFromString("10000"),
		},
		BaseDuty:     decimal.RequireFromString("500.00"),
		Total:        decimal.RequireFromString("500.00"),
		CalculatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec(`INSERT INTO calculations`).
		WithArgs("calc-1", pgxmock.AnyArg(), result.CalculatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.InsertCalculationRecord(context.Background(), result))

	mock.ExpectQuery(`SELECT result FROM calculations`).
		WithArgs("calc-1").
		WillReturnRows(pgxmock.NewRows([]string{"result"}).
			AddRow([]byte(`{"id":"calc-1","input":{"hts_number":"6109.10.00","country_code":"CN","entry_date":"2025-06-01T00:00:00Z","declared_value":"10000","quantity":"0","weight_kg":"0"},"provenance":{"rate_entry_id":"","source_column":"","rate_text":"","formula":"","method":"","confidence":0},"base_duty":"500","tax_lines":null,"total":"500","calculated_at":"2025-06-01T12:00:00Z"}`)))

	got, err := store.GetCalculationRecord(context.Background(), "calc-1")
	require.NoError(t, err)
	assert.Equal(t, "calc-1", got.ID)
	assert.True(t, got.BaseDuty.Equal(decimal.RequireFromString("500")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCounts(t *testing.T) {
	mock, store := newMockStore(t)

	for _, n := range []int{12, 3, 2, 1, 4, 5, 6, 7} {
		mock.ExpectQuery(`SELECT COUNT`).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(n))
	}

	c, err := store.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, c.RateEntries)
	assert.Equal(t, 7, c.Calculations)
	assert.NoError(t, mock.ExpectationsWereMet())
}
