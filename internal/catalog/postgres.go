package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/tariff-engine/internal/db"
	"github.com/sells-group/tariff-engine/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot calculation path.
var preparedStatements = map[string]string{
	"get_rate_entry": `SELECT id, hts_number, country_scope, rate_general, rate_special, rate_other, rate_chapter99,
		formula_expression, formula_variables, formula_confidence, formula_method,
		document_version, effective_date, expiration_date, created_at
		FROM rate_entries
		WHERE hts_number = $1 AND (country_scope = $2 OR country_scope = 'ALL')
		AND effective_date <= $3 AND (expiration_date IS NULL OR expiration_date > $3)
		ORDER BY (country_scope = 'ALL'), effective_date DESC LIMIT 1`,
	"get_note_reference": `SELECT id, hts_number, source_column, year, chapter, note_number, note_id,
		formula, variables, confidence, verified, created_at
		FROM note_references WHERE hts_number = $1 AND source_column = $2 AND year = $3`,
	"list_extra_taxes": `SELECT id, tax_code, hts_scope, country_scope, mode, rate_text, formula,
		is_percentage, rate, base_value, condition, minimum_amount, maximum_amount, priority,
		effective_date, expiration_date
		FROM extra_taxes
		WHERE (country_scope = $1 OR country_scope = 'ALL')
		AND effective_date <= $2 AND (expiration_date IS NULL OR expiration_date > $2)
		ORDER BY priority, tax_code`,
	"get_eligibility": `SELECT id, agreement_code, hts_number, preferential_rate, rate_type,
		certificate_required, origin_rule_text, effective_date, expiration_date
		FROM eligibility_records
		WHERE agreement_code = $1 AND hts_number = $2
		AND effective_date <= $3 AND (expiration_date IS NULL OR expiration_date > $3)
		ORDER BY effective_date DESC LIMIT 1`,
	"insert_calculation": `INSERT INTO calculations (id, result, calculated_at) VALUES ($1, $2, $3)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool, letting tests inject pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for bulk seed loads that use
// the COPY-based helpers directly.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

// Monetary amounts and rates are stored as TEXT, not floating point, so the
// decimal scale survives the round trip exactly.
const postgresMigration = `
CREATE TABLE IF NOT EXISTS rate_entries (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	hts_number         TEXT NOT NULL,
	country_scope      TEXT NOT NULL DEFAULT 'ALL',
	rate_general       TEXT NOT NULL DEFAULT '',
	rate_special       TEXT NOT NULL DEFAULT '',
	rate_other         TEXT NOT NULL DEFAULT '',
	rate_chapter99     TEXT NOT NULL DEFAULT '',
	formula_expression TEXT,
	formula_variables  JSONB,
	formula_confidence DOUBLE PRECISION,
	formula_method     TEXT,
	document_version   TEXT NOT NULL DEFAULT '',
	effective_date     TIMESTAMPTZ NOT NULL,
	expiration_date    TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (hts_number, country_scope, effective_date)
);

CREATE INDEX IF NOT EXISTS idx_rate_entries_hts ON rate_entries(hts_number, effective_date DESC);

CREATE TABLE IF NOT EXISTS notes (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	chapter      INTEGER NOT NULL,
	note_number  TEXT NOT NULL,
	year         INTEGER NOT NULL,
	document_id  TEXT NOT NULL,
	processed_at TIMESTAMPTZ NOT NULL,
	note_text    TEXT NOT NULL DEFAULT '',
	UNIQUE (chapter, note_number, year, document_id)
);

CREATE INDEX IF NOT EXISTS idx_notes_lookup ON notes(chapter, note_number, year);

CREATE TABLE IF NOT EXISTS note_rates (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	note_id    TEXT NOT NULL REFERENCES notes(id),
	formula    TEXT NOT NULL,
	variables  JSONB NOT NULL DEFAULT '[]',
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	verified   BOOLEAN NOT NULL DEFAULT false
);

CREATE INDEX IF NOT EXISTS idx_note_rates_note_id ON note_rates(note_id);

CREATE TABLE IF NOT EXISTS note_references (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	hts_number    TEXT NOT NULL,
	source_column TEXT NOT NULL,
	year          INTEGER NOT NULL,
	chapter       INTEGER NOT NULL,
	note_number   TEXT NOT NULL,
	note_id       TEXT NOT NULL,
	formula       TEXT NOT NULL,
	variables     JSONB NOT NULL DEFAULT '[]',
	confidence    DOUBLE PRECISION NOT NULL DEFAULT 0,
	verified      BOOLEAN NOT NULL DEFAULT false,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (hts_number, source_column, year)
);

CREATE TABLE IF NOT EXISTS trade_agreements (
	code             TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	partner_countries JSONB NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS eligibility_records (
	id                   TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	agreement_code       TEXT NOT NULL REFERENCES trade_agreements(code),
	hts_number           TEXT NOT NULL,
	preferential_rate    TEXT NOT NULL,
	rate_type            TEXT NOT NULL,
	certificate_required BOOLEAN NOT NULL DEFAULT false,
	origin_rule_text     TEXT NOT NULL DEFAULT '',
	effective_date       TIMESTAMPTZ NOT NULL,
	expiration_date      TIMESTAMPTZ,
	UNIQUE (agreement_code, hts_number, effective_date)
);

CREATE INDEX IF NOT EXISTS idx_eligibility_lookup ON eligibility_records(agreement_code, hts_number);

CREATE TABLE IF NOT EXISTS extra_taxes (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	tax_code        TEXT NOT NULL,
	hts_scope       TEXT NOT NULL DEFAULT 'ALL',
	country_scope   TEXT NOT NULL DEFAULT 'ALL',
	mode            TEXT NOT NULL,
	rate_text       TEXT NOT NULL DEFAULT '',
	formula         TEXT NOT NULL DEFAULT '',
	is_percentage   BOOLEAN NOT NULL DEFAULT false,
	rate            TEXT NOT NULL DEFAULT '0',
	base_value      TEXT NOT NULL DEFAULT 'value',
	condition       TEXT NOT NULL DEFAULT '',
	minimum_amount  TEXT,
	maximum_amount  TEXT,
	priority        INTEGER NOT NULL DEFAULT 0,
	effective_date  TIMESTAMPTZ NOT NULL,
	expiration_date TIMESTAMPTZ,
	UNIQUE (tax_code, hts_scope, country_scope, effective_date)
);

CREATE INDEX IF NOT EXISTS idx_extra_taxes_country ON extra_taxes(country_scope, effective_date);

CREATE TABLE IF NOT EXISTS formula_candidates (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	rate_text   TEXT NOT NULL,
	formula     TEXT NOT NULL,
	variables   JSONB NOT NULL DEFAULT '[]',
	confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
	explanation TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'PENDING',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_formula_candidates_status ON formula_candidates(status);

CREATE TABLE IF NOT EXISTS calculations (
	id            TEXT PRIMARY KEY,
	result        JSONB NOT NULL,
	calculated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

var rateEntryColumns = []string{
	"id", "hts_number", "country_scope",
	"rate_general", "rate_special", "rate_other", "rate_chapter99",
	"formula_expression", "formula_variables", "formula_confidence", "formula_method",
	"document_version", "effective_date", "expiration_date", "created_at",
}

func (s *PostgresStore) InsertRateEntries(ctx context.Context, entries []model.RateEntry) error {
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		var expr, method *string
		var varsJSON []byte
		var conf *float64
		if e.Formula != nil {
			expr = &e.Formula.Expression
			conf = &e.Formula.Confidence
			m := string(e.Formula.Method)
			method = &m
			var err error
			varsJSON, err = json.Marshal(e.Formula.Variables)
			if err != nil {
				return eris.Wrap(err, "postgres: marshal formula variables")
			}
		}
		createdAt := e.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		rows = append(rows, []any{
			e.ID, e.HTSNumber, e.CountryScope,
			e.RateText.General, e.RateText.Special, e.RateText.Other, e.RateText.Chapter99,
			expr, varsJSON, conf, method,
			e.DocumentVersion, e.EffectiveDate, e.ExpirationDate, createdAt,
		})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "rate_entries",
		Columns:      rateEntryColumns,
		ConflictKeys: []string{"hts_number", "country_scope", "effective_date"},
	}, rows)
	return eris.Wrap(err, "postgres: insert rate entries")
}

func (s *PostgresStore) GetCurrentRateEntry(ctx context.Context, htsNumber, countryCode string, at time.Time) (*model.RateEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, hts_number, country_scope, rate_general, rate_special, rate_other, rate_chapter99,
		 formula_expression, formula_variables, formula_confidence, formula_method,
		 document_version, effective_date, expiration_date, created_at
		 FROM rate_entries
		 WHERE hts_number = $1 AND (country_scope = $2 OR country_scope = 'ALL')
		 AND effective_date <= $3 AND (expiration_date IS NULL OR expiration_date > $3)
		 ORDER BY (country_scope = 'ALL'), effective_date DESC LIMIT 1`,
		htsNumber, countryCode, at,
	)

	e, err := scanRateEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &model.NotFoundError{Kind: "rate entry", Key: htsNumber}
		}
		return nil, eris.Wrapf(err, "postgres: get rate entry %s", htsNumber)
	}
	return e, nil
}

func scanRateEntry(row pgx.Row) (*model.RateEntry, error) {
	var e model.RateEntry
	var expr, method *string
	var varsJSON []byte
	var conf *float64

	err := row.Scan(&e.ID, &e.HTSNumber, &e.CountryScope,
		&e.RateText.General, &e.RateText.Special, &e.RateText.Other, &e.RateText.Chapter99,
		&expr, &varsJSON, &conf, &method,
		&e.DocumentVersion, &e.EffectiveDate, &e.ExpirationDate, &e.CreatedAt)
	if err != nil {
		return nil, err
	}

	if expr != nil {
		f := &model.Formula{Expression: *expr}
		if conf != nil {
			f.Confidence = *conf
		}
		if method != nil {
			f.Method = model.ExtractionMethod(*method)
		}
		if len(varsJSON) > 0 {
			if err := json.Unmarshal(varsJSON, &f.Variables); err != nil {
				return nil, eris.Wrap(err, "unmarshal formula variables")
			}
		}
		e.Formula = f
	}
	return &e, nil
}

func (s *PostgresStore) UpdateRateEntryFormula(ctx context.Context, entryID string, f model.Formula) error {
	varsJSON, err := json.Marshal(f.Variables)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal formula variables")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE rate_entries
		 SET formula_expression = $1, formula_variables = $2, formula_confidence = $3, formula_method = $4
		 WHERE id = $5`,
		f.Expression, varsJSON, f.Confidence, string(f.Method), entryID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update rate entry formula %s", entryID)
	}
	if tag.RowsAffected() == 0 {
		return &model.NotFoundError{Kind: "rate entry", Key: entryID}
	}
	return nil
}

func (s *PostgresStore) InsertNotes(ctx context.Context, notes []model.Note) error {
	rows := make([][]any, 0, len(notes))
	for _, n := range notes {
		rows = append(rows, []any{n.ID, n.Chapter, n.NoteNumber, n.Year, n.DocumentID, n.ProcessedAt, n.Text})
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "notes",
		Columns:      []string{"id", "chapter", "note_number", "year", "document_id", "processed_at", "note_text"},
		ConflictKeys: []string{"chapter", "note_number", "year", "document_id"},
	}, rows)
	return eris.Wrap(err, "postgres: insert notes")
}

func (s *PostgresStore) InsertNoteRates(ctx context.Context, rates []model.NoteRate) error {
	rows := make([][]any, 0, len(rates))
	for _, r := range rates {
		varsJSON, err := json.Marshal(r.Variables)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal note rate variables")
		}
		rows = append(rows, []any{r.ID, r.NoteID, r.Formula, varsJSON, r.Confidence, r.Verified})
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "note_rates",
		Columns:      []string{"id", "note_id", "formula", "variables", "confidence", "verified"},
		ConflictKeys: []string{"id"},
	}, rows)
	return eris.Wrap(err, "postgres: insert note rates")
}

func (s *PostgresStore) ListNoteCandidates(ctx context.Context, chapter int, noteNumber string, year int) ([]model.Note, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, chapter, note_number, year, document_id, processed_at, note_text
		 FROM notes WHERE chapter = $1 AND note_number = $2 AND year = $3
		 ORDER BY processed_at DESC, document_id`,
		chapter, noteNumber, year,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list note candidates")
	}
	defer rows.Close()

	var notes []model.Note
	for rows.Next() {
		var n model.Note
		if err := rows.Scan(&n.ID, &n.Chapter, &n.NoteNumber, &n.Year, &n.DocumentID, &n.ProcessedAt, &n.Text); err != nil {
			return nil, eris.Wrap(err, "postgres: scan note")
		}
		notes = append(notes, n)
	}
	return notes, eris.Wrap(rows.Err(), "postgres: list note candidates iterate")
}

func (s *PostgresStore) ListNoteRates(ctx context.Context, noteID string) ([]model.NoteRate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, note_id, formula, variables, confidence, verified
		 FROM note_rates WHERE note_id = $1
		 ORDER BY verified DESC, confidence DESC, id`,
		noteID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list note rates")
	}
	defer rows.Close()

	var rates []model.NoteRate
	for rows.Next() {
		var r model.NoteRate
		var varsJSON []byte
		if err := rows.Scan(&r.ID, &r.NoteID, &r.Formula, &varsJSON, &r.Confidence, &r.Verified); err != nil {
			return nil, eris.Wrap(err, "postgres: scan note rate")
		}
		if len(varsJSON) > 0 {
			if err := json.Unmarshal(varsJSON, &r.Variables); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal note rate variables")
			}
		}
		rates = append(rates, r)
	}
	return rates, eris.Wrap(rows.Err(), "postgres: list note rates iterate")
}

func (s *PostgresStore) GetNoteReference(ctx context.Context, htsNumber string, col model.SourceColumn, year int) (*model.NoteReference, error) {
	var ref model.NoteReference
	var varsJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, hts_number, source_column, year, chapter, note_number, note_id,
		 formula, variables, confidence, verified, created_at
		 FROM note_references WHERE hts_number = $1 AND source_column = $2 AND year = $3`,
		htsNumber, string(col), year,
	).Scan(&ref.ID, &ref.HTSNumber, &ref.SourceColumn, &ref.Year, &ref.Chapter, &ref.NoteNumber,
		&ref.NoteID, &ref.Formula, &varsJSON, &ref.Confidence, &ref.Verified, &ref.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get note reference")
	}
	if len(varsJSON) > 0 {
		if err := json.Unmarshal(varsJSON, &ref.Variables); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal note reference variables")
		}
	}
	return &ref, nil
}

func (s *PostgresStore) CreateNoteReference(ctx context.Context, ref model.NoteReference) (bool, error) {
	varsJSON, err := json.Marshal(ref.Variables)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal note reference variables")
	}
	createdAt := ref.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO note_references
		 (id, hts_number, source_column, year, chapter, note_number, note_id,
		  formula, variables, confidence, verified, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (hts_number, source_column, year) DO NOTHING`,
		ref.ID, ref.HTSNumber, string(ref.SourceColumn), ref.Year, ref.Chapter, ref.NoteNumber,
		ref.NoteID, ref.Formula, varsJSON, ref.Confidence, ref.Verified, createdAt,
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: create note reference")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) InsertTradeAgreements(ctx context.Context, agreements []model.TradeAgreement) error {
	rows := make([][]any, 0, len(agreements))
	for _, a := range agreements {
		partnersJSON, err := json.Marshal(a.PartnerCountries)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal partner countries")
		}
		rows = append(rows, []any{a.Code, a.Name, partnersJSON})
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "trade_agreements",
		Columns:      []string{"code", "name", "partner_countries"},
		ConflictKeys: []string{"code"},
	}, rows)
	return eris.Wrap(err, "postgres: insert trade agreements")
}

func (s *PostgresStore) GetTradeAgreement(ctx context.Context, code string) (*model.TradeAgreement, error) {
	var a model.TradeAgreement
	var partnersJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT code, name, partner_countries FROM trade_agreements WHERE code = $1`,
		code,
	).Scan(&a.Code, &a.Name, &partnersJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &model.NotFoundError{Kind: "trade agreement", Key: code}
		}
		return nil, eris.Wrapf(err, "postgres: get trade agreement %s", code)
	}
	if err := json.Unmarshal(partnersJSON, &a.PartnerCountries); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal partner countries")
	}
	return &a, nil
}

func (s *PostgresStore) InsertEligibilityRecords(ctx context.Context, records []model.EligibilityRecord) error {
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, []any{
			r.ID, r.AgreementCode, r.HTSNumber, r.PreferentialRate, r.RateType,
			r.CertificateRequired, r.OriginRuleText, r.EffectiveDate, r.ExpirationDate,
		})
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table: "eligibility_records",
		Columns: []string{"id", "agreement_code", "hts_number", "preferential_rate", "rate_type",
			"certificate_required", "origin_rule_text", "effective_date", "expiration_date"},
		ConflictKeys: []string{"agreement_code", "hts_number", "effective_date"},
	}, rows)
	return eris.Wrap(err, "postgres: insert eligibility records")
}

func (s *PostgresStore) GetEligibility(ctx context.Context, agreementCode, htsNumber string, at time.Time) (*model.EligibilityRecord, error) {
	var r model.EligibilityRecord

	err := s.pool.QueryRow(ctx,
		`SELECT id, agreement_code, hts_number, preferential_rate, rate_type,
		 certificate_required, origin_rule_text, effective_date, expiration_date
		 FROM eligibility_records
		 WHERE agreement_code = $1 AND hts_number = $2
		 AND effective_date <= $3 AND (expiration_date IS NULL OR expiration_date > $3)
		 ORDER BY effective_date DESC LIMIT 1`,
		agreementCode, htsNumber, at,
	).Scan(&r.ID, &r.AgreementCode, &r.HTSNumber, &r.PreferentialRate, &r.RateType,
		&r.CertificateRequired, &r.OriginRuleText, &r.EffectiveDate, &r.ExpirationDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &model.NotFoundError{Kind: "eligibility record", Key: agreementCode + "/" + htsNumber}
		}
		return nil, eris.Wrap(err, "postgres: get eligibility")
	}
	return &r, nil
}

func (s *PostgresStore) InsertExtraTaxes(ctx context.Context, taxes []model.ExtraTax) error {
	rows := make([][]any, 0, len(taxes))
	for _, t := range taxes {
		var minStr, maxStr *string
		if t.MinimumAmount != nil {
			v := t.MinimumAmount.String()
			minStr = &v
		}
		if t.MaximumAmount != nil {
			v := t.MaximumAmount.String()
			maxStr = &v
		}
		rows = append(rows, []any{
			t.ID, t.TaxCode, t.HTSScope, t.CountryScope, string(t.Mode), t.RateText, t.Formula,
			t.IsPercentage, t.Rate.String(), string(t.BaseValue), t.Condition, minStr, maxStr,
			t.Priority, t.EffectiveDate, t.ExpirationDate,
		})
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table: "extra_taxes",
		Columns: []string{"id", "tax_code", "hts_scope", "country_scope", "mode", "rate_text", "formula",
			"is_percentage", "rate", "base_value", "condition", "minimum_amount", "maximum_amount",
			"priority", "effective_date", "expiration_date"},
		ConflictKeys: []string{"tax_code", "hts_scope", "country_scope", "effective_date"},
	}, rows)
	return eris.Wrap(err, "postgres: insert extra taxes")
}

func (s *PostgresStore) ListActiveExtraTaxes(ctx context.Context, countryCode string, at time.Time) ([]model.ExtraTax, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tax_code, hts_scope, country_scope, mode, rate_text, formula,
		 is_percentage, rate, base_value, condition, minimum_amount, maximum_amount, priority,
		 effective_date, expiration_date
		 FROM extra_taxes
		 WHERE (country_scope = $1 OR country_scope = 'ALL')
		 AND effective_date <= $2 AND (expiration_date IS NULL OR expiration_date > $2)
		 ORDER BY priority, tax_code`,
		countryCode, at,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list extra taxes")
	}
	defer rows.Close()

	var taxes []model.ExtraTax
	for rows.Next() {
		var t model.ExtraTax
		var rateStr string
		var minStr, maxStr *string
		if err := rows.Scan(&t.ID, &t.TaxCode, &t.HTSScope, &t.CountryScope, &t.Mode, &t.RateText, &t.Formula,
			&t.IsPercentage, &rateStr, &t.BaseValue, &t.Condition, &minStr, &maxStr, &t.Priority,
			&t.EffectiveDate, &t.ExpirationDate); err != nil {
			return nil, eris.Wrap(err, "postgres: scan extra tax")
		}
		if t.Rate, err = decimal.NewFromString(rateStr); err != nil {
			return nil, eris.Wrapf(err, "postgres: parse rate for tax %s", t.TaxCode)
		}
		if minStr != nil {
			v, err := decimal.NewFromString(*minStr)
			if err != nil {
				return nil, eris.Wrapf(err, "postgres: parse minimum for tax %s", t.TaxCode)
			}
			t.MinimumAmount = &v
		}
		if maxStr != nil {
			v, err := decimal.NewFromString(*maxStr)
			if err != nil {
				return nil, eris.Wrapf(err, "postgres: parse maximum for tax %s", t.TaxCode)
			}
			t.MaximumAmount = &v
		}
		taxes = append(taxes, t)
	}
	return taxes, eris.Wrap(rows.Err(), "postgres: list extra taxes iterate")
}

func (s *PostgresStore) InsertFormulaCandidate(ctx context.Context, c model.FormulaCandidate) error {
	varsJSON, err := json.Marshal(c.Variables)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal candidate variables")
	}
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO formula_candidates (id, rate_text, formula, variables, confidence, explanation, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.RateText, c.Formula, varsJSON, c.Confidence, c.Explanation, string(c.Status), createdAt,
	)
	return eris.Wrap(err, "postgres: insert formula candidate")
}

func (s *PostgresStore) ListPendingCandidates(ctx context.Context, limit int) ([]model.FormulaCandidate, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, rate_text, formula, variables, confidence, explanation, status, created_at
		 FROM formula_candidates WHERE status = 'PENDING'
		 ORDER BY created_at LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pending candidates")
	}
	defer rows.Close()

	var candidates []model.FormulaCandidate
	for rows.Next() {
		var c model.FormulaCandidate
		var varsJSON []byte
		if err := rows.Scan(&c.ID, &c.RateText, &c.Formula, &varsJSON, &c.Confidence, &c.Explanation, &c.Status, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan candidate")
		}
		if len(varsJSON) > 0 {
			if err := json.Unmarshal(varsJSON, &c.Variables); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal candidate variables")
			}
		}
		candidates = append(candidates, c)
	}
	return candidates, eris.Wrap(rows.Err(), "postgres: list pending candidates iterate")
}

func (s *PostgresStore) SetCandidateStatus(ctx context.Context, id string, status model.CandidateStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE formula_candidates SET status = $1 WHERE id = $2`,
		string(status), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set candidate status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return &model.NotFoundError{Kind: "formula candidate", Key: id}
	}
	return nil
}

func (s *PostgresStore) InsertCalculationRecord(ctx context.Context, result model.CalculationResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal calculation result")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO calculations (id, result, calculated_at) VALUES ($1, $2, $3)`,
		result.ID, resultJSON, result.CalculatedAt,
	)
	return eris.Wrap(err, "postgres: insert calculation record")
}

func (s *PostgresStore) GetCalculationRecord(ctx context.Context, id string) (*model.CalculationResult, error) {
	var resultJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT result FROM calculations WHERE id = $1`,
		id,
	).Scan(&resultJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &model.NotFoundError{Kind: "calculation record", Key: id}
		}
		return nil, eris.Wrapf(err, "postgres: get calculation record %s", id)
	}

	var result model.CalculationResult
	if err := json.Unmarshal(resultJSON, &result); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal calculation result")
	}
	return &result, nil
}

func (s *PostgresStore) Counts(ctx context.Context) (*Counts, error) {
	var c Counts
	for _, q := range []struct {
		dest  *int
		query string
	}{
		{&c.RateEntries, `SELECT COUNT(*) FROM rate_entries`},
		{&c.Notes, `SELECT COUNT(*) FROM notes`},
		{&c.NoteReferences, `SELECT COUNT(*) FROM note_references`},
		{&c.TradeAgreements, `SELECT COUNT(*) FROM trade_agreements`},
		{&c.Eligibility, `SELECT COUNT(*) FROM eligibility_records`},
		{&c.ExtraTaxes, `SELECT COUNT(*) FROM extra_taxes`},
		{&c.PendingCandidates, `SELECT COUNT(*) FROM formula_candidates WHERE status = 'PENDING'`},
		{&c.Calculations, `SELECT COUNT(*) FROM calculations`},
	} {
		if err := s.pool.QueryRow(ctx, q.query).Scan(q.dest); err != nil {
			return nil, eris.Wrap(err, "postgres: counts")
		}
	}
	return &c, nil
}
