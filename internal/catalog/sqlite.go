package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/sells-group/tariff-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite, for local use
// without a Postgres instance.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS rate_entries (
	id                 TEXT PRIMARY KEY,
	hts_number         TEXT NOT NULL,
	country_scope      TEXT NOT NULL DEFAULT 'ALL',
	rate_general       TEXT NOT NULL DEFAULT '',
	rate_special       TEXT NOT NULL DEFAULT '',
	rate_other         TEXT NOT NULL DEFAULT '',
	rate_chapter99     TEXT NOT NULL DEFAULT '',
	formula_expression TEXT,
	formula_variables  TEXT,
	formula_confidence REAL,
	formula_method     TEXT,
	document_version   TEXT NOT NULL DEFAULT '',
	effective_date     DATETIME NOT NULL,
	expiration_date    DATETIME,
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (hts_number, country_scope, effective_date)
);

CREATE INDEX IF NOT EXISTS idx_rate_entries_hts ON rate_entries(hts_number, effective_date DESC);

CREATE TABLE IF NOT EXISTS notes (
	id           TEXT PRIMARY KEY,
	chapter      INTEGER NOT NULL,
	note_number  TEXT NOT NULL,
	year         INTEGER NOT NULL,
	document_id  TEXT NOT NULL,
	processed_at DATETIME NOT NULL,
	note_text    TEXT NOT NULL DEFAULT '',
	UNIQUE (chapter, note_number, year, document_id)
);

CREATE INDEX IF NOT EXISTS idx_notes_lookup ON notes(chapter, note_number, year);

CREATE TABLE IF NOT EXISTS note_rates (
	id         TEXT PRIMARY KEY,
	note_id    TEXT NOT NULL REFERENCES notes(id),
	formula    TEXT NOT NULL,
	variables  TEXT NOT NULL DEFAULT '[]',
	confidence REAL NOT NULL DEFAULT 0,
	verified   INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_note_rates_note_id ON note_rates(note_id);

CREATE TABLE IF NOT EXISTS note_references (
	id            TEXT PRIMARY KEY,
	hts_number    TEXT NOT NULL,
	source_column TEXT NOT NULL,
	year          INTEGER NOT NULL,
	chapter       INTEGER NOT NULL,
	note_number   TEXT NOT NULL,
	note_id       TEXT NOT NULL,
	formula       TEXT NOT NULL,
	variables     TEXT NOT NULL DEFAULT '[]',
	confidence    REAL NOT NULL DEFAULT 0,
	verified      INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (hts_number, source_column, year)
);

CREATE TABLE IF NOT EXISTS trade_agreements (
	code              TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	partner_countries TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS eligibility_records (
	id                   TEXT PRIMARY KEY,
	agreement_code       TEXT NOT NULL REFERENCES trade_agreements(code),
	hts_number           TEXT NOT NULL,
	preferential_rate    TEXT NOT NULL,
	rate_type            TEXT NOT NULL,
	certificate_required INTEGER NOT NULL DEFAULT 0,
	origin_rule_text     TEXT NOT NULL DEFAULT '',
	effective_date       DATETIME NOT NULL,
	expiration_date      DATETIME,
	UNIQUE (agreement_code, hts_number, effective_date)
);

CREATE INDEX IF NOT EXISTS idx_eligibility_lookup ON eligibility_records(agreement_code, hts_number);

CREATE TABLE IF NOT EXISTS extra_taxes (
	id              TEXT PRIMARY KEY,
	tax_code        TEXT NOT NULL,
	hts_scope       TEXT NOT NULL DEFAULT 'ALL',
	country_scope   TEXT NOT NULL DEFAULT 'ALL',
	mode            TEXT NOT NULL,
	rate_text       TEXT NOT NULL DEFAULT '',
	formula         TEXT NOT NULL DEFAULT '',
	is_percentage   INTEGER NOT NULL DEFAULT 0,
	rate            TEXT NOT NULL DEFAULT '0',
	base_value      TEXT NOT NULL DEFAULT 'value',
	condition       TEXT NOT NULL DEFAULT '',
	minimum_amount  TEXT,
	maximum_amount  TEXT,
	priority        INTEGER NOT NULL DEFAULT 0,
	effective_date  DATETIME NOT NULL,
	expiration_date DATETIME,
	UNIQUE (tax_code, hts_scope, country_scope, effective_date)
);

CREATE INDEX IF NOT EXISTS idx_extra_taxes_country ON extra_taxes(country_scope, effective_date);

CREATE TABLE IF NOT EXISTS formula_candidates (
	id          TEXT PRIMARY KEY,
	rate_text   TEXT NOT NULL,
	formula     TEXT NOT NULL,
	variables   TEXT NOT NULL DEFAULT '[]',
	confidence  REAL NOT NULL DEFAULT 0,
	explanation TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'PENDING',
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_formula_candidates_status ON formula_candidates(status);

CREATE TABLE IF NOT EXISTS calculations (
	id            TEXT PRIMARY KEY,
	result        TEXT NOT NULL,
	calculated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) InsertRateEntries(ctx context.Context, entries []model.RateEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	for _, e := range entries {
		var expr, method *string
		var varsJSON *string
		var conf *float64
		if e.Formula != nil {
			expr = &e.Formula.Expression
			conf = &e.Formula.Confidence
			m := string(e.Formula.Method)
			method = &m
			b, err := json.Marshal(e.Formula.Variables)
			if err != nil {
				return eris.Wrap(err, "sqlite: marshal formula variables")
			}
			v := string(b)
			varsJSON = &v
		}
		createdAt := e.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO rate_entries
			 (id, hts_number, country_scope, rate_general, rate_special, rate_other, rate_chapter99,
			  formula_expression, formula_variables, formula_confidence, formula_method,
			  document_version, effective_date, expiration_date, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (hts_number, country_scope, effective_date) DO UPDATE SET
			   rate_general = excluded.rate_general, rate_special = excluded.rate_special,
			   rate_other = excluded.rate_other, rate_chapter99 = excluded.rate_chapter99,
			   formula_expression = excluded.formula_expression, formula_variables = excluded.formula_variables,
			   formula_confidence = excluded.formula_confidence, formula_method = excluded.formula_method,
			   document_version = excluded.document_version, expiration_date = excluded.expiration_date`,
			e.ID, e.HTSNumber, e.CountryScope,
			e.RateText.General, e.RateText.Special, e.RateText.Other, e.RateText.Chapter99,
			expr, varsJSON, conf, method,
			e.DocumentVersion, e.EffectiveDate, e.ExpirationDate, createdAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert rate entry %s", e.HTSNumber)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit rate entries")
}

func (s *SQLiteStore) GetCurrentRateEntry(ctx context.Context, htsNumber, countryCode string, at time.Time) (*model.RateEntry, error) {
	var e model.RateEntry
	var expr, varsJSON, method *string
	var conf *float64

	err := s.db.QueryRowContext(ctx,
		`SELECT id, hts_number, country_scope, rate_general, rate_special, rate_other, rate_chapter99,
		 formula_expression, formula_variables, formula_confidence, formula_method,
		 document_version, effective_date, expiration_date, created_at
		 FROM rate_entries
		 WHERE hts_number = ? AND (country_scope = ? OR country_scope = 'ALL')
		 AND effective_date <= ? AND (expiration_date IS NULL OR expiration_date > ?)
		 ORDER BY (country_scope = 'ALL'), effective_date DESC LIMIT 1`,
		htsNumber, countryCode, at, at,
	).Scan(&e.ID, &e.HTSNumber, &e.CountryScope,
		&e.RateText.General, &e.RateText.Special, &e.RateText.Other, &e.RateText.Chapter99,
		&expr, &varsJSON, &conf, &method,
		&e.DocumentVersion, &e.EffectiveDate, &e.ExpirationDate, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &model.NotFoundError{Kind: "rate entry", Key: htsNumber}
		}
		return nil, eris.Wrapf(err, "sqlite: get rate entry %s", htsNumber)
	}

	if expr != nil {
		f := &model.Formula{Expression: *expr}
		if conf != nil {
			f.Confidence = *conf
		}
		if method != nil {
			f.Method = model.ExtractionMethod(*method)
		}
		if varsJSON != nil && *varsJSON != "" {
			if err := json.Unmarshal([]byte(*varsJSON), &f.Variables); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal formula variables")
			}
		}
		e.Formula = f
	}
	return &e, nil
}

func (s *SQLiteStore) UpdateRateEntryFormula(ctx context.Context, entryID string, f model.Formula) error {
	varsJSON, err := json.Marshal(f.Variables)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal formula variables")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE rate_entries
		 SET formula_expression = ?, formula_variables = ?, formula_confidence = ?, formula_method = ?
		 WHERE id = ?`,
		f.Expression, string(varsJSON), f.Confidence, string(f.Method), entryID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update rate entry formula %s", entryID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return &model.NotFoundError{Kind: "rate entry", Key: entryID}
	}
	return nil
}

func (s *SQLiteStore) InsertNotes(ctx context.Context, notes []model.Note) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	for _, n := range notes {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO notes (id, chapter, note_number, year, document_id, processed_at, note_text)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (chapter, note_number, year, document_id) DO UPDATE SET
			   processed_at = excluded.processed_at, note_text = excluded.note_text`,
			n.ID, n.Chapter, n.NoteNumber, n.Year, n.DocumentID, n.ProcessedAt, n.Text,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert note %s", n.NoteNumber)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit notes")
}

func (s *SQLiteStore) InsertNoteRates(ctx context.Context, rates []model.NoteRate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	for _, r := range rates {
		varsJSON, err := json.Marshal(r.Variables)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal note rate variables")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO note_rates (id, note_id, formula, variables, confidence, verified)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
			   formula = excluded.formula, variables = excluded.variables,
			   confidence = excluded.confidence, verified = excluded.verified`,
			r.ID, r.NoteID, r.Formula, string(varsJSON), r.Confidence, r.Verified,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert note rate %s", r.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit note rates")
}

func (s *SQLiteStore) ListNoteCandidates(ctx context.Context, chapter int, noteNumber string, year int) ([]model.Note, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chapter, note_number, year, document_id, processed_at, note_text
		 FROM notes WHERE chapter = ? AND note_number = ? AND year = ?
		 ORDER BY processed_at DESC, document_id`,
		chapter, noteNumber, year,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list note candidates")
	}
	defer rows.Close()

	var notes []model.Note
	for rows.Next() {
		var n model.Note
		if err := rows.Scan(&n.ID, &n.Chapter, &n.NoteNumber, &n.Year, &n.DocumentID, &n.ProcessedAt, &n.Text); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan note")
		}
		notes = append(notes, n)
	}
	return notes, eris.Wrap(rows.Err(), "sqlite: list note candidates iterate")
}

func (s *SQLiteStore) ListNoteRates(ctx context.Context, noteID string) ([]model.NoteRate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, note_id, formula, variables, confidence, verified
		 FROM note_rates WHERE note_id = ?
		 ORDER BY verified DESC, confidence DESC, id`,
		noteID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list note rates")
	}
	defer rows.Close()

	var rates []model.NoteRate
	for rows.Next() {
		var r model.NoteRate
		var varsJSON string
		if err := rows.Scan(&r.ID, &r.NoteID, &r.Formula, &varsJSON, &r.Confidence, &r.Verified); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan note rate")
		}
		if varsJSON != "" {
			if err := json.Unmarshal([]byte(varsJSON), &r.Variables); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal note rate variables")
			}
		}
		rates = append(rates, r)
	}
	return rates, eris.Wrap(rows.Err(), "sqlite: list note rates iterate")
}

func (s *SQLiteStore) GetNoteReference(ctx context.Context, htsNumber string, col model.SourceColumn, year int) (*model.NoteReference, error) {
	var ref model.NoteReference
	var varsJSON string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, hts_number, source_column, year, chapter, note_number, note_id,
		 formula, variables, confidence, verified, created_at
		 FROM note_references WHERE hts_number = ? AND source_column = ? AND year = ?`,
		htsNumber, string(col), year,
	).Scan(&ref.ID, &ref.HTSNumber, &ref.SourceColumn, &ref.Year, &ref.Chapter, &ref.NoteNumber,
		&ref.NoteID, &ref.Formula, &varsJSON, &ref.Confidence, &ref.Verified, &ref.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: get note reference")
	}
	if varsJSON != "" {
		if err := json.Unmarshal([]byte(varsJSON), &ref.Variables); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal note reference variables")
		}
	}
	return &ref, nil
}

func (s *SQLiteStore) CreateNoteReference(ctx context.Context, ref model.NoteReference) (bool, error) {
	varsJSON, err := json.Marshal(ref.Variables)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal note reference variables")
	}
	createdAt := ref.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO note_references
		 (id, hts_number, source_column, year, chapter, note_number, note_id,
		  formula, variables, confidence, verified, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ref.ID, ref.HTSNumber, string(ref.SourceColumn), ref.Year, ref.Chapter, ref.NoteNumber,
		ref.NoteID, ref.Formula, string(varsJSON), ref.Confidence, ref.Verified, createdAt,
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: create note reference")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) InsertTradeAgreements(ctx context.Context, agreements []model.TradeAgreement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	for _, a := range agreements {
		partnersJSON, err := json.Marshal(a.PartnerCountries)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal partner countries")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO trade_agreements (code, name, partner_countries) VALUES (?, ?, ?)
			 ON CONFLICT (code) DO UPDATE SET name = excluded.name, partner_countries = excluded.partner_countries`,
			a.Code, a.Name, string(partnersJSON),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert trade agreement %s", a.Code)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit trade agreements")
}

func (s *SQLiteStore) GetTradeAgreement(ctx context.Context, code string) (*model.TradeAgreement, error) {
	var a model.TradeAgreement
	var partnersJSON string

	err := s.db.QueryRowContext(ctx,
		`SELECT code, name, partner_countries FROM trade_agreements WHERE code = ?`,
		code,
	).Scan(&a.Code, &a.Name, &partnersJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &model.NotFoundError{Kind: "trade agreement", Key: code}
		}
		return nil, eris.Wrapf(err, "sqlite: get trade agreement %s", code)
	}
	if err := json.Unmarshal([]byte(partnersJSON), &a.PartnerCountries); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal partner countries")
	}
	return &a, nil
}

func (s *SQLiteStore) InsertEligibilityRecords(ctx context.Context, records []model.EligibilityRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	for _, r := range records {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO eligibility_records
			 (id, agreement_code, hts_number, preferential_rate, rate_type,
			  certificate_required, origin_rule_text, effective_date, expiration_date)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (agreement_code, hts_number, effective_date) DO UPDATE SET
			   preferential_rate = excluded.preferential_rate, rate_type = excluded.rate_type,
			   certificate_required = excluded.certificate_required,
			   origin_rule_text = excluded.origin_rule_text, expiration_date = excluded.expiration_date`,
			r.ID, r.AgreementCode, r.HTSNumber, r.PreferentialRate, r.RateType,
			r.CertificateRequired, r.OriginRuleText, r.EffectiveDate, r.ExpirationDate,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert eligibility record %s/%s", r.AgreementCode, r.HTSNumber)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit eligibility records")
}

func (s *SQLiteStore) GetEligibility(ctx context.Context, agreementCode, htsNumber string, at time.Time) (*model.EligibilityRecord, error) {
	var r model.EligibilityRecord

	err := s.db.QueryRowContext(ctx,
		`SELECT id, agreement_code, hts_number, preferential_rate, rate_type,
		 certificate_required, origin_rule_text, effective_date, expiration_date
		 FROM eligibility_records
		 WHERE agreement_code = ? AND hts_number = ?
		 AND effective_date <= ? AND (expiration_date IS NULL OR expiration_date > ?)
		 ORDER BY effective_date DESC LIMIT 1`,
		agreementCode, htsNumber, at, at,
	).Scan(&r.ID, &r.AgreementCode, &r.HTSNumber, &r.PreferentialRate, &r.RateType,
		&r.CertificateRequired, &r.OriginRuleText, &r.EffectiveDate, &r.ExpirationDate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &model.NotFoundError{Kind: "eligibility record", Key: agreementCode + "/" + htsNumber}
		}
		return nil, eris.Wrap(err, "sqlite: get eligibility")
	}
	return &r, nil
}

func (s *SQLiteStore) InsertExtraTaxes(ctx context.Context, taxes []model.ExtraTax) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

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
		_, err = tx.ExecContext(ctx,
			`INSERT INTO extra_taxes
			 (id, tax_code, hts_scope, country_scope, mode, rate_text, formula,
			  is_percentage, rate, base_value, condition, minimum_amount, maximum_amount,
			  priority, effective_date, expiration_date)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (tax_code, hts_scope, country_scope, effective_date) DO UPDATE SET
			   mode = excluded.mode, rate_text = excluded.rate_text, formula = excluded.formula,
			   is_percentage = excluded.is_percentage, rate = excluded.rate,
			   base_value = excluded.base_value, condition = excluded.condition,
			   minimum_amount = excluded.minimum_amount, maximum_amount = excluded.maximum_amount,
			   priority = excluded.priority, expiration_date = excluded.expiration_date`,
			t.ID, t.TaxCode, t.HTSScope, t.CountryScope, string(t.Mode), t.RateText, t.Formula,
			t.IsPercentage, t.Rate.String(), string(t.BaseValue), t.Condition, minStr, maxStr,
			t.Priority, t.EffectiveDate, t.ExpirationDate,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert extra tax %s", t.TaxCode)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit extra taxes")
}

func (s *SQLiteStore) ListActiveExtraTaxes(ctx context.Context, countryCode string, at time.Time) ([]model.ExtraTax, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tax_code, hts_scope, country_scope, mode, rate_text, formula,
		 is_percentage, rate, base_value, condition, minimum_amount, maximum_amount, priority,
		 effective_date, expiration_date
		 FROM extra_taxes
		 WHERE (country_scope = ? OR country_scope = 'ALL')
		 AND effective_date <= ? AND (expiration_date IS NULL OR expiration_date > ?)
		 ORDER BY priority, tax_code`,
		countryCode, at, at,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list extra taxes")
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
			return nil, eris.Wrap(err, "sqlite: scan extra tax")
		}
		if t.Rate, err = decimal.NewFromString(rateStr); err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse rate for tax %s", t.TaxCode)
		}
		if minStr != nil {
			v, err := decimal.NewFromString(*minStr)
			if err != nil {
				return nil, eris.Wrapf(err, "sqlite: parse minimum for tax %s", t.TaxCode)
			}
			t.MinimumAmount = &v
		}
		if maxStr != nil {
			v, err := decimal.NewFromString(*maxStr)
			if err != nil {
				return nil, eris.Wrapf(err, "sqlite: parse maximum for tax %s", t.TaxCode)
			}
			t.MaximumAmount = &v
		}
		taxes = append(taxes, t)
	}
	return taxes, eris.Wrap(rows.Err(), "sqlite: list extra taxes iterate")
}

func (s *SQLiteStore) InsertFormulaCandidate(ctx context.Context, c model.FormulaCandidate) error {
	varsJSON, err := json.Marshal(c.Variables)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal candidate variables")
	}
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO formula_candidates (id, rate_text, formula, variables, confidence, explanation, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.RateText, c.Formula, string(varsJSON), c.Confidence, c.Explanation, string(c.Status), createdAt,
	)
	return eris.Wrap(err, "sqlite: insert formula candidate")
}

func (s *SQLiteStore) ListPendingCandidates(ctx context.Context, limit int) ([]model.FormulaCandidate, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, rate_text, formula, variables, confidence, explanation, status, created_at
		 FROM formula_candidates WHERE status = 'PENDING'
		 ORDER BY created_at LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pending candidates")
	}
	defer rows.Close()

	var candidates []model.FormulaCandidate
	for rows.Next() {
		var c model.FormulaCandidate
		var varsJSON string
		if err := rows.Scan(&c.ID, &c.RateText, &c.Formula, &varsJSON, &c.Confidence, &c.Explanation, &c.Status, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan candidate")
		}
		if varsJSON != "" {
			if err := json.Unmarshal([]byte(varsJSON), &c.Variables); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal candidate variables")
			}
		}
		candidates = append(candidates, c)
	}
	return candidates, eris.Wrap(rows.Err(), "sqlite: list pending candidates iterate")
}

func (s *SQLiteStore) SetCandidateStatus(ctx context.Context, id string, status model.CandidateStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE formula_candidates SET status = ? WHERE id = ?`,
		string(status), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set candidate status %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return &model.NotFoundError{Kind: "formula candidate", Key: id}
	}
	return nil
}

func (s *SQLiteStore) InsertCalculationRecord(ctx context.Context, result model.CalculationResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal calculation result")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO calculations (id, result, calculated_at) VALUES (?, ?, ?)`,
		result.ID, string(resultJSON), result.CalculatedAt,
	)
	return eris.Wrap(err, "sqlite: insert calculation record")
}

func (s *SQLiteStore) GetCalculationRecord(ctx context.Context, id string) (*model.CalculationResult, error) {
	var resultJSON string

	err := s.db.QueryRowContext(ctx,
		`SELECT result FROM calculations WHERE id = ?`,
		id,
	).Scan(&resultJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &model.NotFoundError{Kind: "calculation record", Key: id}
		}
		return nil, eris.Wrapf(err, "sqlite: get calculation record %s", id)
	}

	var result model.CalculationResult
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal calculation result")
	}
	return &result, nil
}

func (s *SQLiteStore) Counts(ctx context.Context) (*Counts, error) {
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
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, eris.Wrap(err, "sqlite: counts")
		}
	}
	return &c, nil
}

// compile-time interface checks
var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
