package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const schemaLockKey int64 = 2026031001

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS cases (
	id TEXT PRIMARY KEY,
	supplier_id TEXT NOT NULL,
	buyer_id TEXT NOT NULL DEFAULT '',
	reference_no TEXT NOT NULL,
	product_group TEXT NOT NULL,
	date_from DATE,
	date_to DATE,
	status TEXT NOT NULL,
	ready_l1_at TIMESTAMPTZ,
	ready_l2_at TIMESTAMPTZ,
	closed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cases_supplier ON cases(supplier_id, created_at DESC);

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	case_id TEXT NOT NULL REFERENCES cases(id),
	filename TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	size_bytes BIGINT NOT NULL,
	page_count INTEGER NOT NULL DEFAULT 0,
	content_hash TEXT NOT NULL,
	doc_type TEXT NOT NULL DEFAULT '',
	classification_method TEXT NOT NULL DEFAULT '',
	classification_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	error_code TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (case_id, content_hash)
);

CREATE INDEX IF NOT EXISTS idx_documents_case ON documents(case_id, created_at);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);

CREATE TABLE IF NOT EXISTS document_pages (
	document_id TEXT NOT NULL REFERENCES documents(id),
	page_number INTEGER NOT NULL CHECK (page_number >= 1),
	text TEXT NOT NULL,
	method TEXT NOT NULL,
	PRIMARY KEY (document_id, page_number)
);

CREATE TABLE IF NOT EXISTS extracted_fields (
	id TEXT PRIMARY KEY,
	case_id TEXT NOT NULL REFERENCES cases(id),
	document_id TEXT NOT NULL REFERENCES documents(id),
	canonical_key TEXT NOT NULL,
	value TEXT NOT NULL,
	unit TEXT NOT NULL DEFAULT '',
	page INTEGER NOT NULL DEFAULT 0,
	snippet TEXT NOT NULL DEFAULT '',
	confidence DOUBLE PRECISION,
	tier TEXT NOT NULL,
	status TEXT NOT NULL,
	visibility TEXT NOT NULL,
	created_from TEXT NOT NULL,
	extraction_run_id TEXT NOT NULL DEFAULT '',
	superseded_at TIMESTAMPTZ,
	rejection_reason TEXT NOT NULL DEFAULT '',
	reviewed_by TEXT NOT NULL DEFAULT '',
	reviewed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	CONSTRAINT extracted_fields_evidence CHECK (created_from = 'system' OR (page >= 1 AND snippet <> ''))
);

CREATE INDEX IF NOT EXISTS idx_fields_case_active ON extracted_fields(case_id, canonical_key) WHERE superseded_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_fields_page_active ON extracted_fields(document_id, page) WHERE superseded_at IS NULL;

CREATE TABLE IF NOT EXISTS checklist_items (
	id TEXT PRIMARY KEY,
	case_id TEXT NOT NULL REFERENCES cases(id),
	type TEXT NOT NULL,
	severity TEXT NOT NULL,
	status TEXT NOT NULL,
	rule_key TEXT NOT NULL,
	subject TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	related_field_id TEXT NOT NULL DEFAULT '',
	completed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (case_id, type, subject)
);

CREATE TABLE IF NOT EXISTS audit_log (
	id TEXT PRIMARY KEY,
	case_id TEXT NOT NULL,
	actor TEXT NOT NULL,
	action TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	details JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_case ON audit_log(case_id, created_at);
`

// EnsureSchema creates every table the pipeline uses.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func checkAffected(result sql.Result, kind error, op, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if rows == 0 {
		return domainNotFound(kind, op, id)
	}
	return nil
}

func withTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
