package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const createAuditSchemaSQL = `
CREATE TABLE IF NOT EXISTS override_audit (
    id VARCHAR(64) PRIMARY KEY,
    occurred_at TIMESTAMP NOT NULL,
    acting_subject VARCHAR(255) NOT NULL,
    claimed_tenant VARCHAR(255) NOT NULL,
    overridden_tenant VARCHAR(255) NOT NULL,
    operation VARCHAR(255) NOT NULL
)`

const createAuditIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_override_audit_subject ON override_audit(acting_subject, occurred_at)`

const insertAuditSQL = `
INSERT INTO override_audit (id, occurred_at, acting_subject, claimed_tenant, overridden_tenant, operation)
VALUES ($1, $2, $3, $4, $5, $6)`

// PostgresSink persists override events in a PostgreSQL table. The table
// is created on construction if it does not exist.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink opens a connection pool for the given DSN and ensures
// the audit schema exists.
func NewPostgresSink(dsn string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	s := &PostgresSink{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	return s, nil
}

func (s *PostgresSink) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, stmt := range []string{createAuditSchemaSQL, createAuditIndexSQL} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresSink) Record(ctx context.Context, event Event) error {
	_, err := s.db.ExecContext(ctx, insertAuditSQL,
		event.ID, event.Timestamp,
		event.ActingSubject, event.ClaimedTenant, event.OverriddenTenant,
		event.Operation)
	if err != nil {
		return fmt.Errorf("failed to record override event: %w", err)
	}
	return nil
}

func (s *PostgresSink) Close() error {
	return s.db.Close()
}

var _ Sink = (*PostgresSink)(nil)
