// Package audit persists a trail of plan submissions to Postgres. The trail
// is diagnostic only: executor progress never depends on a write landing.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/lendlink-labs/creditdesk/internal/credit"
	"github.com/lendlink-labs/creditdesk/internal/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS submissions (
    id          BIGSERIAL PRIMARY KEY,
    plan_id     TEXT        NOT NULL,
    step_index  INTEGER     NOT NULL,
    account     TEXT        NOT NULL,
    contract    TEXT        NOT NULL,
    method      TEXT        NOT NULL,
    tx_hash     TEXT        NOT NULL DEFAULT '',
    status      TEXT        NOT NULL,
    error       TEXT        NOT NULL DEFAULT '',
    recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS submissions_account_idx ON submissions (account, recorded_at DESC);
CREATE INDEX IF NOT EXISTS submissions_plan_idx ON submissions (plan_id, step_index);
`

// Repository stores submission records in Postgres.
type Repository struct {
	db  *sqlx.DB
	log *logging.Logger
}

// Open connects to Postgres, applies the schema, and returns the repository.
func Open(dsn string, log *logging.Logger) (*Repository, error) {
	if log == nil {
		log = logging.Nop()
	}
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect audit database: %w", err)
	}
	repo := &Repository{db: db, log: log}
	if err := repo.applySchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// NewRepository wraps an existing connection without applying the schema.
func NewRepository(db *sqlx.DB, log *logging.Logger) *Repository {
	if log == nil {
		log = logging.Nop()
	}
	return &Repository{db: db, log: log}
}

func (r *Repository) applySchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply audit schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *Repository) Close() error {
	return r.db.Close()
}

type submissionRow struct {
	PlanID     string    `db:"plan_id"`
	StepIndex  int       `db:"step_index"`
	Account    string    `db:"account"`
	Contract   string    `db:"contract"`
	Method     string    `db:"method"`
	TxHash     string    `db:"tx_hash"`
	Status     string    `db:"status"`
	Error      string    `db:"error"`
	RecordedAt time.Time `db:"recorded_at"`
}

func (row submissionRow) record() credit.SubmissionRecord {
	return credit.SubmissionRecord{
		PlanID:    row.PlanID,
		StepIndex: row.StepIndex,
		Account:   row.Account,
		Contract:  row.Contract,
		Method:    row.Method,
		TxHash:    row.TxHash,
		Status:    row.Status,
		Error:     row.Error,
		At:        row.RecordedAt,
	}
}

// RecordSubmission appends one audit entry.
func (r *Repository) RecordSubmission(ctx context.Context, rec credit.SubmissionRecord) error {
	at := rec.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO submissions (plan_id, step_index, account, contract, method, tx_hash, status, error, recorded_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.PlanID, rec.StepIndex, rec.Account, rec.Contract, rec.Method, rec.TxHash, rec.Status, rec.Error, at)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// ListRecent returns the account's most recent submissions, newest first.
func (r *Repository) ListRecent(ctx context.Context, account string, limit int) ([]credit.SubmissionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []submissionRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT plan_id, step_index, account, contract, method, tx_hash, status, error, recorded_at
         FROM submissions WHERE account = $1 ORDER BY recorded_at DESC, id DESC LIMIT $2`,
		account, limit)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	out := make([]credit.SubmissionRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.record())
	}
	return out, nil
}

// ListPlan returns every entry recorded for one plan, in step order.
func (r *Repository) ListPlan(ctx context.Context, planID string) ([]credit.SubmissionRecord, error) {
	var rows []submissionRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT plan_id, step_index, account, contract, method, tx_hash, status, error, recorded_at
         FROM submissions WHERE plan_id = $1 ORDER BY step_index ASC, id ASC`,
		planID)
	if err != nil {
		return nil, fmt.Errorf("list plan submissions: %w", err)
	}
	out := make([]credit.SubmissionRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.record())
	}
	return out, nil
}

var _ credit.AuditSink = (*Repository)(nil)
