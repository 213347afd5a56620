// Package store persists the intent audit log to SQLite. The control service
// treats it as best-effort durability: the in-memory registry stays
// authoritative while the process is alive, and the log is read back only to
// hydrate a warm restart.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/quantfabric/opscore/internal/intent"
)

//go:embed schema.sql
var schemaSQL string

// Store is a SQLite-backed intent log. Safe for concurrent use; SQLite allows
// a single writer, so the connection pool is pinned to one connection.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path, applies pragmas and the schema.
// Idempotent. WAL mode keeps reads from blocking on the write path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Insert writes a newly accepted intent. Duplicate IDs are silently ignored
// so that a replayed write-through cannot fail the caller.
func (s *Store) Insert(ctx context.Context, in intent.Intent) error {
	params, receipt, err := marshalBlobs(in)
	if err != nil {
		return fmt.Errorf("insert intent: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO intents
		(id, idempotency_key, version, type, params, operator_id, reason,
		 signature, state_hash, status, ttl_seconds, submitted_at, resolved_at,
		 receipt, approver_id, approved_at, rejection_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		in.ID,
		in.IdempotencyKey,
		in.Version,
		string(in.Type),
		params,
		in.OperatorID,
		in.Reason,
		in.Signature,
		in.StateHash,
		string(in.Status),
		in.TTLSeconds,
		formatTime(in.SubmittedAt),
		formatTimePtr(in.ResolvedAt),
		receipt,
		in.ApproverID,
		formatTimePtr(in.ApprovedAt),
		in.RejectionReason,
	)
	if err != nil {
		return fmt.Errorf("insert intent: %w", err)
	}
	return nil
}

// Update rewrites the mutable fields after a transition. Missing rows are not
// an error; the row may predate the schema or have been pruned.
func (s *Store) Update(ctx context.Context, in intent.Intent) error {
	_, receipt, err := marshalBlobs(in)
	if err != nil {
		return fmt.Errorf("update intent: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE intents
		SET status = ?, resolved_at = ?, receipt = ?, approver_id = ?,
		    approved_at = ?, rejection_reason = ?
		WHERE id = ?
	`,
		string(in.Status),
		formatTimePtr(in.ResolvedAt),
		receipt,
		in.ApproverID,
		formatTimePtr(in.ApprovedAt),
		in.RejectionReason,
		in.ID,
	)
	if err != nil {
		return fmt.Errorf("update intent: %w", err)
	}
	return nil
}

// FindRecent returns the n most recently submitted intents, newest first.
// n <= 0 returns everything.
func (s *Store) FindRecent(ctx context.Context, n int) ([]intent.Intent, error) {
	q := `SELECT ` + columns + ` FROM intents ORDER BY submitted_at DESC, rowid DESC`
	args := []any{}
	if n > 0 {
		q += ` LIMIT ?`
		args = append(args, n)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("find recent intents: %w", err)
	}
	defer rows.Close()

	var out []intent.Intent
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("find recent intents: %w", err)
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find recent intents: %w", err)
	}
	return out, nil
}

// FindByIdempotencyKey returns the intent holding key, or nil if the key was
// never claimed.
func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (*intent.Intent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM intents WHERE idempotency_key = ?`, key)
	in, err := scanIntent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by idempotency key: %w", err)
	}
	return &in, nil
}

const columns = `id, idempotency_key, version, type, params, operator_id, reason,
	signature, state_hash, status, ttl_seconds, submitted_at, resolved_at,
	receipt, approver_id, approved_at, rejection_reason`

type scanner interface {
	Scan(dest ...any) error
}

func scanIntent(row scanner) (intent.Intent, error) {
	var (
		in                          intent.Intent
		typ, status                 string
		params, receipt             sql.NullString
		submittedAt                 string
		resolvedAt, approvedAt      sql.NullString
		reason, stateHash           sql.NullString
		approverID, rejectionReason sql.NullString
	)
	err := row.Scan(
		&in.ID, &in.IdempotencyKey, &in.Version, &typ, &params, &in.OperatorID,
		&reason, &in.Signature, &stateHash, &status, &in.TTLSeconds,
		&submittedAt, &resolvedAt, &receipt, &approverID, &approvedAt,
		&rejectionReason,
	)
	if err != nil {
		return intent.Intent{}, err
	}
	in.Type = intent.Type(typ)
	in.Status = intent.Status(status)
	in.Reason = reason.String
	in.StateHash = stateHash.String
	in.ApproverID = approverID.String
	in.RejectionReason = rejectionReason.String

	if in.SubmittedAt, err = time.Parse(time.RFC3339Nano, submittedAt); err != nil {
		return intent.Intent{}, fmt.Errorf("parse submitted_at: %w", err)
	}
	if in.ResolvedAt, err = parseTimePtr(resolvedAt); err != nil {
		return intent.Intent{}, fmt.Errorf("parse resolved_at: %w", err)
	}
	if in.ApprovedAt, err = parseTimePtr(approvedAt); err != nil {
		return intent.Intent{}, fmt.Errorf("parse approved_at: %w", err)
	}
	if params.Valid && params.String != "" {
		if err := json.Unmarshal([]byte(params.String), &in.Params); err != nil {
			return intent.Intent{}, fmt.Errorf("decode params: %w", err)
		}
	}
	if receipt.Valid && receipt.String != "" {
		var r intent.Receipt
		if err := json.Unmarshal([]byte(receipt.String), &r); err != nil {
			return intent.Intent{}, fmt.Errorf("decode receipt: %w", err)
		}
		in.Receipt = &r
	}
	return in, nil
}

func marshalBlobs(in intent.Intent) (params, receipt sql.NullString, err error) {
	if in.Params != nil {
		b, err := json.Marshal(in.Params)
		if err != nil {
			return params, receipt, fmt.Errorf("encode params: %w", err)
		}
		params = sql.NullString{String: string(b), Valid: true}
	}
	if in.Receipt != nil {
		b, err := json.Marshal(in.Receipt)
		if err != nil {
			return params, receipt, fmt.Errorf("encode receipt: %w", err)
		}
		receipt = sql.NullString{String: string(b), Valid: true}
	}
	return params, receipt, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
