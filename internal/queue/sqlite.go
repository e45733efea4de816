package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// DatabaseFileName is the default name of the queue database inside the data directory
const DatabaseFileName = "queue.db"

const schema = `
CREATE TABLE IF NOT EXISTS operations (
	sequence        INTEGER PRIMARY KEY AUTOINCREMENT,
	id              TEXT    NOT NULL UNIQUE,
	type            TEXT    NOT NULL,
	payload         BLOB,
	created_at      INTEGER NOT NULL,
	attempt_count   INTEGER NOT NULL DEFAULT 0,
	status          TEXT    NOT NULL,
	last_error      TEXT    NOT NULL DEFAULT '',
	next_attempt_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_operations_status ON operations(status);
`

const selectColumns = `SELECT sequence, id, type, payload, created_at, attempt_count, status, last_error, next_attempt_at FROM operations`

// SQLiteStore persists operations in a SQLite database. Every commit is
// flushed to disk (synchronous=FULL) so an appended operation survives a crash.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens or creates the queue database at path
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}

	pragmas := url.Values{}
	pragmas.Add("_pragma", "journal_mode(WAL)")
	pragmas.Add("_pragma", "synchronous(FULL)")
	pragmas.Add("_pragma", "busy_timeout(5000)")
	dsn := "file:" + path + "?" + pragmas.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	// The queue has a single writer; one connection also keeps the pragmas in effect
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to queue database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create queue schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Append implements Store
func (s *SQLiteStore) Append(ctx context.Context, op *Operation) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO operations (id, type, payload, created_at, attempt_count, status, last_error, next_attempt_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.Type, []byte(op.Payload), op.CreatedAt.UnixNano(),
		op.AttemptCount, string(op.Status), op.LastError, nullableTime(op.NextAttemptAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert operation: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read operation sequence: %w", err)
	}
	op.Sequence = seq
	return nil
}

// List implements Store
func (s *SQLiteStore) List(ctx context.Context) ([]Operation, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY sequence ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ops []Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate operations: %w", err)
	}
	return ops, nil
}

// Get implements Store
func (s *SQLiteStore) Get(ctx context.Context, id string) (Operation, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	op, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Operation{}, ErrNotFound
	}
	return op, err
}

// Update implements Store
func (s *SQLiteStore) Update(ctx context.Context, op Operation) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE operations SET attempt_count = ?, status = ?, last_error = ?, next_attempt_at = ? WHERE id = ?`,
		op.AttemptCount, string(op.Status), op.LastError, nullableTime(op.NextAttemptAt), op.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update operation: %w", err)
	}
	return requireAffected(res)
}

// Delete implements Store
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM operations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete operation: %w", err)
	}
	return requireAffected(res)
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOperation(row scanner) (Operation, error) {
	var (
		op          Operation
		payload     []byte
		createdAt   int64
		status      string
		nextAttempt sql.NullInt64
	)
	err := row.Scan(&op.Sequence, &op.ID, &op.Type, &payload, &createdAt,
		&op.AttemptCount, &status, &op.LastError, &nextAttempt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Operation{}, err
		}
		return Operation{}, fmt.Errorf("failed to scan operation: %w", err)
	}

	if len(payload) > 0 {
		op.Payload = payload
	}
	op.CreatedAt = time.Unix(0, createdAt).UTC()
	op.Status = Status(status)
	if nextAttempt.Valid {
		t := time.Unix(0, nextAttempt.Int64).UTC()
		op.NextAttemptAt = &t
	}
	return op, nil
}

func nullableTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
