package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/PanHorut/BP/internal/model"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when an attempt record or example does not exist.
var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	dsn := dbPath
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases
	// alive across calls.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS examples (
		id INTEGER PRIMARY KEY,
		example TEXT NOT NULL DEFAULT '',
		answer TEXT NOT NULL,
		input_type TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS attempt_records (
		student_id INTEGER NOT NULL,
		example_id INTEGER NOT NULL,
		session_date TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		duration INTEGER NOT NULL DEFAULT 0,
		solved INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (student_id, example_id, session_date)
	);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

const upsertExampleSQL = `INSERT INTO examples (id, example, answer, input_type) VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET example = excluded.example, answer = excluded.answer, input_type = excluded.input_type`

// InsertExample stores or replaces an example.
func (s *Store) InsertExample(ctx context.Context, e model.Example) error {
	_, err := s.db.ExecContext(ctx, upsertExampleSQL, e.ID, e.Text, e.Answer, e.InputType)
	return err
}

// GetExample returns an example by ID, or ErrNotFound.
func (s *Store) GetExample(ctx context.Context, id model.ID) (model.Example, error) {
	var e model.Example
	err := s.db.QueryRowContext(ctx,
		`SELECT id, example, answer, input_type FROM examples WHERE id = ?`, id,
	).Scan(&e.ID, &e.Text, &e.Answer, &e.InputType)
	if errors.Is(err, sql.ErrNoRows) {
		return e, fmt.Errorf("example %d: %w", id, ErrNotFound)
	}
	return e, err
}

// ExampleCount returns the number of stored examples.
func (s *Store) ExampleCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM examples`).Scan(&n)
	return n, err
}

// CreateRecord inserts a fresh attempt record.
func (s *Store) CreateRecord(ctx context.Context, r model.AttemptRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempt_records (student_id, example_id, session_date, attempts, duration, solved, skipped)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.StudentID, r.ExampleID, model.FormatRecordDate(r.SessionDate), r.Attempts, r.DurationMs, r.Solved, r.Skipped,
	)
	if err != nil {
		return fmt.Errorf("create record %s: %w", r.Key(), err)
	}
	return nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getRecord(ctx context.Context, q queryRower, key model.RecordKey) (model.AttemptRecord, error) {
	r := model.AttemptRecord{StudentID: key.StudentID, ExampleID: key.ExampleID, SessionDate: key.SessionDate}
	err := q.QueryRowContext(ctx,
		`SELECT attempts, duration, solved, skipped FROM attempt_records
		 WHERE student_id = ? AND example_id = ? AND session_date = ?`,
		key.StudentID, key.ExampleID, model.FormatRecordDate(key.SessionDate),
	).Scan(&r.Attempts, &r.DurationMs, &r.Solved, &r.Skipped)
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("record %s: %w", key, ErrNotFound)
	}
	return r, err
}

// GetRecord returns the record with the given identity, or ErrNotFound.
func (s *Store) GetRecord(ctx context.Context, key model.RecordKey) (model.AttemptRecord, error) {
	return getRecord(ctx, s.db, key)
}

// MutateRecord loads a record, applies fn and writes it back in one
// transaction. fn must not change the record identity.
func (s *Store) MutateRecord(ctx context.Context, key model.RecordKey, fn func(*model.AttemptRecord) error) (model.AttemptRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.AttemptRecord{}, err
	}
	defer tx.Rollback()

	r, err := getRecord(ctx, tx, key)
	if err != nil {
		return r, err
	}
	if err := fn(&r); err != nil {
		return r, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE attempt_records SET attempts = ?, duration = ?, solved = ?, skipped = ?
		 WHERE student_id = ? AND example_id = ? AND session_date = ?`,
		r.Attempts, r.DurationMs, r.Solved, r.Skipped,
		key.StudentID, key.ExampleID, model.FormatRecordDate(key.SessionDate),
	)
	if err != nil {
		return r, fmt.Errorf("update record %s: %w", key, err)
	}
	return r, tx.Commit()
}

// DeleteRecord removes a record, or returns ErrNotFound.
func (s *Store) DeleteRecord(ctx context.Context, key model.RecordKey) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM attempt_records WHERE student_id = ? AND example_id = ? AND session_date = ?`,
		key.StudentID, key.ExampleID, model.FormatRecordDate(key.SessionDate),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("record %s: %w", key, ErrNotFound)
	}
	return nil
}

// ListRecords returns all records of a student, oldest first.
func (s *Store) ListRecords(ctx context.Context, studentID model.ID) ([]model.AttemptRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT student_id, example_id, session_date, attempts, duration, solved, skipped
		 FROM attempt_records WHERE student_id = ? ORDER BY session_date, example_id`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.AttemptRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanRecord(rows *sql.Rows) (model.AttemptRecord, error) {
	var r model.AttemptRecord
	var date string
	if err := rows.Scan(&r.StudentID, &r.ExampleID, &date, &r.Attempts, &r.DurationMs, &r.Solved, &r.Skipped); err != nil {
		return r, err
	}
	t, err := model.ParseRecordDate(date)
	if err != nil {
		return r, err
	}
	r.SessionDate = t
	return r, nil
}
