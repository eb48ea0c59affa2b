package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/PanHorut/BP/internal/model"
)

const importedHashKey = "examples_hash"

// SetMetadata upserts a key-value pair in the metadata table.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// ImportedHash returns the content hash of the last imported example file.
func (s *Store) ImportedHash(ctx context.Context) (string, error) {
	return s.GetMetadata(ctx, importedHashKey)
}

// ImportExamples stores examples and records the source hash in a single
// transaction.
func (s *Store) ImportExamples(ctx context.Context, examples []model.Example, hash string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range examples {
		if _, err := tx.ExecContext(ctx, upsertExampleSQL, e.ID, e.Text, e.Answer, e.InputType); err != nil {
			return fmt.Errorf("import example %d: %w", e.ID, err)
		}
	}
	if hash != "" {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO metadata (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			importedHashKey, hash,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}
