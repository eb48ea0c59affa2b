// Package ledger owns attempt records: one per student, example and
// practice session. Every mutation runs inside a store transaction.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/PanHorut/BP/internal/model"
)

// MaxAttempts is the number of tries after which the student moves on
// even without a correct answer.
const MaxAttempts = 3

// Store is the persistence the ledger needs.
type Store interface {
	CreateRecord(ctx context.Context, r model.AttemptRecord) error
	MutateRecord(ctx context.Context, key model.RecordKey, fn func(*model.AttemptRecord) error) (model.AttemptRecord, error)
	DeleteRecord(ctx context.Context, key model.RecordKey) error
}

type Ledger struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Init opens a record at zero attempts. Its creation time becomes the
// session identity.
func (l *Ledger) Init(ctx context.Context, student, example model.ID) (model.AttemptRecord, error) {
	r := model.AttemptRecord{
		StudentID:   student,
		ExampleID:   example,
		SessionDate: l.now().UTC().Truncate(time.Millisecond),
	}
	if err := l.store.CreateRecord(ctx, r); err != nil {
		return model.AttemptRecord{}, err
	}
	return r, nil
}

// Update counts one attempt and reports whether the student should advance:
// on a correct answer or once MaxAttempts is reached.
func (l *Ledger) Update(ctx context.Context, key model.RecordKey, durationMs int64, correct bool) (bool, error) {
	if durationMs < 0 {
		durationMs = 0
	}
	r, err := l.store.MutateRecord(ctx, key, func(r *model.AttemptRecord) error {
		r.Attempts++
		r.DurationMs = durationMs
		r.Solved = correct
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("update attempt: %w", err)
	}
	return r.Attempts == MaxAttempts || correct, nil
}

// Skip marks the record skipped and clears its attempt count and duration.
func (l *Ledger) Skip(ctx context.Context, key model.RecordKey) error {
	_, err := l.store.MutateRecord(ctx, key, func(r *model.AttemptRecord) error {
		r.Skipped = true
		r.Attempts = 0
		r.DurationMs = 0
		return nil
	})
	if err != nil {
		return fmt.Errorf("skip: %w", err)
	}
	return nil
}

// Delete removes the record of an abandoned session.
func (l *Ledger) Delete(ctx context.Context, key model.RecordKey) error {
	if err := l.store.DeleteRecord(ctx, key); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}
