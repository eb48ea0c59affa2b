package store

import (
	"context"
	"fmt"

	"github.com/PanHorut/BP/internal/model"
)

// ExportRecords returns every attempt record joined with its example.
// Records whose example is unknown are exported with empty example fields.
func (s *Store) ExportRecords(ctx context.Context) ([]model.RecordResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.student_id, r.example_id, r.session_date, r.attempts, r.duration, r.solved, r.skipped,
		        COALESCE(e.example, ''), COALESCE(e.answer, ''), COALESCE(e.input_type, '')
		 FROM attempt_records r
		 LEFT JOIN examples e ON e.id = r.example_id
		 ORDER BY r.student_id, r.session_date, r.example_id`)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var results []model.RecordResult
	for rows.Next() {
		var rr model.RecordResult
		if err := rows.Scan(
			&rr.StudentID, &rr.ExampleID, &rr.Date, &rr.Attempts, &rr.DurationMs, &rr.Solved, &rr.Skipped,
			&rr.Example, &rr.CorrectAnswer, &rr.InputType,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		results = append(results, rr)
	}
	return results, rows.Err()
}
