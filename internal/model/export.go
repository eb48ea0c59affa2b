package model

import "time"

// RecordsExport is the top-level JSON structure for attempt record export.
type RecordsExport struct {
	ExportedAt time.Time      `json:"exported_at"`
	Count      int            `json:"count"`
	Records    []RecordResult `json:"records"`
}

// RecordResult holds one attempt record joined with its example.
type RecordResult struct {
	StudentID     ID        `json:"student_id"`
	ExampleID     ID        `json:"example_id"`
	Date          string    `json:"date"`
	Example       string    `json:"example"`
	CorrectAnswer string    `json:"correct_answer"`
	InputType     InputType `json:"input_type"`
	Attempts      int       `json:"attempts"`
	DurationMs    int64     `json:"duration"`
	Solved        bool      `json:"solved"`
	Skipped       bool      `json:"skipped"`
}
