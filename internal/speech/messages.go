package speech

import (
	"errors"

	"github.com/PanHorut/BP/internal/model"
)

// Control is the JSON text frame a client sends to describe what it is
// answering. Absent fields leave the current metadata unchanged.
type Control struct {
	StudentID  *model.ID        `json:"student_id"`
	ExampleID  *model.ID        `json:"example_id"`
	InputType  *model.InputType `json:"input_type"`
	RecordDate *string          `json:"record_date"`
	Language   *string          `json:"language"`
}

// Metadata identifies the exercise a session is currently answering.
type Metadata struct {
	StudentID  model.ID
	ExampleID  model.ID
	InputType  model.InputType
	RecordDate string
	Language   string
}

func (m *Metadata) merge(c Control) {
	if c.StudentID != nil {
		m.StudentID = *c.StudentID
	}
	if c.ExampleID != nil {
		m.ExampleID = *c.ExampleID
	}
	if c.InputType != nil {
		m.InputType = *c.InputType
	}
	if c.RecordDate != nil {
		m.RecordDate = *c.RecordDate
	}
	if c.Language != nil && *c.Language != "" {
		m.Language = *c.Language
	}
}

var errIncompleteMetadata = errors.New("session metadata incomplete")

// RecordKey returns the attempt record the metadata points at.
func (m Metadata) RecordKey() (model.RecordKey, error) {
	if m.StudentID == 0 || m.ExampleID == 0 || m.RecordDate == "" {
		return model.RecordKey{}, errIncompleteMetadata
	}
	date, err := model.ParseRecordDate(m.RecordDate)
	if err != nil {
		return model.RecordKey{}, err
	}
	return model.RecordKey{StudentID: m.StudentID, ExampleID: m.ExampleID, SessionDate: date}, nil
}

// ResultMessage reports the evaluation of one spoken answer.
type ResultMessage struct {
	IsCorrect        bool `json:"isCorrect"`
	ContinueWithNext bool `json:"continue_with_next"`
	StudentAnswer    any  `json:"student_answer"`
}

// SkippedMessage confirms a spoken skip command.
type SkippedMessage struct {
	Skipped bool `json:"skipped"`
}

// FinishedMessage confirms a spoken finish command.
type FinishedMessage struct {
	Finished bool `json:"finished"`
}

// InterimMessage carries a partial transcript.
type InterimMessage struct {
	Interim string `json:"interim"`
}
