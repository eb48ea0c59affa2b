package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ID identifies a student or an example. Clients send it either as a JSON
// number or as a numeric string.
type ID int64

// UnmarshalJSON accepts 42 and "42".
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = 0
		return nil
	}
	s := string(data)
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}
	if s == "" {
		*id = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %s: %w", data, err)
	}
	*id = ID(n)
	return nil
}

// InputType is the declared answer notation of an example as used by the
// speech channel.
type InputType string

const (
	InputInline   InputType = "INLINE"
	InputWord     InputType = "WORD"
	InputFraction InputType = "FRAC"
	InputVariable InputType = "VAR"
)

// AnswerType is the answer notation sent by the keyboard channel.
type AnswerType string

const (
	AnswerInline   AnswerType = "inline"
	AnswerWord     AnswerType = "word"
	AnswerFraction AnswerType = "fraction"
	AnswerVariable AnswerType = "variable"
)

// Example is the part of an exercise the evaluation core consumes.
type Example struct {
	ID        ID        `json:"id"`
	Text      string    `json:"example"`
	Answer    string    `json:"answer"`
	InputType InputType `json:"input_type"`
}

// RecordKey is the identity of an attempt record. SessionDate is the
// creation timestamp and never changes.
type RecordKey struct {
	StudentID   ID
	ExampleID   ID
	SessionDate time.Time
}

func (k RecordKey) String() string {
	return fmt.Sprintf("%d/%d/%s", k.StudentID, k.ExampleID, FormatRecordDate(k.SessionDate))
}

// AttemptRecord tracks one student's tries on one example within one
// practice session.
type AttemptRecord struct {
	StudentID   ID        `json:"student"`
	ExampleID   ID        `json:"example"`
	SessionDate time.Time `json:"-"`
	Attempts    int       `json:"attempts"`
	DurationMs  int64     `json:"duration"`
	Solved      bool      `json:"solved"`
	Skipped     bool      `json:"skipped"`
}

// Key returns the record identity.
func (r AttemptRecord) Key() RecordKey {
	return RecordKey{StudentID: r.StudentID, ExampleID: r.ExampleID, SessionDate: r.SessionDate}
}

// MarshalJSON renders the session date in the wire format clients echo back.
func (r AttemptRecord) MarshalJSON() ([]byte, error) {
	type alias AttemptRecord
	return json.Marshal(struct {
		alias
		Date string `json:"date"`
	}{alias: alias(r), Date: FormatRecordDate(r.SessionDate)})
}

// RecordDateLayout matches the ISO strings browsers produce with
// Date.prototype.toISOString.
const RecordDateLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatRecordDate renders t in UTC with millisecond precision.
func FormatRecordDate(t time.Time) string {
	return t.UTC().Truncate(time.Millisecond).Format(RecordDateLayout)
}

// ParseRecordDate parses an RFC 3339 timestamp and normalizes it to the
// stored precision.
func ParseRecordDate(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse record date %q: %w", s, err)
	}
	return t.UTC().Truncate(time.Millisecond), nil
}

// ElapsedMs returns the milliseconds between a record date string and now.
// Unparseable or future dates yield 0.
func ElapsedMs(recordDate string, now time.Time) int64 {
	t, err := ParseRecordDate(recordDate)
	if err != nil {
		return 0
	}
	d := now.Sub(t).Milliseconds()
	if d < 0 {
		return 0
	}
	return d
}

// ServerConfig holds runtime parameters set via CLI flags.
type ServerConfig struct {
	DefaultLanguage string        // language used before a client sends one
	EmitInterim     bool          // forward partial transcripts to clients
	JudgeTimeout    time.Duration // upper bound for one LLM judge call
	AdminToken      string        // empty disables the example import endpoint
}
