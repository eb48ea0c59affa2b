package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/PanHorut/BP/internal/answer"
	"github.com/PanHorut/BP/internal/i18n"
	"github.com/PanHorut/BP/internal/model"
)

// recordRequest identifies an attempt record.
type recordRequest struct {
	StudentID model.ID `json:"student_id"`
	ExampleID model.ID `json:"example_id"`
	Date      string   `json:"date"`
}

func (req recordRequest) complete() bool {
	return req.StudentID != 0 && req.ExampleID != 0 && req.Date != ""
}

func (req recordRequest) key() (model.RecordKey, error) {
	date, err := model.ParseRecordDate(req.Date)
	if err != nil {
		return model.RecordKey{}, err
	}
	return model.RecordKey{StudentID: req.StudentID, ExampleID: req.ExampleID, SessionDate: date}, nil
}

// millis is a duration in milliseconds sent as a number or a numeric
// string. Fractions are rounded.
type millis struct {
	set bool
	ms  int64
}

func (m *millis) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	s := string(data)
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	m.set = true
	m.ms = int64(math.Round(f))
	return nil
}

type checkAnswerRequest struct {
	recordRequest
	Duration      millis           `json:"duration"`
	StudentAnswer json.RawMessage  `json:"student_answer"`
	AnswerType    model.AnswerType `json:"answer_type"`
}

type checkAnswerResponse struct {
	IsCorrect        bool `json:"isCorrect"`
	ContinueWithNext bool `json:"continue_with_next"`
}

func (h *Handler) handleCheckAnswer(w http.ResponseWriter, r *http.Request) {
	var req checkAnswerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidRequestBody")
		return
	}
	if !req.complete() || !req.Duration.set || req.AnswerType == "" {
		writeError(w, r, http.StatusBadRequest, "MissingFields")
		return
	}
	kind, ok := answer.KindForAnswerType(req.AnswerType)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "InvalidAnswerType")
		return
	}
	key, err := req.key()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidDate")
		return
	}
	sub, err := decodeSubmission(kind, req.StudentAnswer)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidStudentAnswer")
		return
	}

	out, err := h.grader.GradeKeyboard(r.Context(), key, req.Duration.ms, kind, sub)
	if err != nil {
		writeStoreError(w, r, err, "RecordNotFound")
		return
	}
	slog.Debug("keyboard answer graded", "record", key, "correct", out.Verdict.Correct, "advance", out.Verdict.Advance)
	writeJSON(w, http.StatusOK, checkAnswerResponse{
		IsCorrect:        out.Verdict.Correct,
		ContinueWithNext: out.Verdict.Advance,
	})
}

var errSubmissionShape = errors.New("student answer has the wrong shape")

// decodeSubmission reads student_answer for kind. A missing answer is an
// empty submission, which verifies as incorrect. Values may be strings or
// numbers; fractions are [numerator, denominator] or an object.
func decodeSubmission(kind answer.Kind, raw json.RawMessage) (answer.Submission, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		switch kind {
		case answer.KindFraction:
			return answer.FractionInput{}, nil
		case answer.KindVariableSet:
			return answer.ValueList{}, nil
		}
		return answer.Text(""), nil
	}

	switch kind {
	case answer.KindFraction:
		var pair []json.RawMessage
		if err := json.Unmarshal(raw, &pair); err == nil {
			if len(pair) != 2 {
				return nil, errSubmissionShape
			}
			num, err1 := scalar(pair[0])
			den, err2 := scalar(pair[1])
			if err := errors.Join(err1, err2); err != nil {
				return nil, err
			}
			return answer.FractionInput{Numerator: num, Denominator: den}, nil
		}
		var obj struct {
			Numerator   json.RawMessage `json:"numerator"`
			Denominator json.RawMessage `json:"denominator"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, errSubmissionShape
		}
		num, err1 := scalar(obj.Numerator)
		den, err2 := scalar(obj.Denominator)
		if err := errors.Join(err1, err2); err != nil {
			return nil, err
		}
		return answer.FractionInput{Numerator: num, Denominator: den}, nil

	case answer.KindVariableSet:
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, errSubmissionShape
		}
		values := make(answer.ValueList, 0, len(items))
		for _, item := range items {
			v, err := scalar(item)
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		}
		return values, nil
	}

	v, err := scalar(raw)
	if err != nil {
		return nil, err
	}
	return answer.Text(v), nil
}

// scalar returns a JSON string, number or null as text.
func scalar(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", errSubmissionShape
}

type createRecordRequest struct {
	StudentID model.ID `json:"student_id"`
	ExampleID model.ID `json:"example_id"`
}

func (h *Handler) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	var req createRecordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidRequestBody")
		return
	}
	if req.StudentID == 0 || req.ExampleID == 0 {
		writeError(w, r, http.StatusBadRequest, "MissingFields")
		return
	}
	if _, err := h.store.GetExample(r.Context(), req.ExampleID); err != nil {
		writeStoreError(w, r, err, "ExampleNotFound")
		return
	}
	rec, err := h.ledger.Init(r.Context(), req.StudentID, req.ExampleID)
	if err != nil {
		writeStoreError(w, r, err, "RecordNotFound")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"student": rec.StudentID,
		"example": rec.ExampleID,
		"date":    model.FormatRecordDate(rec.SessionDate),
	})
}

type updateRecordRequest struct {
	recordRequest
	Time    millis `json:"time"`
	Correct bool   `json:"correct"`
}

func (h *Handler) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	var req updateRecordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidRequestBody")
		return
	}
	if !req.complete() || !req.Time.set {
		writeError(w, r, http.StatusBadRequest, "MissingFields")
		return
	}
	key, err := req.key()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidDate")
		return
	}
	next, err := h.ledger.Update(r.Context(), key, req.Time.ms, req.Correct)
	if err != nil {
		writeStoreError(w, r, err, "RecordNotFound")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":      i18n.T(r.Context(), "RecordUpdated"),
		"next_example": next,
	})
}

// decodeRecordKey reads a complete record identity or writes a 400.
func decodeRecordKey(w http.ResponseWriter, r *http.Request) (model.RecordKey, bool) {
	var req recordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidRequestBody")
		return model.RecordKey{}, false
	}
	if !req.complete() {
		writeError(w, r, http.StatusBadRequest, "MissingFields")
		return model.RecordKey{}, false
	}
	key, err := req.key()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidDate")
		return model.RecordKey{}, false
	}
	return key, true
}

func (h *Handler) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	key, ok := decodeRecordKey(w, r)
	if !ok {
		return
	}
	if err := h.ledger.Delete(r.Context(), key); err != nil {
		writeStoreError(w, r, err, "RecordNotFound")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSkipExample(w http.ResponseWriter, r *http.Request) {
	key, ok := decodeRecordKey(w, r)
	if !ok {
		return
	}
	if err := h.ledger.Skip(r.Context(), key); err != nil {
		writeStoreError(w, r, err, "RecordNotFound")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": i18n.T(r.Context(), "ExampleSkipped")})
}

func (h *Handler) handleListRecords(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "studentID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "MissingFields")
		return
	}
	records, err := h.store.ListRecords(r.Context(), model.ID(id))
	if err != nil {
		writeStoreError(w, r, err, "RecordNotFound")
		return
	}
	if records == nil {
		records = []model.AttemptRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}
