package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PanHorut/BP/internal/answer"
	"github.com/PanHorut/BP/internal/grading"
	"github.com/PanHorut/BP/internal/i18n"
	"github.com/PanHorut/BP/internal/ledger"
	"github.com/PanHorut/BP/internal/model"
	"github.com/PanHorut/BP/internal/speech"
	"github.com/PanHorut/BP/internal/store"
)

func TestMain(m *testing.M) {
	if err := i18n.Init("cs"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// echoProvider turns every audio frame into a final transcript.
type echoProvider struct{ transcript string }

type echoStream struct {
	text    string
	onEvent func(speech.Event)
}

func (p echoProvider) Open(_ context.Context, _ string, onEvent func(speech.Event)) (speech.Stream, error) {
	return &echoStream{text: p.transcript, onEvent: onEvent}, nil
}

func (s *echoStream) Write([]byte) error {
	go s.onEvent(speech.Event{Kind: speech.EventFinal, Text: s.text})
	return nil
}

func (s *echoStream) Close() error { return nil }

type testServer struct {
	*httptest.Server
	store *store.Store
}

func newTestServer(t *testing.T, transcript string) *testServer {
	t.Helper()
	s, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	for _, ex := range []model.Example{
		{ID: 1, Text: "7/2", Answer: "3,5", InputType: model.InputInline},
		{ID: 2, Text: "6/8", Answer: `\frac{3}{4}`, InputType: model.InputFraction},
		{ID: 3, Text: "x+y=3, x-y=1", Answer: "x=2; y=1", InputType: model.InputVariable},
	} {
		require.NoError(t, s.InsertExample(ctx, ex))
	}

	l := ledger.New(s)
	h := New(s, l, grading.New(s, l, nil, 0), echoProvider{transcript: transcript}, nil, model.ServerConfig{
		DefaultLanguage: "cs-CZ",
		AdminToken:      "secret",
	})
	r := chi.NewRouter()
	h.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: s}
}

func (ts *testServer) post(t *testing.T, path, body string, header ...string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func (ts *testServer) createRecord(t *testing.T, student, example int) string {
	t.Helper()
	resp, out := ts.post(t, "/api/create-record/", `{"student_id": ` + jsonInt(student) + `, "example_id": ` + jsonInt(example) + `}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, float64(student), out["student"])
	assert.Equal(t, float64(example), out["example"])
	date, _ := out["date"].(string)
	require.NotEmpty(t, date)
	return date
}

func jsonInt(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func checkBody(student, example int, date, answerType, studentAnswer string) string {
	return `{"student_id": "` + jsonInt(student) + `", "example_id": ` + jsonInt(example) + `, "date": "` + date +
		`", "duration": 1500, "answer_type": "` + answerType + `", "student_answer": ` + studentAnswer + `}`
}

func TestCheckAnswer(t *testing.T) {
	ts := newTestServer(t, "")

	tests := []struct {
		name       string
		example    int
		answerType string
		answer     string
		want       bool
	}{
		{"inline comma", 1, "inline", `"3,5"`, true},
		{"inline number", 1, "word", `3.5`, true},
		{"inline wrong", 1, "inline", `"4"`, false},
		{"inline empty", 1, "inline", `""`, false},
		{"fraction pair", 2, "fraction", `["3", "4"]`, true},
		{"fraction object", 2, "fraction", `{"numerator": 3, "denominator": 4}`, true},
		{"fraction not reduced", 2, "fraction", `["6", "8"]`, false},
		{"variables", 3, "variable", `["2", "1"]`, true},
		{"variables swapped", 3, "variable", `["1", "2"]`, false},
		{"variables blank", 3, "variable", `["2", ""]`, false},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			student := 100 + i
			date := ts.createRecord(t, student, tt.example)
			resp, out := ts.post(t, "/api/check-answer/", checkBody(student, tt.example, date, tt.answerType, tt.answer))
			require.Equal(t, http.StatusOK, resp.StatusCode, out)
			assert.Equal(t, tt.want, out["isCorrect"])
			assert.Equal(t, tt.want, out["continue_with_next"])

			key := model.RecordKey{StudentID: model.ID(student), ExampleID: model.ID(tt.example)}
			key.SessionDate, _ = model.ParseRecordDate(date)
			rec, err := ts.store.GetRecord(context.Background(), key)
			require.NoError(t, err)
			assert.Equal(t, 1, rec.Attempts)
			assert.Equal(t, int64(1500), rec.DurationMs)
		})
	}
}

func TestCheckAnswerAdvancesAfterThreeAttempts(t *testing.T) {
	ts := newTestServer(t, "")
	date := ts.createRecord(t, 7, 1)

	for i, want := range []bool{false, false, true} {
		_, out := ts.post(t, "/api/check-answer/", checkBody(7, 1, date, "inline", `"9"`))
		assert.Equal(t, false, out["isCorrect"], "attempt %d", i+1)
		assert.Equal(t, want, out["continue_with_next"], "attempt %d", i+1)
	}
}

func TestCheckAnswerErrors(t *testing.T) {
	ts := newTestServer(t, "")
	date := ts.createRecord(t, 7, 1)

	tests := []struct {
		name   string
		body   string
		lang   string
		status int
		want   string
	}{
		{"missing duration", `{"student_id": 7, "example_id": 1, "date": "` + date + `", "answer_type": "inline"}`,
			"en", http.StatusBadRequest, "Missing required fields"},
		{"missing fields czech", `{"student_id": 7}`, "cs", http.StatusBadRequest, "Chybí povinná pole"},
		{"invalid type", checkBody(7, 1, date, "latex", `"1"`), "en", http.StatusBadRequest, "Invalid answer type"},
		{"bad date", checkBody(7, 1, "yesterday", "inline", `"1"`), "en", http.StatusBadRequest, "Invalid date"},
		{"wrong shape", checkBody(7, 2, date, "fraction", `["1"]`), "en", http.StatusBadRequest, "Invalid student answer"},
		{"unknown record", checkBody(7, 1, "2020-01-01T00:00:00.000Z", "inline", `"1"`), "en", http.StatusNotFound, "Record not found"},
		{"not json", `{`, "en", http.StatusBadRequest, "Invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := ts.post(t, "/api/check-answer/", tt.body, "Accept-Language", tt.lang)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.want, out["error"])
		})
	}
}

func TestRecordEndpoints(t *testing.T) {
	ts := newTestServer(t, "")
	date := ts.createRecord(t, 7, 1)
	ident := `"student_id": 7, "example_id": 1, "date": "` + date + `"`

	for i, want := range []bool{false, false, true} {
		resp, out := ts.post(t, "/api/update-record/", `{`+ident+`, "time": "2500"}`, "Accept-Language", "en")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "Record updated successfully", out["message"])
		assert.Equal(t, want, out["next_example"], "update %d", i+1)
	}

	resp, out := ts.post(t, "/api/update-record/", `{`+ident+`}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, out)

	resp, out = ts.post(t, "/api/skip-example/", `{`+ident+`}`, "Accept-Language", "en")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Example skipped", out["message"])

	key := model.RecordKey{StudentID: 7, ExampleID: 1}
	key.SessionDate, _ = model.ParseRecordDate(date)
	rec, err := ts.store.GetRecord(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, rec.Skipped)
	assert.Zero(t, rec.Attempts)
	assert.Zero(t, rec.DurationMs)

	resp, _ = ts.post(t, "/api/delete-record/", `{`+ident+`}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, out = ts.post(t, "/api/delete-record/", `{`+ident+`}`, "Accept-Language", "en")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Record not found", out["error"])

	resp, _ = ts.post(t, "/api/skip-example/", `{"student_id": 7}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListRecords(t *testing.T) {
	ts := newTestServer(t, "")
	date := ts.createRecord(t, 9, 2)
	ts.post(t, "/api/check-answer/", checkBody(9, 2, date, "fraction", `["3", "4"]`))

	resp, err := http.Get(ts.URL + "/api/records/9")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var records []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&records))
	require.Len(t, records, 1)
	assert.Equal(t, date, records[0]["date"])
	assert.Equal(t, float64(1), records[0]["attempts"])
	assert.Equal(t, true, records[0]["solved"])
}

func TestCreateRecordUnknownExample(t *testing.T) {
	ts := newTestServer(t, "")
	resp, out := ts.post(t, "/api/create-record/", `{"student_id": 7, "example_id": 99}`, "Accept-Language", "en")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Example not found", out["error"])
}

func TestImportExamples(t *testing.T) {
	ts := newTestServer(t, "")
	catalogue := `[{"id": 10, "example": "1+1", "answer": "2", "input_type": "INLINE"},
		{"id": 11, "example": "1/2+1/4", "answer": "\\frac{3}{4}", "input_type": "FRAC"}]`

	resp, _ := ts.post(t, "/admin/examples", catalogue)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = ts.post(t, "/admin/examples", catalogue, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, out := ts.post(t, "/admin/examples", catalogue, "Authorization", "Bearer secret", "Accept-Language", "en")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), out["imported"])
	assert.Equal(t, "2 examples imported", out["message"])

	resp, out = ts.post(t, "/admin/examples", catalogue, "Authorization", "Bearer secret")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), out["imported"])

	ex, err := ts.store.GetExample(context.Background(), 11)
	require.NoError(t, err)
	assert.Equal(t, model.InputFraction, ex.InputType)

	resp, _ = ts.post(t, "/admin/examples", `[{"id": 12, "answer": "3/4", "input_type": "FRAC"}]`, "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, "")
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSpeechWebSocket(t *testing.T) {
	ts := newTestServer(t, "je to tři celé pět, tedy 3,5")
	date := ts.createRecord(t, 7, 1)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/speech/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	control := `{"student_id": 7, "example_id": 1, "input_type": "INLINE", "record_date": "` + date + `"}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(control)))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, make([]byte, 320)))

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, true, msg["isCorrect"])
	assert.Equal(t, true, msg["continue_with_next"])
	assert.Equal(t, 3.5, msg["student_answer"])
}

func TestDecodeSubmission(t *testing.T) {
	tests := []struct {
		name    string
		kind    answer.Kind
		raw     string
		want    answer.Submission
		wantErr bool
	}{
		{"missing numeric", answer.KindNumeric, ``, answer.Text(""), false},
		{"null fraction", answer.KindFraction, `null`, answer.FractionInput{}, false},
		{"numeric string", answer.KindNumeric, `"-1,5"`, answer.Text("-1,5"), false},
		{"numeric number", answer.KindNumeric, `12`, answer.Text("12"), false},
		{"numeric object", answer.KindNumeric, `{"a": 1}`, nil, true},
		{"fraction mixed", answer.KindFraction, `[3, "4"]`, answer.FractionInput{Numerator: "3", Denominator: "4"}, false},
		{"fraction triple", answer.KindFraction, `[1, 2, 3]`, nil, true},
		{"variables", answer.KindVariableSet, `["2", 1.5, null]`, answer.ValueList{"2", "1.5", ""}, false},
		{"variables scalar", answer.KindVariableSet, `"2"`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeSubmission(tt.kind, json.RawMessage(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
