package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"google.golang.org/genai"
)

func TestInterpretVerdict(t *testing.T) {
	tests := []struct {
		raw         string
		want        bool
		rateLimited bool
	}{
		{"true", true, false},
		{"  TRUE\n", true, false},
		{"\tfalse ", false, false},
		{"False.", false, true},
		{`"true"`, false, true},
		{"Quota exceeded for this project", false, true},
		{"Rate limit reached", false, true},
		{"I think it is correct", false, true},
		{"", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := interpretVerdict(tt.raw)
			if IsRateLimited(err) != tt.rateLimited {
				t.Fatalf("interpretVerdict(%q) err = %v, rate limited want %v", tt.raw, err, tt.rateLimited)
			}
			if err == nil && got != tt.want {
				t.Errorf("interpretVerdict(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func chatServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func chatReply(content string) string {
	return `{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"` + content + `"},"finish_reason":"stop"}]}`
}

func TestOpenAIJudge(t *testing.T) {
	t.Run("verdict", func(t *testing.T) {
		srv := chatServer(t, http.StatusOK, chatReply("true"))
		got, err := NewOpenAI(srv.URL, "key", "m").Judge(context.Background(), "prompt")
		if err != nil || !got {
			t.Fatalf("Judge() = %v, %v; want true, nil", got, err)
		}
	})

	t.Run("429 is rate limited", func(t *testing.T) {
		srv := chatServer(t, http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"requests","code":"rate_limit_exceeded"}}`)
		_, err := NewOpenAI(srv.URL, "key", "m").Judge(context.Background(), "prompt")
		if !IsRateLimited(err) {
			t.Fatalf("err = %v, want rate limited", err)
		}
	})

	t.Run("quota reply is rate limited", func(t *testing.T) {
		srv := chatServer(t, http.StatusOK, chatReply("You exceeded your quota"))
		_, err := NewOpenAI(srv.URL, "key", "m").Judge(context.Background(), "prompt")
		if !IsRateLimited(err) {
			t.Fatalf("err = %v, want rate limited", err)
		}
	})

	t.Run("server error is a fault", func(t *testing.T) {
		srv := chatServer(t, http.StatusInternalServerError, `{"error":{"message":"boom","type":"server_error"}}`)
		_, err := NewOpenAI(srv.URL, "key", "m").Judge(context.Background(), "prompt")
		var fault *ErrProviderFault
		if !errors.As(err, &fault) {
			t.Fatalf("err = %v, want provider fault", err)
		}
	})

	t.Run("timeout is a fault", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}))
		t.Cleanup(srv.Close)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := NewOpenAI(srv.URL, "key", "m").Judge(ctx, "prompt")
		var fault *ErrProviderFault
		if !errors.As(err, &fault) {
			t.Fatalf("err = %v, want provider fault", err)
		}
		if IsRateLimited(err) {
			t.Error("timeout must not read as rate limited")
		}
	})
}

func TestMapGeminiError(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name        string
		err         error
		rateLimited bool
	}{
		{"429", genai.APIError{Code: 429, Message: "too many"}, true},
		{"resource exhausted", genai.APIError{Code: 400, Status: "RESOURCE_EXHAUSTED"}, true},
		{"wrapped 429", fmt.Errorf("call: %w", genai.APIError{Code: 429}), true},
		{"server error", genai.APIError{Code: 500, Message: "internal"}, false},
		{"quota text", errors.New("Quota exceeded"), true},
		{"network", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapGeminiError(ctx, tt.err)
			if IsRateLimited(err) != tt.rateLimited {
				t.Errorf("mapGeminiError(%v) = %v, rate limited want %v", tt.err, err, tt.rateLimited)
			}
		})
	}
}

func TestMapGeminiErrorCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := mapGeminiError(ctx, errors.New("quota"))
	var fault *ErrProviderFault
	if !errors.As(err, &fault) {
		t.Errorf("err = %v, want provider fault", err)
	}
}

func TestMockJudge(t *testing.T) {
	m := NewMockJudge(
		MockResponse{Raw: "false"},
		MockResponse{Err: &ErrRateLimited{}},
	)
	ctx := context.Background()

	if ok, err := m.Judge(ctx, "a"); err != nil || ok {
		t.Fatalf("first = %v, %v", ok, err)
	}
	if _, err := m.Judge(ctx, "b"); !IsRateLimited(err) {
		t.Fatalf("second err = %v", err)
	}
	if _, err := m.Judge(ctx, "c"); err == nil {
		t.Fatal("empty queue must fail")
	}
	if m.CallCount() != 3 || m.Calls[1] != "b" {
		t.Errorf("calls = %v", m.Calls)
	}
}
