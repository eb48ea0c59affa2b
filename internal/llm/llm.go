// Package llm adapts external language models into a yes/no answer judge.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Judge asks an external model whether a transcribed answer is correct.
// Implementations return true or false, or one of ErrRateLimited and
// ErrProviderFault.
type Judge interface {
	Judge(ctx context.Context, prompt string) (bool, error)
}

// ErrRateLimited means the provider refused for quota reasons or replied
// with something that is not a verdict. Callers fall back to deterministic
// verification.
type ErrRateLimited struct {
	Err error
}

func (e *ErrRateLimited) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("judge rate limited: %v", e.Err)
	}
	return "judge rate limited"
}

func (e *ErrRateLimited) Unwrap() error { return e.Err }

// ErrProviderFault covers transport failures, timeouts and provider errors
// other than quota. It surfaces to the caller.
type ErrProviderFault struct {
	Err error
}

func (e *ErrProviderFault) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("judge provider fault: %v", e.Err)
	}
	return "judge provider fault"
}

func (e *ErrProviderFault) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is, or wraps, an ErrRateLimited.
func IsRateLimited(err error) bool {
	var rl *ErrRateLimited
	return errors.As(err, &rl)
}

var quotaMarkers = []string{"quota", "limit"}

// interpretVerdict turns raw model text into a verdict. Anything that is
// not exactly "true" or "false", once trimmed and lowercased, counts as a
// rate-limit signal.
func interpretVerdict(raw string) (bool, error) {
	text := strings.ToLower(strings.TrimSpace(raw))
	switch text {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	for _, m := range quotaMarkers {
		if strings.Contains(text, m) {
			return false, &ErrRateLimited{Err: fmt.Errorf("quota notice in reply: %q", raw)}
		}
	}
	return false, &ErrRateLimited{Err: fmt.Errorf("unrecognized reply: %q", raw)}
}

// classifyContextErr maps an expired or canceled context to a provider
// fault so it is never mistaken for a quota problem.
func classifyContextErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return &ErrProviderFault{Err: err}
	}
	return nil
}

// containsQuotaText catches providers that only signal quota problems in
// free-form error text.
func containsQuotaText(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "quota")
}
