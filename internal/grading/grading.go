// Package grading evaluates one submitted answer end to end: it resolves
// the example's canonical answer, verifies the submission (asking the LLM
// judge first where that is defined) and records exactly one attempt.
package grading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/PanHorut/BP/internal/answer"
	"github.com/PanHorut/BP/internal/i18n"
	"github.com/PanHorut/BP/internal/llm"
	"github.com/PanHorut/BP/internal/llm/prompts"
	"github.com/PanHorut/BP/internal/metrics"
	"github.com/PanHorut/BP/internal/model"
)

// ErrUnknownInputType is returned for an input type no verifier handles.
var ErrUnknownInputType = errors.New("unknown input type")

// Examples looks up canonical answers.
type Examples interface {
	GetExample(ctx context.Context, id model.ID) (model.Example, error)
}

// Ledger records attempts.
type Ledger interface {
	Update(ctx context.Context, key model.RecordKey, durationMs int64, correct bool) (bool, error)
}

// Source names the evaluator that produced a verdict.
type Source string

const (
	SourceDeterministic Source = "deterministic"
	SourceJudge         Source = "judge"
	SourceFallback      Source = "fallback"
)

// Outcome is a verdict together with the context it was produced in.
type Outcome struct {
	Verdict answer.Verdict
	Example model.Example
	Source  Source
	// Recorded is false when no attempt was consumed.
	Recorded bool
}

type Grader struct {
	examples     Examples
	ledger       Ledger
	judge        llm.Judge
	judgeTimeout time.Duration
}

// New creates a Grader. judge may be nil, in which case every answer is
// verified deterministically.
func New(examples Examples, ledger Ledger, judge llm.Judge, judgeTimeout time.Duration) *Grader {
	return &Grader{examples: examples, ledger: ledger, judge: judge, judgeTimeout: judgeTimeout}
}

// GradeKeyboard verifies a typed submission against the example's answer
// read as kind, and records the attempt.
func (g *Grader) GradeKeyboard(ctx context.Context, key model.RecordKey, durationMs int64, kind answer.Kind, sub answer.Submission) (Outcome, error) {
	ex, err := g.examples.GetExample(ctx, key.ExampleID)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Example: ex, Source: SourceDeterministic}
	out.Verdict = verifyCanonical(ex, kind, sub)

	if err := g.record(ctx, key, durationMs, &out); err != nil {
		return out, err
	}
	metrics.ObserveVerdict(answer.Keyboard.String(), kind.String(), out.Verdict.Correct)
	return out, nil
}

// GradeSpeech verifies a transcript for the declared input type. Fraction
// and variable answers go to the judge first; a rate-limited judge falls
// back to the deterministic verifier. Other judge faults are returned
// without consuming an attempt, and so is a spoken fraction in which no
// numbers were heard.
func (g *Grader) GradeSpeech(ctx context.Context, key model.RecordKey, durationMs int64, inputType model.InputType, tr answer.Transcript, lang string) (Outcome, error) {
	kind, ok := answer.KindForInput(inputType)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownInputType, inputType)
	}
	ex, err := g.examples.GetExample(ctx, key.ExampleID)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Example: ex, Source: SourceDeterministic}

	judged := false
	if g.judge != nil && kind != answer.KindNumeric {
		correct, err := g.askJudge(ctx, kind, ex, tr.Text, lang)
		switch {
		case err == nil:
			// The judge reports no parsed value.
			out.Verdict = answer.Verdict{Correct: correct, Echo: ""}
			out.Source = SourceJudge
			judged = true
		case llm.IsRateLimited(err):
			slog.Info("judge rate limited, using deterministic verifier", "example", ex.ID, "error", err)
			out.Source = SourceFallback
		default:
			return out, fmt.Errorf("judge: %w", err)
		}
	}
	if !judged {
		out.Verdict = verifyCanonical(ex, kind, tr)
		if out.Verdict.Unparseable {
			return out, nil
		}
	}

	if err := g.record(ctx, key, durationMs, &out); err != nil {
		return out, err
	}
	metrics.ObserveVerdict(answer.Speech.String(), kind.String(), out.Verdict.Correct)
	return out, nil
}

func (g *Grader) askJudge(ctx context.Context, kind answer.Kind, ex model.Example, transcript, lang string) (bool, error) {
	prompt, err := prompts.BuildJudgePrompt(kind, prompts.JudgeData{
		CanonicalAnswer: ex.Answer,
		Transcript:      transcript,
		Language:        i18n.LanguageName(lang),
	})
	if err != nil {
		return false, err
	}

	if g.judgeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.judgeTimeout)
		defer cancel()
	}

	start := time.Now()
	correct, err := g.judge.Judge(ctx, prompt)
	metrics.JudgeDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.JudgeCalls.WithLabelValues("verdict").Inc()
	case llm.IsRateLimited(err):
		metrics.JudgeCalls.WithLabelValues("rate_limited").Inc()
	default:
		metrics.JudgeCalls.WithLabelValues("fault").Inc()
	}
	return correct, err
}

// verifyCanonical parses the canonical answer and verifies sub against it.
// A malformed canonical answer yields an incorrect verdict.
func verifyCanonical(ex model.Example, kind answer.Kind, sub answer.Submission) answer.Verdict {
	spec, err := answer.Parse(ex.Answer, kind)
	if err != nil {
		slog.Warn("malformed canonical answer", "example", ex.ID, "error", err)
		return answer.Verdict{}
	}
	return answer.Verify(spec, sub)
}

func (g *Grader) record(ctx context.Context, key model.RecordKey, durationMs int64, out *Outcome) error {
	advance, err := g.ledger.Update(ctx, key, durationMs, out.Verdict.Correct)
	if err != nil {
		return err
	}
	out.Verdict.Advance = advance
	out.Recorded = true
	return nil
}
