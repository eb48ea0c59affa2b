// Package answer resolves canonical answer text into typed specs and
// verifies student submissions against them.
//
// Verification is a tagged dispatch over (answer shape × input channel):
// keyboard submissions are compared strictly and positionally, spoken
// transcripts are mined for numbers and compared more leniently. Every
// verifier is a pure function; persistence and external judges live in
// the grading package.
package answer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PanHorut/BP/internal/model"
)

// Kind is the shape of an answer.
type Kind int

const (
	KindNumeric Kind = iota
	KindFraction
	KindVariableSet
)

func (k Kind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindFraction:
		return "fraction"
	case KindVariableSet:
		return "variable"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// KindForInput maps a speech input type to an answer kind.
func KindForInput(t model.InputType) (Kind, bool) {
	switch t {
	case model.InputInline, model.InputWord:
		return KindNumeric, true
	case model.InputFraction:
		return KindFraction, true
	case model.InputVariable:
		return KindVariableSet, true
	}
	return 0, false
}

// KindForAnswerType maps a keyboard answer type to an answer kind.
func KindForAnswerType(t model.AnswerType) (Kind, bool) {
	switch t {
	case model.AnswerInline, model.AnswerWord:
		return KindNumeric, true
	case model.AnswerFraction:
		return KindFraction, true
	case model.AnswerVariable:
		return KindVariableSet, true
	}
	return 0, false
}

// Fraction is a numerator/denominator pair. It is never reduced.
type Fraction struct {
	Numerator   float64 `json:"numerator"`
	Denominator float64 `json:"denominator"`
}

// Variable is one name=value entry of a variable-set answer.
type Variable struct {
	Name  string
	Value float64
}

// Spec is a parsed canonical answer. Only the field matching Kind is set.
type Spec struct {
	Kind      Kind
	Numeric   float64
	Fraction  Fraction
	Variables []Variable
}

// Values returns the variable values in canonical order.
func (s Spec) Values() []float64 {
	out := make([]float64, len(s.Variables))
	for i, v := range s.Variables {
		out[i] = v.Value
	}
	return out
}

// ParseError reports malformed answer text. It always turns into an
// incorrect verdict, never into a system fault.
type ParseError struct {
	Kind   Kind
	Text   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed %s answer %q: %s", e.Kind, e.Text, e.Reason)
}

var (
	numericPattern  = regexp.MustCompile(`^[0-9,.-]+$`)
	fractionPattern = regexp.MustCompile(`^\\frac\{(\d+)\}\{(\d+)\}$`)
)

// Parse converts canonical answer text into a Spec of the given kind.
func Parse(text string, kind Kind) (Spec, error) {
	switch kind {
	case KindNumeric:
		n, err := ParseNumber(text)
		if err != nil {
			return Spec{}, err
		}
		return Spec{Kind: KindNumeric, Numeric: n}, nil

	case KindFraction:
		f, err := parseFraction(text)
		if err != nil {
			return Spec{}, err
		}
		return Spec{Kind: KindFraction, Fraction: f}, nil

	case KindVariableSet:
		vars, err := parseVariables(text)
		if err != nil {
			return Spec{}, err
		}
		return Spec{Kind: KindVariableSet, Variables: vars}, nil
	}
	return Spec{}, &ParseError{Kind: kind, Text: text, Reason: "unknown answer kind"}
}

// ParseExample resolves the canonical answer of ex using its declared
// input type.
func ParseExample(ex model.Example) (Spec, error) {
	kind, ok := KindForInput(ex.InputType)
	if !ok {
		return Spec{}, fmt.Errorf("example %d: unknown input type %q", ex.ID, ex.InputType)
	}
	spec, err := Parse(ex.Answer, kind)
	if err != nil {
		return Spec{}, fmt.Errorf("example %d: %w", ex.ID, err)
	}
	return spec, nil
}

// ParseNumber validates s against the digit/comma/dot/minus pattern and
// parses it with the comma read as a decimal point.
func ParseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, &ParseError{Kind: KindNumeric, Text: s, Reason: "empty"}
	}
	if !numericPattern.MatchString(s) {
		return 0, &ParseError{Kind: KindNumeric, Text: s, Reason: "unexpected characters"}
	}
	n, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil {
		return 0, &ParseError{Kind: KindNumeric, Text: s, Reason: "not a number"}
	}
	return n, nil
}

func parseFraction(text string) (Fraction, error) {
	m := fractionPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return Fraction{}, &ParseError{Kind: KindFraction, Text: text, Reason: `expected \frac{a}{b}`}
	}
	num, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Fraction{}, &ParseError{Kind: KindFraction, Text: text, Reason: "bad numerator"}
	}
	den, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return Fraction{}, &ParseError{Kind: KindFraction, Text: text, Reason: "bad denominator"}
	}
	return Fraction{Numerator: num, Denominator: den}, nil
}

func parseVariables(text string) ([]Variable, error) {
	var vars []Variable
	for _, part := range strings.Split(text, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, &ParseError{Kind: KindVariableSet, Text: text, Reason: fmt.Sprintf("entry %q has no '='", part)}
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, &ParseError{Kind: KindVariableSet, Text: text, Reason: fmt.Sprintf("entry %q has no name", part)}
		}
		n, err := ParseNumber(value)
		if err != nil {
			return nil, &ParseError{Kind: KindVariableSet, Text: text, Reason: fmt.Sprintf("value of %s: %v", name, err)}
		}
		vars = append(vars, Variable{Name: name, Value: n})
	}
	if len(vars) == 0 {
		return nil, &ParseError{Kind: KindVariableSet, Text: text, Reason: "no variables"}
	}
	return vars, nil
}
