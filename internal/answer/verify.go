package answer

import (
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultTolerance is the relative tolerance for numeric equality.
const DefaultTolerance = 1e-9

// Channel is how an answer was entered.
type Channel int

const (
	Keyboard Channel = iota
	Speech
)

func (c Channel) String() string {
	if c == Speech {
		return "speech"
	}
	return "keyboard"
}

// Submission is a student's answer. The concrete type selects the verifier
// together with the expected Kind.
type Submission interface {
	Channel() Channel
}

// Text is a single keyboard-entered value.
type Text string

// FractionInput is a keyboard-entered numerator and denominator.
type FractionInput struct {
	Numerator   string
	Denominator string
}

// ValueList is keyboard-entered variable values, aligned with the
// canonical variable order.
type ValueList []string

// Transcript is the recognized text of a spoken answer. Connectors are the
// words linking a variable name to its value ("equals", "je", ...); when
// empty, DefaultConnectors is used.
type Transcript struct {
	Text       string
	Connectors []string
}

func (Text) Channel() Channel          { return Keyboard }
func (FractionInput) Channel() Channel { return Keyboard }
func (ValueList) Channel() Channel     { return Keyboard }
func (Transcript) Channel() Channel    { return Speech }

// DefaultConnectors covers the English and Czech name/value connectors.
var DefaultConnectors = []string{"equals", "is", "=", "rovná se", "je"}

// Verdict is the outcome of evaluating one submission.
type Verdict struct {
	Correct bool
	// Advance is filled in by the attempt ledger, never by a verifier.
	Advance bool
	// Echo is what was understood from the submission: a float64, a
	// Fraction, or a []float64. Nil when no number was understood; a
	// spoken variable set echoes an empty slice instead.
	Echo any
	// Unparseable marks a spoken fraction with no numerator/denominator
	// candidates. Such a verdict must not consume an attempt.
	Unparseable bool
}

// NumbersEqual reports whether a and b agree within tol relative to the
// larger magnitude, with an absolute floor of tol.
func NumbersEqual(a, b, tol float64) bool {
	scale := math.Max(math.Max(math.Abs(a), math.Abs(b)), 1)
	return math.Abs(a-b) <= tol*scale
}

// Verify evaluates a submission with DefaultTolerance.
func Verify(expected Spec, submitted Submission) Verdict {
	return VerifyTolerance(expected, submitted, DefaultTolerance)
}

// VerifyTolerance evaluates a submission against the expected spec. A
// submission whose shape does not fit the expected kind is incorrect.
func VerifyTolerance(expected Spec, submitted Submission, tol float64) Verdict {
	switch s := submitted.(type) {
	case Text:
		if expected.Kind == KindNumeric {
			return verifyNumberKeyboard(expected.Numeric, string(s), tol)
		}
	case FractionInput:
		if expected.Kind == KindFraction {
			return verifyFractionKeyboard(expected.Fraction, s, tol)
		}
	case ValueList:
		if expected.Kind == KindVariableSet {
			return verifyVariablesKeyboard(expected.Values(), s, tol)
		}
	case Transcript:
		switch expected.Kind {
		case KindNumeric:
			return verifyNumberSpeech(expected.Numeric, s.Text, tol)
		case KindFraction:
			return verifyFractionSpeech(expected.Fraction, s.Text, tol)
		case KindVariableSet:
			return verifyVariablesSpeech(expected.Values(), s, tol)
		}
	}
	return Verdict{}
}

func verifyNumberKeyboard(expected float64, submitted string, tol float64) Verdict {
	n, err := ParseNumber(submitted)
	if err != nil {
		return Verdict{}
	}
	return Verdict{Correct: NumbersEqual(expected, n, tol), Echo: n}
}

// verifyFractionKeyboard compares numerator and denominator independently;
// 6/8 does not match 3/4.
func verifyFractionKeyboard(expected Fraction, submitted FractionInput, tol float64) Verdict {
	num, err := ParseNumber(submitted.Numerator)
	if err != nil {
		return Verdict{}
	}
	den, err := ParseNumber(submitted.Denominator)
	if err != nil {
		return Verdict{}
	}
	got := Fraction{Numerator: num, Denominator: den}
	return Verdict{Correct: fractionsEqual(expected, got, tol), Echo: got}
}

func verifyVariablesKeyboard(expected []float64, submitted ValueList, tol float64) Verdict {
	if len(submitted) != len(expected) {
		return Verdict{}
	}
	values := make([]float64, len(submitted))
	for i, raw := range submitted {
		n, err := ParseNumber(raw)
		if err != nil {
			return Verdict{}
		}
		values[i] = n
	}
	for i := range expected {
		if !NumbersEqual(expected[i], values[i], tol) {
			return Verdict{Echo: values}
		}
	}
	return Verdict{Correct: true, Echo: values}
}

var spokenNumber = regexp.MustCompile(`-?\d+\.\d+|-?\d+`)

// ExtractNumbers returns every number in a transcript, in order. Commas
// are read as decimal points.
func ExtractNumbers(transcript string) []float64 {
	return extractNumbers(strings.ReplaceAll(transcript, ",", "."), spokenNumber)
}

var spokenDigits = regexp.MustCompile(`\d+\.\d+|\d+`)

func extractNumbers(s string, re *regexp.Regexp) []float64 {
	var out []float64
	for _, m := range re.FindAllString(s, -1) {
		n, err := strconv.ParseFloat(m, 64)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

// verifyNumberSpeech accepts the transcript if any number in it matches.
func verifyNumberSpeech(expected float64, transcript string, tol float64) Verdict {
	numbers := ExtractNumbers(transcript)
	for _, n := range numbers {
		if NumbersEqual(expected, n, tol) {
			return Verdict{Correct: true, Echo: n}
		}
	}
	if len(numbers) == 0 {
		return Verdict{}
	}
	return Verdict{Echo: numbers[len(numbers)-1]}
}

// FractionCandidates pairs the numbers of a transcript consecutively as
// numerator/denominator. A trailing unpaired number is dropped.
func FractionCandidates(transcript string) []Fraction {
	numbers := extractNumbers(transcript, spokenDigits)
	var out []Fraction
	for i := 0; i+1 < len(numbers); i += 2 {
		out = append(out, Fraction{Numerator: numbers[i], Denominator: numbers[i+1]})
	}
	return out
}

func verifyFractionSpeech(expected Fraction, transcript string, tol float64) Verdict {
	candidates := FractionCandidates(transcript)
	if len(candidates) == 0 {
		return Verdict{Unparseable: true}
	}
	for _, c := range candidates {
		if fractionsEqual(expected, c, tol) {
			return Verdict{Correct: true, Echo: c}
		}
	}
	return Verdict{Echo: candidates[len(candidates)-1]}
}

func fractionsEqual(a, b Fraction, tol float64) bool {
	return NumbersEqual(a.Numerator, b.Numerator, tol) && NumbersEqual(a.Denominator, b.Denominator, tol)
}

// SpokenValues extracts the values of "name <connector> value" phrases
// from a transcript, in order of appearance.
func SpokenValues(t Transcript) []float64 {
	re := connectorPattern(t.Connectors)
	out := []float64{}
	for _, m := range re.FindAllStringSubmatch(t.Text, -1) {
		n, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", "."), 64)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

func connectorPattern(connectors []string) *regexp.Regexp {
	if len(connectors) == 0 {
		connectors = DefaultConnectors
	}
	words := make([]string, 0, len(connectors))
	for _, c := range connectors {
		if c = strings.TrimSpace(c); c != "" {
			words = append(words, c)
		}
	}
	// Longest first so that multi-word connectors win over their prefixes.
	slices.SortFunc(words, func(a, b string) int { return len(b) - len(a) })

	alts := make([]string, len(words))
	for i, c := range words {
		q := strings.ReplaceAll(regexp.QuoteMeta(c), " ", `\s+`)
		first, _ := utf8.DecodeRuneInString(c)
		last, _ := utf8.DecodeLastRuneInString(c)
		alts[i] = connectorGap(first) + q + connectorGap(last)
	}
	return regexp.MustCompile(`(?i)([\p{L}]+)(?:` + strings.Join(alts, "|") + `)(-?\d+(?:[.,]\d+)?)`)
}

// connectorGap is the whitespace required next to a connector edge. Word
// connectors must stand apart from the name and value; symbols need not.
func connectorGap(r rune) string {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return `\s+`
	}
	return `\s*`
}

// verifyVariablesSpeech compares the spoken values with the expected ones
// as multisets: names and order are ignored.
func verifyVariablesSpeech(expected []float64, t Transcript, tol float64) Verdict {
	spoken := SpokenValues(t)
	if len(spoken) != len(expected) {
		return Verdict{Echo: spoken}
	}
	want := slices.Clone(expected)
	got := slices.Clone(spoken)
	slices.Sort(want)
	slices.Sort(got)
	for i := range want {
		if !NumbersEqual(want[i], got[i], tol) {
			return Verdict{Echo: spoken}
		}
	}
	return Verdict{Correct: true, Echo: spoken}
}
