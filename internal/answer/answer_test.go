package answer

import (
	"errors"
	"math"
	"reflect"
	"strconv"
	"testing"

	"github.com/PanHorut/BP/internal/model"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		kind    Kind
		want    Spec
		wantErr bool
	}{
		{"decimal comma", "3,5", KindNumeric, Spec{Kind: KindNumeric, Numeric: 3.5}, false},
		{"decimal dot", "3.5", KindNumeric, Spec{Kind: KindNumeric, Numeric: 3.5}, false},
		{"negative", "-12", KindNumeric, Spec{Kind: KindNumeric, Numeric: -12}, false},
		{"empty numeric", "", KindNumeric, Spec{}, true},
		{"letters", "3a", KindNumeric, Spec{}, true},
		{"two dots", "1.2.3", KindNumeric, Spec{}, true},
		{"lone minus", "-", KindNumeric, Spec{}, true},
		{"fraction", `\frac{3}{4}`, KindFraction, Spec{Kind: KindFraction, Fraction: Fraction{3, 4}}, false},
		{"fraction not latex", "3/4", KindFraction, Spec{}, true},
		{"fraction decimal", `\frac{3.5}{4}`, KindFraction, Spec{}, true},
		{"variables", "x=1; y = 2,5", KindVariableSet, Spec{Kind: KindVariableSet, Variables: []Variable{{"x", 1}, {"y", 2.5}}}, false},
		{"variables trailing separator", "x=1;", KindVariableSet, Spec{Kind: KindVariableSet, Variables: []Variable{{"x", 1}}}, false},
		{"variable without equals", "x=1;y", KindVariableSet, Spec{}, true},
		{"variable bad value", "x=one", KindVariableSet, Spec{}, true},
		{"no variables", " ; ", KindVariableSet, Spec{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.text, tt.kind)
			if tt.wantErr {
				var pe *ParseError
				if !errors.As(err, &pe) {
					t.Fatalf("Parse(%q) error = %v, want *ParseError", tt.text, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.text, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.text, got, tt.want)
			}
		})
	}
}

func TestNumbersEqual(t *testing.T) {
	tests := []struct {
		a, b float64
		want bool
	}{
		{1, 1, true},
		{1e6, 1e6 + 1e-4, true},
		{1e6, 1e6 + 1e-2, false},
		{0, 1e-10, true},
		{0, 1e-8, false},
		{0.1 + 0.2, 0.3, true},
		{-5, 5, false},
	}
	for _, tt := range tests {
		if got := NumbersEqual(tt.a, tt.b, DefaultTolerance); got != tt.want {
			t.Errorf("NumbersEqual(%g, %g) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestNumericToleranceProperty(t *testing.T) {
	for _, a := range []float64{0, 1, -3.25, 1234.5, 1e12, -7e-4} {
		scale := math.Max(math.Abs(a), 1)
		inside := a + 0.5e-9*scale
		outside := a + 3e-9*scale

		if !Verify(Spec{Kind: KindNumeric, Numeric: a}, Text(formatFloat(inside))).Correct {
			t.Errorf("value within tolerance of %g rejected", a)
		}
		if Verify(Spec{Kind: KindNumeric, Numeric: a}, Text(formatFloat(outside))).Correct {
			t.Errorf("value outside tolerance of %g accepted", a)
		}
	}
}

func TestVerifyKeyboard(t *testing.T) {
	numeric := Spec{Kind: KindNumeric, Numeric: 3.5}
	fraction := Spec{Kind: KindFraction, Fraction: Fraction{3, 4}}
	vars := Spec{Kind: KindVariableSet, Variables: []Variable{{"x", 1}, {"y", 2}}}

	tests := []struct {
		name      string
		expected  Spec
		submitted Submission
		want      bool
	}{
		{"dot vs comma canonical", numeric, Text("3.5"), true},
		{"comma submission", numeric, Text("3,5"), true},
		{"wrong number", numeric, Text("3.6"), false},
		{"empty", numeric, Text(""), false},
		{"garbage", numeric, Text("three"), false},
		{"fraction exact", fraction, FractionInput{"3", "4"}, true},
		{"fraction unreduced", fraction, FractionInput{"6", "8"}, false},
		{"fraction blank denominator", fraction, FractionInput{"3", ""}, false},
		{"variables positional", vars, ValueList{"1", "2"}, true},
		{"variables swapped", vars, ValueList{"2", "1"}, false},
		{"variables blank", vars, ValueList{"1", ""}, false},
		{"variables short", vars, ValueList{"1"}, false},
		{"shape mismatch", numeric, FractionInput{"3", "4"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Verify(tt.expected, tt.submitted)
			if v.Correct != tt.want {
				t.Errorf("Verify() correct = %v, want %v", v.Correct, tt.want)
			}
			if v.Advance {
				t.Error("verifier must not decide advance")
			}
		})
	}
}

func TestVerifyInlineSpeech(t *testing.T) {
	expected := Spec{Kind: KindNumeric, Numeric: 12.5}

	tests := []struct {
		name       string
		transcript string
		want       bool
		echo       any
	}{
		{"exact", "the answer is 12.5", true, 12.5},
		{"decimal comma", "výsledek je 12,5", true, 12.5},
		{"first match wins", "maybe 12,5 or 13", true, 12.5},
		{"echo last", "I think 11 or 14", false, 14.0},
		{"no numbers", "I don't know", false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Verify(expected, Transcript{Text: tt.transcript})
			if v.Correct != tt.want {
				t.Errorf("correct = %v, want %v", v.Correct, tt.want)
			}
			if !reflect.DeepEqual(v.Echo, tt.echo) {
				t.Errorf("echo = %v, want %v", v.Echo, tt.echo)
			}
			if v.Unparseable {
				t.Error("inline speech never short-circuits")
			}
		})
	}
}

func TestVerifyFractionSpeech(t *testing.T) {
	expected := Spec{Kind: KindFraction, Fraction: Fraction{3, 4}}

	tests := []struct {
		name        string
		transcript  string
		want        bool
		unparseable bool
		echo        any
	}{
		{"pair", "3/4", true, false, Fraction{3, 4}},
		{"second pair", "1 2 3 4", true, false, Fraction{3, 4}},
		{"unreduced", "6 over 8", false, false, Fraction{6, 8}},
		{"echo last candidate", "1 2 5 6", false, false, Fraction{5, 6}},
		{"single number", "3", false, true, nil},
		{"no numbers", "three quarters", false, true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Verify(expected, Transcript{Text: tt.transcript})
			if v.Correct != tt.want {
				t.Errorf("correct = %v, want %v", v.Correct, tt.want)
			}
			if v.Unparseable != tt.unparseable {
				t.Errorf("unparseable = %v, want %v", v.Unparseable, tt.unparseable)
			}
			if !reflect.DeepEqual(v.Echo, tt.echo) {
				t.Errorf("echo = %v, want %v", v.Echo, tt.echo)
			}
		})
	}
}

// The keyboard variant is positional while the spoken one compares
// multisets; both behaviors are asserted side by side.
func TestVariableSetChannelsDiverge(t *testing.T) {
	expected, err := Parse("x=1;y=2", KindVariableSet)
	if err != nil {
		t.Fatal(err)
	}

	if Verify(expected, ValueList{"2", "1"}).Correct {
		t.Error("keyboard submission in swapped order must be incorrect")
	}

	spoken := Transcript{Text: "x equals 2 and y equals 1"}
	v := Verify(expected, spoken)
	if !v.Correct {
		t.Error("spoken values in any order must be correct")
	}
	if !reflect.DeepEqual(v.Echo, []float64{2, 1}) {
		t.Errorf("echo = %v, want [2 1]", v.Echo)
	}
}

func TestSpokenValues(t *testing.T) {
	tests := []struct {
		name string
		tr   Transcript
		want []float64
	}{
		{"english", Transcript{Text: "X is 3 and y equals 4,5"}, []float64{3, 4.5}},
		{"czech", Transcript{Text: "x rovná se 1, y je 2"}, []float64{1, 2}},
		{"symbol", Transcript{Text: "a = -2"}, []float64{-2}},
		{"custom connectors", Transcript{Text: "x is 3 y makes 4", Connectors: []string{"makes"}}, []float64{4}},
		{"none", Transcript{Text: "no idea"}, []float64{}},
		{"connector inside a word", Transcript{Text: "this 5"}, []float64{}},
		{"czech connector inside a word", Transcript{Text: "moje 4"}, []float64{}},
		{"multi-word connector", Transcript{Text: "x is equal to 7", Connectors: []string{"is", "is equal to"}}, []float64{7}},
		{"symbol without spaces", Transcript{Text: "b=3,5"}, []float64{3.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SpokenValues(tt.tr)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SpokenValues() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVariableSpeechEchoIsNeverNil(t *testing.T) {
	expected := Spec{Kind: KindVariableSet, Variables: []Variable{{"x", 1}}}
	v := Verify(expected, Transcript{Text: "this 1"})
	if v.Correct {
		t.Error("value without a variable phrase must be incorrect")
	}
	echo, ok := v.Echo.([]float64)
	if !ok || echo == nil || len(echo) != 0 {
		t.Errorf("echo = %#v, want empty []float64", v.Echo)
	}
}

func TestVariableSpeechCountMismatch(t *testing.T) {
	expected := Spec{Kind: KindVariableSet, Variables: []Variable{{"x", 1}, {"y", 2}}}
	if Verify(expected, Transcript{Text: "x is 1"}).Correct {
		t.Error("missing value must be incorrect")
	}
	if Verify(expected, Transcript{Text: "x is 1, y is 2, z is 3"}).Correct {
		t.Error("extra value must be incorrect")
	}
}

func TestKindMappings(t *testing.T) {
	if k, ok := KindForInput("FRAC"); !ok || k != KindFraction {
		t.Errorf("KindForInput(FRAC) = %v, %v", k, ok)
	}
	if _, ok := KindForInput("LATEX"); ok {
		t.Error("unknown input type must not map")
	}
	if k, ok := KindForAnswerType("word"); !ok || k != KindNumeric {
		t.Errorf("KindForAnswerType(word) = %v, %v", k, ok)
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func TestParseExample(t *testing.T) {
	tests := []struct {
		name    string
		ex      model.Example
		wantErr bool
	}{
		{"inline", model.Example{ID: 1, Answer: "3,5", InputType: model.InputInline}, false},
		{"fraction", model.Example{ID: 2, Answer: `\frac{3}{4}`, InputType: model.InputFraction}, false},
		{"variables", model.Example{ID: 3, Answer: "x = 2; y = 1", InputType: model.InputVariable}, false},
		{"unknown type", model.Example{ID: 4, Answer: "1", InputType: "LATEX"}, true},
		{"malformed answer", model.Example{ID: 5, Answer: "3/4", InputType: model.InputFraction}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseExample(tt.ex)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseExample() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.name == "malformed answer" {
				var pe *ParseError
				if !errors.As(err, &pe) {
					t.Errorf("error %v does not wrap *ParseError", err)
				}
			}
		})
	}
}
