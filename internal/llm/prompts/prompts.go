package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/PanHorut/BP/internal/answer"
)

// Templates holds the built-in judge prompt templates.
//
//go:embed templates/*.txt
var Templates embed.FS

// maxTranscriptRunes bounds how much recognized text reaches the model.
const maxTranscriptRunes = 2000

var controlTokens = regexp.MustCompile(`(?i)</?\s*(system|instructions?|prompt)\b[^>]*>`)

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[answer.Kind]*template.Template
)

var templateFiles = map[answer.Kind]string{
	answer.KindFraction:    "templates/fraction.txt",
	answer.KindVariableSet: "templates/variable.txt",
}

// JudgeData holds template data for judge prompts.
type JudgeData struct {
	CanonicalAnswer string
	Transcript      string
	Language        string
}

// Load parses the judge templates from fsys.
// It uses sync.Once to ensure templates are loaded only once.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		templates = make(map[answer.Kind]*template.Template)
		for kind, file := range templateFiles {
			content, err := fs.ReadFile(fsys, file)
			if err != nil {
				loadErr = fmt.Errorf("read prompt file %s: %w", file, err)
				return
			}
			tmpl, err := template.New(kind.String()).Parse(string(content))
			if err != nil {
				loadErr = fmt.Errorf("parse prompt template %s: %w", file, err)
				return
			}
			templates[kind] = tmpl
		}
	})
	return loadErr
}

// BuildJudgePrompt renders the judge prompt for an answer kind. Only
// fraction and variable-set answers are judged.
func BuildJudgePrompt(kind answer.Kind, data JudgeData) (string, error) {
	if err := Load(Templates); err != nil {
		return "", fmt.Errorf("templates load failed: %w", err)
	}
	tmpl, ok := templates[kind]
	if !ok {
		return "", errors.New("no judge prompt for " + kind.String() + " answers")
	}

	data.Transcript = sanitizeTranscript(data.Transcript)
	if data.Language == "" {
		data.Language = "Czech"
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sanitizeTranscript(s string) string {
	s = controlTokens.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(s), " ")

	if s == "" {
		return "[no answer]"
	}
	if utf8.RuneCountInString(s) > maxTranscriptRunes {
		s = string([]rune(s)[:maxTranscriptRunes])
	}
	return s
}
