// Package speech bridges a client's live audio stream to a speech
// recognition provider and turns final transcripts into graded answers or
// spoken commands.
//
// A Session has one event loop. Control frames, audio frames and provider
// callbacks are all posted to its inbox and handled there in order, so the
// audio buffer and metadata are never touched from two goroutines. Final
// transcripts are handed to a FIFO worker that grades them and writes the
// result, which keeps capture running during a slow judge call while
// results still leave in recognition order.
package speech

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PanHorut/BP/internal/answer"
	"github.com/PanHorut/BP/internal/archive"
	"github.com/PanHorut/BP/internal/grading"
	"github.com/PanHorut/BP/internal/i18n"
	"github.com/PanHorut/BP/internal/metrics"
	"github.com/PanHorut/BP/internal/model"
)

// EventKind distinguishes recognition events.
type EventKind int

const (
	EventPartial EventKind = iota
	EventFinal
	EventError
)

// Event is a provider callback. Text is set for partial and final events,
// Err for error events.
type Event struct {
	Kind EventKind
	Text string
	Err  error
}

// Provider opens streaming recognition for one language. onEvent may be
// called from any goroutine until the stream is closed.
type Provider interface {
	Open(ctx context.Context, language string, onEvent func(Event)) (Stream, error)
}

// Stream accepts raw audio. Close must not wait for pending callbacks.
type Stream interface {
	Write(audio []byte) error
	Close() error
}

// Grader evaluates one spoken answer.
type Grader interface {
	GradeSpeech(ctx context.Context, key model.RecordKey, durationMs int64, inputType model.InputType, tr answer.Transcript, lang string) (grading.Outcome, error)
}

// Ledger handles spoken skip and finish commands.
type Ledger interface {
	Skip(ctx context.Context, key model.RecordKey) error
	Delete(ctx context.Context, key model.RecordKey) error
}

// Archiver stores utterances for review.
type Archiver interface {
	Archive(ctx context.Context, u archive.Utterance) error
}

// Outbox delivers JSON messages to the client. It must be safe for
// concurrent use.
type Outbox interface {
	Send(msg any) error
}

// State is the lifecycle position of a session.
type State int32

const (
	StateConnecting State = iota
	StateListening
	StateFinalizing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateFinalizing:
		return "finalizing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// maxBufferedAudio caps the audio kept between finals, about five minutes
// of 16 kHz 16-bit mono.
const maxBufferedAudio = 10 << 20

type Config struct {
	Provider        Provider
	Grader          Grader
	Ledger          Ledger
	Archive         Archiver // optional
	DefaultLanguage string
	EmitInterim     bool
	Logger          *slog.Logger
	Now             func() time.Time
}

type message interface{ isMessage() }

type controlMsg struct{ data []byte }
type audioMsg struct{ data []byte }
type recognitionMsg struct {
	gen uint64
	ev  Event
}

func (controlMsg) isMessage()     {}
func (audioMsg) isMessage()       {}
func (recognitionMsg) isMessage() {}

// finalJob is an accepted final transcript with a snapshot of the
// metadata it belongs to.
type finalJob struct {
	text       string
	meta       Metadata
	audio      []byte
	receivedAt time.Time
}

type Session struct {
	cfg   Config
	out   Outbox
	log   *slog.Logger
	state atomic.Int32

	inbox     chan message
	closing   chan struct{}
	closeOnce sync.Once
	jobs      chan finalJob
	done      chan struct{}

	// Owned by the event loop.
	meta   Metadata
	buffer []byte
	stream Stream
	gen    uint64
	// Set after a failed open or a provider error. Audio does not reopen
	// the stream until the next control frame clears it.
	providerDown bool
}

func NewSession(cfg Config, out Outbox) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "cs-CZ"
	}
	return &Session{
		cfg:     cfg,
		out:     out,
		log:     cfg.Logger,
		inbox:   make(chan message, 64),
		closing: make(chan struct{}),
		jobs:    make(chan finalJob, 32),
		done:    make(chan struct{}),
		meta:    Metadata{Language: cfg.DefaultLanguage},
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// HandleControl posts a JSON control frame. It returns false once the
// session is closing.
func (s *Session) HandleControl(data []byte) bool {
	return s.post(controlMsg{data: data})
}

// HandleAudio posts a binary audio frame.
func (s *Session) HandleAudio(data []byte) bool {
	return s.post(audioMsg{data: data})
}

// Close stops the session. Accepted finals are still graded.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
}

// Done is closed when the worker has graded every accepted final.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) post(m message) bool {
	select {
	case <-s.closing:
		return false
	default:
	}
	select {
	case s.inbox <- m:
		return true
	case <-s.closing:
		return false
	}
}

// Run drives the session until Close is called or ctx ends. Close also
// cancels a provider dial in progress; finals already accepted are graded
// on a context that outlives it.
func (s *Session) Run(ctx context.Context) {
	metrics.SpeechSessions.Inc()
	defer metrics.SpeechSessions.Dec()

	go s.worker(context.WithoutCancel(ctx))
	defer s.shutdown()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.closing:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closing:
			return
		case m := <-s.inbox:
			s.handle(ctx, m)
		}
	}
}

func (s *Session) shutdown() {
	s.Close()
	s.closeStream()
	s.state.Store(int32(StateClosed))
	close(s.jobs)
	s.log.Debug("speech session closed")
}

func (s *Session) handle(ctx context.Context, m message) {
	switch m := m.(type) {
	case controlMsg:
		s.handleControl(ctx, m.data)
	case audioMsg:
		s.handleAudio(ctx, m.data)
	case recognitionMsg:
		s.handleRecognition(m)
	}
}

func (s *Session) handleControl(ctx context.Context, data []byte) {
	var c Control
	if err := json.Unmarshal(data, &c); err != nil {
		s.log.Warn("invalid control message", "error", err)
		return
	}
	prevLang := s.meta.Language
	s.meta.merge(c)
	s.log.Debug("session metadata", "student", s.meta.StudentID, "example", s.meta.ExampleID,
		"input_type", s.meta.InputType, "language", s.meta.Language)

	if s.stream != nil && s.meta.Language != prevLang {
		s.log.Info("language changed, reconnecting provider", "from", prevLang, "to", s.meta.Language)
		s.closeStream()
		s.buffer = nil
	}
	s.providerDown = false
	if s.stream == nil {
		s.openStream(ctx)
	}
}

func (s *Session) handleAudio(ctx context.Context, data []byte) {
	if len(data) == 0 {
		return
	}
	if s.stream == nil && (s.providerDown || !s.openStream(ctx)) {
		return
	}
	s.buffer = append(s.buffer, data...)
	if over := len(s.buffer) - maxBufferedAudio; over > 0 {
		s.buffer = s.buffer[over:]
	}
	if err := s.stream.Write(data); err != nil {
		s.log.Error("provider write failed", "error", err)
		s.closeStream()
		s.providerDown = true
	}
}

func (s *Session) handleRecognition(m recognitionMsg) {
	if m.gen != s.gen || s.stream == nil {
		return
	}
	switch m.ev.Kind {
	case EventPartial:
		if s.cfg.EmitInterim && m.ev.Text != "" {
			s.send(InterimMessage{Interim: m.ev.Text})
		}

	case EventFinal:
		text := strings.TrimSpace(m.ev.Text)
		if text == "" || len(s.buffer) == 0 {
			return
		}
		s.state.Store(int32(StateFinalizing))
		job := finalJob{text: text, meta: s.meta, audio: s.buffer, receivedAt: s.cfg.Now()}
		s.buffer = nil
		s.jobs <- job
		s.state.Store(int32(StateListening))

	case EventError:
		s.log.Error("recognition failed", "error", m.ev.Err)
		metrics.SpeechFinals.WithLabelValues("error").Inc()
		s.closeStream()
		s.providerDown = true
	}
}

func (s *Session) openStream(ctx context.Context) bool {
	s.gen++
	gen := s.gen
	stream, err := s.cfg.Provider.Open(ctx, s.meta.Language, func(ev Event) {
		s.post(recognitionMsg{gen: gen, ev: ev})
	})
	if err != nil {
		s.providerDown = true
		if ctx.Err() != nil {
			s.log.Debug("recognition stream open canceled", "language", s.meta.Language, "error", err)
			return false
		}
		s.log.Error("open recognition stream", "language", s.meta.Language, "error", err)
		return false
	}
	s.stream = stream
	s.state.Store(int32(StateListening))
	return true
}

func (s *Session) closeStream() {
	if s.stream == nil {
		return
	}
	if err := s.stream.Close(); err != nil {
		s.log.Debug("close recognition stream", "error", err)
	}
	s.stream = nil
	s.gen++
}

func (s *Session) send(msg any) {
	if err := s.out.Send(msg); err != nil {
		s.log.Debug("outbound message dropped", "error", err)
	}
}

func (s *Session) worker(ctx context.Context) {
	defer close(s.done)
	for job := range s.jobs {
		s.process(ctx, job)
	}
}

func (s *Session) process(ctx context.Context, job finalJob) {
	log := s.log.With("student", job.meta.StudentID, "example", job.meta.ExampleID)

	key, err := job.meta.RecordKey()
	if err != nil {
		log.Warn("final transcript without usable metadata", "transcript", job.text, "error", err)
		metrics.SpeechFinals.WithLabelValues("error").Inc()
		return
	}
	vocab := i18n.VocabularyFor(job.meta.Language)
	utt := archive.Utterance{
		StudentID:     key.StudentID,
		ExampleID:     key.ExampleID,
		Transcription: job.text,
		RecordedAt:    job.receivedAt,
		Audio:         job.audio,
	}

	switch classify(job.text, vocab) {
	case commandSkip:
		if err := s.cfg.Ledger.Skip(ctx, key); err != nil {
			log.Error("skip by voice", "error", err)
		}
		metrics.SpeechFinals.WithLabelValues("skip").Inc()
		s.send(SkippedMessage{Skipped: true})
		utt.Evaluation = archive.EvaluationSkipped

	case commandFinish:
		if err := s.cfg.Ledger.Delete(ctx, key); err != nil {
			log.Error("finish by voice", "error", err)
		}
		metrics.SpeechFinals.WithLabelValues("finish").Inc()
		s.send(FinishedMessage{Finished: true})
		utt.Evaluation = archive.EvaluationTerminated

	default:
		duration := model.ElapsedMs(job.meta.RecordDate, job.receivedAt)
		tr := answer.Transcript{Text: job.text, Connectors: vocab.Connectors}
		out, err := s.cfg.Grader.GradeSpeech(ctx, key, duration, job.meta.InputType, tr, job.meta.Language)
		if err != nil {
			metrics.SpeechFinals.WithLabelValues("error").Inc()
			if errors.Is(err, context.Canceled) {
				log.Debug("grading canceled", "error", err)
				return
			}
			log.Error("grade spoken answer", "transcript", job.text, "error", err)
			return
		}
		outcome := "answer"
		if out.Verdict.Unparseable {
			outcome = "unparseable"
		}
		metrics.SpeechFinals.WithLabelValues(outcome).Inc()
		log.Info("spoken answer graded", "transcript", job.text, "correct", out.Verdict.Correct,
			"advance", out.Verdict.Advance, "source", out.Source)

		s.send(ResultMessage{
			IsCorrect:        out.Verdict.Correct,
			ContinueWithNext: out.Verdict.Advance,
			StudentAnswer:    out.Verdict.Echo,
		})
		utt.ExampleText = out.Example.Text
		utt.CorrectAnswer = out.Example.Answer
		utt.Evaluation = out.Verdict.Correct
	}

	if s.cfg.Archive != nil {
		if err := s.cfg.Archive.Archive(ctx, utt); err != nil {
			log.Warn("archive utterance", "error", err)
		}
	}
}
