// Package vosk streams audio to a Vosk-compatible recognition server over a
// websocket and reports partial and final transcripts.
package vosk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PanHorut/BP/internal/archive"
	"github.com/PanHorut/BP/internal/speech"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// Provider dials one recognition websocket per stream. URL may contain a
// {lang} placeholder which is replaced with the stream language.
type Provider struct {
	URL    string
	Dialer *websocket.Dialer
}

func New(url string) *Provider {
	return &Provider{URL: url, Dialer: websocket.DefaultDialer}
}

func (p *Provider) endpoint(lang string) string {
	return strings.ReplaceAll(p.URL, "{lang}", lang)
}

type configMessage struct {
	Config struct {
		SampleRate int `json:"sample_rate"`
	} `json:"config"`
}

// result covers both reply shapes: {"partial": "..."} and {"text": "..."}.
type result struct {
	Partial *string `json:"partial"`
	Text    *string `json:"text"`
}

// Open implements speech.Provider.
func (p *Provider) Open(ctx context.Context, lang string, onEvent func(speech.Event)) (speech.Stream, error) {
	url := p.endpoint(lang)
	conn, _, err := p.Dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial recognizer %s: %w", url, err)
	}
	conn.SetReadLimit(maxMessageSize)

	var cfg configMessage
	cfg.Config.SampleRate = archive.SampleRate
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(cfg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("configure recognizer: %w", err)
	}

	s := &stream{conn: conn, onEvent: onEvent}
	go s.readLoop()
	slog.Debug("recognition stream opened", "url", url)
	return s, nil
}

type stream struct {
	conn    *websocket.Conn
	onEvent func(speech.Event)

	mu     sync.Mutex // serializes writes
	closed bool
}

var errStreamClosed = errors.New("recognition stream closed")

func (s *stream) Write(audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.BinaryMessage, audio)
}

// Close asks the server to flush and drops the connection. It does not wait
// for the read loop.
func (s *stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"eof" : 1}`))
	s.mu.Unlock()

	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *stream) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.isClosed() {
				s.onEvent(speech.Event{Kind: speech.EventError, Err: fmt.Errorf("read recognizer: %w", err)})
			}
			return
		}
		var r result
		if err := json.Unmarshal(data, &r); err != nil {
			slog.Warn("unexpected recognizer message", "error", err)
			continue
		}
		switch {
		case r.Text != nil:
			s.onEvent(speech.Event{Kind: speech.EventFinal, Text: *r.Text})
		case r.Partial != nil && *r.Partial != "":
			s.onEvent(speech.Event{Kind: speech.EventPartial, Text: *r.Partial})
		}
	}
}
