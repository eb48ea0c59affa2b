package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/PanHorut/BP/internal/speech"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // one audio chunk
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

var (
	errClientClosed = errors.New("client connection closed")
	errSendOverflow = errors.New("client send buffer full")
)

// speechClient owns one websocket. Outbound messages go through send and
// are written by writePump only.
type speechClient struct {
	conn   *websocket.Conn
	send   chan []byte
	closed chan struct{}
	once   sync.Once
	log    *slog.Logger
}

func newSpeechClient(conn *websocket.Conn, log *slog.Logger) *speechClient {
	return &speechClient{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
		log:    log,
	}
}

// Send implements speech.Outbox.
func (c *speechClient) Send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case <-c.closed:
		return errClientClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.log.Warn("client send buffer full, closing connection")
		c.shutdown()
		return errSendOverflow
	}
}

func (c *speechClient) shutdown() {
	c.once.Do(func() { close(c.closed) })
}

// readPump feeds frames into the session until the client goes away.
func (c *speechClient) readPump(s *speech.Session) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Warn("websocket read failed", "error", err)
			}
			return
		}
		var ok bool
		switch typ {
		case websocket.TextMessage:
			ok = s.HandleControl(data)
		case websocket.BinaryMessage:
			ok = s.HandleAudio(data)
		default:
			ok = true
		}
		if !ok {
			return
		}
	}
}

// writePump writes queued messages and keeps the connection alive with
// pings. After shutdown it flushes what is queued and sends a close frame.
func (c *speechClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.log.Debug("websocket write failed", "error", err)
				c.shutdown()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		case <-c.closed:
			for {
				select {
				case msg := <-c.send:
					if err := c.write(websocket.TextMessage, msg); err != nil {
						return
					}
				default:
					c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

func (c *speechClient) write(typ int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(typ, data)
}

// handleSpeech upgrades to a websocket and runs one speech session on it.
// The handler returns after the session has graded every accepted answer.
func (h *Handler) handleSpeech(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	log := slog.With("conn_id", uuid.NewString())
	log.Info("speech client connected", "remote", r.RemoteAddr)

	client := newSpeechClient(conn, log)
	session := speech.NewSession(speech.Config{
		Provider:        h.provider,
		Grader:          h.grader,
		Ledger:          h.ledger,
		Archive:         h.archive,
		DefaultLanguage: h.config.DefaultLanguage,
		EmitInterim:     h.config.EmitInterim,
		Logger:          log,
	}, client)

	go client.writePump()
	go session.Run(context.WithoutCancel(r.Context()))

	client.readPump(session)

	session.Close()
	<-session.Done()
	client.shutdown()
	log.Info("speech client disconnected")
}
