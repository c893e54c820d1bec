package socketio

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MiB
)

// inFrame is the wire shape of a client→server event (spec.md §6.1):
// a named event, an opaque argument, and an optional ack correlation id.
type inFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	AckID string          `json:"ackId,omitempty"`
}

// outFrame is the wire shape of a server→client event, whether an
// ack response (AckID set) or a spontaneous emit (AckID empty).
type outFrame struct {
	Event  string `json:"event"`
	Data   any    `json:"data,omitempty"`
	AckID  string `json:"ackId,omitempty"`
	Error  any    `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin checking is left to a reverse proxy / cmd/kasocki-server's
	// own auth layer; this package only speaks the event-stream protocol.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSSocket implements Socket over a single gorilla/websocket connection.
// Reads happen on the one goroutine that runs Serve; writes
// are serialized through writeMu since gorilla/websocket connections
// permit at most one concurrent writer.
type WSSocket struct {
	id     string
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	handlersMu sync.RWMutex
	handlers   map[string]EventHandler

	disconnectMu sync.Mutex
	onDisconnect []func()
	closeOnce    sync.Once
}

// NewWSSocket upgrades an HTTP request to a websocket connection and
// returns the resulting Socket. The caller must call Serve to begin
// the read loop.
func NewWSSocket(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*WSSocket, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("socketio: upgrade: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn.SetReadLimit(maxMessageSize)

	s := &WSSocket{
		id:       uuid.NewString(),
		conn:     conn,
		logger:   logger.With("socket", ""),
		handlers: make(map[string]EventHandler),
	}
	s.logger = logger.With("socket", s.id)
	return s, nil
}

func (s *WSSocket) ID() string { return s.id }

func (s *WSSocket) OnEvent(event string, handler EventHandler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[event] = handler
}

func (s *WSSocket) OnDisconnect(handler func()) {
	s.disconnectMu.Lock()
	defer s.disconnectMu.Unlock()
	s.onDisconnect = append(s.onDisconnect, handler)
}

func (s *WSSocket) Emit(event string, payload any) error {
	return s.writeFrame(outFrame{Event: event, Data: payload})
}

func (s *WSSocket) writeFrame(f outFrame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteJSON(f)
}

func (s *WSSocket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
		s.disconnectMu.Lock()
		hooks := append([]func(){}, s.onDisconnect...)
		s.disconnectMu.Unlock()
		for _, h := range hooks {
			h()
		}
	})
	return err
}

// Serve runs the read loop and a background ping ticker until the
// connection closes or ctx is cancelled. It blocks; callers run it in
// its own goroutine per accepted connection.
func (s *WSSocket) Serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.Close()

	go s.pingLoop(ctx)

	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame inFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			s.logger.Debug("socket read loop ending", "error", err)
			return
		}

		s.dispatch(ctx, frame)
	}
}

func (s *WSSocket) dispatch(ctx context.Context, frame inFrame) {
	s.handlersMu.RLock()
	handler, ok := s.handlers[frame.Event]
	s.handlersMu.RUnlock()
	if !ok {
		s.logger.Warn("no handler registered for event", "event", frame.Event)
		return
	}

	var arg any
	if len(frame.Data) > 0 {
		if err := json.Unmarshal(frame.Data, &arg); err != nil {
			s.logger.Warn("dropping frame with unparseable data", "event", frame.Event, "error", err)
			return
		}
	}

	var ack AckFunc
	if frame.AckID != "" {
		ackID := frame.AckID
		ack = func(err error, result any) {
			out := outFrame{Event: frame.Event, AckID: ackID}
			if err != nil {
				out.Error = err
			} else {
				out.Data = result
			}
			if werr := s.writeFrame(out); werr != nil {
				s.logger.Warn("failed to write ack", "event", frame.Event, "error", werr)
			}
		}
	}

	handler(ctx, arg, ack)
}

func (s *WSSocket) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
