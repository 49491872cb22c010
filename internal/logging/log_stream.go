package logging

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// ErrMaxConnectionsReached is returned when the stream is at its client cap.
var ErrMaxConnectionsReached = errors.New("maximum WebSocket connections reached")

// LogMessage represents a log message
type LogMessage struct {
	ID        uint64                 `json:"id,omitempty"`
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// LogStream fans log entries out to WebSocket clients and keeps a bounded
// history so late joiners can catch up.
type LogStream struct {
	mu             sync.RWMutex
	clients        map[*websocket.Conn]chan LogMessage
	maxConnections int

	historyMu  sync.RWMutex
	history    []LogMessage
	historyCap int
	seq        uint64

	writeTimeout time.Duration
}

// NewLogStream creates a stream keeping historyCap messages.
func NewLogStream(historyCap, maxConnections int) *LogStream {
	if historyCap <= 0 {
		historyCap = 500
	}
	if maxConnections <= 0 {
		maxConnections = 20
	}
	return &LogStream{
		clients:        make(map[*websocket.Conn]chan LogMessage),
		maxConnections: maxConnections,
		history:        make([]LogMessage, 0, historyCap),
		historyCap:     historyCap,
		writeTimeout:   5 * time.Second,
	}
}

// AddClient registers conn and starts its writer goroutine. gorilla
// connections allow a single concurrent writer, so each client owns one.
func (s *LogStream) AddClient(conn *websocket.Conn) error {
	s.mu.Lock()
	if len(s.clients) >= s.maxConnections {
		s.mu.Unlock()
		return ErrMaxConnectionsReached
	}
	ch := make(chan LogMessage, 64)
	s.clients[conn] = ch
	total := len(s.clients)
	s.mu.Unlock()

	go s.writeLoop(conn, ch)
	Component("log_stream").WithField("clients", total).Debug("log stream client connected")
	return nil
}

// RemoveClient unregisters conn and closes it.
func (s *LogStream) RemoveClient(conn *websocket.Conn) {
	s.mu.Lock()
	ch, ok := s.clients[conn]
	if ok {
		delete(s.clients, conn)
		close(ch)
	}
	s.mu.Unlock()
	if ok {
		_ = conn.Close()
	}
}

// ConnectionCount returns the current number of connected clients.
func (s *LogStream) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Close disconnects every client.
func (s *LogStream) Close() {
	s.mu.Lock()
	clients := s.clients
	s.clients = make(map[*websocket.Conn]chan LogMessage)
	s.mu.Unlock()
	for conn, ch := range clients {
		close(ch)
		_ = conn.Close()
	}
}

func (s *LogStream) writeLoop(conn *websocket.Conn, ch <-chan LogMessage) {
	for msg := range ch {
		_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			go s.RemoveClient(conn)
			for range ch {
			}
			return
		}
	}
}

// Broadcast records a message and offers it to every client. Slow clients
// drop messages instead of blocking the logger.
func (s *LogStream) Broadcast(level, message string, fields map[string]interface{}) {
	msg := LogMessage{
		ID:        atomic.AddUint64(&s.seq, 1),
		Timestamp: time.Now().Format(time.RFC3339),
		Level:     level,
		Message:   message,
		Fields:    fields,
	}
	s.appendHistory(msg)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (s *LogStream) appendHistory(msg LogMessage) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	s.history = append(s.history, msg)
	if len(s.history) > s.historyCap {
		excess := len(s.history) - s.historyCap
		s.history = append([]LogMessage(nil), s.history[excess:]...)
	}
}

// FetchSince returns log messages newer than the provided cursor ID.
func (s *LogStream) FetchSince(cursor uint64, limit int) ([]LogMessage, uint64, bool) {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()

	if limit <= 0 || limit > s.historyCap {
		limit = s.historyCap
	}

	total := len(s.history)
	if total == 0 {
		return []LogMessage{}, cursor, false
	}

	start := 0
	if cursor == 0 {
		if total > limit {
			start = total - limit
		}
	} else {
		start = total
		for i, msg := range s.history {
			if msg.ID > cursor {
				start = i
				break
			}
		}
		if start >= total {
			return []LogMessage{}, cursor, false
		}
	}

	end := start + limit
	if end > total {
		end = total
	}

	out := make([]LogMessage, end-start)
	copy(out, s.history[start:end])

	nextCursor := cursor
	if len(out) > 0 {
		nextCursor = out[len(out)-1].ID
	}
	return out, nextCursor, end < total
}

// Hook returns a logrus hook feeding this stream.
func (s *LogStream) Hook() log.Hook {
	return &streamHook{stream: s}
}

type streamHook struct {
	stream *LogStream
}

// Levels returns the log levels this hook will fire for
func (h *streamHook) Levels() []log.Level {
	return []log.Level{log.PanicLevel, log.FatalLevel, log.ErrorLevel, log.WarnLevel, log.InfoLevel, log.DebugLevel}
}

// Fire is called when a log event occurs
func (h *streamHook) Fire(entry *log.Entry) error {
	fields := make(map[string]interface{}, len(entry.Data))
	for k, v := range entry.Data {
		if err, ok := v.(error); ok {
			fields[k] = err.Error()
			continue
		}
		fields[k] = v
	}
	h.stream.Broadcast(entry.Level.String(), entry.Message, fields)
	return nil
}

// InstallLogStream attaches the stream to the global logger.
func InstallLogStream(s *LogStream) {
	log.AddHook(s.Hook())
	log.Info("log streaming installed")
}
