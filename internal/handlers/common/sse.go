package common

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// EventStream writes server-sent events with increasing ids.
type EventStream struct {
	w   http.ResponseWriter
	fl  http.Flusher
	seq uint64
	buf bytes.Buffer
}

// OpenEventStream sends the event-stream headers and flushes them.
func OpenEventStream(c *gin.Context) *EventStream {
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	s := &EventStream{w: c.Writer}
	s.fl, _ = c.Writer.(http.Flusher)
	s.flush()
	return s
}

func (s *EventStream) flush() {
	if s.fl != nil {
		s.fl.Flush()
	}
}

func (s *EventStream) send() error {
	_, err := s.w.Write(s.buf.Bytes())
	s.buf.Reset()
	if err == nil {
		s.flush()
	}
	return err
}

// Send writes payload as JSON under the event name. An empty name omits
// the event line.
func (s *EventStream) Send(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.seq++
	s.buf.WriteString("id: " + strconv.FormatUint(s.seq, 10) + "\n")
	if name != "" {
		s.buf.WriteString("event: " + name + "\n")
	}
	s.buf.WriteString("data: ")
	s.buf.Write(data)
	s.buf.WriteString("\n\n")
	return s.send()
}

// Comment writes a comment frame; clients ignore it.
func (s *EventStream) Comment(text string) error {
	s.buf.WriteString(": " + text + "\n\n")
	return s.send()
}
