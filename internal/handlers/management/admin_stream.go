package management

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/constants"
	apperrors "github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/errors"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/events"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/handlers/common"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/logging"
)

var logUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The admin API is same-origin and key-gated.
	CheckOrigin: func(*http.Request) bool { return true },
}

// StreamEvents relays the pool events hub as server-sent events until the
// client disconnects. Events are dropped for a client that falls behind.
func (h *AdminAPIHandler) StreamEvents(c *gin.Context) {
	if h.Hub == nil {
		common.AbortWithAPIError(c, apperrors.New(http.StatusNotFound, "events_disabled", "invalid_request_error", "Event stream is not enabled"))
		return
	}
	pattern := c.DefaultQuery("topic", events.TopicAll)
	ch, stop := h.Hub.Tap(pattern, constants.EventStreamBuffer)
	defer func() {
		if n := stop(); n > 0 {
			logging.WithReq(c, nil).WithField("dropped", n).Debug("event stream client lagged")
		}
	}()

	stream := common.OpenEventStream(c)
	keepAlive := time.NewTicker(constants.EventStreamKeepAlive)
	defer keepAlive.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			if err := stream.Send(ev.Topic, ev); err != nil {
				return
			}
		case <-keepAlive.C:
			if err := stream.Comment("keep-alive"); err != nil {
				return
			}
		}
	}
}

// GetLogs returns buffered log lines newer than ?since.
func (h *AdminAPIHandler) GetLogs(c *gin.Context) {
	if h.LogStream == nil {
		common.AbortWithAPIError(c, apperrors.New(http.StatusNotFound, "log_stream_disabled", "invalid_request_error", "Log streaming is not enabled"))
		return
	}
	since, _ := strconv.ParseUint(c.Query("since"), 10, 64)
	limit, _ := strconv.Atoi(c.Query("limit"))
	msgs, cursor, more := h.LogStream.FetchSince(since, limit)
	c.JSON(http.StatusOK, gin.H{"logs": msgs, "cursor": cursor, "has_more": more})
}

// StreamLogs upgrades to a websocket, replays recent history and then
// follows live log lines.
func (h *AdminAPIHandler) StreamLogs(c *gin.Context) {
	if h.LogStream == nil {
		common.AbortWithAPIError(c, apperrors.New(http.StatusNotFound, "log_stream_disabled", "invalid_request_error", "Log streaming is not enabled"))
		return
	}
	conn, err := logUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.WithReq(c, nil).WithError(err).Warn("log stream upgrade failed")
		return
	}

	history, _, _ := h.LogStream.FetchSince(0, constants.LogStreamHistory)
	for _, msg := range history {
		if err := conn.WriteJSON(msg); err != nil {
			_ = conn.Close()
			return
		}
	}
	if err := h.LogStream.AddClient(conn); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()), time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	defer h.LogStream.RemoveClient(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
