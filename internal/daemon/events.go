package daemon

import (
	"context"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"newsrelay/internal/logging"
)

// eventFilter narrows the websocket stream. Empty fields match everything.
type eventFilter struct {
	component  string
	envelopeID string
	level      string
}

func (f eventFilter) match(evt logging.LogEvent) bool {
	if f.component != "" && !strings.EqualFold(evt.Component, f.component) {
		return false
	}
	if f.envelopeID != "" && evt.EnvelopeID != f.envelopeID {
		return false
	}
	if f.level != "" && !strings.EqualFold(evt.Level, f.level) {
		return false
	}
	return true
}

// events streams log events as JSON text frames. tail replays that many
// buffered events first; since resumes after a sequence number.
func (h *handlers) events(c *gin.Context) {
	hub := h.daemon.LogStream()
	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	if hub == nil {
		conn.Close(websocket.StatusPolicyViolation, "event stream unavailable")
		return
	}
	filter := eventFilter{
		component:  strings.TrimSpace(c.Query("component")),
		envelopeID: strings.TrimSpace(c.Query("envelope_id")),
		level:      strings.TrimSpace(c.Query("level")),
	}
	ctx := conn.CloseRead(c.Request.Context())

	since, _ := strconv.ParseUint(c.Query("since"), 10, 64)
	if tail, _ := strconv.Atoi(c.Query("tail")); tail > 0 && since == 0 {
		events, next := hub.Tail(tail)
		if err := writeEvents(ctx, conn, filter, events); err != nil {
			return
		}
		since = next
	}
	for {
		events, next, err := hub.Fetch(ctx, since, 200, true)
		if err != nil {
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
		if err := writeEvents(ctx, conn, filter, events); err != nil {
			return
		}
		since = next
	}
}

func writeEvents(ctx context.Context, conn *websocket.Conn, filter eventFilter, events []logging.LogEvent) error {
	for _, evt := range events {
		if !filter.match(evt) {
			continue
		}
		if err := wsjson.Write(ctx, conn, evt); err != nil {
			return err
		}
	}
	return nil
}
