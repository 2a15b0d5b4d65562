package logs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"newsrelay/internal/logging"
)

// ErrAPIUnavailable reports that no daemon API is configured.
var ErrAPIUnavailable = errors.New("daemon API unavailable")

// EventQuery filters the live event stream.
type EventQuery struct {
	Tail       int
	Since      uint64
	Component  string
	EnvelopeID string
	Level      string
}

// EventClient reads the daemon's /api/events websocket.
type EventClient struct {
	base  *url.URL
	token string
}

// NewEventClient targets the daemon listening on bind. An empty bind returns
// ErrAPIUnavailable.
func NewEventClient(bind, token string) (*EventClient, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, ErrAPIUnavailable
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, fmt.Errorf("parse api bind: %w", err)
	}
	switch base.Scheme {
	case "http":
		base.Scheme = "ws"
	case "https":
		base.Scheme = "wss"
	}
	base.Path = "/api/events"
	base.RawQuery = ""
	base.Fragment = ""
	return &EventClient{base: base, token: strings.TrimSpace(token)}, nil
}

// URL returns the websocket endpoint for q.
func (c *EventClient) URL(q EventQuery) string {
	values := url.Values{}
	if q.Tail > 0 {
		values.Set("tail", strconv.Itoa(q.Tail))
	}
	if q.Since > 0 {
		values.Set("since", strconv.FormatUint(q.Since, 10))
	}
	if q.Component != "" {
		values.Set("component", q.Component)
	}
	if q.EnvelopeID != "" {
		values.Set("envelope_id", q.EnvelopeID)
	}
	if q.Level != "" {
		values.Set("level", q.Level)
	}
	u := *c.base
	u.RawQuery = values.Encode()
	return u.String()
}

// Stream delivers events to fn until ctx ends, the daemon closes the
// stream, or fn returns an error.
func (c *EventClient) Stream(ctx context.Context, q EventQuery, fn func(logging.LogEvent) error) error {
	opts := &websocket.DialOptions{}
	if c.token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + c.token}}
	}
	conn, _, err := websocket.Dial(ctx, c.URL(q), opts)
	if err != nil {
		return fmt.Errorf("connect event stream: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	for {
		var evt logging.LogEvent
		if err := wsjson.Read(ctx, conn, &evt); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
}
