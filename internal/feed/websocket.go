package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/joeblew999/plat-parcel/internal/logger"
	"github.com/joeblew999/plat-parcel/internal/metrics"
)

// Message is the wire envelope of the websocket feed.
type Message struct {
	Type       string   `json:"type"`
	Collection string   `json:"collection,omitempty"`
	Records    []Record `json:"records,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Message types.
const (
	MessageSubscribe = "subscribe"
	MessageSnapshot  = "snapshot"
	MessageError     = "error"
)

// WebSocket subscribes to a snapshot server over websocket. Each
// subscription holds its own connection and redials after a drop.
type WebSocket struct {
	URL     string
	Dialer  *websocket.Dialer
	Backoff time.Duration
	Log     *slog.Logger
}

// NewWebSocket creates a websocket feed for url.
func NewWebSocket(url string) *WebSocket {
	return &WebSocket{URL: url, Dialer: websocket.DefaultDialer, Backoff: 2 * time.Second}
}

// Subscribe dials once up front so configuration errors surface to the
// caller; later drops are retried until ctx ends.
func (w *WebSocket) Subscribe(ctx context.Context, q Query) (<-chan []Record, error) {
	conn, err := w.dial(ctx, q)
	if err != nil {
		return nil, err
	}
	ch := make(chan []Record, 1)
	go w.run(ctx, q, conn, ch)
	return ch, nil
}

func (w *WebSocket) dial(ctx context.Context, q Query) (*websocket.Conn, error) {
	d := w.Dialer
	if d == nil {
		d = websocket.DefaultDialer
	}
	conn, _, err := d.DialContext(ctx, w.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing feed: %w", err)
	}
	if err := conn.WriteJSON(Message{Type: MessageSubscribe, Collection: q.Collection}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", q.Collection, err)
	}
	return conn, nil
}

func (w *WebSocket) run(ctx context.Context, q Query, conn *websocket.Conn, ch chan []Record) {
	log := logger.Or(w.Log)
	defer close(ch)

	for {
		stop := context.AfterFunc(ctx, func() { conn.Close() })
		w.read(q, conn, ch, log)
		stop()
		conn.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.Backoff):
			}
			var err error
			if conn, err = w.dial(ctx, q); err == nil {
				break
			}
			log.Warn("feed_redial_failed", "collection", q.Collection, "error", err)
		}
	}
}

func (w *WebSocket) read(q Query, conn *websocket.Conn, ch chan []Record, log *slog.Logger) {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("feed_read_failed", "collection", q.Collection, "error", err)
			}
			return
		}
		switch msg.Type {
		case MessageSnapshot:
			if msg.Collection != "" && msg.Collection != q.Collection {
				continue
			}
			metrics.FeedSnapshotsTotal.WithLabelValues(q.Collection).Inc()
			offer(ch, msg.Records)
		case MessageError:
			log.Warn("feed_error", "collection", q.Collection, "error", msg.Error)
		}
	}
}
