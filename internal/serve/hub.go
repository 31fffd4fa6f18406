package serve

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Event is one progress update pushed to connected websocket clients while a
// review runs.
type Event struct {
	// Video is the base name of the video being processed.
	Video string `json:"video"`

	// Stage names the pipeline stage the event refers to.
	Stage string `json:"stage"`

	// Status is one of "started", "completed", or "failed".
	Status string `json:"status"`

	// Detail carries optional extra information, e.g. a finding count or an
	// error message.
	Detail string `json:"detail,omitempty"`

	// Time is when the event was emitted.
	Time time.Time `json:"time"`
}

// Hub fans progress events out to websocket subscribers. The zero value is
// not usable; create one with [NewHub]. Publish never blocks the pipeline: a
// subscriber that cannot keep up has its oldest events dropped.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}

	// history replays recent events to late joiners.
	history []Event
}

// historyLimit bounds the replay buffer.
const historyLimit = 64

// subBuffer is the per-subscriber channel capacity.
const subBuffer = 16

// NewHub creates an empty [Hub].
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Publish stamps ev with the current time if unset and delivers it to all
// subscribers. Slow subscribers lose their oldest pending event.
func (h *Hub) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.history = append(h.history, ev)
	if len(h.history) > historyLimit {
		h.history = h.history[len(h.history)-historyLimit:]
	}

	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

// subscribe registers a new subscriber and replays the event history into
// its channel. The returned cancel function must be called to unregister.
func (h *Hub) subscribe() (ch chan Event, cancel func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch = make(chan Event, max(subBuffer, historyLimit))
	for _, ev := range h.history {
		ch <- ev
	}
	h.subs[ch] = struct{}{}

	return ch, func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
}

// serveWS streams hub events to one websocket client until the client
// disconnects or ctx is cancelled.
func (h *Hub) serveWS(ctx context.Context, conn *websocket.Conn) {
	ch, cancel := h.subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case ev := <-ch:
			data, err := json.Marshal(ev)
			if err != nil {
				slog.Warn("progress event marshal failed", "error", err)
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}
