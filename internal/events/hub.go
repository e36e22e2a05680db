package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mattjoyce/callhook/internal/webhook"
)

// TypeWebhookEvent is the hub event type of a delivered normalized event.
const TypeWebhookEvent = "webhook.event"

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Envelope is the payload of a TypeWebhookEvent.
type Envelope struct {
	EventID     string         `json:"event_id"`
	ExecutionID string         `json:"execution_id"`
	Source      string         `json:"source"`
	PairedItem  int            `json:"paired_item"`
	JSON        webhook.Fields `json:"json"`
}

var _ webhook.EventSink = (*Hub)(nil)

// Hub is an in-memory pub/sub with a small ring buffer for late clients.
// It is the downstream consumer of dispatched webhook events.
type Hub struct {
	nextID atomic.Int64

	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	subs      map[int]chan Event
	nextSubID int
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]chan Event),
	}
}

// Deliver publishes every event of an accepted dispatch, in pairing order.
func (h *Hub) Deliver(ctx context.Context, res webhook.Result) error {
	for _, ev := range res.Events {
		if err := ctx.Err(); err != nil {
			return err
		}
		env := Envelope{
			EventID:     uuid.NewString(),
			ExecutionID: res.ExecutionID,
			Source:      res.Source,
			PairedItem:  ev.PairedItem,
			JSON:        ev.Fields,
		}
		if err := h.Publish(TypeWebhookEvent, env); err != nil {
			return fmt.Errorf("publish %s event %d: %w", res.Source, ev.PairedItem, err)
		}
	}
	return nil
}

// Publish appends an event to the ring and fans it out to subscribers.
func (h *Hub) Publish(eventType string, data any) error {
	payload := []byte("{}")
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return err
		}
		payload = b
	}

	ev := Event{
		ID:   h.nextID.Add(1),
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}

	h.mu.Lock()
	h.pushLocked(ev)
	for _, ch := range h.subs {
		// Don't let slow clients block producers.
		select {
		case ch <- ev:
		default:
		}
	}
	h.mu.Unlock()
	return nil
}

func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, 128)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
		h.mu.Unlock()
	}

	return ch, cancel
}

// SnapshotSince returns buffered events with ID > lastID, oldest-first.
// If lastID is 0, the full ring buffer snapshot is returned.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if lastID == 0 || ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

// Len returns the number of buffered events.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size
}

func (h *Hub) pushLocked(ev Event) {
	capacity := len(h.ring)
	if capacity == 0 {
		return
	}

	if h.size < capacity {
		idx := (h.start + h.size) % capacity
		h.ring[idx] = ev
		h.size++
		return
	}

	// Overwrite oldest.
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}
