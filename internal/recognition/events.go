package recognition

import (
	"sync"
	"time"

	"github.com/ayusman/fingerspell/internal/decision"
)

// EventType distinguishes the events a pipeline emits.
type EventType string

const (
	EventPrediction EventType = "prediction"
	EventMetrics    EventType = "metrics"
)

// Event is delivered to subscribers. Exactly one of Prediction or Metrics
// is set, matching Type.
type Event struct {
	Type       EventType            `json:"type"`
	Prediction *decision.Prediction `json:"prediction,omitempty"`
	Metrics    *Metrics             `json:"metrics,omitempty"`
	At         time.Time            `json:"at"`
}

// hub fans events out to subscribers without ever blocking the frame path.
type hub struct {
	mu      sync.Mutex
	next    int
	subs    map[int]chan Event
	dropped uint64
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan Event)}
}

func (h *hub) subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			// closeAll may already have closed it.
			if _, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(ch)
			}
		})
	}
}

func (h *hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped++
		}
	}
}

func (h *hub) droppedCount() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
