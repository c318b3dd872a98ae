package api

import "sync"

// RunEvent is one lifecycle event of a run, streamed over SSE and websocket.
type RunEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Run event types.
const (
	EventQueued    = "run.queued"
	EventStarted   = "run.started"
	EventSucceeded = "run.succeeded"
	EventFailed    = "run.failed"
)

// Terminal reports whether no further events follow e for the same run.
func (e RunEvent) Terminal() bool { return e.Type == EventSucceeded || e.Type == EventFailed }

// EventBroker fans run events out to subscribers keyed by run id.
type EventBroker interface {
	Subscribe(runID string) chan RunEvent
	Unsubscribe(runID string, ch chan RunEvent)
	Publish(runID string, evt RunEvent)
}

// Broker is the in-process EventBroker.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan RunEvent]struct{} // runId -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan RunEvent]struct{}{}}
}

func (b *Broker) Subscribe(runID string) chan RunEvent {
	ch := make(chan RunEvent, 8)
	b.mu.Lock()
	if b.subs[runID] == nil {
		b.subs[runID] = map[chan RunEvent]struct{}{}
	}
	b.subs[runID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(runID string, ch chan RunEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[runID]
	if m == nil {
		return
	}
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, runID)
	}
	close(ch)
}

// Publish never blocks; slow subscribers drop events.
func (b *Broker) Publish(runID string, evt RunEvent) {
	b.mu.Lock()
	m := b.subs[runID]
	for ch := range m {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}
