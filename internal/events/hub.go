// Package events fans session events (signals, digest renders) out to subscribers
// such as the UI event stream.
package events

import (
	"sync"
	"time"
)

const (
	KindSignal = "signal"
	KindDigest = "digest"
	KindError  = "error"
)

type Event struct {
	Seq       int64     `json:"seq"`
	Kind      string    `json:"kind"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub keeps a bounded history for replay and drops subscribers that stop reading.
// The latest event of each kind outlives the history so a late subscriber can
// always be brought up to the current digest.
type Hub struct {
	mu      sync.Mutex
	nextSeq int64
	limit   int
	history []Event
	latest  map[string]Event
	subs    map[int]*subscriber
	nextSub int
	now     func() time.Time
}

type subscriber struct {
	ch    chan Event
	kinds map[string]struct{}
}

func (s *subscriber) wants(kind string) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[kind]
	return ok
}

func NewHub(limit int) *Hub {
	if limit < 1 {
		limit = 1
	}
	return &Hub{
		limit:  limit,
		latest: make(map[string]Event),
		subs:   make(map[int]*subscriber),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (h *Hub) Publish(kind string, payload any) Event {
	if h == nil {
		return Event{}
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextSeq++
	event := Event{
		Seq:       h.nextSeq,
		Kind:      kind,
		Payload:   payload,
		Timestamp: h.now(),
	}
	h.latest[kind] = event
	h.history = append(h.history, event)
	if len(h.history) > h.limit {
		h.history = append([]Event(nil), h.history[len(h.history)-h.limit:]...)
	}

	for id, sub := range h.subs {
		if !sub.wants(kind) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			close(sub.ch)
			delete(h.subs, id)
		}
	}
	return event
}

// Subscribe returns the retained events after fromSeq, a live channel and a
// cancel func. With kinds set only those kinds are replayed and delivered.
// When events after fromSeq were already trimmed, the replay starts with the
// latest digest.
func (h *Hub) Subscribe(fromSeq int64, kinds ...string) ([]Event, <-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &subscriber{ch: make(chan Event, 64)}
	if len(kinds) > 0 {
		sub.kinds = make(map[string]struct{}, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = struct{}{}
		}
	}

	replay := make([]Event, 0)
	if len(h.history) > 0 && fromSeq < h.history[0].Seq-1 && sub.wants(KindDigest) {
		if digest, ok := h.latest[KindDigest]; ok && digest.Seq < h.history[0].Seq {
			replay = append(replay, digest)
		}
	}
	for _, event := range h.history {
		if event.Seq > fromSeq && sub.wants(event.Kind) {
			replay = append(replay, event)
		}
	}

	id := h.nextSub
	h.nextSub++
	h.subs[id] = sub

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if s, ok := h.subs[id]; ok {
			close(s.ch)
			delete(h.subs, id)
		}
	}
	return replay, sub.ch, cancel
}

// Latest returns the most recent event of kind, even if it left the history.
func (h *Hub) Latest(kind string) (Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	event, ok := h.latest[kind]
	return event, ok
}

// BacklogSize reports how many events are retained for replay.
func (h *Hub) BacklogSize() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.history)
}
