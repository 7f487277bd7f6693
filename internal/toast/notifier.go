package toast

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultTTL = 4 * time.Second

type Kind string

const (
	KindInfo    Kind = "info"
	KindSuccess Kind = "success"
	KindError   Kind = "error"
)

// Toast is a transient notification shown to the user and dismissed
// automatically after the notifier's TTL.
type Toast struct {
	ID        string `json:"id"`
	Kind      Kind   `json:"kind"`
	Text      string `json:"text"`
	CreatedAt int64  `json:"createdAt"` // Unix timestamp (seconds)
}

type EventType string

const (
	EventShow    EventType = "show"
	EventDismiss EventType = "dismiss"
)

type Event struct {
	Type  EventType
	Toast Toast
}

// Notifier displays transient messages (connection errors, chat
// notices, greetings) and auto-dismisses them after a fixed delay.
type Notifier struct {
	ttl    time.Duration
	active map[string]Toast
	timers map[string]*time.Timer
	events chan Event
	closed bool
	mu     sync.Mutex

	now func() time.Time
}

func NewNotifier(ttl time.Duration) *Notifier {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Notifier{
		ttl:    ttl,
		active: make(map[string]Toast),
		timers: make(map[string]*time.Timer),
		events: make(chan Event, 32),
		now:    time.Now,
	}
}

// Events delivers show/dismiss events to a single consumer. Events are
// dropped if the consumer falls behind.
func (n *Notifier) Events() <-chan Event {
	return n.events
}

// Push displays a new toast and schedules its dismissal. It returns
// the toast id so callers can dismiss it early.
func (n *Notifier) Push(kind Kind, text string) string {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ""
	}

	t := Toast{
		ID:        uuid.NewString(),
		Kind:      kind,
		Text:      text,
		CreatedAt: n.now().Unix(),
	}
	n.active[t.ID] = t
	n.timers[t.ID] = time.AfterFunc(n.ttl, func() {
		n.Dismiss(t.ID)
	})

	n.emit(Event{Type: EventShow, Toast: t})
	return t.ID
}

// Dismiss removes a toast before (or at) its auto-dismiss deadline.
// Dismissing an unknown id is a no-op.
func (n *Notifier) Dismiss(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	t, ok := n.active[id]
	if !ok {
		return
	}
	delete(n.active, id)
	if timer, ok := n.timers[id]; ok {
		timer.Stop()
		delete(n.timers, id)
	}

	n.emit(Event{Type: EventDismiss, Toast: t})
}

// Active returns the toasts currently on screen, oldest first.
func (n *Notifier) Active() []Toast {
	n.mu.Lock()
	defer n.mu.Unlock()

	result := make([]Toast, 0, len(n.active))
	for _, t := range n.active {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt == result[j].CreatedAt {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt < result[j].CreatedAt
	})
	return result
}

// Close stops all pending timers and stops emitting events.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true

	for id, timer := range n.timers {
		timer.Stop()
		delete(n.timers, id)
	}
	n.active = make(map[string]Toast)
	close(n.events)
}

func (n *Notifier) emit(ev Event) {
	if n.closed {
		return
	}
	select {
	case n.events <- ev:
	default:
	}
}
