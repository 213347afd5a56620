package control

import (
	"sort"
	"time"

	"github.com/quantfabric/opscore/internal/intent"
)

// Event is one intent state transition. Events are delivered synchronously,
// in the order the transitions occurred.
type Event struct {
	IntentID  string          `json:"intent_id"`
	Status    intent.Status   `json:"status"`
	Previous  intent.Status   `json:"previous_status"`
	Timestamp time.Time       `json:"timestamp"`
	Receipt   *intent.Receipt `json:"receipt,omitempty"`
}

// bus fans transition events out to subscribers. Delivery happens under the
// service lock, which is what guarantees in-order delivery; subscribers must
// not call back into the Service. The closed flag guarantees silence after
// shutdown.
type bus struct {
	nextID int
	subs   map[int]func(Event)
	closed bool
}

func newBus() *bus {
	return &bus{subs: make(map[int]func(Event))}
}

func (b *bus) subscribe(fn func(Event)) int {
	b.nextID++
	b.subs[b.nextID] = fn
	return b.nextID
}

func (b *bus) unsubscribe(id int) {
	delete(b.subs, id)
}

func (b *bus) emit(ev Event) {
	if b.closed {
		return
	}
	// Stable delivery order across subscribers.
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		b.subs[id](ev)
	}
}

func (b *bus) close() {
	b.closed = true
	b.subs = make(map[int]func(Event))
}
