// ABOUTME: Time-window record of inbound message ids used to drop webhook redeliveries
// ABOUTME: Entries expire lazily in arrival order; capacity evicts the oldest id first

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Defaults suited to WhatsApp redelivery, which retries for a few minutes.
const (
	DefaultTTL      = 10 * time.Minute
	DefaultCapacity = 50_000
)

type seenID struct {
	id string
	at time.Time
}

// Window remembers message ids for ttl after they are first claimed.
// Ids are kept in arrival order, so expired ids are always at the front and
// are dropped on each call without a background sweeper.
type Window struct {
	mu       sync.Mutex
	ids      map[string]*list.Element
	order    *list.List // of seenID, oldest at front
	ttl      time.Duration
	capacity int
	now      func() time.Time
}

// NewWindow creates a Window. Non-positive arguments select the defaults.
func NewWindow(ttl time.Duration, capacity int) *Window {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{
		ids:      make(map[string]*list.Element),
		order:    list.New(),
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
	}
}

// Claim records id and reports whether the caller is the first to see it
// within the window. A redelivered id returns false. Claiming does not extend
// an id's lifetime.
func (w *Window) Claim(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.expireLocked(now)

	if _, ok := w.ids[id]; ok {
		return false
	}
	if w.order.Len() >= w.capacity {
		w.removeLocked(w.order.Front())
	}
	w.ids[id] = w.order.PushBack(seenID{id: id, at: now})
	return true
}

// Release forgets id so a later delivery is processed again. Handlers call it
// when they fail before doing any user-visible work.
func (w *Window) Release(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if el, ok := w.ids[id]; ok {
		w.removeLocked(el)
	}
}

// Len returns the number of unexpired ids.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.expireLocked(w.now())
	return w.order.Len()
}

func (w *Window) expireLocked(now time.Time) {
	for el := w.order.Front(); el != nil; el = w.order.Front() {
		if now.Sub(el.Value.(seenID).at) < w.ttl {
			return
		}
		w.removeLocked(el)
	}
}

func (w *Window) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	delete(w.ids, el.Value.(seenID).id)
	w.order.Remove(el)
}
