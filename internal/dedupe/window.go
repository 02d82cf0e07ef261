// ABOUTME: Size-limited window of recently seen keys, compared by event timestamp
// ABOUTME: Used by the thread reconciler to drop id-less realtime echoes

package dedupe

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// DefaultTTL is the fallback echo window.
const DefaultTTL = 5 * time.Second

// DefaultMaxSize bounds the number of keys kept by a Window.
const DefaultMaxSize = 512

type windowEntry struct {
	at      time.Time
	element *list.Element
}

// Window remembers keys together with the time they were observed. A key is
// considered seen at time t when it was marked within ttl of t, in either
// direction. Oldest keys are evicted first once maxSize is reached.
type Window struct {
	mu      sync.Mutex
	seen    map[string]*windowEntry
	order   *list.List // keys, least recently marked at front
	ttl     time.Duration
	maxSize int
}

// New creates a Window. Non-positive arguments fall back to the defaults.
func New(ttl time.Duration, maxSize int) *Window {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Window{
		seen:    make(map[string]*windowEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Key joins parts into a single window key.
func Key(parts ...string) string {
	return strings.Join(parts, "\x00")
}

// Seen reports whether key was marked within the window of at.
func (w *Window) Seen(key string, at time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seenLocked(key, at)
}

// CheckAndMark atomically reports whether key was already seen near at, and
// marks it when it was not.
func (w *Window) CheckAndMark(key string, at time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.seenLocked(key, at) {
		return true
	}
	w.markLocked(key, at)
	return false
}

// Mark records key as observed at the given time.
func (w *Window) Mark(key string, at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.markLocked(key, at)
}

// Reset forgets every key.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seen = make(map[string]*windowEntry)
	w.order.Init()
}

func (w *Window) seenLocked(key string, at time.Time) bool {
	entry, ok := w.seen[key]
	if !ok {
		return false
	}
	d := at.Sub(entry.at)
	if d < 0 {
		d = -d
	}
	return d < w.ttl
}

// markLocked must be called with mu held.
func (w *Window) markLocked(key string, at time.Time) {
	if entry, ok := w.seen[key]; ok {
		entry.at = at
		w.order.MoveToBack(entry.element)
		return
	}

	if len(w.seen) >= w.maxSize {
		w.evictOldest()
	}

	elem := w.order.PushBack(key)
	w.seen[key] = &windowEntry{at: at, element: elem}
}

// evictOldest must be called with mu held.
func (w *Window) evictOldest() {
	front := w.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	w.order.Remove(front)
	delete(w.seen, key)
}
