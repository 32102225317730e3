package notify

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Record describes one past broadcast
type Record struct {
	Seq       uint64    `json:"seq"`
	At        time.Time `json:"at"`
	Event     Event     `json:"event"`
	Delivered int       `json:"delivered"`
}

// History keeps the most recent broadcasts for operators. It is never replayed
// to clients: a client that missed an event waits for the next one.
type History struct {
	cache *lru.Cache[uint64, Record]
	seq   atomic.Uint64
}

// NewHistory creates a history bounded to size records
func NewHistory(size int) (*History, error) {
	cache, err := lru.New[uint64, Record](size)
	if err != nil {
		return nil, err
	}
	return &History{cache: cache}, nil
}

// Add records a broadcast and returns its sequence number
func (h *History) Add(e Event, delivered int) uint64 {
	if h == nil {
		return 0
	}
	seq := h.seq.Add(1)
	h.cache.Add(seq, Record{
		Seq:       seq,
		At:        time.Now().UTC(),
		Event:     e,
		Delivered: delivered,
	})
	return seq
}

// Recent returns up to limit records, newest first. limit <= 0 returns all.
func (h *History) Recent(limit int) []Record {
	if h == nil {
		return nil
	}

	keys := h.cache.Keys() // oldest to newest
	if limit <= 0 || limit > len(keys) {
		limit = len(keys)
	}

	out := make([]Record, 0, limit)
	for i := len(keys) - 1; i >= 0 && len(out) < limit; i-- {
		if rec, ok := h.cache.Peek(keys[i]); ok {
			out = append(out, rec)
		}
	}
	return out
}

// Len returns the number of retained records
func (h *History) Len() int {
	if h == nil {
		return 0
	}
	return h.cache.Len()
}
