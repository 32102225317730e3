package watcher

import "github.com/tqwops/vigia/db"

// Detector decides whether a freshly polled marker is a change.
//
// It starts Uninitialized: the first observation only arms it, so a process
// restart does not push a refresh to every client. Once Armed, any difference
// from the stored marker is a change, including a transition to or from NULL.
//
// Detector is not safe for concurrent use; the owning Watcher serializes access.
type Detector struct {
	armed bool
	last  db.Marker
}

// Observe records the marker and reports whether it differs from the previous one
func (d *Detector) Observe(m db.Marker) bool {
	if !d.armed {
		d.armed = true
		d.last = m
		return false
	}
	if d.last.Equal(m) {
		return false
	}
	d.last = m
	return true
}

// Armed reports whether at least one marker has been observed
func (d *Detector) Armed() bool {
	return d.armed
}

// Last returns the most recently observed marker
func (d *Detector) Last() db.Marker {
	return d.last
}
