package watcher

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tqwops/vigia/cfg"
	"github.com/tqwops/vigia/db"
	"github.com/tqwops/vigia/notify"
)

// ErrUnknownWatcher is returned when looking up a watcher that is not configured
var ErrUnknownWatcher = errors.New("unknown watcher")

// Registry owns every configured watcher
type Registry struct {
	watchers map[string]*Watcher
}

// NewRegistry creates a registry from already constructed watchers
func NewRegistry(watchers ...*Watcher) (*Registry, error) {
	r := &Registry{watchers: make(map[string]*Watcher, len(watchers))}
	for _, w := range watchers {
		if _, exists := r.watchers[w.Name()]; exists {
			return nil, fmt.Errorf("duplicate watcher %q", w.Name())
		}
		r.watchers[w.Name()] = w
	}
	return r, nil
}

// NewRegistryFromConfig builds one watcher per [[watch]] entry, all reading from conn
func NewRegistryFromConfig(conn *sql.DB, c *cfg.Configuration, b notify.Broadcaster) (*Registry, error) {
	queryTimeout := time.Duration(c.Database.QueryTimeoutMS) * time.Millisecond

	watchers := make([]*Watcher, 0, len(c.Watches))
	for _, wc := range c.Watches {
		source, err := db.NewFreshnessSource(conn, c.Database.Driver, wc.Table, wc.Column)
		if err != nil {
			return nil, fmt.Errorf("watcher %s: %w", wc.Name, err)
		}

		w, err := New(Config{
			Name:         wc.Name,
			Target:       wc.Target,
			Source:       source,
			Broadcaster:  b,
			Interval:     time.Duration(wc.IntervalMS) * time.Millisecond,
			QueryTimeout: queryTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("watcher %s: %w", wc.Name, err)
		}

		log.Debug().
			Str("watcher", wc.Name).
			Str("query", source.Query()).
			Msg("Configured watcher")

		watchers = append(watchers, w)
	}

	return NewRegistry(watchers...)
}

// StartAll starts every watcher
func (r *Registry) StartAll() {
	for _, w := range r.sorted() {
		w.Start()
	}
}

// StopAll stops every watcher and waits for their loops to exit
func (r *Registry) StopAll() {
	for _, w := range r.sorted() {
		w.Stop()
	}
}

// Get returns the named watcher
func (r *Registry) Get(name string) (*Watcher, error) {
	w, ok := r.watchers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWatcher, name)
	}
	return w, nil
}

// Statuses returns the status of every watcher ordered by name
func (r *Registry) Statuses() []Status {
	watchers := r.sorted()
	out := make([]Status, 0, len(watchers))
	for _, w := range watchers {
		out = append(out, w.Status())
	}
	return out
}

// ArmedStates reports per watcher whether it has observed its first marker
func (r *Registry) ArmedStates() map[string]bool {
	out := make(map[string]bool, len(r.watchers))
	for name, w := range r.watchers {
		out[name] = w.Armed()
	}
	return out
}

// Len returns the number of watchers
func (r *Registry) Len() int {
	return len(r.watchers)
}

func (r *Registry) sorted() []*Watcher {
	out := make([]*Watcher, 0, len(r.watchers))
	for _, w := range r.watchers {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
