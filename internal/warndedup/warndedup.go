// Package warndedup implements the warn_once facility: a shared, thread-safe
// set of warning keys that have already been printed, so repeated conditions
// (a malformed candle contract, a deprecated config alias, a degraded cache
// layout) are logged only on first occurrence.
package warndedup

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Dedup tracks which warning keys have already fired.
type Dedup struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// New creates an empty Dedup.
func New() *Dedup {
	return &Dedup{seen: make(map[string]struct{})}
}

// WarnOnce logs msg at warn level the first time key is seen, and is a no-op
// on every subsequent call for the same key. The log call happens inside the
// lock so two goroutines racing on the same key cannot both print.
func (d *Dedup) WarnOnce(key, msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		return
	}
	d.seen[key] = struct{}{}
	log.Warn().Str("key", key).Msg(msg)
}

// Seen reports whether key has already fired, without marking it.
func (d *Dedup) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[key]
	return ok
}

// Count returns the number of distinct keys that have fired.
func (d *Dedup) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
