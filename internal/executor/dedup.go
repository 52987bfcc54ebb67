package executor

import (
	"sync"
	"time"
)

// Dedup remembers which signals already went to the venue, so a replayed or
// re-dispatched signal cannot produce a second order. An entry is forgotten
// ttl after first sight, comfortably past any market window this engine
// trades.
type Dedup struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	expiry map[string]time.Time // signal ID -> forget-after
}

func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		ttl:    ttl,
		now:    time.Now,
		expiry: make(map[string]time.Time),
	}
}

// Seen records the signal and reports whether it was already known. The
// first call for an ID returns false; repeats return true until the entry
// expires.
func (d *Dedup) Seen(signalID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if exp, ok := d.expiry[signalID]; ok && now.Before(exp) {
		return true
	}
	d.expiry[signalID] = now.Add(d.ttl)
	return false
}

// Sweep drops expired entries and returns how many were removed.
func (d *Dedup) Sweep() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	removed := 0
	for id, exp := range d.expiry {
		if !now.Before(exp) {
			delete(d.expiry, id)
			removed++
		}
	}
	return removed
}
