package webhooks

import (
	"strings"
	"sync"
	"time"
)

// DeliveryDeduper remembers delivery ids for a window so a retried delivery
// that the receiver already handled is acknowledged without running the
// handler twice.
type DeliveryDeduper struct {
	window     time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time
}

type DedupeOptions struct {
	Window     time.Duration
	MaxEntries int
	Now        func() time.Time
}

func NewDeliveryDeduper(opts DedupeOptions) *DeliveryDeduper {
	window := opts.Window
	if window <= 0 {
		window = 24 * time.Hour
	}
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &DeliveryDeduper{
		window:     window,
		maxEntries: maxEntries,
		now:        now,
		entries:    map[string]time.Time{},
	}
}

// Seen reports whether id was marked inside the window.
func (d *DeliveryDeduper) Seen(id string) bool {
	if d == nil {
		return false
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	now := d.now().UTC()
	d.mu.Lock()
	defer d.mu.Unlock()
	seenAt, ok := d.entries[id]
	return ok && now.Sub(seenAt) < d.window
}

// Mark records id as handled.
func (d *DeliveryDeduper) Mark(id string) {
	if d == nil {
		return
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	now := d.now().UTC()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[id] = now
	d.cleanup(now)
}

func (d *DeliveryDeduper) cleanup(now time.Time) {
	for key, seenAt := range d.entries {
		if now.Sub(seenAt) >= d.window {
			delete(d.entries, key)
		}
	}
	if len(d.entries) <= d.maxEntries {
		return
	}
	// Over capacity with everything still in window: drop the oldest.
	for len(d.entries) > d.maxEntries {
		oldestKey := ""
		var oldest time.Time
		for key, seenAt := range d.entries {
			if oldestKey == "" || seenAt.Before(oldest) {
				oldestKey, oldest = key, seenAt
			}
		}
		delete(d.entries, oldestKey)
	}
}
