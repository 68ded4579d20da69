package eventlog

import (
	"time"

	"golang.org/x/time/rate"
)

// Poller implements the incremental fetch-since pattern for transcript
// refresh: it remembers the highest id seen and returns only newer
// events, rate-limited so aggressive callers cannot hammer the store.
type Poller struct {
	store   *Store
	filter  Filter
	lastID  int64
	limiter *rate.Limiter
}

// NewPoller creates a poller scoped by filter. minInterval is the
// smallest spacing between actual store queries; calls inside the
// window return no events without touching the store.
func NewPoller(store *Store, filter Filter, minInterval time.Duration) *Poller {
	if minInterval <= 0 {
		minInterval = 800 * time.Millisecond
	}
	return &Poller{
		store:   store,
		filter:  filter,
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
	}
}

// Poll returns events newer than the last id seen, or nil when inside
// the rate-limit window.
func (p *Poller) Poll() ([]Event, error) {
	if !p.limiter.Allow() {
		return nil, nil
	}
	events, err := p.store.ListSince(p.lastID, p.filter)
	if err != nil {
		return nil, err
	}
	if len(events) > 0 {
		p.lastID = events[len(events)-1].ID
	}
	return events, nil
}

// Reset rewinds the poller so the next Poll starts after afterID.
func (p *Poller) Reset(afterID int64) {
	p.lastID = afterID
}

// LastID returns the highest event id the poller has seen.
func (p *Poller) LastID() int64 {
	return p.lastID
}
