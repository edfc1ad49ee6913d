package clock

import (
	"sort"
	"sync"
	"time"
)

// Counters measures named wall-clock intervals (warm-up, effect init, ...).
type Counters struct {
	mu      sync.Mutex
	now     func() time.Time
	started map[string]time.Time
	results map[string]CounterSample
}

type CounterSample struct {
	Name  string        `json:"name"`
	Took  time.Duration `json:"took"`
	Count int           `json:"count"`
	Total time.Duration `json:"total"`
}

// NewCounters creates a counter set. A nil now uses time.Now.
func NewCounters(now func() time.Time) *Counters {
	if now == nil {
		now = time.Now
	}
	return &Counters{
		now:     now,
		started: map[string]time.Time{},
		results: map[string]CounterSample{},
	}
}

func (c *Counters) Start(name string) {
	c.mu.Lock()
	c.started[name] = c.now()
	c.mu.Unlock()
}

// End stops the named counter and returns the measured interval.
// ok is false if Start was never called for name.
func (c *Counters) End(name string) (took time.Duration, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.started[name]
	if !ok {
		return 0, false
	}
	delete(c.started, name)
	took = c.now().Sub(st)
	r := c.results[name]
	r.Name = name
	r.Took = took
	r.Count++
	r.Total += took
	c.results[name] = r
	return took, true
}

// Snapshot returns every finished counter sorted by name.
func (c *Counters) Snapshot() []CounterSample {
	c.mu.Lock()
	out := make([]CounterSample, 0, len(c.results))
	for _, r := range c.results {
		out = append(out, r)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
