// Package resource owns every loaded asset of the engine.
//
// Assets live in typed pools. Entries are appended on load and only freed by
// whole-kind or whole-cache teardown; each entry is released exactly once.
// Release is resolved per entry, first match wins:
//
//  1. the per-entry ReleaseFunc (general allocations, Adopt, PutWithRelease)
//  2. the per-kind destructor registered with RegisterDestructor
//  3. the payload's own Release method (Releasable)
//
// Lookups go through a per-kind hash index keyed by the dedup key; pools keep
// insertion order for Each and teardown.
package resource

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	logx "demoplay/pkg/logx"
)

// ReleaseFunc frees one payload.
type ReleaseFunc func(payload any)

// Releasable payloads free themselves when no other release is configured.
type Releasable interface {
	Release()
}

// Entry is one owned asset.
type Entry struct {
	Kind    Kind
	Key     string
	Payload any

	release  ReleaseFunc
	released bool
}

// Block is a general-purpose allocation whose Data may be resized in place
// by Allocate.
type Block struct {
	Data []byte
}

type Option func(*Cache)

// WithObserver is called with the new entry count of a kind after every
// append or teardown. It runs with the cache lock released.
func WithObserver(fn func(kind Kind, entries int)) Option {
	return func(c *Cache) { c.observe = fn }
}

type Cache struct {
	mu  sync.RWMutex
	log logx.Logger

	destructors [kindCount]ReleaseFunc
	pools       [kindCount][]*Entry
	index       [kindCount]map[string]*Entry
	blocks      map[*Block]*Entry

	loads   singleflight.Group
	observe func(kind Kind, entries int)
}

func New(log logx.Logger, opts ...Option) *Cache {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Cache{
		log:    log,
		blocks: map[*Block]*Entry{},
	}
	for k := range c.index {
		c.index[k] = map[string]*Entry{}
	}
	for _, o := range opts {
		if o != nil {
			o(c)
		}
	}
	return c
}

// RegisterDestructor installs the graphics subsystem's teardown for a kind.
func (c *Cache) RegisterDestructor(kind Kind, fn ReleaseFunc) {
	if !kind.Valid() {
		return
	}
	c.mu.Lock()
	c.destructors[kind] = fn
	c.mu.Unlock()
}

// Put appends a payload under key. Duplicate keys are still owned and
// released, but lookups keep returning the first entry.
func (c *Cache) Put(kind Kind, key string, payload any) *Entry {
	return c.PutWithRelease(kind, key, payload, nil)
}

// PutWithRelease is Put with a per-entry release overriding the kind
// destructor.
func (c *Cache) PutWithRelease(kind Kind, key string, payload any, release ReleaseFunc) *Entry {
	if !kind.Valid() {
		kind = General
	}
	e := &Entry{Kind: kind, Key: key, Payload: payload, release: release}
	c.mu.Lock()
	n := c.appendLocked(e)
	c.mu.Unlock()
	c.notify(kind, n)
	return e
}

func (c *Cache) appendLocked(e *Entry) int {
	c.pools[e.Kind] = append(c.pools[e.Kind], e)
	if e.Key != "" {
		if _, exists := c.index[e.Kind][e.Key]; !exists {
			c.index[e.Kind][e.Key] = e
		}
	}
	return len(c.pools[e.Kind])
}

// Lookup returns the first payload stored under key. A miss is not an error.
func (c *Cache) Lookup(kind Kind, key string) (any, bool) {
	if !kind.Valid() || key == "" {
		return nil, false
	}
	c.mu.RLock()
	e, ok := c.index[kind][key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return e.Payload, true
}

// Get is a typed Lookup.
func Get[T any](c *Cache, kind Kind, key string) (T, bool) {
	var zero T
	v, ok := c.Lookup(kind, key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// GetOrLoad returns the payload under key, running loader once if it is
// missing. Concurrent callers for the same key share one load. loaded
// reports whether this call stored a new entry.
func (c *Cache) GetOrLoad(kind Kind, key string, loader func() (any, error)) (payload any, loaded bool, err error) {
	if loader == nil {
		return nil, false, ErrNilLoader
	}
	if v, ok := c.Lookup(kind, key); ok {
		return v, false, nil
	}

	stored := false
	sfKey := fmt.Sprintf("%d\x00%s", kind, key)
	v, err, _ := c.loads.Do(sfKey, func() (any, error) {
		if v, ok := c.Lookup(kind, key); ok {
			return v, nil
		}
		p, err := loader()
		if err != nil {
			return nil, err
		}
		c.Put(kind, key, p)
		stored = true
		return p, nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("load %s %q: %w", kind, key, err)
	}
	return v, stored, nil
}

// Allocate is allocate-or-reuse for the general pool. A nil block creates a
// new entry; an existing block is resized in place, keeping its contents up
// to the new size and its position in the pool.
func (c *Cache) Allocate(b *Block, size int, release func(*Block)) (*Block, error) {
	if size < 0 {
		size = 0
	}
	if b == nil {
		nb := &Block{Data: make([]byte, size)}
		rel := func(p any) {
			blk, _ := p.(*Block)
			if blk == nil {
				return
			}
			if release != nil {
				release(blk)
			}
			blk.Data = nil
		}
		e := &Entry{Kind: General, Payload: nb, release: rel}
		c.mu.Lock()
		c.blocks[nb] = e
		n := c.appendLocked(e)
		c.mu.Unlock()
		c.notify(General, n)
		return nb, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.blocks[b]; !ok {
		return nil, ErrNotOwned
	}
	if size <= cap(b.Data) {
		b.Data = b.Data[:size]
	} else {
		nd := make([]byte, size)
		copy(nd, b.Data)
		b.Data = nd
	}
	return b, nil
}

// Adopt hands an externally created payload to the general pool.
func (c *Cache) Adopt(payload any, release ReleaseFunc) *Entry {
	return c.PutWithRelease(General, "", payload, release)
}

// Each visits entries of kind in insertion order until fn returns false.
// fn must not call back into the cache's mutating methods.
func (c *Cache) Each(kind Kind, fn func(e *Entry) bool) {
	if !kind.Valid() || fn == nil {
		return
	}
	c.mu.RLock()
	entries := append([]*Entry(nil), c.pools[kind]...)
	c.mu.RUnlock()
	for _, e := range entries {
		if !fn(e) {
			return
		}
	}
}

func (c *Cache) Len(kind Kind) int {
	if !kind.Valid() {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pools[kind])
}

// KindStats is the per-kind entry count.
type KindStats struct {
	Kind    string `json:"kind"`
	Entries int    `json:"entries"`
}

func (c *Cache) Stats() []KindStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]KindStats, 0, kindCount)
	for k := Kind(0); k < kindCount; k++ {
		out = append(out, KindStats{Kind: k.String(), Entries: len(c.pools[k])})
	}
	return out
}

// DeinitKind releases every entry of one kind and empties its pool.
// It returns the number of entries released.
func (c *Cache) DeinitKind(kind Kind) int {
	if !kind.Valid() {
		return 0
	}
	c.mu.Lock()
	entries := c.pools[kind]
	c.pools[kind] = nil
	c.index[kind] = map[string]*Entry{}
	if kind == General {
		c.blocks = map[*Block]*Entry{}
	}
	destructor := c.destructors[kind]
	c.mu.Unlock()

	n := 0
	for _, e := range entries {
		if c.release(e, destructor) {
			n++
		}
	}
	if len(entries) > 0 {
		c.log.Debug("pool released", logx.String("kind", kind.String()), logx.Int("entries", n))
	}
	c.notify(kind, 0)
	return n
}

// DeinitGeneral releases only the general pool.
func (c *Cache) DeinitGeneral() int { return c.DeinitKind(General) }

// Deinit releases every pool in kind order.
func (c *Cache) Deinit() int {
	total := 0
	for _, k := range Kinds() {
		total += c.DeinitKind(k)
	}
	return total
}

func (c *Cache) release(e *Entry, destructor ReleaseFunc) (ok bool) {
	if e == nil || e.released {
		return false
	}
	e.released = true

	defer func() {
		if r := recover(); r != nil {
			c.log.Error("resource release panic",
				logx.String("kind", e.Kind.String()),
				logx.String("key", e.Key),
				logx.Any("panic", r),
				logx.Stack(logx.CallerStack(12)),
			)
		}
	}()

	switch {
	case e.release != nil:
		e.release(e.Payload)
	case destructor != nil:
		destructor(e.Payload)
	default:
		if r, ok := e.Payload.(Releasable); ok {
			r.Release()
		}
	}
	return true
}

func (c *Cache) notify(kind Kind, n int) {
	if c.observe != nil {
		c.observe(kind, n)
	}
}
