// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"sort"

	"github.com/devblok/korugfx/gfx"
)

type objectKey struct {
	Type ResourceType
	File string
}

type cacheEntry struct {
	object gfx.Releasable
	refs   int
	seq    uint64
	deps   []objectKey
}

// objectCache shares created objects between holders. It belongs to the
// resource worker and is never touched from another goroutine.
type objectCache struct {
	entries map[objectKey]*cacheEntry
	seq     uint64
}

func newObjectCache() *objectCache {
	return &objectCache{entries: make(map[objectKey]*cacheEntry)}
}

// acquire returns a cached object and takes a reference on it
func (c *objectCache) acquire(key objectKey) (gfx.Releasable, bool) {
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	e.refs++
	return e.object, true
}

// insert stores a new object holding one reference. deps are released
// together with it.
func (c *objectCache) insert(key objectKey, obj gfx.Releasable, deps []objectKey) {
	c.seq++
	c.entries[key] = &cacheEntry{object: obj, refs: 1, seq: c.seq, deps: deps}
}

// release drops one reference, releasing the object and its dependencies
// once nobody holds it. Unknown keys are ignored.
func (c *objectCache) release(key objectKey) bool {
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	e.refs--
	if e.refs > 0 {
		return true
	}
	delete(c.entries, key)
	e.object.Release()
	for _, dep := range e.deps {
		c.release(dep)
	}
	return true
}

func (c *objectCache) refs(key objectKey) int {
	if e, ok := c.entries[key]; ok {
		return e.refs
	}
	return 0
}

func (c *objectCache) len() int {
	return len(c.entries)
}

// releaseAll frees every object regardless of references, newest first
// so dependents go before what they depend on.
func (c *objectCache) releaseAll() int {
	entries := make([]*cacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq > entries[j].seq })
	for _, e := range entries {
		e.object.Release()
	}
	c.entries = make(map[objectKey]*cacheEntry)
	return len(entries)
}
