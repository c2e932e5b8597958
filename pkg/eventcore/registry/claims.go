package registry

import (
	"cmp"
	"slices"
	"sync"
)

// Claims assigns each key to at most one owner.
//
// A claim covers a set of keys and is all-or-nothing: if any key is owned by
// a different owner, nothing is claimed. Owners are compared with ==, so V
// should be a pointer or another comparable value.
type Claims[K cmp.Ordered, V comparable] struct {
	mu     sync.RWMutex
	owners map[K]V
}

// Mismatch describes a key that could not be released by an owner.
type Mismatch[K cmp.Ordered, V comparable] struct {
	Key     K
	Current V
	// Owned is false when no owner holds the key.
	Owned bool
}

// NewClaims creates an empty claim table.
func NewClaims[K cmp.Ordered, V comparable]() *Claims[K, V] {
	return &Claims[K, V]{owners: make(map[K]V)}
}

// Claim assigns every key to owner.
// It returns the sorted keys already held by another owner; when the result is
// non-empty the table is unchanged. Keys already held by owner are not conflicts.
func (c *Claims[K, V]) Claim(owner V, keys []K) []K {
	_, conflicts := c.ClaimNew(owner, keys)
	return conflicts
}

// ClaimNew is Claim that also reports which keys owner did not hold before
// the call, so a caller can undo exactly this claim with Release.
func (c *Claims[K, V]) ClaimNew(owner V, keys []K) (added, conflicts []K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, k := range keys {
		if cur, ok := c.owners[k]; ok && cur != owner {
			conflicts = append(conflicts, k)
		}
	}
	if len(conflicts) > 0 {
		slices.Sort(conflicts)
		return nil, slices.Compact(conflicts)
	}
	for _, k := range keys {
		if _, ok := c.owners[k]; ok {
			continue
		}
		c.owners[k] = owner
		added = append(added, k)
	}
	return added, nil
}

// Release removes the keys held by owner.
// Keys held by someone else, or by nobody, are left alone and reported.
func (c *Claims[K, V]) Release(owner V, keys []K) []Mismatch[K, V] {
	c.mu.Lock()
	defer c.mu.Unlock()

	var mismatches []Mismatch[K, V]
	for _, k := range keys {
		cur, ok := c.owners[k]
		if ok && cur == owner {
			delete(c.owners, k)
			continue
		}
		mismatches = append(mismatches, Mismatch[K, V]{Key: k, Current: cur, Owned: ok})
	}
	return mismatches
}

// Owner returns the owner of key.
func (c *Claims[K, V]) Owner(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.owners[key]
	return v, ok
}

// Has reports whether key is owned.
func (c *Claims[K, V]) Has(key K) bool {
	_, ok := c.Owner(key)
	return ok
}

// Keys returns all owned keys in ascending order.
func (c *Claims[K, V]) Keys() []K {
	c.mu.RLock()
	keys := make([]K, 0, len(c.owners))
	for k := range c.owners {
		keys = append(keys, k)
	}
	c.mu.RUnlock()
	slices.Sort(keys)
	return keys
}

// Clear drops every claim.
func (c *Claims[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.owners)
}
