package cache

import (
	"sort"
	"strings"
	"sync"

	"cheqmate/internal/fingerprint"
)

// Entry is the memoized result of extracting and fingerprinting one
// document. Text is kept so the AI scorer can rerun without re-extraction.
type Entry struct {
	Fingerprint *fingerprint.Fingerprint
	Text        string
}

// Cache memoizes fingerprint computation per assignment. Entries never
// expire on their own; the host clears an assignment's entries explicitly.
// A hit returns exactly the value a fresh computation would produce.
type Cache struct {
	mu      sync.RWMutex
	entries map[int64]map[string]*Entry
}

func New() *Cache {
	return &Cache{entries: map[int64]map[string]*Entry{}}
}

// ContentKey derives the cache key for a document. Skip patterns change
// the fingerprinted body, so they are folded into the key alongside the
// content hash.
func ContentKey(contentHash string, skipPatterns []string) string {
	if len(skipPatterns) == 0 {
		return contentHash
	}
	patterns := make([]string, 0, len(skipPatterns))
	for _, p := range skipPatterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			patterns = append(patterns, p)
		}
	}
	sort.Strings(patterns)
	return contentHash + "|" + strings.Join(patterns, ",")
}

// GetOrCompute returns the cached entry for (assignmentID, key) or runs
// compute and stores its result. The second return reports a cache hit.
func (c *Cache) GetOrCompute(assignmentID int64, key string, compute func() (*Entry, error)) (*Entry, bool, error) {
	c.mu.RLock()
	if byKey, ok := c.entries[assignmentID]; ok {
		if e, ok := byKey[key]; ok {
			c.mu.RUnlock()
			return e, true, nil
		}
	}
	c.mu.RUnlock()

	e, err := compute()
	if err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	byKey, ok := c.entries[assignmentID]
	if !ok {
		byKey = map[string]*Entry{}
		c.entries[assignmentID] = byKey
	}
	// A concurrent computation of the same key may have landed first;
	// keep the existing entry so repeated lookups stay stable.
	if existing, ok := byKey[key]; ok {
		c.mu.Unlock()
		return existing, false, nil
	}
	byKey[key] = e
	c.mu.Unlock()
	return e, false, nil
}

// Invalidate drops every entry belonging to an assignment and returns the
// exact number removed.
func (c *Cache) Invalidate(assignmentID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries[assignmentID])
	delete(c.entries, assignmentID)
	return n
}

// Len reports the total number of cached entries across assignments.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, byKey := range c.entries {
		n += len(byKey)
	}
	return n
}
