// Package msgcache is the optional local message cache: an in-memory map
// keyed by (chat, message id), hydrated from a snapshot at startup and
// written back on a fixed interval. It is best effort; the protocol
// library remains authoritative for message content.
package msgcache

import (
	"sort"
	"sync"
)

// Key addresses one cached message.
type Key struct {
	Chat string `cbor:"chat" json:"chat"`
	ID   string `cbor:"id" json:"id"`
}

// PollDef is the definition of a cached poll message.
type PollDef struct {
	Name    string   `cbor:"name" json:"name"`
	Options []string `cbor:"options" json:"options"`
}

// VoteRecord is a stored poll vote.
type VoteRecord struct {
	Voter    string   `cbor:"voter" json:"voter"`
	Selected [][]byte `cbor:"selected" json:"selected"`
	// At is unix seconds.
	At int64 `cbor:"at" json:"at"`
}

// Record is one cached message.
type Record struct {
	Key    Key    `cbor:"key" json:"key"`
	Sender string `cbor:"sender,omitempty" json:"sender,omitempty"`
	FromMe bool   `cbor:"from_me,omitempty" json:"from_me,omitempty"`
	Text   string `cbor:"text,omitempty" json:"text,omitempty"`
	// Timestamp is unix seconds.
	Timestamp int64        `cbor:"ts" json:"ts"`
	Poll      *PollDef     `cbor:"poll,omitempty" json:"poll,omitempty"`
	Votes     []VoteRecord `cbor:"votes,omitempty" json:"votes,omitempty"`
}

// Cache is safe for concurrent use; the flusher snapshots it while the
// dispatcher writes to it.
type Cache struct {
	mu      sync.RWMutex
	records map[Key]Record
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{records: make(map[Key]Record)}
}

// Get returns the record for key. A miss returns false, never an error.
func (c *Cache) Get(key Key) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.records[key]
	return r, ok
}

// Put stores r, replacing any record with the same key. Votes already
// recorded for the key are kept when r carries none.
func (c *Cache) Put(r Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.records[r.Key]; ok && len(r.Votes) == 0 {
		r.Votes = prev.Votes
	}
	c.records[r.Key] = r
}

// AddVote appends v to the votes of the record at key and returns the
// updated record. It reports false when the key is not cached.
func (c *Cache) AddVote(key Key, v VoteRecord) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.records[key]
	if !ok {
		return Record{}, false
	}
	r.Votes = append(append([]VoteRecord(nil), r.Votes...), v)
	c.records[key] = r
	return r, true
}

// Prune drops records whose timestamp is before cutoff (unix seconds)
// and returns how many were removed.
func (c *Cache) Prune(cutoff int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, r := range c.records {
		if r.Timestamp < cutoff {
			delete(c.records, k)
			n++
		}
	}
	return n
}

// Len returns the number of cached records.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Snapshot returns every record sorted by chat, then id.
func (c *Cache) Snapshot() []Record {
	c.mu.RLock()
	out := make([]Record, 0, len(c.records))
	for _, r := range c.records {
		out = append(out, r)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Chat != out[j].Key.Chat {
			return out[i].Key.Chat < out[j].Key.Chat
		}
		return out[i].Key.ID < out[j].Key.ID
	})
	return out
}

// Restore replaces the cache contents with records.
func (c *Cache) Restore(records []Record) {
	m := make(map[Key]Record, len(records))
	for _, r := range records {
		m[r.Key] = r
	}
	c.mu.Lock()
	c.records = m
	c.mu.Unlock()
}
