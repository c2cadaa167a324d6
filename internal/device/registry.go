package device

import (
	"fmt"
	"sync"
)

// DuplicatePolicy decides what happens when a record with a known key arrives
type DuplicatePolicy string

const (
	// KeepFirst keeps the first-seen record and discards later ones
	KeepFirst DuplicatePolicy = "first"
	// KeepLatest replaces the stored record but keeps its position
	KeepLatest DuplicatePolicy = "latest"
)

// ParseDuplicatePolicy validates a policy name; empty means KeepFirst
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(s) {
	case "", KeepFirst:
		return KeepFirst, nil
	case KeepLatest:
		return KeepLatest, nil
	}
	return "", fmt.Errorf("unknown duplicate policy %q (want %q or %q)", s, KeepFirst, KeepLatest)
}

// Registry holds the devices discovered in a session, unique by Key, in
// insertion order.
type Registry struct {
	mu      sync.RWMutex
	policy  DuplicatePolicy
	records []Record
	byKey   map[Key]int
}

// NewRegistry creates an empty registry
func NewRegistry(policy DuplicatePolicy) *Registry {
	if policy == "" {
		policy = KeepFirst
	}
	return &Registry{
		policy: policy,
		byKey:  make(map[Key]int),
	}
}

// Add stores r and returns true if its key was new. For a duplicate it
// returns false; under KeepLatest the stored record is replaced.
func (r *Registry) Add(rec Record) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := rec.Key()
	if i, ok := r.byKey[key]; ok {
		if r.policy == KeepLatest {
			r.records[i] = rec
		}
		return false
	}

	r.byKey[key] = len(r.records)
	r.records = append(r.records, rec)
	return true
}

// Clear removes all records
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = nil
	r.byKey = make(map[Key]int)
}

// All returns a copy of the records in insertion order
func (r *Registry) All() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Len returns the number of records
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Lookup finds a device by name, then IP, then serial. The first record in
// insertion order wins within each identifier type.
func (r *Registry) Lookup(query string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matchers := []func(Record) bool{
		func(rec Record) bool { return rec.Name == query },
		func(rec Record) bool { return rec.IP == query },
		func(rec Record) bool { return rec.Serial == query },
	}
	for _, match := range matchers {
		for _, rec := range r.records {
			if match(rec) {
				return rec, nil
			}
		}
	}
	return Record{}, fmt.Errorf("%w: %s", ErrNotFound, query)
}
