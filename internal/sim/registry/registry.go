// Package registry provides the authoritative id -> profile stores shared
// by every simulation system.
package registry

import "sort"

// Registry is the single source of truth for one category of simulation
// entity. It is owned by the world state and must only be touched from the
// simulation loop goroutine; derived views (snapshots, wire payloads) are
// built from it on demand, never mirrored into a second store.
type Registry[T any] struct {
	records map[string]T
}

func New[T any]() *Registry[T] {
	return &Registry[T]{records: map[string]T{}}
}

// Register installs or replaces the profile for id and reports whether an
// entry already existed.
func (r *Registry[T]) Register(id string, profile T) bool {
	_, existed := r.records[id]
	r.records[id] = profile
	return existed
}

// Unregister removes id and reports whether it was present.
func (r *Registry[T]) Unregister(id string) bool {
	_, ok := r.records[id]
	if ok {
		delete(r.records, id)
	}
	return ok
}

func (r *Registry[T]) Get(id string) (T, bool) {
	v, ok := r.records[id]
	return v, ok
}

func (r *Registry[T]) Has(id string) bool {
	_, ok := r.records[id]
	return ok
}

func (r *Registry[T]) Len() int { return len(r.records) }

// IDs returns every registered id in lexicographic order.
func (r *Registry[T]) IDs() []string {
	ids := make([]string, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// All returns every profile ordered by id. Iteration order is part of the
// contract: systems walking a registry must see entries in the same order
// every tick or the simulation stops being deterministic.
func (r *Registry[T]) All() []T {
	ids := r.IDs()
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.records[id])
	}
	return out
}

// Each calls fn for every (id, profile) pair in id order.
func (r *Registry[T]) Each(fn func(id string, profile T)) {
	for _, id := range r.IDs() {
		fn(id, r.records[id])
	}
}

// Clear drops every entry. Used on world teardown and between test runs.
func (r *Registry[T]) Clear() {
	clear(r.records)
}
