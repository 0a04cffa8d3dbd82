// Package transform is the dimensional transformation and fact-metric
// computation layer: it maps operational rows to dimension rows with
// synthetic surrogate keys, resolves foreign keys across dimensions in
// dependency order, and computes the derived measures of the fact tables.
package transform

import (
	"sort"

	"sgpetl/internal/recordset"
)

// KeyMap is the explicit natural-key -> surrogate-key dictionary built by a
// dimension before emission. Surrogate assignment is deterministic: distinct
// natural keys are sorted and numbered from 1 (or from max(prior)+1 when a
// prior map from an earlier run is merged in), so a rerun over the same
// natural-key domain produces identical keys.
type KeyMap struct {
	ids  map[string]int64
	next int64
}

// NewKeyMap returns an empty map assigning from 1.
func NewKeyMap() *KeyMap {
	return &KeyMap{ids: make(map[string]int64), next: 1}
}

// NewKeyMapFrom seeds a map with surrogate keys assigned by a previous run,
// preserving key stability under incremental extraction. New natural keys
// continue above the highest prior surrogate.
func NewKeyMapFrom(prior map[string]int64) *KeyMap {
	m := NewKeyMap()
	for k, id := range prior {
		if k == "" {
			continue
		}
		m.ids[k] = id
		if id >= m.next {
			m.next = id + 1
		}
	}
	return m
}

// Assign allocates surrogate keys for every distinct non-null natural key
// in naturals. Keys already present keep their surrogate; new keys are
// sorted and numbered in order. Null/empty naturals are skipped and the
// count of skipped values returned.
func (m *KeyMap) Assign(naturals []any) (skipped int) {
	var fresh []string
	seen := make(map[string]struct{})
	for _, v := range naturals {
		k := recordset.Key(v)
		if k == "" {
			skipped++
			continue
		}
		if _, ok := m.ids[k]; ok {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		fresh = append(fresh, k)
	}
	sort.Strings(fresh)
	for _, k := range fresh {
		m.ids[k] = m.next
		m.next++
	}
	return skipped
}

// Lookup resolves a natural-key value to its surrogate key.
func (m *KeyMap) Lookup(v any) (int64, bool) {
	id, ok := m.ids[recordset.Key(v)]
	return id, ok
}

// Len returns the number of assigned keys.
func (m *KeyMap) Len() int { return len(m.ids) }

// Snapshot copies the dictionary (natural -> surrogate), for persisting
// alongside the dimension.
func (m *KeyMap) Snapshot() map[string]int64 {
	out := make(map[string]int64, len(m.ids))
	for k, v := range m.ids {
		out[k] = v
	}
	return out
}
