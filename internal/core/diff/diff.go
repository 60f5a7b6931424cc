// Package diff computes which indexed identifiers disappeared from the
// remote listing.
package diff

// Set is a set of identifiers
type Set map[string]struct{}

// NewSet creates a set holding ids.
func NewSet(ids ...string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id
func (s Set) Add(id string) {
	s[id] = struct{}{}
}

// Has reports whether id is in the set
func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Missing returns the identifiers of existing that were not seen, in the
// order of existing. Duplicates in existing are reported once.
func Missing(existing []string, seen Set) []string {
	missing := []string{}
	reported := make(Set)
	for _, id := range existing {
		if seen.Has(id) || reported.Has(id) {
			continue
		}
		reported.Add(id)
		missing = append(missing, id)
	}
	return missing
}
