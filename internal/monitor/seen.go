package monitor

import "strings"

const SeenCapacity = 256

// seenSet remembers the most recent transaction hashes, evicting the oldest
// once full.
type seenSet struct {
	ring []string
	next int
	set  map[string]struct{}
}

func newSeenSet(capacity int) *seenSet {
	if capacity <= 0 {
		capacity = SeenCapacity
	}
	return &seenSet{ring: make([]string, 0, capacity), set: make(map[string]struct{}, capacity)}
}

func (s *seenSet) Has(hash string) bool {
	_, ok := s.set[strings.ToLower(hash)]
	return ok
}

// Add records hash and reports whether it was new.
func (s *seenSet) Add(hash string) bool {
	key := strings.ToLower(hash)
	if _, ok := s.set[key]; ok {
		return false
	}
	if len(s.ring) < cap(s.ring) {
		s.ring = append(s.ring, key)
	} else {
		delete(s.set, s.ring[s.next])
		s.ring[s.next] = key
		s.next = (s.next + 1) % len(s.ring)
	}
	s.set[key] = struct{}{}
	return true
}

func (s *seenSet) Len() int { return len(s.set) }
