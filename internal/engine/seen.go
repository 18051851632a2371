package engine

// seenSet remembers the last capacity message ids to suppress transport
// redeliveries. The live channel is at-least-once: a brief reconnect can
// replay a frame, and without this filter it would be double-appended and
// double-counted.
type seenSet struct {
	capacity int
	order    []string
	ids      map[string]struct{}
}

func newSeenSet(capacity int) *seenSet {
	return &seenSet{
		capacity: capacity,
		ids:      make(map[string]struct{}, capacity),
	}
}

// observe records id and reports whether it was already present. Empty ids
// are never deduplicated.
func (s *seenSet) observe(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := s.ids[id]; ok {
		return true
	}
	if len(s.order) >= s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.ids, oldest)
	}
	s.order = append(s.order, id)
	s.ids[id] = struct{}{}
	return false
}
