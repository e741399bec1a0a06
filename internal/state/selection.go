package state

// Selection is the ordered set of shape ids selected by the local actor.
type Selection struct {
	ids []string
}

// NewSelection returns an empty selection.
func NewSelection() *Selection { return &Selection{} }

// Contains reports whether id is selected.
func (s *Selection) Contains(id string) bool {
	return s.index(id) >= 0
}

func (s *Selection) index(id string) int {
	for i, v := range s.ids {
		if v == id {
			return i
		}
	}
	return -1
}

// Add appends id and reports whether it was new.
func (s *Selection) Add(id string) bool {
	if s.Contains(id) {
		return false
	}
	s.ids = append(s.ids, id)
	return true
}

// Remove drops id and reports whether it was present.
func (s *Selection) Remove(id string) bool {
	i := s.index(id)
	if i < 0 {
		return false
	}
	s.ids = append(s.ids[:i], s.ids[i+1:]...)
	return true
}

// Rename replaces from with to in place, keeping its position.
func (s *Selection) Rename(from, to string) {
	if i := s.index(from); i >= 0 {
		s.ids[i] = to
	}
}

// Clear empties the selection and returns what was selected.
func (s *Selection) Clear() []string {
	out := s.ids
	s.ids = nil
	return out
}

// IDs returns a copy of the selection in order.
func (s *Selection) IDs() []string {
	return append([]string(nil), s.ids...)
}

// Len returns the number of selected shapes.
func (s *Selection) Len() int { return len(s.ids) }

// Primary returns the first selected id.
func (s *Selection) Primary() (string, bool) {
	if len(s.ids) == 0 {
		return "", false
	}
	return s.ids[0], true
}
