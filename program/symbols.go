package program

// symbols assigns dense indices to names in first-seen order.
type symbols struct {
	index map[string]int
	names []string
}

func newSymbols() symbols {
	return symbols{index: make(map[string]int)}
}

// declare is idempotent and returns the index of name.
func (s *symbols) declare(name string) int {
	if i, ok := s.index[name]; ok {
		return i
	}
	i := len(s.names)
	s.index[name] = i
	s.names = append(s.names, name)
	return i
}

func (s *symbols) lookup(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

func (s *symbols) len() int { return len(s.names) }
