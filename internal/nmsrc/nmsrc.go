package nmsrc

import "strconv"

// Src hands out identifiers that are unique within one kernel: the
// first request for a prefix gets prefix_0, the next prefix_1.
type Src struct {
	m map[string]int
}

func New() Src {
	return Src{
		m: make(map[string]int),
	}
}

func (s Src) Name(prefix string) string {
	i := s.m[prefix]
	s.m[prefix] = i + 1
	return prefix + "_" + strconv.Itoa(i)
}
