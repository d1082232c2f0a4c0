package hc

import "convtex/internal/compile/author/cgen"

type Section int

const (
	First Section = iota
	Comment
	Extensions
	Types
	Samplers
	Macros
	Kernel
	Last
	sectionCount
)

type Sections struct {
	a [sectionCount][]byte
}

func (s *Sections) Append(to Section, from ...cgen.Gen) {
	for _, gen := range from {
		if gen != nil {
			s.a[to] = gen.Append(s.a[to])
		}
	}
}

// Join concatenates the sections in order, indenting one tab per open
// brace or paren that ends a line.
func (s *Sections) Join() []byte {
	return s.join(First, Last)
}

func (s *Sections) join(first, last Section) (to []byte) {
	const (
		brace1  = '{'
		brace2  = '}'
		newline = '\n'
		paren1  = '('
		paren2  = ')'
		tab     = '\t'
	)
	var prev byte
	var indent []byte
	for _, from := range s.a[first : last+1] {
		if len(from) == 0 {
			continue
		}
		if len(to) != 0 && prev == newline {
			to = append(to, newline)
		}
		for _, curr := range from {
			switch curr {
			case newline:
				if prev == brace1 || prev == paren1 {
					indent = append(indent, tab)
				}
			default:
				if prev == newline {
					if (curr == brace2 || curr == paren2) && len(indent) != 0 {
						indent = indent[:len(indent)-1]
					}
					to = append(to, indent...)
				}
			}
			to = append(to, curr)
			prev = curr
		}
	}
	return
}
