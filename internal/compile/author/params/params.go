package params

import (
	"convtex/internal/compile/author/cgen"
)

// Kind is how the host side binds an argument: a memory object, or the
// bytes of a value of the named kernel type.
type Kind int

const (
	Memory Kind = iota
	Int
	Int2
	Int4
	Float
)

var KindStrings = []string{
	Memory: "memory",
	Int:    "int",
	Int2:   "int2",
	Int4:   "int4",
	Float:  "float",
}

func (k Kind) String() string {
	return KindStrings[k]
}

type Param struct {
	Name string
	Type cgen.Gen
	Kind Kind
}

func (p Param) Decl() cgen.Gen {
	return cgen.Param{Type: p.Type, What: cgen.Vb(p.Name)}
}

func (p Param) Var() cgen.Gen {
	return cgen.Vb(p.Name)
}

func Value(name string, kind Kind) Param {
	var typ cgen.Gen
	switch kind {
	case Int:
		typ = cgen.Int
	case Int2:
		typ = cgen.Int2
	case Int4:
		typ = cgen.Int4
	case Float:
		typ = cgen.Float
	default:
		panic("bug")
	}
	return Param{Name: name, Type: typ, Kind: kind}
}

func Image(name string, qual, typ cgen.Gen) Param {
	return Param{
		Name: name,
		Type: cgen.Spaced{qual, typ},
		Kind: Memory,
	}
}

// List is a kernel signature in binding order.
type List []Param

func (l List) Decls() cgen.Gen {
	gs := make(cgen.CommaLines, len(l))
	for i, p := range l {
		gs[i] = p.Decl()
	}
	return gs
}

func (l List) Names() []string {
	names := make([]string, len(l))
	for i := range l {
		names[i] = l[i].Name
	}
	return names
}

func (l List) Kinds() []Kind {
	kinds := make([]Kind, len(l))
	for i := range l {
		kinds[i] = l[i].Kind
	}
	return kinds
}

func (l List) Index(name string) int {
	for i := range l {
		if l[i].Name == name {
			return i
		}
	}
	return -1
}
