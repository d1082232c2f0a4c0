package cgen

import (
	"strconv"
	"strings"
)

const (
	assign         = "="
	asterisk       = "*"
	backslash      = "\\"
	brace1         = "{"
	brace2         = "}"
	cmpGE          = ">="
	cmpL           = "<"
	colon          = ":"
	comma          = ","
	constant       = "__constant"
	define         = "define"
	dot            = "."
	else_          = "else"
	empty          = ""
	enable         = "enable"
	extension      = "OPENCL EXTENSION"
	floatSuffix    = "f"
	for_           = "for"
	global         = "__global"
	hash           = "#"
	if_            = "if"
	inc            = "++"
	kernel         = "__kernel"
	land           = "&&"
	lor            = "||"
	minus          = "-"
	newline        = "\n"
	paren1         = "("
	paren2         = ")"
	percent        = "%"
	plus           = "+"
	pragma         = "pragma"
	questionMark   = "?"
	readOnly       = "__read_only"
	return_        = "return"
	semicolon      = ";"
	slash          = "/"
	slashes        = "//"
	space          = " "
	squareBracket1 = "["
	squareBracket2 = "]"
	void           = "void"
	writeOnly      = "__write_only"
	zero           = "0"
)

type Gen interface {
	Append(to []byte) []byte
}

type Gens []Gen

func (gs Gens) Append(to []byte) []byte {
	for _, gen := range gs {
		if gen != nil {
			to = gen.Append(to)
		}
	}
	return to
}

type Add struct {
	Expr1, Expr2 Gen
}

func (a Add) Append(to []byte) []byte {
	to = a.Expr1.Append(to)
	to = append(to, plus...)
	to = a.Expr2.Append(to)
	return to
}

type AddAssign struct {
	Expr1, Expr2 Gen
}

func (a AddAssign) Append(to []byte) []byte {
	to = a.Expr1.Append(to)
	to = append(to, space+plus+assign+space...)
	to = a.Expr2.Append(to)
	return to
}

type Assign struct {
	Expr1, Expr2 Gen
}

func (a Assign) Append(to []byte) []byte {
	to = a.Expr1.Append(to)
	to = append(to, space+assign+space...)
	to = a.Expr2.Append(to)
	return to
}

type Block struct {
	Inner Gen
}

func (b Block) Append(to []byte) []byte {
	to = append(to, brace1+newline...)
	to = Maybe{b.Inner}.Append(to)
	to = append(to, brace2...)
	return to
}

type Call struct {
	Func, Args Gen
}

func (c Call) Append(to []byte) []byte {
	to = c.Func.Append(to)
	to = Paren{c.Args}.Append(to)
	return to
}

// Cast doubles as the OpenCL vector literal: Cast{Int2, Paren{...}}
// renders (int2)(a, b).
type Cast struct {
	Type, Expr Gen
}

func (c Cast) Append(to []byte) []byte {
	to = Paren{c.Type}.Append(to)
	to = c.Expr.Append(to)
	return to
}

type CmpGE struct {
	Expr1, Expr2 Gen
}

func (c CmpGE) Append(to []byte) []byte {
	to = c.Expr1.Append(to)
	to = append(to, space+cmpGE+space...)
	to = c.Expr2.Append(to)
	return to
}

type CmpL struct {
	Expr1, Expr2 Gen
}

func (c CmpL) Append(to []byte) []byte {
	to = c.Expr1.Append(to)
	to = append(to, space+cmpL+space...)
	to = c.Expr2.Append(to)
	return to
}

type CommaLines []Gen

func (c CommaLines) Append(to []byte) []byte {
	first := true
	for _, gen := range c {
		if gen == nil {
			continue
		}
		if first {
			first = false
		} else {
			to = append(to, comma...)
		}
		to = append(to, newline...)
		to = gen.Append(to)
	}
	if !first {
		to = append(to, newline...)
	}
	return to
}

type CommaSpaced []Gen

func (c CommaSpaced) Append(to []byte) []byte {
	first := true
	for _, gen := range c {
		if gen == nil {
			continue
		}
		if first {
			first = false
		} else {
			to = append(to, comma+space...)
		}
		to = gen.Append(to)
	}
	return to
}

type Comment []string

func (c Comment) Append(to []byte) []byte {
	for _, line := range c {
		switch line {
		case empty:
			to = append(to, slashes+newline...)
		default:
			to = append(to, slashes+space...)
			to = append(to, line...)
			to = append(to, newline...)
		}
	}
	return to
}

// Define is a function-like macro whose body lines are statements
// joined by line continuations.
type Define struct {
	Name   string
	Params []string
	Body   []Gen
}

func (d Define) Append(to []byte) []byte {
	to = append(to, hash+define+space...)
	to = append(to, d.Name...)
	to = append(to, paren1...)
	to = append(to, strings.Join(d.Params, comma+space)...)
	to = append(to, paren2...)
	for _, line := range d.Body {
		to = append(to, space+backslash+newline...)
		to = line.Append(to)
		to = append(to, semicolon...)
	}
	to = append(to, newline...)
	return to
}

type Directive string

const (
	Def    Directive = define
	Pragma Directive = pragma
)

type Dot struct {
	Expr Gen
	Name string
}

func (d Dot) Append(to []byte) []byte {
	to = d.Expr.Append(to)
	to = append(to, dot...)
	to = append(to, d.Name...)
	return to
}

type Elem struct {
	Arr, Idx Gen
}

func (e Elem) Append(to []byte) []byte {
	to = e.Arr.Append(to)
	to = append(to, squareBracket1...)
	to = Maybe{e.Idx}.Append(to)
	to = append(to, squareBracket2...)
	return to
}

// Extension enables an OpenCL extension pragma.
type Extension string

func (e Extension) Append(to []byte) []byte {
	tail := Spaced{Vb(extension), Vb(string(e) + space + colon), Vb(enable)}
	return Preprocessor{Pragma, tail}.Append(to)
}

type FloatLit float64

func (f FloatLit) Append(to []byte) []byte {
	s := strconv.FormatFloat(float64(f), 'f', -1, 32)
	if !strings.Contains(s, dot) {
		s += dot + zero
	}
	to = append(to, s...)
	to = append(to, floatSuffix...)
	return to
}

type For struct {
	Init, Cond, Post, Body Gen
}

func (f For) Append(to []byte) []byte {
	to = append(to, for_+space+paren1...)
	to = Maybe{f.Init}.Append(to)
	if to[len(to)-1] != semicolon[0] {
		to = append(to, semicolon...)
	}
	to = append(to, space...)
	to = Maybe{f.Cond}.Append(to)
	to = append(to, semicolon+space...)
	to = Maybe{f.Post}.Append(to)
	to = append(to, paren2...)
	if f.Body != nil {
		to = append(to, space...)
		to = Block{f.Body}.Append(to)
	}
	return to
}

type If struct {
	Cond Gen
	Then Stmts
	Else Stmts
}

func (i If) Append(to []byte) []byte {
	to = append(to, if_+space...)
	to = Paren{i.Cond}.Append(to)
	to = append(to, space...)
	to = Block{i.Then}.Append(to)
	if n := len(i.Else); n != 0 {
		to = append(to, space+else_+space...)
		chain := false
		if n == 1 {
			_, chain = i.Else[0].(If)
		}
		if chain {
			to = i.Else[0].Append(to)
		} else {
			to = Block{i.Else}.Append(to)
		}
	}
	return to
}

type If1 struct {
	Cond, Then Gen
}

func (i If1) Append(to []byte) []byte {
	to = append(to, if_+space...)
	to = Paren{i.Cond}.Append(to)
	to = append(to, space...)
	to = i.Then.Append(to)
	return to
}

type IncPost struct {
	Expr Gen
}

func (i IncPost) Append(to []byte) []byte {
	to = i.Expr.Append(to)
	to = append(to, inc...)
	return to
}

type IntLit int

func (i IntLit) Append(to []byte) []byte {
	to = strconv.AppendInt(to, int64(i), 10)
	return to
}

// KernelDef is an exported compute entry point.
type KernelDef struct {
	Name   string
	Params Gen
	Body   Gen
}

func (k KernelDef) Append(to []byte) []byte {
	var g1, g2, g3 Gen
	g1 = Spaced{Vb(kernel), Vb(void)}
	g2 = Call{Vb(k.Name), k.Params}
	g3 = Block{k.Body}
	to = Spaced{g1, g2, g3}.Append(to)
	to = append(to, newline...)
	return to
}

type Land struct {
	Expr1, Expr2 Gen
}

func (l Land) Append(to []byte) []byte {
	to = l.Expr1.Append(to)
	to = append(to, space+land+space...)
	to = l.Expr2.Append(to)
	return to
}

type Lor struct {
	Expr1, Expr2 Gen
}

func (l Lor) Append(to []byte) []byte {
	to = l.Expr1.Append(to)
	to = append(to, space+lor+space...)
	to = l.Expr2.Append(to)
	return to
}

type Maybe struct {
	What Gen
}

func (m Maybe) Append(to []byte) []byte {
	if m.What != nil {
		to = m.What.Append(to)
	}
	return to
}

type MaybeSpace struct {
	What Gen
}

func (m MaybeSpace) Append(to []byte) []byte {
	if m.What != nil {
		to = append(to, space...)
		to = m.What.Append(to)
	}
	return to
}

type Mul struct {
	Expr1, Expr2 Gen
}

func (m Mul) Append(to []byte) []byte {
	to = m.Expr1.Append(to)
	to = append(to, asterisk...)
	to = m.Expr2.Append(to)
	return to
}

type Neg struct {
	Expr Gen
}

func (n Neg) Append(to []byte) []byte {
	to = append(to, minus...)
	to = n.Expr.Append(to)
	return to
}

type Param struct {
	Type, What Gen
}

func (p Param) Append(to []byte) []byte {
	to = p.Type.Append(to)
	to = append(to, space...)
	to = p.What.Append(to)
	return to
}

type Paren struct {
	Inner Gen
}

func (p Paren) Append(to []byte) []byte {
	to = append(to, paren1...)
	to = Maybe{p.Inner}.Append(to)
	to = append(to, paren2...)
	return to
}

type Preprocessor struct {
	Head Directive
	Tail Gen
}

func (p Preprocessor) Append(to []byte) []byte {
	to = append(to, hash...)
	to = append(to, p.Head...)
	to = MaybeSpace{p.Tail}.Append(to)
	to = append(to, newline...)
	return to
}

type Ptr struct {
	Type Gen
}

func (p Ptr) Append(to []byte) []byte {
	to = p.Type.Append(to)
	to = append(to, asterisk...)
	return to
}

type Quo struct {
	Expr1, Expr2 Gen
}

func (q Quo) Append(to []byte) []byte {
	to = q.Expr1.Append(to)
	to = append(to, slash...)
	to = q.Expr2.Append(to)
	return to
}

type Rem struct {
	Expr1, Expr2 Gen
}

func (r Rem) Append(to []byte) []byte {
	to = r.Expr1.Append(to)
	to = append(to, percent...)
	to = r.Expr2.Append(to)
	return to
}

type Return struct {
	Expr Gen
}

func (r Return) Append(to []byte) []byte {
	to = append(to, return_...)
	to = MaybeSpace{r.Expr}.Append(to)
	return to
}

type Spaced []Gen

func (s Spaced) Append(to []byte) []byte {
	first := true
	for _, gen := range s {
		if gen == nil {
			continue
		}
		if first {
			first = false
		} else {
			to = append(to, space...)
		}
		to = gen.Append(to)
	}
	return to
}

type Stmts []Gen

func (s Stmts) Append(to []byte) []byte {
	for _, gen := range s {
		if gen == nil {
			continue
		}
		n1 := len(to)
		to = gen.Append(to)
		n2 := len(to)
		if n1 >= n2 {
			continue
		}
		switch to[n2-1] {
		case newline[0]:
		case brace2[0], semicolon[0]:
			to = append(to, newline...)
		default:
			to = append(to, semicolon+newline...)
		}
	}
	return to
}

type Ternary struct {
	Cond, Then, Else Gen
}

func (t Ternary) Append(to []byte) []byte {
	to = t.Cond.Append(to)
	to = append(to, space+questionMark+space...)
	to = t.Then.Append(to)
	to = append(to, space+colon+space...)
	to = t.Else.Append(to)
	return to
}

type Var struct {
	Type, What, Init Gen
}

func (v Var) Append(to []byte) []byte {
	to = v.Type.Append(to)
	to = append(to, space...)
	to = v.What.Append(to)
	if v.Init != nil {
		to = append(to, space+assign+space...)
		to = v.Init.Append(to)
	}
	to = append(to, semicolon...)
	return to
}

type Vb string

func (v Vb) Append(to []byte) []byte {
	to = append(to, v...)
	return to
}

// Vec is a vector literal such as (int2)(x, y).
func Vec(typ Gen, elems ...Gen) Gen {
	return Cast{
		Type: typ,
		Expr: Paren{CommaSpaced(elems)},
	}
}

var (
	Bool          Gen = Vb("bool")
	Constant      Gen = Vb(constant)
	Float         Gen = Vb("float")
	GetGlobalID   Gen = Vb("get_global_id")
	Global        Gen = Vb(global)
	Image1DBuffer Gen = Vb("image1d_buffer_t")
	Image2D       Gen = Vb("image2d_t")
	Image2DArray  Gen = Vb("image2d_array_t")
	Int           Gen = Vb("int")
	Int2          Gen = Vb("int2")
	Int4          Gen = Vb("int4")
	Max           Gen = Vb("max")
	Min           Gen = Vb("min")
	NegOne        Gen = Neg{One}
	One           Gen = Vb("1")
	ReadOnly      Gen = Vb(readOnly)
	Select        Gen = Vb("select")
	WriteOnly     Gen = Vb(writeOnly)
	Zero          Gen = Vb(zero)
)

func String(g Gen) string {
	return string(g.Append(nil))
}
