package tensor

import (
	"convtex/internal/compile/author/cgen"
	"convtex/internal/compile/author/include"
	"convtex/internal/compile/author/params"
	"convtex/internal/compile/plan"
	"convtex/internal/gpu"
)

// AddressMode says what an out-of-bounds texture read must produce.
type AddressMode int

const (
	DontCare AddressMode = iota
	Zero
)

// FastestZeroMode picks the cheapest sampler that still yields zero for
// padding taps on the device.
func FastestZeroMode(d *gpu.Device) AddressMode {
	if d.IsAdreno3xx() {
		return DontCare
	}
	return Zero
}

func sampler(mode AddressMode) cgen.Gen {
	switch mode {
	case DontCare:
		return include.SmpNone
	case Zero:
		return include.SmpZero
	default:
		panic("bug")
	}
}

type Access int

const (
	Read Access = iota
	Write
)

// Gen emits declarations, reads and writes for one tensor argument named
// Data whose int4 size argument is named Size (x width, y height,
// z channels, w depth in slices).
type Gen struct {
	Data    string
	Size    string
	Storage plan.Storage
}

func (g *Gen) data() cgen.Gen {
	return cgen.Vb(g.Data)
}

func (g *Gen) size(c string) cgen.Gen {
	return cgen.Dot{Expr: cgen.Vb(g.Size), Name: c}
}

func (g *Gen) Param(access Access) params.Param {
	qual := cgen.ReadOnly
	if access == Write {
		qual = cgen.WriteOnly
	}
	switch g.Storage {
	case plan.Buffer:
		return params.Param{
			Name: g.Data,
			Type: cgen.Ptr{Type: cgen.Spaced{cgen.Global, include.FLT4}},
			Kind: params.Memory,
		}
	case plan.ImageBuffer:
		return params.Image(g.Data, qual, cgen.Image1DBuffer)
	case plan.Texture2D, plan.SingleTexture2D:
		return params.Image(g.Data, qual, cgen.Image2D)
	case plan.TextureArray:
		return params.Image(g.Data, qual, cgen.Image2DArray)
	default:
		panic("bug")
	}
}

func wrap(g cgen.Gen) cgen.Gen {
	switch g.(type) {
	case cgen.Vb, cgen.IntLit, cgen.Dot, cgen.Paren:
		return g
	}
	return cgen.Paren{Inner: g}
}

// Linear is the flat FLT4 index of (x, y, z) in a buffer or image
// buffer.
func (g *Gen) Linear(x, y, z cgen.Gen) cgen.Gen {
	return cgen.Add{
		Expr1: cgen.Mul{
			Expr1: cgen.Paren{Inner: cgen.Add{
				Expr1: cgen.Mul{Expr1: wrap(z), Expr2: g.size("y")},
				Expr2: wrap(y),
			}},
			Expr2: g.size("x"),
		},
		Expr2: wrap(x),
	}
}

func (g *Gen) coords(x, y, z cgen.Gen) cgen.Gen {
	switch g.Storage {
	case plan.Buffer, plan.ImageBuffer:
		return g.Linear(x, y, z)
	case plan.Texture2D:
		return cgen.Vec(cgen.Int2, x, cgen.Add{
			Expr1: cgen.Mul{Expr1: wrap(y), Expr2: g.size("w")},
			Expr2: wrap(z),
		})
	case plan.SingleTexture2D:
		return cgen.Vec(cgen.Int2, x, y)
	case plan.TextureArray:
		return cgen.Vec(cgen.Int4, x, y, z, cgen.Zero)
	default:
		panic("bug")
	}
}

// ReadLinear loads the FLT4 at a precomputed flat address. It serves
// buffers and image buffers only.
func (g *Gen) ReadLinear(addr cgen.Gen) cgen.Gen {
	switch g.Storage {
	case plan.Buffer:
		return cgen.Elem{Arr: g.data(), Idx: addr}
	case plan.ImageBuffer:
		return cgen.Call{
			Func: include.ReadImage,
			Args: cgen.CommaSpaced{g.data(), addr},
		}
	default:
		panic("bug")
	}
}

// Read3D loads the FLT4 at (x, y, z). Buffers have no sampler, so every
// Read3D from one carries an explicit bounds test.
func (g *Gen) Read3D(x, y, z cgen.Gen, mode AddressMode) cgen.Gen {
	at := g.coords(x, y, z)
	switch g.Storage {
	case plan.Buffer:
		inside := cgen.Land{
			Expr1: cgen.Land{
				Expr1: cgen.CmpGE{Expr1: x, Expr2: cgen.Zero},
				Expr2: cgen.CmpL{Expr1: x, Expr2: g.size("x")},
			},
			Expr2: cgen.Land{
				Expr1: cgen.CmpGE{Expr1: y, Expr2: cgen.Zero},
				Expr2: cgen.CmpL{Expr1: y, Expr2: g.size("y")},
			},
		}
		return cgen.Paren{Inner: cgen.Ternary{
			Cond: cgen.Paren{Inner: inside},
			Then: cgen.Elem{Arr: g.data(), Idx: at},
			Else: cgen.Vec(include.FLT4, cgen.FloatLit(0)),
		}}
	case plan.ImageBuffer:
		return g.ReadLinear(at)
	default:
		return cgen.Call{
			Func: include.ReadImage,
			Args: cgen.CommaSpaced{g.data(), sampler(mode), at},
		}
	}
}

// Write3D stores val at (x, y, z).
func (g *Gen) Write3D(val, x, y, z cgen.Gen) cgen.Gen {
	at := g.coords(x, y, z)
	if g.Storage == plan.Buffer {
		return cgen.Assign{
			Expr1: cgen.Elem{Arr: g.data(), Idx: at},
			Expr2: val,
		}
	}
	return cgen.Call{
		Func: include.WriteImage,
		Args: cgen.CommaSpaced{g.data(), at, val},
	}
}
