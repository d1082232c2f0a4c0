// Package convtex writes the OpenCL C source of a tiled 2D convolution
// whose filters live in four read-only 2D images.
//
// One invocation computes a Block.X by Block.Y by Block.Z tile of the
// output (Block.Z counted in four-channel slices). Tiles that overhang
// the destination are discarded by bounds tests in the kernel itself.
package convtex

import (
	"fmt"
	"strconv"

	"convtex/internal/compile/author/cgen"
	"convtex/internal/compile/author/hc"
	"convtex/internal/compile/author/include"
	"convtex/internal/compile/author/link"
	"convtex/internal/compile/author/params"
	"convtex/internal/compile/author/tensor"
	"convtex/internal/compile/plan"
	"convtex/internal/gpu"
)

const Entry = "main_function"

// Spec is everything the kernel text depends on.
type Spec struct {
	Op        *plan.Op
	Block     plan.Int3
	Is1x1     bool
	Adreno4xx bool
	Stride    plan.Int2
	Device    *gpu.Device
	Linked    []link.Op
}

func NeedStrideCorrection(op *plan.Op, stride plan.Int2) bool {
	return op.BatchSupport && stride.X != 1
}

func vb(s string) cgen.Gen {
	return cgen.Vb(s)
}

func il(i int) cgen.Gen {
	return cgen.IntLit(i)
}

func dot(name, c string) cgen.Gen {
	return cgen.Dot{Expr: vb(name), Name: c}
}

func idx(s string, i int) cgen.Gen {
	return vb(s + strconv.Itoa(i))
}

const (
	srcSize    = "src_size"
	dstSize    = "dst_size"
	kernelSize = "kernel_size"
	dilation   = "dilation"
	batchSize  = "BATCH_SIZE"
	stride     = "stride"
	padding    = "padding"
	biases     = "biases"
)

var (
	filterOffset = vb("filter_offset")
	bigX         = vb("X")
	bigY         = vb("Y")
	bigZ         = vb("Z")
	slice        = vb("s")
)

func FilterName(i int) string {
	return "filters" + strconv.Itoa(i)
}

func srcGen(op *plan.Op) *tensor.Gen {
	return &tensor.Gen{Data: "src_data", Size: srcSize, Storage: op.Src[0]}
}

func dstGen(op *plan.Op) *tensor.Gen {
	return &tensor.Gen{Data: "dst_data", Size: dstSize, Storage: op.Dst[0]}
}

// Signature is the entry point's parameter list in binding order.
func Signature(spec *Spec) params.List {
	l := params.List{srcGen(spec.Op).Param(tensor.Read)}
	for i := 0; i < 4; i++ {
		l = append(l, params.Image(FilterName(i), cgen.ReadOnly, cgen.Image2D))
	}
	l = append(l, params.Image(biases, cgen.ReadOnly, cgen.Image2D))
	l = append(l, link.Params(spec.Linked)...)
	l = append(l,
		dstGen(spec.Op).Param(tensor.Write),
		params.Value(srcSize, params.Int4),
		params.Value(dstSize, params.Int4),
	)
	if !spec.Is1x1 {
		l = append(l,
			params.Value(kernelSize, params.Int2),
			params.Value(dilation, params.Int2),
		)
	}
	if NeedStrideCorrection(spec.Op, spec.Stride) {
		l = append(l, params.Value(batchSize, params.Int))
	}
	l = append(l,
		params.Value(stride, params.Int2),
		params.Value(padding, params.Int2),
	)
	return l
}

// Generate returns the complete program text. Equal specs yield equal
// bytes.
func Generate(spec *Spec) string {
	g := &gen{
		Spec:   spec,
		src:    srcGen(spec.Op),
		dst:    dstGen(spec.Op),
		imgBuf: spec.Op.Src[0] == plan.ImageBuffer,
		area:   spec.Block.X * spec.Block.Y,
	}
	var sec hc.Sections
	sec.Append(hc.Comment, g.comment())
	sec.Append(hc.Extensions, include.Extensions(spec.Op.Precision))
	sec.Append(hc.Types, include.Types(spec.Op.Precision))
	sec.Append(hc.Samplers, include.Samplers())
	sec.Append(hc.Macros, g.macros())
	sec.Append(hc.Kernel, cgen.KernelDef{
		Name:   Entry,
		Params: Signature(spec).Decls(),
		Body:   g.body(),
	})
	return string(sec.Join())
}

type gen struct {
	*Spec
	src, dst *tensor.Gen
	imgBuf   bool
	area     int
}

func (g *gen) comment() cgen.Gen {
	b := g.Block
	window := "general window"
	if g.Is1x1 {
		window = "1x1 window"
	}
	return cgen.Comment{
		fmt.Sprintf("%s, %s to %s, %s, block %dx%dx%d",
			Entry, g.src.Storage, g.dst.Storage, window, b.X, b.Y, b.Z),
		"precision " + g.Op.Precision.String(),
	}
}

func (g *gen) macros() cgen.Gen {
	r, sv := vb("R"), vb("S")
	comps := [4]string{"x", "y", "z", "w"}
	gs := make(cgen.Gens, g.Block.Z)
	for z := 0; z < g.Block.Z; z++ {
		var terms [4]cgen.Gen
		for i, c := range comps {
			terms[i] = cgen.Mul{
				Expr1: cgen.Dot{Expr: sv, Name: c},
				Expr2: idx("f", z*4+i),
			}
		}
		var body []cgen.Gen
		switch g.Op.Precision {
		case plan.F32, plan.F16:
			for _, term := range terms {
				body = append(body, cgen.AddAssign{Expr1: r, Expr2: term})
			}
		case plan.F32F16:
			sum := terms[0]
			for _, term := range terms[1:] {
				sum = cgen.Add{Expr1: sum, Expr2: term}
			}
			body = append(body, cgen.AddAssign{
				Expr1: r,
				Expr2: cgen.Call{Func: include.ToAccumType, Args: sum},
			})
		default:
			panic("bug")
		}
		gs[z] = cgen.Define{
			Name:   "CONV" + strconv.Itoa(z),
			Params: []string{"R", "S"},
			Body:   body,
		}
	}
	return gs
}

func (g *gen) body() cgen.Gen {
	var stmts cgen.Stmts
	add := func(gs ...cgen.Gen) {
		stmts = append(stmts, gs...)
	}
	add(g.origin()...)
	add(g.coords()...)
	for i := 0; i < g.Block.Volume(); i++ {
		add(cgen.Var{
			Type: include.AccumFLT4,
			What: idx("r", i),
			Init: cgen.Vec(include.AccumFLT4,
				cgen.FloatLit(0), cgen.FloatLit(0),
				cgen.FloatLit(0), cgen.FloatLit(0)),
		})
	}
	if g.Is1x1 {
		if g.imgBuf {
			add(g.inBounds("xc", "yc")...)
		}
		add(g.reduce())
	} else {
		add(g.window()...)
	}
	for z := 0; z < g.Block.Z; z++ {
		add(g.epilogue(z)...)
	}
	return stmts
}

func (g *gen) origin() []cgen.Gen {
	axes := [3]struct {
		v cgen.Gen
		n int
	}{
		{bigX, g.Block.X},
		{bigY, g.Block.Y},
		{bigZ, g.Block.Z},
	}
	var out []cgen.Gen
	for i, a := range &axes {
		out = append(out, cgen.Var{
			Type: cgen.Int,
			What: a.v,
			Init: cgen.Mul{
				Expr1: cgen.Call{Func: cgen.GetGlobalID, Args: il(i)},
				Expr2: il(a.n),
			},
		})
	}
	out = append(out, cgen.If1{
		Cond: cgen.Lor{
			Expr1: cgen.Lor{
				Expr1: cgen.CmpGE{Expr1: bigX, Expr2: dot(dstSize, "x")},
				Expr2: cgen.CmpGE{Expr1: bigY, Expr2: dot(dstSize, "y")},
			},
			Expr2: cgen.CmpGE{Expr1: bigZ, Expr2: dot(dstSize, "w")},
		},
		Then: cgen.Return{},
	})
	return out
}

// sourceX declares xc<x>, the source column of tile column x before the
// window offset is applied.
func sourceX(x int, corrected bool) []cgen.Gen {
	col := cgen.Paren{Inner: cgen.Add{Expr1: bigX, Expr2: il(x)}}
	if !corrected {
		return []cgen.Gen{cgen.Var{
			Type: cgen.Int,
			What: idx("xc", x),
			Init: cgen.Add{
				Expr1: cgen.Mul{Expr1: col, Expr2: dot(stride, "x")},
				Expr2: dot(padding, "x"),
			},
		}}
	}
	p, b := idx("p", x), idx("b", x)
	return []cgen.Gen{
		cgen.Var{Type: cgen.Int, What: p, Init: cgen.Quo{Expr1: col, Expr2: vb(batchSize)}},
		cgen.Var{Type: cgen.Int, What: b, Init: cgen.Rem{Expr1: col, Expr2: vb(batchSize)}},
		cgen.Var{
			Type: cgen.Int,
			What: idx("xc", x),
			Init: cgen.Add{
				Expr1: cgen.Add{
					Expr1: cgen.Mul{
						Expr1: cgen.Mul{Expr1: p, Expr2: vb(batchSize)},
						Expr2: dot(stride, "x"),
					},
					Expr2: b,
				},
				Expr2: dot(padding, "x"),
			},
		},
	}
}

func sourceY(y int) cgen.Gen {
	return cgen.Var{
		Type: cgen.Int,
		What: idx("yc", y),
		Init: cgen.Add{
			Expr1: cgen.Mul{
				Expr1: cgen.Paren{Inner: cgen.Add{Expr1: bigY, Expr2: il(y)}},
				Expr2: dot(stride, "y"),
			},
			Expr2: dot(padding, "y"),
		},
	}
}

func (g *gen) coords() []cgen.Gen {
	var out []cgen.Gen
	corrected := NeedStrideCorrection(g.Op, g.Stride)
	for x := 0; x < g.Block.X; x++ {
		out = append(out, sourceX(x, corrected)...)
	}
	for y := 0; y < g.Block.Y; y++ {
		out = append(out, sourceY(y))
	}
	return out
}

// tap names the source coordinate the reduction reads for tile column x
// or row y: the precomputed one for a 1x1 window, else the one the
// window loops update.
func (g *gen) tapX(x int) cgen.Gen {
	if g.Is1x1 {
		return idx("xc", x)
	}
	return idx("cx", x)
}

func (g *gen) tapY(y int) cgen.Gen {
	if g.Is1x1 {
		return idx("yc", y)
	}
	return idx("cy", y)
}

func tileID(x, y, bx int) int {
	return y*bx + x
}

func inside(v, size cgen.Gen) cgen.Gen {
	return cgen.Land{
		Expr1: cgen.CmpGE{Expr1: v, Expr2: cgen.Zero},
		Expr2: cgen.CmpL{Expr1: v, Expr2: size},
	}
}

func (g *gen) inY(prefix string) []cgen.Gen {
	out := make([]cgen.Gen, g.Block.Y)
	for y := range out {
		out[y] = cgen.Var{
			Type: cgen.Bool,
			What: idx("in_y", y),
			Init: inside(idx(prefix, y), dot(srcSize, "y")),
		}
	}
	return out
}

func (g *gen) inX(prefix string) []cgen.Gen {
	out := make([]cgen.Gen, g.Block.X)
	for x := range out {
		out[x] = cgen.Var{
			Type: cgen.Bool,
			What: idx("in_x", x),
			Init: inside(idx(prefix, x), dot(srcSize, "x")),
		}
	}
	return out
}

// addrs declares, per tile element, the image buffer address of the
// current tap and its step per source slice. Taps outside the source
// read address -1 and never move, so one branch-free path loads zero.
func (g *gen) addrs(colPrefix, rowPrefix string) []cgen.Gen {
	var out []cgen.Gen
	for x := 0; x < g.Block.X; x++ {
		for y := 0; y < g.Block.Y; y++ {
			id := tileID(x, y, g.Block.X)
			ok := cgen.Paren{Inner: cgen.Land{Expr1: idx("in_x", x), Expr2: idx("in_y", y)}}
			out = append(out,
				cgen.Var{
					Type: cgen.Int,
					What: idx("addr_", id),
					Init: cgen.Call{Func: cgen.Select, Args: cgen.CommaSpaced{
						cgen.NegOne,
						cgen.Add{
							Expr1: cgen.Mul{Expr1: idx(rowPrefix, y), Expr2: dot(srcSize, "x")},
							Expr2: idx(colPrefix, x),
						},
						ok,
					}},
				},
				cgen.Var{
					Type: cgen.Int,
					What: idx("dz_", id),
					Init: cgen.Call{Func: cgen.Select, Args: cgen.CommaSpaced{
						cgen.Zero,
						cgen.Mul{Expr1: dot(srcSize, "x"), Expr2: dot(srcSize, "y")},
						ok,
					}},
				},
			)
		}
	}
	return out
}

// inBounds serves the 1x1 image buffer case, where the tests run once.
func (g *gen) inBounds(col, row string) []cgen.Gen {
	var out []cgen.Gen
	out = append(out, g.inY(row)...)
	out = append(out, g.inX(col)...)
	out = append(out, g.addrs(col, row)...)
	return out
}

func (g *gen) window() []cgen.Gen {
	var out []cgen.Gen
	for x := 0; x < g.Block.X; x++ {
		out = append(out, cgen.Var{Type: cgen.Int, What: idx("cx", x)})
	}
	for y := 0; y < g.Block.Y; y++ {
		out = append(out, cgen.Var{Type: cgen.Int, What: idx("cy", y)})
	}
	out = append(out, cgen.Var{Type: cgen.Int, What: filterOffset, Init: cgen.Zero})
	ky, kx := vb("y"), vb("x")
	var rows cgen.Stmts
	for y := 0; y < g.Block.Y; y++ {
		rows = append(rows, cgen.Assign{
			Expr1: idx("cy", y),
			Expr2: cgen.Add{
				Expr1: cgen.Mul{Expr1: ky, Expr2: dot(dilation, "y")},
				Expr2: idx("yc", y),
			},
		})
	}
	if g.imgBuf {
		rows = append(rows, g.inY("cy")...)
	}
	var cols cgen.Stmts
	for x := 0; x < g.Block.X; x++ {
		cols = append(cols, cgen.Assign{
			Expr1: idx("cx", x),
			Expr2: cgen.Add{
				Expr1: cgen.Mul{Expr1: kx, Expr2: dot(dilation, "x")},
				Expr2: idx("xc", x),
			},
		})
	}
	if g.imgBuf {
		cols = append(cols, g.inX("cx")...)
		cols = append(cols, g.addrs("cx", "cy")...)
	}
	cols = append(cols, g.reduce())
	rows = append(rows, loop(kx, dot(kernelSize, "x"), cols))
	out = append(out, loop(ky, dot(kernelSize, "y"), rows))
	return out
}

func loop(v, n cgen.Gen, body cgen.Gen) cgen.Gen {
	return cgen.For{
		Init: cgen.Var{Type: cgen.Int, What: v, Init: cgen.Zero},
		Cond: cgen.CmpL{Expr1: v, Expr2: n},
		Post: cgen.IncPost{Expr: v},
		Body: body,
	}
}

// reduce is the loop over source slices. Filter texel rows advance with
// the slice for a 1x1 window and with filter_offset otherwise.
func (g *gen) reduce() cgen.Gen {
	var body cgen.Stmts
	if g.imgBuf {
		for i := 0; i < g.area; i++ {
			body = append(body, cgen.Var{
				Type: include.FLT4,
				What: idx("src", i),
				Init: g.src.ReadLinear(idx("addr_", i)),
			})
		}
	}
	fy := slice
	if !g.Is1x1 {
		fy = filterOffset
	}
	for z := 0; z < g.Block.Z; z++ {
		at := cgen.Vec(cgen.Int2, cgen.Add{Expr1: bigZ, Expr2: il(z)}, fy)
		for k := 0; k < 4; k++ {
			body = append(body, cgen.Var{
				Type: include.FLT4,
				What: idx("f", z*4+k),
				Init: cgen.Call{
					Func: include.ReadImage,
					Args: cgen.CommaSpaced{vb(FilterName(k)), include.SmpNone, at},
				},
			})
		}
	}
	if !g.imgBuf {
		mode := tensor.FastestZeroMode(g.Device)
		for x := 0; x < g.Block.X; x++ {
			for y := 0; y < g.Block.Y; y++ {
				body = append(body, cgen.Var{
					Type: include.FLT4,
					What: idx("src", tileID(x, y, g.Block.X)),
					Init: g.src.Read3D(g.tapX(x), g.tapY(y), slice, mode),
				})
			}
		}
	}
	for z := 0; z < g.Block.Z; z++ {
		for i := 0; i < g.area; i++ {
			body = append(body, cgen.Call{
				Func: idx("CONV", z),
				Args: cgen.CommaSpaced{idx("r", i+z*g.area), idx("src", i)},
			})
		}
	}
	if !g.Is1x1 {
		body = append(body, cgen.IncPost{Expr: filterOffset})
	}
	if g.imgBuf {
		for i := 0; i < g.area; i++ {
			body = append(body, cgen.AddAssign{Expr1: idx("addr_", i), Expr2: idx("dz_", i)})
		}
	}
	return loop(slice, dot(srcSize, "w"), body)
}

// epilogue stores output slice Z of the tile and steps Z to the next.
// The fast path may address the destination through xc0 and yc0, which
// equal X and Y when stride is one and padding zero.
func (g *gen) epilogue(z int) []cgen.Gen {
	dstX, dstY := bigX, bigY
	if g.Is1x1 && g.Adreno4xx {
		dstX, dstY = idx("xc", 0), idx("yc", 0)
	}
	xc, yc, res, bias := vb("xc"), vb("yc"), vb("res"), vb("bias_val")
	then := cgen.Stmts{
		cgen.Var{
			Type: include.FLT4,
			What: bias,
			Init: cgen.Call{
				Func: include.ReadImage,
				Args: cgen.CommaSpaced{vb(biases), include.SmpNone, cgen.Vec(cgen.Int2, bigZ, cgen.Zero)},
			},
		},
	}
	ctx := link.Context{Var: res, X: xc, Y: yc, Z: bigZ}
	for y := 0; y < g.Block.Y; y++ {
		for x := 0; x < g.Block.X; x++ {
			id := (z*g.Block.Y+y)*g.Block.X + x
			then = append(then, cgen.Block{Inner: cgen.Stmts{
				cgen.Var{Type: cgen.Int, What: xc, Init: cgen.Add{Expr1: dstX, Expr2: il(x)}},
				cgen.Var{Type: cgen.Int, What: yc, Init: cgen.Add{Expr1: dstY, Expr2: il(y)}},
				cgen.If{
					Cond: cgen.Land{
						Expr1: cgen.CmpL{Expr1: xc, Expr2: dot(dstSize, "x")},
						Expr2: cgen.CmpL{Expr1: yc, Expr2: dot(dstSize, "y")},
					},
					Then: cgen.Stmts{
						cgen.Var{
							Type: include.FLT4,
							What: res,
							Init: cgen.Add{
								Expr1: cgen.Call{Func: include.ToFLT4, Args: idx("r", id)},
								Expr2: bias,
							},
						},
						link.PostProcess(g.Linked, ctx),
						g.dst.Write3D(res, xc, yc, bigZ),
					},
				},
			}})
		}
	}
	return []cgen.Gen{
		cgen.If{
			Cond: cgen.CmpL{Expr1: bigZ, Expr2: dot(dstSize, "w")},
			Then: then,
		},
		cgen.IncPost{Expr: bigZ},
	}
}
