package act

import (
	"convtex/internal/cl"
	"convtex/internal/compile/author/cgen"
	"convtex/internal/compile/author/include"
	"convtex/internal/compile/author/link"
	"convtex/internal/compile/author/params"
	"convtex/internal/compile/author/tensor"
	"convtex/internal/compile/plan"
	"convtex/internal/nmsrc"

	"github.com/pkg/errors"
)

type Ctx struct {
	nms nmsrc.Src
}

func NewCtx(nms nmsrc.Src) *Ctx {
	return &Ctx{nms: nms}
}

func (c *Ctx) name(s string) string {
	return c.nms.Name(s)
}

func flt(f float32) cgen.Gen {
	return cgen.Cast{Type: include.FLT, Expr: cgen.Paren{Inner: cgen.FloatLit(f)}}
}

// ReLU computes max(x, x*NegSlope), capped at Clip when Clip is positive.
// NegSlope 1 with no clip is the identity and emits nothing.
type ReLU struct {
	NegSlope float32
	Clip     float32
}

func (r *ReLU) Params() params.List { return nil }

func (r *ReLU) Bind(cl.Kernel) error { return nil }

func (r *ReLU) Code(ctx link.Context) cgen.Gen {
	if r.NegSlope == 1 && r.Clip <= 0 {
		return nil
	}
	var low cgen.Gen
	switch r.NegSlope {
	case 0:
		low = flt(0)
	default:
		low = cgen.Mul{Expr1: ctx.Var, Expr2: flt(r.NegSlope)}
	}
	expr := cgen.Gen(cgen.Call{
		Func: cgen.Max,
		Args: cgen.CommaSpaced{ctx.Var, low},
	})
	if r.Clip > 0 {
		expr = cgen.Call{
			Func: cgen.Min,
			Args: cgen.CommaSpaced{expr, flt(r.Clip)},
		}
	}
	return cgen.Assign{Expr1: ctx.Var, Expr2: expr}
}

type ScalarKind int

const (
	Mul ScalarKind = iota
	Sum
)

// Scalar multiplies or offsets the result by a float bound at dispatch
// time, so one compiled kernel serves any value.
type Scalar struct {
	Kind  ScalarKind
	Value float32
	param params.Param
}

func (c *Ctx) Scalar(kind ScalarKind, value float32) *Scalar {
	return &Scalar{
		Kind:  kind,
		Value: value,
		param: params.Value(c.name("scalar"), params.Float),
	}
}

func (s *Scalar) Params() params.List {
	return params.List{s.param}
}

func (s *Scalar) Code(ctx link.Context) cgen.Gen {
	v := cgen.Cast{Type: include.FLT, Expr: cgen.Paren{Inner: s.param.Var()}}
	var expr cgen.Gen
	switch s.Kind {
	case Mul:
		expr = cgen.Mul{Expr1: ctx.Var, Expr2: v}
	case Sum:
		expr = cgen.Add{Expr1: ctx.Var, Expr2: v}
	default:
		panic("bug")
	}
	return cgen.Assign{Expr1: ctx.Var, Expr2: expr}
}

func (s *Scalar) Bind(k cl.Kernel) error {
	return k.SetBytesAuto(s.Value)
}

// Add sums a second tensor of the destination's shape into the result,
// as a residual connection does.
type Add struct {
	gen  tensor.Gen
	src  cl.Tensor
	size params.Param
}

func (c *Ctx) Add(storage plan.Storage) *Add {
	return &Add{
		gen: tensor.Gen{
			Data:    c.name("add_src"),
			Size:    c.name("add_size"),
			Storage: storage,
		},
	}
}

func (a *Add) SetSrc(t cl.Tensor) {
	a.src = t
}

func (a *Add) Params() params.List {
	return params.List{
		a.gen.Param(tensor.Read),
		params.Value(a.gen.Size, params.Int4),
	}
}

func (a *Add) Code(ctx link.Context) cgen.Gen {
	return cgen.AddAssign{
		Expr1: ctx.Var,
		Expr2: a.gen.Read3D(ctx.X, ctx.Y, ctx.Z, tensor.DontCare),
	}
}

func (a *Add) Bind(k cl.Kernel) error {
	if a.src == nil {
		return errors.Errorf("%s: no tensor bound", a.gen.Data)
	}
	if err := k.SetMemoryAuto(a.src.Memory()); err != nil {
		return err
	}
	return k.SetBytesAuto(plan.Int4{
		X: a.src.Width() * a.src.Batch(),
		Y: a.src.Height(),
		Z: a.src.Channels(),
		W: a.src.Depth(),
	})
}
