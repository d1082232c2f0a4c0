package act

import (
	"testing"

	"convtex/internal/cl"
	"convtex/internal/compile/author/cgen"
	"convtex/internal/compile/author/link"
	"convtex/internal/compile/author/params"
	"convtex/internal/compile/plan"
	"convtex/internal/nmsrc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = link.Context{
	Var: cgen.Vb("res"),
	X:   cgen.Vb("xc"),
	Y:   cgen.Vb("yc"),
	Z:   cgen.Vb("Z"),
}

func TestReLU(t *testing.T) {
	cases := []struct {
		relu ReLU
		want string
	}{
		{ReLU{}, "res = max(res, (FLT)(0.0f))"},
		{ReLU{NegSlope: 0.125}, "res = max(res, res*(FLT)(0.125f))"},
		{ReLU{Clip: 6}, "res = min(max(res, (FLT)(0.0f)), (FLT)(6.0f))"},
		{ReLU{NegSlope: 1}, ""},
	}
	for _, tc := range cases {
		got := cgen.String(link.PostProcess([]link.Op{&tc.relu}, ctx))
		if tc.want == "" {
			assert.Empty(t, got)
			continue
		}
		assert.Equal(t, tc.want+";\n", got)
	}
}

type recKernel struct {
	mems  []cl.Memory
	bytes []any
}

func (k *recKernel) ID() string                      { return "rec" }
func (k *recKernel) ResetBindingCounter()            { k.mems, k.bytes = nil, nil }
func (k *recKernel) SetMemoryAuto(m cl.Memory) error { k.mems = append(k.mems, m); return nil }
func (k *recKernel) SetBytesAuto(v any) error        { k.bytes = append(k.bytes, v); return nil }
func (k *recKernel) MaxWorkGroupTotal() int          { return 256 }

type fakeMem struct{}

func (fakeMem) ID() string       { return "m" }
func (fakeMem) Type() cl.MemType { return cl.Image2DMem }
func (fakeMem) Bytes() int       { return 0 }
func (fakeMem) Release() error   { return nil }

type fakeTensor struct{}

func (fakeTensor) Width() int            { return 5 }
func (fakeTensor) Height() int           { return 3 }
func (fakeTensor) Channels() int         { return 8 }
func (fakeTensor) Depth() int            { return 2 }
func (fakeTensor) Batch() int            { return 2 }
func (fakeTensor) Storage() plan.Storage { return plan.Texture2D }
func (fakeTensor) Memory() cl.Memory     { return fakeMem{} }

func TestScalarAndAdd(t *testing.T) {
	c := NewCtx(nmsrc.New())
	mul := c.Scalar(Mul, 0.5)
	sum := c.Scalar(Sum, 2)
	add := c.Add(plan.Texture2D)
	ops := []link.Op{mul, sum, add}

	l := link.Params(ops)
	assert.Equal(t, []string{"scalar_0", "scalar_1", "add_src_0", "add_size_0"}, l.Names())
	assert.Equal(t, []params.Kind{params.Float, params.Float, params.Memory, params.Int4}, l.Kinds())

	code := cgen.String(link.PostProcess(ops, ctx))
	assert.Contains(t, code, "res = res*(FLT)(scalar_0);\n")
	assert.Contains(t, code, "res = res+(FLT)(scalar_1);\n")
	assert.Contains(t, code, "res += READ_IMAGE(add_src_0, smp_none, (int2)(xc, yc*add_size_0.w+Z));\n")

	k := &recKernel{}
	err := link.Bind(k, ops)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "linked op 2")

	k.ResetBindingCounter()
	add.SetSrc(fakeTensor{})
	require.NoError(t, link.Bind(k, ops))
	assert.Equal(t, []any{float32(0.5), float32(2), plan.Int4{X: 10, Y: 3, Z: 8, W: 2}}, k.bytes)
	assert.Len(t, k.mems, 1)
}
