package compile

import (
	"context"
	"strings"
	"testing"

	"convtex/internal/compile/author/convtex"
	"convtex/internal/compile/plan"
	"convtex/internal/errmsg"
	"convtex/internal/logger"
	"convtex/internal/op/conv"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func manifestOf(t *testing.T, r *Result) *Manifest {
	t.Helper()
	var m Manifest
	require.NoError(t, json.Unmarshal(r.Manifest, &m))
	return &m
}

func TestDefaults(t *testing.T) {
	r, err := Compile(context.Background(), nil, logger.Discard())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(r.Name, "conv_"))
	assert.Len(t, r.Name, len("conv_")+8)
	assert.Contains(t, string(r.Source), "__kernel void "+convtex.Entry+"(")

	m := manifestOf(t, r)
	assert.Equal(t, r.Name, m.Name)
	assert.Equal(t, convtex.Entry, m.Entry)
	assert.Equal(t, "F16", m.Precision)
	assert.Equal(t, "TEXTURE_2D", m.SrcStorage)
	assert.Equal(t, plan.BHWC{B: 1, H: 32, W: 32, C: 32}, m.Dst)
	assert.Equal(t, conv.DefaultWorkGroup, m.WorkGroup)
	assert.Equal(t, conv.Grid(plan.Int3{X: 32, Y: 32, Z: 8}, m.Block), m.Grid)
	assert.False(t, m.Is1x1)
	assert.Equal(t, "none", m.Tune)
	assert.Positive(t, m.LatencyNS)
	assert.Len(t, m.SHA256, 64)
	require.NotEmpty(t, m.Params)
	assert.Equal(t, Param{Name: "src_data", Kind: "memory"}, m.Params[0])
	assert.Equal(t, Param{Name: "padding", Kind: "int2"}, m.Params[len(m.Params)-1])
}

func TestDeterministic(t *testing.T) {
	a, err := Compile(context.Background(), nil, nil)
	require.NoError(t, err)
	b, err := Compile(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, a.Name, b.Name)
	assert.Equal(t, a.Source, b.Source)
	assert.Equal(t, a.Manifest, b.Manifest)
}

const linked = `Device:
  Name: Mali-G78
  Vendor: ARM
  MaxWorkGroupTotal: 256
Op:
  Precision: F32
  SrcStorage: BUFFER
  DstStorage: BUFFER
Input:
  Height: 9
  Width: 17
  Channels: 8
Conv:
  ToChannels: 20
  FilterH: 1
  FilterW: 1
  PaddingH: 0
  PaddingW: 0
Tune:
  Mode: exhaustive
Linked:
  - Add:
      Storage: BUFFER
  - Scalar:
      Value: 2
  - ReLU:
`

func TestLinkedAndTuned(t *testing.T) {
	r, err := Compile(context.Background(), []byte(linked), nil)
	require.NoError(t, err)
	m := manifestOf(t, r)
	assert.True(t, m.Is1x1)
	assert.Equal(t, "Mali", m.Device.Vendor)
	assert.Equal(t, "exhaustive", m.Tune)
	assert.LessOrEqual(t, m.WorkGroup.Volume(), 256)

	var names []string
	for _, p := range m.Params {
		names = append(names, p.Name)
	}
	assert.Contains(t, names, "add_src_0")
	assert.Contains(t, names, "scalar_0")
	assert.NotContains(t, names, "kernel_size")
	assert.Contains(t, string(r.Source), "max(")
}

func TestErrors(t *testing.T) {
	_, err := Compile(context.Background(), []byte("Conv:\n  FilterH: x\n"), nil)
	require.Error(t, err)
	assert.Equal(t, errmsg.Descriptor, errmsg.KindOf(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Compile(ctx, nil, nil)
	require.Error(t, err)
	assert.Equal(t, errmsg.Compile, errmsg.KindOf(err))
	assert.Contains(t, err.Error(), "compile failed")

	_, err = Compile(context.Background(), []byte("Device:\n  MaxImage2DHeight: 8\n"), nil)
	require.Error(t, err)
	assert.Equal(t, errmsg.Construction, errmsg.KindOf(err))
}
