package raw

import (
	"testing"

	"convtex/internal/compile/plan"
	"convtex/internal/errmsg"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	d, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, "QUALCOMM Adreno(TM) 630", d.Device.Info.Name)
	assert.Equal(t, []string{"cl_khr_fp16", "cl_khr_3d_image_writes"}, d.Device.Info.Extensions)
	assert.Equal(t, [3]int{1024, 1024, 64}, d.Device.Info.MaxWorkGroupSize)
	assert.Equal(t, plan.F16, d.Op.Precision)
	assert.Equal(t, plan.Texture2D, d.Op.SrcStorage)
	assert.Equal(t, plan.BHWC{B: 1, H: 32, W: 32, C: 16}, d.Input.Shape())
	assert.Equal(t, 3, d.Conv.FilterH)
	assert.Equal(t, NoTune, d.Tune.Mode)
	assert.Empty(t, d.Linked)
	assert.Zero(t, d.Conv.LineNumber())
	assert.Equal(t, plan.BHWC{B: 1, H: 32, W: 32, C: 32}, d.Dst())
}

const full = `Device:
  Name: Mali-G78
  Vendor: ARM
  Extensions: [cl_khr_fp16]
  MaxWorkGroupTotal: 512
Op:
  Precision: F32_F16
  SrcStorage: TEXTURE_ARRAY
  DstStorage: TEXTURE_ARRAY
  BatchSupport: true
Input:
  Batch: 2
  Height: 15
  Width: 20
  Channels: 3
Conv:
  ToChannels: 8
  FilterH: 3
  FilterW: 5
  StrideW: 2
  PaddingH: 0
  PaddingW: 2
Tune:
  Mode: exhaustive
Linked:
  - ReLU:
      Clip: 6
  - Scalar:
      Kind: Sum
      Value: 0.25
  - Add:
  - ReLU:
`

func TestFull(t *testing.T) {
	d, err := Parse([]byte(full))
	require.NoError(t, err)
	assert.Equal(t, "Mali-G78", d.Device.Info.Name)
	assert.Equal(t, []string{"cl_khr_fp16"}, d.Device.Info.Extensions)
	assert.Equal(t, 512, d.Device.Info.MaxWorkGroupTotal)
	assert.Equal(t, plan.Op{
		Precision:    plan.F32F16,
		Src:          []plan.Storage{plan.TextureArray},
		Dst:          []plan.Storage{plan.TextureArray},
		BatchSupport: true,
	}, d.Op.Plan())
	assert.Equal(t, 16, d.Conv.LineNumber())
	assert.Equal(t, ExhaustiveTune, d.Tune.Mode)
	assert.Equal(t, plan.BHWC{B: 2, H: 13, W: 10, C: 8}, d.Dst())

	require.Len(t, d.Linked, 4)
	assert.Equal(t, &ReLU{LineNum: 26, Clip: 6}, d.Linked[0])
	assert.Equal(t, &Scalar{LineNum: 28, Kind: ScalarSum, Value: 0.25}, d.Linked[1])
	assert.Equal(t, &Add{LineNum: 31, Storage: plan.Texture2D}, d.Linked[2])
	assert.Equal(t, &ReLU{LineNum: 32}, d.Linked[3])
}

func TestErrors(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"Bogus: {}\n", "line 1: expected Conv or Device or Input or Linked or Op or Tune"},
		{"Conv:\n  FilterH: 0\n", "line 2: Conv.FilterH: does not match"},
		{"Conv:\n  Filter: 3\n", "line 2: Conv: expected ToChannels or FilterH"},
		{"Op:\n  Precision: F64\n", "Op.Precision: expected F32 or F16 or F32_F16"},
		{"Op:\n  BatchSupport: yes\n", "expected true or false"},
		{"Input:\n  Batch: 2\n", "Input.Batch: 2 needs Op.BatchSupport"},
		{"Input:\n  Height: 2\n  Width: 2\nConv:\n  PaddingH: 0\n", "does not fit the padded 2x4 input"},
		{"Op:\n  DstStorage: SINGLE_TEXTURE_2D\n", "Conv.ToChannels: 32 does not fit SINGLE_TEXTURE_2D"},
		{"Linked:\n  - Sigmoid: {}\n", "Linked: expected Add or ReLU or Scalar"},
		{"Linked: 3\n", "Linked: expected a list"},
		{"Linked:\n  - ReLU:\n      NegSlope: .5\n", "ReLU.NegSlope: does not match"},
		{"Tune:\n  Mode: slow\n", "expected none or fast or exhaustive"},
		{"Tune: {}\nTune: {}\n", "Tune"},
		{"- 1\n", "expected a mapping"},
		{"Conv: [\n", "parse failed"},
	}
	for _, tc := range cases {
		_, err := Parse([]byte(tc.text))
		require.Error(t, err, tc.text)
		assert.Contains(t, err.Error(), tc.want, tc.text)
		assert.Equal(t, errmsg.Descriptor, errmsg.KindOf(err), tc.text)
	}
}

func TestExampleRoundTrip(t *testing.T) {
	d, err := Parse([]byte(Example()))
	require.NoError(t, err)
	def, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, def.Device.Info, d.Device.Info)
	assert.Equal(t, def.Op.Plan(), d.Op.Plan())
	assert.Equal(t, def.Dst(), d.Dst())
	assert.Len(t, d.Linked, len(Links))
}
