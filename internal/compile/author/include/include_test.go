package include

import (
	"testing"

	"convtex/internal/compile/author/cgen"
	"convtex/internal/compile/plan"

	"github.com/stretchr/testify/assert"
)

func TestTypes(t *testing.T) {
	cases := []struct {
		p    plan.Precision
		want []string
	}{
		{plan.F32, []string{
			"#define ACCUM_FLT4 float4\n",
			"#define FLT4 float4\n",
			"#define READ_IMAGE read_imagef\n",
		}},
		{plan.F16, []string{
			"#define ACCUM_FLT4 half4\n",
			"#define TO_ACCUM_TYPE convert_half4\n",
			"#define WRITE_IMAGE write_imageh\n",
		}},
		{plan.F32F16, []string{
			"#define ACCUM_FLT4 float4\n",
			"#define FLT4 half4\n",
			"#define TO_FLT4 convert_half4\n",
			"#define TO_ACCUM_TYPE convert_float4\n",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.p.String(), func(t *testing.T) {
			got := cgen.String(Types(tc.p))
			for _, line := range tc.want {
				assert.Contains(t, got, line)
			}
		})
	}
}

func TestExtensions(t *testing.T) {
	assert.Contains(t, cgen.String(Extensions(plan.F32)), "cl_khr_3d_image_writes")
	assert.Contains(t, cgen.String(Extensions(plan.F16)), "cl_khr_fp16")
	assert.Contains(t, cgen.String(Extensions(plan.F32F16)), "cl_khr_fp16")
}

func TestSamplers(t *testing.T) {
	got := cgen.String(Samplers())
	assert.Contains(t, got, "__constant sampler_t smp_none = CLK_NORMALIZED_COORDS_FALSE | CLK_ADDRESS_NONE | CLK_FILTER_NEAREST;\n")
	assert.Contains(t, got, "smp_zero = CLK_NORMALIZED_COORDS_FALSE | CLK_ADDRESS_CLAMP | CLK_FILTER_NEAREST;")
	assert.Contains(t, got, "smp_edge")
}
