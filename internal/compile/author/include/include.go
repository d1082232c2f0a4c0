package include

import (
	"strings"

	"convtex/internal/compile/author/cgen"
	"convtex/internal/compile/plan"
)

// Names every kernel may use once Types and Samplers are emitted.
var (
	AccumFLT4   cgen.Gen = cgen.Vb("ACCUM_FLT4")
	FLT         cgen.Gen = cgen.Vb("FLT")
	FLT4        cgen.Gen = cgen.Vb("FLT4")
	ToFLT4      cgen.Gen = cgen.Vb("TO_FLT4")
	ToAccumType cgen.Gen = cgen.Vb("TO_ACCUM_TYPE")
	ToAccumFLT  cgen.Gen = cgen.Vb("TO_ACCUM_FLT")
	ReadImage   cgen.Gen = cgen.Vb("READ_IMAGE")
	WriteImage  cgen.Gen = cgen.Vb("WRITE_IMAGE")

	SmpEdge cgen.Gen = cgen.Vb("smp_edge")
	SmpNone cgen.Gen = cgen.Vb("smp_none")
	SmpZero cgen.Gen = cgen.Vb("smp_zero")
)

const (
	fp16Ext    = "cl_khr_fp16"
	imgWritExt = "cl_khr_3d_image_writes"
)

type typeRow struct {
	accum, flt, toFLT, toAccum, toAccumFLT, read, write string
}

var typeRows = [...]typeRow{
	plan.F32: {
		accum: "float", flt: "float",
		toFLT: "convert_float", toAccum: "convert_float4", toAccumFLT: "convert_float",
		read: "read_imagef", write: "write_imagef",
	},
	plan.F16: {
		accum: "half", flt: "half",
		toFLT: "convert_half", toAccum: "convert_half4", toAccumFLT: "convert_half",
		read: "read_imageh", write: "write_imageh",
	},
	plan.F32F16: {
		accum: "float", flt: "half",
		toFLT: "convert_half", toAccum: "convert_float4", toAccumFLT: "convert_float",
		read: "read_imageh", write: "write_imageh",
	},
}

func Extensions(p plan.Precision) cgen.Gen {
	switch p {
	case plan.F32:
		return cgen.Extension(imgWritExt)
	case plan.F16, plan.F32F16:
		return cgen.Extension(fp16Ext)
	default:
		panic("bug")
	}
}

func Types(p plan.Precision) cgen.Gen {
	row := &typeRows[p]
	var gs cgen.Gens
	def := func(name cgen.Gen, val string) {
		gs = append(gs, cgen.Preprocessor{
			Head: cgen.Def,
			Tail: cgen.Spaced{name, cgen.Vb(val)},
		})
	}
	def(AccumFLT4, row.accum+"4")
	def(FLT, row.flt)
	def(cgen.Vb("FLT2"), row.flt+"2")
	def(cgen.Vb("FLT3"), row.flt+"3")
	def(FLT4, row.flt+"4")
	def(ToFLT4, row.toFLT+"4")
	def(ToAccumType, row.toAccum)
	def(ToAccumFLT, row.toAccumFLT)
	def(ReadImage, row.read)
	def(WriteImage, row.write)
	return gs
}

var samplers = [...]struct {
	name    cgen.Gen
	address string
}{
	{SmpEdge, "CLK_ADDRESS_CLAMP_TO_EDGE"},
	{SmpNone, "CLK_ADDRESS_NONE"},
	{SmpZero, "CLK_ADDRESS_CLAMP"},
}

func Samplers() cgen.Gen {
	gs := make(cgen.Stmts, len(samplers))
	for i, smp := range &samplers {
		flags := strings.Join([]string{
			"CLK_NORMALIZED_COORDS_FALSE",
			smp.address,
			"CLK_FILTER_NEAREST",
		}, " | ")
		gs[i] = cgen.Var{
			Type: cgen.Spaced{cgen.Constant, cgen.Vb("sampler_t")},
			What: smp.name,
			Init: cgen.Vb(flags),
		}
	}
	return gs
}
