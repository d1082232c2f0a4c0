package convtex

import (
	"convtex/internal/cl"
	"convtex/internal/compile/plan"
	"convtex/internal/gpu"
)

// FastPath is what the vendor decisions look at.
type FastPath struct {
	Stride    plan.Int2
	Padding   plan.Int2
	Storage   plan.Storage
	Precision plan.Precision
	Tier      gpu.Tier
}

// The destination may reuse xc0 and yc0 only where source and
// destination coordinates coincide, and it pays off only on Adreno 4xx
// with half precision texture arrays.
var adreno4xxRules = [...]struct {
	name string
	ok   func(f *FastPath) bool
}{
	{"stride", func(f *FastPath) bool { return f.Stride == plan.Int2{X: 1, Y: 1} }},
	{"padding", func(f *FastPath) bool { return f.Padding == plan.Int2{} }},
	{"tier", func(f *FastPath) bool { return f.Tier == gpu.Adreno4xx }},
	{"storage", func(f *FastPath) bool { return f.Storage == plan.TextureArray }},
	{"precision", func(f *FastPath) bool { return f.Precision == plan.F16 }},
}

// Adreno4xx reports eligibility and, when ineligible, the first rule
// that failed.
func (f *FastPath) Adreno4xx() (ok bool, failed string) {
	for _, rule := range &adreno4xxRules {
		if !rule.ok(f) {
			return false, rule.name
		}
	}
	return true, ""
}

// fullSIMD lists the measured cases where the full SIMD line helps.
// F32 and F32_F16 never benefit.
var fullSIMD = [...]struct {
	precision plan.Precision
	tier      gpu.Tier
	only1x1   bool
}{
	{plan.F16, gpu.Adreno3xx, true},
}

func UseFullSIMD(d *gpu.Device, p plan.Precision, is1x1 bool) bool {
	if !d.IsAdreno() {
		return false
	}
	for _, row := range &fullSIMD {
		if row.precision == p &&
			row.tier == d.Tier() &&
			(is1x1 || !row.only1x1) {
			return true
		}
	}
	return false
}

func Options(d *gpu.Device, p plan.Precision, is1x1 bool) []cl.CompilerOption {
	if UseFullSIMD(d, p, is1x1) {
		return []cl.CompilerOption{cl.AdrenoFullSIMDLine}
	}
	return nil
}
