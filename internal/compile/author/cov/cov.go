package cov

import "convtex/internal/compile/plan"

// Budget is the number of FLT4 accumulators one invocation may keep live.
func Budget(p plan.Precision) int {
	switch p {
	case plan.F32:
		return 4
	case plan.F16, plan.F32F16:
		return 8
	default:
		panic("bug")
	}
}

// Block chooses the output tile of one invocation for a destination with
// depth slices. The z extent minimizes padded depth (ties go to the
// larger z, which shares each source load across more slices) and never
// takes more than half the budget; the remaining area is split with
// x >= y.
func Block(p plan.Precision, depth int) plan.Int3 {
	budget := Budget(p)
	best, bestZ := -1, 1
	eval := func(z int) {
		cost := plan.AlignBy(depth, z)
		if best == -1 ||
			best > cost ||
			best == cost && bestZ < z {
			best, bestZ = cost, z
		}
	}
	for z := 1; z*2 <= budget; z *= 2 {
		eval(z)
	}
	x, y := Rect(budget / bestZ)
	return plan.Int3{X: x, Y: y, Z: bestZ}
}

// Rect splits a power-of-two area into x*y with x >= y and y as large as
// possible.
func Rect(area int) (x, y int) {
	y = 1
	for (y*2)*(y*2) <= area {
		y *= 2
	}
	return area / y, y
}
