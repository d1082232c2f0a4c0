package cov

import (
	"testing"

	"convtex/internal/compile/plan"

	"github.com/stretchr/testify/assert"
)

func TestBlock(t *testing.T) {
	cases := []struct {
		p     plan.Precision
		depth int
		want  plan.Int3
	}{
		{plan.F32, 5, plan.Int3{X: 2, Y: 2, Z: 1}},
		{plan.F32, 16, plan.Int3{X: 2, Y: 1, Z: 2}},
		{plan.F16, 16, plan.Int3{X: 2, Y: 1, Z: 4}},
		{plan.F16, 6, plan.Int3{X: 2, Y: 2, Z: 2}},
		{plan.F32F16, 1, plan.Int3{X: 4, Y: 2, Z: 1}},
	}
	for _, tc := range cases {
		got := Block(tc.p, tc.depth)
		assert.Equal(t, tc.want, got, "%s depth %d", tc.p, tc.depth)
		assert.Equal(t, Budget(tc.p), got.Volume())
	}
}

func TestRect(t *testing.T) {
	for area, want := range map[int][2]int{1: {1, 1}, 2: {2, 1}, 4: {2, 2}, 8: {4, 2}, 16: {4, 4}} {
		x, y := Rect(area)
		assert.Equal(t, want, [2]int{x, y}, "area %d", area)
	}
}
