package tune

import (
	"context"
	"testing"
	"time"

	"convtex/internal/cl"
	"convtex/internal/compile/plan"
	"convtex/internal/gpu"
	"convtex/internal/logger"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type kernel struct{ maxWG int }

func (k kernel) ID() string                      { return "k" }
func (k kernel) ResetBindingCounter()            {}
func (k kernel) SetMemoryAuto(m cl.Memory) error { return nil }
func (k kernel) SetBytesAuto(v any) error        { return nil }
func (k kernel) MaxWorkGroupTotal() int          { return k.maxWG }

type queue struct {
	cost   func(wg plan.Int3) time.Duration
	failAt int
	calls  int
}

func (q *queue) DispatchImplicit(ctx context.Context, k cl.Kernel, grid, wg plan.Int3) error {
	return nil
}

func (q *queue) Profile(ctx context.Context, k cl.Kernel, grid, wg plan.Int3) (time.Duration, error) {
	q.calls++
	if q.calls == q.failAt {
		return 0, errors.New("queue lost")
	}
	return q.cost(wg), nil
}

var device = gpu.Probe(gpu.Info{
	Name:              "Mali-G78",
	MaxWorkGroupTotal: 256,
	MaxWorkGroupSize:  [3]int{256, 256, 64},
})

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func TestFast(t *testing.T) {
	cases := []struct {
		grid  plan.Int3
		maxWG int
		want  plan.Int3
	}{
		{plan.Int3{X: 5, Y: 3, Z: 3}, 256, plan.Int3{X: 3, Y: 3, Z: 3}},
		{plan.Int3{X: 64, Y: 64, Z: 8}, 256, plan.Int3{X: 16, Y: 1, Z: 8}},
		{plan.Int3{X: 64, Y: 64, Z: 8}, 64, plan.Int3{X: 8, Y: 1, Z: 8}},
		{plan.Int3{X: 1, Y: 1, Z: 7}, 256, plan.Int3{X: 1, Y: 1, Z: 7}},
	}
	for _, tc := range cases {
		wg := plan.Int3{X: 4, Y: 4, Z: 2}
		err := WorkGroupConv(context.Background(), Params{Mode: Fast, Device: device}, kernel{tc.maxWG}, tc.grid, &wg)
		require.NoError(t, err)
		assert.Equal(t, tc.want, wg, "%+v", tc.grid)
		assert.LessOrEqual(t, wg.Volume(), tc.maxWG)
	}
}

func TestExhaustive(t *testing.T) {
	q := &queue{cost: func(wg plan.Int3) time.Duration {
		return time.Duration(abs(wg.X-4) + abs(wg.Y-2) + abs(wg.Z-1))
	}}
	p := Params{Mode: Exhaustive, Device: device, Queue: q, Log: logger.Discard()}
	wg := plan.Int3{X: 1, Y: 1, Z: 1}
	require.NoError(t, WorkGroupConv(context.Background(), p, kernel{256}, plan.Int3{X: 8, Y: 8, Z: 8}, &wg))
	assert.Equal(t, plan.Int3{X: 4, Y: 2, Z: 1}, wg)
	assert.Equal(t, len(candidates(plan.Int3{X: 8, Y: 8, Z: 8}, limits(device, kernel{256}))), q.calls)
}

func TestExhaustiveKeepsSizeOnFailure(t *testing.T) {
	prev := plan.Int3{X: 4, Y: 4, Z: 2}
	grid := plan.Int3{X: 16, Y: 16, Z: 4}
	flat := func(plan.Int3) time.Duration { return time.Microsecond }

	wg := prev
	q := &queue{cost: flat, failAt: 3}
	err := WorkGroupConv(context.Background(), Params{Mode: Exhaustive, Device: device, Queue: q}, kernel{256}, grid, &wg)
	assert.ErrorContains(t, err, "queue lost")
	assert.Equal(t, prev, wg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = WorkGroupConv(ctx, Params{Mode: Exhaustive, Device: device, Queue: &queue{cost: flat}}, kernel{256}, grid, &wg)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, prev, wg)

	err = WorkGroupConv(context.Background(), Params{Mode: Exhaustive, Device: device}, kernel{256}, grid, &wg)
	assert.ErrorContains(t, err, "profiling queue")
	assert.Equal(t, prev, wg)

	err = WorkGroupConv(context.Background(), Params{Mode: Fast, Device: device}, kernel{256}, plan.Int3{}, &wg)
	assert.ErrorContains(t, err, "empty grid")
	assert.Equal(t, prev, wg)
}

func TestCandidates(t *testing.T) {
	l := limits(device, kernel{256})
	assert.Equal(t, []plan.Int3{
		{X: 1, Y: 1, Z: 1},
		{X: 2, Y: 1, Z: 1},
		{X: 4, Y: 1, Z: 1},
	}, candidates(plan.Int3{X: 3, Y: 1, Z: 1}, l))

	l = limits(device, kernel{16})
	for _, c := range candidates(plan.Int3{X: 64, Y: 64, Z: 64}, l) {
		assert.LessOrEqual(t, c.Volume(), 16)
	}

	adreno := gpu.Probe(gpu.Info{Name: "Adreno (TM) 630", MaxWorkGroupTotal: 1024, MaxWorkGroupSize: [3]int{1024, 1024, 1024}})
	assert.Equal(t, 16, limits(adreno, kernel{1024}).dims[2])
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("exhaustive")
	require.NoError(t, err)
	assert.Equal(t, Exhaustive, m)
	_, err = ParseMode("slow")
	assert.Error(t, err)
}
