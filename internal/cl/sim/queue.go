package sim

import (
	"context"
	"time"

	"convtex/internal/cl"
	"convtex/internal/compile/plan"

	"github.com/pkg/errors"
)

// Dispatch is one recorded kernel launch.
type Dispatch struct {
	Kernel string
	Entry  string
	Grid   plan.Int3
	WG     plan.Int3
	Args   []any
}

const (
	groupOverhead = 2 * time.Microsecond
	laneCost      = 4 * time.Nanosecond
)

type Queue struct {
	dev *Device
}

func NewQueue(d *Device) *Queue {
	return &Queue{dev: d}
}

func (q *Queue) check(ctx context.Context, k cl.Kernel, grid, wg plan.Int3) (*Kernel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sk, ok := k.(*Kernel)
	if !ok {
		return nil, errors.Errorf("kernel %T was not created by this device", k)
	}
	if !sk.Complete() {
		return nil, errors.Errorf("%s: %d of %d arguments bound", sk.entry, sk.next, len(sk.args))
	}
	if grid.X <= 0 || grid.Y <= 0 || grid.Z <= 0 {
		return nil, errors.Errorf("empty grid %+v", grid)
	}
	if wg.X <= 0 || wg.Y <= 0 || wg.Z <= 0 {
		return nil, errors.Errorf("empty work group %+v", wg)
	}
	lim := q.dev.info.MaxWorkGroupSize
	if wg.X > lim[0] || wg.Y > lim[1] || wg.Z > lim[2] {
		return nil, errors.Errorf("work group %+v exceeds per-dimension limit %v", wg, lim)
	}
	if wg.Volume() > sk.maxWG {
		return nil, errors.Errorf("work group %+v has %d items, kernel allows %d", wg, wg.Volume(), sk.maxWG)
	}
	return sk, nil
}

func (q *Queue) DispatchImplicit(ctx context.Context, k cl.Kernel, grid, wg plan.Int3) error {
	sk, err := q.check(ctx, k, grid, wg)
	if err != nil {
		return err
	}
	q.dev.mu.Lock()
	q.dev.dispatches = append(q.dev.dispatches, Dispatch{
		Kernel: sk.id,
		Entry:  sk.entry,
		Grid:   grid,
		WG:     wg,
		Args:   sk.Bound(),
	})
	q.dev.mu.Unlock()
	return nil
}

// Profile times a dispatch without recording it. Each work group pays a
// fixed overhead plus one lane cost per SIMD-rounded item, and groups
// spread evenly across compute units.
func (q *Queue) Profile(ctx context.Context, k cl.Kernel, grid, wg plan.Int3) (time.Duration, error) {
	if _, err := q.check(ctx, k, grid, wg); err != nil {
		return 0, err
	}
	groups := plan.CeilQuo(grid.X, wg.X) * plan.CeilQuo(grid.Y, wg.Y) * plan.CeilQuo(grid.Z, wg.Z)
	lanes := plan.AlignBy(wg.Volume(), simdWidth)
	waves := plan.CeilQuo(groups, q.dev.info.ComputeUnits)
	per := groupOverhead + time.Duration(lanes)*laneCost
	return time.Duration(waves) * per, nil
}
