// Package tune picks the work group size of a dispatch.
package tune

import (
	"context"
	"time"

	"convtex/internal/cl"
	"convtex/internal/compile/plan"
	"convtex/internal/gpu"
	"convtex/internal/logger"

	"github.com/pkg/errors"
)

type Mode int

const (
	Fast Mode = iota
	Exhaustive
)

var ModeStrings = []string{
	Fast:       "fast",
	Exhaustive: "exhaustive",
}

func (m Mode) String() string {
	return ModeStrings[m]
}

func ParseMode(s string) (Mode, error) {
	for i, name := range ModeStrings {
		if s == name {
			return Mode(i), nil
		}
	}
	return 0, errors.Errorf("unknown tuning mode %q", s)
}

// Params carries what a search may consult. Queue is needed only in
// Exhaustive mode.
type Params struct {
	Mode   Mode
	Device *gpu.Device
	Queue  cl.ProfilingQueue
	Log    logger.Logger
}

const (
	fastXYTotal   = 128
	adrenoMaxZ    = 16
	otherMaxZ     = 64
	fastMaxZRange = 8
)

// WorkGroupConv stores the chosen size in *wg. On error *wg is left as
// it was.
func WorkGroupConv(ctx context.Context, p Params, k cl.Kernel, grid plan.Int3, wg *plan.Int3) error {
	if grid.X <= 0 || grid.Y <= 0 || grid.Z <= 0 {
		return errors.Errorf("empty grid %+v", grid)
	}
	limit := limits(p.Device, k)
	var (
		best plan.Int3
		err  error
	)
	switch p.Mode {
	case Fast:
		best = fast(grid, limit)
	case Exhaustive:
		best, err = exhaustive(ctx, p, k, grid, limit)
	default:
		panic("bug")
	}
	if err != nil {
		return err
	}
	if p.Log != nil {
		p.Log.Debug("work group chosen", "mode", p.Mode, "grid", grid, "wg", best)
	}
	*wg = best
	return nil
}

type limit struct {
	dims  [3]int
	total int
}

func limits(d *gpu.Device, k cl.Kernel) limit {
	l := limit{dims: d.MaxWorkGroupSize(), total: d.MaxWorkGroupTotal()}
	if kt := k.MaxWorkGroupTotal(); kt > 0 && (l.total == 0 || kt < l.total) {
		l.total = kt
	}
	if l.total <= 0 {
		l.total = 1
	}
	maxZ := otherMaxZ
	if d.IsAdreno() {
		maxZ = adrenoMaxZ
	}
	if l.dims[2] == 0 || maxZ < l.dims[2] {
		l.dims[2] = maxZ
	}
	for i := range l.dims {
		if l.dims[i] == 0 || l.dims[i] > l.total {
			l.dims[i] = l.total
		}
	}
	return l
}

// biggestDivisor is the largest divisor of n not above hi.
func biggestDivisor(n, hi int) int {
	for i := min(n, hi); i > 1; i-- {
		if n%i == 0 {
			return i
		}
	}
	return 1
}

// fast splits the grid without measuring: z takes a divisor of the grid
// depth, x covers half the grid width and y takes what is left.
func fast(grid plan.Int3, l limit) plan.Int3 {
	total := min(fastXYTotal, l.total)
	z := biggestDivisor(grid.Z, min(fastMaxZRange, l.dims[2], total))
	xy := total / z
	x := min(plan.CeilQuo(grid.X, 2), xy, l.dims[0])
	y := min(xy/x, grid.Y, l.dims[1])
	return plan.Int3{X: x, Y: max(y, 1), Z: z}
}

// ceilPow2 is the smallest power of two not below n.
func ceilPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// candidates lists every power of two work group within the limits that
// does not overhang the grid by more than one doubling on any axis.
func candidates(grid plan.Int3, l limit) []plan.Int3 {
	var out []plan.Int3
	for z := 1; z <= min(ceilPow2(grid.Z), l.dims[2]); z <<= 1 {
		for y := 1; y <= min(ceilPow2(grid.Y), l.dims[1]); y <<= 1 {
			for x := 1; x <= min(ceilPow2(grid.X), l.dims[0]); x <<= 1 {
				if x*y*z <= l.total {
					out = append(out, plan.Int3{X: x, Y: y, Z: z})
				}
			}
		}
	}
	return out
}

func exhaustive(ctx context.Context, p Params, k cl.Kernel, grid plan.Int3, l limit) (plan.Int3, error) {
	if p.Queue == nil {
		return plan.Int3{}, errors.New("exhaustive tuning needs a profiling queue")
	}
	var (
		best     plan.Int3
		bestTime time.Duration = -1
	)
	for _, c := range candidates(grid, l) {
		if err := ctx.Err(); err != nil {
			return plan.Int3{}, err
		}
		took, err := p.Queue.Profile(ctx, k, grid, c)
		if err != nil {
			return plan.Int3{}, errors.Wrapf(err, "profile work group %+v", c)
		}
		if bestTime < 0 || took < bestTime {
			best, bestTime = c, took
		}
	}
	if bestTime < 0 {
		return plan.Int3{}, errors.Errorf("no work group fits grid %+v", grid)
	}
	return best, nil
}
