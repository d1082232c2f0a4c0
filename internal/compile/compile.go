// Package compile turns one operation descriptor into an OpenCL kernel
// and its manifest. The operation is built, compiled, bound, tuned and
// test-dispatched on a simulated device shaped like the descriptor's.
package compile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math/rand/v2"
	"time"

	"convtex/internal/cl"
	"convtex/internal/cl/sim"
	"convtex/internal/compile/author/act"
	"convtex/internal/compile/author/convtex"
	"convtex/internal/compile/plan"
	"convtex/internal/errmsg"
	"convtex/internal/logger"
	"convtex/internal/nmsrc"
	"convtex/internal/op/conv"
	"convtex/internal/raw"
	"convtex/internal/tune"

	"github.com/goccy/go-json"
)

type Result struct {
	Name     string
	Source   []byte
	Manifest []byte
}

func Compile(ctx context.Context, text []byte, log logger.Logger) (*Result, error) {
	if log == nil {
		log = logger.Discard()
	}
	desc, err := raw.Parse(text)
	if err != nil {
		return nil, err
	}
	st := &state{
		ctx:  ctx,
		log:  log,
		desc: desc,
	}
	defer st.release()
	if err := st.stages(); err != nil {
		return nil, errmsg.Wrap(errmsg.KindOf(err), err, "compile failed")
	}
	return &Result{
		Name:     st.name,
		Source:   []byte(st.op.Source()),
		Manifest: st.manifest,
	}, nil
}

type state struct {
	ctx  context.Context
	log  logger.Logger
	desc *raw.Descriptor

	dev     *sim.Device
	env     *conv.Env
	op      *conv.Conv
	src     *sim.Tensor
	dst     *sim.Tensor
	addends []*sim.Tensor
	queue   *sim.Queue
	latency time.Duration

	name     string
	manifest []byte
}

var stages = [...]func(*state) error{
	(*state).stage1,
	(*state).stage2,
	(*state).stage3,
	(*state).stage4,
	(*state).stage5,
	(*state).stage6,
	(*state).stage7,
}

func (st *state) stages() error {
	for _, stage := range &stages {
		if err := stage(st); err != nil {
			return err
		}
	}
	return nil
}

// stage1 brings up the simulated device.
func (st *state) stage1() error {
	st.dev = sim.New(st.desc.Device.Info, st.log)
	st.env = &conv.Env{
		Device:  st.dev.Probe(),
		Context: st.dev,
		Cache:   cl.NewProgramCache(st.dev),
		Log:     st.log,
	}
	st.queue = sim.NewQueue(st.dev)
	return nil
}

// weights fills the attributes from the descriptor's seed. Values fall
// in [-1, 1) scaled by the fan-in.
func weights(c *raw.Conv, srcChannels int) *plan.Conv {
	rng := rand.New(rand.NewPCG(uint64(c.Seed), 0x636f6e76))
	shape := plan.OHWI{O: c.ToChannels, H: c.FilterH, W: c.FilterW, I: srcChannels}
	scale := 1 / float32(c.FilterH*c.FilterW*srcChannels)
	data := make([]float32, shape.Len())
	for i := range data {
		data[i] = (rng.Float32()*2 - 1) * scale
	}
	var bias []float32
	if !c.NoBias {
		bias = make([]float32, c.ToChannels)
		for i := range bias {
			bias[i] = rng.Float32()*2 - 1
		}
	}
	return &plan.Conv{
		Weights:   plan.Weights{Shape: shape, Data: data},
		Bias:      bias,
		Strides:   plan.Int2{X: c.StrideW, Y: c.StrideH},
		Dilations: plan.Int2{X: c.DilationW, Y: c.DilationH},
		Padding: plan.Padding{
			Prepended: plan.Int2{X: c.PaddingW, Y: c.PaddingH},
			Appended:  plan.Int2{X: c.PaddingW, Y: c.PaddingH},
		},
	}
}

// stage2 constructs the operation and uploads its weights.
func (st *state) stage2() error {
	attr := weights(st.desc.Conv, st.desc.Input.Channels)
	op, err := conv.Create(st.env, st.desc.Op.Plan(), attr)
	if err != nil {
		return err
	}
	st.op = op
	return nil
}

// stage3 fuses the linked chain. An Add reads a residual tensor of the
// destination's shape.
func (st *state) stage3() error {
	actx := act.NewCtx(nmsrc.New())
	pl := st.desc.Op.Plan()
	dt := pl.DataType()
	for _, node := range st.desc.Linked {
		var err error
		switch at := node.(type) {
		case *raw.ReLU:
			err = st.op.AddLinked(&act.ReLU{NegSlope: at.NegSlope, Clip: at.Clip})
		case *raw.Scalar:
			kind := act.Mul
			if at.Kind == raw.ScalarSum {
				kind = act.Sum
			}
			err = st.op.AddLinked(actx.Scalar(kind, at.Value))
		case *raw.Add:
			var t *sim.Tensor
			t, err = st.dev.CreateTensor(st.desc.Dst(), at.Storage, dt)
			if err != nil {
				return errmsg.Wrapf(errmsg.Construction, err, "line %d: residual tensor", at.LineNum)
			}
			st.addends = append(st.addends, t)
			add := actx.Add(at.Storage)
			add.SetSrc(t)
			err = st.op.AddLinked(add)
		default:
			panic("bug")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// stage4 allocates the source and destination tensors.
func (st *state) stage4() error {
	op := st.desc.Op
	pl := op.Plan()
	dt := pl.DataType()
	src, err := st.dev.CreateTensor(st.desc.Input.Shape(), op.SrcStorage, dt)
	if err != nil {
		return errmsg.Wrap(errmsg.Construction, err, "source tensor")
	}
	st.src = src
	dst, err := st.dev.CreateTensor(st.desc.Dst(), op.DstStorage, dt)
	if err != nil {
		return errmsg.Wrap(errmsg.Construction, err, "destination tensor")
	}
	st.dst = dst
	st.op.SetSrc(src)
	st.op.SetDst(dst)
	return nil
}

// stage5 generates and compiles the kernel.
func (st *state) stage5() error {
	if err := st.op.Compile(st.ctx); err != nil {
		return err
	}
	sum := sha256.Sum256([]byte(st.op.Source()))
	st.name = "conv_" + hex.EncodeToString(sum[:4])
	return nil
}

// stage6 tunes the work group. A failed search is logged and the
// default stays.
func (st *state) stage6() error {
	var mode tune.Mode
	switch st.desc.Tune.Mode {
	case raw.NoTune:
		return st.op.BindArguments()
	case raw.FastTune:
		mode = tune.Fast
	case raw.ExhaustiveTune:
		mode = tune.Exhaustive
	default:
		panic("bug")
	}
	err := st.op.Tune(st.ctx, tune.Params{
		Mode:  mode,
		Queue: st.queue,
		Log:   st.log,
	})
	if err != nil && errmsg.KindOf(err).Fatal() {
		return err
	}
	return nil
}

// stage7 test-dispatches the kernel and writes the manifest.
func (st *state) stage7() error {
	if err := st.op.AddToQueue(st.ctx, st.queue); err != nil {
		return err
	}
	lat, err := st.queue.Profile(st.ctx, st.op.Kernel(), st.op.GridSize(), st.op.WorkGroup())
	if err != nil {
		return errmsg.Wrap(errmsg.Dispatch, err, "profile")
	}
	st.latency = lat
	m, err := json.MarshalIndent(st.describe(), "", "\t")
	if err != nil {
		return errmsg.Wrap(errmsg.Unknown, err, "manifest")
	}
	st.manifest = append(m, '\n')
	return nil
}

func (st *state) release() {
	if st.op != nil {
		if err := st.op.Release(); err != nil {
			st.log.Warn("release operation", "err", err)
		}
	}
	ts := append([]*sim.Tensor{st.src, st.dst}, st.addends...)
	for _, t := range ts {
		if t == nil {
			continue
		}
		if err := t.Memory().Release(); err != nil {
			st.log.Warn("release tensor", "err", err)
		}
	}
}

// Manifest records how the kernel was built and how it is to be
// dispatched.
type Manifest struct {
	Name       string      `json:"name"`
	Entry      string      `json:"entry"`
	Device     DeviceEntry `json:"device"`
	Precision  string      `json:"precision"`
	SrcStorage string      `json:"src_storage"`
	DstStorage string      `json:"dst_storage"`
	Src        plan.BHWC   `json:"src"`
	Dst        plan.BHWC   `json:"dst"`
	Block      plan.Int3   `json:"block"`
	Grid       plan.Int3   `json:"grid"`
	WorkGroup  plan.Int3   `json:"work_group"`
	Is1x1      bool        `json:"is_1x1"`
	Adreno4xx  bool        `json:"adreno4xx"`
	Options    []string    `json:"options"`
	Params     []Param     `json:"params"`
	Tune       string      `json:"tune"`
	LatencyNS  int64       `json:"latency_ns"`
	SHA256     string      `json:"sha256"`
}

type DeviceEntry struct {
	Name   string `json:"name"`
	Vendor string `json:"vendor"`
	Tier   string `json:"tier"`
}

type Param struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

func (st *state) describe() *Manifest {
	op, d := st.op, st.desc
	probe := st.env.Device
	k := op.Kernel().(*sim.Kernel)
	names, kinds := k.ArgNames(), k.ArgKinds()
	ps := make([]Param, len(names))
	for i := range ps {
		ps[i] = Param{Name: names[i], Kind: kinds[i].String()}
	}
	sum := sha256.Sum256([]byte(op.Source()))
	return &Manifest{
		Name:  st.name,
		Entry: convtex.Entry,
		Device: DeviceEntry{
			Name:   d.Device.Info.Name,
			Vendor: probe.Vendor().String(),
			Tier:   probe.Tier().String(),
		},
		Precision:  d.Op.Precision.String(),
		SrcStorage: d.Op.SrcStorage.String(),
		DstStorage: d.Op.DstStorage.String(),
		Src:        d.Input.Shape(),
		Dst:        d.Dst(),
		Block:      op.Block(),
		Grid:       op.GridSize(),
		WorkGroup:  op.WorkGroup(),
		Is1x1:      op.Is1x1(),
		Adreno4xx:  op.Adreno4xx(),
		Options:    cl.Flags(op.Options()),
		Params:     ps,
		Tune:       raw.TuneStrings[d.Tune.Mode],
		LatencyNS:  st.latency.Nanoseconds(),
		SHA256:     hex.EncodeToString(sum[:]),
	}
}
