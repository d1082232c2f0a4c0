// Package conv drives one texture convolution through its lifetime:
// weight upload, kernel generation and compilation, argument binding,
// work group tuning and dispatch.
package conv

import (
	"context"

	"convtex/internal/cl"
	"convtex/internal/compile/author/convtex"
	"convtex/internal/compile/author/cov"
	"convtex/internal/compile/author/link"
	"convtex/internal/compile/plan"
	"convtex/internal/errmsg"
	"convtex/internal/gpu"
	"convtex/internal/logger"
	"convtex/internal/tune"

	"github.com/pkg/errors"
)

type State int

const (
	Constructed State = iota
	WeightsUploaded
	Compiled
	Ready
	Tuned
	Released
)

var StateStrings = []string{
	Constructed:     "constructed",
	WeightsUploaded: "weights uploaded",
	Compiled:        "compiled",
	Ready:           "ready",
	Tuned:           "tuned",
	Released:        "released",
}

func (s State) String() string {
	return StateStrings[s]
}

// Env is what an operation borrows from the device it runs on. Cache
// may be shared by many operations.
type Env struct {
	Device  *gpu.Device
	Context cl.Context
	Cache   *cl.ProgramCache
	Log     logger.Logger
}

var DefaultWorkGroup = plan.Int3{X: 4, Y: 4, Z: 2}

type Conv struct {
	env   *Env
	op    plan.Op
	state State

	kernelSize plan.Int2
	stride     plan.Int2
	padding    plan.Int2
	dilation   plan.Int2
	block      plan.Int3
	wg         plan.Int3

	attr    *plan.Conv
	filters [4]cl.Memory
	biases  cl.Memory
	linked  []link.Op
	src     cl.Tensor
	dst     cl.Tensor

	source  string
	options []cl.CompilerOption
	kernel  cl.Kernel
	is1x1   bool
	fast4xx bool
}

func validate(op *plan.Op, attr *plan.Conv) error {
	sh := attr.Weights.Shape
	switch {
	case len(op.Src) == 0 || len(op.Dst) == 0:
		return errors.New("operation needs a source and a destination")
	case sh.O <= 0 || sh.H <= 0 || sh.W <= 0 || sh.I <= 0:
		return errors.Errorf("weights shape %+v: empty", sh)
	case len(attr.Weights.Data) != sh.Len():
		return errors.Errorf("weights shape %+v wants %d values, got %d", sh, sh.Len(), len(attr.Weights.Data))
	case len(attr.Bias) > sh.O:
		return errors.Errorf("%d biases for %d output channels", len(attr.Bias), sh.O)
	case attr.Strides.X <= 0 || attr.Strides.Y <= 0:
		return errors.Errorf("stride %+v: not positive", attr.Strides)
	case attr.Dilations.X <= 0 || attr.Dilations.Y <= 0:
		return errors.Errorf("dilation %+v: not positive", attr.Dilations)
	case attr.Padding.Prepended.X < 0 || attr.Padding.Prepended.Y < 0:
		return errors.Errorf("padding %+v: negative", attr.Padding.Prepended)
	}
	return nil
}

// New captures the attributes. Nothing touches the device until
// UploadWeights.
func New(env *Env, op plan.Op, attr *plan.Conv) (*Conv, error) {
	if err := validate(&op, attr); err != nil {
		return nil, errmsg.Wrap(errmsg.Construction, err, "new convolution")
	}
	sh := attr.Weights.Shape
	return &Conv{
		env:        env,
		op:         op,
		state:      Constructed,
		kernelSize: plan.Int2{X: sh.W, Y: sh.H},
		stride:     attr.Strides,
		padding:    plan.Int2{X: -attr.Padding.Prepended.X, Y: -attr.Padding.Prepended.Y},
		dilation:   attr.Dilations,
		block:      cov.Block(op.Precision, plan.CeilQuo(sh.O, 4)),
		wg:         DefaultWorkGroup,
		attr:       attr,
	}, nil
}

// Create is New followed by UploadWeights. A failed upload releases what
// it allocated.
func Create(env *Env, op plan.Op, attr *plan.Conv) (*Conv, error) {
	c, err := New(env, op, attr)
	if err != nil {
		return nil, err
	}
	if err := c.UploadWeights(); err != nil {
		c.Release()
		return nil, err
	}
	return c, nil
}

func (c *Conv) UploadWeights() error {
	if c.state != Constructed {
		return errmsg.Errorf(errmsg.Construction, "upload weights in state %s", c.state)
	}
	dt := c.op.DataType()
	l, imgs := packFilters(&c.attr.Weights, c.block, dt)
	for i, img := range &imgs {
		mem, err := c.env.Context.CreateTexture2D(cl.Texture2DDesc{
			Width:    l.width,
			Height:   l.height,
			DataType: dt,
		}, img.buf)
		if err != nil {
			c.releaseWeights()
			return errmsg.Wrapf(errmsg.Construction, err, "upload %s", convtex.FilterName(i))
		}
		c.filters[i] = mem
	}
	bias := packBias(c.attr.Bias, l.width, dt)
	mem, err := c.env.Context.CreateLinearStorage(cl.LinearDesc{
		Width:    l.width,
		DataType: dt,
	}, bias.buf)
	if err != nil {
		c.releaseWeights()
		return errmsg.Wrap(errmsg.Construction, err, "upload biases")
	}
	c.biases = mem
	c.state = WeightsUploaded
	return nil
}

// AddLinked appends a fused elementwise op. The chain is fixed once the
// kernel is compiled.
func (c *Conv) AddLinked(op link.Op) error {
	if c.state >= Compiled {
		return errmsg.Errorf(errmsg.Compile, "link op in state %s", c.state)
	}
	c.linked = append(c.linked, op)
	return nil
}

func (c *Conv) SetSrc(t cl.Tensor) { c.src = t }
func (c *Conv) SetDst(t cl.Tensor) { c.dst = t }

func (c *Conv) spec() *convtex.Spec {
	return &convtex.Spec{
		Op:        &c.op,
		Block:     c.block,
		Is1x1:     c.is1x1,
		Adreno4xx: c.fast4xx,
		Stride:    c.stride,
		Device:    c.env.Device,
		Linked:    c.linked,
	}
}

func (c *Conv) Compile(ctx context.Context) error {
	if c.state != WeightsUploaded {
		return errmsg.Errorf(errmsg.Compile, "compile in state %s", c.state)
	}
	if c.op.Precision != plan.F32 && !c.env.Device.SupportsHalfSIMD() {
		return errmsg.Errorf(errmsg.Compile, "%s needs cl_khr_fp16, %q lacks it",
			c.op.Precision, c.env.Device.Info().Name)
	}
	c.is1x1 = c.kernelSize == plan.Int2{X: 1, Y: 1}
	fp := convtex.FastPath{
		Stride:    c.stride,
		Padding:   c.padding,
		Storage:   c.op.PrimaryStorage(),
		Precision: c.op.Precision,
		Tier:      c.env.Device.Tier(),
	}
	var failed string
	c.fast4xx, failed = fp.Adreno4xx()
	c.options = convtex.Options(c.env.Device, c.op.Precision, c.is1x1)
	c.source = convtex.Generate(c.spec())
	k, err := c.env.Cache.GetOrCreateKernel(ctx, c.source, convtex.Entry, c.options)
	if err != nil {
		c.log().Debug("compile failed", "err", err)
		return errmsg.Wrap(errmsg.Compile, err, "compile convolution")
	}
	c.kernel = k
	c.state = Compiled
	c.log().Debug("compiled",
		"block", c.block,
		"is1x1", c.is1x1,
		"adreno4xx", c.fast4xx,
		"adreno4xx_rule", failed,
		"options", cl.Flags(c.options),
	)
	return nil
}

func (c *Conv) log() logger.Logger {
	if c.env == nil || c.env.Log == nil {
		return logger.Discard()
	}
	return c.env.Log
}

func int4Of(t cl.Tensor) plan.Int4 {
	return plan.Int4{
		X: t.Width() * t.Batch(),
		Y: t.Height(),
		Z: t.Channels(),
		W: t.Depth(),
	}
}

// BindArguments binds every kernel argument from the current tensors in
// signature order.
func (c *Conv) BindArguments() error {
	if c.state < Compiled || c.state == Released {
		return errmsg.Errorf(errmsg.Bind, "bind in state %s", c.state)
	}
	if c.src == nil || c.dst == nil {
		return errmsg.New(errmsg.Bind, "source and destination tensors must be set")
	}
	if c.src.Storage() != c.op.Src[0] {
		return errmsg.Errorf(errmsg.Bind, "source is %s, kernel reads %s", c.src.Storage(), c.op.Src[0])
	}
	if c.dst.Storage() != c.op.Dst[0] {
		return errmsg.Errorf(errmsg.Bind, "destination is %s, kernel writes %s", c.dst.Storage(), c.op.Dst[0])
	}
	if err := c.checkShapes(); err != nil {
		return errmsg.Wrap(errmsg.Bind, err, "bind arguments")
	}
	if err := c.bind(); err != nil {
		return errmsg.Wrap(errmsg.Bind, err, "bind arguments")
	}
	if c.state == Compiled {
		c.state = Ready
	}
	return nil
}

// checkShapes matches the tensors against the packed weights. The
// filter images hold exactly the source slices and the destination
// slices of the weights.
func (c *Conv) checkShapes() error {
	sh := c.attr.Weights.Shape
	if d, want := c.src.Depth(), plan.CeilQuo(sh.I, 4); d != want {
		return errors.Errorf("source has %d slices, weights read %d", d, want)
	}
	if d, want := c.dst.Depth(), plan.CeilQuo(sh.O, 4); d != want {
		return errors.Errorf("destination has %d slices, weights write %d", d, want)
	}
	if c.op.BatchSupport && c.src.Batch() != c.dst.Batch() {
		return errors.Errorf("source batch %d, destination batch %d", c.src.Batch(), c.dst.Batch())
	}
	return nil
}

func (c *Conv) bind() error {
	k := c.kernel
	k.ResetBindingCounter()
	if err := k.SetMemoryAuto(c.src.Memory()); err != nil {
		return err
	}
	for _, f := range &c.filters {
		if err := k.SetMemoryAuto(f); err != nil {
			return err
		}
	}
	if err := k.SetMemoryAuto(c.biases); err != nil {
		return err
	}
	if err := link.Bind(k, c.linked); err != nil {
		return err
	}
	if err := k.SetMemoryAuto(c.dst.Memory()); err != nil {
		return err
	}
	vals := []any{int4Of(c.src), int4Of(c.dst)}
	if !c.is1x1 {
		vals = append(vals,
			c.kernelSize,
			plan.Int2{X: c.dilation.X * c.src.Batch(), Y: c.dilation.Y},
		)
	}
	if convtex.NeedStrideCorrection(&c.op, c.stride) {
		vals = append(vals, c.dst.Batch())
	}
	vals = append(vals,
		c.stride,
		plan.Int2{X: c.padding.X * c.src.Batch(), Y: c.padding.Y},
	)
	for _, v := range vals {
		if err := k.SetBytesAuto(v); err != nil {
			return err
		}
	}
	return nil
}

// GridSize covers the destination with whole blocks. The kernel discards
// the overhang. It is empty until a destination is set.
func (c *Conv) GridSize() plan.Int3 {
	if c.dst == nil {
		return plan.Int3{}
	}
	return Grid(plan.Int3{
		X: c.dst.Width() * c.dst.Batch(),
		Y: c.dst.Height(),
		Z: c.dst.Depth(),
	}, c.block)
}

func Grid(dst, block plan.Int3) plan.Int3 {
	return plan.Int3{
		X: plan.CeilQuo(dst.X, block.X),
		Y: plan.CeilQuo(dst.Y, block.Y),
		Z: plan.CeilQuo(dst.Z, block.Z),
	}
}

// Tune searches for a faster work group size. A failed search keeps the
// previous size and the operation stays dispatchable.
func (c *Conv) Tune(ctx context.Context, p tune.Params) error {
	if err := c.BindArguments(); err != nil {
		return err
	}
	if p.Device == nil {
		p.Device = c.env.Device
	}
	if p.Log == nil {
		p.Log = c.log()
	}
	if err := tune.WorkGroupConv(ctx, p, c.kernel, c.GridSize(), &c.wg); err != nil {
		c.log().Warn("tuning failed, keeping work group", "wg", c.wg, "err", err)
		return errmsg.Wrap(errmsg.Tune, err, "tune work group")
	}
	c.state = Tuned
	return nil
}

func (c *Conv) AddToQueue(ctx context.Context, q cl.Queue) error {
	if err := c.BindArguments(); err != nil {
		return err
	}
	if err := q.DispatchImplicit(ctx, c.kernel, c.GridSize(), c.wg); err != nil {
		c.log().Debug("dispatch failed", "grid", c.GridSize(), "wg", c.wg, "err", err)
		return errmsg.Wrap(errmsg.Dispatch, err, "dispatch convolution")
	}
	return nil
}

// Move transfers ownership of everything c holds to the returned Conv.
// c is left released and holds nothing.
func (c *Conv) Move() *Conv {
	n := new(Conv)
	*n = *c
	*c = Conv{state: Released}
	return n
}

// Release frees the device memory the operation owns. Releasing twice is
// a no-op.
func (c *Conv) Release() error {
	err := c.releaseWeights()
	c.kernel = nil
	c.state = Released
	return err
}

// releaseWeights frees the filter images and the bias table, keeping
// the first error.
func (c *Conv) releaseWeights() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	for i, f := range &c.filters {
		if f != nil {
			keep(f.Release())
			c.filters[i] = nil
		}
	}
	if c.biases != nil {
		keep(c.biases.Release())
		c.biases = nil
	}
	return first
}

func (c *Conv) State() State          { return c.state }
func (c *Conv) Block() plan.Int3      { return c.block }
func (c *Conv) WorkGroup() plan.Int3  { return c.wg }
func (c *Conv) Source() string        { return c.source }
func (c *Conv) Is1x1() bool           { return c.is1x1 }
func (c *Conv) Adreno4xx() bool       { return c.fast4xx }
func (c *Conv) Kernel() cl.Kernel     { return c.kernel }
func (c *Conv) Stride() plan.Int2     { return c.stride }
func (c *Conv) Padding() plan.Int2    { return c.padding }
func (c *Conv) KernelSize() plan.Int2 { return c.kernelSize }
func (c *Conv) Dilation() plan.Int2   { return c.dilation }
func (c *Conv) Op() plan.Op           { return c.op }
func (c *Conv) Filters() [4]cl.Memory { return c.filters }
func (c *Conv) Biases() cl.Memory     { return c.biases }

func (c *Conv) Options() []cl.CompilerOption {
	return c.options
}

// SetWorkGroup overrides the dispatch work group size. The size must
// fit the device's per-dimension and total limits.
func (c *Conv) SetWorkGroup(wg plan.Int3) error {
	d := c.env.Device
	dims, total := d.MaxWorkGroupSize(), d.MaxWorkGroupTotal()
	switch {
	case wg.X <= 0 || wg.Y <= 0 || wg.Z <= 0:
		return errmsg.Errorf(errmsg.Dispatch, "work group %+v: not positive", wg)
	case wg.X > dims[0] || wg.Y > dims[1] || wg.Z > dims[2]:
		return errmsg.Errorf(errmsg.Dispatch, "work group %+v exceeds %v", wg, dims)
	case wg.Volume() > total:
		return errmsg.Errorf(errmsg.Dispatch, "work group %+v has %d items, device allows %d", wg, wg.Volume(), total)
	}
	c.wg = wg
	return nil
}

// Signature is the compiled kernel's parameter list.
func (c *Conv) Signature() []string {
	return convtex.Signature(c.spec()).Names()
}
