// Package sim is an in-process OpenCL device. It allocates host-backed
// memory objects, parses kernel signatures out of program text, checks
// every bound argument against its parameter, enforces work group limits
// and times dispatches with a fixed cost model. Nothing executes.
package sim

import (
	"sync"

	"convtex/internal/cl"
	"convtex/internal/compile/plan"
	"convtex/internal/gpu"
	"convtex/internal/logger"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	defaultImageSize = 16384
	defaultWGTotal   = 256
	simdWidth        = 32
)

type Device struct {
	id    string
	info  gpu.Info
	probe *gpu.Device
	log   logger.Logger

	mu         sync.Mutex
	live       map[string]*Memory
	dispatches []Dispatch
}

func New(info gpu.Info, log logger.Logger) *Device {
	if info.MaxWorkGroupTotal == 0 {
		info.MaxWorkGroupTotal = defaultWGTotal
	}
	if info.MaxWorkGroupSize == [3]int{} {
		info.MaxWorkGroupSize = [3]int{info.MaxWorkGroupTotal, info.MaxWorkGroupTotal, 64}
	}
	if info.MaxImage2DWidth == 0 {
		info.MaxImage2DWidth = defaultImageSize
	}
	if info.MaxImage2DHeight == 0 {
		info.MaxImage2DHeight = defaultImageSize
	}
	if info.ComputeUnits == 0 {
		info.ComputeUnits = 1
	}
	id := uuid.New().String()
	return &Device{
		id:    id,
		info:  info,
		probe: gpu.Probe(info),
		log:   log.With("device", info.Name, "id", id),
		live:  make(map[string]*Memory),
	}
}

func (d *Device) ID() string         { return d.id }
func (d *Device) Info() gpu.Info     { return d.info }
func (d *Device) Probe() *gpu.Device { return d.probe }

func (d *Device) alloc(typ cl.MemType, data []byte) *Memory {
	m := &Memory{
		id:   uuid.New().String(),
		typ:  typ,
		data: append([]byte(nil), data...),
		dev:  d,
	}
	d.mu.Lock()
	d.live[m.id] = m
	d.mu.Unlock()
	return m
}

func (d *Device) checkImage(w, h int) error {
	if w <= 0 || h <= 0 {
		return errors.Errorf("image %dx%d: empty", w, h)
	}
	if w > d.info.MaxImage2DWidth || h > d.info.MaxImage2DHeight {
		return errors.Errorf("image %dx%d exceeds device limit %dx%d",
			w, h, d.info.MaxImage2DWidth, d.info.MaxImage2DHeight)
	}
	return nil
}

func (d *Device) CreateTexture2D(desc cl.Texture2DDesc, data []byte) (cl.Memory, error) {
	if err := d.checkImage(desc.Width, desc.Height); err != nil {
		return nil, err
	}
	if want := desc.Width * desc.Height * desc.DataType.Bytes(); len(data) != want {
		return nil, errors.Errorf("texture %dx%d: got %d bytes, want %d",
			desc.Width, desc.Height, len(data), want)
	}
	return d.alloc(cl.Image2DMem, data), nil
}

func (d *Device) CreateLinearStorage(desc cl.LinearDesc, data []byte) (cl.Memory, error) {
	return d.CreateTexture2D(cl.Texture2DDesc{
		Width:    desc.Width,
		Height:   1,
		DataType: desc.DataType,
	}, data)
}

// CreateTensor allocates a zeroed tensor laid out for the storage kind.
func (d *Device) CreateTensor(shape plan.BHWC, storage plan.Storage, dt plan.DataType) (*Tensor, error) {
	if shape.B <= 0 || shape.H <= 0 || shape.W <= 0 || shape.C <= 0 {
		return nil, errors.Errorf("tensor %+v: empty", shape)
	}
	w, h := shape.W*shape.B, shape.H
	switch storage {
	case plan.Texture2D:
		h *= shape.Depth()
	case plan.SingleTexture2D:
		if shape.Depth() != 1 {
			return nil, errors.Errorf("single texture holds one slice, tensor has %d", shape.Depth())
		}
	}
	if storage != plan.Buffer && storage != plan.ImageBuffer {
		if err := d.checkImage(w, h); err != nil {
			return nil, err
		}
	}
	texels := shape.W * shape.B * shape.H * shape.Depth()
	mem := d.alloc(cl.MemTypeOf(storage), make([]byte, texels*dt.Bytes()))
	return &Tensor{shape: shape, storage: storage, mem: mem}, nil
}

// Live is the number of allocated, unreleased memory objects.
func (d *Device) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live)
}

func (d *Device) Dispatches() []Dispatch {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Dispatch(nil), d.dispatches...)
}

type Memory struct {
	id       string
	typ      cl.MemType
	data     []byte
	dev      *Device
	released bool
}

func (m *Memory) ID() string       { return m.id }
func (m *Memory) Type() cl.MemType { return m.typ }
func (m *Memory) Bytes() int       { return len(m.data) }

// Data is the uploaded contents.
func (m *Memory) Data() []byte { return m.data }

func (m *Memory) isReleased() bool {
	m.dev.mu.Lock()
	defer m.dev.mu.Unlock()
	return m.released
}

func (m *Memory) Release() error {
	m.dev.mu.Lock()
	defer m.dev.mu.Unlock()
	if m.released {
		return errors.Errorf("memory %s released twice", m.id)
	}
	m.released = true
	delete(m.dev.live, m.id)
	return nil
}

type Tensor struct {
	shape   plan.BHWC
	storage plan.Storage
	mem     *Memory
}

func (t *Tensor) Width() int            { return t.shape.W }
func (t *Tensor) Height() int           { return t.shape.H }
func (t *Tensor) Channels() int         { return t.shape.C }
func (t *Tensor) Depth() int            { return t.shape.Depth() }
func (t *Tensor) Batch() int            { return t.shape.B }
func (t *Tensor) Storage() plan.Storage { return t.storage }
func (t *Tensor) Memory() cl.Memory     { return t.mem }
