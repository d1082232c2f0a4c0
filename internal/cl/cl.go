// Package cl declares the device-side collaborators a convolution
// operation talks to: memory objects, tensors, compiled kernels, the
// compiler and the command queue. internal/cl/sim implements them.
package cl

import (
	"context"
	"time"

	"convtex/internal/compile/plan"
)

type MemType int

const (
	BufferMem MemType = iota
	Image1DBufferMem
	Image2DMem
	Image2DArrayMem
)

var MemTypeStrings = []string{
	BufferMem:        "buffer",
	Image1DBufferMem: "image1d_buffer",
	Image2DMem:       "image2d",
	Image2DArrayMem:  "image2d_array",
}

func (m MemType) String() string {
	return MemTypeStrings[m]
}

// MemTypeOf is the memory object that backs a tensor of the given
// storage kind.
func MemTypeOf(s plan.Storage) MemType {
	switch s {
	case plan.Buffer:
		return BufferMem
	case plan.ImageBuffer:
		return Image1DBufferMem
	case plan.Texture2D, plan.SingleTexture2D:
		return Image2DMem
	case plan.TextureArray:
		return Image2DArrayMem
	default:
		panic("bug")
	}
}

type Memory interface {
	ID() string
	Type() MemType
	Bytes() int
	Release() error
}

type Tensor interface {
	Width() int
	Height() int
	Channels() int
	Depth() int
	Batch() int
	Storage() plan.Storage
	Memory() Memory
}

// Kernel holds the pending argument list of one compiled entry point.
// Auto binding fills arguments left to right from the last reset.
type Kernel interface {
	ID() string
	ResetBindingCounter()
	SetMemoryAuto(m Memory) error
	SetBytesAuto(v any) error
	MaxWorkGroupTotal() int
}

type Texture2DDesc struct {
	Width, Height int
	DataType      plan.DataType
}

type LinearDesc struct {
	Width    int
	DataType plan.DataType
}

// Context allocates device memory. data holds packed texels in the
// desc's data type.
type Context interface {
	CreateTexture2D(desc Texture2DDesc, data []byte) (Memory, error)
	CreateLinearStorage(desc LinearDesc, data []byte) (Memory, error)
}

type CompilerOption int

const (
	AdrenoFullSIMDLine CompilerOption = iota
	ClFastRelaxedMath
)

var compilerFlags = []string{
	AdrenoFullSIMDLine: "-qcom-accelerate-16-bit",
	ClFastRelaxedMath:  "-cl-fast-relaxed-math",
}

func (o CompilerOption) Flag() string {
	return compilerFlags[o]
}

func Flags(opts []CompilerOption) []string {
	flags := make([]string, len(opts))
	for i, o := range opts {
		flags[i] = o.Flag()
	}
	return flags
}

type Program interface {
	CreateKernel(entry string) (Kernel, error)
}

type Compiler interface {
	CompileProgram(ctx context.Context, src string, opts []CompilerOption) (Program, error)
}

type Queue interface {
	DispatchImplicit(ctx context.Context, k Kernel, grid, wg plan.Int3) error
}

// ProfilingQueue measures one dispatch.
type ProfilingQueue interface {
	Queue
	Profile(ctx context.Context, k Kernel, grid, wg plan.Int3) (time.Duration, error)
}
