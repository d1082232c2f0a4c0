package conv

import (
	"encoding/binary"
	"math"

	"convtex/internal/compile/plan"

	"github.com/x448/float16"
)

// texels is a staging area of FLT4 values in the device data type.
type texels struct {
	dt  plan.DataType
	buf []byte
}

func newTexels(dt plan.DataType, n int) *texels {
	return &texels{dt: dt, buf: make([]byte, n*dt.Bytes())}
}

func (t *texels) set(texel, channel int, v float32) {
	switch t.dt {
	case plan.Float32:
		at := texel*16 + channel*4
		binary.LittleEndian.PutUint32(t.buf[at:], math.Float32bits(v))
	case plan.Float16:
		at := texel*8 + channel*2
		binary.LittleEndian.PutUint16(t.buf[at:], float16.Fromfloat32(v).Bits())
	default:
		panic("bug")
	}
}

// filterLayout is the geometry shared by the four filter images.
type filterLayout struct {
	width, height int
	srcDepth      int
	kernelW       int
}

func newFilterLayout(shape plan.OHWI, block plan.Int3) filterLayout {
	srcDepth := plan.CeilQuo(shape.I, 4)
	return filterLayout{
		width:    plan.AlignBy(plan.CeilQuo(shape.O, 4), block.Z),
		height:   srcDepth * shape.W * shape.H,
		srcDepth: srcDepth,
		kernelW:  shape.W,
	}
}

// packFilters splits the weights into four images. Texel (d, row) of
// image j, with row = (ky*kernelW+kx)*srcDepth+s, holds the weights from
// source channel 4s+j to output channels 4d..4d+3. Channels past either
// end of the weight tensor are zero.
func packFilters(w *plan.Weights, block plan.Int3, dt plan.DataType) (filterLayout, [4]*texels) {
	l := newFilterLayout(w.Shape, block)
	var imgs [4]*texels
	for j := range imgs {
		imgs[j] = newTexels(dt, l.width*l.height)
	}
	sh := w.Shape
	for ky := 0; ky < sh.H; ky++ {
		for kx := 0; kx < sh.W; kx++ {
			for s := 0; s < l.srcDepth; s++ {
				row := (ky*l.kernelW+kx)*l.srcDepth + s
				for d := 0; d < l.width; d++ {
					texel := row*l.width + d
					for j := 0; j < 4; j++ {
						ic := s*4 + j
						if ic >= sh.I {
							continue
						}
						for i := 0; i < 4; i++ {
							oc := d*4 + i
							if oc >= sh.O {
								continue
							}
							imgs[j].set(texel, i, w.Data[sh.LinearIndex(oc, ky, kx, ic)])
						}
					}
				}
			}
		}
	}
	return l, imgs
}

// packBias lays the bias out one FLT4 per output slice, width texels
// wide, zero past the last channel.
func packBias(bias []float32, width int, dt plan.DataType) *texels {
	t := newTexels(dt, width)
	for c, v := range bias {
		if c/4 >= width {
			break
		}
		t.set(c/4, c%4, v)
	}
	return t
}
