package plan

type Int2 struct {
	X, Y int
}

type Int3 struct {
	X, Y, Z int
}

type Int4 struct {
	X, Y, Z, W int
}

func (i Int3) Volume() int {
	return i.X * i.Y * i.Z
}

type Precision int

const (
	F32 Precision = iota
	F16
	F32F16
)

var PrecisionStrings = []string{
	F32:    "F32",
	F16:    "F16",
	F32F16: "F32_F16",
}

func (p Precision) String() string {
	return PrecisionStrings[p]
}

type DataType int

const (
	Float32 DataType = iota
	Float16
)

// Bytes is the size of one FLT4 texel.
func (d DataType) Bytes() int {
	switch d {
	case Float32:
		return 16
	case Float16:
		return 8
	default:
		panic("bug")
	}
}

type Storage int

const (
	Buffer Storage = iota
	ImageBuffer
	Texture2D
	TextureArray
	SingleTexture2D
)

var StorageStrings = []string{
	Buffer:          "BUFFER",
	ImageBuffer:     "IMAGE_BUFFER",
	Texture2D:       "TEXTURE_2D",
	TextureArray:    "TEXTURE_ARRAY",
	SingleTexture2D: "SINGLE_TEXTURE_2D",
}

func (s Storage) String() string {
	return StorageStrings[s]
}

// Op is the static shape and precision contract of one operation
// instance. BatchSupport means the batch dimension is folded into the
// spatial width of both tensors.
type Op struct {
	Precision    Precision
	Src          []Storage
	Dst          []Storage
	BatchSupport bool
}

func (o *Op) DataType() DataType {
	switch o.Precision {
	case F32:
		return Float32
	case F16, F32F16:
		return Float16
	default:
		panic("bug")
	}
}

func (o *Op) PrimaryStorage() Storage {
	return o.Src[0]
}

// OHWI is the filter tensor shape: output channels, height, width,
// input channels.
type OHWI struct {
	O, H, W, I int
}

func (s OHWI) Len() int {
	return s.O * s.H * s.W * s.I
}

func (s OHWI) LinearIndex(o, h, w, i int) int {
	return ((o*s.H+h)*s.W+w)*s.I + i
}

type Weights struct {
	Shape OHWI
	Data  []float32
}

type Padding struct {
	Prepended Int2
	Appended  Int2
}

// Conv holds the mathematical parameters of a 2D convolution. The
// kernel window is the spatial extent of Weights.
type Conv struct {
	Weights   Weights
	Bias      []float32
	Strides   Int2
	Dilations Int2
	Padding   Padding
}

func CeilQuo(n, d int) int {
	return (n + d - 1) / d
}

func AlignBy(n, d int) int {
	return CeilQuo(n, d) * d
}

// BHWC is a tensor shape: batch, height, width, channels.
type BHWC struct {
	B, H, W, C int
}

// Depth is the channel count in four-channel slices.
func (s BHWC) Depth() int {
	return CeilQuo(s.C, 4)
}
