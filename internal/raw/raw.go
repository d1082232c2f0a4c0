// Package raw reads a YAML operation descriptor: the target device, the
// tensors, the convolution attributes, the fused elementwise chain and
// the tuning mode. Every key is documented in Guide and Links, and every
// omitted key takes its documented default.
package raw

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"convtex/internal/compile/plan"
	"convtex/internal/errmsg"
	"convtex/internal/gpu"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Node interface {
	LineNumber() int
}

type Device struct {
	LineNum int
	Info    gpu.Info
}

func (d *Device) LineNumber() int { return d.LineNum }

type Op struct {
	LineNum      int
	Precision    plan.Precision
	SrcStorage   plan.Storage
	DstStorage   plan.Storage
	BatchSupport bool
}

func (o *Op) LineNumber() int { return o.LineNum }

// Plan is the operation definition the generator consumes.
func (o *Op) Plan() plan.Op {
	return plan.Op{
		Precision:    o.Precision,
		Src:          []plan.Storage{o.SrcStorage},
		Dst:          []plan.Storage{o.DstStorage},
		BatchSupport: o.BatchSupport,
	}
}

type Input struct {
	LineNum  int
	Batch    int
	Height   int
	Width    int
	Channels int
}

func (i *Input) LineNumber() int { return i.LineNum }

func (i *Input) Shape() plan.BHWC {
	return plan.BHWC{B: i.Batch, H: i.Height, W: i.Width, C: i.Channels}
}

type Conv struct {
	LineNum    int
	ToChannels int
	FilterH    int
	FilterW    int
	StrideH    int
	StrideW    int
	DilationH  int
	DilationW  int
	PaddingH   int
	PaddingW   int
	Seed       int
	NoBias     bool
}

func (c *Conv) LineNumber() int { return c.LineNum }

type TuneMode int

const (
	NoTune TuneMode = iota
	FastTune
	ExhaustiveTune
)

var TuneStrings = []string{
	NoTune:         "none",
	FastTune:       "fast",
	ExhaustiveTune: "exhaustive",
}

type Tune struct {
	LineNum int
	Mode    TuneMode
}

func (t *Tune) LineNumber() int { return t.LineNum }

type ReLU struct {
	LineNum  int
	NegSlope float32
	Clip     float32
}

func (r *ReLU) LineNumber() int { return r.LineNum }

type ScalarKind int

const (
	ScalarMul ScalarKind = iota
	ScalarSum
)

var ScalarStrings = []string{
	ScalarMul: "Mul",
	ScalarSum: "Sum",
}

type Scalar struct {
	LineNum int
	Kind    ScalarKind
	Value   float32
}

func (s *Scalar) LineNumber() int { return s.LineNum }

type Add struct {
	LineNum int
	Storage plan.Storage
}

func (a *Add) LineNumber() int { return a.LineNum }

type Seg struct {
	Doc     string
	Label   string
	Default string
	Choices []string
	Many    bool
	Parse   func(string) (interface{}, error)
}

type Tail struct {
	Doc   string
	Segs  []*Seg
	Parse func(int, []interface{}) Node
}

// Guide holds the top level sections, Links the fused ops that may
// appear in the Linked list.
var (
	Guide = make(map[string]*Tail)
	Links = make(map[string]*Tail)
)

const (
	LinkedHead = "Linked"
	LinkedDoc  = "Elementwise operations fused into the kernel's epilogue, applied " +
		"in list order to each result before it is stored. Each entry is a " +
		"single key naming the operation, mapped to its settings."
)

// Descriptor is one parsed document. Sections that were omitted hold
// their defaults with a zero line number.
type Descriptor struct {
	Device *Device
	Op     *Op
	Input  *Input
	Conv   *Conv
	Tune   *Tune
	Linked []Node
}

// Dst is the destination shape the attributes imply.
func (d *Descriptor) Dst() plan.BHWC {
	in, c := d.Input, d.Conv
	out := func(n, pad, k, dil, stride int) int {
		return (n+2*pad-(1+(k-1)*dil))/stride + 1
	}
	return plan.BHWC{
		B: in.Batch,
		H: out(in.Height, c.PaddingH, c.FilterH, c.DilationH, c.StrideH),
		W: out(in.Width, c.PaddingW, c.FilterW, c.DilationW, c.StrideW),
		C: c.ToChannels,
	}
}

const pre = "parse failed: "

func errAt(line int, format string, args ...any) error {
	if line == 0 {
		return errmsg.Errorf(errmsg.Descriptor, pre+format, args...)
	}
	return errmsg.Errorf(errmsg.Descriptor, pre+"line %d: "+format, append([]any{line}, args...)...)
}

func Parse(text []byte) (*Descriptor, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(text, &root); err != nil {
		return nil, errmsg.Wrap(errmsg.Descriptor, err, "parse failed")
	}
	top := &yaml.Node{Kind: yaml.MappingNode}
	if len(root.Content) != 0 {
		top = root.Content[0]
	}
	if top.Kind != yaml.MappingNode {
		return nil, errAt(top.Line, "expected a mapping of %s", strings.Join(heads(Guide, LinkedHead), ", "))
	}
	nodes := make(map[string]Node)
	var linked []Node
	seen := make(map[string]bool)
	for i := 0; i+1 < len(top.Content); i += 2 {
		key, val := top.Content[i], top.Content[i+1]
		if seen[key.Value] {
			return nil, errAt(key.Line, "%s given twice", key.Value)
		}
		seen[key.Value] = true
		if key.Value == LinkedHead {
			if orNil(val) == nil {
				continue
			}
			var err error
			if linked, err = parseLinked(val); err != nil {
				return nil, err
			}
			continue
		}
		tail := Guide[key.Value]
		if tail == nil {
			return nil, errAt(key.Line, "%s", errExpected(heads(Guide, LinkedHead)))
		}
		node, err := parseTail(key.Value, tail, key.Line, orNil(val))
		if err != nil {
			return nil, err
		}
		nodes[key.Value] = node
	}
	for head, tail := range Guide {
		if nodes[head] == nil {
			node, err := parseTail(head, tail, 0, nil)
			if err != nil {
				panic("bug")
			}
			nodes[head] = node
		}
	}
	d := &Descriptor{
		Device: nodes["Device"].(*Device),
		Op:     nodes["Op"].(*Op),
		Input:  nodes["Input"].(*Input),
		Conv:   nodes["Conv"].(*Conv),
		Tune:   nodes["Tune"].(*Tune),
		Linked: linked,
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func heads(m map[string]*Tail, extra ...string) []string {
	hs := append([]string(nil), extra...)
	for h := range m {
		hs = append(hs, h)
	}
	sort.Strings(hs)
	return hs
}

// parseTail fills the segs of one section from a mapping node. A nil
// node yields all defaults.
func parseTail(head string, tail *Tail, line int, node *yaml.Node) (Node, error) {
	given := make(map[string]*yaml.Node)
	if node != nil {
		if node.Kind != yaml.MappingNode {
			return nil, errAt(node.Line, "%s: expected a mapping", head)
		}
		labels := make([]string, len(tail.Segs))
		for i, seg := range tail.Segs {
			labels[i] = seg.Label
		}
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i]
			if !contains(labels, key.Value) {
				return nil, errAt(key.Line, "%s: %s", head, errExpected(labels))
			}
			if given[key.Value] != nil {
				return nil, errAt(key.Line, "%s: %s given twice", head, key.Value)
			}
			given[key.Value] = node.Content[i+1]
		}
	}
	vals := make([]interface{}, len(tail.Segs))
	for i, seg := range tail.Segs {
		val, err := parseSeg(seg, given[seg.Label])
		if err != nil {
			at := line
			if n := given[seg.Label]; n != nil {
				at = n.Line
			}
			return nil, errAt(at, "%s.%s: %s", head, seg.Label, err)
		}
		vals[i] = val
	}
	return tail.Parse(line, vals), nil
}

func parseSeg(seg *Seg, node *yaml.Node) (interface{}, error) {
	if !seg.Many {
		a := seg.Default
		if node != nil {
			if node.Kind != yaml.ScalarNode {
				return nil, errors.New("expected a scalar")
			}
			a = node.Value
		}
		return seg.Parse(a)
	}
	var items []string
	switch {
	case node == nil:
		items = strings.Fields(seg.Default)
	case node.Kind == yaml.SequenceNode:
		for _, n := range node.Content {
			if n.Kind != yaml.ScalarNode {
				return nil, errors.New("expected a list of scalars")
			}
			items = append(items, n.Value)
		}
	case node.Kind == yaml.ScalarNode:
		items = strings.Fields(node.Value)
	default:
		return nil, errors.New("expected a list")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		v, err := seg.Parse(item)
		if err != nil {
			return nil, err
		}
		out = append(out, v.(string))
	}
	return out, nil
}

func parseLinked(node *yaml.Node) ([]Node, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, errAt(node.Line, "%s: expected a list", LinkedHead)
	}
	var out []Node
	for _, item := range node.Content {
		if item.Kind != yaml.MappingNode || len(item.Content) != 2 {
			return nil, errAt(item.Line, "%s: each entry is one of %s", LinkedHead, strings.Join(heads(Links), ", "))
		}
		key, val := item.Content[0], item.Content[1]
		tail := Links[key.Value]
		if tail == nil {
			return nil, errAt(key.Line, "%s: %s", LinkedHead, errExpected(heads(Links)))
		}
		n, err := parseTail(key.Value, tail, key.Line, orNil(val))
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// orNil treats an empty value, as in "ReLU:" with nothing after it, as
// an omitted section.
func orNil(n *yaml.Node) *yaml.Node {
	if n.Kind == yaml.ScalarNode && n.Tag == "!!null" {
		return nil
	}
	return n
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

func (d *Descriptor) validate() error {
	in, c := d.Input, d.Conv
	line := c.LineNum
	if line == 0 {
		line = in.LineNum
	}
	fits := func(n, pad, k, dil int) bool {
		return n+2*pad >= 1+(k-1)*dil
	}
	if !fits(in.Height, c.PaddingH, c.FilterH, c.DilationH) ||
		!fits(in.Width, c.PaddingW, c.FilterW, c.DilationW) {
		return errAt(line, "Conv: window %dx%d with dilation %dx%d does not fit the padded %dx%d input",
			c.FilterH, c.FilterW, c.DilationH, c.DilationW, in.Height+2*c.PaddingH, in.Width+2*c.PaddingW)
	}
	if !d.Op.BatchSupport && in.Batch != 1 {
		return errAt(in.LineNum, "Input.Batch: %d needs Op.BatchSupport", in.Batch)
	}
	if d.Op.SrcStorage == plan.SingleTexture2D && in.Channels > 4 {
		return errAt(in.LineNum, "Input.Channels: %d does not fit %s", in.Channels, plan.SingleTexture2D)
	}
	if d.Op.DstStorage == plan.SingleTexture2D && c.ToChannels > 4 {
		return errAt(line, "Conv.ToChannels: %d does not fit %s", c.ToChannels, plan.SingleTexture2D)
	}
	return nil
}

const (
	identStr  = `^[a-zA-Z_][a-zA-Z0-9_]*$`
	nonNegStr = `^(0|[1-9][0-9]*)$`
	posIntStr = `^[1-9][0-9]*$`
	floatStr  = `^-?(0|[1-9][0-9]*)(\.[0-9]+)?$`
)

var (
	identRE  = regexp.MustCompile(identStr)
	nonNegRE = regexp.MustCompile(nonNegStr)
	posIntRE = regexp.MustCompile(posIntStr)
	floatRE  = regexp.MustCompile(floatStr)
)

const (
	identDoc  = "Must be a letter or underscore followed by letters, digits or underscores: " + identStr
	nonNegDoc = "Must be a non-negative integer: " + nonNegStr
	posIntDoc = "Must be a positive integer: " + posIntStr
	floatDoc  = "Must be a simple float: " + floatStr
	boolDoc   = "Must be true or false."
)

var (
	errGap      = errors.New("unexpected empty value")
	errRejected = errors.New("rejected")
)

func errMatch(a, b string) error {
	return errors.New(a + "does not match " + b)
}

func errExpected(a []string) error {
	return errors.New("expected " + strings.Join(a, " or "))
}

func text(a string) (interface{}, error) {
	if strings.TrimSpace(a) == "" {
		return nil, errGap
	}
	return a, nil
}

func ident(a string) (interface{}, error) {
	if !identRE.MatchString(a) {
		if a == "" {
			return nil, errGap
		}
		return nil, errMatch("", identStr)
	}
	return a, nil
}

func nonNeg(a string, r int) (interface{}, error) {
	if !nonNegRE.MatchString(a) {
		if a == "" {
			return nil, errGap
		}
		return nil, errMatch("", nonNegStr)
	}
	n, err := strconv.Atoi(a)
	if err != nil {
		return nil, err
	}
	if n >= r {
		return nil, errRejected
	}
	return n, nil
}

func posInt(a string, r int) (interface{}, error) {
	if !posIntRE.MatchString(a) {
		if a == "" {
			return nil, errGap
		}
		return nil, errMatch("", posIntStr)
	}
	n, err := strconv.Atoi(a)
	if err != nil {
		return nil, err
	}
	if n >= r {
		return nil, errRejected
	}
	return n, nil
}

func float(a string) (interface{}, error) {
	if !floatRE.MatchString(a) {
		if a == "" {
			return nil, errGap
		}
		return nil, errMatch("", floatStr)
	}
	n, err := strconv.ParseFloat(a, 32)
	if err != nil {
		return nil, err
	}
	return float32(n), nil
}

func boolean(a string) (interface{}, error) {
	switch a {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "":
		return nil, errGap
	}
	return nil, errExpected([]string{"true", "false"})
}

func choice(a string, choices []string) (interface{}, error) {
	for i, s := range choices {
		if a == s {
			return i, nil
		}
	}
	if a == "" {
		return nil, errGap
	}
	return nil, errExpected(choices)
}

const maxDim = 1 << 20

func posSeg(label, def, doc string) *Seg {
	return &Seg{
		Doc:     doc + " " + posIntDoc,
		Label:   label,
		Default: def,
		Parse: func(a string) (interface{}, error) {
			return posInt(a, maxDim)
		},
	}
}

func nonNegSeg(label, def, doc string) *Seg {
	return &Seg{
		Doc:     doc + " " + nonNegDoc,
		Label:   label,
		Default: def,
		Parse: func(a string) (interface{}, error) {
			return nonNeg(a, maxDim)
		},
	}
}

func choiceSeg(label, def, doc string, choices []string) *Seg {
	return &Seg{
		Doc:     doc,
		Label:   label,
		Default: def,
		Choices: choices,
		Parse: func(a string) (interface{}, error) {
			return choice(a, choices)
		},
	}
}

func boolSeg(label, def, doc string) *Seg {
	return &Seg{
		Doc:     doc + " " + boolDoc,
		Label:   label,
		Default: def,
		Choices: []string{"false", "true"},
		Parse:   boolean,
	}
}

func floatSeg(label, def, doc string) *Seg {
	return &Seg{
		Doc:     doc + " " + floatDoc,
		Label:   label,
		Default: def,
		Parse:   float,
	}
}

func initDevice() {
	Guide["Device"] = &Tail{
		Doc: "The OpenCL device the kernel is generated for. Vendor and generation are " +
			"recognized from Name and Vendor; an unrecognized device gets no vendor fast paths. " +
			"The limits bound work group tuning and image allocation on the simulated device.",
		Segs: []*Seg{
			{
				Doc:     "The device name as CL_DEVICE_NAME reports it, for example \"QUALCOMM Adreno(TM) 630\" or \"Mali-G78\".",
				Label:   "Name",
				Default: "QUALCOMM Adreno(TM) 630",
				Parse:   text,
			},
			{
				Doc:     "The vendor string as CL_DEVICE_VENDOR reports it.",
				Label:   "Vendor",
				Default: "QUALCOMM",
				Parse:   text,
			},
			{
				Doc:     "The version string as CL_DEVICE_VERSION reports it.",
				Label:   "Version",
				Default: "OpenCL 2.0 Adreno(TM) 630",
				Parse:   text,
			},
			{
				Doc:     "The supported extensions, as a list or a space separated string. " + identDoc,
				Label:   "Extensions",
				Default: "cl_khr_fp16 cl_khr_3d_image_writes",
				Many:    true,
				Parse:   ident,
			},
			posSeg("MaxWorkGroupX", "1024", "The largest work group extent along x."),
			posSeg("MaxWorkGroupY", "1024", "The largest work group extent along y."),
			posSeg("MaxWorkGroupZ", "64", "The largest work group extent along z."),
			posSeg("MaxWorkGroupTotal", "1024", "The largest number of work items in one work group."),
			posSeg("ComputeUnits", "2", "The number of compute units dispatched work groups spread over."),
			posSeg("MaxImage2DWidth", "16384", "The widest 2D image the device allocates."),
			posSeg("MaxImage2DHeight", "16384", "The tallest 2D image the device allocates."),
		},
		Parse: func(l int, a []interface{}) Node {
			return &Device{
				LineNum: l,
				Info: gpu.Info{
					Name:              a[0].(string),
					Vendor:            a[1].(string),
					Version:           a[2].(string),
					Extensions:        a[3].([]string),
					MaxWorkGroupSize:  [3]int{a[4].(int), a[5].(int), a[6].(int)},
					MaxWorkGroupTotal: a[7].(int),
					ComputeUnits:      a[8].(int),
					MaxImage2DWidth:   a[9].(int),
					MaxImage2DHeight:  a[10].(int),
				},
			}
		},
	}
}

func initOp() {
	Guide["Op"] = &Tail{
		Doc: "How the operation stores and computes. " +
			plan.PrecisionStrings[plan.F32F16] + " stores half precision and accumulates in single precision.",
		Segs: []*Seg{
			choiceSeg("Precision", plan.PrecisionStrings[plan.F16],
				"The calculation precision.", plan.PrecisionStrings),
			choiceSeg("SrcStorage", plan.StorageStrings[plan.Texture2D],
				"How the source tensor is laid out on the device.", plan.StorageStrings),
			choiceSeg("DstStorage", plan.StorageStrings[plan.Texture2D],
				"How the destination tensor is laid out on the device.", plan.StorageStrings),
			boolSeg("BatchSupport", "false",
				"Whether the batch dimension is folded into the width of both tensors."),
		},
		Parse: func(l int, a []interface{}) Node {
			return &Op{
				LineNum:      l,
				Precision:    plan.Precision(a[0].(int)),
				SrcStorage:   plan.Storage(a[1].(int)),
				DstStorage:   plan.Storage(a[2].(int)),
				BatchSupport: a[3].(bool),
			}
		},
	}
}

func initInput() {
	Guide["Input"] = &Tail{
		Doc: "The source tensor, in BHWC order.",
		Segs: []*Seg{
			posSeg("Batch", "1", "The batch size. Above 1 needs Op.BatchSupport."),
			posSeg("Height", "32", "The spatial height."),
			posSeg("Width", "32", "The spatial width."),
			posSeg("Channels", "16", "The channel count."),
		},
		Parse: func(l int, a []interface{}) Node {
			return &Input{
				LineNum:  l,
				Batch:    a[0].(int),
				Height:   a[1].(int),
				Width:    a[2].(int),
				Channels: a[3].(int),
			}
		},
	}
}

func initConv() {
	Guide["Conv"] = &Tail{
		Doc: "The convolution attributes. The destination height is " +
			"((H+2*PaddingH)-(1+(FilterH-1)*DilationH))/StrideH+1, the width is analogous. " +
			"Weights are OHWI and are generated from Seed, since a descriptor carries no tensors.",
		Segs: []*Seg{
			posSeg("ToChannels", "32", "The output channel count."),
			posSeg("FilterH", "3", "The window height."),
			posSeg("FilterW", "3", "The window width."),
			posSeg("StrideH", "1", "The heightwise stride."),
			posSeg("StrideW", "1", "The widthwise stride."),
			posSeg("DilationH", "1", "The heightwise dilation."),
			posSeg("DilationW", "1", "The widthwise dilation."),
			nonNegSeg("PaddingH", "1", "Zero rows added above and below the input."),
			nonNegSeg("PaddingW", "1", "Zero columns added left and right of the input."),
			nonNegSeg("Seed", "1", "Seeds the generated weights and biases."),
			boolSeg("NoBias", "false", "Whether the bias table is all zero."),
		},
		Parse: func(l int, a []interface{}) Node {
			return &Conv{
				LineNum:    l,
				ToChannels: a[0].(int),
				FilterH:    a[1].(int),
				FilterW:    a[2].(int),
				StrideH:    a[3].(int),
				StrideW:    a[4].(int),
				DilationH:  a[5].(int),
				DilationW:  a[6].(int),
				PaddingH:   a[7].(int),
				PaddingW:   a[8].(int),
				Seed:       a[9].(int),
				NoBias:     a[10].(bool),
			}
		},
	}
}

func initTune() {
	Guide["Tune"] = &Tail{
		Doc: "Work group tuning after compilation. " +
			TuneStrings[FastTune] + " picks a size from the grid shape alone, " +
			TuneStrings[ExhaustiveTune] + " times every power of two size on the device.",
		Segs: []*Seg{
			choiceSeg("Mode", TuneStrings[NoTune], "The tuning mode.", TuneStrings),
		},
		Parse: func(l int, a []interface{}) Node {
			return &Tune{LineNum: l, Mode: TuneMode(a[0].(int))}
		},
	}
}

func initLinks() {
	Links["ReLU"] = &Tail{
		Doc: "max(x, x*NegSlope), then min with Clip when Clip is positive.",
		Segs: []*Seg{
			floatSeg("NegSlope", "0", "The negative slope. 0 is the standard ReLU."),
			floatSeg("Clip", "0", "The upper bound. 0 means unbounded."),
		},
		Parse: func(l int, a []interface{}) Node {
			return &ReLU{LineNum: l, NegSlope: a[0].(float32), Clip: a[1].(float32)}
		},
	}
	Links["Scalar"] = &Tail{
		Doc: "Multiply by or add a scalar bound at dispatch time.",
		Segs: []*Seg{
			choiceSeg("Kind", ScalarStrings[ScalarMul], "The arithmetic.", ScalarStrings),
			floatSeg("Value", "1", "The scalar."),
		},
		Parse: func(l int, a []interface{}) Node {
			return &Scalar{LineNum: l, Kind: ScalarKind(a[0].(int)), Value: a[1].(float32)}
		},
	}
	Links["Add"] = &Tail{
		Doc: "Add a second tensor shaped like the destination, as a residual connection does.",
		Segs: []*Seg{
			choiceSeg("Storage", plan.StorageStrings[plan.Texture2D],
				"How the added tensor is laid out on the device.", plan.StorageStrings),
		},
		Parse: func(l int, a []interface{}) Node {
			return &Add{LineNum: l, Storage: plan.Storage(a[0].(int))}
		},
	}
}

func init() {
	initDevice()
	initOp()
	initInput()
	initConv()
	initTune()
	initLinks()
}

// Example renders a descriptor with every key at its default.
func Example() string {
	var b strings.Builder
	for _, head := range heads(Guide) {
		fmt.Fprintf(&b, "%s:\n", head)
		for _, seg := range Guide[head].Segs {
			fmt.Fprintf(&b, "  %s: %s\n", seg.Label, quote(seg.Default))
		}
	}
	fmt.Fprintf(&b, "%s:\n", LinkedHead)
	for _, head := range heads(Links) {
		fmt.Fprintf(&b, "  - %s:\n", head)
		for _, seg := range Links[head].Segs {
			fmt.Fprintf(&b, "      %s: %s\n", seg.Label, quote(seg.Default))
		}
	}
	return b.String()
}

func quote(s string) string {
	if s == "" || strings.ContainsAny(s, ":#()") || strings.Contains(s, " ") {
		return strconv.Quote(s)
	}
	return s
}
