package sim

import (
	"context"
	"regexp"
	"strings"

	"convtex/internal/cl"
	"convtex/internal/compile/author/params"
	"convtex/internal/compile/plan"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type arg struct {
	name string
	kind params.Kind
	mem  cl.MemType
}

type Program struct {
	dev     *Device
	kernels map[string][]arg
	options []cl.CompilerOption
}

var entryRE = regexp.MustCompile(`__kernel\s+void\s+(\w+)\s*\(`)

// CompileProgram checks bracket balance, finds every entry point and
// types its parameters. Vendor options the device does not understand
// are rejected the way a real driver rejects unknown flags.
func (d *Device) CompileProgram(ctx context.Context, src string, opts []cl.CompilerOption) (cl.Program, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, o := range opts {
		if o == cl.AdrenoFullSIMDLine && !d.probe.IsAdreno() {
			return nil, errors.Errorf("unknown compiler option %q", o.Flag())
		}
	}
	if err := balanced(src); err != nil {
		return nil, err
	}
	p := &Program{
		dev:     d,
		kernels: make(map[string][]arg),
		options: opts,
	}
	for _, m := range entryRE.FindAllStringSubmatchIndex(src, -1) {
		name := src[m[2]:m[3]]
		end := strings.IndexByte(src[m[1]:], ')')
		if end < 0 {
			return nil, errors.Errorf("kernel %s: unterminated parameter list", name)
		}
		args, err := parseArgs(src[m[1] : m[1]+end])
		if err != nil {
			return nil, errors.Wrapf(err, "kernel %s", name)
		}
		p.kernels[name] = args
	}
	if len(p.kernels) == 0 {
		return nil, errors.New("program has no kernels")
	}
	d.log.Debug("compiled program", "kernels", len(p.kernels), "options", strings.Join(cl.Flags(opts), " "))
	return p, nil
}

func balanced(src string) error {
	pairs := map[byte]byte{')': '(', '}': '{', ']': '['}
	var stack []byte
	line := 1
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch c {
		case '\n':
			line++
		case '(', '{', '[':
			stack = append(stack, c)
		case ')', '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != pairs[c] {
				return errors.Errorf("line %d: unbalanced %q", line, c)
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) != 0 {
		return errors.Errorf("unclosed %q at end of program", stack[len(stack)-1])
	}
	return nil
}

func parseArgs(list string) ([]arg, error) {
	var args []arg
	for _, field := range strings.Split(list, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		cut := strings.LastIndexAny(field, " \t*")
		if cut < 0 {
			return nil, errors.Errorf("parameter %q has no type", field)
		}
		a := arg{name: field[cut+1:]}
		typ := field[:cut+1]
		switch {
		case strings.Contains(typ, "image2d_array_t"):
			a.kind, a.mem = params.Memory, cl.Image2DArrayMem
		case strings.Contains(typ, "image1d_buffer_t"):
			a.kind, a.mem = params.Memory, cl.Image1DBufferMem
		case strings.Contains(typ, "image2d_t"):
			a.kind, a.mem = params.Memory, cl.Image2DMem
		case strings.Contains(typ, "__global") && strings.Contains(typ, "*"):
			a.kind, a.mem = params.Memory, cl.BufferMem
		default:
			switch strings.TrimSpace(typ) {
			case "int4":
				a.kind = params.Int4
			case "int2":
				a.kind = params.Int2
			case "int":
				a.kind = params.Int
			case "float":
				a.kind = params.Float
			default:
				return nil, errors.Errorf("parameter %s: unsupported type %q", a.name, strings.TrimSpace(typ))
			}
		}
		args = append(args, a)
	}
	return args, nil
}

func (p *Program) CreateKernel(entry string) (cl.Kernel, error) {
	args, ok := p.kernels[entry]
	if !ok {
		return nil, errors.Errorf("no kernel named %q", entry)
	}
	return &Kernel{
		id:    uuid.New().String(),
		entry: entry,
		args:  args,
		bound: make([]any, len(args)),
		maxWG: p.dev.info.MaxWorkGroupTotal,
	}, nil
}

type Kernel struct {
	id    string
	entry string
	args  []arg
	bound []any
	next  int
	maxWG int
}

func (k *Kernel) ID() string             { return k.id }
func (k *Kernel) Entry() string          { return k.entry }
func (k *Kernel) MaxWorkGroupTotal() int { return k.maxWG }
func (k *Kernel) ResetBindingCounter()   { k.next = 0 }

func (k *Kernel) slot() (*arg, error) {
	if k.next >= len(k.args) {
		return nil, errors.Errorf("%s: argument %d bound but kernel takes %d", k.entry, k.next, len(k.args))
	}
	return &k.args[k.next], nil
}

func (k *Kernel) SetMemoryAuto(m cl.Memory) error {
	a, err := k.slot()
	if err != nil {
		return err
	}
	if a.kind != params.Memory {
		return errors.Errorf("%s: argument %d (%s) is %s, got memory", k.entry, k.next, a.name, a.kind)
	}
	if m == nil {
		return errors.Errorf("%s: argument %d (%s): nil memory", k.entry, k.next, a.name)
	}
	if m.Type() != a.mem {
		return errors.Errorf("%s: argument %d (%s) wants %s, got %s", k.entry, k.next, a.name, a.mem, m.Type())
	}
	if sm, ok := m.(*Memory); ok && sm.isReleased() {
		return errors.Errorf("%s: argument %d (%s): memory %s was released", k.entry, k.next, a.name, sm.id)
	}
	k.bound[k.next] = m
	k.next++
	return nil
}

func (k *Kernel) SetBytesAuto(v any) error {
	a, err := k.slot()
	if err != nil {
		return err
	}
	var got params.Kind
	switch v.(type) {
	case plan.Int4:
		got = params.Int4
	case plan.Int2:
		got = params.Int2
	case int, int32:
		got = params.Int
	case float32:
		got = params.Float
	default:
		return errors.Errorf("%s: argument %d (%s): cannot bind %T", k.entry, k.next, a.name, v)
	}
	if got != a.kind {
		return errors.Errorf("%s: argument %d (%s) is %s, got %s", k.entry, k.next, a.name, a.kind, got)
	}
	k.bound[k.next] = v
	k.next++
	return nil
}

// Complete reports whether every argument has been bound since the last
// reset.
func (k *Kernel) Complete() bool {
	return k.next == len(k.args)
}

func (k *Kernel) ArgNames() []string {
	names := make([]string, len(k.args))
	for i := range k.args {
		names[i] = k.args[i].name
	}
	return names
}

func (k *Kernel) ArgKinds() []params.Kind {
	kinds := make([]params.Kind, len(k.args))
	for i := range k.args {
		kinds[i] = k.args[i].kind
	}
	return kinds
}

// Bound is a copy of the current argument values.
func (k *Kernel) Bound() []any {
	return append([]any(nil), k.bound...)
}
