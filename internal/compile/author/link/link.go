// Package link is the contract between a kernel's epilogue and the
// elementwise operations fused into it.
package link

import (
	"convtex/internal/cl"
	"convtex/internal/compile/author/cgen"
	"convtex/internal/compile/author/params"

	"github.com/pkg/errors"
)

// Context names what a fused operation may read and rewrite: the FLT4
// result variable and its destination coordinates.
type Context struct {
	Var, X, Y, Z cgen.Gen
}

// Op is one fused elementwise step. Params are appended to the kernel
// signature after the bias table and bound by Bind in the same order.
type Op interface {
	Params() params.List
	Code(ctx Context) cgen.Gen
	Bind(k cl.Kernel) error
}

func Params(ops []Op) params.List {
	var l params.List
	for _, op := range ops {
		l = append(l, op.Params()...)
	}
	return l
}

func PostProcess(ops []Op, ctx Context) cgen.Gen {
	stmts := make(cgen.Stmts, len(ops))
	for i, op := range ops {
		stmts[i] = op.Code(ctx)
	}
	return stmts
}

func Bind(k cl.Kernel, ops []Op) error {
	for i, op := range ops {
		if err := op.Bind(k); err != nil {
			return errors.Wrapf(err, "linked op %d", i)
		}
	}
	return nil
}
