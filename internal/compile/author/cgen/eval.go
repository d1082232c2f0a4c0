package cgen

// Eval computes an integer expression tree. Names and member selections
// (such as "stride.x") are looked up in env. The second result is false
// when the tree holds a node Eval cannot compute or a name env lacks.
// The generator never calls it; tests use it to check that emitted
// address arithmetic reduces to the expected values.
func Eval(g Gen, env map[string]int) (int, bool) {
	bin := func(a, b Gen) (int, int, bool) {
		x, ok := Eval(a, env)
		if !ok {
			return 0, 0, false
		}
		y, ok := Eval(b, env)
		return x, y, ok
	}
	switch g := g.(type) {
	case IntLit:
		return int(g), true
	case Vb:
		if g == Zero {
			return 0, true
		}
		if g == One {
			return 1, true
		}
		v, ok := env[string(g)]
		return v, ok
	case Dot:
		name := String(g)
		v, ok := env[name]
		return v, ok
	case Paren:
		if g.Inner == nil {
			return 0, false
		}
		return Eval(g.Inner, env)
	case Neg:
		x, ok := Eval(g.Expr, env)
		return -x, ok
	case Add:
		x, y, ok := bin(g.Expr1, g.Expr2)
		return x + y, ok
	case Mul:
		x, y, ok := bin(g.Expr1, g.Expr2)
		return x * y, ok
	case Quo:
		x, y, ok := bin(g.Expr1, g.Expr2)
		if !ok || y == 0 {
			return 0, false
		}
		return x / y, true
	case Rem:
		x, y, ok := bin(g.Expr1, g.Expr2)
		if !ok || y == 0 {
			return 0, false
		}
		return x % y, true
	}
	return 0, false
}
