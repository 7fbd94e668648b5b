package samples

import (
	"github.com/xplshn/trans/pkg/ast"
	"github.com/xplshn/trans/pkg/token"
	"github.com/xplshn/trans/pkg/typeck"
)

var (
	resTy  = ast.NewStruct("Res", []ast.StructField{{Name: "id", Type: ast.TypeInt}}, "res_drop")
	pairTy = ast.NewStruct("Pair", []ast.StructField{{Name: "a", Type: ast.TypeInt}, {Name: "b", Type: ast.TypeInt}}, "")
	figTy  = ast.NewEnum("Fig", []ast.Variant{
		{Name: "Circle", Fields: []*ast.Type{ast.TypeInt}},
		{Name: "Rect", Disr: 1, Fields: []*ast.Type{ast.TypeInt, ast.TypeInt}},
	})
	shapeTrait = &ast.Trait{Name: "Shape", Methods: []string{"area"}}
)

func res(id int64) *ast.Node {
	return ast.NewStructLit(pos, resTy, []ast.FieldInit{{Name: "id", Expr: num(id)}}, nil)
}

func pair(a, b int64) *ast.Node {
	return ast.NewStructLit(pos, pairTy, []ast.FieldInit{{Name: "a", Expr: num(a)}, {Name: "b", Expr: num(b)}}, nil)
}

func init() {
	register(&Sample{
		Name:        "factorial",
		Description: "while loop with compound assignment",
		Entry:       "main",
		build: func(b *Builder) {
			n := ast.NewParam("n", ast.TypeInt)
			r := let("r", ast.TypeInt, num(1))
			i := let("i", ast.TypeInt, num(1))
			loop := ast.NewWhile(pos, "", bin(token.Lte, b.Use(i), b.Arg(n)), block(stmts(
				ast.NewAssignOp(pos, token.StarEq, b.Use(r), b.Use(i)),
				ast.NewAssignOp(pos, token.PlusEq, b.Use(i), num(1)),
			), nil))
			b.Fn("fact", []ast.Param{n}, ast.TypeInt, block(stmts(r, i, loop), b.Use(r)))

			factTy := ast.NewFn([]*ast.Type{ast.TypeInt}, ast.TypeInt)
			b.Fn("main", nil, ast.TypeInt, block(stmts(show(b.Call("fact", factTy, num(10)))), b.Call("fact", factTy, num(5))))
		},
	})

	register(&Sample{
		Name:        "drops",
		Description: "scoped destructors and a unique box",
		Entry:       "main",
		build: func(b *Builder) {
			a := let("a", resTy, res(1))
			inner := let("b", resTy, res(2))
			c := let("c", ast.NewBox(resTy), ast.NewBoxExpr(pos, ast.HeapUnique, res(3)))
			b.Fn("main", nil, ast.TypeInt, block(stmts(
				a,
				block(stmts(inner, show(field(b.Use(inner), "id"))), nil),
				c,
				show(bin(token.Plus, field(b.Use(a), "id"), field(deref(b.Use(c)), "id"))),
			), num(0)))
		},
	})

	register(&Sample{
		Name:        "shapes",
		Description: "enum construction and a match with bindings",
		Entry:       "main",
		build: func(b *Builder) {
			s := ast.NewParam("s", figTy)
			r, rRef := b.Bind("r", 0, ast.TypeInt)
			w, wRef := b.Bind("w", 0, ast.TypeInt)
			h, hRef := b.Bind("h", 1, ast.TypeInt)
			arms := []ast.Arm{
				{Pat: &ast.Pattern{Kind: ast.PatVariant, Variant: "Circle", Bindings: []ast.Binding{r}},
					Body: bin(token.Star, num(3), bin(token.Star, rRef, rRef))},
				{Pat: &ast.Pattern{Kind: ast.PatVariant, Variant: "Rect", Bindings: []ast.Binding{w, h}},
					Body: bin(token.Star, wRef, hRef)},
			}
			b.Fn("area", []ast.Param{s}, ast.TypeInt, ast.NewMatch(pos, b.Arg(s), arms, ast.TypeInt))

			areaTy := ast.NewFn([]*ast.Type{figTy}, ast.TypeInt)
			b.Fn("main", nil, ast.TypeInt, block(stmts(
				show(b.Call("area", areaTy, b.Variant(figTy, "Rect", num(3), num(5)))),
				show(b.Call("area", areaTy, b.Variant(figTy, "Circle", num(2)))),
			), num(0)))
		},
	})

	register(&Sample{
		Name:        "closure",
		Description: "closure capturing a local by value",
		Entry:       "main",
		build: func(b *Builder) {
			base := let("base", ast.TypeInt, num(10))
			x := ast.NewParam("x", ast.TypeInt)
			ln := base.Data.(ast.LetNode)
			clos := ast.NewClosure(pos, []ast.Param{x}, bin(token.Plus, b.Arg(x), b.Upvar(base)),
				[]ast.Capture{{Local: ln.Local, Name: ln.Name, Ty: ln.Ty}})
			add := let("add", clos.Typ, clos)
			call := func(v int64) *ast.Node { return ast.NewCall(pos, b.Use(add), []*ast.Node{num(v)}, ast.TypeInt) }
			b.Fn("main", nil, ast.TypeInt, block(stmts(base, add, show(call(1)), show(call(2))), num(0)))
		},
	})

	register(&Sample{
		Name:        "objects",
		Description: "borrowed and boxed trait objects sharing a vtable layout",
		Entry:       "main",
		build: func(b *Builder) {
			p := ast.NewParam("self", ast.NewRptr(pairTy, false))
			b.Fn("pair_area", []ast.Param{p}, ast.TypeInt,
				bin(token.Star, field(deref(b.Arg(p)), "a"), field(deref(b.Arg(p)), "b")))
			b.Tables.Implement(pairTy, shapeTrait, "pair_area")

			r := ast.NewParam("self", ast.NewRptr(resTy, false))
			b.Fn("res_area", []ast.Param{r}, ast.TypeInt, bin(token.Star, field(deref(b.Arg(r)), "id"), num(2)))
			b.Tables.Implement(resTy, shapeTrait, "res_area")

			area := func(obj *ast.Node) *ast.Node {
				m := &typeck.Method{
					Symbol: "area",
					Fty:    ast.NewFn([]*ast.Type{ast.NewRptr(ast.TypeNil, false)}, ast.TypeInt),
					Object: true,
				}
				return b.Tables.Overload(ast.NewMethodCall(pos, obj, "area", nil, ast.TypeInt), 0, m)
			}
			borrowed := ast.NewTraitObject(shapeTrait, ast.StoreBorrowed)
			boxed := ast.NewTraitObject(shapeTrait, ast.StoreBoxed)
			pv := let("p", pairTy, pair(3, 4))
			o := let("o", borrowed, ast.NewCast(pos, b.Use(pv), borrowed))
			q := let("q", boxed, ast.NewCast(pos, res(5), boxed))
			b.Fn("main", nil, ast.TypeInt, block(stmts(pv, o, q, show(area(b.Use(o))), show(area(b.Use(q)))), num(0)))
		},
	})

	register(&Sample{
		Name:        "vector",
		Description: "owned vector indexing ending in a bounds failure",
		Entry:       "main",
		build: func(b *Builder) {
			vecTy := ast.NewVec(ast.TypeInt)
			elems := []*ast.Node{num(1), num(2), num(3), num(4)}
			v := let("v", vecTy, ast.NewVecLit(pos, elems, vecTy))
			i := let("i", ast.TypeInt, num(0))
			s := let("s", ast.TypeInt, num(0))
			at := func(idx *ast.Node) *ast.Node { return ast.NewIndex(pos, b.Use(v), idx, ast.TypeInt) }
			loop := ast.NewWhile(pos, "", bin(token.Lt, b.Use(i), num(4)), block(stmts(
				ast.NewAssignOp(pos, token.PlusEq, b.Use(s), at(b.Use(i))),
				ast.NewAssignOp(pos, token.PlusEq, b.Use(i), num(1)),
			), nil))
			b.Fn("main", nil, ast.TypeInt, block(stmts(v, i, s, loop, show(b.Use(s))), at(num(7))))
		},
	})
}
