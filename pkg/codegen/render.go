package codegen

import "strings"

// RenderExpr regenerates Python source for an expression node.
func RenderExpr(e Expr) string {
	switch n := e.(type) {
	case Name:
		return n.Ident
	case Const:
		return n.Literal
	case Attribute:
		return RenderExpr(n.Value) + "." + n.Attr
	case Subscript:
		return RenderExpr(n.Value) + "[" + RenderExpr(n.Index) + "]"
	case Call:
		parts := make([]string, 0, len(n.Args)+len(n.Kwargs))
		for _, a := range n.Args {
			parts = append(parts, RenderExpr(a))
		}
		for _, kw := range n.Kwargs {
			parts = append(parts, kw.Name+"="+RenderExpr(kw.Value))
		}
		return RenderExpr(n.Func) + "(" + strings.Join(parts, ", ") + ")"
	case Raw:
		return n.Text
	default:
		return ""
	}
}

// RenderStmt regenerates Python source for a single statement, without a
// trailing newline.
func RenderStmt(s Stmt) string {
	switch n := s.(type) {
	case Import:
		names := make([]string, len(n.Names))
		for i, nm := range n.Names {
			names[i] = renderImportName(nm)
		}
		return "import " + strings.Join(names, ", ")
	case FromImport:
		names := make([]string, len(n.Names))
		for i, nm := range n.Names {
			names[i] = renderImportName(nm)
		}
		return "from " + n.Module + " import " + strings.Join(names, ", ")
	case Assign:
		return RenderExpr(n.Target) + " = " + RenderExpr(n.Value)
	case ExprStmt:
		return RenderExpr(n.Value)
	case Delete:
		return "del " + RenderExpr(n.Target)
	case RawStmt:
		return n.Text
	default:
		return ""
	}
}

func renderImportName(n ImportName) string {
	if n.Alias == "" {
		return n.Path
	}
	return n.Path + " as " + n.Alias
}

// RenderProgram regenerates a full program's source, one statement per
// line (RawStmt blocks may themselves span multiple lines).
func RenderProgram(p *Program) string {
	lines := make([]string, len(p.Statements))
	for i, s := range p.Statements {
		lines[i] = RenderStmt(s)
	}
	return strings.Join(lines, "\n")
}
