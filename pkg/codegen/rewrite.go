package codegen

import "strings"

const defaultKernelID = "_default"

// RewriteFlowfileCalls transforms a parsed script's flowfile.* calls into
// the plain Python a standalone function body can execute directly against
// a kernel-scoped artifact dict, following the same call-by-call mapping as
// the reference rewriter: read_input -> input_df (or inputs["main"][0] when
// both forms appear), read_inputs -> inputs, publish_output statements are
// dropped (the caller returns the expression instead), publish_artifact
// becomes an assignment into _artifacts[kernel][name], read_artifact and
// list_artifacts become subscripts, delete_artifact becomes `del`, and
// log/log_info/log_warning/log_error become leveled print calls.
//
// RawStmt blocks (compound statements the parser didn't structure) are left
// untouched: any flowfile.* call inside one is not rewritten, matching the
// scope already recorded against it by AnalyzeUsage.
func RewriteFlowfileCalls(prog *Program, usage *FlowfileUsageAnalysis, kernelID string) *Program {
	if kernelID == "" {
		kernelID = defaultKernelID
	}
	rw := &rewriter{kernelID: kernelID, usage: usage}

	out := &Program{}
	for _, stmt := range prog.Statements {
		if rs, ok := rewriteStmt(stmt, rw); ok {
			out.Statements = append(out.Statements, rs)
		}
	}
	return out
}

type rewriter struct {
	kernelID string
	usage    *FlowfileUsageAnalysis
}

// rewriteStmt returns the rewritten statement and whether it should be
// kept (publish_output statements are dropped).
func rewriteStmt(s Stmt, rw *rewriter) (Stmt, bool) {
	switch n := s.(type) {
	case Assign:
		return Assign{Target: n.Target, Value: rewriteExpr(n.Value, rw)}, true
	case ExprStmt:
		if call, ok := n.Value.(Call); ok {
			if method, ok := flowfileMethod(call); ok {
				switch method {
				case "publish_output":
					return nil, false
				case "publish_artifact":
					return publishArtifactAssign(call, rw), true
				case "delete_artifact":
					if len(call.Args) > 0 {
						return Delete{Target: artifactSubscript(rw.kernelID, call.Args[0])}, true
					}
				}
			}
		}
		return ExprStmt{Value: rewriteExpr(n.Value, rw)}, true
	case Delete:
		return Delete{Target: rewriteExpr(n.Target, rw)}, true
	default:
		return s, true
	}
}

func rewriteExpr(e Expr, rw *rewriter) Expr {
	if e == nil {
		return nil
	}
	switch n := e.(type) {
	case Call:
		if method, ok := flowfileMethod(n); ok {
			if rewritten, ok := rewriteFlowfileExpr(method, n, rw); ok {
				return rewritten
			}
		}
		args := make([]Expr, len(n.Args))
		for i, a := range n.Args {
			args[i] = rewriteExpr(a, rw)
		}
		kwargs := make([]Kwarg, len(n.Kwargs))
		for i, kw := range n.Kwargs {
			kwargs[i] = Kwarg{Name: kw.Name, Value: rewriteExpr(kw.Value, rw)}
		}
		return Call{Func: rewriteExpr(n.Func, rw), Args: args, Kwargs: kwargs}
	case Attribute:
		return Attribute{Value: rewriteExpr(n.Value, rw), Attr: n.Attr}
	case Subscript:
		return Subscript{Value: rewriteExpr(n.Value, rw), Index: rewriteExpr(n.Index, rw)}
	default:
		return e
	}
}

// rewriteFlowfileExpr handles flowfile.* calls that appear as a
// sub-expression rather than a standalone statement (read_input,
// read_inputs, read_artifact, list_artifacts, log*).
func rewriteFlowfileExpr(method string, call Call, rw *rewriter) (Expr, bool) {
	switch {
	case method == "read_input":
		if rw.usage.HasReadInputs {
			return Subscript{
				Value: Subscript{Value: Name{Ident: "inputs"}, Index: Const{Literal: `"main"`}},
				Index: Const{Literal: "0"},
			}, true
		}
		return Name{Ident: "input_df"}, true
	case method == "read_inputs":
		return Name{Ident: "inputs"}, true
	case method == "read_artifact":
		if len(call.Args) == 0 {
			return nil, false
		}
		return artifactSubscript(rw.kernelID, call.Args[0]), true
	case method == "list_artifacts":
		return kernelArtifactsNode(rw.kernelID), true
	case loggingMethods[method]:
		return logCall(method, call), true
	}
	return nil, false
}

// kernelArtifactsNode builds `_artifacts["<kernel_id>"]`.
func kernelArtifactsNode(kernelID string) Expr {
	return Subscript{Value: Name{Ident: "_artifacts"}, Index: Const{Literal: pyStr(kernelID)}}
}

// artifactSubscript builds `_artifacts["<kernel_id>"][<name>]`.
func artifactSubscript(kernelID string, nameArg Expr) Expr {
	return Subscript{Value: kernelArtifactsNode(kernelID), Index: nameArg}
}

func publishArtifactAssign(call Call, rw *rewriter) Stmt {
	if len(call.Args) < 2 {
		return ExprStmt{Value: rewriteExpr(call, rw)}
	}
	target := artifactSubscript(rw.kernelID, call.Args[0])
	return Assign{Target: target, Value: rewriteExpr(call.Args[1], rw)}
}

// logCall converts flowfile.log(msg[, level]) / log_info / log_warning /
// log_error into `print(f"[LEVEL] msg")`.
func logCall(method string, call Call) Expr {
	level := "INFO"
	switch method {
	case "log_warning":
		level = "WARNING"
	case "log_error":
		level = "ERROR"
	case "log":
		if len(call.Args) > 1 {
			if c, ok := call.Args[1].(Const); ok && len(c.Literal) >= 2 && (c.Literal[0] == '"' || c.Literal[0] == '\'') {
				level = strings.ToUpper(c.Literal[1 : len(c.Literal)-1])
			}
		}
	}
	if len(call.Args) == 0 {
		return Call{Func: Name{Ident: "print"}, Args: []Expr{Const{Literal: pyFString("[" + level + "] ")}}}
	}
	msg := RenderExpr(call.Args[0])
	return Call{Func: Name{Ident: "print"}, Args: []Expr{
		Raw{Text: "f\"[" + level + "] {" + stripOuterParens(msg) + "}\""},
	}}
}

func stripOuterParens(s string) string {
	return strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
}

func pyStr(s string) string     { return `"` + s + `"` }
func pyFString(s string) string { return `f"` + s + `"` }

// ExtractImports returns the top-level `import X` / `from X import ...`
// statements found in a program, excluding any referencing the flowfile
// package itself (the generated function no longer needs it).
func ExtractImports(prog *Program) []string {
	var out []string
	for _, stmt := range prog.Statements {
		switch n := stmt.(type) {
		case Import:
			for _, name := range n.Names {
				if name.Path == "flowfile" {
					continue
				}
				out = append(out, RenderStmt(Import{Names: []ImportName{name}}))
			}
		case FromImport:
			if n.Module == "flowfile" {
				continue
			}
			out = append(out, RenderStmt(n))
		}
	}
	return out
}

// StripImportsAndFlowfile renders a program's non-import statements only,
// dropping `import flowfile` / `from flowfile import ...` along with every
// other import (the assembled function re-declares imports separately via
// ExtractImports).
func StripImportsAndFlowfile(prog *Program) string {
	var kept []Stmt
	for _, stmt := range prog.Statements {
		switch stmt.(type) {
		case Import, FromImport:
			continue
		}
		kept = append(kept, stmt)
	}
	return RenderProgram(&Program{Statements: kept})
}
