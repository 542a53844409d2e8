package codegen

// InputMode classifies how a python_script node consumes upstream data.
type InputMode string

const (
	InputModeNone   InputMode = "none"
	InputModeSingle InputMode = "single"
	InputModeMulti  InputMode = "multi"
)

// FlowfileUsageAnalysis records every flowfile.* call a python_script
// node's source makes, so the rewriter and function-assembler can target
// exactly the API surface the script actually uses.
type FlowfileUsageAnalysis struct {
	InputMode            InputMode
	HasReadInput         bool
	HasReadInputs        bool
	HasOutput            bool
	OutputExprs          []Expr
	PassthroughOutput    bool
	ArtifactsPublished   []string
	ArtifactsConsumed    []string
	ArtifactsDeleted     []string
	HasLogging           bool
	HasListArtifacts     bool
	DynamicArtifactNames bool
	UnsupportedCalls     []string
}

var unsupportedFlowfileMethods = map[string]bool{
	"display":                true,
	"publish_global":         true,
	"get_global":             true,
	"list_global_artifacts":  true,
	"delete_global_artifact": true,
}

var loggingMethods = map[string]bool{
	"log": true, "log_info": true, "log_warning": true, "log_error": true,
}

// AnalyzeUsage walks a parsed program's structured statements (RawStmt
// blocks — compound statements the restricted grammar didn't structure —
// are scanned textually for unsupported/dynamic flowfile usage only, since
// they can't be rewritten) and classifies every flowfile.* call found. A
// variable assigned directly from `flowfile.read_input()` is tracked as a
// passthrough candidate so `publish_output(df)` is recognized as
// passthrough even when the script binds the input to a name first,
// matching the common `df = flowfile.read_input(); ...;
// flowfile.publish_output(df)` shape; any other assignment to that name
// clears the tracking.
func AnalyzeUsage(prog *Program) *FlowfileUsageAnalysis {
	a := &FlowfileUsageAnalysis{InputMode: InputModeNone}
	passthroughVars := map[string]bool{"input_df": true}
	for _, stmt := range prog.Statements {
		analyzeStmt(stmt, a, passthroughVars)
	}
	return a
}

func analyzeStmt(s Stmt, a *FlowfileUsageAnalysis, passthroughVars map[string]bool) {
	switch n := s.(type) {
	case Assign:
		walkExprForUsage(n.Value, a, passthroughVars)
		if target, ok := n.Target.(Name); ok {
			if isReadInputCall(n.Value) {
				passthroughVars[target.Ident] = true
			} else {
				delete(passthroughVars, target.Ident)
			}
		}
	case ExprStmt:
		walkExprForUsage(n.Value, a, passthroughVars)
	case Delete:
		walkExprForUsage(n.Target, a, passthroughVars)
	case RawStmt:
		scanRawForUsage(n.Text, a)
	}
}

func isReadInputCall(e Expr) bool {
	call, ok := e.(Call)
	if !ok {
		return false
	}
	method, ok := flowfileMethod(call)
	return ok && method == "read_input"
}

func walkExprForUsage(e Expr, a *FlowfileUsageAnalysis, passthroughVars map[string]bool) {
	if e == nil {
		return
	}
	if call, ok := e.(Call); ok {
		// Args are walked before the call itself is classified, so a
		// nested `flowfile.read_input()` argument (as in
		// `publish_output(read_input())`) has already set InputMode by
		// the time publish_output's passthrough check runs.
		walkExprForUsage(call.Func, a, passthroughVars)
		for _, arg := range call.Args {
			walkExprForUsage(arg, a, passthroughVars)
		}
		for _, kw := range call.Kwargs {
			walkExprForUsage(kw.Value, a, passthroughVars)
		}
		if method, ok := flowfileMethod(call); ok {
			classifyFlowfileCall(method, call, a, passthroughVars)
		}
		return
	}
	switch n := e.(type) {
	case Attribute:
		walkExprForUsage(n.Value, a, passthroughVars)
	case Subscript:
		walkExprForUsage(n.Value, a, passthroughVars)
		walkExprForUsage(n.Index, a, passthroughVars)
	}
}

// flowfileMethod reports whether call is `flowfile.<method>(...)` and
// returns the method name.
func flowfileMethod(call Call) (string, bool) {
	attr, ok := call.Func.(Attribute)
	if !ok {
		return "", false
	}
	name, ok := attr.Value.(Name)
	if !ok || name.Ident != "flowfile" {
		return "", false
	}
	return attr.Attr, true
}

func classifyFlowfileCall(method string, call Call, a *FlowfileUsageAnalysis, passthroughVars map[string]bool) {
	switch {
	case method == "read_input":
		a.HasReadInput = true
		if a.InputMode == InputModeNone {
			a.InputMode = InputModeSingle
		}
	case method == "read_inputs":
		a.HasReadInputs = true
		a.InputMode = InputModeMulti
	case method == "publish_output":
		a.HasOutput = true
		if len(call.Args) > 0 {
			a.OutputExprs = append(a.OutputExprs, call.Args[0])
			if isPassthroughOutput(call.Args[0], a.InputMode, passthroughVars) {
				a.PassthroughOutput = true
			}
		}
	case method == "publish_artifact":
		if len(call.Args) > 0 {
			name, dynamic := literalOrDynamic(call.Args[0])
			a.ArtifactsPublished = append(a.ArtifactsPublished, name)
			if dynamic {
				a.DynamicArtifactNames = true
			}
		}
	case method == "read_artifact":
		if len(call.Args) > 0 {
			name, dynamic := literalOrDynamic(call.Args[0])
			a.ArtifactsConsumed = append(a.ArtifactsConsumed, name)
			if dynamic {
				a.DynamicArtifactNames = true
			}
		}
	case method == "delete_artifact":
		if len(call.Args) > 0 {
			name, dynamic := literalOrDynamic(call.Args[0])
			a.ArtifactsDeleted = append(a.ArtifactsDeleted, name)
			if dynamic {
				a.DynamicArtifactNames = true
			}
		}
	case method == "list_artifacts":
		a.HasListArtifacts = true
	case loggingMethods[method]:
		a.HasLogging = true
	case unsupportedFlowfileMethods[method]:
		a.UnsupportedCalls = append(a.UnsupportedCalls, method)
	}
}

// isPassthroughOutput reports whether the published expression is exactly
// the script's single input, unmodified — the literal `input_df` name, a
// variable assigned straight from `flowfile.read_input()`, or the direct
// nested call `flowfile.publish_output(flowfile.read_input())`.
func isPassthroughOutput(e Expr, mode InputMode, passthroughVars map[string]bool) bool {
	if mode == InputModeMulti {
		return false
	}
	if name, ok := e.(Name); ok {
		return passthroughVars[name.Ident]
	}
	return isReadInputCall(e)
}

// literalOrDynamic returns the artifact name when the argument is a string
// literal, otherwise a rendered placeholder and dynamic=true.
func literalOrDynamic(e Expr) (name string, dynamic bool) {
	if c, ok := e.(Const); ok && len(c.Literal) >= 2 {
		quote := c.Literal[0]
		if quote == '"' || quote == '\'' {
			return c.Literal[1 : len(c.Literal)-1], false
		}
	}
	return RenderExpr(e), true
}

// scanRawForUsage does a best-effort textual scan of a statement the
// restricted grammar couldn't structure (if/for/def/... bodies), flagging
// unsupported or dynamic flowfile usage that the rewriter won't be able to
// reach. It never sets HasReadInput/HasOutput/artifact lists, since those
// drive code generation and must only come from calls this package can
// actually rewrite.
func scanRawForUsage(text string, a *FlowfileUsageAnalysis) {
	for method := range unsupportedFlowfileMethods {
		if containsCall(text, method) {
			a.UnsupportedCalls = append(a.UnsupportedCalls, method)
		}
	}
	if containsCall(text, "publish_artifact") || containsCall(text, "read_artifact") || containsCall(text, "delete_artifact") {
		a.DynamicArtifactNames = true
	}
}

func containsCall(text, method string) bool {
	needle := "flowfile." + method + "("
	return indexOf(text, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
