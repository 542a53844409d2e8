package codegen

import "fmt"

// CompiledFunction is the result of compiling one python_script node's
// source into a standalone function the graph's compiled-export path can
// call without going through a live kernel.
type CompiledFunction struct {
	NodeID   string
	FuncDef  string
	CallSite string
	Imports  []string
	Usage    *FlowfileUsageAnalysis
}

// Compile runs a python_script node's source through the full pipeline:
// parse, analyze flowfile.* usage, rewrite those calls into plain Python,
// extract imports, and assemble the result into a function definition plus
// its call site. inputVars names the upstream node result variables this
// node consumes, in edge order.
func Compile(nodeID string, source string, kernelID string, inputVars []string) (*CompiledFunction, error) {
	prog, err := Parse(source)
	if err != nil {
		return nil, fmt.Errorf("codegen: parsing node %s: %w", nodeID, err)
	}

	usage := AnalyzeUsage(prog)
	rewritten := RewriteFlowfileCalls(prog, usage, kernelID)
	body := StripImportsAndFlowfile(rewritten)
	imports := ExtractImports(prog)

	funcDef, callSite := BuildFunctionCode(nodeID, body, usage, inputVars, kernelID)

	return &CompiledFunction{
		NodeID:   nodeID,
		FuncDef:  funcDef,
		CallSite: callSite,
		Imports:  imports,
		Usage:    usage,
	}, nil
}
