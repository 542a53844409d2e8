package codegen

import (
	"fmt"
	"strings"
)

// BuildFunctionCode assembles a rewritten script body into a standalone
// `_node_<id>` function plus the call site that invokes it, mirroring the
// reference assembler: a single-input script takes `input_df:
// pl.LazyFrame`, a multi-input script takes `inputs: dict[str,
// list[pl.LazyFrame]]` built from the grouped upstream variable names, and
// the function returns the published output expression (wrapped in
// `.lazy()` only when it is a bare variable name; a detected passthrough
// returns `input_df`).
func BuildFunctionCode(nodeID string, rewrittenBody string, usage *FlowfileUsageAnalysis, inputVars []string, kernelID string) (funcDef string, callSite string) {
	if kernelID == "" {
		kernelID = defaultKernelID
	}
	fname := fmt.Sprintf("_node_%s", nodeID)
	resultVar := fmt.Sprintf("%s_%s", fname, nodeID)

	var params []string
	var callArgs []string
	switch usage.InputMode {
	case InputModeSingle:
		params = append(params, "input_df: pl.LazyFrame")
		if len(inputVars) > 0 {
			callArgs = append(callArgs, inputVars[0])
		} else {
			callArgs = append(callArgs, "None")
		}
	case InputModeMulti:
		params = append(params, "inputs: dict[str, list[pl.LazyFrame]]")
		callArgs = append(callArgs, buildInputsDict(inputVars))
	}
	params = append(params, fmt.Sprintf(`_artifacts: dict = None, kernel_id: str = "%s"`, kernelID))
	callArgs = append(callArgs, "_artifacts=_artifacts")

	var body strings.Builder
	body.WriteString(indent(rewrittenBody, 1))
	if usage.HasOutput && len(usage.OutputExprs) > 0 {
		body.WriteString("\n")
		body.WriteString(indent(buildReturnStatement(usage, usage.OutputExprs[len(usage.OutputExprs)-1]), 1))
	}

	for _, warning := range usageWarnings(usage) {
		body.WriteString("\n")
		body.WriteString(indent("# "+warning, 1))
	}

	funcDef = fmt.Sprintf("def %s(%s):\n%s", fname, strings.Join(params, ", "), body.String())
	callSite = fmt.Sprintf("%s = %s(%s)", resultVar, fname, strings.Join(callArgs, ", "))
	return funcDef, callSite
}

// buildReturnStatement wraps the script's published output expression in a
// return statement. A detected passthrough always returns the bare
// `input_df` parameter, no `.lazy()` wrap. Otherwise the expression is
// wrapped with `.lazy()` only when it is itself a bare variable reference
// (the heuristic spec.md §4.4.3 calls for) and doesn't already end in one;
// dict literals, computed expressions, and existing `.lazy()` calls are
// left as-is.
func buildReturnStatement(usage *FlowfileUsageAnalysis, output Expr) string {
	if usage.PassthroughOutput {
		return "return input_df"
	}
	rendered := RenderExpr(output)
	if strings.HasSuffix(rendered, ".lazy()") {
		return "return " + rendered
	}
	if _, ok := output.(Name); ok {
		return "return (" + rendered + ").lazy()"
	}
	return "return " + rendered
}

// buildInputsDict groups input variable names by their base name (the part
// before a trailing `_<index>` disambiguator) into a dict literal matching
// the `inputs: dict[str, list[pl.LazyFrame]]` parameter shape.
func buildInputsDict(inputVars []string) string {
	groups := make(map[string][]string)
	var order []string
	for _, v := range inputVars {
		base := baseInputName(v)
		if _, seen := groups[base]; !seen {
			order = append(order, base)
		}
		groups[base] = append(groups[base], v)
	}
	parts := make([]string, 0, len(order))
	for _, base := range order {
		parts = append(parts, fmt.Sprintf(`"%s": [%s]`, base, strings.Join(groups[base], ", ")))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// baseInputName strips a trailing `_<digits>` suffix some upstream variable
// names carry to disambiguate multiple edges from the same source node.
func baseInputName(v string) string {
	idx := strings.LastIndex(v, "_")
	if idx < 0 {
		return v
	}
	suffix := v[idx+1:]
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return v
		}
	}
	if suffix == "" {
		return v
	}
	return v[:idx]
}

func usageWarnings(usage *FlowfileUsageAnalysis) []string {
	var warnings []string
	for _, call := range usage.UnsupportedCalls {
		warnings = append(warnings, fmt.Sprintf("warning: flowfile.%s() is not supported in compiled execution", call))
	}
	if usage.DynamicArtifactNames {
		warnings = append(warnings, "warning: artifact name computed at runtime, cannot be statically validated")
	}
	return warnings
}

func indent(text string, levels int) string {
	prefix := strings.Repeat("    ", levels)
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
