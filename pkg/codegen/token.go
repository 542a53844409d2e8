// Package codegen implements the python_script node's code-generation
// pipeline: parsing a restricted subset of Python, rewriting flowfile.* API
// calls into plain Python equivalents, and assembling the result into a
// standalone function the graph's compiled-export path can call without a
// kernel container.
package codegen

// Kind identifies a lexical token category.
type Kind int

const (
	KindEOF Kind = iota
	KindName
	KindNumber
	KindString
	KindFString
	KindOp
	KindKeyword
)

// Token is one lexical unit within a logical line.
type Token struct {
	Kind Kind
	Text string
}

var keywords = map[string]bool{
	"and": true, "or": true, "not": true, "in": true, "is": true,
	"True": true, "False": true, "None": true,
	"import": true, "from": true, "as": true, "del": true, "return": true,
	"lambda": true,
}
