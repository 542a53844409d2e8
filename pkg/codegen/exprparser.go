package codegen

import (
	"fmt"
	"strings"
)

// exprParser parses the structured subset of Python expressions (name,
// literal, attribute access, subscript, call) from a token stream. Anything
// it can't fully structure — binary/unary operators, comprehensions,
// lambdas, tuple/list/dict literals, parenthesized groups — falls back to
// Raw, re-rendered from the token stream rather than carrying the original
// byte range (matching ast.unparse's re-serialization, not a byte-exact
// round trip).
type exprParser struct {
	toks []Token
	pos  int
	orig string
}

func newExprParser(text string) *exprParser {
	toks, err := lexLine(text)
	if err != nil {
		toks = nil
	}
	return &exprParser{toks: toks, orig: strings.TrimSpace(text)}
}

func newExprParserFromTokens(toks []Token) *exprParser {
	return &exprParser{toks: toks, orig: renderTokens(toks)}
}

func (p *exprParser) atEnd() bool { return p.pos >= len(p.toks) }

func (p *exprParser) peek() Token {
	if p.atEnd() {
		return Token{Kind: KindEOF}
	}
	return p.toks[p.pos]
}

func (p *exprParser) next() Token {
	t := p.peek()
	p.pos++
	return t
}

// parseExpr parses one expression. It never returns a hard error for
// unsupported syntax: anything outside the structured grammar is returned
// as Raw, reconstructed from the full token span.
func (p *exprParser) parseExpr() (Expr, error) {
	if len(p.toks) == 0 {
		return nil, fmt.Errorf("codegen: empty expression")
	}
	node, err := p.parsePostfix()
	if err != nil || !p.atEnd() {
		p.pos = len(p.toks)
		return Raw{Text: p.orig}, nil
	}
	return node, nil
}

func (p *exprParser) parsePostfix() (Expr, error) {
	prim, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.Kind != KindOp {
			break
		}
		switch tok.Text {
		case ".":
			p.next()
			name := p.next()
			if name.Kind != KindName && name.Kind != KindKeyword {
				return nil, fmt.Errorf("codegen: expected attribute name after '.'")
			}
			prim = Attribute{Value: prim, Attr: name.Text}
		case "[":
			p.next()
			inner, err := p.collectBracket("[", "]")
			if err != nil {
				return nil, err
			}
			idx := parseSubExpr(inner)
			prim = Subscript{Value: prim, Index: idx}
		case "(":
			p.next()
			inner, err := p.collectBracket("(", ")")
			if err != nil {
				return nil, err
			}
			args, kwargs := parseCallArgs(inner)
			prim = Call{Func: prim, Args: args, Kwargs: kwargs}
		default:
			return prim, nil
		}
	}
	return prim, nil
}

func (p *exprParser) parsePrimary() (Expr, error) {
	tok := p.peek()
	switch tok.Kind {
	case KindName:
		p.next()
		return Name{Ident: tok.Text}, nil
	case KindNumber, KindString, KindFString:
		p.next()
		return Const{Literal: tok.Text}, nil
	case KindKeyword:
		if tok.Text == "True" || tok.Text == "False" || tok.Text == "None" {
			p.next()
			return Const{Literal: tok.Text}, nil
		}
		return nil, fmt.Errorf("codegen: keyword %q not supported as primary expression", tok.Text)
	default:
		return nil, fmt.Errorf("codegen: unsupported primary expression starting with %q", tok.Text)
	}
}

// collectBracket consumes tokens up to (but not including) the matching
// close bracket, assuming the open bracket was already consumed, and
// advances past the close bracket. Nested brackets of any kind are tracked
// together since Python doesn't allow mismatched nesting.
func (p *exprParser) collectBracket(open, close string) ([]Token, error) {
	depth := 1
	var out []Token
	for !p.atEnd() {
		tok := p.next()
		if tok.Kind == KindOp {
			switch tok.Text {
			case "(", "[", "{":
				depth++
			case ")", "]", "}":
				depth--
				if depth == 0 {
					return out, nil
				}
			}
		}
		out = append(out, tok)
	}
	return nil, fmt.Errorf("codegen: unterminated %q...%q", open, close)
}

// parseSubExpr parses a token slice as a standalone expression, falling
// back to Raw (rendered from the slice) on any failure.
func parseSubExpr(toks []Token) Expr {
	if len(toks) == 0 {
		return Raw{Text: ""}
	}
	sp := newExprParserFromTokens(toks)
	expr, err := sp.parseExpr()
	if err != nil {
		return Raw{Text: renderTokens(toks)}
	}
	return expr
}

// parseCallArgs splits a call's inner tokens on top-level commas and
// classifies each segment as a positional argument or `name=value` kwarg.
func parseCallArgs(toks []Token) ([]Expr, []Kwarg) {
	var args []Expr
	var kwargs []Kwarg
	for _, seg := range splitTopLevelCommas(toks) {
		if len(seg) == 0 {
			continue
		}
		if len(seg) >= 2 && seg[0].Kind == KindName && seg[1].Kind == KindOp && seg[1].Text == "=" {
			kwargs = append(kwargs, Kwarg{Name: seg[0].Text, Value: parseSubExpr(seg[2:])})
			continue
		}
		args = append(args, parseSubExpr(seg))
	}
	return args, kwargs
}

func splitTopLevelCommas(toks []Token) [][]Token {
	var out [][]Token
	var cur []Token
	depth := 0
	for _, tok := range toks {
		if tok.Kind == KindOp {
			switch tok.Text {
			case "(", "[", "{":
				depth++
			case ")", "]", "}":
				depth--
			case ",":
				if depth == 0 {
					out = append(out, cur)
					cur = nil
					continue
				}
			}
		}
		cur = append(cur, tok)
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

// renderTokens re-serializes a token slice into Python source text,
// spacing it like ast.unparse would rather than preserving original
// whitespace.
func renderTokens(toks []Token) string {
	var sb strings.Builder
	noSpaceBefore := map[string]bool{
		".": true, ",": true, "(": true, ")": true, "[": true, "]": true, ":": true,
	}
	noSpaceAfter := map[string]bool{
		".": true, "(": true, "[": true,
	}
	for i, tok := range toks {
		if i > 0 {
			prev := toks[i-1]
			if !noSpaceBefore[tok.Text] && !noSpaceAfter[prev.Text] {
				sb.WriteString(" ")
			}
		}
		sb.WriteString(tok.Text)
	}
	return sb.String()
}
