package codegen

import (
	"fmt"
	"strings"
)

var compoundHeads = map[string]bool{
	"if": true, "elif": true, "else": true, "for": true, "while": true,
	"def": true, "class": true, "with": true, "try": true, "except": true,
	"finally": true,
}

// Parse turns Python source into a Program. Statements outside the
// restricted grammar (compound statements, anything the expression parser
// rejects) become RawStmt, preserving the original text rather than
// failing the whole parse.
func Parse(source string) (*Program, error) {
	lines := splitLogicalLines(source)
	prog := &Program{}

	i := 0
	for i < len(lines) {
		line := lines[i]
		first := firstWord(line.text)

		if compoundHeads[first] || strings.HasSuffix(strings.TrimRight(line.text, " "), ":") {
			block, consumed := collectBlock(lines, i)
			prog.Statements = append(prog.Statements, RawStmt{Text: block})
			i += consumed
			continue
		}

		stmt, err := parseSimpleStatement(line.text)
		if err != nil {
			stmt = RawStmt{Text: line.text}
		}
		prog.Statements = append(prog.Statements, stmt)
		i++
	}
	return prog, nil
}

func firstWord(s string) string {
	s = strings.TrimSpace(s)
	for i, r := range s {
		if r == ' ' || r == '\t' || r == '(' || r == ':' {
			return s[:i]
		}
	}
	return s
}

// collectBlock gathers a compound statement's header line and every
// subsequent logical line indented further than it, returning the raw
// source and how many logicalLine entries it consumed.
func collectBlock(lines []logicalLine, start int) (string, int) {
	headIndent := lines[start].indent
	var sb strings.Builder
	sb.WriteString(lines[start].text)
	n := 1
	for start+n < len(lines) && lines[start+n].indent > headIndent {
		sb.WriteString("\n")
		sb.WriteString(lines[start+n].text)
		n++
	}
	return sb.String(), n
}

func parseSimpleStatement(text string) (Stmt, error) {
	trimmed := strings.TrimSpace(text)

	switch {
	case strings.HasPrefix(trimmed, "import "):
		return parseImport(trimmed)
	case strings.HasPrefix(trimmed, "from "):
		return parseFromImport(trimmed)
	case strings.HasPrefix(trimmed, "del "):
		p := newExprParser(trimmed[len("del "):])
		target, err := p.parseExpr()
		if err != nil || !p.atEnd() {
			return nil, fmt.Errorf("codegen: cannot parse del statement")
		}
		return Delete{Target: target}, nil
	}

	if target, value, ok := splitTopLevelAssign(trimmed); ok {
		tp := newExprParser(target)
		targetExpr, err := tp.parseExpr()
		if err != nil || !tp.atEnd() {
			return nil, fmt.Errorf("codegen: cannot parse assignment target")
		}
		vp := newExprParser(value)
		valueExpr, err := vp.parseExpr()
		if err != nil || !vp.atEnd() {
			return nil, fmt.Errorf("codegen: cannot parse assignment value")
		}
		return Assign{Target: targetExpr, Value: valueExpr}, nil
	}

	p := newExprParser(trimmed)
	expr, err := p.parseExpr()
	if err != nil || !p.atEnd() {
		return nil, fmt.Errorf("codegen: cannot parse expression statement")
	}
	return ExprStmt{Value: expr}, nil
}

// splitTopLevelAssign finds a single `=` that is not part of ==, !=, <=,
// >=, or a keyword-argument/default inside brackets, and is not a chained
// or augmented assignment (those fall through to Raw).
func splitTopLevelAssign(s string) (target, value string, ok bool) {
	depth := 0
	inStr := byte(0)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == inStr {
				inStr = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			inStr = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case '=':
			if depth != 0 {
				continue
			}
			if i > 0 && strings.ContainsRune("=!<>+-*/%&|^", rune(s[i-1])) {
				return "", "", false
			}
			if i+1 < len(s) && s[i+1] == '=' {
				return "", "", false
			}
			return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:]), true
		}
	}
	return "", "", false
}

func parseImport(s string) (Stmt, error) {
	rest := strings.TrimSpace(strings.TrimPrefix(s, "import "))
	var names []ImportName
	for _, part := range strings.Split(rest, ",") {
		part = strings.TrimSpace(part)
		names = append(names, parseImportName(part))
	}
	return Import{Names: names}, nil
}

func parseFromImport(s string) (Stmt, error) {
	rest := strings.TrimSpace(strings.TrimPrefix(s, "from "))
	idx := strings.Index(rest, " import ")
	if idx < 0 {
		return nil, fmt.Errorf("codegen: malformed from-import")
	}
	module := strings.TrimSpace(rest[:idx])
	namesPart := strings.TrimSpace(rest[idx+len(" import "):])
	namesPart = strings.Trim(namesPart, "()")
	var names []ImportName
	for _, part := range strings.Split(namesPart, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		names = append(names, parseImportName(part))
	}
	return FromImport{Module: module, Names: names}, nil
}

func parseImportName(part string) ImportName {
	if idx := strings.Index(part, " as "); idx >= 0 {
		return ImportName{Path: strings.TrimSpace(part[:idx]), Alias: strings.TrimSpace(part[idx+4:])}
	}
	return ImportName{Path: part}
}
