package formula

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sells-group/tariff-engine/internal/model"
)

// The grammar is intentionally restricted: decimal literals, named variable
// references, + - * /, parentheses, and min/max clamp calls. No loops, no
// side effects, no external calls.
//
//	comparison := expr (cmpop expr)?
//	expr       := term (('+'|'-') term)*
//	term       := unary (('*'|'/') unary)*
//	unary      := '-'? primary
//	primary    := NUMBER | IDENT | IDENT '(' expr (',' expr)* ')' | '(' expr ')'

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokIdent
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokLParen
	tokRParen
	tokComma
	tokCmp // == != < <= > >=
	tokEOF
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func syntaxErr(expr string, pos int, reason string) error {
	return &model.FormulaSyntaxError{Formula: expr, Pos: pos, Reason: reason}
}

// lex tokenizes a formula expression.
func lex(expr string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c >= '0' && c <= '9' || c == '.':
			start := i
			seenDot := false
			for i < len(expr) && (expr[i] >= '0' && expr[i] <= '9' || expr[i] == '.') {
				if expr[i] == '.' {
					if seenDot {
						return nil, syntaxErr(expr, i, "malformed number")
					}
					seenDot = true
				}
				i++
			}
			text := expr[start:i]
			if text == "." {
				return nil, syntaxErr(expr, start, "malformed number")
			}
			toks = append(toks, token{tokNumber, text, start})
		case isIdentStart(c):
			start := i
			for i < len(expr) && isIdentPart(expr[i]) {
				i++
			}
			toks = append(toks, token{tokIdent, expr[start:i], start})
		case c == '+':
			toks = append(toks, token{tokPlus, "+", i})
			i++
		case c == '-':
			toks = append(toks, token{tokMinus, "-", i})
			i++
		case c == '*':
			toks = append(toks, token{tokStar, "*", i})
			i++
		case c == '/':
			toks = append(toks, token{tokSlash, "/", i})
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case c == ',':
			toks = append(toks, token{tokComma, ",", i})
			i++
		case c == '=' || c == '!' || c == '<' || c == '>':
			start := i
			i++
			if i < len(expr) && expr[i] == '=' {
				i++
			}
			op := expr[start:i]
			if op == "=" || op == "!" {
				return nil, syntaxErr(expr, start, "malformed comparison operator")
			}
			toks = append(toks, token{tokCmp, op, start})
		default:
			return nil, syntaxErr(expr, i, "unexpected character "+string(c))
		}
	}
	toks = append(toks, token{tokEOF, "", len(expr)})
	return toks, nil
}

func isIdentStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}

// --- AST ---

type node interface{}

type numberNode struct {
	val decimal.Decimal
}

type varNode struct {
	name string
	pos  int
}

type binaryNode struct {
	op    string
	left  node
	right node
	pos   int
}

type negNode struct {
	child node
}

type callNode struct {
	fn   string // "min" or "max"
	args []node
	pos  int
}

type compareNode struct {
	op    string
	left  node
	right node
}

type parser struct {
	expr string
	toks []token
	i    int
}

func newParser(expr string) (*parser, error) {
	toks, err := lex(expr)
	if err != nil {
		return nil, err
	}
	return &parser{expr: expr, toks: toks}, nil
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

// parseExpression parses a full arithmetic expression and requires EOF after it.
func (p *parser) parseExpression() (node, error) {
	n, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, syntaxErr(p.expr, t.pos, "unexpected token "+t.text)
	}
	return n, nil
}

// parseComparison parses a predicate of the form "expr cmpop expr".
func (p *parser) parseComparison() (node, error) {
	left, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	if t.kind != tokCmp {
		return nil, syntaxErr(p.expr, t.pos, "expected comparison operator")
	}
	p.next()
	right, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, syntaxErr(p.expr, t.pos, "unexpected token "+t.text)
	}
	return &compareNode{op: t.text, left: left, right: right}, nil
}

func (p *parser) parseExpr() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokPlus && t.kind != tokMinus {
			return left, nil
		}
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: t.text, left: left, right: right, pos: t.pos}
	}
}

func (p *parser) parseTerm() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokStar && t.kind != tokSlash {
			return left, nil
		}
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: t.text, left: left, right: right, pos: t.pos}
	}
}

func (p *parser) parseUnary() (node, error) {
	if p.peek().kind == tokMinus {
		p.next()
		child, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return &negNode{child: child}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		val, err := decimal.NewFromString(t.text)
		if err != nil {
			return nil, syntaxErr(p.expr, t.pos, "malformed number "+t.text)
		}
		return &numberNode{val: val}, nil

	case tokIdent:
		name := t.text
		if p.peek().kind == tokLParen {
			fn := strings.ToLower(name)
			if fn != "min" && fn != "max" {
				return nil, syntaxErr(p.expr, t.pos, "unknown function "+name)
			}
			p.next() // consume '('
			var args []node
			for {
				arg, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
				sep := p.next()
				if sep.kind == tokRParen {
					break
				}
				if sep.kind != tokComma {
					return nil, syntaxErr(p.expr, sep.pos, "expected ',' or ')' in "+fn+" call")
				}
			}
			if len(args) < 2 {
				return nil, syntaxErr(p.expr, t.pos, fn+" requires at least two arguments")
			}
			return &callNode{fn: fn, args: args, pos: t.pos}, nil
		}
		return &varNode{name: name, pos: t.pos}, nil

	case tokLParen:
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, syntaxErr(p.expr, closing.pos, "expected ')'")
		}
		return inner, nil

	default:
		return nil, syntaxErr(p.expr, t.pos, "unexpected token "+t.text)
	}
}

// collectVars appends variable names referenced by n, in first-use order.
func collectVars(n node, seen map[string]bool, out *[]string) {
	switch v := n.(type) {
	case *varNode:
		if !seen[v.name] {
			seen[v.name] = true
			*out = append(*out, v.name)
		}
	case *binaryNode:
		collectVars(v.left, seen, out)
		collectVars(v.right, seen, out)
	case *negNode:
		collectVars(v.child, seen, out)
	case *callNode:
		for _, a := range v.args {
			collectVars(a, seen, out)
		}
	case *compareNode:
		collectVars(v.left, seen, out)
		collectVars(v.right, seen, out)
	}
}
