package langparse

import (
	"fmt"
	"strconv"

	"github.com/typedkv/typedkv/internal/planner/expr"
)

// Parser consumes tokens from a Lexer and builds an expr.Node tree.
// Grammar (lowest to highest precedence):
//
//	expr   := orExpr
//	orExpr := andExpr (OR andExpr)*
//	andExpr := unary (AND unary)*
//	unary  := NOT unary | primary
//	primary := comparison | '(' expr ')'
//	comparison := IDENT op (STRING | NUMBER | IDENT)
type Parser struct {
	lex *Lexer
	tok Token
	err error
}

// Parse parses input and returns the resulting filter tree.
func Parse(input string) (expr.Node, error) {
	p := &Parser{lex: NewLexer(input)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.Type != TokenEOF {
		return nil, fmt.Errorf("langparse: unexpected trailing token %q at %d", p.tok.Value, p.tok.Pos)
	}
	return node, nil
}

func (p *Parser) advance() error {
	tok, err := p.lex.NextToken()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *Parser) parseOr() (expr.Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.tok.Type == TokenOr {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &expr.Or{Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (expr.Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.tok.Type == TokenAnd {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &expr.And{Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseUnary() (expr.Node, error) {
	if p.tok.Type == TokenNot {
		if err := p.advance(); err != nil {
			return nil, err
		}
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &expr.Not{Child: child}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (expr.Node, error) {
	if p.tok.Type == TokenLParen {
		if err := p.advance(); err != nil {
			return nil, err
		}
		node, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok.Type != TokenRParen {
			return nil, fmt.Errorf("langparse: expected ')' at %d", p.tok.Pos)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return node, nil
	}
	return p.parseComparison()
}

func (p *Parser) parseComparison() (expr.Node, error) {
	if p.tok.Type != TokenIdent {
		return nil, fmt.Errorf("langparse: expected property name at %d, got %q", p.tok.Pos, p.tok.Value)
	}
	property := p.tok.Value
	if err := p.advance(); err != nil {
		return nil, err
	}

	op, err := comparisonOp(p.tok)
	if err != nil {
		return nil, err
	}
	if err := p.advance(); err != nil {
		return nil, err
	}

	value, err := literalValue(p.tok)
	if err != nil {
		return nil, err
	}
	if err := p.advance(); err != nil {
		return nil, err
	}

	return &expr.Comparison{Property: property, Op: op, Value: value}, nil
}

func comparisonOp(tok Token) (expr.ComparisonOp, error) {
	switch tok.Type {
	case TokenEquals:
		return expr.OpEquals, nil
	case TokenNotEquals:
		return expr.OpNotEquals, nil
	case TokenLess:
		return expr.OpLess, nil
	case TokenLessEq:
		return expr.OpLessEq, nil
	case TokenGreater:
		return expr.OpGreater, nil
	case TokenGreaterEq:
		return expr.OpGreaterEq, nil
	default:
		return 0, fmt.Errorf("langparse: expected comparison operator at %d, got %q", tok.Pos, tok.Value)
	}
}

func literalValue(tok Token) (any, error) {
	switch tok.Type {
	case TokenString:
		return tok.Value, nil
	case TokenNumber:
		if f, err := strconv.ParseFloat(tok.Value, 64); err == nil {
			return f, nil
		}
		return nil, fmt.Errorf("langparse: malformed number %q at %d", tok.Value, tok.Pos)
	case TokenIdent:
		switch tok.Value {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return tok.Value, nil
	default:
		return nil, fmt.Errorf("langparse: expected a value at %d, got %q", tok.Pos, tok.Value)
	}
}
