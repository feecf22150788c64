// Package parser implements a recursive-descent parser for copl.
//
// The parser is a mechanical collaborator (spec.md §1): it turns a
// token stream into the AST shape pkg/ast defines and nothing more —
// no type checking, no constant folding. It keeps the teacher's
// two-token-lookahead design (curTok/peekTok). Errors are accumulated
// while a statement is parsed; Parse stops after the first top-level
// statement that produced any.
package parser

import (
	"fmt"
	"strconv"

	"github.com/copl-lang/copl/pkg/ast"
	"github.com/copl-lang/copl/pkg/lexer"
)

// precedence levels, lowest to highest.
const (
	_ int = iota
	precLowest
	precOr
	precAnd
	precBitOr
	precBitAnd
	precEquality
	precRelational
	precShift
	precSum
	precProduct
	precPrefix
	precPostfix
	precCall
)

var precedences = map[lexer.TokenType]int{
	lexer.TokenPipePipe:  precOr,
	lexer.TokenAmpAmp:    precAnd,
	lexer.TokenPipe:      precBitOr,
	lexer.TokenAmp:       precBitAnd,
	lexer.TokenEq:        precEquality,
	lexer.TokenNotEq:     precEquality,
	lexer.TokenLess:      precRelational,
	lexer.TokenLessEq:    precRelational,
	lexer.TokenGreater:   precRelational,
	lexer.TokenGreaterEq: precRelational,
	lexer.TokenShl:       precShift,
	lexer.TokenShr:       precShift,
	lexer.TokenPlus:      precSum,
	lexer.TokenMinus:     precSum,
	lexer.TokenStar:      precProduct,
	lexer.TokenSlash:     precProduct,
	lexer.TokenPercent:   precProduct,
	lexer.TokenLParen:    precCall,
	lexer.TokenLBracket:  precCall,
	lexer.TokenDot:       precCall,
	lexer.TokenPlusPlus:  precPostfix,
	lexer.TokenMinusMinus: precPostfix,
}

// Parser turns a token stream into an *ast.Program.
type Parser struct {
	l       *lexer.Lexer
	curTok  lexer.Token
	peekTok lexer.Token
	errors  []string
}

// New creates a parser over src.
func New(src string) *Parser {
	p := &Parser{l: lexer.New(src)}
	p.next()
	p.next()
	return p
}

// Errors returns accumulated syntax errors.
func (p *Parser) Errors() []string { return p.errors }

func (p *Parser) next() {
	p.curTok = p.peekTok
	p.peekTok = p.l.NextToken()
}

func (p *Parser) curIs(t lexer.TokenType) bool  { return p.curTok.Type == t }
func (p *Parser) peekIs(t lexer.TokenType) bool { return p.peekTok.Type == t }

func (p *Parser) expect(t lexer.TokenType) bool {
	if p.curIs(t) {
		p.next()
		return true
	}
	p.errorf("expected token %v, got %v (%q) at line %d", t, p.curTok.Type, p.curTok.Literal, p.curTok.Line)
	return false
}

func (p *Parser) errorf(format string, args ...interface{}) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

// Parse consumes the whole token stream and returns the program.
func (p *Parser) Parse() (*ast.Program, error) {
	prog := &ast.Program{}
	for !p.curIs(lexer.TokenEOF) {
		stmt := p.parseStatement()
		if stmt != nil {
			prog.Statements = append(prog.Statements, stmt)
		}
		if len(p.errors) > 0 {
			return prog, fmt.Errorf("parse error: %s", p.errors[0])
		}
	}
	return prog, nil
}

func (p *Parser) parseStatement() ast.Statement {
	switch p.curTok.Type {
	case lexer.TokenImport:
		return p.parseImport()
	case lexer.TokenLet:
		return p.parseLet()
	case lexer.TokenDef:
		return p.parseFunctionDecl()
	case lexer.TokenClass:
		return p.parseClassDecl()
	case lexer.TokenIf:
		return p.parseIf()
	case lexer.TokenWhile:
		return p.parseWhile()
	case lexer.TokenFor:
		return p.parseFor()
	case lexer.TokenBreak:
		p.next()
		p.optionalSemi()
		return &ast.BreakStatement{}
	case lexer.TokenContinue:
		p.next()
		p.optionalSemi()
		return &ast.ContinueStatement{}
	case lexer.TokenReturn:
		return p.parseReturn()
	default:
		expr := p.parseExpression(precLowest)
		p.optionalSemi()
		return &ast.ExpressionStatement{Expr: expr}
	}
}

func (p *Parser) optionalSemi() {
	if p.curIs(lexer.TokenSemi) {
		p.next()
	}
}

func (p *Parser) parseImport() ast.Statement {
	p.next() // consume 'import'
	path := p.curTok.Literal
	p.expect(lexer.TokenString)
	p.expect(lexer.TokenAs)
	alias := p.curTok.Literal
	p.expect(lexer.TokenIdentifier)
	p.optionalSemi()
	return &ast.ImportStatement{Path: path, Alias: alias}
}

func (p *Parser) parseType() *ast.Type {
	if p.curIs(lexer.TokenLBracket) {
		p.next()
		elem := p.parseType()
		p.expect(lexer.TokenRBracket)
		return &ast.Type{IsArray: true, Elem: elem}
	}
	name := p.curTok.Literal
	p.expect(lexer.TokenIdentifier)
	if name == "lambda" {
		p.expect(lexer.TokenArrow)
		ret := p.parseType()
		return &ast.Type{Name: "lambda", IsLambda: true, Return: ret}
	}
	return &ast.Type{Name: name}
}

func (p *Parser) parseLet() ast.Statement {
	p.next() // consume 'let'
	name := p.curTok.Literal
	p.expect(lexer.TokenIdentifier)
	var typ *ast.Type
	if p.curIs(lexer.TokenColon) {
		p.next()
		typ = p.parseType()
	}
	var value ast.Expression
	if p.curIs(lexer.TokenAssign) {
		p.next()
		value = p.parseExpression(precLowest)
	}
	p.optionalSemi()
	return &ast.LetStatement{Name: name, Type: typ, Value: value}
}

func (p *Parser) parseParamList() []ast.Param {
	var params []ast.Param
	p.expect(lexer.TokenLParen)
	for !p.curIs(lexer.TokenRParen) && !p.curIs(lexer.TokenEOF) {
		name := p.curTok.Literal
		p.expect(lexer.TokenIdentifier)
		p.expect(lexer.TokenColon)
		typ := p.parseType()
		params = append(params, ast.Param{Name: name, Type: typ})
		if p.curIs(lexer.TokenComma) {
			p.next()
		}
	}
	p.expect(lexer.TokenRParen)
	return params
}

func (p *Parser) parseBlock() []ast.Statement {
	var stmts []ast.Statement
	p.expect(lexer.TokenLBrace)
	for !p.curIs(lexer.TokenRBrace) && !p.curIs(lexer.TokenEOF) {
		stmts = append(stmts, p.parseStatement())
	}
	p.expect(lexer.TokenRBrace)
	return stmts
}

func (p *Parser) parseFunctionDecl() *ast.FunctionDeclaration {
	p.next() // consume 'def'
	name := p.curTok.Literal
	p.expect(lexer.TokenIdentifier)
	params := p.parseParamList()
	var ret *ast.Type
	if p.curIs(lexer.TokenArrow) {
		p.next()
		ret = p.parseType()
	}
	body := p.parseBlock()
	return &ast.FunctionDeclaration{Name: name, Params: params, ReturnType: ret, Body: body}
}

func (p *Parser) parseClassDecl() ast.Statement {
	p.next() // consume 'class'
	name := p.curTok.Literal
	p.expect(lexer.TokenIdentifier)
	p.expect(lexer.TokenLBrace)

	decl := &ast.ClassDeclaration{Name: name}
	for !p.curIs(lexer.TokenRBrace) && !p.curIs(lexer.TokenEOF) {
		public := true
		if p.curIs(lexer.TokenPublic) {
			p.next()
		} else if p.curIs(lexer.TokenPrivate) {
			public = false
			p.next()
		}

		if p.curIs(lexer.TokenDef) {
			m := p.parseFunctionDecl()
			decl.Methods = append(decl.Methods, m)
			continue
		}

		fname := p.curTok.Literal
		p.expect(lexer.TokenIdentifier)
		p.expect(lexer.TokenColon)
		ftype := p.parseType()
		p.optionalSemi()
		decl.Fields = append(decl.Fields, ast.Field{Name: fname, Type: ftype, Public: public})
	}
	p.expect(lexer.TokenRBrace)
	return decl
}

func (p *Parser) parseIf() ast.Statement {
	p.next() // consume 'if'
	p.expect(lexer.TokenLParen)
	cond := p.parseExpression(precLowest)
	p.expect(lexer.TokenRParen)
	then := p.parseBlock()
	var els []ast.Statement
	if p.curIs(lexer.TokenElse) {
		p.next()
		if p.curIs(lexer.TokenIf) {
			els = []ast.Statement{p.parseIf()}
		} else {
			els = p.parseBlock()
		}
	}
	return &ast.IfStatement{Condition: cond, Then: then, Else: els}
}

func (p *Parser) parseWhile() ast.Statement {
	p.next() // consume 'while'
	p.expect(lexer.TokenLParen)
	cond := p.parseExpression(precLowest)
	p.expect(lexer.TokenRParen)
	body := p.parseBlock()
	return &ast.WhileStatement{Condition: cond, Body: body}
}

func (p *Parser) parseFor() ast.Statement {
	p.next() // consume 'for'
	p.expect(lexer.TokenLParen)
	var init ast.Statement
	if !p.curIs(lexer.TokenSemi) {
		init = p.parseSimpleStatement()
	}
	p.expect(lexer.TokenSemi)
	var cond ast.Expression
	if !p.curIs(lexer.TokenSemi) {
		cond = p.parseExpression(precLowest)
	}
	p.expect(lexer.TokenSemi)
	var post ast.Statement
	if !p.curIs(lexer.TokenRParen) {
		post = p.parseSimpleStatement()
	}
	p.expect(lexer.TokenRParen)
	body := p.parseBlock()
	return &ast.ForStatement{Init: init, Condition: cond, Post: post, Body: body}
}

// parseSimpleStatement parses a let-decl or bare expression without
// consuming a trailing terminator — used for the for-loop clauses.
func (p *Parser) parseSimpleStatement() ast.Statement {
	if p.curIs(lexer.TokenLet) {
		p.next()
		name := p.curTok.Literal
		p.expect(lexer.TokenIdentifier)
		var typ *ast.Type
		if p.curIs(lexer.TokenColon) {
			p.next()
			typ = p.parseType()
		}
		var value ast.Expression
		if p.curIs(lexer.TokenAssign) {
			p.next()
			value = p.parseExpression(precLowest)
		}
		return &ast.LetStatement{Name: name, Type: typ, Value: value}
	}
	expr := p.parseExpression(precLowest)
	return &ast.ExpressionStatement{Expr: expr}
}

func (p *Parser) parseReturn() ast.Statement {
	p.next() // consume 'return'
	if p.curIs(lexer.TokenSemi) || p.curIs(lexer.TokenRBrace) {
		p.optionalSemi()
		return &ast.ReturnStatement{}
	}
	value := p.parseExpression(precLowest)
	p.optionalSemi()
	return &ast.ReturnStatement{Value: value}
}

// ---- Expressions (Pratt parser) ----

func (p *Parser) parseExpression(precedence int) ast.Expression {
	left := p.parsePrefix()
	if left == nil {
		return nil
	}

	for !p.curIs(lexer.TokenSemi) && precedence < p.curPrecedence() {
		switch p.curTok.Type {
		case lexer.TokenLParen:
			left = p.parseCall(left)
		case lexer.TokenLBracket:
			left = p.parseIndex(left)
		case lexer.TokenDot:
			left = p.parseMember(left)
		case lexer.TokenPlusPlus, lexer.TokenMinusMinus:
			op := p.curTok.Literal
			p.next()
			left = &ast.PostfixExpression{Op: op, Operand: left}
		case lexer.TokenAssign, lexer.TokenPlusEq, lexer.TokenMinusEq,
			lexer.TokenStarEq, lexer.TokenSlashEq, lexer.TokenPercentEq:
			left = p.parseAssign(left)
		default:
			left = p.parseBinary(left)
		}
	}
	return left
}

func (p *Parser) curPrecedence() int {
	if pr, ok := precedences[p.curTok.Type]; ok {
		return pr
	}
	if p.curTok.Type == lexer.TokenAssign || p.curTok.Type == lexer.TokenPlusEq ||
		p.curTok.Type == lexer.TokenMinusEq || p.curTok.Type == lexer.TokenStarEq ||
		p.curTok.Type == lexer.TokenSlashEq || p.curTok.Type == lexer.TokenPercentEq {
		return precLowest + 1
	}
	return precLowest
}

func (p *Parser) parsePrefix() ast.Expression {
	switch p.curTok.Type {
	case lexer.TokenInteger:
		v, err := strconv.ParseInt(p.curTok.Literal, 10, 32)
		if err != nil {
			p.errorf("invalid integer literal %q", p.curTok.Literal)
		}
		p.next()
		return &ast.IntegerLiteral{Value: int32(v)}
	case lexer.TokenFloat:
		v, err := strconv.ParseFloat(p.curTok.Literal, 64)
		if err != nil {
			p.errorf("invalid float literal %q", p.curTok.Literal)
		}
		p.next()
		return &ast.FloatLiteral{Value: v}
	case lexer.TokenString:
		s := p.curTok.Literal
		p.next()
		return &ast.StringLiteral{Value: s}
	case lexer.TokenTrue:
		p.next()
		return &ast.BoolLiteral{Value: true}
	case lexer.TokenFalse:
		p.next()
		return &ast.BoolLiteral{Value: false}
	case lexer.TokenNull:
		p.next()
		return &ast.NullLiteral{}
	case lexer.TokenThis:
		p.next()
		return &ast.ThisExpression{}
	case lexer.TokenIdentifier:
		name := p.curTok.Literal
		p.next()
		return &ast.Identifier{Name: name}
	case lexer.TokenLParen:
		p.next()
		expr := p.parseExpression(precLowest)
		p.expect(lexer.TokenRParen)
		return expr
	case lexer.TokenLBracket:
		return p.parseArrayLiteral()
	case lexer.TokenNew:
		return p.parseNew()
	case lexer.TokenDollar:
		return p.parseLambda()
	case lexer.TokenBang, lexer.TokenMinus, lexer.TokenTilde:
		op := p.curTok.Literal
		p.next()
		operand := p.parseExpression(precPrefix)
		return &ast.PrefixExpression{Op: op, Operand: operand}
	case lexer.TokenPlusPlus, lexer.TokenMinusMinus:
		op := p.curTok.Literal
		p.next()
		operand := p.parseExpression(precPrefix)
		return &ast.PrefixExpression{Op: op, Operand: operand}
	default:
		p.errorf("unexpected token %v (%q) at line %d", p.curTok.Type, p.curTok.Literal, p.curTok.Line)
		p.next()
		return nil
	}
}

func (p *Parser) parseArrayLiteral() ast.Expression {
	p.next() // consume '['
	var elems []ast.Expression
	for !p.curIs(lexer.TokenRBracket) && !p.curIs(lexer.TokenEOF) {
		elems = append(elems, p.parseExpression(precLowest))
		if p.curIs(lexer.TokenComma) {
			p.next()
		}
	}
	p.expect(lexer.TokenRBracket)
	return &ast.ArrayLiteral{Elements: elems}
}

func (p *Parser) parseNew() ast.Expression {
	p.next() // consume 'new'
	name := p.curTok.Literal
	p.expect(lexer.TokenIdentifier)
	var args []ast.Expression
	p.expect(lexer.TokenLParen)
	for !p.curIs(lexer.TokenRParen) && !p.curIs(lexer.TokenEOF) {
		args = append(args, p.parseExpression(precLowest))
		if p.curIs(lexer.TokenComma) {
			p.next()
		}
	}
	p.expect(lexer.TokenRParen)
	return &ast.NewExpression{ClassName: name, Args: args}
}

func (p *Parser) parseLambda() ast.Expression {
	p.next() // consume '$'
	params := p.parseParamList()
	var ret *ast.Type
	if p.curIs(lexer.TokenArrow) {
		p.next()
		ret = p.parseType()
	}
	body := p.parseBlock()
	return &ast.LambdaLiteral{Params: params, ReturnType: ret, Body: body}
}

func (p *Parser) parseCall(callee ast.Expression) ast.Expression {
	p.next() // consume '('
	var args []ast.Expression
	for !p.curIs(lexer.TokenRParen) && !p.curIs(lexer.TokenEOF) {
		args = append(args, p.parseExpression(precLowest))
		if p.curIs(lexer.TokenComma) {
			p.next()
		}
	}
	p.expect(lexer.TokenRParen)
	return &ast.CallExpression{Callee: callee, Args: args}
}

func (p *Parser) parseIndex(obj ast.Expression) ast.Expression {
	p.next() // consume '['
	idx := p.parseExpression(precLowest)
	p.expect(lexer.TokenRBracket)
	return &ast.IndexExpression{Object: obj, Index: idx}
}

func (p *Parser) parseMember(obj ast.Expression) ast.Expression {
	p.next() // consume '.'
	field := p.curTok.Literal
	p.expect(lexer.TokenIdentifier)
	return &ast.MemberAccess{Object: obj, Field: field}
}

func (p *Parser) parseAssign(target ast.Expression) ast.Expression {
	op := p.curTok.Literal
	p.next()
	value := p.parseExpression(precLowest)
	return &ast.AssignExpression{Op: op, Target: target, Value: value}
}

func (p *Parser) parseBinary(left ast.Expression) ast.Expression {
	op := p.curTok.Literal
	prec := p.curPrecedence()
	p.next()
	right := p.parseExpression(prec)
	return &ast.BinaryExpression{Op: op, Left: left, Right: right}
}
