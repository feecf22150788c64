// Package ast defines the Abstract Syntax Tree nodes produced by the
// lexer/parser pair for copl source files.
//
// The AST is deliberately thin: it records just enough shape and type
// annotation for the compiler (pkg/compiler) to lower it to bytecode.
// Parsing and lexing are mechanical collaborators — see pkg/lexer and
// pkg/parser — only the tree shape here is load-bearing.
package ast

// Node is implemented by every AST node.
type Node interface {
	TokenLiteral() string
}

// Expression is a node that produces a value.
type Expression interface {
	Node
	expressionNode()
}

// Statement is a node executed for effect.
type Statement interface {
	Node
	statementNode()
}

// Type is a parsed type annotation: a bare name, an array element type,
// or a lambda return type.
type Type struct {
	Name     string // "int", "string", class name, ...
	Elem     *Type  // set when IsArray
	IsArray  bool
	IsLambda bool
	Return   *Type // set when IsLambda
}

func (t *Type) String() string {
	if t == nil {
		return "<unknown>"
	}
	switch {
	case t.IsArray:
		return "[" + t.Elem.String() + "]"
	case t.IsLambda:
		return "lambda -> " + t.Return.String()
	default:
		return t.Name
	}
}

// Program is the root node: a flat list of top-level statements
// (function declarations, class declarations, imports, and any other
// statements, which the compiler gathers into an implicit main).
type Program struct {
	Statements []Statement
}

func (p *Program) TokenLiteral() string {
	if len(p.Statements) > 0 {
		return p.Statements[0].TokenLiteral()
	}
	return ""
}

// ---- Statements ----

// ImportStatement binds an alias to a bytecode file path: import "path" as alias.
type ImportStatement struct {
	Path  string
	Alias string
}

func (s *ImportStatement) TokenLiteral() string { return "import" }
func (s *ImportStatement) statementNode()       {}

// LetStatement declares a typed local: let name: Type = init.
type LetStatement struct {
	Name  string
	Type  *Type
	Value Expression // nil if uninitialized
}

func (s *LetStatement) TokenLiteral() string { return "let" }
func (s *LetStatement) statementNode()       {}

// Param is a function/method/lambda parameter.
type Param struct {
	Name string
	Type *Type
}

// FunctionDeclaration: def name(params) -> returnType { body }.
type FunctionDeclaration struct {
	Name       string
	Params     []Param
	ReturnType *Type
	Body       []Statement
}

func (s *FunctionDeclaration) TokenLiteral() string { return "def" }
func (s *FunctionDeclaration) statementNode()       {}

// Field is a class field declaration: [public|private] name: Type.
type Field struct {
	Name   string
	Type   *Type
	Public bool
}

// ClassDeclaration: class Name { fields; methods }. copl classes carry
// no superclass — the spec's component C has no inheritance story.
type ClassDeclaration struct {
	Name    string
	Fields  []Field
	Methods []*FunctionDeclaration // "constructor" is a method named "constructor"
}

func (s *ClassDeclaration) TokenLiteral() string { return "class" }
func (s *ClassDeclaration) statementNode()       {}

// ExpressionStatement wraps an expression used as a statement.
type ExpressionStatement struct {
	Expr Expression
}

func (s *ExpressionStatement) TokenLiteral() string { return s.Expr.TokenLiteral() }
func (s *ExpressionStatement) statementNode()       {}

// IfStatement: if (cond) { then } else { else }.
type IfStatement struct {
	Condition Expression
	Then      []Statement
	Else      []Statement // nil if no else branch
}

func (s *IfStatement) TokenLiteral() string { return "if" }
func (s *IfStatement) statementNode()       {}

// WhileStatement: while (cond) { body }.
type WhileStatement struct {
	Condition Expression
	Body      []Statement
}

func (s *WhileStatement) TokenLiteral() string { return "while" }
func (s *WhileStatement) statementNode()       {}

// ForStatement: for (init; cond; post) { body }. Init/Post may be nil.
type ForStatement struct {
	Init      Statement
	Condition Expression
	Post      Statement
	Body      []Statement
}

func (s *ForStatement) TokenLiteral() string { return "for" }
func (s *ForStatement) statementNode()       {}

// BreakStatement: break;
type BreakStatement struct{}

func (s *BreakStatement) TokenLiteral() string { return "break" }
func (s *BreakStatement) statementNode()       {}

// ContinueStatement: continue;
type ContinueStatement struct{}

func (s *ContinueStatement) TokenLiteral() string { return "continue" }
func (s *ContinueStatement) statementNode()       {}

// ReturnStatement: return [value];
type ReturnStatement struct {
	Value Expression // nil for bare `return;`
}

func (s *ReturnStatement) TokenLiteral() string { return "return" }
func (s *ReturnStatement) statementNode()       {}

// ---- Expressions ----

type IntegerLiteral struct{ Value int32 }

func (e *IntegerLiteral) TokenLiteral() string { return "int" }
func (e *IntegerLiteral) expressionNode()      {}

type FloatLiteral struct{ Value float64 }

func (e *FloatLiteral) TokenLiteral() string { return "float" }
func (e *FloatLiteral) expressionNode()      {}

type StringLiteral struct{ Value string }

func (e *StringLiteral) TokenLiteral() string { return "string" }
func (e *StringLiteral) expressionNode()      {}

type BoolLiteral struct{ Value bool }

func (e *BoolLiteral) TokenLiteral() string { return "bool" }
func (e *BoolLiteral) expressionNode()      {}

type NullLiteral struct{}

func (e *NullLiteral) TokenLiteral() string { return "null" }
func (e *NullLiteral) expressionNode()      {}

// ArrayLiteral: [e1, e2, ...]
type ArrayLiteral struct{ Elements []Expression }

func (e *ArrayLiteral) TokenLiteral() string { return "[" }
func (e *ArrayLiteral) expressionNode()      {}

// Identifier is a bare name reference: a local, a global, a class name,
// or a module alias, disambiguated at compile time.
type Identifier struct{ Name string }

func (e *Identifier) TokenLiteral() string { return e.Name }
func (e *Identifier) expressionNode()      {}

// ThisExpression refers to the implicit receiver inside a method.
type ThisExpression struct{}

func (e *ThisExpression) TokenLiteral() string { return "this" }
func (e *ThisExpression) expressionNode()      {}

// MemberAccess: obj.field
type MemberAccess struct {
	Object Expression
	Field  string
}

func (e *MemberAccess) TokenLiteral() string { return "." }
func (e *MemberAccess) expressionNode()      {}

// IndexExpression: obj[index]
type IndexExpression struct {
	Object Expression
	Index  Expression
}

func (e *IndexExpression) TokenLiteral() string { return "[" }
func (e *IndexExpression) expressionNode()      {}

// CallExpression: callee(args...). Callee is an Identifier (direct or
// lambda-valued call) or a MemberAccess (module_alias.method or
// obj.method call).
type CallExpression struct {
	Callee Expression
	Args   []Expression
}

func (e *CallExpression) TokenLiteral() string { return "(" }
func (e *CallExpression) expressionNode()      {}

// NewExpression: new ClassName(args...)
type NewExpression struct {
	ClassName string
	Args      []Expression
}

func (e *NewExpression) TokenLiteral() string { return "new" }
func (e *NewExpression) expressionNode()      {}

// LambdaLiteral: $(params) -> returnType { body }. Lambdas capture no
// enclosing environment (spec §4.C, §9) — free variables inside the
// body resolve as globals.
type LambdaLiteral struct {
	Params     []Param
	ReturnType *Type
	Body       []Statement
}

func (e *LambdaLiteral) TokenLiteral() string { return "$" }
func (e *LambdaLiteral) expressionNode()      {}

// BinaryExpression covers arithmetic, comparison, and logical operators.
type BinaryExpression struct {
	Op    string
	Left  Expression
	Right Expression
}

func (e *BinaryExpression) TokenLiteral() string { return e.Op }
func (e *BinaryExpression) expressionNode()      {}

// PrefixExpression covers unary !, -, ++, --.
type PrefixExpression struct {
	Op      string
	Operand Expression
}

func (e *PrefixExpression) TokenLiteral() string { return e.Op }
func (e *PrefixExpression) expressionNode()      {}

// PostfixExpression covers postfix ++, --.
type PostfixExpression struct {
	Op      string
	Operand Expression
}

func (e *PostfixExpression) TokenLiteral() string { return e.Op }
func (e *PostfixExpression) expressionNode()      {}

// AssignExpression covers simple (=) and compound (+=, -=, *=, /=, %=)
// assignment to a name, member, or element l-value.
type AssignExpression struct {
	Op     string // "=", "+=", "-=", "*=", "/=", "%="
	Target Expression
	Value  Expression
}

func (e *AssignExpression) TokenLiteral() string { return e.Op }
func (e *AssignExpression) expressionNode()      {}
