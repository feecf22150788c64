// Package compiler lowers copl's AST to bytecode (spec.md §4.C). It
// resolves names, lowers classes to ClassDescriptor + per-method
// Chunks, dispatches calls three ways (direct, lambda-valued, module-
// qualified), and compiles increment/decrement and compound assignment
// symmetrically for name, member, and element l-values.
package compiler

import (
	"fmt"

	"github.com/copl-lang/copl/pkg/ast"
	"github.com/copl-lang/copl/pkg/bytecode"
	"github.com/copl-lang/copl/pkg/module"
	"github.com/copl-lang/copl/pkg/value"
)

// builtinArgCounts is the fixed arity of every native procedure
// (spec.md §6). Builtins are registered as placeholder FuncRecords so
// CALL can address them uniformly with user-defined functions.
var builtinArgCounts = map[string]int{
	"print":     1,
	"println":   1,
	"input":     0,
	"debug":     1,
	"append":    2,
	"size":      1,
	"str2int":   1,
	"not_null":  1,
}

type classInfo struct {
	descriptor  *value.ClassDescriptor
	fieldType   map[string]string
	fieldOffset map[string]int
}

// Compiler holds cross-function compile-time state: class descriptors,
// a module manager fed by import statements, and the accumulating
// function table.
type Compiler struct {
	classes        map[string]*classInfo
	funcArgCount   map[string]int
	funcReturnType map[string]string
	modules        *module.Manager
	funcs          []bytecode.FuncRecord
	nextFuncID     int32
	lambdaCounter  int
}

// New creates a compiler ready to accept one Program.
func New() *Compiler {
	return &Compiler{
		classes:        make(map[string]*classInfo),
		funcArgCount:   make(map[string]int),
		funcReturnType: make(map[string]string),
		modules:        module.New(),
	}
}

// Compile lowers prog to a function table plus the module bindings
// collected from its import statements.
func (c *Compiler) Compile(prog *ast.Program) ([]bytecode.FuncRecord, *module.Manager, error) {
	c.registerBuiltins()

	var classDecls []*ast.ClassDeclaration
	var funcDecls []*ast.FunctionDeclaration
	var mainStmts []ast.Statement
	var imports []*ast.ImportStatement

	for _, stmt := range prog.Statements {
		switch s := stmt.(type) {
		case *ast.ImportStatement:
			c.modules.Bind(s.Alias, s.Path)
			imports = append(imports, s)
		case *ast.ClassDeclaration:
			classDecls = append(classDecls, s)
		case *ast.FunctionDeclaration:
			funcDecls = append(funcDecls, s)
		default:
			mainStmts = append(mainStmts, stmt)
		}
	}

	// Pass 1: register shapes (names, arities, field types) before
	// compiling any body, so forward references resolve.
	for _, cd := range classDecls {
		c.registerClass(cd)
	}
	for _, fd := range funcDecls {
		c.funcArgCount[fd.Name] = len(fd.Params)
		if fd.ReturnType != nil {
			c.funcReturnType[fd.Name] = fd.ReturnType.String()
		}
	}

	// Pass 2: compile bodies.
	for _, cd := range classDecls {
		if err := c.compileClass(cd); err != nil {
			return nil, nil, err
		}
	}
	for _, fd := range funcDecls {
		fn, err := c.compileFunction(fd, "")
		if err != nil {
			return nil, nil, err
		}
		c.funcs = append(c.funcs, fn)
	}

	mainFn, err := c.compileMain(imports, mainStmts)
	if err != nil {
		return nil, nil, err
	}
	c.funcs = append(c.funcs, mainFn)

	return c.funcs, c.modules, nil
}

func (c *Compiler) registerBuiltins() {
	for name, argc := range builtinArgCounts {
		c.funcs = append(c.funcs, bytecode.FuncRecord{
			Name:      name,
			ID:        c.allocID(),
			ArgCount:  int32(argc),
			IsBuiltin: true,
		})
		c.funcArgCount[name] = argc
	}
}

func (c *Compiler) allocID() int32 {
	id := c.nextFuncID
	c.nextFuncID++
	return id
}

func (c *Compiler) registerClass(cd *ast.ClassDeclaration) {
	descriptor := &value.ClassDescriptor{Name: cd.Name}
	fieldType := make(map[string]string, len(cd.Fields))
	fieldOffset := make(map[string]int, len(cd.Fields))
	for i, f := range cd.Fields {
		descriptor.Fields = append(descriptor.Fields, value.FieldInfo{
			Name:   f.Name,
			Type:   f.Type.String(),
			Public: f.Public,
		})
		fieldType[f.Name] = f.Type.String()
		fieldOffset[f.Name] = i
	}
	c.classes[cd.Name] = &classInfo{descriptor: descriptor, fieldType: fieldType, fieldOffset: fieldOffset}

	for _, m := range cd.Methods {
		qualified := qualifyMethod(cd.Name, m.Name)
		c.funcArgCount[qualified] = len(m.Params) + 1 // +1 for implicit this
		if m.ReturnType != nil {
			c.funcReturnType[qualified] = m.ReturnType.String()
		}
	}
}

func qualifyMethod(className, methodName string) string {
	if methodName == "constructor" {
		return className + "$constructor"
	}
	return className + "." + methodName
}

func (c *Compiler) compileClass(cd *ast.ClassDeclaration) error {
	for _, m := range cd.Methods {
		fn, err := c.compileFunction(m, cd.Name)
		if err != nil {
			return fmt.Errorf("compiling %s.%s: %w", cd.Name, m.Name, err)
		}
		c.funcs = append(c.funcs, fn)
	}
	return nil
}

// scope tracks one function body's compile-time context: its
// funcBuilder, the class it's a method of (if any), and declared local
// variable types for the lightweight static dispatch inference
// described in DESIGN.md.
type scope struct {
	fb        *funcBuilder
	className string
	varTypes  map[string]string
}

func (c *Compiler) compileFunction(fd *ast.FunctionDeclaration, className string) (bytecode.FuncRecord, error) {
	name := fd.Name
	argCount := len(fd.Params)
	paramNames := make([]string, 0, argCount+1)
	varTypes := make(map[string]string)

	if className != "" {
		name = qualifyMethod(className, fd.Name)
		paramNames = append(paramNames, "this")
		varTypes["this"] = className
		argCount++
	}
	for _, p := range fd.Params {
		paramNames = append(paramNames, p.Name)
		varTypes[p.Name] = p.Type.String()
	}

	fb := newFuncBuilder(name, argCount)
	sc := &scope{fb: fb, className: className, varTypes: varTypes}

	if err := c.compileBlock(sc, fd.Body); err != nil {
		return bytecode.FuncRecord{}, err
	}
	// Implicit fall-off-the-end return: null.
	fb.emit(bytecode.LEAVE, 0)

	if err := fb.resolveLabels(); err != nil {
		return bytecode.FuncRecord{}, err
	}

	return bytecode.FuncRecord{
		Name:     name,
		ID:       c.allocID(),
		ArgCount: int32(argCount),
		Chunk: &value.Chunk{
			Code:       fb.code,
			Constants:  fb.consts,
			Names:      fb.names,
			ParamNames: paramNames,
		},
	}, nil
}

// compileMain emits one LOAD_MODULE per bound import ahead of the
// top-level statements, so every alias a module-qualified call might
// address is registered with the module manager before first use
// (spec.md §4.E's LOAD_MODULE handler).
func (c *Compiler) compileMain(imports []*ast.ImportStatement, stmts []ast.Statement) (bytecode.FuncRecord, error) {
	fb := newFuncBuilder("main", 0)
	sc := &scope{fb: fb, varTypes: make(map[string]string)}
	for _, imp := range imports {
		fb.emit(bytecode.LOAD_MODULE, bytecode.PackModuleOperand(int(fb.nameIndex(imp.Path)), int(fb.nameIndex(imp.Alias))))
	}
	if err := c.compileBlock(sc, stmts); err != nil {
		return bytecode.FuncRecord{}, err
	}
	fb.emit(bytecode.LEAVE, 0)
	if err := fb.resolveLabels(); err != nil {
		return bytecode.FuncRecord{}, err
	}
	return bytecode.FuncRecord{
		Name:     "main",
		ID:       c.allocID(),
		ArgCount: 0,
		Chunk: &value.Chunk{
			Code:      fb.code,
			Constants: fb.consts,
			Names:     fb.names,
		},
	}, nil
}

// ---- Statements ----

func (c *Compiler) compileBlock(sc *scope, stmts []ast.Statement) error {
	for _, stmt := range stmts {
		if err := c.compileStatement(sc, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) compileStatement(sc *scope, stmt ast.Statement) error {
	fb := sc.fb
	switch s := stmt.(type) {
	case *ast.LetStatement:
		if s.Type != nil {
			sc.varTypes[s.Name] = s.Type.String()
		}
		if s.Value != nil {
			if err := c.compileExpr(sc, s.Value); err != nil {
				return err
			}
		} else {
			c.emitConst(fb, value.NullCell())
		}
		fb.emit(bytecode.SET_NAME, fb.nameIndex(s.Name))
		return nil

	case *ast.ExpressionStatement:
		if err := c.compileExpr(sc, s.Expr); err != nil {
			return err
		}
		fb.emit(bytecode.POP, 0)
		return nil

	case *ast.IfStatement:
		return c.compileIf(sc, s)

	case *ast.WhileStatement:
		return c.compileWhile(sc, s)

	case *ast.ForStatement:
		return c.compileFor(sc, s)

	case *ast.BreakStatement:
		loop, err := fb.currentLoop()
		if err != nil {
			return err
		}
		fb.emitJump(bytecode.JUMP, loop.breakLabel)
		return nil

	case *ast.ContinueStatement:
		loop, err := fb.currentLoop()
		if err != nil {
			return err
		}
		fb.emitJump(bytecode.JUMP, loop.continueLabel)
		return nil

	case *ast.ReturnStatement:
		if s.Value != nil {
			if err := c.compileExpr(sc, s.Value); err != nil {
				return err
			}
			fb.emit(bytecode.RETURN, 0)
		} else {
			fb.emit(bytecode.LEAVE, 0)
		}
		return nil

	default:
		return fmt.Errorf("compiler: unsupported statement %T", stmt)
	}
}

func (c *Compiler) compileIf(sc *scope, s *ast.IfStatement) error {
	fb := sc.fb
	elseLabel := fb.newLabel()
	endLabel := fb.newLabel()

	if err := c.compileExpr(sc, s.Condition); err != nil {
		return err
	}
	fb.emitJump(bytecode.JUMP_IF_FALSE, elseLabel)

	if err := c.compileBlock(sc, s.Then); err != nil {
		return err
	}
	fb.emitJump(bytecode.JUMP, endLabel)

	fb.markLabel(elseLabel)
	if s.Else != nil {
		if err := c.compileBlock(sc, s.Else); err != nil {
			return err
		}
	}
	fb.markLabel(endLabel)
	return nil
}

func (c *Compiler) compileWhile(sc *scope, s *ast.WhileStatement) error {
	fb := sc.fb
	startLabel := fb.newLabel()
	endLabel := fb.newLabel()

	fb.markLabel(startLabel)
	if err := c.compileExpr(sc, s.Condition); err != nil {
		return err
	}
	fb.emitJump(bytecode.JUMP_IF_FALSE, endLabel)

	fb.pushLoop(endLabel, startLabel)
	if err := c.compileBlock(sc, s.Body); err != nil {
		fb.popLoop()
		return err
	}
	fb.popLoop()

	fb.emitJump(bytecode.JUMP, startLabel)
	fb.markLabel(endLabel)
	return nil
}

func (c *Compiler) compileFor(sc *scope, s *ast.ForStatement) error {
	fb := sc.fb
	if s.Init != nil {
		if err := c.compileStatement(sc, s.Init); err != nil {
			return err
		}
	}

	startLabel := fb.newLabel()
	postLabel := fb.newLabel()
	endLabel := fb.newLabel()

	fb.markLabel(startLabel)
	if s.Condition != nil {
		if err := c.compileExpr(sc, s.Condition); err != nil {
			return err
		}
		fb.emitJump(bytecode.JUMP_IF_FALSE, endLabel)
	}

	fb.pushLoop(endLabel, postLabel)
	if err := c.compileBlock(sc, s.Body); err != nil {
		fb.popLoop()
		return err
	}
	fb.popLoop()

	fb.markLabel(postLabel)
	if s.Post != nil {
		if err := c.compileStatement(sc, s.Post); err != nil {
			return err
		}
	}
	fb.emitJump(bytecode.JUMP, startLabel)
	fb.markLabel(endLabel)
	return nil
}

// ---- Expressions ----

func (c *Compiler) emitConst(fb *funcBuilder, cell value.Cell) {
	idx := fb.addConst(cell)
	fb.emit(bytecode.LOAD_IMMEDIATE, idx)
}

func (c *Compiler) compileExpr(sc *scope, expr ast.Expression) error {
	fb := sc.fb
	switch e := expr.(type) {
	case *ast.IntegerLiteral:
		c.emitConst(fb, value.IntCell(e.Value))
		return nil
	case *ast.FloatLiteral:
		c.emitConst(fb, value.FloatCell(e.Value))
		return nil
	case *ast.StringLiteral:
		var head *value.HeapObject
		c.emitConst(fb, value.HeapCell(value.NewString(&head, e.Value)))
		return nil
	case *ast.BoolLiteral:
		c.emitConst(fb, value.BoolCell(e.Value))
		return nil
	case *ast.NullLiteral:
		c.emitConst(fb, value.NullCell())
		return nil
	case *ast.ThisExpression:
		fb.emit(bytecode.LOAD_NAME, fb.nameIndex("this"))
		return nil
	case *ast.Identifier:
		fb.emit(bytecode.LOAD_NAME, fb.nameIndex(e.Name))
		return nil
	case *ast.ArrayLiteral:
		for _, el := range e.Elements {
			if err := c.compileExpr(sc, el); err != nil {
				return err
			}
		}
		fb.emit(bytecode.NEW_ARRAY, int32(len(e.Elements)))
		return nil
	case *ast.NewExpression:
		return c.compileNew(sc, e)
	case *ast.MemberAccess:
		offset, err := c.fieldOffset(sc, e.Object, e.Field)
		if err != nil {
			return err
		}
		if err := c.compileExpr(sc, e.Object); err != nil {
			return err
		}
		fb.emit(bytecode.MEMBER_GET, offset)
		return nil
	case *ast.IndexExpression:
		if err := c.compileExpr(sc, e.Object); err != nil {
			return err
		}
		if err := c.compileExpr(sc, e.Index); err != nil {
			return err
		}
		fb.emit(bytecode.GET_ELEMENT, 0)
		return nil
	case *ast.CallExpression:
		return c.compileCall(sc, e)
	case *ast.LambdaLiteral:
		return c.compileLambda(sc, e)
	case *ast.BinaryExpression:
		return c.compileBinary(sc, e)
	case *ast.PrefixExpression:
		return c.compilePrefix(sc, e)
	case *ast.PostfixExpression:
		return c.compilePostfix(sc, e)
	case *ast.AssignExpression:
		return c.compileAssign(sc, e)
	default:
		return fmt.Errorf("compiler: unsupported expression %T", expr)
	}
}

// fieldOffset resolves obj.field to its compile-time integer offset
// into the object's field vector, inferring obj's class the same way
// compileCall resolves method receivers (spec.md §4.C: "the offset is
// obtained from the class descriptor of a's inferred type").
func (c *Compiler) fieldOffset(sc *scope, obj ast.Expression, field string) (int32, error) {
	objType := c.inferType(sc, obj)
	info, ok := c.classes[objType]
	if !ok {
		return 0, fmt.Errorf("compiler: cannot resolve field %q: receiver type unknown (copl resolves "+
			"field access statically — annotate the receiver's declared type)", field)
	}
	offset, ok := info.fieldOffset[field]
	if !ok {
		return 0, fmt.Errorf("compiler: class %q has no field %q", objType, field)
	}
	return int32(offset), nil
}

func (c *Compiler) compileNew(sc *scope, e *ast.NewExpression) error {
	fb := sc.fb
	info, ok := c.classes[e.ClassName]
	if !ok {
		return fmt.Errorf("compiler: unknown class %q", e.ClassName)
	}
	fb.emit(bytecode.NEW_OBJECT, int32(len(info.descriptor.Fields)))

	if _, hasCtor := c.funcArgCount[qualifyMethod(e.ClassName, "constructor")]; hasCtor {
		fb.emit(bytecode.DUP, 0) // keep the instance as the new-expression's value
		// Reversed-arg-pop convention: push `this` first (bottom), then
		// args left-to-right; the callee pops in reverse.
		for _, a := range e.Args {
			if err := c.compileExpr(sc, a); err != nil {
				return err
			}
		}
		fb.emit(bytecode.CALL, fb.nameIndex(qualifyMethod(e.ClassName, "constructor")))
		fb.emit(bytecode.POP, 0) // discard the constructor's own return value
	}
	return nil
}

var binaryOps = map[string]bytecode.Opcode{
	"+": bytecode.ADD, "-": bytecode.SUB, "*": bytecode.MUL, "/": bytecode.DIV, "%": bytecode.MOD,
	"<<": bytecode.SHL, ">>": bytecode.SHR, "&": bytecode.BAND, "|": bytecode.BOR,
	"==": bytecode.EQ, "!=": bytecode.NEQ, "<": bytecode.LT, "<=": bytecode.LE,
	">": bytecode.GT, ">=": bytecode.GE, "&&": bytecode.AND, "||": bytecode.OR,
}

func (c *Compiler) compileBinary(sc *scope, e *ast.BinaryExpression) error {
	fb := sc.fb
	if err := c.compileExpr(sc, e.Left); err != nil {
		return err
	}
	if err := c.compileExpr(sc, e.Right); err != nil {
		return err
	}
	op, ok := binaryOps[e.Op]
	if !ok {
		return fmt.Errorf("compiler: unsupported binary operator %q", e.Op)
	}
	fb.emit(op, 0)
	return nil
}

func (c *Compiler) compilePrefix(sc *scope, e *ast.PrefixExpression) error {
	fb := sc.fb
	switch e.Op {
	case "++", "--":
		return c.compileIncDec(sc, e.Operand, e.Op, true)
	case "!":
		if err := c.compileExpr(sc, e.Operand); err != nil {
			return err
		}
		fb.emit(bytecode.NOT, 0)
		return nil
	case "-":
		if err := c.compileExpr(sc, e.Operand); err != nil {
			return err
		}
		fb.emit(bytecode.NEG, 0)
		return nil
	case "~":
		if err := c.compileExpr(sc, e.Operand); err != nil {
			return err
		}
		fb.emit(bytecode.BNOT, 0)
		return nil
	default:
		return fmt.Errorf("compiler: unsupported prefix operator %q", e.Op)
	}
}

func (c *Compiler) compilePostfix(sc *scope, e *ast.PostfixExpression) error {
	return c.compileIncDec(sc, e.Operand, e.Op, false)
}

// compileIncDec implements pre/post ++/-- uniformly across name,
// member, and element l-values, re-evaluating the receiver (and index,
// for elements) exactly once via hidden temp locals. This is the fix
// for the spec's post-decrement-on-member bug (DESIGN.md Open Question
// 1): every l-value shape re-evaluates its receiver a single time
// regardless of pre/post form, so the two forms only ever differ in
// which of the two stack values (old vs. new) survives as the
// expression's result.
func (c *Compiler) compileIncDec(sc *scope, target ast.Expression, op string, isPrefix bool) error {
	fb := sc.fb
	deltaOp := bytecode.ADD
	if op == "--" {
		deltaOp = bytecode.SUB
	}

	switch t := target.(type) {
	case *ast.Identifier:
		nameIdx := fb.nameIndex(t.Name)
		fb.emit(bytecode.LOAD_NAME, nameIdx)
		if isPrefix {
			c.emitConst(fb, value.IntCell(1))
			fb.emit(deltaOp, 0)
			fb.emit(bytecode.DUP, 0)
			fb.emit(bytecode.SET_NAME, nameIdx)
		} else {
			fb.emit(bytecode.DUP, 0)
			c.emitConst(fb, value.IntCell(1))
			fb.emit(deltaOp, 0)
			fb.emit(bytecode.SET_NAME, nameIdx)
		}
		return nil

	case *ast.MemberAccess:
		offset, err := c.fieldOffset(sc, t.Object, t.Field)
		if err != nil {
			return err
		}
		tmpObj := c.freshTemp(fb)
		if err := c.compileExpr(sc, t.Object); err != nil {
			return err
		}
		fb.emit(bytecode.SET_NAME, fb.nameIndex(tmpObj))

		fb.emit(bytecode.LOAD_NAME, fb.nameIndex(tmpObj))
		fb.emit(bytecode.MEMBER_GET, offset)

		if isPrefix {
			c.emitConst(fb, value.IntCell(1))
			fb.emit(deltaOp, 0)
			fb.emit(bytecode.DUP, 0)
		} else {
			fb.emit(bytecode.DUP, 0)
			c.emitConst(fb, value.IntCell(1))
			fb.emit(deltaOp, 0)
		}
		fb.emit(bytecode.LOAD_NAME, fb.nameIndex(tmpObj))
		fb.emit(bytecode.SWAP, 0)
		fb.emit(bytecode.MEMBER_SET, offset)
		return nil

	case *ast.IndexExpression:
		tmpObj := c.freshTemp(fb)
		tmpIdx := c.freshTemp(fb)
		if err := c.compileExpr(sc, t.Object); err != nil {
			return err
		}
		fb.emit(bytecode.SET_NAME, fb.nameIndex(tmpObj))
		if err := c.compileExpr(sc, t.Index); err != nil {
			return err
		}
		fb.emit(bytecode.SET_NAME, fb.nameIndex(tmpIdx))

		fb.emit(bytecode.LOAD_NAME, fb.nameIndex(tmpObj))
		fb.emit(bytecode.LOAD_NAME, fb.nameIndex(tmpIdx))
		fb.emit(bytecode.GET_ELEMENT, 0)

		if isPrefix {
			c.emitConst(fb, value.IntCell(1))
			fb.emit(deltaOp, 0)
			fb.emit(bytecode.DUP, 0)
		} else {
			fb.emit(bytecode.DUP, 0)
			c.emitConst(fb, value.IntCell(1))
			fb.emit(deltaOp, 0)
		}
		fb.emit(bytecode.LOAD_NAME, fb.nameIndex(tmpObj))
		fb.emit(bytecode.LOAD_NAME, fb.nameIndex(tmpIdx))
		fb.emit(bytecode.ROT, 0)
		fb.emit(bytecode.SET_ELEMENT, 0)
		return nil

	default:
		return fmt.Errorf("compiler: cannot increment/decrement %T", target)
	}
}

func (c *Compiler) freshTemp(fb *funcBuilder) string {
	fb.labelCounter++
	return fmt.Sprintf("$tmp%d", fb.labelCounter)
}

var compoundOps = map[string]bytecode.Opcode{
	"+=": bytecode.ADD, "-=": bytecode.SUB, "*=": bytecode.MUL, "/=": bytecode.DIV, "%=": bytecode.MOD,
}

func (c *Compiler) compileAssign(sc *scope, e *ast.AssignExpression) error {
	fb := sc.fb

	switch t := e.Target.(type) {
	case *ast.Identifier:
		nameIdx := fb.nameIndex(t.Name)
		if e.Op == "=" {
			if err := c.compileExpr(sc, e.Value); err != nil {
				return err
			}
		} else {
			fb.emit(bytecode.LOAD_NAME, nameIdx)
			if err := c.compileExpr(sc, e.Value); err != nil {
				return err
			}
			op, ok := compoundOps[e.Op]
			if !ok {
				return fmt.Errorf("compiler: unsupported compound operator %q", e.Op)
			}
			fb.emit(op, 0)
		}
		fb.emit(bytecode.DUP, 0)
		fb.emit(bytecode.SET_NAME, nameIdx)
		return nil

	case *ast.MemberAccess:
		offset, err := c.fieldOffset(sc, t.Object, t.Field)
		if err != nil {
			return err
		}
		tmpObj := c.freshTemp(fb)
		if err := c.compileExpr(sc, t.Object); err != nil {
			return err
		}
		fb.emit(bytecode.SET_NAME, fb.nameIndex(tmpObj))

		if e.Op == "=" {
			if err := c.compileExpr(sc, e.Value); err != nil {
				return err
			}
		} else {
			fb.emit(bytecode.LOAD_NAME, fb.nameIndex(tmpObj))
			fb.emit(bytecode.MEMBER_GET, offset)
			if err := c.compileExpr(sc, e.Value); err != nil {
				return err
			}
			op, ok := compoundOps[e.Op]
			if !ok {
				return fmt.Errorf("compiler: unsupported compound operator %q", e.Op)
			}
			fb.emit(op, 0)
		}
		fb.emit(bytecode.DUP, 0)
		fb.emit(bytecode.LOAD_NAME, fb.nameIndex(tmpObj))
		fb.emit(bytecode.SWAP, 0)
		fb.emit(bytecode.MEMBER_SET, offset)
		return nil

	case *ast.IndexExpression:
		tmpObj := c.freshTemp(fb)
		tmpIdx := c.freshTemp(fb)
		if err := c.compileExpr(sc, t.Object); err != nil {
			return err
		}
		fb.emit(bytecode.SET_NAME, fb.nameIndex(tmpObj))
		if err := c.compileExpr(sc, t.Index); err != nil {
			return err
		}
		fb.emit(bytecode.SET_NAME, fb.nameIndex(tmpIdx))

		if e.Op == "=" {
			if err := c.compileExpr(sc, e.Value); err != nil {
				return err
			}
		} else {
			fb.emit(bytecode.LOAD_NAME, fb.nameIndex(tmpObj))
			fb.emit(bytecode.LOAD_NAME, fb.nameIndex(tmpIdx))
			fb.emit(bytecode.GET_ELEMENT, 0)
			if err := c.compileExpr(sc, e.Value); err != nil {
				return err
			}
			op, ok := compoundOps[e.Op]
			if !ok {
				return fmt.Errorf("compiler: unsupported compound operator %q", e.Op)
			}
			fb.emit(op, 0)
		}
		fb.emit(bytecode.DUP, 0)
		fb.emit(bytecode.LOAD_NAME, fb.nameIndex(tmpObj))
		fb.emit(bytecode.LOAD_NAME, fb.nameIndex(tmpIdx))
		fb.emit(bytecode.ROT, 0)
		fb.emit(bytecode.SET_ELEMENT, 0)
		return nil

	default:
		return fmt.Errorf("compiler: cannot assign to %T", e.Target)
	}
}

// inferType performs the lightweight static type inference the
// compiler uses to resolve obj.method(...) to a direct CALL at compile
// time (DESIGN.md's documented Open-Question-adjacent design decision:
// copl has no runtime vtable, so method dispatch is resolved from
// declared/inferred types, matching `let x: Type` and parameter type
// annotations already present in the grammar).
func (c *Compiler) inferType(sc *scope, expr ast.Expression) string {
	switch e := expr.(type) {
	case *ast.Identifier:
		return sc.varTypes[e.Name]
	case *ast.ThisExpression:
		return sc.className
	case *ast.NewExpression:
		return e.ClassName
	case *ast.MemberAccess:
		objType := c.inferType(sc, e.Object)
		if info, ok := c.classes[objType]; ok {
			return info.fieldType[e.Field]
		}
		return ""
	case *ast.CallExpression:
		if id, ok := e.Callee.(*ast.Identifier); ok {
			return c.funcReturnType[id.Name]
		}
		if ma, ok := e.Callee.(*ast.MemberAccess); ok {
			objType := c.inferType(sc, ma.Object)
			if _, isClass := c.classes[objType]; isClass {
				return c.funcReturnType[qualifyMethod(objType, ma.Field)]
			}
		}
		return ""
	default:
		return ""
	}
}

func (c *Compiler) compileCall(sc *scope, e *ast.CallExpression) error {
	fb := sc.fb

	switch callee := e.Callee.(type) {
	case *ast.Identifier:
		// Direct call: a known function/builtin name.
		if _, ok := c.funcArgCount[callee.Name]; ok {
			for _, a := range e.Args {
				if err := c.compileExpr(sc, a); err != nil {
					return err
				}
			}
			fb.emit(bytecode.CALL, fb.nameIndex(callee.Name))
			return nil
		}
		// Otherwise: a local holding a lambda value (indirect call).
		for _, a := range e.Args {
			if err := c.compileExpr(sc, a); err != nil {
				return err
			}
		}
		fb.emit(bytecode.LOAD_NAME, fb.nameIndex(callee.Name))
		fb.emit(bytecode.SPECIAL_CALL, int32(len(e.Args)))
		return nil

	case *ast.MemberAccess:
		if alias, ok := callee.Object.(*ast.Identifier); ok {
			if _, isModule := c.modules.PathFor(alias.Name); isModule {
				for _, a := range e.Args {
					if err := c.compileExpr(sc, a); err != nil {
						return err
					}
				}
				fb.emit(bytecode.LOAD_MODULE_METHOD,
					bytecode.PackModuleMethodOperand(int(fb.nameIndex(alias.Name)), int(fb.nameIndex(callee.Field))))
				fb.emit(bytecode.SPECIAL_CALL, int32(len(e.Args)))
				return nil
			}
		}

		objType := c.inferType(sc, callee.Object)
		if _, isClass := c.classes[objType]; isClass {
			qualified := qualifyMethod(objType, callee.Field)
			if err := c.compileExpr(sc, callee.Object); err != nil {
				return err
			}
			for _, a := range e.Args {
				if err := c.compileExpr(sc, a); err != nil {
					return err
				}
			}
			fb.emit(bytecode.CALL, fb.nameIndex(qualified))
			return nil
		}

		return fmt.Errorf("compiler: cannot resolve method call %q: receiver type unknown (copl resolves "+
			"method dispatch statically — annotate the receiver's declared type)", callee.Field)

	default:
		return fmt.Errorf("compiler: unsupported call target %T", e.Callee)
	}
}

// compileLambda registers the lambda body as an anonymous top-level
// function (no captured environment, spec.md §4.C/§9: free variables
// inside the body resolve as globals, exactly like any other
// function) and pushes a RawPointer reference to it.
func (c *Compiler) compileLambda(sc *scope, e *ast.LambdaLiteral) error {
	name := fmt.Sprintf("$lambda%d", c.lambdaCounter)
	c.lambdaCounter++

	fd := &ast.FunctionDeclaration{Name: name, Params: e.Params, ReturnType: e.ReturnType, Body: e.Body}
	c.funcArgCount[name] = len(e.Params)
	if e.ReturnType != nil {
		c.funcReturnType[name] = e.ReturnType.String()
	}

	fn, err := c.compileFunction(fd, "")
	if err != nil {
		return err
	}
	fn.Name = name
	c.funcs = append(c.funcs, fn)

	sc.fb.emit(bytecode.LOAD_FUNC_ADDR, sc.fb.nameIndex(name))
	return nil
}
