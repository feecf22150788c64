package vm

import (
	"fmt"
	"strings"

	"github.com/copl-lang/copl/pkg/value"
)

// StackFrameInfo is one entry in a RuntimeError's captured trace.
type StackFrameInfo struct {
	FuncName string
	PC       int
}

// RuntimeError reports a fatal failure during bytecode execution along
// with the call-stack trace active at the point of failure (spec.md
// §7: all runtime errors are fatal; reimplementers may raise structured
// errors instead of calling os.Exit directly, provided CLI exit
// semantics match — see cmd/copl).
type RuntimeError struct {
	Message    string
	StackTrace []StackFrameInfo
}

func (e *RuntimeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "runtime error: %s", e.Message)
	for _, f := range e.StackTrace {
		fmt.Fprintf(&b, "\n  at %s (pc=%d)", f.FuncName, f.PC)
	}
	return b.String()
}

func (vm *VM) runtimeErrorf(format string, args ...interface{}) *RuntimeError {
	return &RuntimeError{
		Message:    fmt.Sprintf(format, args...),
		StackTrace: vm.captureTrace(),
	}
}

func (vm *VM) captureTrace() []StackFrameInfo {
	trace := make([]StackFrameInfo, 0, len(vm.callStack))
	for i := len(vm.callStack) - 1; i >= 0; i-- {
		f := vm.callStack[i]
		pc := 0
		if sf, ok := f.(*value.ScriptFrame); ok {
			pc = sf.PC
		}
		trace = append(trace, StackFrameInfo{FuncName: f.Meta().Name, PC: pc})
	}
	return trace
}
