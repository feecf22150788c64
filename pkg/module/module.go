// Package module implements copl's module manager (spec.md §3/§4.D): it
// binds import aliases at compile time and resolves them to a decoded
// function table at VM runtime.
package module

import (
	"fmt"
	"os"

	"github.com/copl-lang/copl/pkg/bytecode"
)

// Module is a loaded .copl file's function table, reachable by the
// alias it was imported under.
type Module struct {
	Alias string
	Path  string
	Funcs map[string]bytecode.FuncRecord
}

// Manager tracks alias -> path bindings from `import` statements, and
// caches decoded modules once the VM loads them.
type Manager struct {
	bindings map[string]string
	loaded   map[string]*Module
}

// New creates an empty module manager.
func New() *Manager {
	return &Manager{
		bindings: make(map[string]string),
		loaded:   make(map[string]*Module),
	}
}

// Bind records path as the target of alias. Called once per AST
// ImportStatement during compilation (spec.md §4.D).
func (m *Manager) Bind(alias, path string) {
	m.bindings[alias] = path
}

// Aliases returns every bound alias, in no particular order.
func (m *Manager) Aliases() []string {
	out := make([]string, 0, len(m.bindings))
	for a := range m.bindings {
		out = append(out, a)
	}
	return out
}

// PathFor returns the path bound to alias, or ok=false if unbound.
func (m *Manager) PathFor(alias string) (string, bool) {
	p, ok := m.bindings[alias]
	return p, ok
}

// Load resolves alias to its decoded function table, reading and
// caching the target .copl file on first use. Called by the VM's
// LOAD_MODULE handler at runtime (spec.md §4.E).
func (m *Manager) Load(alias string) (*Module, error) {
	if mod, ok := m.loaded[alias]; ok {
		return mod, nil
	}

	path, ok := m.bindings[alias]
	if !ok {
		return nil, fmt.Errorf("module: no import bound to alias %q", alias)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("module: opening %q for alias %q: %w", path, alias, err)
	}
	defer f.Close()

	records, err := bytecode.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("module: decoding %q for alias %q: %w", path, alias, err)
	}

	funcs := make(map[string]bytecode.FuncRecord, len(records))
	for _, r := range records {
		funcs[r.Name] = r
	}

	mod := &Module{Alias: alias, Path: path, Funcs: funcs}
	m.loaded[alias] = mod
	return mod, nil
}

// Method looks up a function record by name within an already-loaded
// module, used by LOAD_MODULE_METHOD.
func (mod *Module) Method(name string) (bytecode.FuncRecord, error) {
	fn, ok := mod.Funcs[name]
	if !ok {
		return bytecode.FuncRecord{}, fmt.Errorf("module %q has no method %q", mod.Alias, name)
	}
	return fn, nil
}
