package lua

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// Script entry points a plugin may define.
const (
	FnManifest   = "manifest"
	FnActivate   = "activate"
	FnDeactivate = "deactivate"
)

// HostModuleName is the global under which the host API is exposed to
// scripts.
const HostModuleName = "host"

// Runtime is one loaded script plugin: a sandboxed interpreter with the
// plugin's source already executed. All entry points are optional; a
// script with none of them is a valid, inert plugin.
type Runtime struct {
	state *State
	path  string
}

// OpenFile creates a runtime and runs the script at path. The script's
// top level executes immediately; its entry functions are looked up,
// not called.
func OpenFile(path string) (*Runtime, error) {
	state := NewState()
	if err := state.DoFile(path); err != nil {
		state.Close()
		return nil, fmt.Errorf("failed to run %s: %w", path, err)
	}
	return &Runtime{state: state, path: path}, nil
}

// Path returns the script file the runtime was opened from.
func (r *Runtime) Path() string {
	return r.path
}

// RegisterHostModule installs the host API before activation. Each entry
// becomes a function on the global host table.
func (r *Runtime) RegisterHostModule(funcs map[string]GoFunc) {
	wrapped := make(map[string]lua.LGFunction, len(funcs))
	for name, fn := range funcs {
		wrapped[name] = Wrap(fn)
	}
	r.state.RegisterModule(HostModuleName, wrapped)
}

// Manifest calls the script's manifest() entry and decodes its table.
// Returns nil without error when the script defines no manifest.
func (r *Runtime) Manifest() (map[string]any, error) {
	if !r.state.HasGlobalFunc(FnManifest) {
		return nil, nil
	}
	results, err := r.state.Call(FnManifest)
	if err != nil {
		return nil, fmt.Errorf("manifest() failed: %w", err)
	}
	if len(results) == 0 || results[0] == lua.LNil {
		return nil, nil
	}
	m, ok := ToGo(results[0]).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("manifest() must return a table, got %s", results[0].Type())
	}
	return m, nil
}

// Activate calls the script's activate() entry, if defined.
func (r *Runtime) Activate() error {
	if !r.state.HasGlobalFunc(FnActivate) {
		return nil
	}
	if _, err := r.state.Call(FnActivate); err != nil {
		return fmt.Errorf("activate() failed: %w", err)
	}
	return nil
}

// Deactivate calls the script's deactivate() entry, if defined.
func (r *Runtime) Deactivate() error {
	if !r.state.HasGlobalFunc(FnDeactivate) {
		return nil
	}
	if _, err := r.state.Call(FnDeactivate); err != nil {
		return fmt.Errorf("deactivate() failed: %w", err)
	}
	return nil
}

// HasGlobal reports whether the script defines a callable global.
func (r *Runtime) HasGlobal(name string) bool {
	return r.state.HasGlobalFunc(name)
}

// CallGlobal invokes a script-defined global function with Go arguments.
// Used for event dispatch into the script.
func (r *Runtime) CallGlobal(name string, args ...any) error {
	r.state.mu.Lock()
	lvals := make([]lua.LValue, len(args))
	for i, arg := range args {
		lvals[i] = ToLua(r.state.L, arg)
	}
	r.state.mu.Unlock()

	_, err := r.state.Call(name, lvals...)
	return err
}

// Close releases the interpreter.
func (r *Runtime) Close() error {
	return r.state.Close()
}
