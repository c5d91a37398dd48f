package lua

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// State wraps a sandboxed gopher-lua interpreter. Only the safe standard
// libraries are opened; io, os, debug and package loading from disk are
// withheld, so the script can touch the outside world only through the
// host module the loader registers.
type State struct {
	mu     sync.Mutex
	L      *lua.LState
	closed bool
}

// NewState creates a sandboxed interpreter.
func NewState() *State {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	s := &State{L: L}
	s.restrict()
	return s
}

// restrict removes the escape hatches the base library leaves open.
func (s *State) restrict() {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		s.L.SetGlobal(name, lua.LNil)
	}

	// No module loading from disk.
	if pkg, ok := s.L.GetGlobal("package").(*lua.LTable); ok {
		s.L.SetField(pkg, "path", lua.LString(""))
		s.L.SetField(pkg, "cpath", lua.LString(""))
	}

	safeModules := map[string]bool{"string": true, "table": true, "math": true}
	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if !safeModules[name] {
			L.RaiseError("module %q is not available", name)
			return 0
		}
		L.Push(L.GetGlobal(name))
		return 1
	}))
}

// DoFile runs a Lua file to completion, recovering interpreter panics.
func (s *State) DoFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}
	return recovered(func() error {
		return s.L.DoFile(path)
	})
}

// DoString runs Lua source to completion, recovering interpreter panics.
func (s *State) DoString(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}
	return recovered(func() error {
		return s.L.DoString(code)
	})
}

// HasGlobalFunc reports whether a global with the given name exists and
// is callable.
func (s *State) HasGlobalFunc(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	return s.L.GetGlobal(name).Type() == lua.LTFunction
}

// Call invokes a global function and returns its results. Calling a
// missing global is an error; use HasGlobalFunc to check first.
func (s *State) Call(fn string, args ...lua.LValue) ([]lua.LValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStateClosed
	}

	fnVal := s.L.GetGlobal(fn)
	if fnVal.Type() != lua.LTFunction {
		return nil, fmt.Errorf("%w: %s (%s)", ErrNotFunction, fn, fnVal.Type())
	}

	top := s.L.GetTop()
	s.L.Push(fnVal)
	for _, arg := range args {
		s.L.Push(arg)
	}

	err := recovered(func() error {
		return s.L.PCall(len(args), lua.MultRet, nil)
	})
	if err != nil {
		return nil, err
	}

	nret := s.L.GetTop() - top
	if nret <= 0 {
		return nil, nil
	}
	results := make([]lua.LValue, nret)
	for i := 0; i < nret; i++ {
		results[i] = s.L.Get(top + i + 1)
	}
	s.L.Pop(nret)
	return results, nil
}

// RegisterModule installs a table of Go functions as a global module.
func (s *State) RegisterModule(name string, funcs map[string]lua.LGFunction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	mod := s.L.SetFuncs(s.L.NewTable(), funcs)
	s.L.SetGlobal(name, mod)
}

// Closed reports whether Close has been called.
func (s *State) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the interpreter. Idempotent.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.L.Close()
	s.closed = true
	return nil
}

// recovered converts an interpreter panic into an error.
func recovered(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}
