package lua

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeScript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "init.lua")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestStateRunsSafeCode(t *testing.T) {
	s := NewState()
	defer s.Close()

	if err := s.DoString(`x = 1 + 1`); err != nil {
		t.Fatalf("DoString: %v", err)
	}
	if err := s.DoString(`s = string.upper("abc"); t = {1, 2, 3}; m = math.max(1, 2)`); err != nil {
		t.Fatalf("safe libraries unavailable: %v", err)
	}
}

func TestStateBlocksEscapeHatches(t *testing.T) {
	s := NewState()
	defer s.Close()

	for _, code := range []string{
		`dofile("/etc/passwd")`,
		`loadfile("x")`,
		`load("return 1")()`,
		`require("io")`,
		`require("os")`,
		`io.open("/etc/passwd")`,
		`os.execute("true")`,
	} {
		if err := s.DoString(code); err == nil {
			t.Errorf("%q executed, want sandbox rejection", code)
		}
	}
}

func TestStateSafeRequire(t *testing.T) {
	s := NewState()
	defer s.Close()

	if err := s.DoString(`local str = require("string"); v = str.lower("ABC")`); err != nil {
		t.Fatalf("require(string): %v", err)
	}
}

func TestStateCall(t *testing.T) {
	s := NewState()
	defer s.Close()

	if err := s.DoString(`function add(a, b) return a + b end`); err != nil {
		t.Fatal(err)
	}

	results, err := s.Call("add", ToLua(s.L, 2), ToLua(s.L, 3))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(results) != 1 || ToGo(results[0]) != int64(5) {
		t.Errorf("add(2, 3) = %v", results)
	}

	if _, err := s.Call("missing"); !errors.Is(err, ErrNotFunction) {
		t.Errorf("Call(missing): %v, want ErrNotFunction", err)
	}
}

func TestStateClosed(t *testing.T) {
	s := NewState()
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("double close: %v", err)
	}
	if err := s.DoString(`x = 1`); !errors.Is(err, ErrStateClosed) {
		t.Errorf("DoString after close: %v, want ErrStateClosed", err)
	}
	if s.HasGlobalFunc("anything") {
		t.Error("closed state reports globals")
	}
}

func TestOpenFileAndManifest(t *testing.T) {
	path := writeScript(t, `
function manifest()
  return {
    name = "Greeter",
    version = "1.2.0",
    description = "Says hello",
    capabilities = {"greeting"},
    dependencies = {"acme.base@>=1.0.0"},
  }
end
`)

	r, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer r.Close()

	desc, err := r.Manifest()
	if err != nil {
		t.Fatalf("Manifest: %v", err)
	}
	if StringField(desc, "name") != "Greeter" || StringField(desc, "version") != "1.2.0" {
		t.Errorf("descriptor = %v", desc)
	}
	caps := StringSliceField(desc, "capabilities")
	if len(caps) != 1 || caps[0] != "greeting" {
		t.Errorf("capabilities = %v", caps)
	}
}

func TestOpenFileWithoutManifest(t *testing.T) {
	r, err := OpenFile(writeScript(t, `x = 1`))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	desc, err := r.Manifest()
	if err != nil {
		t.Fatalf("Manifest: %v", err)
	}
	if desc != nil {
		t.Errorf("descriptor = %v, want nil for script without manifest()", desc)
	}
}

func TestOpenFileSyntaxError(t *testing.T) {
	if _, err := OpenFile(writeScript(t, `this is not lua`)); err == nil {
		t.Fatal("OpenFile accepted a broken script")
	}
}

func TestActivateDeactivateOptional(t *testing.T) {
	// A script with no entry points at all is a valid, inert plugin.
	r, err := OpenFile(writeScript(t, `x = 1`))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if err := r.Activate(); err != nil {
		t.Errorf("Activate without entry: %v", err)
	}
	if err := r.Deactivate(); err != nil {
		t.Errorf("Deactivate without entry: %v", err)
	}
}

func TestHostModuleAndLifecycle(t *testing.T) {
	path := writeScript(t, `
started = false
function activate()
  host.ping("hello")
  started = true
end
function deactivate()
  started = false
end
`)

	r, err := OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	var pinged string
	r.RegisterHostModule(map[string]GoFunc{
		"ping": func(args []any) (any, error) {
			if len(args) > 0 {
				pinged, _ = args[0].(string)
			}
			return nil, nil
		},
	})

	if err := r.Activate(); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if pinged != "hello" {
		t.Errorf("host call argument = %q", pinged)
	}
	if err := r.Deactivate(); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
}

func TestHostFuncErrorSurfacesInScript(t *testing.T) {
	path := writeScript(t, `
function activate()
  host.fail()
end
`)
	r, err := OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	r.RegisterHostModule(map[string]GoFunc{
		"fail": func([]any) (any, error) {
			return nil, errors.New("denied")
		},
	})

	if err := r.Activate(); err == nil {
		t.Fatal("Activate succeeded, want host error to fail the script")
	}
}

func TestCallGlobalDispatch(t *testing.T) {
	path := writeScript(t, `
seen = {}
function on_event(type, ev)
  seen[#seen + 1] = type .. ":" .. ev.payload.detail
end
function count()
  return #seen
end
`)
	r, err := OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if !r.HasGlobal("on_event") {
		t.Fatal("on_event not detected")
	}
	err = r.CallGlobal("on_event", "test.fired", map[string]any{
		"payload": map[string]any{"detail": "ok"},
	})
	if err != nil {
		t.Fatalf("CallGlobal: %v", err)
	}

	results, err := r.state.Call("count")
	if err != nil {
		t.Fatal(err)
	}
	if got := ToGo(results[0]); got != int64(1) {
		t.Errorf("handler ran %v times, want 1", got)
	}
}
