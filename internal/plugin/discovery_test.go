package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func writePluginDir(t *testing.T, base, name, manifest string, extra ...string) string {
	t.Helper()
	dir := filepath.Join(base, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if manifest != "" {
		if err := os.WriteFile(filepath.Join(dir, "plugin.json"), []byte(manifest), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	for _, name := range extra {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("-- empty\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func newTestDiscovery(t *testing.T, paths ...string) (*Discovery, *Registry) {
	t.Helper()
	reg := NewRegistry(zerolog.Nop())
	d := NewDiscovery(reg, NewRegistrationResolver(), WithPluginPaths(paths...))
	return d, reg
}

func TestDiscoverManifestDirectory(t *testing.T) {
	base := t.TempDir()
	writePluginDir(t, base, "fmt",
		`{"id": "acme.fmt", "name": "Fmt", "version": "1.0.0"}`, "init.lua")

	d, reg := newTestDiscovery(t, base)
	found := d.DiscoverAll()

	if len(found) != 1 {
		t.Fatalf("discovered %d plugins, want 1", len(found))
	}
	info, ok := reg.Get("acme.fmt")
	if !ok {
		t.Fatal("acme.fmt not registered")
	}
	if info.State != StateDiscovered {
		t.Errorf("state = %s, want discovered", info.State)
	}
	if info.Origin.Kind != OriginDirectory {
		t.Errorf("origin = %s, want directory", info.Origin.Kind)
	}
}

func TestDiscoverBareInitLua(t *testing.T) {
	base := t.TempDir()
	writePluginDir(t, base, "simple", "", "init.lua")

	d, reg := newTestDiscovery(t, base)
	d.DiscoverAll()

	info, ok := reg.Get("simple")
	if !ok {
		t.Fatal("bare init.lua plugin not registered")
	}
	if info.Metadata.Version != PlaceholderVersion {
		t.Errorf("version = %q, want placeholder", info.Metadata.Version)
	}
}

func TestDiscoverSingleFilePlugin(t *testing.T) {
	base := t.TempDir()
	if err := os.WriteFile(filepath.Join(base, "greeter.lua"), []byte("-- empty\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	d, reg := newTestDiscovery(t, base)
	d.DiscoverAll()

	info, ok := reg.Get("greeter")
	if !ok {
		t.Fatal("single-file plugin not registered")
	}
	if info.Origin.Kind != OriginFile {
		t.Errorf("origin = %s, want file", info.Origin.Kind)
	}
}

func TestDiscoverMalformedManifestDropped(t *testing.T) {
	base := t.TempDir()
	writePluginDir(t, base, "bad", `{"id": "NOT VALID"}`, "init.lua")
	writePluginDir(t, base, "good",
		`{"id": "acme.good", "name": "Good", "version": "1.0.0"}`, "init.lua")

	d, reg := newTestDiscovery(t, base)
	d.DiscoverAll()

	if _, ok := reg.Get("bad"); ok {
		t.Error("malformed manifest dir registered; a broken manifest must not fall back to init.lua")
	}
	if _, ok := reg.Get("acme.good"); !ok {
		t.Error("healthy sibling dropped by malformed neighbor")
	}
}

func TestDiscoverFirstPathWins(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writePluginDir(t, first, "dup",
		`{"id": "acme.dup", "name": "First", "version": "1.0.0"}`, "init.lua")
	writePluginDir(t, second, "dup",
		`{"id": "acme.dup", "name": "Second", "version": "2.0.0"}`, "init.lua")

	d, reg := newTestDiscovery(t, first, second)
	d.DiscoverAll()

	info, _ := reg.Get("acme.dup")
	if info.Metadata.Name != "First" {
		t.Errorf("winner = %q, want the first search path's candidate", info.Metadata.Name)
	}
}

func TestDiscoverExternalBeforePathsBeforeBuiltins(t *testing.T) {
	base := t.TempDir()
	writePluginDir(t, base, "dup",
		`{"id": "acme.dup", "name": "FromDisk", "version": "1.0.0"}`, "init.lua")

	d, reg := newTestDiscovery(t, base)
	d.RegisterExternal("acme.dup", func() (Instance, error) { return nil, nil })
	d.RegisterBuiltin(&Metadata{ID: "acme.builtin", Name: "B", Version: "1.0.0"},
		func() (Instance, error) { return nil, nil })
	d.DiscoverAll()

	info, _ := reg.Get("acme.dup")
	if info.Origin.Kind != OriginExternal {
		t.Errorf("origin = %s, want external registration to win", info.Origin.Kind)
	}
	if _, ok := reg.Get("acme.builtin"); !ok {
		t.Error("builtin not registered")
	}
}

func TestDiscoverRerunIsIdempotent(t *testing.T) {
	base := t.TempDir()
	writePluginDir(t, base, "one",
		`{"id": "acme.one", "name": "One", "version": "1.0.0"}`, "init.lua")

	d, reg := newTestDiscovery(t, base)
	d.DiscoverAll()
	second := d.DiscoverAll()

	if len(second) != 0 {
		t.Errorf("re-run registered %d plugins, want 0", len(second))
	}
	if reg.Count() != 1 {
		t.Errorf("Count() = %d after re-run, want 1", reg.Count())
	}
}

func TestDiscoverMissingPathIgnored(t *testing.T) {
	d, reg := newTestDiscovery(t, filepath.Join(t.TempDir(), "does-not-exist"))
	d.DiscoverAll()
	if reg.Count() != 0 {
		t.Errorf("Count() = %d, want 0", reg.Count())
	}
}
