package plugin

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

const jsonManifest = `{
  "id": "acme.formatter",
  "name": "Formatter",
  "version": "1.2.0",
  "description": "Formats things",
  "main": "fmt.lua",
  "capabilities": ["formatter"],
  "dependencies": ["acme.base@>=1.0.0", "acme.extra?"],
  "activationEvents": ["onStartup"],
  "permissions": [
    {"category": "filesystem", "scope": "read", "resource": "/workspace/*"}
  ],
  "resourceLimits": {"memoryMb": 64, "cpuPercent": 10},
  "configSchema": {
    "indent": {"type": "number", "default": 4},
    "style": {"type": "string", "enum": ["tabs", "spaces"]}
  }
}`

func TestLoadManifestJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "plugin.json", jsonManifest)

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if m.ID != "acme.formatter" || m.Version != "1.2.0" || m.Main != "fmt.lua" {
		t.Errorf("unexpected manifest: %+v", m)
	}
	if m.Path() != dir {
		t.Errorf("Path() = %q, want %q", m.Path(), dir)
	}
	if got := m.MainPath(); got != filepath.Join(dir, "fmt.lua") {
		t.Errorf("MainPath() = %q", got)
	}

	perms := m.SecurityPermissions()
	if len(perms) != 1 || perms[0].Resource != "/workspace/*" {
		t.Errorf("SecurityPermissions() = %v", perms)
	}

	limits := m.SecurityLimits()
	if limits.MemoryMB != 64 || limits.CPUPercent != 10 {
		t.Errorf("SecurityLimits() = %+v", limits)
	}

	defaults := m.ConfigDefaults()
	if v, ok := defaults["indent"]; !ok || v != float64(4) {
		t.Errorf("ConfigDefaults()[indent] = %v", v)
	}
	if _, ok := defaults["style"]; ok {
		t.Error("style has no default, should be absent")
	}
}

const yamlManifest = `id: acme.linter
name: Linter
version: "2.0"
capabilities:
  - linter
dependencies:
  - acme.base@>=1.0.0,<2.0.0
permissions:
  - category: ui
    scope: write
    resource: notification
`

func TestLoadManifestYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "plugin.yaml", yamlManifest)

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if m.ID != "acme.linter" || m.Version != "2.0" {
		t.Errorf("unexpected manifest: %+v", m)
	}
	if m.Main != "init.lua" {
		t.Errorf("Main default = %q, want init.lua", m.Main)
	}
}

func TestLoadManifestFromDirOrder(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "plugin.json", jsonManifest)
	writeManifest(t, dir, "plugin.yaml", yamlManifest)

	// plugin.json is checked first.
	m, err := LoadManifestFromDir(dir)
	if err != nil {
		t.Fatalf("LoadManifestFromDir: %v", err)
	}
	if m.ID != "acme.formatter" {
		t.Errorf("loaded %q, want acme.formatter", m.ID)
	}
}

func TestLoadManifestFromDirMissing(t *testing.T) {
	_, err := LoadManifestFromDir(t.TempDir())
	if err == nil {
		t.Fatal("expected error for empty dir")
	}
}

func TestManifestValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing id", `{"name": "X", "version": "1.0.0"}`},
		{"bad id", `{"id": "Not.Valid!", "name": "X", "version": "1.0.0"}`},
		{"bad version", `{"id": "acme.x", "name": "X", "version": "one"}`},
		{"bad permission category", `{"id": "acme.x", "name": "X", "version": "1.0.0",
			"permissions": [{"category": "kernel", "scope": "read"}]}`},
		{"bad dependency", `{"id": "acme.x", "name": "X", "version": "1.0.0",
			"dependencies": ["@1.0"]}`},
		{"malformed json", `{not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := writeManifest(t, dir, "plugin.json", tt.content)
			if _, err := LoadManifest(path); err == nil {
				t.Errorf("LoadManifest accepted %s", tt.name)
			}
		})
	}
}

func TestManifestIDForms(t *testing.T) {
	valid := []string{"a", "acme", "acme.tool", "acme.my-tool", "a1.b2.c3"}
	invalid := []string{"Acme.tool", ".tool", "acme.", "acme..tool", "-acme", "acme.-x"}

	for _, id := range valid {
		if !idPattern.MatchString(id) {
			t.Errorf("id %q rejected, want accepted", id)
		}
	}
	for _, id := range invalid {
		if idPattern.MatchString(id) {
			t.Errorf("id %q accepted, want rejected", id)
		}
	}
}
