package plugin

import (
	"fmt"
	"strings"
)

// Metadata describes a plugin's identity and declared surface.
type Metadata struct {
	// ID is the namespaced plugin identifier (e.g., "acme.formatter").
	ID string `json:"id" yaml:"id"`

	// Name is the human-readable name.
	Name string `json:"name" yaml:"name"`

	// Version is a semver-like dotted version string.
	Version string `json:"version" yaml:"version"`

	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Author      string `json:"author,omitempty" yaml:"author,omitempty"`

	// Capabilities are the named feature categories the plugin provides.
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`

	// Dependencies are specs of the form "id@range" with an optional
	// trailing '?' marking the dependency optional. A bare id means any
	// version.
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`

	// ActivationEvents declare when the plugin should be activated
	// automatically ("onStartup", "*", or shell-defined triggers).
	ActivationEvents []string `json:"activationEvents,omitempty" yaml:"activationEvents,omitempty"`

	// Contributes is opaque to the host; the shell interprets it.
	Contributes map[string]any `json:"contributes,omitempty" yaml:"contributes,omitempty"`
}

// HasCapability returns true if the plugin declares the capability.
func (m *Metadata) HasCapability(capability string) bool {
	for _, c := range m.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// ActivatesOnStartup reports whether the plugin asks for automatic
// activation at host startup.
func (m *Metadata) ActivatesOnStartup() bool {
	for _, ev := range m.ActivationEvents {
		if ev == "onStartup" || ev == "*" {
			return true
		}
	}
	return false
}

// Clone creates a deep copy of the metadata.
func (m *Metadata) Clone() *Metadata {
	clone := *m
	if m.Capabilities != nil {
		clone.Capabilities = append([]string(nil), m.Capabilities...)
	}
	if m.Dependencies != nil {
		clone.Dependencies = append([]string(nil), m.Dependencies...)
	}
	if m.ActivationEvents != nil {
		clone.ActivationEvents = append([]string(nil), m.ActivationEvents...)
	}
	if m.Contributes != nil {
		clone.Contributes = make(map[string]any, len(m.Contributes))
		for k, v := range m.Contributes {
			clone.Contributes[k] = v
		}
	}
	return &clone
}

// String returns a string representation of the metadata.
func (m *Metadata) String() string {
	name := m.Name
	if name == "" {
		name = m.ID
	}
	return fmt.Sprintf("%s v%s", name, m.Version)
}

// Dependency is one parsed dependency edge.
type Dependency struct {
	// ID is the target plugin id.
	ID string

	// Range is the version-range expression; empty means any version.
	Range string

	// Optional dependencies do not gate loading or activation.
	Optional bool
}

// String re-serializes the dependency to spec form.
func (d Dependency) String() string {
	s := d.ID
	if d.Range != "" {
		s += "@" + d.Range
	}
	if d.Optional {
		s += "?"
	}
	return s
}

// ParseDependency parses an "id@range" / "id@range?" spec. A bare "id"
// means any version; a bare "id?" is an optional wildcard dependency.
func ParseDependency(spec string) (Dependency, error) {
	s := strings.TrimSpace(spec)
	if s == "" {
		return Dependency{}, fmt.Errorf("%w: empty spec", ErrInvalidDependency)
	}

	var dep Dependency
	if strings.HasSuffix(s, "?") {
		dep.Optional = true
		s = strings.TrimSuffix(s, "?")
	}

	if at := strings.Index(s, "@"); at >= 0 {
		dep.ID = s[:at]
		dep.Range = s[at+1:]
	} else {
		dep.ID = s
	}

	if dep.ID == "" {
		return Dependency{}, fmt.Errorf("%w: %q has no target id", ErrInvalidDependency, spec)
	}
	return dep, nil
}

// ParsedDependencies parses all dependency specs, reporting the first
// malformed one.
func (m *Metadata) ParsedDependencies() ([]Dependency, error) {
	deps := make([]Dependency, 0, len(m.Dependencies))
	for _, spec := range m.Dependencies {
		dep, err := ParseDependency(spec)
		if err != nil {
			return nil, fmt.Errorf("plugin %s: %w", m.ID, err)
		}
		deps = append(deps, dep)
	}
	return deps, nil
}
