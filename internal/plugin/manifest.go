package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dshills/plughost/internal/security"
)

// Manifest names recognized in a plugin directory, checked in order.
var manifestNames = []string{"plugin.json", "plugin.yaml", "plugin.yml"}

// Manifest is the declarative description of a plugin.
type Manifest struct {
	// Identity
	ID          string `json:"id"          yaml:"id"          validate:"required,plugin_id"`
	Name        string `json:"name"        yaml:"name"        validate:"required"`
	Version     string `json:"version"     yaml:"version"     validate:"required,plugin_version"`
	Description string `json:"description" yaml:"description"`
	Author      string `json:"author"      yaml:"author"`
	License     string `json:"license"     yaml:"license"`

	// Entry point, relative to the plugin directory (default "init.lua").
	Main string `json:"main" yaml:"main"`

	// Declared surface
	Capabilities     []string `json:"capabilities"     yaml:"capabilities"`
	Dependencies     []string `json:"dependencies"     yaml:"dependencies"`
	ActivationEvents []string `json:"activationEvents" yaml:"activationEvents"`

	// Permissions requested from the host.
	Permissions []ManifestPermission `json:"permissions" yaml:"permissions" validate:"dive"`

	// ResourceLimits the host enforces; unset fields are unlimited.
	ResourceLimits ManifestLimits `json:"resourceLimits" yaml:"resourceLimits"`

	// ConfigSchema describes the plugin's configuration options.
	ConfigSchema map[string]ConfigProperty `json:"configSchema" yaml:"configSchema"`

	// Contributes is opaque to the host; the shell interprets it.
	Contributes map[string]any `json:"contributes" yaml:"contributes"`

	// Internal: path to the plugin directory.
	path string
}

// ManifestPermission declares one requested permission.
type ManifestPermission struct {
	Category    string `json:"category"    yaml:"category"    validate:"required,oneof=filesystem network system ui"`
	Scope       string `json:"scope"       yaml:"scope"       validate:"required,oneof=read write execute"`
	Resource    string `json:"resource"    yaml:"resource"`
	Description string `json:"description" yaml:"description"`
}

// ManifestLimits declares resource limits; zero values are unlimited.
type ManifestLimits struct {
	MemoryMB    float64 `json:"memoryMb"    yaml:"memoryMb"    validate:"gte=0"`
	CPUPercent  float64 `json:"cpuPercent"  yaml:"cpuPercent"  validate:"gte=0"`
	DiskMB      float64 `json:"diskMb"      yaml:"diskMb"      validate:"gte=0"`
	NetworkMbps float64 `json:"networkMbps" yaml:"networkMbps" validate:"gte=0"`
}

// ConfigProperty describes a configuration option.
type ConfigProperty struct {
	Type        string   `json:"type"        yaml:"type"        validate:"omitempty,oneof=string number boolean array object"`
	Default     any      `json:"default"     yaml:"default"`
	Description string   `json:"description" yaml:"description"`
	Enum        []string `json:"enum"        yaml:"enum"`
}

var (
	// idPattern validates namespaced plugin ids: dot-separated segments of
	// lowercase alphanumerics and hyphens.
	idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*(\.[a-z0-9][a-z0-9-]*)*$`)

	// versionPattern validates dotted numeric versions.
	versionPattern = regexp.MustCompile(`^\d+(\.\d+)*$`)
)

// validate is shared across manifest loads; validator.Validate is
// safe for concurrent use.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("plugin_id", func(fl validator.FieldLevel) bool {
		return idPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("plugin_version", func(fl validator.FieldLevel) bool {
		return versionPattern.MatchString(fl.Field().String())
	})
	return v
}

// LoadManifest loads and validates a manifest file. The format is chosen
// by extension: .json, or .yaml/.yml.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to parse manifest: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to parse manifest: %w", err)
		}
	}

	m.path = filepath.Dir(path)
	m.applyDefaults()

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadManifestFromDir loads a manifest from a plugin directory, trying
// each recognized manifest name.
func LoadManifestFromDir(dir string) (*Manifest, error) {
	for _, name := range manifestNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadManifest(path)
		}
	}
	return nil, fmt.Errorf("%w: no manifest in %s", ErrNoEntryPoint, dir)
}

// NewManifestMinimal creates a minimal manifest for single-file plugins.
func NewManifestMinimal(id, path string) *Manifest {
	return &Manifest{
		ID:      id,
		Name:    id,
		Version: "0.0.0",
		Main:    "init.lua",
		path:    path,
	}
}

// applyDefaults sets default values for optional fields.
func (m *Manifest) applyDefaults() {
	if m.Main == "" {
		m.Main = "init.lua"
	}
	if m.Name == "" {
		m.Name = m.ID
	}
}

// Validate checks that the manifest is well formed. Dependency specs are
// parsed here so malformed specs surface at discovery, not resolution.
func (m *Manifest) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("manifest %s: %w", m.ID, err)
	}
	for _, spec := range m.Dependencies {
		if _, err := ParseDependency(spec); err != nil {
			return fmt.Errorf("manifest %s: %w", m.ID, err)
		}
	}
	return nil
}

// Path returns the plugin directory.
func (m *Manifest) Path() string {
	return m.path
}

// MainPath returns the full path to the entry file.
func (m *Manifest) MainPath() string {
	return filepath.Join(m.path, m.Main)
}

// Metadata converts the manifest to runtime metadata.
func (m *Manifest) Metadata() *Metadata {
	meta := &Metadata{
		ID:               m.ID,
		Name:             m.Name,
		Version:          m.Version,
		Description:      m.Description,
		Author:           m.Author,
		Capabilities:     append([]string(nil), m.Capabilities...),
		Dependencies:     append([]string(nil), m.Dependencies...),
		ActivationEvents: append([]string(nil), m.ActivationEvents...),
	}
	if m.Contributes != nil {
		meta.Contributes = make(map[string]any, len(m.Contributes))
		for k, v := range m.Contributes {
			meta.Contributes[k] = v
		}
	}
	return meta
}

// SecurityPermissions converts declared permissions to the security model.
func (m *Manifest) SecurityPermissions() []security.Permission {
	perms := make([]security.Permission, 0, len(m.Permissions))
	for _, p := range m.Permissions {
		perms = append(perms, security.Permission{
			Category: security.Category(p.Category),
			Scope:    security.Scope(p.Scope),
			Resource: p.Resource,
		})
	}
	return perms
}

// SecurityLimits converts declared limits to the security model.
func (m *Manifest) SecurityLimits() security.Limits {
	return security.Limits{
		MemoryMB:    m.ResourceLimits.MemoryMB,
		CPUPercent:  m.ResourceLimits.CPUPercent,
		DiskMB:      m.ResourceLimits.DiskMB,
		NetworkMbps: m.ResourceLimits.NetworkMbps,
	}
}

// ConfigDefaults returns the default configuration values declared in the
// config schema.
func (m *Manifest) ConfigDefaults() map[string]any {
	defaults := make(map[string]any)
	for key, prop := range m.ConfigSchema {
		if prop.Default != nil {
			defaults[key] = prop.Default
		}
	}
	return defaults
}
