package plugin

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// PlaceholderVersion marks metadata that will be replaced when the plugin
// is actually loaded.
const PlaceholderVersion = "0.0.0"

// Discovery finds plugin candidates and registers them. Candidates come
// from three sources, merged in order with the first occurrence of an id
// winning: external registrations, filesystem scans of the configured
// plugin paths, and the static built-in list.
type Discovery struct {
	mu sync.Mutex

	paths    []string
	external []*Info
	builtins []*Info

	registry     *Registry
	registration *RegistrationResolver
	log          zerolog.Logger
}

// DiscoveryOption configures a Discovery.
type DiscoveryOption func(*Discovery)

// WithPluginPaths sets the filesystem search paths.
func WithPluginPaths(paths ...string) DiscoveryOption {
	return func(d *Discovery) {
		d.paths = paths
	}
}

// WithDiscoveryLogger sets the logger.
func WithDiscoveryLogger(log zerolog.Logger) DiscoveryOption {
	return func(d *Discovery) {
		d.log = log
	}
}

// NewDiscovery creates a Discovery that registers its results with the
// given registry and records in-process factories with the registration
// resolver.
func NewDiscovery(registry *Registry, registration *RegistrationResolver, opts ...DiscoveryOption) *Discovery {
	d := &Discovery{
		paths:        DefaultPluginPaths(),
		registry:     registry,
		registration: registration,
		log:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DefaultPluginPaths returns the default plugin search paths.
func DefaultPluginPaths() []string {
	paths := make([]string, 0, 2)
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "plughost", "plugins"))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".plughost", "plugins"))
	}
	return paths
}

// AddPath appends a filesystem search path.
func (d *Discovery) AddPath(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paths = append(d.paths, path)
}

// RegisterBuiltin adds a plugin to the static built-in list.
func (d *Discovery) RegisterBuiltin(meta *Metadata, factory Factory) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.registration.Register(meta.ID, factory)
	d.builtins = append(d.builtins, &Info{
		Metadata: meta,
		Origin:   Origin{Kind: OriginBuiltin},
		State:    StateDiscovered,
	})
}

// RegisterExternal records an entry-point style registration. Only the id
// is known up front; the version stays a placeholder until the plugin is
// loaded and its true metadata read.
func (d *Discovery) RegisterExternal(id string, factory Factory) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.registration.Register(id, factory)
	d.external = append(d.external, &Info{
		Metadata: &Metadata{ID: id, Name: id, Version: PlaceholderVersion},
		Origin:   Origin{Kind: OriginExternal},
		State:    StateDiscovered,
	})
}

// DiscoverAll merges all sources, validates candidates, and registers the
// survivors at StateDiscovered. Candidates that fail to parse or lack
// required fields are dropped with a logged reason; the scan continues.
// Already-registered ids are skipped, so DiscoverAll is safe to re-run.
func (d *Discovery) DiscoverAll() []*Info {
	d.mu.Lock()
	candidates := make([]*Info, 0, len(d.external)+len(d.builtins))
	candidates = append(candidates, d.external...)
	paths := append([]string(nil), d.paths...)
	builtins := append([]*Info(nil), d.builtins...)
	d.mu.Unlock()

	for _, base := range paths {
		candidates = append(candidates, d.scanPath(base)...)
	}
	candidates = append(candidates, builtins...)

	var registered []*Info
	seen := make(map[string]bool)
	for _, info := range candidates {
		id := info.Metadata.ID
		if seen[id] {
			continue
		}
		seen[id] = true
		if !d.validateCandidate(info) {
			continue
		}
		if d.registry.Register(info) {
			registered = append(registered, info)
		}
	}

	d.log.Info().Int("count", len(registered)).Msg("plugin discovery complete")
	return registered
}

// validateCandidate enforces the required identity fields.
func (d *Discovery) validateCandidate(info *Info) bool {
	m := info.Metadata
	if m.ID == "" || m.Name == "" || m.Version == "" {
		d.log.Warn().
			Str("origin", info.Origin.String()).
			Str("plugin", m.ID).
			Msg("candidate discarded: missing id, name or version")
		return false
	}
	return true
}

// scanPath finds plugin candidates in one directory. A missing directory
// is not an error.
func (d *Discovery) scanPath(base string) []*Info {
	entries, err := os.ReadDir(base)
	if err != nil {
		if !os.IsNotExist(err) {
			d.log.Warn().Err(err).Str("path", base).Msg("plugin path unreadable")
		}
		return nil
	}

	var found []*Info
	for _, entry := range entries {
		if !entry.IsDir() {
			// Single-file plugins: name.lua with a synthesized manifest.
			if filepath.Ext(entry.Name()) == ".lua" {
				id := strings.TrimSuffix(entry.Name(), ".lua")
				manifest := NewManifestMinimal(id, base)
				manifest.Main = entry.Name()
				found = append(found, &Info{
					Metadata: manifest.Metadata(),
					Manifest: manifest,
					Origin:   Origin{Kind: OriginFile, Path: filepath.Join(base, entry.Name())},
					State:    StateDiscovered,
				})
			}
			continue
		}

		dir := filepath.Join(base, entry.Name())
		info, err := d.inspectDir(entry.Name(), dir)
		if err != nil {
			// Parse failures drop only this candidate.
			d.log.Warn().Err(err).Str("path", dir).Msg("candidate discarded")
			continue
		}
		found = append(found, info)
	}
	return found
}

// inspectDir builds a candidate from one plugin directory.
func (d *Discovery) inspectDir(name, dir string) (*Info, error) {
	manifest, err := LoadManifestFromDir(dir)
	if err == nil {
		return &Info{
			Metadata: manifest.Metadata(),
			Manifest: manifest,
			Origin:   Origin{Kind: OriginDirectory, Path: dir},
			State:    StateDiscovered,
		}, nil
	}

	if !errors.Is(err, ErrNoEntryPoint) {
		// A manifest exists but is malformed; do not fall back.
		return nil, err
	}

	// No manifest: accept a bare init.lua with a minimal manifest.
	if _, statErr := os.Stat(filepath.Join(dir, "init.lua")); statErr == nil {
		manifest := NewManifestMinimal(name, dir)
		return &Info{
			Metadata: manifest.Metadata(),
			Manifest: manifest,
			Origin:   Origin{Kind: OriginDirectory, Path: dir},
			State:    StateDiscovered,
		}, nil
	}

	return nil, err
}
