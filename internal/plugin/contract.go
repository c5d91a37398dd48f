package plugin

import (
	"fmt"
	"sync"
)

// Instance is the entry contract every loaded plugin must expose.
type Instance interface {
	// Metadata returns the plugin's true metadata, replacing any
	// placeholder recorded at discovery.
	Metadata() (*Metadata, error)

	// Activate starts the plugin with its host context.
	Activate(ctx *Context) error

	// Deactivate stops the plugin. Best effort; the loader proceeds with
	// cleanup even if this fails.
	Deactivate() error
}

// Closer is implemented by instances that hold releasable resources
// (e.g., an interpreter state). The loader closes them on unload.
type Closer interface {
	Close() error
}

// ConfigWatcher is implemented by instances that react to configuration
// changes.
type ConfigWatcher interface {
	ConfigurationChanged(config map[string]any)
}

// CommandHandler is implemented by instances that service host commands.
type CommandHandler interface {
	Command(id string, args map[string]any) (any, error)
}

// Factory constructs a plugin instance. Used for built-in and externally
// registered plugins that live in the host process.
type Factory func() (Instance, error)

// Origin identifies where a plugin's code comes from.
type Origin struct {
	// Kind selects the origin resolver ("directory", "file", "builtin",
	// "external").
	Kind string `json:"kind"`

	// Path is the filesystem location for directory/file origins.
	Path string `json:"path,omitempty"`
}

// Origin kinds.
const (
	OriginDirectory = "directory"
	OriginFile      = "file"
	OriginBuiltin   = "builtin"
	OriginExternal  = "external"
)

// String returns a string representation of the origin.
func (o Origin) String() string {
	if o.Path == "" {
		return o.Kind
	}
	return fmt.Sprintf("%s:%s", o.Kind, o.Path)
}

// OriginResolver turns a discovered plugin into a live instance. The
// mechanism (embedded interpreter, registration table) is interchangeable
// behind this interface.
type OriginResolver interface {
	Resolve(info *Info) (Instance, error)
}

// RegistrationResolver resolves plugins registered in-process through
// factories. It backs both the static built-in list and entry-point style
// external registrations.
type RegistrationResolver struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistrationResolver creates an empty registration table.
func NewRegistrationResolver() *RegistrationResolver {
	return &RegistrationResolver{factories: make(map[string]Factory)}
}

// Register adds a factory for the given plugin id, replacing any previous
// registration.
func (r *RegistrationResolver) Register(id string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = factory
}

// Resolve implements OriginResolver.
func (r *RegistrationResolver) Resolve(info *Info) (Instance, error) {
	r.mu.RLock()
	factory, ok := r.factories[info.Metadata.ID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no factory for %s", ErrPluginNotFound, info.Metadata.ID)
	}
	return factory()
}
