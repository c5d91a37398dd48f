package plugin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/dshills/plughost/internal/event"
	"github.com/dshills/plughost/internal/security"
)

// Lifecycle event types broadcast on the bus.
const (
	EventPluginLoaded      = "plugin.loaded"
	EventPluginActivated   = "plugin.activated"
	EventPluginDeactivated = "plugin.deactivated"
	EventPluginUnloaded    = "plugin.unloaded"
	EventPluginFailed      = "plugin.failed"
)

// loaderSource identifies the loader as event source.
const loaderSource = "host.loader"

// Loader drives plugins through the lifecycle state machine. Every
// per-plugin failure is caught at this boundary, converted into state
// StateFailed plus a stored error, and never propagated to sibling
// plugins or the host loop.
type Loader struct {
	registry  *Registry
	bus       *event.Bus
	perms     *security.Permissions
	resolvers map[string]OriginResolver
	services  HostServices

	// dataRoot is the base for per-plugin data directories.
	dataRoot string

	// configFor supplies the host-side configuration slice for a plugin;
	// nil means manifest defaults only.
	configFor func(id string) map[string]any

	log zerolog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithDataRoot sets the base directory for per-plugin data paths.
func WithDataRoot(dir string) LoaderOption {
	return func(l *Loader) {
		l.dataRoot = dir
	}
}

// WithHostServices sets the shell collaborators proxied to plugins.
func WithHostServices(s HostServices) LoaderOption {
	return func(l *Loader) {
		l.services = s
	}
}

// WithConfigSource sets the per-plugin host configuration source.
func WithConfigSource(fn func(id string) map[string]any) LoaderOption {
	return func(l *Loader) {
		l.configFor = fn
	}
}

// WithLoaderLogger sets the logger.
func WithLoaderLogger(log zerolog.Logger) LoaderOption {
	return func(l *Loader) {
		l.log = log
	}
}

// NewLoader creates a loader. Origin resolvers are registered separately
// with RegisterResolver.
func NewLoader(registry *Registry, bus *event.Bus, perms *security.Permissions, opts ...LoaderOption) *Loader {
	l := &Loader{
		registry:  registry,
		bus:       bus,
		perms:     perms,
		resolvers: make(map[string]OriginResolver),
		dataRoot:  filepath.Join(os.TempDir(), "plughost"),
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RegisterResolver installs the resolver for an origin kind.
func (l *Loader) RegisterResolver(kind string, resolver OriginResolver) {
	l.resolvers[kind] = resolver
}

// Load resolves a plugin's code and instantiates its entry object.
// Valid from StateDiscovered and StateUnloaded. Any failure on this path
// leaves the plugin in StateFailed with a stored error.
func (l *Loader) Load(id string) error {
	info, ok := l.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	if info.State != StateDiscovered && info.State != StateUnloaded {
		return fmt.Errorf("%w: cannot load from %s", ErrInvalidTransition, info.State)
	}

	resolver, ok := l.resolvers[info.Origin.Kind]
	if !ok {
		err := fmt.Errorf("%w: %s", ErrNoOriginResolver, info.Origin.Kind)
		l.Fail(id, err)
		return err
	}

	var instance Instance
	err := capture(func() error {
		var resolveErr error
		instance, resolveErr = resolver.Resolve(info)
		return resolveErr
	})
	if err == nil && instance == nil {
		err = ErrEntryContract
	}
	if err != nil {
		l.Fail(id, fmt.Errorf("failed to load plugin: %w", err))
		return err
	}

	// Replace placeholder metadata with what the plugin reports.
	var meta *Metadata
	err = capture(func() error {
		var metaErr error
		meta, metaErr = instance.Metadata()
		return metaErr
	})
	if err != nil {
		l.closeInstance(id, instance)
		l.Fail(id, fmt.Errorf("%w: metadata: %v", ErrEntryContract, err))
		return err
	}
	if meta != nil {
		l.registry.SetMetadata(id, meta)
	}

	l.registry.SetInstance(id, instance)
	l.registry.UpdateState(id, StateLoaded)
	l.registry.ClearError(id)

	l.log.Info().Str("plugin", id).Str("origin", info.Origin.String()).Msg("plugin loaded")
	l.emit(EventPluginLoaded, id)
	return nil
}

// Activate builds the plugin's context and calls its activate entry.
// Valid from StateLoaded and StateDeactivated (re-activation).
func (l *Loader) Activate(id string) error {
	info, ok := l.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	if info.State != StateLoaded && info.State != StateDeactivated {
		return fmt.Errorf("%w: cannot activate from %s", ErrInvalidTransition, info.State)
	}
	if info.Instance == nil {
		err := ErrEntryContract
		l.Fail(id, err)
		return err
	}

	ctx, err := l.buildContext(info)
	if err != nil {
		l.Fail(id, err)
		return err
	}

	err = capture(func() error {
		return info.Instance.Activate(ctx)
	})
	if err != nil {
		ctx.release()
		l.Fail(id, fmt.Errorf("activation failed: %w", err))
		return err
	}

	l.registry.SetContext(id, ctx)
	l.registry.UpdateState(id, StateActivated)
	l.registry.ClearError(id)

	l.log.Info().Str("plugin", id).Msg("plugin activated")
	l.emit(EventPluginActivated, id)
	return nil
}

// Deactivate calls the plugin's deactivate entry. Best effort by design:
// an error or panic from the plugin is logged and stored, and the
// transition to StateDeactivated proceeds regardless.
func (l *Loader) Deactivate(id string) error {
	info, ok := l.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	if info.State != StateActivated {
		return fmt.Errorf("%w: cannot deactivate from %s", ErrInvalidTransition, info.State)
	}

	if err := capture(info.Instance.Deactivate); err != nil {
		l.log.Warn().Err(err).Str("plugin", id).Msg("deactivate reported an error")
		l.registry.SetError(id, fmt.Errorf("deactivation failed: %w", err))
	}

	if info.Context != nil {
		info.Context.release()
	}
	l.registry.SetContext(id, nil)
	l.registry.UpdateState(id, StateDeactivated)

	l.log.Info().Str("plugin", id).Msg("plugin deactivated")
	l.emit(EventPluginDeactivated, id)
	return nil
}

// Unload releases a plugin's instance and context. Valid from
// StateDeactivated, StateLoaded and StateFailed; an activated plugin is
// deactivated first. The stored error, if any, survives unload so the
// failure reason stays inspectable.
func (l *Loader) Unload(id string) error {
	info, ok := l.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}

	if info.State == StateActivated {
		if err := l.Deactivate(id); err != nil {
			return err
		}
		info, _ = l.registry.Get(id)
	}

	switch info.State {
	case StateDeactivated, StateLoaded, StateFailed:
	default:
		return fmt.Errorf("%w: cannot unload from %s", ErrInvalidTransition, info.State)
	}

	if info.Instance != nil {
		l.closeInstance(id, info.Instance)
	}
	l.registry.SetInstance(id, nil)
	l.registry.SetContext(id, nil)
	l.registry.UpdateState(id, StateUnloaded)

	l.log.Info().Str("plugin", id).Msg("plugin unloaded")
	l.emit(EventPluginUnloaded, id)
	return nil
}

// Reload runs unload, load, activate; a failing step halts the sequence
// at its last successfully reached state.
func (l *Loader) Reload(id string) error {
	if err := l.Unload(id); err != nil {
		return fmt.Errorf("reload unload failed: %w", err)
	}
	if err := l.Load(id); err != nil {
		return fmt.Errorf("reload load failed: %w", err)
	}
	if err := l.Activate(id); err != nil {
		return fmt.Errorf("reload activate failed: %w", err)
	}
	return nil
}

// Fail forces a plugin into StateFailed with the given reason. Also used
// by the sandbox when restart retries are exhausted. If the transition
// table forbids Failed from the current state, the state is left alone
// and only the error is recorded.
func (l *Loader) Fail(id string, err error) {
	l.registry.SetError(id, err)
	if l.registry.UpdateState(id, StateFailed) {
		l.log.Error().Err(err).Str("plugin", id).Msg("plugin failed")
		l.emit(EventPluginFailed, id)
	} else {
		l.log.Warn().Err(err).Str("plugin", id).Msg("plugin error recorded")
	}
}

// buildContext assembles the activation context for a plugin.
func (l *Loader) buildContext(info *Info) (*Context, error) {
	id := info.Metadata.ID

	dataPath := filepath.Join(l.dataRoot, id)
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data path: %w", err)
	}

	return &Context{
		PluginID:   id,
		PluginPath: info.Origin.Path,
		DataPath:   dataPath,
		Services:   NewServiceProxy(id, l.services, l.perms),
		Config:     l.configSlice(info),
		bus:        l.bus,
	}, nil
}

// configSlice merges manifest defaults with host-provided values; host
// values win.
func (l *Loader) configSlice(info *Info) map[string]any {
	config := make(map[string]any)
	if info.Manifest != nil {
		for k, v := range info.Manifest.ConfigDefaults() {
			config[k] = v
		}
	}
	if l.configFor != nil {
		for k, v := range l.configFor(info.Metadata.ID) {
			config[k] = v
		}
	}
	return config
}

// NotifyConfigChanged rebuilds an activated plugin's configuration slice
// and hands it to the instance when it watches configuration changes.
// Plugins that are not activated or do not watch are skipped silently.
func (l *Loader) NotifyConfigChanged(id string) error {
	info, ok := l.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	if info.State != StateActivated || info.Instance == nil {
		return nil
	}
	watcher, ok := info.Instance.(ConfigWatcher)
	if !ok {
		return nil
	}

	config := l.configSlice(info)
	if err := capture(func() error {
		watcher.ConfigurationChanged(config)
		return nil
	}); err != nil {
		l.registry.SetError(id, fmt.Errorf("configuration change failed: %w", err))
		return err
	}
	return nil
}

// emit broadcasts a lifecycle event.
func (l *Loader) emit(eventType, id string) {
	l.bus.Emit(event.New(eventType, loaderSource, map[string]any{"plugin": id}))
}

// capture runs fn, converting a panic into an error so plugin failures
// stop at the loader boundary.
func capture(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// closeInstance releases instance resources. Unload is best effort, so a
// failing close is logged, never returned.
func (l *Loader) closeInstance(id string, inst Instance) {
	if c, ok := inst.(Closer); ok {
		if err := c.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			l.log.Warn().Err(err).Str("plugin", id).Msg("instance close failed")
		}
	}
}
