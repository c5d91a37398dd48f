package plugin

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/plughost/internal/event"
	"github.com/dshills/plughost/internal/sandbox"
	"github.com/dshills/plughost/internal/security"
)

// managerSource identifies the manager as event source.
const managerSource = "host.manager"

// EventResourceViolation is broadcast for every enforced resource breach.
const EventResourceViolation = "plugin.resource.violation"

// EventPluginCommand requests a command invocation on its target plugin.
// Payload: "command" (string, required) and "args" (map, optional).
const EventPluginCommand = "plugin.command"

// ManagerConfig carries everything the Manager needs from its embedder.
// Zero values select workable defaults.
type ManagerConfig struct {
	// PluginPaths are the filesystem search paths; nil means the defaults.
	PluginPaths []string

	// DataRoot is the base for per-plugin data directories.
	DataRoot string

	// StateFile, when set, receives a registry snapshot on shutdown.
	StateFile string

	// Services are the shell collaborators proxied to plugins.
	Services HostServices

	// Prompter decides runtime permission requests; nil denies them all.
	Prompter security.Prompter

	// Sampler supplies resource usage numbers; nil disables monitoring.
	Sampler security.Sampler

	// Policy overrides the escalation policy; nil keeps the default.
	Policy *security.Policy

	// SampleInterval overrides the monitor polling interval.
	SampleInterval time.Duration

	// Isolation is the sandbox level for plugin entry calls.
	Isolation sandbox.Isolation

	// MaxRestarts bounds crash-restart attempts; 0 keeps the default.
	MaxRestarts uint64

	// RestartDelay is the base backoff delay between restart attempts.
	RestartDelay time.Duration

	// HistorySize bounds the event bus history ring; 0 keeps the default.
	HistorySize int

	// ConfigFor supplies the host configuration slice per plugin.
	ConfigFor func(id string) map[string]any

	// Logger is the root logger; components derive their own from it.
	Logger zerolog.Logger
}

// Manager owns one instance of every host component and drives the
// plugin population through its lifecycle. It is the only entry point an
// embedding shell needs.
type Manager struct {
	cfg ManagerConfig

	registry     *Registry
	bus          *event.Bus
	perms        *security.Permissions
	monitor      *security.Monitor
	registration *RegistrationResolver
	discovery    *Discovery
	resolver     *Resolver
	loader       *Loader
	runner       *sandbox.Runner

	log zerolog.Logger
}

// NewManager wires a complete plugin host from the given configuration.
func NewManager(cfg ManagerConfig) *Manager {
	log := cfg.Logger

	m := &Manager{
		cfg: cfg,
		log: log,
	}

	busOpts := []event.BusOption{event.WithLogger(log)}
	if cfg.HistorySize > 0 {
		busOpts = append(busOpts, event.WithHistorySize(cfg.HistorySize))
	}
	m.bus = event.NewBus(busOpts...)

	m.registry = NewRegistry(log)

	permOpts := []security.PermissionsOption{security.WithPermissionsLogger(log)}
	if cfg.Prompter != nil {
		permOpts = append(permOpts, security.WithPrompter(cfg.Prompter))
	}
	m.perms = security.NewPermissions(permOpts...)

	if cfg.Sampler != nil {
		monOpts := []security.MonitorOption{
			security.WithMonitorLogger(log),
			security.WithViolationHandler(m.enforce),
		}
		if cfg.Policy != nil {
			monOpts = append(monOpts, security.WithPolicy(*cfg.Policy))
		}
		if cfg.SampleInterval > 0 {
			monOpts = append(monOpts, security.WithSampleInterval(cfg.SampleInterval))
		}
		m.monitor = security.NewMonitor(cfg.Sampler, monOpts...)
	}

	m.registration = NewRegistrationResolver()

	discOpts := []DiscoveryOption{WithDiscoveryLogger(log)}
	if cfg.PluginPaths != nil {
		discOpts = append(discOpts, WithPluginPaths(cfg.PluginPaths...))
	}
	m.discovery = NewDiscovery(m.registry, m.registration, discOpts...)

	m.resolver = NewResolver(m.registry, log)

	runnerOpts := []sandbox.Option{
		sandbox.WithIsolation(cfg.Isolation),
		sandbox.WithLogger(log),
	}
	if cfg.MaxRestarts > 0 {
		runnerOpts = append(runnerOpts, sandbox.WithMaxRestarts(cfg.MaxRestarts))
	}
	if cfg.RestartDelay > 0 {
		runnerOpts = append(runnerOpts, sandbox.WithRestartDelay(cfg.RestartDelay))
	}
	m.runner = sandbox.NewRunner(runnerOpts...)

	loaderOpts := []LoaderOption{
		WithHostServices(cfg.Services),
		WithLoaderLogger(log),
	}
	if cfg.DataRoot != "" {
		loaderOpts = append(loaderOpts, WithDataRoot(cfg.DataRoot))
	}
	if cfg.ConfigFor != nil {
		loaderOpts = append(loaderOpts, WithConfigSource(cfg.ConfigFor))
	}
	m.loader = NewLoader(m.registry, m.bus, m.perms, loaderOpts...)
	m.loader.RegisterResolver(OriginBuiltin, m.registration)
	m.loader.RegisterResolver(OriginExternal, m.registration)

	lua := NewLuaResolver(m.bus, log)
	m.loader.RegisterResolver(OriginDirectory, lua)
	m.loader.RegisterResolver(OriginFile, lua)

	if cfg.StateFile != "" {
		lifecycle := []string{
			EventPluginLoaded, EventPluginActivated, EventPluginDeactivated,
			EventPluginUnloaded, EventPluginFailed,
		}
		for _, evt := range lifecycle {
			_, _ = m.bus.Subscribe(evt, m.persistTransition, event.WithSubscriber(managerSource))
		}
	}
	_, _ = m.bus.Subscribe(EventPluginCommand, m.handleCommandEvent, event.WithSubscriber(managerSource))

	return m
}

// Component accessors for embedders and tests.

// Bus returns the shared event bus.
func (m *Manager) Bus() *event.Bus { return m.bus }

// Registry returns the plugin registry.
func (m *Manager) Registry() *Registry { return m.registry }

// Permissions returns the permission manager.
func (m *Manager) Permissions() *security.Permissions { return m.perms }

// Monitor returns the resource monitor, or nil when monitoring is off.
func (m *Manager) Monitor() *security.Monitor { return m.monitor }

// RegisterBuiltin adds a built-in plugin before Init.
func (m *Manager) RegisterBuiltin(meta *Metadata, factory Factory) {
	m.discovery.RegisterBuiltin(meta, factory)
}

// RegisterExternal adds an entry-point style registration before Init.
func (m *Manager) RegisterExternal(id string, factory Factory) {
	m.discovery.RegisterExternal(id, factory)
}

// AddPluginPath appends a filesystem search path before Init.
func (m *Manager) AddPluginPath(path string) {
	m.discovery.AddPath(path)
}

// Discover runs discovery and dependency resolution without loading any
// plugin. Used by introspection commands.
func (m *Manager) Discover() error {
	m.discovery.DiscoverAll()
	_, err := m.resolver.Resolve()
	return err
}

// Init discovers, resolves, loads and activates the plugin population.
// A dependency cycle aborts initialization; every per-plugin failure is
// contained and recorded on that plugin instead.
func (m *Manager) Init(ctx context.Context) error {
	m.discovery.DiscoverAll()

	// Manifest declarations feed the security components before any
	// plugin code runs.
	for _, info := range m.registry.All() {
		if info.Manifest == nil {
			continue
		}
		m.perms.Declare(info.Metadata.ID, info.Manifest.SecurityPermissions())
		if m.monitor != nil {
			m.monitor.SetLimits(info.Metadata.ID, info.Manifest.SecurityLimits())
		}
	}

	resolution, err := m.resolver.Resolve()
	if err != nil {
		return fmt.Errorf("plugin initialization aborted: %w", err)
	}

	for _, id := range resolution.Order {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !resolution.Eligible(id) {
			m.log.Warn().
				Str("plugin", id).
				Strs("reasons", resolution.Unmet[id]).
				Msg("plugin excluded from activation: unmet dependencies")
			m.loader.Fail(id, fmt.Errorf("%w: %v", ErrUnmetDependency, resolution.Unmet[id]))
			continue
		}

		if err := m.load(id); err != nil {
			continue // recorded on the plugin by the loader
		}

		info, _ := m.registry.Get(id)
		switch {
		case info.Metadata.ActivatesOnStartup():
			_ = m.Activate(id)
		case len(info.Metadata.ActivationEvents) > 0:
			m.armActivationEvents(id, info.Metadata.ActivationEvents)
		}
	}

	if m.monitor != nil {
		m.monitor.Start()
	}

	m.log.Info().
		Int("plugins", m.registry.Count()).
		Int("activated", len(m.registry.ByState(StateActivated))).
		Msg("plugin host initialized")
	return nil
}

// load runs the loader under the sandbox.
func (m *Manager) load(id string) error {
	return m.runner.Run(id, func() error {
		return m.loader.Load(id)
	})
}

// Activate activates a loaded plugin under the sandbox.
func (m *Manager) Activate(id string) error {
	return m.runner.Run(id, func() error {
		return m.loader.Activate(id)
	})
}

// Deactivate deactivates an activated plugin.
func (m *Manager) Deactivate(id string) error {
	return m.runner.Run(id, func() error {
		return m.loader.Deactivate(id)
	})
}

// Unload unloads a plugin, cascading through deactivation if needed.
func (m *Manager) Unload(id string) error {
	err := m.runner.Run(id, func() error {
		return m.loader.Unload(id)
	})
	if err == nil {
		m.perms.Revoke(id)
		if m.monitor != nil {
			m.monitor.Untrack(id)
		}
		m.bus.UnsubscribeAll(id)
	}
	return err
}

// Reload unloads, loads and re-activates a plugin.
func (m *Manager) Reload(id string) error {
	return m.runner.Run(id, func() error {
		return m.loader.Reload(id)
	})
}

// Restart supervises a crash restart with bounded exponential backoff.
// When the restart budget is exhausted the plugin ends in StateFailed.
func (m *Manager) Restart(ctx context.Context, id string) error {
	err := m.runner.Supervise(ctx, id, func() error {
		return m.loader.Reload(id)
	})
	if err != nil {
		m.loader.Fail(id, err)
	}
	return err
}

// Refresh re-runs discovery, resolves the population, and brings newly
// discovered plugins up. Already-known plugins are untouched.
func (m *Manager) Refresh(ctx context.Context) error {
	fresh := m.discovery.DiscoverAll()
	if len(fresh) == 0 {
		return nil
	}

	for _, info := range fresh {
		if info.Manifest == nil {
			continue
		}
		m.perms.Declare(info.Metadata.ID, info.Manifest.SecurityPermissions())
		if m.monitor != nil {
			m.monitor.SetLimits(info.Metadata.ID, info.Manifest.SecurityLimits())
		}
	}

	resolution, err := m.resolver.Resolve()
	if err != nil {
		return fmt.Errorf("plugin refresh aborted: %w", err)
	}

	newIDs := make(map[string]bool, len(fresh))
	for _, info := range fresh {
		newIDs[info.Metadata.ID] = true
	}

	for _, id := range resolution.Order {
		if !newIDs[id] {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !resolution.Eligible(id) {
			m.loader.Fail(id, fmt.Errorf("%w: %v", ErrUnmetDependency, resolution.Unmet[id]))
			continue
		}
		if err := m.load(id); err != nil {
			continue
		}
		info, _ := m.registry.Get(id)
		switch {
		case info.Metadata.ActivatesOnStartup():
			_ = m.Activate(id)
		case len(info.Metadata.ActivationEvents) > 0:
			m.armActivationEvents(id, info.Metadata.ActivationEvents)
		}
	}
	return nil
}

// Shutdown deactivates and unloads every plugin in reverse load order,
// stops the monitor, and persists the registry snapshot when configured.
func (m *Manager) Shutdown() error {
	if m.monitor != nil {
		m.monitor.Stop()
	}

	infos := m.registry.All()
	sort.SliceStable(infos, func(i, j int) bool {
		return infos[i].LoadOrder > infos[j].LoadOrder
	})

	for _, info := range infos {
		id := info.Metadata.ID
		switch info.State {
		case StateActivated, StateLoaded, StateDeactivated, StateFailed:
			if err := m.Unload(id); err != nil {
				m.log.Warn().Err(err).Str("plugin", id).Msg("shutdown unload failed")
			}
		}
	}

	if m.cfg.StateFile != "" {
		if err := m.registry.SaveState(m.cfg.StateFile); err != nil {
			return err
		}
	}

	m.log.Info().Msg("plugin host shut down")
	return nil
}

// Command invokes a named command on an activated plugin that implements
// the command handler hook.
func (m *Manager) Command(id, command string, args map[string]any) (any, error) {
	info, ok := m.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	if info.State != StateActivated || info.Instance == nil {
		return nil, fmt.Errorf("plugin %s is not activated", id)
	}
	handler, ok := info.Instance.(CommandHandler)
	if !ok {
		return nil, fmt.Errorf("plugin %s handles no commands", id)
	}

	var result any
	err := m.runner.Run(id, func() error {
		var cmdErr error
		result, cmdErr = handler.Command(command, args)
		return cmdErr
	})
	return result, err
}

// NotifyConfigChanged pushes the current configuration slice to every
// activated plugin that watches configuration changes.
func (m *Manager) NotifyConfigChanged() {
	for _, info := range m.registry.ByState(StateActivated) {
		id := info.Metadata.ID
		err := m.runner.Run(id, func() error {
			return m.loader.NotifyConfigChanged(id)
		})
		if err != nil {
			m.log.Warn().Err(err).Str("plugin", id).Msg("configuration change notification failed")
		}
	}
}

// handleCommandEvent routes a plugin.command event to its target's
// command handler. Event-driven invocations are fire and forget; the
// result is dropped and failures are only logged.
func (m *Manager) handleCommandEvent(e event.Event) {
	if e.Target == "" {
		return
	}
	command, _ := e.Payload["command"].(string)
	if command == "" {
		return
	}
	args, _ := e.Payload["args"].(map[string]any)
	if _, err := m.Command(e.Target, command, args); err != nil {
		m.log.Warn().
			Err(err).
			Str("plugin", e.Target).
			Str("command", command).
			Msg("command event failed")
	}
}

// persistTransition patches the transitioned plugin's entry in the state
// file, keeping it current between full snapshots.
func (m *Manager) persistTransition(e event.Event) {
	id, _ := e.Payload["plugin"].(string)
	if id == "" {
		return
	}
	if err := m.registry.PatchStateFile(m.cfg.StateFile, id); err != nil {
		m.log.Warn().Err(err).Str("plugin", id).Msg("state file update failed")
	}
}

// Count returns the number of registered plugins.
func (m *Manager) Count() int {
	return m.registry.Count()
}

// CountActive returns the number of activated plugins.
func (m *Manager) CountActive() int {
	return len(m.registry.ByState(StateActivated))
}

// List returns every registered plugin in registration order.
func (m *Manager) List() []*Info {
	return m.registry.All()
}

// ListByCapability returns plugins declaring the given capability.
func (m *Manager) ListByCapability(capability string) []*Info {
	return m.registry.ByCapability(capability)
}

// Errors returns the recorded error for every plugin that has one.
func (m *Manager) Errors() map[string]error {
	out := make(map[string]error)
	for _, info := range m.registry.All() {
		if info.Err != nil {
			out[info.Metadata.ID] = info.Err
		}
	}
	return out
}

// armActivationEvents defers activation until the first matching event.
// The subscriptions are owned by the manager and dropped once fired.
func (m *Manager) armActivationEvents(id string, events []string) {
	owner := managerSource + ":" + id
	handler := func(event.Event) {
		m.bus.UnsubscribeAll(owner)
		if err := m.Activate(id); err != nil {
			m.log.Warn().Err(err).Str("plugin", id).Msg("event-triggered activation failed")
		}
	}
	for _, evt := range events {
		if evt == "onStartup" || evt == "*" {
			continue
		}
		if _, err := m.bus.Subscribe(evt, handler, event.WithSubscriber(owner)); err != nil {
			m.log.Warn().Err(err).Str("plugin", id).Str("event", evt).Msg("activation trigger rejected")
		}
	}
}

// enforce maps resource violations to lifecycle actions. It runs on the
// monitor's sampling goroutine and must stay quick.
func (m *Manager) enforce(v security.Violation, action security.Action) {
	m.bus.Emit(event.New(EventResourceViolation, managerSource, map[string]any{
		"plugin":   v.PluginID,
		"resource": v.Resource,
		"observed": v.Observed,
		"limit":    v.Limit,
		"action":   action.String(),
	}))

	switch action {
	case security.ActionSuspend:
		if err := m.Deactivate(v.PluginID); err != nil {
			m.log.Warn().Err(err).Str("plugin", v.PluginID).Msg("suspend failed")
		}
	case security.ActionTerminate:
		if err := m.Unload(v.PluginID); err != nil {
			m.log.Warn().Err(err).Str("plugin", v.PluginID).Msg("terminate failed")
		}
		m.loader.Fail(v.PluginID, fmt.Errorf("terminated: %s limit exceeded (%.1f > %.1f)",
			v.Resource, v.Observed, v.Limit))
	}
}
