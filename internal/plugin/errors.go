package plugin

import "errors"

// Plugin host errors.
var (
	// ErrPluginNotFound is returned when a plugin id is not registered.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrDuplicateRegistration is returned when registering an id twice.
	ErrDuplicateRegistration = errors.New("plugin already registered")

	// ErrInvalidTransition is returned for lifecycle transitions absent
	// from the transition table.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrDependencyCycle is returned when the dependency graph contains a
	// cycle; no load order exists.
	ErrDependencyCycle = errors.New("dependency cycle detected")

	// ErrUnmetDependency marks a plugin whose required dependencies are
	// missing or version-incompatible.
	ErrUnmetDependency = errors.New("unmet dependency")

	// ErrNoEntryPoint is returned when a plugin directory has no manifest
	// and no init.lua.
	ErrNoEntryPoint = errors.New("plugin has no entry point")

	// ErrNilManifest is returned when a nil manifest is provided.
	ErrNilManifest = errors.New("manifest is nil")

	// ErrNoOriginResolver is returned when no resolver is registered for a
	// plugin's origin kind.
	ErrNoOriginResolver = errors.New("no resolver for plugin origin")

	// ErrEntryContract is returned when a loaded plugin does not expose
	// the entry contract.
	ErrEntryContract = errors.New("plugin does not satisfy entry contract")

	// ErrInvalidDependency is returned for malformed dependency specs.
	ErrInvalidDependency = errors.New("invalid dependency spec")

	// ErrServiceUnavailable is returned by the service proxy when the
	// shell did not provide the requested collaborator.
	ErrServiceUnavailable = errors.New("host service unavailable")
)
