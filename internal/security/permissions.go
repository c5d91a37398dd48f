package security

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Category groups permissions by the kind of resource they guard.
type Category string

// Permission categories.
const (
	CategoryFilesystem Category = "filesystem"
	CategoryNetwork    Category = "network"
	CategorySystem     Category = "system"
	CategoryUI         Category = "ui"
)

// Scope is the access mode a permission grants.
type Scope string

// Permission scopes.
const (
	ScopeRead    Scope = "read"
	ScopeWrite   Scope = "write"
	ScopeExecute Scope = "execute"
)

// Permission is a (category, scope, resource pattern) triple. The resource
// pattern is glob-style: '*' matches any remainder including separators.
type Permission struct {
	Category Category
	Scope    Scope
	Resource string
}

// String returns a compact representation, e.g. "filesystem:read:/home/*".
func (p Permission) String() string {
	return fmt.Sprintf("%s:%s:%s", p.Category, p.Scope, p.Resource)
}

// PermissionError reports a denied operation.
type PermissionError struct {
	PluginID string
	Category Category
	Scope    Scope
	Resource string
}

// Error implements the error interface.
func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: plugin %q lacks %s:%s for %q",
		e.PluginID, e.Category, e.Scope, e.Resource)
}

// NewPermissionError creates a PermissionError.
func NewPermissionError(pluginID string, cat Category, scope Scope, resource string) *PermissionError {
	return &PermissionError{PluginID: pluginID, Category: cat, Scope: scope, Resource: resource}
}

// Prompter decides runtime permission requests for permissions a plugin
// did not declare. Implemented by an external UI collaborator.
type Prompter interface {
	RequestPermission(pluginID string, perm Permission) bool
}

// PrompterFunc adapts a function to the Prompter interface.
type PrompterFunc func(pluginID string, perm Permission) bool

// RequestPermission implements Prompter.
func (f PrompterFunc) RequestPermission(pluginID string, perm Permission) bool {
	return f(pluginID, perm)
}

// Permissions is the process-wide permission manager.
// All methods are safe for concurrent use.
type Permissions struct {
	mu       sync.RWMutex
	declared map[string][]Permission
	// session holds runtime grant decisions, both allow and deny.
	session  map[string]map[Permission]bool
	prompter Prompter
	log      zerolog.Logger
}

// PermissionsOption configures a Permissions manager.
type PermissionsOption func(*Permissions)

// WithPrompter sets the runtime grant collaborator. Without one, every
// runtime request is denied.
func WithPrompter(p Prompter) PermissionsOption {
	return func(pm *Permissions) {
		pm.prompter = p
	}
}

// WithPermissionsLogger sets the logger.
func WithPermissionsLogger(log zerolog.Logger) PermissionsOption {
	return func(pm *Permissions) {
		pm.log = log
	}
}

// NewPermissions creates a permission manager.
func NewPermissions(opts ...PermissionsOption) *Permissions {
	pm := &Permissions{
		declared: make(map[string][]Permission),
		session:  make(map[string]map[Permission]bool),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(pm)
	}
	return pm
}

// Declare records a plugin's manifest permissions, replacing any prior
// declaration for that plugin.
func (pm *Permissions) Declare(pluginID string, perms []Permission) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.declared[pluginID] = append([]Permission(nil), perms...)
}

// Revoke removes all declared permissions and session grants for a plugin.
func (pm *Permissions) Revoke(pluginID string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.declared, pluginID)
	delete(pm.session, pluginID)
}

// Declared returns a copy of a plugin's declared permissions.
func (pm *Permissions) Declared(pluginID string) []Permission {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return append([]Permission(nil), pm.declared[pluginID]...)
}

// Has reports whether the plugin may access the resource. Default deny:
// true only for a declared or session-granted permission whose category
// and scope match and whose pattern matches the resource.
func (pm *Permissions) Has(pluginID string, cat Category, scope Scope, resource string) bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	for _, p := range pm.declared[pluginID] {
		if p.Category == cat && p.Scope == scope && matchResource(p.Resource, resource) {
			return true
		}
	}
	for p, granted := range pm.session[pluginID] {
		if granted && p.Category == cat && p.Scope == scope && matchResource(p.Resource, resource) {
			return true
		}
	}
	return false
}

// Check returns a PermissionError if access is denied.
func (pm *Permissions) Check(pluginID string, cat Category, scope Scope, resource string) error {
	if !pm.Has(pluginID, cat, scope, resource) {
		return NewPermissionError(pluginID, cat, scope, resource)
	}
	return nil
}

// Request resolves an undeclared permission at runtime. The decision is
// delegated to the prompter and cached for the session, so each distinct
// permission is asked at most once per plugin.
func (pm *Permissions) Request(pluginID string, cat Category, scope Scope, resource string) bool {
	if pm.Has(pluginID, cat, scope, resource) {
		return true
	}

	perm := Permission{Category: cat, Scope: scope, Resource: resource}

	pm.mu.Lock()
	if decision, ok := pm.session[pluginID][perm]; ok {
		pm.mu.Unlock()
		return decision
	}
	prompter := pm.prompter
	pm.mu.Unlock()

	granted := false
	if prompter != nil {
		granted = prompter.RequestPermission(pluginID, perm)
	}

	pm.mu.Lock()
	if pm.session[pluginID] == nil {
		pm.session[pluginID] = make(map[Permission]bool)
	}
	pm.session[pluginID][perm] = granted
	pm.mu.Unlock()

	pm.log.Info().
		Str("plugin", pluginID).
		Str("permission", perm.String()).
		Bool("granted", granted).
		Msg("runtime permission request")

	return granted
}

// matchResource matches a glob-style pattern against a resource.
// '*' matches any remainder, including path separators.
func matchResource(pattern, resource string) bool {
	if pattern == "" {
		return resource == ""
	}

	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == resource
	}

	// Anchored prefix.
	if !strings.HasPrefix(resource, parts[0]) {
		return false
	}
	rest := resource[len(parts[0]):]

	// Middle segments must appear in order.
	for _, part := range parts[1 : len(parts)-1] {
		idx := strings.Index(rest, part)
		if idx < 0 {
			return false
		}
		rest = rest[idx+len(part):]
	}

	// Anchored suffix; empty suffix means trailing '*'.
	last := parts[len(parts)-1]
	return last == "" || strings.HasSuffix(rest, last)
}
