package plugin

import (
	"github.com/dshills/plughost/internal/security"
)

// Host service collaborators. Implementations live in the embedding shell;
// the host only defines the boundary and enforces permissions in front of
// it.

// CommandService executes and registers shell commands.
type CommandService interface {
	Execute(id string, args map[string]any) (any, error)
	Register(id string, handler func(args map[string]any) (any, error)) error
	Unregister(id string)
}

// ConfigService reads and writes shell configuration.
type ConfigService interface {
	Get(key string) (any, bool)
	Set(key string, value any) error
}

// WorkspaceService performs workspace file operations.
type WorkspaceService interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	Root() string
}

// ThemeService answers theme queries.
type ThemeService interface {
	Current() string
	Color(name string) (string, bool)
}

// NotificationService shows user-facing notifications.
type NotificationService interface {
	Notify(level, message string)
}

// HostServices bundles the shell collaborators handed to the Manager.
// Any nil service makes the corresponding proxy calls fail cleanly.
type HostServices struct {
	Commands      CommandService
	Config        ConfigService
	Workspace     WorkspaceService
	Theme         ThemeService
	Notifications NotificationService
}

// ServiceProxy is the capability-scoped view of host services handed to a
// single plugin. Every call checks the permission manager first and fails
// with a PermissionError before touching the underlying service.
type ServiceProxy struct {
	pluginID string
	services HostServices
	perms    *security.Permissions
}

// NewServiceProxy creates a proxy scoped to one plugin.
func NewServiceProxy(pluginID string, services HostServices, perms *security.Permissions) *ServiceProxy {
	return &ServiceProxy{pluginID: pluginID, services: services, perms: perms}
}

// ExecuteCommand runs a shell command on the plugin's behalf.
func (p *ServiceProxy) ExecuteCommand(id string, args map[string]any) (any, error) {
	if err := p.perms.Check(p.pluginID, security.CategorySystem, security.ScopeExecute, "command/"+id); err != nil {
		return nil, err
	}
	if p.services.Commands == nil {
		return nil, ErrServiceUnavailable
	}
	return p.services.Commands.Execute(id, args)
}

// RegisterCommand registers a command handler owned by the plugin.
func (p *ServiceProxy) RegisterCommand(id string, handler func(args map[string]any) (any, error)) error {
	if err := p.perms.Check(p.pluginID, security.CategorySystem, security.ScopeWrite, "command/"+id); err != nil {
		return err
	}
	if p.services.Commands == nil {
		return ErrServiceUnavailable
	}
	return p.services.Commands.Register(id, handler)
}

// GetConfig reads a configuration value.
func (p *ServiceProxy) GetConfig(key string) (any, bool, error) {
	if err := p.perms.Check(p.pluginID, security.CategorySystem, security.ScopeRead, "config/"+key); err != nil {
		return nil, false, err
	}
	if p.services.Config == nil {
		return nil, false, nil
	}
	v, ok := p.services.Config.Get(key)
	return v, ok, nil
}

// SetConfig writes a configuration value.
func (p *ServiceProxy) SetConfig(key string, value any) error {
	if err := p.perms.Check(p.pluginID, security.CategorySystem, security.ScopeWrite, "config/"+key); err != nil {
		return err
	}
	if p.services.Config == nil {
		return nil
	}
	return p.services.Config.Set(key, value)
}

// ReadFile reads a workspace file.
func (p *ServiceProxy) ReadFile(path string) ([]byte, error) {
	if err := p.perms.Check(p.pluginID, security.CategoryFilesystem, security.ScopeRead, path); err != nil {
		return nil, err
	}
	if p.services.Workspace == nil {
		return nil, ErrServiceUnavailable
	}
	return p.services.Workspace.ReadFile(path)
}

// WriteFile writes a workspace file.
func (p *ServiceProxy) WriteFile(path string, data []byte) error {
	if err := p.perms.Check(p.pluginID, security.CategoryFilesystem, security.ScopeWrite, path); err != nil {
		return err
	}
	if p.services.Workspace == nil {
		return ErrServiceUnavailable
	}
	return p.services.Workspace.WriteFile(path, data)
}

// CurrentTheme returns the active theme name.
func (p *ServiceProxy) CurrentTheme() (string, error) {
	if err := p.perms.Check(p.pluginID, security.CategoryUI, security.ScopeRead, "theme"); err != nil {
		return "", err
	}
	if p.services.Theme == nil {
		return "", nil
	}
	return p.services.Theme.Current(), nil
}

// Notify shows a notification to the user.
func (p *ServiceProxy) Notify(level, message string) error {
	if err := p.perms.Check(p.pluginID, security.CategoryUI, security.ScopeWrite, "notification"); err != nil {
		return err
	}
	if p.services.Notifications == nil {
		return nil
	}
	p.services.Notifications.Notify(level, message)
	return nil
}
