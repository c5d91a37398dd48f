package plugin

import (
	"github.com/dshills/plughost/internal/event"
)

// Context is the host surface handed to a plugin at activation. It is
// exclusively owned by one plugin and never shared across plugins.
type Context struct {
	// PluginID is the owning plugin's id.
	PluginID string

	// PluginPath is the plugin's install directory, if any.
	PluginPath string

	// DataPath is a namespaced directory the plugin may persist data in.
	DataPath string

	// Services is the permission-checked host service proxy.
	Services *ServiceProxy

	// Config is the plugin's configuration slice: manifest defaults
	// overlaid with host-provided values.
	Config map[string]any

	bus           *event.Bus
	subscriptions []string
}

// EmitEvent publishes an event on the plugin's behalf. The source is
// forced to the plugin id.
func (c *Context) EmitEvent(eventType string, payload map[string]any) {
	e := event.New(eventType, c.PluginID, payload)
	c.bus.Emit(e)
}

// SubscribeEvent subscribes the plugin to an event type. The subscription
// is tracked and released when the plugin deactivates.
func (c *Context) SubscribeEvent(eventType string, handler event.Handler, opts ...event.SubscribeOption) (string, error) {
	opts = append(opts, event.WithSubscriber(c.PluginID))
	handle, err := c.bus.Subscribe(eventType, handler, opts...)
	if err != nil {
		return "", err
	}
	c.subscriptions = append(c.subscriptions, handle)
	return handle, nil
}

// Bus returns the shared event bus handle.
func (c *Context) Bus() *event.Bus {
	return c.bus
}

// release drops every subscription the plugin made through this context.
func (c *Context) release() {
	for _, handle := range c.subscriptions {
		c.bus.Unsubscribe(handle)
	}
	c.subscriptions = nil
}
