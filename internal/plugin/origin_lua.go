package plugin

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dshills/plughost/internal/event"
	luart "github.com/dshills/plughost/internal/plugin/lua"
)

// OnEventFn is the script global invoked for subscribed events.
const OnEventFn = "on_event"

// LuaResolver loads script plugins from directory and file origins.
type LuaResolver struct {
	bus *event.Bus
	log zerolog.Logger
}

// NewLuaResolver creates a resolver for Lua script origins.
func NewLuaResolver(bus *event.Bus, log zerolog.Logger) *LuaResolver {
	return &LuaResolver{bus: bus, log: log}
}

// Resolve implements OriginResolver.
func (r *LuaResolver) Resolve(info *Info) (Instance, error) {
	path, err := scriptPath(info)
	if err != nil {
		return nil, err
	}

	runtime, err := luart.OpenFile(path)
	if err != nil {
		return nil, err
	}

	return &luaInstance{
		runtime:    runtime,
		discovered: info.Metadata,
		log:        r.log,
	}, nil
}

// scriptPath locates the entry file for a script origin.
func scriptPath(info *Info) (string, error) {
	switch info.Origin.Kind {
	case OriginFile:
		return info.Origin.Path, nil
	case OriginDirectory:
		if info.Manifest != nil {
			return info.Manifest.MainPath(), nil
		}
		return filepath.Join(info.Origin.Path, "init.lua"), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrNoOriginResolver, info.Origin.Kind)
	}
}

// luaInstance adapts a script runtime to the Instance contract.
//
// The interpreter mutex is not reentrant, and bus delivery is synchronous:
// an event the script emits while its own entry function runs would be
// delivered straight back into the busy interpreter and deadlock. Entry
// into the interpreter therefore goes through run/dispatch, which queue
// events that arrive while a script call is in flight and deliver them
// after it returns.
type luaInstance struct {
	runtime    *luart.Runtime
	discovered *Metadata
	ctx        *Context
	log        zerolog.Logger

	mu      sync.Mutex
	busy    bool
	pending []event.Event
}

// Metadata merges the discovery-time metadata with whatever the script's
// manifest() entry reports; the script fills gaps, discovery wins on
// identity.
func (p *luaInstance) Metadata() (*Metadata, error) {
	meta := p.discovered.Clone()

	desc, err := p.runtime.Manifest()
	if err != nil {
		return nil, err
	}
	if desc == nil {
		return meta, nil
	}

	if v := luart.StringField(desc, "name"); v != "" {
		meta.Name = v
	}
	if v := luart.StringField(desc, "version"); v != "" {
		meta.Version = v
	}
	if v := luart.StringField(desc, "description"); v != "" {
		meta.Description = v
	}
	if v := luart.StringField(desc, "author"); v != "" {
		meta.Author = v
	}
	if v := luart.StringSliceField(desc, "capabilities"); v != nil {
		meta.Capabilities = v
	}
	if v := luart.StringSliceField(desc, "dependencies"); v != nil {
		meta.Dependencies = v
	}
	if v := luart.StringSliceField(desc, "activationEvents"); v != nil {
		meta.ActivationEvents = v
	}
	return meta, nil
}

// Activate registers the host module and calls the script's activate().
func (p *luaInstance) Activate(ctx *Context) error {
	p.ctx = ctx
	p.runtime.RegisterHostModule(p.hostFuncs(ctx))
	return p.run(p.runtime.Activate)
}

// Deactivate calls the script's deactivate().
func (p *luaInstance) Deactivate() error {
	return p.run(p.runtime.Deactivate)
}

// run executes a script entry with exclusive use of the interpreter, then
// delivers the events that were queued for the plugin while it ran.
func (p *luaInstance) run(fn func() error) error {
	p.mu.Lock()
	p.busy = true
	p.mu.Unlock()

	err := fn()
	p.drain()
	return err
}

// drain delivers queued events one at a time, releasing the busy flag
// once the queue is empty. Events emitted during a queued delivery are
// appended and picked up by the same loop.
func (p *luaInstance) drain() {
	for {
		p.mu.Lock()
		if len(p.pending) == 0 {
			p.busy = false
			p.mu.Unlock()
			return
		}
		e := p.pending[0]
		p.pending = p.pending[1:]
		p.mu.Unlock()

		p.deliver(e)
	}
}

// Close releases the interpreter.
func (p *luaInstance) Close() error {
	return p.runtime.Close()
}

// hostFuncs builds the host API table handed to the script. Every
// side-effecting call goes through the context's permission-checked
// service proxy.
func (p *luaInstance) hostFuncs(ctx *Context) map[string]luart.GoFunc {
	return map[string]luart.GoFunc{
		"emit": func(args []any) (any, error) {
			if len(args) < 1 {
				return nil, fmt.Errorf("emit: event type required")
			}
			eventType, ok := args[0].(string)
			if !ok {
				return nil, fmt.Errorf("emit: event type must be a string")
			}
			var payload map[string]any
			if len(args) > 1 {
				payload, _ = args[1].(map[string]any)
			}
			ctx.EmitEvent(eventType, payload)
			return nil, nil
		},
		"subscribe": func(args []any) (any, error) {
			if len(args) < 1 {
				return nil, fmt.Errorf("subscribe: event type required")
			}
			eventType, ok := args[0].(string)
			if !ok {
				return nil, fmt.Errorf("subscribe: event type must be a string")
			}
			return ctx.SubscribeEvent(eventType, p.dispatch)
		},
		"log": func(args []any) (any, error) {
			level, message := "info", ""
			if len(args) > 1 {
				level, _ = args[0].(string)
				message = fmt.Sprintf("%v", args[1])
			} else if len(args) == 1 {
				message = fmt.Sprintf("%v", args[0])
			}
			p.logAt(level, ctx.PluginID, message)
			return nil, nil
		},
		"config": func(args []any) (any, error) {
			if len(args) < 1 {
				return nil, fmt.Errorf("config: key required")
			}
			key, ok := args[0].(string)
			if !ok {
				return nil, fmt.Errorf("config: key must be a string")
			}
			return ctx.Config[key], nil
		},
		"data_path": func([]any) (any, error) {
			return ctx.DataPath, nil
		},
		"read_file": func(args []any) (any, error) {
			if len(args) < 1 {
				return nil, fmt.Errorf("read_file: path required")
			}
			path, ok := args[0].(string)
			if !ok {
				return nil, fmt.Errorf("read_file: path must be a string")
			}
			data, err := ctx.Services.ReadFile(path)
			if err != nil {
				return nil, err
			}
			return string(data), nil
		},
		"write_file": func(args []any) (any, error) {
			if len(args) < 2 {
				return nil, fmt.Errorf("write_file: path and content required")
			}
			path, ok := args[0].(string)
			if !ok {
				return nil, fmt.Errorf("write_file: path must be a string")
			}
			content := fmt.Sprintf("%v", args[1])
			return nil, ctx.Services.WriteFile(path, []byte(content))
		},
		"notify": func(args []any) (any, error) {
			level, message := "info", ""
			if len(args) > 1 {
				level, _ = args[0].(string)
				message = fmt.Sprintf("%v", args[1])
			} else if len(args) == 1 {
				message = fmt.Sprintf("%v", args[0])
			}
			return nil, ctx.Services.Notify(level, message)
		},
		"execute": func(args []any) (any, error) {
			if len(args) < 1 {
				return nil, fmt.Errorf("execute: command id required")
			}
			id, ok := args[0].(string)
			if !ok {
				return nil, fmt.Errorf("execute: command id must be a string")
			}
			var cmdArgs map[string]any
			if len(args) > 1 {
				cmdArgs, _ = args[1].(map[string]any)
			}
			return ctx.Services.ExecuteCommand(id, cmdArgs)
		},
	}
}

// dispatch receives a bus event for the plugin. When the interpreter is
// already executing on behalf of this plugin the event is queued for the
// in-flight call to deliver on its way out; entering the interpreter here
// would deadlock on its mutex.
func (p *luaInstance) dispatch(e event.Event) {
	p.mu.Lock()
	if p.busy {
		p.pending = append(p.pending, e)
		p.mu.Unlock()
		return
	}
	p.busy = true
	p.mu.Unlock()

	p.deliver(e)
	p.drain()
}

// deliver forwards one event into the script's on_event global. Only the
// run/dispatch/drain paths may call it; they guarantee exclusive use of
// the interpreter.
func (p *luaInstance) deliver(e event.Event) {
	if !p.runtime.HasGlobal(OnEventFn) {
		return
	}
	payload := map[string]any{
		"id":        e.ID,
		"type":      e.Type,
		"source":    e.Source,
		"target":    e.Target,
		"payload":   e.Payload,
		"priority":  int(e.Priority),
		"timestamp": e.Timestamp.Unix(),
	}
	if err := p.runtime.CallGlobal(OnEventFn, e.Type, payload); err != nil {
		p.log.Warn().
			Err(err).
			Str("plugin", p.discovered.ID).
			Str("event_type", e.Type).
			Msg("script event handler failed")
	}
}

// logAt routes a script log call to the host logger.
func (p *luaInstance) logAt(level, pluginID, message string) {
	evt := p.log.Info()
	switch level {
	case "debug":
		evt = p.log.Debug()
	case "warn", "warning":
		evt = p.log.Warn()
	case "error":
		evt = p.log.Error()
	}
	evt.Str("plugin", pluginID).Msg(message)
}
