// Package lua embeds the Lua interpreter that runs script plugins.
//
// A script plugin is a Lua file that may define optional global
// functions: manifest() returning a descriptor table, activate(),
// deactivate(), and on_event(type, event) for subscribed events. The
// host API is registered as the global "host" module before activation.
//
// gopher-lua states are not goroutine-safe; State serializes all access
// with an internal mutex.
package lua
