// Package plugin implements the plugin host: discovery of installable
// plugins, a metadata registry with a validated lifecycle state machine,
// dependency resolution with cycle detection, a loader that drives plugin
// code through the entry contract, and the orchestrating Manager that wires
// these together with the event bus, permission manager, resource monitor
// and sandbox.
//
// There is no hidden global state: a Manager owns one instance of each
// component and hands references to consumers.
package plugin
