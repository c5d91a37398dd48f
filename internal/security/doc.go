// Package security provides the permission manager and the resource
// monitor for the plugin host.
//
// Permissions are default-deny: a check passes only if the plugin declared
// a permission whose category and scope match and whose resource pattern
// matches the requested resource. Undeclared access can be requested at
// runtime through an injected Prompter; decisions are cached for the
// session.
//
// The resource monitor samples per-plugin usage through an injected
// Sampler and escalates limit breaches according to a configurable policy.
package security
