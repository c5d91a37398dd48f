// Package event provides the host-wide publish/subscribe bus.
//
// Subscribers register for a single event type with an optional predicate
// and a delivery priority. A single Emit delivers synchronously to every
// active matching subscriber in descending priority order; ties preserve
// subscription order. Handler panics are recovered and logged so one
// misbehaving subscriber cannot starve the rest.
//
// Every emitted event is also admitted to a bounded in-memory history ring
// that can be queried by type and source for diagnostics.
package event
