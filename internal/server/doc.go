// Package server implements the multi-room line chat relay.
//
// Clients connect over TCP (or the WebSocket bridge), pick a name and a room,
// and every line they send is relayed to everyone currently in that room.
// The Registry is the only shared mutable state; each accepted connection
// runs its own session goroutine and owns a single writer goroutine that
// performs all socket writes outside the Registry lock.
package server
