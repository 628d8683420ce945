// Package server runs the broker server: the process of matching bitness
// that owns the store session.
//
// A Server logs on, binds the notification subsystem, listens on loopback
// and registers its class in the registry so the host can activate it.
// Broker answers every remote operation; Forwarder pushes notifications to
// the host's callback service, which Activator resolves through the same
// registry on first use. The server exits when asked through Stop, when its
// host process disappears or when its context ends, releasing everything in
// reverse order.
package server
