// Package mux implements a multiplexing connection server for named duplex
// byte pipes. The underlying transport carries one connection per endpoint
// name, so the server rendezvouses each client on a well-known endpoint,
// grants it a freshly minted private endpoint name, and promotes the
// reconnect on that private endpoint into a tracked connection.
//
// Key concepts:
// - Server: runs the accept loop on a background goroutine, owns the
//   connection registry and the private-endpoint counter
// - Conn: one promoted client connection with a read pump and a mutable
//   display name
// - Client: the client half of the rendezvous; also serves as the synthetic
//   connection used to unblock a parked accept during shutdown
// - Events: explicit observer registration, multiple subscribers per kind,
//   delivered in event order from a dedicated dispatcher goroutine
package mux
