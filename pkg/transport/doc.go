// Package transport defines the named-endpoint pipe interfaces used by the
// connection server and provides basic implementations (winpipe, mem).
//
// Key concepts:
// - Transport: dials/listens on named duplex byte pipes of a specific Kind
// - Listener: accepts inbound connections on one endpoint name; at most one
//   listener per name may exist at a time
// - ListenOptions: endpoint creation options, including an opaque OS
//   security descriptor that is passed through unexamined
package transport
