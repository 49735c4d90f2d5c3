// Package protocol defines the framing and message envelope exchanged over a
// private data pipe after the rendezvous completes.
package protocol

// Message is the application envelope carried by one data frame.
// Body is opaque to the server; Type routes it on the receiving side.
type Message struct {
	Type   string `json:"type,omitempty" cbor:"1,keyasint,omitempty"`
	Sender string `json:"sender,omitempty" cbor:"2,keyasint,omitempty"`
	Body   []byte `json:"body,omitempty" cbor:"3,keyasint,omitempty"`
}
