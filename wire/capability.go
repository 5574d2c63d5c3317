package wire

// Capability is satisfied by any local object that can be exported on a
// session: Deliver services a call expecting a reply, DeliverOnly services a
// fire-and-forget call. Both receive the raw CBOR-encoded argument bytes and
// return raw CBOR-encoded result bytes (or an error, which becomes a broken
// promise on the wire).
//
// Concrete capabilities (Gateway, Portal, Channel, Persona) live in the
// chat/channel packages and dispatch on method name internally; wire only
// needs this narrow interface to route incoming calls to an export
// position.
type Capability interface {
	Deliver(method string, args []byte) (result []byte, err error)
	DeliverOnly(method string, args []byte) error
}
