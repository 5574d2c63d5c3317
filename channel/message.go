package channel

import (
	"crypto/ed25519"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/emberchat/emberchat/wire"
)

// signedFields is the exact, deterministic byte shape signed over: (id,
// sender, body). cbor encodes a struct as a map keyed by field name; the
// canonical mode sorts those keys, so a future field reordering does not
// change the signed bytes.
type signedFields struct {
	ID     uuid.UUID
	Sender wire.PeerKey
	Body   string
}

var canonicalMode = func() cbor.EncMode {
	m, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return m
}()

// Message is a signed chat message, per spec §3: the signature covers the
// canonical serialization of (id, sender, body).
type Message struct {
	ID        uuid.UUID
	Sender    wire.PeerKey
	Body      string
	Signature wire.Signature
}

// NewMessage constructs a Message with a fresh UUIDv4 id, signed under
// signingKey. Sender must be the public key corresponding to signingKey.
func NewMessage(sender wire.PeerKey, body string, signingKey ed25519.PrivateKey) (*Message, error) {
	m := &Message{
		ID:     uuid.New(),
		Sender: sender,
		Body:   body,
	}
	fieldBytes, err := m.canonicalBytes()
	if err != nil {
		return nil, err
	}
	sig := ed25519.Sign(signingKey, fieldBytes)
	if len(sig) != len(m.Signature) {
		return nil, fmt.Errorf("channel: unexpected signature length %d", len(sig))
	}
	copy(m.Signature[:], sig)
	return m, nil
}

// canonicalBytes serializes (id, sender, body) deterministically for
// signing and verification.
func (m *Message) canonicalBytes() ([]byte, error) {
	return canonicalMode.Marshal(signedFields{ID: m.ID, Sender: m.Sender, Body: m.Body})
}

// VerifyStrict re-serializes m's (id, sender, body) and verifies Signature
// against key, per spec's round-trip law: verify_strict is deterministic.
func (m *Message) VerifyStrict(key wire.PeerKey) bool {
	fieldBytes, err := m.canonicalBytes()
	if err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(key[:]), fieldBytes, m.Signature[:])
}

// marshalWire encodes m for transmission as a deliver_only argument.
func marshalWire(m *Message) ([]byte, error) {
	return cbor.Marshal(m)
}

func unmarshalWire(b []byte) (*Message, error) {
	var m Message
	if err := cbor.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Marshal encodes m in the wire shape a send_msg deliver_only call carries.
func (m *Message) Marshal() ([]byte, error) { return marshalWire(m) }

// ParseMessage decodes a Message from a send_msg deliver_only payload.
func ParseMessage(b []byte) (*Message, error) { return unmarshalWire(b) }
