package chat

import (
	"crypto/ed25519"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/emberchat/emberchat/capability"
	"github.com/emberchat/emberchat/chaterrs"
	"github.com/emberchat/emberchat/event"
	"github.com/emberchat/emberchat/wire"
)

// authenticateArgs is the wire payload of Gateway's authenticate method,
// per spec §6. message is an opaque caller-supplied challenge; Gateway only
// checks that signature verifies under peerVKey for it, never which bytes
// were chosen — that decision is left to whoever drives the handshake
// (the caller of Authenticate), resolving the "FIXTHIS" note in the
// original.
type authenticateArgs struct {
	PeerVKey  wire.PeerKey
	Message   []byte
	Signature wire.Signature
}

type authenticateResult struct {
	Portal wire.DescExport
}

// Gateway is the bootstrap capability every session resolves "gateway" to.
// It is per-session (one Gateway value per fetch, never shared across
// sessions) because Authenticate must know which session a successful
// verification should export the resulting Portal onto.
type Gateway struct {
	sess  wire.Session
	inbox chan<- event.NetworkEvent
}

// NewGateway constructs the Gateway exported on sess, publishing
// PortalRequest events onto inbox.
func NewGateway(sess wire.Session, inbox chan<- event.NetworkEvent) *Gateway {
	return &Gateway{sess: sess, inbox: inbox}
}

// Kind implements capability.Tagged.
func (g *Gateway) Kind() capability.Kind { return capability.KindGateway }

// Deliver implements wire.Capability. authenticate is Gateway's one
// deliver-with-reply method: verify the Ed25519 signature, then hand off to
// the Chat Manager to get-or-create this peer's Portal and export it on the
// calling session.
func (g *Gateway) Deliver(method string, args []byte) ([]byte, error) {
	if method != "authenticate" {
		return nil, fmt.Errorf("%w: %s", chaterrs.ErrUnknownMethod, method)
	}

	var ab authenticateArgs
	if err := cbor.Unmarshal(args, &ab); err != nil {
		return nil, fmt.Errorf("%w: %v", chaterrs.ErrProtocolError, err)
	}
	// The claimed peer_vkey must be the same key this session's handshake
	// already announced: authenticate proves the caller controls the key
	// its transport identity claimed, it doesn't introduce a second,
	// independent identity. This is what lets handleSessionAborted evict
	// portals/outboxes by the session's own RemoteKey() and have that
	// evict exactly what handlePortalRequest inserted.
	if ab.PeerVKey != g.sess.RemoteKey() {
		return nil, chaterrs.ErrAuthFailure
	}
	if !ed25519.Verify(ed25519.PublicKey(ab.PeerVKey[:]), ab.Message, ab.Signature[:]) {
		return nil, chaterrs.ErrAuthFailure
	}

	type portalResult struct {
		pos uint64
		err error
	}
	done := make(chan portalResult, 1)

	select {
	case g.inbox <- event.NetworkEvent{
		Kind:    event.PortalRequest,
		Session: g.sess,
		PeerKey: g.sess.RemoteKey(),
		PortalReply: func(position uint64, err error) {
			done <- portalResult{pos: position, err: err}
		},
	}:
	case <-g.sess.Done():
		return nil, chaterrs.ErrSessionAborted
	}

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		return cbor.Marshal(authenticateResult{Portal: wire.DescExport{Position: r.pos}})
	case <-g.sess.Done():
		return nil, chaterrs.ErrSessionAborted
	}
}

// DeliverOnly implements wire.Capability; Gateway has no deliver_only
// methods.
func (g *Gateway) DeliverOnly(method string, args []byte) error {
	return fmt.Errorf("%w: %s", chaterrs.ErrUnknownMethod, method)
}
