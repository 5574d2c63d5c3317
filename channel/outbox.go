package channel

import (
	"context"
	"sync"

	"github.com/emberchat/emberchat/wire"
)

// pendingCap is the size of Outbox's diagnostic ring buffer of recently
// sent messages. It is not a replay buffer — see SPEC_FULL.md §5.
const pendingCap = 32

// Outbox is a remote object reference representing one peer's receiving
// endpoint for a channel on a specific session, per spec §3. It wraps a
// session and the remote's export position for its inbox.
type Outbox struct {
	peerKey  wire.PeerKey
	sess     wire.Session
	position uint64

	mu      sync.Mutex
	pending []*Message
}

// NewOutbox wraps sess + position, the remote's exported channel endpoint,
// as the outbox used to reach peerKey.
func NewOutbox(peerKey wire.PeerKey, sess wire.Session, position uint64) *Outbox {
	return &Outbox{peerKey: peerKey, sess: sess, position: position}
}

// PeerKey is the remote peer this outbox delivers to.
func (o *Outbox) PeerKey() wire.PeerKey { return o.peerKey }

// SendMsg delivers msg to the remote's channel endpoint as a deliver_only
// call. A session that has already aborted fails the write immediately,
// which Channel.SendMsg reports as ErrDeliverFailed; the outbox itself is
// evicted separately, when the Chat Manager handles SessionAborted.
func (o *Outbox) SendMsg(ctx context.Context, msg *Message) error {
	payload, err := marshalWire(msg)
	if err != nil {
		return err
	}
	if err := o.sess.DeliverOnly(o.position, "send_msg", payload); err != nil {
		return err
	}
	o.record(msg)
	return nil
}

// Introduce delivers a peer introduction to the remote's channel endpoint.
func (o *Outbox) Introduce(ctx context.Context, peerKey wire.PeerKey, ref wire.SturdyRef) error {
	payload, err := marshalIntroduce(peerKey, ref)
	if err != nil {
		return err
	}
	return o.sess.DeliverOnly(o.position, "introduce", payload)
}

func (o *Outbox) record(msg *Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = append(o.pending, msg)
	if len(o.pending) > pendingCap {
		o.pending = o.pending[len(o.pending)-pendingCap:]
	}
}

// Recent returns a snapshot of the last messages sent through this outbox,
// for diagnostics and tests only.
func (o *Outbox) Recent() []*Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Message, len(o.pending))
	copy(out, o.pending)
	return out
}
