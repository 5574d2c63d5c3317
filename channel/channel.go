// Package channel implements spec.md §4.4: per-channel fan-out of signed
// messages and peer introductions to all connected remote outboxes,
// grounded on the teacher's htlcswitch.Switch (RegisterLink/forward
// generalized from HTLCs to chat messages and a fixed two-method
// capability surface instead of the Lightning wire protocol).
package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/btcsuite/btclog"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/emberchat/emberchat/capability"
	"github.com/emberchat/emberchat/chaterrs"
	"github.com/emberchat/emberchat/metrics"
	"github.com/emberchat/emberchat/wire"
)

// eventBacklog bounds the channel's own event stream; per spec §5 this is
// meant to be unbounded, but an implementation must choose a build-time
// bound somewhere — on fill the newest event is dropped and a warning
// logged, never blocking the producer.
const eventBacklog = 1024

// Info is a channel's mutable display metadata.
type Info struct {
	Name        string
	Description string
}

// Listing is the serializable summary returned by Portal.ListChannels.
type Listing struct {
	ID   uuid.UUID
	Info Info
}

// Channel is a chat channel: identity, display info, an event stream, and
// the bookkeeping described in spec §3 — exportedAt iff exported on a
// session, outboxes iff that session's peer has connected.
type Channel struct {
	id   uuid.UUID
	info Info

	mu         sync.RWMutex
	exportedAt map[wire.PeerKey]uint64
	outboxes   map[wire.PeerKey]*Outbox

	events chan Event
	log    btclog.Logger
	mtr    *metrics.Collectors
}

// New constructs a Channel with the given id and display info.
func New(id uuid.UUID, info Info, log btclog.Logger) *Channel {
	if log == nil {
		log = btclog.Disabled
	}
	return &Channel{
		id:         id,
		info:       info,
		exportedAt: make(map[wire.PeerKey]uint64),
		outboxes:   make(map[wire.PeerKey]*Outbox),
		events:     make(chan Event, eventBacklog),
		log:        log,
	}
}

// SetMetrics attaches a Collectors for this channel's fan-out counters. A
// nil argument (the default) disables metrics without any caller-side
// nil-checking.
func (c *Channel) SetMetrics(mtr *metrics.Collectors) { c.mtr = mtr }

func (c *Channel) ID() uuid.UUID { return c.id }
func (c *Channel) Info() Info    { return c.info }
func (c *Channel) Listing() Listing {
	return Listing{ID: c.id, Info: c.info}
}

// Kind implements capability.Tagged.
func (c *Channel) Kind() capability.Kind { return capability.KindChannel }

// Events yields this channel's event stream: RecvMessage, Introduce and
// PeerConnected occurrences, in the order the owning session delivered the
// underlying calls.
func (c *Channel) Events() <-chan Event { return c.events }

func (c *Channel) publish(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.log.Warnf("channel %s: event backlog full, dropping %v event", c.id, ev.Kind)
	}
}

// ExportOn returns the position this channel is exported at on the session
// belonging to peerKey, exporting it fresh via sess if this is the first
// time. Per spec §4.3 Portal.Connect step 2: reuse on repeat, never
// double-export.
func (c *Channel) ExportOn(peerKey wire.PeerKey, sess wire.Session) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pos, ok := c.exportedAt[peerKey]; ok {
		return pos
	}
	pos := sess.Export(c)
	c.exportedAt[peerKey] = pos
	return pos
}

// ConnectPeer registers the remote's outbox (wrapping remoteOutboxPos on
// sess) for peerKey, replacing any prior registration, per spec §4.4's
// connect_peer and the idempotence property for repeated Portal.Connect.
func (c *Channel) ConnectPeer(peerKey wire.PeerKey, sess wire.Session, remoteOutboxPos uint64) {
	ob := NewOutbox(peerKey, sess, remoteOutboxPos)
	c.mu.Lock()
	c.outboxes[peerKey] = ob
	c.mu.Unlock()
	c.publish(Event{Kind: PeerConnected, ChannelID: c.id, PeerKey: peerKey})
}

// EvictSession removes peerKey's outbox, called by the Chat Manager on
// SessionAborted. Per spec's cleanup invariant, this must run for every
// channel after a session aborts.
func (c *Channel) EvictSession(peerKey wire.PeerKey) {
	c.mu.Lock()
	delete(c.outboxes, peerKey)
	delete(c.exportedAt, peerKey)
	c.mu.Unlock()
}

// outboxSnapshot copies the current outbox set under lock, so SendMsg's
// fan-out never holds c.mu across a suspension point.
func (c *Channel) outboxSnapshot() []*Outbox {
	c.mu.RLock()
	defer c.mu.RUnlock()
	obs := make([]*Outbox, 0, len(c.outboxes))
	for _, ob := range c.outboxes {
		obs = append(obs, ob)
	}
	return obs
}

// SendMsg concurrently invokes send_msg on every connected outbox. The
// fan-out policy is fail-on-any: the aggregate operation succeeds iff every
// outbox accepted the delivery. Per-outbox errors are logged individually;
// a dead outbox on an aborted session is not retried here — it is evicted
// independently via EvictSession on SessionAborted.
func (c *Channel) SendMsg(ctx context.Context, msg *Message) error {
	obs := c.outboxSnapshot()
	if len(obs) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, ob := range obs {
		ob := ob
		g.Go(func() error {
			if err := ob.SendMsg(gctx, msg); err != nil {
				c.log.Errorf("channel %s: send_msg to %s failed: %v", c.id, ob.PeerKey(), err)
				c.mtr.FanOutError(c.id.String())
				return fmt.Errorf("%w: %v", chaterrs.ErrDeliverFailed, err)
			}
			c.mtr.MessageRouted(c.id.String())
			return nil
		})
	}
	return g.Wait()
}

// Introduce announces a peer+sturdy-ref to every connected outbox, used by
// a channel owner to help peers discover each other. Like SendMsg, it is
// fail-on-any.
func (c *Channel) Introduce(ctx context.Context, peerKey wire.PeerKey, ref wire.SturdyRef) error {
	obs := c.outboxSnapshot()
	if len(obs) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, ob := range obs {
		ob := ob
		g.Go(func() error {
			if err := ob.Introduce(gctx, peerKey, ref); err != nil {
				c.log.Errorf("channel %s: introduce to %s failed: %v", c.id, ob.PeerKey(), err)
				return fmt.Errorf("%w: %v", chaterrs.ErrDeliverFailed, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Deliver implements wire.Capability. Channel's only two methods,
// send_msg and introduce, are deliver_only per spec §6's method table, so
// any Deliver call names an unrecognized method.
func (c *Channel) Deliver(method string, args []byte) ([]byte, error) {
	return nil, fmt.Errorf("%w: %s", chaterrs.ErrUnknownMethod, method)
}

// DeliverOnly implements wire.Capability, dispatching the two incoming call
// forms a remote peer may invoke on an exported Channel.
func (c *Channel) DeliverOnly(method string, args []byte) error {
	switch method {
	case "send_msg":
		msg, err := unmarshalWire(args)
		if err != nil {
			return fmt.Errorf("%w: %v", chaterrs.ErrProtocolError, err)
		}
		c.publish(Event{Kind: RecvMessage, ChannelID: c.id, Message: msg})
		return nil

	case "introduce":
		peerKey, ref, err := unmarshalIntroduce(args)
		if err != nil {
			return fmt.Errorf("%w: %v", chaterrs.ErrProtocolError, err)
		}
		c.publish(Event{Kind: Introduce, ChannelID: c.id, PeerKey: peerKey, Ref: ref})
		return nil

	default:
		return fmt.Errorf("%w: %s", chaterrs.ErrUnknownMethod, method)
	}
}

type introduceBody struct {
	PeerKey wire.PeerKey
	Ref     wire.SturdyRef
}

func marshalIntroduce(peerKey wire.PeerKey, ref wire.SturdyRef) ([]byte, error) {
	return cbor.Marshal(introduceBody{PeerKey: peerKey, Ref: ref})
}

func unmarshalIntroduce(b []byte) (wire.PeerKey, wire.SturdyRef, error) {
	var body introduceBody
	if err := cbor.Unmarshal(b, &body); err != nil {
		return wire.PeerKey{}, wire.SturdyRef{}, err
	}
	return body.PeerKey, body.Ref, nil
}
