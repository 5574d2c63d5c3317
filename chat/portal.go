package chat

import (
	"fmt"

	"github.com/btcsuite/btclog"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/emberchat/emberchat/capability"
	"github.com/emberchat/emberchat/chaterrs"
	"github.com/emberchat/emberchat/wire"
)

type connectArgs struct {
	ChannelID    uuid.UUID
	RemoteOutbox wire.DescExport
}

type connectResult struct {
	Position uint64
}

// Portal is the capability a successfully authenticated remote holds,
// scoped to the one session it authenticated over, per spec §4.3's state
// machine (ABSENT -> OPEN on authenticate, OPEN -> ABSENT when that session
// aborts).
type Portal struct {
	// remoteKey is the session's own RemoteKey(), which Gateway.Deliver
	// has already confirmed equals the Ed25519 key that authenticated
	// this Portal into existence. Channel bookkeeping keyed by remoteKey
	// is therefore the same key handleSessionAborted evicts by.
	remoteKey wire.PeerKey
	sess      wire.Session
	dir       *channelDirectory
	log       btclog.Logger
}

func newPortal(remoteKey wire.PeerKey, sess wire.Session, dir *channelDirectory, log btclog.Logger) *Portal {
	if log == nil {
		log = btclog.Disabled
	}
	return &Portal{remoteKey: remoteKey, sess: sess, dir: dir, log: log}
}

// Kind implements capability.Tagged.
func (p *Portal) Kind() capability.Kind { return capability.KindPortal }

// Deliver implements wire.Capability: list_channels and connect, per spec
// §6's method table.
func (p *Portal) Deliver(method string, args []byte) ([]byte, error) {
	switch method {
	case "list_channels":
		return cbor.Marshal(p.dir.Listings())

	case "connect":
		var cb connectArgs
		if err := cbor.Unmarshal(args, &cb); err != nil {
			return nil, fmt.Errorf("%w: %v", chaterrs.ErrProtocolError, err)
		}
		ch, ok := p.dir.Get(cb.ChannelID)
		if !ok {
			return nil, chaterrs.ErrUnknownChannel
		}
		pos := ch.ExportOn(p.remoteKey, p.sess)
		ch.ConnectPeer(p.remoteKey, p.sess, cb.RemoteOutbox.Position)
		return cbor.Marshal(connectResult{Position: pos})

	default:
		return nil, fmt.Errorf("%w: %s", chaterrs.ErrUnknownMethod, method)
	}
}

// DeliverOnly implements wire.Capability; Portal has no deliver_only
// methods.
func (p *Portal) DeliverOnly(method string, args []byte) error {
	return fmt.Errorf("%w: %s", chaterrs.ErrUnknownMethod, method)
}
