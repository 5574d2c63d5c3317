package channel

import (
	"github.com/google/uuid"

	"github.com/emberchat/emberchat/wire"
)

// EventKind tags a channel-level event. Per spec §4.3, these flow through
// the owning channel's own event stream, not the Chat Manager's.
type EventKind uint8

const (
	// RecvMessage is enqueued whenever a remote's send_msg delivery
	// arrives. Verification is left to the consumer.
	RecvMessage EventKind = iota + 1

	// Introduce is enqueued whenever a remote's introduce delivery
	// arrives. Whether to act on it is left to the consumer.
	Introduce

	// PeerConnected is enqueued whenever a peer registers an outbox via
	// Portal.Connect.
	PeerConnected
)

// Event is one occurrence on a Channel's event stream.
type Event struct {
	Kind      EventKind
	ChannelID uuid.UUID

	Message *Message // RecvMessage

	PeerKey wire.PeerKey   // Introduce, PeerConnected
	Ref     wire.SturdyRef // Introduce
}
