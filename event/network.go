// Package event defines NetworkEvent, the single wire format that flows
// from the Netlayer Manager, every Session Handler, and internal chat
// subtasks into the Chat Manager's one inbound queue (spec §4.3). Keeping it
// in its own leaf package lets netlayer, session and chat all produce/consume
// it without an import cycle.
package event

import "github.com/emberchat/emberchat/wire"

// NetworkKind tags a NetworkEvent's variant.
type NetworkKind uint8

const (
	// SessionStarted is produced by the Netlayer Manager for every new
	// inbound or outbound session, before its Session Handler is spawned.
	SessionStarted NetworkKind = iota + 1

	// SessionAborted is produced by a Session Handler when its session's
	// wire.Event stream yields EventAbort or its Done channel closes.
	SessionAborted

	// FetchRequest is produced by a Session Handler when an incoming
	// bootstrap fetch misses the handler's swiss cache.
	FetchRequest

	// PortalRequest is produced by the Gateway capability after a
	// successful signature verification in Authenticate.
	PortalRequest

	// TaskFinished is produced by any internal subtask on completion, to
	// be surfaced as a chat-level event.
	TaskFinished
)

// FetchResult answers a FetchRequest: either a capability to export, or a
// reason the fetch should be rejected.
type FetchResult struct {
	Cap wire.Capability
	Err error
}

// NetworkEvent is the tagged union flowing into the Chat Manager's inbox.
// Only the fields relevant to Kind are populated.
type NetworkEvent struct {
	Kind NetworkKind

	// SessionStarted, PortalRequest
	Session wire.Session

	// SessionAborted, FetchRequest, PortalRequest. Always the owning
	// session's wire.Session.RemoteKey() — Gateway.Deliver enforces that
	// the authenticated peer_vkey equals that same key before publishing
	// PortalRequest, so PeerKey never carries a second, independent
	// identity namespace: every event kind keys into sessions/portals/
	// channel outboxes with the same value.
	PeerKey wire.PeerKey

	// SessionAborted
	Reason string

	// FetchRequest
	Swiss      []byte
	FetchReply chan FetchResult

	// PortalRequest: PortalReply is invoked exactly once by the Chat
	// Manager with the export position of the (possibly newly created)
	// Portal, or an error to break the authenticate promise with.
	PortalReply func(position uint64, err error)

	// TaskFinished
	TaskLabel string
	TaskErr   error
}
