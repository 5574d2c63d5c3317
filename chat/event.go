package chat

import "github.com/emberchat/emberchat/wire"

// Kind tags a ChatEvent's variant: the chat-level occurrences an
// application wrapping Manager (cmd/emberchatd, or a test) observes.
type Kind uint8

const (
	// SessionStarted mirrors event.SessionStarted once the manager loop has
	// recorded the new session.
	SessionStarted Kind = iota + 1
	// SessionAborted mirrors event.SessionAborted once the manager loop has
	// evicted the session and its portal and cleaned up every channel.
	SessionAborted
	// TaskFinished mirrors event.TaskFinished.
	TaskFinished
)

// Event is the Chat Manager's observable output stream.
type Event struct {
	Kind    Kind
	PeerKey wire.PeerKey
	Reason  string

	TaskLabel string
	TaskErr   error
}
