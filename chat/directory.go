package chat

import (
	"bytes"
	"sync"

	"github.com/google/uuid"

	"github.com/emberchat/emberchat/channel"
)

// channelDirectory is the concurrent-safe exception to spec §5's "Chat
// Manager maps are owned by the manager task alone": channels are handed
// out as shared references (Go's RWMutex+map standing in for the spec's
// "Arc clone"), so Portal.Deliver can look a channel up by id or by swiss
// number directly, off the manager's single goroutine, without routing
// every list_channels/connect call through the inbox.
type channelDirectory struct {
	mu       sync.RWMutex
	channels map[uuid.UUID]*channel.Channel
}

func newChannelDirectory() *channelDirectory {
	return &channelDirectory{channels: make(map[uuid.UUID]*channel.Channel)}
}

// Register adds ch, reporting false if a channel with the same id was
// already registered (the existing one is left in place).
func (d *channelDirectory) Register(ch *channel.Channel) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.channels[ch.ID()]; exists {
		return false
	}
	d.channels[ch.ID()] = ch
	return true
}

// Get looks a channel up by id.
func (d *channelDirectory) Get(id uuid.UUID) (*channel.Channel, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ch, ok := d.channels[id]
	return ch, ok
}

// ResolveSwiss matches a bootstrap swiss number against every registered
// channel's id, per spec §4.3's "any other swiss number names a channel id".
func (d *channelDirectory) ResolveSwiss(swiss []byte) (*channel.Channel, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for id, ch := range d.channels {
		if bytes.Equal(id[:], swiss) {
			return ch, true
		}
	}
	return nil, false
}

// All returns a snapshot of every registered channel, used by the manager
// loop to evict an aborted session from each one.
func (d *channelDirectory) All() []*channel.Channel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*channel.Channel, 0, len(d.channels))
	for _, ch := range d.channels {
		out = append(out, ch)
	}
	return out
}

// Listings returns the serializable summary of every registered channel,
// for Portal.ListChannels.
func (d *channelDirectory) Listings() []channel.Listing {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]channel.Listing, 0, len(d.channels))
	for _, ch := range d.channels {
		out = append(out, ch.Listing())
	}
	return out
}
