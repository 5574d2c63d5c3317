package chat

import (
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/emberchat/emberchat/capability"
	"github.com/emberchat/emberchat/chaterrs"
	"github.com/emberchat/emberchat/wire"
)

// Profile is a peer's mutable display identity, per spec §3. Supplemented
// with Status per original_source's troposphere-lib/user.rs, which carries
// a mutable display field beyond username.
type Profile struct {
	PeerKey  wire.PeerKey
	Username string
	Avatar   []byte
	Status   string
}

// Persona exposes Profile to remotes, reader/writer-locked so updates are
// linearizable with reads, per spec §4.5.
type Persona struct {
	mu      sync.RWMutex
	profile Profile
}

// NewPersona constructs a Persona with an initial profile snapshot.
func NewPersona(profile Profile) *Persona {
	return &Persona{profile: profile}
}

// Kind implements capability.Tagged.
func (p *Persona) Kind() capability.Kind { return capability.KindPersona }

// Profile returns a snapshot of the current profile.
func (p *Persona) Profile() Profile {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.profile
}

// SetUsername updates the username under the write lock.
func (p *Persona) SetUsername(username string) {
	p.mu.Lock()
	p.profile.Username = username
	p.mu.Unlock()
}

// SetStatus updates the status line under the write lock.
func (p *Persona) SetStatus(status string) {
	p.mu.Lock()
	p.profile.Status = status
	p.mu.Unlock()
}

// SetAvatar updates the avatar bytes under the write lock.
func (p *Persona) SetAvatar(avatar []byte) {
	p.mu.Lock()
	p.profile.Avatar = avatar
	p.mu.Unlock()
}

// Deliver implements wire.Capability: Persona's one method, profile, has a
// reply per spec §6's method table.
func (p *Persona) Deliver(method string, args []byte) ([]byte, error) {
	if method != "profile" {
		return nil, fmt.Errorf("%w: %s", chaterrs.ErrUnknownMethod, method)
	}
	return cbor.Marshal(p.Profile())
}

// DeliverOnly implements wire.Capability; Persona has no deliver_only
// methods.
func (p *Persona) DeliverOnly(method string, args []byte) error {
	return fmt.Errorf("%w: %s", chaterrs.ErrUnknownMethod, method)
}
