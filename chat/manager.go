// Package chat implements spec.md §4.3 and §4.5: the Chat Manager that owns
// session/portal bookkeeping and resolves bootstrap fetches, plus the
// Gateway, Portal and Persona capabilities it hands out. Grounded on the
// teacher's server.go queryHandler: a single goroutine owning private maps,
// driven by a typed event queue instead of a bare interface{} channel.
package chat

import (
	"crypto/ed25519"
	"sync"

	"github.com/btcsuite/btclog"

	"github.com/emberchat/emberchat/channel"
	"github.com/emberchat/emberchat/chaterrs"
	"github.com/emberchat/emberchat/event"
	"github.com/emberchat/emberchat/metrics"
	"github.com/emberchat/emberchat/wire"
)

// inboxBacklog bounds the Chat Manager's event queue. Per spec §5 the queue
// is meant to be unbounded; a generously sized buffered channel with a
// non-blocking send (dropping the newest event and logging) stands in, the
// same policy every other queue in this module uses.
const inboxBacklog = 4096

// Manager is the Chat Manager: the single owner of sessions and portals,
// and the fetch-resolution authority for "gateway" and every channel id.
// Its event loop runs on one goroutine; everything it owns is touched only
// from there. The channel directory is the one exception, shared with
// Portal via a concurrent map (see directory.go).
type Manager struct {
	signingMu  sync.RWMutex
	signingKey ed25519.PrivateKey
	peerKey    wire.PeerKey

	persona *Persona
	dir     *channelDirectory

	sessions map[wire.PeerKey]wire.Session
	portals  map[wire.PeerKey]*Portal

	inbox   chan event.NetworkEvent
	outbox  chan Event
	quit    chan struct{}
	wg      sync.WaitGroup
	started bool

	log btclog.Logger
	mtr *metrics.Collectors
}

// New constructs a Chat Manager identified by signingKey/peerKey, with the
// given initial profile. Call Start to begin servicing its inbox.
func New(signingKey ed25519.PrivateKey, profile Profile, log btclog.Logger) *Manager {
	if log == nil {
		log = btclog.Disabled
	}
	return &Manager{
		signingKey: signingKey,
		peerKey:    profile.PeerKey,
		persona:    NewPersona(profile),
		dir:        newChannelDirectory(),
		sessions:   make(map[wire.PeerKey]wire.Session),
		portals:    make(map[wire.PeerKey]*Portal),
		inbox:      make(chan event.NetworkEvent, inboxBacklog),
		outbox:     make(chan Event, inboxBacklog),
		quit:       make(chan struct{}),
		log:        log,
	}
}

// SetMetrics attaches a Collectors the manager and its channels report to.
func (m *Manager) SetMetrics(mtr *metrics.Collectors) {
	m.mtr = mtr
	for _, ch := range m.dir.All() {
		ch.SetMetrics(mtr)
	}
}

// Inbox exposes the write side of the manager's event queue, for
// netlayer.Manager and session.Handler to publish into.
func (m *Manager) Inbox() chan<- event.NetworkEvent { return m.inbox }

// Events yields the manager's observable chat-level event stream.
func (m *Manager) Events() <-chan Event { return m.outbox }

// Persona returns the local identity capability.
func (m *Manager) Persona() *Persona { return m.persona }

// PeerKey returns the local peer key currently used for signing.
func (m *Manager) PeerKey() wire.PeerKey {
	m.signingMu.RLock()
	defer m.signingMu.RUnlock()
	return m.peerKey
}

// SignMessage constructs a signed Message from body, using the manager's
// current signing key. Per spec §5, signing takes only a read lock: the
// key is read-mostly, write-locked only on RotateSigningKey.
func (m *Manager) SignMessage(body string) (*channel.Message, error) {
	m.signingMu.RLock()
	key := m.signingKey
	peerKey := m.peerKey
	m.signingMu.RUnlock()
	return channel.NewMessage(peerKey, body, key)
}

// RotateSigningKey replaces the manager's signing identity.
func (m *Manager) RotateSigningKey(key ed25519.PrivateKey, peerKey wire.PeerKey) {
	m.signingMu.Lock()
	m.signingKey = key
	m.peerKey = peerKey
	m.signingMu.Unlock()
}

// RegisterChannel adds ch to the shared directory so it is reachable by
// bootstrap fetch and by every Portal's list_channels/connect, per spec
// §4.3/§4.4: channels created locally are implicitly exposed to every
// currently- and future-authenticated remote.
func (m *Manager) RegisterChannel(ch *channel.Channel) bool {
	ch.SetMetrics(m.mtr)
	return m.dir.Register(ch)
}

// Channel looks a channel up by id, for local use (e.g. cmd/emberchatd
// driving SendMsg directly).
func (m *Manager) Channel(id [16]byte) (*channel.Channel, bool) {
	return m.dir.Get(id)
}

// Channels returns a snapshot of every registered channel.
func (m *Manager) Channels() []*channel.Channel { return m.dir.All() }

// Start spawns the manager's event loop.
func (m *Manager) Start() {
	if m.started {
		return
	}
	m.started = true
	m.wg.Add(1)
	go m.loop()
}

// Shutdown stops the event loop, draining its queue once before returning,
// per spec §7's shutdown semantics.
func (m *Manager) Shutdown() {
	close(m.quit)
	m.wg.Wait()
}

func (m *Manager) loop() {
	defer m.wg.Done()
	for {
		select {
		case ev := <-m.inbox:
			m.handle(ev)
		case <-m.quit:
			m.drain()
			return
		}
	}
}

// drain processes whatever is already queued, once, then returns; it does
// not wait for new arrivals, matching spec §7's "drains its queue once and
// exits" shutdown behavior.
func (m *Manager) drain() {
	for {
		select {
		case ev := <-m.inbox:
			m.handle(ev)
		default:
			return
		}
	}
}

func (m *Manager) handle(ev event.NetworkEvent) {
	switch ev.Kind {
	case event.SessionStarted:
		m.handleSessionStarted(ev)
	case event.SessionAborted:
		m.handleSessionAborted(ev)
	case event.FetchRequest:
		m.handleFetch(ev)
	case event.PortalRequest:
		m.handlePortalRequest(ev)
	case event.TaskFinished:
		m.publish(Event{Kind: TaskFinished, TaskLabel: ev.TaskLabel, TaskErr: ev.TaskErr})
	default:
		m.log.Warnf("chat: unrecognized network event kind %v", ev.Kind)
	}
}

func (m *Manager) handleSessionStarted(ev event.NetworkEvent) {
	peerKey := ev.Session.RemoteKey()
	m.sessions[peerKey] = ev.Session
	m.mtr.SessionStarted()
	m.publish(Event{Kind: SessionStarted, PeerKey: peerKey})
}

func (m *Manager) handleSessionAborted(ev event.NetworkEvent) {
	delete(m.sessions, ev.PeerKey)
	delete(m.portals, ev.PeerKey)
	for _, ch := range m.dir.All() {
		ch.EvictSession(ev.PeerKey)
	}
	m.mtr.SessionAborted()
	m.publish(Event{Kind: SessionAborted, PeerKey: ev.PeerKey, Reason: ev.Reason})
}

func (m *Manager) handleFetch(ev event.NetworkEvent) {
	result := m.resolveSwiss(ev)
	m.mtr.FetchServed()
	select {
	case ev.FetchReply <- result:
	default:
		m.log.Warnf("chat: fetch reply for %x dropped, requester gone", ev.Swiss)
	}
}

func (m *Manager) resolveSwiss(ev event.NetworkEvent) event.FetchResult {
	if string(ev.Swiss) == string(wire.GatewaySwiss) {
		sess, ok := m.sessions[ev.PeerKey]
		if !ok {
			return event.FetchResult{Err: chaterrs.ErrUnknownSwiss}
		}
		return event.FetchResult{Cap: NewGateway(sess, m.inbox)}
	}
	if ch, ok := m.dir.ResolveSwiss(ev.Swiss); ok {
		return event.FetchResult{Cap: ch}
	}
	return event.FetchResult{Err: chaterrs.ErrUnknownSwiss}
}

// handlePortalRequest implements spec §4.3 Gateway.Authenticate's hand-off:
// get-or-create the Portal for this peer, export it on the session that
// authenticated, and reply with its export position. This is the one
// mutation of the sessions/portals maps triggered from outside the loop's
// own event, which is exactly why Gateway routes it through the inbox
// rather than acting directly.
func (m *Manager) handlePortalRequest(ev event.NetworkEvent) {
	portal, ok := m.portals[ev.PeerKey]
	if !ok {
		portal = newPortal(ev.PeerKey, ev.Session, m.dir, m.log)
		m.portals[ev.PeerKey] = portal
	}
	pos := ev.Session.Export(portal)
	ev.PortalReply(pos, nil)
}

func (m *Manager) publish(ev Event) {
	select {
	case m.outbox <- ev:
	default:
		m.log.Warnf("chat: chat-event outbox full, dropping %v event", ev.Kind)
	}
}
