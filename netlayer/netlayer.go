// Package netlayer implements spec.md §4.1: a uniform interface over one or
// more named transports, each supplying inbound accept and outbound dial.
// It is grounded on the teacher's server.go listener()/handleConnectPeer
// pattern, generalized from a single hardcoded brontide transport to a
// registry of pluggable ones.
package netlayer

import (
	"context"
	"sync"

	"github.com/btcsuite/btclog"

	"github.com/emberchat/emberchat/chaterrs"
	"github.com/emberchat/emberchat/event"
	"github.com/emberchat/emberchat/session"
	"github.com/emberchat/emberchat/wire"
)

// Netlayer is one named transport: it accepts inbound sessions on its own
// schedule and dials outbound sessions by locator.
type Netlayer interface {
	// Name is the transport name used in Locator.Transport, e.g. "tcpip".
	Name() string

	// Accept blocks until an inbound session is established or the
	// netlayer is closed, in which case it returns an error.
	Accept(ctx context.Context) (wire.Session, error)

	// Connect dials the peer named by locator's designator and hints.
	Connect(ctx context.Context, locator wire.Locator) (wire.Session, error)

	// Locators lists the addresses this transport is reachable at.
	Locators() []wire.Locator

	// Close tears down the transport; any blocked Accept returns an error.
	Close() error
}

// connectRequest is queued by RequestConnect and drained by the per-netlayer
// connect loop.
type connectRequest struct {
	locator wire.Locator
	reply   chan connectReply
}

type connectReply struct {
	session wire.Session
	err     error
}

// Manager registers named transports, demultiplexes their accept loops and
// connect requests, and feeds SessionStarted events (plus a freshly spawned
// session.Handler) for every new session into the shared chat inbox.
//
// Manager mirrors the teacher's server struct: the transport and
// connect-request maps are guarded by mu, and the per-transport loops
// coordinate with callers through channels.
type Manager struct {
	inbox chan<- event.NetworkEvent

	mu         sync.Mutex
	transports map[string]Netlayer
	connectReq map[string]chan connectRequest

	wg   sync.WaitGroup
	quit chan struct{}

	log btclog.Logger
}

// NewManager constructs a Manager that publishes SessionStarted (and
// forwards Fetch/SessionAborted from spawned session.Handlers) onto inbox.
func NewManager(inbox chan<- event.NetworkEvent, log btclog.Logger) *Manager {
	if log == nil {
		log = btclog.Disabled
	}
	return &Manager{
		inbox:      inbox,
		transports: make(map[string]Netlayer),
		connectReq: make(map[string]chan connectRequest),
		quit:       make(chan struct{}),
		log:        log,
	}
}

// Register binds name to nl, idempotent for the name (re-registering
// overwrites the prior binding and restarts its loops). It spawns an accept
// loop and a connect-request loop for nl and publishes its locators.
func (m *Manager) Register(name string, nl Netlayer) {
	m.mu.Lock()
	if old, ok := m.transports[name]; ok {
		old.Close()
	}
	m.transports[name] = nl
	reqCh := make(chan connectRequest, 16)
	m.connectReq[name] = reqCh
	m.mu.Unlock()

	m.wg.Add(2)
	go m.acceptLoop(nl)
	go m.connectLoop(nl, reqCh)
}

// acceptLoop selects over inbound accept and the shutdown signal, emitting
// SessionStarted and spawning a session.Handler for every new session.
func (m *Manager) acceptLoop(nl Netlayer) {
	defer m.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-m.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		sess, err := nl.Accept(ctx)
		if err != nil {
			select {
			case <-m.quit:
				return
			default:
			}
			m.log.Errorf("netlayer %s: accept error: %v", nl.Name(), err)
			return
		}
		m.spawnSession(sess)
	}
}

// connectLoop services RequestConnect calls routed to this netlayer.
func (m *Manager) connectLoop(nl Netlayer, reqCh chan connectRequest) {
	defer m.wg.Done()
	for {
		select {
		case req := <-reqCh:
			go func(req connectRequest) {
				ctx, cancel := context.WithCancel(context.Background())
				defer cancel()
				go func() {
					select {
					case <-m.quit:
						cancel()
					case <-ctx.Done():
					}
				}()
				sess, err := nl.Connect(ctx, req.locator)
				if err != nil {
					req.reply <- connectReply{err: err}
					return
				}
				m.spawnSession(sess)
				req.reply <- connectReply{session: sess}
			}(req)
		case <-m.quit:
			return
		}
	}
}

// spawnSession publishes SessionStarted before starting the session's
// handler loop, preserving the ordering guarantee that SessionStarted
// precedes any Fetch for that session.
func (m *Manager) spawnSession(sess wire.Session) {
	m.publish(event.NetworkEvent{Kind: event.SessionStarted, Session: sess})
	h := session.NewHandler(sess, m.inbox, m.log)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		h.Run(m.quit)
	}()
}

func (m *Manager) publish(ev event.NetworkEvent) {
	select {
	case m.inbox <- ev:
	default:
		m.log.Warnf("netlayer: inbox full, dropping %v event", ev.Kind)
	}
}

// RequestConnect dials locator on the registered transport named by
// locator.Transport, returning chaterrs.ErrUnregisteredTransport if no such
// transport was registered.
func (m *Manager) RequestConnect(ctx context.Context, locator wire.Locator) (wire.Session, error) {
	m.mu.Lock()
	reqCh, ok := m.connectReq[locator.Transport]
	m.mu.Unlock()
	if !ok {
		return nil, chaterrs.ErrUnregisteredTransport
	}

	reply := make(chan connectReply, 1)
	select {
	case reqCh <- connectRequest{locator: locator, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.quit:
		return nil, chaterrs.ErrShuttingDown
	}

	select {
	case r := <-reply:
		return r.session, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Locators enumerates all published locators across registered transports.
func (m *Manager) Locators() []wire.Locator {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []wire.Locator
	for _, nl := range m.transports {
		out = append(out, nl.Locators()...)
	}
	return out
}

// Shutdown signals every accept/connect loop and spawned session.Handler to
// terminate, then waits for them to finish. Transports are closed so that
// any in-flight Accept returns promptly.
func (m *Manager) Shutdown() {
	close(m.quit)
	m.mu.Lock()
	for _, nl := range m.transports {
		nl.Close()
	}
	m.mu.Unlock()
	m.wg.Wait()
}
