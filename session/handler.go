// Package session implements spec.md §4.2: for one session, service
// bootstrap Fetch requests and observe abort, grounded on the teacher's
// peer.go per-connection goroutine (queueHandler/readHandler, quit channel,
// sync.WaitGroup).
package session

import (
	"sync"
	"time"

	"github.com/btcsuite/btclog"

	"github.com/emberchat/emberchat/event"
	"github.com/emberchat/emberchat/wire"
)

// fetchTimeout bounds how long a Session Handler waits for the Chat Manager
// to resolve a swiss number before rejecting the fetch; the manager loop is
// never meant to block, but a generous ceiling avoids wedging a handler
// forever if something upstream panics.
const fetchTimeout = 30 * time.Second

// Handler services one session's incoming fetch requests and watches for
// abort, per spec §4.2. It caches swiss->position resolutions so repeated
// fetches of the same capability return the same position without asking
// the Chat Manager twice.
type Handler struct {
	sess  wire.Session
	inbox chan<- event.NetworkEvent
	log   btclog.Logger

	cacheMu sync.Mutex
	cache   map[string]uint64 // swiss (as string) -> export position

	wg sync.WaitGroup
}

// NewHandler constructs a Handler for sess. inbox is the Chat Manager's
// shared event queue; events this handler produces (SessionAborted,
// FetchRequest) are published there.
func NewHandler(sess wire.Session, inbox chan<- event.NetworkEvent, log btclog.Logger) *Handler {
	if log == nil {
		log = btclog.Disabled
	}
	return &Handler{
		sess:  sess,
		inbox: inbox,
		log:   log,
		cache: make(map[string]uint64),
	}
}

// Run services events until the session aborts or shutdown is signaled.
// Fetch servicing runs as concurrent subtasks per request, per spec §4.2.
func (h *Handler) Run(shutdown <-chan struct{}) {
	for {
		select {
		case ev, ok := <-h.sess.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case wire.EventFetch:
				h.wg.Add(1)
				go h.serviceFetch(ev)

			case wire.EventAbort:
				h.publish(event.NetworkEvent{
					Kind:    event.SessionAborted,
					PeerKey: h.sess.RemoteKey(),
					Reason:  ev.Reason,
				})
				h.wg.Wait()
				return

			default:
				// Deliver/DeliverOnly target exported capabilities
				// directly via wire.Conn's export table dispatch and
				// never reach the handler loop as a bare event; ignore
				// anything unexpected defensively.
			}

		case <-h.sess.Done():
			// Closed by a local Abort (which emits no EventAbort), or by a
			// remote abort whose event is still queued behind Done.
			reason := "session closed"
			select {
			case ev, ok := <-h.sess.Events():
				if ok && ev.Kind == wire.EventAbort {
					reason = ev.Reason
				}
			default:
			}
			h.publish(event.NetworkEvent{
				Kind:    event.SessionAborted,
				PeerKey: h.sess.RemoteKey(),
				Reason:  reason,
			})
			h.wg.Wait()
			return

		case <-shutdown:
			h.sess.Abort("shutting down")
			h.wg.Wait()
			return
		}
	}
}

// serviceFetch resolves one incoming fetch(swiss) request: a cache hit
// resolves immediately, otherwise the Chat Manager is asked and the result
// is cached for future fetches of the same swiss on this session.
func (h *Handler) serviceFetch(ev wire.Event) {
	defer h.wg.Done()

	swissKey := string(ev.Swiss)

	h.cacheMu.Lock()
	if pos, ok := h.cache[swissKey]; ok {
		h.cacheMu.Unlock()
		ev.Resolve(pos)
		return
	}
	h.cacheMu.Unlock()

	replyCh := make(chan event.FetchResult, 1)
	h.publish(event.NetworkEvent{
		Kind:       event.FetchRequest,
		PeerKey:    h.sess.RemoteKey(),
		Swiss:      ev.Swiss,
		FetchReply: replyCh,
	})

	select {
	case result := <-replyCh:
		if result.Err != nil {
			ev.Reject(result.Err.Error())
			return
		}
		pos := h.sess.Export(result.Cap)
		h.cacheMu.Lock()
		h.cache[swissKey] = pos
		h.cacheMu.Unlock()
		ev.Resolve(pos)

	case <-time.After(fetchTimeout):
		ev.Reject("timed out resolving swiss number")

	case <-h.sess.Done():
		// Session aborted while the fetch was in flight; nothing to
		// reply to.
	}
}

func (h *Handler) publish(ev event.NetworkEvent) {
	select {
	case h.inbox <- ev:
	default:
		h.log.Warnf("session %s: inbox full, dropping %v event", h.sess.RemoteKey(), ev.Kind)
	}
}
