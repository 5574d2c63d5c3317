package wire

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/go-errors/errors"
)

// Session is the interface session.Handler, chat.Manager and channel.Outbox
// consume: a bidirectional authenticated capability channel to one remote
// peer, carrying the three CapTP call forms (fetch, deliver, deliver_only)
// plus abort, per spec §6.
type Session interface {
	// RemoteKey is the PeerKey the remote side announced at handshake.
	RemoteKey() PeerKey

	// Events yields incoming occurrences on this session, in wire order.
	Events() <-chan Event

	// Done is closed once the session has aborted, locally or remotely.
	Done() <-chan struct{}

	// Export allocates a fresh position for cap on this session's export
	// table and returns it.
	Export(cap Capability) uint64

	// Fetch issues an outgoing bootstrap fetch(swiss) request.
	Fetch(ctx context.Context, swiss []byte) (uint64, error)

	// Deliver issues an outgoing call expecting a reply.
	Deliver(ctx context.Context, target uint64, method string, args []byte) ([]byte, error)

	// DeliverOnly issues an outgoing fire-and-forget call.
	DeliverOnly(target uint64, method string, args []byte) error

	// Abort tears the session down with reason, local-initiated.
	Abort(reason string) error
}

type pendingCall struct {
	replyCh chan frame
}

// Conn implements Session over any io.ReadWriteCloser, framing calls with
// the length-prefixed envelope defined in envelope.go. It stands in for
// "the underlying CapTP library" the spec assumes: session establishment
// with mutual key knowledge, an export table, and deliver/deliver_only/
// abort call forms.
type Conn struct {
	rwc io.ReadWriteCloser

	selfKey   PeerKey
	remoteKey PeerKey

	exports *exportTable

	callIDCounter uint64
	pendingMu     sync.Mutex
	pending       map[uint64]*pendingCall

	writeMu sync.Mutex

	events chan Event
	done   chan struct{}
	once   sync.Once

	aborted int32 // atomic; set once Abort (local or remote) has run
}

// NewConn performs the mutual-key handshake over rwc and starts the read
// loop. The returned *Conn satisfies Session immediately; the caller should
// range over Events() (directly, or via session.Handler) until Done() closes.
func NewConn(rwc io.ReadWriteCloser, selfKey PeerKey) (*Conn, error) {
	c := &Conn{
		rwc:     rwc,
		selfKey: selfKey,
		exports: newExportTable(),
		pending: make(map[uint64]*pendingCall),
		events:  make(chan Event, 64),
		done:    make(chan struct{}),
	}

	// The handshake frame is written from its own goroutine so that two
	// ends over an unbuffered transport (e.g. net.Pipe) can each read the
	// other's frame while their own write is still pending.
	writeErr := make(chan error, 1)
	go func() {
		writeErr <- writeFrame(rwc, frame{
			kind: kindHandshake,
			body: encodeBody(handshakeBody{PeerKey: selfKey}),
		})
	}()

	hf, err := readFrame(rwc)
	if err != nil {
		rwc.Close()
		return nil, errors.Wrap(err, 0)
	}
	if err := <-writeErr; err != nil {
		rwc.Close()
		return nil, errors.Wrap(err, 0)
	}
	if hf.kind != kindHandshake {
		rwc.Close()
		return nil, fmt.Errorf("wire: expected handshake frame, got kind %d", hf.kind)
	}
	var hb handshakeBody
	if err := decodeBody(hf.body, &hb); err != nil {
		rwc.Close()
		return nil, errors.Wrap(err, 0)
	}
	c.remoteKey = hb.PeerKey

	go c.readLoop()

	return c, nil
}

func (c *Conn) RemoteKey() PeerKey            { return c.remoteKey }
func (c *Conn) Events() <-chan Event          { return c.events }
func (c *Conn) Done() <-chan struct{}         { return c.done }
func (c *Conn) Export(cap Capability) uint64  { return c.exports.add(cap) }

func (c *Conn) nextCallID() uint64 {
	return atomic.AddUint64(&c.callIDCounter, 1)
}

func (c *Conn) registerPending(id uint64) chan frame {
	ch := make(chan frame, 1)
	c.pendingMu.Lock()
	c.pending[id] = &pendingCall{replyCh: ch}
	c.pendingMu.Unlock()
	return ch
}

func (c *Conn) resolvePending(id uint64, f frame) {
	c.pendingMu.Lock()
	pc, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
	if ok {
		pc.replyCh <- f
	}
}

func (c *Conn) write(f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writeFrame(c.rwc, f)
}

// Fetch implements Session.
func (c *Conn) Fetch(ctx context.Context, swiss []byte) (uint64, error) {
	id := c.nextCallID()
	replyCh := c.registerPending(id)
	if err := c.write(frame{kind: kindFetch, callID: id, body: encodeBody(fetchBody{Swiss: swiss})}); err != nil {
		return 0, err
	}
	select {
	case f := <-replyCh:
		var rb fetchReplyBody
		if err := decodeBody(f.body, &rb); err != nil {
			return 0, errors.Wrap(err, 0)
		}
		if !rb.OK {
			return 0, fmt.Errorf("wire: fetch rejected: %s", rb.Reason)
		}
		return rb.Position, nil
	case <-c.done:
		return 0, fmt.Errorf("wire: session aborted during fetch")
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Deliver implements Session.
func (c *Conn) Deliver(ctx context.Context, target uint64, method string, args []byte) ([]byte, error) {
	id := c.nextCallID()
	replyCh := c.registerPending(id)
	body := encodeBody(deliverBody{Target: target, Method: method, Args: args})
	if err := c.write(frame{kind: kindDeliver, callID: id, body: body}); err != nil {
		return nil, err
	}
	select {
	case f := <-replyCh:
		var rb deliverReplyBody
		if err := decodeBody(f.body, &rb); err != nil {
			return nil, errors.Wrap(err, 0)
		}
		if !rb.OK {
			return nil, fmt.Errorf("wire: deliver rejected: %s", rb.Reason)
		}
		return rb.Result, nil
	case <-c.done:
		return nil, fmt.Errorf("wire: session aborted during deliver")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DeliverOnly implements Session.
func (c *Conn) DeliverOnly(target uint64, method string, args []byte) error {
	body := encodeBody(deliverBody{Target: target, Method: method, Args: args})
	return c.write(frame{kind: kindDeliverOnly, body: body})
}

// Abort implements Session. It is safe to call more than once; only the
// first call has any effect.
func (c *Conn) Abort(reason string) error {
	var writeErr error
	c.once.Do(func() {
		atomic.StoreInt32(&c.aborted, 1)
		writeErr = c.write(frame{kind: kindAbort, body: encodeBody(abortBody{Reason: reason})})
		c.rwc.Close()
		close(c.done)
	})
	return writeErr
}

func (c *Conn) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// readLoop is the sole reader of rwc; it decodes frames and either resolves
// an outstanding local call or surfaces an Event to the consumer. It exits
// on the first read error (remote close, or our own Abort closing rwc) or
// on receiving an explicit abort frame from the remote.
func (c *Conn) readLoop() {
	for {
		f, err := readFrame(c.rwc)
		if err != nil {
			if atomic.LoadInt32(&c.aborted) == 0 {
				c.emit(Event{Kind: EventAbort, Reason: err.Error()})
				c.once.Do(func() {
					atomic.StoreInt32(&c.aborted, 1)
					c.rwc.Close()
					close(c.done)
				})
			}
			return
		}

		switch f.kind {
		case kindFetchReply, kindDeliverReply:
			c.resolvePending(f.callID, f)

		case kindFetch:
			var fb fetchBody
			if err := decodeBody(f.body, &fb); err != nil {
				continue
			}
			callID := f.callID
			c.emit(Event{
				Kind:  EventFetch,
				Swiss: fb.Swiss,
				resolveFetch: func(pos uint64) {
					c.write(frame{kind: kindFetchReply, callID: callID,
						body: encodeBody(fetchReplyBody{OK: true, Position: pos})})
				},
				reject: func(reason string) {
					c.write(frame{kind: kindFetchReply, callID: callID,
						body: encodeBody(fetchReplyBody{OK: false, Reason: reason})})
				},
			})

		case kindDeliver:
			var db deliverBody
			if err := decodeBody(f.body, &db); err != nil {
				continue
			}
			callID := f.callID
			cap, ok := c.exports.get(db.Target)
			if !ok {
				c.write(frame{kind: kindDeliverReply, callID: callID,
					body: encodeBody(deliverReplyBody{OK: false, Reason: "unknown export position"})})
				continue
			}
			// Deliver may block (e.g. Gateway.Authenticate awaiting the
			// Chat Manager), so it runs on its own goroutine rather than
			// stalling the read loop.
			go func(db deliverBody) {
				result, err := cap.Deliver(db.Method, db.Args)
				if err != nil {
					c.write(frame{kind: kindDeliverReply, callID: callID,
						body: encodeBody(deliverReplyBody{OK: false, Reason: err.Error()})})
					return
				}
				c.write(frame{kind: kindDeliverReply, callID: callID,
					body: encodeBody(deliverReplyBody{OK: true, Result: result})})
			}(db)

		case kindDeliverOnly:
			var db deliverBody
			if err := decodeBody(f.body, &db); err != nil {
				continue
			}
			cap, ok := c.exports.get(db.Target)
			if !ok {
				continue
			}
			go func(db deliverBody) {
				if err := cap.DeliverOnly(db.Method, db.Args); err != nil {
					// A failed deliver_only has no reply to break; the
					// error is dropped here.
					_ = err
				}
			}(db)

		case kindAbort:
			var ab abortBody
			if err := decodeBody(f.body, &ab); err != nil {
				ab.Reason = "remote abort"
			}
			c.emit(Event{Kind: EventAbort, Reason: ab.Reason})
			c.once.Do(func() {
				atomic.StoreInt32(&c.aborted, 1)
				c.rwc.Close()
				close(c.done)
			})
			return
		}
	}
}

// RandomPeerKey is a test/demo helper producing a syntactically valid but
// meaningless PeerKey; real callers derive PeerKey from an actual Ed25519
// keypair.
func RandomPeerKey() PeerKey {
	var k PeerKey
	rand.Read(k[:])
	return k
}
