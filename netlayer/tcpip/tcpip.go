// Package tcpip implements netlayer.Netlayer over plain TCP, grounded on
// the teacher's server.go listener()/handleConnectPeer: a net.Listener
// Accept loop and a net.Dial connect path, here wrapping each net.Conn in
// wire.NewConn instead of a brontide noise-protocol handshake.
package tcpip

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/emberchat/emberchat/chaterrs"
	"github.com/emberchat/emberchat/wire"
)

// Transport is netlayer.Netlayer's "tcpip" implementation: it listens on one
// local address and dials designators of the form "host:port".
type Transport struct {
	selfKey wire.PeerKey

	ln net.Listener

	advertise string // address other peers should use to reach us, if set

	closed int32

	mu      sync.Mutex
	pending map[net.Conn]struct{}
}

// Listen binds addr (e.g. "0.0.0.0:4433") and returns a Transport ready to
// Accept/Connect, identified to remotes by selfKey. advertise, if non-empty,
// overrides the bound address in Locators (useful behind NAT/port-forward).
func Listen(addr string, selfKey wire.PeerKey, advertise string) (*Transport, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcpip: listen %s: %w", addr, err)
	}
	return &Transport{
		selfKey:   selfKey,
		ln:        ln,
		advertise: advertise,
		pending:   make(map[net.Conn]struct{}),
	}, nil
}

// Name implements netlayer.Netlayer.
func (t *Transport) Name() string { return "tcpip" }

// Accept implements netlayer.Netlayer.
func (t *Transport) Accept(ctx context.Context) (wire.Session, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		conn, err := t.ln.Accept()
		resCh <- result{conn: conn, err: err}
	}()

	select {
	case r := <-resCh:
		if r.err != nil {
			if atomic.LoadInt32(&t.closed) != 0 {
				return nil, chaterrs.ErrTransportClosed
			}
			return nil, r.err
		}
		return wire.NewConn(r.conn, t.selfKey)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Connect implements netlayer.Netlayer, dialing locator.Designator as a
// "host:port" TCP address.
func (t *Transport) Connect(ctx context.Context, locator wire.Locator) (wire.Session, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", locator.Designator)
	if err != nil {
		return nil, fmt.Errorf("tcpip: dial %s: %w", locator.Designator, err)
	}
	return wire.NewConn(conn, t.selfKey)
}

// Locators implements netlayer.Netlayer.
func (t *Transport) Locators() []wire.Locator {
	addr := t.ln.Addr().String()
	if t.advertise != "" {
		addr = t.advertise
	}
	return []wire.Locator{{Transport: t.Name(), Designator: addr}}
}

// Close implements netlayer.Netlayer.
func (t *Transport) Close() error {
	atomic.StoreInt32(&t.closed, 1)
	return t.ln.Close()
}
