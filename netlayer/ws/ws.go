// Package ws implements netlayer.Netlayer over WebSocket, using
// gorilla/websocket as an alternate transport to tcpip — grounded on the
// teacher's go.mod carrying gorilla/websocket as a dependency, here given a
// concrete home since the teacher itself never exercises it directly.
package ws

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/emberchat/emberchat/chaterrs"
	"github.com/emberchat/emberchat/wire"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// frameConn adapts a *websocket.Conn's message framing to the streaming
// io.ReadWriteCloser wire.NewConn expects: each Write is sent as one binary
// message, and Read transparently spans message boundaries by buffering
// whatever of the current message hasn't been consumed yet.
type frameConn struct {
	ws *websocket.Conn

	readMu  sync.Mutex
	readBuf bytes.Buffer

	writeMu sync.Mutex
}

func (f *frameConn) Read(p []byte) (int, error) {
	f.readMu.Lock()
	defer f.readMu.Unlock()

	for f.readBuf.Len() == 0 {
		_, msg, err := f.ws.ReadMessage()
		if err != nil {
			return 0, err
		}
		f.readBuf.Write(msg)
	}
	return f.readBuf.Read(p)
}

func (f *frameConn) Write(p []byte) (int, error) {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if err := f.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (f *frameConn) Close() error {
	return f.ws.Close()
}

// Transport is netlayer.Netlayer's "ws" implementation: it serves an HTTP
// upgrade endpoint for inbound sessions and dials ws(s):// URLs for
// outbound ones.
type Transport struct {
	selfKey wire.PeerKey

	addr      string
	advertise string

	server *http.Server
	accept chan acceptResult

	closed int32
}

type acceptResult struct {
	conn *frameConn
	err  error
}

// Serve starts an HTTP server on addr upgrading every request on path to a
// WebSocket session, identified to remotes by selfKey.
func Serve(addr, path string, selfKey wire.PeerKey, advertise string) *Transport {
	t := &Transport{
		selfKey:   selfKey,
		addr:      addr,
		advertise: advertise,
		accept:    make(chan acceptResult, 16),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, t.handleUpgrade)
	t.server = &http.Server{Addr: addr, Handler: mux}

	go func() {
		err := t.server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			select {
			case t.accept <- acceptResult{err: err}:
			default:
			}
		}
	}()

	return t
}

func (t *Transport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	select {
	case t.accept <- acceptResult{conn: &frameConn{ws: conn}}:
	default:
		conn.Close()
	}
}

// Name implements netlayer.Netlayer.
func (t *Transport) Name() string { return "ws" }

// Accept implements netlayer.Netlayer.
func (t *Transport) Accept(ctx context.Context) (wire.Session, error) {
	select {
	case r := <-t.accept:
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
// full ws:// or wss:// URL.
func (t *Transport) Connect(ctx context.Context, locator wire.Locator) (wire.Session, error) {
	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, locator.Designator, nil)
	if err != nil {
		return nil, fmt.Errorf("ws: dial %s: %w", locator.Designator, err)
	}
	return wire.NewConn(&frameConn{ws: conn}, t.selfKey)
}

// Locators implements netlayer.Netlayer.
func (t *Transport) Locators() []wire.Locator {
	addr := t.addr
	if t.advertise != "" {
		addr = t.advertise
	}
	return []wire.Locator{{Transport: t.Name(), Designator: addr}}
}

// Close implements netlayer.Netlayer.
func (t *Transport) Close() error {
	atomic.StoreInt32(&t.closed, 1)
	return t.server.Close()
}

var _ io.ReadWriteCloser = (*frameConn)(nil)
