package session_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/emberchat/emberchat/event"
	"github.com/emberchat/emberchat/session"
	"github.com/emberchat/emberchat/wire"
)

type echoCapability struct{}

func (echoCapability) Deliver(method string, args []byte) ([]byte, error) { return args, nil }
func (echoCapability) DeliverOnly(method string, args []byte) error       { return nil }

// dialPair mirrors wire_test's helper: two in-memory wire.Conn, handshaken
// and ready to use.
func dialPair(t *testing.T) (*wire.Conn, *wire.Conn) {
	t.Helper()
	a, b := net.Pipe()

	type result struct {
		conn *wire.Conn
		err  error
	}
	chA := make(chan result, 1)
	chB := make(chan result, 1)

	go func() {
		c, err := wire.NewConn(a, wire.RandomPeerKey())
		chA <- result{c, err}
	}()
	go func() {
		c, err := wire.NewConn(b, wire.RandomPeerKey())
		chB <- result{c, err}
	}()

	rA, rB := <-chA, <-chB
	require.NoError(t, rA.err)
	require.NoError(t, rB.err)
	return rA.conn, rB.conn
}

func TestServiceFetchAsksChatManagerThenCaches(t *testing.T) {
	serverConn, clientConn := dialPair(t)
	inbox := make(chan event.NetworkEvent, 8)
	h := session.NewHandler(serverConn, inbox, nil)

	shutdown := make(chan struct{})
	go h.Run(shutdown)
	defer close(shutdown)

	cap := echoCapability{}

	go func() {
		ev := <-inbox
		require.Equal(t, event.FetchRequest, ev.Kind)
		require.Equal(t, "greeter", string(ev.Swiss))
		ev.FetchReply <- event.FetchResult{Cap: cap}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pos1, err := clientConn.Fetch(ctx, []byte("greeter"))
	require.NoError(t, err)

	// Second fetch of the same swiss must be served from the handler's
	// cache: no second FetchRequest should reach inbox.
	pos2, err := clientConn.Fetch(ctx, []byte("greeter"))
	require.NoError(t, err)
	require.Equal(t, pos1, pos2)

	select {
	case ev := <-inbox:
		t.Fatalf("unexpected second FetchRequest: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestServiceFetchRejectsUnknownSwiss(t *testing.T) {
	serverConn, clientConn := dialPair(t)
	inbox := make(chan event.NetworkEvent, 8)
	h := session.NewHandler(serverConn, inbox, nil)

	shutdown := make(chan struct{})
	go h.Run(shutdown)
	defer close(shutdown)

	go func() {
		ev := <-inbox
		ev.FetchReply <- event.FetchResult{Err: chatErrUnknownSwiss{}}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := clientConn.Fetch(ctx, []byte("missing"))
	require.Error(t, err)
}

type chatErrUnknownSwiss struct{}

func (chatErrUnknownSwiss) Error() string { return "unrecognized swiss" }

func TestAbortPublishesSessionAborted(t *testing.T) {
	serverConn, clientConn := dialPair(t)
	inbox := make(chan event.NetworkEvent, 8)
	h := session.NewHandler(serverConn, inbox, nil)

	shutdown := make(chan struct{})
	defer close(shutdown)
	go h.Run(shutdown)

	clientConn.Abort("client done")

	select {
	case ev := <-inbox:
		require.Equal(t, event.SessionAborted, ev.Kind)
		require.Equal(t, serverConn.RemoteKey(), ev.PeerKey)
	case <-time.After(2 * time.Second):
		t.Fatal("handler never published SessionAborted")
	}
}
