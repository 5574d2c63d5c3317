package wire_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/emberchat/emberchat/wire"
)

type echoCapability struct {
	delivered chan string
}

func (c *echoCapability) Deliver(method string, args []byte) ([]byte, error) {
	return append([]byte("echo:"), args...), nil
}

func (c *echoCapability) DeliverOnly(method string, args []byte) error {
	c.delivered <- method
	return nil
}

func dialPair(t *testing.T) (*wire.Conn, *wire.Conn) {
	t.Helper()
	a, b := net.Pipe()

	keyA := wire.RandomPeerKey()
	keyB := wire.RandomPeerKey()

	type result struct {
		conn *wire.Conn
		err  error
	}
	chA := make(chan result, 1)
	chB := make(chan result, 1)

	go func() {
		c, err := wire.NewConn(a, keyA)
		chA <- result{c, err}
	}()
	go func() {
		c, err := wire.NewConn(b, keyB)
		chB <- result{c, err}
	}()

	rA := <-chA
	rB := <-chB
	require.NoError(t, rA.err)
	require.NoError(t, rB.err)
	require.Equal(t, keyB, rA.conn.RemoteKey())
	require.Equal(t, keyA, rB.conn.RemoteKey())
	return rA.conn, rB.conn
}

func TestHandshakeExchangesPeerKeys(t *testing.T) {
	connA, connB := dialPair(t)
	defer connA.Abort("test done")
	defer connB.Abort("test done")
}

func TestFetchResolvesAgainstExportTable(t *testing.T) {
	connA, connB := dialPair(t)
	defer connA.Abort("test done")
	defer connB.Abort("test done")

	pos := connB.Export(&echoCapability{delivered: make(chan string, 1)})

	go func() {
		ev := <-connB.Events()
		require.Equal(t, wire.EventFetch, ev.Kind)
		ev.Resolve(pos)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	gotPos, err := connA.Fetch(ctx, []byte("something"))
	require.NoError(t, err)
	require.Equal(t, pos, gotPos)
}

func TestDeliverDispatchesDirectlyToExport(t *testing.T) {
	connA, connB := dialPair(t)
	defer connA.Abort("test done")
	defer connB.Abort("test done")

	pos := connB.Export(&echoCapability{delivered: make(chan string, 1)})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := connA.Deliver(ctx, pos, "ping", []byte("hi"))
	require.NoError(t, err)
	require.Equal(t, "echo:hi", string(result))
}

func TestDeliverOnlyFireAndForget(t *testing.T) {
	connA, connB := dialPair(t)
	defer connA.Abort("test done")
	defer connB.Abort("test done")

	cap := &echoCapability{delivered: make(chan string, 1)}
	pos := connB.Export(cap)

	err := connA.DeliverOnly(pos, "notify", []byte("hi"))
	require.NoError(t, err)

	select {
	case method := <-cap.delivered:
		require.Equal(t, "notify", method)
	case <-time.After(2 * time.Second):
		t.Fatal("deliver_only never reached the export")
	}
}

func TestDeliverUnknownExportIsRejected(t *testing.T) {
	connA, connB := dialPair(t)
	defer connA.Abort("test done")
	defer connB.Abort("test done")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := connA.Deliver(ctx, 999, "ping", nil)
	require.Error(t, err)
}

func TestAbortClosesBothSides(t *testing.T) {
	connA, connB := dialPair(t)

	go func() {
		connA.Abort("bye")
	}()

	select {
	case ev := <-connB.Events():
		require.Equal(t, wire.EventAbort, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("remote never observed abort")
	}

	select {
	case <-connB.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("remote Done() never closed")
	}
}
