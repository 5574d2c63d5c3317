package chat_test

import (
	"context"
	"crypto/ed25519"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/emberchat/emberchat/chat"
	"github.com/emberchat/emberchat/channel"
	"github.com/emberchat/emberchat/event"
	"github.com/emberchat/emberchat/session"
	"github.com/emberchat/emberchat/wire"
)

// recorder is a minimal capability standing in for a remote peer's own
// channel endpoint, recording every deliver_only call it receives.
type recorder struct {
	received chan string
}

func (r *recorder) Deliver(method string, args []byte) ([]byte, error) { return nil, nil }
func (r *recorder) DeliverOnly(method string, args []byte) error {
	r.received <- method
	return nil
}

// wirePair hands back two handshaken wire.Conn over an in-memory pipe, one
// per side, mirroring wire_test's dialPair. keyA/keyB are each side's own
// handshake identity; callers must pass the same Ed25519-derived key here
// and to chat.Authenticate on that side, since Gateway.Deliver requires the
// authenticated peer_vkey to equal the session's handshake-announced key.
func wirePair(t *testing.T, keyA, keyB wire.PeerKey) (*wire.Conn, *wire.Conn) {
	t.Helper()
	a, b := net.Pipe()

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
	rA, rB := <-chA, <-chB
	require.NoError(t, rA.err)
	require.NoError(t, rB.err)
	return rA.conn, rB.conn
}

// startManagerSide wires a chat.Manager to serve exactly one session,
// standing in for what netlayer.Manager would otherwise do for every
// accepted/dialed session: publish SessionStarted, then run a
// session.Handler feeding the manager's inbox until shutdown.
func startManagerSide(t *testing.T, mgr *chat.Manager, sess wire.Session, quit chan struct{}) {
	t.Helper()
	mgr.Start()
	mgr.Inbox() <- event.NetworkEvent{Kind: event.SessionStarted, Session: sess}
	h := session.NewHandler(sess, mgr.Inbox(), nil)
	go h.Run(quit)
}

func TestAuthenticateListConnectSendEndToEnd(t *testing.T) {
	serverPub, serverPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var serverKey wire.PeerKey
	copy(serverKey[:], serverPub)

	clientPub, clientPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var clientKey wire.PeerKey
	copy(clientKey[:], clientPub)

	serverConn, clientConn := wirePair(t, serverKey, clientKey)

	serverMgr := chat.New(serverPriv, chat.Profile{PeerKey: serverKey, Username: "server"}, nil)
	quit := make(chan struct{})
	defer close(quit)
	startManagerSide(t, serverMgr, serverConn, quit)
	defer serverMgr.Shutdown()

	ch := channel.New(uuid.New(), channel.Info{Name: "general"}, nil)
	require.True(t, serverMgr.RegisterChannel(ch))

	rec := &recorder{received: make(chan string, 4)}
	clientOutboxPos := clientConn.Export(rec)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	portalPos, err := chat.Authenticate(ctx, clientConn, clientKey, []byte("challenge-bytes"), clientPriv)
	require.NoError(t, err)
	require.NotZero(t, portalPos)

	listings, err := chat.ListChannels(ctx, clientConn, portalPos)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	require.Equal(t, ch.ID(), listings[0].ID)

	_, err = chat.Connect(ctx, clientConn, portalPos, listings[0].ID, clientOutboxPos)
	require.NoError(t, err)

	msg, err := serverMgr.SignMessage("hello from server")
	require.NoError(t, err)
	require.NoError(t, ch.SendMsg(ctx, msg))

	select {
	case method := <-rec.received:
		require.Equal(t, "send_msg", method)
	case <-time.After(2 * time.Second):
		t.Fatal("client never received send_msg after connecting")
	}
}

func TestAuthenticateRejectsBadSignature(t *testing.T) {
	serverPub, serverPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var serverKey wire.PeerKey
	copy(serverKey[:], serverPub)

	clientPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var clientKey wire.PeerKey
	copy(clientKey[:], clientPub)

	serverConn, clientConn := wirePair(t, serverKey, clientKey)

	serverMgr := chat.New(serverPriv, chat.Profile{PeerKey: serverKey, Username: "server"}, nil)
	quit := make(chan struct{})
	defer close(quit)
	startManagerSide(t, serverMgr, serverConn, quit)
	defer serverMgr.Shutdown()

	// clientKey is correctly the client's own handshake key (so the
	// peer_vkey check passes); the signature itself is what must fail,
	// since it was produced by an unrelated key.
	_, otherPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = chat.Authenticate(ctx, clientConn, clientKey, []byte("challenge"), otherPriv)
	require.Error(t, err)
}

func TestSessionAbortedEvictsPeerFromChannel(t *testing.T) {
	serverPub, serverPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var serverKey wire.PeerKey
	copy(serverKey[:], serverPub)

	clientPub, clientPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var clientKey wire.PeerKey
	copy(clientKey[:], clientPub)

	serverConn, clientConn := wirePair(t, serverKey, clientKey)

	serverMgr := chat.New(serverPriv, chat.Profile{PeerKey: serverKey, Username: "server"}, nil)
	quit := make(chan struct{})
	defer close(quit)
	startManagerSide(t, serverMgr, serverConn, quit)
	defer serverMgr.Shutdown()

	ch := channel.New(uuid.New(), channel.Info{Name: "general"}, nil)
	require.True(t, serverMgr.RegisterChannel(ch))

	rec := &recorder{received: make(chan string, 4)}
	clientOutboxPos := clientConn.Export(rec)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	portalPos, err := chat.Authenticate(ctx, clientConn, clientKey, []byte("challenge"), clientPriv)
	require.NoError(t, err)
	_, err = chat.Connect(ctx, clientConn, portalPos, ch.ID(), clientOutboxPos)
	require.NoError(t, err)

	clientConn.Abort("client leaving")

	require.Eventually(t, func() bool {
		msg, err := serverMgr.SignMessage("after abort")
		require.NoError(t, err)
		return ch.SendMsg(context.Background(), msg) == nil
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case <-rec.received:
		t.Fatal("evicted peer should not still receive sends")
	case <-time.After(100 * time.Millisecond):
	}
}
