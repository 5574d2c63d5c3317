package channel_test

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/emberchat/emberchat/channel"
	"github.com/emberchat/emberchat/wire"
)

// fakeSession is a minimal wire.Session double recording DeliverOnly calls,
// enough to exercise Outbox/Channel fan-out without a real transport.
type fakeSession struct {
	remoteKey wire.PeerKey
	calls     chan call
}

type call struct {
	target uint64
	method string
	args   []byte
}

func newFakeSession() *fakeSession {
	return &fakeSession{remoteKey: wire.RandomPeerKey(), calls: make(chan call, 16)}
}

func (f *fakeSession) RemoteKey() wire.PeerKey   { return f.remoteKey }
func (f *fakeSession) Events() <-chan wire.Event { return nil }
func (f *fakeSession) Done() <-chan struct{}     { return nil }
func (f *fakeSession) Export(cap wire.Capability) uint64 { return 1 }
func (f *fakeSession) Fetch(ctx context.Context, swiss []byte) (uint64, error) { return 0, nil }
func (f *fakeSession) Deliver(ctx context.Context, target uint64, method string, args []byte) ([]byte, error) {
	return nil, nil
}
func (f *fakeSession) DeliverOnly(target uint64, method string, args []byte) error {
	f.calls <- call{target: target, method: method, args: args}
	return nil
}
func (f *fakeSession) Abort(reason string) error { return nil }

func TestMessageRoundTripVerifiesSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var sender wire.PeerKey
	copy(sender[:], pub)

	msg, err := channel.NewMessage(sender, "hello", priv)
	require.NoError(t, err)
	require.True(t, msg.VerifyStrict(sender))

	msg.Body = "tampered"
	require.False(t, msg.VerifyStrict(sender))
}

func TestChannelSendMsgFansOutToEveryConnectedOutbox(t *testing.T) {
	ch := channel.New(uuid.New(), channel.Info{Name: "general"}, nil)

	s1 := newFakeSession()
	s2 := newFakeSession()
	ch.ConnectPeer(s1.remoteKey, s1, 7)
	ch.ConnectPeer(s2.remoteKey, s2, 9)

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var sender wire.PeerKey
	copy(sender[:], pub)
	msg, err := channel.NewMessage(sender, "hi all", priv)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ch.SendMsg(ctx, msg))

	for _, s := range []*fakeSession{s1, s2} {
		select {
		case c := <-s.calls:
			require.Equal(t, "send_msg", c.method)
		case <-time.After(time.Second):
			t.Fatalf("outbox for %s never received send_msg", s.remoteKey)
		}
	}
}

func TestEvictSessionRemovesOutbox(t *testing.T) {
	ch := channel.New(uuid.New(), channel.Info{Name: "general"}, nil)
	s1 := newFakeSession()
	ch.ConnectPeer(s1.remoteKey, s1, 7)
	ch.EvictSession(s1.remoteKey)

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var sender wire.PeerKey
	copy(sender[:], pub)
	msg, err := channel.NewMessage(sender, "hi", priv)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ch.SendMsg(ctx, msg))

	select {
	case <-s1.calls:
		t.Fatal("evicted outbox should not receive further sends")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestExportOnIsIdempotentPerPeer(t *testing.T) {
	ch := channel.New(uuid.New(), channel.Info{Name: "general"}, nil)
	s1 := newFakeSession()
	pos1 := ch.ExportOn(s1.remoteKey, s1)
	pos2 := ch.ExportOn(s1.remoteKey, s1)
	require.Equal(t, pos1, pos2)
}

func TestDeliverOnlySendMsgPublishesRecvMessageEvent(t *testing.T) {
	ch := channel.New(uuid.New(), channel.Info{Name: "general"}, nil)

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var sender wire.PeerKey
	copy(sender[:], pub)
	msg, err := channel.NewMessage(sender, "incoming", priv)
	require.NoError(t, err)

	payload, err := msg.Marshal()
	require.NoError(t, err)

	require.NoError(t, ch.DeliverOnly("send_msg", payload))

	select {
	case ev := <-ch.Events():
		require.Equal(t, channel.RecvMessage, ev.Kind)
		require.Equal(t, "incoming", ev.Message.Body)
	case <-time.After(time.Second):
		t.Fatal("RecvMessage event never published")
	}
}
