package netlayer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/emberchat/emberchat/event"
	"github.com/emberchat/emberchat/netlayer"
	"github.com/emberchat/emberchat/netlayer/tcpip"
	"github.com/emberchat/emberchat/wire"
)

func TestRegisterAcceptConnectPublishesSessionStarted(t *testing.T) {
	inboxServer := make(chan event.NetworkEvent, 16)
	inboxClient := make(chan event.NetworkEvent, 16)

	serverTransport, err := tcpip.Listen("127.0.0.1:0", wire.RandomPeerKey(), "")
	require.NoError(t, err)

	serverMgr := netlayer.NewManager(inboxServer, nil)
	serverMgr.Register("tcpip", serverTransport)
	defer serverMgr.Shutdown()

	locators := serverMgr.Locators()
	require.Len(t, locators, 1)

	clientTransport, err := tcpip.Listen("127.0.0.1:0", wire.RandomPeerKey(), "")
	require.NoError(t, err)
	clientMgr := netlayer.NewManager(inboxClient, nil)
	clientMgr.Register("tcpip", clientTransport)
	defer clientMgr.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sess, err := clientMgr.RequestConnect(ctx, locators[0])
	require.NoError(t, err)
	require.NotNil(t, sess)

	select {
	case ev := <-inboxServer:
		require.Equal(t, event.SessionStarted, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("server manager never published SessionStarted for the inbound session")
	}

	select {
	case ev := <-inboxClient:
		require.Equal(t, event.SessionStarted, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("client manager never published SessionStarted for the outbound session")
	}
}

func TestRequestConnectUnregisteredTransport(t *testing.T) {
	inbox := make(chan event.NetworkEvent, 4)
	mgr := netlayer.NewManager(inbox, nil)
	defer mgr.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := mgr.RequestConnect(ctx, wire.Locator{Transport: "nope", Designator: "x"})
	require.Error(t, err)
}
