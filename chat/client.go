package chat

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/emberchat/emberchat/channel"
	"github.com/emberchat/emberchat/wire"
)

// Authenticate drives the dialing side of spec §4.3's handshake: fetch the
// remote's "gateway" bootstrap capability, sign message under signingKey,
// and call authenticate, returning the export position of the Portal the
// remote replies with.
func Authenticate(ctx context.Context, sess wire.Session, localKey wire.PeerKey, message []byte, signingKey ed25519.PrivateKey) (uint64, error) {
	gatewayPos, err := sess.Fetch(ctx, wire.GatewaySwiss)
	if err != nil {
		return 0, fmt.Errorf("fetch gateway: %w", err)
	}

	sig := ed25519.Sign(signingKey, message)
	var sigArr wire.Signature
	copy(sigArr[:], sig)

	args, err := cbor.Marshal(authenticateArgs{PeerVKey: localKey, Message: message, Signature: sigArr})
	if err != nil {
		return 0, err
	}

	reply, err := sess.Deliver(ctx, gatewayPos, "authenticate", args)
	if err != nil {
		return 0, fmt.Errorf("authenticate: %w", err)
	}

	var res authenticateResult
	if err := cbor.Unmarshal(reply, &res); err != nil {
		return 0, err
	}
	return res.Portal.Position, nil
}

// ListChannels drives Portal.list_channels from the dialing side.
func ListChannels(ctx context.Context, sess wire.Session, portalPos uint64) ([]channel.Listing, error) {
	reply, err := sess.Deliver(ctx, portalPos, "list_channels", nil)
	if err != nil {
		return nil, err
	}
	var listings []channel.Listing
	if err := cbor.Unmarshal(reply, &listings); err != nil {
		return nil, err
	}
	return listings, nil
}

// Connect drives Portal.connect from the dialing side: channelID names the
// channel to join, remoteOutboxPos is the position of the caller's own
// outbox-receiving capability (typically a freshly exported *channel.Channel
// of its own, or any capability implementing send_msg/introduce) on this
// session. It returns the position the remote channel capability was
// exported at.
func Connect(ctx context.Context, sess wire.Session, portalPos uint64, channelID uuid.UUID, remoteOutboxPos uint64) (uint64, error) {
	args, err := cbor.Marshal(connectArgs{
		ChannelID:    channelID,
		RemoteOutbox: wire.DescExport{Position: remoteOutboxPos},
	})
	if err != nil {
		return 0, err
	}
	reply, err := sess.Deliver(ctx, portalPos, "connect", args)
	if err != nil {
		return 0, err
	}
	var res connectResult
	if err := cbor.Unmarshal(reply, &res); err != nil {
		return 0, err
	}
	return res.Position, nil
}
