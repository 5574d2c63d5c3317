package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// kind tags the frames exchanged between two wire.Conn endpoints. The
// encoding is a fixed one-byte kind, an 8-byte big-endian call id (zero when
// unused), and a length-prefixed CBOR payload — the same shape as the
// teacher's lnwire messages (type byte + length-prefixed body), adapted to
// carry capability calls instead of Lightning wire messages.
type kind uint8

const (
	kindHandshake kind = iota + 1
	kindFetch
	kindFetchReply
	kindDeliver
	kindDeliverReply
	kindDeliverOnly
	kindAbort
)

// maxFrameLen bounds a single frame's payload to guard against a
// misbehaving or malicious peer exhausting memory on a length field.
const maxFrameLen = 4 << 20 // 4 MiB

type frame struct {
	kind   kind
	callID uint64
	body   []byte
}

func writeFrame(w io.Writer, f frame) error {
	if len(f.body) > maxFrameLen {
		return fmt.Errorf("wire: frame body too large (%d bytes)", len(f.body))
	}
	var hdr [13]byte
	hdr[0] = byte(f.kind)
	binary.BigEndian.PutUint64(hdr[1:9], f.callID)
	binary.BigEndian.PutUint32(hdr[9:13], uint32(len(f.body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(f.body) == 0 {
		return nil
	}
	_, err := w.Write(f.body)
	return err
}

func readFrame(r io.Reader) (frame, error) {
	var hdr [13]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return frame{}, err
	}
	bodyLen := binary.BigEndian.Uint32(hdr[9:13])
	if bodyLen > maxFrameLen {
		return frame{}, fmt.Errorf("wire: peer announced oversized frame (%d bytes)", bodyLen)
	}
	f := frame{
		kind:   kind(hdr[0]),
		callID: binary.BigEndian.Uint64(hdr[1:9]),
	}
	if bodyLen == 0 {
		return f, nil
	}
	f.body = make([]byte, bodyLen)
	if _, err := io.ReadFull(r, f.body); err != nil {
		return frame{}, err
	}
	return f, nil
}

// handshakeBody is the unauthenticated mutual-key-announcement exchanged at
// session establishment. Authenticity of the claimed key is established
// later, at the capability layer, by Gateway.Authenticate verifying a
// signature — the handshake itself only tells each side which PeerKey to
// attribute incoming calls to.
type handshakeBody struct {
	PeerKey PeerKey
}

// fetchBody requests resolution of a swiss number to an export position.
type fetchBody struct {
	Swiss []byte
}

// fetchReplyBody answers a fetchBody; exactly one of Position/Reason is set.
type fetchReplyBody struct {
	OK       bool
	Position uint64
	Reason   string
}

// deliverBody invokes a method on an exported capability, expecting a reply.
type deliverBody struct {
	Target uint64
	Method string
	Args   []byte
}

// deliverReplyBody answers a deliverBody; exactly one of Result/Reason is set.
type deliverReplyBody struct {
	OK     bool
	Result []byte
	Reason string
}

// abortBody carries the human-readable reason a session was torn down.
type abortBody struct {
	Reason string
}

func encodeBody(v interface{}) []byte {
	b, err := cbor.Marshal(v)
	if err != nil {
		// All bodies are plain structs of bytes/strings/uints; a marshal
		// failure here means a programming error, not a runtime fault.
		panic(fmt.Sprintf("wire: cbor marshal: %v", err))
	}
	return b
}

func decodeBody(b []byte, v interface{}) error {
	return cbor.Unmarshal(b, v)
}
