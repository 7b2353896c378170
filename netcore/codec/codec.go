// Package codec implements the envelope framing shared by the UDP and TCP
// halves of the transport: a short magic, a payload-type tag and a
// length-prefixed body. It mirrors the hand-rolled binary framing the
// teacher protocol uses for its own messages (see msg/hello.go), but keeps
// the body opaque so both MsgPack and raw-binary payloads can share one
// wire format.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// PayloadType tags the body carried inside an Envelope.
type PayloadType uint16

const (
	// MsgPack bodies are a MsgPack map keyed by KeyType.
	MsgPack PayloadType = 1
	// Binary bodies are an opaque blob passed through untouched.
	Binary PayloadType = 2
)

const (
	magicHi byte = 0x50
	magicLo byte = 0x4D

	headerSize  = 2 + 2 + 4 // magic + payloadType + length
	maxBodySize = 16 << 20  // sanity cap against a corrupt/hostile length field
)

// KeyType enumerates the small set of keys a MsgPack body may carry.
// Unknown keys are preserved on the wire but ignored by consumers that
// don't recognize them.
type KeyType uint8

const (
	KeyDomainID KeyType = iota + 1
	KeySourceNodeID
	KeyDestinationNodeID
	KeyP2PMsgType
	KeyNonce
	KeyMessage
	KeyPeerList
	KeyCrossRefs
	KeyAssetGroupID
	KeyResourceID
	KeyResource
	KeyResourceType
	KeyDomainPing
	KeyQueryID
	KeyCommand
)

// Body is a MsgPack-encodable map of KeyType to value. Extra keys set by a
// peer running a newer protocol version are carried through decode/encode
// untouched; only consumers that look them up ignore what they don't know.
type Body map[KeyType]interface{}

// Envelope is a decoded frame: a payload type tag plus its raw body bytes.
// PayloadType values outside {MsgPack, Binary} are returned as-is rather
// than rejected, so callers can decide what to do with an unrecognized
// payload type from a newer peer.
type Envelope struct {
	PayloadType PayloadType
	Body        []byte
}

// Encode serializes a body against the wire framing. For PayloadType
// MsgPack, body must be a Body map; for Binary, body must be a []byte.
func Encode(payloadType PayloadType, body interface{}) ([]byte, error) {
	var raw []byte
	var err error

	switch payloadType {
	case MsgPack:
		m, ok := body.(Body)
		if !ok {
			return nil, fmt.Errorf("codec: MsgPack body must be a Body, got %T", body)
		}
		raw, err = msgpack.Marshal(map[KeyType]interface{}(m))
		if err != nil {
			return nil, fmt.Errorf("codec: marshal body: %w", err)
		}
	case Binary:
		b, ok := body.([]byte)
		if !ok {
			return nil, fmt.Errorf("codec: Binary body must be []byte, got %T", body)
		}
		raw = b
	default:
		return nil, fmt.Errorf("codec: unknown payload type %d", payloadType)
	}

	if len(raw) > maxBodySize {
		return nil, fmt.Errorf("codec: body too large (%d bytes)", len(raw))
	}

	frame := make([]byte, headerSize+len(raw))
	frame[0], frame[1] = magicHi, magicLo
	binary.LittleEndian.PutUint16(frame[2:4], uint16(payloadType))
	binary.LittleEndian.PutUint32(frame[4:8], uint32(len(raw)))
	copy(frame[headerSize:], raw)
	return frame, nil
}

// DecodeBody unmarshals a MsgPack envelope body into a Body map. Unknown
// keys (outside KeyType's range) are preserved under their raw numeric key.
func DecodeBody(raw []byte) (Body, error) {
	var m map[KeyType]interface{}
	if err := msgpack.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("codec: unmarshal body: %w", err)
	}
	return Body(m), nil
}

var errNeedMoreData = errors.New("codec: incomplete frame")

// tryParse attempts to parse one frame off the front of buf. It reports how
// many bytes to advance and whether a complete, well-formed frame was
// found. A bad magic advances by 1 byte so the caller can resync; this is
// the codec's half of the "decode failure drops the frame, doesn't tear
// down the connection" policy in the error handling design.
func tryParse(buf []byte) (env Envelope, advance int, err error) {
	if len(buf) < headerSize {
		return Envelope{}, 0, errNeedMoreData
	}
	if buf[0] != magicHi || buf[1] != magicLo {
		return Envelope{}, 1, fmt.Errorf("codec: bad magic")
	}

	payloadType := PayloadType(binary.LittleEndian.Uint16(buf[2:4]))
	length := binary.LittleEndian.Uint32(buf[4:8])
	if length > maxBodySize {
		return Envelope{}, 1, fmt.Errorf("codec: frame length %d exceeds maximum", length)
	}

	total := headerSize + int(length)
	if len(buf) < total {
		return Envelope{}, 0, errNeedMoreData
	}

	body := make([]byte, length)
	copy(body, buf[headerSize:total])
	return Envelope{PayloadType: payloadType, Body: body}, total, nil
}
