package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeBodyRoundTrip(t *testing.T) {
	body := Body{
		KeyDomainID:     []byte{1, 2, 3},
		KeyP2PMsgType:   MsgRequestPing,
		KeyNonce:        []byte{9, 9, 9},
		KeyAssetGroupID: []byte{4, 5, 6},
	}

	frame, err := Encode(MsgPack, body)
	require.NoError(t, err)

	env, advance, err := tryParse(frame)
	require.NoError(t, err)
	assert.Equal(t, len(frame), advance)
	assert.Equal(t, MsgPack, env.PayloadType)

	got, err := DecodeBody(env.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got[KeyDomainID])
	assert.Equal(t, []byte{9, 9, 9}, got[KeyNonce])
}

func TestEncodeBinaryPassthrough(t *testing.T) {
	raw := []byte("opaque blob")
	frame, err := Encode(Binary, raw)
	require.NoError(t, err)

	env, _, err := tryParse(frame)
	require.NoError(t, err)
	assert.Equal(t, Binary, env.PayloadType)
	assert.Equal(t, raw, env.Body)
}

func TestEncodeRejectsWrongBodyType(t *testing.T) {
	_, err := Encode(MsgPack, []byte("not a Body"))
	assert.Error(t, err)

	_, err = Encode(Binary, "not a []byte")
	assert.Error(t, err)
}

func TestTryParseNeedsMoreData(t *testing.T) {
	frame, err := Encode(Binary, []byte("hello"))
	require.NoError(t, err)

	_, _, err = tryParse(frame[:headerSize-1])
	assert.ErrorIs(t, err, errNeedMoreData)

	_, _, err = tryParse(frame[:len(frame)-1])
	assert.ErrorIs(t, err, errNeedMoreData)
}

func TestTryParseBadMagicResyncsByOneByte(t *testing.T) {
	buf := []byte{0xFF, 0xFF, 0, 0, 0, 0, 0, 0}
	_, advance, err := tryParse(buf)
	require.Error(t, err)
	assert.Equal(t, 1, advance)
}

func TestDecoderStreamBuffersPartialFrame(t *testing.T) {
	frame, err := Encode(Binary, []byte("full frame"))
	require.NoError(t, err)

	dec := NewDecoder(ModeStream)
	dec.Feed(frame[:headerSize+2])

	_, ok := dec.Next()
	assert.False(t, ok, "partial frame must not be queued yet")

	dec.Feed(frame[headerSize+2:])
	env, ok := dec.Next()
	require.True(t, ok)
	assert.Equal(t, []byte("full frame"), env.Body)
}

func TestDecoderDatagramDiscardsTrailingPartialFrame(t *testing.T) {
	complete, err := Encode(Binary, []byte("whole"))
	require.NoError(t, err)
	trailing, err := Encode(Binary, []byte("truncated"))
	require.NoError(t, err)

	datagram := append(append([]byte{}, complete...), trailing[:headerSize+3]...)

	dec := NewDecoder(ModeDatagram)
	dec.Feed(datagram)

	env, ok := dec.Next()
	require.True(t, ok)
	assert.Equal(t, []byte("whole"), env.Body)

	_, ok = dec.Next()
	assert.False(t, ok, "trailing partial frame in a datagram must be discarded, not buffered")

	dec.Feed(trailing[headerSize+3:])
	_, ok = dec.Next()
	assert.False(t, ok, "a later datagram cannot complete a frame truncated in a previous one")
}

func TestDecoderFeedsMultipleFramesInOneCall(t *testing.T) {
	a, err := Encode(Binary, []byte("a"))
	require.NoError(t, err)
	b, err := Encode(Binary, []byte("bb"))
	require.NoError(t, err)

	dec := NewDecoder(ModeDatagram)
	dec.Feed(append(append([]byte{}, a...), b...))

	first, ok := dec.Next()
	require.True(t, ok)
	assert.Equal(t, []byte("a"), first.Body)

	second, ok := dec.Next()
	require.True(t, ok)
	assert.Equal(t, []byte("bb"), second.Body)

	_, ok = dec.Next()
	assert.False(t, ok)
}
