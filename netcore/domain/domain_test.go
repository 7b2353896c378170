package domain

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkth-araya/bbc1/netcore/codec"
	"github.com/arkth-araya/bbc1/netcore/id"
	"github.com/arkth-araya/bbc1/netcore/peer"
	"github.com/arkth-araya/bbc1/netcore/ticker"
)

type sentFrame struct {
	to   peer.NodeInfo
	body codec.Body
}

type sentRaw struct {
	ipv4, ipv6 string
	port       uint16
	body       codec.Body
}

// fakeSender is a Sender that decodes every frame back into a codec.Body so
// tests can assert on what a Domain tried to say, without a real socket.
type fakeSender struct {
	mu   sync.Mutex
	sent []sentFrame
	raw  []sentRaw
}

func (f *fakeSender) SendToPeer(info peer.NodeInfo, frame []byte) error {
	body := decodeFrame(frame)
	f.mu.Lock()
	f.sent = append(f.sent, sentFrame{to: info, body: body})
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) SendRaw(ipv4, ipv6 string, port uint16, frame []byte) error {
	body := decodeFrame(frame)
	f.mu.Lock()
	f.raw = append(f.raw, sentRaw{ipv4: ipv4, ipv6: ipv6, port: port, body: body})
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) snapshot() ([]sentFrame, []sentRaw) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentFrame{}, f.sent...), append([]sentRaw{}, f.raw...)
}

func (f *fakeSender) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
	f.raw = nil
}

func decodeFrame(frame []byte) codec.Body {
	dec := codec.NewDecoder(codec.ModeDatagram)
	dec.Feed(frame)
	env, ok := dec.Next()
	if !ok {
		return nil
	}
	body, err := codec.DecodeBody(env.Body)
	if err != nil {
		return nil
	}
	return body
}

type fakeLedger struct {
	mu        sync.Mutex
	delivered []interface{}
	errors    []ErrorCode
	crossRefs []struct {
		assetGroupID id.AssetGroupID
		txID         [32]byte
	}
}

func (f *fakeLedger) DeliverToUser(body interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, body)
	return nil
}

func (f *fakeLedger) ReplyError(msg map[string]interface{}, code ErrorCode, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, code)
	return nil
}

func (f *fakeLedger) RecordCrossRef(assetGroupID id.AssetGroupID, txID [32]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.crossRefs = append(f.crossRefs, struct {
		assetGroupID id.AssetGroupID
		txID         [32]byte
	}{assetGroupID, txID})
	return nil
}

func newID(t *testing.T) id.NodeId {
	t.Helper()
	n, err := id.NewNodeId()
	require.NoError(t, err)
	return n
}

func newTestDomain(t *testing.T) (*Domain, *fakeSender, *fakeLedger) {
	t.Helper()
	sender := &fakeSender{}
	ledger := &fakeLedger{}

	var domID id.DomainId
	self := newID(t)

	d, err := New(Config{
		ID:          domID,
		Self:        self,
		OverlayName: "null",
		Transport:   sender,
		Ticker:      ticker.New(),
		Ledger:      ledger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { d.Ticker().Stop() })
	return d, sender, ledger
}

func TestAddPeerTriggersLivenessPingThatResolvesOnResponse(t *testing.T) {
	d, sender, _ := newTestDomain(t)
	peerID := newID(t)

	inserted := d.AddPeer(peerID, true, "10.0.0.5", 9000)
	require.True(t, inserted)

	sent, _ := sender.snapshot()
	require.Len(t, sent, 1)
	assert.EqualValues(t, codec.MsgRequestPing, sent[0].body[codec.KeyP2PMsgType])

	nonceBytes, ok := sent[0].body[codec.KeyNonce].([]byte)
	require.True(t, ok)
	var nonce ticker.Nonce
	copy(nonce[:], nonceBytes)

	_, found := d.Ticker().Get(nonce)
	require.True(t, found, "a ping-retry entry must be armed after AddPeer")

	d.ProcessMessageBase(true, &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: 9000}, codec.Body{
		codec.KeyP2PMsgType:   codec.MsgResponsePing,
		codec.KeySourceNodeID: peerID[:],
		codec.KeyNonce:        nonce[:],
	})

	_, stillFound := d.Ticker().Get(nonce)
	assert.False(t, stillFound, "RESPONSE_PING must resolve the outstanding query")
}

func TestRenewPeerlistPingsOnlyNewPeers(t *testing.T) {
	d, sender, _ := newTestDomain(t)

	known := newID(t)
	d.AddPeerFull(known, "10.0.0.1", "", 9000)
	sender.reset() // drain the initial ping triggered by AddPeerFull

	fresh := newID(t)
	raw := peer.EncodePeerList([]peer.NodeInfo{
		{NodeId: known, IPv4: "10.0.0.1", Port: 9000},
		{NodeId: fresh, IPv4: "10.0.0.2", Port: 9001},
	})

	require.NoError(t, d.RenewPeerlist(raw))

	sent, _ := sender.snapshot()
	var pinged []id.NodeId
	for _, s := range sent {
		if mt, ok := toMsgType(s.body[codec.KeyP2PMsgType]); ok && mt == codec.MsgRequestPing {
			dst, _ := toNodeId(s.body[codec.KeyDestinationNodeID])
			pinged = append(pinged, dst)
		}
	}
	assert.Contains(t, pinged, fresh)
	assert.NotContains(t, pinged, known, "RenewPeerlist must not re-ping a peer it already knew about")

	assert.True(t, d.PeerTable().Has(fresh))
	assert.True(t, d.PeerTable().Has(known))
}

func TestHandleCrossRefsRecordsEachPair(t *testing.T) {
	d, _, ledger := newTestDomain(t)

	ag1, ag2 := id.AssetGroupID{1}, id.AssetGroupID{2}
	tx1, tx2 := [32]byte{11}, [32]byte{22}

	raw := make([]byte, 2+2*(32+32))
	raw[0], raw[1] = 0, 2 // count=2, big-endian
	off := 2
	copy(raw[off:off+32], ag1[:])
	copy(raw[off+32:off+64], tx1[:])
	off += 64
	copy(raw[off:off+32], ag2[:])
	copy(raw[off+32:off+64], tx2[:])

	d.handleCrossRefs(raw)

	require.Len(t, ledger.crossRefs, 2)
	assert.Equal(t, ag1, ledger.crossRefs[0].assetGroupID)
	assert.Equal(t, tx1, ledger.crossRefs[0].txID)
	assert.Equal(t, ag2, ledger.crossRefs[1].assetGroupID)
	assert.Equal(t, tx2, ledger.crossRefs[1].txID)
}

func TestHandleCrossRefsTruncatedPayloadStopsWithoutPanic(t *testing.T) {
	d, _, ledger := newTestDomain(t)

	raw := []byte{0, 1} // claims one entry, carries zero
	d.handleCrossRefs(raw)

	assert.Empty(t, ledger.crossRefs)
}

func TestDomainProbeResponderEchoesNonce(t *testing.T) {
	d, sender, _ := newTestDomain(t)
	requester := newID(t)

	var nonce ticker.Nonce
	copy(nonce[:], []byte("0123456789abcdef"))

	d.HandleDomainProbe(true, &net.UDPAddr{IP: net.ParseIP("10.0.0.7"), Port: 9100}, codec.Body{
		codec.KeyDomainPing:   int64(0),
		codec.KeySourceNodeID: requester[:],
		codec.KeyNonce:        nonce[:],
	})

	_, raw := sender.snapshot()
	require.Len(t, raw, 1)
	assert.Equal(t, "10.0.0.7", raw[0].ipv4)
	assert.EqualValues(t, 9100, raw[0].port)
	assert.Equal(t, int64(1), mustInt64(raw[0].body[codec.KeyDomainPing]))
	assert.Equal(t, nonce[:], raw[0].body[codec.KeyNonce])
}

func TestDomainProbeRequesterResolvesAndAddsPeer(t *testing.T) {
	d, sender, _ := newTestDomain(t)

	require.NoError(t, d.RawPing("10.0.0.8", "", 9200))
	_, raw := sender.snapshot()
	require.Len(t, raw, 1)
	nonceBytes, _ := raw[0].body[codec.KeyNonce].([]byte)
	var nonce ticker.Nonce
	copy(nonce[:], nonceBytes)

	_, stillArmed := d.Ticker().Get(nonce)
	require.True(t, stillArmed)

	responder := newID(t)
	d.HandleDomainProbe(true, &net.UDPAddr{IP: net.ParseIP("10.0.0.8"), Port: 9200}, codec.Body{
		codec.KeyDomainPing:   int64(1),
		codec.KeySourceNodeID: responder[:],
		codec.KeyNonce:        nonce[:],
	})

	_, found := d.Ticker().Get(nonce)
	assert.False(t, found, "the domain_ping=1 leg must resolve the originating RawPing entry")
	assert.True(t, d.PeerTable().Has(responder), "a successful domain probe must register the responder as a peer")
}

func mustInt64(v interface{}) int64 {
	n, _ := toInt64(v)
	return n
}

func TestRouteRetryConstantsAreOverridableForTests(t *testing.T) {
	old := DurationGiveupPut
	defer func() { DurationGiveupPut = old }()

	DurationGiveupPut = 10 * time.Millisecond
	assert.Equal(t, 10*time.Millisecond, DurationGiveupPut)
}
