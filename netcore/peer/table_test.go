package peer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkth-araya/bbc1/netcore/id"
)

func randomNodeId(t *testing.T) id.NodeId {
	t.Helper()
	n, err := id.NewNodeId()
	require.NoError(t, err)
	return n
}

func TestAddPeerReportsInsertedOnlyOnce(t *testing.T) {
	self := randomNodeId(t)
	tbl := NewTable(self)

	other := randomNodeId(t)
	assert.True(t, tbl.AddPeer(other, true, "10.0.0.1", 9000))
	assert.False(t, tbl.AddPeer(other, true, "10.0.0.2", 9001), "re-adding a known peer must report inserted=false")

	info, ok := tbl.Get(other)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.2", info.IPv4)
	assert.EqualValues(t, 9001, info.Port)
}

func TestAddPeerNeverAddsSelf(t *testing.T) {
	self := randomNodeId(t)
	tbl := NewTable(self)

	inserted := tbl.AddPeer(self, true, "127.0.0.1", 9000)
	assert.False(t, inserted)
	assert.False(t, tbl.Has(self))
}

func TestAddPeerFullSetsBothAddressFamilies(t *testing.T) {
	tbl := NewTable(randomNodeId(t))
	other := randomNodeId(t)

	inserted := tbl.AddPeerFull(other, "10.0.0.1", "fe80::1", 9000)
	assert.True(t, inserted)

	info, ok := tbl.Get(other)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", info.IPv4)
	assert.Equal(t, "fe80::1", info.IPv6)
}

func TestRemovePeer(t *testing.T) {
	tbl := NewTable(randomNodeId(t))
	other := randomNodeId(t)
	tbl.AddPeer(other, true, "10.0.0.1", 9000)
	require.True(t, tbl.Has(other))

	tbl.RemovePeer(other)
	assert.False(t, tbl.Has(other))

	tbl.RemovePeer(other) // idempotent
}

func TestReplaceDropsSelfAndSwapsContents(t *testing.T) {
	self := randomNodeId(t)
	tbl := NewTable(self)

	stale := randomNodeId(t)
	tbl.AddPeer(stale, true, "10.0.0.9", 9999)

	fresh := randomNodeId(t)
	tbl.Replace([]NodeInfo{
		{NodeId: self, IPv4: "127.0.0.1", Port: 1},
		{NodeId: fresh, IPv4: "10.0.0.2", Port: 9000},
	})

	assert.False(t, tbl.Has(self), "self must never appear in its own table")
	assert.False(t, tbl.Has(stale), "Replace must drop entries absent from the new list")
	assert.True(t, tbl.Has(fresh))
	assert.Equal(t, 1, tbl.Len())
}

func TestEncodeDecodePeerListRoundTrip(t *testing.T) {
	infos := []NodeInfo{
		{NodeId: randomNodeId(t), IPv4: "10.0.0.1", IPv6: "fe80::1", Port: 9000},
		{NodeId: randomNodeId(t), IPv4: "10.0.0.2", Port: 9001},
	}

	buf := EncodePeerList(infos)
	decoded, err := DecodePeerList(buf)
	require.NoError(t, err)
	require.Len(t, decoded, len(infos))

	for i, want := range infos {
		got := decoded[i]
		assert.Equal(t, want.NodeId, got.NodeId)
		assert.Equal(t, want.IPv4, got.IPv4)
		assert.Equal(t, want.IPv6, got.IPv6)
		assert.Equal(t, want.Port, got.Port)
	}
}

func TestDecodePeerListRejectsShortBuffer(t *testing.T) {
	_, err := DecodePeerList([]byte{1, 2})
	assert.Error(t, err)

	buf := EncodePeerList([]NodeInfo{{NodeId: randomNodeId(t), IPv4: "10.0.0.1", Port: 1}})
	_, err = DecodePeerList(buf[:len(buf)-1])
	assert.Error(t, err)
}

func TestSnapshotIsIndependentOfLiveUpdates(t *testing.T) {
	tbl := NewTable(randomNodeId(t))
	other := randomNodeId(t)
	tbl.AddPeer(other, true, "10.0.0.1", 9000)

	snap := tbl.Snapshot()
	require.Len(t, snap, 1)

	tbl.AddPeer(other, true, "10.0.0.2", 9001)
	assert.Equal(t, "10.0.0.1", snap[0].IPv4, "a Snapshot must not reflect later mutations")
}
