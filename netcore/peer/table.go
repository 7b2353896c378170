package peer

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/arkth-araya/bbc1/netcore/id"
)

var errShortBuffer = errors.New("peer: buffer too short for NodeInfo")

// Table is a per-domain mapping from NodeId to NodeInfo, generalizing the
// teacher's `n.peers map[string]*peer` (node.go). The owning node's own id
// is never present in its own table — the table enforces this itself:
// AddPeer, AddPeerFull and Replace all skip the self id given to NewTable.
type Table struct {
	mu    sync.RWMutex
	self  id.NodeId
	peers map[id.NodeId]*NodeInfo
}

// NewTable creates an empty table for a domain whose own id is self.
func NewTable(self id.NodeId) *Table {
	return &Table{
		self:  self,
		peers: make(map[id.NodeId]*NodeInfo),
	}
}

// AddPeer inserts or updates a single address family and reports whether
// the node was newly inserted.
func (t *Table) AddPeer(nodeId id.NodeId, isV4 bool, addr string, port uint16) (inserted bool) {
	if nodeId == t.self {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	info, ok := t.peers[nodeId]
	if !ok {
		info = NewNodeInfo(nodeId, "", "", port)
		t.peers[nodeId] = info
		inserted = true
	}
	if isV4 {
		info.Update(&addr, nil, &port)
	} else {
		info.Update(nil, &addr, &port)
	}
	info.Touch()
	return inserted
}

// AddPeerFull inserts or updates both address families at once.
func (t *Table) AddPeerFull(nodeId id.NodeId, ipv4, ipv6 string, port uint16) (inserted bool) {
	if nodeId == t.self {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	info, ok := t.peers[nodeId]
	if !ok {
		info = NewNodeInfo(nodeId, ipv4, ipv6, port)
		t.peers[nodeId] = info
		inserted = true
	} else {
		info.Update(&ipv4, &ipv6, &port)
	}
	info.Touch()
	return inserted
}

// RemovePeer deletes a peer unconditionally.
func (t *Table) RemovePeer(nodeId id.NodeId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, nodeId)
}

// Get looks up a peer by id.
func (t *Table) Get(nodeId id.NodeId) (*NodeInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info, ok := t.peers[nodeId]
	return info, ok
}

// Has reports whether nodeId is currently in the table.
func (t *Table) Has(nodeId id.NodeId) bool {
	_, ok := t.Get(nodeId)
	return ok
}

// Snapshot returns a point-in-time copy of every peer in the table.
func (t *Table) Snapshot() []NodeInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]NodeInfo, 0, len(t.peers))
	for _, info := range t.peers {
		out = append(out, info.Snapshot())
	}
	return out
}

// Len returns the number of known peers.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

// Replace atomically swaps the whole table contents, dropping any entry
// equal to self. It is the core of renewPeerlist: after it returns, the
// table contains exactly the given peers (minus self).
func (t *Table) Replace(infos []NodeInfo) {
	fresh := make(map[id.NodeId]*NodeInfo, len(infos))
	for _, info := range infos {
		if info.NodeId == t.self {
			continue
		}
		n := info
		fresh[info.NodeId] = &n
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers = fresh
}

// EncodePeerList serializes the given peers using the count-prefixed
// binary layout: count(4 LE) || repeated NodeInfo entries.
// Endianness here is deliberately little-endian for the count, matching
// the source project's mixed-endian wire layout (see DESIGN.md); it is not
// normalized to be consistent with the big-endian cross-ref count.
func EncodePeerList(infos []NodeInfo) []byte {
	buf := make([]byte, 4+len(infos)*BinarySize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(infos)))
	off := 4
	for _, info := range infos {
		copy(buf[off:off+BinarySize], EncodeBinary(info))
		off += BinarySize
	}
	return buf
}

// DecodePeerList parses the layout EncodePeerList produces.
func DecodePeerList(buf []byte) ([]NodeInfo, error) {
	if len(buf) < 4 {
		return nil, errShortBuffer
	}
	count := binary.LittleEndian.Uint32(buf[0:4])
	buf = buf[4:]

	out := make([]NodeInfo, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(buf) < BinarySize {
			return nil, errShortBuffer
		}
		info, err := DecodeBinary(buf[:BinarySize])
		if err != nil {
			return nil, err
		}
		out = append(out, info)
		buf = buf[BinarySize:]
	}
	return out, nil
}
