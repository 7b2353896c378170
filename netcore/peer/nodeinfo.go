// Package peer implements NodeInfo and the per-domain PeerTable: the
// mapping from peer id to address/liveness state. It is the generalization
// of the teacher's `peer` struct and `n.peers map[string]*peer` (node.go),
// carrying both address families instead of a single ZMQ endpoint string
// since the spec's transport dials ipv4/ipv6 directly rather than through
// a ROUTER/DEALER mailbox.
package peer

import (
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/arkth-araya/bbc1/netcore/id"
)

// NodeInfo is what a domain knows about one peer: its address(es), the
// port it listens on, and when it was last heard from.
type NodeInfo struct {
	mu sync.Mutex

	NodeId   id.NodeId
	IPv4     string
	IPv6     string
	Port     uint16
	LastSeen time.Time
	IsAlive  bool
}

// NewNodeInfo builds a NodeInfo for nodeId with the given address(es).
func NewNodeInfo(nodeId id.NodeId, ipv4, ipv6 string, port uint16) *NodeInfo {
	return &NodeInfo{
		NodeId: nodeId,
		IPv4:   ipv4,
		IPv6:   ipv6,
		Port:   port,
	}
}

// Update replaces the fields individually; a nil pointer leaves the
// corresponding field untouched.
func (n *NodeInfo) Update(ipv4, ipv6 *string, port *uint16) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ipv4 != nil {
		n.IPv4 = *ipv4
	}
	if ipv6 != nil {
		n.IPv6 = *ipv6
	}
	if port != nil {
		n.Port = *port
	}
}

// Touch marks the peer as freshly heard-from.
func (n *NodeInfo) Touch() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.LastSeen = time.Now()
	n.IsAlive = true
}

// Snapshot returns a value copy of the address/liveness fields, safe to
// read without holding n's lock afterwards.
func (n *NodeInfo) Snapshot() NodeInfo {
	n.mu.Lock()
	defer n.mu.Unlock()
	return NodeInfo{
		NodeId:   n.NodeId,
		IPv4:     n.IPv4,
		IPv6:     n.IPv6,
		Port:     n.Port,
		LastSeen: n.LastSeen,
		IsAlive:  n.IsAlive,
	}
}

// EncodeBinary serializes a NodeInfo as nodeId(32) || ipv4(4) || ipv6(16)
// || port(2 LE), the exact layout used in peer-list frames. An address
// family that is unknown is encoded as all-zeros.
func EncodeBinary(n NodeInfo) []byte {
	buf := make([]byte, id.Size+4+16+2)
	copy(buf[0:id.Size], n.NodeId[:])

	if ip4 := net.ParseIP(n.IPv4); ip4 != nil {
		if v4 := ip4.To4(); v4 != nil {
			copy(buf[id.Size:id.Size+4], v4)
		}
	}
	if ip6 := net.ParseIP(n.IPv6); ip6 != nil {
		if v6 := ip6.To16(); v6 != nil {
			copy(buf[id.Size+4:id.Size+20], v6)
		}
	}
	binary.LittleEndian.PutUint16(buf[id.Size+20:id.Size+22], n.Port)
	return buf
}

// DecodeBinary parses the fixed-size layout EncodeBinary produces. All-zero
// address slots decode to an empty string, matching the "unknown address
// family" sentinel.
func DecodeBinary(buf []byte) (NodeInfo, error) {
	const want = id.Size + 4 + 16 + 2
	if len(buf) < want {
		return NodeInfo{}, errShortBuffer
	}

	var n NodeInfo
	copy(n.NodeId[:], buf[0:id.Size])

	v4 := buf[id.Size : id.Size+4]
	if !isAllZero(v4) {
		n.IPv4 = net.IP(v4).String()
	}
	v6 := buf[id.Size+4 : id.Size+20]
	if !isAllZero(v6) {
		n.IPv6 = net.IP(v6).String()
	}
	n.Port = binary.LittleEndian.Uint16(buf[id.Size+20 : id.Size+22])
	return n, nil
}

// BinarySize is the fixed wire size of one peer entry.
const BinarySize = id.Size + 4 + 16 + 2

func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
