package domain

import (
	"math/rand"
	"net"
	"time"

	"github.com/arkth-araya/bbc1/netcore/codec"
	"github.com/arkth-araya/bbc1/netcore/id"
	"github.com/arkth-araya/bbc1/netcore/peer"
	"github.com/arkth-araya/bbc1/netcore/ticker"
)

// pingData is the Data payload stashed on a "ping" ticker entry: the node
// being probed, so the retry/expire callbacks know who to re-ping or drop.
type pingData struct {
	target id.NodeId
}

// AddPeer inserts or refreshes a single address family for nodeId and, if
// this is a brand new peer, starts a retrying liveness probe for it.
func (d *Domain) AddPeer(nodeId id.NodeId, isV4 bool, addr string, port uint16) bool {
	inserted := d.peers.AddPeer(nodeId, isV4, addr, port)
	if inserted {
		d.PingWithRetry(nodeId, pingRetryCount, pingRetryInterval, pingExpireAfter)
	}
	return inserted
}

// AddPeerFull inserts or refreshes both address families for nodeId and, if
// this is a brand new peer, starts a retrying liveness probe for it (spec.md
// §4.3: "a freshly learned peer is pinged with retry before being trusted").
func (d *Domain) AddPeerFull(nodeId id.NodeId, ipv4, ipv6 string, port uint16) bool {
	inserted := d.peers.AddPeerFull(nodeId, ipv4, ipv6, port)
	if inserted {
		d.PingWithRetry(nodeId, pingRetryCount, pingRetryInterval, pingExpireAfter)
	}
	return inserted
}

// RemovePeer drops nodeId from the table unconditionally.
func (d *Domain) RemovePeer(nodeId id.NodeId) {
	d.peers.RemovePeer(nodeId)
}

// PingWithRetry sends REQUEST_PING to nodeId immediately, then arms a ticker
// entry that re-sends on every interval tick, at most retries times, until
// either RESPONSE_PING resolves it (ProcessMessageBase's MsgResponsePing case
// calls ticker.Success, which runs onSuccess below) or the expireAfter
// deadline passes, at which point nodeId is dropped from the table as
// unreachable. The drop happens at the deadline whether or not every retry
// has been sent by then.
func (d *Domain) PingWithRetry(nodeId id.NodeId, retries int, interval, expireAfter time.Duration) *ticker.Entry {
	data := &pingData{target: nodeId}
	var entry *ticker.Entry
	entry = d.ticker.NewEntry("ping", data, expireAfter, interval, retries,
		nil, // onSuccess: resolving the nonce is enough, nothing further to do
		func(e *ticker.Entry) {
			pd := e.Data.(*pingData)
			d.Ping(pd.target, &e.Nonce)
		},
		func(e *ticker.Entry) {
			pd := e.Data.(*pingData)
			d.logger.Printf("I: peer %s unreachable after retry, dropping", pd.target.Short())
			d.peers.RemovePeer(pd.target)
		},
	)
	d.Ping(nodeId, &entry.Nonce)
	return entry
}

// scheduleRefresh arms the domain's next refresh round after a randomized
// delay in [base/2, base*1.5], per spec.md §4.3, so that many peers booted
// at the same time don't all broadcast START_TO_REFRESH in lockstep.
func (d *Domain) scheduleRefresh(base time.Duration) {
	lo := base / 2
	jitter := time.Duration(rand.Int63n(int64(base)))
	delay := lo + jitter

	d.refreshEntry = d.ticker.NewEntry("refresh", nil, delay, 0, 0,
		nil, nil, d.runRefreshRound)
}

// runRefreshRound sends START_TO_REFRESH to every known peer, gives the
// overlay a chance to run its own liveness sweep, then reschedules itself.
func (d *Domain) runRefreshRound(e *ticker.Entry) {
	for _, info := range d.peers.Snapshot() {
		d.StartRefresh(info.NodeId)
	}
	d.overlay.AliveCheck()
	d.scheduleRefresh(RefreshInterval)
}

// RenewPeerlist decodes a NOTIFY_PEERLIST binary blob, atomically replaces
// the peer table with its contents, and starts a liveness probe on every
// peer the domain didn't already know about.
func (d *Domain) RenewPeerlist(raw []byte) error {
	infos, err := peer.DecodePeerList(raw)
	if err != nil {
		d.logger.Printf("W: malformed peer list: %v", err)
		return err
	}

	known := make(map[id.NodeId]bool, d.peers.Len())
	for _, info := range d.peers.Snapshot() {
		known[info.NodeId] = true
	}

	d.peers.Replace(infos)

	for _, info := range infos {
		if info.NodeId == d.Self || known[info.NodeId] {
			continue
		}
		d.PingWithRetry(info.NodeId, pingRetryCount, pingRetryInterval, pingExpireAfter)
	}
	return nil
}

// RandomSend delegates to the overlay's random-fanout helper, used for
// cross-reference dissemination in the global domain.
func (d *Domain) RandomSend(body codec.Body, count int) {
	d.overlay.RandomSend(body, count)
}

// handleCrossRefs parses a NOTIFY_CROSS_REF payload — count(2 BE) followed
// by count repetitions of assetGroupId(32) || txId(32) — and records each
// pair via LedgerCore. Deliberately big-endian for the count, unlike the
// little-endian peer-list count: the two payloads come from unrelated parts
// of the source protocol and neither is normalized here (see DESIGN.md).
func (d *Domain) handleCrossRefs(raw []byte) {
	if len(raw) < 2 {
		return
	}
	count := int(raw[0])<<8 | int(raw[1])
	raw = raw[2:]

	const entrySize = 32 + 32
	for i := 0; i < count; i++ {
		if len(raw) < entrySize {
			d.logger.Printf("W: truncated cross-ref list (wanted %d, have %d entries worth)", count, i)
			return
		}
		var assetGroupID id.AssetGroupID
		var txID [32]byte
		copy(assetGroupID[:], raw[0:32])
		copy(txID[:], raw[32:64])
		raw = raw[entrySize:]

		if err := d.ledger.RecordCrossRef(assetGroupID, txID); err != nil {
			d.logger.Printf("E: recordCrossRef failed: %v", err)
		}
	}
}

// RawPing sends the transport-level domain-probe REQUEST (domain_ping=0) to
// an address that is not yet a known peer, per spec.md §4.7. It is how a
// node checks "does the peer at this address host this same domain?"
// before trusting anything from it.
func (d *Domain) RawPing(ipv4, ipv6 string, port uint16) error {
	entry := d.ticker.NewEntry("rawping", nil, AliveCheckPingWait, 0, 0, nil, nil, nil)

	body := codec.Body{
		codec.KeyDomainID:     d.ID[:],
		codec.KeySourceNodeID: d.Self[:],
		codec.KeyDomainPing:   int64(0),
		codec.KeyNonce:        entry.Nonce[:],
	}
	frame, err := codec.Encode(codec.MsgPack, body)
	if err != nil {
		return err
	}
	return d.transport.SendRaw(ipv4, ipv6, port, frame)
}

// HandleDomainProbe answers the two legs of the domain-probe exchange:
// domain_ping=0 is a request this domain's existence be confirmed, answered
// with domain_ping=1 echoing the same nonce; domain_ping=1 resolves the
// originating RawPing's ticker entry and, per spec, registers the
// responder as a peer and runs an immediate alive check.
func (d *Domain) HandleDomainProbe(isV4 bool, from net.Addr, body codec.Body) {
	ping, ok := toInt64(body[codec.KeyDomainPing])
	if !ok {
		return
	}
	source, hasSource := toNodeId(body[codec.KeySourceNodeID])
	if !hasSource || source == d.Self {
		return
	}
	nonce, hasNonce := toNonce(body[codec.KeyNonce])

	udpAddr, fromUDP := from.(*net.UDPAddr)

	switch ping {
	case 0:
		if !hasNonce || !fromUDP {
			return
		}
		reply := codec.Body{
			codec.KeyDomainID:     d.ID[:],
			codec.KeySourceNodeID: d.Self[:],
			codec.KeyDomainPing:   int64(1),
			codec.KeyNonce:        nonce[:],
		}
		frame, err := codec.Encode(codec.MsgPack, reply)
		if err != nil {
			d.logger.Printf("E: encode domain-probe reply failed: %v", err)
			return
		}
		var ipv4, ipv6 string
		if isV4 {
			ipv4 = udpAddr.IP.String()
		} else {
			ipv6 = udpAddr.IP.String()
		}
		if err := d.transport.SendRaw(ipv4, ipv6, uint16(udpAddr.Port), frame); err != nil {
			d.logger.Printf("W: domain-probe reply to %s failed: %v", source.Short(), err)
		}

	case 1:
		if hasNonce {
			d.ticker.Success(nonce)
		}
		if fromUDP {
			d.peers.AddPeer(source, isV4, udpAddr.IP.String(), uint16(udpAddr.Port))
		}
		d.overlay.AliveCheck()
	}
}
