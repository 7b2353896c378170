// Package domain implements the per-domain state machine: registered
// local users, peer table, liveness/refresh protocol, built-in message
// dispatch and outbound helpers. It generalizes the teacher's flat `Node`
// (node.go) — which owned one implicit "domain" — into one Domain value
// per logically isolated overlay, all sharing one Transport and one
// Ticker, owned by a NetworkHub.
package domain

import (
	"fmt"
	"log"
	"net"
	"time"

	"github.com/arkth-araya/bbc1/netcore/codec"
	"github.com/arkth-araya/bbc1/netcore/id"
	"github.com/arkth-araya/bbc1/netcore/peer"
	"github.com/arkth-araya/bbc1/netcore/ticker"
)

// Tunable constants from spec.md §6. These are vars, not consts: tests
// shrink them to keep scenarios like route-exhaustion and ping-expiry fast
// rather than waiting out the real multi-second production defaults.
var (
	DurationGiveupPut  = 30 * time.Second
	IntervalRetry      = 3 * time.Second
	GetRetryCount      = 5
	RouteRetryCount    = 1
	RefreshInterval    = 1800 * time.Second
	AliveCheckPingWait = 2 * time.Second
	pingRetryCount     = 3
	pingRetryInterval  = 1 * time.Second
	pingExpireAfter    = 2 * time.Second
)

// Sender is the subset of Transport a Domain needs to push bytes to a
// peer; it is an interface so tests can substitute a fake transport.
type Sender interface {
	SendToPeer(info peer.NodeInfo, frame []byte) error

	// SendRaw sends a frame directly to an address that may not yet be a
	// registered peer — used by the domain-probe bootstrap exchange
	// (spec.md §4.7), which by definition runs before membership exists.
	SendRaw(ipv4, ipv6 string, port uint16, frame []byte) error
}

// Domain is the per-overlay state machine.
type Domain struct {
	ID       id.DomainId
	Self     id.NodeId
	IsGlobal bool

	peers *peer.Table
	users *registeredUsers

	overlay     Overlay
	overlayName string

	transport Sender
	ticker    *ticker.Ticker
	ledger    LedgerCore

	refreshEntry *ticker.Entry

	staticNodes []peer.NodeInfo

	logger *log.Logger
}

// Config bundles the construction-time dependencies for a Domain.
type Config struct {
	ID          id.DomainId
	Self        id.NodeId
	OverlayName string
	Transport   Sender
	Ticker      *ticker.Ticker
	Ledger      LedgerCore
	StaticNodes []peer.NodeInfo
}

// New creates a Domain and schedules its first refresh round.
func New(cfg Config) (*Domain, error) {
	overlayName := cfg.OverlayName
	if overlayName == "" {
		overlayName = "null"
	}

	d := &Domain{
		ID:          cfg.ID,
		Self:        cfg.Self,
		IsGlobal:    cfg.ID.IsGlobal(),
		peers:       peer.NewTable(cfg.Self),
		users:       newRegisteredUsers(),
		overlayName: overlayName,
		transport:   cfg.Transport,
		ticker:      cfg.Ticker,
		ledger:      cfg.Ledger,
		staticNodes: cfg.StaticNodes,
		logger:      log.New(log.Writer(), fmt.Sprintf("domain[%s]: ", cfg.ID.String()[:8]), log.LstdFlags),
	}

	overlay, err := newOverlay(overlayName, d)
	if err != nil {
		return nil, err
	}
	d.overlay = overlay

	for _, info := range cfg.StaticNodes {
		d.peers.AddPeerFull(info.NodeId, info.IPv4, info.IPv6, info.Port)
	}

	d.scheduleRefresh(RefreshInterval)

	return d, nil
}

// PeerTable exposes the domain's peer table to callers that need a
// read-only view (e.g. NetworkHub.SaveAllPeerLists).
func (d *Domain) PeerTable() *peer.Table { return d.peers }

// Ledger exposes the domain's LedgerCore collaborator to the router
// package, which lives outside this package to keep routing concerns
// separate from the base per-domain state machine.
func (d *Domain) Ledger() LedgerCore { return d.ledger }

// Overlay exposes the domain's pluggable overlay to the router package.
func (d *Domain) Overlay() Overlay { return d.overlay }

// Ticker exposes the domain's shared query table to the router package.
func (d *Domain) Ticker() *ticker.Ticker { return d.ticker }

// Transport exposes the domain's send primitive to the router package.
func (d *Domain) Transport() Sender { return d.transport }

// IsRegisteredUser reports whether userID is registered under
// assetGroupID in this domain.
func (d *Domain) IsRegisteredUser(assetGroupID id.AssetGroupID, userID id.UserID) bool {
	return d.users.isRegistered(assetGroupID, userID)
}

// RegisterUserID registers userID under assetGroupID.
func (d *Domain) RegisterUserID(assetGroupID id.AssetGroupID, userID id.UserID) {
	d.users.register(assetGroupID, userID)
}

// RemoveUserID removes userID from assetGroupID. A no-op if the asset
// group has no registrations at all (Open Question (b)).
func (d *Domain) RemoveUserID(assetGroupID id.AssetGroupID, userID id.UserID) {
	d.users.remove(assetGroupID, userID)
}

// makeMessage builds the common envelope fields every outbound domain
// message carries.
func (d *Domain) makeMessage(dst id.NodeId, nonce *ticker.Nonce, msgType codec.MsgType) codec.Body {
	body := codec.Body{
		codec.KeyDomainID:          d.ID[:],
		codec.KeySourceNodeID:      d.Self[:],
		codec.KeyDestinationNodeID: dst[:],
		codec.KeyP2PMsgType:        msgType,
	}
	if nonce != nil {
		body[codec.KeyNonce] = nonce[:]
	}
	return body
}

// SendMessageToPeer encodes body as a MsgPack envelope and sends it to
// dst. It fails silently (logs and returns false) if dst is not in the
// peer table, matching the "send failure never raised to an upper layer"
// error-handling policy.
func (d *Domain) SendMessageToPeer(dst id.NodeId, body codec.Body) bool {
	info, ok := d.peers.Get(dst)
	if !ok {
		d.logger.Printf("W: dropping message to unknown peer %s", dst.Short())
		return false
	}

	frame, err := codec.Encode(codec.MsgPack, body)
	if err != nil {
		d.logger.Printf("E: encode failed: %v", err)
		return false
	}

	snap := info.Snapshot()
	if err := d.transport.SendToPeer(snap, frame); err != nil {
		d.logger.Printf("W: send to %s failed: %v", dst.Short(), err)
		return false
	}
	return true
}

// broadcast sends body to every currently known peer.
func (d *Domain) broadcast(body codec.Body) {
	for _, info := range d.peers.Snapshot() {
		cloned := make(codec.Body, len(body))
		for k, v := range body {
			cloned[k] = v
		}
		cloned[codec.KeyDestinationNodeID] = info.NodeId[:]
		d.SendMessageToPeer(info.NodeId, cloned)
	}
}

// Ping sends a REQUEST_PING to dst, echoing nonce if given.
func (d *Domain) Ping(dst id.NodeId, nonce *ticker.Nonce) bool {
	return d.SendMessageToPeer(dst, d.makeMessage(dst, nonce, codec.MsgRequestPing))
}

// Store sends a REQUEST_STORE to dst.
func (d *Domain) Store(dst id.NodeId, nonce ticker.Nonce, assetGroupID id.AssetGroupID, resourceID []byte, resourceType uint8, resource []byte) bool {
	body := d.makeMessage(dst, &nonce, codec.MsgRequestStore)
	body[codec.KeyAssetGroupID] = assetGroupID[:]
	body[codec.KeyResourceID] = resourceID
	body[codec.KeyResourceType] = resourceType
	body[codec.KeyResource] = resource
	return d.SendMessageToPeer(dst, body)
}

// StartRefresh sends START_TO_REFRESH to dst.
func (d *Domain) StartRefresh(dst id.NodeId) bool {
	return d.SendMessageToPeer(dst, d.makeMessage(dst, nil, codec.MsgStartToRefresh))
}

// Leave broadcasts NOTIFY_LEAVE to every current peer. Callers (typically
// NetworkHub.RemoveDomain) drop the Domain afterwards.
func (d *Domain) Leave() {
	d.broadcast(d.makeMessage(id.NodeId{}, nil, codec.MsgNotifyLeave))
}

// ProcessMessageBase dispatches an inbound body by its p2p_msg_type,
// either to a built-in handler or, for anything it doesn't recognize, to
// the overlay's ProcessMessage.
func (d *Domain) ProcessMessageBase(isV4 bool, from net.Addr, body codec.Body) {
	rawType, ok := body[codec.KeyP2PMsgType]
	if !ok {
		return
	}
	msgType, ok := toMsgType(rawType)
	if !ok {
		return
	}

	source, hasSource := toNodeId(body[codec.KeySourceNodeID])

	switch msgType {
	case codec.MsgMessageToUser:
		if msg, ok := body[codec.KeyMessage]; ok {
			if err := d.ledger.DeliverToUser(msg); err != nil {
				d.logger.Printf("E: deliverToUser failed: %v", err)
			}
		}

	case codec.MsgRequestPing:
		if !hasSource {
			return
		}
		d.addPeerFromAddr(source, isV4, from)
		nonce, _ := toNonce(body[codec.KeyNonce])
		d.SendMessageToPeer(source, d.makeMessage(source, &nonce, codec.MsgResponsePing))

	case codec.MsgResponsePing:
		if !hasSource {
			return
		}
		d.addPeerFromAddr(source, isV4, from)
		if nonce, ok := toNonce(body[codec.KeyNonce]); ok {
			d.ticker.Success(nonce)
		}

	case codec.MsgResponseStore:
		if !hasSource {
			return
		}
		d.addPeerFromAddr(source, isV4, from)
		if nonce, ok := toNonce(body[codec.KeyNonce]); ok {
			if entry, found := d.ticker.Get(nonce); found {
				d.ticker.Deactivate(entry)
			}
		}

	case codec.MsgNotifyPeerList:
		if raw, ok := body[codec.KeyPeerList].([]byte); ok {
			d.RenewPeerlist(raw)
		}

	case codec.MsgStartToRefresh:
		if hasSource {
			d.addPeerFromAddr(source, isV4, from)
		}
		if d.refreshEntry != nil {
			d.ticker.Deactivate(d.refreshEntry)
		}
		d.scheduleRefresh(RefreshInterval)

	case codec.MsgNotifyLeave:
		if hasSource {
			d.peers.RemovePeer(source)
		}

	case codec.MsgNotifyCrossRef:
		if d.IsGlobal {
			if raw, ok := body[codec.KeyCrossRefs].([]byte); ok {
				d.handleCrossRefs(raw)
			}
		}

	default:
		d.overlay.ProcessMessage(isV4, from, msgType, body)
	}
}

func (d *Domain) addPeerFromAddr(nodeId id.NodeId, isV4 bool, from net.Addr) {
	if from == nil {
		return
	}
	udpAddr, ok := from.(*net.UDPAddr)
	if !ok {
		return
	}
	d.peers.AddPeer(nodeId, isV4, udpAddr.IP.String(), uint16(udpAddr.Port))
}

// toInt64 normalizes the numeric types a MsgPack decoder may hand back for
// a small integer (the exact width depends on the encoded value's range).
func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	}
	return 0, false
}

func toMsgType(v interface{}) (codec.MsgType, bool) {
	if n, ok := v.(codec.MsgType); ok {
		return n, true
	}
	n, ok := toInt64(v)
	if !ok {
		return 0, false
	}
	return codec.MsgType(n), true
}

func toNodeId(v interface{}) (id.NodeId, bool) {
	switch n := v.(type) {
	case id.NodeId:
		return n, true
	case []byte:
		if len(n) != id.Size {
			return id.NodeId{}, false
		}
		var out id.NodeId
		copy(out[:], n)
		return out, true
	}
	return id.NodeId{}, false
}

func toNonce(v interface{}) (ticker.Nonce, bool) {
	switch n := v.(type) {
	case ticker.Nonce:
		return n, true
	case []byte:
		if len(n) != 16 {
			return ticker.Nonce{}, false
		}
		var out ticker.Nonce
		copy(out[:], n)
		return out, true
	}
	return ticker.Nonce{}, false
}
