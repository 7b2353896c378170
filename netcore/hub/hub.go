// Package hub implements NetworkHub: the top-level lifecycle object that
// owns the transport, the shared ticker, and the set of domains a node
// currently participates in, and exposes the public API consumed by higher
// layers (spec.md §6).
//
// It generalizes the teacher's Gyre type (gyre.go) — a thin command-channel
// facade in front of one Node — into a facade in front of many Domains
// sharing one Transport and one Ticker, the same "one wrapper, many
// workers underneath" shape but fanned out by domain id instead of owning
// exactly one group membership.
package hub

import (
	"encoding/hex"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/arkth-araya/bbc1/netcore/codec"
	"github.com/arkth-araya/bbc1/netcore/domain"
	"github.com/arkth-araya/bbc1/netcore/id"
	"github.com/arkth-araya/bbc1/netcore/peer"
	"github.com/arkth-araya/bbc1/netcore/router"
	"github.com/arkth-araya/bbc1/netcore/ticker"
	"github.com/arkth-araya/bbc1/netcore/transport"
)

// NumCrossRefCopy is the fanout width of disseminateCrossRef (spec.md §4.8).
const NumCrossRefCopy = 2

// Config bundles NetworkHub's construction-time dependencies.
type Config struct {
	Port        int
	Self        id.NodeId // zero value requests a freshly generated id
	Ledger      domain.LedgerCore
	ConfigStore ConfigStore
}

// Hub is the top-level per-process object: one Transport, one Ticker,
// many Domains. It implements transport.Inbound to demultiplex inbound
// traffic to the domain named by each frame's domain_id.
type Hub struct {
	self id.NodeId

	transport *transport.Transport
	ticker    *ticker.Ticker
	ledger    domain.LedgerCore
	config    ConfigStore

	mu      sync.RWMutex
	domains map[id.DomainId]*domain.Domain

	logger *log.Logger
}

// New binds the transport and starts the shared ticker. The Hub is ready
// to accept CreateDomain calls once New returns.
func New(cfg Config) (*Hub, error) {
	self := cfg.Self
	if self.IsZero() {
		generated, err := id.NewNodeId()
		if err != nil {
			return nil, fmt.Errorf("hub: generate node id: %w", err)
		}
		self = generated
	}

	h := &Hub{
		self:    self,
		ledger:  cfg.Ledger,
		config:  cfg.ConfigStore,
		domains: make(map[id.DomainId]*domain.Domain),
		logger:  log.New(log.Writer(), "hub: ", log.LstdFlags),
	}

	h.ticker = ticker.New()

	t, err := transport.Listen(cfg.Port, h)
	if err != nil {
		h.ticker.Stop()
		return nil, err
	}
	h.transport = t

	return h, nil
}

// Close tears down every owned worker: the transport's listeners and the
// ticker's scheduler.
func (h *Hub) Close() {
	h.transport.Close()
	h.ticker.Stop()
}

// Self returns the node id this hub was constructed with (or generated).
func (h *Hub) Self() id.NodeId { return h.self }

// Port returns the bound transport port.
func (h *Hub) Port() int { return h.transport.Port() }

// CreateDomain constructs a Domain for domainID bound to the named overlay
// module and registers it with the hub. newNodeId requests a node id minted
// fresh for this domain instead of the hub's shared self id — some
// deployments run one domain under a throwaway identity distinct from the
// node's main one. Returns false (no error) if domainID is already present.
func (h *Hub) CreateDomain(domainID id.DomainId, moduleName string, newNodeId bool) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.domains[domainID]; exists {
		return false, nil
	}

	self := h.self
	if newNodeId {
		generated, err := id.NewNodeId()
		if err != nil {
			return false, fmt.Errorf("hub: generate domain node id: %w", err)
		}
		self = generated
	}

	var staticNodes []peer.NodeInfo
	if cfg, ok := h.config.GetDomain(domainID); ok {
		for hexID, addr := range cfg.StaticNodes {
			nodeID, err := parseNodeIDHex(hexID)
			if err != nil {
				h.logger.Printf("W: skipping malformed static node id %q: %v", hexID, err)
				continue
			}
			staticNodes = append(staticNodes, peer.NodeInfo{
				NodeId: nodeID, IPv4: addr.IPv4, IPv6: addr.IPv6, Port: addr.Port,
			})
		}
	}

	d, err := domain.New(domain.Config{
		ID:          domainID,
		Self:        self,
		OverlayName: moduleName,
		Transport:   h.transport,
		Ticker:      h.ticker,
		Ledger:      h.ledger,
		StaticNodes: staticNodes,
	})
	if err != nil {
		return false, err
	}

	h.domains[domainID] = d
	h.logger.Printf("I: created domain %s module=%q req=%s", domainID.String()[:8], moduleName, uuid.New().String())
	return true, nil
}

// RemoveDomain broadcasts NOTIFY_LEAVE to the domain's current peers, then
// drops it from the hub.
func (h *Hub) RemoveDomain(domainID id.DomainId) {
	d, ok := h.getDomain(domainID)
	if !ok {
		return
	}
	d.Leave()

	h.mu.Lock()
	if h.domains[domainID] == d {
		delete(h.domains, domainID)
	}
	h.mu.Unlock()
}

// AddStaticNodeToDomain inserts a known peer address into domainID's table
// and starts its liveness probe, same as any freshly learned peer.
func (h *Hub) AddStaticNodeToDomain(domainID id.DomainId, nodeID id.NodeId, ipv4, ipv6 string, port uint16) error {
	d, ok := h.getDomain(domainID)
	if !ok {
		return fmt.Errorf("hub: unknown domain %s", domainID.String()[:8])
	}
	d.AddPeerFull(nodeID, ipv4, ipv6, port)
	return nil
}

// RegisterUserId registers userID under assetGroupID on domainID.
func (h *Hub) RegisterUserId(domainID id.DomainId, assetGroupID id.AssetGroupID, userID id.UserID) error {
	d, ok := h.getDomain(domainID)
	if !ok {
		return fmt.Errorf("hub: unknown domain %s", domainID.String()[:8])
	}
	d.RegisterUserID(assetGroupID, userID)
	return nil
}

// RemoveUserId removes userID from assetGroupID across every domain the hub
// currently owns, matching spec.md §6's "the latter sweeps every domain".
func (h *Hub) RemoveUserId(assetGroupID id.AssetGroupID, userID id.UserID) {
	h.mu.RLock()
	domains := make([]*domain.Domain, 0, len(h.domains))
	for _, d := range h.domains {
		domains = append(domains, d)
	}
	h.mu.RUnlock()

	for _, d := range domains {
		d.RemoveUserID(assetGroupID, userID)
	}
}

// RouteMessage delivers or forwards body toward dstUser within domainID.
func (h *Hub) RouteMessage(domainID id.DomainId, assetGroupID id.AssetGroupID, srcUser, dstUser id.UserID, body codec.Body, payloadType codec.PayloadType) (bool, error) {
	d, ok := h.getDomain(domainID)
	if !ok {
		return false, fmt.Errorf("hub: unknown domain %s", domainID.String()[:8])
	}
	return router.RouteMessage(d, assetGroupID, dstUser, srcUser, body, payloadType), nil
}

// Put hands a resource to domainID's overlay for DHT storage.
func (h *Hub) Put(domainID id.DomainId, assetGroupID id.AssetGroupID, resourceID []byte, resourceType uint8, resource []byte) error {
	d, ok := h.getDomain(domainID)
	if !ok {
		return fmt.Errorf("hub: unknown domain %s", domainID.String()[:8])
	}
	d.Overlay().PutResource(assetGroupID, resourceID, resourceType, resource)
	return nil
}

// Get hands a pre-built query entry to domainID's overlay to resolve a DHT
// lookup; the caller is expected to have armed entry via domainID's Ticker.
func (h *Hub) Get(domainID id.DomainId, entry *ticker.Entry) error {
	d, ok := h.getDomain(domainID)
	if !ok {
		return fmt.Errorf("hub: unknown domain %s", domainID.String()[:8])
	}
	d.Overlay().GetResource(entry)
	return nil
}

// DisseminateCrossRef fans a (assetGroupID, txID) cross-reference out to
// NumCrossRefCopy random peers of the global domain, per spec.md §4.8. With
// no global domain registered, it simply records the cross-ref locally.
func (h *Hub) DisseminateCrossRef(txID [32]byte, assetGroupID id.AssetGroupID) error {
	global, ok := h.getDomain(id.DomainGlobalZero)
	if !ok {
		return h.ledger.RecordCrossRef(assetGroupID, txID)
	}

	buf := make([]byte, 2+32+32)
	buf[0], buf[1] = 0, 1 // count=1, big-endian
	copy(buf[2:34], assetGroupID[:])
	copy(buf[34:66], txID[:])

	envelope := codec.Body{
		codec.KeyDomainID:     id.DomainGlobalZero[:],
		codec.KeySourceNodeID: global.Self[:],
		codec.KeyP2PMsgType:   codec.MsgNotifyCrossRef,
		codec.KeyCrossRefs:    buf,
	}
	global.RandomSend(envelope, NumCrossRefCopy)
	return nil
}

// SaveAllPeerLists snapshots every domain's current peer table back into
// config and flushes it.
func (h *Hub) SaveAllPeerLists() error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for domainID, d := range h.domains {
		peerList := make(map[string]StaticAddress)
		for _, info := range d.PeerTable().Snapshot() {
			peerList[info.NodeId.String()] = StaticAddress{IPv4: info.IPv4, IPv6: info.IPv6, Port: info.Port}
		}
		cfg, _ := h.config.GetDomain(domainID)
		cfg.PeerList = peerList
		h.config.UpdateDomain(domainID, cfg)
	}
	return h.config.Save()
}

func (h *Hub) getDomain(domainID id.DomainId) (*domain.Domain, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	d, ok := h.domains[domainID]
	return d, ok
}

// RouteDomainMessage implements transport.Inbound: a domain_id not present
// in h.domains is silently dropped, preserving the "no state changes"
// invariant for frames addressed to a domain this process doesn't host.
func (h *Hub) RouteDomainMessage(isV4 bool, from net.Addr, body codec.Body) {
	domainID, ok := toDomainId(body[codec.KeyDomainID])
	if !ok {
		return
	}
	d, ok := h.getDomain(domainID)
	if !ok {
		return
	}
	d.ProcessMessageBase(isV4, from, body)
}

// RouteDomainPing implements transport.Inbound for the domain-probe
// exchange (spec.md §4.7).
func (h *Hub) RouteDomainPing(isV4 bool, from net.Addr, body codec.Body) {
	domainID, ok := toDomainId(body[codec.KeyDomainID])
	if !ok {
		return
	}
	d, ok := h.getDomain(domainID)
	if !ok {
		return
	}
	d.HandleDomainProbe(isV4, from, body)
}

func toDomainId(v interface{}) (id.DomainId, bool) {
	b, ok := v.([]byte)
	if !ok || len(b) != id.Size {
		return id.DomainId{}, false
	}
	var out id.DomainId
	copy(out[:], b)
	return out, true
}

func parseNodeIDHex(s string) (id.NodeId, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return id.NodeId{}, err
	}
	if len(b) != id.Size {
		return id.NodeId{}, fmt.Errorf("hub: node id hex must decode to %d bytes, got %d", id.Size, len(b))
	}
	var out id.NodeId
	copy(out[:], b)
	return out, nil
}
