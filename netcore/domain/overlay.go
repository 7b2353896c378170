package domain

import (
	"fmt"
	"net"

	"github.com/arkth-araya/bbc1/netcore/codec"
	"github.com/arkth-araya/bbc1/netcore/id"
	"github.com/arkth-araya/bbc1/netcore/ticker"
)

// Overlay is the pluggable resource-routing capability a Domain delegates
// to once its own built-in message types are exhausted. The DHT's
// internal routing choices are not fixed by this core (spec.md §1); only
// this interface and its interaction with the query subsystem are.
//
// This replaces the source project's runtime module-name resolution
// (`network_module` loaded by name from config) with an explicit
// interface plus a registered-factory lookup, per the "dynamic overlay
// module loading" design note.
type Overlay interface {
	// AliveCheck is run once per refresh round, after START_TO_REFRESH has
	// been sent to every peer.
	AliveCheck()

	// ProcessMessage handles any p2p_msg_type the domain's own built-in
	// dispatch table doesn't recognize (DHT store/find-user/find-value
	// exchanges). It reports whether it handled the message.
	ProcessMessage(isV4 bool, from net.Addr, msgType codec.MsgType, body codec.Body) bool

	// GetResource resolves a DHT get query entry (resource lookup).
	GetResource(entry *ticker.Entry)

	// PutResource resolves a DHT put/store request.
	PutResource(assetGroupID id.AssetGroupID, resourceID []byte, resourceType uint8, resource []byte)

	// SendP2PMessage is the router's "find the next hop" hook: given a
	// route query entry, it performs an overlay lookup for the
	// destination user and, on success, stashes a *peer.NodeInfo under the
	// entry's Data so the router's forwardOnce can send to it.
	SendP2PMessage(entry *ticker.Entry)

	// RandomSend picks min(count, |peers|) peers uniformly at random and
	// sends body to each — used for cross-reference fanout.
	RandomSend(body codec.Body, count int)

	// AdvertiseAssetGroupInfo announces a locally hosted asset group into
	// the overlay (global domain only).
	AdvertiseAssetGroupInfo(assetGroupID id.AssetGroupID)
}

// OverlayFactory constructs an Overlay bound to a specific Domain.
type OverlayFactory func(d *Domain) Overlay

var overlayRegistry = make(map[string]OverlayFactory)

// RegisterOverlay makes a named overlay implementation available to
// CreateDomain. Call from an init() in the overlay implementation's
// package, the same way database/sql drivers register themselves.
func RegisterOverlay(name string, factory OverlayFactory) {
	overlayRegistry[name] = factory
}

func newOverlay(name string, d *Domain) (Overlay, error) {
	factory, ok := overlayRegistry[name]
	if !ok {
		return nil, fmt.Errorf("domain: no overlay module registered under name %q", name)
	}
	return factory(d), nil
}
