package domain

import (
	"net"

	"github.com/arkth-araya/bbc1/netcore/codec"
	"github.com/arkth-araya/bbc1/netcore/id"
	"github.com/arkth-araya/bbc1/netcore/ticker"
)

func init() {
	RegisterOverlay("null", newNullOverlay)
}

// nullOverlay is the degenerate Overlay: every DHT-specific hook is a no-op,
// directly mirroring the source project's BBcNetwork base class, whose
// process_message/random_send/get_resource/put_resource/send_p2p_message
// are themselves empty stubs meant to be overridden by whatever module a
// domain's config names. A domain configured without a real DHT module
// (or with one the process doesn't have registered) gets this instead of a
// nil-pointer panic: routeMessage queries simply run to expiry, and
// advertise/random-send are silent no-ops.
type nullOverlay struct{}

func newNullOverlay(*Domain) Overlay { return nullOverlay{} }

func (nullOverlay) AliveCheck() {}

func (nullOverlay) ProcessMessage(isV4 bool, from net.Addr, msgType codec.MsgType, body codec.Body) bool {
	return false
}

func (nullOverlay) GetResource(entry *ticker.Entry) {}

func (nullOverlay) PutResource(assetGroupID id.AssetGroupID, resourceID []byte, resourceType uint8, resource []byte) {
}

func (nullOverlay) SendP2PMessage(entry *ticker.Entry) {}

func (nullOverlay) RandomSend(body codec.Body, count int) {}

func (nullOverlay) AdvertiseAssetGroupInfo(assetGroupID id.AssetGroupID) {}
