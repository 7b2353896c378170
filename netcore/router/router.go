// Package router implements the application-message router (spec.md §4.6):
// deliver a user-addressed message locally if the domain already hosts the
// destination user, otherwise ask the domain's overlay for a next hop and
// forward one time, falling back to a structured error reply if the
// overlay never resolves one before the query expires.
//
// It is grounded on the source project's BBcNetwork.route_message (and its
// query-table-driven forward/give-up pair), generalized out of bbc_network.go
// into its own package the way node.go's inline whisper/shout forwarding is
// split out of Node in the teacher, but expressed against this core's
// Domain/Ticker/Overlay abstractions instead of a flat peer broadcast.
package router

import (
	"github.com/arkth-araya/bbc1/netcore/codec"
	"github.com/arkth-araya/bbc1/netcore/domain"
	"github.com/arkth-araya/bbc1/netcore/id"
	"github.com/arkth-araya/bbc1/netcore/peer"
	"github.com/arkth-araya/bbc1/netcore/ticker"
)

// routeData is the Data payload of a "route" ticker entry. PeerInfo is nil
// until the overlay's SendP2PMessage resolves a next hop; Command/QueryID
// are carried through so routeFailure can echo them back to the caller.
type routeData struct {
	assetGroupID id.AssetGroupID
	srcUser      id.UserID
	dstUser      id.UserID
	body         codec.Body
	payloadType  codec.PayloadType

	PeerInfo *peer.NodeInfo
	command  interface{}
	queryID  interface{}
}

// RouteMessage delivers body locally if dstUser is already registered on d
// under assetGroupID; otherwise it opens a retrying query that asks the
// overlay for a next hop (via Overlay.SendP2PMessage) and forwards body
// wrapped in a MESSAGE_TO_USER envelope once the overlay resolves one. It
// reports whether the message was accepted for delivery — locally or
// queued for routing — not whether delivery ultimately succeeds; route
// exhaustion surfaces asynchronously through LedgerCore.ReplyError.
func RouteMessage(d *domain.Domain, assetGroupID id.AssetGroupID, dstUser, srcUser id.UserID, body codec.Body, payloadType codec.PayloadType) bool {
	if d.IsRegisteredUser(assetGroupID, dstUser) {
		return d.Ledger().DeliverToUser(body) == nil
	}

	rd := &routeData{
		assetGroupID: assetGroupID,
		srcUser:      srcUser,
		dstUser:      dstUser,
		body:         body,
		payloadType:  payloadType,
	}
	if cmd, ok := body[codec.KeyCommand]; ok {
		rd.command = cmd
	}
	if qid, ok := body[codec.KeyQueryID]; ok {
		rd.queryID = qid
	}

	entry := d.Ticker().NewEntry("route", rd, domain.DurationGiveupPut, domain.IntervalRetry, domain.RouteRetryCount,
		func(e *ticker.Entry) { forwardOnce(d, e) },
		func(e *ticker.Entry) { d.Overlay().SendP2PMessage(e) },
		func(e *ticker.Entry) { routeFailure(d, e) },
	)
	d.Overlay().SendP2PMessage(entry)
	return true
}

// forwardOnce runs as the route query's onSuccess: the overlay has already
// stashed a next-hop peer in entry.Data before resolving the query, so this
// only needs to build the envelope and hand it to the transport. It mirrors
// the source project's forward_message, which builds
// make_message(dst_node_id=nodeinfo.node_id, msg_type=MESSAGE_TO_USER) before
// attaching the message body — domain_id/source/destination/p2p_msg_type all
// have to be present or the next hop's transport and domain dispatch both
// drop the frame before it ever reaches ProcessMessageBase.
func forwardOnce(d *domain.Domain, e *ticker.Entry) {
	rd := e.Data.(*routeData)
	if rd.PeerInfo == nil {
		return
	}

	envelope := codec.Body{
		codec.KeyDomainID:          d.ID[:],
		codec.KeySourceNodeID:      d.Self[:],
		codec.KeyDestinationNodeID: rd.PeerInfo.NodeId[:],
		codec.KeyP2PMsgType:        codec.MsgMessageToUser,
		codec.KeyMessage:           rd.body,
	}
	frame, err := codec.Encode(codec.MsgPack, envelope)
	if err != nil {
		return
	}
	d.Transport().SendToPeer(*rd.PeerInfo, frame)
}

// routeFailure runs as the route query's onExpire: no next hop was ever
// learned within domain.DurationGiveupPut, so the original caller is told
// the destination could not be found.
func routeFailure(d *domain.Domain, e *ticker.Entry) {
	rd := e.Data.(*routeData)
	reply := map[string]interface{}{
		"command":  rd.command,
		"query_id": rd.queryID,
	}
	d.Ledger().ReplyError(reply, domain.ENODestination, "cannot find core node")
}
