package domain

import "github.com/arkth-araya/bbc1/netcore/id"

// ErrorCode mirrors the small set of application-visible error codes a
// domain can report back through LedgerCore.ReplyError.
type ErrorCode int

// ENODestination is returned when routeMessage exhausts its retries
// without finding a peer that hosts the destination user.
const ENODestination ErrorCode = 1

// LedgerCore is the external collaborator that persists transactions and
// serves local delivery. Its contract only is fixed here; the
// implementation lives outside this networking core (spec.md §1, "Out of
// scope").
type LedgerCore interface {
	// DeliverToUser hands an application-level message body (the value
	// carried under KeyMessage) to whichever local user it addresses. The
	// network core treats the body as opaque; only LedgerCore interprets
	// it.
	DeliverToUser(body interface{}) error

	// ReplyError sends a structured error back to the local caller that
	// originated msg, used only for route exhaustion (spec.md §7). msg
	// carries enough of the original request (command, query id) for the
	// caller to correlate the reply.
	ReplyError(msg map[string]interface{}, code ErrorCode, text string) error

	// RecordCrossRef persists a (asset group, transaction) cross-reference
	// learned via NOTIFY_CROSS_REF.
	RecordCrossRef(assetGroupID id.AssetGroupID, txID [32]byte) error
}
