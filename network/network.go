// Package network defines the node's Network port: the libp2p transport
// is consumed only through this interface, never concretely, so the core
// never imports a transport library directly. It follows a narrow
// Broadcaster/MessageHandler pair — the smallest interface the core's
// components depend on rather than a concrete transport server —
// generalized to an addressed Envelope carrying a message-type string so
// a subscriber can demux without inspecting bytes.
package network

import "kore/identity"

// PeerID addresses one node, derived from its public key the way every
// other node-identifying value in this core is: a self-describing KeyId
// string. It is a type alias rather than a KeyId-wrapping struct so
// callers can use it directly as a map key.
type PeerID = string

// PeerIDFromKey renders key's wire form as the PeerID other components
// address it by.
func PeerIDFromKey(key identity.KeyId) PeerID {
	return key.String()
}

// Envelope is one message crossing the wire, addressed by the sender's
// PeerID and tagged with the message-type constants below so a receiver
// can dispatch without decoding the payload first. Envelope carries no
// signature of its own. Payload holds the typed message in whatever
// encoding the producing package chose (the distribution package uses
// encoding/json); callers decode it once they know the type.
type Envelope struct {
	Type    string
	From    PeerID
	Payload []byte
}

// The peer-to-peer message types this node exchanges. Each corresponds to
// one Envelope.Type value; concrete Go payload types are defined by the
// package that produces them (pipeline, approval, ledger, distribution).
const (
	TypeEventRequestEvaluation = "event_request_evaluation"
	TypeEvaluationResponse     = "evaluation_response"
	TypeApprovalRequest        = "approval_request"
	TypeApprovalResponse       = "approval_response"
	TypeValidationRequest      = "validation_request"
	TypeValidationResponse     = "validation_response"
	TypeLedgerEvent            = "ledger_event"
	TypeLedgerRange            = "ledger_range"
	TypeDistributionSignaturesNeeded    = "distribution_signatures_needed"
	TypeDistributionProvideSignatures   = "distribution_provide_signatures"
	TypeDistributionSignaturesReceived  = "distribution_signatures_received"
	TypeDistributionAck                 = "distribution_ack"
	TypeHigherGovernanceExpected = "higher_governance_expected"
	TypeGovernanceUpdated        = "governance_updated"
)

// Network is the port every transport-facing component (pipeline,
// approval, distribution, scheduler) consumes. A concrete libp2p adapter
// lives in the host binary, not in this module.
type Network interface {
	// Send delivers msg to peer. Implementations may be fire-and-forget;
	// delivery failures surface as an error to the caller, who decides
	// whether to retry (normally via the scheduler).
	Send(peer PeerID, msg Envelope) error
	// Subscribe returns a channel receiving every inbound Envelope whose
	// Type matches msgType. Multiple subscribers to the same type each
	// get their own channel. The channel is receive-only and there is no
	// unsubscribe: a subscription lasts for the Network's lifetime.
	Subscribe(msgType string) <-chan Envelope
}
