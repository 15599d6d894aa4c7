// Package approval implements the node's Approval Manager: the per-node
// inbox of open approval requests, the auto-respond policy, and the
// response aggregation the host's "pending approvals" query reads. Live
// quorum tallying that drives a round to its next stage still lives in
// pipeline.Manager (it owns the round); this package owns the durable
// Approval record and the at-most-one-pending-per-subject invariant,
// following an ordered-queue-by-key pattern repurposed from priority
// ordering to per-subject approval-request bookkeeping with an
// obsolescence index.
package approval

import (
	"encoding/json"
	"errors"

	"kore/identity"
)

// Policy selects how this node answers an approval request it is asked to
// vote on.
type Policy int

const (
	// PolicyNormal defers every decision to the host (api.Facade's
	// RespondApproval); this is the default auto mode.
	PolicyNormal Policy = iota
	// PolicyAlwaysAccept auto-accepts every request this node receives.
	PolicyAlwaysAccept
	// PolicyAlwaysReject auto-rejects every request this node receives.
	PolicyAlwaysReject
)

// Status is one Approval record's lifecycle position.
type Status int

const (
	// StatusPending: observed, awaiting a quorum or timeout.
	StatusPending Status = iota
	// StatusResponded: a quorum of responses (or this node's own vote)
	// was recorded.
	StatusResponded
	// StatusObsolete: superseded by the corresponding event committing,
	// or by a newer request for the same subject.
	StatusObsolete
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusResponded:
		return "responded"
	case StatusObsolete:
		return "obsolete"
	default:
		return "unknown"
	}
}

// Request is the ApprovalRequest broadcast to the approver set during the
// Approving stage, extended with the fields this package needs to index
// and de-duplicate it: a content-derived RequestID and the governing
// governance id.
type Request struct {
	RequestID      identity.DigestId
	SubjectID      identity.DigestId
	GovernanceID   identity.DigestId
	SN             uint64
	EvaluationHash identity.DigestId
}

// Encode appends r's canonical byte encoding to enc (everything except
// RequestID itself, which is derived from this encoding).
func (r Request) Encode(enc *identity.Encoder) {
	identity.EncodeDigestId(enc, r.SubjectID)
	enc.WriteUint64(r.SN)
	identity.EncodeDigestId(enc, r.EvaluationHash)
}

// ComputeRequestID derives RequestID from r's other fields, so the same
// (subject, sn, evaluation) triple always yields the same request id
// regardless of which node computes it.
func ComputeRequestID(r Request, derivator identity.DigestDerivator) (identity.DigestId, error) {
	enc := identity.NewEncoder()
	r.Encode(enc)
	return identity.Hash(enc.Bytes(), derivator)
}

// Response is one approver's signed Accept/Reject vote, mirroring
// pipeline.SignedApprovalResponse but carrying the RequestID explicitly so
// it can be routed back to the right Record without an open round.
type Response struct {
	RequestID identity.DigestId
	Accept    bool
	Signer    identity.KeyId
	Signature identity.Signature
}

// Record is the persisted Approval record.
type Record struct {
	RequestID           identity.DigestId    `json:"request_id"`
	SubjectID           identity.DigestId    `json:"subject_id"`
	GovernanceID        identity.DigestId    `json:"governance_id"`
	State               Status               `json:"state"`
	Accepted            *bool                `json:"accepted,omitempty"`
	ResponseSignatures  []identity.Signature `json:"response_signatures,omitempty"`
}

func (r Record) marshal() ([]byte, error) { return json.Marshal(r) }

var (
	// ErrUnknownRequest is returned when an operation names a RequestID
	// with no stored Record.
	ErrUnknownRequest = errors.New("approval: unknown request id")
	// ErrAlreadyResponded is returned by Respond when this node has
	// already cast its own vote for the request.
	ErrAlreadyResponded = errors.New("approval: already responded to this request")
	// ErrObsolete is returned when an operation targets a Record that has
	// already moved to StatusObsolete.
	ErrObsolete = errors.New("approval: request is obsolete")
)
