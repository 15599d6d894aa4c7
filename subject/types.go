// Package subject implements the node's Subject & Event Model: subject
// state, the chain invariants Subject.Apply enforces, and
// validation-proof construction.
package subject

import (
	"encoding/json"

	"kore/identity"
)

// RequestKind tags which of the four EventRequest shapes a request is.
type RequestKind uint8

const (
	// KindCreate starts a new subject's chain at sn=0.
	KindCreate RequestKind = iota
	// KindFact appends an ordinary state-changing event.
	KindFact
	// KindTransfer rotates the subject's controlling key.
	KindTransfer
	// KindEOL permanently deactivates the subject.
	KindEOL
)

// EventRequest is the tagged union of the four request shapes. Only the
// fields relevant to Kind are meaningful; the rest are zero.
type EventRequest struct {
	Kind RequestKind

	// Create
	GovernanceID identity.DigestId
	SchemaID     string
	Namespace    string
	Name         string
	PublicKey    identity.KeyId

	// Fact / Transfer / EOL
	SubjectID identity.DigestId

	// Fact
	Payload []byte

	// Transfer
	NewPublicKey identity.KeyId
}

// Encode appends r's canonical byte encoding to enc.
func (r EventRequest) Encode(enc *identity.Encoder) {
	enc.WriteUint8(uint8(r.Kind))
	switch r.Kind {
	case KindCreate:
		identity.EncodeDigestId(enc, r.GovernanceID)
		enc.WriteString(r.SchemaID)
		enc.WriteString(r.Namespace)
		enc.WriteString(r.Name)
		identity.EncodeKeyId(enc, r.PublicKey)
	case KindFact:
		identity.EncodeDigestId(enc, r.SubjectID)
		enc.WriteBytes(r.Payload)
	case KindTransfer:
		identity.EncodeDigestId(enc, r.SubjectID)
		identity.EncodeKeyId(enc, r.NewPublicKey)
	case KindEOL:
		identity.EncodeDigestId(enc, r.SubjectID)
	}
}

// SignedEventRequest wraps an EventRequest with the invoker's signature
// over its canonical encoding.
type SignedEventRequest struct {
	Request   EventRequest
	Signature identity.Signature
}

// Encode appends s's canonical byte encoding to enc.
func (s SignedEventRequest) Encode(enc *identity.Encoder) {
	s.Request.Encode(enc)
	identity.EncodeSignature(enc, s.Signature)
}

// VerifyInvokerSignature checks that Signature was produced by the
// claimed invoker over the canonical encoding of Request.
func (s SignedEventRequest) VerifyInvokerSignature(invoker identity.KeyId) error {
	enc := identity.NewEncoder()
	s.Request.Encode(enc)
	digest, err := identity.Hash(enc.Bytes(), s.Signature.ContentHash.Derivator)
	if err != nil {
		return err
	}
	if !digest.Equal(s.Signature.ContentHash) {
		return ErrBadEncoding
	}
	if !s.Signature.Signer.Equal(invoker) {
		return ErrBadSignature
	}
	return s.Signature.Verify()
}

// Evaluation is a signed evaluator's verdict on an EventPreEvaluation,
// carried inside an EventProposal once the Evaluating stage concludes.
type Evaluation struct {
	PreevaluationHash identity.DigestId
	GovVersion        uint64
	StateHash         identity.DigestId
	JSONPatch         []byte
	Success           bool
	ApprovalRequired  bool
}

// Encode appends e's canonical byte encoding to enc.
func (e Evaluation) Encode(enc *identity.Encoder) {
	identity.EncodeDigestId(enc, e.PreevaluationHash)
	enc.WriteUint64(e.GovVersion)
	identity.EncodeDigestId(enc, e.StateHash)
	enc.WriteBytes(e.JSONPatch)
	enc.WriteBool(e.Success)
	enc.WriteBool(e.ApprovalRequired)
}

// EventProposal is the unsigned body of a committed (or attempted) event.
type EventProposal struct {
	EventRequest  SignedEventRequest
	SN            uint64
	PrevEventHash identity.DigestId
	GovVersion    uint64
	Evaluation    *Evaluation
	Approvals     []identity.Signature
	JSONPatch     []byte
	StateHash     identity.DigestId
	Executed      bool
}

// Encode appends p's canonical byte encoding to enc.
func (p EventProposal) Encode(enc *identity.Encoder) {
	p.EventRequest.Encode(enc)
	enc.WriteUint64(p.SN)
	identity.EncodeDigestId(enc, p.PrevEventHash)
	enc.WriteUint64(p.GovVersion)
	enc.WriteBool(p.Evaluation != nil)
	if p.Evaluation != nil {
		p.Evaluation.Encode(enc)
	}
	enc.WriteUint32(uint32(len(p.Approvals)))
	for _, sig := range p.Approvals {
		identity.EncodeSignature(enc, sig)
	}
	enc.WriteBytes(p.JSONPatch)
	identity.EncodeDigestId(enc, p.StateHash)
	enc.WriteBool(p.Executed)
}

// Hash computes event_hash: the digest of p's canonical encoding.
func (p EventProposal) Hash(derivator identity.DigestDerivator) (identity.DigestId, error) {
	enc := identity.NewEncoder()
	p.Encode(enc)
	return identity.Hash(enc.Bytes(), derivator)
}

// Event is a committed state transition: its proposal, the validation
// signatures that reached quorum, and the governance version in effect
// when it committed.
type Event struct {
	Proposal             EventProposal
	ValidationSignatures []identity.Signature
	GovVersionAtCommit   uint64
}

// Subject is a subject's per-chain state.
type Subject struct {
	SubjectID         identity.DigestId
	GovernanceID      identity.DigestId
	GenesisGovVersion uint64
	SN                uint64
	SchemaID          string
	Namespace         string
	Name              string
	Owner             identity.KeyId
	Creator           identity.KeyId
	SubjectPublicKey  identity.KeyId
	Properties        json.RawMessage
	Active            bool
	// LastEventHash is the event_hash of the most recently committed
	// event, used as the next event's expected PrevEventHash. It is the
	// zero DigestId until the genesis event is committed, which sets it to
	// that event's hash.
	LastEventHash identity.DigestId
	// Keys is present iff this node currently owns the subject. It is
	// never marshaled alongside the rest of Subject's state: a
	// PrivateKey's fields are unexported by design, and key custody is
	// kept out of the shared, generic subject store (see ledger's
	// DESIGN.md entry).
	Keys *identity.PrivateKey `json:"-"`
}

// ValidationProof is the minimal structure validators sign, committing to
// one (subject, sn, event_hash, governance_version) tuple.
type ValidationProof struct {
	SubjectID                identity.DigestId
	SchemaID                 string
	Namespace                string
	Name                     string
	SubjectPublicKey         identity.KeyId
	GovernanceID             identity.DigestId
	GenesisGovernanceVersion uint64
	SN                       uint64
	PrevEventHash            identity.DigestId
	EventHash                identity.DigestId
	GovernanceVersion        uint64
}

// Encode appends p's canonical byte encoding to enc.
func (p ValidationProof) Encode(enc *identity.Encoder) {
	identity.EncodeDigestId(enc, p.SubjectID)
	enc.WriteString(p.SchemaID)
	enc.WriteString(p.Namespace)
	enc.WriteString(p.Name)
	identity.EncodeKeyId(enc, p.SubjectPublicKey)
	identity.EncodeDigestId(enc, p.GovernanceID)
	enc.WriteUint64(p.GenesisGovernanceVersion)
	enc.WriteUint64(p.SN)
	identity.EncodeDigestId(enc, p.PrevEventHash)
	identity.EncodeDigestId(enc, p.EventHash)
	enc.WriteUint64(p.GovernanceVersion)
}

// NewValidationProofFrom snapshots subject's immutable identifying fields
// plus event's hash and the current governance version.
func NewValidationProofFrom(s Subject, prevEventHash, eventHash identity.DigestId, governanceVersion uint64) ValidationProof {
	return ValidationProof{
		SubjectID:                s.SubjectID,
		SchemaID:                 s.SchemaID,
		Namespace:                s.Namespace,
		Name:                     s.Name,
		SubjectPublicKey:         s.SubjectPublicKey,
		GovernanceID:             s.GovernanceID,
		GenesisGovernanceVersion: s.GenesisGovVersion,
		SN:                       s.SN,
		PrevEventHash:            prevEventHash,
		EventHash:                eventHash,
		GovernanceVersion:        governanceVersion,
	}
}

// Similar reports whether a and b describe the same chain position,
// ignoring GovernanceVersion — used when a governance-version update
// alone doesn't change the chain.
func Similar(a, b ValidationProof) bool {
	return a.SubjectID.Equal(b.SubjectID) &&
		a.SchemaID == b.SchemaID &&
		a.Namespace == b.Namespace &&
		a.Name == b.Name &&
		a.SubjectPublicKey.Equal(b.SubjectPublicKey) &&
		a.GovernanceID.Equal(b.GovernanceID) &&
		a.GenesisGovernanceVersion == b.GenesisGovernanceVersion &&
		a.SN == b.SN &&
		a.PrevEventHash.Equal(b.PrevEventHash) &&
		a.EventHash.Equal(b.EventHash)
}
