// Package distribution implements the node's Distribution & Witnessing
// component: after an event commits, it pushes the event plus its
// validation quorum to every witness, re-pushing periodically until the
// witness acknowledges catching up, and reports (without blocking) any
// witness that never does. It composes broadcast delivery with the
// scheduler's indefinite task mode.
package distribution

import (
	"encoding/json"

	"kore/identity"
	"kore/subject"
)

// Push is the SignaturesReceived/Event payload sent to each witness: the
// full committed event plus the proof the validation quorum signed.
type Push struct {
	SubjectID identity.DigestId
	Event     subject.Event
	Proof     subject.ValidationProof
}

// Ack is a witness's acknowledgement that its local chain has caught up to
// at least SN for SubjectID, sent back to the distributing node to stop
// the re-push loop.
type Ack struct {
	SubjectID identity.DigestId
	SN        uint64
	Witness   identity.KeyId
}

// SignaturesNeeded is sent by a node that is missing the validation
// signatures for a subject/sn it otherwise has the event for (e.g. after a
// ledger gap-repair pull that returned events but not their proofs).
type SignaturesNeeded struct {
	SubjectID identity.DigestId
	SN        uint64
}

// ProvideSignatures answers a SignaturesNeeded request with the requested
// proof's validation signatures.
type ProvideSignatures struct {
	SubjectID  identity.DigestId
	SN         uint64
	Signatures []identity.Signature
}

func marshal(v any) ([]byte, error) { return json.Marshal(v) }
