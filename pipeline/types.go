// Package pipeline implements the Event Pipeline, the per-subject state
// machine that carries a signed event request from evaluation through
// optional approval, validation and commit.
package pipeline

import (
	"encoding/json"

	"kore/identity"
	"kore/subject"
)

// Stage is one position in a subject's round state machine.
type Stage int

const (
	StageIdle Stage = iota
	StageEvaluating
	StageApproving
	StageValidating
	StageCommitting
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageEvaluating:
		return "evaluating"
	case StageApproving:
		return "approving"
	case StageValidating:
		return "validating"
	case StageCommitting:
		return "committing"
	default:
		return "unknown"
	}
}

// EvalContext is the read-only context an evaluator's contract execution
// runs against.
type EvalContext struct {
	GovernanceID identity.DigestId
	SchemaID     string
	Invoker      identity.KeyId
	Creator      identity.KeyId
	Owner        identity.KeyId
	CurrentState json.RawMessage
	Namespace    string
}

// EventPreEvaluation is broadcast to the evaluator set at the start of a
// round.
type EventPreEvaluation struct {
	EventRequest subject.SignedEventRequest
	Context      EvalContext
	SN           uint64
}

// SignedEvaluation is one evaluator's signed verdict.
type SignedEvaluation struct {
	Evaluation subject.Evaluation
	Signer     identity.KeyId
	Signature  identity.Signature
}

// ApprovalRequest is broadcast to the approver set when a Fact's
// evaluation sets approval_required.
type ApprovalRequest struct {
	SubjectID      identity.DigestId
	SN             uint64
	EvaluationHash identity.DigestId
}

// SignedApprovalResponse is one approver's Accept/Reject vote.
type SignedApprovalResponse struct {
	Accept    bool
	Signer    identity.KeyId
	Signature identity.Signature
}

// SignedValidation is one validator's signature over a ValidationProof.
type SignedValidation struct {
	Proof     subject.ValidationProof
	Signer    identity.KeyId
	Signature identity.Signature
}
