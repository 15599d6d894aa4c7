package pipeline

import (
	"encoding/json"

	"kore/governance"
	"kore/identity"
	"kore/subject"
)

// Round is the mutable state of one subject's in-flight event, following
// the Idle → Evaluating → Approving? → Validating → Committing → Idle
// state machine. Exactly one Round is open per subject at a time.
type Round struct {
	SubjectID identity.DigestId
	Stage     Stage
	Request   subject.SignedEventRequest
	SN        uint64
	Meta      governance.Metadata

	evalSigners map[string]bool
	evalTally   map[string][]identity.KeyId
	evalByKey   map[string]subject.Evaluation

	FinalEvaluation *subject.Evaluation

	approvalSigners map[string]bool
	approvalAccept  []identity.KeyId
	approvalReject  []identity.KeyId

	validationSigners map[string]bool
	validationSigs    []identity.Signature

	// ApprovalOutcome is nil while Approving is pending, true if accepted,
	// false if rejected (a rejected Fact still proceeds to Validating,
	// committing with Executed=false).
	ApprovalOutcome *bool
	approvalSigs    []identity.Signature

	// Context is the read-only evaluation context captured at StartRound,
	// kept so a quorum-triggered local re-execution can replay it.
	Context EvalContext

	// Keys is the node's own private key for this subject, carried
	// through to commit time for Create (genesis ownership) and Transfer
	// (new-owner rotation) rounds. Nil otherwise.
	Keys *identity.PrivateKey

	// TaskIDs names the scheduler tasks scoped to this round. Supersede
	// returns them for the caller to cancel; commit does not cancel them.
	TaskIDs []string
}

func newRound(subjectID identity.DigestId, req subject.SignedEventRequest, sn uint64, meta governance.Metadata) *Round {
	return &Round{
		SubjectID:         subjectID,
		Stage:             StageEvaluating,
		Request:           req,
		SN:                sn,
		Meta:              meta,
		evalSigners:       make(map[string]bool),
		evalTally:         make(map[string][]identity.KeyId),
		evalByKey:         make(map[string]subject.Evaluation),
		approvalSigners:   make(map[string]bool),
		validationSigners: make(map[string]bool),
	}
}

// evalTuple is the part of an Evaluation that must match across evaluators
// for their votes to tally together toward the evaluation quorum.
type evalTuple struct {
	StateHash        string `json:"state_hash"`
	PatchHash        string `json:"patch_hash"`
	Success          bool   `json:"success"`
	ApprovalRequired bool   `json:"approval_required"`
}

func evalTupleKey(e subject.Evaluation, derivator identity.DigestDerivator) (string, error) {
	patchDigest, err := identity.Hash(e.JSONPatch, derivator)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(evalTuple{
		StateHash:        e.StateHash.String(),
		PatchHash:        patchDigest.String(),
		Success:          e.Success,
		ApprovalRequired: e.ApprovalRequired,
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}
