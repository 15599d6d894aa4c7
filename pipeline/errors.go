package pipeline

import "errors"

var (
	// ErrRoundInProgress is returned when a second round is requested for
	// a subject that already has one open; only one concurrent round per
	// subject is allowed.
	ErrRoundInProgress = errors.New("pipeline: a round is already open for this subject")
	// ErrNoRound is returned when a signature or vote names a subject with
	// no open round.
	ErrNoRound = errors.New("pipeline: no open round for this subject")
	// ErrInvokerNotAllowed is returned when the request's invoker has no
	// role granting it at the relevant stage.
	ErrInvokerNotAllowed = errors.New("pipeline: invoker is not permitted to submit this request")
	// ErrSubjectSyncing is returned when a round is requested for a
	// subject whose ledger gap buffer is non-empty.
	ErrSubjectSyncing = errors.New("pipeline: subject is mid-repair, cannot start a new round")
	// ErrSequenceMisaligned names a request whose expected sn does not
	// follow the subject's local head. No Manager method returns it:
	// StartRound derives the sn from the local head instead.
	ErrSequenceMisaligned = errors.New("pipeline: requested sn does not follow local head")
	// ErrUnknownSigner is returned when a vote's signer is not in the
	// signer set resolved for the round's stage.
	ErrUnknownSigner = errors.New("pipeline: signer is not eligible for this stage")
	// ErrDuplicateSigner is returned when a signer votes twice in the same
	// stage of a round.
	ErrDuplicateSigner = errors.New("pipeline: signer already voted in this stage")
	// ErrBadVoteSignature is returned when a vote's signature does not
	// verify against its claimed signer.
	ErrBadVoteSignature = errors.New("pipeline: vote signature invalid")
	// ErrEvaluatorConsensusMismatch is returned when the local
	// re-execution of a schema's contract disagrees with the tuple that
	// reached evaluator quorum, or when no tuple can reach that quorum
	// any more.
	ErrEvaluatorConsensusMismatch = errors.New("pipeline: local re-execution disagrees with evaluator quorum")
	// ErrHigherGovernanceExpected is returned (to the sender, as a
	// notification rather than a fatal failure) when a participant's
	// gov_version trails the local one.
	ErrHigherGovernanceExpected = errors.New("pipeline: sender governance version behind local")
	// ErrGovernanceSyncNeeded is returned when a participant's gov_version
	// leads the local one; the pipeline must resync governance before
	// continuing.
	ErrGovernanceSyncNeeded = errors.New("pipeline: local governance version behind sender")
	// ErrApprovalRejected names an approval round whose quorum cannot be
	// reached by the remaining possible votes. No Manager method returns
	// it: SubmitApproval reports that outcome as a false ApprovalOutcome.
	ErrApprovalRejected = errors.New("pipeline: approval round rejected")
	// ErrValidationQuorumUnreachable is returned when the remaining
	// possible validator votes can no longer reach quorum.
	ErrValidationQuorumUnreachable = errors.New("pipeline: validation quorum can no longer be reached")
	// ErrRoundCancelled names a round cancelled by a superseding external
	// commit. No Manager method returns it: Supersede removes the round
	// and returns its task ids.
	ErrRoundCancelled = errors.New("pipeline: round cancelled by a superseding commit")
)
