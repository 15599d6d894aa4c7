package ledger

import (
	stderrors "errors"
	"fmt"
)

var (
	// ErrSubjectNotFound is returned when an operation names a subject_id
	// this node has never seen a genesis for.
	ErrSubjectNotFound = stderrors.New("ledger: subject not found")
	// ErrEventAlreadyExists is returned when committing an event whose sn
	// is already recorded for the subject.
	ErrEventAlreadyExists = stderrors.New("ledger: event already exists")
	// ErrNotValidable is returned when a candidate event cannot be
	// validated against the subject's current head (neither a chain
	// extension nor a same-sn governance-version update).
	ErrNotValidable = stderrors.New("ledger: candidate is not validable against local head")
	// ErrHeadCandidateNotValidated is returned when a chain-extending
	// candidate is accepted into the gap buffer but its own previous-proof
	// bundle has not itself reached quorum.
	ErrHeadCandidateNotValidated = stderrors.New("ledger: head candidate proof bundle not yet validated")
	// ErrMultipleTargets is returned when more than one distinct event is
	// offered for the same (subject, sn).
	ErrMultipleTargets = stderrors.New("ledger: multiple distinct events offered for one sn")
	// ErrEmptySignatures is returned when a validation proof carries no
	// validation signatures.
	ErrEmptySignatures = stderrors.New("ledger: validation proof carries no signatures")
	// ErrInvalidValidator is returned when a validation signature's signer
	// is not a member of the validator set for the governing version.
	ErrInvalidValidator = stderrors.New("ledger: signer is not a valid validator")
	// ErrSignaturesNotNeeded is returned when validation signatures are
	// attached to an event whose schema requires none (e.g. witness-only
	// replication).
	ErrSignaturesNotNeeded = stderrors.New("ledger: validation signatures not required for this event")
	// ErrGovernanceMismatch is returned when a proof's governance_id does
	// not match the subject's own governance_id.
	ErrGovernanceMismatch = stderrors.New("ledger: governance id mismatch")
	// ErrGenesisGovVersionMismatch is returned when a proof's genesis
	// governance version does not match the subject's recorded one.
	ErrGenesisGovVersionMismatch = stderrors.New("ledger: genesis governance version mismatch")
	// ErrInvalidGenesisEvent is returned when CommitGenesis is handed an
	// event that is not a well-formed sn=0 Create proposal.
	ErrInvalidGenesisEvent = stderrors.New("ledger: malformed genesis event")
)

// CryptoError reports a signature or hash verification failure, tagged
// with which check failed.
type CryptoError struct {
	Kind string
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("ledger: crypto check failed: %s", e.Kind)
}
