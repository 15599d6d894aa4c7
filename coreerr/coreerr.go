// Package coreerr is the shared error taxonomy: a flat set of sentinel
// errors plus a Tagged wrapper that carries a tag across component
// boundaries so callers several layers removed from the failure site
// (chiefly the api package, building host-facing responses) can still
// dispatch on it with errors.Is/errors.As.
package coreerr

import stderrors "errors"

// Tag names one taxonomy entry. Each carries a fixed propagation policy,
// documented next to its sentinel below; callers dispatch on the tag, not
// on error string content.
type Tag string

const (
	// TagBadEncoding: a peer message failed to decode. Policy: drop the
	// message.
	TagBadEncoding Tag = "bad_encoding"
	// TagBadSignature: a signature failed verification. Policy: drop the
	// message and signal a reputation penalty for the sender.
	TagBadSignature Tag = "bad_signature"
	// TagUnknownSubject: the subject id named by a message is not known
	// locally. Policy: retry via the sync path.
	TagUnknownSubject Tag = "unknown_subject"
	// TagOutOfOrder: an external event's sn is ahead of the local chain.
	// Policy: enqueue to the gap buffer and request the missing range.
	TagOutOfOrder Tag = "out_of_order"
	// TagStaleGovernance: the sender's governance version trails the
	// local one. Policy: request governance sync; do not apply.
	TagStaleGovernance Tag = "stale_governance"
	// TagAheadGovernance: the sender's governance version leads the local
	// one. Policy: emit HigherGovernanceExpected to the sender.
	TagAheadGovernance Tag = "ahead_governance"
	// TagQuorumFailed: a pipeline round could not reach quorum. Policy:
	// terminate the round and report to the host.
	TagQuorumFailed Tag = "quorum_failed"
	// TagSubjectLifeEnded: the subject is inactive (EOL committed).
	// Policy: permanent, surface to the host.
	TagSubjectLifeEnded Tag = "subject_life_ended"
	// TagContractTrap: a contract invocation trapped. Policy: commit the
	// event with success=false; this is not itself a core error in the
	// pipeline's control flow, only in diagnostics.
	TagContractTrap Tag = "contract_trap"
	// TagStoreFailure: the store port returned an unexpected error.
	// Policy: fatal; the owning component signals shutdown to the root.
	TagStoreFailure Tag = "store_failure"
	// TagChannelClosed: a component's inbound channel closed unexpectedly.
	// Policy: fatal; cascades a cancellation to dependents.
	TagChannelClosed Tag = "channel_closed"
)

// Sentinel errors, one per tag, for errors.Is comparisons that don't need
// a per-occurrence message.
var (
	ErrBadEncoding     = stderrors.New("core: bad encoding")
	ErrBadSignature    = stderrors.New("core: bad signature")
	ErrUnknownSubject  = stderrors.New("core: unknown subject")
	ErrOutOfOrder      = stderrors.New("core: event out of order")
	ErrStaleGovernance = stderrors.New("core: stale governance version")
	ErrAheadGovernance = stderrors.New("core: ahead governance version")
	ErrQuorumFailed    = stderrors.New("core: quorum not reached")
	ErrSubjectLifeEnded = stderrors.New("core: subject life ended")
	ErrContractTrap    = stderrors.New("core: contract trapped")
	ErrStoreFailure    = stderrors.New("core: store failure")
	ErrChannelClosed   = stderrors.New("core: channel closed")
)

var sentinelByTag = map[Tag]error{
	TagBadEncoding:      ErrBadEncoding,
	TagBadSignature:     ErrBadSignature,
	TagUnknownSubject:   ErrUnknownSubject,
	TagOutOfOrder:       ErrOutOfOrder,
	TagStaleGovernance:  ErrStaleGovernance,
	TagAheadGovernance:  ErrAheadGovernance,
	TagQuorumFailed:     ErrQuorumFailed,
	TagSubjectLifeEnded: ErrSubjectLifeEnded,
	TagContractTrap:     ErrContractTrap,
	TagStoreFailure:     ErrStoreFailure,
	TagChannelClosed:    ErrChannelClosed,
}

// Tagged wraps an error with the taxonomy tag under which it should
// propagate, plus an optional human-readable detail message.
type Tagged struct {
	Tag     Tag
	Detail  string
	Wrapped error
}

// New constructs a Tagged error for tag with a detail message, wrapping
// the tag's sentinel so errors.Is(err, coreerr.ErrUnknownSubject) and
// similar checks succeed without every caller knowing about Tagged.
func New(tag Tag, detail string) *Tagged {
	return &Tagged{Tag: tag, Detail: detail, Wrapped: sentinelByTag[tag]}
}

// Wrap attaches tag to an existing error, preserving it as the Unwrap
// target alongside the tag's own sentinel.
func Wrap(tag Tag, err error) *Tagged {
	return &Tagged{Tag: tag, Detail: err.Error(), Wrapped: err}
}

func (t *Tagged) Error() string {
	if t.Detail == "" {
		return string(t.Tag)
	}
	return string(t.Tag) + ": " + t.Detail
}

// Unwrap exposes the wrapped error (the tag's sentinel, or a caller-
// supplied cause) for errors.Is/errors.As.
func (t *Tagged) Unwrap() error { return t.Wrapped }

// Is reports whether target is the sentinel for t's tag, so an error built
// by Wrap still matches errors.Is against that sentinel.
func (t *Tagged) Is(target error) bool {
	s, ok := sentinelByTag[t.Tag]
	return ok && target == s
}

// Is reports whether err carries tag, looking through any wrapping.
func Is(err error, tag Tag) bool {
	var tg *Tagged
	if stderrors.As(err, &tg) {
		return tg.Tag == tag
	}
	return false
}

// Fatal reports whether tag's propagation policy is fatal to the owning
// component (StoreFailure, ChannelClosed), as opposed to recoverable at
// the round or message level.
func (t Tag) Fatal() bool {
	return t == TagStoreFailure || t == TagChannelClosed
}
