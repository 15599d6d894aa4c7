package subject

import "errors"

var (
	// ErrBadEncoding is returned when a signed request's signature was
	// computed over a content hash that does not match its canonical
	// re-encoding.
	ErrBadEncoding = errors.New("subject: content hash does not match canonical encoding")
	// ErrBadSignature is returned when a signature fails to verify, or
	// was produced by a key other than the claimed invoker.
	ErrBadSignature = errors.New("subject: signature invalid or wrong signer")
	// ErrSequenceMismatch is returned when an event's sn does not follow
	// the subject's current sn.
	ErrSequenceMismatch = errors.New("subject: event sn does not follow chain")
	// ErrPrevEventHashMismatch is returned when an event's prev_event_hash
	// does not match the subject's last committed event hash.
	ErrPrevEventHashMismatch = errors.New("subject: prev_event_hash does not chain")
	// ErrStateHashMismatch is returned when the recomputed properties hash
	// does not match the event's state_hash.
	ErrStateHashMismatch = errors.New("subject: state_hash does not match patched properties")
	// ErrSubjectInactive is returned when an event is applied to a subject
	// whose life has already ended.
	ErrSubjectInactive = errors.New("subject: subject life has ended")
	// ErrWrongSubject is returned when an event's request targets a
	// different subject_id.
	ErrWrongSubject = errors.New("subject: event targets a different subject")
	// ErrMalformedPatch is returned when executed is true but json_patch
	// cannot be applied to the current properties.
	ErrMalformedPatch = errors.New("subject: json_patch could not be applied")
	// ErrNotExecutedMustNotPatch is returned when executed is false but
	// json_patch is non-empty, or properties would otherwise change.
	ErrNotExecutedMustNotPatch = errors.New("subject: unexecuted event must not change properties")
	// ErrUnexpectedCreate is returned when Apply is called with a Create
	// request; genesis subjects are built by NewSubjectFromCreate instead.
	ErrUnexpectedCreate = errors.New("subject: Create requests do not go through Apply")
)
