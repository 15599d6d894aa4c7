// Package api implements the node's Public API Facade: the single
// in-process entry point a host embeds, exposing create-request, query
// subject, query events by range, query pending approvals, post approval
// response, list validation proof, and shutdown as typed Go methods rather
// than a JSON-RPC surface. It follows a method-dispatch style — one
// method per call, host-facing errors carrying a stable code — with
// mutations sent over one unbuffered submissions channel to a single
// loop that drives the pipeline, and reads calling the owning components
// directly, rather than a network transport.
package api

import (
	"errors"

	"kore/coreerr"
	"kore/governance"
	"kore/identity"
	"kore/pipeline"
	"kore/subject"
)

// ErrPending is returned by SubmitRequest when a round is already open for
// the target subject, as a typed sentinel the host can wait or poll on.
// The host decides whether to retry or poll; the facade never blocks
// waiting for the existing round to finish.
var ErrPending = errors.New("api: a round is already in progress for this subject")

// ErrShutdown is returned by SubmitRequest when it is called after
// Shutdown, or is still waiting to be accepted or answered when Shutdown
// is invoked.
// The read methods are not affected by Shutdown.
var ErrShutdown = errors.New("api: facade is shut down")

// CreateResult is what SubmitRequest returns once the round for the
// request has been opened: the EventPreEvaluation to broadcast to the
// evaluator set, and the validator replication target the pipeline
// resolved for the round.
type CreateResult struct {
	PreEvaluation   pipeline.EventPreEvaluation
	ValidatorTarget int
}

// submitRequest is the mutation crossing the facade's single-consumer
// submissions channel; all mutations enter the pipeline via this single
// producer.
type submitRequest struct {
	meta    governance.Metadata
	req     subject.SignedEventRequest
	localSN uint64
	ctx     pipeline.EvalContext
	keys    *identity.PrivateKey
	reply   chan submitReply
}

type submitReply struct {
	result CreateResult
	err    error
}

// translate maps an internal sentinel error to the host-facing shape:
// pipeline.ErrRoundInProgress becomes the typed ErrPending,
// pipeline.ErrInvokerNotAllowed is wrapped under coreerr.TagBadSignature,
// and anything else passes through unchanged so the host can still
// errors.Is/errors.As against the original taxonomy.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pipeline.ErrRoundInProgress) {
		return ErrPending
	}
	if errors.Is(err, pipeline.ErrInvokerNotAllowed) {
		return coreerr.Wrap(coreerr.TagBadSignature, err)
	}
	return err
}
