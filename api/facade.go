package api

import (
	"sync"

	"kore/approval"
	"kore/governance"
	"kore/identity"
	"kore/ledger"
	"kore/pipeline"
	"kore/subject"
)

// Facade is the single host-facing entry point a node embeds. It owns no
// state of its own: every method reads through to, or queues a mutation
// into, one of the owning components (pipeline, ledger, approval) rather
// than keeping a second copy of the truth.
type Facade struct {
	pipeline  *pipeline.Manager
	ledger    *ledger.Ledger
	approvals *approval.Manager

	submissions  chan submitRequest
	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// New constructs a Facade over the given components and starts its
// single-consumer submission loop. Call Shutdown when the node stops.
func New(pipelineMgr *pipeline.Manager, led *ledger.Ledger, approvals *approval.Manager) *Facade {
	f := &Facade{
		pipeline:    pipelineMgr,
		ledger:      led,
		approvals:   approvals,
		submissions: make(chan submitRequest),
		shutdown:    make(chan struct{}),
	}
	f.wg.Add(1)
	go f.run()
	return f
}

// run is the single consumer of f.submissions: every mutation the host
// submits is serialized through this one goroutine before reaching
// pipeline.Manager.StartRound, giving the facade a single-producer-channel
// mutation path even though pipeline.Manager is itself already
// mutex-guarded — this keeps the ordering guarantee a property of the
// facade's contract, not an accident of the pipeline's lock.
func (f *Facade) run() {
	defer f.wg.Done()
	for {
		select {
		case <-f.shutdown:
			return
		case s := <-f.submissions:
			pe, target, err := f.pipeline.StartRound(s.meta, s.req, s.localSN, s.ctx, s.keys)
			s.reply <- submitReply{result: CreateResult{PreEvaluation: pe, ValidatorTarget: target}, err: translate(err)}
		}
	}
}

// SubmitRequest opens a new pipeline round for req. It returns ErrPending
// if a round is already open for the target subject.
func (f *Facade) SubmitRequest(meta governance.Metadata, req subject.SignedEventRequest, localSN uint64, ctxInfo pipeline.EvalContext, keys *identity.PrivateKey) (CreateResult, error) {
	reply := make(chan submitReply, 1)
	select {
	case f.submissions <- submitRequest{meta: meta, req: req, localSN: localSN, ctx: ctxInfo, keys: keys, reply: reply}:
	case <-f.shutdown:
		return CreateResult{}, ErrShutdown
	}
	select {
	case r := <-reply:
		return r.result, r.err
	case <-f.shutdown:
		return CreateResult{}, ErrShutdown
	}
}

// Subject returns the current persisted state of subjectID, read straight
// through to the ledger.
func (f *Facade) Subject(subjectID identity.DigestId) (subject.Subject, error) {
	s, err := f.ledger.Subject(subjectID)
	return s, translate(err)
}

// Events returns the committed events for subjectID with sn in [from, to].
func (f *Facade) Events(subjectID identity.DigestId, from, to uint64) ([]subject.Event, error) {
	events, err := f.ledger.ServeRange(subjectID, from, to)
	return events, translate(err)
}

// ValidationProof returns the most recently committed ValidationProof for
// subjectID.
func (f *Facade) ValidationProof(subjectID identity.DigestId) (subject.ValidationProof, error) {
	proof, err := f.ledger.Proof(subjectID)
	return proof, translate(err)
}

// PendingApprovals lists stored approval records, optionally filtered to
// one status; a nil status returns every stored record.
func (f *Facade) PendingApprovals(status *approval.Status) ([]approval.Record, error) {
	recs, err := f.approvals.List(status)
	return recs, translate(err)
}

// RespondApproval casts this node's own Accept/Reject vote on requestID
// and returns the signed Response to relay to the round's initiator.
func (f *Facade) RespondApproval(requestID identity.DigestId, accept bool) (approval.Response, error) {
	resp, err := f.approvals.Respond(requestID, accept)
	return resp, translate(err)
}

// Shutdown stops the submission loop; a SubmitRequest made afterward, or
// still waiting to be accepted or answered, fails with ErrShutdown. The read methods
// keep working. Safe to call more than once.
func (f *Facade) Shutdown() {
	f.shutdownOnce.Do(func() {
		close(f.shutdown)
	})
	f.wg.Wait()
}
