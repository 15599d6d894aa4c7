package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"kore/contract"
	"kore/governance"
	"kore/identity"
	"kore/ledger"
	"kore/subject"
)

// Manager owns the one in-flight Round per subject and drives it from
// StartRound through to commit, consulting a governance.Resolver for signer
// sets and quorum, a contract.Engine for local re-execution, and a
// ledger.Ledger for the final write. Every round lives behind a single
// mutex rather than one lock per round: rounds are short-lived and
// contention is not the bottleneck here.
type Manager struct {
	mu     sync.Mutex
	rounds map[string]*Round

	resolver  *governance.Resolver
	contracts *contract.Cache
	engine    contract.Engine
	ledger    *ledger.Ledger
	derivator identity.DigestDerivator

	// BaseReplication is the floor replication factor Amplification is
	// added on top of before resolving a witness target count.
	BaseReplication float64
}

// NewManager constructs a Manager. engine is normally a *contract.Router
// dispatching between the governance bootstrap contract and the general
// wasm runner.
func NewManager(resolver *governance.Resolver, contracts *contract.Cache, engine contract.Engine, led *ledger.Ledger, derivator identity.DigestDerivator, baseReplication float64) *Manager {
	return &Manager{
		rounds:          make(map[string]*Round),
		resolver:        resolver,
		contracts:       contracts,
		engine:          engine,
		ledger:          led,
		derivator:       derivator,
		BaseReplication: baseReplication,
	}
}

// Round returns the currently open round for subjectID, if any.
func (m *Manager) Round(subjectID identity.DigestId) (*Round, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[subjectID.String()]
	return r, ok
}

// StartRound opens a new round for req, deriving the target subject id for
// a Create request or reading it off the request for Fact/Transfer/EOL. It
// sets the round's sn to 0 for a Create and to localSN+1 otherwise, checks
// invoker permission and that the subject isn't mid-repair, then returns
// the EventPreEvaluation to
// broadcast to the evaluator set plus the resolved witness target count.
func (m *Manager) StartRound(meta governance.Metadata, req subject.SignedEventRequest, localSN uint64, ctxInfo EvalContext, keys *identity.PrivateKey) (EventPreEvaluation, int, error) {
	var subjectID identity.DigestId
	var expectedSN uint64
	var err error

	if req.Request.Kind == subject.KindCreate {
		subjectID, err = subject.DeriveSubjectID(req.Request.Namespace, req.Request.SchemaID, req.Request.GovernanceID, req.Request.PublicKey, meta.GovernanceVersion, m.derivator)
		if err != nil {
			return EventPreEvaluation{}, 0, err
		}
		expectedSN = 0
	} else {
		subjectID = req.Request.SubjectID
		expectedSN = localSN + 1
	}

	if req.Request.Kind != subject.KindCreate && m.ledger.IsSyncing(subjectID) {
		return EventPreEvaluation{}, 0, ErrSubjectSyncing
	}

	invoker := req.Signature.Signer
	allowed, _, err := m.resolver.IsInvokerAllowed(meta, invoker)
	if err != nil {
		return EventPreEvaluation{}, 0, err
	}
	if !allowed {
		return EventPreEvaluation{}, 0, ErrInvokerNotAllowed
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key := subjectID.String()
	if _, exists := m.rounds[key]; exists {
		return EventPreEvaluation{}, 0, ErrRoundInProgress
	}

	r := newRound(subjectID, req, expectedSN, meta)
	r.Context = ctxInfo
	r.Keys = keys
	m.rounds[key] = r

	pe := EventPreEvaluation{EventRequest: req, Context: ctxInfo, SN: expectedSN}

	signers, err := m.resolver.Signers(meta, governance.StageValidate)
	if err != nil {
		return pe, 0, nil
	}
	target := TargetCount(len(signers), ReplicationFactor(m.BaseReplication, len(signers)))
	return pe, target, nil
}

// Evaluate runs the schema's contract against pe's context, producing the
// Evaluation an evaluator signs, or the local re-run a validator confirms
// against quorum before committing.
func (m *Manager) Evaluate(ctx context.Context, meta governance.Metadata, pe EventPreEvaluation) (subject.Evaluation, error) {
	ref, ok := m.contracts.Get(meta.GovernanceID, meta.SchemaID, meta.GovernanceVersion)
	if !ok {
		return subject.Evaluation{}, contract.ErrNoContract
	}

	enc := identity.NewEncoder()
	pe.EventRequest.Request.Encode(enc)
	payload := enc.Bytes()

	preHash, err := preevaluationHash(pe, m.derivator)
	if err != nil {
		return subject.Evaluation{}, err
	}

	result, err := m.engine.Invoke(ctx, ref, contract.Invocation{
		InitialState:   pe.Context.CurrentState,
		Payload:        payload,
		InvokerIsOwner: pe.Context.Invoker.Equal(pe.Context.Owner),
	})

	if errors.Is(err, contract.ErrTrap) || (err == nil && !result.Success) {
		stateHash, hashErr := identity.Hash(pe.Context.CurrentState, m.derivator)
		if hashErr != nil {
			return subject.Evaluation{}, hashErr
		}
		return subject.Evaluation{
			PreevaluationHash: preHash,
			GovVersion:        meta.GovernanceVersion,
			StateHash:         stateHash,
			JSONPatch:         nil,
			Success:           false,
			ApprovalRequired:  false,
		}, nil
	}
	if err != nil {
		return subject.Evaluation{}, err
	}

	patch, err := wholeDocumentPatch(result.FinalState)
	if err != nil {
		return subject.Evaluation{}, err
	}
	stateHash, err := identity.Hash(result.FinalState, m.derivator)
	if err != nil {
		return subject.Evaluation{}, err
	}

	return subject.Evaluation{
		PreevaluationHash: preHash,
		GovVersion:        meta.GovernanceVersion,
		StateHash:         stateHash,
		JSONPatch:         patch,
		Success:           true,
		ApprovalRequired:  result.ApprovalRequired,
	}, nil
}

func preevaluationHash(pe EventPreEvaluation, derivator identity.DigestDerivator) (identity.DigestId, error) {
	enc := identity.NewEncoder()
	pe.EventRequest.Encode(enc)
	enc.WriteUint64(pe.SN)
	return identity.Hash(enc.Bytes(), derivator)
}

// wholeDocumentPatch builds the single-operation RFC6902 patch that
// replaces a subject's entire properties document with finalState, so
// subject.Apply's generic jsonpatch.Apply step reproduces exactly what the
// contract computed without this package needing a diff algorithm.
func wholeDocumentPatch(finalState []byte) ([]byte, error) {
	if len(finalState) == 0 {
		finalState = []byte("null")
	}
	op := []map[string]json.RawMessage{{
		"op":    json.RawMessage(`"replace"`),
		"path":  json.RawMessage(`""`),
		"value": json.RawMessage(finalState),
	}}
	return json.Marshal(op)
}

// SubmitEvaluation records one evaluator's signed verdict, tallies it
// against the others sharing its (state_hash, patch, success,
// approval_required) tuple, and on reaching the evaluate quorum re-runs the
// contract locally to confirm agreement before advancing the round to
// Approving or Validating. The bool return reports whether quorum was
// reached by this call. Once no tuple can reach quorum with the evaluators
// still to vote, the round is removed and ErrEvaluatorConsensusMismatch is
// returned.
func (m *Manager) SubmitEvaluation(ctx context.Context, subjectID identity.DigestId, eval subject.Evaluation, signer identity.KeyId, sig identity.Signature) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rounds[subjectID.String()]
	if !ok || r.Stage != StageEvaluating {
		return false, ErrNoRound
	}

	if eval.GovVersion != r.Meta.GovernanceVersion {
		if eval.GovVersion > r.Meta.GovernanceVersion {
			return false, ErrGovernanceSyncNeeded
		}
		return false, ErrHigherGovernanceExpected
	}

	signers, err := m.resolver.Signers(r.Meta, governance.StageEvaluate)
	if err != nil {
		return false, err
	}
	if !containsKey(signers, signer) {
		return false, ErrUnknownSigner
	}

	enc := identity.NewEncoder()
	eval.Encode(enc)
	digest, err := identity.Hash(enc.Bytes(), sig.ContentHash.Derivator)
	if err != nil {
		return false, err
	}
	if !digest.Equal(sig.ContentHash) || !sig.Signer.Equal(signer) {
		return false, ErrBadVoteSignature
	}
	if err := sig.Verify(); err != nil {
		return false, ErrBadVoteSignature
	}

	signerKey := signer.String()
	if r.evalSigners[signerKey] {
		return false, ErrDuplicateSigner
	}
	r.evalSigners[signerKey] = true

	tupleKey, err := evalTupleKey(eval, m.derivator)
	if err != nil {
		return false, err
	}
	r.evalTally[tupleKey] = append(r.evalTally[tupleKey], signer)
	r.evalByKey[tupleKey] = eval

	quorum, err := m.resolver.Quorum(r.Meta, governance.StageEvaluate)
	if err != nil {
		return false, err
	}

	for tk, votes := range r.evalTally {
		if uint32(len(votes)) < quorum {
			continue
		}
		agreed := r.evalByKey[tk]

		pe := EventPreEvaluation{EventRequest: r.Request, Context: r.Context, SN: r.SN}
		local, err := m.Evaluate(ctx, r.Meta, pe)
		if err != nil {
			return false, err
		}
		localKey, err := evalTupleKey(local, m.derivator)
		if err != nil {
			return false, err
		}
		if localKey != tk {
			delete(m.rounds, subjectID.String())
			return false, ErrEvaluatorConsensusMismatch
		}

		agreedCopy := agreed
		r.FinalEvaluation = &agreedCopy

		needsApproval := agreed.ApprovalRequired
		if r.Request.Request.Kind == subject.KindEOL {
			closeApproval, err := m.resolver.ApprovalRequired(r.Meta, governance.StageClose)
			if err != nil {
				return false, err
			}
			needsApproval = closeApproval
		}
		if needsApproval {
			r.Stage = StageApproving
		} else {
			r.Stage = StageValidating
		}
		return true, nil
	}

	remaining := len(signers) - len(r.evalSigners)
	for _, votes := range r.evalTally {
		if uint32(len(votes)+remaining) >= quorum {
			return false, nil
		}
	}
	delete(m.rounds, subjectID.String())
	return false, ErrEvaluatorConsensusMismatch
}

// SubmitApproval records one approver's Accept/Reject vote. Once accept
// votes reach quorum the round proceeds to Validating with
// ApprovalOutcome=true; once the remaining possible votes can no longer
// reach quorum it proceeds to Validating anyway with ApprovalOutcome=false,
// committing the event unexecuted.
func (m *Manager) SubmitApproval(subjectID identity.DigestId, accept bool, signer identity.KeyId, sig identity.Signature) (*bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rounds[subjectID.String()]
	if !ok || r.Stage != StageApproving {
		return nil, ErrNoRound
	}

	signers, err := m.resolver.Signers(r.Meta, governance.StageApprove)
	if err != nil {
		return nil, err
	}
	if !containsKey(signers, signer) {
		return nil, ErrUnknownSigner
	}
	wantHash, err := approvalContentHash(subjectID, r.SN, accept, sig.ContentHash.Derivator)
	if err != nil {
		return nil, err
	}
	if !sig.Signer.Equal(signer) || !sig.ContentHash.Equal(wantHash) {
		return nil, ErrBadVoteSignature
	}
	if err := sig.Verify(); err != nil {
		return nil, ErrBadVoteSignature
	}

	signerKey := signer.String()
	if r.approvalSigners[signerKey] {
		return nil, ErrDuplicateSigner
	}
	r.approvalSigners[signerKey] = true

	if accept {
		r.approvalAccept = append(r.approvalAccept, signer)
		r.approvalSigs = append(r.approvalSigs, sig)
	} else {
		r.approvalReject = append(r.approvalReject, signer)
	}

	quorum, err := m.resolver.Quorum(r.Meta, governance.StageApprove)
	if err != nil {
		return nil, err
	}

	if uint32(len(r.approvalAccept)) >= quorum {
		accepted := true
		r.ApprovalOutcome = &accepted
		r.Stage = StageValidating
		return &accepted, nil
	}

	remaining := len(signers) - len(r.approvalAccept) - len(r.approvalReject)
	if uint32(len(r.approvalAccept)+remaining) < quorum {
		rejected := false
		r.ApprovalOutcome = &rejected
		r.Stage = StageValidating
		return &rejected, nil
	}
	return nil, nil
}

// SubmitValidation records one validator's signature over proof. Once
// validation signatures reach quorum it assembles the final EventProposal
// and commits it through the ledger, returning the resulting subject state
// and clearing the round.
func (m *Manager) SubmitValidation(subjectID identity.DigestId, proof subject.ValidationProof, signer identity.KeyId, sig identity.Signature) (*subject.Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rounds[subjectID.String()]
	if !ok || r.Stage != StageValidating {
		return nil, ErrNoRound
	}

	signers, err := m.resolver.Signers(r.Meta, governance.StageValidate)
	if err != nil {
		return nil, err
	}
	if !containsKey(signers, signer) {
		return nil, ErrUnknownSigner
	}
	enc := identity.NewEncoder()
	proof.Encode(enc)
	wantHash, err := identity.Hash(enc.Bytes(), sig.ContentHash.Derivator)
	if err != nil {
		return nil, err
	}
	if !sig.Signer.Equal(signer) || !sig.ContentHash.Equal(wantHash) {
		return nil, ErrBadVoteSignature
	}
	if err := sig.Verify(); err != nil {
		return nil, ErrBadVoteSignature
	}

	signerKey := signer.String()
	if r.validationSigners[signerKey] {
		return nil, ErrDuplicateSigner
	}
	r.validationSigners[signerKey] = true
	r.validationSigs = append(r.validationSigs, sig)

	quorum, err := m.resolver.Quorum(r.Meta, governance.StageValidate)
	if err != nil {
		return nil, err
	}
	if uint32(len(r.validationSigs)) < quorum {
		remaining := len(signers) - len(r.validationSigners)
		if uint32(len(r.validationSigs)+remaining) < quorum {
			delete(m.rounds, subjectID.String())
			return nil, ErrValidationQuorumUnreachable
		}
		return nil, nil
	}

	r.Stage = StageCommitting
	committed, err := m.commitLocked(r)
	delete(m.rounds, subjectID.String())
	if err != nil {
		return nil, err
	}
	return &committed, nil
}

func (m *Manager) buildProposal(r *Round) (subject.EventProposal, error) {
	executed := true
	if r.ApprovalOutcome != nil && !*r.ApprovalOutcome {
		executed = false
	} else if r.FinalEvaluation != nil && !r.FinalEvaluation.Success {
		executed = false
	}

	var jsonPatch []byte
	var stateHash identity.DigestId
	if executed && r.FinalEvaluation != nil {
		jsonPatch = r.FinalEvaluation.JSONPatch
		stateHash = r.FinalEvaluation.StateHash
	} else if r.FinalEvaluation != nil {
		var err error
		stateHash, err = identity.Hash(r.Context.CurrentState, m.derivator)
		if err != nil {
			return subject.EventProposal{}, err
		}
	}

	var prevEventHash identity.DigestId
	if r.Request.Request.Kind != subject.KindCreate {
		s, err := m.ledger.Subject(r.SubjectID)
		if err != nil {
			return subject.EventProposal{}, err
		}
		prevEventHash = s.LastEventHash
	}

	return subject.EventProposal{
		EventRequest:  r.Request,
		SN:            r.SN,
		PrevEventHash: prevEventHash,
		GovVersion:    r.Meta.GovernanceVersion,
		Evaluation:    r.FinalEvaluation,
		Approvals:     r.approvalSigs,
		JSONPatch:     jsonPatch,
		StateHash:     stateHash,
		Executed:      executed,
	}, nil
}

func (m *Manager) commitLocked(r *Round) (subject.Subject, error) {
	proposal, err := m.buildProposal(r)
	if err != nil {
		return subject.Subject{}, err
	}
	event := subject.Event{
		Proposal:             proposal,
		ValidationSignatures: r.validationSigs,
		GovVersionAtCommit:   r.Meta.GovernanceVersion,
	}

	if r.Request.Request.Kind == subject.KindCreate {
		return m.ledger.CommitGenesis(event, r.Meta.GovernanceVersion, r.Context.CurrentState, r.Keys)
	}
	return m.ledger.CommitNext(event, r.Meta.GovernanceVersion, r.Keys)
}

// PendingProof builds the ValidationProof a validator must sign for
// subjectID's current round without committing anything, so Validating-stage
// participants can agree on exactly what SubmitValidation will later commit.
func (m *Manager) PendingProof(subjectID identity.DigestId) (subject.ValidationProof, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rounds[subjectID.String()]
	if !ok {
		return subject.ValidationProof{}, ErrNoRound
	}
	proposal, err := m.buildProposal(r)
	if err != nil {
		return subject.ValidationProof{}, err
	}
	eventHash, err := proposal.Hash(m.derivator)
	if err != nil {
		return subject.ValidationProof{}, err
	}

	var snap subject.Subject
	if r.Request.Request.Kind == subject.KindCreate {
		snap, err = subject.NewSubjectFromCreate(r.Request, r.Meta.GovernanceVersion, r.Context.CurrentState, nil, m.derivator)
		if err != nil {
			return subject.ValidationProof{}, err
		}
	} else {
		snap, err = m.ledger.Subject(r.SubjectID)
		if err != nil {
			return subject.ValidationProof{}, err
		}
	}
	return subject.NewValidationProofFrom(snap, proposal.PrevEventHash, eventHash, r.Meta.GovernanceVersion), nil
}

// Supersede cancels subjectID's open round if it has not yet committed sn,
// returning the scheduler task ids the caller must cancel. Used when an
// external event arrives via AcceptExternal for the same subject while a
// local round is in flight.
func (m *Manager) Supersede(subjectID identity.DigestId, sn uint64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[subjectID.String()]
	if !ok || sn < r.SN {
		return nil
	}
	taskIDs := r.TaskIDs
	delete(m.rounds, subjectID.String())
	return taskIDs
}

// approvalContentHash is the canonical digest an approval vote's signature
// must cover: the subject, the round's sn, and the caster's accept/reject
// choice, so a vote can't be replayed across subjects, rounds or outcomes.
func approvalContentHash(subjectID identity.DigestId, sn uint64, accept bool, derivator identity.DigestDerivator) (identity.DigestId, error) {
	enc := identity.NewEncoder()
	identity.EncodeDigestId(enc, subjectID)
	enc.WriteUint64(sn)
	enc.WriteBool(accept)
	return identity.Hash(enc.Bytes(), derivator)
}

func containsKey(set []identity.KeyId, k identity.KeyId) bool {
	for _, s := range set {
		if s.Equal(k) {
			return true
		}
	}
	return false
}
