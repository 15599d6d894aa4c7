package pipeline

import (
	"context"
	"encoding/json"
	"testing"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/stretchr/testify/require"

	"kore/contract"
	"kore/governance"
	"kore/identity"
	"kore/ledger"
	"kore/storage"
	"kore/subject"
)

const testDerivator = identity.DigestBlake3_256

// fakeEngine deterministically bumps "count" by one on every invocation
// (or traps when the payload equals trapOn), mimicking just enough of
// a real wasm contract's behavior to exercise the pipeline's quorum and
// re-execution logic without a wasm runtime.
type fakeEngine struct {
	approvalRequired bool
	trapOn           string
}

func (f *fakeEngine) Invoke(_ context.Context, _ contract.ModuleRef, in contract.Invocation) (contract.Result, error) {
	if f.trapOn != "" && string(in.Payload) == f.trapOn {
		return contract.Result{}, contract.ErrTrap
	}
	var doc map[string]json.RawMessage
	if len(in.InitialState) > 0 {
		if err := json.Unmarshal(in.InitialState, &doc); err != nil {
			return contract.Result{}, err
		}
	}
	if doc == nil {
		doc = map[string]json.RawMessage{}
	}
	var count int
	if raw, ok := doc["count"]; ok {
		_ = json.Unmarshal(raw, &count)
	}
	count++
	doc["count"], _ = json.Marshal(count)
	final, err := json.Marshal(doc)
	if err != nil {
		return contract.Result{}, err
	}
	return contract.Result{FinalState: final, Success: true, ApprovalRequired: f.approvalRequired}, nil
}

type fakeVerifier struct{}

func (fakeVerifier) VerifyAccept(subject.Subject, subject.Event, subject.ValidationProof) error {
	return nil
}

type fakeSource struct {
	st governance.State
}

func (f *fakeSource) GovernanceState(_ identity.DigestId, _ uint64) (governance.State, error) {
	return f.st, nil
}

type fixture struct {
	t         *testing.T
	manager   *Manager
	ledger    *ledger.Ledger
	resolver  *governance.Resolver
	contracts *contract.Cache
	engine    *fakeEngine
	meta      governance.Metadata
	govID     identity.DigestId
	m1, m2    *identity.PrivateKey
	owner     *identity.PrivateKey
}

func newFixture(t *testing.T, approvalRequired bool) *fixture {
	t.Helper()

	m1, err := identity.GenerateKeyPair(identity.KeyEd25519)
	require.NoError(t, err)
	m2, err := identity.GenerateKeyPair(identity.KeyEd25519)
	require.NoError(t, err)
	owner, err := identity.GenerateKeyPair(identity.KeyEd25519)
	require.NoError(t, err)

	st := governance.State{
		Members: []governance.Member{
			{ID: "m1", Name: "one", Key: m1.Public()},
			{ID: "m2", Name: "two", Key: m2.Public()},
		},
		Schemas: []governance.SchemaPolicy{
			{
				SchemaID: "widget",
				Roles: []governance.Role{
					{Stage: governance.StageInvoke, Who: governance.RoleWho{All: true}, Quorum: governance.Majority()},
					{Stage: governance.StageEvaluate, Who: governance.RoleWho{MemberIDs: []string{"m1", "m2"}}, Quorum: governance.Fixed(2)},
					{Stage: governance.StageApprove, Who: governance.RoleWho{MemberIDs: []string{"m1", "m2"}}, Quorum: governance.Fixed(2), ApprovalRequired: approvalRequired},
					{Stage: governance.StageValidate, Who: governance.RoleWho{MemberIDs: []string{"m1", "m2"}}, Quorum: governance.Fixed(2)},
					{Stage: governance.StageClose, Who: governance.RoleWho{MemberIDs: []string{"m1", "m2"}}, Quorum: governance.Fixed(2)},
				},
			},
		},
	}

	resolver := governance.NewResolver(&fakeSource{st: st})
	govID, err := identity.Hash([]byte("governance-subject"), testDerivator)
	require.NoError(t, err)
	meta := governance.Metadata{GovernanceID: govID, GovernanceVersion: 1, SchemaID: "widget", Namespace: "factory"}

	contracts := contract.NewCache()
	contracts.Put(contract.ModuleRef{GovernanceID: govID, SchemaID: "widget", GovVersion: 1})
	engine := &fakeEngine{approvalRequired: approvalRequired}

	led := ledger.New(storage.NewMemDB(), testDerivator, 4, fakeVerifier{})
	mgr := NewManager(resolver, contracts, engine, led, testDerivator, 0.5)

	return &fixture{
		t: t, manager: mgr, ledger: led, resolver: resolver, contracts: contracts,
		engine: engine, meta: meta, govID: govID, m1: m1, m2: m2, owner: owner,
	}
}

func (f *fixture) signRequest(invoker *identity.PrivateKey, req subject.EventRequest) subject.SignedEventRequest {
	f.t.Helper()
	enc := identity.NewEncoder()
	req.Encode(enc)
	digest, err := identity.Hash(enc.Bytes(), testDerivator)
	require.NoError(f.t, err)
	sig, err := identity.NewSignature(invoker, digest)
	require.NoError(f.t, err)
	return subject.SignedEventRequest{Request: req, Signature: sig}
}

func (f *fixture) signEvaluation(signer *identity.PrivateKey, eval subject.Evaluation) identity.Signature {
	f.t.Helper()
	enc := identity.NewEncoder()
	eval.Encode(enc)
	digest, err := identity.Hash(enc.Bytes(), testDerivator)
	require.NoError(f.t, err)
	sig, err := identity.NewSignature(signer, digest)
	require.NoError(f.t, err)
	return sig
}

func (f *fixture) signApproval(signer *identity.PrivateKey, subjectID identity.DigestId, sn uint64, accept bool) identity.Signature {
	f.t.Helper()
	digest, err := approvalContentHash(subjectID, sn, accept, testDerivator)
	require.NoError(f.t, err)
	sig, err := identity.NewSignature(signer, digest)
	require.NoError(f.t, err)
	return sig
}

func (f *fixture) signProof(signer *identity.PrivateKey, proof subject.ValidationProof) identity.Signature {
	f.t.Helper()
	enc := identity.NewEncoder()
	proof.Encode(enc)
	digest, err := identity.Hash(enc.Bytes(), testDerivator)
	require.NoError(f.t, err)
	sig, err := identity.NewSignature(signer, digest)
	require.NoError(f.t, err)
	return sig
}

// createGenesisSubject commits a genesis subject directly through the
// ledger, bypassing the pipeline, so Fact-round tests start from an
// existing subject.
func (f *fixture) createGenesisSubject() subject.Subject {
	req := f.signRequest(f.owner, subject.EventRequest{
		Kind: subject.KindCreate, GovernanceID: f.govID, SchemaID: "widget",
		Namespace: "factory", Name: "w1", PublicKey: f.owner.Public(),
	})
	props := json.RawMessage(`{"count":0}`)
	event := subject.Event{Proposal: subject.EventProposal{
		EventRequest: req,
		SN:           0,
		StateHash:    mustHashT(f.t, props),
		Executed:     true,
	}}
	s, err := f.ledger.CommitGenesis(event, 1, props, f.owner)
	require.NoError(f.t, err)
	return s
}

func mustHashT(t *testing.T, data []byte) identity.DigestId {
	t.Helper()
	id, err := identity.Hash(data, testDerivator)
	require.NoError(t, err)
	return id
}

// runFactRound opens a Fact round for s through StartRound and returns its
// subject id; the round is left in StageEvaluating.
func (f *fixture) runFactRound(s subject.Subject) identity.DigestId {
	req := f.signRequest(f.owner, subject.EventRequest{
		Kind: subject.KindFact, SubjectID: s.SubjectID, Payload: []byte("inc"),
	})
	ctxInfo := EvalContext{
		GovernanceID: f.govID, SchemaID: "widget", Invoker: f.owner.Public(),
		Creator: s.Creator, Owner: s.Owner, CurrentState: s.Properties, Namespace: "factory",
	}
	pe, target, err := f.manager.StartRound(f.meta, req, s.SN, ctxInfo, nil)
	require.NoError(f.t, err)
	require.Greater(f.t, target, 0)
	require.Equal(f.t, s.SN+1, pe.SN)
	return s.SubjectID
}

func TestStartRoundRejectsSecondConcurrentRound(t *testing.T) {
	f := newFixture(t, false)
	s := f.createGenesisSubject()
	f.runFactRound(s)

	req := f.signRequest(f.owner, subject.EventRequest{Kind: subject.KindFact, SubjectID: s.SubjectID, Payload: []byte("again")})
	ctxInfo := EvalContext{GovernanceID: f.govID, SchemaID: "widget", Invoker: f.owner.Public(), Owner: s.Owner, CurrentState: s.Properties}
	_, _, err := f.manager.StartRound(f.meta, req, s.SN, ctxInfo, nil)
	require.ErrorIs(t, err, ErrRoundInProgress)
}

func TestFullRoundWithoutApprovalCommits(t *testing.T) {
	f := newFixture(t, false)
	s := f.createGenesisSubject()
	subjectID := f.runFactRound(s)

	round, ok := f.manager.Round(subjectID)
	require.True(t, ok)
	pe := EventPreEvaluation{EventRequest: round.Request, Context: round.Context, SN: round.SN}

	eval1, err := f.manager.Evaluate(context.Background(), f.meta, pe)
	require.NoError(t, err)
	sig1 := f.signEvaluation(f.m1, eval1)
	reached, err := f.manager.SubmitEvaluation(context.Background(), subjectID, eval1, f.m1.Public(), sig1)
	require.NoError(t, err)
	require.False(t, reached)

	eval2, err := f.manager.Evaluate(context.Background(), f.meta, pe)
	require.NoError(t, err)
	sig2 := f.signEvaluation(f.m2, eval2)
	reached, err = f.manager.SubmitEvaluation(context.Background(), subjectID, eval2, f.m2.Public(), sig2)
	require.NoError(t, err)
	require.True(t, reached)

	round, _ = f.manager.Round(subjectID)
	require.Equal(t, StageValidating, round.Stage)

	proof, err := f.manager.PendingProof(subjectID)
	require.NoError(t, err)

	vsig1 := f.signProof(f.m1, proof)
	committed, err := f.manager.SubmitValidation(subjectID, proof, f.m1.Public(), vsig1)
	require.NoError(t, err)
	require.Nil(t, committed)

	vsig2 := f.signProof(f.m2, proof)
	committed, err = f.manager.SubmitValidation(subjectID, proof, f.m2.Public(), vsig2)
	require.NoError(t, err)
	require.NotNil(t, committed)
	require.Equal(t, uint64(1), committed.SN)
	require.JSONEq(t, `{"count":1}`, string(committed.Properties))

	_, ok = f.manager.Round(subjectID)
	require.False(t, ok)
}

func TestEvaluatorDisagreementFailsConsensus(t *testing.T) {
	f := newFixture(t, false)
	s := f.createGenesisSubject()
	subjectID := f.runFactRound(s)

	round, _ := f.manager.Round(subjectID)
	pe := EventPreEvaluation{EventRequest: round.Request, Context: round.Context, SN: round.SN}

	eval, err := f.manager.Evaluate(context.Background(), f.meta, pe)
	require.NoError(t, err)
	sig1 := f.signEvaluation(f.m1, eval)
	_, err = f.manager.SubmitEvaluation(context.Background(), subjectID, eval, f.m1.Public(), sig1)
	require.NoError(t, err)

	bogus := eval
	bogus.StateHash = mustHashT(t, []byte(`{"count":99}`))
	sig2 := f.signEvaluation(f.m2, bogus)
	_, err = f.manager.SubmitEvaluation(context.Background(), subjectID, bogus, f.m2.Public(), sig2)
	require.ErrorIs(t, err, ErrEvaluatorConsensusMismatch)

	_, ok := f.manager.Round(subjectID)
	require.False(t, ok)
}

func TestApprovalRequiredRoundRejectedStillCommitsUnexecuted(t *testing.T) {
	f := newFixture(t, true)
	s := f.createGenesisSubject()
	subjectID := f.runFactRound(s)

	round, _ := f.manager.Round(subjectID)
	pe := EventPreEvaluation{EventRequest: round.Request, Context: round.Context, SN: round.SN}

	eval, err := f.manager.Evaluate(context.Background(), f.meta, pe)
	require.NoError(t, err)
	require.True(t, eval.ApprovalRequired)

	sig1 := f.signEvaluation(f.m1, eval)
	_, err = f.manager.SubmitEvaluation(context.Background(), subjectID, eval, f.m1.Public(), sig1)
	require.NoError(t, err)
	sig2 := f.signEvaluation(f.m2, eval)
	reached, err := f.manager.SubmitEvaluation(context.Background(), subjectID, eval, f.m2.Public(), sig2)
	require.NoError(t, err)
	require.True(t, reached)

	round, _ = f.manager.Round(subjectID)
	require.Equal(t, StageApproving, round.Stage)

	asig1 := f.signApproval(f.m1, subjectID, round.SN, true)
	outcome, err := f.manager.SubmitApproval(subjectID, true, f.m1.Public(), asig1)
	require.NoError(t, err)
	require.Nil(t, outcome)

	asig2 := f.signApproval(f.m2, subjectID, round.SN, false)
	outcome, err = f.manager.SubmitApproval(subjectID, false, f.m2.Public(), asig2)
	require.NoError(t, err)
	require.NotNil(t, outcome)
	require.False(t, *outcome)

	proof, err := f.manager.PendingProof(subjectID)
	require.NoError(t, err)
	vsig1 := f.signProof(f.m1, proof)
	_, err = f.manager.SubmitValidation(subjectID, proof, f.m1.Public(), vsig1)
	require.NoError(t, err)
	vsig2 := f.signProof(f.m2, proof)
	committed, err := f.manager.SubmitValidation(subjectID, proof, f.m2.Public(), vsig2)
	require.NoError(t, err)
	require.NotNil(t, committed)
	require.Equal(t, uint64(1), committed.SN)
	require.JSONEq(t, `{"count":0}`, string(committed.Properties))
}

func TestSupersedeCancelsOpenRound(t *testing.T) {
	f := newFixture(t, false)
	s := f.createGenesisSubject()
	subjectID := f.runFactRound(s)

	taskIDs := f.manager.Supersede(subjectID, 1)
	require.Nil(t, taskIDs)

	_, ok := f.manager.Round(subjectID)
	require.False(t, ok)
}

func TestSignerOutsideRoleRejected(t *testing.T) {
	f := newFixture(t, false)
	s := f.createGenesisSubject()
	subjectID := f.runFactRound(s)

	round, _ := f.manager.Round(subjectID)
	pe := EventPreEvaluation{EventRequest: round.Request, Context: round.Context, SN: round.SN}
	eval, err := f.manager.Evaluate(context.Background(), f.meta, pe)
	require.NoError(t, err)

	stranger, err := identity.GenerateKeyPair(identity.KeyEd25519)
	require.NoError(t, err)
	sig := f.signEvaluation(stranger, eval)
	_, err = f.manager.SubmitEvaluation(context.Background(), subjectID, eval, stranger.Public(), sig)
	require.ErrorIs(t, err, ErrUnknownSigner)
}

func TestWholeDocumentPatchAppliesCleanly(t *testing.T) {
	patch, err := wholeDocumentPatch([]byte(`{"count":7}`))
	require.NoError(t, err)
	decoded, err := jsonpatch.DecodePatch(patch)
	require.NoError(t, err)
	out, err := decoded.Apply([]byte(`{"count":0}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"count":7}`, string(out))
}
