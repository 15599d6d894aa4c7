package ledger

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"kore/identity"
	"kore/storage"
	"kore/subject"
)

type acceptAllVerifier struct{}

func (acceptAllVerifier) VerifyAccept(subject.Subject, subject.Event, subject.ValidationProof) error {
	return nil
}

func signedReq(t *testing.T, invoker *identity.PrivateKey, req subject.EventRequest) subject.SignedEventRequest {
	t.Helper()
	enc := identity.NewEncoder()
	req.Encode(enc)
	digest, err := identity.Hash(enc.Bytes(), identity.DigestBlake3_256)
	require.NoError(t, err)
	sig, err := identity.NewSignature(invoker, digest)
	require.NoError(t, err)
	return subject.SignedEventRequest{Request: req, Signature: sig}
}

func mustHash(t *testing.T, data []byte) identity.DigestId {
	t.Helper()
	id, err := identity.Hash(data, identity.DigestBlake3_256)
	require.NoError(t, err)
	return id
}

func newTestLedger() *Ledger {
	return New(storage.NewMemDB(), identity.DigestBlake3_256, 4, acceptAllVerifier{})
}

func commitGenesisFixture(t *testing.T, l *Ledger, owner *identity.PrivateKey) subject.Subject {
	t.Helper()
	govID := mustHash(t, []byte("governance"))
	createReq := signedReq(t, owner, subject.EventRequest{
		Kind: subject.KindCreate, GovernanceID: govID, SchemaID: "widget",
		Namespace: "factory", Name: "w1", PublicKey: owner.Public(),
	})
	props := json.RawMessage(`{"count":0}`)
	event := subject.Event{Proposal: subject.EventProposal{
		EventRequest: createReq,
		SN:           0,
		StateHash:    mustHash(t, props),
		Executed:     true,
	}}
	s, err := l.CommitGenesis(event, 1, props, owner)
	require.NoError(t, err)
	return s
}

func TestCommitGenesisPersistsSubjectAndEvent(t *testing.T) {
	l := newTestLedger()
	owner, err := identity.GenerateKeyPair(identity.KeyEd25519)
	require.NoError(t, err)

	s := commitGenesisFixture(t, l, owner)
	require.Equal(t, uint64(0), s.SN)

	loaded, err := l.Subject(s.SubjectID)
	require.NoError(t, err)
	require.True(t, loaded.SubjectID.Equal(s.SubjectID))
	require.NotNil(t, loaded.Keys)

	events, err := l.ServeRange(s.SubjectID, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestCommitGenesisRejectsDuplicate(t *testing.T) {
	l := newTestLedger()
	owner, err := identity.GenerateKeyPair(identity.KeyEd25519)
	require.NoError(t, err)

	govID := mustHash(t, []byte("governance"))
	createReq := signedReq(t, owner, subject.EventRequest{
		Kind: subject.KindCreate, GovernanceID: govID, SchemaID: "widget",
		Namespace: "factory", Name: "w1", PublicKey: owner.Public(),
	})
	props := json.RawMessage(`{"count":0}`)
	event := subject.Event{Proposal: subject.EventProposal{
		EventRequest: createReq, SN: 0, StateHash: mustHash(t, props), Executed: true,
	}}
	_, err = l.CommitGenesis(event, 1, props, owner)
	require.NoError(t, err)

	_, err = l.CommitGenesis(event, 1, props, owner)
	require.ErrorIs(t, err, ErrEventAlreadyExists)
}

func TestCommitNextAdvancesSubject(t *testing.T) {
	l := newTestLedger()
	owner, err := identity.GenerateKeyPair(identity.KeyEd25519)
	require.NoError(t, err)
	s := commitGenesisFixture(t, l, owner)

	newProps := json.RawMessage(`{"count":1}`)
	factReq := signedReq(t, owner, subject.EventRequest{Kind: subject.KindFact, SubjectID: s.SubjectID, Payload: []byte("inc")})
	event := subject.Event{Proposal: subject.EventProposal{
		EventRequest:  factReq,
		SN:            1,
		PrevEventHash: s.LastEventHash,
		JSONPatch:     []byte(`[{"op":"replace","path":"/count","value":1}]`),
		StateHash:     mustHash(t, newProps),
		Executed:      true,
	}}
	next, err := l.CommitNext(event, 1, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1), next.SN)
	require.JSONEq(t, `{"count":1}`, string(next.Properties))
}

func TestAcceptExternalContiguousCommits(t *testing.T) {
	l := newTestLedger()
	owner, err := identity.GenerateKeyPair(identity.KeyEd25519)
	require.NoError(t, err)
	s := commitGenesisFixture(t, l, owner)

	newProps := json.RawMessage(`{"count":1}`)
	factReq := signedReq(t, owner, subject.EventRequest{Kind: subject.KindFact, SubjectID: s.SubjectID})
	event := subject.Event{Proposal: subject.EventProposal{
		EventRequest:  factReq,
		SN:            1,
		PrevEventHash: s.LastEventHash,
		JSONPatch:     []byte(`[{"op":"replace","path":"/count","value":1}]`),
		StateHash:     mustHash(t, newProps),
		Executed:      true,
	}}
	proof := subject.NewValidationProofFrom(s, s.LastEventHash, mustHash(t, []byte("eh")), 1)

	status, err := l.AcceptExternal(event, proof, 1)
	require.NoError(t, err)
	require.Equal(t, StatusCommitted, status)

	loaded, err := l.Subject(s.SubjectID)
	require.NoError(t, err)
	require.Equal(t, uint64(1), loaded.SN)
}

func TestAcceptExternalStaleDropped(t *testing.T) {
	l := newTestLedger()
	owner, err := identity.GenerateKeyPair(identity.KeyEd25519)
	require.NoError(t, err)
	s := commitGenesisFixture(t, l, owner)

	factReq := signedReq(t, owner, subject.EventRequest{Kind: subject.KindFact, SubjectID: s.SubjectID})
	event := subject.Event{Proposal: subject.EventProposal{
		EventRequest: factReq,
		SN:           0,
	}}
	status, err := l.AcceptExternal(event, subject.ValidationProof{}, 1)
	require.NoError(t, err)
	require.Equal(t, StatusDropped, status)
}

func TestAcceptExternalGapBufferAndRepair(t *testing.T) {
	l := newTestLedger()
	owner, err := identity.GenerateKeyPair(identity.KeyEd25519)
	require.NoError(t, err)
	s := commitGenesisFixture(t, l, owner)

	props1 := json.RawMessage(`{"count":1}`)
	props2 := json.RawMessage(`{"count":2}`)

	factReq1 := signedReq(t, owner, subject.EventRequest{Kind: subject.KindFact, SubjectID: s.SubjectID})
	event1 := subject.Event{Proposal: subject.EventProposal{
		EventRequest: factReq1, SN: 1, PrevEventHash: s.LastEventHash,
		JSONPatch: []byte(`[{"op":"replace","path":"/count","value":1}]`),
		StateHash: mustHash(t, props1), Executed: true,
	}}
	eventHash1, err := event1.Proposal.Hash(identity.DigestBlake3_256)
	require.NoError(t, err)

	factReq2 := signedReq(t, owner, subject.EventRequest{Kind: subject.KindFact, SubjectID: s.SubjectID})
	event2 := subject.Event{Proposal: subject.EventProposal{
		EventRequest: factReq2, SN: 2, PrevEventHash: eventHash1,
		JSONPatch: []byte(`[{"op":"replace","path":"/count","value":2}]`),
		StateHash: mustHash(t, props2), Executed: true,
	}}

	// sn=2 arrives before sn=1: must buffer, not commit.
	status, err := l.AcceptExternal(event2, subject.ValidationProof{}, 1)
	require.NoError(t, err)
	require.Equal(t, StatusBuffered, status)
	require.True(t, l.IsSyncing(s.SubjectID))

	// sn=1 arrives: commits, then repair drains the buffered sn=2.
	status, err = l.AcceptExternal(event1, subject.ValidationProof{}, 1)
	require.NoError(t, err)
	require.Equal(t, StatusCommitted, status)
	require.False(t, l.IsSyncing(s.SubjectID))

	loaded, err := l.Subject(s.SubjectID)
	require.NoError(t, err)
	require.Equal(t, uint64(2), loaded.SN)
	require.JSONEq(t, `{"count":2}`, string(loaded.Properties))
}

func TestAcceptExternalBeyondBoundDropped(t *testing.T) {
	l := New(storage.NewMemDB(), identity.DigestBlake3_256, 1, acceptAllVerifier{})
	owner, err := identity.GenerateKeyPair(identity.KeyEd25519)
	require.NoError(t, err)
	s := commitGenesisFixture(t, l, owner)

	factReq := signedReq(t, owner, subject.EventRequest{Kind: subject.KindFact, SubjectID: s.SubjectID})
	event := subject.Event{Proposal: subject.EventProposal{EventRequest: factReq, SN: 5}}
	status, err := l.AcceptExternal(event, subject.ValidationProof{}, 1)
	require.NoError(t, err)
	require.Equal(t, StatusDropped, status)
	require.False(t, l.IsSyncing(s.SubjectID))
}

func TestServeRangeUnknownSubject(t *testing.T) {
	l := newTestLedger()
	bogus := mustHash(t, []byte("nope"))
	_, err := l.ServeRange(bogus, 0, 10)
	require.ErrorIs(t, err, ErrSubjectNotFound)
}
