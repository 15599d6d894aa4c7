package subject

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"kore/identity"
)

func testGovernance(t *testing.T) identity.DigestId {
	t.Helper()
	id, err := identity.Hash([]byte("governance-subject"), identity.DigestBlake3_256)
	require.NoError(t, err)
	return id
}

func signedCreate(t *testing.T, invoker *identity.PrivateKey, subjectKey identity.KeyId, govID identity.DigestId) SignedEventRequest {
	t.Helper()
	req := EventRequest{
		Kind:         KindCreate,
		GovernanceID: govID,
		SchemaID:     "widget",
		Namespace:    "factory-a",
		Name:         "widget-1",
		PublicKey:    subjectKey,
	}
	enc := identity.NewEncoder()
	req.Encode(enc)
	digest, err := identity.Hash(enc.Bytes(), identity.DigestBlake3_256)
	require.NoError(t, err)
	sig, err := identity.NewSignature(invoker, digest)
	require.NoError(t, err)
	return SignedEventRequest{Request: req, Signature: sig}
}

func signedFact(t *testing.T, invoker *identity.PrivateKey, subjectID identity.DigestId, payload []byte) SignedEventRequest {
	t.Helper()
	req := EventRequest{Kind: KindFact, SubjectID: subjectID, Payload: payload}
	enc := identity.NewEncoder()
	req.Encode(enc)
	digest, err := identity.Hash(enc.Bytes(), identity.DigestBlake3_256)
	require.NoError(t, err)
	sig, err := identity.NewSignature(invoker, digest)
	require.NoError(t, err)
	return SignedEventRequest{Request: req, Signature: sig}
}

func signedTransfer(t *testing.T, invoker *identity.PrivateKey, subjectID identity.DigestId, newKey identity.KeyId) SignedEventRequest {
	t.Helper()
	req := EventRequest{Kind: KindTransfer, SubjectID: subjectID, NewPublicKey: newKey}
	enc := identity.NewEncoder()
	req.Encode(enc)
	digest, err := identity.Hash(enc.Bytes(), identity.DigestBlake3_256)
	require.NoError(t, err)
	sig, err := identity.NewSignature(invoker, digest)
	require.NoError(t, err)
	return SignedEventRequest{Request: req, Signature: sig}
}

func signedEOL(t *testing.T, invoker *identity.PrivateKey, subjectID identity.DigestId) SignedEventRequest {
	t.Helper()
	req := EventRequest{Kind: KindEOL, SubjectID: subjectID}
	enc := identity.NewEncoder()
	req.Encode(enc)
	digest, err := identity.Hash(enc.Bytes(), identity.DigestBlake3_256)
	require.NoError(t, err)
	sig, err := identity.NewSignature(invoker, digest)
	require.NoError(t, err)
	return SignedEventRequest{Request: req, Signature: sig}
}

func mustHash(t *testing.T, data []byte) identity.DigestId {
	t.Helper()
	id, err := identity.Hash(data, identity.DigestBlake3_256)
	require.NoError(t, err)
	return id
}

func TestNewSubjectFromCreate(t *testing.T) {
	owner, err := identity.GenerateKeyPair(identity.KeyEd25519)
	require.NoError(t, err)
	govID := testGovernance(t)
	initial := json.RawMessage(`{"count":0}`)

	req := signedCreate(t, owner, owner.Public(), govID)
	subj, err := NewSubjectFromCreate(req, 3, initial, owner, identity.DigestBlake3_256)
	require.NoError(t, err)
	require.False(t, subj.SubjectID.IsZero())
	require.True(t, subj.Active)
	require.Equal(t, uint64(0), subj.SN)
	require.Equal(t, uint64(3), subj.GenesisGovVersion)
	require.True(t, subj.Owner.Equal(owner.Public()))
	require.True(t, subj.Creator.Equal(owner.Public()))
	require.Equal(t, initial, subj.Properties)
	require.True(t, subj.LastEventHash.IsZero())
}

func TestApplyFactAdvancesChain(t *testing.T) {
	owner, err := identity.GenerateKeyPair(identity.KeyEd25519)
	require.NoError(t, err)
	govID := testGovernance(t)
	initial := json.RawMessage(`{"count":0}`)

	createReq := signedCreate(t, owner, owner.Public(), govID)
	subj, err := NewSubjectFromCreate(createReq, 1, initial, owner, identity.DigestBlake3_256)
	require.NoError(t, err)

	patch := []byte(`[{"op":"replace","path":"/count","value":1}]`)
	newProps := json.RawMessage(`{"count":1}`)
	stateHash := mustHash(t, newProps)

	factReq := signedFact(t, owner, subj.SubjectID, []byte("increment"))
	event := Event{Proposal: EventProposal{
		EventRequest:  factReq,
		SN:            1,
		PrevEventHash: subj.LastEventHash,
		GovVersion:    1,
		JSONPatch:     patch,
		StateHash:     stateHash,
		Executed:      true,
	}}

	require.NoError(t, subj.Apply(event, identity.DigestBlake3_256, nil))
	require.Equal(t, uint64(1), subj.SN)
	require.JSONEq(t, `{"count":1}`, string(subj.Properties))
	require.False(t, subj.LastEventHash.IsZero())
}

func TestApplyRejectsSequenceGap(t *testing.T) {
	owner, err := identity.GenerateKeyPair(identity.KeyEd25519)
	require.NoError(t, err)
	govID := testGovernance(t)
	createReq := signedCreate(t, owner, owner.Public(), govID)
	subj, err := NewSubjectFromCreate(createReq, 1, json.RawMessage(`{}`), owner, identity.DigestBlake3_256)
	require.NoError(t, err)

	factReq := signedFact(t, owner, subj.SubjectID, nil)
	event := Event{Proposal: EventProposal{
		EventRequest:  factReq,
		SN:            2, // should be 1
		PrevEventHash: subj.LastEventHash,
		StateHash:     mustHash(t, json.RawMessage(`{}`)),
	}}
	err = subj.Apply(event, identity.DigestBlake3_256, nil)
	require.ErrorIs(t, err, ErrSequenceMismatch)
}

func TestApplyRejectsPrevHashMismatch(t *testing.T) {
	owner, err := identity.GenerateKeyPair(identity.KeyEd25519)
	require.NoError(t, err)
	govID := testGovernance(t)
	createReq := signedCreate(t, owner, owner.Public(), govID)
	subj, err := NewSubjectFromCreate(createReq, 1, json.RawMessage(`{}`), owner, identity.DigestBlake3_256)
	require.NoError(t, err)

	factReq := signedFact(t, owner, subj.SubjectID, nil)
	event := Event{Proposal: EventProposal{
		EventRequest:  factReq,
		SN:            1,
		PrevEventHash: mustHash(t, []byte("wrong")),
		StateHash:     mustHash(t, json.RawMessage(`{}`)),
	}}
	err = subj.Apply(event, identity.DigestBlake3_256, nil)
	require.ErrorIs(t, err, ErrPrevEventHashMismatch)
}

func TestApplyRejectsStateHashMismatch(t *testing.T) {
	owner, err := identity.GenerateKeyPair(identity.KeyEd25519)
	require.NoError(t, err)
	govID := testGovernance(t)
	createReq := signedCreate(t, owner, owner.Public(), govID)
	subj, err := NewSubjectFromCreate(createReq, 1, json.RawMessage(`{"count":0}`), owner, identity.DigestBlake3_256)
	require.NoError(t, err)

	patch := []byte(`[{"op":"replace","path":"/count","value":1}]`)
	factReq := signedFact(t, owner, subj.SubjectID, nil)
	event := Event{Proposal: EventProposal{
		EventRequest:  factReq,
		SN:            1,
		PrevEventHash: subj.LastEventHash,
		JSONPatch:     patch,
		StateHash:     mustHash(t, []byte("bogus")),
		Executed:      true,
	}}
	err = subj.Apply(event, identity.DigestBlake3_256, nil)
	require.ErrorIs(t, err, ErrStateHashMismatch)
}

func TestApplyTransferRotatesKeyAndOwner(t *testing.T) {
	owner, err := identity.GenerateKeyPair(identity.KeyEd25519)
	require.NoError(t, err)
	newOwner, err := identity.GenerateKeyPair(identity.KeyEd25519)
	require.NoError(t, err)
	govID := testGovernance(t)

	createReq := signedCreate(t, owner, owner.Public(), govID)
	subj, err := NewSubjectFromCreate(createReq, 1, json.RawMessage(`{}`), owner, identity.DigestBlake3_256)
	require.NoError(t, err)

	transferReq := signedTransfer(t, owner, subj.SubjectID, newOwner.Public())
	event := Event{Proposal: EventProposal{
		EventRequest:  transferReq,
		SN:            1,
		PrevEventHash: subj.LastEventHash,
		StateHash:     mustHash(t, json.RawMessage(`{}`)),
	}}
	require.NoError(t, subj.Apply(event, identity.DigestBlake3_256, newOwner))
	require.True(t, subj.Owner.Equal(newOwner.Public()))
	require.True(t, subj.SubjectPublicKey.Equal(newOwner.Public()))
	require.Equal(t, newOwner, subj.Keys)
}

func TestApplyEOLEndsSubjectLife(t *testing.T) {
	owner, err := identity.GenerateKeyPair(identity.KeyEd25519)
	require.NoError(t, err)
	govID := testGovernance(t)
	createReq := signedCreate(t, owner, owner.Public(), govID)
	subj, err := NewSubjectFromCreate(createReq, 1, json.RawMessage(`{}`), owner, identity.DigestBlake3_256)
	require.NoError(t, err)

	eolReq := signedEOL(t, owner, subj.SubjectID)
	event := Event{Proposal: EventProposal{
		EventRequest:  eolReq,
		SN:            1,
		PrevEventHash: subj.LastEventHash,
		StateHash:     mustHash(t, json.RawMessage(`{}`)),
	}}
	require.NoError(t, subj.Apply(event, identity.DigestBlake3_256, nil))
	require.False(t, subj.Active)

	factReq := signedFact(t, owner, subj.SubjectID, nil)
	next := Event{Proposal: EventProposal{
		EventRequest:  factReq,
		SN:            2,
		PrevEventHash: subj.LastEventHash,
		StateHash:     mustHash(t, json.RawMessage(`{}`)),
	}}
	err = subj.Apply(next, identity.DigestBlake3_256, nil)
	require.ErrorIs(t, err, ErrSubjectInactive)
}

func TestVerifyInvokerSignature(t *testing.T) {
	owner, err := identity.GenerateKeyPair(identity.KeyEd25519)
	require.NoError(t, err)
	other, err := identity.GenerateKeyPair(identity.KeyEd25519)
	require.NoError(t, err)
	govID := testGovernance(t)

	req := signedCreate(t, owner, owner.Public(), govID)
	require.NoError(t, req.VerifyInvokerSignature(owner.Public()))
	require.Error(t, req.VerifyInvokerSignature(other.Public()))
}

func TestValidationProofSimilarity(t *testing.T) {
	owner, err := identity.GenerateKeyPair(identity.KeyEd25519)
	require.NoError(t, err)
	govID := testGovernance(t)
	createReq := signedCreate(t, owner, owner.Public(), govID)
	subj, err := NewSubjectFromCreate(createReq, 1, json.RawMessage(`{}`), owner, identity.DigestBlake3_256)
	require.NoError(t, err)

	eventHash := mustHash(t, []byte("event"))
	a := NewValidationProofFrom(subj, subj.LastEventHash, eventHash, 1)
	b := NewValidationProofFrom(subj, subj.LastEventHash, eventHash, 2)
	require.True(t, Similar(a, b))
	require.NotEqual(t, a.GovernanceVersion, b.GovernanceVersion)

	c := a
	c.SN = a.SN + 1
	require.False(t, Similar(a, c))
}
