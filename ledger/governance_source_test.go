package ledger

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"kore/governance"
	"kore/identity"
	"kore/subject"
)

func commitGovernanceGenesis(t *testing.T, l *Ledger, owner *identity.PrivateKey, st governance.State) subject.Subject {
	t.Helper()
	govID := mustHash(t, []byte("self-governance"))
	createReq := signedReq(t, owner, subject.EventRequest{
		Kind: subject.KindCreate, GovernanceID: govID, SchemaID: "governance",
		Namespace: "core", Name: "root-governance", PublicKey: owner.Public(),
	})
	props, err := json.Marshal(st)
	require.NoError(t, err)
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

func TestGovernanceSourceReadsCurrentState(t *testing.T) {
	l := newTestLedger()
	owner, err := identity.GenerateKeyPair(identity.KeyEd25519)
	require.NoError(t, err)

	st := governance.State{Members: []governance.Member{{ID: "m1", Name: "one", Key: owner.Public()}}}
	s := commitGovernanceGenesis(t, l, owner, st)

	source := NewGovernanceSource(l)
	got, err := source.GovernanceState(s.SubjectID, 0)
	require.NoError(t, err)
	require.Len(t, got.Members, 1)
	require.Equal(t, "m1", got.Members[0].ID)

	_, err = source.GovernanceState(s.SubjectID, 5)
	require.NoError(t, err, "a version at or ahead of the current head is resolvable")
}

func TestGovernanceSourceRejectsStaleVersion(t *testing.T) {
	l := newTestLedger()
	owner, err := identity.GenerateKeyPair(identity.KeyEd25519)
	require.NoError(t, err)
	s := commitGovernanceGenesis(t, l, owner, governance.State{})

	newSt := governance.State{Members: []governance.Member{{ID: "m2", Name: "two", Key: owner.Public()}}}
	newProps, err := json.Marshal(newSt)
	require.NoError(t, err)
	factReq := signedReq(t, owner, subject.EventRequest{Kind: subject.KindFact, SubjectID: s.SubjectID, Payload: []byte("add-member")})
	event := subject.Event{Proposal: subject.EventProposal{
		EventRequest:  factReq,
		SN:            1,
		PrevEventHash: s.LastEventHash,
		JSONPatch:     []byte(`[{"op":"replace","path":"","value":` + string(newProps) + `}]`),
		StateHash:     mustHash(t, newProps),
		Executed:      true,
	}}
	_, err = l.CommitNext(event, 1, nil)
	require.NoError(t, err)

	source := NewGovernanceSource(l)
	_, err = source.GovernanceState(s.SubjectID, 0)
	require.ErrorIs(t, err, ErrGovernanceVersionUnavailable)
}
