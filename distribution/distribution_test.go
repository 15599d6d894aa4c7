package distribution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kore/governance"
	"kore/identity"
	"kore/network"
	"kore/scheduler"
	"kore/subject"
)

const testDerivator = identity.DigestBlake3_256

type fakeSource struct{ st governance.State }

func (f *fakeSource) GovernanceState(_ identity.DigestId, _ uint64) (governance.State, error) {
	return f.st, nil
}

type fakeEvents struct{}

func (fakeEvents) ServeRange(_ identity.DigestId, _, _ uint64) ([]subject.Event, error) {
	return []subject.Event{{ValidationSignatures: nil}}, nil
}

type countingReporter struct {
	reported []identity.KeyId
}

func (r *countingReporter) ReportUnacknowledgedWitness(_ identity.DigestId, _ uint64, w identity.KeyId) {
	r.reported = append(r.reported, w)
}

func mustKey(t *testing.T) *identity.PrivateKey {
	t.Helper()
	k, err := identity.GenerateKeyPair(identity.KeyEd25519)
	require.NoError(t, err)
	return k
}

func setup(t *testing.T, witnessKeys []identity.KeyId) (*Distributor, *network.Loopback) {
	t.Helper()
	govID, err := identity.Hash([]byte("gov"), testDerivator)
	require.NoError(t, err)

	members := make([]governance.Member, len(witnessKeys))
	memberIDs := make([]string, len(witnessKeys))
	for i, k := range witnessKeys {
		members[i] = governance.Member{ID: string(rune('a' + i)), Name: "w", Key: k}
		memberIDs[i] = members[i].ID
	}
	st := governance.State{
		Members: members,
		Schemas: []governance.SchemaPolicy{{
			SchemaID: "doc",
			Roles: []governance.Role{
				{Stage: governance.StageWitness, Who: governance.RoleWho{MemberIDs: memberIDs}, Quorum: governance.Fixed(1)},
			},
		}},
	}
	resolver := governance.NewResolver(&fakeSource{st: st})
	loop := network.NewLoopback()
	sched := scheduler.New(loop.Send)
	rep := &countingReporter{}
	d := New(resolver, sched, loop, fakeEvents{}, Config{RetryInterval: 10 * time.Millisecond, MaxRounds: 2}, rep)
	_ = govID
	return d, loop
}

func TestPushRetriesUntilAck(t *testing.T) {
	w1 := mustKey(t).Public()
	w2 := mustKey(t).Public()
	d, loop := setup(t, []identity.KeyId{w1, w2})

	subjectID, _ := identity.Hash([]byte("subject"), testDerivator)
	meta := governance.Metadata{SchemaID: "doc"}

	require.NoError(t, d.Push(meta, subjectID, 1, subject.Event{}, subject.ValidationProof{}))

	received := loop.Subscribe(network.TypeDistributionSignaturesReceived)
	<-received // first round fires immediately-ish

	d.HandleAck(Ack{SubjectID: subjectID, SN: 1, Witness: w1})

	time.Sleep(60 * time.Millisecond)
	d.mu.Lock()
	acked := d.acked[subjectID.String()][w1.String()]
	d.mu.Unlock()
	require.Equal(t, uint64(1), acked)
}

func TestPushReportsStragglerAfterMaxRounds(t *testing.T) {
	w1 := mustKey(t).Public()
	d, _ := setup(t, []identity.KeyId{w1})

	subjectID, _ := identity.Hash([]byte("subject2"), testDerivator)
	meta := governance.Metadata{SchemaID: "doc"}
	require.NoError(t, d.Push(meta, subjectID, 1, subject.Event{}, subject.ValidationProof{}))

	time.Sleep(80 * time.Millisecond)
	d.mu.Lock()
	_, stillTracked := d.rounds[taskID(subjectID, 1)]
	reported := append([]identity.KeyId(nil), d.reporter.(*countingReporter).reported...)
	d.mu.Unlock()
	require.False(t, stillTracked, "task should have been cancelled after exceeding MaxRounds")
	require.Len(t, reported, 1)
	require.True(t, reported[0].Equal(w1))
}

func TestHandleSignaturesNeededRepliesProvideSignatures(t *testing.T) {
	d, loop := setup(t, []identity.KeyId{mustKey(t).Public()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	provide := loop.Subscribe(network.TypeDistributionProvideSignatures)
	subjectID, _ := identity.Hash([]byte("s"), testDerivator)
	require.NoError(t, d.HandleSignaturesNeeded("peer-a", SignaturesNeeded{SubjectID: subjectID, SN: 3}))

	select {
	case env := <-provide:
		require.Equal(t, network.TypeDistributionProvideSignatures, env.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ProvideSignatures")
	}
}
