package approval

import (
	"encoding/json"
	"sync"

	"kore/identity"
	"kore/storage"
)

// Manager owns the approvals/<request_id>, subject-approval-index/
// <subject_id>/<request_id>, and governance-approval-index/<gov_id>/
// <request_id> collections exclusively: no other component writes an
// approval record, consistent with the core's per-keyspace ownership
// discipline.
type Manager struct {
	mu sync.Mutex

	approvals    storage.Collection
	bySubject    storage.Collection
	byGovernance storage.Collection

	policy    Policy
	keys      *identity.PrivateKey
	derivator identity.DigestDerivator
}

// New constructs a Manager over db's approval collections, using keys to
// sign this node's own auto-policy votes.
func New(db storage.Database, policy Policy, keys *identity.PrivateKey, derivator identity.DigestDerivator) *Manager {
	return &Manager{
		approvals:    db.Collection("approvals"),
		bySubject:    db.Collection("subject-approval-index"),
		byGovernance: db.Collection("governance-approval-index"),
		policy:       policy,
		keys:         keys,
		derivator:    derivator,
	}
}

func (m *Manager) load(requestID identity.DigestId) (Record, error) {
	raw, err := m.approvals.Get(requestID.String())
	if err != nil {
		if err == storage.ErrEntryNotFound {
			return Record{}, ErrUnknownRequest
		}
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (m *Manager) save(rec Record) error {
	raw, err := rec.marshal()
	if err != nil {
		return err
	}
	if err := m.approvals.Put(rec.RequestID.String(), raw); err != nil {
		return err
	}
	if err := m.bySubject.Partition(rec.SubjectID.String()).Put(rec.RequestID.String(), []byte{1}); err != nil {
		return err
	}
	return m.byGovernance.Partition(rec.GovernanceID.String()).Put(rec.RequestID.String(), []byte{1})
}

// pendingForSubject returns the RequestIDs currently indexed as pending for
// subjectID, by scanning the subject index and filtering on stored state.
func (m *Manager) pendingForSubject(subjectID identity.DigestId) ([]identity.DigestId, error) {
	iter := m.bySubject.Partition(subjectID.String()).Iter("", false)
	defer iter.Close()
	var ids []identity.DigestId
	for iter.Next() {
		id, err := identity.ParseDigestId(iter.Entry().Key)
		if err != nil {
			continue
		}
		rec, err := m.load(id)
		if err != nil {
			continue
		}
		if rec.State == StatusPending {
			ids = append(ids, id)
		}
	}
	return ids, iter.Err()
}

// Receive registers an incoming ApprovalRequest as Pending, marking any
// other still-pending request for the same subject Obsolete, preserving
// the at-most-one-pending-approval-per-subject invariant. If this node's
// policy is not PolicyNormal, it immediately casts its own vote and
// returns the signed Response to broadcast back to the round's initiator;
// PolicyNormal returns a nil Response, awaiting a host-driven Respond
// call.
func (m *Manager) Receive(req Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending, err := m.pendingForSubject(req.SubjectID)
	if err != nil {
		return nil, err
	}
	for _, id := range pending {
		rec, err := m.load(id)
		if err != nil {
			continue
		}
		rec.State = StatusObsolete
		if err := m.save(rec); err != nil {
			return nil, err
		}
	}

	rec := Record{
		RequestID:    req.RequestID,
		SubjectID:    req.SubjectID,
		GovernanceID: req.GovernanceID,
		State:        StatusPending,
	}
	if err := m.save(rec); err != nil {
		return nil, err
	}

	switch m.policy {
	case PolicyAlwaysAccept:
		return m.respondLocked(req.RequestID, true)
	case PolicyAlwaysReject:
		return m.respondLocked(req.RequestID, false)
	default:
		return nil, nil
	}
}

// Respond casts this node's own vote on requestID, signs it with this
// node's key, transitions the Record to Responded, and returns the signed
// Response the caller sends to the round's initiator.
func (m *Manager) Respond(requestID identity.DigestId, accept bool) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	resp, err := m.respondLocked(requestID, accept)
	if err != nil {
		return Response{}, err
	}
	return *resp, nil
}

func (m *Manager) respondLocked(requestID identity.DigestId, accept bool) (*Response, error) {
	rec, err := m.load(requestID)
	if err != nil {
		return nil, err
	}
	if rec.State == StatusObsolete {
		return nil, ErrObsolete
	}
	if rec.Accepted != nil {
		return nil, ErrAlreadyResponded
	}

	enc := identity.NewEncoder()
	identity.EncodeDigestId(enc, requestID)
	enc.WriteBool(accept)
	digest, err := identity.Hash(enc.Bytes(), m.derivator)
	if err != nil {
		return nil, err
	}
	sig, err := identity.NewSignature(m.keys, digest)
	if err != nil {
		return nil, err
	}

	rec.Accepted = &accept
	rec.State = StatusResponded
	rec.ResponseSignatures = append(rec.ResponseSignatures, sig)
	if err := m.save(rec); err != nil {
		return nil, err
	}

	return &Response{RequestID: requestID, Accept: accept, Signer: m.keys.Public(), Signature: sig}, nil
}

// ReceiveResponse records an approver's response signature against
// requestID, for host visibility via the pending-approvals query. It does
// not itself decide quorum — that tally lives in pipeline.Manager, which
// owns the live round.
func (m *Manager) ReceiveResponse(resp Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.load(resp.RequestID)
	if err != nil {
		return err
	}
	if rec.State == StatusObsolete {
		return ErrObsolete
	}
	rec.ResponseSignatures = append(rec.ResponseSignatures, resp.Signature)
	rec.State = StatusResponded
	if err := m.save(rec); err != nil {
		return err
	}
	return nil
}

// MarkObsolete transitions requestID to Obsolete once the corresponding
// event has committed, or the governance version that named its approver
// set has been superseded.
func (m *Manager) MarkObsolete(requestID identity.DigestId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.load(requestID)
	if err != nil {
		return err
	}
	rec.State = StatusObsolete
	return m.save(rec)
}

// List returns every stored Record, optionally filtered to one status.
func (m *Manager) List(status *Status) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	iter := m.approvals.Iter("", false)
	defer iter.Close()
	var out []Record
	for iter.Next() {
		var rec Record
		if err := json.Unmarshal(iter.Entry().Value, &rec); err != nil {
			return nil, err
		}
		if status == nil || rec.State == *status {
			out = append(out, rec)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns the stored Record for requestID.
func (m *Manager) Get(requestID identity.DigestId) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(requestID)
}
