// Package ledger implements the per-subject append-only event log: genesis
// materialization, local commit, acceptance of external events with
// causal repair, and range service for pull requests.
package ledger

import (
	"encoding/json"
	"sync"

	"kore/identity"
	"kore/storage"
	"kore/subject"
)

// Verifier checks an externally-offered event and its validation proof
// against the subject's current head before the ledger commits it. It is
// the pipeline/governance layer's collaborator, kept out of this package so
// ledger never depends on the quorum or signer-set machinery directly —
// consistent with the "actor-style components" design note.
type Verifier interface {
	VerifyAccept(local subject.Subject, event subject.Event, proof subject.ValidationProof) error
}

// AcceptStatus reports what AcceptExternal did with an offered event.
type AcceptStatus int

const (
	// StatusCommitted means the event extended the local head and was
	// persisted immediately.
	StatusCommitted AcceptStatus = iota
	// StatusBuffered means the event is ahead of the local head and was
	// admitted to the gap buffer pending repair.
	StatusBuffered
	// StatusDropped means the event was at or behind the local head, or
	// past the gap buffer bound, and was discarded.
	StatusDropped
)

// Ledger is the per-node store of every subject this node tracks.
type Ledger struct {
	mu sync.RWMutex

	subjects storage.Collection
	events   storage.Collection
	proofs   storage.Collection

	derivator identity.DigestDerivator
	gapBound  uint64
	verifier  Verifier

	gaps map[string]*gapBuffer

	// keys holds the private key material for subjects this node owns,
	// kept out of the JSON-marshaled subject record (see
	// subject.Subject.Keys and ledger's DESIGN.md entry).
	keys map[string]*identity.PrivateKey
}

// New constructs a Ledger over db's "subjects", "events" and "proofs"
// top-level collections. gapBound is K, the per-subject gap-buffer depth
// bound beyond the local sn.
func New(db storage.Database, derivator identity.DigestDerivator, gapBound uint64, verifier Verifier) *Ledger {
	return &Ledger{
		subjects:  db.Collection("subjects"),
		events:    db.Collection("events"),
		proofs:    db.Collection("proofs"),
		derivator: derivator,
		gapBound:  gapBound,
		verifier:  verifier,
		gaps:      make(map[string]*gapBuffer),
		keys:      make(map[string]*identity.PrivateKey),
	}
}

// SetVerifier (re)binds the Verifier external events are checked against.
// It exists because a real deployment's Verifier is normally constructed
// from a governance.Resolver backed by a GovernanceSource reading this
// same Ledger (the ledger and the governance resolver are mutually
// dependent at wiring time); New takes a Verifier directly for callers
// (tests) without that cycle.
func (l *Ledger) SetVerifier(verifier Verifier) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.verifier = verifier
}

func (l *Ledger) eventsFor(subjectID identity.DigestId) storage.Collection {
	return l.events.Partition(subjectID.String())
}

func (l *Ledger) loadSubject(subjectID identity.DigestId) (subject.Subject, error) {
	raw, err := l.subjects.Get(subjectID.String())
	if err != nil {
		if err == storage.ErrEntryNotFound {
			return subject.Subject{}, ErrSubjectNotFound
		}
		return subject.Subject{}, err
	}
	var s subject.Subject
	if err := json.Unmarshal(raw, &s); err != nil {
		return subject.Subject{}, err
	}
	s.Keys = l.keys[s.SubjectID.String()]
	return s, nil
}

func (l *Ledger) saveSubject(s subject.Subject) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := l.subjects.Put(s.SubjectID.String(), raw); err != nil {
		return err
	}
	if s.Keys != nil {
		l.keys[s.SubjectID.String()] = s.Keys
	} else {
		delete(l.keys, s.SubjectID.String())
	}
	return nil
}

func (l *Ledger) saveEvent(subjectID identity.DigestId, sn uint64, event subject.Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return l.eventsFor(subjectID).Put(storage.SnHexKey(sn), raw)
}

func (l *Ledger) saveProof(proof subject.ValidationProof) error {
	raw, err := json.Marshal(proof)
	if err != nil {
		return err
	}
	return l.proofs.Put(proof.SubjectID.String(), raw)
}

// CommitGenesis materializes a brand-new subject from a Create event and
// persists its event, proof and state. event.Proposal must carry sn=0, a
// Create request, and a zero PrevEventHash.
func (l *Ledger) CommitGenesis(event subject.Event, genesisGovVersion uint64, initialProperties json.RawMessage, keys *identity.PrivateKey) (subject.Subject, error) {
	req := event.Proposal.EventRequest.Request
	if req.Kind != subject.KindCreate || event.Proposal.SN != 0 || !event.Proposal.PrevEventHash.IsZero() {
		return subject.Subject{}, ErrInvalidGenesisEvent
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	s, err := subject.NewSubjectFromCreate(event.Proposal.EventRequest, genesisGovVersion, initialProperties, keys, l.derivator)
	if err != nil {
		return subject.Subject{}, err
	}

	if _, err := l.subjects.Get(s.SubjectID.String()); err == nil {
		return subject.Subject{}, ErrEventAlreadyExists
	} else if err != storage.ErrEntryNotFound {
		return subject.Subject{}, err
	}

	eventHash, err := event.Proposal.Hash(l.derivator)
	if err != nil {
		return subject.Subject{}, err
	}
	s.LastEventHash = eventHash

	if err := l.saveEvent(s.SubjectID, 0, event); err != nil {
		return subject.Subject{}, err
	}
	proof := subject.NewValidationProofFrom(s, identity.DigestId{}, eventHash, genesisGovVersion)
	if err := l.saveProof(proof); err != nil {
		return subject.Subject{}, err
	}
	if err := l.saveSubject(s); err != nil {
		return subject.Subject{}, err
	}
	return s, nil
}

// CommitNext atomically persists the subject's next event, replacing its
// previous validation-proof record, assuming the pipeline has already
// produced event.Proposal.SN == current sn+1.
func (l *Ledger) CommitNext(event subject.Event, governanceVersion uint64, nextKeys *identity.PrivateKey) (subject.Subject, error) {
	req := event.Proposal.EventRequest.Request

	l.mu.Lock()
	defer l.mu.Unlock()

	s, err := l.loadSubject(req.SubjectID)
	if err != nil {
		return subject.Subject{}, err
	}
	if event.Proposal.SN <= s.SN {
		return subject.Subject{}, ErrEventAlreadyExists
	}
	if event.Proposal.SN != s.SN+1 {
		return subject.Subject{}, ErrNotValidable
	}

	if err := s.Apply(event, l.derivator, nextKeys); err != nil {
		return subject.Subject{}, err
	}

	if err := l.saveEvent(s.SubjectID, event.Proposal.SN, event); err != nil {
		return subject.Subject{}, err
	}
	proof := subject.NewValidationProofFrom(s, event.Proposal.PrevEventHash, s.LastEventHash, governanceVersion)
	if err := l.saveProof(proof); err != nil {
		return subject.Subject{}, err
	}
	if err := l.saveSubject(s); err != nil {
		return subject.Subject{}, err
	}
	return s, nil
}

// AcceptExternal handles an event offered by another node: verified,
// stale, ahead or contiguous. On a contiguous accept, it drains the gap
// buffer for any now-applicable successors.
func (l *Ledger) AcceptExternal(event subject.Event, proof subject.ValidationProof, governanceVersion uint64) (AcceptStatus, error) {
	req := event.Proposal.EventRequest.Request

	l.mu.Lock()
	defer l.mu.Unlock()

	s, err := l.loadSubject(req.SubjectID)
	if err != nil {
		return StatusDropped, err
	}

	sn := event.Proposal.SN
	if sn <= s.SN {
		return StatusDropped, nil
	}

	if l.verifier != nil {
		if err := l.verifier.VerifyAccept(s, event, proof); err != nil {
			return StatusDropped, err
		}
	}

	if sn > s.SN+1 {
		buf := l.gaps[s.SubjectID.String()]
		if buf == nil {
			buf = newGapBuffer(l.gapBound)
			l.gaps[s.SubjectID.String()] = buf
		}
		if !buf.insert(s.SN, sn, event, proof) {
			return StatusDropped, nil
		}
		return StatusBuffered, nil
	}

	if err := l.commitExternalLocked(&s, event, governanceVersion); err != nil {
		return StatusDropped, err
	}
	l.repairLocked(&s, governanceVersion)
	return StatusCommitted, nil
}

func (l *Ledger) commitExternalLocked(s *subject.Subject, event subject.Event, governanceVersion uint64) error {
	if err := s.Apply(event, l.derivator, nil); err != nil {
		return err
	}
	if err := l.saveEvent(s.SubjectID, event.Proposal.SN, event); err != nil {
		return err
	}
	proof := subject.NewValidationProofFrom(*s, event.Proposal.PrevEventHash, s.LastEventHash, governanceVersion)
	if err := l.saveProof(proof); err != nil {
		return err
	}
	return l.saveSubject(*s)
}

// repairLocked drains consecutive buffered entries onto s now that its sn
// has advanced, completing causal repair when the buffer empties.
func (l *Ledger) repairLocked(s *subject.Subject, governanceVersion uint64) {
	buf := l.gaps[s.SubjectID.String()]
	if buf == nil {
		return
	}
	for {
		entry, ok := buf.takeNext(s.SN + 1)
		if !ok {
			break
		}
		if err := l.commitExternalLocked(s, entry.event, governanceVersion); err != nil {
			break
		}
	}
	if buf.len() == 0 {
		delete(l.gaps, s.SubjectID.String())
	}
}

// IsSyncing reports whether subjectID has a non-empty gap buffer, meaning
// its pipeline must refuse to start new local rounds while causal repair
// is in progress.
func (l *Ledger) IsSyncing(subjectID identity.DigestId) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	buf, ok := l.gaps[subjectID.String()]
	return ok && buf.len() > 0
}

// Subject returns the current persisted state of subjectID.
func (l *Ledger) Subject(subjectID identity.DigestId) (subject.Subject, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loadSubject(subjectID)
}

// Proof returns the most recently committed ValidationProof for
// subjectID. Like proofs itself, this is the single current proof, not a
// history: each commit overwrites the prior one.
func (l *Ledger) Proof(subjectID identity.DigestId) (subject.ValidationProof, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	raw, err := l.proofs.Get(subjectID.String())
	if err != nil {
		if err == storage.ErrEntryNotFound {
			return subject.ValidationProof{}, ErrSubjectNotFound
		}
		return subject.ValidationProof{}, err
	}
	var proof subject.ValidationProof
	if err := json.Unmarshal(raw, &proof); err != nil {
		return subject.ValidationProof{}, err
	}
	return proof, nil
}

// ServeRange streams the committed events for subjectID with sn in
// [from, to], in ascending order, for a pull request from another node.
func (l *Ledger) ServeRange(subjectID identity.DigestId, from, to uint64) ([]subject.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if _, err := l.loadSubject(subjectID); err != nil {
		return nil, err
	}

	col := l.eventsFor(subjectID)
	iter := col.Iter("", false)
	defer iter.Close()

	fromKey, toKey := storage.SnHexKey(from), storage.SnHexKey(to)
	var out []subject.Event
	for iter.Next() {
		entry := iter.Entry()
		if entry.Key < fromKey {
			continue
		}
		if entry.Key > toKey {
			break
		}
		var ev subject.Event
		if err := json.Unmarshal(entry.Value, &ev); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
