package subject

import (
	"encoding/json"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"kore/identity"
)

// computeSubjectID derives subject_id from the fields fixed at creation:
// namespace, schema id, the subject's own public key, the governing
// governance subject, and the governance version in effect at genesis.
func computeSubjectID(namespace, schemaID string, governanceID identity.DigestId, subjectKey identity.KeyId, genesisGovVersion uint64, derivator identity.DigestDerivator) (identity.DigestId, error) {
	enc := identity.NewEncoder()
	enc.WriteString(namespace)
	enc.WriteString(schemaID)
	identity.EncodeKeyId(enc, subjectKey)
	identity.EncodeDigestId(enc, governanceID)
	enc.WriteUint64(genesisGovVersion)
	return identity.Hash(enc.Bytes(), derivator)
}

// DeriveSubjectID exposes computeSubjectID for callers (the event
// pipeline) that must know a Create request's subject_id before a
// Subject value exists, in order to track its round and reject a
// concurrent duplicate genesis.
func DeriveSubjectID(namespace, schemaID string, governanceID identity.DigestId, subjectKey identity.KeyId, genesisGovVersion uint64, derivator identity.DigestDerivator) (identity.DigestId, error) {
	return computeSubjectID(namespace, schemaID, governanceID, subjectKey, genesisGovVersion, derivator)
}

// NewSubjectFromCreate materializes a genesis subject from a signed Create
// request. initialProperties comes from the governing schema's policy, not
// from the request itself. keys is non-nil only when this node holds the
// subject's private key (it is its own creator-owner).
func NewSubjectFromCreate(req SignedEventRequest, genesisGovVersion uint64, initialProperties json.RawMessage, keys *identity.PrivateKey, derivator identity.DigestDerivator) (Subject, error) {
	r := req.Request
	if r.Kind != KindCreate {
		return Subject{}, ErrUnexpectedCreate
	}
	subjectID, err := computeSubjectID(r.Namespace, r.SchemaID, r.GovernanceID, r.PublicKey, genesisGovVersion, derivator)
	if err != nil {
		return Subject{}, err
	}
	return Subject{
		SubjectID:         subjectID,
		GovernanceID:      r.GovernanceID,
		GenesisGovVersion: genesisGovVersion,
		SN:                0,
		SchemaID:          r.SchemaID,
		Namespace:         r.Namespace,
		Name:              r.Name,
		Owner:             r.PublicKey,
		Creator:           req.Signature.Signer,
		SubjectPublicKey:  r.PublicKey,
		Properties:        initialProperties,
		Active:            true,
		Keys:              keys,
	}, nil
}

// Apply advances s by one committed event, enforcing the chain invariants:
//
//  1. event.Proposal.SN must be s.SN+1.
//  2. event.Proposal.PrevEventHash must equal the hash of s's last
//     committed proposal.
//  3. when Executed, the recomputed properties (s.Properties patched by
//     JSONPatch) must hash to StateHash; when not Executed, JSONPatch
//     must be empty and properties are unchanged.
//  4. a Transfer rotates SubjectPublicKey and Owner to the request's
//     NewPublicKey, and retains nextKeys only if this node is the new
//     owner.
//  5. an EOL sets Active to false; s rejects all further events with
//     ErrSubjectInactive.
func (s *Subject) Apply(event Event, derivator identity.DigestDerivator, nextKeys *identity.PrivateKey) error {
	if !s.Active {
		return ErrSubjectInactive
	}
	req := event.Proposal.EventRequest.Request
	if req.Kind == KindCreate {
		return ErrUnexpectedCreate
	}
	if !req.SubjectID.Equal(s.SubjectID) {
		return ErrWrongSubject
	}
	if event.Proposal.SN != s.SN+1 {
		return ErrSequenceMismatch
	}
	if !event.Proposal.PrevEventHash.Equal(s.LastEventHash) {
		return ErrPrevEventHashMismatch
	}

	var newProps json.RawMessage
	if event.Proposal.Executed {
		patch, err := jsonpatch.DecodePatch(event.Proposal.JSONPatch)
		if err != nil {
			return ErrMalformedPatch
		}
		patched, err := patch.Apply(s.Properties)
		if err != nil {
			return ErrMalformedPatch
		}
		newProps = patched
	} else {
		if len(event.Proposal.JSONPatch) != 0 {
			return ErrNotExecutedMustNotPatch
		}
		newProps = s.Properties
	}

	gotHash, err := identity.Hash(newProps, derivator)
	if err != nil {
		return err
	}
	if !gotHash.Equal(event.Proposal.StateHash) {
		return ErrStateHashMismatch
	}

	eventHash, err := event.Proposal.Hash(derivator)
	if err != nil {
		return err
	}

	switch req.Kind {
	case KindTransfer:
		s.Owner = req.NewPublicKey
		s.SubjectPublicKey = req.NewPublicKey
		s.Keys = nextKeys
	case KindEOL:
		s.Active = false
	}

	s.SN = event.Proposal.SN
	s.Properties = newProps
	s.LastEventHash = eventHash
	return nil
}
