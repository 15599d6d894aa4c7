package pipeline

import (
	"kore/governance"
	"kore/identity"
	"kore/ledger"
	"kore/subject"
)

// GovernanceVerifier implements ledger.Verifier for externally-offered
// events: it checks that proof carries enough validator signatures, all
// from the validate-stage signer set resolved from governance for the
// event's governance version, to reach that stage's quorum, and that
// every signature verifies over proof's canonical encoding. It lives in
// this package rather than ledger itself because it needs
// governance.Resolver, and ledger is deliberately kept decoupled from the
// quorum machinery.
type GovernanceVerifier struct {
	resolver  *governance.Resolver
	derivator identity.DigestDerivator
}

// NewGovernanceVerifier constructs a GovernanceVerifier over resolver.
func NewGovernanceVerifier(resolver *governance.Resolver, derivator identity.DigestDerivator) *GovernanceVerifier {
	return &GovernanceVerifier{resolver: resolver, derivator: derivator}
}

// VerifyAccept implements ledger.Verifier.
func (v *GovernanceVerifier) VerifyAccept(local subject.Subject, event subject.Event, proof subject.ValidationProof) error {
	meta := governance.Metadata{
		GovernanceID:      local.GovernanceID,
		GovernanceVersion: event.Proposal.GovVersion,
		SchemaID:          local.SchemaID,
		Namespace:         local.Namespace,
	}

	signers, err := v.resolver.Signers(meta, governance.StageValidate)
	if err != nil {
		return err
	}
	quorum, err := v.resolver.Quorum(meta, governance.StageValidate)
	if err != nil {
		return err
	}
	if uint32(len(event.ValidationSignatures)) < quorum {
		return ledger.ErrEmptySignatures
	}

	enc := identity.NewEncoder()
	proof.Encode(enc)
	wantHash, err := identity.Hash(enc.Bytes(), v.derivator)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(event.ValidationSignatures))
	var valid uint32
	for _, sig := range event.ValidationSignatures {
		if seen[sig.Signer.String()] {
			continue
		}
		if !containsKey(signers, sig.Signer) {
			continue
		}
		if !sig.ContentHash.Equal(wantHash) {
			continue
		}
		if err := sig.Verify(); err != nil {
			continue
		}
		seen[sig.Signer.String()] = true
		valid++
	}
	if valid < quorum {
		return &ledger.CryptoError{Kind: "validation_quorum"}
	}
	return nil
}
