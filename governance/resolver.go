package governance

import (
	"encoding/json"
	"sync"

	"kore/identity"
)

// StateSource resolves the committed governance State for a governance id
// at a specific version. The resolver never mutates state itself; it is
// supplied by whatever owns subject persistence (the ledger/subject
// packages), kept decoupled here to avoid a dependency cycle.
type StateSource interface {
	GovernanceState(govID identity.DigestId, version uint64) (State, error)
}

// Update announces that governID advanced to version, broadcast to every
// subscriber so cached derivations for that id are dropped.
type Update struct {
	GovernanceID identity.DigestId
	Version      uint64
}

// Resolver derives, for a governance id, version, schema and stage, the
// eligible signer set and quorum threshold. The governance State is cached
// per (governance_id, version), keyed by the id's wire-form string, and
// invalidated wholesale for a governance id when Publish is called;
// signer sets and quorums are derived from it on each call.
// GovernanceUpdated reaches other components as a channel broadcast.
type Resolver struct {
	source StateSource

	mu    sync.RWMutex
	cache map[string]map[uint64]State

	subMu sync.Mutex
	subs  []chan Update
}

// NewResolver constructs a Resolver backed by source.
func NewResolver(source StateSource) *Resolver {
	return &Resolver{
		source: source,
		cache:  make(map[string]map[uint64]State),
	}
}

// Subscribe returns a channel that receives every future GovernanceUpdated
// broadcast. The channel is buffered; a slow subscriber drops notifications
// rather than blocking Publish.
func (r *Resolver) Subscribe() <-chan Update {
	ch := make(chan Update, 16)
	r.subMu.Lock()
	r.subs = append(r.subs, ch)
	r.subMu.Unlock()
	return ch
}

// Publish announces a GovernanceUpdated event, invalidating any cached
// state for that governance id and fanning the notification out to every
// subscriber.
func (r *Resolver) Publish(update Update) {
	r.mu.Lock()
	delete(r.cache, update.GovernanceID.String())
	r.mu.Unlock()

	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- update:
		default:
		}
	}
}

func (r *Resolver) state(govID identity.DigestId, version uint64) (State, error) {
	key := govID.String()
	r.mu.RLock()
	if byVersion, ok := r.cache[key]; ok {
		if st, ok := byVersion[version]; ok {
			r.mu.RUnlock()
			return st, nil
		}
	}
	r.mu.RUnlock()

	st, err := r.source.GovernanceState(govID, version)
	if err != nil {
		return State{}, err
	}

	r.mu.Lock()
	if r.cache[key] == nil {
		r.cache[key] = make(map[uint64]State)
	}
	r.cache[key][version] = st
	r.mu.Unlock()
	return st, nil
}

func (r *Resolver) schemaPolicy(meta Metadata) (SchemaPolicy, error) {
	st, err := r.state(meta.GovernanceID, meta.GovernanceVersion)
	if err != nil {
		return SchemaPolicy{}, err
	}
	sc, ok := st.SchemaByID(meta.SchemaID)
	if !ok {
		return SchemaPolicy{}, ErrUnknownSchema
	}
	return sc, nil
}

// Schema returns the JSON Schema document governing meta's schema id.
func (r *Resolver) Schema(meta Metadata) (json.RawMessage, error) {
	sc, err := r.schemaPolicy(meta)
	if err != nil {
		return nil, err
	}
	return sc.JSONSchema, nil
}

// InitialState returns the initial state document for meta's schema id.
func (r *Resolver) InitialState(meta Metadata) (json.RawMessage, error) {
	sc, err := r.schemaPolicy(meta)
	if err != nil {
		return nil, err
	}
	return sc.InitialState, nil
}

// ContractRef names the compiled contract governing a schema, keyed by the
// hash the Contract Engine's module cache validates against.
type ContractRef struct {
	SchemaID     string
	ContractHash identity.DigestId
}

// Contracts returns every schema's contract reference for a governance
// version, for the Contract Engine to warm its module cache from.
func (r *Resolver) Contracts(govID identity.DigestId, version uint64) ([]ContractRef, error) {
	st, err := r.state(govID, version)
	if err != nil {
		return nil, err
	}
	refs := make([]ContractRef, 0, len(st.Schemas)+1)
	refs = append(refs, ContractRef{SchemaID: "governance", ContractHash: st.GovernancePolicy.ContractHash})
	for _, sc := range st.Schemas {
		refs = append(refs, ContractRef{SchemaID: sc.SchemaID, ContractHash: sc.ContractHash})
	}
	return refs, nil
}

// signerKeys resolves a RoleWho against the governance's member list.
func signerKeys(st State, who RoleWho) ([]identity.KeyId, error) {
	if who.All {
		keys := make([]identity.KeyId, 0, len(st.Members))
		for _, m := range st.Members {
			keys = append(keys, m.Key)
		}
		return keys, nil
	}
	keys := make([]identity.KeyId, 0, len(who.MemberIDs))
	for _, id := range who.MemberIDs {
		m, ok := st.MemberByID(id)
		if !ok {
			return nil, &UnknownMemberError{MemberID: id}
		}
		keys = append(keys, m.Key)
	}
	return keys, nil
}

// Signers returns the eligible signer set for meta's schema at stage.
func (r *Resolver) Signers(meta Metadata, stage Stage) ([]identity.KeyId, error) {
	st, err := r.state(meta.GovernanceID, meta.GovernanceVersion)
	if err != nil {
		return nil, err
	}
	sc, ok := st.SchemaByID(meta.SchemaID)
	if !ok {
		return nil, ErrUnknownSchema
	}
	role, ok := sc.RoleFor(stage)
	if !ok {
		return nil, ErrNoRole
	}
	return signerKeys(st, role.Who)
}

// Quorum returns the signer-count threshold for meta's schema at stage.
func (r *Resolver) Quorum(meta Metadata, stage Stage) (uint32, error) {
	signers, err := r.Signers(meta, stage)
	if err != nil {
		return 0, err
	}
	st, err := r.state(meta.GovernanceID, meta.GovernanceVersion)
	if err != nil {
		return 0, err
	}
	sc, _ := st.SchemaByID(meta.SchemaID)
	role, _ := sc.RoleFor(stage)
	return role.Quorum.Compute(len(signers)), nil
}

// IsInvokerAllowed reports whether invoker may submit a request under
// meta's schema, and whether the Fact's outcome additionally requires
// approval before validation.
func (r *Resolver) IsInvokerAllowed(meta Metadata, invoker identity.KeyId) (allowed bool, approvalRequired bool, err error) {
	signers, err := r.Signers(meta, StageInvoke)
	if err != nil {
		return false, false, err
	}
	for _, s := range signers {
		if s.Equal(invoker) {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, false, nil
	}
	sc, err := r.schemaPolicy(meta)
	if err != nil {
		return allowed, false, err
	}
	role, ok := sc.RoleFor(StageInvoke)
	if ok {
		approvalRequired = role.ApprovalRequired
	}
	return allowed, approvalRequired, nil
}

// ApprovalRequired reports whether stage's role under meta's schema
// requires an approval round before validation. Used directly for Close
// (EOL), bypassing IsInvokerAllowed's Invoke-stage shortcut, since whether
// an EOL event needs approval is itself governance-policy-controlled
// rather than hard-wired.
func (r *Resolver) ApprovalRequired(meta Metadata, stage Stage) (bool, error) {
	sc, err := r.schemaPolicy(meta)
	if err != nil {
		return false, err
	}
	role, ok := sc.RoleFor(stage)
	if !ok {
		return false, nil
	}
	return role.ApprovalRequired, nil
}

// GovernanceVersion is the recursive fixed point for governance-of-
// governances lookups: a governance subject's own governing version
// bottoms out at its genesis version rather than chasing an infinite
// regress of governing governances.
func GovernanceVersion(genesisGovVersion, governedByVersion uint64, selfGoverned bool) uint64 {
	if selfGoverned {
		return genesisGovVersion
	}
	return governedByVersion
}
