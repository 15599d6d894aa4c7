// Package governance implements the node's Governance Resolver: it turns a
// versioned governance subject's JSON state into the signer sets and
// quorum thresholds the event pipeline consults at every stage.
package governance

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"kore/identity"
)

// Stage identifies a point in the event lifecycle that a governance policy
// can independently gate.
type Stage string

const (
	// StageCreate gates who may submit a Create request under a schema.
	StageCreate Stage = "create"
	// StageEvaluate selects the evaluator set that runs a schema's contract.
	StageEvaluate Stage = "evaluate"
	// StageApprove selects the approver set consulted when a Fact's
	// contract result requests approval.
	StageApprove Stage = "approve"
	// StageValidate selects the validator set whose signatures form the
	// validation proof committed with an event.
	StageValidate Stage = "validate"
	// StageWitness selects the distribution targets events are pushed to
	// after commit, independent of who validated them.
	StageWitness Stage = "witness"
	// StageClose gates EOL requests and determines whether they require
	// approval.
	StageClose Stage = "close"
	// StageInvoke gates who may submit a Fact or Transfer request at all.
	StageInvoke Stage = "invoke"
)

// Valid reports whether s is one of the seven recognized stages.
func (s Stage) Valid() bool {
	switch s {
	case StageCreate, StageEvaluate, StageApprove, StageValidate, StageWitness, StageClose, StageInvoke:
		return true
	default:
		return false
	}
}

// QuorumKind tags which formula a QuorumPolicy computes.
type QuorumKind uint8

const (
	// QuorumMajority requires ⌈n/2⌉+1 signers.
	QuorumMajority QuorumKind = iota
	// QuorumFixed requires exactly K signers regardless of set size.
	QuorumFixed
	// QuorumPercentage requires ⌈f·n⌉ signers.
	QuorumPercentage
	// QuorumBFT requires ⌈f·(n−1)⌉+1 signers; f should be ≥ 2/3.
	QuorumBFT
)

// QuorumPolicy is the threshold rule a Role names for its stage. Exactly
// one of K or Fraction is meaningful, selected by Kind.
type QuorumPolicy struct {
	Kind     QuorumKind `json:"kind"`
	K        uint32     `json:"k,omitempty"`
	Fraction float64    `json:"fraction,omitempty"`
}

// Majority returns the Majority quorum policy.
func Majority() QuorumPolicy { return QuorumPolicy{Kind: QuorumMajority} }

// Fixed returns a Fixed(k) quorum policy.
func Fixed(k uint32) QuorumPolicy { return QuorumPolicy{Kind: QuorumFixed, K: k} }

// Percentage returns a Percentage(f) quorum policy.
func Percentage(f float64) QuorumPolicy { return QuorumPolicy{Kind: QuorumPercentage, Fraction: f} }

// BFT returns a BFT(f) quorum policy.
func BFT(f float64) QuorumPolicy { return QuorumPolicy{Kind: QuorumBFT, Fraction: f} }

// Compute evaluates the policy against a signer-set size n.
func (p QuorumPolicy) Compute(n int) uint32 {
	switch p.Kind {
	case QuorumMajority:
		return uint32((n+1)/2) + 1
	case QuorumFixed:
		return p.K
	case QuorumPercentage:
		return uint32(math.Ceil(p.Fraction * float64(n)))
	case QuorumBFT:
		return uint32(math.Ceil(p.Fraction*float64(n-1))) + 1
	default:
		return uint32(n) + 1
	}
}

// Member is a named participant in a governance, identified by public key.
type Member struct {
	ID   string        `json:"id"`
	Name string        `json:"name"`
	Key  identity.KeyId `json:"key"`
}

// RoleWho names the signer set a Role grants: either every member, or an
// explicit list of member ids.
type RoleWho struct {
	All       bool     `json:"all,omitempty"`
	MemberIDs []string `json:"member_ids,omitempty"`
}

// Role binds a stage, within one schema, to a signer set and quorum rule.
// ApprovalRequired is read on the Close role to decide whether an EOL
// request needs an approval round, and is what IsInvokerAllowed reports
// for the Invoke role. Whether a Fact needs approval comes from its
// contract result, not from this flag.
type Role struct {
	Stage            Stage        `json:"stage"`
	Who              RoleWho      `json:"who"`
	Quorum           QuorumPolicy `json:"quorum"`
	ApprovalRequired bool         `json:"approval_required,omitempty"`
}

// SchemaPolicy is the set of roles and contract reference governing one
// schema id within a governance.
type SchemaPolicy struct {
	SchemaID     string          `json:"schema_id"`
	InitialState json.RawMessage `json:"initial_state"`
	JSONSchema   json.RawMessage `json:"json_schema"`
	ContractHash identity.DigestId `json:"contract_hash"`
	Roles        []Role          `json:"roles"`
}

// RoleFor returns the policy's role for stage, if declared.
func (p SchemaPolicy) RoleFor(stage Stage) (Role, bool) {
	for _, r := range p.Roles {
		if r.Stage == stage {
			return r, true
		}
	}
	return Role{}, false
}

// State is the full committed JSON state of a governance subject: its
// members, the per-schema policies it governs, and the reserved policy
// governing the governance subject itself. GovernancePolicy is kept out of
// Schemas because user schemas are forbidden from using the reserved name
// "governance"; its roles are consulted under the same reserved schema id
// when Metadata.SchemaID == "governance".
type State struct {
	Members          []Member       `json:"members"`
	Schemas          []SchemaPolicy `json:"schemas"`
	GovernancePolicy SchemaPolicy   `json:"governance_policy"`
}

// SchemaByID returns the named schema policy, if present. The reserved id
// "governance" resolves to State.GovernancePolicy rather than the Schemas
// list.
func (s State) SchemaByID(id string) (SchemaPolicy, bool) {
	if id == "governance" {
		if len(s.GovernancePolicy.Roles) == 0 {
			return SchemaPolicy{}, false
		}
		return s.GovernancePolicy, true
	}
	for _, sc := range s.Schemas {
		if sc.SchemaID == id {
			return sc, true
		}
	}
	return SchemaPolicy{}, false
}

// MemberByID returns the named member, if present.
func (s State) MemberByID(id string) (Member, bool) {
	for _, m := range s.Members {
		if m.ID == id {
			return m, true
		}
	}
	return Member{}, false
}

// MemberByName returns the member with the given display name, if present.
func (s State) MemberByName(name string) (Member, bool) {
	for _, m := range s.Members {
		if m.Name == name {
			return m, true
		}
	}
	return Member{}, false
}

// Metadata identifies the governance, version, and schema a resolver query
// is scoped to, plus the namespace of the subject in question.
type Metadata struct {
	GovernanceID    identity.DigestId
	GovernanceVersion uint64
	SchemaID        string
	Namespace       string
}

var (
	// ErrUnknownGovernance is returned when the StateSource has no state
	// for the requested governance id.
	ErrUnknownGovernance = errors.New("governance: unknown governance id")
	// ErrUnknownSchema is returned when the governance state has no entry
	// for the requested schema id.
	ErrUnknownSchema = errors.New("governance: unknown schema id")
	// ErrNoRole is returned when a schema declares no role for a stage.
	ErrNoRole = errors.New("governance: no role declared for stage")
	// ErrInvalidState is returned by the bootstrap contract when a patch
	// would violate a structural invariant of the governance state.
	ErrInvalidState = errors.New("governance: invalid governance state")
)

// UnknownMemberError reports a Role.who.id with no matching member.
type UnknownMemberError struct {
	MemberID string
}

func (e *UnknownMemberError) Error() string {
	return fmt.Sprintf("governance: role references unknown member id %q", e.MemberID)
}
