package ledger

import (
	"encoding/json"

	"kore/governance"
	"kore/identity"
)

// ErrGovernanceVersionUnavailable is returned by GovernanceSource when the
// requested version is older than the governance subject's current head.
// The ledger only retains each subject's current materialized state plus
// its forward event log, not a full history of past properties snapshots
// — see DESIGN.md's "governance state history" decision.
var ErrGovernanceVersionUnavailable = errGovernanceVersionUnavailable{}

type errGovernanceVersionUnavailable struct{}

func (errGovernanceVersionUnavailable) Error() string {
	return "ledger: requested governance version predates the retained head; only the current version is resolvable"
}

// GovernanceSource implements governance.StateSource by reading the
// governance subject's own current committed properties: a governance
// subject is a Subject like any other, so its properties document,
// decoded as a governance.State, is exactly the resolver's committed
// state at that subject's current sn.
type GovernanceSource struct {
	ledger *Ledger
}

// NewGovernanceSource constructs a GovernanceSource over l.
func NewGovernanceSource(l *Ledger) *GovernanceSource {
	return &GovernanceSource{ledger: l}
}

// GovernanceState implements governance.StateSource.
func (s *GovernanceSource) GovernanceState(govID identity.DigestId, version uint64) (governance.State, error) {
	current, err := s.ledger.Subject(govID)
	if err != nil {
		return governance.State{}, err
	}
	if version < current.SN {
		return governance.State{}, ErrGovernanceVersionUnavailable
	}

	var st governance.State
	if err := json.Unmarshal(current.Properties, &st); err != nil {
		return governance.State{}, err
	}
	return st, nil
}
