package governance

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// ApplyPatch implements the governance-as-subject bootstrap contract: the
// reserved schema id "governance" accepts a JSON-patch fact and applies it
// to the governance state, then validates the structural invariants below.
// A violation makes the contract return success=false without mutating
// state — this is a committable outcome of the Evaluating stage, not a
// pipeline error, mirroring how any other schema's contract trap is
// handled.
func ApplyPatch(current State, patch json.RawMessage) (next State, success bool, err error) {
	currentJSON, err := json.Marshal(current)
	if err != nil {
		return State{}, false, err
	}

	decoded, err := jsonpatch.DecodePatch(patch)
	if err != nil {
		return current, false, nil
	}
	patchedJSON, err := decoded.Apply(currentJSON)
	if err != nil {
		return current, false, nil
	}

	var patched State
	if err := json.Unmarshal(patchedJSON, &patched); err != nil {
		return current, false, nil
	}

	if err := validateState(patched); err != nil {
		return current, false, nil
	}
	return patched, true, nil
}

// validateState checks the structural invariants required of a committed
// governance state.
func validateState(st State) error {
	seenID := make(map[string]bool, len(st.Members))
	seenName := make(map[string]bool, len(st.Members))
	for _, m := range st.Members {
		if seenID[m.ID] {
			return fmt.Errorf("%w: duplicate member id %q", ErrInvalidState, m.ID)
		}
		if seenName[m.Name] {
			return fmt.Errorf("%w: duplicate member name %q", ErrInvalidState, m.Name)
		}
		seenID[m.ID] = true
		seenName[m.Name] = true
	}

	validateRoles := func(schemaID string, roles []Role) error {
		if len(roles) == 0 {
			return fmt.Errorf("%w: schema %q declares no policy", ErrInvalidState, schemaID)
		}
		for _, role := range roles {
			if role.Who.All {
				continue
			}
			for _, id := range role.Who.MemberIDs {
				if !seenID[id] {
					return fmt.Errorf("%w: %v", ErrInvalidState, &UnknownMemberError{MemberID: id})
				}
			}
		}
		return nil
	}

	for _, sc := range st.Schemas {
		if sc.SchemaID == "governance" {
			return fmt.Errorf("%w: schema uses reserved id \"governance\"", ErrInvalidState)
		}
		if err := validateRoles(sc.SchemaID, sc.Roles); err != nil {
			return err
		}
	}
	if len(st.GovernancePolicy.Roles) == 0 {
		return fmt.Errorf("%w: no \"governance\" policy entry present", ErrInvalidState)
	}
	if err := validateRoles("governance", st.GovernancePolicy.Roles); err != nil {
		return err
	}
	return nil
}
