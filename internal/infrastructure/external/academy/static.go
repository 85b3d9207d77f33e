package academy

import (
	"context"

	"github.com/dojo-hub/progression-engine/internal/domain/progression"
)

// StaticAuthorizer allows a fixed set of grantors. "*" allows everyone.
type StaticAuthorizer struct {
	any      bool
	grantors map[string]struct{}
}

var _ progression.Authorizer = (*StaticAuthorizer)(nil)

// NewStaticAuthorizer creates an authorizer from configured grantor IDs.
func NewStaticAuthorizer(grantorIDs []string) *StaticAuthorizer {
	a := &StaticAuthorizer{grantors: make(map[string]struct{}, len(grantorIDs))}
	for _, id := range grantorIDs {
		if id == "*" {
			a.any = true
			continue
		}
		if id != "" {
			a.grantors[id] = struct{}{}
		}
	}
	return a
}

// CanGrantPromotion implements progression.Authorizer.
func (a *StaticAuthorizer) CanGrantPromotion(_ context.Context, actorID, _ string) (bool, error) {
	if actorID == "" {
		return false, nil
	}
	if a.any {
		return true, nil
	}
	_, ok := a.grantors[actorID]
	return ok, nil
}
