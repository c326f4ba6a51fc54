package srp

import (
	"context"

	"srphub.org/internal/authz"
)

// ModifierFilter narrows GetModifiers results. Nil fields match everything.
type ModifierFilter struct {
	Void *bool
	Type *ModifierType
}

// Match reports whether the modifier passes the filter.
func (f ModifierFilter) Match(m *Modifier) bool {
	if f.Void != nil && m.Void() != *f.Void {
		return false
	}
	if f.Type != nil && m.Type != *f.Type {
		return false
	}
	return true
}

// RequestFilter narrows ListRequests results. Nil fields match everything.
// SubmitterID selects requests whose loss event belongs to that user; it
// needs a killmail lookup, so implementations resolve it themselves rather
// than through Match.
type RequestFilter struct {
	DivisionID  *int64
	Status      *ActionType
	SubmitterID *int64
}

// Match reports whether the request passes the division and status parts of
// the filter.
func (f RequestFilter) Match(r *Request) bool {
	if f.DivisionID != nil && r.DivisionID != *f.DivisionID {
		return false
	}
	if f.Status != nil && r.Status != *f.Status {
		return false
	}
	return true
}

// Store is the persistence abstraction the engine runs against. Each
// activity call corresponds to one store transaction; the store is
// responsible for isolating the permission check, the status check and the
// resulting write from concurrent conflicting writes on the same request.
// Lookup failures are reported as *NotFoundError, uniqueness violations wrap
// ErrConflict.
type Store interface {
	authz.Store

	CreateUser(ctx context.Context, name string) (*authz.User, error)
	GetUser(ctx context.Context, userID int64) (*authz.User, error)
	CreateGroup(ctx context.Context, name string) (*authz.Group, error)
	GetGroup(ctx context.Context, groupID int64) (*authz.Group, error)
	AddGroupMember(ctx context.Context, userID, groupID int64) error

	CreateDivision(ctx context.Context, name string) (*authz.Division, error)
	GetDivision(ctx context.Context, divisionID int64) (*authz.Division, error)
	GetDivisions(ctx context.Context, divisionIDs []int64) ([]*authz.Division, error)
	ListDivisions(ctx context.Context) ([]*authz.Division, error)
	AddPermission(ctx context.Context, p authz.Permission) error
	RemovePermission(ctx context.Context, p authz.Permission) error

	CreatePilot(ctx context.Context, p *Pilot) (int64, error)
	GetPilot(ctx context.Context, pilotID int64) (*Pilot, error)
	CreateKillmail(ctx context.Context, k *Killmail) (int64, error)
	GetKillmail(ctx context.Context, killmailID int64) (*Killmail, error)

	GetRequest(ctx context.Context, requestID int64) (*Request, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]*Request, error)
	AddRequest(ctx context.Context, r *Request) (int64, error)
	SaveRequest(ctx context.Context, r *Request) error

	GetActions(ctx context.Context, requestID int64) ([]*Action, error)
	AddAction(ctx context.Context, a *Action) (int64, error)

	GetModifier(ctx context.Context, modifierID int64) (*Modifier, error)
	GetModifiers(ctx context.Context, requestID int64, filter ModifierFilter) ([]*Modifier, error)
	AddModifier(ctx context.Context, m *Modifier) (int64, error)
	SaveModifier(ctx context.Context, m *Modifier) error
}

// TxStore is implemented by stores that can scope several operations to a
// single transaction.
type TxStore interface {
	Store
	Atomic(ctx context.Context, fn func(Store) error) error
}
