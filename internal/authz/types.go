package authz

import "context"

// PermissionType is a capability that can be granted to an entity within a
// division.
type PermissionType string

const (
	PermSubmit PermissionType = "submit"
	PermReview PermissionType = "review"
	PermPay    PermissionType = "pay"
	PermAdmin  PermissionType = "admin"
	PermAudit  PermissionType = "audit"
)

// Valid reports whether t is one of the known permission types.
func (t PermissionType) Valid() bool {
	switch t {
	case PermSubmit, PermReview, PermPay, PermAdmin, PermAudit:
		return true
	}
	return false
}

// Elevated reports whether t grants review-or-better access to a division.
// Elevated holders can act on requests they did not submit.
func (t PermissionType) Elevated() bool {
	switch t {
	case PermReview, PermPay, PermAdmin:
		return true
	}
	return false
}

// Division is a named organizational unit. Permissions and requests are
// always scoped to exactly one division.
type Division struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// User is a human account. Users inherit permissions from the groups they
// belong to in addition to their direct grants.
type User struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Group is a collection of users that can be granted permissions as a unit.
type Group struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Entity is the subject of a permission grant: a User or a Group. Two
// entities are equal only when both their ids and their concrete kinds match,
// which the distinct User/Group types enforce at compile time.
type Entity interface {
	EntityID() int64
	EntityName() string
	GetPermissions(ctx context.Context, store Store) (GrantSet, error)
}

func (u *User) EntityID() int64     { return u.ID }
func (u *User) EntityName() string  { return u.Name }
func (g *Group) EntityID() int64    { return g.ID }
func (g *Group) EntityName() string { return g.Name }

// Permission is an immutable grant of one capability to one entity within
// one division. The triple is unique; stores must reject duplicate grants.
type Permission struct {
	DivisionID int64          `json:"division_id"`
	EntityID   int64          `json:"entity_id"`
	Type       PermissionType `json:"type"`
}

// Grant is the division-scoped part of a permission, the unit membership
// tests operate on.
type Grant struct {
	DivisionID int64
	Type       PermissionType
}

// GrantSet is a set of grants resolved for one entity.
type GrantSet map[Grant]struct{}

// Has reports whether the set holds any of the given types scoped to the
// division.
func (s GrantSet) Has(divisionID int64, types ...PermissionType) bool {
	for _, t := range types {
		if _, ok := s[Grant{DivisionID: divisionID, Type: t}]; ok {
			return true
		}
	}
	return false
}

// Divisions returns the ids of every division in which the set holds the
// given type.
func (s GrantSet) Divisions(t PermissionType) []int64 {
	var ids []int64
	for g := range s {
		if g.Type == t {
			ids = append(ids, g.DivisionID)
		}
	}
	return ids
}

// PermissionFilter narrows GetPermissions results. Nil fields match
// everything.
type PermissionFilter struct {
	EntityID   *int64
	DivisionID *int64
	Type       *PermissionType
}

// Store describes the persistence operations permission resolution depends
// on. The full engine store embeds it.
type Store interface {
	GetGroups(ctx context.Context, userID int64) ([]*Group, error)
	GetPermissions(ctx context.Context, filter PermissionFilter) ([]Permission, error)
}

// GetPermissions returns the grants made directly to the group.
func (g *Group) GetPermissions(ctx context.Context, store Store) (GrantSet, error) {
	return directGrants(ctx, store, g.ID)
}

// GetPermissions returns the union of the user's direct grants and the
// grants of every group the user belongs to. The union is re-derived from
// the store on every call; group membership can change between calls.
func (u *User) GetPermissions(ctx context.Context, store Store) (GrantSet, error) {
	grants, err := directGrants(ctx, store, u.ID)
	if err != nil {
		return nil, err
	}
	groups, err := store.GetGroups(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	for _, group := range groups {
		groupGrants, err := directGrants(ctx, store, group.ID)
		if err != nil {
			return nil, err
		}
		for g := range groupGrants {
			grants[g] = struct{}{}
		}
	}
	return grants, nil
}

func directGrants(ctx context.Context, store Store, entityID int64) (GrantSet, error) {
	perms, err := store.GetPermissions(ctx, PermissionFilter{EntityID: &entityID})
	if err != nil {
		return nil, err
	}
	grants := make(GrantSet, len(perms))
	for _, p := range perms {
		grants[Grant{DivisionID: p.DivisionID, Type: p.Type}] = struct{}{}
	}
	return grants, nil
}
