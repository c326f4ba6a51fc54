package authz

import (
	"context"
	"sort"
	"testing"
)

type fakeStore struct {
	groups      map[int64][]*Group
	permissions []Permission
}

func (s *fakeStore) GetGroups(ctx context.Context, userID int64) ([]*Group, error) {
	return s.groups[userID], nil
}

func (s *fakeStore) GetPermissions(ctx context.Context, filter PermissionFilter) ([]Permission, error) {
	var matched []Permission
	for _, p := range s.permissions {
		if filter.EntityID != nil && p.EntityID != *filter.EntityID {
			continue
		}
		if filter.DivisionID != nil && p.DivisionID != *filter.DivisionID {
			continue
		}
		if filter.Type != nil && p.Type != *filter.Type {
			continue
		}
		matched = append(matched, p)
	}
	return matched, nil
}

func TestUserGetPermissionsUnionsGroups(t *testing.T) {
	user := &User{ID: 1, Name: "member"}
	group := &Group{ID: 10, Name: "reviewers"}
	store := &fakeStore{
		groups: map[int64][]*Group{user.ID: {group}},
		permissions: []Permission{
			{DivisionID: 100, EntityID: user.ID, Type: PermSubmit},
			{DivisionID: 100, EntityID: group.ID, Type: PermReview},
			{DivisionID: 200, EntityID: group.ID, Type: PermReview},
			// Grant for an unrelated entity must not leak in.
			{DivisionID: 100, EntityID: 99, Type: PermAdmin},
		},
	}

	grants, err := user.GetPermissions(context.Background(), store)
	if err != nil {
		t.Fatal(err)
	}
	want := []Grant{
		{DivisionID: 100, Type: PermSubmit},
		{DivisionID: 100, Type: PermReview},
		{DivisionID: 200, Type: PermReview},
	}
	if len(grants) != len(want) {
		t.Fatalf("grants = %v, want %d entries", grants, len(want))
	}
	for _, g := range want {
		if _, ok := grants[g]; !ok {
			t.Errorf("missing grant %+v", g)
		}
	}
}

func TestGrantSetHas(t *testing.T) {
	grants := GrantSet{
		{DivisionID: 100, Type: PermReview}: {},
		{DivisionID: 200, Type: PermPay}:    {},
	}
	if !grants.Has(100, PermReview) {
		t.Error("expected review grant in division 100")
	}
	if !grants.Has(100, PermPay, PermReview) {
		t.Error("Has should accept any of the listed types")
	}
	if grants.Has(100, PermPay) {
		t.Error("pay grant reported in wrong division")
	}
	if grants.Has(300, PermReview) {
		t.Error("grant reported in unknown division")
	}
}

func TestGrantSetDivisions(t *testing.T) {
	grants := GrantSet{
		{DivisionID: 300, Type: PermSubmit}: {},
		{DivisionID: 100, Type: PermSubmit}: {},
		{DivisionID: 100, Type: PermAudit}:  {},
	}
	ids := grants.Divisions(PermSubmit)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) != 2 || ids[0] != 100 || ids[1] != 300 {
		t.Fatalf("submit divisions = %v, want [100 300]", ids)
	}
}

func TestPermissionTypeClassification(t *testing.T) {
	for _, p := range []PermissionType{PermSubmit, PermReview, PermPay, PermAdmin, PermAudit} {
		if !p.Valid() {
			t.Errorf("%s should be valid", p)
		}
	}
	if PermissionType("owner").Valid() {
		t.Error("unknown type reported valid")
	}
	for p, want := range map[PermissionType]bool{
		PermSubmit: false,
		PermReview: true,
		PermPay:    true,
		PermAdmin:  true,
		PermAudit:  false,
	} {
		if p.Elevated() != want {
			t.Errorf("%s elevated = %v, want %v", p, p.Elevated(), want)
		}
	}
}
