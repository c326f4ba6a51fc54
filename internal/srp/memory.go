package srp

import (
	"context"
	"sort"
	"sync"

	"srphub.org/internal/authz"
)

// InMemory implements Store with in-process concurrency safety. It backs
// tests and the smoke binary; production runs on the pg store.
type InMemory struct {
	mu          sync.RWMutex
	users       map[int64]authz.User
	groups      map[int64]authz.Group
	members     map[int64]map[int64]struct{} // group id -> user ids
	divisions   map[int64]authz.Division
	permissions map[authz.Permission]struct{}
	pilots      map[int64]Pilot
	killmails   map[int64]Killmail
	requests    map[int64]Request
	actions     map[int64]Action
	modifiers   map[int64]Modifier
	nextID      int64
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		users:       make(map[int64]authz.User),
		groups:      make(map[int64]authz.Group),
		members:     make(map[int64]map[int64]struct{}),
		divisions:   make(map[int64]authz.Division),
		permissions: make(map[authz.Permission]struct{}),
		pilots:      make(map[int64]Pilot),
		killmails:   make(map[int64]Killmail),
		requests:    make(map[int64]Request),
		actions:     make(map[int64]Action),
		modifiers:   make(map[int64]Modifier),
	}
}

func (s *InMemory) nextIDLocked() int64 {
	s.nextID++
	return s.nextID
}

// --- Users, groups, divisions ---

// CreateUser registers a user. Names are unique; duplicates wrap ErrConflict.
func (s *InMemory) CreateUser(ctx context.Context, name string) (*authz.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Name == name {
			return nil, ErrConflict
		}
	}
	u := authz.User{ID: s.nextIDLocked(), Name: name}
	s.users[u.ID] = u
	return &u, nil
}

// AddUser is a test convenience wrapper around CreateUser.
func (s *InMemory) AddUser(name string) *authz.User {
	u, err := s.CreateUser(context.Background(), name)
	if err != nil {
		panic(err)
	}
	return u
}

func (s *InMemory) GetUser(ctx context.Context, userID int64) (*authz.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, &NotFoundError{Kind: "user", ID: userID}
	}
	return &u, nil
}

// CreateGroup registers a group. Names are unique; duplicates wrap ErrConflict.
func (s *InMemory) CreateGroup(ctx context.Context, name string) (*authz.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.groups {
		if g.Name == name {
			return nil, ErrConflict
		}
	}
	g := authz.Group{ID: s.nextIDLocked(), Name: name}
	s.groups[g.ID] = g
	s.members[g.ID] = make(map[int64]struct{})
	return &g, nil
}

// AddGroup is a test convenience wrapper around CreateGroup.
func (s *InMemory) AddGroup(name string) *authz.Group {
	g, err := s.CreateGroup(context.Background(), name)
	if err != nil {
		panic(err)
	}
	return g
}

func (s *InMemory) GetGroup(ctx context.Context, groupID int64) (*authz.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[groupID]
	if !ok {
		return nil, &NotFoundError{Kind: "group", ID: groupID}
	}
	return &g, nil
}

// AddGroupMember adds the user to the group.
func (s *InMemory) AddGroupMember(ctx context.Context, userID, groupID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.members[groupID]
	if !ok {
		return &NotFoundError{Kind: "group", ID: groupID}
	}
	if _, ok := s.users[userID]; !ok {
		return &NotFoundError{Kind: "user", ID: userID}
	}
	members[userID] = struct{}{}
	return nil
}

// AssociateUserGroup is a test convenience wrapper around AddGroupMember.
func (s *InMemory) AssociateUserGroup(userID, groupID int64) error {
	return s.AddGroupMember(context.Background(), userID, groupID)
}

func (s *InMemory) GetGroups(ctx context.Context, userID int64) ([]*authz.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var groups []*authz.Group
	for groupID, members := range s.members {
		if _, ok := members[userID]; ok {
			g := s.groups[groupID]
			groups = append(groups, &g)
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups, nil
}

// CreateDivision registers a division. Names are unique; duplicates wrap
// ErrConflict.
func (s *InMemory) CreateDivision(ctx context.Context, name string) (*authz.Division, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.divisions {
		if d.Name == name {
			return nil, ErrConflict
		}
	}
	d := authz.Division{ID: s.nextIDLocked(), Name: name}
	s.divisions[d.ID] = d
	return &d, nil
}

// AddDivision is a test convenience wrapper around CreateDivision.
func (s *InMemory) AddDivision(name string) *authz.Division {
	d, err := s.CreateDivision(context.Background(), name)
	if err != nil {
		panic(err)
	}
	return d
}

func (s *InMemory) GetDivision(ctx context.Context, divisionID int64) (*authz.Division, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.divisions[divisionID]
	if !ok {
		return nil, &NotFoundError{Kind: "division", ID: divisionID}
	}
	return &d, nil
}

func (s *InMemory) GetDivisions(ctx context.Context, divisionIDs []int64) ([]*authz.Division, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var divisions []*authz.Division
	for _, id := range divisionIDs {
		if d, ok := s.divisions[id]; ok {
			divisions = append(divisions, &d)
		}
	}
	sort.Slice(divisions, func(i, j int) bool { return divisions[i].ID < divisions[j].ID })
	return divisions, nil
}

func (s *InMemory) ListDivisions(ctx context.Context) ([]*authz.Division, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	divisions := make([]*authz.Division, 0, len(s.divisions))
	for _, d := range s.divisions {
		d := d
		divisions = append(divisions, &d)
	}
	sort.Slice(divisions, func(i, j int) bool { return divisions[i].ID < divisions[j].ID })
	return divisions, nil
}

// --- Permissions ---

func (s *InMemory) AddPermission(ctx context.Context, p authz.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.permissions[p]; ok {
		return ErrConflict
	}
	s.permissions[p] = struct{}{}
	return nil
}

func (s *InMemory) RemovePermission(ctx context.Context, p authz.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.permissions[p]; !ok {
		return &NotFoundError{Kind: "permission", ID: p.EntityID}
	}
	delete(s.permissions, p)
	return nil
}

func (s *InMemory) GetPermissions(ctx context.Context, filter authz.PermissionFilter) ([]authz.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var perms []authz.Permission
	for p := range s.permissions {
		if filter.EntityID != nil && p.EntityID != *filter.EntityID {
			continue
		}
		if filter.DivisionID != nil && p.DivisionID != *filter.DivisionID {
			continue
		}
		if filter.Type != nil && p.Type != *filter.Type {
			continue
		}
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool {
		if perms[i].EntityID != perms[j].EntityID {
			return perms[i].EntityID < perms[j].EntityID
		}
		if perms[i].DivisionID != perms[j].DivisionID {
			return perms[i].DivisionID < perms[j].DivisionID
		}
		return perms[i].Type < perms[j].Type
	})
	return perms, nil
}

// --- Pilots and killmails ---

func (s *InMemory) CreatePilot(ctx context.Context, p *Pilot) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[p.UserID]; !ok {
		return 0, &NotFoundError{Kind: "user", ID: p.UserID}
	}
	id := s.nextIDLocked()
	stored := *p
	stored.ID = id
	s.pilots[id] = stored
	return id, nil
}

// AddPilot is a test convenience wrapper around CreatePilot.
func (s *InMemory) AddPilot(p Pilot) *Pilot {
	id, err := s.CreatePilot(context.Background(), &p)
	if err != nil {
		panic(err)
	}
	p.ID = id
	return &p
}

func (s *InMemory) GetPilot(ctx context.Context, pilotID int64) (*Pilot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pilots[pilotID]
	if !ok {
		return nil, &NotFoundError{Kind: "pilot", ID: pilotID}
	}
	return &p, nil
}

func (s *InMemory) CreateKillmail(ctx context.Context, k *Killmail) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[k.UserID]; !ok {
		return 0, &NotFoundError{Kind: "user", ID: k.UserID}
	}
	id := s.nextIDLocked()
	stored := *k
	stored.ID = id
	s.killmails[id] = stored
	return id, nil
}

// AddKillmail is a test convenience wrapper around CreateKillmail.
func (s *InMemory) AddKillmail(k Killmail) *Killmail {
	id, err := s.CreateKillmail(context.Background(), &k)
	if err != nil {
		panic(err)
	}
	k.ID = id
	return &k
}

func (s *InMemory) GetKillmail(ctx context.Context, killmailID int64) (*Killmail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.killmails[killmailID]
	if !ok {
		return nil, &NotFoundError{Kind: "killmail", ID: killmailID}
	}
	return &k, nil
}

// --- Requests ---

func (s *InMemory) GetRequest(ctx context.Context, requestID int64) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[requestID]
	if !ok {
		return nil, &NotFoundError{Kind: "request", ID: requestID}
	}
	return &r, nil
}

// ListRequests returns requests matching the filter, newest first.
func (s *InMemory) ListRequests(ctx context.Context, filter RequestFilter) ([]*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var requests []*Request
	for _, r := range s.requests {
		if !filter.Match(&r) {
			continue
		}
		if filter.SubmitterID != nil {
			k, ok := s.killmails[r.KillmailID]
			if !ok || k.UserID != *filter.SubmitterID {
				continue
			}
		}
		r := r
		requests = append(requests, &r)
	}
	sort.Slice(requests, func(i, j int) bool { return requests[i].ID > requests[j].ID })
	return requests, nil
}

func (s *InMemory) AddRequest(ctx context.Context, r *Request) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.killmails[r.KillmailID]; !ok {
		return 0, &NotFoundError{Kind: "killmail", ID: r.KillmailID}
	}
	if _, ok := s.divisions[r.DivisionID]; !ok {
		return 0, &NotFoundError{Kind: "division", ID: r.DivisionID}
	}
	id := s.nextIDLocked()
	stored := *r
	stored.ID = id
	s.requests[id] = stored
	return id, nil
}

func (s *InMemory) SaveRequest(ctx context.Context, r *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[r.ID]; !ok {
		return &NotFoundError{Kind: "request", ID: r.ID}
	}
	s.requests[r.ID] = *r
	return nil
}

// --- Actions ---

func (s *InMemory) GetActions(ctx context.Context, requestID int64) ([]*Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var actions []*Action
	for _, a := range s.actions {
		if a.RequestID == requestID {
			a := a
			actions = append(actions, &a)
		}
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i].ID < actions[j].ID })
	return actions, nil
}

func (s *InMemory) AddAction(ctx context.Context, a *Action) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[a.RequestID]; !ok {
		return 0, &NotFoundError{Kind: "request", ID: a.RequestID}
	}
	id := s.nextIDLocked()
	stored := *a
	stored.ID = id
	s.actions[id] = stored
	return id, nil
}

// --- Modifiers ---

func (s *InMemory) GetModifier(ctx context.Context, modifierID int64) (*Modifier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.modifiers[modifierID]
	if !ok {
		return nil, &NotFoundError{Kind: "modifier", ID: modifierID}
	}
	return &m, nil
}

func (s *InMemory) GetModifiers(ctx context.Context, requestID int64, filter ModifierFilter) ([]*Modifier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var modifiers []*Modifier
	for _, m := range s.modifiers {
		if m.RequestID != requestID {
			continue
		}
		m := m
		if !filter.Match(&m) {
			continue
		}
		modifiers = append(modifiers, &m)
	}
	sort.Slice(modifiers, func(i, j int) bool { return modifiers[i].ID < modifiers[j].ID })
	return modifiers, nil
}

func (s *InMemory) AddModifier(ctx context.Context, m *Modifier) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[m.RequestID]; !ok {
		return 0, &NotFoundError{Kind: "request", ID: m.RequestID}
	}
	id := s.nextIDLocked()
	stored := *m
	stored.ID = id
	s.modifiers[id] = stored
	return id, nil
}

func (s *InMemory) SaveModifier(ctx context.Context, m *Modifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.modifiers[m.ID]; !ok {
		return &NotFoundError{Kind: "modifier", ID: m.ID}
	}
	s.modifiers[m.ID] = *m
	return nil
}
