package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"srphub.org/internal/audit"
	"srphub.org/internal/authz"
	"srphub.org/internal/srp"
)

var errInvalidPermission = errors.New("invalid permission payload")

type createNamedBody struct {
	Name string `json:"name"`
}

type createUserBody struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type groupMemberBody struct {
	UserID int64 `json:"user_id"`
}

type permissionBody struct {
	EntityID int64  `json:"entity_id"`
	Type     string `json:"type"`
}

func (a *API) handleDivisionsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listDivisions(w, r)
	case http.MethodPost:
		a.createDivision(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleDivisionResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/divisions/")
	id, rest, ok := splitResourcePath(path)
	if !ok || rest != "permissions" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.listPermissions(w, r, id)
	case http.MethodPost:
		a.grantPermission(w, r, id)
	case http.MethodDelete:
		a.revokePermission(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := a.requireSiteAdmin(r); err != nil {
		handleDomainError(w, r, err)
		return
	}

	var req createUserBody
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return
	}

	user, err := a.store.CreateUser(r.Context(), strings.TrimSpace(req.Name))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if req.Password != "" && a.accounts != nil {
		if err := a.accounts.Register(user.Name, user.ID, req.Password); err != nil {
			writeError(w, r, http.StatusInternalServerError, "account registration failed")
			return
		}
	}

	audit.LogEvent(r.Context(), "admin.user_create", map[string]any{
		"created_user_id": user.ID,
		"name":            user.Name,
	})
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleAdminGroups(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := a.requireSiteAdmin(r); err != nil {
		handleDomainError(w, r, err)
		return
	}

	var req createNamedBody
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return
	}

	group, err := a.store.CreateGroup(r.Context(), strings.TrimSpace(req.Name))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	audit.LogEvent(r.Context(), "admin.group_create", map[string]any{
		"group_id": group.ID,
		"name":     group.Name,
	})
	writeJSON(w, http.StatusCreated, group)
}

func (a *API) handleAdminGroupMembers(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/admin/groups/")
	id, rest, ok := splitResourcePath(path)
	if !ok || rest != "members" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := a.requireSiteAdmin(r); err != nil {
		handleDomainError(w, r, err)
		return
	}

	var req groupMemberBody
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.UserID <= 0 {
		writeError(w, r, http.StatusBadRequest, "user_id is required")
		return
	}

	if err := a.store.AddGroupMember(r.Context(), req.UserID, id); err != nil {
		handleDomainError(w, r, err)
		return
	}

	audit.LogEvent(r.Context(), "admin.group_member_add", map[string]any{
		"group_id":       id,
		"member_user_id": req.UserID,
	})
	writeJSON(w, http.StatusCreated, map[string]any{"status": "added"})
}

// listDivisions returns the divisions the caller can submit requests to. A
// site admin can pass all=true to see every division.
func (a *API) listDivisions(w http.ResponseWriter, r *http.Request) {
	user, err := a.currentUser(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	var divisions []*authz.Division
	if r.URL.Query().Get("all") == "true" {
		if err := a.requireSiteAdmin(r); err != nil {
			handleDomainError(w, r, err)
			return
		}
		divisions, err = a.store.ListDivisions(r.Context())
	} else {
		activity := srp.NewSubmissionActivity(a.store, user)
		divisions, err = activity.ListDivisions(r.Context())
	}
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if divisions == nil {
		divisions = []*authz.Division{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": divisions})
}

func (a *API) createDivision(w http.ResponseWriter, r *http.Request) {
	if err := a.requireSiteAdmin(r); err != nil {
		handleDomainError(w, r, err)
		return
	}

	var req createNamedBody
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return
	}

	division, err := a.store.CreateDivision(r.Context(), strings.TrimSpace(req.Name))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	audit.LogEvent(r.Context(), "admin.division_create", map[string]any{
		"division_id": division.ID,
		"name":        division.Name,
	})
	writeJSON(w, http.StatusCreated, division)
}

func (a *API) listPermissions(w http.ResponseWriter, r *http.Request, divisionID int64) {
	if err := a.requireDivisionAdmin(r, divisionID, authz.PermAdmin, authz.PermAudit); err != nil {
		handleDomainError(w, r, err)
		return
	}

	perms, err := a.store.GetPermissions(r.Context(), authz.PermissionFilter{DivisionID: &divisionID})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if perms == nil {
		perms = []authz.Permission{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": perms})
}

func (a *API) grantPermission(w http.ResponseWriter, r *http.Request, divisionID int64) {
	perm, err := a.decodePermission(w, r, divisionID)
	if err != nil {
		return
	}
	if err := a.requireDivisionAdmin(r, divisionID, authz.PermAdmin); err != nil {
		handleDomainError(w, r, err)
		return
	}

	if _, err := a.store.GetDivision(r.Context(), divisionID); err != nil {
		handleDomainError(w, r, err)
		return
	}
	if err := a.store.AddPermission(r.Context(), perm); err != nil {
		handleDomainError(w, r, err)
		return
	}

	audit.LogEvent(r.Context(), "admin.permission_grant", map[string]any{
		"division_id": divisionID,
		"entity_id":   perm.EntityID,
		"type":        string(perm.Type),
	})
	writeJSON(w, http.StatusCreated, perm)
}

func (a *API) revokePermission(w http.ResponseWriter, r *http.Request, divisionID int64) {
	perm, err := a.decodePermission(w, r, divisionID)
	if err != nil {
		return
	}
	if err := a.requireDivisionAdmin(r, divisionID, authz.PermAdmin); err != nil {
		handleDomainError(w, r, err)
		return
	}

	if err := a.store.RemovePermission(r.Context(), perm); err != nil {
		handleDomainError(w, r, err)
		return
	}

	audit.LogEvent(r.Context(), "admin.permission_revoke", map[string]any{
		"division_id": divisionID,
		"entity_id":   perm.EntityID,
		"type":        string(perm.Type),
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "revoked"})
}

// decodePermission parses and validates the grant/revoke body, writing the
// error response itself on failure.
func (a *API) decodePermission(w http.ResponseWriter, r *http.Request, divisionID int64) (authz.Permission, error) {
	var req permissionBody
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return authz.Permission{}, err
	}
	permType := authz.PermissionType(req.Type)
	if !permType.Valid() {
		writeError(w, r, http.StatusBadRequest, "unknown permission type")
		return authz.Permission{}, errInvalidPermission
	}
	if req.EntityID <= 0 {
		writeError(w, r, http.StatusBadRequest, "entity_id is required")
		return authz.Permission{}, errInvalidPermission
	}
	return authz.Permission{
		DivisionID: divisionID,
		EntityID:   req.EntityID,
		Type:       permType,
	}, nil
}

// requireSiteAdmin allows only the configured bootstrap administrator.
func (a *API) requireSiteAdmin(r *http.Request) error {
	user, err := a.currentUser(r.Context())
	if err != nil {
		return err
	}
	if a.adminID == 0 || user.ID != a.adminID {
		return &srp.PermissionError{UserID: user.ID, Operation: "administer site"}
	}
	return nil
}

// requireDivisionAdmin allows the site admin or any holder of one of the
// given grant types in the division.
func (a *API) requireDivisionAdmin(r *http.Request, divisionID int64, types ...authz.PermissionType) error {
	user, err := a.currentUser(r.Context())
	if err != nil {
		return err
	}
	if a.adminID != 0 && user.ID == a.adminID {
		return nil
	}
	grants, err := user.GetPermissions(r.Context(), a.store)
	if err != nil {
		return err
	}
	if !grants.Has(divisionID, types...) {
		return &srp.PermissionError{UserID: user.ID, Operation: "manage permissions"}
	}
	return nil
}
