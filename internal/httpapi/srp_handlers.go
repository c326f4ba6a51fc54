package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"srphub.org/internal/audit"
	"srphub.org/internal/authn"
	"srphub.org/internal/authz"
	"srphub.org/internal/events"
	"srphub.org/internal/obs"
	"srphub.org/internal/srp"
	"srphub.org/internal/stream"
)

type submitRequestBody struct {
	DivisionID int64  `json:"division_id"`
	KillmailID int64  `json:"killmail_id"`
	Details    string `json:"details"`
}

type actionBody struct {
	Type     string `json:"type"`
	Contents string `json:"contents"`
}

type detailsBody struct {
	Details string `json:"details"`
}

type basePayoutBody struct {
	BasePayout decimal.Decimal `json:"base_payout"`
}

type modifierBody struct {
	Type  string          `json:"type"`
	Value decimal.Decimal `json:"value"`
	Note  string          `json:"note"`
}

type killmailBody struct {
	PilotID         int64     `json:"pilot_id"`
	PilotName       string    `json:"pilot_name"`
	CorporationID   int64     `json:"corporation_id"`
	AllianceID      int64     `json:"alliance_id"`
	SystemID        int64     `json:"system_id"`
	ConstellationID int64     `json:"constellation_id"`
	RegionID        int64     `json:"region_id"`
	TypeID          int64     `json:"type_id"`
	Timestamp       time.Time `json:"timestamp"`
	URL             string    `json:"url"`
}

type requestDetailResponse struct {
	Request      *srp.Request     `json:"request"`
	Actions      []*srp.Action    `json:"actions"`
	Modifiers    []*srp.Modifier  `json:"modifiers"`
	Status       srp.ActionType   `json:"current_status"`
	ValidActions []srp.ActionType `json:"valid_actions"`
}

func (a *API) handleRequestsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.submitRequest(w, r)
	case http.MethodGet:
		a.listRequests(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRequestResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/requests/")
	id, rest, ok := splitResourcePath(path)
	if !ok {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch rest {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getRequest(w, r, id)
	case "actions":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.applyAction(w, r, id)
	case "modifiers":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.addModifier(w, r, id)
	case "details":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		a.editDetails(w, r, id)
	case "payout":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		a.setBasePayout(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleModifierResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/modifiers/")
	id, rest, ok := splitResourcePath(path)
	if !ok || rest != "void" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	a.voidModifier(w, r, id)
}

func (a *API) handleKillmails(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createKillmail(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) submitRequest(w http.ResponseWriter, r *http.Request) {
	var req submitRequestBody
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.DivisionID <= 0 || req.KillmailID <= 0 {
		writeError(w, r, http.StatusBadRequest, "division_id and killmail_id are required")
		return
	}

	user, err := a.currentUser(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	var request *srp.Request
	err = a.atomic(r.Context(), func(store srp.Store) error {
		activity := srp.NewSubmissionActivity(store, user)
		request, err = activity.SubmitRequest(r.Context(), req.Details, req.DivisionID, req.KillmailID)
		return err
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	obs.ObserveSubmission()
	audit.LogEvent(r.Context(), "request.submit", map[string]any{
		"srp_request_id": request.ID,
		"division_id":    request.DivisionID,
	})
	a.publishRequestEvent(r.Context(), "submitted", request, user.ID)
	writeJSON(w, http.StatusCreated, request)
}

func (a *API) listRequests(w http.ResponseWriter, r *http.Request) {
	user, err := a.currentUser(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	var filter srp.RequestFilter
	if raw := r.URL.Query().Get("division_id"); raw != "" {
		divisionID, err := parseID(raw)
		if err != nil || divisionID == 0 {
			writeError(w, r, http.StatusBadRequest, "invalid division_id")
			return
		}
		filter.DivisionID = &divisionID
	}

	grants, err := user.GetPermissions(r.Context(), a.store)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	// Division-wide listing needs an elevated or audit grant; everyone else
	// sees only requests for their own loss events.
	elevated := filter.DivisionID != nil &&
		grants.Has(*filter.DivisionID, authz.PermReview, authz.PermPay, authz.PermAdmin, authz.PermAudit)
	if !elevated {
		filter.SubmitterID = &user.ID
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := srp.ActionType(raw)
		if !status.Status() {
			writeError(w, r, http.StatusBadRequest, "unknown status filter")
			return
		}
		filter.Status = &status
	}

	requests, err := a.store.ListRequests(r.Context(), filter)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if requests == nil {
		requests = []*srp.Request{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": requests})
}

func (a *API) getRequest(w http.ResponseWriter, r *http.Request, id int64) {
	user, err := a.currentUser(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	request, err := a.store.GetRequest(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	activity, err := srp.NewRequestActivity(r.Context(), a.store, user, request)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	actions, err := request.GetActions(r.Context(), a.store)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	modifiers, err := request.GetModifiers(r.Context(), a.store, srp.ModifierFilter{})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	status, err := request.CurrentStatus(r.Context(), a.store)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	valid, err := activity.ValidActions(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	if actions == nil {
		actions = []*srp.Action{}
	}
	if modifiers == nil {
		modifiers = []*srp.Modifier{}
	}
	if valid == nil {
		valid = []srp.ActionType{}
	}
	writeJSON(w, http.StatusOK, requestDetailResponse{
		Request:      request,
		Actions:      actions,
		Modifiers:    modifiers,
		Status:       status,
		ValidActions: valid,
	})
}

func (a *API) applyAction(w http.ResponseWriter, r *http.Request, id int64) {
	var req actionBody
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	actionType := srp.ActionType(req.Type)
	if !actionType.Valid() {
		writeError(w, r, http.StatusBadRequest, "unknown action type")
		return
	}

	user, err := a.currentUser(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	var (
		action  *srp.Action
		request *srp.Request
	)
	err = a.atomic(r.Context(), func(store srp.Store) error {
		activity, innerErr := a.requestActivity(r.Context(), store, user, id)
		if innerErr != nil {
			return innerErr
		}
		request = activity.Request()
		switch actionType {
		case srp.Comment:
			action, innerErr = activity.Comment(r.Context(), req.Contents)
		case srp.StatusApproved:
			action, innerErr = activity.Approve(r.Context(), req.Contents)
		case srp.StatusRejected:
			action, innerErr = activity.Reject(r.Context(), req.Contents)
		case srp.StatusIncomplete:
			action, innerErr = activity.MarkIncomplete(r.Context(), req.Contents)
		case srp.StatusEvaluating:
			action, innerErr = activity.Evaluate(r.Context(), req.Contents)
		case srp.StatusPaid:
			action, innerErr = activity.Pay(r.Context(), req.Contents)
		}
		return innerErr
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	obs.ObserveAction(string(actionType))
	audit.LogEvent(r.Context(), "request."+string(actionType), map[string]any{
		"srp_request_id": id,
	})
	a.publishRequestEvent(r.Context(), string(actionType), request, user.ID)
	writeJSON(w, http.StatusCreated, action)
}

func (a *API) addModifier(w http.ResponseWriter, r *http.Request, id int64) {
	var req modifierBody
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	modType := srp.ModifierType(req.Type)
	if !modType.Valid() {
		writeError(w, r, http.StatusBadRequest, "unknown modifier type")
		return
	}

	user, err := a.currentUser(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	var (
		modifier *srp.Modifier
		request  *srp.Request
	)
	err = a.atomic(r.Context(), func(store srp.Store) error {
		activity, innerErr := a.requestActivity(r.Context(), store, user, id)
		if innerErr != nil {
			return innerErr
		}
		request = activity.Request()
		if modType == srp.ModifierAbsolute {
			modifier, innerErr = activity.AddAbsoluteModifier(r.Context(), req.Value, req.Note)
		} else {
			modifier, innerErr = activity.AddRelativeModifier(r.Context(), req.Value, req.Note)
		}
		return innerErr
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	obs.ObserveModifier(string(modType))
	audit.LogEvent(r.Context(), "request.modifier_add", map[string]any{
		"srp_request_id": id,
		"modifier_id":    modifier.ID,
		"type":           string(modType),
	})
	a.publishRequestEvent(r.Context(), "modifier_added", request, user.ID)
	writeJSON(w, http.StatusCreated, modifier)
}

func (a *API) voidModifier(w http.ResponseWriter, r *http.Request, id int64) {
	user, err := a.currentUser(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	var request *srp.Request
	err = a.atomic(r.Context(), func(store srp.Store) error {
		modifier, innerErr := store.GetModifier(r.Context(), id)
		if innerErr != nil {
			return innerErr
		}
		activity, innerErr := a.requestActivity(r.Context(), store, user, modifier.RequestID)
		if innerErr != nil {
			return innerErr
		}
		request = activity.Request()
		return activity.VoidModifier(r.Context(), modifier)
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	audit.LogEvent(r.Context(), "request.modifier_void", map[string]any{
		"modifier_id": id,
	})
	a.publishRequestEvent(r.Context(), "modifier_voided", request, user.ID)
	writeJSON(w, http.StatusOK, map[string]any{"status": "voided"})
}

func (a *API) editDetails(w http.ResponseWriter, r *http.Request, id int64) {
	var req detailsBody
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Details) == "" {
		writeError(w, r, http.StatusBadRequest, "details are required")
		return
	}

	user, err := a.currentUser(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	var request *srp.Request
	err = a.atomic(r.Context(), func(store srp.Store) error {
		activity, innerErr := a.requestActivity(r.Context(), store, user, id)
		if innerErr != nil {
			return innerErr
		}
		request = activity.Request()
		return activity.EditDetails(r.Context(), req.Details)
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	audit.LogEvent(r.Context(), "request.edit_details", map[string]any{
		"srp_request_id": id,
	})
	writeJSON(w, http.StatusOK, request)
}

func (a *API) setBasePayout(w http.ResponseWriter, r *http.Request, id int64) {
	var req basePayoutBody
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user, err := a.currentUser(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	var request *srp.Request
	err = a.atomic(r.Context(), func(store srp.Store) error {
		activity, innerErr := a.requestActivity(r.Context(), store, user, id)
		if innerErr != nil {
			return innerErr
		}
		request = activity.Request()
		return activity.SetBasePayout(r.Context(), req.BasePayout)
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	audit.LogEvent(r.Context(), "request.set_base_payout", map[string]any{
		"srp_request_id": id,
		"base_payout":    request.BasePayout.String(),
	})
	a.publishRequestEvent(r.Context(), "payout_changed", request, user.ID)
	writeJSON(w, http.StatusOK, request)
}

func (a *API) createKillmail(w http.ResponseWriter, r *http.Request) {
	var req killmailBody
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.TypeID <= 0 {
		writeError(w, r, http.StatusBadRequest, "type_id is required")
		return
	}
	if req.PilotID <= 0 && strings.TrimSpace(req.PilotName) == "" {
		writeError(w, r, http.StatusBadRequest, "pilot_id or pilot_name is required")
		return
	}

	user, err := a.currentUser(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	var killmail *srp.Killmail
	err = a.atomic(r.Context(), func(store srp.Store) error {
		pilotID := req.PilotID
		if pilotID <= 0 {
			id, innerErr := store.CreatePilot(r.Context(), &srp.Pilot{
				Name:   strings.TrimSpace(req.PilotName),
				UserID: user.ID,
			})
			if innerErr != nil {
				return innerErr
			}
			pilotID = id
		} else if _, innerErr := store.GetPilot(r.Context(), pilotID); innerErr != nil {
			return innerErr
		}

		ts := req.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		killmail = &srp.Killmail{
			UserID:          user.ID,
			PilotID:         pilotID,
			CorporationID:   req.CorporationID,
			AllianceID:      req.AllianceID,
			SystemID:        req.SystemID,
			ConstellationID: req.ConstellationID,
			RegionID:        req.RegionID,
			TypeID:          req.TypeID,
			Timestamp:       ts.UTC(),
			URL:             req.URL,
		}
		id, innerErr := store.CreateKillmail(r.Context(), killmail)
		if innerErr != nil {
			return innerErr
		}
		killmail.ID = id
		return nil
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	audit.LogEvent(r.Context(), "killmail.create", map[string]any{
		"killmail_id": killmail.ID,
		"type_id":     killmail.TypeID,
	})
	writeJSON(w, http.StatusCreated, killmail)
}

// --- shared helpers ---

// currentUser resolves the authenticated identity to a stored user record.
func (a *API) currentUser(ctx context.Context) (*authz.User, error) {
	userID, ok := authn.UserIDFromContext(ctx)
	if !ok {
		return nil, authn.ErrUnauthorized
	}
	return a.store.GetUser(ctx, userID)
}

// requestActivity loads a request inside the given store scope and wraps it
// in the authorization layer.
func (a *API) requestActivity(ctx context.Context, store srp.Store, user *authz.User, requestID int64) (*srp.RequestActivity, error) {
	request, err := store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return srp.NewRequestActivity(ctx, store, user, request)
}

func (a *API) publishRequestEvent(ctx context.Context, event string, request *srp.Request, userID int64) {
	if request == nil {
		return
	}
	now := time.Now().UTC()
	if a.stream != nil {
		a.stream.Publish(stream.RequestEvent{
			RequestID:  request.ID,
			DivisionID: request.DivisionID,
			Event:      event,
			Status:     string(request.Status),
			Payout:     request.Payout,
			UserID:     userID,
			Timestamp:  now,
		})
	}
	if err := a.events.Publish(ctx, "request."+event, events.RequestEvent{
		RequestID:  request.ID,
		DivisionID: request.DivisionID,
		UserID:     userID,
		Status:     string(request.Status),
		Payout:     request.Payout,
		Timestamp:  now,
	}); err != nil {
		obs.LogRequest(map[string]any{
			"level":          "warn",
			"component":      "httpapi",
			"msg":            "event publish failed",
			"srp_request_id": request.ID,
			"error":          err.Error(),
		})
	}
}

func splitResourcePath(path string) (int64, string, bool) {
	path = strings.TrimSuffix(path, "/")
	idPart, rest, _ := strings.Cut(path, "/")
	id, err := parseID(idPart)
	if err != nil || strings.Contains(rest, "/") {
		return 0, "", false
	}
	return id, rest, true
}

func parseID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("id is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("id must be a positive integer")
	}
	return id, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, authn.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, srp.ErrPermission):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, srp.ErrModifierVoid):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, srp.ErrStatus):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, srp.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, srp.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
