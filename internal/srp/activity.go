package srp

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"srphub.org/internal/authz"
)

// SubmissionActivity scopes request submission to one user. Submission only
// needs a submit grant in the target division, so unlike RequestActivity the
// constructor performs no access check of its own.
type SubmissionActivity struct {
	store Store
	user  *authz.User
	now   func() time.Time
}

// NewSubmissionActivity wraps a store and user for submitting requests.
func NewSubmissionActivity(store Store, user *authz.User) *SubmissionActivity {
	return &SubmissionActivity{store: store, user: user, now: time.Now}
}

// ListDivisions returns the divisions the user holds a submit grant in.
func (s *SubmissionActivity) ListDivisions(ctx context.Context) ([]*authz.Division, error) {
	grants, err := s.user.GetPermissions(ctx, s.store)
	if err != nil {
		return nil, err
	}
	return s.store.GetDivisions(ctx, grants.Divisions(authz.PermSubmit))
}

// SubmitRequest creates a request for the given loss event in the given
// division. The request starts evaluating with a zero base payout.
func (s *SubmissionActivity) SubmitRequest(ctx context.Context, details string, divisionID, killmailID int64) (*Request, error) {
	grants, err := s.user.GetPermissions(ctx, s.store)
	if err != nil {
		return nil, err
	}
	if !grants.Has(divisionID, authz.PermSubmit) {
		return nil, &PermissionError{UserID: s.user.ID, Operation: "submit"}
	}
	if _, err := s.store.GetDivision(ctx, divisionID); err != nil {
		return nil, err
	}
	killmail, err := s.store.GetKillmail(ctx, killmailID)
	if err != nil {
		return nil, err
	}
	request := &Request{
		Details:    details,
		KillmailID: killmail.ID,
		DivisionID: divisionID,
		Timestamp:  s.now().UTC(),
		Status:     StatusEvaluating,
		BasePayout: decimal.Zero,
		Payout:     decimal.Zero,
	}
	id, err := s.store.AddRequest(ctx, request)
	if err != nil {
		return nil, err
	}
	request.ID = id
	return request, nil
}

// RequestActivity is the only sanctioned entry point for mutating an
// existing request. Construction verifies the user either submitted the
// underlying loss event or holds an elevated grant in the request's
// division; each method then re-checks its own permission requirement fresh
// before delegating to the state machine.
type RequestActivity struct {
	store     Store
	user      *authz.User
	request   *Request
	submitter bool
	now       func() time.Time
}

// NewRequestActivity builds an activity for one user and one request,
// failing with a *PermissionError when the user has no business touching the
// request at all.
func NewRequestActivity(ctx context.Context, store Store, user *authz.User, request *Request) (*RequestActivity, error) {
	killmail, err := request.GetKillmail(ctx, store)
	if err != nil {
		return nil, err
	}
	a := &RequestActivity{
		store:     store,
		user:      user,
		request:   request,
		submitter: killmail.UserID == user.ID,
		now:       time.Now,
	}
	if !a.submitter {
		grants, err := user.GetPermissions(ctx, store)
		if err != nil {
			return nil, err
		}
		if !grants.Has(request.DivisionID, authz.PermReview, authz.PermPay, authz.PermAdmin) {
			return nil, &PermissionError{UserID: user.ID, RequestID: request.ID, Operation: "access"}
		}
	}
	return a, nil
}

// Request returns the underlying request.
func (a *RequestActivity) Request() *Request { return a.request }

// require re-derives the user's grants and checks them against the request's
// division. It runs before every state-machine call so a permission failure
// can never leave a partial write behind.
func (a *RequestActivity) require(ctx context.Context, operation string, types ...authz.PermissionType) error {
	grants, err := a.user.GetPermissions(ctx, a.store)
	if err != nil {
		return err
	}
	if !grants.Has(a.request.DivisionID, types...) {
		return &PermissionError{UserID: a.user.ID, RequestID: a.request.ID, Operation: operation}
	}
	return nil
}

// statusPermissions returns the grant types that allow moving the request
// from its current status to the given one. Un-paying requires pay-level
// access; everything else is reviewer territory.
func statusPermissions(current, to ActionType) []authz.PermissionType {
	if to == StatusPaid || current == StatusPaid {
		return []authz.PermissionType{authz.PermPay, authz.PermAdmin}
	}
	return []authz.PermissionType{authz.PermReview, authz.PermAdmin}
}

func (a *RequestActivity) transition(ctx context.Context, to ActionType, contents string) (*Action, error) {
	if err := a.require(ctx, string(to), statusPermissions(a.request.Status, to)...); err != nil {
		return nil, err
	}
	action := &Action{
		Type:      to,
		Timestamp: a.now().UTC(),
		Contents:  contents,
		UserID:    a.user.ID,
	}
	if err := a.request.ApplyAction(ctx, a.store, action); err != nil {
		return nil, err
	}
	return action, nil
}

// Comment appends a comment action. Comments are open to the submitter and
// to anyone with elevated access, from any status.
func (a *RequestActivity) Comment(ctx context.Context, contents string) (*Action, error) {
	if !a.submitter {
		if err := a.require(ctx, "comment", authz.PermReview, authz.PermPay, authz.PermAdmin); err != nil {
			return nil, err
		}
	}
	action := &Action{
		Type:      Comment,
		Timestamp: a.now().UTC(),
		Contents:  contents,
		UserID:    a.user.ID,
	}
	if err := a.request.ApplyAction(ctx, a.store, action); err != nil {
		return nil, err
	}
	return action, nil
}

// Approve moves the request to approved. From paid this is an un-payment
// and requires pay-level access instead of review.
func (a *RequestActivity) Approve(ctx context.Context, contents string) (*Action, error) {
	return a.transition(ctx, StatusApproved, contents)
}

// MarkIncomplete flags the request as missing information.
func (a *RequestActivity) MarkIncomplete(ctx context.Context, contents string) (*Action, error) {
	return a.transition(ctx, StatusIncomplete, contents)
}

// Evaluate moves the request back to evaluating. From paid this unwinds a
// payment and requires pay-level access.
func (a *RequestActivity) Evaluate(ctx context.Context, contents string) (*Action, error) {
	return a.transition(ctx, StatusEvaluating, contents)
}

// Pay marks the request as paid out.
func (a *RequestActivity) Pay(ctx context.Context, contents string) (*Action, error) {
	return a.transition(ctx, StatusPaid, contents)
}

// Reject turns the request down.
func (a *RequestActivity) Reject(ctx context.Context, contents string) (*Action, error) {
	return a.transition(ctx, StatusRejected, contents)
}

// SetBasePayout changes the base payout, reviewer territory and legal only
// while evaluating.
func (a *RequestActivity) SetBasePayout(ctx context.Context, value decimal.Decimal) error {
	if err := a.require(ctx, "set base payout", authz.PermReview, authz.PermAdmin); err != nil {
		return err
	}
	return a.request.SetBasePayout(ctx, a.store, value)
}

// EditDetails replaces the request's details, open only to the submitter.
// Resubmitting from incomplete re-opens evaluation.
func (a *RequestActivity) EditDetails(ctx context.Context, details string) error {
	if !a.submitter {
		return &PermissionError{UserID: a.user.ID, RequestID: a.request.ID, Operation: "edit details"}
	}
	return a.request.SetDetails(ctx, a.store, a.user.ID, details, a.now().UTC())
}

func (a *RequestActivity) addModifier(ctx context.Context, type_ ModifierType, value decimal.Decimal, note string) (*Modifier, error) {
	if err := a.require(ctx, "add modifier", authz.PermReview, authz.PermAdmin); err != nil {
		return nil, err
	}
	m := &Modifier{
		Type:      type_,
		Value:     value,
		Note:      note,
		UserID:    a.user.ID,
		Timestamp: a.now().UTC(),
	}
	if err := a.request.AddModifier(ctx, a.store, m); err != nil {
		return nil, err
	}
	return m, nil
}

// AddAbsoluteModifier attaches a flat currency adjustment.
func (a *RequestActivity) AddAbsoluteModifier(ctx context.Context, value decimal.Decimal, note string) (*Modifier, error) {
	return a.addModifier(ctx, ModifierAbsolute, value, note)
}

// AddRelativeModifier attaches a fractional multiplier adjustment.
func (a *RequestActivity) AddRelativeModifier(ctx context.Context, value decimal.Decimal, note string) (*Modifier, error) {
	return a.addModifier(ctx, ModifierRelative, value, note)
}

// VoidModifier voids one of the request's modifiers. Like adding one, this
// is reviewer territory.
func (a *RequestActivity) VoidModifier(ctx context.Context, m *Modifier) error {
	if err := a.require(ctx, "void modifier", authz.PermReview, authz.PermAdmin); err != nil {
		return err
	}
	return a.request.VoidModifier(ctx, a.store, m, a.user.ID, a.now().UTC())
}

// ValidActions returns the statuses the activity's user could move the
// request to right now, given both the transition table and the user's
// grants.
func (a *RequestActivity) ValidActions(ctx context.Context) ([]ActionType, error) {
	grants, err := a.user.GetPermissions(ctx, a.store)
	if err != nil {
		return nil, err
	}
	var valid []ActionType
	for _, to := range NextStatuses(a.request.Status) {
		if grants.Has(a.request.DivisionID, statusPermissions(a.request.Status, to)...) {
			valid = append(valid, to)
		}
	}
	return valid, nil
}
