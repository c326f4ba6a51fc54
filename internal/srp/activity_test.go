package srp

import (
	"context"
	"errors"
	"testing"
	"time"

	"srphub.org/internal/authz"
)

type fixture struct {
	store     *InMemory
	division  *authz.Division
	submitter *authz.User
	reviewer  *authz.User
	payer     *authz.User
	admin     *authz.User
	outsider  *authz.User
	killmail  *Killmail
	request   *Request
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := NewInMemory()

	f := &fixture{
		store:     store,
		division:  store.AddDivision("Black Ops"),
		submitter: store.AddUser("submitter"),
		reviewer:  store.AddUser("reviewer"),
		payer:     store.AddUser("payer"),
		admin:     store.AddUser("admin"),
		outsider:  store.AddUser("outsider"),
	}
	grants := []struct {
		user *authz.User
		t    authz.PermissionType
	}{
		{f.submitter, authz.PermSubmit},
		{f.reviewer, authz.PermReview},
		{f.payer, authz.PermPay},
		{f.admin, authz.PermAdmin},
	}
	for _, g := range grants {
		err := store.AddPermission(ctx, authz.Permission{
			DivisionID: f.division.ID,
			EntityID:   g.user.ID,
			Type:       g.t,
		})
		if err != nil {
			t.Fatalf("grant %s to %s: %v", g.t, g.user.Name, err)
		}
	}

	pilot := store.AddPilot(Pilot{Name: "Paxswill", UserID: f.submitter.ID})
	f.killmail = store.AddKillmail(Killmail{
		UserID:    f.submitter.ID,
		PilotID:   pilot.ID,
		TypeID:    587,
		Timestamp: time.Date(2024, 3, 11, 4, 20, 0, 0, time.UTC),
		URL:       "https://zkillboard.com/kill/1/",
	})

	submission := NewSubmissionActivity(store, f.submitter)
	request, err := submission.SubmitRequest(ctx, "Lost to a gate camp.", f.division.ID, f.killmail.ID)
	if err != nil {
		t.Fatalf("submit request: %v", err)
	}
	f.request = request
	return f
}

// activity builds a RequestActivity over the fixture request, reloading the
// request first so each test starts from saved state.
func (f *fixture) activity(t *testing.T, user *authz.User) *RequestActivity {
	t.Helper()
	ctx := context.Background()
	request, err := f.store.GetRequest(ctx, f.request.ID)
	if err != nil {
		t.Fatalf("reload request: %v", err)
	}
	a, err := NewRequestActivity(ctx, f.store, user, request)
	if err != nil {
		t.Fatalf("activity for %s: %v", user.Name, err)
	}
	return a
}

func (f *fixture) status(t *testing.T) ActionType {
	t.Helper()
	request, err := f.store.GetRequest(context.Background(), f.request.ID)
	if err != nil {
		t.Fatalf("reload request: %v", err)
	}
	return request.Status
}

func TestSubmitRequest(t *testing.T) {
	f := newFixture(t)
	if f.request.Status != StatusEvaluating {
		t.Fatalf("new request status = %s, want evaluating", f.request.Status)
	}
	if !f.request.Payout.IsZero() || !f.request.BasePayout.IsZero() {
		t.Fatalf("new request payout = %s base = %s, want 0", f.request.Payout, f.request.BasePayout)
	}

	submission := NewSubmissionActivity(f.store, f.outsider)
	_, err := submission.SubmitRequest(context.Background(), "mine too", f.division.ID, f.killmail.ID)
	if !errors.Is(err, ErrPermission) {
		t.Fatalf("submit without grant: got %v, want permission error", err)
	}
}

func TestListDivisions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := f.store.AddDivision("Capitals")
	if err := f.store.AddPermission(ctx, authz.Permission{
		DivisionID: other.ID, EntityID: f.submitter.ID, Type: authz.PermAudit,
	}); err != nil {
		t.Fatal(err)
	}

	divisions, err := NewSubmissionActivity(f.store, f.submitter).ListDivisions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// The audit grant in Capitals must not make it submittable.
	if len(divisions) != 1 || divisions[0].ID != f.division.ID {
		t.Fatalf("unexpected submit divisions: %+v", divisions)
	}
}

func TestActivityConstruction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, user := range []*authz.User{f.submitter, f.reviewer, f.payer, f.admin} {
		if _, err := NewRequestActivity(ctx, f.store, user, f.request); err != nil {
			t.Errorf("activity for %s: %v", user.Name, err)
		}
	}

	_, err := NewRequestActivity(ctx, f.store, f.outsider, f.request)
	var perr *PermissionError
	if !errors.As(err, &perr) {
		t.Fatalf("outsider construction: got %v, want *PermissionError", err)
	}
	if perr.UserID != f.outsider.ID || perr.RequestID != f.request.ID {
		t.Fatalf("permission error ids = %d/%d", perr.UserID, perr.RequestID)
	}
}

func TestPayRequiresPayPermission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.activity(t, f.reviewer).Approve(ctx, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}

	_, err := f.activity(t, f.reviewer).Pay(ctx, "")
	if !errors.Is(err, ErrPermission) {
		t.Fatalf("pay with review only: got %v, want permission error", err)
	}
	if got := f.status(t); got != StatusApproved {
		t.Fatalf("status after failed pay = %s, want approved", got)
	}

	if _, err := f.activity(t, f.payer).Pay(ctx, "sent"); err != nil {
		t.Fatalf("pay with pay grant: %v", err)
	}
	if got := f.status(t); got != StatusPaid {
		t.Fatalf("status = %s, want paid", got)
	}
}

func TestIllegalTransitionDoesNotMutate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// paid is not reachable from evaluating.
	_, err := f.activity(t, f.payer).Pay(ctx, "")
	var serr *StatusError
	if !errors.As(err, &serr) {
		t.Fatalf("pay from evaluating: got %v, want *StatusError", err)
	}
	if serr.Status != StatusEvaluating || serr.RequestID != f.request.ID {
		t.Fatalf("status error = %+v", serr)
	}
	if got := f.status(t); got != StatusEvaluating {
		t.Fatalf("status = %s, want evaluating", got)
	}
	actions, err := f.store.GetActions(ctx, f.request.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(actions) != 0 {
		t.Fatalf("failed transition appended %d actions", len(actions))
	}
}

func TestSetBasePayout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.activity(t, f.reviewer)
	if err := a.SetBasePayout(ctx, dec("1234.56")); err != nil {
		t.Fatalf("set base payout: %v", err)
	}
	request, _ := f.store.GetRequest(ctx, f.request.ID)
	if !request.BasePayout.Equal(dec("1234.56")) || !request.Payout.Equal(dec("1234.56")) {
		t.Fatalf("base = %s payout = %s, want 1234.56", request.BasePayout, request.Payout)
	}

	// Negative values clamp to zero.
	if err := f.activity(t, f.reviewer).SetBasePayout(ctx, dec("-5")); err != nil {
		t.Fatalf("set negative base payout: %v", err)
	}
	request, _ = f.store.GetRequest(ctx, f.request.ID)
	if !request.BasePayout.IsZero() {
		t.Fatalf("negative base payout not clamped: %s", request.BasePayout)
	}

	_, err := f.activity(t, f.submitter).Comment(ctx, "any news?")
	if err != nil {
		t.Fatalf("comment: %v", err)
	}

	if _, err := f.activity(t, f.reviewer).Approve(ctx, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := f.activity(t, f.payer).Pay(ctx, ""); err != nil {
		t.Fatal(err)
	}
	err = f.activity(t, f.reviewer).SetBasePayout(ctx, dec("10"))
	if !errors.Is(err, ErrStatus) {
		t.Fatalf("set base payout while paid: got %v, want status error", err)
	}
}

func TestModifierLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.activity(t, f.reviewer)
	if err := a.SetBasePayout(ctx, dec("100")); err != nil {
		t.Fatal(err)
	}
	abs, err := a.AddAbsoluteModifier(ctx, dec("20"), "hull bonus")
	if err != nil {
		t.Fatalf("add absolute: %v", err)
	}
	if _, err := a.AddRelativeModifier(ctx, dec("0.10"), "fleet participation"); err != nil {
		t.Fatalf("add relative: %v", err)
	}
	request, _ := f.store.GetRequest(ctx, f.request.ID)
	if !request.Payout.Equal(dec("132")) {
		t.Fatalf("payout = %s, want 132", request.Payout)
	}

	if err := f.activity(t, f.reviewer).VoidModifier(ctx, abs); err != nil {
		t.Fatalf("void: %v", err)
	}
	request, _ = f.store.GetRequest(ctx, f.request.ID)
	if !request.Payout.Equal(dec("110")) {
		t.Fatalf("payout after void = %s, want 110", request.Payout)
	}

	stored, err := f.store.GetModifier(ctx, abs.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.Void() || *stored.VoidUserID != f.reviewer.ID {
		t.Fatalf("void marker not persisted: %+v", stored)
	}

	if err := f.activity(t, f.reviewer).VoidModifier(ctx, stored); !errors.Is(err, ErrModifierVoid) {
		t.Fatalf("second void: got %v, want ErrModifierVoid", err)
	}

	if _, err := f.activity(t, f.reviewer).Approve(ctx, ""); err != nil {
		t.Fatal(err)
	}
	_, err = f.activity(t, f.reviewer).AddAbsoluteModifier(ctx, dec("5"), "")
	if !errors.Is(err, ErrStatus) {
		t.Fatalf("add modifier while approved: got %v, want status error", err)
	}
	live, err := f.store.GetModifiers(ctx, f.request.ID, ModifierFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 2 {
		t.Fatalf("failed add changed modifier set: %d modifiers", len(live))
	}
}

func TestModifiersAreReviewerOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.activity(t, f.reviewer)
	if err := a.SetBasePayout(ctx, dec("100")); err != nil {
		t.Fatal(err)
	}
	deduction, err := a.AddAbsoluteModifier(ctx, dec("-50"), "no insurance")
	if err != nil {
		t.Fatal(err)
	}

	// The submitter can open an activity on their own request but must not
	// be able to tilt the payout with it.
	mine := f.activity(t, f.submitter)
	_, err = mine.AddAbsoluteModifier(ctx, dec("1000000"), "bonus")
	var perr *PermissionError
	if !errors.As(err, &perr) {
		t.Fatalf("submitter add modifier: got %v, want *PermissionError", err)
	}
	if _, err := mine.AddRelativeModifier(ctx, dec("2"), ""); !errors.Is(err, ErrPermission) {
		t.Fatalf("submitter add relative modifier: got %v, want permission error", err)
	}
	if err := mine.VoidModifier(ctx, deduction); !errors.Is(err, ErrPermission) {
		t.Fatalf("submitter void deduction: got %v, want permission error", err)
	}

	request, _ := f.store.GetRequest(ctx, f.request.ID)
	if !request.Payout.Equal(dec("50")) {
		t.Fatalf("payout = %s, want 50", request.Payout)
	}
	live, err := f.store.GetModifiers(ctx, f.request.ID, ModifierFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 1 || live[0].Void() {
		t.Fatalf("modifier set changed by denied operations: %+v", live)
	}
}

func TestCommentNeverChangesStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	advance := []struct {
		user *authz.User
		move func(*RequestActivity) error
		want ActionType
	}{
		{f.reviewer, func(a *RequestActivity) error { _, err := a.MarkIncomplete(ctx, "need fit"); return err }, StatusIncomplete},
		{f.reviewer, func(a *RequestActivity) error { _, err := a.Evaluate(ctx, ""); return err }, StatusEvaluating},
		{f.reviewer, func(a *RequestActivity) error { _, err := a.Approve(ctx, ""); return err }, StatusApproved},
		{f.payer, func(a *RequestActivity) error { _, err := a.Pay(ctx, ""); return err }, StatusPaid},
	}
	for _, step := range advance {
		if err := step.move(f.activity(t, step.user)); err != nil {
			t.Fatalf("advance to %s: %v", step.want, err)
		}
		if _, err := f.activity(t, f.submitter).Comment(ctx, "checking in"); err != nil {
			t.Fatalf("comment at %s: %v", step.want, err)
		}
		if got := f.status(t); got != step.want {
			t.Fatalf("comment changed status to %s at %s", got, step.want)
		}
	}
}

func TestEditDetails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.activity(t, f.submitter).EditDetails(ctx, "Lost to a gate camp in Rancer."); err != nil {
		t.Fatalf("edit details: %v", err)
	}
	actions, _ := f.store.GetActions(ctx, f.request.ID)
	if len(actions) != 1 || actions[0].Type != Comment || actions[0].Contents != "Lost to a gate camp." {
		t.Fatalf("archival comment missing or wrong: %+v", actions)
	}
	request, _ := f.store.GetRequest(ctx, f.request.ID)
	if request.Details != "Lost to a gate camp in Rancer." {
		t.Fatalf("details = %q", request.Details)
	}

	// Editing from incomplete resubmits: the archival action is an
	// evaluating transition.
	if _, err := f.activity(t, f.reviewer).MarkIncomplete(ctx, "need a fit"); err != nil {
		t.Fatal(err)
	}
	if err := f.activity(t, f.submitter).EditDetails(ctx, "Fit attached."); err != nil {
		t.Fatalf("edit from incomplete: %v", err)
	}
	if got := f.status(t); got != StatusEvaluating {
		t.Fatalf("status after resubmit = %s, want evaluating", got)
	}

	if err := f.activity(t, f.reviewer).EditDetails(ctx, "nope"); !errors.Is(err, ErrPermission) {
		t.Fatalf("reviewer editing details: got %v, want permission error", err)
	}

	if _, err := f.activity(t, f.reviewer).Reject(ctx, "not covered"); err != nil {
		t.Fatal(err)
	}
	if err := f.activity(t, f.submitter).EditDetails(ctx, "please"); !errors.Is(err, ErrStatus) {
		t.Fatalf("edit while rejected: got %v, want status error", err)
	}
}

func TestUnwindPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.activity(t, f.reviewer).Approve(ctx, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := f.activity(t, f.payer).Pay(ctx, ""); err != nil {
		t.Fatal(err)
	}

	// Un-paying is payer territory, not reviewer.
	if _, err := f.activity(t, f.reviewer).Approve(ctx, "oops"); !errors.Is(err, ErrPermission) {
		t.Fatalf("reviewer un-pay: got %v, want permission error", err)
	}
	if _, err := f.activity(t, f.payer).Approve(ctx, "wrong wallet"); err != nil {
		t.Fatalf("payer un-pay: %v", err)
	}
	if got := f.status(t); got != StatusApproved {
		t.Fatalf("status = %s, want approved", got)
	}

	if _, err := f.activity(t, f.payer).Pay(ctx, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := f.activity(t, f.payer).Evaluate(ctx, "recheck payout"); err != nil {
		t.Fatalf("payer unwind to evaluating: %v", err)
	}
	if got := f.status(t); got != StatusEvaluating {
		t.Fatalf("status = %s, want evaluating", got)
	}
}

func TestValidActions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.activity(t, f.reviewer).ValidActions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := map[ActionType]bool{
		StatusEvaluating: true,
		StatusApproved:   true,
		StatusRejected:   true,
		StatusIncomplete: true,
	}
	if len(got) != len(want) {
		t.Fatalf("reviewer valid actions = %v", got)
	}
	for _, s := range got {
		if !want[s] {
			t.Fatalf("unexpected valid action %s", s)
		}
	}

	if _, err := f.activity(t, f.reviewer).Approve(ctx, ""); err != nil {
		t.Fatal(err)
	}
	got, err = f.activity(t, f.payer).ValidActions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != StatusPaid {
		t.Fatalf("payer valid actions at approved = %v, want [paid]", got)
	}
}

func TestCurrentStatusDerivation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	request, _ := f.store.GetRequest(ctx, f.request.ID)
	status, err := request.CurrentStatus(ctx, f.store)
	if err != nil {
		t.Fatal(err)
	}
	if status != StatusEvaluating {
		t.Fatalf("current status with no actions = %s", status)
	}

	if _, err := f.activity(t, f.reviewer).Approve(ctx, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := f.activity(t, f.submitter).Comment(ctx, "thanks"); err != nil {
		t.Fatal(err)
	}
	request, _ = f.store.GetRequest(ctx, f.request.ID)
	status, err = request.CurrentStatus(ctx, f.store)
	if err != nil {
		t.Fatal(err)
	}
	if status != StatusApproved {
		t.Fatalf("current status = %s, want approved (comments ignored)", status)
	}
}

func TestGroupInheritedPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	member := f.store.AddUser("member")
	reviewers := f.store.AddGroup("reviewers")
	if err := f.store.AssociateUserGroup(member.ID, reviewers.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.store.AddPermission(ctx, authz.Permission{
		DivisionID: f.division.ID, EntityID: reviewers.ID, Type: authz.PermReview,
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := f.activity(t, member).Approve(ctx, "via group grant"); err != nil {
		t.Fatalf("group-granted approve: %v", err)
	}
	if got := f.status(t); got != StatusApproved {
		t.Fatalf("status = %s, want approved", got)
	}
}
