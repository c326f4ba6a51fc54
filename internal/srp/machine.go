package srp

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// The methods in this file are the request state machine: they validate the
// attempted change against the current status, append the corresponding log
// records and keep Payout in sync. Permission checks belong to the activity
// layer; by the time these run the caller has already been authorized.

// ApplyAction validates and applies an action to the request. Comments are
// always legal and never touch the status. Status actions must be a legal
// transition from the current status; the action is appended first, then the
// status is advanced and the request saved. No store write happens when
// validation fails.
func (r *Request) ApplyAction(ctx context.Context, store Store, a *Action) error {
	if a.Type != Comment && !CanTransition(r.Status, a.Type) {
		return &StatusError{RequestID: r.ID, Operation: string(a.Type), Status: r.Status}
	}
	a.RequestID = r.ID
	id, err := store.AddAction(ctx, a)
	if err != nil {
		return err
	}
	a.ID = id
	if a.Type == Comment {
		return nil
	}
	r.Status = a.Type
	return store.SaveRequest(ctx, r)
}

// SetDetails replaces the request's free-text details. Details are editable
// only while the request is evaluating or incomplete. The old text is
// archived in an action before the new text is applied: an evaluating
// transition when leaving incomplete (resubmission re-opens evaluation), a
// plain comment otherwise.
func (r *Request) SetDetails(ctx context.Context, store Store, userID int64, details string, now time.Time) error {
	archival := &Action{
		Type:      Comment,
		Timestamp: now,
		Contents:  r.Details,
		UserID:    userID,
	}
	switch r.Status {
	case StatusIncomplete:
		archival.Type = StatusEvaluating
	case StatusEvaluating:
	default:
		return &StatusError{RequestID: r.ID, Operation: "edit details", Status: r.Status}
	}
	if err := r.ApplyAction(ctx, store, archival); err != nil {
		return err
	}
	r.Details = details
	return store.SaveRequest(ctx, r)
}

// SetBasePayout changes the base payout, legal only while evaluating.
// Negative values clamp to zero. The derived payout is recomputed from the
// live modifier set and saved with the request.
func (r *Request) SetBasePayout(ctx context.Context, store Store, value decimal.Decimal) error {
	if r.Status != StatusEvaluating {
		return &StatusError{RequestID: r.ID, Operation: "set base payout", Status: r.Status}
	}
	if value.IsNegative() {
		value = decimal.Zero
	}
	r.BasePayout = value
	return r.recomputePayout(ctx, store)
}

// AddModifier attaches a payout modifier, legal only while evaluating.
func (r *Request) AddModifier(ctx context.Context, store Store, m *Modifier) error {
	if r.Status != StatusEvaluating {
		return &StatusError{RequestID: r.ID, Operation: "add modifier", Status: r.Status}
	}
	m.RequestID = r.ID
	id, err := store.AddModifier(ctx, m)
	if err != nil {
		return err
	}
	m.ID = id
	return r.recomputePayout(ctx, store)
}

// VoidModifier voids one of the request's modifiers, recording the acting
// user and time. Voiding follows the same status rule as adding, and a
// modifier can only be voided once.
func (r *Request) VoidModifier(ctx context.Context, store Store, m *Modifier, userID int64, now time.Time) error {
	if r.Status != StatusEvaluating {
		return &StatusError{RequestID: r.ID, Operation: "void modifier", Status: r.Status}
	}
	if m.RequestID != r.ID {
		return &NotFoundError{Kind: "modifier", ID: m.ID}
	}
	if m.Void() {
		return ErrModifierVoid
	}
	m.VoidUserID = &userID
	m.VoidTimestamp = &now
	if err := store.SaveModifier(ctx, m); err != nil {
		return err
	}
	return r.recomputePayout(ctx, store)
}

func (r *Request) recomputePayout(ctx context.Context, store Store) error {
	payout, err := r.CurrentPayout(ctx, store)
	if err != nil {
		return err
	}
	r.Payout = payout
	return store.SaveRequest(ctx, r)
}
