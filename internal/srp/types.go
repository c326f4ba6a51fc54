package srp

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"srphub.org/internal/authz"
)

// Pilot is the character a loss event happened to. A pilot belongs to
// exactly one user.
type Pilot struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	UserID int64  `json:"user_id"`
}

// Killmail is an immutable record of a loss event. It is created once by
// ingestion and never mutated afterwards.
type Killmail struct {
	ID              int64     `json:"id"`
	UserID          int64     `json:"user_id"`
	PilotID         int64     `json:"pilot_id"`
	CorporationID   int64     `json:"corporation_id"`
	AllianceID      int64     `json:"alliance_id,omitempty"`
	SystemID        int64     `json:"system_id"`
	ConstellationID int64     `json:"constellation_id"`
	RegionID        int64     `json:"region_id"`
	TypeID          int64     `json:"type_id"`
	Timestamp       time.Time `json:"timestamp"`
	URL             string    `json:"url"`
}

// GetUser returns the user who owns the loss event.
func (k *Killmail) GetUser(ctx context.Context, store Store) (*authz.User, error) {
	return store.GetUser(ctx, k.UserID)
}

// GetPilot returns the victim character.
func (k *Killmail) GetPilot(ctx context.Context, store Store) (*Pilot, error) {
	return store.GetPilot(ctx, k.PilotID)
}

// Request is a reimbursement claim for one loss event, submitted to one
// division. It is the mutable aggregate root of the engine: all changes flow
// through actions and modifiers, and Payout is kept equal to the payout
// formula over the live modifier set on every save.
type Request struct {
	ID         int64           `json:"id"`
	Details    string          `json:"details"`
	KillmailID int64           `json:"killmail_id"`
	DivisionID int64           `json:"division_id"`
	Timestamp  time.Time       `json:"timestamp"`
	Status     ActionType      `json:"status"`
	BasePayout decimal.Decimal `json:"base_payout"`
	Payout     decimal.Decimal `json:"payout"`
}

// GetActions returns the request's action log, oldest first.
func (r *Request) GetActions(ctx context.Context, store Store) ([]*Action, error) {
	return store.GetActions(ctx, r.ID)
}

// GetModifiers returns the request's modifiers matching the filter, oldest
// first.
func (r *Request) GetModifiers(ctx context.Context, store Store, filter ModifierFilter) ([]*Modifier, error) {
	return store.GetModifiers(ctx, r.ID, filter)
}

// GetDivision returns the division the request was submitted to.
func (r *Request) GetDivision(ctx context.Context, store Store) (*authz.Division, error) {
	return store.GetDivision(ctx, r.DivisionID)
}

// GetKillmail returns the loss event the request claims against.
func (r *Request) GetKillmail(ctx context.Context, store Store) (*Killmail, error) {
	return store.GetKillmail(ctx, r.KillmailID)
}

// CurrentStatus derives the status from the most recent non-comment action,
// falling back to the stored status when no such action exists.
func (r *Request) CurrentStatus(ctx context.Context, store Store) (ActionType, error) {
	actions, err := r.GetActions(ctx, store)
	if err != nil {
		return "", err
	}
	for i := len(actions) - 1; i >= 0; i-- {
		if actions[i].Type != Comment {
			return actions[i].Type, nil
		}
	}
	return r.Status, nil
}

// Action is an immutable append-only log entry on a request: either a status
// change or a comment. Actions are never updated or deleted.
type Action struct {
	ID        int64      `json:"id"`
	Type      ActionType `json:"type"`
	Timestamp time.Time  `json:"timestamp"`
	Contents  string     `json:"contents"`
	UserID    int64      `json:"user_id"`
	RequestID int64      `json:"request_id"`
}

// ModifierType distinguishes flat currency adjustments from fractional
// multipliers.
type ModifierType string

const (
	// ModifierAbsolute values are flat currency amounts added to the base
	// payout.
	ModifierAbsolute ModifierType = "absolute"

	// ModifierRelative values are fractional multipliers, e.g. 0.10 for +10%.
	ModifierRelative ModifierType = "relative"
)

// Valid reports whether t is a known modifier type.
func (t ModifierType) Valid() bool {
	return t == ModifierAbsolute || t == ModifierRelative
}

// Modifier adjusts a request's payout. Modifiers are never deleted; voiding
// one records who did it and when, removing its effect on the payout while
// preserving the audit trail.
type Modifier struct {
	ID            int64           `json:"id"`
	Type          ModifierType    `json:"type"`
	Value         decimal.Decimal `json:"value"`
	Note          string          `json:"note"`
	UserID        int64           `json:"user_id"`
	RequestID     int64           `json:"request_id"`
	Timestamp     time.Time       `json:"timestamp"`
	VoidUserID    *int64          `json:"void_user_id,omitempty"`
	VoidTimestamp *time.Time      `json:"void_timestamp,omitempty"`
}

// Void reports whether the modifier has been voided.
func (m *Modifier) Void() bool {
	return m.VoidUserID != nil && m.VoidTimestamp != nil
}
