package srp

import (
	"context"

	"github.com/shopspring/decimal"
)

// CurrentPayout evaluates the payout formula over the live (non-void)
// modifier set:
//
//	payout = (base_payout + Σ absolute.value) × (1 + Σ relative.value)
//
// Summing an empty set yields exactly zero; all arithmetic is exact decimal.
// The result is never cached incrementally: every recomputation starts from
// the full live set so the stored payout cannot drift.
func CurrentPayout(base decimal.Decimal, modifiers []*Modifier) decimal.Decimal {
	absolute := decimal.Zero
	relative := decimal.Zero
	for _, m := range modifiers {
		if m.Void() {
			continue
		}
		switch m.Type {
		case ModifierAbsolute:
			absolute = absolute.Add(m.Value)
		case ModifierRelative:
			relative = relative.Add(m.Value)
		}
	}
	return base.Add(absolute).Mul(decimal.NewFromInt(1).Add(relative))
}

// CurrentPayout recomputes the request's payout from its stored modifiers.
func (r *Request) CurrentPayout(ctx context.Context, store Store) (decimal.Decimal, error) {
	modifiers, err := r.GetModifiers(ctx, store, ModifierFilter{})
	if err != nil {
		return decimal.Zero, err
	}
	return CurrentPayout(r.BasePayout, modifiers), nil
}
