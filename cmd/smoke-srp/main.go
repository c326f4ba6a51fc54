package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"srphub.org/internal/authz"
	"srphub.org/internal/srp"
)

// Exercises the full request lifecycle against the in-memory store:
// submit, set base payout, apply modifiers, approve, pay.
func main() {
	log.SetFlags(0)
	ctx := context.Background()
	store := srp.NewInMemory()

	division := store.AddDivision("Smoke Division")
	submitter := store.AddUser("smoke-submitter")
	reviewer := store.AddUser("smoke-reviewer")
	payer := store.AddUser("smoke-payer")

	grants := []authz.Permission{
		{DivisionID: division.ID, EntityID: submitter.ID, Type: authz.PermSubmit},
		{DivisionID: division.ID, EntityID: reviewer.ID, Type: authz.PermReview},
		{DivisionID: division.ID, EntityID: payer.ID, Type: authz.PermPay},
	}
	for _, g := range grants {
		if err := store.AddPermission(ctx, g); err != nil {
			log.Fatalf("grant %s: %v", g.Type, err)
		}
	}

	pilot := store.AddPilot(srp.Pilot{Name: "Smoke Pilot", UserID: submitter.ID})
	killmail := store.AddKillmail(srp.Killmail{
		UserID:    submitter.ID,
		PilotID:   pilot.ID,
		TypeID:    587,
		Timestamp: time.Now().UTC(),
		URL:       "https://example.com/kill/smoke",
	})

	request, err := srp.NewSubmissionActivity(store, submitter).
		SubmitRequest(ctx, "Smoke test loss.", division.ID, killmail.ID)
	if err != nil {
		log.Fatalf("submit: %v", err)
	}

	review, err := srp.NewRequestActivity(ctx, store, reviewer, request)
	if err != nil {
		log.Fatalf("review activity: %v", err)
	}
	if err := review.SetBasePayout(ctx, decimal.RequireFromString("100")); err != nil {
		log.Fatalf("set base payout: %v", err)
	}
	if _, err := review.AddAbsoluteModifier(ctx, decimal.RequireFromString("20"), "hull bonus"); err != nil {
		log.Fatalf("absolute modifier: %v", err)
	}
	if _, err := review.AddRelativeModifier(ctx, decimal.RequireFromString("0.10"), "fleet op"); err != nil {
		log.Fatalf("relative modifier: %v", err)
	}
	if _, err := review.Approve(ctx, "smoke approval"); err != nil {
		log.Fatalf("approve: %v", err)
	}

	payout, err := srp.NewRequestActivity(ctx, store, payer, request)
	if err != nil {
		log.Fatalf("payer activity: %v", err)
	}
	if _, err := payout.Pay(ctx, "smoke payout"); err != nil {
		log.Fatalf("pay: %v", err)
	}

	if got := request.Payout.String(); got != "132" {
		log.Fatalf("payout mismatch: expected 132, got %s", got)
	}
	if request.Status != srp.StatusPaid {
		log.Fatalf("status mismatch: expected paid, got %s", request.Status)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(request); err != nil {
		log.Fatalf("encode: %v", err)
	}
	fmt.Println("smoke test passed")
}
