package authn

import (
	"context"
	"errors"
	"testing"
	"time"
)

func withSecret(t *testing.T, value string) {
	t.Helper()
	ResetSecretForTests()
	t.Setenv("SRP_AUTH_SECRET", value)
	t.Cleanup(ResetSecretForTests)
}

func TestGenerateAndValidate(t *testing.T) {
	withSecret(t, "unit-test-secret")

	token, err := GenerateToken(42, "Paxswill", 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	id, err := claims.UserID()
	if err != nil || id != 42 {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Name != "Paxswill" {
		t.Fatalf("unexpected name claim: %s", claims.Name)
	}
	if claims.ID == "" {
		t.Fatal("token id missing")
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	withSecret(t, "unit-test-secret")

	token, err := GenerateToken(7, "", time.Nanosecond)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	withSecret(t, "first-secret")
	token, err := GenerateToken(7, "", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	withSecret(t, "second-secret")
	if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestGenerateWithoutSecret(t *testing.T) {
	withSecret(t, "")
	if _, err := GenerateToken(1, "", time.Minute); err == nil {
		t.Fatal("expected error without configured secret")
	}
}

func TestAccounts(t *testing.T) {
	ctx := context.Background()
	accounts := NewAccounts()
	if err := accounts.Register("Paxswill", 42, "hunter2"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	id, err := accounts.Authenticate(ctx, "paxswill", "hunter2")
	if err != nil || id != 42 {
		t.Fatalf("Authenticate: id=%d err=%v", id, err)
	}
	if _, err := accounts.Authenticate(ctx, "paxswill", "wrong"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrong password: %v", err)
	}
	if _, err := accounts.Authenticate(ctx, "nobody", "hunter2"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unknown account: %v", err)
	}
}

func TestContextIdentity(t *testing.T) {
	ctx := context.Background()
	if _, ok := UserIDFromContext(ctx); ok {
		t.Fatal("identity reported on empty context")
	}
	ctx = ContextWithIdentity(ctx, Identity{UserID: 9, Name: "payer"})
	id, ok := IdentityFromContext(ctx)
	if !ok || id.UserID != 9 || id.Name != "payer" {
		t.Fatalf("unexpected identity: %+v ok=%v", id, ok)
	}
}
