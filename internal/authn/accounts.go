package authn

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrUnauthorized indicates the supplied credentials did not match an
// account.
var ErrUnauthorized = errors.New("unauthorized")

type account struct {
	userID int64
	hash   string
}

// Accounts maps login names to domain user ids and password hashes. It backs
// the login endpoint; permission resolution stays with the engine store.
type Accounts struct {
	mu       sync.RWMutex
	accounts map[string]account
}

// NewAccounts returns an empty credential registry.
func NewAccounts() *Accounts {
	return &Accounts{accounts: make(map[string]account)}
}

// Register stores credentials for a user. The password is hashed before it
// is retained; the plaintext is never stored.
func (a *Accounts) Register(name string, userID int64, password string) error {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return errors.New("account name is required")
	}
	if userID <= 0 {
		return errors.New("userID is required")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accounts[name] = account{userID: userID, hash: hash}
	return nil
}

// Authenticate verifies the credentials and returns the account's user id.
// Unknown names and wrong passwords both report ErrUnauthorized.
func (a *Accounts) Authenticate(ctx context.Context, name, password string) (int64, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" || password == "" {
		return 0, ErrUnauthorized
	}
	a.mu.RLock()
	acct, ok := a.accounts[name]
	a.mu.RUnlock()
	if !ok {
		return 0, ErrUnauthorized
	}
	if err := VerifyPassword(acct.hash, password); err != nil {
		return 0, ErrUnauthorized
	}
	return acct.userID, nil
}
