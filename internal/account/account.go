// Package account is the single source of truth for linked Gmail accounts
// and their OAuth credentials. Every route that needs a bearer token asks
// the Manager here instead of parsing persisted state itself.
package account

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mailbeam/mailbeam/internal/credstore"
)

// Store keys. The serialized account list lives under one key, the active
// account pointer under a second.
const (
	accountsKey = "gmail_accounts"
	activeKey   = "active_account"
)

// LinkedAccount is one Gmail identity connected by the user.
// ExpiresAt is always set whenever AccessToken is set.
type LinkedAccount struct {
	Email        string    `json:"email"`
	DisplayName  string    `json:"name"`
	PictureURL   string    `json:"picture,omitempty"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Summary is the token-free view of a linked account exposed to clients.
type Summary struct {
	Email       string `json:"email"`
	DisplayName string `json:"name"`
	PictureURL  string `json:"picture,omitempty"`
}

// Identity carries the profile fields returned by the provider's userinfo
// endpoint.
type Identity struct {
	Email       string
	DisplayName string
	PictureURL  string
}

// Tokens is a credential pair from a code exchange or refresh.
// RefreshToken may be empty: the provider only issues one on first consent
// and on rotation.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// loadAccounts reads the insertion-ordered account list from the store.
// An absent key is an empty list, not an error.
func loadAccounts(ctx context.Context, store credstore.Store) ([]LinkedAccount, error) {
	blob, ok, err := store.Get(ctx, accountsKey)
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var accounts []LinkedAccount
	if err := json.Unmarshal(blob, &accounts); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	return accounts, nil
}

func saveAccounts(ctx context.Context, store credstore.Store, accounts []LinkedAccount, ttl time.Duration) error {
	blob, err := json.Marshal(accounts)
	if err != nil {
		return fmt.Errorf("encode accounts: %w", err)
	}
	if err := store.Set(ctx, accountsKey, blob, ttl); err != nil {
		return fmt.Errorf("save accounts: %w", err)
	}
	return nil
}

func loadActive(ctx context.Context, store credstore.Store) (string, error) {
	blob, ok, err := store.Get(ctx, activeKey)
	if err != nil {
		return "", fmt.Errorf("load active account: %w", err)
	}
	if !ok {
		return "", nil
	}
	return string(blob), nil
}

func findAccount(accounts []LinkedAccount, email string) int {
	for i := range accounts {
		if accounts[i].Email == email {
			return i
		}
	}
	return -1
}
