package account

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mailbeam/mailbeam/internal/credstore"
)

// Active selects whichever account the store's active pointer references,
// falling back to the first linked account in insertion order.
const Active = "active"

// ExpiryMargin is the safety window before expiry within which a token is
// already treated as stale and refreshed.
const ExpiryMargin = 60 * time.Second

// storeTTL matches the one-year lifetime the account list had in the
// original cookie transport.
const storeTTL = 365 * 24 * time.Hour

// Manager owns the linked-account mapping and guarantees that every token it
// hands out is valid, refreshing proactively when one is expired or inside
// the safety margin.
type Manager struct {
	store     credstore.Store
	refresher Refresher
	now       func() time.Time

	// storeMu serializes read-modify-write cycles on the persisted account
	// list so a refresh for one account never clobbers a concurrent update
	// to another.
	storeMu sync.Mutex

	// refreshMu guards locks; each entry serializes refreshes for one email
	// so concurrent requests share a single outbound refresh call.
	refreshMu sync.Mutex
	locks     map[string]*sync.Mutex
}

// NewManager creates a Manager over the given credential store.
func NewManager(store credstore.Store, refresher Refresher) *Manager {
	return &Manager{
		store:     store,
		refresher: refresher,
		now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
	}
}

// GetValidToken resolves the selector (an email, or Active) to a linked
// account and returns a bearer token that is valid for at least
// ExpiryMargin. A refresh failure or a missing refresh token yields
// ErrNotAuthenticated; stale tokens are never returned.
func (m *Manager) GetValidToken(ctx context.Context, selector string) (string, error) {
	acc, err := m.resolve(ctx, selector)
	if err != nil {
		return "", err
	}
	if m.fresh(acc) {
		return acc.AccessToken, nil
	}
	if acc.RefreshToken == "" {
		return "", fmt.Errorf("token for %s expired with no refresh token: %w", acc.Email, ErrNotAuthenticated)
	}

	lock := m.refreshLock(acc.Email)
	lock.Lock()
	defer lock.Unlock()

	// Losers of the refresh race land here after the winner persisted its
	// result; reuse it instead of refreshing again.
	cur, err := m.lookup(ctx, acc.Email)
	if err != nil {
		return "", err
	}
	if m.fresh(cur) {
		return cur.AccessToken, nil
	}

	tokens, err := m.refresher.Refresh(ctx, cur.RefreshToken)
	if err != nil {
		log.Printf("❌ Refresh failed for %s: %v", acc.Email, err)
		return "", fmt.Errorf("refresh for %s: %w: %w", acc.Email, err, ErrNotAuthenticated)
	}
	err = m.mutate(ctx, acc.Email, func(a *LinkedAccount) {
		a.AccessToken = tokens.AccessToken
		a.ExpiresAt = tokens.ExpiresAt
		if tokens.RefreshToken != "" {
			a.RefreshToken = tokens.RefreshToken
		}
	})
	if err != nil {
		return "", err
	}
	log.Printf("✅ Refreshed token for %s (expires %s)", acc.Email, tokens.ExpiresAt.Format(time.RFC3339))
	return tokens.AccessToken, nil
}

// UpsertAccount links a new account or replaces the credentials of an
// existing one in place, preserving insertion order. A previously stored
// refresh token is retained when the new exchange did not supply one, since
// the provider only issues it on first consent.
func (m *Manager) UpsertAccount(ctx context.Context, id Identity, tokens Tokens) error {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()

	accounts, err := loadAccounts(ctx, m.store)
	if err != nil {
		return err
	}

	acc := LinkedAccount{
		Email:        id.Email,
		DisplayName:  id.DisplayName,
		PictureURL:   id.PictureURL,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.ExpiresAt,
	}

	if i := findAccount(accounts, id.Email); i >= 0 {
		if acc.RefreshToken == "" {
			acc.RefreshToken = accounts[i].RefreshToken
		}
		accounts[i] = acc
		log.Printf("🔗 Relinked account %s", id.Email)
	} else {
		accounts = append(accounts, acc)
		log.Printf("🔗 Linked account %s (%d total)", id.Email, len(accounts))
	}
	return saveAccounts(ctx, m.store, accounts, storeTTL)
}

// SetActiveAccount points the store at an already linked account. It never
// creates an account as a side effect.
func (m *Manager) SetActiveAccount(ctx context.Context, email string) error {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()

	accounts, err := loadAccounts(ctx, m.store)
	if err != nil {
		return err
	}
	if findAccount(accounts, email) < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, email)
	}
	return m.store.Set(ctx, activeKey, []byte(email), storeTTL)
}

// ActiveEmail returns the stored active-account pointer, or "" when none is
// set. Callers wanting the fallback-to-first behavior use the Active
// selector with GetValidToken instead.
func (m *Manager) ActiveEmail(ctx context.Context) (string, error) {
	return loadActive(ctx, m.store)
}

// ListAccounts returns the linked accounts in insertion order. Tokens are
// never included.
func (m *Manager) ListAccounts(ctx context.Context) ([]Summary, error) {
	accounts, err := loadAccounts(ctx, m.store)
	if err != nil {
		return nil, err
	}
	summaries := make([]Summary, 0, len(accounts))
	for _, a := range accounts {
		summaries = append(summaries, Summary{
			Email:       a.Email,
			DisplayName: a.DisplayName,
			PictureURL:  a.PictureURL,
		})
	}
	return summaries, nil
}

// UnlinkAccount removes a linked account. If it was the active one, the
// first remaining account is promoted, or the pointer is cleared when the
// store empties.
func (m *Manager) UnlinkAccount(ctx context.Context, email string) error {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()

	accounts, err := loadAccounts(ctx, m.store)
	if err != nil {
		return err
	}
	i := findAccount(accounts, email)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, email)
	}
	accounts = append(accounts[:i], accounts[i+1:]...)
	if err := saveAccounts(ctx, m.store, accounts, storeTTL); err != nil {
		return err
	}

	active, err := loadActive(ctx, m.store)
	if err != nil {
		return err
	}
	if active != email {
		return nil
	}
	if len(accounts) == 0 {
		return m.store.Delete(ctx, activeKey)
	}
	log.Printf("🔀 Unlinked active account %s, promoting %s", email, accounts[0].Email)
	return m.store.Set(ctx, activeKey, []byte(accounts[0].Email), storeTTL)
}

// Reset removes every linked account and the active pointer (logout).
func (m *Manager) Reset(ctx context.Context) error {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()

	if err := m.store.Delete(ctx, accountsKey); err != nil {
		return err
	}
	return m.store.Delete(ctx, activeKey)
}

func (m *Manager) fresh(acc LinkedAccount) bool {
	return acc.ExpiresAt.After(m.now().Add(ExpiryMargin))
}

// resolve maps a selector to a linked account. An explicit email that is not
// linked, or an empty store, resolves to ErrNotAuthenticated.
func (m *Manager) resolve(ctx context.Context, selector string) (LinkedAccount, error) {
	accounts, err := loadAccounts(ctx, m.store)
	if err != nil {
		return LinkedAccount{}, err
	}
	if len(accounts) == 0 {
		return LinkedAccount{}, fmt.Errorf("no linked accounts: %w", ErrNotAuthenticated)
	}

	email := selector
	if selector == "" || selector == Active {
		email, err = loadActive(ctx, m.store)
		if err != nil {
			return LinkedAccount{}, err
		}
		if email == "" {
			return accounts[0], nil
		}
	}

	if i := findAccount(accounts, email); i >= 0 {
		return accounts[i], nil
	}
	return LinkedAccount{}, fmt.Errorf("no linked account for %s: %w", email, ErrNotAuthenticated)
}

func (m *Manager) lookup(ctx context.Context, email string) (LinkedAccount, error) {
	accounts, err := loadAccounts(ctx, m.store)
	if err != nil {
		return LinkedAccount{}, err
	}
	if i := findAccount(accounts, email); i >= 0 {
		return accounts[i], nil
	}
	return LinkedAccount{}, fmt.Errorf("no linked account for %s: %w", email, ErrNotAuthenticated)
}

// mutate applies fn to one account under the store write lock, re-reading
// the current list first so concurrent updates to other accounts are never
// overwritten with a stale snapshot.
func (m *Manager) mutate(ctx context.Context, email string, fn func(*LinkedAccount)) error {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()

	accounts, err := loadAccounts(ctx, m.store)
	if err != nil {
		return err
	}
	i := findAccount(accounts, email)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, email)
	}
	fn(&accounts[i])
	return saveAccounts(ctx, m.store, accounts, storeTTL)
}

func (m *Manager) refreshLock(email string) *sync.Mutex {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	lock, ok := m.locks[email]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[email] = lock
	}
	return lock
}
