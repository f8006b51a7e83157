package account

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mailbeam/mailbeam/internal/credstore"
)

type fakeRefresher struct {
	mu     sync.Mutex
	calls  int
	tokens Tokens
	err    error
	delay  time.Duration
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return Tokens{}, f.err
	}
	return f.tokens, nil
}

func (f *fakeRefresher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestManager(t *testing.T, refresher Refresher) *Manager {
	t.Helper()
	return NewManager(credstore.NewMemory(), refresher)
}

func link(t *testing.T, mgr *Manager, email, access, refresh string, expiresIn time.Duration) {
	t.Helper()
	err := mgr.UpsertAccount(context.Background(), Identity{Email: email, DisplayName: email}, Tokens{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    time.Now().Add(expiresIn),
	})
	if err != nil {
		t.Fatalf("upsert %s: %v", email, err)
	}
}

func TestGetValidToken_FreshTokenSkipsRefresh(t *testing.T) {
	ref := &fakeRefresher{}
	mgr := newTestManager(t, ref)
	link(t, mgr, "a@x.com", "A1", "R1", time.Hour)

	token, err := mgr.GetValidToken(context.Background(), "a@x.com")
	if err != nil {
		t.Fatalf("GetValidToken: %v", err)
	}
	if token != "A1" {
		t.Errorf("token = %q, want A1", token)
	}
	if ref.callCount() != 0 {
		t.Errorf("refresh calls = %d, want 0", ref.callCount())
	}
}

func TestGetValidToken_ActiveResolution(t *testing.T) {
	ref := &fakeRefresher{}
	mgr := newTestManager(t, ref)
	ctx := context.Background()

	if _, err := mgr.GetValidToken(ctx, Active); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("empty store: err = %v, want ErrNotAuthenticated", err)
	}

	link(t, mgr, "a@x.com", "A1", "R1", time.Hour)
	link(t, mgr, "b@x.com", "B1", "R2", time.Hour)

	// No active pointer set: fall back to first in insertion order.
	token, err := mgr.GetValidToken(ctx, Active)
	if err != nil {
		t.Fatalf("GetValidToken: %v", err)
	}
	if token != "A1" {
		t.Errorf("fallback token = %q, want A1", token)
	}

	if err := mgr.SetActiveAccount(ctx, "b@x.com"); err != nil {
		t.Fatalf("SetActiveAccount: %v", err)
	}
	token, err = mgr.GetValidToken(ctx, Active)
	if err != nil {
		t.Fatalf("GetValidToken: %v", err)
	}
	if token != "B1" {
		t.Errorf("active token = %q, want B1", token)
	}
}

func TestGetValidToken_RefreshesExpiredToken(t *testing.T) {
	ref := &fakeRefresher{tokens: Tokens{AccessToken: "A2", ExpiresAt: time.Now().Add(time.Hour)}}
	mgr := newTestManager(t, ref)
	link(t, mgr, "a@x.com", "A1", "R1", time.Hour)

	// Advance the clock past the stored expiry.
	mgr.now = func() time.Time { return time.Now().Add(3601 * time.Second) }

	token, err := mgr.GetValidToken(context.Background(), "a@x.com")
	if err != nil {
		t.Fatalf("GetValidToken: %v", err)
	}
	if token != "A2" {
		t.Errorf("token = %q, want A2", token)
	}
	if ref.callCount() != 1 {
		t.Errorf("refresh calls = %d, want 1", ref.callCount())
	}

	// The refreshed token was persisted: a second call needs no refresh.
	mgr.now = time.Now
	token, err = mgr.GetValidToken(context.Background(), "a@x.com")
	if err != nil {
		t.Fatalf("second GetValidToken: %v", err)
	}
	if token != "A2" {
		t.Errorf("second token = %q, want A2", token)
	}
	if ref.callCount() != 1 {
		t.Errorf("refresh calls after reuse = %d, want 1", ref.callCount())
	}
}

func TestGetValidToken_WithinMarginTriggersRefresh(t *testing.T) {
	ref := &fakeRefresher{tokens: Tokens{AccessToken: "A2", ExpiresAt: time.Now().Add(time.Hour)}}
	mgr := newTestManager(t, ref)
	link(t, mgr, "a@x.com", "A1", "R1", 30*time.Second) // inside the 60s margin

	token, err := mgr.GetValidToken(context.Background(), "a@x.com")
	if err != nil {
		t.Fatalf("GetValidToken: %v", err)
	}
	if token != "A2" {
		t.Errorf("token = %q, want A2", token)
	}
	if ref.callCount() != 1 {
		t.Errorf("refresh calls = %d, want 1", ref.callCount())
	}
}

func TestGetValidToken_RefreshFailure(t *testing.T) {
	ref := &fakeRefresher{err: ErrRefreshFailed}
	mgr := newTestManager(t, ref)
	link(t, mgr, "a@x.com", "A1", "R1", -time.Minute)

	_, err := mgr.GetValidToken(context.Background(), "a@x.com")
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("err = %v, want ErrNotAuthenticated", err)
	}
	if !errors.Is(err, ErrRefreshFailed) {
		t.Errorf("err = %v, should carry ErrRefreshFailed", err)
	}
}

func TestGetValidToken_ExpiredWithoutRefreshToken(t *testing.T) {
	ref := &fakeRefresher{}
	mgr := newTestManager(t, ref)
	link(t, mgr, "a@x.com", "A1", "", -time.Minute)

	_, err := mgr.GetValidToken(context.Background(), "a@x.com")
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("err = %v, want ErrNotAuthenticated", err)
	}
	if ref.callCount() != 0 {
		t.Errorf("refresh calls = %d, want 0", ref.callCount())
	}
}

func TestGetValidToken_UnknownEmail(t *testing.T) {
	mgr := newTestManager(t, &fakeRefresher{})
	link(t, mgr, "a@x.com", "A1", "R1", time.Hour)

	_, err := mgr.GetValidToken(context.Background(), "nobody@x.com")
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("err = %v, want ErrNotAuthenticated", err)
	}
}

func TestGetValidToken_SingleFlight(t *testing.T) {
	ref := &fakeRefresher{
		tokens: Tokens{AccessToken: "A2", ExpiresAt: time.Now().Add(time.Hour)},
		delay:  50 * time.Millisecond,
	}
	mgr := newTestManager(t, ref)
	link(t, mgr, "a@x.com", "A1", "R1", -time.Minute)

	const concurrency = 4
	tokens := make([]string, concurrency)
	errs := make([]error, concurrency)
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = mgr.GetValidToken(context.Background(), "a@x.com")
		}(i)
	}
	wg.Wait()

	for i := 0; i < concurrency; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d: %v", i, errs[i])
		}
		if tokens[i] != "A2" {
			t.Errorf("request %d token = %q, want A2", i, tokens[i])
		}
	}
	if ref.callCount() != 1 {
		t.Errorf("refresh calls = %d, want 1 (single-flight)", ref.callCount())
	}
}

func TestUpsertAccount_IdempotentAndRetainsRefreshToken(t *testing.T) {
	mgr := newTestManager(t, &fakeRefresher{})
	ctx := context.Background()

	link(t, mgr, "a@x.com", "A1", "R1", time.Hour)
	link(t, mgr, "b@x.com", "B1", "R2", time.Hour)

	// Re-login for a@x.com: Google omits the refresh token on repeat consent
	// unless rotated; the stored one must survive.
	link(t, mgr, "a@x.com", "A2", "", time.Hour)

	accounts, err := loadAccounts(ctx, mgr.store)
	if err != nil {
		t.Fatalf("loadAccounts: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("account count = %d, want 2", len(accounts))
	}
	if accounts[0].Email != "a@x.com" || accounts[1].Email != "b@x.com" {
		t.Errorf("order = [%s, %s], want [a@x.com, b@x.com]", accounts[0].Email, accounts[1].Email)
	}
	if accounts[0].AccessToken != "A2" {
		t.Errorf("access token = %q, want A2", accounts[0].AccessToken)
	}
	if accounts[0].RefreshToken != "R1" {
		t.Errorf("refresh token = %q, want retained R1", accounts[0].RefreshToken)
	}
}

func TestSetActiveAccount_NotFound(t *testing.T) {
	mgr := newTestManager(t, &fakeRefresher{})
	ctx := context.Background()
	link(t, mgr, "a@x.com", "A1", "R1", time.Hour)

	err := mgr.SetActiveAccount(ctx, "nobody@x.com")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	// The mapping itself is untouched.
	accounts, _ := loadAccounts(ctx, mgr.store)
	if len(accounts) != 1 {
		t.Errorf("account count = %d, want 1", len(accounts))
	}
	active, _ := mgr.ActiveEmail(ctx)
	if active != "" {
		t.Errorf("active = %q, want empty", active)
	}
}

func TestListAccounts_NeverExposesTokens(t *testing.T) {
	mgr := newTestManager(t, &fakeRefresher{})
	link(t, mgr, "a@x.com", "SECRET-ACCESS", "SECRET-REFRESH", time.Hour)
	link(t, mgr, "b@x.com", "B1", "R2", time.Hour)

	summaries, err := mgr.ListAccounts(context.Background())
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("summary count = %d, want 2", len(summaries))
	}
	if summaries[0].Email != "a@x.com" || summaries[1].Email != "b@x.com" {
		t.Errorf("order = [%s, %s], want insertion order", summaries[0].Email, summaries[1].Email)
	}

	blob, err := json.Marshal(summaries)
	if err != nil {
		t.Fatalf("marshal summaries: %v", err)
	}
	if strings.Contains(string(blob), "SECRET") || strings.Contains(string(blob), "token") {
		t.Errorf("serialized summaries leak token material: %s", blob)
	}
}

func TestUnlinkAccount(t *testing.T) {
	mgr := newTestManager(t, &fakeRefresher{})
	ctx := context.Background()

	if err := mgr.UnlinkAccount(ctx, "nobody@x.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unlink unknown: err = %v, want ErrNotFound", err)
	}

	link(t, mgr, "a@x.com", "A1", "R1", time.Hour)
	link(t, mgr, "b@x.com", "B1", "R2", time.Hour)
	if err := mgr.SetActiveAccount(ctx, "a@x.com"); err != nil {
		t.Fatalf("SetActiveAccount: %v", err)
	}

	// Removing the active account promotes the first remaining one.
	if err := mgr.UnlinkAccount(ctx, "a@x.com"); err != nil {
		t.Fatalf("UnlinkAccount: %v", err)
	}
	active, _ := mgr.ActiveEmail(ctx)
	if active != "b@x.com" {
		t.Errorf("active after unlink = %q, want b@x.com", active)
	}

	// Removing the last account clears the pointer.
	if err := mgr.UnlinkAccount(ctx, "b@x.com"); err != nil {
		t.Fatalf("UnlinkAccount: %v", err)
	}
	active, _ = mgr.ActiveEmail(ctx)
	if active != "" {
		t.Errorf("active after last unlink = %q, want empty", active)
	}
}

func TestReset(t *testing.T) {
	mgr := newTestManager(t, &fakeRefresher{})
	ctx := context.Background()
	link(t, mgr, "a@x.com", "A1", "R1", time.Hour)
	if err := mgr.SetActiveAccount(ctx, "a@x.com"); err != nil {
		t.Fatalf("SetActiveAccount: %v", err)
	}

	if err := mgr.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	summaries, _ := mgr.ListAccounts(ctx)
	if len(summaries) != 0 {
		t.Errorf("accounts after reset = %d, want 0", len(summaries))
	}
	active, _ := mgr.ActiveEmail(ctx)
	if active != "" {
		t.Errorf("active after reset = %q, want empty", active)
	}
}

func TestRefreshTokenRotationIsPersisted(t *testing.T) {
	ref := &fakeRefresher{tokens: Tokens{
		AccessToken:  "A2",
		RefreshToken: "R2",
		ExpiresAt:    time.Now().Add(time.Hour),
	}}
	mgr := newTestManager(t, ref)
	link(t, mgr, "a@x.com", "A1", "R1", -time.Minute)

	if _, err := mgr.GetValidToken(context.Background(), "a@x.com"); err != nil {
		t.Fatalf("GetValidToken: %v", err)
	}

	accounts, _ := loadAccounts(context.Background(), mgr.store)
	if accounts[0].RefreshToken != "R2" {
		t.Errorf("refresh token = %q, want rotated R2", accounts[0].RefreshToken)
	}
}
