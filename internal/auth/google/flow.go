// Package google implements the authorization-code flow against Google's
// OAuth endpoints and feeds the result into the account manager.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mailbeam/mailbeam/internal/account"
	"golang.org/x/oauth2"
)

const userinfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// flowTimeout bounds each outbound call of the callback leg (code exchange,
// userinfo fetch).
const flowTimeout = 10 * time.Second

var (
	// ErrAccessDenied means the user declined consent on the provider page.
	ErrAccessDenied = errors.New("consent denied")

	// ErrTokenExchangeFailed covers any failure exchanging the code.
	ErrTokenExchangeFailed = errors.New("token exchange failed")

	// ErrProfileFetchFailed covers any failure fetching userinfo with the
	// fresh access token.
	ErrProfileFetchFailed = errors.New("profile fetch failed")
)

// Flow orchestrates the three-step login: consent URL, code exchange,
// profile fetch, then upsert into the account manager.
type Flow struct {
	cfg         *oauth2.Config
	mgr         *account.Manager
	client      *http.Client
	state       string
	userinfoURL string
}

// NewFlow creates a Flow. The CSRF state token is a per-process nonce every
// callback must echo.
func NewFlow(cfg *oauth2.Config, mgr *account.Manager) *Flow {
	return &Flow{
		cfg:         cfg,
		mgr:         mgr,
		client:      &http.Client{Timeout: flowTimeout},
		state:       uuid.New().String(),
		userinfoURL: userinfoURL,
	}
}

// State returns the CSRF state token the callback must echo.
func (f *Flow) State() string {
	return f.state
}

// AuthCodeURL builds the consent URL. Offline access and forced re-consent
// are always requested: without prompt=consent Google silently withholds the
// refresh token on repeat logins, which leaves the session unrecoverable
// once the access token expires.
func (f *Flow) AuthCodeURL() string {
	return f.cfg.AuthCodeURL(f.state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// CompleteCallback finishes the flow for one callback request and returns
// the linked email. errParam is the provider's error query parameter; when
// present the flow fails with ErrAccessDenied before any outbound call.
// The newly linked account becomes active only when no account was active
// before, so re-authorizing an already linked account never switches the
// user's view.
func (f *Flow) CompleteCallback(ctx context.Context, code, errParam string) (string, error) {
	if errParam != "" {
		return "", fmt.Errorf("%w: %s", ErrAccessDenied, errParam)
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, flowTimeout)
	defer cancel()
	exchangeCtx = context.WithValue(exchangeCtx, oauth2.HTTPClient, f.client)

	tok, err := f.cfg.Exchange(exchangeCtx, code)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenExchangeFailed, err)
	}

	id, err := f.fetchProfile(ctx, tok.AccessToken)
	if err != nil {
		return "", err
	}

	activeBefore, err := f.mgr.ActiveEmail(ctx)
	if err != nil {
		return "", err
	}

	err = f.mgr.UpsertAccount(ctx, id, account.Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	})
	if err != nil {
		return "", err
	}

	if activeBefore == "" {
		if err := f.mgr.SetActiveAccount(ctx, id.Email); err != nil {
			return "", err
		}
	}
	return id.Email, nil
}

func (f *Flow) fetchProfile(ctx context.Context, accessToken string) (account.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, flowTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.userinfoURL, nil)
	if err != nil {
		return account.Identity{}, fmt.Errorf("%w: %v", ErrProfileFetchFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := f.client.Do(req)
	if err != nil {
		return account.Identity{}, fmt.Errorf("%w: %v", ErrProfileFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return account.Identity{}, fmt.Errorf("%w: userinfo returned %d", ErrProfileFetchFailed, resp.StatusCode)
	}

	var info struct {
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return account.Identity{}, fmt.Errorf("%w: %v", ErrProfileFetchFailed, err)
	}
	if info.Email == "" {
		return account.Identity{}, fmt.Errorf("%w: userinfo response missing email", ErrProfileFetchFailed)
	}

	return account.Identity{
		Email:       info.Email,
		DisplayName: info.Name,
		PictureURL:  info.Picture,
	}, nil
}
