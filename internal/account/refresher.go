package account

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// refreshTimeout bounds the outbound call to the token endpoint so a hung
// provider turns into ErrRefreshFailed instead of a stuck request.
const refreshTimeout = 10 * time.Second

// Refresher exchanges a refresh token for a new token pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Tokens, error)
}

type oauthRefresher struct {
	cfg    *oauth2.Config
	client *http.Client
}

// NewRefresher returns a Refresher backed by the provider's token endpoint
// configured in cfg. It performs a single outbound request per call and
// never retries.
func NewRefresher(cfg *oauth2.Config) Refresher {
	return &oauthRefresher{
		cfg:    cfg,
		client: &http.Client{Timeout: refreshTimeout},
	}
}

func (r *oauthRefresher) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)

	src := r.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return Tokens{}, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	if tok.AccessToken == "" {
		return Tokens{}, fmt.Errorf("%w: response missing access_token", ErrRefreshFailed)
	}

	out := Tokens{
		AccessToken: tok.AccessToken,
		ExpiresAt:   tok.Expiry,
	}
	// The provider may rotate the refresh token; surface it so the manager
	// can persist the replacement.
	if tok.RefreshToken != "" && tok.RefreshToken != refreshToken {
		out.RefreshToken = tok.RefreshToken
	}
	return out, nil
}
