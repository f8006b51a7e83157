// Package handlers contains the per-route HTTP handlers. Every handler that
// talks to Gmail borrows a valid token from the account manager; none of
// them read persisted credentials directly.
package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/mailbeam/mailbeam/internal/account"
	"github.com/mailbeam/mailbeam/internal/gmail"
	"github.com/mailbeam/mailbeam/internal/logging"
)

// AccountHeader selects an explicit account for one request. Absent, the
// active account is used.
const AccountHeader = "X-Mailbeam-Account"

func accountSelector(r *http.Request) string {
	if email := r.Header.Get(AccountHeader); email != "" {
		return email
	}
	return account.Active
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError emits a machine-readable reason code, never a raw transport
// error.
func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// writeGmailError normalizes failures from the token manager and the Gmail
// gateway: missing/unrefreshable credentials and upstream 401s become a 401
// prompting re-authentication, everything else upstream is a 502.
func writeGmailError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, account.ErrNotAuthenticated) {
		writeError(w, http.StatusUnauthorized, "not_authenticated")
		return
	}
	var se *gmail.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized {
		writeError(w, http.StatusUnauthorized, "reauthentication_required")
		return
	}
	log.Printf("[%s] gmail request failed: %v", logging.GetRequestID(r.Context()), err)
	writeError(w, http.StatusBadGateway, "gmail_unavailable")
}
