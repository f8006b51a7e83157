package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mailbeam/mailbeam/internal/account"
	"github.com/mailbeam/mailbeam/internal/auth/google"
)

// LoginHandler starts the consent flow by redirecting to Google.
func LoginHandler(flow *google.Flow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, flow.AuthCodeURL(), http.StatusTemporaryRedirect)
	}
}

// CallbackHandler completes the consent flow. Failures redirect back to the
// entry page with a machine-readable error code, matching what the UI shows.
func CallbackHandler(flow *google.Flow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != flow.State() {
			http.Error(w, "invalid state token", http.StatusBadRequest)
			return
		}

		email, err := flow.CompleteCallback(r.Context(), q.Get("code"), q.Get("error"))
		if err != nil {
			log.Printf("oauth callback failed: %v", err)
			http.Redirect(w, r, "/?error="+callbackErrorCode(err), http.StatusTemporaryRedirect)
			return
		}

		log.Printf("oauth callback linked %s", email)
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
	}
}

func callbackErrorCode(err error) string {
	switch {
	case errors.Is(err, google.ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, google.ErrTokenExchangeFailed):
		return "token_exchange_failed"
	case errors.Is(err, google.ErrProfileFetchFailed):
		return "profile_fetch_failed"
	default:
		return "oauth_failed"
	}
}

// AccountsHandler returns the linked accounts without any token material,
// plus the account the next Gmail call would default to.
func AccountsHandler(mgr *account.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accounts, err := mgr.ListAccounts(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "accounts_unavailable")
			return
		}
		active, err := mgr.ActiveEmail(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "accounts_unavailable")
			return
		}
		if active == "" && len(accounts) > 0 {
			active = accounts[0].Email
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"accounts":      accounts,
			"activeAccount": active,
		})
	}
}

// SwitchAccountHandler changes the active account. Unknown emails are a 404,
// never an implicit link.
func SwitchAccountHandler(mgr *account.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email string `json:"email"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
			writeError(w, http.StatusBadRequest, "email_required")
			return
		}

		if err := mgr.SetActiveAccount(r.Context(), req.Email); err != nil {
			if errors.Is(err, account.ErrNotFound) {
				writeError(w, http.StatusNotFound, "account_not_found")
				return
			}
			writeError(w, http.StatusInternalServerError, "switch_failed")
			return
		}
		log.Printf("switched active account to %s", req.Email)
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

// UnlinkAccountHandler removes a linked account.
func UnlinkAccountHandler(mgr *account.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email := chi.URLParam(r, "email")
		if err := mgr.UnlinkAccount(r.Context(), email); err != nil {
			if errors.Is(err, account.ErrNotFound) {
				writeError(w, http.StatusNotFound, "account_not_found")
				return
			}
			writeError(w, http.StatusInternalServerError, "unlink_failed")
			return
		}
		log.Printf("unlinked account %s", email)
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

// LogoutHandler clears every linked account.
func LogoutHandler(mgr *account.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := mgr.Reset(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, "logout_failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}
