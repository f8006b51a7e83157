package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/mailbeam/mailbeam/internal/account"
	"github.com/mailbeam/mailbeam/internal/gmail"
)

const defaultMaxResults = 100

// ListMessagesHandler proxies the inbox listing with per-message metadata.
func ListMessagesHandler(mgr *account.Manager, gc *gmail.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := mgr.GetValidToken(r.Context(), accountSelector(r))
		if err != nil {
			writeGmailError(w, r, err)
			return
		}

		opts := gmail.ListOptions{MaxResults: defaultMaxResults}
		q := r.URL.Query()
		if v := q.Get("maxResults"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				opts.MaxResults = n
			}
		}
		opts.PageToken = q.Get("pageToken")
		opts.Query = q.Get("q")

		list, err := gc.ListMessages(r.Context(), token, opts)
		if err != nil {
			writeGmailError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// GetMessageHandler returns one message with the full payload.
func GetMessageHandler(mgr *account.Manager, gc *gmail.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := mgr.GetValidToken(r.Context(), accountSelector(r))
		if err != nil {
			writeGmailError(w, r, err)
			return
		}

		msg, err := gc.GetMessage(r.Context(), token, chi.URLParam(r, "id"))
		if err != nil {
			writeGmailError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	}
}

// triageHandler wraps the archive/trash/spam actions, which only differ in
// the gateway call.
func triageHandler(mgr *account.Manager, action func(r *http.Request, token, id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := mgr.GetValidToken(r.Context(), accountSelector(r))
		if err != nil {
			writeGmailError(w, r, err)
			return
		}

		if err := action(r, token, chi.URLParam(r, "id")); err != nil {
			writeGmailError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

// ArchiveHandler removes a message from the inbox.
func ArchiveHandler(mgr *account.Manager, gc *gmail.Client) http.HandlerFunc {
	return triageHandler(mgr, func(r *http.Request, token, id string) error {
		return gc.Archive(r.Context(), token, id)
	})
}

// TrashHandler moves a message to the trash.
func TrashHandler(mgr *account.Manager, gc *gmail.Client) http.HandlerFunc {
	return triageHandler(mgr, func(r *http.Request, token, id string) error {
		return gc.Trash(r.Context(), token, id)
	})
}

// SpamHandler marks a message as spam.
func SpamHandler(mgr *account.Manager, gc *gmail.Client) http.HandlerFunc {
	return triageHandler(mgr, func(r *http.Request, token, id string) error {
		return gc.MarkSpam(r.Context(), token, id)
	})
}

// SendHandler sends a composed message, optionally as a threaded reply.
func SendHandler(mgr *account.Manager, gc *gmail.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := mgr.GetValidToken(r.Context(), accountSelector(r))
		if err != nil {
			writeGmailError(w, r, err)
			return
		}

		var out gmail.OutgoingMessage
		if err := json.NewDecoder(r.Body).Decode(&out); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body")
			return
		}
		if err := out.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, "missing_required_fields")
			return
		}

		msg, err := gc.Send(r.Context(), token, &out)
		if err != nil {
			writeGmailError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	}
}
