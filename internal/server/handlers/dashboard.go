package handlers

import (
	"html/template"
	"net/http"

	"github.com/mailbeam/mailbeam/internal/account"
	"github.com/mailbeam/mailbeam/internal/version"
)

var dashboardTmpl = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="UTF-8">
	<title>Mailbeam</title>
	<style>
		body { font-family: -apple-system, BlinkMacSystemFont, sans-serif; max-width: 600px; margin: 50px auto; padding: 20px; background: #1a1a2e; color: #eee; }
		a { color: #4ade80; }
		li { margin: 8px 0; }
		.active { color: #fbbf24; }
		.version { color: #9ca3af; font-size: 0.8em; margin-top: 30px; }
	</style>
</head>
<body>
	<h1>Mailbeam</h1>
	{{if .Accounts}}
	<p>Linked accounts:</p>
	<ul>
		{{range .Accounts}}
		<li>{{.DisplayName}} &lt;{{.Email}}&gt;{{if eq .Email $.Active}} <span class="active">(active)</span>{{end}}</li>
		{{end}}
	</ul>
	{{else}}
	<p>No accounts linked yet.</p>
	{{end}}
	<p><a href="/auth/google/login">Add a Gmail account</a></p>
	<p class="version">mailbeam {{.Version}}</p>
</body>
</html>`))

// DashboardHandler serves a minimal status page listing linked accounts with
// a login link. The real inbox UI is a separate front-end.
func DashboardHandler(mgr *account.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accounts, err := mgr.ListAccounts(r.Context())
		if err != nil {
			http.Error(w, "accounts unavailable", http.StatusInternalServerError)
			return
		}
		active, _ := mgr.ActiveEmail(r.Context())
		if active == "" && len(accounts) > 0 {
			active = accounts[0].Email
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		dashboardTmpl.Execute(w, struct {
			Accounts []account.Summary
			Active   string
			Version  string
		}{accounts, active, version.Version})
	}
}
