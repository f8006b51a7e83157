package main

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/mailbeam/mailbeam/internal/account"
	"github.com/mailbeam/mailbeam/internal/auth/google"
	"github.com/mailbeam/mailbeam/internal/config"
	"github.com/mailbeam/mailbeam/internal/credstore"
	"github.com/mailbeam/mailbeam/internal/gmail"
	"github.com/mailbeam/mailbeam/internal/logging"
	"github.com/mailbeam/mailbeam/internal/server/handlers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	store, err := credstore.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open credential store: %v", err)
	}

	oauthCfg := google.OAuthConfig(cfg.ClientID, cfg.ClientSecret, cfg.RedirectURL())
	manager := account.NewManager(store, account.NewRefresher(oauthCfg))
	flow := google.NewFlow(oauthCfg, manager)
	gmailClient := gmail.NewClient()

	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(logging.RequestID)

	// Dashboard
	r.Get("/", handlers.DashboardHandler(manager))

	// OAuth flow
	r.Get("/auth/google/login", handlers.LoginHandler(flow))
	r.Get("/auth/google/callback", handlers.CallbackHandler(flow))

	r.Route("/api", func(r chi.Router) {
		// Account management
		r.Get("/accounts", handlers.AccountsHandler(manager))
		r.Post("/accounts/switch", handlers.SwitchAccountHandler(manager))
		r.Delete("/accounts/{email}", handlers.UnlinkAccountHandler(manager))
		r.Post("/logout", handlers.LogoutHandler(manager))

		// Gmail proxy
		r.Route("/gmail", func(r chi.Router) {
			r.Get("/messages", handlers.ListMessagesHandler(manager, gmailClient))
			r.Get("/message/{id}", handlers.GetMessageHandler(manager, gmailClient))
			r.Post("/message/{id}/archive", handlers.ArchiveHandler(manager, gmailClient))
			r.Post("/message/{id}/trash", handlers.TrashHandler(manager, gmailClient))
			r.Post("/message/{id}/spam", handlers.SpamHandler(manager, gmailClient))
			r.Post("/send", handlers.SendHandler(manager, gmailClient))
		})
	})

	log.Printf("🚀 Mailbeam starting on http://%s", cfg.Addr())
	log.Printf("🔐 OAuth callback: %s", cfg.RedirectURL())
	if err := http.ListenAndServe(cfg.Addr(), r); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
