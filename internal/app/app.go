// Package app wires the relay's components together and owns the HTTP
// router and the operational endpoints (/status, /check).
package app

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"azure-openai-relay/internal/azure"
	"azure-openai-relay/internal/config"
	"azure-openai-relay/internal/relay"
)

// The production upstream client must satisfy the relay's view of it.
var _ relay.UpstreamClient = (*azure.Client)(nil)

// App represents the assembled application: configuration, the upstream
// client, the conversation relay, and the router serving them.
type App struct {
	Router chi.Router
	Relay  *relay.Relay
	Client *azure.Client

	cfg *config.Config
}

// New assembles an App from configuration: credential supplier, upstream
// client, session store, relay, and routes.
func New(cfg *config.Config) *App {
	credential := azure.NewClientCredential(azure.CredentialConfig{
		TenantID:     cfg.TenantID,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scope:        cfg.TokenScope,
	})

	client := azure.NewClient(azure.ClientConfig{
		Endpoint:   cfg.Endpoint,
		APIVersion: cfg.APIVersion,
		Tokens:     credential,
	})

	rly := relay.New(relay.NewSessionStore(), client)

	a := &App{
		Router: chi.NewRouter(),
		Relay:  rly,
		Client: client,
		cfg:    cfg,
	}
	a.initializeRoutes()
	return a
}

func (a *App) initializeRoutes() {
	a.Router.Use(corsMiddleware)
	a.Router.Get("/status", a.handleStatus)
	a.Router.Get("/check", a.handleCheck)

	state := relay.NewServerState(a.Relay, a.cfg.DefaultModel)
	state.RegisterRoutes(a.Router)
}

// corsMiddleware allows browser clients (and API doc UIs) from any origin,
// matching the relay's open-proxy posture.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "ok",
		"endpoint": a.cfg.Endpoint,
		"model":    a.cfg.DefaultModel,
		"sessions": a.Relay.Store().Len(),
	})
}

// handleCheck sends a minimal completion upstream to verify the endpoint
// and credentials are working.
func (a *App) handleCheck(w http.ResponseWriter, r *http.Request) {
	response, err := a.Client.Ping(r.Context(), a.cfg.DefaultModel)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"status": "error", "detail": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "success", "response": response})
}
