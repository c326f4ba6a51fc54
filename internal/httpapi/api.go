package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"srphub.org/internal/authn"
	"srphub.org/internal/events"
	"srphub.org/internal/obs"
	"srphub.org/internal/srp"
	"srphub.org/internal/stream"
)

// ReadyProbe reports whether the backing store is reachable.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer. All request mutations go through the authorized
// activity layer; handlers never touch request state directly.
type API struct {
	mux      *http.ServeMux
	store    srp.Store
	accounts *authn.Accounts
	tokenTTL time.Duration
	stream   *stream.Stream
	events   events.Publisher
	probe    ReadyProbe
	version  string
	adminID  int64
}

// Option configures the API.
type Option func(*API)

// WithAccounts enables the login endpoint backed by the given registry.
func WithAccounts(accounts *authn.Accounts, tokenTTL time.Duration) Option {
	return func(a *API) {
		a.accounts = accounts
		a.tokenTTL = tokenTTL
	}
}

// WithStream enables the SSE status stream.
func WithStream(s *stream.Stream) Option {
	return func(a *API) { a.stream = s }
}

// WithEvents enables AMQP lifecycle event publishing.
func WithEvents(p events.Publisher) Option {
	return func(a *API) { a.events = p }
}

// WithReadyProbe wires the readiness check.
func WithReadyProbe(rp ReadyProbe) Option {
	return func(a *API) { a.probe = rp }
}

// WithVersion sets the version reported by health and info endpoints.
func WithVersion(version string) Option {
	return func(a *API) { a.version = version }
}

// WithSiteAdmin marks the user allowed to create users, groups and
// divisions. Division-scoped permission management stays with division
// admins.
func WithSiteAdmin(userID int64) Option {
	return func(a *API) { a.adminID = userID }
}

func New(store srp.Store, opts ...Option) *API {
	a := &API{
		mux:     http.NewServeMux(),
		store:   store,
		events:  events.Fallback{},
		version: "dev",
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// authentication
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)

	// reimbursement requests
	a.mux.HandleFunc("/v1/requests", a.handleRequestsCollection)
	a.mux.HandleFunc("/v1/requests/", a.handleRequestResource)
	a.mux.HandleFunc("/v1/modifiers/", a.handleModifierResource)
	a.mux.HandleFunc("/v1/killmails", a.handleKillmails)

	// divisions and permissions
	a.mux.HandleFunc("/v1/divisions", a.handleDivisionsCollection)
	a.mux.HandleFunc("/v1/divisions/", a.handleDivisionResource)

	// site administration
	a.mux.HandleFunc("/v1/admin/users", a.handleAdminUsers)
	a.mux.HandleFunc("/v1/admin/groups", a.handleAdminGroups)
	a.mux.HandleFunc("/v1/admin/groups/", a.handleAdminGroupMembers)

	// SSE status stream
	a.mux.HandleFunc("/v1/stream", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the instrumented handler. Outer middleware (logging,
// CORS, rate limiting) is assembled by the caller.
func (a *API) Handler() http.Handler {
	return obs.Instrument(RequestID(a.withAuth(a.mux)))
}

// atomic scopes fn to one store transaction when the store supports it.
func (a *API) atomic(ctx context.Context, fn func(srp.Store) error) error {
	if tx, ok := a.store.(srp.TxStore); ok {
		return tx.Atomic(ctx, fn)
	}
	return fn(a.store)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "srp-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.probe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "srp-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
