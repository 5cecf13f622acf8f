// Package api is the JSON HTTP surface of the dashboard.
//
// Every response is an envelope: {"ok":true,...} on success and
// {"ok":false,"error":...} otherwise.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/GladstoneOG/wabot/internal/activity"
	"github.com/GladstoneOG/wabot/internal/campaign"
	"github.com/GladstoneOG/wabot/internal/manager"
	"github.com/GladstoneOG/wabot/internal/session"
	"github.com/GladstoneOG/wabot/pkg/logx"
)

// Manager is the part of manager.Manager the handlers use.
type Manager interface {
	Status() manager.Status
	RequestLogin(ctx context.Context) (session.LoginResult, error)
	Logout(ctx context.Context) error
	Config() campaign.Snapshot
	UpdateConfig(ctx context.Context, cfg campaign.Config) (campaign.Snapshot, error)
	StartBroadcast(ctx context.Context, sendNow, schedule bool) (manager.Status, error)
	StopSchedule()
	Logs() []activity.Entry
}

var _ Manager = (*manager.Manager)(nil)

type handlers struct {
	m   Manager
	log logx.Logger
}

type RouterOption func(*routerOpts)

type routerOpts struct {
	profiler bool
}

// WithProfiler mounts net/http/pprof under /debug. Keep it off on
// non-loopback listeners.
func WithProfiler(enabled bool) RouterOption {
	return func(o *routerOpts) { o.profiler = enabled }
}

func NewRouter(m Manager, log logx.Logger, opts ...RouterOption) http.Handler {
	var o routerOpts
	for _, opt := range opts {
		opt(&o)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	h := &handlers{m: m, log: log.With(logx.String("comp", "api"))}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", h.health)
	if o.profiler {
		r.Mount("/debug", chimw.Profiler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/session", func(r chi.Router) {
			r.Get("/status", h.status)
			r.Post("/login", h.login)
			r.Post("/logout", h.logout)
		})
		r.Get("/config", h.getConfig)
		r.Post("/config", h.postConfig)
		r.Route("/broadcast", func(r chi.Router) {
			r.Post("/start", h.startBroadcast)
			r.Post("/stop", h.stopBroadcast)
		})
		r.Get("/logs", h.logs)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		fail(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		fail(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}
