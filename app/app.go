// Package app composes the bits service: the router, its middleware chain and
// the mounted route groups.
package app

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/nicolagi/bitsd/config"
	"github.com/nicolagi/bitsd/environment"
	"github.com/nicolagi/bitsd/routes"
	"github.com/nicolagi/bitsd/signer"
	"github.com/nicolagi/bitsd/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now, for signing and timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// App is the bits service as an http.Handler.
type App struct {
	cfg    *config.Config
	router *mux.Router
}

// New builds the service. It initializes the environment if that has not
// happened yet. The configuration must have been validated.
func New(cfg *config.Config, store storage.Store, opts ...Option) *App {
	environment.Init()
	var o options
	o.now = time.Now
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		cfg:    cfg,
		router: mux.NewRouter(),
	}
	a.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		routes.WriteError(w, http.StatusNotFound, "Unknown request")
	})
	a.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		routes.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	a.router.Use(requestID)
	a.router.Use(logRequests)
	a.router.Use(instrument)
	a.router.Use(recoverPanics)
	a.router.Use(guardPublicHost(cfg.PublicHost()))
	if cfg.RateLimit.RequestsPerSecond > 0 {
		burst := cfg.RateLimit.Burst
		if burst < 1 {
			burst = 1
		}
		a.router.Use(limitRate(rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), burst)))
	}
	a.router.Use(withConfig(cfg))

	// Signed URLs are dispatched to a router of their own, so that requests
	// pass through the middleware chain once.
	resources := mux.NewRouter()
	buildpacks := routes.NewBuildpacks(store, o.now)
	buildpacks.Mount(a.router)
	buildpacks.Mount(resources)

	publicEndpoint := cfg.PublicEndpoint
	if publicEndpoint == "" {
		publicEndpoint = cfg.PrivateEndpoint
	}
	s := signer.New(cfg.Signing.Secret, publicEndpoint, cfg.Expiration())
	routes.NewSign(s, store, cfg.Expiration(), cfg.Signing.Username, cfg.Signing.Password, o.now).Mount(a.router)
	routes.NewSigned(s, resources, o.now).Mount(a.router)

	a.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	a.router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	return a
}

func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}
