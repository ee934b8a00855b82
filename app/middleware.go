package app

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/nicolagi/bitsd/config"
	"github.com/nicolagi/bitsd/environment"
	"github.com/nicolagi/bitsd/metrics"
	"github.com/nicolagi/bitsd/routes"
	"github.com/nicolagi/bitsd/signer"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(status int) {
	if sr.status == 0 {
		sr.status = status
	}
	sr.ResponseWriter.WriteHeader(status)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) code() int {
	if sr.status == 0 {
		return http.StatusOK
	}
	return sr.status
}

// requestID keeps a client supplied id, or assigns a fresh one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(routes.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(routes.RequestIDHeader, id)
		}
		w.Header().Set(routes.RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(sr, r)
		logger := log.WithFields(log.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     sr.code(),
			"bytes":      sr.bytes,
			"duration":   time.Since(start).String(),
			"remote":     r.RemoteAddr,
			"request_id": r.Header.Get(routes.RequestIDHeader),
		})
		if sr.code() >= http.StatusInternalServerError {
			logger.Warn("Request failed")
		} else {
			logger.Info("Request served")
		}
	})
}

func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unknown"
		if cr := mux.CurrentRoute(r); cr != nil {
			if tpl, err := cr.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(sr, r)
		metrics.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		metrics.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sr.code())).Inc()
	})
}

// recoverPanics turns a panicking handler into a 500 response. Whether the
// panic value reaches the client depends on environment.DumpErrors.
func recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			p := recover()
			if p == nil {
				return
			}
			if p == http.ErrAbortHandler {
				panic(p)
			}
			log.WithFields(log.Fields{
				"panic":      p,
				"path":       r.URL.Path,
				"request_id": r.Header.Get(routes.RequestIDHeader),
			}).Error(string(debug.Stack()))
			description := "Internal server error"
			if environment.DumpErrors() {
				description = fmt.Sprintf("%s: %v", description, p)
			}
			routes.WriteError(w, http.StatusInternalServerError, description)
		}()
		next.ServeHTTP(w, r)
	})
}

// guardPublicHost only lets signed URLs through on the public host.
func guardPublicHost(publicHost string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		if publicHost == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.EqualFold(r.Host, publicHost) && !strings.HasPrefix(r.URL.Path, signer.Prefix+"/") {
				routes.WriteError(w, http.StatusForbidden, "Forbidden: signature required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func limitRate(limiter *rate.Limiter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				metrics.RateLimited.Inc()
				w.Header().Set("Retry-After", "1")
				routes.WriteError(w, http.StatusTooManyRequests, "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// withConfig makes the configuration available to handlers via
// config.FromContext.
func withConfig(cfg *config.Config) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(config.NewContext(r.Context(), cfg)))
		})
	}
}
