package routes

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/nicolagi/bitsd/signer"
	"github.com/nicolagi/bitsd/storage"
	log "github.com/sirupsen/logrus"
)

// Sign hands out signed URLs for resources to authenticated clients.
type Sign struct {
	signer   *signer.Signer
	store    storage.Store
	ttl      time.Duration
	username string
	password string
	now      func() time.Time
}

func NewSign(s *signer.Signer, store storage.Store, ttl time.Duration, username, password string, now func() time.Time) *Sign {
	if now == nil {
		now = time.Now
	}
	return &Sign{
		signer:   s,
		store:    store,
		ttl:      ttl,
		username: username,
		password: password,
		now:      now,
	}
}

// Mount registers GET /sign/buildpacks/{guid}, optionally with verb=put, behind
// basic authentication.
func (s *Sign) Mount(r *mux.Router) {
	sub := r.PathPrefix("/sign/").Subrouter()
	sub.Use(BasicAuth(s.username, s.password))
	sub.HandleFunc("/"+resource+"/{guid:"+GUIDPattern+"}", s.sign).Methods(http.MethodGet)
}

func (s *Sign) sign(w http.ResponseWriter, r *http.Request) {
	guid := mux.Vars(r)["guid"]
	logger := requestLogger(r, "sign").WithField("guid", guid)
	method := http.MethodGet
	switch verb := r.URL.Query().Get("verb"); verb {
	case "", "get":
	case "put":
		method = http.MethodPut
	default:
		WriteError(w, http.StatusBadRequest, "Unsupported verb: "+verb)
		return
	}
	signed, err := s.signedURL(method, guid)
	if err != nil {
		logger.WithField("err", err).Error("Could not sign")
		WriteInternalError(w, err)
		return
	}
	logger.WithField("method", method).Debug("Success")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(signed))
}

// Downloads can go straight to a presigning backend. Uploads always go through
// this service, which maintains the metadata.
func (s *Sign) signedURL(method, guid string) (string, error) {
	if p, ok := s.store.(storage.Presigner); ok && method == http.MethodGet {
		signed, err := p.SignedURL(blobKey(guid), method, s.ttl)
		if !errors.Is(err, storage.ErrNotPresignable) {
			return signed, err
		}
	}
	return s.signer.Sign(method, "/"+resource+"/"+guid, s.now()), nil
}

// Signed verifies signed URLs and passes the request, with the signing prefix
// removed from its path, to the delegate.
type Signed struct {
	signer   *signer.Signer
	delegate http.Handler
	now      func() time.Time
}

func NewSigned(s *signer.Signer, delegate http.Handler, now func() time.Time) *Signed {
	if now == nil {
		now = time.Now
	}
	return &Signed{signer: s, delegate: delegate, now: now}
}

func (s *Signed) Mount(r *mux.Router) {
	r.PathPrefix(signer.Prefix + "/").Handler(s)
}

func (s *Signed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u := *r.URL
	u.Path = strings.TrimPrefix(u.Path, signer.Prefix)
	u.RawPath = ""
	if err := s.signer.Verify(r.Method, &u, s.now()); err != nil {
		requestLogger(r, "verify").WithFields(log.Fields{
			"path": r.URL.Path,
			"err":  err,
		}).Info("Rejected signed URL")
		WriteError(w, http.StatusForbidden, "Forbidden: "+err.Error())
		return
	}
	r2 := r.Clone(r.Context())
	r2.URL = &u
	r2.RequestURI = u.RequestURI()
	s.delegate.ServeHTTP(w, r2)
}

// BasicAuth rejects requests lacking the given credentials.
func BasicAuth(username, password string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, p, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(u), []byte(username)) != 1 ||
				subtle.ConstantTimeCompare([]byte(p), []byte(password)) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="bits"`)
				WriteError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
