// Package signer produces and checks URLs granting temporary access to a
// resource without credentials.
//
// A signed URL for path /buildpacks/abc looks like
//
//	http://public.example.com/signed/buildpacks/abc?expires=1580000000&md5=...
//
// PUT URLs carry an extra verb=put parameter, which is part of the signature.
package signer

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Prefix is prepended to the path of signed URLs.
const Prefix = "/signed"

var (
	ErrMissingSignature = errors.New("missing signature")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrExpired          = errors.New("signature expired")
)

type Signer struct {
	secret   string
	endpoint string
	ttl      time.Duration
}

func New(secret, endpoint string, ttl time.Duration) *Signer {
	return &Signer{
		secret:   secret,
		endpoint: strings.TrimSuffix(endpoint, "/"),
		ttl:      ttl,
	}
}

// Sign returns a URL for the given method and path, valid until now plus the
// signer's ttl.
func (s *Signer) Sign(method string, path string, now time.Time) string {
	expires := strconv.FormatInt(now.Add(s.ttl).Unix(), 10)
	verb := verbFor(method)
	q := url.Values{}
	q.Set("expires", expires)
	q.Set("md5", s.signature(expires, path, verb))
	if verb != "" {
		q.Set("verb", verb)
	}
	return fmt.Sprintf("%s%s%s?%s", s.endpoint, Prefix, path, q.Encode())
}

// Verify checks a signed URL, whose path must already be stripped of Prefix,
// for the given method.
func (s *Signer) Verify(method string, u *url.URL, now time.Time) error {
	q := u.Query()
	sig := q.Get("md5")
	expires := q.Get("expires")
	if sig == "" || expires == "" {
		return ErrMissingSignature
	}
	if q.Get("verb") != verbFor(method) {
		return fmt.Errorf("signed for %q: %w", q.Get("verb"), ErrInvalidSignature)
	}
	want := s.signature(expires, u.Path, verbFor(method))
	if subtle.ConstantTimeCompare([]byte(sig), []byte(want)) != 1 {
		return ErrInvalidSignature
	}
	unix, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return fmt.Errorf("expires %q: %w", expires, ErrInvalidSignature)
	}
	if now.Unix() > unix {
		return ErrExpired
	}
	return nil
}

func (s *Signer) signature(expires, path, verb string) string {
	sum := md5.Sum([]byte(expires + path + verb + " " + s.secret))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// HEAD requests share GET signatures.
func verbFor(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, "":
		return ""
	default:
		return strings.ToLower(method)
	}
}
