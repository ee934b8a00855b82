// Package config loads the service configuration and makes it available to
// request handlers.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rogpeppe/rjson"
)

type Config struct {
	Address         string `json:"address" validate:"required,hostname_port"`
	Debug           bool   `json:"debug"`
	LogPath         string `json:"log_path"`
	PrivateEndpoint string `json:"private_endpoint" validate:"omitempty,url"`
	PublicEndpoint  string `json:"public_endpoint" validate:"omitempty,url"`
	MaxBodySize     int64  `json:"max_body_size" validate:"gte=0"`

	Signing struct {
		Secret            string `json:"secret" validate:"required"`
		Username          string `json:"username" validate:"required"`
		Password          string `json:"password" validate:"required"`
		ExpirationSeconds int    `json:"expiration_seconds" validate:"gt=0"`
	} `json:"signing"`

	Buildpacks Blobstore `json:"buildpacks"`

	RateLimit struct {
		RequestsPerSecond float64 `json:"requests_per_second" validate:"gte=0"`
		Burst             int     `json:"burst" validate:"gte=0"`
	} `json:"rate_limit"`
}

// Blobstore selects and configures a storage backend.
type Blobstore struct {
	Type string `json:"type" validate:"oneof=local memory bolt s3 webdav"`

	// Properties for "local" and "bolt" types.
	Path string `json:"path" validate:"required_if=Type local,required_if=Type bolt"`

	// Properties for "s3" type.
	Profile string `json:"profile"`
	Region  string `json:"region" validate:"required_if=Type s3"`
	Bucket  string `json:"bucket" validate:"required_if=Type s3"`

	// Properties for "webdav" type.
	Endpoint string `json:"endpoint" validate:"required_if=Type webdav,omitempty,url"`
	Username string `json:"username"`
	Password string `json:"password"`

	// If positive, keep this many blobs in an in-memory read cache.
	CacheSize int `json:"cache_size" validate:"gte=0"`

	// Blobs larger than this many bytes bypass the cache.
	CacheMaxBlobSize int `json:"cache_max_blob_size" validate:"gte=0"`
}

const (
	DefaultAddress     = "localhost:9292"
	DefaultMaxBodySize = 1 << 30
	DefaultExpiration  = time.Hour

	DefaultCacheMaxBlobSize = 16 << 20
)

func Load(pathname string) (*Config, error) {
	f, err := os.Open(pathname)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	var c *Config
	if err := rjson.NewDecoder(f).Decode(&c); err != nil {
		return nil, fmt.Errorf("%q: %w", pathname, err)
	}
	if c == nil {
		c = new(Config)
	}
	return c, nil
}

func (c *Config) ApplyDefaults() {
	if c.Address == "" {
		c.Address = DefaultAddress
	}
	if c.PrivateEndpoint == "" {
		c.PrivateEndpoint = "http://" + c.Address
	}
	if c.MaxBodySize == 0 {
		c.MaxBodySize = DefaultMaxBodySize
	}
	if c.Signing.ExpirationSeconds == 0 {
		c.Signing.ExpirationSeconds = int(DefaultExpiration / time.Second)
	}
	if c.Buildpacks.Type == "" {
		c.Buildpacks.Type = "local"
	}
	if c.Buildpacks.Type == "local" && c.Buildpacks.Path == "" {
		c.Buildpacks.Path = "$HOME/lib/bits/buildpacks"
	}
	if c.Buildpacks.CacheSize > 0 && c.Buildpacks.CacheMaxBlobSize == 0 {
		c.Buildpacks.CacheMaxBlobSize = DefaultCacheMaxBlobSize
	}
	c.LogPath = os.ExpandEnv(c.LogPath)
	c.Buildpacks.Path = os.ExpandEnv(c.Buildpacks.Path)
}

// Validate reports all violations at once.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	var msgs []string
	for _, ve := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s=%v must satisfy %q", ve.Namespace(), ve.Value(), ve.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// Expiration is how long signed URLs stay valid.
func (c *Config) Expiration() time.Duration {
	return time.Duration(c.Signing.ExpirationSeconds) * time.Second
}

// PublicHost returns the host part of the public endpoint, if any.
func (c *Config) PublicHost() string {
	return hostOf(c.PublicEndpoint)
}

func hostOf(endpoint string) string {
	s := endpoint
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return s
}

type contextKey struct{}

// NewContext returns a copy of ctx carrying c.
func NewContext(ctx context.Context, c *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// FromContext returns the configuration stored by NewContext, or nil.
func FromContext(ctx context.Context) *Config {
	c, _ := ctx.Value(contextKey{}).(*Config)
	return c
}
