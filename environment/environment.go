// Package environment holds process-wide state that must be set up once,
// before the service handles any request.
package environment

import (
	"os"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Variable is the environment variable selecting the environment.
const Variable = "BITS_ENV"

// FallbackVariable is consulted when Variable is unset or empty, so existing
// deployment manifests keep working.
const FallbackVariable = "RACK_ENV"

const (
	Development = "development"
	Test        = "test"
	Production  = "production"
)

var (
	once sync.Once
	name string
)

// Init reads the environment and configures the standard logger. Only the
// first call has any effect.
func Init() {
	once.Do(func() {
		name = strings.ToLower(strings.TrimSpace(os.Getenv(Variable)))
		if name == "" {
			name = strings.ToLower(strings.TrimSpace(os.Getenv(FallbackVariable)))
		}
		if name == "" {
			name = Development
		}
		if name == Production {
			log.SetFormatter(&log.JSONFormatter{})
		} else {
			log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
		}
		log.WithField("environment", name).Debug("Environment initialized")
	})
}

// Name returns the environment name, e.g., "production".
func Name() string {
	Init()
	return name
}

// IsProduction reports whether the service runs in production.
func IsProduction() bool {
	return Name() == Production
}

// DumpErrors reports whether error details may be exposed in responses. They
// are everywhere but in production.
func DumpErrors() bool {
	return !IsProduction()
}
