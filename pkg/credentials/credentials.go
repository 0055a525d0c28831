// Package credentials supplies the identity material used to open database
// connections.
//
// A connection source reads its Provider exactly once, when it is opened.
// SingleUse providers wipe their values after that read so the password does
// not stay reachable from the provider for the lifetime of the process.
package credentials

import (
	"fmt"
	"os"
	"sync"

	"github.com/leapstack-labs/leapcrawl/internal/sentinel"
)

// ErrConsumed is returned by a single-use provider after its values were read.
const ErrConsumed = sentinel.Error("credentials already consumed")

// Provider supplies a user name and password.
type Provider interface {
	Credentials() (user, password string, err error)
}

// ProviderFunc adapts an ordinary function to the Provider interface.
type ProviderFunc func() (string, string, error)

// Credentials calls f.
func (f ProviderFunc) Credentials() (string, string, error) {
	return f()
}

type embedded struct{}

// Embedded returns a provider for databases that need no authentication,
// such as SQLite files or in-memory DuckDB.
func Embedded() Provider {
	return embedded{}
}

func (embedded) Credentials() (string, string, error) {
	return "", "", nil
}

type static struct {
	user     string
	password string
}

// Static returns a reusable provider for a fixed user and password.
func Static(user, password string) Provider {
	return static{user: user, password: password}
}

func (s static) Credentials() (string, string, error) {
	return s.user, s.password, nil
}

// SingleUseCredentials hands out its values once and then forgets them.
type SingleUseCredentials struct {
	mu       sync.Mutex
	user     string
	password string
	used     bool
}

// SingleUse returns a provider that can be read exactly once.
func SingleUse(user, password string) *SingleUseCredentials {
	return &SingleUseCredentials{user: user, password: password}
}

// Credentials returns the stored pair and clears it. Every later call fails
// with ErrConsumed.
func (s *SingleUseCredentials) Credentials() (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.used {
		return "", "", ErrConsumed
	}
	user, password := s.user, s.password
	s.user, s.password = "", ""
	s.used = true
	return user, password, nil
}

// Consumed reports whether the credentials were already read.
func (s *SingleUseCredentials) Consumed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

// FromEnv returns a provider that reads the user and password from the named
// environment variables each time it is called. An empty variable name
// yields an empty value. A named variable that is unset is an error.
func FromEnv(userVar, passwordVar string) Provider {
	return ProviderFunc(func() (string, string, error) {
		user, err := lookupEnv(userVar)
		if err != nil {
			return "", "", err
		}
		password, err := lookupEnv(passwordVar)
		if err != nil {
			return "", "", err
		}
		return user, password, nil
	})
}

func lookupEnv(name string) (string, error) {
	if name == "" {
		return "", nil
	}
	v, ok := os.LookupEnv(name)
	if !ok {
		return "", fmt.Errorf("environment variable %s is not set", name)
	}
	return v, nil
}
