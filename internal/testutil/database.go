package testutil

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

// MemURL returns a "mem:" identity naming an in-memory SQLite database that
// no other test shares.
func MemURL(t testing.TB) string {
	t.Helper()
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, t.Name())
	return "mem:" + name + "_" + uuid.NewString()[:8]
}
