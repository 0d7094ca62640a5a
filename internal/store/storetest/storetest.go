// Package storetest opens migrated sqlite stores for tests.
package storetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/lamim/optiforge/internal/config"
	"github.com/lamim/optiforge/internal/logging"
	"github.com/lamim/optiforge/internal/store"
)

// New returns a migrated store backed by a sqlite file in t.TempDir()
func New(t testing.TB) *store.Store {
	t.Helper()

	s, err := store.Open(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "optiforge.db"),
	}, logging.Discard())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Failed to migrate store: %v", err)
	}
	return s
}
