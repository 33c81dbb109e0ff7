package testsupport

import (
	"testing"

	"shiftwatch/internal/config"
	"shiftwatch/internal/store"
)

// MustOpenStore opens the SQLite store for the supplied config and registers
// cleanup on test completion.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return st
}
