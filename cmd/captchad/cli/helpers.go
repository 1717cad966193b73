package cli

import (
	"os"

	"github.com/captchad/captchad/internal/store"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from the --data-dir flag, the
// CAPTCHAD_DATA_DIR env var, or ~/.captchad as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("CAPTCHAD_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return home + "/.captchad"
}

// openStore opens the SQLite token store at the resolved data directory.
func openStore() (*store.Store, error) {
	return store.New(resolveDataDir())
}
