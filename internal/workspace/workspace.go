package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

const BaseDirName = "cheqmate"

// EnsureDefault resolves the engine data directory and creates its layout.
// An explicit base wins; otherwise the directory lives under the user home.
func EnsureDefault(base string) (string, error) {
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home: %w", err)
		}
		base = filepath.Join(home, "."+BaseDirName)
	}
	return EnsureAt(base)
}

func EnsureAt(base string) (string, error) {
	paths := []string{
		filepath.Join(base, "db"),
		filepath.Join(base, "tmp"),
	}
	for _, p := range paths {
		if err := os.MkdirAll(p, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", p, err)
		}
	}
	return base, nil
}

// DatabasePath is the sqlite file holding fingerprints and verdicts.
func DatabasePath(base string) string {
	return filepath.Join(base, "db", "cheqmate.db")
}
