package utils

import (
	"context"
	"fmt"
	"os"

	"github.com/projecteru2/core/log"
)

// EnsureDirs creates all directories with 0o750 permissions.
func EnsureDirs(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// FileExists returns true if path exists and is not a directory.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// RemoveFiles removes each path, ignoring ones that are already gone.
// Failures are logged; runtime leftovers never block a lifecycle transition.
func RemoveFiles(ctx context.Context, paths ...string) {
	logger := log.WithFunc("utils.RemoveFiles")
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			logger.Warnf(ctx, "remove %s: %v", p, err)
		}
	}
}

// ScanSubdirs returns the names of the immediate subdirectories of dir.
// A missing dir yields none.
func ScanSubdirs(dir string) []string {
	entries, _ := os.ReadDir(dir)
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names
}

// FilterUnreferenced returns the candidates present in none of the keep sets.
func FilterUnreferenced(candidates []string, keep ...map[string]struct{}) []string {
	var out []string
outer:
	for _, s := range candidates {
		for _, k := range keep {
			if _, ok := k[s]; ok {
				continue outer
			}
		}
		out = append(out, s)
	}
	return out
}
