// Package filex holds the few filesystem helpers shared by the client and
// the server.
package filex

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnsureDir creates dir (relative paths resolve against the working
// directory) and returns its absolute path.
func EnsureDir(dir string) (string, error) {
	if !filepath.IsAbs(dir) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getwd: %w", err)
		}
		dir = filepath.Join(cwd, dir)
	}

	if err := os.MkdirAll(dir, 0o770); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return dir, nil
}

// UnderRoot maps an absolute source path to a location inside root, so an
// archived /home/a/x.txt extracts to root/home/a/x.txt. The result never
// escapes root.
func UnderRoot(root, path string) string {
	p := filepath.ToSlash(filepath.Clean("/" + path))
	if vol := filepath.VolumeName(path); vol != "" {
		p = "/" + strings.TrimSuffix(vol, ":") + p[len(vol):]
	}
	return filepath.Join(root, filepath.FromSlash(p))
}
