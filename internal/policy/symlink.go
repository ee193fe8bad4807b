package policy

import (
	"os"
	"path/filepath"
)

// resolveSymlinks returns the canonical form of raw, resolving ".." and
// symlinks. Unlike filepath.EvalSymlinks, it tolerates a final path
// component that doesn't exist yet (the common case for file/upload
// targets) by resolving the deepest existing ancestor and rejoining the
// remaining, not-yet-created components unresolved.
func resolveSymlinks(raw string) (string, error) {
	clean := filepath.Clean(raw)

	if resolved, err := filepath.EvalSymlinks(clean); err == nil {
		return resolved, nil
	}

	dir := filepath.Dir(clean)
	base := filepath.Base(clean)

	var tail []string
	for {
		if _, err := os.Lstat(dir); err == nil {
			resolvedDir, err := filepath.EvalSymlinks(dir)
			if err != nil {
				return "", err
			}
			parts := append([]string{resolvedDir, base}, tail...)
			return filepath.Join(parts...), nil
		}
		if dir == "/" || dir == "." {
			// Nothing on disk at all; trust the cleaned, unresolved path.
			parts := append([]string{dir, base}, tail...)
			return filepath.Join(parts...), nil
		}
		tail = append([]string{base}, tail...)
		base = filepath.Base(dir)
		dir = filepath.Dir(dir)
	}
}
