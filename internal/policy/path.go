// Package policy implements the Handler Policy Layer: path
// canonicalization and allow-listing, command allow-listing, and the
// optional rate limiter — policy, not mechanism.
package policy

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultForbiddenPaths is always enforced regardless of configuration.
var DefaultForbiddenPaths = []string{"/etc/shadow", "/root/", "/proc/", "/sys/"}

// DefaultAllowedPaths is the baseline allow-list when configuration doesn't
// override it.
var DefaultAllowedPaths = []string{"/tmp/", "/var/log/", "/home/"}

// EtcReadOnlyPrefix is allowed for reads but rejected for write-class
// operations.
const EtcReadOnlyPrefix = "/etc/"

// PathPolicy holds the configured allow/forbid lists for file handlers.
type PathPolicy struct {
	Allowed   []string
	Forbidden []string
}

// NewPathPolicy builds a PathPolicy from configuration, applying the
// package defaults when the caller supplies none.
func NewPathPolicy(allowed, forbidden []string) *PathPolicy {
	p := &PathPolicy{
		Allowed:   append([]string{}, DefaultAllowedPaths...),
		Forbidden: append([]string{}, DefaultForbiddenPaths...),
	}
	if len(allowed) > 0 {
		p.Allowed = allowed
	}
	if len(forbidden) > 0 {
		p.Forbidden = append(p.Forbidden, forbidden...)
	}
	return p
}

// Canonicalize resolves raw to an absolute, symlink-free path and checks it
// against the allow/forbid lists. write reports
// whether the caller intends to mutate the filesystem at this path — when
// true, any path under /etc/ is rejected even though reads are allowed there.
func (p *PathPolicy) Canonicalize(raw string, write bool) (string, error) {
	if !filepath.IsAbs(raw) {
		return "", fmt.Errorf("path must be absolute: %q", raw)
	}

	real, err := resolveSymlinks(raw)
	if err != nil {
		return "", err
	}
	clean := filepath.Clean(real)

	for _, f := range p.Forbidden {
		if hasPathPrefix(clean, f) {
			return "", fmt.Errorf("path %q is forbidden", clean)
		}
	}

	if write && hasPathPrefix(clean, EtcReadOnlyPrefix) {
		return "", fmt.Errorf("path %q under /etc/ is read-only", clean)
	}

	allowed := false
	for _, a := range p.Allowed {
		if hasPathPrefix(clean, a) {
			allowed = true
			break
		}
	}
	if !allowed && hasPathPrefix(clean, EtcReadOnlyPrefix) && !write {
		allowed = true
	}
	if !allowed {
		return "", fmt.Errorf("path %q is not in an allowed location", clean)
	}

	return clean, nil
}

// hasPathPrefix reports whether path is equal to, or a descendant of, prefix
// (prefix may or may not end in "/").
func hasPathPrefix(path, prefix string) bool {
	p := strings.TrimSuffix(prefix, "/")
	if path == p {
		return true
	}
	return strings.HasPrefix(path, p+"/")
}
