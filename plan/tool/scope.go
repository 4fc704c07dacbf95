package tool

import (
	"path/filepath"
	"strings"
)

// DefaultMaxReadBytes caps how much a tool may read from a single
// external resource when the scope does not say otherwise.
const DefaultMaxReadBytes = 1 << 20 // 1 MiB

// Scope bounds what a tool invocation may touch.
//
// The zero value is the most restrictive useful scope: no filesystem
// root, no allowed hosts, live (non-dry-run) execution, default read cap.
type Scope struct {
	// SandboxRoot is the directory subtree tools may read and write.
	// Empty means no filesystem access at all.
	SandboxRoot string

	// AllowedHosts lists hostnames network tools may contact. An entry
	// of the form "*.example.com" matches any subdomain. Empty means no
	// network access.
	AllowedHosts []string

	// DryRun, when true, asks tools to describe their effect without
	// performing it. Tools that cannot honor dry-run must fail rather
	// than execute.
	DryRun bool

	// MaxReadBytes caps bytes read from one external resource.
	// Zero means DefaultMaxReadBytes.
	MaxReadBytes int64
}

// ReadLimit returns the effective byte cap for reads.
func (s Scope) ReadLimit() int64 {
	if s.MaxReadBytes > 0 {
		return s.MaxReadBytes
	}
	return DefaultMaxReadBytes
}

// CheckPath verifies that path resolves inside the sandbox root.
//
// Relative paths are resolved against the root. Traversal out of the
// root ("../..") and absolute paths outside it are rejected with
// KindOutOfScope.
func (s Scope) CheckPath(toolName, path string) (string, error) {
	if s.SandboxRoot == "" {
		return "", &Error{Kind: KindOutOfScope, Tool: toolName, Message: "filesystem access not permitted in this scope"}
	}
	root, err := filepath.Abs(s.SandboxRoot)
	if err != nil {
		return "", &Error{Kind: KindInvalid, Tool: toolName, Message: "invalid sandbox root: " + err.Error()}
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, abs)
	}
	abs = filepath.Clean(abs)

	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &Error{Kind: KindOutOfScope, Tool: toolName, Message: "path escapes sandbox root: " + path}
	}
	return abs, nil
}

// CheckHost verifies that host is covered by the allowlist.
//
// Matching is case-insensitive. A "*.domain" entry matches any name
// ending in ".domain" but not the bare domain itself.
func (s Scope) CheckHost(toolName, host string) error {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, allowed := range s.AllowedHosts {
		allowed = strings.ToLower(allowed)
		if wild, ok := strings.CutPrefix(allowed, "*."); ok {
			if strings.HasSuffix(host, "."+wild) {
				return nil
			}
			continue
		}
		if host == allowed {
			return nil
		}
	}
	return &Error{Kind: KindOutOfScope, Tool: toolName, Message: "host not in allowlist: " + host}
}
