// Package security confines files written by the pipeline to their
// configured output root.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePathWithinDirectory checks that filePath resolves inside safeDir.
// Neither path needs to exist yet: each is canonicalised through its
// nearest existing ancestor, so a symlink inside safeDir that points
// elsewhere is still caught.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	canonicalPath, err := canonical(filePath)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	canonicalSafeDir, err := canonical(safeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve output directory: %w", err)
	}

	relPath, err := filepath.Rel(canonicalSafeDir, canonicalPath)
	if err != nil {
		return fmt.Errorf("path is outside output directory: %w", err)
	}
	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) || filepath.IsAbs(relPath) {
		return fmt.Errorf("path traversal detected: %s escapes %s", filePath, safeDir)
	}
	return nil
}

// canonical returns the absolute, symlink-free form of p. The part of p
// that does not exist yet is appended unchanged to its resolved ancestor.
func canonical(p string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(p))
	if err != nil {
		return "", err
	}
	existing, rest := abs, ""
	for {
		if resolved, err := filepath.EvalSymlinks(existing); err == nil {
			return filepath.Join(resolved, rest), nil
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return abs, nil
		}
		rest = filepath.Join(filepath.Base(existing), rest)
		existing = parent
	}
}

// OutputPath joins elems under root and rejects the result if it leaves
// root. Each element is a configured name such as a sensor or a filter's
// directory.
func OutputPath(root string, elems ...string) (string, error) {
	p := filepath.Join(append([]string{root}, elems...)...)
	if err := ValidatePathWithinDirectory(p, root); err != nil {
		return "", err
	}
	return p, nil
}

// SanitizeFilename makes a safe file name from an arbitrary string. Any
// characters other than ASCII letters, digits, dot, underscore or dash
// become a single underscore, and the result is trimmed to 128 bytes.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
			lastUnderscore = r == '_'
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
