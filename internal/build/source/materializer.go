// Package source writes submitted contract and test code into a workspace.
package source

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"contractlab/internal/build/model"
	appErr "contractlab/pkg/errors"
)

const (
	// Extension of every materialized unit.
	Extension = ".sol"
	// PlaceholderContract is used when no contract declaration is found.
	PlaceholderContract = "Contract"
)

var (
	contractDecl = regexp.MustCompile(`\bcontract\s+([A-Za-z_$][A-Za-z0-9_$]*)`)
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	lineComment  = regexp.MustCompile(`//[^\n]*`)
	unitName     = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z0-9_]+)*$`)
)

// ContractName returns explicit when set, else the first contract declared in
// code outside comments, else PlaceholderContract.
func ContractName(code, explicit string) string {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return strings.TrimSuffix(explicit, Extension)
	}
	code = blockComment.ReplaceAllString(StripInvisible(code), "")
	code = lineComment.ReplaceAllString(code, "")
	if m := contractDecl.FindStringSubmatch(code); m != nil {
		return m[1]
	}
	return PlaceholderContract
}

// StripInvisible removes zero-width and bidi control characters that break the
// compiler tokenizer, and normalizes line endings.
func StripInvisible(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Map(func(r rune) rune {
		if isInvisible(r) {
			return -1
		}
		return r
	}, s)
}

func isInvisible(r rune) bool {
	switch {
	case r >= 0x200B && r <= 0x200F: // zero width space/joiners, LRM/RLM
		return true
	case r >= 0x202A && r <= 0x202E: // bidi embedding/override
		return true
	case r >= 0x2060 && r <= 0x2064: // word joiner, invisible operators
		return true
	case r >= 0x2066 && r <= 0x2069: // bidi isolates
		return true
	case r == 0xFEFF, r == 0x00AD, r == 0x180E:
		return true
	}
	return false
}

// Put writes unit to root/<kind>/<name>.sol and removes every other .sol file of
// the same kind, so the directory holds exactly the current submission.
// It returns the path relative to root.
func Put(root string, unit model.SourceUnit) (string, error) {
	if root == "" {
		return "", appErr.ValidationError("root", "required")
	}
	if unit.Kind != model.SourceKindSrc && unit.Kind != model.SourceKindTest {
		return "", appErr.ValidationError("kind", "must be src or test")
	}
	name := strings.TrimSuffix(strings.TrimSpace(unit.Name), Extension)
	if !unitName.MatchString(name) {
		return "", appErr.ValidationError("name", "invalid source name")
	}

	dir := filepath.Join(root, string(unit.Kind))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", appErr.Wrapf(err, appErr.SourceWriteFailed, "create %s dir failed", unit.Kind)
	}
	fileName := name + Extension
	if err := removeSiblings(dir, fileName); err != nil {
		return "", err
	}
	content := StripInvisible(unit.Content)
	if err := os.WriteFile(filepath.Join(dir, fileName), []byte(content), 0o644); err != nil {
		return "", appErr.Wrapf(err, appErr.SourceWriteFailed, "write %s failed", fileName)
	}
	return filepath.Join(string(unit.Kind), fileName), nil
}

// Clear removes every .sol file of kind under root. A missing directory is not an error.
func Clear(root string, kind model.SourceKind) error {
	dir := filepath.Join(root, string(kind))
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	return removeSiblings(dir, "")
}

func removeSiblings(dir, keep string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return appErr.Wrapf(err, appErr.SourceWriteFailed, "list %s failed", dir)
	}
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == keep || filepath.Ext(entry.Name()) != Extension {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil && !os.IsNotExist(err) {
			return appErr.Wrapf(err, appErr.SourceWriteFailed, "remove stale %s failed", entry.Name())
		}
	}
	return nil
}

// List returns the .sol file names of one kind under root.
func List(root string, kind model.SourceKind) []string {
	return ListDir(filepath.Join(root, string(kind)))
}

// ListDir returns the .sol file names directly inside dir.
func ListDir(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == Extension {
			out = append(out, entry.Name())
		}
	}
	return out
}
