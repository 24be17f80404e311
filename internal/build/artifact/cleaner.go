// Package artifact removes per-contract build output from a workspace.
package artifact

import (
	"os"
	"path/filepath"
	"regexp"

	appErr "contractlab/pkg/errors"
)

// OutDir is the toolchain output directory inside a workspace.
const OutDir = "out"

var contractName = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// Clean removes out/<name>.sol/ and out/<name>/ under root. Output of other
// contracts in the same workspace is left alone. Missing dirs are not an error.
func Clean(root, name string) error {
	if root == "" {
		return appErr.ValidationError("root", "required")
	}
	if !contractName.MatchString(name) {
		return appErr.ValidationError("contractName", "invalid contract name")
	}
	out := filepath.Join(root, OutDir)
	for _, dir := range []string{name + ".sol", name} {
		if err := os.RemoveAll(filepath.Join(out, dir)); err != nil {
			return appErr.Wrapf(err, appErr.ArtifactCleanError, "remove %s failed", dir)
		}
	}
	return nil
}
