package workspace

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"contractlab/internal/build/deps"
	"contractlab/internal/build/model"
	"contractlab/internal/build/source"
	"contractlab/internal/build/toolconfig"
	appErr "contractlab/pkg/errors"
	"contractlab/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Scratch is a private copy of a workspace for one run. lib is shared with the
// base through a symlink; sources, config and build output are private.
type Scratch struct {
	Root string
	base string
}

// NewScratch creates <root>/.scratch/<uuid> mirroring ws.
func (s *Store) NewScratch(ctx context.Context, ws *model.Workspace) (*Scratch, error) {
	if ws == nil || ws.Root == "" {
		return nil, appErr.New(appErr.WorkspaceNotFound).WithMessage("workspace is not resolved")
	}
	dir := filepath.Join(s.cfg.Root, scratchDir, uuid.NewString())
	sc := &Scratch{Root: dir, base: ws.Root}
	if err := sc.populate(); err != nil {
		sc.Close()
		return nil, err
	}
	logger.Debug(ctx, "scratch workspace created", zap.String("scratch", dir), zap.String("base", ws.Root))
	return sc, nil
}

func (sc *Scratch) populate() error {
	if err := os.MkdirAll(sc.Root, 0o755); err != nil {
		return appErr.Wrapf(err, appErr.WorkspaceError, "create scratch dir failed")
	}
	for _, kind := range []model.SourceKind{model.SourceKindSrc, model.SourceKindTest} {
		if err := mirrorSources(filepath.Join(sc.base, string(kind)), filepath.Join(sc.Root, string(kind))); err != nil {
			return err
		}
	}
	for _, name := range []string{toolconfig.ConfigFileName, toolconfig.RemappingsFileName} {
		if err := copyFile(filepath.Join(sc.base, name), filepath.Join(sc.Root, name)); err != nil && !os.IsNotExist(err) {
			return appErr.Wrapf(err, appErr.WorkspaceError, "copy %s failed", name)
		}
	}
	baseLib := filepath.Join(sc.base, deps.LibDir)
	if err := os.MkdirAll(baseLib, 0o755); err != nil {
		return appErr.Wrapf(err, appErr.WorkspaceError, "create lib dir failed")
	}
	if err := os.Symlink(baseLib, filepath.Join(sc.Root, deps.LibDir)); err != nil {
		return appErr.Wrapf(err, appErr.WorkspaceError, "link lib dir failed")
	}
	return nil
}

// Promote copies the scratch sources and tests back into the base workspace.
// The caller holds the owner lock.
func (sc *Scratch) Promote() error {
	for _, kind := range []model.SourceKind{model.SourceKindSrc, model.SourceKindTest} {
		if err := mirrorSources(filepath.Join(sc.Root, string(kind)), filepath.Join(sc.base, string(kind))); err != nil {
			return err
		}
	}
	return nil
}

// Close removes the scratch directory. The shared lib is only unlinked.
func (sc *Scratch) Close() {
	if sc == nil || sc.Root == "" {
		return
	}
	_ = os.Remove(filepath.Join(sc.Root, deps.LibDir))
	_ = os.RemoveAll(sc.Root)
}

// mirrorSources makes the .sol files of dst equal to those of src. Other files in
// dst are left alone.
func mirrorSources(src, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return appErr.Wrapf(err, appErr.WorkspaceError, "create %s failed", dst)
	}
	want := make(map[string]struct{})
	for _, name := range source.ListDir(src) {
		want[name] = struct{}{}
		if err := copyFile(filepath.Join(src, name), filepath.Join(dst, name)); err != nil {
			return appErr.Wrapf(err, appErr.WorkspaceError, "copy %s failed", name)
		}
	}
	for _, name := range source.ListDir(dst) {
		if _, ok := want[name]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(dst, name)); err != nil && !os.IsNotExist(err) {
			return appErr.Wrapf(err, appErr.WorkspaceError, "remove stale %s failed", name)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
