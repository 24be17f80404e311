// Package workspace resolves, scaffolds and inspects per-owner project directories.
package workspace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"contractlab/internal/build/deps"
	"contractlab/internal/build/model"
	"contractlab/internal/build/source"
	"contractlab/internal/build/toolconfig"
	appErr "contractlab/pkg/errors"
	"contractlab/pkg/utils/contextkey"
	"contractlab/pkg/utils/logger"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

const (
	metaDir         = ".contractlab"
	initMarker      = "initialized"
	depsMarkerDir   = "deps"
	scratchDir      = ".scratch"
	pollInterval    = 200 * time.Millisecond
	defaultInitWait = 15 * time.Second
	defaultInstall  = 5 * time.Minute
	defaultExpected = "forge-std"
	digestLen       = 16
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// Installer is the part of the dependency installer the store needs.
type Installer interface {
	Install(ctx context.Context, root string, deps []model.Dependency) model.DependencyReport
}

// Config controls workspace layout and first-time initialization.
type Config struct {
	Root                string             `yaml:"root"`
	InitWait            time.Duration      `yaml:"initWait"`
	InstallTimeout      time.Duration      `yaml:"installTimeout"`
	ExpectedLibrary     string             `yaml:"expectedLibrary"`
	DefaultDependencies []model.Dependency `yaml:"defaultDependencies"`
}

// Store maps owners to directories under a single root.
type Store struct {
	cfg       Config
	installer Installer
	installs  *xsync.MapOf[string, struct{}]
}

// NewStore creates a store rooted at cfg.Root.
func NewStore(cfg Config, installer Installer) (*Store, error) {
	if strings.TrimSpace(cfg.Root) == "" {
		return nil, appErr.ValidationError("workspace.root", "required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.WorkspaceError, "resolve workspace root failed")
	}
	cfg.Root = root
	if cfg.InitWait <= 0 {
		cfg.InitWait = defaultInitWait
	}
	if cfg.InstallTimeout <= 0 {
		cfg.InstallTimeout = defaultInstall
	}
	if cfg.ExpectedLibrary == "" {
		cfg.ExpectedLibrary = defaultExpected
	}
	if cfg.DefaultDependencies == nil {
		cfg.DefaultDependencies = deps.DefaultDependencies()
	}
	return &Store{cfg: cfg, installer: installer, installs: xsync.NewMapOf[string, struct{}]()}, nil
}

// Root returns the absolute store root.
func (s *Store) Root() string {
	return s.cfg.Root
}

// Path returns the directory of key without touching the disk.
func (s *Store) Path(key model.OwnerKey) string {
	key = key.Normalize()
	course := sanitize(key.CourseID)
	if key.UserID == "" {
		return filepath.Join(s.cfg.Root, "courses", course)
	}
	return filepath.Join(s.cfg.Root, "users", sanitize(key.UserID), "courses", course)
}

// LockKey names the directory of key relative to the store root. Owners that
// share a directory share a lock key.
func (s *Store) LockKey(key model.OwnerKey) string {
	rel, err := filepath.Rel(s.cfg.Root, s.Path(key))
	if err != nil {
		return s.Path(key)
	}
	return filepath.ToSlash(rel)
}

// sanitize keeps safe ids as they are. Anything else gets its unsafe characters
// replaced and a digest of the raw id appended after a '.', a character safe ids
// never contain, so distinct ids never share a directory.
func sanitize(part string) string {
	if part != "" && !unsafeChars.MatchString(part) {
		return part
	}
	sum := sha256.Sum256([]byte(part))
	cleaned := unsafeChars.ReplaceAllString(part, "_")
	if cleaned == "" {
		cleaned = "_"
	}
	return cleaned + "." + hex.EncodeToString(sum[:])[:digestLen]
}

// Resolve returns the workspace of key, creating its directory when missing.
func (s *Store) Resolve(ctx context.Context, key model.OwnerKey) (*model.Workspace, error) {
	key = key.Normalize()
	root := s.Path(key)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, appErr.Wrapf(err, appErr.WorkspaceError, "create workspace failed")
	}
	return &model.Workspace{
		Key:         key,
		Root:        root,
		Initialized: fileExists(filepath.Join(root, metaDir, initMarker)),
		Installed:   readInstalled(root),
	}, nil
}

// EnsureInitialized scaffolds a fresh workspace and starts the default dependency
// install in the background. It waits up to InitWait for the expected library;
// running out of time, like any scaffolding error, is only logged. The workspace
// is marked initialized only once the expected library is present, so a failed
// install is retried by the next call.
func (s *Store) EnsureInitialized(ctx context.Context, ws *model.Workspace) error {
	if ws == nil || ws.Root == "" {
		return appErr.New(appErr.WorkspaceNotFound).WithMessage("workspace is not resolved")
	}
	if ws.Initialized {
		return nil
	}
	ctx = context.WithValue(ctx, contextkey.ProjectID, ws.Key.String())

	if err := scaffold(ws.Root); err != nil {
		logger.Warn(ctx, "scaffold workspace failed", zap.String("root", ws.Root), zap.Error(err))
	}
	s.installDefaults(ctx, ws)
	s.waitForLibrary(ctx, ws.Root)

	ws.Installed = readInstalled(ws.Root)
	if !s.librariesReady(ws.Root) {
		logger.Warn(ctx, "default dependencies missing, initialization will be retried",
			zap.String("library", s.cfg.ExpectedLibrary),
		)
		return nil
	}
	if err := writeMarker(filepath.Join(ws.Root, metaDir, initMarker)); err != nil {
		logger.Warn(ctx, "write init marker failed", zap.Error(err))
	}
	ws.Initialized = true
	return nil
}

// librariesReady reports whether the defaults are in place, or nothing is expected.
func (s *Store) librariesReady(root string) bool {
	if s.installer == nil || len(s.cfg.DefaultDependencies) == 0 {
		return true
	}
	return deps.Present(filepath.Join(root, deps.LibDir, s.cfg.ExpectedLibrary))
}

func scaffold(root string) error {
	for _, dir := range []string{string(model.SourceKindSrc), string(model.SourceKindTest), deps.LibDir, filepath.Join(metaDir, depsMarkerDir)} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return appErr.Wrapf(err, appErr.WorkspaceError, "create %s failed", dir)
		}
	}
	if fileExists(filepath.Join(root, toolconfig.ConfigFileName)) {
		return nil
	}
	return toolconfig.Write(root, model.DefaultBuildConfig(), toolconfig.DefaultRemappings())
}

// installDefaults runs at most one background install per workspace at a time.
// The install outlives the request that triggered it.
func (s *Store) installDefaults(ctx context.Context, ws *model.Workspace) {
	if s.installer == nil || len(s.cfg.DefaultDependencies) == 0 {
		return
	}
	if _, running := s.installs.LoadOrStore(ws.Root, struct{}{}); running {
		return
	}
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.InstallTimeout)
	root := ws.Root
	depsToInstall := append([]model.Dependency(nil), s.cfg.DefaultDependencies...)
	go func() {
		defer cancel()
		defer s.installs.Delete(root)
		report := s.installer.Install(bg, root, depsToInstall)
		for _, o := range report.Outcomes {
			if o.Status == model.DependencyFailed {
				continue
			}
			if err := markInstalled(root, o.Name); err != nil {
				logger.Warn(bg, "write dependency marker failed", zap.String("dependency", o.Name), zap.Error(err))
			}
		}
		logger.Info(bg, "default dependencies processed",
			zap.Int("count", len(report.Outcomes)),
			zap.Int("failed", len(report.Failed())),
		)
		if s.librariesReady(root) {
			if err := writeMarker(filepath.Join(root, metaDir, initMarker)); err != nil {
				logger.Warn(bg, "write init marker failed", zap.Error(err))
			}
		}
	}()
}

// waitForLibrary polls until the expected library shows up, the install for root
// ends, or InitWait elapses.
func (s *Store) waitForLibrary(ctx context.Context, root string) {
	if s.installer == nil {
		return
	}
	lib := filepath.Join(root, deps.LibDir, s.cfg.ExpectedLibrary)
	deadline := time.Now().Add(s.cfg.InitWait)
	for {
		if deps.Present(lib) {
			return
		}
		if _, running := s.installs.Load(root); !running {
			return
		}
		if time.Now().After(deadline) {
			logger.Warn(ctx, "dependencies not ready after init wait",
				zap.String("library", s.cfg.ExpectedLibrary),
				zap.Duration("wait", s.cfg.InitWait),
			)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(pollInterval):
		}
	}
}

// MarkInstalled records that name is present in ws.
func (s *Store) MarkInstalled(ws *model.Workspace, name string) error {
	if err := markInstalled(ws.Root, name); err != nil {
		return err
	}
	if ws.Installed == nil {
		ws.Installed = mapset.NewSet[string]()
	}
	ws.Installed.Add(name)
	return nil
}

func markInstalled(root, name string) error {
	if err := deps.ValidateName(name); err != nil {
		return err
	}
	return writeMarker(filepath.Join(root, metaDir, depsMarkerDir, name))
}

func readInstalled(root string) mapset.Set[string] {
	set := mapset.NewSet[string]()
	entries, err := os.ReadDir(filepath.Join(root, metaDir, depsMarkerDir))
	if err != nil {
		return set
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			set.Add(entry.Name())
		}
	}
	return set
}

// Delete removes the whole workspace of key.
func (s *Store) Delete(ctx context.Context, key model.OwnerKey) error {
	root := s.Path(key)
	if !dirExists(root) {
		return appErr.Newf(appErr.WorkspaceNotFound, "project %s not found", key.String())
	}
	if err := os.RemoveAll(root); err != nil {
		return appErr.Wrapf(err, appErr.WorkspaceError, "delete project %s failed", key.String())
	}
	logger.Info(ctx, "project deleted", zap.String("project_id", key.String()))
	return nil
}

// Status inspects the workspace of key without creating it.
func (s *Store) Status(ctx context.Context, key model.OwnerKey) (*model.ProjectStatus, error) {
	key = key.Normalize()
	root := s.Path(key)
	st := &model.ProjectStatus{
		ProjectID:    key.String(),
		Root:         root,
		Dependencies: []string{},
		Sources:      []string{},
		Tests:        []string{},
	}
	if !dirExists(root) {
		return st, nil
	}
	st.Exists = true
	st.Initialized = fileExists(filepath.Join(root, metaDir, initMarker))
	st.HasConfig = fileExists(filepath.Join(root, toolconfig.ConfigFileName))
	if st.HasConfig {
		cfg, _, err := toolconfig.Read(root)
		if err != nil {
			logger.Warn(ctx, "read project config failed", zap.String("project_id", st.ProjectID), zap.Error(err))
		} else {
			st.Config = &cfg
		}
	}
	st.Dependencies = listLibraries(root)
	st.Sources = sorted(source.List(root, model.SourceKindSrc))
	st.Tests = sorted(source.List(root, model.SourceKindTest))
	return st, nil
}

func listLibraries(root string) []string {
	out := []string{}
	entries, err := os.ReadDir(filepath.Join(root, deps.LibDir))
	if err != nil {
		return out
	}
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") || !entry.IsDir() {
			continue
		}
		if deps.Present(filepath.Join(root, deps.LibDir, name)) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func sorted(in []string) []string {
	if in == nil {
		return []string{}
	}
	sort.Strings(in)
	return in
}

func writeMarker(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return appErr.Wrapf(err, appErr.WorkspaceError, "create marker dir failed")
	}
	if err := os.WriteFile(path, []byte(time.Now().UTC().Format(time.RFC3339)), 0o644); err != nil {
		return appErr.Wrapf(err, appErr.WorkspaceError, "write marker failed")
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
