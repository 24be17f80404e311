// Package deps installs library dependencies into a workspace's lib directory.
// Installs are best-effort: every dependency gets an outcome and a failure
// never stops the others.
package deps

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"contractlab/internal/build/model"
	appErr "contractlab/pkg/errors"
	"contractlab/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// LibDir is the dependency directory inside a workspace.
const LibDir = "lib"

const (
	defaultConcurrency = 4
	defaultTimeout     = 2 * time.Minute
)

// Fetcher materializes one dependency into dest. dest does not exist yet.
type Fetcher interface {
	Fetch(ctx context.Context, src Source, dep model.Dependency, dest string) error
}

// Config controls install concurrency and per-dependency timeout.
type Config struct {
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Installer dispatches dependencies to fetchers by source scheme.
type Installer struct {
	fetchers    map[string]Fetcher
	concurrency int
	timeout     time.Duration
}

// NewInstaller creates an installer. Schemes without a fetcher fail per dependency.
func NewInstaller(cfg Config, fetchers map[string]Fetcher) *Installer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Installer{
		fetchers:    fetchers,
		concurrency: cfg.Concurrency,
		timeout:     cfg.Timeout,
	}
}

// Install fetches deps into root/lib. Outcomes keep the request order.
func (i *Installer) Install(ctx context.Context, root string, deps []model.Dependency) model.DependencyReport {
	report := model.DependencyReport{Outcomes: make([]model.DependencyOutcome, len(deps))}
	var g errgroup.Group
	g.SetLimit(i.concurrency)
	for idx, dep := range deps {
		g.Go(func() error {
			report.Outcomes[idx] = i.installOne(ctx, root, dep)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range report.Outcomes {
		if o.Status == model.DependencyFailed {
			logger.Warn(ctx, "dependency install failed", zap.String("dependency", o.Name), zap.String("reason", o.Reason))
			continue
		}
		logger.Debug(ctx, "dependency ready", zap.String("dependency", o.Name), zap.String("status", string(o.Status)))
	}
	return report
}

func (i *Installer) installOne(ctx context.Context, root string, dep model.Dependency) model.DependencyOutcome {
	outcome := model.DependencyOutcome{Name: dep.Name}
	fail := func(err error) model.DependencyOutcome {
		outcome.Status = model.DependencyFailed
		outcome.Reason = err.Error()
		return outcome
	}

	if err := ValidateName(dep.Name); err != nil {
		return fail(err)
	}
	dest := filepath.Join(root, LibDir, dep.Name)
	if Present(dest) {
		outcome.Status = model.DependencySkipped
		return outcome
	}
	src, err := ParseSource(dep.Source)
	if err != nil {
		return fail(err)
	}
	fetcher, ok := i.fetchers[src.Scheme]
	if !ok || fetcher == nil {
		return fail(appErr.Newf(appErr.DependencySourceInvalid, "no fetcher for %s sources", src.Scheme))
	}

	if err := os.MkdirAll(filepath.Join(root, LibDir), 0o755); err != nil {
		return fail(appErr.Wrapf(err, appErr.DependencyInstallFailed, "create lib dir failed"))
	}
	staging := filepath.Join(root, LibDir, fmt.Sprintf(".staging-%s-%s", dep.Name, uuid.NewString()))
	defer os.RemoveAll(staging)

	fetchCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()
	if err := fetcher.Fetch(fetchCtx, src, dep, staging); err != nil {
		return fail(err)
	}
	if !Present(staging) {
		return fail(appErr.Newf(appErr.DependencyInstallFailed, "fetch of %s produced no files", dep.Name))
	}
	// an empty dest dir left by an earlier failure blocks the rename
	_ = os.Remove(dest)
	if err := os.Rename(staging, dest); err != nil {
		if Present(dest) {
			outcome.Status = model.DependencySkipped
			return outcome
		}
		return fail(appErr.Wrapf(err, appErr.DependencyInstallFailed, "move %s into place failed", dep.Name))
	}
	outcome.Status = model.DependencyOK
	return outcome
}

// Present reports whether dir exists and has at least one entry.
func Present(dir string) bool {
	f, err := os.Open(dir)
	if err != nil {
		return false
	}
	defer f.Close()
	names, err := f.Readdirnames(1)
	return err == nil && len(names) > 0
}
