package deps

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"contractlab/internal/build/model"
	"contractlab/internal/build/runner"
	appErr "contractlab/pkg/errors"
)

// DefaultGitTemplate clones one ref without history. "--" ends option parsing so
// the url is never read as a flag.
const DefaultGitTemplate = "git clone --depth 1 --branch {version} -- {url} {dest}"

const stderrTail = 512

// GitFetcher clones git sources with the process runner.
type GitFetcher struct {
	runner   runner.Runner
	template string
	timeout  time.Duration
}

// NewGitFetcher creates a fetcher. An empty template means DefaultGitTemplate.
func NewGitFetcher(r runner.Runner, template string, timeout time.Duration) *GitFetcher {
	if strings.TrimSpace(template) == "" {
		template = DefaultGitTemplate
	}
	return &GitFetcher{runner: r, template: template, timeout: timeout}
}

func (f *GitFetcher) Fetch(ctx context.Context, src Source, dep model.Dependency, dest string) error {
	cmd, err := runner.BuildCommand(f.template, map[string]string{
		"version": dep.Version,
		"url":     src.Location,
		"dest":    dest,
		"name":    dep.Name,
	})
	if err != nil {
		return err
	}
	res, err := f.runner.Run(ctx, runner.Spec{
		Dir:     filepath.Dir(dest),
		Command: cmd,
		Env:     []string{"GIT_TERMINAL_PROMPT=0"},
		Timeout: f.timeout,
	})
	if err != nil {
		return appErr.Wrapf(err, appErr.DependencyInstallFailed, "run git for %s failed", dep.Name)
	}
	if res.TimedOut {
		return appErr.Newf(appErr.DependencyInstallFailed, "git clone of %s timed out", dep.Name)
	}
	if res.ExitCode == nil || *res.ExitCode != 0 {
		return appErr.Newf(appErr.DependencyInstallFailed, "git clone of %s failed: %s", dep.Name, tail(res.Stderr, stderrTail))
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
