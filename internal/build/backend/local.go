package backend

import (
	"context"
	"errors"
	"regexp"
	"time"

	"contractlab/internal/build/artifact"
	"contractlab/internal/build/lock"
	"contractlab/internal/build/model"
	"contractlab/internal/build/parser"
	"contractlab/internal/build/runner"
	"contractlab/internal/build/source"
	"contractlab/internal/build/status"
	"contractlab/internal/build/toolconfig"
	"contractlab/internal/build/workspace"
	appErr "contractlab/pkg/errors"
	"contractlab/pkg/utils/logger"

	"go.uber.org/zap"
)

// Isolation selects how concurrent runs of one owner are kept apart.
type Isolation string

const (
	// IsolationScratch runs every request in a private copy; the owner lock is
	// held only while results are promoted.
	IsolationScratch Isolation = "scratch"
	// IsolationSerial runs the whole request under the owner lock.
	IsolationSerial Isolation = "serial"
)

const (
	DefaultBuildCommand = "forge build --json"
	DefaultTestCommand  = "forge test --json --match-test {test}"

	defaultBuildTimeout = 60 * time.Second
	defaultTestTimeout  = 120 * time.Second
	testFileSuffix      = ".t"
)

var testNamePattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// LocalConfig configures the toolchain invocation.
type LocalConfig struct {
	BuildCommand string        `yaml:"buildCommand"`
	TestCommand  string        `yaml:"testCommand"`
	BuildTimeout time.Duration `yaml:"buildTimeout"`
	TestTimeout  time.Duration `yaml:"testTimeout"`
	Env          []string      `yaml:"env"`
	Isolation    Isolation     `yaml:"isolation"`
}

// LocalBackend drives the toolchain against workspaces on this host.
type LocalBackend struct {
	cfg       LocalConfig
	store     *workspace.Store
	installer workspace.Installer
	runner    runner.Runner
	parser    *parser.Parser
	locker    lock.Locker
	runs      status.Store
}

// NewLocalBackend wires a local backend. A nil runs store disables last-run reporting.
func NewLocalBackend(cfg LocalConfig, store *workspace.Store, installer workspace.Installer, r runner.Runner, locker lock.Locker, runs status.Store) *LocalBackend {
	if cfg.BuildCommand == "" {
		cfg.BuildCommand = DefaultBuildCommand
	}
	if cfg.TestCommand == "" {
		cfg.TestCommand = DefaultTestCommand
	}
	if cfg.BuildTimeout <= 0 {
		cfg.BuildTimeout = defaultBuildTimeout
	}
	if cfg.TestTimeout <= 0 {
		cfg.TestTimeout = defaultTestTimeout
	}
	if cfg.Isolation == "" {
		cfg.Isolation = IsolationScratch
	}
	if locker == nil {
		locker = lock.NewLocalLocker(0)
	}
	if runs == nil {
		runs = status.NoopStore{}
	}
	return &LocalBackend{
		cfg:       cfg,
		store:     store,
		installer: installer,
		runner:    r,
		parser:    parser.New(),
		locker:    locker,
		runs:      runs,
	}
}

func (b *LocalBackend) Build(ctx context.Context, key model.OwnerKey, req model.BuildRequest) (*model.CompilationResult, error) {
	name := source.ContractName(req.Code, req.ContractName)
	ws, err := b.prepare(ctx, key)
	if err != nil {
		return nil, err
	}

	var result model.CompilationResult
	err = b.withRoot(ctx, ws, func(root string) error {
		if _, err := source.Put(root, model.SourceUnit{Name: name, Content: req.Code, Kind: model.SourceKindSrc}); err != nil {
			return err
		}
		// Tests left by an earlier run import a contract that is no longer in src.
		if err := source.Clear(root, model.SourceKindTest); err != nil {
			return err
		}
		defer b.clean(ctx, root, name)

		res, err := b.exec(ctx, root, b.cfg.BuildCommand, b.cfg.BuildTimeout, map[string]string{"contract": name, "test": ""})
		if err != nil {
			return err
		}
		if res.TimedOut {
			result = model.CompilationResult{
				Errors:    []model.Diagnostic{parser.TimeoutDiagnostic(b.cfg.BuildTimeout)},
				Warnings:  []model.Diagnostic{},
				RawOutput: parser.RawOutput(res.Stdout, res.Stderr),
				TimedOut:  true,
			}
			return nil
		}
		result = b.parser.ParseCompilation(res.Stdout, res.Stderr, res.ExitCode)
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "build finished",
		zap.String("contract", name),
		zap.Bool("success", result.Success),
		zap.Int("errors", len(result.Errors)),
		zap.Bool("timed_out", result.TimedOut),
	)
	return &result, nil
}

func (b *LocalBackend) Test(ctx context.Context, key model.OwnerKey, req model.TestRunRequest) (*model.TestExecutionResult, error) {
	if req.TestName != "" && !testNamePattern.MatchString(req.TestName) {
		return nil, appErr.ValidationError("testName", "must be a function name")
	}
	name := source.ContractName(req.SolutionCode, req.ContractName)
	ws, err := b.prepare(ctx, key)
	if err != nil {
		return nil, err
	}

	var result model.TestExecutionResult
	err = b.withRoot(ctx, ws, func(root string) error {
		if _, err := source.Put(root, model.SourceUnit{Name: name, Content: req.SolutionCode, Kind: model.SourceKindSrc}); err != nil {
			return err
		}
		if _, err := source.Put(root, model.SourceUnit{Name: name + testFileSuffix, Content: req.TestCode, Kind: model.SourceKindTest}); err != nil {
			return err
		}
		defer b.clean(ctx, root, name)

		res, err := b.exec(ctx, root, b.cfg.TestCommand, b.cfg.TestTimeout, map[string]string{"contract": name, "test": req.TestName})
		if err != nil {
			return err
		}
		if res.TimedOut {
			result = model.TestExecutionResult{
				Results:   []model.TestResult{},
				RawOutput: parser.RawOutput(res.Stdout, res.Stderr),
				TimedOut:  true,
				Compilation: &model.CompilationResult{
					Errors:   []model.Diagnostic{parser.TimeoutDiagnostic(b.cfg.TestTimeout)},
					Warnings: []model.Diagnostic{},
					TimedOut: true,
				},
			}
			result.Tally()
			return nil
		}
		result = b.parser.ParseTest(res.Stdout, res.Stderr, res.ExitCode)
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "test run finished",
		zap.String("contract", name),
		zap.Int("tests", result.TestCount),
		zap.Int("failed", result.FailedCount),
		zap.Bool("timed_out", result.TimedOut),
	)
	return &result, nil
}

func (b *LocalBackend) InstallDependencies(ctx context.Context, key model.OwnerKey, deps []model.Dependency) (*model.DependencyReport, error) {
	if len(deps) == 0 {
		return nil, appErr.ValidationError("dependencies", "required")
	}
	if b.installer == nil {
		return nil, appErr.New(appErr.DependencyInstallFailed).WithMessage("dependency installer is not configured")
	}
	ws, err := b.prepare(ctx, key)
	if err != nil {
		return nil, err
	}
	unlock, err := b.locker.Lock(ctx, b.store.LockKey(ws.Key))
	if err != nil {
		return nil, err
	}
	defer unlock()

	report := b.installer.Install(ctx, ws.Root, deps)
	for _, o := range report.Outcomes {
		if o.Status == model.DependencyFailed {
			continue
		}
		if err := b.store.MarkInstalled(ws, o.Name); err != nil {
			logger.Warn(ctx, "write dependency marker failed", zap.String("dependency", o.Name), zap.Error(err))
		}
	}
	return &report, nil
}

// UpdateConfig replaces the project config. Nil remappings fall back to the
// default table so the default libraries stay importable.
func (b *LocalBackend) UpdateConfig(ctx context.Context, key model.OwnerKey, cfg model.BuildConfig, remappings map[string]string) error {
	ws, err := b.prepare(ctx, key)
	if err != nil {
		return err
	}
	if remappings == nil {
		remappings = toolconfig.DefaultRemappings()
	}
	unlock, err := b.locker.Lock(ctx, b.store.LockKey(ws.Key))
	if err != nil {
		return err
	}
	defer unlock()
	return toolconfig.Write(ws.Root, cfg, remappings)
}

func (b *LocalBackend) GetStatus(ctx context.Context, key model.OwnerKey) (*model.ProjectStatus, error) {
	st, err := b.store.Status(ctx, key)
	if err != nil {
		return nil, err
	}
	last, err := b.runs.Last(ctx, st.ProjectID)
	if err != nil {
		logger.Warn(ctx, "load last run failed", zap.String("project_id", st.ProjectID), zap.Error(err))
	}
	st.LastRun = last
	return st, nil
}

func (b *LocalBackend) DeleteProject(ctx context.Context, key model.OwnerKey) error {
	key = key.Normalize()
	unlock, err := b.locker.Lock(ctx, b.store.LockKey(key))
	if err != nil {
		return err
	}
	defer unlock()
	if err := b.store.Delete(ctx, key); err != nil {
		return err
	}
	if err := b.runs.Forget(ctx, key.String()); err != nil {
		logger.Warn(ctx, "forget run status failed", zap.String("project_id", key.String()), zap.Error(err))
	}
	return nil
}

func (b *LocalBackend) prepare(ctx context.Context, key model.OwnerKey) (*model.Workspace, error) {
	ws, err := b.store.Resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := b.store.EnsureInitialized(ctx, ws); err != nil {
		return nil, err
	}
	return ws, nil
}

// withRoot runs fn against the directory the current isolation mode allows.
func (b *LocalBackend) withRoot(ctx context.Context, ws *model.Workspace, fn func(root string) error) error {
	if b.cfg.Isolation == IsolationSerial {
		unlock, err := b.locker.Lock(ctx, b.store.LockKey(ws.Key))
		if err != nil {
			return err
		}
		defer unlock()
		return fn(ws.Root)
	}

	sc, err := b.store.NewScratch(ctx, ws)
	if err != nil {
		return err
	}
	defer sc.Close()
	if err := fn(sc.Root); err != nil {
		return err
	}
	unlock, err := b.locker.Lock(ctx, b.store.LockKey(ws.Key))
	if err != nil {
		logger.Warn(ctx, "skip promote, workspace busy", zap.Error(err))
		return nil
	}
	defer unlock()
	if err := sc.Promote(); err != nil {
		logger.Warn(ctx, "promote scratch failed", zap.Error(err))
	}
	return nil
}

func (b *LocalBackend) exec(ctx context.Context, root, template string, timeout time.Duration, vars map[string]string) (runner.Result, error) {
	vars["root"] = root
	command, err := runner.BuildCommand(template, vars)
	if err != nil {
		return runner.Result{}, err
	}
	res, err := b.runner.Run(ctx, runner.Spec{
		Dir:     root,
		Command: command,
		Env:     b.cfg.Env,
		Timeout: timeout,
	})
	if err != nil {
		var spawnErr *runner.SpawnError
		if errors.As(err, &spawnErr) {
			return res, appErr.Wrapf(err, appErr.ToolchainUnavailable, "toolchain %s is unavailable", spawnErr.Command)
		}
		return res, appErr.Wrapf(err, appErr.ToolchainFailed, "run toolchain failed")
	}
	if res.Truncated {
		logger.Warn(ctx, "toolchain output truncated", zap.Strings("command", command))
	}
	return res, nil
}

func (b *LocalBackend) clean(ctx context.Context, root, name string) {
	if err := artifact.Clean(root, name); err != nil {
		logger.Warn(ctx, "clean build artifacts failed", zap.String("contract", name), zap.Error(err))
	}
}
