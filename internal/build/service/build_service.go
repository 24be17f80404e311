// Package service validates caller requests, runs them on a backend and
// records what happened.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"contractlab/internal/build/backend"
	"contractlab/internal/build/events"
	"contractlab/internal/build/model"
	"contractlab/internal/build/source"
	"contractlab/internal/build/status"
	appErr "contractlab/pkg/errors"
	"contractlab/pkg/utils/contextkey"
	"contractlab/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultMaxCodeBytes  = 256 << 10
	defaultSlotWait      = 5 * time.Second
	defaultStatusTimeout = 2 * time.Second
)

// Config holds service dependencies and settings.
type Config struct {
	Backend       backend.Backend
	Runs          status.Store
	Events        *events.Publisher
	MaxCodeBytes  int
	MaxConcurrent int
	SlotWait      time.Duration
	StatusTimeout time.Duration
}

// Service is the entry point for compile and test requests.
type Service struct {
	backend       backend.Backend
	runs          status.Store
	events        *events.Publisher
	maxCodeBytes  int
	slotWait      time.Duration
	statusTimeout time.Duration
	sem           chan struct{}
	now           func() time.Time
}

// NewService creates a new build service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if cfg.Runs == nil {
		cfg.Runs = status.NoopStore{}
	}
	if cfg.MaxCodeBytes <= 0 {
		cfg.MaxCodeBytes = defaultMaxCodeBytes
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.SlotWait <= 0 {
		cfg.SlotWait = defaultSlotWait
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = defaultStatusTimeout
	}
	return &Service{
		backend:       cfg.Backend,
		runs:          cfg.Runs,
		events:        cfg.Events,
		maxCodeBytes:  cfg.MaxCodeBytes,
		slotWait:      cfg.SlotWait,
		statusTimeout: cfg.StatusTimeout,
		sem:           make(chan struct{}, cfg.MaxConcurrent),
		now:           time.Now,
	}, nil
}

// Compile builds req.Code in the caller's workspace.
func (s *Service) Compile(ctx context.Context, req model.CompileRequest) (*model.CompileResponse, error) {
	key := model.OwnerKey{UserID: req.UserID, CourseID: req.CourseID}
	res, name, elapsed, err := s.build(ctx, key, model.BuildRequest{Code: req.Code, ContractName: req.ContractName})
	if err != nil {
		return nil, err
	}
	return &model.CompileResponse{
		Success:         res.Success,
		Output:          compileOutput(res),
		Errors:          nonNilDiagnostics(res.Errors),
		Warnings:        nonNilDiagnostics(res.Warnings),
		ContractName:    name,
		CompilationTime: elapsed.Milliseconds(),
		TimedOut:        res.TimedOut,
	}, nil
}

// Test runs req.TestCode against req.SolutionCode in the caller's workspace.
func (s *Service) Test(ctx context.Context, req model.TestRequest) (*model.TestResponse, error) {
	key := model.OwnerKey{UserID: req.UserID, CourseID: req.CourseID}
	res, _, elapsed, err := s.runTests(ctx, key, req.LessonID, model.TestRunRequest{
		SolutionCode: req.SolutionCode,
		TestCode:     req.TestCode,
		ContractName: req.ContractName,
		TestName:     req.TestName,
	})
	if err != nil {
		return nil, err
	}
	results := res.Results
	if results == nil {
		results = []model.TestResult{}
	}
	return &model.TestResponse{
		Success:     res.Success,
		Output:      testOutput(res),
		Results:     results,
		TestCount:   res.TestCount,
		PassedCount: res.PassedCount,
		FailedCount: res.FailedCount,
		TestTime:    elapsed.Milliseconds(),
		TimedOut:    res.TimedOut,
	}, nil
}

// BuildProject is the project-scoped build returning the full result.
func (s *Service) BuildProject(ctx context.Context, key model.OwnerKey, req model.BuildRequest) (*model.CompilationResult, error) {
	res, _, _, err := s.build(ctx, key, req)
	return res, err
}

// TestProject is the project-scoped test run returning the full result.
func (s *Service) TestProject(ctx context.Context, key model.OwnerKey, req model.TestRunRequest) (*model.TestExecutionResult, error) {
	res, _, _, err := s.runTests(ctx, key, "", req)
	return res, err
}

func (s *Service) InstallDependencies(ctx context.Context, key model.OwnerKey, deps []model.Dependency) (*model.DependencyReport, error) {
	if len(deps) == 0 {
		return nil, appErr.ValidationError("dependencies", "required")
	}
	ctx = withProject(ctx, key)
	report, err := s.backend.InstallDependencies(ctx, key, deps)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "dependencies installed", zap.Int("requested", len(deps)), zap.Int("failed", len(report.Failed())))
	return report, nil
}

func (s *Service) UpdateConfig(ctx context.Context, key model.OwnerKey, update model.ConfigUpdate) error {
	if update.Config.OptimizerRuns < 0 {
		return appErr.ValidationError("optimizerRuns", "must not be negative")
	}
	if update.Config.Verbosity < 0 || update.Config.Verbosity > 5 {
		return appErr.ValidationError("verbosity", "must be between 0 and 5")
	}
	return s.backend.UpdateConfig(withProject(ctx, key), key, update.Config, update.Remappings)
}

func (s *Service) GetStatus(ctx context.Context, key model.OwnerKey) (*model.ProjectStatus, error) {
	return s.backend.GetStatus(withProject(ctx, key), key)
}

func (s *Service) DeleteProject(ctx context.Context, key model.OwnerKey) error {
	return s.backend.DeleteProject(withProject(ctx, key), key)
}

func (s *Service) build(ctx context.Context, key model.OwnerKey, req model.BuildRequest) (*model.CompilationResult, string, time.Duration, error) {
	if err := s.validateCode("code", req.Code); err != nil {
		return nil, "", 0, err
	}
	key = key.Normalize()
	ctx = withProject(ctx, key)
	req.ContractName = source.ContractName(req.Code, req.ContractName)

	if err := s.acquireSlot(ctx); err != nil {
		return nil, "", 0, err
	}
	start := s.now()
	res, err := s.backend.Build(ctx, key, req)
	elapsed := s.now().Sub(start)
	s.releaseSlot()
	if err != nil {
		return nil, "", 0, err
	}

	s.finish(ctx, key, "", model.RunSummary{
		Kind:         model.RunCompile,
		Success:      res.Success,
		TimedOut:     res.TimedOut,
		ContractName: req.ContractName,
		DurationMs:   elapsed.Milliseconds(),
		ErrorCount:   len(res.Errors),
		FinishedAt:   s.now(),
	})
	return res, req.ContractName, elapsed, nil
}

func (s *Service) runTests(ctx context.Context, key model.OwnerKey, lessonID string, req model.TestRunRequest) (*model.TestExecutionResult, string, time.Duration, error) {
	if err := s.validateCode("solutionCode", req.SolutionCode); err != nil {
		return nil, "", 0, err
	}
	if err := s.validateCode("testCode", req.TestCode); err != nil {
		return nil, "", 0, err
	}
	key = key.Normalize()
	ctx = withProject(ctx, key)
	req.ContractName = source.ContractName(req.SolutionCode, req.ContractName)

	if err := s.acquireSlot(ctx); err != nil {
		return nil, "", 0, err
	}
	start := s.now()
	res, err := s.backend.Test(ctx, key, req)
	elapsed := s.now().Sub(start)
	s.releaseSlot()
	if err != nil {
		return nil, "", 0, err
	}

	errorCount := 0
	if res.Compilation != nil {
		errorCount = len(res.Compilation.Errors)
	}
	s.finish(ctx, key, lessonID, model.RunSummary{
		Kind:         model.RunTest,
		Success:      res.Success,
		TimedOut:     res.TimedOut,
		ContractName: req.ContractName,
		DurationMs:   elapsed.Milliseconds(),
		ErrorCount:   errorCount,
		TestCount:    res.TestCount,
		PassedCount:  res.PassedCount,
		FailedCount:  res.FailedCount,
		FinishedAt:   s.now(),
	})
	return res, req.ContractName, elapsed, nil
}

func (s *Service) validateCode(field, code string) error {
	if strings.TrimSpace(code) == "" {
		return appErr.ValidationError(field, "required")
	}
	if len(code) > s.maxCodeBytes {
		return appErr.Newf(appErr.CodeTooLarge, "%s exceeds %d bytes", field, s.maxCodeBytes)
	}
	return nil
}

// finish records the run and publishes its event. Neither may fail the request.
func (s *Service) finish(ctx context.Context, key model.OwnerKey, lessonID string, summary model.RunSummary) {
	statusCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.statusTimeout)
	defer cancel()
	if err := s.runs.Record(statusCtx, key.String(), summary); err != nil {
		logger.Warn(ctx, "record run summary failed", zap.Error(err))
	}
	if err := s.events.PublishRun(statusCtx, events.NewRunEvent(key, lessonID, summary)); err != nil {
		logger.Warn(ctx, "publish run event failed", zap.Error(err))
	}
}

func (s *Service) acquireSlot(ctx context.Context) error {
	timer := time.NewTimer(s.slotWait)
	defer timer.Stop()
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return appErr.Wrapf(ctx.Err(), appErr.Timeout, "request cancelled while waiting for a build slot")
	case <-timer.C:
		return appErr.New(appErr.TooManyRequests).WithMessage("build pool is full")
	}
}

func (s *Service) releaseSlot() {
	select {
	case <-s.sem:
	default:
	}
}

func withProject(ctx context.Context, key model.OwnerKey) context.Context {
	return context.WithValue(ctx, contextkey.ProjectID, key.String())
}

func compileOutput(res *model.CompilationResult) string {
	if res.RawOutput != "" {
		return res.RawOutput
	}
	return joinMessages(res.Errors)
}

func testOutput(res *model.TestExecutionResult) string {
	if res.RawOutput != "" {
		return res.RawOutput
	}
	if res.Compilation != nil {
		return joinMessages(res.Compilation.Errors)
	}
	return ""
}

func joinMessages(diags []model.Diagnostic) string {
	lines := make([]string, 0, len(diags))
	for _, d := range diags {
		lines = append(lines, d.Message)
	}
	return strings.Join(lines, "\n")
}

func nonNilDiagnostics(in []model.Diagnostic) []model.Diagnostic {
	if in == nil {
		return []model.Diagnostic{}
	}
	return in
}
