// Package backend runs builds and tests either on local workspaces or against a
// remote build service.
package backend

import (
	"context"

	"contractlab/internal/build/model"
)

// Backend is the set of project operations the build service exposes.
// Build and Test report toolchain failures in the result, not as errors.
type Backend interface {
	Build(ctx context.Context, key model.OwnerKey, req model.BuildRequest) (*model.CompilationResult, error)
	Test(ctx context.Context, key model.OwnerKey, req model.TestRunRequest) (*model.TestExecutionResult, error)
	InstallDependencies(ctx context.Context, key model.OwnerKey, deps []model.Dependency) (*model.DependencyReport, error)
	UpdateConfig(ctx context.Context, key model.OwnerKey, cfg model.BuildConfig, remappings map[string]string) error
	GetStatus(ctx context.Context, key model.OwnerKey) (*model.ProjectStatus, error)
	DeleteProject(ctx context.Context, key model.OwnerKey) error
}

var (
	_ Backend = (*LocalBackend)(nil)
	_ Backend = (*RemoteBackend)(nil)
)
