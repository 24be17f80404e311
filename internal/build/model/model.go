// Package model holds the request, result and workspace types shared by the build engine.
package model

import (
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// DefaultCourseID is used when a request does not name a course.
const DefaultCourseID = "playground"

// OwnerKey identifies a workspace. UserID is optional.
type OwnerKey struct {
	UserID   string `json:"userId,omitempty"`
	CourseID string `json:"courseId"`
}

// Normalize fills the default course id and trims whitespace.
func (k OwnerKey) Normalize() OwnerKey {
	k.UserID = strings.TrimSpace(k.UserID)
	k.CourseID = strings.TrimSpace(k.CourseID)
	if k.CourseID == "" {
		k.CourseID = DefaultCourseID
	}
	return k
}

// String returns the project id used in logs, events and status keys.
func (k OwnerKey) String() string {
	k = k.Normalize()
	if k.UserID == "" {
		return k.CourseID
	}
	return k.UserID + "/" + k.CourseID
}

// Workspace is a resolved on-disk project.
type Workspace struct {
	Key         OwnerKey
	Root        string
	Initialized bool
	Installed   mapset.Set[string]
}

// BuildConfig is the toolchain project configuration. It is written in full on every update.
type BuildConfig struct {
	SolcVersion   string   `json:"solcVersion,omitempty" toml:"solc_version,omitempty"`
	Optimizer     bool     `json:"optimizer" toml:"optimizer"`
	OptimizerRuns int      `json:"optimizerRuns" toml:"optimizer_runs"`
	ViaIR         bool     `json:"viaIR" toml:"via_ir"`
	EVMVersion    string   `json:"evmVersion,omitempty" toml:"evm_version,omitempty"`
	ExtraOutput   []string `json:"extraOutput,omitempty" toml:"extra_output,omitempty"`
	Verbosity     int      `json:"verbosity" toml:"verbosity"`
	FFI           bool     `json:"ffi" toml:"ffi"`
}

// DefaultBuildConfig is written when a workspace is scaffolded.
func DefaultBuildConfig() BuildConfig {
	return BuildConfig{
		SolcVersion:   "0.8.26",
		Optimizer:     true,
		OptimizerRuns: 200,
		EVMVersion:    "cancun",
		Verbosity:     2,
	}
}

// Dependency names a library to fetch into lib/<Name>.
type Dependency struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Source  string `json:"source"`
}

// DependencyStatus is the outcome of one dependency install.
type DependencyStatus string

const (
	DependencyOK      DependencyStatus = "ok"
	DependencySkipped DependencyStatus = "skipped"
	DependencyFailed  DependencyStatus = "failed"
)

// DependencyOutcome reports what happened to one dependency.
type DependencyOutcome struct {
	Name   string           `json:"name"`
	Status DependencyStatus `json:"status"`
	Reason string           `json:"reason,omitempty"`
}

// DependencyReport aggregates per-dependency outcomes in request order.
type DependencyReport struct {
	Outcomes []DependencyOutcome `json:"outcomes"`
}

// Failed returns the outcomes that did not install.
func (r DependencyReport) Failed() []DependencyOutcome {
	var out []DependencyOutcome
	for _, o := range r.Outcomes {
		if o.Status == DependencyFailed {
			out = append(out, o)
		}
	}
	return out
}

// SourceKind selects the workspace subdirectory a unit is written to.
type SourceKind string

const (
	SourceKindSrc  SourceKind = "src"
	SourceKindTest SourceKind = "test"
)

// SourceUnit is one named source file.
type SourceUnit struct {
	Name    string
	Content string
	Kind    SourceKind
}

// Severity of a diagnostic.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// Diagnostic is one compiler-reported error or warning.
type Diagnostic struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
	File     string `json:"file,omitempty"`
	Line     *int   `json:"line,omitempty"`
	Column   *int   `json:"column,omitempty"`
	Code     string `json:"code,omitempty"`
}

// CompilationResult is the normalized build outcome.
// A failed result with no errors means the output could not be interpreted.
type CompilationResult struct {
	Success   bool         `json:"success"`
	Errors    []Diagnostic `json:"errors"`
	Warnings  []Diagnostic `json:"warnings"`
	RawOutput string       `json:"rawOutput"`
	ExitCode  *int         `json:"exitCode,omitempty"`
	TimedOut  bool         `json:"timedOut,omitempty"`
}

// TestStatus is the normalized status of one test.
type TestStatus string

const (
	TestPass TestStatus = "pass"
	TestFail TestStatus = "fail"
)

// TestResult is one itemized test outcome.
type TestResult struct {
	Name       string     `json:"name"`
	Suite      string     `json:"suite,omitempty"`
	Status     TestStatus `json:"status"`
	Message    string     `json:"message,omitempty"`
	GasUsed    *uint64    `json:"gasUsed,omitempty"`
	DurationMs *int64     `json:"durationMs,omitempty"`
}

// TestExecutionResult is the normalized test run outcome.
type TestExecutionResult struct {
	Results     []TestResult       `json:"results"`
	TestCount   int                `json:"testCount"`
	PassedCount int                `json:"passedCount"`
	FailedCount int                `json:"failedCount"`
	Success     bool               `json:"success"`
	RawOutput   string             `json:"rawOutput"`
	ExitCode    *int               `json:"exitCode,omitempty"`
	TimedOut    bool               `json:"timedOut,omitempty"`
	Compilation *CompilationResult `json:"compilation,omitempty"`
}

// Tally recomputes counts and success from Results. Toolchain summaries are never trusted.
// Anything that did not pass counts as failed, so TestCount always equals len(Results).
func (r *TestExecutionResult) Tally() {
	r.PassedCount, r.FailedCount = 0, 0
	for _, res := range r.Results {
		if res.Status == TestPass {
			r.PassedCount++
		} else {
			r.FailedCount++
		}
	}
	r.TestCount = r.PassedCount + r.FailedCount
	r.Success = !r.TimedOut && r.FailedCount == 0 && r.TestCount > 0
}

// BuildRequest is what a backend needs to compile one contract.
type BuildRequest struct {
	Code         string `json:"code"`
	ContractName string `json:"contractName,omitempty"`
}

// TestRunRequest is what a backend needs to run one test file against a solution.
type TestRunRequest struct {
	SolutionCode string `json:"solutionCode"`
	TestCode     string `json:"testCode"`
	ContractName string `json:"contractName,omitempty"`
	TestName     string `json:"testName,omitempty"`
}

// ConfigUpdate carries a full config replacement.
type ConfigUpdate struct {
	Config     BuildConfig       `json:"config"`
	Remappings map[string]string `json:"remappings,omitempty"`
}

// DependencyInstallRequest carries dependencies to install.
type DependencyInstallRequest struct {
	Dependencies []Dependency `json:"dependencies"`
}

// CompileRequest is the caller-facing compile request.
type CompileRequest struct {
	Code         string `json:"code"`
	ContractName string `json:"contractName,omitempty"`
	CourseID     string `json:"courseId,omitempty"`
	UserID       string `json:"-"`
}

// TestRequest is the caller-facing test request.
type TestRequest struct {
	SolutionCode string `json:"solutionCode"`
	TestCode     string `json:"testCode"`
	ContractName string `json:"contractName,omitempty"`
	TestName     string `json:"testName,omitempty"`
	CourseID     string `json:"courseId,omitempty"`
	LessonID     string `json:"lessonId,omitempty"`
	UserID       string `json:"-"`
}

// CompileResponse is returned to callers of compile.
type CompileResponse struct {
	Success         bool         `json:"success"`
	Output          string       `json:"output"`
	Errors          []Diagnostic `json:"errors"`
	Warnings        []Diagnostic `json:"warnings"`
	ContractName    string       `json:"contractName"`
	CompilationTime int64        `json:"compilationTime"`
	TimedOut        bool         `json:"timedOut,omitempty"`
}

// TestResponse is returned to callers of test.
type TestResponse struct {
	Success     bool         `json:"success"`
	Output      string       `json:"output"`
	Results     []TestResult `json:"results"`
	TestCount   int          `json:"testCount"`
	PassedCount int          `json:"passedCount"`
	FailedCount int          `json:"failedCount"`
	TestTime    int64        `json:"testTime"`
	TimedOut    bool         `json:"timedOut,omitempty"`
}

// RunKind distinguishes compile and test runs.
type RunKind string

const (
	RunCompile RunKind = "compile"
	RunTest    RunKind = "test"
)

// RunSummary is the last-run record kept per project.
type RunSummary struct {
	Kind         RunKind   `json:"kind"`
	Success      bool      `json:"success"`
	TimedOut     bool      `json:"timedOut"`
	ContractName string    `json:"contractName"`
	DurationMs   int64     `json:"durationMs"`
	ErrorCount   int       `json:"errorCount"`
	TestCount    int       `json:"testCount"`
	PassedCount  int       `json:"passedCount"`
	FailedCount  int       `json:"failedCount"`
	FinishedAt   time.Time `json:"finishedAt"`
}

// ProjectStatus describes a workspace for getStatus.
type ProjectStatus struct {
	ProjectID    string       `json:"projectId"`
	Root         string       `json:"root,omitempty"`
	Exists       bool         `json:"exists"`
	Initialized  bool         `json:"initialized"`
	HasConfig    bool         `json:"hasConfig"`
	Dependencies []string     `json:"dependencies"`
	Sources      []string     `json:"sources"`
	Tests        []string     `json:"tests"`
	LastRun      *RunSummary  `json:"lastRun,omitempty"`
	Config       *BuildConfig `json:"config,omitempty"`
}

// IntPtr is a small helper for optional exit codes and locations.
func IntPtr(v int) *int {
	return &v
}
