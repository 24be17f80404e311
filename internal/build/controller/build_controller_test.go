package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"contractlab/internal/build/backend"
	"contractlab/internal/build/controller"
	"contractlab/internal/build/model"
	"contractlab/internal/build/service"
	commonmw "contractlab/internal/common/http/middleware"
	appErr "contractlab/pkg/errors"

	"github.com/gin-gonic/gin"
)

type stubBackend struct {
	lastKey  model.OwnerKey
	buildErr error
	config   *model.ConfigUpdate
	deleted  bool
}

func (s *stubBackend) Build(_ context.Context, key model.OwnerKey, req model.BuildRequest) (*model.CompilationResult, error) {
	s.lastKey = key
	if s.buildErr != nil {
		return nil, s.buildErr
	}
	return &model.CompilationResult{Success: true, Errors: []model.Diagnostic{}, Warnings: []model.Diagnostic{}, RawOutput: "ok " + req.ContractName, ExitCode: model.IntPtr(0)}, nil
}

func (s *stubBackend) Test(_ context.Context, key model.OwnerKey, _ model.TestRunRequest) (*model.TestExecutionResult, error) {
	s.lastKey = key
	res := &model.TestExecutionResult{Results: []model.TestResult{
		{Name: "test_A()", Status: model.TestPass},
		{Name: "test_B()", Status: model.TestFail},
	}}
	res.Tally()
	return res, nil
}

func (s *stubBackend) InstallDependencies(_ context.Context, key model.OwnerKey, deps []model.Dependency) (*model.DependencyReport, error) {
	s.lastKey = key
	report := &model.DependencyReport{}
	for _, d := range deps {
		report.Outcomes = append(report.Outcomes, model.DependencyOutcome{Name: d.Name, Status: model.DependencySkipped})
	}
	return report, nil
}

func (s *stubBackend) UpdateConfig(_ context.Context, key model.OwnerKey, cfg model.BuildConfig, remappings map[string]string) error {
	s.lastKey = key
	s.config = &model.ConfigUpdate{Config: cfg, Remappings: remappings}
	return nil
}

func (s *stubBackend) GetStatus(_ context.Context, key model.OwnerKey) (*model.ProjectStatus, error) {
	s.lastKey = key
	return &model.ProjectStatus{ProjectID: key.String(), Exists: true, Sources: []string{"Counter.sol"}}, nil
}

func (s *stubBackend) DeleteProject(_ context.Context, key model.OwnerKey) error {
	s.lastKey = key
	s.deleted = true
	return nil
}

type envelope struct {
	Code    appErr.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Data    json.RawMessage  `json:"data"`
	TraceID string           `json:"trace_id"`
}

func newRouter(t *testing.T, b backend.Backend) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc, err := service.NewService(service.Config{Backend: b})
	if err != nil {
		t.Fatalf("new service failed: %v", err)
	}
	router := gin.New()
	router.Use(commonmw.TraceContextMiddleware())
	controller.RegisterRoutes(router, controller.NewBuildController(svc))
	return router
}

func do(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body failed: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var env envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func TestCompileEndpoint(t *testing.T) {
	stub := &stubBackend{}
	router := newRouter(t, stub)
	rec, env := do(t, router, http.MethodPost, "/api/v1/compile",
		map[string]string{"code": "contract Counter {}", "courseId": "c1"},
		map[string]string{commonmw.UserIDHeader: "alice", commonmw.TraceIDHeader: "trace-9"})
	if rec.Code != http.StatusOK || env.Code != appErr.Success || env.TraceID != "trace-9" {
		t.Fatalf("unexpected response %d %+v", rec.Code, env)
	}
	var resp model.CompileResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatalf("decode data failed: %v", err)
	}
	if !resp.Success || resp.ContractName != "Counter" || resp.Output != "ok Counter" {
		t.Fatalf("unexpected compile response %+v", resp)
	}
	if stub.lastKey.UserID != "alice" || stub.lastKey.CourseID != "c1" {
		t.Fatalf("unexpected owner %+v", stub.lastKey)
	}
}

func TestCompileValidationIs400(t *testing.T) {
	router := newRouter(t, &stubBackend{})
	rec, env := do(t, router, http.MethodPost, "/api/v1/compile", map[string]string{"code": ""}, nil)
	if rec.Code != http.StatusBadRequest || env.Code != appErr.ValidationFailed {
		t.Fatalf("expected 400 validation error, got %d %+v", rec.Code, env)
	}
	rec, _ = do(t, router, http.MethodPost, "/api/v1/compile", "not an object", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestToolchainUnavailableIs503(t *testing.T) {
	router := newRouter(t, &stubBackend{buildErr: appErr.New(appErr.ToolchainUnavailable)})
	rec, env := do(t, router, http.MethodPost, "/api/v1/compile", map[string]string{"code": "contract A {}"}, nil)
	if rec.Code != http.StatusServiceUnavailable || env.Code != appErr.ToolchainUnavailable {
		t.Fatalf("expected 503, got %d %+v", rec.Code, env)
	}
}

func TestTestEndpoint(t *testing.T) {
	router := newRouter(t, &stubBackend{})
	rec, env := do(t, router, http.MethodPost, "/api/v1/test", map[string]string{
		"solutionCode": "contract Counter {}",
		"testCode":     "contract CounterTest {}",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var resp model.TestResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatalf("decode data failed: %v", err)
	}
	if resp.TestCount != 2 || resp.PassedCount != 1 || resp.FailedCount != 1 || resp.Success {
		t.Fatalf("unexpected test response %+v", resp)
	}
}

func TestProjectEndpoints(t *testing.T) {
	stub := &stubBackend{}
	router := newRouter(t, stub)

	rec, env := do(t, router, http.MethodGet, "/api/v1/projects/c1/status?userId=bob", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status failed: %d", rec.Code)
	}
	var st model.ProjectStatus
	if err := json.Unmarshal(env.Data, &st); err != nil || st.ProjectID != "bob/c1" {
		t.Fatalf("unexpected status %+v err=%v", st, err)
	}

	rec, _ = do(t, router, http.MethodPut, "/api/v1/projects/c1/config", model.ConfigUpdate{Config: model.BuildConfig{SolcVersion: "0.8.20", Verbosity: 2}}, nil)
	if rec.Code != http.StatusOK || stub.config == nil || stub.config.Config.SolcVersion != "0.8.20" {
		t.Fatalf("config update failed: %d %+v", rec.Code, stub.config)
	}

	rec, env = do(t, router, http.MethodPost, "/api/v1/projects/c1/dependencies", model.DependencyInstallRequest{Dependencies: []model.Dependency{{Name: "forge-std", Source: "foundry-rs/forge-std"}}}, nil)
	var report model.DependencyReport
	if rec.Code != http.StatusOK || json.Unmarshal(env.Data, &report) != nil || len(report.Outcomes) != 1 {
		t.Fatalf("dependency install failed: %d %s", rec.Code, env.Data)
	}

	rec, env = do(t, router, http.MethodPost, "/api/v1/projects/c1/build", model.BuildRequest{Code: "contract Vault {}"}, nil)
	var build model.CompilationResult
	if rec.Code != http.StatusOK || json.Unmarshal(env.Data, &build) != nil || !build.Success {
		t.Fatalf("project build failed: %d %s", rec.Code, env.Data)
	}

	rec, _ = do(t, router, http.MethodDelete, "/api/v1/projects/c1", nil, nil)
	if rec.Code != http.StatusOK || !stub.deleted || stub.lastKey.CourseID != "c1" {
		t.Fatalf("delete failed: %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	router := newRouter(t, &stubBackend{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected health status %d", rec.Code)
	}
}

// The remote backend must understand the envelope this controller writes.
func TestRemoteBackendAgainstController(t *testing.T) {
	stub := &stubBackend{}
	srv := httptest.NewServer(newRouter(t, stub))
	defer srv.Close()

	remote, err := backend.NewRemoteBackend(backend.RemoteConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new remote failed: %v", err)
	}
	ctx := context.Background()
	key := model.OwnerKey{UserID: "carol", CourseID: "c9"}

	res, err := remote.Build(ctx, key, model.BuildRequest{Code: "contract Token {}"})
	if err != nil || !res.Success || res.RawOutput != "ok Token" {
		t.Fatalf("unexpected remote build %+v err=%v", res, err)
	}
	if stub.lastKey != key {
		t.Fatalf("owner not forwarded: %+v", stub.lastKey)
	}
	tres, err := remote.Test(ctx, key, model.TestRunRequest{SolutionCode: "contract Token {}", TestCode: "contract T {}"})
	if err != nil || tres.TestCount != 2 || tres.FailedCount != 1 {
		t.Fatalf("unexpected remote test %+v err=%v", tres, err)
	}
	st, err := remote.GetStatus(ctx, key)
	if err != nil || st.ProjectID != "carol/c9" {
		t.Fatalf("unexpected remote status %+v err=%v", st, err)
	}
	if err := remote.DeleteProject(ctx, key); err != nil || !stub.deleted {
		t.Fatalf("remote delete failed: %v", err)
	}
}
