package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"contractlab/internal/build/model"
	"contractlab/internal/common/http/middleware"
	appErr "contractlab/pkg/errors"
	"contractlab/pkg/utils/contextkey"
	"contractlab/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultRemoteTimeout = 3 * time.Minute

// RemoteConfig points at another build service.
type RemoteConfig struct {
	BaseURL string        `yaml:"baseURL"`
	Timeout time.Duration `yaml:"timeout"`
}

// RemoteBackend forwards every operation to a build service over HTTP.
type RemoteBackend struct {
	baseURL string
	client  *http.Client
}

type envelope struct {
	Code    appErr.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Data    json.RawMessage  `json:"data"`
}

// NewRemoteBackend validates cfg and creates the backend.
func NewRemoteBackend(cfg RemoteConfig) (*RemoteBackend, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, appErr.ValidationError("remote.baseURL", "required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, appErr.ValidationError("remote.baseURL", "invalid url")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRemoteTimeout
	}
	return &RemoteBackend{baseURL: base, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

// Build never returns an error for remote failures; they become a failed result.
func (b *RemoteBackend) Build(ctx context.Context, key model.OwnerKey, req model.BuildRequest) (*model.CompilationResult, error) {
	var res model.CompilationResult
	if err := b.do(ctx, http.MethodPost, key, "/build", req, &res); err != nil {
		logger.Warn(ctx, "remote build failed", zap.Error(err))
		failed := remoteFailure(err)
		return &failed, nil
	}
	return &res, nil
}

// Test never returns an error for remote failures; they become a failed result.
func (b *RemoteBackend) Test(ctx context.Context, key model.OwnerKey, req model.TestRunRequest) (*model.TestExecutionResult, error) {
	var res model.TestExecutionResult
	if err := b.do(ctx, http.MethodPost, key, "/test", req, &res); err != nil {
		logger.Warn(ctx, "remote test failed", zap.Error(err))
		compilation := remoteFailure(err)
		failed := model.TestExecutionResult{
			Results:     []model.TestResult{},
			RawOutput:   compilation.RawOutput,
			Compilation: &compilation,
		}
		failed.Tally()
		return &failed, nil
	}
	res.Tally()
	return &res, nil
}

func (b *RemoteBackend) InstallDependencies(ctx context.Context, key model.OwnerKey, deps []model.Dependency) (*model.DependencyReport, error) {
	var report model.DependencyReport
	if err := b.do(ctx, http.MethodPost, key, "/dependencies", model.DependencyInstallRequest{Dependencies: deps}, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (b *RemoteBackend) UpdateConfig(ctx context.Context, key model.OwnerKey, cfg model.BuildConfig, remappings map[string]string) error {
	return b.do(ctx, http.MethodPut, key, "/config", model.ConfigUpdate{Config: cfg, Remappings: remappings}, nil)
}

func (b *RemoteBackend) GetStatus(ctx context.Context, key model.OwnerKey) (*model.ProjectStatus, error) {
	var st model.ProjectStatus
	if err := b.do(ctx, http.MethodGet, key, "/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (b *RemoteBackend) DeleteProject(ctx context.Context, key model.OwnerKey) error {
	return b.do(ctx, http.MethodDelete, key, "", nil, nil)
}

func (b *RemoteBackend) projectURL(key model.OwnerKey, suffix string) string {
	key = key.Normalize()
	u := fmt.Sprintf("%s/api/v1/projects/%s%s", b.baseURL, url.PathEscape(key.CourseID), suffix)
	if key.UserID != "" {
		u += "?" + url.Values{"userId": []string{key.UserID}}.Encode()
	}
	return u
}

func (b *RemoteBackend) do(ctx context.Context, method string, key model.OwnerKey, suffix string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return appErr.Wrapf(err, appErr.RemoteServiceError, "encode request failed")
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.projectURL(key, suffix), reader)
	if err != nil {
		return appErr.Wrapf(err, appErr.RemoteServiceError, "build request failed")
	}
	req.Header.Set("Content-Type", "application/json")
	if traceID, ok := ctx.Value(contextkey.TraceID).(string); ok && traceID != "" {
		req.Header.Set(middleware.TraceIDHeader, traceID)
	}
	if key.UserID != "" {
		req.Header.Set(middleware.UserIDHeader, key.UserID)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return appErr.Wrapf(err, appErr.RemoteServiceUnreachable, "build service unreachable")
	}
	defer func() { _ = resp.Body.Close() }()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return appErr.Wrapf(err, appErr.RemoteServiceUnreachable, "read build service response failed")
	}

	var env envelope
	decodeErr := json.Unmarshal(payload, &env)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || (decodeErr == nil && env.Code != appErr.Success) {
		msg := env.Message
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(payload))
		}
		return appErr.Newf(appErr.RemoteServiceError, "build service returned %d: %s", resp.StatusCode, msg).
			WithDetail("status", resp.StatusCode).
			WithDetail("remote_code", int(env.Code))
	}
	if decodeErr != nil {
		return appErr.Wrapf(decodeErr, appErr.RemoteServiceError, "decode build service response failed")
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return appErr.Wrapf(err, appErr.RemoteServiceError, "decode build service data failed")
	}
	return nil
}

func remoteFailure(err error) model.CompilationResult {
	msg := err.Error()
	return model.CompilationResult{
		Errors:    []model.Diagnostic{{Severity: model.SeverityError, Message: msg}},
		Warnings:  []model.Diagnostic{},
		RawOutput: msg,
	}
}
