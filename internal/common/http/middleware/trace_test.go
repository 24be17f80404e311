package middleware_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	commonmw "contractlab/internal/common/http/middleware"
	"contractlab/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
)

type traceResponse struct {
	TraceID    string `json:"trace_id"`
	RequestID  string `json:"request_id"`
	CtxTraceID string `json:"ctx_trace_id"`
	CtxUserID  string `json:"ctx_user_id"`
}

func newTraceRouter(cfg commonmw.TraceContextConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(commonmw.TraceContextMiddlewareWithConfig(cfg))
	router.GET("/trace", func(c *gin.Context) {
		traceID, _ := c.Get("trace_id")
		requestID, _ := c.Get("request_id")
		ctx := c.Request.Context()
		c.JSON(http.StatusOK, traceResponse{
			TraceID:    toString(traceID),
			RequestID:  toString(requestID),
			CtxTraceID: toString(ctx.Value(contextkey.TraceID)),
			CtxUserID:  toString(ctx.Value(contextkey.UserID)),
		})
	})
	return router
}

func TestTraceContextMiddlewareGeneratesIDs(t *testing.T) {
	router := newTraceRouter(commonmw.TraceContextConfig{AllowUserIDHeader: true})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/trace", nil))

	var resp traceResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response failed: %v", err)
	}
	if resp.TraceID == "" || resp.RequestID == "" {
		t.Fatalf("expected generated ids, got %+v", resp)
	}
	if resp.CtxTraceID != resp.TraceID {
		t.Fatalf("expected trace id in request context")
	}
	if rec.Header().Get(commonmw.TraceIDHeader) != resp.TraceID {
		t.Fatalf("expected trace id header")
	}
}

func TestTraceContextMiddlewarePreservesHeaders(t *testing.T) {
	router := newTraceRouter(commonmw.TraceContextConfig{AllowUserIDHeader: true, WriteUserIDHeader: true})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/trace", nil)
	req.Header.Set(commonmw.TraceIDHeader, "trace-123")
	req.Header.Set(commonmw.RequestIDHeader, "req-123")
	req.Header.Set(commonmw.UserIDHeader, "42")
	router.ServeHTTP(rec, req)

	var resp traceResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response failed: %v", err)
	}
	if resp.TraceID != "trace-123" || resp.RequestID != "req-123" {
		t.Fatalf("unexpected ids: %+v", resp)
	}
	if resp.CtxUserID != "42" {
		t.Fatalf("expected user id in context, got %q", resp.CtxUserID)
	}
	if rec.Header().Get(commonmw.UserIDHeader) != "42" {
		t.Fatalf("expected user id header")
	}
}

func TestTraceContextMiddlewareIgnoresUserHeaderWhenDisabled(t *testing.T) {
	router := newTraceRouter(commonmw.TraceContextConfig{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/trace", nil)
	req.Header.Set(commonmw.UserIDHeader, "42")
	router.ServeHTTP(rec, req)

	var resp traceResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response failed: %v", err)
	}
	if resp.CtxUserID != "" {
		t.Fatalf("expected user id to be ignored, got %q", resp.CtxUserID)
	}
}

func toString(value interface{}) string {
	if value == nil {
		return ""
	}
	return fmt.Sprint(value)
}
