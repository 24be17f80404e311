package repl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"contractlab/internal/build/model"
	"contractlab/internal/cli/command"
	httpclient "contractlab/internal/cli/http"
	"contractlab/internal/cli/state"

	"github.com/chzyer/readline"
)

type recorded struct {
	method string
	path   string
	user   string
	body   []byte
}

type fakeServer struct {
	mu       sync.Mutex
	requests []recorded
	reply    string
	status   int
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recorded{method: r.Method, path: r.URL.EscapedPath(), user: r.Header.Get("X-User-Id"), body: body})
	reply, status := f.reply, f.status
	f.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(reply))
}

func (f *fakeServer) last(t *testing.T) recorded {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		t.Fatalf("expected a request")
	}
	return f.requests[len(f.requests)-1]
}

func newSession(t *testing.T, srv *httptest.Server, input string, out *bytes.Buffer) (*Session, *state.Session, string) {
	t.Helper()
	st := &state.Session{}
	statePath := filepath.Join(t.TempDir(), "state.json")
	client := httpclient.New(srv.URL, 5*time.Second, func() string { return st.UserID })
	s := New(client, command.Registry(), st, statePath, Options{PrettyJSON: false, Color: false}, NewLineReader(strings.NewReader(input), out), out)
	return s, st, statePath
}

func TestCompileRendersVerdict(t *testing.T) {
	fake := &fakeServer{reply: `{"code":10000,"message":"success","data":{"success":false,"errors":[{"message":"x"},{"message":"y"}]}}`}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	var out bytes.Buffer
	s, _, _ := newSession(t, srv, "", &out)
	if done := s.Exec(context.Background(), `build compile code="contract A {}" contract=A`); done {
		t.Fatalf("compile must not end the session")
	}

	req := fake.last(t)
	if req.method != http.MethodPost || req.path != "/api/v1/compile" {
		t.Fatalf("unexpected request %s %s", req.method, req.path)
	}
	var body model.CompileRequest
	if err := json.Unmarshal(req.body, &body); err != nil {
		t.Fatalf("decode body failed: %v", err)
	}
	if body.Code != "contract A {}" || body.ContractName != "A" {
		t.Fatalf("unexpected body: %+v", body)
	}
	if !strings.Contains(out.String(), "HTTP 200") || !strings.Contains(out.String(), "FAIL 2 errors") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}

func TestSessionDefaultsFlowIntoRequests(t *testing.T) {
	fake := &fakeServer{reply: `{"code":10000,"message":"success","data":{"success":true,"testCount":3,"passedCount":3,"failedCount":0}}`}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	var out bytes.Buffer
	s, st, statePath := newSession(t, srv, "", &out)
	ctx := context.Background()
	s.Exec(ctx, "set user alice")
	s.Exec(ctx, "set course intro")
	s.Exec(ctx, "set lesson l2")
	s.Exec(ctx, `build test solution="contract A {}" test="contract ATest {}"`)

	req := fake.last(t)
	if req.user != "alice" {
		t.Fatalf("expected user header, got %q", req.user)
	}
	var body model.TestRequest
	if err := json.Unmarshal(req.body, &body); err != nil {
		t.Fatalf("decode body failed: %v", err)
	}
	if body.CourseID != "intro" || body.LessonID != "l2" {
		t.Fatalf("expected session defaults, got %+v", body)
	}
	if !strings.Contains(out.String(), "PASS 3 passed, 0 failed, 3 total") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}

	saved, err := state.Load(statePath)
	if err != nil {
		t.Fatalf("load state failed: %v", err)
	}
	if saved != *st || saved.UserID != "alice" {
		t.Fatalf("expected persisted session, got %+v", saved)
	}

	s.Exec(ctx, "project status")
	if got := fake.last(t); got.method != http.MethodGet || got.path != "/api/v1/projects/intro/status" {
		t.Fatalf("unexpected status request %s %s", got.method, got.path)
	}
}

func TestErrorEnvelopeIsShown(t *testing.T) {
	fake := &fakeServer{status: http.StatusBadRequest, reply: `{"code":10301,"message":"code is required"}`}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	var out bytes.Buffer
	s, _, _ := newSession(t, srv, "", &out)
	s.Exec(context.Background(), `build compile code=x`)
	if !strings.Contains(out.String(), "HTTP 400") || !strings.Contains(out.String(), "[10301] code is required") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}

func TestRunPromptsForMissingFields(t *testing.T) {
	fake := &fakeServer{reply: `{"code":10000,"message":"success","data":{"success":true,"errors":[]}}`}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	var out bytes.Buffer
	input := "help\nbuild compile\ncontract B {}\nbogus cmd\nexit\n"
	s, _, _ := newSession(t, srv, input, &out)
	s.Run(context.Background())

	var body model.CompileRequest
	if err := json.Unmarshal(fake.last(t).body, &body); err != nil {
		t.Fatalf("decode body failed: %v", err)
	}
	if body.Code != "contract B {}" {
		t.Fatalf("expected prompted code, got %q", body.Code)
	}
	text := out.String()
	for _, want := range []string{"build compile", "contract source:", "PASS 0 errors", "unknown command: bogus cmd", "bye"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in output:\n%s", want, text)
		}
	}
}

func TestRunStopsAtEOF(t *testing.T) {
	srv := httptest.NewServer(&fakeServer{})
	defer srv.Close()

	var out bytes.Buffer
	s, _, _ := newSession(t, srv, "show session", &out)
	s.Run(context.Background())
	if !strings.Contains(out.String(), "user: <empty>") {
		t.Fatalf("expected last line without newline to run:\n%s", out.String())
	}
}

func TestResetClearsSession(t *testing.T) {
	srv := httptest.NewServer(&fakeServer{})
	defer srv.Close()

	var out bytes.Buffer
	s, st, statePath := newSession(t, srv, "", &out)
	s.Exec(context.Background(), "set course intro")
	s.Exec(context.Background(), "reset")
	if *st != (state.Session{}) {
		t.Fatalf("expected empty session, got %+v", *st)
	}
	if saved, _ := state.Load(statePath); saved != (state.Session{}) {
		t.Fatalf("expected state file cleared, got %+v", saved)
	}
}

type scriptedReader struct {
	lines []string
	errs  []error
}

func (r *scriptedReader) ReadLine(string) (string, error) {
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line, err := r.lines[0], r.errs[0]
	r.lines, r.errs = r.lines[1:], r.errs[1:]
	return line, err
}

func TestInterruptDropsPartialLineThenExits(t *testing.T) {
	fake := &fakeServer{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	var out bytes.Buffer
	reader := &scriptedReader{
		lines: []string{"build compile code=half", "", "system health"},
		errs:  []error{readline.ErrInterrupt, readline.ErrInterrupt, nil},
	}
	st := &state.Session{}
	client := httpclient.New(srv.URL, time.Second, nil)
	s := New(client, command.Registry(), st, filepath.Join(t.TempDir(), "s.json"), Options{}, reader, &out)
	s.Run(context.Background())

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.requests) != 0 {
		t.Fatalf("expected no request after interrupts, got %d", len(fake.requests))
	}
	if len(reader.lines) != 1 {
		t.Fatalf("expected the session to stop at the empty interrupt")
	}
}
