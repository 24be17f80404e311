package repl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"contractlab/internal/cli/command"
	httpclient "contractlab/internal/cli/http"
	"contractlab/internal/cli/state"
	pkgerrors "contractlab/pkg/errors"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/google/shlex"
)

const prompt = "contractlab> "

// Options controls rendering.
type Options struct {
	PrettyJSON bool
	Color      bool
}

// Session holds REPL state.
type Session struct {
	client     *httpclient.Client
	commands   map[string]command.Command
	session    *state.Session
	statePath  string
	prettyJSON bool
	lines      LineReader
	out        *bufio.Writer
	ok         *color.Color
	bad        *color.Color
	dim        *color.Color
}

func New(client *httpclient.Client, commands map[string]command.Command, session *state.Session, statePath string, opts Options, lines LineReader, out io.Writer) *Session {
	s := &Session{
		client:     client,
		commands:   commands,
		session:    session,
		statePath:  statePath,
		prettyJSON: opts.PrettyJSON,
		lines:      lines,
		out:        bufio.NewWriter(out),
		ok:         color.New(color.FgGreen, color.Bold),
		bad:        color.New(color.FgRed, color.Bold),
		dim:        color.New(color.FgHiBlack),
	}
	for _, c := range []*color.Color{s.ok, s.bad, s.dim} {
		if opts.Color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return s
}

// Run reads commands until exit or end of input.
func (s *Session) Run(ctx context.Context) {
	for {
		line, err := s.lines.ReadLine(prompt)
		line = strings.TrimSpace(line)
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return
			}
			continue
		}
		if line == "" && err != nil {
			if !errors.Is(err, io.EOF) {
				s.printLine("read input failed: %v", err)
			}
			return
		}
		if line == "" {
			continue
		}
		if done := s.Exec(ctx, line); done {
			return
		}
	}
}

// Exec runs one input line and reports whether the session should end.
func (s *Session) Exec(ctx context.Context, line string) bool {
	switch line {
	case "exit", "quit":
		s.printLine("bye")
		return true
	}
	if s.handleSystemCommand(line) {
		return false
	}
	if err := s.handleCommand(ctx, line); err != nil {
		s.printLine("%s %v", s.bad.Sprint("error:"), err)
	}
	return false
}

func (s *Session) handleSystemCommand(line string) bool {
	if line == "help" {
		s.printHelp()
		return true
	}
	if strings.HasPrefix(line, "set ") {
		s.handleSet(strings.TrimSpace(strings.TrimPrefix(line, "set ")))
		return true
	}
	if strings.HasPrefix(line, "show ") {
		s.handleShow(strings.TrimSpace(strings.TrimPrefix(line, "show ")))
		return true
	}
	if line == "reset" {
		*s.session = state.Session{}
		if err := state.Clear(s.statePath); err != nil {
			s.printLine("clear session failed: %v", err)
			return true
		}
		s.printLine("session cleared")
		return true
	}
	return false
}

func (s *Session) handleSet(args string) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		s.printLine("usage: set base|timeout|user|course|lesson <value>")
		return
	}
	if len(parts) < 2 {
		s.printLine("usage: set %s <value>", parts[0])
		return
	}
	value := parts[1]
	switch parts[0] {
	case "base":
		s.client.SetBaseURL(value)
		s.printLine("base set to %s", value)
		return
	case "timeout":
		dur, err := time.ParseDuration(value)
		if err != nil {
			s.printLine("invalid duration: %v", err)
			return
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
		return
	case "user":
		s.session.UserID = value
	case "course":
		s.session.CourseID = value
	case "lesson":
		s.session.LessonID = value
	default:
		s.printLine("unknown set command")
		return
	}
	if err := state.Save(s.statePath, *s.session); err != nil {
		s.printLine("save session failed: %v", err)
		return
	}
	s.printLine("%s set to %s", parts[0], value)
}

func (s *Session) handleShow(args string) {
	switch args {
	case "session":
		s.printLine("user: %s", orEmpty(s.session.UserID))
		s.printLine("course: %s", orEmpty(s.session.CourseID))
		s.printLine("lesson: %s", orEmpty(s.session.LessonID))
	case "config":
		s.printLine("base: %s", s.client.BaseURL())
		s.printLine("statePath: %s", s.statePath)
	default:
		s.printLine("usage: show session|config")
	}
}

func (s *Session) handleCommand(ctx context.Context, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) < 2 {
		return fmt.Errorf("invalid command, use: <service> <action> key=value ...")
	}
	cmd, ok := s.commands[tokens[0]+" "+tokens[1]]
	if !ok {
		return fmt.Errorf("unknown command: %s %s", tokens[0], tokens[1])
	}
	params := command.Params{}
	for _, token := range tokens[2:] {
		parts := strings.SplitN(token, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid param: %s", token)
		}
		params.Set(parts[0], parts[1])
	}
	params.Canonicalize(cmd.Fields)
	params.Default("course", s.session.CourseID)
	params.Default("lesson", s.session.LessonID)

	if err := s.promptMissing(cmd, params); err != nil {
		return err
	}
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	return nil
}

func (s *Session) promptMissing(cmd command.Command, params command.Params) error {
	for _, field := range cmd.Fields {
		if !field.Required || params.Satisfied(field) {
			continue
		}
		line, err := s.lines.ReadLine(field.Prompt + ": ")
		line = strings.TrimSpace(line)
		if err != nil && line == "" {
			return fmt.Errorf("read input failed: %w", err)
		}
		params.Set(field.Name, line)
	}
	return nil
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type verdict struct {
	Success     *bool             `json:"success"`
	TimedOut    bool              `json:"timedOut"`
	Errors      []json.RawMessage `json:"errors"`
	TestCount   *int              `json:"testCount"`
	PassedCount int               `json:"passedCount"`
	FailedCount int               `json:"failedCount"`
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	status := s.ok
	if resp.StatusCode >= 300 {
		status = s.bad
	}
	s.printLine("%s %s", status.Sprintf("HTTP %d", resp.StatusCode), s.dim.Sprintf("(%s, trace %s)", resp.Duration, resp.TraceID))
	if len(resp.Body) == 0 {
		return
	}

	var env envelope
	if err := json.Unmarshal(resp.Body, &env); err == nil {
		if env.Code != 0 && env.Code != int(pkgerrors.Success) {
			s.printLine("%s %s", s.bad.Sprintf("[%d]", env.Code), env.Message)
		} else if line := s.summarize(env.Data); line != "" {
			s.printLine("%s", line)
		}
	}

	if s.prettyJSON {
		var raw interface{}
		if err := json.Unmarshal(resp.Body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(resp.Body))
}

func (s *Session) summarize(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var v verdict
	if err := json.Unmarshal(data, &v); err != nil || v.Success == nil {
		return ""
	}
	label := s.ok.Sprint("PASS")
	if !*v.Success {
		label = s.bad.Sprint("FAIL")
	}
	switch {
	case v.TimedOut:
		return label + " timed out"
	case v.TestCount != nil:
		return fmt.Sprintf("%s %d passed, %d failed, %d total", label, v.PassedCount, v.FailedCount, *v.TestCount)
	default:
		return fmt.Sprintf("%s %d errors", label, len(v.Errors))
	}
}

func (s *Session) printHelp() {
	s.printLine("usage: <service> <action> key=value ...")
	s.printLine("system: help | exit | reset | set base|timeout|user|course|lesson | show session|config")
	s.printLine("commands:")
	for _, key := range command.Keys(s.commands) {
		s.printLine("  %-16s %s", key, s.commands[key].Summary)
	}
	s.printLine("examples:")
	s.printLine("  build compile file=./src/Counter.sol")
	s.printLine("  build test solution_file=./src/Counter.sol test_file=./test/Counter.t.sol test_name=test_Increment")
	s.printLine("  project deps course=intro deps=solmate@transmissions11/solmate#v7")
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
	_ = s.out.Flush()
}

func orEmpty(v string) string {
	if v == "" {
		return "<empty>"
	}
	return v
}
