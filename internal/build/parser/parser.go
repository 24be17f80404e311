// Package parser turns raw toolchain output into CompilationResult and
// TestExecutionResult values.
//
// Each result kind has an ordered list of strategies. The structured JSON
// dialects come first; the text scanners are a compatibility path for output
// that carries no JSON at all.
package parser

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"contractlab/internal/build/model"
)

// CompileStrategy extracts diagnostics from build output.
// ok is false when the output is not in the strategy's dialect.
type CompileStrategy interface {
	Name() string
	ParseCompile(stdout, stderr string, exitCode *int) (diags []model.Diagnostic, ok bool)
}

// TestStrategy extracts itemized test results from test output.
// ok is false when the strategy found no test entries.
type TestStrategy interface {
	Name() string
	ParseTests(stdout, stderr string) (results []model.TestResult, ok bool)
}

// Parser tries its strategies in order; the first ok wins.
type Parser struct {
	Compile []CompileStrategy
	Test    []TestStrategy
}

// New returns a parser with the default dialect order.
func New() *Parser {
	return &Parser{
		Compile: []CompileStrategy{JSONLinesCompile{}, JSONBlobCompile{}, TextCompile{}},
		Test:    []TestStrategy{JSONBlobTest{}, JSONLinesTest{}, TextTest{}},
	}
}

var defaultParser = New()

// ParseCompilation normalizes build output with the default strategies.
func ParseCompilation(stdout, stderr string, exitCode *int) model.CompilationResult {
	return defaultParser.ParseCompilation(stdout, stderr, exitCode)
}

// ParseTest normalizes test output with the default strategies.
func ParseTest(stdout, stderr string, exitCode *int) model.TestExecutionResult {
	return defaultParser.ParseTest(stdout, stderr, exitCode)
}

// ParseCompilation applies the exit code rule after extraction: exit 0 always
// means success with no errors, whatever the output text says.
func (p *Parser) ParseCompilation(stdout, stderr string, exitCode *int) model.CompilationResult {
	res := model.CompilationResult{
		Errors:    []model.Diagnostic{},
		Warnings:  []model.Diagnostic{},
		RawOutput: RawOutput(stdout, stderr),
		ExitCode:  exitCode,
	}
	for _, strategy := range p.Compile {
		diags, ok := strategy.ParseCompile(stdout, stderr, exitCode)
		if !ok {
			continue
		}
		for _, d := range diags {
			if d.Severity == model.SeverityError {
				res.Errors = append(res.Errors, d)
			} else {
				res.Warnings = append(res.Warnings, d)
			}
		}
		break
	}
	res.Success = exitCode != nil && *exitCode == 0
	if res.Success {
		res.Errors = []model.Diagnostic{}
	}
	return res
}

// ParseTest derives every count from the itemized results. When no test ran
// and the process failed, the build diagnostics are attached as Compilation.
func (p *Parser) ParseTest(stdout, stderr string, exitCode *int) model.TestExecutionResult {
	res := model.TestExecutionResult{
		Results:   []model.TestResult{},
		RawOutput: RawOutput(stdout, stderr),
		ExitCode:  exitCode,
	}
	for _, strategy := range p.Test {
		results, ok := strategy.ParseTests(stdout, stderr)
		if ok {
			res.Results = results
			break
		}
	}
	sortResults(res.Results)
	res.Tally()
	if len(res.Results) == 0 && (exitCode == nil || *exitCode != 0) {
		compilation := p.ParseCompilation(stdout, stderr, exitCode)
		if len(compilation.Errors) > 0 {
			res.Compilation = &compilation
		}
	}
	return res
}

// TimeoutDiagnostic is the only diagnostic reported for a killed run.
func TimeoutDiagnostic(timeout time.Duration) model.Diagnostic {
	return model.Diagnostic{
		Severity: model.SeverityError,
		Message:  fmt.Sprintf("timed out after %s", timeout),
	}
}

// RawOutput joins stdout and stderr for display.
func RawOutput(stdout, stderr string) string {
	stdout = strings.TrimRight(stdout, "\n")
	stderr = strings.TrimRight(stderr, "\n")
	switch {
	case stdout == "":
		return stderr
	case stderr == "":
		return stdout
	}
	return stdout + "\n" + stderr
}

func sortResults(results []model.TestResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Suite != results[j].Suite {
			return results[i].Suite < results[j].Suite
		}
		return results[i].Name < results[j].Name
	})
}

var locationPattern = regexp.MustCompile(`-->\s*([^\s:]+):(\d+):(\d+)`)

// parseLocation reads "--> file:line:col" from a formatted compiler message.
func parseLocation(text string) (file string, line, column *int, ok bool) {
	m := locationPattern.FindStringSubmatch(text)
	if m == nil {
		return "", nil, nil, false
	}
	l, err := strconv.Atoi(m[2])
	if err != nil {
		return "", nil, nil, false
	}
	c, err := strconv.Atoi(m[3])
	if err != nil {
		return "", nil, nil, false
	}
	return m[1], &l, &c, true
}

// jsonSpan returns the outermost {...} span of s.
func jsonSpan(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func splitLines(s string) []string {
	return strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
}
