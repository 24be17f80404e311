package parser_test

import (
	"strings"
	"testing"

	"contractlab/internal/build/model"
	"contractlab/internal/build/parser"
)

const brokenBuildJSON = `{
  "errors": [
    {
      "sourceLocation": {"file": "src/Broken.sol", "start": 80, "end": 81},
      "type": "ParserError",
      "component": "general",
      "severity": "error",
      "errorCode": "2314",
      "message": "Expected ';' but got '}'",
      "formattedMessage": "ParserError: Expected ';' but got '}'\n --> src/Broken.sol:6:5:\n  |\n6 |     }\n  |     ^\n"
    },
    {
      "sourceLocation": {"file": "src/Broken.sol", "start": 0, "end": 10},
      "type": "Warning",
      "component": "general",
      "severity": "warning",
      "errorCode": "1878",
      "message": "SPDX license identifier not provided in source file.",
      "formattedMessage": "Warning: SPDX license identifier not provided in source file.\n--> src/Broken.sol\n"
    }
  ],
  "sources": {},
  "contracts": {}
}`

const brokenBuildText = `Error: 
Compiler run failed:
Error (2314): Expected ';' but got '}'
 --> src/Broken.sol:6:5:
  |
6 |     revert Error();
  |     ^
`

func TestParseCompilationJSONBlob(t *testing.T) {
	res := parser.ParseCompilation(brokenBuildJSON, "", model.IntPtr(1))
	if res.Success {
		t.Fatalf("expected failure")
	}
	if len(res.Errors) != 1 || len(res.Warnings) != 1 {
		t.Fatalf("expected 1 error and 1 warning, got %+v / %+v", res.Errors, res.Warnings)
	}
	e := res.Errors[0]
	if e.Message != "ParserError: Expected ';' but got '}'" || e.Code != "2314" || e.File != "src/Broken.sol" {
		t.Fatalf("unexpected error diagnostic %+v", e)
	}
	if e.Line == nil || *e.Line != 6 || e.Column == nil || *e.Column != 5 {
		t.Fatalf("unexpected location %v:%v", e.Line, e.Column)
	}
	if res.Warnings[0].Line != nil {
		t.Fatalf("warning without line must keep nil location")
	}
	if res.RawOutput != brokenBuildJSON {
		t.Fatalf("raw output must be kept")
	}
}

func TestParseCompilationCleanJSON(t *testing.T) {
	res := parser.ParseCompilation(`{"errors":[],"sources":{},"contracts":{}}`, "", model.IntPtr(0))
	if !res.Success || len(res.Errors) != 0 || len(res.Warnings) != 0 {
		t.Fatalf("expected clean success, got %+v", res)
	}
}

func TestJSONLinesCompile(t *testing.T) {
	stdout := strings.Join([]string{
		"Compiling 2 files with Solc 0.8.26",
		`{"severity":"error","type":"TypeError","message":"Undeclared identifier.","formattedMessage":"TypeError: Undeclared identifier.\n --> src/A.sol:3:9:\n"}`,
		`{"severity":"warning","message":"Unused local variable."}`,
		`{"error":"solc 0.8.99 is not installed"}`,
	}, "\n")
	diags, ok := parser.JSONLinesCompile{}.ParseCompile(stdout, "", model.IntPtr(1))
	if !ok || len(diags) != 3 {
		t.Fatalf("expected 3 diagnostics, got ok=%v %+v", ok, diags)
	}
	if diags[0].Message != "TypeError: Undeclared identifier." || diags[0].Line == nil || *diags[0].Line != 3 {
		t.Fatalf("unexpected first diagnostic %+v", diags[0])
	}
	if diags[1].Severity != model.SeverityWarning {
		t.Fatalf("expected warning, got %+v", diags[1])
	}
	if diags[2].Severity != model.SeverityError || diags[2].Message != "solc 0.8.99 is not installed" {
		t.Fatalf("unexpected error field diagnostic %+v", diags[2])
	}
}

func TestJSONLinesCompileIgnoresPrettyPrintedBlob(t *testing.T) {
	if _, ok := (parser.JSONLinesCompile{}).ParseCompile(brokenBuildJSON, "", model.IntPtr(1)); ok {
		t.Fatalf("multi-line document must be left to the blob strategy")
	}
	if _, ok := (parser.JSONBlobCompile{}).ParseCompile("Compiling...\n"+brokenBuildJSON+"\nDone", "", model.IntPtr(1)); !ok {
		t.Fatalf("blob strategy must find the outermost document")
	}
}

func TestParseCompilationTextFallback(t *testing.T) {
	res := parser.ParseCompilation("", brokenBuildText, model.IntPtr(1))
	if res.Success {
		t.Fatalf("expected failure")
	}
	if len(res.Errors) != 1 {
		t.Fatalf("expected exactly 1 error, got %+v", res.Errors)
	}
	e := res.Errors[0]
	if e.Message != "Expected ';' but got '}'" || e.Code != "2314" {
		t.Fatalf("unexpected diagnostic %+v", e)
	}
	if e.File != "src/Broken.sol" || e.Line == nil || *e.Line != 6 {
		t.Fatalf("unexpected location %+v", e)
	}
}

func TestParseCompilationExitCodePrecedence(t *testing.T) {
	stdout := "Compiling 1 files with Solc 0.8.26\nNo error found, error handlers installed\nCompiler run successful!\n"
	res := parser.ParseCompilation(stdout, "", model.IntPtr(0))
	if !res.Success || len(res.Errors) != 0 {
		t.Fatalf("exit 0 must win over output text, got %+v", res)
	}

	res = parser.ParseCompilation(`{"errors":[{"severity":"error","message":"stale"}]}`, "", model.IntPtr(0))
	if !res.Success || len(res.Errors) != 0 {
		t.Fatalf("exit 0 must clear structured errors, got %+v", res)
	}
}

func TestTextCompileWarnings(t *testing.T) {
	out := "Compiler run successful with warnings:\nWarning (2072): Unused local variable.\n --> src/A.sol:4:9:\nNo files changed, compilation skipped\n"
	res := parser.ParseCompilation(out, "", model.IntPtr(0))
	if !res.Success || len(res.Warnings) != 1 {
		t.Fatalf("expected one warning, got %+v", res.Warnings)
	}
	w := res.Warnings[0]
	if w.Message != "Unused local variable." || w.Code != "2072" || w.Line == nil || *w.Line != 4 {
		t.Fatalf("unexpected warning %+v", w)
	}
}

func TestParseCompilationUninterpretable(t *testing.T) {
	res := parser.ParseCompilation("", "segmentation fault (core dumped)", model.IntPtr(139))
	if res.Success {
		t.Fatalf("expected failure")
	}
	if len(res.Errors) != 0 || len(res.Warnings) != 0 {
		t.Fatalf("unrecognized output must not produce diagnostics, got %+v", res)
	}
	if res.RawOutput != "segmentation fault (core dumped)" {
		t.Fatalf("raw output must be kept, got %q", res.RawOutput)
	}
}

func TestParseCompilationWithoutExitCode(t *testing.T) {
	res := parser.ParseCompilation("", "", nil)
	if res.Success || res.ExitCode != nil {
		t.Fatalf("missing exit code is never success, got %+v", res)
	}
}

func TestRawOutput(t *testing.T) {
	if got := parser.RawOutput("a\n", "b\n"); got != "a\nb" {
		t.Fatalf("got %q", got)
	}
	if got := parser.RawOutput("", "b"); got != "b" {
		t.Fatalf("got %q", got)
	}
}
