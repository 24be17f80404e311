package parser_test

import (
	"strings"
	"testing"

	"contractlab/internal/build/model"
	"contractlab/internal/build/parser"
)

const counterTestJSON = `{
  "test/Counter.t.sol:CounterTest": {
    "duration": "4ms 120us",
    "test_results": {
      "test_Increment()": {
        "status": "Success",
        "reason": null,
        "counterexample": null,
        "logs": [],
        "kind": {"Unit": {"gas": 12345}},
        "traces": [],
        "duration": {"secs": 0, "nanos": 1500000}
      },
      "testFuzz_SetNumber(uint256)": {
        "status": "Success",
        "reason": null,
        "kind": {"Fuzz": {"first_case": {}, "runs": 256, "mean_gas": 6789, "median_gas": 6800}},
        "duration": "3ms"
      },
      "test_Broken()": {
        "status": "Failure",
        "reason": "assertion failed: 1 != 2",
        "kind": {"Unit": {"gas": 5000}}
      },
      "test_Later()": {
        "status": "Skipped",
        "reason": null,
        "kind": {"Unit": {"gas": 0}}
      }
    },
    "warnings": []
  }
}`

func findResult(t *testing.T, results []model.TestResult, name string) model.TestResult {
	t.Helper()
	for _, r := range results {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("result %s not found in %+v", name, results)
	return model.TestResult{}
}

func TestParseTestJSONBlob(t *testing.T) {
	res := parser.ParseTest(counterTestJSON, "", model.IntPtr(1))
	if len(res.Results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(res.Results))
	}
	wantOrder := []string{"testFuzz_SetNumber(uint256)", "test_Broken()", "test_Increment()", "test_Later()"}
	for i, name := range wantOrder {
		if res.Results[i].Name != name {
			t.Fatalf("result %d is %s, want %s", i, res.Results[i].Name, name)
		}
	}

	unit := findResult(t, res.Results, "test_Increment()")
	if unit.Status != model.TestPass || unit.GasUsed == nil || *unit.GasUsed != 12345 {
		t.Fatalf("unexpected unit result %+v", unit)
	}
	if unit.Suite != "test/Counter.t.sol:CounterTest" {
		t.Fatalf("unexpected suite %q", unit.Suite)
	}
	if unit.DurationMs == nil || *unit.DurationMs != 1 {
		t.Fatalf("unexpected duration %v", unit.DurationMs)
	}
	fuzz := findResult(t, res.Results, "testFuzz_SetNumber(uint256)")
	if fuzz.GasUsed == nil || *fuzz.GasUsed != 6789 {
		t.Fatalf("expected fuzz mean gas 6789, got %v", fuzz.GasUsed)
	}
	if fuzz.DurationMs == nil || *fuzz.DurationMs != 3 {
		t.Fatalf("unexpected fuzz duration %v", fuzz.DurationMs)
	}
	broken := findResult(t, res.Results, "test_Broken()")
	if broken.Status != model.TestFail || broken.Message != "assertion failed: 1 != 2" {
		t.Fatalf("unexpected failing result %+v", broken)
	}
	if skipped := findResult(t, res.Results, "test_Later()"); skipped.Status != model.TestFail || skipped.Message != "Skipped" {
		t.Fatalf("expected skipped test to count as failed, got %+v", skipped)
	}

	if res.PassedCount != 2 || res.FailedCount != 2 || res.TestCount != 4 || res.TestCount != len(res.Results) {
		t.Fatalf("unexpected counts %+v", res)
	}
	if res.Success {
		t.Fatalf("a failing test must fail the run")
	}
}

func TestParseTestGasDefaultsToZero(t *testing.T) {
	stdout := `{"S":{"test_results":{"test_A()":{"status":"Success","kind":{}}}}}`
	res := parser.ParseTest(stdout, "", model.IntPtr(0))
	if len(res.Results) != 1 || res.Results[0].GasUsed == nil || *res.Results[0].GasUsed != 0 {
		t.Fatalf("expected zero gas, got %+v", res.Results)
	}
	if !res.Success {
		t.Fatalf("expected success")
	}
}

func TestParseTestOnePassOneFail(t *testing.T) {
	stdout := `{"test/Token.t.sol:TokenTest":{"test_results":{` +
		`"test_Transfer()":{"status":"Success","kind":{"Unit":{"gas":40000}}},` +
		`"test_Overdraw()":{"status":"Failure","reason":"revert: insufficient balance","kind":{"Unit":{"gas":21000}}}}}}`
	res := parser.ParseTest(stdout, "", model.IntPtr(1))
	if res.TestCount != 2 || res.PassedCount != 1 || res.FailedCount != 1 || res.Success {
		t.Fatalf("expected 2/1/1 and failure, got %+v", res)
	}
	if res.TestCount != res.PassedCount+res.FailedCount || res.TestCount != len(res.Results) {
		t.Fatalf("counts must be derived from results, got %+v", res)
	}
}

func TestParseTestJSONLines(t *testing.T) {
	stdout := strings.Join([]string{
		"Compiling 3 files with Solc 0.8.26",
		`{"test/A.t.sol:ATest":{"test_results":{"test_A()":{"status":"Success","kind":{"Standard":777}}}}}`,
		`{"test/B.t.sol:BTest":{"test_results":{"test_B()":{"status":"Failure","reason":"boom","kind":{"Unit":{"gas":1}}}}}}`,
	}, "\n")
	if _, ok := (parser.JSONBlobTest{}).ParseTests(stdout, ""); ok {
		t.Fatalf("two documents are not a single blob")
	}
	res := parser.ParseTest(stdout, "", model.IntPtr(1))
	if len(res.Results) != 2 {
		t.Fatalf("expected 2 results, got %+v", res.Results)
	}
	if res.Results[0].Suite != "test/A.t.sol:ATest" || *res.Results[0].GasUsed != 777 {
		t.Fatalf("unexpected first result %+v", res.Results[0])
	}
	if res.Results[1].Status != model.TestFail || res.Results[1].Message != "boom" {
		t.Fatalf("unexpected second result %+v", res.Results[1])
	}
}

func TestParseTestTextMarkers(t *testing.T) {
	stdout := strings.Join([]string{
		"Ran 4 tests for test/Counter.t.sol:CounterTest",
		"[PASS] test_Increment() (gas: 31303)",
		"[PASS] testFuzz_SetNumber(uint256) (runs: 256, \u03bc: 6789, ~: 6800)",
		"[FAIL. Reason: assertion failed] test_Broken() (gas: 5000)",
		"[FAIL: revert: not owner] test_Owner(address)",
		"Suite result: FAILED. 2 passed; 2 failed; 0 skipped; finished in 1.20ms",
		"Ran 1 test suite in 10.2ms (1.20ms CPU time): 2 tests passed, 2 failed, 0 skipped (4 total tests)",
	}, "\n")
	res := parser.ParseTest(stdout, "", model.IntPtr(1))
	if len(res.Results) != 4 {
		t.Fatalf("expected 4 results, got %+v", res.Results)
	}
	inc := findResult(t, res.Results, "test_Increment()")
	if inc.Status != model.TestPass || *inc.GasUsed != 31303 || inc.Suite != "test/Counter.t.sol:CounterTest" {
		t.Fatalf("unexpected pass result %+v", inc)
	}
	if fuzz := findResult(t, res.Results, "testFuzz_SetNumber(uint256)"); fuzz.GasUsed == nil || *fuzz.GasUsed != 6789 {
		t.Fatalf("unexpected fuzz gas %+v", fuzz)
	}
	broken := findResult(t, res.Results, "test_Broken()")
	if broken.Status != model.TestFail || broken.Message != "assertion failed" {
		t.Fatalf("unexpected fail result %+v", broken)
	}
	owner := findResult(t, res.Results, "test_Owner(address)")
	if owner.Message != "revert: not owner" || owner.GasUsed != nil {
		t.Fatalf("unexpected fail result %+v", owner)
	}
	if res.PassedCount != 2 || res.FailedCount != 2 || res.TestCount != 4 {
		t.Fatalf("unexpected counts %+v", res)
	}
}

func TestParseTestCompileFailure(t *testing.T) {
	stderr := "Error: \nCompiler run failed:\nError (7576): Undeclared identifier.\n --> test/Counter.t.sol:9:9:\n"
	res := parser.ParseTest("", stderr, model.IntPtr(1))
	if res.Success || res.TestCount != 0 || len(res.Results) != 0 {
		t.Fatalf("expected empty failed run, got %+v", res)
	}
	if res.Compilation == nil || len(res.Compilation.Errors) != 1 {
		t.Fatalf("expected compilation diagnostics, got %+v", res.Compilation)
	}
	if *res.Compilation.Errors[0].Line != 9 {
		t.Fatalf("unexpected location %+v", res.Compilation.Errors[0])
	}
}

func TestParseTestNoTestsIsNotSuccess(t *testing.T) {
	res := parser.ParseTest("No tests found in project!", "", model.IntPtr(0))
	if res.Success || res.TestCount != 0 || res.Compilation != nil {
		t.Fatalf("zero tests must not be success, got %+v", res)
	}
}

func TestTimeoutDiagnostic(t *testing.T) {
	d := parser.TimeoutDiagnostic(0)
	if d.Severity != model.SeverityError || !strings.HasPrefix(d.Message, "timed out") {
		t.Fatalf("unexpected timeout diagnostic %+v", d)
	}
}

func TestParseTestSkippedCountsAsFailed(t *testing.T) {
	stdout := `{"test/S.t.sol:STest":{"test_results":{` +
		`"test_Ok()":{"status":"Success","kind":{"Unit":{"gas":10}}},` +
		`"test_Later()":{"status":"Skipped","kind":{"Unit":{"gas":0}}}}}}`
	res := parser.ParseTest(stdout, "", model.IntPtr(0))
	if len(res.Results) != 2 || res.TestCount != 2 || res.PassedCount != 1 || res.FailedCount != 1 {
		t.Fatalf("expected 2/1/1, got %+v", res)
	}
	if res.Success {
		t.Fatalf("a skipped test must not leave the run successful")
	}

	text := strings.Join([]string{
		"[PASS] test_Ok() (gas: 10)",
		"[SKIP] test_Later() (gas: 0)",
	}, "\n")
	res = parser.ParseTest(text, "", model.IntPtr(0))
	if res.TestCount != len(res.Results) || res.FailedCount != 1 || res.Success {
		t.Fatalf("expected text skip to count as failed, got %+v", res)
	}
}
