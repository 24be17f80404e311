package parser

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"contractlab/internal/build/model"
)

const statusSuccess = "success"

// suiteResult is one entry of the test runner's JSON report keyed by suite.
type suiteResult struct {
	TestResults map[string]testEntry `json:"test_results"`
}

type testEntry struct {
	Status   string          `json:"status"`
	Reason   *string         `json:"reason"`
	Kind     testKind        `json:"kind"`
	Duration json.RawMessage `json:"duration"`
}

type testKind struct {
	Unit *struct {
		Gas *uint64 `json:"gas"`
	} `json:"Unit"`
	Fuzz *struct {
		MeanGas *uint64 `json:"mean_gas"`
	} `json:"Fuzz"`
	Standard *uint64 `json:"Standard"`
}

// gas prefers unit gas, then fuzz mean gas, then the legacy standard figure.
func (k testKind) gas() uint64 {
	switch {
	case k.Unit != nil && k.Unit.Gas != nil:
		return *k.Unit.Gas
	case k.Fuzz != nil && k.Fuzz.MeanGas != nil:
		return *k.Fuzz.MeanGas
	case k.Standard != nil:
		return *k.Standard
	}
	return 0
}

// mapStatus treats everything but the success sentinel as a failure, skipped included.
func mapStatus(status string) model.TestStatus {
	if strings.EqualFold(strings.TrimSpace(status), statusSuccess) {
		return model.TestPass
	}
	return model.TestFail
}

func (e testEntry) result(suite, name string) model.TestResult {
	gas := e.Kind.gas()
	r := model.TestResult{
		Name:       name,
		Suite:      suite,
		Status:     mapStatus(e.Status),
		GasUsed:    &gas,
		DurationMs: durationMs(e.Duration),
	}
	if e.Reason != nil {
		r.Message = *e.Reason
	}
	if r.Status == model.TestFail && r.Message == "" {
		r.Message = strings.TrimSpace(e.Status)
	}
	return r
}

// durationMs accepts {"secs":1,"nanos":5}, "1ms 500us" style strings and bare
// nanosecond numbers.
func durationMs(raw json.RawMessage) *int64 {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var parts struct {
		Secs  *int64 `json:"secs"`
		Nanos int64  `json:"nanos"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil && parts.Secs != nil {
		ms := (time.Duration(*parts.Secs)*time.Second + time.Duration(parts.Nanos)).Milliseconds()
		return &ms
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if d, err := time.ParseDuration(strings.ReplaceAll(text, " ", "")); err == nil {
			ms := d.Milliseconds()
			return &ms
		}
		return nil
	}
	var nanos int64
	if err := json.Unmarshal(raw, &nanos); err == nil {
		ms := time.Duration(nanos).Milliseconds()
		return &ms
	}
	return nil
}

// resultsFromReport reads {suite: {test_results: {name: entry}}}.
func resultsFromReport(doc map[string]json.RawMessage) []model.TestResult {
	var out []model.TestResult
	for suite, raw := range doc {
		var s suiteResult
		if err := json.Unmarshal(raw, &s); err != nil || s.TestResults == nil {
			continue
		}
		for name, entry := range s.TestResults {
			out = append(out, entry.result(suite, name))
		}
	}
	return out
}

// JSONBlobTest reads stdout, or its outermost {...} span, as one suite report.
type JSONBlobTest struct{}

func (JSONBlobTest) Name() string { return "json-blob" }

func (JSONBlobTest) ParseTests(stdout, _ string) ([]model.TestResult, bool) {
	doc, ok := decodeBlob(stdout)
	if !ok {
		return nil, false
	}
	results := resultsFromReport(doc)
	return results, len(results) > 0
}

// JSONLinesTest reads each stdout line as a separate suite report.
type JSONLinesTest struct{}

func (JSONLinesTest) Name() string { return "json-lines" }

func (JSONLinesTest) ParseTests(stdout, _ string) ([]model.TestResult, bool) {
	var results []model.TestResult
	for _, line := range splitLines(stdout) {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var doc map[string]json.RawMessage
		if err := json.Unmarshal([]byte(line), &doc); err != nil {
			continue
		}
		results = append(results, resultsFromReport(doc)...)
	}
	return results, len(results) > 0
}

var (
	textMarker = regexp.MustCompile(`^\s*\[(PASS|FAIL|SKIP)(?:[.:]\s*(?:Reason:\s*)?(.*?))?\]\s+([A-Za-z_$][\w$]*\([^)]*\))(.*)$`)
	textGas    = regexp.MustCompile(`\(gas:\s*(\d+)\)`)
	textFuzz   = regexp.MustCompile(`(?:\x{03BC}|\x{00B5}|mean):\s*(\d+)`)
	textSuite  = regexp.MustCompile(`^Ran \d+ tests? for (\S+)`)
)

// TextTest scans "[PASS] name() (gas: N)" style markers. Fuzz lines carry the
// mean gas after the mu sign. "Ran N tests for <suite>" headers set the suite.
type TextTest struct{}

func (TextTest) Name() string { return "text" }

func (TextTest) ParseTests(stdout, stderr string) ([]model.TestResult, bool) {
	var results []model.TestResult
	suite := ""
	for _, line := range splitLines(RawOutput(stdout, stderr)) {
		if m := textSuite.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			suite = m[1]
			continue
		}
		m := textMarker.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		r := model.TestResult{
			Name:    m[3],
			Suite:   suite,
			Message: strings.TrimSpace(m[2]),
		}
		switch m[1] {
		case "PASS":
			r.Status = model.TestPass
		case "SKIP":
			r.Status = model.TestFail
			if r.Message == "" {
				r.Message = "skipped"
			}
		default:
			r.Status = model.TestFail
		}
		if gas, ok := textGasUsed(m[4]); ok {
			r.GasUsed = &gas
		}
		results = append(results, r)
	}
	return results, len(results) > 0
}

func textGasUsed(rest string) (uint64, bool) {
	m := textGas.FindStringSubmatch(rest)
	if m == nil {
		m = textFuzz.FindStringSubmatch(rest)
	}
	if m == nil {
		return 0, false
	}
	gas, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return gas, true
}
