package parser

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"contractlab/internal/build/model"
)

// compilerError is one entry of the compiler's standard-json "errors" array.
type compilerError struct {
	Severity         string     `json:"severity"`
	Type             string     `json:"type"`
	Message          string     `json:"message"`
	FormattedMessage string     `json:"formattedMessage"`
	ErrorCode        jsonString `json:"errorCode"`
	SourceLocation   *struct {
		File string `json:"file"`
	} `json:"sourceLocation"`
}

// jsonString accepts both "1234" and 1234.
type jsonString string

func (s *jsonString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = jsonString(v)
		return nil
	}
	*s = jsonString(data)
	return nil
}

func (e compilerError) diagnostic() model.Diagnostic {
	severity := normalizeSeverity(e.Severity)
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = strings.TrimSpace(firstLine(e.FormattedMessage))
	}
	if e.Type != "" && !strings.EqualFold(e.Type, severity) {
		msg = e.Type + ": " + msg
	}
	d := model.Diagnostic{
		Severity: severity,
		Message:  msg,
		Code:     string(e.ErrorCode),
	}
	if e.SourceLocation != nil {
		d.File = e.SourceLocation.File
	}
	if file, line, col, ok := parseLocation(e.FormattedMessage); ok {
		if d.File == "" {
			d.File = file
		}
		d.Line, d.Column = line, col
	}
	return d
}

func normalizeSeverity(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case model.SeverityWarning:
		return model.SeverityWarning
	case model.SeverityInfo:
		return model.SeverityInfo
	default:
		return model.SeverityError
	}
}

// JSONLinesCompile reads newline-delimited JSON objects. Objects carrying a
// severity are diagnostics, an "errors" array contributes its entries and an
// "error" key is a single error.
type JSONLinesCompile struct{}

func (JSONLinesCompile) Name() string { return "json-lines" }

func (JSONLinesCompile) ParseCompile(stdout, _ string, _ *int) ([]model.Diagnostic, bool) {
	var diags []model.Diagnostic
	found := false
	for _, line := range splitLines(stdout) {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			continue
		}
		lineDiags, ok := diagnosticsFromObject(obj, []byte(line))
		if ok {
			found = true
			diags = append(diags, lineDiags...)
		}
	}
	return diags, found
}

func diagnosticsFromObject(obj map[string]json.RawMessage, raw []byte) ([]model.Diagnostic, bool) {
	var diags []model.Diagnostic
	found := false
	if _, ok := obj["severity"]; ok {
		var e compilerError
		if err := json.Unmarshal(raw, &e); err == nil {
			diags = append(diags, e.diagnostic())
			found = true
		}
	}
	if rawErrors, ok := obj["errors"]; ok {
		var entries []compilerError
		if err := json.Unmarshal(rawErrors, &entries); err == nil {
			for _, e := range entries {
				diags = append(diags, e.diagnostic())
			}
			found = true
		}
	}
	if rawErr, ok := obj["error"]; ok {
		if d, ok := errorField(rawErr); ok {
			diags = append(diags, d)
			found = true
		}
	}
	return diags, found
}

// errorField handles {"error": "text"} and {"error": {"message": "text"}}.
func errorField(raw json.RawMessage) (model.Diagnostic, bool) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if strings.TrimSpace(text) == "" {
			return model.Diagnostic{}, false
		}
		return model.Diagnostic{Severity: model.SeverityError, Message: strings.TrimSpace(text)}, true
	}
	var e compilerError
	if err := json.Unmarshal(raw, &e); err != nil || (e.Message == "" && e.FormattedMessage == "") {
		return model.Diagnostic{}, false
	}
	if e.Severity == "" {
		e.Severity = model.SeverityError
	}
	return e.diagnostic(), true
}

// JSONBlobCompile reads stdout, or its outermost {...} span, as one document
// with an "errors" array. An empty array is a match.
type JSONBlobCompile struct{}

func (JSONBlobCompile) Name() string { return "json-blob" }

func (JSONBlobCompile) ParseCompile(stdout, _ string, _ *int) ([]model.Diagnostic, bool) {
	doc, ok := decodeBlob(stdout)
	if !ok {
		return nil, false
	}
	rawErrors, ok := doc["errors"]
	if !ok {
		return nil, false
	}
	var entries []compilerError
	if err := json.Unmarshal(rawErrors, &entries); err != nil {
		return nil, false
	}
	diags := make([]model.Diagnostic, 0, len(entries))
	for _, e := range entries {
		diags = append(diags, e.diagnostic())
	}
	return diags, true
}

func decodeBlob(stdout string) (map[string]json.RawMessage, bool) {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return nil, false
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &doc); err == nil {
		return doc, true
	}
	span, ok := jsonSpan(trimmed)
	if !ok {
		return nil, false
	}
	if err := json.Unmarshal([]byte(span), &doc); err != nil {
		return nil, false
	}
	return doc, true
}

// statusChatter lists toolchain progress lines that mention warnings or
// errors without being diagnostics.
var statusChatter = []string{
	"compiler run successful",
	"compiler run failed",
	"no files changed",
	"compilation skipped",
}

var (
	textDiagnostic = regexp.MustCompile(`^(?i)(error|warning)\s*(?:\[(\w+)\]|\((\w+)\))?\s*:\s*(.*)$`)
	// source excerpt lines such as "5 |     revert Error();"
	excerptGutter = regexp.MustCompile(`^\d*\s*\|`)
)

// TextCompile scans plain output line by line. A line mentioning "error" is
// only an error when the process failed; "warning" lines are warnings unless
// they are status chatter. A following "--> file:line:col" line locates the
// previous diagnostic.
type TextCompile struct{}

func (TextCompile) Name() string { return "text" }

func (TextCompile) ParseCompile(stdout, stderr string, exitCode *int) ([]model.Diagnostic, bool) {
	failed := exitCode == nil || *exitCode != 0
	var diags []model.Diagnostic
	for _, line := range splitLines(RawOutput(stdout, stderr)) {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "-->") {
			if n := len(diags); n > 0 && diags[n-1].Line == nil {
				if file, l, c, ok := parseLocation(trimmed); ok {
					diags[n-1].File, diags[n-1].Line, diags[n-1].Column = file, l, c
				}
			}
			continue
		}
		if excerptGutter.MatchString(trimmed) {
			continue
		}
		lower := strings.ToLower(trimmed)
		if isStatusChatter(lower) {
			continue
		}
		hasError := strings.Contains(lower, "error")
		hasWarning := strings.Contains(lower, "warning")
		var severity string
		switch {
		case hasError && !hasWarning:
			if !failed {
				continue
			}
			severity = model.SeverityError
		case hasWarning:
			severity = model.SeverityWarning
		default:
			continue
		}
		d, ok := textLineDiagnostic(trimmed, severity)
		if ok {
			diags = append(diags, d)
		}
	}
	return diags, len(diags) > 0
}

func textLineDiagnostic(line, severity string) (model.Diagnostic, bool) {
	d := model.Diagnostic{Severity: severity, Message: line}
	if m := textDiagnostic.FindStringSubmatch(line); m != nil {
		d.Message = strings.TrimSpace(m[4])
		d.Code = m[2]
		if d.Code == "" {
			d.Code = m[3]
		}
		if d.Message == "" {
			return d, false
		}
	}
	return d, true
}

func isStatusChatter(lower string) bool {
	for _, phrase := range statusChatter {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
