package runner

import (
	"strings"

	appErr "contractlab/pkg/errors"

	"github.com/google/shlex"
)

// BuildCommand splits tpl with shell quoting rules and then replaces {key}
// placeholders inside each field, so values with spaces stay one argument.
// A field that expands to nothing is dropped together with the flag right before it.
func BuildCommand(tpl string, vars map[string]string) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command template is required")
	}
	fields, err := shlex.Split(tpl)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "parse command template failed")
	}
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		expanded := field
		for key, value := range vars {
			expanded = strings.ReplaceAll(expanded, "{"+key+"}", value)
		}
		if expanded == "" && field != "" {
			if n := len(out); n > 0 && strings.HasPrefix(out[n-1], "-") {
				out = out[:n-1]
			}
			continue
		}
		out = append(out, expanded)
	}
	if len(out) == 0 {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command is empty after expansion")
	}
	return out, nil
}
