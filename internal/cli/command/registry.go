package command

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"contractlab/internal/build/model"
)

var (
	codeField     = Field{Name: "code", Prompt: "contract source", Type: FieldString, Required: true, FileParam: "file"}
	solutionField = Field{Name: "solution", Aliases: []string{"solution_code"}, Prompt: "solution source", Type: FieldString, Required: true, FileParam: "solution_file"}
	testField     = Field{Name: "test", Aliases: []string{"test_code"}, Prompt: "test source", Type: FieldString, Required: true, FileParam: "test_file"}
	contractField = Field{Name: "contract", Aliases: []string{"contract_name"}, Prompt: "contract name", Type: FieldString}
	testNameField = Field{Name: "test_name", Prompt: "test function", Type: FieldString}
	courseField   = Field{Name: "course", Aliases: []string{"course_id"}, Prompt: "course id", Type: FieldString}
	lessonField   = Field{Name: "lesson", Aliases: []string{"lesson_id"}, Prompt: "lesson id", Type: FieldString}
	projectField  = Field{Name: "course", Aliases: []string{"course_id"}, Prompt: "course id", Type: FieldString, Required: true}
)

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	commands := []Command{
		{
			Service:      "build",
			Action:       "compile",
			Method:       "POST",
			PathTemplate: "/api/v1/compile",
			Summary:      "compile one contract",
			Fields:       []Field{codeField, contractField, courseField},
		},
		{
			Service:      "build",
			Action:       "test",
			Method:       "POST",
			PathTemplate: "/api/v1/test",
			Summary:      "run a test file against a solution",
			Fields:       []Field{solutionField, testField, contractField, testNameField, courseField, lessonField},
		},
		{
			Service:      "project",
			Action:       "build",
			Method:       "POST",
			PathTemplate: "/api/v1/projects/:course/build",
			Summary:      "compile into a course workspace",
			Fields:       []Field{projectField, codeField, contractField},
		},
		{
			Service:      "project",
			Action:       "test",
			Method:       "POST",
			PathTemplate: "/api/v1/projects/:course/test",
			Summary:      "run tests in a course workspace",
			Fields:       []Field{projectField, solutionField, testField, contractField, testNameField},
		},
		{
			Service:      "project",
			Action:       "deps",
			Method:       "POST",
			PathTemplate: "/api/v1/projects/:course/dependencies",
			Summary:      "install name@source[#version] dependencies",
			Fields: []Field{
				projectField,
				{Name: "deps", Aliases: []string{"dependencies"}, Prompt: "dependencies (name@source#version, comma-separated)", Type: FieldStringList, Required: true},
			},
		},
		{
			Service:      "project",
			Action:       "config",
			Method:       "PUT",
			PathTemplate: "/api/v1/projects/:course/config",
			Summary:      "replace the toolchain config",
			Fields: []Field{
				projectField,
				{Name: "config_json", Type: FieldJSON, FileParam: "config_file"},
				{Name: "solc", Aliases: []string{"solc_version"}, Type: FieldString},
				{Name: "optimizer", Type: FieldBool},
				{Name: "runs", Aliases: []string{"optimizer_runs"}, Type: FieldInt},
				{Name: "via_ir", Type: FieldBool},
				{Name: "evm", Aliases: []string{"evm_version"}, Type: FieldString},
				{Name: "extra_output", Type: FieldStringList},
				{Name: "verbosity", Type: FieldInt},
				{Name: "ffi", Type: FieldBool},
				{Name: "remappings", Type: FieldStringList},
			},
		},
		{
			Service:      "project",
			Action:       "status",
			Method:       "GET",
			PathTemplate: "/api/v1/projects/:course/status",
			Summary:      "show workspace status",
			Fields:       []Field{projectField},
		},
		{
			Service:      "project",
			Action:       "delete",
			Method:       "DELETE",
			PathTemplate: "/api/v1/projects/:course",
			Summary:      "delete a course workspace",
			Fields:       []Field{projectField},
		},
		{
			Service:      "system",
			Action:       "health",
			Method:       "GET",
			PathTemplate: "/healthz",
			Summary:      "check the build service",
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Key()] = cmd
	}
	return result
}

// Keys returns the registry keys in display order.
func Keys(commands map[string]Command) []string {
	keys := make([]string, 0, len(commands))
	for k := range commands {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BuildRequest creates HTTP request spec based on command.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	if err := params.ResolveFiles(cmd.Fields); err != nil {
		return RequestSpec{}, err
	}
	for _, field := range cmd.Fields {
		if field.Required && params.Get(field.Name) == "" {
			return RequestSpec{}, fmt.Errorf("%s is required", field.Name)
		}
	}
	path, err := buildPath(cmd.PathTemplate, params)
	if err != nil {
		return RequestSpec{}, err
	}

	var body []byte
	if cmd.Method != "GET" && cmd.Method != "DELETE" {
		payload, err := buildPayload(cmd, params)
		if err != nil {
			return RequestSpec{}, err
		}
		if payload != nil {
			body, err = json.Marshal(payload)
			if err != nil {
				return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
			}
		}
	}

	return RequestSpec{
		Method:  cmd.Method,
		Path:    path,
		Headers: map[string]string{},
		Body:    body,
	}, nil
}

func buildPath(template string, params Params) (string, error) {
	path := template
	for _, key := range []string{"course"} {
		placeholder := ":" + key
		if strings.Contains(path, placeholder) {
			value := params.Get(key)
			if value == "" {
				return "", fmt.Errorf("missing path parameter: %s", key)
			}
			path = strings.ReplaceAll(path, placeholder, url.PathEscape(value))
		}
	}
	return path, nil
}

func buildPayload(cmd Command, params Params) (interface{}, error) {
	switch cmd.Service {
	case "build":
		switch cmd.Action {
		case "compile":
			return model.CompileRequest{
				Code:         params.Get("code"),
				ContractName: params.Get("contract"),
				CourseID:     params.Get("course"),
			}, nil
		case "test":
			return model.TestRequest{
				SolutionCode: params.Get("solution"),
				TestCode:     params.Get("test"),
				ContractName: params.Get("contract"),
				TestName:     params.Get("test_name"),
				CourseID:     params.Get("course"),
				LessonID:     params.Get("lesson"),
			}, nil
		}
	case "project":
		switch cmd.Action {
		case "build":
			return model.BuildRequest{
				Code:         params.Get("code"),
				ContractName: params.Get("contract"),
			}, nil
		case "test":
			return model.TestRunRequest{
				SolutionCode: params.Get("solution"),
				TestCode:     params.Get("test"),
				ContractName: params.Get("contract"),
				TestName:     params.Get("test_name"),
			}, nil
		case "deps":
			deps, err := ParseDependencies(params.Get("deps"))
			if err != nil {
				return nil, err
			}
			return model.DependencyInstallRequest{Dependencies: deps}, nil
		case "config":
			return buildConfigPayload(params)
		}
	}
	return nil, nil
}

// ParseDependencies reads "name@source[#version]" items separated by commas.
func ParseDependencies(value string) ([]model.Dependency, error) {
	items := ParseStringList(value)
	if len(items) == 0 {
		return nil, fmt.Errorf("at least one dependency is required")
	}
	deps := make([]model.Dependency, 0, len(items))
	for _, item := range items {
		name, source, ok := strings.Cut(item, "@")
		if !ok || strings.TrimSpace(name) == "" || strings.TrimSpace(source) == "" {
			return nil, fmt.Errorf("invalid dependency %q, want name@source[#version]", item)
		}
		dep := model.Dependency{Name: strings.TrimSpace(name), Source: strings.TrimSpace(source)}
		if i := strings.LastIndex(dep.Source, "#"); i >= 0 {
			dep.Version = dep.Source[i+1:]
			dep.Source = dep.Source[:i]
		}
		deps = append(deps, dep)
	}
	return deps, nil
}

func buildConfigPayload(params Params) (interface{}, error) {
	update := model.ConfigUpdate{Config: model.DefaultBuildConfig()}
	if raw := params.Get("config_json"); raw != "" {
		data, err := ParseJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid config_json: %w", err)
		}
		if err := json.Unmarshal(data, &update); err != nil {
			return nil, fmt.Errorf("invalid config_json: %w", err)
		}
	}

	cfg := &update.Config
	if v := params.Get("solc"); v != "" {
		cfg.SolcVersion = v
	}
	if v := params.Get("evm"); v != "" {
		cfg.EVMVersion = v
	}
	if v := params.Get("extra_output"); v != "" {
		cfg.ExtraOutput = ParseStringList(v)
	}
	for name, dst := range map[string]*bool{"optimizer": &cfg.Optimizer, "via_ir": &cfg.ViaIR, "ffi": &cfg.FFI} {
		if v := params.Get(name); v != "" {
			b, err := ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", name, err)
			}
			*dst = b
		}
	}
	for name, dst := range map[string]*int{"runs": &cfg.OptimizerRuns, "verbosity": &cfg.Verbosity} {
		if v := params.Get(name); v != "" {
			n, err := ParseInt(v)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", name, err)
			}
			*dst = n
		}
	}
	if v := params.Get("remappings"); v != "" {
		remappings := make(map[string]string)
		for _, item := range ParseStringList(v) {
			prefix, target, ok := strings.Cut(item, "=")
			if !ok || prefix == "" || target == "" {
				return nil, fmt.Errorf("invalid remapping %q, want prefix=target", item)
			}
			remappings[prefix] = target
		}
		update.Remappings = remappings
	}
	return update, nil
}
