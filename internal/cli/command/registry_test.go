package command

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"contractlab/internal/build/model"
)

func TestRegistryKeysAreUnique(t *testing.T) {
	commands := Registry()
	for key, cmd := range commands {
		if key != cmd.Key() {
			t.Fatalf("registry key %q does not match command %q", key, cmd.Key())
		}
	}
	if _, ok := commands["build compile"]; !ok {
		t.Fatalf("expected build compile command")
	}
	keys := Keys(commands)
	if len(keys) != len(commands) || keys[0] != "build compile" {
		t.Fatalf("unexpected key order: %v", keys)
	}
}

func TestBuildCompileReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Counter.sol")
	if err := os.WriteFile(path, []byte("contract Counter {}"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	params := Params{}
	params.Set("file", path)
	params.Set("contract_name", "Counter")

	req, err := BuildRequest(Registry()["build compile"], params)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	if req.Method != "POST" || req.Path != "/api/v1/compile" {
		t.Fatalf("unexpected request: %s %s", req.Method, req.Path)
	}
	var body model.CompileRequest
	if err := json.Unmarshal(req.Body, &body); err != nil {
		t.Fatalf("decode body failed: %v", err)
	}
	if body.Code != "contract Counter {}" || body.ContractName != "Counter" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestBuildRequestRequiresFields(t *testing.T) {
	params := Params{}
	params.Set("solution", "contract A {}")
	if _, err := BuildRequest(Registry()["build test"], params); err == nil {
		t.Fatalf("expected missing test error")
	}
	if _, err := BuildRequest(Registry()["project status"], Params{}); err == nil {
		t.Fatalf("expected missing course error")
	}
}

func TestBuildProjectPathEscapesCourse(t *testing.T) {
	params := Params{}
	params.Set("course", "intro 101")
	req, err := BuildRequest(Registry()["project status"], params)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	if req.Path != "/api/v1/projects/intro%20101/status" || req.Body != nil {
		t.Fatalf("unexpected request: %s body=%s", req.Path, req.Body)
	}
}

func TestParseDependencies(t *testing.T) {
	deps, err := ParseDependencies("forge-std@foundry-rs/forge-std#v1.9.4, solmate@archive:libs/solmate.tar.gz")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	want := []model.Dependency{
		{Name: "forge-std", Source: "foundry-rs/forge-std", Version: "v1.9.4"},
		{Name: "solmate", Source: "archive:libs/solmate.tar.gz"},
	}
	if len(deps) != len(want) || deps[0] != want[0] || deps[1] != want[1] {
		t.Fatalf("got %+v want %+v", deps, want)
	}
	for _, bad := range []string{"", "noslash", "@source", "name@"} {
		if _, err := ParseDependencies(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestBuildConfigPayload(t *testing.T) {
	params := Params{}
	params.Set("course", "c1")
	params.Set("solc", "0.8.24")
	params.Set("runs", "1000")
	params.Set("via_ir", "true")
	params.Set("remappings", "solmate/=lib/solmate/src/,oz/=lib/oz/")

	req, err := BuildRequest(Registry()["project config"], params)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	if req.Method != "PUT" || req.Path != "/api/v1/projects/c1/config" {
		t.Fatalf("unexpected request: %s %s", req.Method, req.Path)
	}
	var update model.ConfigUpdate
	if err := json.Unmarshal(req.Body, &update); err != nil {
		t.Fatalf("decode body failed: %v", err)
	}
	defaults := model.DefaultBuildConfig()
	if update.Config.SolcVersion != "0.8.24" || update.Config.OptimizerRuns != 1000 || !update.Config.ViaIR {
		t.Fatalf("unexpected config: %+v", update.Config)
	}
	if update.Config.EVMVersion != defaults.EVMVersion || update.Config.Optimizer != defaults.Optimizer {
		t.Fatalf("expected unspecified fields to keep defaults: %+v", update.Config)
	}
	if len(update.Remappings) != 2 || update.Remappings["solmate/"] != "lib/solmate/src/" {
		t.Fatalf("unexpected remappings: %v", update.Remappings)
	}
}

func TestBuildConfigPayloadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"runs":        "many",
		"optimizer":   "maybe",
		"remappings":  "missing-target",
		"config_json": "{not json",
	}
	for key, value := range cases {
		params := Params{}
		params.Set("course", "c1")
		params.Set(key, value)
		if _, err := BuildRequest(Registry()["project config"], params); err == nil {
			t.Fatalf("expected error for %s=%s", key, value)
		}
	}
}

func TestParamsDefaultAndSatisfied(t *testing.T) {
	params := Params{}
	params.Default("course", "c1")
	params.Default("course", "c2")
	if params.Get("course") != "c1" {
		t.Fatalf("expected first default kept, got %q", params.Get("course"))
	}
	params.Set("FILE", "x.sol")
	if !params.Satisfied(codeField) {
		t.Fatalf("expected file param to satisfy code field")
	}
	if params.Satisfied(testField) {
		t.Fatalf("test field should not be satisfied")
	}
}
