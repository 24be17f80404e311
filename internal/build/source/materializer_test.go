package source_test

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"contractlab/internal/build/model"
	"contractlab/internal/build/source"
	appErr "contractlab/pkg/errors"
)

func TestContractName(t *testing.T) {
	cases := []struct {
		name     string
		code     string
		explicit string
		want     string
	}{
		{"first declaration", "pragma solidity ^0.8.0;\ncontract Counter {}\ncontract Other {}", "", "Counter"},
		{"explicit wins", "contract Counter {}", "Vault", "Vault"},
		{"explicit trims extension", "", "Vault.sol", "Vault"},
		{"abstract contract", "abstract contract Base {}", "", "Base"},
		{"ignores comments", "// this contract is a demo\n/* contract Hidden */\ncontract Real {}", "", "Real"},
		{"invisible chars", "contract\u200b Tok\u200ben {}", "", "Token"},
		{"placeholder", "library Math {}", "", source.PlaceholderContract},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := source.ContractName(tc.code, tc.explicit); got != tc.want {
				t.Fatalf("ContractName() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestStripInvisible(t *testing.T) {
	in := "\ufeffcontract A {\r\n\u200d uint x;\u2067\r\n}\u00ad"
	want := "contract A {\n uint x;\n}"
	if got := source.StripInvisible(in); got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestPutRemovesStaleSiblings(t *testing.T) {
	root := t.TempDir()
	if _, err := source.Put(root, model.SourceUnit{Name: "Old", Content: "contract Old {}", Kind: model.SourceKindSrc}); err != nil {
		t.Fatalf("put old failed: %v", err)
	}
	if _, err := source.Put(root, model.SourceUnit{Name: "Old.t", Content: "contract OldTest {}", Kind: model.SourceKindTest}); err != nil {
		t.Fatalf("put old test failed: %v", err)
	}
	notes := filepath.Join(root, "src", "README.md")
	if err := os.WriteFile(notes, []byte("keep"), 0o644); err != nil {
		t.Fatalf("write notes failed: %v", err)
	}

	rel, err := source.Put(root, model.SourceUnit{Name: "New", Content: "contract\u200b New {}", Kind: model.SourceKindSrc})
	if err != nil {
		t.Fatalf("put new failed: %v", err)
	}
	if rel != filepath.Join("src", "New.sol") {
		t.Fatalf("unexpected relative path %s", rel)
	}

	srcFiles := source.List(root, model.SourceKindSrc)
	sort.Strings(srcFiles)
	if len(srcFiles) != 1 || srcFiles[0] != "New.sol" {
		t.Fatalf("expected only New.sol in src, got %v", srcFiles)
	}
	if _, err := os.Stat(notes); err != nil {
		t.Fatalf("non-source files must be kept: %v", err)
	}
	if tests := source.List(root, model.SourceKindTest); len(tests) != 1 {
		t.Fatalf("test dir must be untouched by src writes, got %v", tests)
	}

	data, err := os.ReadFile(filepath.Join(root, rel))
	if err != nil {
		t.Fatalf("read new failed: %v", err)
	}
	if string(data) != "contract New {}" {
		t.Fatalf("expected invisible chars stripped, got %q", data)
	}
}

func TestPutOverwritesSameName(t *testing.T) {
	root := t.TempDir()
	unit := model.SourceUnit{Name: "Counter", Content: "v1", Kind: model.SourceKindSrc}
	if _, err := source.Put(root, unit); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	unit.Content = "v2"
	if _, err := source.Put(root, unit); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(root, "src", "Counter.sol"))
	if string(data) != "v2" {
		t.Fatalf("expected overwrite, got %q", data)
	}
}

func TestPutValidatesInput(t *testing.T) {
	root := t.TempDir()
	cases := []model.SourceUnit{
		{Name: "../escape", Kind: model.SourceKindSrc},
		{Name: "", Kind: model.SourceKindSrc},
		{Name: "Ok", Kind: "lib"},
	}
	for _, unit := range cases {
		if _, err := source.Put(root, unit); !appErr.Is(err, appErr.ValidationFailed) {
			t.Fatalf("expected validation error for %+v, got %v", unit, err)
		}
	}
}

func TestClearRemovesOnlySources(t *testing.T) {
	root := t.TempDir()
	if err := source.Clear(root, model.SourceKindTest); err != nil {
		t.Fatalf("clear of a missing dir failed: %v", err)
	}
	if _, err := source.Put(root, model.SourceUnit{Name: "Alpha.t", Content: "contract AlphaTest {}", Kind: model.SourceKindTest}); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	notes := filepath.Join(root, "test", "notes.txt")
	if err := os.WriteFile(notes, []byte("keep"), 0o644); err != nil {
		t.Fatalf("write notes failed: %v", err)
	}
	if err := source.Clear(root, model.SourceKindTest); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if got := source.List(root, model.SourceKindTest); len(got) != 0 {
		t.Fatalf("expected no test sources, got %v", got)
	}
	if _, err := os.Stat(notes); err != nil {
		t.Fatalf("non-source files must be kept: %v", err)
	}
}
