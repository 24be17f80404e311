// Package toolconfig renders the toolchain project config and remapping table.
package toolconfig

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"contractlab/internal/build/model"
	appErr "contractlab/pkg/errors"

	"github.com/pelletier/go-toml/v2"
)

const (
	ConfigFileName     = "foundry.toml"
	RemappingsFileName = "remappings.txt"

	defaultProfile = "default"
)

type foundryFile struct {
	Profile map[string]foundryProfile `toml:"profile"`
}

type foundryProfile struct {
	Src           string   `toml:"src"`
	Test          string   `toml:"test"`
	Out           string   `toml:"out"`
	Libs          []string `toml:"libs"`
	SolcVersion   string   `toml:"solc_version,omitempty"`
	Optimizer     bool     `toml:"optimizer"`
	OptimizerRuns int      `toml:"optimizer_runs"`
	ViaIR         bool     `toml:"via_ir"`
	EVMVersion    string   `toml:"evm_version,omitempty"`
	ExtraOutput   []string `toml:"extra_output,omitempty"`
	Verbosity     int      `toml:"verbosity"`
	FFI           bool     `toml:"ffi"`
}

// DefaultRemappings matches the default dependency set.
func DefaultRemappings() map[string]string {
	return map[string]string{
		"forge-std/":               "lib/forge-std/src/",
		"@openzeppelin/contracts/": "lib/openzeppelin-contracts/contracts/",
	}
}

// Write replaces the config file and the remapping table under root.
// Nothing from the previous files is kept.
func Write(root string, cfg model.BuildConfig, remappings map[string]string) error {
	if root == "" {
		return appErr.ValidationError("root", "required")
	}
	data, err := Render(cfg)
	if err != nil {
		return err
	}
	if err := writeAtomic(filepath.Join(root, ConfigFileName), data); err != nil {
		return appErr.Wrapf(err, appErr.ConfigWriteFailed, "write %s failed", ConfigFileName)
	}
	if err := writeAtomic(filepath.Join(root, RemappingsFileName), RenderRemappings(remappings)); err != nil {
		return appErr.Wrapf(err, appErr.ConfigWriteFailed, "write %s failed", RemappingsFileName)
	}
	return nil
}

// Render encodes cfg as the toolchain's TOML config.
func Render(cfg model.BuildConfig) ([]byte, error) {
	if cfg.OptimizerRuns < 0 {
		return nil, appErr.ValidationError("optimizerRuns", "must not be negative")
	}
	file := foundryFile{Profile: map[string]foundryProfile{
		defaultProfile: {
			Src:           "src",
			Test:          "test",
			Out:           "out",
			Libs:          []string{"lib"},
			SolcVersion:   cfg.SolcVersion,
			Optimizer:     cfg.Optimizer,
			OptimizerRuns: cfg.OptimizerRuns,
			ViaIR:         cfg.ViaIR,
			EVMVersion:    cfg.EVMVersion,
			ExtraOutput:   cfg.ExtraOutput,
			Verbosity:     cfg.Verbosity,
			FFI:           cfg.FFI,
		},
	}}
	data, err := toml.Marshal(file)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ConfigWriteFailed, "encode config failed")
	}
	return data, nil
}

// RenderRemappings returns sorted prefix=target lines.
func RenderRemappings(remappings map[string]string) []byte {
	keys := make([]string, 0, len(remappings))
	for k := range remappings {
		if strings.TrimSpace(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var buf bytes.Buffer
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s=%s\n", strings.TrimSpace(k), strings.TrimSpace(remappings[k]))
	}
	return buf.Bytes()
}

// Read loads the config and remapping table previously written under root.
func Read(root string) (model.BuildConfig, map[string]string, error) {
	var cfg model.BuildConfig
	data, err := os.ReadFile(filepath.Join(root, ConfigFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil, appErr.Newf(appErr.ConfigReadFailed, "%s not found", ConfigFileName)
		}
		return cfg, nil, appErr.Wrapf(err, appErr.ConfigReadFailed, "read %s failed", ConfigFileName)
	}
	var file foundryFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return cfg, nil, appErr.Wrapf(err, appErr.ConfigReadFailed, "parse %s failed", ConfigFileName)
	}
	p := file.Profile[defaultProfile]
	cfg = model.BuildConfig{
		SolcVersion:   p.SolcVersion,
		Optimizer:     p.Optimizer,
		OptimizerRuns: p.OptimizerRuns,
		ViaIR:         p.ViaIR,
		EVMVersion:    p.EVMVersion,
		ExtraOutput:   p.ExtraOutput,
		Verbosity:     p.Verbosity,
		FFI:           p.FFI,
	}

	remappings, err := readRemappings(filepath.Join(root, RemappingsFileName))
	if err != nil {
		return cfg, nil, err
	}
	return cfg, remappings, nil
}

func readRemappings(path string) (map[string]string, error) {
	out := make(map[string]string)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return out, nil
		}
		return nil, appErr.Wrapf(err, appErr.ConfigReadFailed, "read %s failed", RemappingsFileName)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		prefix, target, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[prefix] = target
	}
	if err := scanner.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.ConfigReadFailed, "scan %s failed", RemappingsFileName)
	}
	return out, nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
