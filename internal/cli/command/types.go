package command

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// FieldType describes input type.
type FieldType int

const (
	FieldString FieldType = iota
	FieldInt
	FieldBool
	FieldStringList
	FieldJSON
)

// Field defines a CLI input field. When FileParam is set the value may be
// given as a path under that name instead.
type Field struct {
	Name      string
	Aliases   []string
	Prompt    string
	Type      FieldType
	Required  bool
	FileParam string
}

// Command defines a CLI command binding.
type Command struct {
	Service      string
	Action       string
	Method       string
	PathTemplate string
	Summary      string
	Fields       []Field
}

// Key is the registry key of the command.
func (c Command) Key() string {
	return c.Service + " " + c.Action
}

// RequestSpec is the built HTTP request.
type RequestSpec struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
}

// Params holds parsed input params.
type Params map[string]string

func (p Params) Get(key string) string {
	return p[strings.ToLower(key)]
}

func (p Params) Set(key, value string) {
	p[strings.ToLower(key)] = value
}

func (p Params) Has(key string) bool {
	_, ok := p[strings.ToLower(key)]
	return ok
}

// Default sets key only when it is missing or empty.
func (p Params) Default(key, value string) {
	if value != "" && p.Get(key) == "" {
		p.Set(key, value)
	}
}

func (p Params) Canonicalize(fields []Field) {
	for _, field := range fields {
		for _, alias := range field.Aliases {
			aliasKey := strings.ToLower(alias)
			if value, ok := p[aliasKey]; ok {
				p[strings.ToLower(field.Name)] = value
				delete(p, aliasKey)
			}
		}
	}
}

// Satisfied reports whether field has a value or a file to read it from.
func (p Params) Satisfied(field Field) bool {
	if p.Get(field.Name) != "" {
		return true
	}
	return field.FileParam != "" && p.Get(field.FileParam) != ""
}

// ResolveFiles loads file-backed fields into their value slot.
func (p Params) ResolveFiles(fields []Field) error {
	for _, field := range fields {
		if field.FileParam == "" || p.Get(field.Name) != "" {
			continue
		}
		path := p.Get(field.FileParam)
		if path == "" {
			continue
		}
		data, err := ReadFile(path)
		if err != nil {
			return err
		}
		p.Set(field.Name, data)
	}
	return nil
}

func ParseInt(value string) (int, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 32)
	return int(n), err
}

func ParseBool(value string) (bool, error) {
	return strconv.ParseBool(strings.TrimSpace(value))
}

func ParseStringList(value string) []string {
	raw := strings.Split(value, ",")
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		item = strings.TrimSpace(item)
		if item != "" {
			result = append(result, item)
		}
	}
	return result
}

func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file failed: %w", err)
	}
	return string(data), nil
}

func ParseJSON(value string) (json.RawMessage, error) {
	raw := strings.TrimSpace(value)
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("invalid json content")
	}
	return json.RawMessage(raw), nil
}
