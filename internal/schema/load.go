package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format identifies a schema document encoding.
type Format string

const (
	FormatCUE  Format = "cue"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatForPath picks the format from the file extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return FormatCUE, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported schema file extension %q (want .cue, .yaml, .yml or .json)", filepath.Ext(path))
	}
}

// document is the YAML/JSON envelope; CUE uses the same `resources` key.
type document struct {
	Resources Definition `json:"resources" yaml:"resources"`
}

// LoadFile reads and builds a schema from a CUE, YAML or JSON file.
func LoadFile(path string) (*Schema, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return Parse(path, format, data)
}

// Parse builds a schema from document bytes. name labels error positions.
func Parse(name string, format Format, data []byte) (*Schema, error) {
	def, err := Decode(name, format, data)
	if err != nil {
		return nil, err
	}
	return New(def)
}

// Decode extracts the Definition without validating it.
func Decode(name string, format Format, data []byte) (Definition, error) {
	switch format {
	case FormatCUE:
		return decodeCUESource(name, data)
	case FormatYAML:
		var doc document
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%s: decode yaml: %w", name, err)
		}
		return doc.Resources, nil
	case FormatJSON:
		var doc document
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%s: decode json: %w", name, err)
		}
		return doc.Resources, nil
	default:
		return nil, fmt.Errorf("unsupported schema format %q", format)
	}
}
