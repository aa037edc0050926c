package importer

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Fields a mapping may target
const (
	FieldSerial    = "serial"
	FieldLabel     = "label"
	FieldContents  = "contents"
	FieldLocation  = "location"
	FieldLatitude  = "latitude"
	FieldLongitude = "longitude"
	FieldTag       = "tag"
)

var knownFields = map[string]bool{
	FieldSerial: true, FieldLabel: true, FieldContents: true, FieldLocation: true,
	FieldLatitude: true, FieldLongitude: true, FieldTag: true,
}

//go:embed default_mapping.yaml
var defaultMapping []byte

// Mapping represents the YAML mapping configuration
type Mapping struct {
	Version int `yaml:"version"`
	// Sheets restricts the import to these sheet names. Empty means all.
	Sheets []string `yaml:"sheets"`
	// Columns maps a field to the header texts that identify its column.
	Columns map[string][]string `yaml:"columns"`
}

// DefaultMapping returns the built-in header aliases
func DefaultMapping() *Mapping {
	m, err := ParseMapping(defaultMapping)
	if err != nil {
		panic("importer: bad default mapping: " + err.Error())
	}
	return m
}

// LoadMapping reads a mapping file
func LoadMapping(path string) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping: %w", err)
	}
	return ParseMapping(data)
}

// ParseMapping decodes and validates a YAML mapping
func ParseMapping(data []byte) (*Mapping, error) {
	var m Mapping
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse mapping: %w", err)
	}
	if m.Version != 1 {
		return nil, fmt.Errorf("unsupported mapping version %d", m.Version)
	}
	for field, aliases := range m.Columns {
		if !knownFields[field] {
			return nil, fmt.Errorf("mapping targets unknown field %q", field)
		}
		if len(aliases) == 0 {
			return nil, fmt.Errorf("mapping for %q has no header aliases", field)
		}
	}
	if len(m.Columns[FieldSerial]) == 0 {
		return nil, fmt.Errorf("mapping must define the %q column", FieldSerial)
	}
	return &m, nil
}

// fieldFor returns the field a header text maps to
func (m *Mapping) fieldFor(header string) (string, bool) {
	h := normalizeHeader(header)
	if h == "" {
		return "", false
	}
	for field, aliases := range m.Columns {
		for _, alias := range aliases {
			if normalizeHeader(alias) == h {
				return field, true
			}
		}
	}
	return "", false
}

func (m *Mapping) includesSheet(name string) bool {
	if len(m.Sheets) == 0 {
		return true
	}
	for _, s := range m.Sheets {
		if strings.EqualFold(strings.TrimSpace(s), strings.TrimSpace(name)) {
			return true
		}
	}
	return false
}

func normalizeHeader(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
