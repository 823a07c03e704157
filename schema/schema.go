// Package schema turns flight records into the fixed, ordered one-hot feature layout
// shared by training and inference.
package schema

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v2"
)

// Field is a categorical input encoded as indicator columns.
type Field string

const (
	FieldCarrier    Field = "OPERA"
	FieldFlightType Field = "TIPOVUELO"
	FieldMonth      Field = "MES"
)

// Fields lists the encoded fields in encoding order.
var Fields = []Field{FieldCarrier, FieldFlightType, FieldMonth}

// Schema is the frozen ordered column list plus the reference category dropped for each
// field when the schema was created.
type Schema struct {
	Version    string           `yaml:"version" json:"version"`
	Columns    []string         `yaml:"columns" json:"columns"`
	References map[Field]string `yaml:"references,omitempty" json:"references,omitempty"`
}

// CanonicalVersion identifies the built-in allow-list.
const CanonicalVersion = "top10-v1"

// canonical is the top-10 feature selection of the delay model. The references make the
// dropped dummy explicit; TIPOVUELO drops N so the international indicator survives.
var canonical = Schema{
	Version: CanonicalVersion,
	Columns: []string{
		"OPERA_Latin American Wings",
		"MES_7",
		"MES_10",
		"OPERA_Grupo LATAM",
		"MES_12",
		"TIPOVUELO_I",
		"MES_4",
		"MES_11",
		"OPERA_Sky Airline",
		"OPERA_Copa Air",
	},
	References: map[Field]string{
		FieldCarrier:    "Aerolineas Argentinas",
		FieldFlightType: "N",
		FieldMonth:      "1",
	},
}

// Canonical returns a copy of the built-in allow-list schema.
func Canonical() *Schema {
	return canonical.Clone()
}

// Column builds the indicator column name for a field value.
func Column(field Field, value string) string {
	return string(field) + "_" + value
}

// Clone returns a deep copy.
func (s *Schema) Clone() *Schema {
	out := &Schema{
		Version: s.Version,
		Columns: append([]string(nil), s.Columns...),
	}
	if s.References != nil {
		out.References = make(map[Field]string, len(s.References))
		for k, v := range s.References {
			out.References[k] = v
		}
	}
	return out
}

// Width returns the number of feature columns.
func (s *Schema) Width() int {
	return len(s.Columns)
}

// Equal reports whether both schemas describe the same encoding.
func (s *Schema) Equal(other *Schema) bool {
	if other == nil || s.Version != other.Version || len(s.Columns) != len(other.Columns) {
		return false
	}
	for i := range s.Columns {
		if s.Columns[i] != other.Columns[i] {
			return false
		}
	}
	if len(s.References) != len(other.References) {
		return false
	}
	for k, v := range s.References {
		if other.References[k] != v {
			return false
		}
	}
	return true
}

// Validate checks the column list is usable as a feature layout.
func (s *Schema) Validate() error {
	if s.Version == "" {
		return errors.New("schema version is required")
	}
	if len(s.Columns) == 0 {
		return errors.New("schema has no columns")
	}
	seen := make(map[string]struct{}, len(s.Columns))
	for _, col := range s.Columns {
		if _, dup := seen[col]; dup {
			return fmt.Errorf("duplicate column %q", col)
		}
		seen[col] = struct{}{}
		if _, _, ok := splitColumn(col); !ok {
			return fmt.Errorf("column %q is not an indicator of %v", col, Fields)
		}
	}
	for field := range s.References {
		if !knownField(field) {
			return fmt.Errorf("reference for unknown field %q", field)
		}
	}
	return nil
}

// LoadFile reads a versioned allow-list from YAML.
func LoadFile(path string) (*Schema, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Schema
	if err := yaml.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("decode schema %s: %w", path, err)
	}
	for i, col := range s.Columns {
		s.Columns[i] = norm.NFC.String(strings.TrimSpace(col))
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("schema %s: %w", path, err)
	}
	return &s, nil
}

func splitColumn(col string) (Field, string, bool) {
	for _, f := range Fields {
		prefix := string(f) + "_"
		if strings.HasPrefix(col, prefix) && len(col) > len(prefix) {
			return f, col[len(prefix):], true
		}
	}
	return "", "", false
}

func knownField(f Field) bool {
	for _, k := range Fields {
		if k == f {
			return true
		}
	}
	return false
}
