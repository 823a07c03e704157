package schema

import (
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"flightdelay/flight"
	"flightdelay/logging"
)

// Normalize encodes records against existing. With a nil schema it creates one from the
// canonical allow-list, exactly as Create(records, nil) does.
func Normalize(records []flight.Record, existing *Schema) (*Frame, *Schema) {
	if existing == nil {
		return Create(records, nil)
	}
	return encode(records, existing), existing
}

// Create builds the training schema from base (the canonical allow-list when nil).
// Fields without a declared reference drop their first observed category in sort order;
// the chosen reference is recorded on the returned schema.
func Create(records []flight.Record, base *Schema) (*Frame, *Schema) {
	if base == nil {
		base = Canonical()
	}
	s := base.Clone()
	if s.References == nil {
		s.References = make(map[Field]string, len(Fields))
	}

	for _, field := range Fields {
		if _, declared := s.References[field]; declared {
			continue
		}
		if ref, ok := firstCategory(records, field); ok {
			s.References[field] = ref
		}
	}

	for field, ref := range s.References {
		col := Column(field, ref)
		for _, c := range s.Columns {
			if c == col {
				logging.Named("schema").Warn("allow-listed column is the reference category and will always be zero",
					zap.String("column", col), zap.String("schema_version", s.Version))
			}
		}
	}

	return encode(records, s), s
}

// Categories returns the canonical value of each encoded field for a record.
func Categories(r flight.Record) map[Field]string {
	return map[Field]string{
		FieldCarrier:    CanonicalCarrier(r.Carrier),
		FieldFlightType: CanonicalFlightType(r.FlightType),
		FieldMonth:      strconv.Itoa(r.Month),
	}
}

// CanonicalCarrier trims and NFC-normalises a carrier name.
func CanonicalCarrier(carrier string) string {
	return norm.NFC.String(strings.TrimSpace(carrier))
}

// CanonicalFlightType trims and upper-cases a flight type code.
func CanonicalFlightType(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func encode(records []flight.Record, s *Schema) *Frame {
	index := make(map[string]int, len(s.Columns))
	for j, col := range s.Columns {
		index[col] = j
	}

	rows := make([][]float64, len(records))
	for i, r := range records {
		row := make([]float64, len(s.Columns))
		for field, value := range Categories(r) {
			if ref, ok := s.References[field]; ok && ref == value {
				continue
			}
			if j, ok := index[Column(field, value)]; ok {
				row[j] = 1
			}
		}
		rows[i] = row
	}

	frame, _ := NewFrame(s.Columns, rows)
	return frame
}

func firstCategory(records []flight.Record, field Field) (string, bool) {
	if len(records) == 0 {
		return "", false
	}
	if field == FieldMonth {
		months := make([]int, 0, len(records))
		for _, r := range records {
			months = append(months, r.Month)
		}
		sort.Ints(months)
		return strconv.Itoa(months[0]), true
	}
	values := make([]string, 0, len(records))
	for _, r := range records {
		values = append(values, Categories(r)[field])
	}
	sort.Strings(values)
	return values[0], true
}
