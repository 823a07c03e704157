// Package flight holds the raw flight records consumed by training and inference.
package flight

import "strings"

// Canonical training column names.
const (
	ColumnScheduled  = "scheduled_time"
	ColumnActual     = "actual_time"
	ColumnCarrier    = "carrier"
	ColumnFlightType = "flight_type"
	ColumnMonth      = "month"
)

// TimestampLayout is the layout of scheduled and actual times.
const TimestampLayout = "2006-01-02 15:04:05"

// Flight type codes.
const (
	Domestic      = "N"
	International = "I"
)

// headerAliases maps the headers of the historical SCL export onto canonical names.
var headerAliases = map[string]string{
	"fecha-i":   ColumnScheduled,
	"fecha-o":   ColumnActual,
	"opera":     ColumnCarrier,
	"tipovuelo": ColumnFlightType,
	"mes":       ColumnMonth,
}

// CanonicalColumn resolves a CSV header to its canonical name. Unknown headers are
// returned lower-cased and trimmed.
func CanonicalColumn(header string) string {
	key := strings.ToLower(strings.TrimSpace(header))
	if alias, ok := headerAliases[key]; ok {
		return alias
	}
	return key
}

// Record is the inference input for a single flight.
type Record struct {
	Carrier    string `json:"carrier"`
	FlightType string `json:"flight_type"`
	Month      int    `json:"month"`
}

// TrainingRecord is a historical flight with its scheduled and actual times.
type TrainingRecord struct {
	Record
	Scheduled string `json:"scheduled_time"`
	Actual    string `json:"actual_time"`
}

// Dataset is a batch of training records together with the columns the source provided.
type Dataset struct {
	Columns []string
	Records []TrainingRecord
}

// NewDataset builds a dataset declaring every canonical column as present.
func NewDataset(records []TrainingRecord) *Dataset {
	return &Dataset{
		Columns: []string{ColumnScheduled, ColumnActual, ColumnCarrier, ColumnFlightType, ColumnMonth},
		Records: records,
	}
}

// HasColumn reports whether the source provided the named column.
func (d *Dataset) HasColumn(name string) bool {
	for _, c := range d.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Without returns a copy of the dataset with the named column removed and its values
// cleared.
func (d *Dataset) Without(name string) *Dataset {
	cols := make([]string, 0, len(d.Columns))
	for _, c := range d.Columns {
		if c != name {
			cols = append(cols, c)
		}
	}
	records := make([]TrainingRecord, len(d.Records))
	for i, r := range d.Records {
		switch name {
		case ColumnScheduled:
			r.Scheduled = ""
		case ColumnActual:
			r.Actual = ""
		case ColumnCarrier:
			r.Carrier = ""
		case ColumnFlightType:
			r.FlightType = ""
		case ColumnMonth:
			r.Month = 0
		}
		records[i] = r
	}
	return &Dataset{Columns: cols, Records: records}
}

// Len returns the number of records.
func (d *Dataset) Len() int {
	return len(d.Records)
}

// Flights strips the timestamps from the training records.
func (d *Dataset) Flights() []Record {
	out := make([]Record, len(d.Records))
	for i, r := range d.Records {
		out[i] = r.Record
	}
	return out
}
