// Package dataset loads historical flight records from CSV exports.
package dataset

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"flightdelay/flight"
	"flightdelay/logging"
)

// Options control CSV decoding.
type Options struct {
	// Encoding of the file: "utf-8" (default), "latin1" / "iso-8859-1" or "windows-1252".
	Encoding  string
	Delimiter rune
}

// LoadFile opens path and decodes it with LoadCSV.
func LoadFile(path string, opts Options) (*flight.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ds, err := LoadCSV(f, opts)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return ds, nil
}

// LoadCSV reads a header row and flight rows. Headers are matched case-insensitively and
// the historical Spanish headers (Fecha-I, Fecha-O, OPERA, TIPOVUELO, MES) are accepted.
// Unrelated columns are ignored. A month that is not an integer becomes 0 and is logged.
func LoadCSV(r io.Reader, opts Options) (*flight.Dataset, error) {
	dec, err := decoder(opts.Encoding)
	if err != nil {
		return nil, err
	}
	if dec != nil {
		r = transform.NewReader(r, dec.NewDecoder())
	}

	loadOpts := []dataframe.LoadOption{
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
		dataframe.NaNValues(nil),
	}
	if opts.Delimiter != 0 {
		loadOpts = append(loadOpts, dataframe.WithDelimiter(opts.Delimiter))
	}
	df := dataframe.ReadCSV(r, loadOpts...)
	if df.Err != nil {
		return nil, fmt.Errorf("parse csv: %w", df.Err)
	}

	columns := make(map[string][]string)
	var present []string
	for _, name := range df.Names() {
		canonical := flight.CanonicalColumn(strings.TrimPrefix(name, "\ufeff"))
		if !isFlightColumn(canonical) {
			continue
		}
		if _, dup := columns[canonical]; dup {
			return nil, fmt.Errorf("column %q appears more than once", canonical)
		}
		columns[canonical] = df.Col(name).Records()
		present = append(present, canonical)
	}

	logger := logging.Named("dataset")
	records := make([]flight.TrainingRecord, df.Nrow())
	for i := range records {
		rec := flight.TrainingRecord{
			Record: flight.Record{
				Carrier:    cell(columns, flight.ColumnCarrier, i),
				FlightType: cell(columns, flight.ColumnFlightType, i),
			},
			Scheduled: cell(columns, flight.ColumnScheduled, i),
			Actual:    cell(columns, flight.ColumnActual, i),
		}
		if raw := cell(columns, flight.ColumnMonth, i); raw != "" {
			month, ok := parseMonth(raw)
			if !ok {
				logger.Warn("invalid month", zap.Int("row", i+1), zap.String("value", raw))
			}
			rec.Month = month
		}
		records[i] = rec
	}

	logger.Info("dataset loaded", zap.Int("rows", len(records)), zap.Strings("columns", present))
	return &flight.Dataset{Columns: present, Records: records}, nil
}

func decoder(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return nil, nil
	case "latin1", "latin-1", "iso-8859-1", "iso8859-1":
		return charmap.ISO8859_1, nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252, nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
}

func isFlightColumn(name string) bool {
	switch name {
	case flight.ColumnScheduled, flight.ColumnActual, flight.ColumnCarrier, flight.ColumnFlightType, flight.ColumnMonth:
		return true
	}
	return false
}

func cell(columns map[string][]string, name string, row int) string {
	values, ok := columns[name]
	if !ok || row >= len(values) {
		return ""
	}
	return strings.TrimSpace(values[row])
}

func parseMonth(raw string) (int, bool) {
	if m, err := strconv.Atoi(raw); err == nil {
		return m, true
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil && f == math.Trunc(f) {
		return int(f), true
	}
	return 0, false
}
