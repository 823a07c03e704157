package dataset

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"flightdelay/flight"
)

// QualityRule checks a single record. Rules never modify or drop rows: extraction fails
// open on bad values, so the audit only reports them.
type QualityRule interface {
	Name() string
	// Column is the dataset column the rule needs, empty when it always applies.
	Column() string
	Check(rec flight.TrainingRecord) error
}

type QualityIssue struct {
	Rule    string `json:"rule"`
	Row     int    `json:"row"`
	Message string `json:"message"`
}

type QualityReport struct {
	Total  int            `json:"total"`
	Clean  int            `json:"clean"`
	Issues map[string]int `json:"issues"`
	// Samples holds the first issues found, capped at maxSamples.
	Samples []QualityIssue `json:"samples"`
}

// Rules returns the rule names that reported at least one issue, sorted.
func (r QualityReport) Rules() []string {
	names := make([]string, 0, len(r.Issues))
	for name := range r.Issues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const maxSamples = 20

type Auditor struct {
	rules []QualityRule
}

// NewAuditor returns an auditor with the default flight rules.
func NewAuditor() *Auditor {
	return &Auditor{rules: []QualityRule{
		timestampRule{column: flight.ColumnScheduled, value: func(r flight.TrainingRecord) string { return r.Scheduled }},
		timestampRule{column: flight.ColumnActual, value: func(r flight.TrainingRecord) string { return r.Actual }},
		carrierRule{},
		flightTypeRule{},
		monthRule{},
	}}
}

func (a *Auditor) AddRule(rule QualityRule) {
	a.rules = append(a.rules, rule)
}

// Audit runs every applicable rule over ds and flags exact duplicate rows.
func (a *Auditor) Audit(ds *flight.Dataset) QualityReport {
	report := QualityReport{Issues: make(map[string]int)}
	if ds == nil {
		return report
	}

	var active []QualityRule
	for _, rule := range a.rules {
		if rule.Column() == "" || ds.HasColumn(rule.Column()) {
			active = append(active, rule)
		}
	}

	seen := make(map[flight.TrainingRecord]int, len(ds.Records))
	for i, rec := range ds.Records {
		report.Total++
		clean := true
		record := func(rule, msg string) {
			clean = false
			report.Issues[rule]++
			if len(report.Samples) < maxSamples {
				report.Samples = append(report.Samples, QualityIssue{Rule: rule, Row: i, Message: msg})
			}
		}

		for _, rule := range active {
			if err := rule.Check(rec); err != nil {
				record(rule.Name(), err.Error())
			}
		}
		if first, dup := seen[rec]; dup {
			record("duplicate", fmt.Sprintf("same as row %d", first))
		} else {
			seen[rec] = i
		}

		if clean {
			report.Clean++
		}
	}
	return report
}

type timestampRule struct {
	column string
	value  func(flight.TrainingRecord) string
}

func (r timestampRule) Name() string   { return r.column + "_format" }
func (r timestampRule) Column() string { return r.column }

func (r timestampRule) Check(rec flight.TrainingRecord) error {
	raw := strings.TrimSpace(r.value(rec))
	if _, err := time.Parse(flight.TimestampLayout, raw); err != nil {
		return fmt.Errorf("%s %q is not %s", r.column, raw, flight.TimestampLayout)
	}
	return nil
}

type carrierRule struct{}

func (carrierRule) Name() string   { return "carrier_missing" }
func (carrierRule) Column() string { return flight.ColumnCarrier }

func (carrierRule) Check(rec flight.TrainingRecord) error {
	if strings.TrimSpace(rec.Carrier) == "" {
		return fmt.Errorf("carrier is empty")
	}
	return nil
}

type flightTypeRule struct{}

func (flightTypeRule) Name() string   { return "flight_type_unknown" }
func (flightTypeRule) Column() string { return flight.ColumnFlightType }

func (flightTypeRule) Check(rec flight.TrainingRecord) error {
	switch strings.ToUpper(strings.TrimSpace(rec.FlightType)) {
	case flight.International, flight.Domestic:
		return nil
	}
	return fmt.Errorf("flight type %q is neither I nor N", rec.FlightType)
}

type monthRule struct{}

func (monthRule) Name() string   { return "month_range" }
func (monthRule) Column() string { return flight.ColumnMonth }

func (monthRule) Check(rec flight.TrainingRecord) error {
	if rec.Month < 1 || rec.Month > 12 {
		return fmt.Errorf("month %d outside 1-12", rec.Month)
	}
	return nil
}
