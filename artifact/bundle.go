// Package artifact persists and restores the trained classifier together with the schema
// and scaler state it was fitted against.
package artifact

import (
	"errors"
	"fmt"
	"time"

	"flightdelay/flight"
	"flightdelay/ml"
	"flightdelay/pipeline"
	"flightdelay/scaler"
	"flightdelay/schema"
)

// ErrInconsistentArtifact marks a classifier, schema and scaler that do not belong together.
var ErrInconsistentArtifact = errors.New("inconsistent model artifact")

// Metadata describes a persisted bundle.
type Metadata struct {
	Version        string      `json:"version"`
	SchemaVersion  string      `json:"schema_version"`
	ClassifierKind string      `json:"classifier_kind"`
	CreatedAt      time.Time   `json:"created_at"`
	Params         *ml.Params  `json:"params,omitempty"`
	SearchF1       float64     `json:"search_f1,omitempty"`
	Metrics        *ml.Metrics `json:"metrics,omitempty"`
}

// Bundle is an immutable classifier + schema + scaler triple. It is safe for concurrent use.
type Bundle struct {
	meta       Metadata
	schema     *schema.Schema
	scaler     *scaler.State
	classifier ml.Classifier
	pipeline   *pipeline.Pipeline
}

// NewBundle checks the three parts agree and rebuilds the inference pipeline from them.
func NewBundle(clf ml.Classifier, s *schema.Schema, st *scaler.State, meta Metadata) (*Bundle, error) {
	if clf == nil || s == nil || st == nil {
		return nil, fmt.Errorf("%w: classifier, schema and scaler are all required", ErrInconsistentArtifact)
	}
	if clf.NumFeatures() != s.Width() {
		return nil, fmt.Errorf("%w: classifier expects %d features, schema %q has %d",
			ErrInconsistentArtifact, clf.NumFeatures(), s.Version, s.Width())
	}
	p, err := pipeline.NewFitted(s, st)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInconsistentArtifact, err)
	}
	meta.SchemaVersion = s.Version
	meta.ClassifierKind = clf.Kind()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	return &Bundle{
		meta:       meta,
		schema:     s.Clone(),
		scaler:     st.Clone(),
		classifier: clf,
		pipeline:   p,
	}, nil
}

func (b *Bundle) Metadata() Metadata { return b.meta }

func (b *Bundle) Version() string { return b.meta.Version }

func (b *Bundle) Schema() *schema.Schema { return b.schema.Clone() }

func (b *Bundle) ScalerState() *scaler.State { return b.scaler.Clone() }

func (b *Bundle) Classifier() ml.Classifier { return b.classifier }

// Pipeline returns the fitted pipeline rebuilt from the bundle.
func (b *Bundle) Pipeline() *pipeline.Pipeline { return b.pipeline }

// Transform runs inference preprocessing.
func (b *Bundle) Transform(records []flight.Record) (*schema.Frame, error) {
	return b.pipeline.PreprocessInference(records)
}

// Predict returns the delay class per record.
func (b *Bundle) Predict(records []flight.Record) ([]int, error) {
	frame, err := b.Transform(records)
	if err != nil {
		return nil, err
	}
	if frame.Rows() == 0 {
		return []int{}, nil
	}
	return b.classifier.Predict(frame.Dense())
}

// PredictProba returns P(delay) per record.
func (b *Bundle) PredictProba(records []flight.Record) ([]float64, error) {
	frame, err := b.Transform(records)
	if err != nil {
		return nil, err
	}
	if frame.Rows() == 0 {
		return []float64{}, nil
	}
	return b.classifier.PredictProba(frame.Dense())
}

func (b *Bundle) withVersion(version string) *Bundle {
	out := *b
	out.meta.Version = version
	return &out
}
