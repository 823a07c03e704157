// Package pipeline orchestrates temporal extraction, schema normalisation and scaling
// for training and inference.
package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"flightdelay/features"
	"flightdelay/flight"
	"flightdelay/logging"
	"flightdelay/scaler"
	"flightdelay/schema"
)

// State is the lifecycle position of a pipeline.
type State int

const (
	Untrained State = iota
	Fitting
	Fitted
)

func (s State) String() string {
	switch s {
	case Untrained:
		return "untrained"
	case Fitting:
		return "fitting"
	case Fitted:
		return "fitted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	// ErrSchemaValidation marks training input missing required columns.
	ErrSchemaValidation = errors.New("schema validation failed")
	// ErrNotFitted marks inference on a pipeline that was never fitted.
	ErrNotFitted = errors.New("pipeline not fitted")
)

// ValidationError is a structural fault that aborts a whole preprocessing call.
type ValidationError struct {
	Op     string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Err, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Options tune training-mode preprocessing.
type Options struct {
	// Schema is the allow-list used to create the training schema; nil means canonical.
	Schema *schema.Schema
	// DelayThreshold in minutes; zero means features.DefaultDelayThreshold.
	DelayThreshold float64
}

// TrainingSet is the output of training-mode preprocessing.
type TrainingSet struct {
	Features *schema.Frame
	Labels   []int
	Derived  []features.Derived
}

// Pipeline holds the frozen schema and scaler once fitted.
type Pipeline struct {
	mu     sync.RWMutex
	opts   Options
	state  State
	schema *schema.Schema
	scaler *scaler.Scaler
	logger *zap.Logger
}

// New returns an untrained pipeline.
func New(opts Options) *Pipeline {
	if opts.DelayThreshold == 0 {
		opts.DelayThreshold = features.DefaultDelayThreshold
	}
	return &Pipeline{
		opts:   opts,
		state:  Untrained,
		logger: logging.Named("pipeline"),
	}
}

// NewFitted rebuilds a fitted pipeline from persisted artifacts.
func NewFitted(s *schema.Schema, st *scaler.State) (*Pipeline, error) {
	if s == nil || st == nil {
		return nil, &ValidationError{Op: "restore", Reason: "schema and scaler state are both required", Err: ErrNotFitted}
	}
	if err := s.Validate(); err != nil {
		return nil, &ValidationError{Op: "restore", Reason: err.Error(), Err: ErrSchemaValidation}
	}
	if err := st.Validate(); err != nil {
		return nil, &ValidationError{Op: "restore", Reason: err.Error(), Err: ErrSchemaValidation}
	}
	if len(st.Columns) != len(s.Columns) {
		return nil, &ValidationError{Op: "restore", Reason: "scaler and schema widths differ", Err: scaler.ErrColumnMismatch}
	}
	for i := range s.Columns {
		if s.Columns[i] != st.Columns[i] {
			return nil, &ValidationError{
				Op:     "restore",
				Reason: fmt.Sprintf("column %d is %q in schema but %q in scaler", i, s.Columns[i], st.Columns[i]),
				Err:    scaler.ErrColumnMismatch,
			}
		}
	}
	p := New(Options{Schema: s})
	p.schema = s.Clone()
	p.scaler = scaler.FromState(st)
	p.state = Fitted
	return p, nil
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Schema returns a copy of the frozen schema, nil before fitting.
func (p *Pipeline) Schema() *schema.Schema {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.schema == nil {
		return nil
	}
	return p.schema.Clone()
}

// ScalerState returns a copy of the frozen scaler state, nil before fitting.
func (p *Pipeline) ScalerState() *scaler.State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.scaler == nil {
		return nil
	}
	return p.scaler.State()
}

// PreprocessTraining derives labels from the timestamps, creates the schema and fits the
// scaler. The pipeline returns to its previous state when anything fails.
func (p *Pipeline) PreprocessTraining(ds *flight.Dataset) (*TrainingSet, error) {
	for _, col := range []string{flight.ColumnScheduled, flight.ColumnActual} {
		if !ds.HasColumn(col) {
			return nil, &ValidationError{
				Op:     "preprocess training",
				Reason: fmt.Sprintf("column %q is required for training", col),
				Err:    ErrSchemaValidation,
			}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	previous := p.state
	p.state = Fitting
	p.logger.Info("preprocessing training data", zap.Int("rows", ds.Len()))

	derived := make([]features.Derived, ds.Len())
	labels := make([]int, ds.Len())
	for i, rec := range ds.Records {
		derived[i] = features.Derive(rec, p.opts.DelayThreshold)
		labels[i] = derived[i].Delay
	}

	encoded, created := schema.Create(ds.Flights(), p.opts.Schema)
	sc := scaler.New()
	scaled, err := sc.FitTransform(encoded)
	if err != nil {
		p.state = previous
		return nil, fmt.Errorf("fit scaler: %w", err)
	}

	p.schema = created
	p.scaler = sc
	p.state = Fitted

	p.logger.Info("training data preprocessed",
		zap.Int("rows", scaled.Rows()),
		zap.Int("columns", scaled.Width()),
		zap.String("schema_version", created.Version),
		zap.Int("delayed", countPositive(labels)))

	return &TrainingSet{Features: scaled, Labels: labels, Derived: derived}, nil
}

// PreprocessInference encodes records with the frozen schema and scales them with the
// frozen scaler. It never mutates the pipeline.
func (p *Pipeline) PreprocessInference(records []flight.Record) (*schema.Frame, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.state != Fitted {
		return nil, &ValidationError{
			Op:     "preprocess inference",
			Reason: "fit the pipeline or load a trained artifact first",
			Err:    ErrNotFitted,
		}
	}
	encoded, _ := schema.Normalize(records, p.schema)
	return p.scaler.Transform(encoded)
}

// PreprocessEvaluation transforms a labelled dataset with the frozen state, deriving labels
// from its timestamps. It is used to score held-out files against a trained model.
func (p *Pipeline) PreprocessEvaluation(ds *flight.Dataset) (*TrainingSet, error) {
	for _, col := range []string{flight.ColumnScheduled, flight.ColumnActual} {
		if !ds.HasColumn(col) {
			return nil, &ValidationError{
				Op:     "preprocess evaluation",
				Reason: fmt.Sprintf("column %q is required to derive labels", col),
				Err:    ErrSchemaValidation,
			}
		}
	}
	scaled, err := p.PreprocessInference(ds.Flights())
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	threshold := p.opts.DelayThreshold
	p.mu.RUnlock()

	derived := make([]features.Derived, ds.Len())
	labels := make([]int, ds.Len())
	for i, rec := range ds.Records {
		derived[i] = features.Derive(rec, threshold)
		labels[i] = derived[i].Delay
	}
	return &TrainingSet{Features: scaled, Labels: labels, Derived: derived}, nil
}

func countPositive(labels []int) int {
	n := 0
	for _, l := range labels {
		if l == 1 {
			n++
		}
	}
	return n
}
