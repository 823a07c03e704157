// Package lifecycle fits, evaluates, persists and restores the delay classifier together
// with the preprocessing state it depends on.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"flightdelay/artifact"
	"flightdelay/logging"
	"flightdelay/ml"
	"flightdelay/pipeline"
	"flightdelay/scaler"
	"flightdelay/schema"
)

// Options tune model fitting.
type Options struct {
	// TestRatio is the stratified hold-out used for early stopping in the final retrain.
	TestRatio           float64
	EarlyStoppingRounds int
	Seed                int64
	Base                ml.Params
	Search              ml.SearchConfig
}

func DefaultOptions() Options {
	return Options{
		TestRatio:           0.2,
		EarlyStoppingRounds: 10,
		Seed:                42,
		Base:                ml.DefaultParams(),
		Search:              ml.DefaultSearchConfig(),
	}
}

// Manager owns the pipeline and the active bundle.
type Manager struct {
	mu       sync.RWMutex
	pipeline *pipeline.Pipeline
	store    *artifact.Store
	opts     Options
	bundle   *artifact.Bundle
	search   *ml.SearchResult
	logger   *zap.Logger
}

func NewManager(p *pipeline.Pipeline, store *artifact.Store, opts Options) *Manager {
	if p == nil {
		p = pipeline.New(pipeline.Options{})
	}
	return &Manager{
		pipeline: p,
		store:    store,
		opts:     opts,
		logger:   logging.Named("lifecycle"),
	}
}

// Pipeline returns the managed pipeline.
func (m *Manager) Pipeline() *pipeline.Pipeline {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pipeline
}

// Bundle returns the active bundle, nil before Fit or Load.
func (m *Manager) Bundle() *artifact.Bundle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bundle
}

// LastSearch returns the search behind the most recent Fit.
func (m *Manager) LastSearch() *ml.SearchResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.search
}

// Fit searches hyperparameters with stratified cross-validation on F1, retrains the best
// candidate on a stratified split with early stopping and saves the bundle. The pipeline
// must already be fitted on the same rows.
func (m *Manager) Fit(ctx context.Context, features *schema.Frame, labels []int) (*artifact.Bundle, error) {
	p := m.Pipeline()
	if p.State() != pipeline.Fitted {
		return nil, &pipeline.ValidationError{
			Op:     "fit model",
			Reason: "preprocess training data before fitting",
			Err:    pipeline.ErrNotFitted,
		}
	}
	s, st := p.Schema(), p.ScalerState()
	if err := sameColumns(features.Columns(), s.Columns); err != nil {
		return nil, err
	}
	if features.Rows() != len(labels) {
		return nil, fmt.Errorf("features have %d rows but %d labels", features.Rows(), len(labels))
	}

	start := time.Now()
	base := m.opts.Base
	base.ScalePosWeight = ScalePosWeight(labels)
	base.Seed = m.opts.Seed
	x := features.Matrix()

	m.logger.Info("fitting model",
		zap.Int("rows", len(labels)),
		zap.Int("features", features.Width()),
		zap.Float64("scale_pos_weight", base.ScalePosWeight))

	search, err := ml.RandomSearch(ctx, x, labels, base, m.opts.Search)
	if err != nil {
		return nil, fmt.Errorf("hyperparameter search: %w", err)
	}

	split, err := ml.StratifiedSplit(labels, m.opts.TestRatio, m.opts.Seed)
	if err != nil {
		return nil, fmt.Errorf("split for retrain: %w", err)
	}
	params := search.Best.Params
	params.EarlyStoppingRounds = m.opts.EarlyStoppingRounds
	booster := ml.NewBooster(params)
	eval := &ml.EvalSet{X: ml.Rows(features.Dense(), split.Test), Y: ml.Labels(labels, split.Test)}
	if err := booster.Fit(ctx, ml.Rows(features.Dense(), split.Train), ml.Labels(labels, split.Train), eval); err != nil {
		return nil, fmt.Errorf("retrain best candidate: %w", err)
	}

	holdout, err := holdoutMetrics(booster, eval)
	if err != nil {
		return nil, fmt.Errorf("score holdout: %w", err)
	}

	bundle, err := artifact.NewBundle(booster, s, st, artifact.Metadata{
		Params:   &params,
		SearchF1: search.Best.Score,
		Metrics:  holdout,
	})
	if err != nil {
		return nil, err
	}
	if m.store != nil {
		if bundle, err = m.store.Save(ctx, bundle); err != nil {
			return nil, fmt.Errorf("save artifact: %w", err)
		}
	}

	m.mu.Lock()
	m.bundle = bundle
	m.search = search
	m.mu.Unlock()

	m.logger.Info("model fitted",
		zap.String("version", bundle.Version()),
		zap.Float64("search_f1", search.Best.Score),
		zap.Float64("holdout_f1", holdout.F1),
		zap.Int("trees", booster.NumTrees()),
		zap.Int("best_iteration", booster.BestIteration()),
		zap.Duration("duration", time.Since(start)))
	return bundle, nil
}

// Import bundles a classifier trained elsewhere, typically an ONNX export, with the fitted
// pipeline and saves it like a fitted model.
func (m *Manager) Import(ctx context.Context, clf ml.Classifier) (*artifact.Bundle, error) {
	p := m.Pipeline()
	if p.State() != pipeline.Fitted {
		return nil, &pipeline.ValidationError{
			Op:     "import model",
			Reason: "preprocess training data before importing",
			Err:    pipeline.ErrNotFitted,
		}
	}
	bundle, err := artifact.NewBundle(clf, p.Schema(), p.ScalerState(), artifact.Metadata{})
	if err != nil {
		return nil, err
	}
	if m.store != nil {
		if bundle, err = m.store.Save(ctx, bundle); err != nil {
			return nil, fmt.Errorf("save artifact: %w", err)
		}
	}

	m.mu.Lock()
	m.bundle = bundle
	m.search = nil
	m.mu.Unlock()

	m.logger.Info("model imported",
		zap.String("version", bundle.Version()),
		zap.String("classifier", clf.Kind()))
	return bundle, nil
}

// Evaluate scores the active classifier on already preprocessed features.
func (m *Manager) Evaluate(features *schema.Frame, labels []int) (ml.Metrics, error) {
	b := m.Bundle()
	if b == nil {
		return ml.Metrics{}, ml.ErrNotTrained
	}
	if err := sameColumns(features.Columns(), b.Schema().Columns); err != nil {
		return ml.Metrics{}, err
	}
	if features.Rows() == 0 {
		return ml.Metrics{}, fmt.Errorf("nothing to evaluate")
	}
	predicted, err := b.Classifier().Predict(features.Dense())
	if err != nil {
		return ml.Metrics{}, err
	}
	return ml.Evaluate(labels, predicted)
}

// Load restores the current bundle from the store and replaces the managed pipeline with
// the one rebuilt from it.
func (m *Manager) Load(ctx context.Context) (*artifact.Bundle, error) {
	if m.store == nil {
		return nil, fmt.Errorf("no artifact store configured")
	}
	b, err := m.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.bundle = b
	m.pipeline = b.Pipeline()
	m.mu.Unlock()
	return b, nil
}

func holdoutMetrics(clf ml.Classifier, eval *ml.EvalSet) (*ml.Metrics, error) {
	if len(eval.X) == 0 {
		return &ml.Metrics{}, nil
	}
	x := mat.NewDense(len(eval.X), len(eval.X[0]), nil)
	for i, row := range eval.X {
		x.SetRow(i, row)
	}
	predicted, err := clf.Predict(x)
	if err != nil {
		return nil, err
	}
	m, err := ml.Evaluate(eval.Y, predicted)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ScalePosWeight is count(0)/count(1), or 1 when there are no positives.
func ScalePosWeight(labels []int) float64 {
	var pos, neg int
	for _, y := range labels {
		if y == 1 {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 {
		return 1
	}
	return float64(neg) / float64(pos)
}

func sameColumns(got, want []string) error {
	if len(got) != len(want) {
		return fmt.Errorf("%w: got %d columns, schema has %d", scaler.ErrColumnMismatch, len(got), len(want))
	}
	for i := range got {
		if got[i] != want[i] {
			return fmt.Errorf("%w: column %d is %q, schema has %q", scaler.ErrColumnMismatch, i, got[i], want[i])
		}
	}
	return nil
}
