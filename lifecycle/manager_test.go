package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightdelay/artifact"
	"flightdelay/flight"
	"flightdelay/ml"
	"flightdelay/pipeline"
	"flightdelay/scaler"
	"flightdelay/schema"
)

func flights(n int) *flight.Dataset {
	carriers := []string{"Grupo LATAM", "Sky Airline", "Copa Air", "Latin American Wings", "Aerolineas Argentinas"}
	start := time.Date(2023, 2, 1, 5, 0, 0, 0, time.UTC)
	records := make([]flight.TrainingRecord, n)
	for i := range records {
		sched := start.Add(time.Duration(i) * 53 * time.Hour)
		late := 0
		if carriers[i%len(carriers)] == "Latin American Wings" || i%7 == 0 {
			late = 40
		}
		records[i] = flight.TrainingRecord{
			Record: flight.Record{
				Carrier:    carriers[i%len(carriers)],
				FlightType: []string{"N", "I"}[i%2],
				Month:      int(sched.Month()),
			},
			Scheduled: sched.Format(flight.TimestampLayout),
			Actual:    sched.Add(time.Duration(late) * time.Minute).Format(flight.TimestampLayout),
		}
	}
	return flight.NewDataset(records)
}

func quickOptions() Options {
	opts := DefaultOptions()
	opts.EarlyStoppingRounds = 5
	opts.Search = ml.SearchConfig{
		NIter:   3,
		Folds:   3,
		Workers: 2,
		Seed:    42,
		Space: ml.SearchSpace{
			NEstimators:     []int{10, 20},
			LearningRate:    []float64{0.1, 0.3},
			MaxDepth:        []int{3},
			MinChildWeight:  []float64{1},
			Gamma:           []float64{0},
			Subsample:       []float64{1},
			ColsampleBytree: []float64{1},
		},
	}
	return opts
}

func TestFitRequiresFittedPipeline(t *testing.T) {
	m := NewManager(nil, nil, quickOptions())
	frame, err := schema.NewFrame(schema.Canonical().Columns, nil)
	require.NoError(t, err)

	_, err = m.Fit(context.Background(), frame, nil)
	assert.True(t, errors.Is(err, pipeline.ErrNotFitted))
}

func TestFitEvaluateLoad(t *testing.T) {
	ds := flights(150)
	store := artifact.NewStore(t.TempDir(), ml.ONNXOptions{})
	m := NewManager(pipeline.New(pipeline.Options{}), store, quickOptions())

	set, err := m.Pipeline().PreprocessTraining(ds)
	require.NoError(t, err)

	bundle, err := m.Fit(context.Background(), set.Features, set.Labels)
	require.NoError(t, err)
	require.NotEmpty(t, bundle.Version())
	assert.Same(t, bundle, m.Bundle())
	require.NotNil(t, m.LastSearch())
	assert.Len(t, m.LastSearch().Candidates, 3)

	meta := bundle.Metadata()
	require.NotNil(t, meta.Params)
	assert.Equal(t, 5, meta.Params.EarlyStoppingRounds)
	assert.InDelta(t, ScalePosWeight(set.Labels), meta.Params.ScalePosWeight, 1e-12)
	require.NotNil(t, meta.Metrics, "holdout metrics recorded")
	assert.InDelta(t, 30, meta.Metrics.Support, 1)

	metrics, err := m.Evaluate(set.Features, set.Labels)
	require.NoError(t, err)
	assert.Equal(t, 150, metrics.Support)
	assert.Greater(t, metrics.Accuracy, 0.5)

	restored := NewManager(nil, store, quickOptions())
	loaded, err := restored.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, bundle.Version(), loaded.Version())
	assert.Equal(t, pipeline.Fitted, restored.Pipeline().State())

	again, err := restored.Pipeline().PreprocessInference(ds.Flights())
	require.NoError(t, err)
	assert.True(t, set.Features.Equal(again, 1e-12))

	reloaded, err := restored.Evaluate(again, set.Labels)
	require.NoError(t, err)
	assert.Equal(t, metrics, reloaded)
}

func TestFitWithoutStore(t *testing.T) {
	m := NewManager(nil, nil, quickOptions())
	set, err := m.Pipeline().PreprocessTraining(flights(90))
	require.NoError(t, err)

	bundle, err := m.Fit(context.Background(), set.Features, set.Labels)
	require.NoError(t, err)
	assert.Empty(t, bundle.Version())

	_, err = m.Load(context.Background())
	assert.Error(t, err)
}

func TestFitRejectsForeignColumns(t *testing.T) {
	m := NewManager(nil, nil, quickOptions())
	_, err := m.Pipeline().PreprocessTraining(flights(30))
	require.NoError(t, err)

	frame, err := schema.NewFrame([]string{"MES_1"}, [][]float64{{1}})
	require.NoError(t, err)
	_, err = m.Fit(context.Background(), frame, []int{1})
	assert.True(t, errors.Is(err, scaler.ErrColumnMismatch))
}

func allRows(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

func TestImport(t *testing.T) {
	store := artifact.NewStore(t.TempDir(), ml.ONNXOptions{})
	m := NewManager(nil, store, quickOptions())

	external := ml.NewBooster(ml.Params{NEstimators: 5, LearningRate: 0.3, MaxDepth: 3, MinChildWeight: 1,
		Subsample: 1, ColsampleBytree: 1, ScalePosWeight: 1, Lambda: 1, Seed: 1})
	_, err := m.Import(context.Background(), external)
	assert.True(t, errors.Is(err, pipeline.ErrNotFitted))

	set, err := m.Pipeline().PreprocessTraining(flights(60))
	require.NoError(t, err)
	require.NoError(t, external.Fit(context.Background(), ml.Rows(set.Features.Dense(), allRows(60)), set.Labels, nil))

	bundle, err := m.Import(context.Background(), external)
	require.NoError(t, err)
	assert.NotEmpty(t, bundle.Version())
	assert.Nil(t, m.LastSearch())

	current, err := store.Current()
	require.NoError(t, err)
	assert.Equal(t, bundle.Version(), current)

	metrics, err := m.Evaluate(set.Features, set.Labels)
	require.NoError(t, err)
	assert.Equal(t, 60, metrics.Support)
}

func TestImportRejectsShapeMismatch(t *testing.T) {
	m := NewManager(nil, nil, quickOptions())
	_, err := m.Pipeline().PreprocessTraining(flights(30))
	require.NoError(t, err)

	narrow := ml.NewBooster(ml.DefaultParams())
	require.NoError(t, narrow.Fit(context.Background(), [][]float64{{0}, {1}, {0}, {1}}, []int{0, 1, 0, 1}, nil))

	_, err = m.Import(context.Background(), narrow)
	assert.True(t, errors.Is(err, artifact.ErrInconsistentArtifact))
}

func TestEvaluateBeforeFit(t *testing.T) {
	_, err := NewManager(nil, nil, quickOptions()).Evaluate(nil, nil)
	assert.True(t, errors.Is(err, ml.ErrNotTrained))
}

func TestScalePosWeight(t *testing.T) {
	assert.Equal(t, 3.0, ScalePosWeight([]int{0, 0, 0, 1}))
	assert.Equal(t, 1.0, ScalePosWeight([]int{0, 0}))
	assert.Equal(t, 0.0, ScalePosWeight([]int{1, 1}))
	assert.Equal(t, 1.0, ScalePosWeight(nil))
}
