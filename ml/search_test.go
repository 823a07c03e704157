package ml

import (
	"context"
	"testing"
)

func smallSpace() SearchSpace {
	return SearchSpace{
		NEstimators:     []int{5, 20},
		LearningRate:    []float64{0.3},
		MaxDepth:        []int{1, 3},
		MinChildWeight:  []float64{1},
		Gamma:           []float64{0},
		Subsample:       []float64{1},
		ColsampleBytree: []float64{1},
	}
}

func TestSearchSpaceAt(t *testing.T) {
	space := DefaultSearchSpace()
	if space.Size() != 3*3*4*3*4*2*2 {
		t.Fatalf("unexpected space size %d", space.Size())
	}
	base := DefaultParams()
	base.ScalePosWeight = 4

	first := space.At(0, base)
	if first.NEstimators != 100 || first.LearningRate != 0.01 || first.MaxDepth != 3 || first.ColsampleBytree != 0.8 {
		t.Fatalf("unexpected first point %+v", first)
	}
	last := space.At(space.Size()-1, base)
	if last.NEstimators != 300 || last.Gamma != 0.5 || last.Subsample != 1 || last.ColsampleBytree != 1 {
		t.Fatalf("unexpected last point %+v", last)
	}
	if last.ScalePosWeight != 4 || last.Lambda != 1 {
		t.Fatalf("fixed params must carry over, got %+v", last)
	}
	second := space.At(1, base)
	if second.ColsampleBytree != 1 || second.Subsample != 0.8 {
		t.Fatalf("last dimension should vary fastest, got %+v", second)
	}
}

func TestSampleGridDistinct(t *testing.T) {
	points := sampleGrid(1728, 10, 42)
	if len(points) != 10 {
		t.Fatalf("expected 10 points, got %d", len(points))
	}
	seen := make(map[int]bool)
	for _, p := range points {
		if seen[p] || p < 0 || p >= 1728 {
			t.Fatalf("invalid or repeated point %d", p)
		}
		seen[p] = true
	}
	if len(sampleGrid(4, 10, 42)) != 4 {
		t.Fatalf("sampling must cap at the space size")
	}
	large := sampleGrid(1<<20, 5, 1)
	if len(large) != 5 {
		t.Fatalf("expected 5 points from a large space, got %d", len(large))
	}
}

func TestRandomSearch(t *testing.T) {
	x, y := separable(120)
	cfg := SearchConfig{NIter: 10, Folds: 3, Workers: 3, Seed: 42, Space: smallSpace()}

	result, err := RandomSearch(context.Background(), x, y, DefaultParams(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Candidates) != 4 {
		t.Fatalf("expected all 4 grid points, got %d", len(result.Candidates))
	}
	for i, c := range result.Candidates {
		if c.ID != i || len(c.FoldScores) != 3 {
			t.Fatalf("candidate %d malformed: %+v", i, c)
		}
		if c.Score > result.Best.Score {
			t.Fatalf("candidate %d beats the reported best", i)
		}
	}
	if result.Best.Score != 1 {
		t.Fatalf("separable data should reach f1 1, got %f", result.Best.Score)
	}

	again, err := RandomSearch(context.Background(), x, y, DefaultParams(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again.Best.GridIndex != result.Best.GridIndex || again.Best.ID != result.Best.ID {
		t.Fatalf("search winner is not deterministic")
	}
}

func TestRandomSearchErrors(t *testing.T) {
	x, y := separable(30)
	cfg := DefaultSearchConfig()
	cfg.NIter = 0
	if _, err := RandomSearch(context.Background(), x, y, DefaultParams(), cfg); err == nil {
		t.Fatalf("expected error for zero iterations")
	}

	cfg = DefaultSearchConfig()
	cfg.Space.Gamma = nil
	if _, err := RandomSearch(context.Background(), x, y, DefaultParams(), cfg); err == nil {
		t.Fatalf("expected error for an empty dimension")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg = SearchConfig{NIter: 2, Folds: 3, Workers: 1, Seed: 1, Space: smallSpace()}
	if _, err := RandomSearch(ctx, x, y, DefaultParams(), cfg); err == nil {
		t.Fatalf("expected error for a cancelled context")
	}
}
