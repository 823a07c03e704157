package ml

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"flightdelay/logging"
)

// SearchSpace lists the candidate values per hyperparameter. Candidates are points of
// the full grid.
type SearchSpace struct {
	NEstimators     []int     `yaml:"n_estimators"`
	LearningRate    []float64 `yaml:"learning_rate"`
	MaxDepth        []int     `yaml:"max_depth"`
	MinChildWeight  []float64 `yaml:"min_child_weight"`
	Gamma           []float64 `yaml:"gamma"`
	Subsample       []float64 `yaml:"subsample"`
	ColsampleBytree []float64 `yaml:"colsample_bytree"`
}

func DefaultSearchSpace() SearchSpace {
	return SearchSpace{
		NEstimators:     []int{100, 200, 300},
		LearningRate:    []float64{0.01, 0.05, 0.1},
		MaxDepth:        []int{3, 5, 6, 8},
		MinChildWeight:  []float64{1, 2, 5},
		Gamma:           []float64{0, 0.1, 0.2, 0.5},
		Subsample:       []float64{0.8, 1.0},
		ColsampleBytree: []float64{0.8, 1.0},
	}
}

func (s SearchSpace) dims() []int {
	return []int{
		len(s.NEstimators), len(s.LearningRate), len(s.MaxDepth), len(s.MinChildWeight),
		len(s.Gamma), len(s.Subsample), len(s.ColsampleBytree),
	}
}

// Size is the number of grid points.
func (s SearchSpace) Size() int {
	size := 1
	for _, d := range s.dims() {
		size *= d
	}
	return size
}

func (s SearchSpace) Validate() error {
	names := []string{"n_estimators", "learning_rate", "max_depth", "min_child_weight", "gamma", "subsample", "colsample_bytree"}
	for i, d := range s.dims() {
		if d == 0 {
			return fmt.Errorf("search space %s has no values", names[i])
		}
	}
	return nil
}

// At decodes grid point i (mixed radix, last dimension fastest) on top of base.
func (s SearchSpace) At(i int, base Params) Params {
	p := base
	dims := s.dims()
	digit := make([]int, len(dims))
	for d := len(dims) - 1; d >= 0; d-- {
		digit[d] = i % dims[d]
		i /= dims[d]
	}
	p.NEstimators = s.NEstimators[digit[0]]
	p.LearningRate = s.LearningRate[digit[1]]
	p.MaxDepth = s.MaxDepth[digit[2]]
	p.MinChildWeight = s.MinChildWeight[digit[3]]
	p.Gamma = s.Gamma[digit[4]]
	p.Subsample = s.Subsample[digit[5]]
	p.ColsampleBytree = s.ColsampleBytree[digit[6]]
	return p
}

// SearchConfig controls RandomSearch.
type SearchConfig struct {
	NIter   int         `yaml:"n_iter"`
	Folds   int         `yaml:"folds"`
	Workers int         `yaml:"workers"`
	Seed    int64       `yaml:"seed"`
	Space   SearchSpace `yaml:"space"`
}

func DefaultSearchConfig() SearchConfig {
	return SearchConfig{NIter: 10, Folds: 3, Workers: 4, Seed: 42, Space: DefaultSearchSpace()}
}

// Candidate is one evaluated parameter set.
type Candidate struct {
	ID         int           `json:"id"`
	GridIndex  int           `json:"grid_index"`
	Params     Params        `json:"params"`
	FoldScores []float64     `json:"fold_scores"`
	Score      float64       `json:"score"`
	Duration   time.Duration `json:"duration"`
}

type SearchResult struct {
	Best       Candidate   `json:"best"`
	Candidates []Candidate `json:"candidates"`
}

// RandomSearch samples NIter distinct grid points and scores each by mean F1 over
// stratified folds. Candidates run in parallel; the best is the highest mean score, ties
// going to the earlier sample.
func RandomSearch(ctx context.Context, x [][]float64, y []int, base Params, cfg SearchConfig) (*SearchResult, error) {
	if err := cfg.Space.Validate(); err != nil {
		return nil, err
	}
	if cfg.NIter <= 0 {
		return nil, errors.New("n_iter must be positive")
	}
	if len(x) != len(y) {
		return nil, errors.New("features and labels size mismatch")
	}
	folds, err := StratifiedKFold(y, cfg.Folds, cfg.Seed)
	if err != nil {
		return nil, err
	}

	logger := logging.Named("ml")
	points := sampleGrid(cfg.Space.Size(), cfg.NIter, cfg.Seed)
	logger.Info("starting random search",
		zap.Int("candidates", len(points)),
		zap.Int("space_size", cfg.Space.Size()),
		zap.Int("folds", cfg.Folds))

	candidates := make([]Candidate, len(points))
	g, gctx := errgroup.WithContext(ctx)
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	g.SetLimit(workers)
	for id, point := range points {
		id, point := id, point
		g.Go(func() error {
			start := time.Now()
			params := cfg.Space.At(point, base)
			scores, err := crossValidate(gctx, x, y, folds, params)
			if err != nil {
				return fmt.Errorf("candidate %d: %w", id, err)
			}
			candidates[id] = Candidate{
				ID:         id,
				GridIndex:  point,
				Params:     params,
				FoldScores: scores,
				Score:      mean(scores),
				Duration:   time.Since(start),
			}
			logger.Debug("candidate scored",
				zap.Int("id", id),
				zap.Float64("f1", candidates[id].Score),
				zap.Duration("duration", candidates[id].Duration))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	best := 0
	for i := range candidates {
		if candidates[i].Score > candidates[best].Score {
			best = i
		}
	}
	logger.Info("random search completed",
		zap.Float64("best_f1", candidates[best].Score),
		zap.Int("best_id", best))
	return &SearchResult{Best: candidates[best], Candidates: candidates}, nil
}

func crossValidate(ctx context.Context, x [][]float64, y []int, folds []Fold, params Params) ([]float64, error) {
	scores := make([]float64, len(folds))
	for i, fold := range folds {
		booster := NewBooster(params)
		if err := booster.Fit(ctx, pick(x, fold.Train), Labels(y, fold.Train), nil); err != nil {
			return nil, err
		}
		predicted := make([]int, len(fold.Test))
		for j, r := range fold.Test {
			margin, err := booster.rowMargin(x[r])
			if err != nil {
				return nil, err
			}
			if sigmoid(margin) > 0.5 {
				predicted[j] = 1
			}
		}
		scores[i] = F1Score(Labels(y, fold.Test), predicted)
	}
	return scores, nil
}

// sampleGrid draws n distinct grid indices without replacement.
func sampleGrid(size, n int, seed int64) []int {
	if n > size {
		n = size
	}
	rng := rand.New(rand.NewSource(seed))
	if size <= 1<<16 {
		return rng.Perm(size)[:n]
	}
	seen := make(map[int]bool, n)
	out := make([]int, 0, n)
	for len(out) < n {
		i := rng.Intn(size)
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	return out
}

func pick(x [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for i, r := range idx {
		out[i] = x[r]
	}
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
