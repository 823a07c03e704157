package ml

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"flightdelay/logging"
)

// Params are the boosting hyperparameters.
type Params struct {
	NEstimators         int     `json:"n_estimators" yaml:"n_estimators"`
	LearningRate        float64 `json:"learning_rate" yaml:"learning_rate"`
	MaxDepth            int     `json:"max_depth" yaml:"max_depth"`
	MinChildWeight      float64 `json:"min_child_weight" yaml:"min_child_weight"`
	Gamma               float64 `json:"gamma" yaml:"gamma"`
	Subsample           float64 `json:"subsample" yaml:"subsample"`
	ColsampleBytree     float64 `json:"colsample_bytree" yaml:"colsample_bytree"`
	ScalePosWeight      float64 `json:"scale_pos_weight" yaml:"scale_pos_weight"`
	Lambda              float64 `json:"lambda" yaml:"lambda"`
	EarlyStoppingRounds int     `json:"early_stopping_rounds,omitempty" yaml:"early_stopping_rounds"`
	Seed                int64   `json:"seed" yaml:"seed"`
}

func DefaultParams() Params {
	return Params{
		NEstimators:     100,
		LearningRate:    0.1,
		MaxDepth:        6,
		MinChildWeight:  1,
		Subsample:       1,
		ColsampleBytree: 1,
		ScalePosWeight:  1,
		Lambda:          1,
		Seed:            42,
	}
}

func (p Params) Validate() error {
	switch {
	case p.NEstimators <= 0:
		return errors.New("n_estimators must be positive")
	case p.LearningRate <= 0:
		return errors.New("learning_rate must be positive")
	case p.MaxDepth <= 0:
		return errors.New("max_depth must be positive")
	case p.MinChildWeight < 0:
		return errors.New("min_child_weight must not be negative")
	case p.Gamma < 0:
		return errors.New("gamma must not be negative")
	case p.Subsample <= 0 || p.Subsample > 1:
		return errors.New("subsample must be in (0, 1]")
	case p.ColsampleBytree <= 0 || p.ColsampleBytree > 1:
		return errors.New("colsample_bytree must be in (0, 1]")
	case p.ScalePosWeight < 0:
		return errors.New("scale_pos_weight must not be negative")
	case p.Lambda < 0:
		return errors.New("lambda must not be negative")
	case p.EarlyStoppingRounds < 0:
		return errors.New("early_stopping_rounds must not be negative")
	}
	return nil
}

// EvalSet is a held-out set watched for early stopping.
type EvalSet struct {
	X [][]float64
	Y []int
}

// Booster is a binary logistic gradient-boosted tree ensemble.
type Booster struct {
	params        Params
	numFeatures   int
	baseScore     float64
	trees         []Tree
	bestIteration int
	evalHistory   []float64
}

type boosterFile struct {
	Kind          string  `json:"kind"`
	NumFeatures   int     `json:"num_features"`
	BaseScore     float64 `json:"base_score"`
	BestIteration int     `json:"best_iteration"`
	Params        Params  `json:"params"`
	Trees         []Tree  `json:"trees"`
}

func NewBooster(params Params) *Booster {
	return &Booster{params: params, baseScore: 0.5}
}

func (b *Booster) Kind() string { return KindGBDT }

func (b *Booster) Params() Params { return b.params }

func (b *Booster) NumFeatures() int { return b.numFeatures }

func (b *Booster) NumTrees() int { return len(b.trees) }

// BestIteration is the zero-based round with the lowest eval logloss when early stopping ran.
func (b *Booster) BestIteration() int { return b.bestIteration }

// EvalHistory returns the eval-set logloss per round.
func (b *Booster) EvalHistory() []float64 {
	return append([]float64(nil), b.evalHistory...)
}

// Fit trains the ensemble on x and binary labels y. When eval is given and
// EarlyStoppingRounds is set, training stops once eval logloss has not improved for that
// many rounds and the ensemble is truncated to the best round.
func (b *Booster) Fit(ctx context.Context, x [][]float64, y []int, eval *EvalSet) error {
	if err := b.params.Validate(); err != nil {
		return err
	}
	if len(x) == 0 || len(y) == 0 {
		return errors.New("features or labels empty")
	}
	if len(x) != len(y) {
		return errors.New("features and labels size mismatch")
	}
	width := len(x[0])
	for i, row := range x {
		if len(row) != width {
			return fmt.Errorf("row %d has %d features, want %d", i, len(row), width)
		}
	}
	for i, label := range y {
		if label != 0 && label != 1 {
			return fmt.Errorf("label %d at row %d is not binary", label, i)
		}
	}
	if eval != nil && len(eval.X) != len(eval.Y) {
		return errors.New("eval features and labels size mismatch")
	}

	b.numFeatures = width
	b.trees = nil
	b.evalHistory = nil
	b.bestIteration = 0

	rng := rand.New(rand.NewSource(b.params.Seed))
	base := logit(b.baseScore)
	margin := make([]float64, len(x))
	for i := range margin {
		margin[i] = base
	}
	var evalMargin []float64
	watch := eval != nil && len(eval.X) > 0
	if watch {
		evalMargin = make([]float64, len(eval.X))
		for i := range evalMargin {
			evalMargin[i] = base
		}
	}

	grad := make([]float64, len(x))
	hess := make([]float64, len(x))
	bestLoss := math.Inf(1)
	builder := &treeBuilder{x: x, grad: grad, hess: hess, params: b.params}

	for round := 0; round < b.params.NEstimators; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i, label := range y {
			p := sigmoid(margin[i])
			w := 1.0
			if label == 1 {
				w = b.params.ScalePosWeight
			}
			grad[i] = (p - float64(label)) * w
			hess[i] = math.Max(p*(1-p), 1e-16) * w
		}

		builder.features = sampleColumns(rng, width, b.params.ColsampleBytree)
		tree := builder.build(sampleRows(rng, len(x), b.params.Subsample))
		b.trees = append(b.trees, tree)

		for i, row := range x {
			v, _ := tree.Value(row)
			margin[i] += v
		}
		if !watch {
			continue
		}

		for i, row := range eval.X {
			v, err := tree.Value(row)
			if err != nil {
				return fmt.Errorf("eval row %d: %w", i, err)
			}
			evalMargin[i] += v
		}
		loss := logLoss(eval.Y, evalMargin)
		b.evalHistory = append(b.evalHistory, loss)
		if loss < bestLoss {
			bestLoss = loss
			b.bestIteration = round
		}
		if b.params.EarlyStoppingRounds > 0 && round-b.bestIteration >= b.params.EarlyStoppingRounds {
			logging.Named("ml").Debug("early stopping",
				zap.Int("round", round),
				zap.Int("best_iteration", b.bestIteration),
				zap.Float64("best_logloss", bestLoss))
			b.trees = b.trees[:b.bestIteration+1]
			break
		}
	}
	if !watch {
		b.bestIteration = len(b.trees) - 1
	}
	return nil
}

// Margin returns the raw log-odds per row.
func (b *Booster) Margin(x mat.Matrix) ([]float64, error) {
	if len(b.trees) == 0 {
		return nil, ErrNotTrained
	}
	rows, cols := x.Dims()
	if cols != b.numFeatures {
		return nil, fmt.Errorf("%w: got %d, model expects %d", ErrFeatureMismatch, cols, b.numFeatures)
	}
	out := make([]float64, rows)
	row := make([]float64, cols)
	for i := 0; i < rows; i++ {
		mat.Row(row, i, x)
		m, err := b.rowMargin(row)
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}

func (b *Booster) rowMargin(row []float64) (float64, error) {
	m := logit(b.baseScore)
	for t := range b.trees {
		v, err := b.trees[t].Value(row)
		if err != nil {
			return 0, fmt.Errorf("tree %d: %w", t, err)
		}
		m += v
	}
	return m, nil
}

// PredictProba returns P(delay) per row.
func (b *Booster) PredictProba(x mat.Matrix) ([]float64, error) {
	margin, err := b.Margin(x)
	if err != nil {
		return nil, err
	}
	for i, m := range margin {
		margin[i] = sigmoid(m)
	}
	return margin, nil
}

// Predict returns 1 where P(delay) > 0.5.
func (b *Booster) Predict(x mat.Matrix) ([]int, error) {
	proba, err := b.PredictProba(x)
	if err != nil {
		return nil, err
	}
	return threshold(proba), nil
}

func (b *Booster) Save(path string) error {
	if len(b.trees) == 0 {
		return ErrNotTrained
	}
	payload, err := json.Marshal(boosterFile{
		Kind:          KindGBDT,
		NumFeatures:   b.numFeatures,
		BaseScore:     b.baseScore,
		BestIteration: b.bestIteration,
		Params:        b.params,
		Trees:         b.trees,
	})
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}

// LoadBooster reads an ensemble written by Save.
func LoadBooster(path string) (*Booster, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file boosterFile
	if err := json.Unmarshal(payload, &file); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if file.Kind != "" && file.Kind != KindGBDT {
		return nil, fmt.Errorf("model kind %q is not %q", file.Kind, KindGBDT)
	}
	if file.NumFeatures <= 0 {
		return nil, errors.New("model has no feature count")
	}
	if len(file.Trees) == 0 {
		return nil, ErrNotTrained
	}
	for i := range file.Trees {
		if err := file.Trees[i].validate(file.NumFeatures); err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
	}
	if file.BaseScore <= 0 || file.BaseScore >= 1 {
		file.BaseScore = 0.5
	}
	return &Booster{
		params:        file.Params,
		numFeatures:   file.NumFeatures,
		baseScore:     file.BaseScore,
		trees:         file.Trees,
		bestIteration: file.BestIteration,
	}, nil
}

func sampleRows(rng *rand.Rand, n int, ratio float64) []int {
	rows := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if ratio >= 1 || rng.Float64() < ratio {
			rows = append(rows, i)
		}
	}
	if len(rows) == 0 {
		rows = append(rows, rng.Intn(n))
	}
	return rows
}

func sampleColumns(rng *rand.Rand, n int, ratio float64) []int {
	if ratio >= 1 {
		cols := make([]int, n)
		for i := range cols {
			cols[i] = i
		}
		return cols
	}
	k := int(math.Round(ratio * float64(n)))
	if k < 1 {
		k = 1
	}
	cols := rng.Perm(n)[:k]
	sort.Ints(cols)
	return cols
}

func threshold(proba []float64) []int {
	out := make([]int, len(proba))
	for i, p := range proba {
		if p > 0.5 {
			out[i] = 1
		}
	}
	return out
}

func sigmoid(m float64) float64 {
	return 1 / (1 + math.Exp(-m))
}

func logit(p float64) float64 {
	return math.Log(p / (1 - p))
}

func logLoss(y []int, margin []float64) float64 {
	if len(y) == 0 {
		return 0
	}
	const eps = 1e-15
	var total float64
	for i, label := range y {
		p := math.Min(math.Max(sigmoid(margin[i]), eps), 1-eps)
		if label == 1 {
			total -= math.Log(p)
		} else {
			total -= math.Log(1 - p)
		}
	}
	return total / float64(len(y))
}
