package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Fold is one train/validation partition of row indices.
type Fold struct {
	Train []int
	Test  []int
}

// StratifiedSplit holds out testRatio of each class. Indices are returned sorted.
func StratifiedSplit(labels []int, testRatio float64, seed int64) (Fold, error) {
	if testRatio <= 0 || testRatio >= 1 {
		return Fold{}, fmt.Errorf("test ratio %.3f must be in (0, 1)", testRatio)
	}
	if len(labels) < 2 {
		return Fold{}, errors.New("need at least two rows to split")
	}
	rng := rand.New(rand.NewSource(seed))
	var fold Fold
	for _, rows := range byClass(labels) {
		rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
		n := int(math.Round(float64(len(rows)) * testRatio))
		if n == 0 && len(rows) > 1 {
			n = 1
		}
		if n == len(rows) {
			n = len(rows) - 1
		}
		fold.Test = append(fold.Test, rows[:n]...)
		fold.Train = append(fold.Train, rows[n:]...)
	}
	if len(fold.Test) == 0 {
		return Fold{}, errors.New("split produced an empty test set")
	}
	sort.Ints(fold.Train)
	sort.Ints(fold.Test)
	return fold, nil
}

// StratifiedKFold shuffles each class and deals its rows round-robin over k folds, so
// every fold keeps roughly the overall class balance.
func StratifiedKFold(labels []int, k int, seed int64) ([]Fold, error) {
	if k < 2 {
		return nil, fmt.Errorf("need at least 2 folds, got %d", k)
	}
	if k > len(labels) {
		return nil, fmt.Errorf("cannot make %d folds from %d rows", k, len(labels))
	}
	rng := rand.New(rand.NewSource(seed))
	assign := make([]int, len(labels))
	next := 0
	for _, rows := range byClass(labels) {
		rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
		for _, r := range rows {
			assign[r] = next % k
			next++
		}
	}

	folds := make([]Fold, k)
	for r, f := range assign {
		for i := range folds {
			if i == f {
				folds[i].Test = append(folds[i].Test, r)
			} else {
				folds[i].Train = append(folds[i].Train, r)
			}
		}
	}
	return folds, nil
}

// Rows copies the selected rows of x.
func Rows(x mat.Matrix, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for i, r := range idx {
		out[i] = mat.Row(nil, r, x)
	}
	return out
}

// Labels copies the selected labels.
func Labels(y []int, idx []int) []int {
	out := make([]int, len(idx))
	for i, r := range idx {
		out[i] = y[r]
	}
	return out
}

func byClass(labels []int) [][]int {
	classes := make(map[int][]int)
	for i, y := range labels {
		classes[y] = append(classes[y], i)
	}
	keys := make([]int, 0, len(classes))
	for c := range classes {
		keys = append(keys, c)
	}
	sort.Ints(keys)
	out := make([][]int, len(keys))
	for i, c := range keys {
		out[i] = classes[c]
	}
	return out
}
