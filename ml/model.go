package ml

import (
	"errors"

	"gonum.org/v1/gonum/mat"
)

const (
	KindGBDT = "gbdt"
	KindONNX = "onnx"
)

var (
	ErrNotTrained      = errors.New("model not trained")
	ErrFeatureMismatch = errors.New("feature count does not match model")
)

// Classifier is a trained binary delay classifier over a fixed-width feature matrix.
type Classifier interface {
	Kind() string
	NumFeatures() int
	Predict(x mat.Matrix) ([]int, error)
	PredictProba(x mat.Matrix) ([]float64, error)
	Save(path string) error
}
