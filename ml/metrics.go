package ml

import (
	"errors"
)

// Metrics summarise binary predictions with class 1 (delayed) as the positive class.
type Metrics struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
	TP        int     `json:"tp"`
	FP        int     `json:"fp"`
	TN        int     `json:"tn"`
	FN        int     `json:"fn"`
}

// Evaluate compares predictions with labels. Undefined ratios (no predicted or no actual
// positives) are reported as 0.
func Evaluate(labels, predicted []int) (Metrics, error) {
	if len(labels) != len(predicted) {
		return Metrics{}, errors.New("labels and predictions size mismatch")
	}
	if len(labels) == 0 {
		return Metrics{}, errors.New("nothing to evaluate")
	}
	var m Metrics
	for i, y := range labels {
		switch {
		case y == 1 && predicted[i] == 1:
			m.TP++
		case y != 1 && predicted[i] == 1:
			m.FP++
		case y == 1:
			m.FN++
		default:
			m.TN++
		}
	}
	m.Support = len(labels)
	m.Accuracy = float64(m.TP+m.TN) / float64(m.Support)
	m.Precision = ratio(m.TP, m.TP+m.FP)
	m.Recall = ratio(m.TP, m.TP+m.FN)
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m, nil
}

// F1Score is the positive-class F1 of predicted against labels.
func F1Score(labels, predicted []int) float64 {
	m, err := Evaluate(labels, predicted)
	if err != nil {
		return 0
	}
	return m.F1
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
