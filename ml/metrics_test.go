package ml

import (
	"math"
	"testing"
)

func TestEvaluate(t *testing.T) {
	m, err := Evaluate([]int{1, 1, 0, 0, 1}, []int{1, 0, 0, 1, 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.TP != 2 || m.FP != 1 || m.FN != 1 || m.TN != 1 {
		t.Fatalf("unexpected confusion counts: %+v", m)
	}
	if math.Abs(m.Accuracy-0.6) > 1e-12 {
		t.Fatalf("expected accuracy 0.6, got %f", m.Accuracy)
	}
	for name, v := range map[string]float64{"precision": m.Precision, "recall": m.Recall, "f1": m.F1} {
		if math.Abs(v-2.0/3.0) > 1e-12 {
			t.Fatalf("expected %s 2/3, got %f", name, v)
		}
	}
}

func TestEvaluateNoPredictedPositives(t *testing.T) {
	m, err := Evaluate([]int{1, 0, 0}, []int{0, 0, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Precision != 0 || m.Recall != 0 || m.F1 != 0 {
		t.Fatalf("expected zero precision/recall/f1, got %+v", m)
	}
	if math.Abs(m.Accuracy-2.0/3.0) > 1e-12 {
		t.Fatalf("expected accuracy 2/3, got %f", m.Accuracy)
	}
}

func TestEvaluateErrors(t *testing.T) {
	if _, err := Evaluate([]int{1}, []int{1, 0}); err == nil {
		t.Fatalf("expected size mismatch error")
	}
	if _, err := Evaluate(nil, nil); err == nil {
		t.Fatalf("expected error for empty input")
	}
	if F1Score(nil, nil) != 0 {
		t.Fatalf("expected zero f1 for empty input")
	}
}
