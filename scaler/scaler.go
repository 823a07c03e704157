// Package scaler standardises feature frames column by column.
package scaler

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"flightdelay/schema"
)

var (
	// ErrNotFitted is returned by Transform before any FitTransform.
	ErrNotFitted = errors.New("scaler is not fitted")
	// ErrColumnMismatch is returned when a frame's column order differs from the fit order.
	ErrColumnMismatch = errors.New("frame columns do not match fitted columns")
)

// State is the frozen per-column mean and scale, in fit column order.
type State struct {
	Columns []string  `json:"columns"`
	Mean    []float64 `json:"mean"`
	Scale   []float64 `json:"scale"`
}

// Scaler fits a State and applies it.
type Scaler struct {
	state *State
}

// New returns an unfitted scaler.
func New() *Scaler {
	return &Scaler{}
}

// FromState wraps a previously fitted state.
func FromState(state *State) *Scaler {
	return &Scaler{state: state.Clone()}
}

// Fitted reports whether a state is present.
func (s *Scaler) Fitted() bool {
	return s.state != nil
}

// State returns a copy of the fitted state, nil when unfitted.
func (s *Scaler) State() *State {
	if s.state == nil {
		return nil
	}
	return s.state.Clone()
}

// FitTransform learns mean and population standard deviation per column and returns the
// standardised frame. Columns with zero variance keep scale 1.
func (s *Scaler) FitTransform(frame *schema.Frame) (*schema.Frame, error) {
	if frame.Rows() == 0 {
		return nil, errors.New("cannot fit scaler on an empty frame")
	}
	data := frame.Dense()
	width := frame.Width()
	state := &State{
		Columns: frame.Columns(),
		Mean:    make([]float64, width),
		Scale:   make([]float64, width),
	}
	col := make([]float64, frame.Rows())
	for j := 0; j < width; j++ {
		mat.Col(col, j, data)
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 {
			std = 1
		}
		state.Mean[j] = mean
		state.Scale[j] = std
	}
	s.state = state
	return state.Transform(frame)
}

// Transform applies the fitted state.
func (s *Scaler) Transform(frame *schema.Frame) (*schema.Frame, error) {
	if s.state == nil {
		return nil, ErrNotFitted
	}
	return s.state.Transform(frame)
}

// Transform standardises frame with the frozen statistics.
func (st *State) Transform(frame *schema.Frame) (*schema.Frame, error) {
	if st == nil {
		return nil, ErrNotFitted
	}
	if err := st.checkColumns(frame.Columns()); err != nil {
		return nil, err
	}
	if frame.Rows() == 0 {
		return schema.FromDense(st.Columns, nil)
	}

	var out mat.Dense
	out.Apply(func(_, j int, v float64) float64 {
		return (v - st.Mean[j]) / st.Scale[j]
	}, frame.Dense())
	return schema.FromDense(st.Columns, &out)
}

// Inverse maps standardised values back to the original scale.
func (st *State) Inverse(frame *schema.Frame) (*schema.Frame, error) {
	if err := st.checkColumns(frame.Columns()); err != nil {
		return nil, err
	}
	if frame.Rows() == 0 {
		return schema.FromDense(st.Columns, nil)
	}
	var out mat.Dense
	out.Apply(func(_, j int, v float64) float64 {
		return v*st.Scale[j] + st.Mean[j]
	}, frame.Dense())
	return schema.FromDense(st.Columns, &out)
}

// Validate checks the state is internally consistent.
func (st *State) Validate() error {
	if len(st.Columns) == 0 {
		return errors.New("scaler state has no columns")
	}
	if len(st.Mean) != len(st.Columns) || len(st.Scale) != len(st.Columns) {
		return fmt.Errorf("scaler state has %d columns but %d means and %d scales",
			len(st.Columns), len(st.Mean), len(st.Scale))
	}
	for j, scale := range st.Scale {
		if scale == 0 {
			return fmt.Errorf("scaler column %q has zero scale", st.Columns[j])
		}
	}
	return nil
}

// Clone returns a deep copy.
func (st *State) Clone() *State {
	return &State{
		Columns: append([]string(nil), st.Columns...),
		Mean:    append([]float64(nil), st.Mean...),
		Scale:   append([]float64(nil), st.Scale...),
	}
}

func (st *State) checkColumns(columns []string) error {
	if len(columns) != len(st.Columns) {
		return fmt.Errorf("%w: got %d columns, fitted on %d", ErrColumnMismatch, len(columns), len(st.Columns))
	}
	for j := range columns {
		if columns[j] != st.Columns[j] {
			return fmt.Errorf("%w: column %d is %q, fitted %q", ErrColumnMismatch, j, columns[j], st.Columns[j])
		}
	}
	return nil
}
