package schema

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Frame is an ordered set of named numeric columns. Values live in a dense row-major
// matrix; a frame without rows carries no matrix.
type Frame struct {
	columns []string
	data    *mat.Dense
}

// NewFrame copies rows into a frame with the given column order.
func NewFrame(columns []string, rows [][]float64) (*Frame, error) {
	cols := append([]string(nil), columns...)
	if len(rows) == 0 || len(cols) == 0 {
		return &Frame{columns: cols}, nil
	}
	flat := make([]float64, 0, len(rows)*len(cols))
	for i, row := range rows {
		if len(row) != len(cols) {
			return nil, fmt.Errorf("row %d has %d values, want %d", i, len(row), len(cols))
		}
		flat = append(flat, row...)
	}
	return &Frame{columns: cols, data: mat.NewDense(len(rows), len(cols), flat)}, nil
}

// FromDense wraps an existing matrix. The matrix is owned by the frame afterwards.
func FromDense(columns []string, data *mat.Dense) (*Frame, error) {
	cols := append([]string(nil), columns...)
	if data == nil {
		return &Frame{columns: cols}, nil
	}
	if _, c := data.Dims(); c != len(cols) {
		return nil, errors.New("matrix width does not match column count")
	}
	return &Frame{columns: cols, data: data}, nil
}

// Columns returns a copy of the column names in order.
func (f *Frame) Columns() []string {
	return append([]string(nil), f.columns...)
}

// Rows returns the number of rows.
func (f *Frame) Rows() int {
	if f.data == nil {
		return 0
	}
	r, _ := f.data.Dims()
	return r
}

// Width returns the number of columns.
func (f *Frame) Width() int {
	return len(f.columns)
}

// Dense exposes the backing matrix, nil for an empty frame. Callers must not mutate it.
func (f *Frame) Dense() *mat.Dense {
	return f.data
}

// At returns the value at row i, column j.
func (f *Frame) At(i, j int) float64 {
	return f.data.At(i, j)
}

// Row returns a copy of row i.
func (f *Frame) Row(i int) []float64 {
	return mat.Row(nil, i, f.data)
}

// Value looks a cell up by column name.
func (f *Frame) Value(i int, column string) (float64, bool) {
	for j, c := range f.columns {
		if c == column {
			return f.data.At(i, j), true
		}
	}
	return 0, false
}

// Matrix returns the rows as a fresh slice of slices.
func (f *Frame) Matrix() [][]float64 {
	out := make([][]float64, f.Rows())
	for i := range out {
		out[i] = f.Row(i)
	}
	return out
}

// Equal reports whether both frames have the same column order and values within tol.
func (f *Frame) Equal(other *Frame, tol float64) bool {
	if other == nil || len(f.columns) != len(other.columns) {
		return false
	}
	for i := range f.columns {
		if f.columns[i] != other.columns[i] {
			return false
		}
	}
	if f.Rows() != other.Rows() {
		return false
	}
	if f.Rows() == 0 {
		return true
	}
	return mat.EqualApprox(f.data, other.data, tol)
}
