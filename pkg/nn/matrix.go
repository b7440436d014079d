// Package nn implements the dense float32 math, the sampling-based GCN
// training model and its full-graph inference twin, the loss, and the
// optimizer.
//
// Everything is CPU float32. Parameters and gradients live in flat vectors
// so that gradient averaging across workers and checkpointing are plain
// slice operations.
package nn

import "fmt"

// Matrix is a dense row-major float32 matrix.
type Matrix struct {
	Rows, Cols int
	Data       []float32
}

func NewMatrix(rows, cols int) *Matrix {
	return &Matrix{Rows: rows, Cols: cols, Data: make([]float32, rows*cols)}
}

// FromRows builds a Matrix copying the given equally sized rows.
func FromRows(rows [][]float32) (*Matrix, error) {
	if len(rows) == 0 {
		return &Matrix{}, nil
	}
	cols := len(rows[0])
	m := NewMatrix(len(rows), cols)
	for i, r := range rows {
		if len(r) != cols {
			return nil, fmt.Errorf("ragged rows: row 0 has %d entries, row %d has %d", cols, i, len(r))
		}
		copy(m.Row(i), r)
	}
	return m, nil
}

// Row returns the i-th row, aliasing the backing storage.
func (m *Matrix) Row(i int) []float32 {
	return m.Data[i*m.Cols : (i+1)*m.Cols]
}

func (m *Matrix) At(i, j int) float32 {
	return m.Data[i*m.Cols+j]
}

func (m *Matrix) Set(i, j int, v float32) {
	m.Data[i*m.Cols+j] = v
}

// matmul computes out = a @ b. out must be preallocated (a.Rows x b.Cols)
// and is overwritten.
func matmul(out, a, b *Matrix) {
	for i := range out.Data {
		out.Data[i] = 0
	}
	for i := 0; i < a.Rows; i++ {
		arow := a.Row(i)
		orow := out.Row(i)
		for k, av := range arow {
			if av == 0 {
				continue
			}
			brow := b.Row(k)
			for j, bv := range brow {
				orow[j] += av * bv
			}
		}
	}
}

// matmulTransA computes out = aᵀ @ b, accumulating into out.
func matmulTransA(out, a, b *Matrix) {
	for i := 0; i < a.Rows; i++ {
		arow := a.Row(i)
		brow := b.Row(i)
		for k, av := range arow {
			if av == 0 {
				continue
			}
			orow := out.Row(k)
			for j, bv := range brow {
				orow[j] += av * bv
			}
		}
	}
}

// matmulTransB computes out = a @ bᵀ. out is overwritten.
func matmulTransB(out, a, b *Matrix) {
	for i := 0; i < a.Rows; i++ {
		arow := a.Row(i)
		orow := out.Row(i)
		for j := 0; j < b.Rows; j++ {
			brow := b.Row(j)
			var acc float32
			for k, av := range arow {
				acc += av * brow[k]
			}
			orow[j] = acc
		}
	}
}

func axpyRow(dst []float32, alpha float32, src []float32) {
	for k, v := range src {
		dst[k] += alpha * v
	}
}
