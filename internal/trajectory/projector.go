package trajectory

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ProjectorBits is the compact encoding of the measurement projector H, the
// m x BoundSize matrix mapping bound parameters onto the measured subspace.
// Bit row*BoundSize+col is set when H[row][col] == 1. Only 0/1 projectors
// are representable, which covers every subspace projection the calibration
// collaborators produce.
type ProjectorBits uint64

// projectorFromDense compresses an m x BoundSize 0/1 matrix. Entries that
// are neither 0 nor 1 are a programmer error and panic.
func projectorFromDense(h mat.Matrix) ProjectorBits {
	rows, cols := h.Dims()
	if rows > MeasurementSizeMax || cols != BoundSize {
		panic(fmt.Sprintf("trajectory: projector dimensions %dx%d exceed %dx%d", rows, cols, MeasurementSizeMax, BoundSize))
	}
	var bits ProjectorBits
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			switch h.At(r, c) {
			case 0:
			case 1:
				bits |= 1 << uint(r*BoundSize+c)
			default:
				panic(fmt.Sprintf("trajectory: projector entry (%d,%d)=%v is not 0 or 1", r, c, h.At(r, c)))
			}
		}
	}
	return bits
}

// projectorFromSubspace builds the encoding for a projector that picks out
// the given bound-parameter indices, in order, one per measurement row.
func projectorFromSubspace(indices []int) ProjectorBits {
	if len(indices) > MeasurementSizeMax {
		panic(fmt.Sprintf("trajectory: subspace size %d exceeds %d", len(indices), MeasurementSizeMax))
	}
	var bits ProjectorBits
	for r, c := range indices {
		if c < 0 || c >= BoundSize {
			panic(fmt.Sprintf("trajectory: subspace index %d out of range", c))
		}
		bits |= 1 << uint(r*BoundSize+c)
	}
	return bits
}

// expand materialises the dense m x BoundSize projector.
func (b ProjectorBits) expand(dim int) *mat.Dense {
	h := mat.NewDense(dim, BoundSize, nil)
	for r := 0; r < dim; r++ {
		for c := 0; c < BoundSize; c++ {
			if b&(1<<uint(r*BoundSize+c)) != 0 {
				h.Set(r, c, 1)
			}
		}
	}
	return h
}
