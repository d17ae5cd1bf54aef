package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/ember-ml/ember/internal/parallel"
)

// minParallelFlops is the m*n*k product below which Madd stays on the
// calling goroutine.
const minParallelFlops = 1 << 16

// Madd accumulates a matrix product into t: t += op(a) * op(b), where op
// transposes its argument when the matching flag is set.
//
// All three tensors must be two-dimensional and on the same device. Output
// rows are split across parallel.Workers() goroutines for large products.
func (t *Tensor) Madd(a, b *Tensor, transposeA, transposeB bool) {
	if t.Rank() != 2 || a.Rank() != 2 || b.Rank() != 2 {
		panic(fmt.Sprintf("madd: expected 2D tensors, got %v += %v * %v", t, a, b))
	}
	if a.Device() != t.Device() || b.Device() != t.Device() {
		panic(fmt.Sprintf("madd: device mismatch: %v += %v * %v", t, a, b))
	}

	m, k := a.shape[0], a.shape[1]
	if transposeA {
		m, k = k, m
	}
	kb, n := b.shape[0], b.shape[1]
	if transposeB {
		kb, n = n, kb
	}
	if k != kb || t.shape[0] != m || t.shape[1] != n {
		panic(fmt.Sprintf("madd: incompatible shapes %v += op(%v) * op(%v) (transposeA=%v, transposeB=%v)",
			[]int(t.shape), []int(a.shape), []int(b.shape), transposeA, transposeB))
	}
	if m == 0 || n == 0 || k == 0 {
		return
	}

	tA, tB := blas.NoTrans, blas.NoTrans
	if transposeA {
		tA = blas.Trans
	}
	if transposeB {
		tB = blas.Trans
	}

	bm := blas32.General{Rows: b.shape[0], Cols: b.shape[1], Stride: b.shape[1], Data: b.Data()}
	ad, cd := a.Data(), t.Data()

	cfg := parallel.Current()
	cfg.MinChunkSize = max(1, minParallelFlops/(n*k))

	parallel.ForRange(m, func(start, end int) {
		var am blas32.General
		if transposeA {
			// a is stored [k, m]; rows start..end of op(a) are columns of a.
			am = blas32.General{Rows: k, Cols: end - start, Stride: m, Data: ad[start:]}
		} else {
			am = blas32.General{Rows: end - start, Cols: k, Stride: k, Data: ad[start*k:]}
		}
		cm := blas32.General{Rows: end - start, Cols: n, Stride: n, Data: cd[start*n:]}
		blas32.Gemm(tA, tB, 1, am, bm, 1, cm)
	}, cfg)
}

// Argmax returns the column index of the largest value in row i of a
// two-dimensional tensor. Ties resolve to the lowest index.
func (t *Tensor) Argmax(i int) int {
	if t.Rank() != 2 {
		panic(fmt.Sprintf("argmax: expected 2D tensor, got %v", t))
	}
	row := t.Row(i)
	best := 0
	for j, v := range row {
		if v > row[best] {
			best = j
		}
	}
	return best
}
