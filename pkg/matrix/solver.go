package matrix

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/edp1096/sparse"
	"gonum.org/v1/gonum/mat"
)

const (
	DefaultDenseThreshold = 16

	// relative residual accepted from the sparse path before the dense
	// path is consulted
	residualTolerance = 1e-9
)

// Solver factorizes and solves an assembled system. Vectors are 1-based
// with length size+1; index 0 is ignored.
type Solver interface {
	Solve(size int, entries []Entry, rhs []float64) ([]float64, error)
	SolveComplex(size int, entries []Entry, rhs, rhsImag []float64) ([]float64, []float64, error)
}

// AutoSolver uses dense LU for small systems and sparse LU otherwise.
// A sparse result that fails the residual check, or a sparse factorization
// error, is retried on the dense path, which has the final word on
// singularity.
type AutoSolver struct {
	DenseThreshold int
	Sparse         SparseSolver
	Dense          DenseSolver
}

func NewAutoSolver(denseThreshold int) *AutoSolver {
	return &AutoSolver{DenseThreshold: denseThreshold}
}

func (s *AutoSolver) Solve(size int, entries []Entry, rhs []float64) ([]float64, error) {
	if size <= s.DenseThreshold {
		return s.Dense.Solve(size, entries, rhs)
	}
	x, err := s.Sparse.Solve(size, entries, rhs)
	if err == nil && residualOK(size, entries, rhs, nil, x, nil) {
		return x, nil
	}
	return s.Dense.Solve(size, entries, rhs)
}

func (s *AutoSolver) SolveComplex(size int, entries []Entry, rhs, rhsImag []float64) ([]float64, []float64, error) {
	if size <= s.DenseThreshold {
		return s.Dense.SolveComplex(size, entries, rhs, rhsImag)
	}
	re, im, err := s.Sparse.SolveComplex(size, entries, rhs, rhsImag)
	if err == nil && residualOK(size, entries, rhs, rhsImag, re, im) {
		return re, im, nil
	}
	return s.Dense.SolveComplex(size, entries, rhs, rhsImag)
}

// residualOK checks |b - A x| against the magnitude of the terms.
func residualOK(size int, entries []Entry, rhs, rhsImag, x, xImag []float64) bool {
	r := make([]complex128, size+1)
	scale := make([]float64, size+1)
	at := func(v []float64, i int) float64 {
		if v == nil {
			return 0
		}
		return v[i]
	}
	for i := 1; i <= size; i++ {
		b := complex(rhs[i], at(rhsImag, i))
		r[i] = b
		scale[i] = math.Abs(real(b)) + math.Abs(imag(b))
	}
	for _, e := range entries {
		a := complex(e.Re, e.Im)
		if xImag == nil {
			a = complex(e.Re, 0)
		}
		term := a * complex(x[e.Col], at(xImag, e.Col))
		r[e.Row] -= term
		scale[e.Row] += math.Abs(real(term)) + math.Abs(imag(term))
	}
	for i := 1; i <= size; i++ {
		res := math.Abs(real(r[i])) + math.Abs(imag(r[i]))
		if math.IsNaN(res) || res > residualTolerance*scale[i]+1e-300 {
			return false
		}
	}
	return true
}

// SparseSolver builds a fresh sparse matrix per solve and lets Factor
// choose the pivot order.
type SparseSolver struct{}

func sparseConfig(isComplex bool) *sparse.Configuration {
	return &sparse.Configuration{
		Real:                    true,
		Complex:                 isComplex,
		SeparatedComplexVectors: true,
		Expandable:              true,
		Translate:               false,
		ModifiedNodal:           true,
		TiesMultiplier:          5,
		PrinterWidth:            140,
		Annotate:                0,
	}
}

func (SparseSolver) Solve(size int, entries []Entry, rhs []float64) ([]float64, error) {
	m, err := sparse.Create(int64(size), sparseConfig(false))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFactorization, err)
	}
	defer m.Destroy()

	for i := 1; i <= size; i++ {
		m.GetElement(int64(i), int64(i))
	}
	for _, e := range entries {
		m.GetElement(int64(e.Row), int64(e.Col)).Real += e.Re
	}

	if err := m.Factor(); err != nil {
		return nil, classifySparseError(err)
	}
	b := make([]float64, size+1)
	copy(b, rhs)
	x, err := m.Solve(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFactorization, err)
	}
	return x, nil
}

func (SparseSolver) SolveComplex(size int, entries []Entry, rhs, rhsImag []float64) ([]float64, []float64, error) {
	m, err := sparse.Create(int64(size), sparseConfig(true))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrFactorization, err)
	}
	defer m.Destroy()

	for i := 1; i <= size; i++ {
		m.GetElement(int64(i), int64(i))
	}
	for _, e := range entries {
		el := m.GetElement(int64(e.Row), int64(e.Col))
		el.Real += e.Re
		el.Imag += e.Im
	}

	if err := m.Factor(); err != nil {
		return nil, nil, classifySparseError(err)
	}
	b := make([]float64, size+1)
	bi := make([]float64, size+1)
	copy(b, rhs)
	copy(bi, rhsImag)
	re, im, err := m.SolveComplex(b, bi)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrFactorization, err)
	}
	return re, im, nil
}

func classifySparseError(err error) error {
	if strings.Contains(err.Error(), "singular") {
		return fmt.Errorf("%w: %v", ErrSingularMatrix, err)
	}
	return fmt.Errorf("%w: %v", ErrFactorization, err)
}

// DenseSolver uses gonum LU with partial pivoting. Complex systems are
// solved as the real block system [[G, -B], [B, G]].
type DenseSolver struct{}

func (DenseSolver) Solve(size int, entries []Entry, rhs []float64) ([]float64, error) {
	a := mat.NewDense(size, size, nil)
	for _, e := range entries {
		a.Set(e.Row-1, e.Col-1, a.At(e.Row-1, e.Col-1)+e.Re)
	}
	b := mat.NewVecDense(size, nil)
	for i := 1; i <= size; i++ {
		b.SetVec(i-1, rhs[i])
	}

	x, err := luSolve(a, b)
	if err != nil {
		return nil, err
	}

	out := make([]float64, size+1)
	for i := 1; i <= size; i++ {
		out[i] = x.AtVec(i - 1)
	}
	return out, nil
}

func (DenseSolver) SolveComplex(size int, entries []Entry, rhs, rhsImag []float64) ([]float64, []float64, error) {
	n := 2 * size
	a := mat.NewDense(n, n, nil)
	add := func(i, j int, v float64) {
		if v != 0 {
			a.Set(i, j, a.At(i, j)+v)
		}
	}
	for _, e := range entries {
		r, c := e.Row-1, e.Col-1
		add(r, c, e.Re)
		add(r, c+size, -e.Im)
		add(r+size, c, e.Im)
		add(r+size, c+size, e.Re)
	}
	b := mat.NewVecDense(n, nil)
	for i := 1; i <= size; i++ {
		b.SetVec(i-1, rhs[i])
		b.SetVec(i-1+size, rhsImag[i])
	}

	x, err := luSolve(a, b)
	if err != nil {
		return nil, nil, err
	}

	re := make([]float64, size+1)
	im := make([]float64, size+1)
	for i := 1; i <= size; i++ {
		re[i] = x.AtVec(i - 1)
		im[i] = x.AtVec(i - 1 + size)
	}
	return re, im, nil
}

func luSolve(a *mat.Dense, b *mat.VecDense) (*mat.VecDense, error) {
	var lu mat.LU
	lu.Factorize(a)
	if logDet, _ := lu.LogDet(); math.IsInf(logDet, -1) || math.IsNaN(logDet) {
		return nil, fmt.Errorf("%w: zero pivot in LU", ErrSingularMatrix)
	}

	var x mat.VecDense
	if err := lu.SolveVecTo(&x, false, b); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, fmt.Errorf("%w: %v", ErrFactorization, err)
		}
		// ill-conditioned but usable unless the residual says otherwise
		if math.IsInf(float64(cond), 1) || x.Len() != b.Len() || !denseResidualOK(a, &x, b) {
			return nil, fmt.Errorf("%w: condition number %g", ErrSingularMatrix, float64(cond))
		}
	}
	return &x, nil
}

func denseResidualOK(a *mat.Dense, x, b *mat.VecDense) bool {
	n, _ := a.Dims()
	for i := 0; i < n; i++ {
		r := b.AtVec(i)
		scale := math.Abs(r)
		for j := 0; j < n; j++ {
			t := a.At(i, j) * x.AtVec(j)
			r -= t
			scale += math.Abs(t)
		}
		if math.IsNaN(r) || math.Abs(r) > residualTolerance*scale+1e-300 {
			return false
		}
	}
	return true
}
