package matrix

import (
	"fmt"
	"math"
	"math/cmplx"
	"strings"
)

// Entry is one coordinate triple of the assembled system.
// Duplicate (Row, Col) pairs are summed by the solver.
type Entry struct {
	Row, Col int
	Re, Im   float64
}

// CircuitMatrix is the MNA system: n node rows followed by branch rows.
type CircuitMatrix struct {
	Size     int
	NumNodes int

	entries      []Entry
	rhs          []float64 // 1-based indexing
	rhsImag      []float64
	solution     []float64
	solutionImag []float64
	prevSolution []float64
	isComplex    bool
	solver       Solver
}

var _ DeviceMatrix = (*CircuitMatrix)(nil)

func NewMatrix(size, numNodes int, isComplex bool) *CircuitMatrix {
	return &CircuitMatrix{
		Size:         size,
		NumNodes:     numNodes,
		entries:      make([]Entry, 0, 4*size+4),
		rhs:          make([]float64, size+1),
		rhsImag:      make([]float64, size+1),
		solution:     make([]float64, size+1),
		solutionImag: make([]float64, size+1),
		prevSolution: make([]float64, size+1),
		isComplex:    isComplex,
		solver:       NewAutoSolver(DefaultDenseThreshold),
	}
}

// SetSolver replaces the linear solver, e.g. to force the sparse path.
func (m *CircuitMatrix) SetSolver(s Solver) {
	if s != nil {
		m.solver = s
	}
}

func (m *CircuitMatrix) IsComplex() bool { return m.isComplex }

func (m *CircuitMatrix) inRange(i int) bool { return i > 0 && i <= m.Size }

func (m *CircuitMatrix) AddElement(i, j int, value float64) {
	if !m.inRange(i) || !m.inRange(j) || value == 0 {
		return
	}
	m.entries = append(m.entries, Entry{Row: i, Col: j, Re: value})
}

func (m *CircuitMatrix) AddComplexElement(i, j int, real, imag float64) {
	if !m.inRange(i) || !m.inRange(j) || (real == 0 && imag == 0) {
		return
	}
	m.entries = append(m.entries, Entry{Row: i, Col: j, Re: real, Im: imag})
}

func (m *CircuitMatrix) AddRHS(i int, value float64) {
	if !m.inRange(i) {
		return
	}
	m.rhs[i] += value
}

func (m *CircuitMatrix) AddComplexRHS(i int, real, imag float64) {
	if !m.inRange(i) {
		return
	}
	m.rhs[i] += real
	m.rhsImag[i] += imag
}

func (m *CircuitMatrix) StampConductance(n1, n2 int, g float64) {
	m.StampAdmittance(n1, n2, g, 0)
}

func (m *CircuitMatrix) StampAdmittance(n1, n2 int, g, b float64) {
	m.AddComplexElement(n1, n1, g, b)
	m.AddComplexElement(n2, n2, g, b)
	m.AddComplexElement(n1, n2, -g, -b)
	m.AddComplexElement(n2, n1, -g, -b)
}

// StampCurrentSource stamps a current i flowing from n1 through the
// element into n2.
func (m *CircuitMatrix) StampCurrentSource(n1, n2 int, i float64) {
	m.AddRHS(n1, -i)
	m.AddRHS(n2, i)
}

func (m *CircuitMatrix) StampComplexCurrentSource(n1, n2 int, re, im float64) {
	m.AddComplexRHS(n1, -re, -im)
	m.AddComplexRHS(n2, re, im)
}

// StampVoltageSource couples branch to nPos/nNeg so that
// v(nPos) - v(nNeg) = v. The branch unknown is the current flowing
// from nPos through the source to nNeg.
func (m *CircuitMatrix) StampVoltageSource(nPos, nNeg, branch int, v float64) {
	m.AddElement(nPos, branch, 1)
	m.AddElement(nNeg, branch, -1)
	m.AddElement(branch, nPos, 1)
	m.AddElement(branch, nNeg, -1)
	m.AddRHS(branch, v)
}

// StampTransconductance stamps a current gm*(v(ctlP)-v(ctlN)) flowing
// from outP through the element to outN.
func (m *CircuitMatrix) StampTransconductance(outP, outN, ctlP, ctlN int, gm float64) {
	m.AddElement(outP, ctlP, gm)
	m.AddElement(outP, ctlN, -gm)
	m.AddElement(outN, ctlP, -gm)
	m.AddElement(outN, ctlN, gm)
}

// LoadGmin adds gmin from every node to ground. Branch rows are untouched.
func (m *CircuitMatrix) LoadGmin(gmin float64) {
	if gmin <= 0 {
		return
	}
	for i := 1; i <= m.NumNodes; i++ {
		m.AddElement(i, i, gmin)
	}
}

// Clear drops all stamps and zeroes the RHS. Dimension is preserved.
func (m *CircuitMatrix) Clear() {
	m.entries = m.entries[:0]
	for i := range m.rhs {
		m.rhs[i] = 0
		m.rhsImag[i] = 0
	}
}

// SetSolution seeds the current iterate, e.g. with a warm-start guess.
func (m *CircuitMatrix) SetSolution(x []float64) {
	for i := range m.solution {
		m.solution[i] = 0
	}
	copy(m.solution, x)
	m.solution[0] = 0
	copy(m.prevSolution, m.solution)
}

func (m *CircuitMatrix) Solve() error {
	if m.Size == 0 {
		return nil
	}
	if m.isComplex {
		re, im, err := m.solver.SolveComplex(m.Size, m.entries, m.rhs, m.rhsImag)
		if err != nil {
			return err
		}
		if err := checkFinite(re); err != nil {
			return err
		}
		if err := checkFinite(im); err != nil {
			return err
		}
		copy(m.solution, re)
		copy(m.solutionImag, im)
		m.solution[0], m.solutionImag[0] = 0, 0
		return nil
	}

	x, err := m.solver.Solve(m.Size, m.entries, m.rhs)
	if err != nil {
		return err
	}
	if err := checkFinite(x); err != nil {
		return err
	}
	copy(m.prevSolution, m.solution)
	copy(m.solution, x)
	m.solution[0] = 0
	return nil
}

func checkFinite(x []float64) error {
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite solution at unknown %d", ErrFactorization, i)
		}
	}
	return nil
}

// Solution returns the current iterate, 1-based with x[0] = 0 (ground).
func (m *CircuitMatrix) Solution() []float64 { return m.solution }

func (m *CircuitMatrix) PreviousSolution() []float64 { return m.prevSolution }

func (m *CircuitMatrix) ComplexSolution() []complex128 {
	out := make([]complex128, m.Size+1)
	for i := 1; i <= m.Size; i++ {
		out[i] = complex(m.solution[i], m.solutionImag[i])
	}
	return out
}

// Converged compares the current solution with the previous iterate.
// Node rows use vntol, branch rows abstol.
func (m *CircuitMatrix) Converged(reltol, vntol, abstol float64) bool {
	for i := 1; i <= m.Size; i++ {
		if m.changeRatio(i, reltol, vntol, abstol) > 1 {
			return false
		}
	}
	return true
}

func (m *CircuitMatrix) changeRatio(i int, reltol, vntol, abstol float64) float64 {
	x, xp := m.solution[i], m.prevSolution[i]
	tol := reltol * math.Max(math.Abs(x), math.Abs(xp))
	if i <= m.NumNodes {
		tol += vntol
	} else {
		tol += abstol
	}
	if tol <= 0 {
		tol = math.SmallestNonzeroFloat64
	}
	return math.Abs(x-xp) / tol
}

// LargestChange returns the unknown that is furthest from convergence and
// its absolute change between the last two iterates.
func (m *CircuitMatrix) LargestChange(reltol, vntol, abstol float64) (int, float64) {
	worst, worstRatio := 0, -1.0
	for i := 1; i <= m.Size; i++ {
		if r := m.changeRatio(i, reltol, vntol, abstol); r > worstRatio {
			worst, worstRatio = i, r
		}
	}
	if worst == 0 {
		return 0, 0
	}
	return worst, math.Abs(m.solution[worst] - m.prevSolution[worst])
}

func (m *CircuitMatrix) Entries() []Entry { return m.entries }

func (m *CircuitMatrix) RHS() []float64 { return m.rhs }

// String renders the assembled equations row by row.
func (m *CircuitMatrix) String() string {
	dense := make([][]complex128, m.Size+1)
	for i := range dense {
		dense[i] = make([]complex128, m.Size+1)
	}
	for _, e := range m.entries {
		dense[e.Row][e.Col] += complex(e.Re, e.Im)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Circuit equations (%dx%d), nodes 1..%d then branches:\n", m.Size, m.Size, m.NumNodes)
	for i := 1; i <= m.Size; i++ {
		fmt.Fprintf(&sb, "  eq %d:", i)
		for j := 1; j <= m.Size; j++ {
			v := dense[i][j]
			if v == 0 {
				continue
			}
			if imag(v) == 0 {
				fmt.Fprintf(&sb, " %+g*x%d", real(v), j)
			} else {
				fmt.Fprintf(&sb, " (%g%+gj)*x%d", real(v), imag(v), j)
			}
		}
		rhs := complex(m.rhs[i], m.rhsImag[i])
		if m.isComplex && cmplx.Abs(rhs) != 0 {
			fmt.Fprintf(&sb, " = %g%+gj\n", real(rhs), imag(rhs))
		} else {
			fmt.Fprintf(&sb, " = %g\n", m.rhs[i])
		}
	}
	return sb.String()
}
