package matrix

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// V1 10V at node 1, R1 1k from 1 to 2, R2 2k from 2 to ground.
func stampDivider(m *CircuitMatrix) {
	m.StampVoltageSource(1, 0, 3, 10)
	m.StampConductance(1, 2, 1.0/1000)
	m.StampConductance(2, 0, 1.0/2000)
}

func TestDividerSolve(t *testing.T) {
	m := NewMatrix(3, 2, false)
	stampDivider(m)
	require.NoError(t, m.Solve())

	x := m.Solution()
	assert.Len(t, x, 4)
	assert.Equal(t, 0.0, x[0])
	assert.InDelta(t, 10.0, x[1], 1e-12)
	assert.InDelta(t, 20.0/3.0, x[2], 1e-12)
	// source current flows from the + node through the source
	assert.InDelta(t, -10.0/3000, x[3], 1e-15)
}

func TestGroundStampsAreSkipped(t *testing.T) {
	m := NewMatrix(1, 1, false)
	m.StampConductance(0, 0, 1)
	m.StampCurrentSource(0, 0, 1)
	assert.Empty(t, m.Entries())
	assert.Equal(t, 0.0, m.RHS()[1])

	m.StampConductance(1, 0, 2)
	require.Len(t, m.Entries(), 1)
	assert.Equal(t, Entry{Row: 1, Col: 1, Re: 2}, m.Entries()[0])
}

func TestCurrentSourceDirection(t *testing.T) {
	// 1mA pushed from ground into node 1, 1k to ground.
	m := NewMatrix(1, 1, false)
	m.StampCurrentSource(0, 1, 1e-3)
	m.StampConductance(1, 0, 1e-3)
	require.NoError(t, m.Solve())
	assert.InDelta(t, 1.0, m.Solution()[1], 1e-12)
}

func TestClearKeepsDimension(t *testing.T) {
	m := NewMatrix(3, 2, false)
	stampDivider(m)
	m.Clear()
	assert.Empty(t, m.Entries())
	assert.Len(t, m.RHS(), 4)
	for _, v := range m.RHS() {
		assert.Zero(t, v)
	}
}

func TestVoltageSourceLoopIsSingular(t *testing.T) {
	m := NewMatrix(3, 1, false)
	m.StampVoltageSource(1, 0, 2, 5)
	m.StampVoltageSource(1, 0, 3, 3)
	m.LoadGmin(1e-12)
	err := m.Solve()
	assert.ErrorIs(t, err, ErrSingularMatrix)
}

func TestFloatingNodeWithoutGminIsSingular(t *testing.T) {
	m := NewMatrix(2, 2, false)
	m.StampConductance(1, 0, 1e-3)
	m.StampCurrentSource(0, 1, 1e-3)
	err := m.Solve()
	assert.ErrorIs(t, err, ErrSingularMatrix)

	m.Clear()
	m.StampConductance(1, 0, 1e-3)
	m.StampCurrentSource(0, 1, 1e-3)
	m.LoadGmin(1e-12)
	require.NoError(t, m.Solve())
	assert.InDelta(t, 1.0, m.Solution()[1], 1e-6)
	assert.InDelta(t, 0.0, m.Solution()[2], 1e-12)
}

func TestConvergedAndLargestChange(t *testing.T) {
	m := NewMatrix(2, 1, false)
	m.SetSolution([]float64{0, 1.0, 1e-3})

	m.StampConductance(1, 0, 1)
	m.StampCurrentSource(0, 1, 1.0+1e-7)
	m.AddElement(2, 2, 1)
	m.AddRHS(2, 1e-3)
	require.NoError(t, m.Solve())
	assert.True(t, m.Converged(1e-3, 1e-6, 1e-12))

	m.Clear()
	m.StampConductance(1, 0, 1)
	m.StampCurrentSource(0, 1, 2.0)
	m.AddElement(2, 2, 1)
	m.AddRHS(2, 1e-3)
	require.NoError(t, m.Solve())
	assert.False(t, m.Converged(1e-3, 1e-6, 1e-12))

	idx, delta := m.LargestChange(1e-3, 1e-6, 1e-12)
	assert.Equal(t, 1, idx)
	assert.InDelta(t, 1.0, delta, 1e-6)
}

func TestComplexSolveRC(t *testing.T) {
	// 1V AC source, R 1k, C 1uF to ground, evaluated at the corner frequency.
	r, c := 1e3, 1e-6
	f := 1 / (2 * math.Pi * r * c)
	omega := 2 * math.Pi * f

	m := NewMatrix(3, 2, true)
	m.StampVoltageSource(1, 0, 3, 0)
	m.AddComplexRHS(3, 1, 0)
	m.StampAdmittance(1, 2, 1/r, 0)
	m.StampAdmittance(2, 0, 0, omega*c)
	require.NoError(t, m.Solve())

	out := m.ComplexSolution()[2]
	assert.InDelta(t, 1/math.Sqrt2, cmplx.Abs(out), 1e-12)
	assert.InDelta(t, -45.0, cmplx.Phase(out)*180/math.Pi, 1e-9)
}

func TestTransconductanceStamp(t *testing.T) {
	// VCCS gm=2mS driven by 1V at node 1 into 1k load at node 2.
	m := NewMatrix(3, 2, false)
	m.StampVoltageSource(1, 0, 3, 1)
	m.StampTransconductance(2, 0, 1, 0, 2e-3)
	m.StampConductance(2, 0, 1e-3)
	require.NoError(t, m.Solve())
	assert.InDelta(t, -2.0, m.Solution()[2], 1e-12)
}

// ladder builds an n-section R ladder driven by a 1V source.
func ladder(n int, isComplex bool) *CircuitMatrix {
	m := NewMatrix(n+1, n, isComplex)
	m.StampVoltageSource(1, 0, n+1, 1)
	if isComplex {
		m.AddComplexRHS(n+1, 0, 1)
	}
	for i := 1; i < n; i++ {
		m.StampConductance(i, i+1, 1e-3)
		m.StampConductance(i+1, 0, 1e-4)
	}
	m.LoadGmin(1e-12)
	return m
}

func TestSparsePathMatchesDense(t *testing.T) {
	for _, isComplex := range []bool{false, true} {
		dense := ladder(40, isComplex)
		dense.SetSolver(DenseSolver{})
		require.NoError(t, dense.Solve())

		auto := ladder(40, isComplex)
		auto.SetSolver(NewAutoSolver(0))
		require.NoError(t, auto.Solve())

		want, got := dense.ComplexSolution(), auto.ComplexSolution()
		require.Len(t, got, len(want))
		for i := range want {
			assert.InDelta(t, real(want[i]), real(got[i]), 1e-9, "unknown %d", i)
			assert.InDelta(t, imag(want[i]), imag(got[i]), 1e-9, "unknown %d", i)
		}
	}
}

func TestStringListsEquations(t *testing.T) {
	m := NewMatrix(3, 2, false)
	stampDivider(m)
	s := m.String()
	assert.Contains(t, s, "Circuit equations (3x3)")
	assert.Contains(t, s, "eq 3: +1*x1 = 10")
}
