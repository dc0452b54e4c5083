package matrix

import "errors"

var (
	// ErrSingularMatrix reports a structurally or numerically singular
	// system: a floating node, a loop of ideal voltage sources or inductors,
	// a cut set of current sources.
	ErrSingularMatrix = errors.New("singular matrix")

	// ErrFactorization reports numerical breakdown during LU or solve.
	ErrFactorization = errors.New("matrix factorization failed")
)
