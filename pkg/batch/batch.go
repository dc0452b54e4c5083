// Package batch runs many independent analyses concurrently. Every trial
// builds its own circuit, so no device state is shared between workers.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edp1096/spicecore/pkg/analysis"
	"github.com/edp1096/spicecore/pkg/circuit"
)

// BuildFunc creates the circuit of one trial. rng is private to the trial
// and seeded from the runner seed and the trial index.
type BuildFunc func(trial int, rng *rand.Rand) (*circuit.Circuit, error)

type Trial struct {
	Index   int
	Result  *analysis.Result
	Err     error
	Elapsed time.Duration
}

type Runner struct {
	Workers int // concurrency limit, 0 uses GOMAXPROCS
	Trials  int
	Seed    uint64
	Request analysis.Request
	Options analysis.Options
	Logger  *slog.Logger
}

// Run executes every trial and returns them in index order. A failing
// trial is recorded in its Trial.Err and does not stop the others.
// Cancelling ctx stops scheduling and returns ctx's error with the trials
// finished so far.
func (r *Runner) Run(ctx context.Context, build BuildFunc) ([]Trial, error) {
	if r.Trials < 1 {
		return nil, fmt.Errorf("%w: trials must be at least 1", analysis.ErrInvalidRequest)
	}
	if r.Request == nil {
		return nil, fmt.Errorf("%w: no analysis request", analysis.ErrInvalidRequest)
	}
	workers := r.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	log := r.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	trials := make([]Trial, r.Trials)
	for i := range trials {
		trials[i] = Trial{Index: i, Err: errNotRun}
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range r.Trials {
		if gCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			trials[i] = r.runTrial(gCtx, i, build, log)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return trials, fmt.Errorf("%w: %w", analysis.ErrCancelled, err)
	}
	return trials, nil
}

var errNotRun = errors.New("trial not run")

func (r *Runner) runTrial(ctx context.Context, i int, build BuildFunc, log *slog.Logger) Trial {
	start := time.Now()
	trial := Trial{Index: i}

	rng := rand.New(rand.NewPCG(r.Seed, uint64(i)))
	ckt, err := build(i, rng)
	if err != nil {
		trial.Err = fmt.Errorf("trial %d: build: %w", i, err)
		return trial
	}

	opts := r.Options
	if opts.Logger != nil {
		opts.Logger = opts.Logger.With("trial", i)
	}
	trial.Result, trial.Err = analysis.Run(ctx, ckt, r.Request, opts)
	trial.Elapsed = time.Since(start)

	if trial.Err != nil {
		log.Warn("trial failed", "trial", i, "error", trial.Err)
	} else {
		log.Debug("trial finished", "trial", i, "elapsed", trial.Elapsed)
	}
	return trial
}

// Failed counts trials that returned an error.
func Failed(trials []Trial) int {
	n := 0
	for _, t := range trials {
		if t.Err != nil {
			n++
		}
	}
	return n
}
