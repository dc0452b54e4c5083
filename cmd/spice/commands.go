package main

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/edp1096/spicecore/internal/config"
	"github.com/edp1096/spicecore/pkg/analysis"
	"github.com/edp1096/spicecore/pkg/batch"
	"github.com/edp1096/spicecore/pkg/netlist"
)

func joinPresets() string { return strings.Join(config.ListPresets(), ", ") }

// analysisCmd runs one kind of analysis. Extra arguments after the deck
// form the control card, otherwise the deck's own card is used.
func analysisCmd(o *cliOptions, kind netlist.AnalysisType, use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.open(cmd, args[0])
			if err != nil {
				return err
			}
			if len(args) > 1 {
				card := "." + kind.String() + " " + strings.Join(args[1:], " ")
				if err := s.data.AddControl(card); err != nil {
					return err
				}
			}

			req, err := pickRequest(s.data, kind)
			if err != nil {
				return err
			}
			if err := runOne(cmd, s, req); err != nil {
				return err
			}
			return s.finish(cmd.OutOrStdout())
		},
	}
}

// pickRequest uses the deck's card of the given kind. A later card of the
// same kind replaces an earlier one.
func pickRequest(data *netlist.NetlistData, kind netlist.AnalysisType) (analysis.Request, error) {
	if slices.Contains(data.Analyses, kind) {
		return data.Request(kind)
	}
	if kind == netlist.AnalysisOP {
		return analysis.OPRequest{}, nil
	}
	return nil, fmt.Errorf("deck has no .%s card and no parameters were given", kind)
}

func runCmd(o *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <deck>",
		Short: "run every analysis card of the deck in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.open(cmd, args[0])
			if err != nil {
				return err
			}
			reqs, err := s.data.Requests()
			if err != nil {
				return err
			}
			for _, req := range reqs {
				if err := runOne(cmd, s, req); err != nil {
					return err
				}
			}
			return s.finish(cmd.OutOrStdout())
		},
	}
}

func runOne(cmd *cobra.Command, s *session, req analysis.Request) error {
	ckt, err := netlist.BuildCircuit(s.data)
	if err != nil {
		return err
	}
	s.log.Info("analysis started", "analysis", req.Name(), "circuit", ckt.Name(), "unknowns", ckt.Size())

	res, runErr := analysis.Run(cmd.Context(), ckt, req, s.cfg.Solver)
	if res != nil && (runErr == nil || len(res.Points)+len(res.ACPoints) > 0) {
		if err := writeResult(cmd.OutOrStdout(), res, s.cfg.Output); err != nil {
			return err
		}
	}
	if runErr != nil {
		return fmt.Errorf("%s analysis: %w", req.Name(), runErr)
	}
	return nil
}

func mcCmd(o *cliOptions) *cobra.Command {
	var (
		trials    int
		workers   int
		seed      uint64
		tolerance float64
		at        float64
	)
	cmd := &cobra.Command{
		Use:   "mc <deck>",
		Short: "Monte Carlo over R, C and L tolerances",
		Long: "Runs the deck's first analysis once per trial with every R, C and L\n" +
			"value drawn uniformly within the tolerance. Trial 0 is nominal.\n" +
			"The selected signals are sampled at --at.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.open(cmd, args[0])
			if err != nil {
				return err
			}
			bc := s.cfg.Batch
			if cmd.Flags().Changed("trials") {
				bc.Trials = trials
			}
			if cmd.Flags().Changed("workers") {
				bc.Workers = workers
			}
			if cmd.Flags().Changed("seed") {
				bc.Seed = seed
			}
			if cmd.Flags().Changed("tolerance") {
				bc.Tolerance = tolerance
			}

			reqs, err := s.data.Requests()
			if err != nil {
				return err
			}
			if _, ok := reqs[0].(analysis.ACRequest); ok {
				return fmt.Errorf("mc samples real signals; use a .op, .dc or .tran card")
			}

			// per-point logging from every trial would drown the summary
			opts := s.cfg.Solver
			opts.Logger = nil
			runner := &batch.Runner{
				Workers: bc.Workers,
				Trials:  bc.Trials,
				Seed:    bc.Seed,
				Request: reqs[0],
				Options: opts,
				Logger:  s.log,
			}
			trialResults, runErr := runner.Run(cmd.Context(), batch.DeckBuilder(s.data, bc.Tolerance))

			signals := s.cfg.Output.Signals
			if len(signals) == 0 {
				for _, t := range trialResults {
					if t.Result != nil {
						signals = t.Result.Names()
						break
					}
				}
			}
			x := at
			if math.IsNaN(x) {
				x = math.Inf(1) // last point
			}
			var summaries []batch.Summary
			for _, sig := range signals {
				sum, err := batch.Summarize(trialResults, sig, x)
				if err != nil {
					return err
				}
				summaries = append(summaries, sum)
			}
			writeSummaries(cmd.OutOrStdout(), reqs[0].Name(), bc, summaries)

			if runErr != nil {
				return runErr
			}
			return s.finish(cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.IntVar(&trials, "trials", config.DefaultTrials, "number of trials")
	f.IntVar(&workers, "workers", config.DefaultWorkers, "concurrent trials")
	f.Uint64Var(&seed, "seed", 1, "random seed")
	f.Float64Var(&tolerance, "tolerance", config.DefaultTolerance, "relative tolerance of R, C and L")
	f.Float64Var(&at, "at", math.NaN(), "sweep value or time to sample (default: last point)")
	return cmd
}
