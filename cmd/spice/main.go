package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/edp1096/spicecore/internal/config"
	"github.com/edp1096/spicecore/internal/telemetry"
	"github.com/edp1096/spicecore/pkg/netlist"
)

// cliOptions holds the persistent flags shared by every command.
type cliOptions struct {
	configFile string
	preset     string
	logLevel   string
	plot       bool
	svg        string
	signals    []string
	metrics    bool
	verbose    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	o := &cliOptions{}
	rootCmd := &cobra.Command{
		Use:          "spice",
		Short:        "SPICE circuit simulator",
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&o.configFile, "config", "", "config file path (yaml)")
	pf.StringVar(&o.preset, "preset", "", "solver preset ("+joinPresets()+")")
	pf.StringVar(&o.logLevel, "log-level", "", "debug, info, warn or error")
	pf.BoolVar(&o.plot, "plot", false, "draw an ascii plot of the selected signals")
	pf.StringVar(&o.svg, "svg", "", "write a plot of the selected signals to this svg file")
	pf.StringSliceVarP(&o.signals, "signal", "s", nil, "signals to print and plot, e.g. V(out),I(V1)")
	pf.BoolVar(&o.metrics, "metrics", false, "print solver metrics after the run")
	pf.BoolVarP(&o.verbose, "verbose", "v", false, "print the parsed circuit before running")

	rootCmd.AddCommand(
		analysisCmd(o, netlist.AnalysisOP, "op <deck>", "DC operating point"),
		analysisCmd(o, netlist.AnalysisDC, "dc <deck> [source start stop step]", "DC sweep of one source"),
		analysisCmd(o, netlist.AnalysisAC, "ac <deck> [dec|oct|lin points fstart fstop]", "small-signal AC sweep"),
		analysisCmd(o, netlist.AnalysisTRAN, "tran <deck> [tstep tstop [tstart [tmax]] [uic]]", "transient analysis"),
		runCmd(o),
		mcCmd(o),
	)
	return rootCmd
}

// session is everything a command needs after flags and files are read.
type session struct {
	cfg      *config.Config
	data     *netlist.NetlistData
	log      *slog.Logger
	registry *prometheus.Registry
}

func (o *cliOptions) open(cmd *cobra.Command, deckPath string) (*session, error) {
	cfg := config.DefaultConfig()
	if o.configFile != "" {
		var err error
		if cfg, err = config.Load(o.configFile); err != nil {
			return nil, err
		}
	}
	if o.preset != "" {
		apply, ok := config.Presets[o.preset]
		if !ok {
			return nil, fmt.Errorf("unknown preset %q", o.preset)
		}
		apply(&cfg.Solver)
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.plot {
		cfg.Output.Plot = true
	}
	if o.svg != "" {
		cfg.Output.SVG = o.svg
	}
	if len(o.signals) > 0 {
		cfg.Output.Signals = o.signals
	}
	if o.metrics {
		cfg.Metrics.Dump = true
	}

	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	data, err := readDeck(deckPath)
	if err != nil {
		return nil, err
	}
	for _, name := range data.ApplyOptions(&cfg.Solver) {
		log.Warn("ignoring unknown option", "option", name)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &session{cfg: cfg, data: data, log: log}
	cfg.Solver.Logger = log
	if cfg.Metrics.Dump {
		s.registry = prometheus.NewRegistry()
		tc := telemetry.DefaultConfig()
		tc.Registry = s.registry
		rec, err := telemetry.NewRecorder(tc)
		if err != nil {
			return nil, err
		}
		cfg.Solver.Recorder = rec
	}
	if o.verbose {
		printDeck(cmd.OutOrStdout(), data)
	}
	return s, nil
}

func readDeck(path string) (*netlist.NetlistData, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	data, err := netlist.ParseReader(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return data, nil
}

// finish prints metrics when requested.
func (s *session) finish(w io.Writer) error {
	if s.registry == nil {
		return nil
	}
	return printMetrics(w, s.registry)
}
