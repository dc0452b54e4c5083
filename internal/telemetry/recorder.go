package telemetry

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/edp1096/spicecore/pkg/analysis"
)

var ErrInvalidConfig = errors.New("invalid telemetry config")

type Config struct {
	Namespace string
	Subsystem string

	// Registry defaults to prometheus.DefaultRegisterer.
	Registry prometheus.Registerer

	IterationBuckets []float64
	DurationBuckets  []float64
}

func DefaultConfig() Config {
	return Config{
		Namespace:        "spice",
		Subsystem:        "solver",
		IterationBuckets: []float64{1, 2, 3, 5, 8, 13, 21, 34, 55, 100},
		DurationBuckets:  prometheus.ExponentialBuckets(0.0005, 4, 10),
	}
}

func (c Config) Validate() error {
	if c.Namespace == "" {
		return errors.Join(ErrInvalidConfig, errors.New("namespace is required"))
	}
	if c.Subsystem == "" {
		return errors.Join(ErrInvalidConfig, errors.New("subsystem is required"))
	}
	return nil
}

// Recorder exports solver statistics as Prometheus metrics. It implements
// analysis.Recorder and is safe to share between concurrent runs.
type Recorder struct {
	points     *prometheus.CounterVec
	iterations *prometheus.HistogramVec
	recoveries *prometheus.CounterVec
	rejections *prometheus.CounterVec
	runs       *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

var _ analysis.Recorder = (*Recorder)(nil)

func NewRecorder(cfg Config) (*Recorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	def := DefaultConfig()
	if cfg.IterationBuckets == nil {
		cfg.IterationBuckets = def.IterationBuckets
	}
	if cfg.DurationBuckets == nil {
		cfg.DurationBuckets = def.DurationBuckets
	}
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Recorder{
		points: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "points_total",
			Help:      "Accepted solution points",
		}, []string{"analysis"}),

		iterations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "newton_iterations",
			Help:      "Newton iterations per accepted point",
			Buckets:   cfg.IterationBuckets,
		}, []string{"analysis"}),

		recoveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "recoveries_total",
			Help:      "Convergence recovery strategies engaged",
		}, []string{"analysis", "strategy"}),

		rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "rejected_steps_total",
			Help:      "Rejected transient timesteps",
		}, []string{"analysis", "reason"}),

		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "runs_total",
			Help:      "Finished analyses by final state",
		}, []string{"analysis", "state"}),

		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "run_duration_seconds",
			Help:      "Wall time of one analysis",
			Buckets:   cfg.DurationBuckets,
		}, []string{"analysis"}),
	}, nil
}

func (r *Recorder) ObservePoint(name string, iterations int) {
	r.points.WithLabelValues(name).Inc()
	r.iterations.WithLabelValues(name).Observe(float64(iterations))
}

func (r *Recorder) RecoveryEngaged(name, strategy string) {
	r.recoveries.WithLabelValues(name, strategy).Inc()
}

func (r *Recorder) StepRejected(name, reason string) {
	r.rejections.WithLabelValues(name, reason).Inc()
}

func (r *Recorder) AnalysisFinished(name string, state analysis.State, elapsed time.Duration) {
	r.runs.WithLabelValues(name, state.String()).Inc()
	r.duration.WithLabelValues(name).Observe(elapsed.Seconds())
}
