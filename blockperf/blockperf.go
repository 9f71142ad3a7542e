package blockperf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-version"

	"github.com/Octogonapus/BlockBenchmark/baseline"
	"github.com/Octogonapus/BlockBenchmark/exercise"
	"github.com/Octogonapus/BlockBenchmark/fio"
	"github.com/Octogonapus/BlockBenchmark/report"
	systemmonitor "github.com/Octogonapus/BlockBenchmark/system_monitor"
)

const TestID = "block_device_performance"

// FioID names one fio configuration, e.g. "randread-bs4096-2vcpu".
func FioID(mode string, bs int, vcpus int) string {
	return fmt.Sprintf("%s-bs%d-%dvcpu", mode, bs, vcpus)
}

// PipeCount is the number of pipes one exercise runs.
func (c *Config) PipeCount() int {
	return len(c.FioModes) * len(c.FioBlockSizes)
}

// NewBaselineProvider resolves the baselines of one fio configuration of env.
func NewBaselineProvider(doc baseline.Document, cfg *Config, env *Environment, fioID string) (baseline.Provider, error) {
	return baseline.NewResolver(doc, env.CPUModel, cfg.Baselines.KeyTemplate, map[string]string{
		"env":    env.EnvID(),
		"kernel": env.Kernel,
		"rootfs": env.Rootfs,
		"config": fioID,
	})
}

type Options struct {
	// Sampler defaults to sampling the VMM process on the host.
	Sampler  Sampler
	Logger   *slog.Logger
	PipeDone func(res *report.PipeResult)
}

// Run runs every fio mode and block size against env. Without a dumper, baseline regressions fail
// the run with exercise.ErrRegression; with one, the report is dumped and left for later analysis.
func Run(ctx context.Context, env *Environment, cfg *Config, doc baseline.Document, dumper report.Dumper, opts Options) (*report.ExerciseReport, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sampler := opts.Sampler
	if sampler == nil {
		cpu := systemmonitor.NewCPUSampler(env.Host, env.VMMPid)
		cpu.Logger = logger
		sampler = cpu
	}

	minVersion, err := version.NewVersion(cfg.MinFioVersion)
	if err != nil {
		return nil, fmt.Errorf("bad min_fio_version: %w", err)
	}
	fioVersion, err := fio.CheckVersion(ctx, env.Guest, minVersion)
	if err != nil {
		return nil, err
	}

	custom, err := env.Custom()
	if err != nil {
		return nil, err
	}

	core := exercise.NewCore(TestID,
		exercise.WithIterations(cfg.Iterations),
		exercise.WithCustom(custom),
		exercise.WithPipeTimeout(cfg.PipeTimeout),
		exercise.WithLogger(logger),
		exercise.WithPipeDoneHook(opts.PipeDone),
	)

	logger.Info("testing",
		slog.String("microvm", env.Microvm),
		slog.String("kernel", env.Kernel),
		slog.String("disk", env.Rootfs),
		slog.String("fio", fioVersion.String()))

	for _, mode := range cfg.FioModes {
		for _, bs := range cfg.FioBlockSizes {
			fioID := FioID(mode.Name, bs, env.VCPUs)
			provider, err := NewBaselineProvider(doc, cfg, env, fioID)
			if err != nil {
				return nil, err
			}

			pp := fioParams{env: env, cfg: cfg, mode: mode, bs: bs, sampler: sampler}
			prod := exercise.NewLambdaProducer(produce, pp)
			cons := exercise.NewLambdaConsumer(consume, consumeParams{
				numJobs: pp.numJobs(),
				mode:    mode,
				prefix:  pp.params().LogPrefix(),
				debug:   cfg.Debug,
			}, exercise.Metadata{
				Measurements: cfg.Measurements,
				Baselines:    provider,
			}, expectedMeasurements(mode)...)
			cons.Logger = logger

			err = core.AddPipe(prod, cons, env.EnvID()+"/"+fioID)
			if err != nil {
				return nil, err
			}
		}
	}

	logger.Debug("registered pipes", slog.Any("tags", core.Tags()))

	rep, err := core.RunExercise(ctx, dumper == nil)
	if err != nil && !errors.Is(err, exercise.ErrRegression) {
		return nil, err
	}

	if dumper != nil {
		dumpErr := dumper.Dump(ctx, rep)
		if dumpErr != nil {
			return rep, fmt.Errorf("dumping results failed: %w", dumpErr)
		}
	}
	return rep, err
}
