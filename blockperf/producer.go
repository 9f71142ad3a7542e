package blockperf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aclements/go-moremath/stats"
	"github.com/alitto/pond"

	"github.com/Octogonapus/BlockBenchmark/fio"
	systemmonitor "github.com/Octogonapus/BlockBenchmark/system_monitor"
)

var ErrSampleCount = errors.New("unexpected CPU sample count")

const (
	CPUUtilizationVMM        = "cpu_utilization_vmm"
	CPUUtilizationVMMSamples = "cpu_utilization_vmm_samples"
	CPUUtilizationVCPUsTotal = "cpu_utilization_vcpus_total"
	vmmThreadName            = "firecracker"
	vcpuThreadNameFormat     = "fc_vcpu %d"
	vcpuSamplesNameFormat    = "cpu_utilization_fc_vcpu_%d_samples"
)

// Sampler collects per-thread CPU utilization for ticks seconds after skipping omit seconds.
type Sampler interface {
	Sample(ctx context.Context, ticks int, omit int) (systemmonitor.ThreadSamples, error)
}

// Result is what one fio run produces.
type Result struct {
	CPUUtilizationVMM        float64
	CPUUtilizationVCPUsTotal float64

	// Samples holds the raw CPU series in debug mode, keyed by custom value name.
	Samples map[string][]float64

	// LogDir holds the iops and bw logs copied from the guest.
	LogDir string
}

type fioParams struct {
	env     *Environment
	cfg     *Config
	mode    fio.Mode
	bs      int
	sampler Sampler
}

func (p fioParams) numJobs() int {
	return p.cfg.LoadFactor * p.env.VCPUs
}

func (p fioParams) params() fio.Params {
	return fio.Params{
		Mode:      p.mode.Name,
		BlockSize: p.bs,
		Filename:  "/dev/" + p.cfg.Device,
		SizeMiB:   p.cfg.BlockDeviceSize,
		RampTime:  p.cfg.Omit,
		Runtime:   p.cfg.Time,
		NumJobs:   p.numJobs(),
	}
}

func (p fioParams) logDir() string {
	return filepath.Join(p.cfg.ResultsDir, p.env.EnvID(), p.params().LogPrefix())
}

// produce runs fio on the guest while sampling the CPU usage of the VMM threads on the host.
func produce(ctx context.Context, p fioParams) (any, error) {
	err := fio.DropCaches(ctx, p.env.Host)
	if err != nil {
		return nil, fmt.Errorf("host: %w", err)
	}
	err = fio.Prepare(ctx, p.env.Guest, p.cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("guest: %w", err)
	}

	pool := pond.New(2, 0, pond.MinWorkers(2))
	group, groupCtx := pool.GroupContext(ctx)

	var samples systemmonitor.ThreadSamples
	group.Submit(func() error {
		var err error
		samples, err = p.sampler.Sample(groupCtx, p.cfg.Time, p.cfg.Omit)
		return err
	})

	logDir := p.logDir()
	group.Submit(func() error {
		_, err := fio.Run(groupCtx, p.env.Guest, p.params().Command(), logDir)
		return err
	})

	err = group.Wait()
	// Wait returns as soon as one task fails; both must be done before logDir is touched.
	pool.StopAndWait()
	if err != nil {
		os.RemoveAll(logDir)
		return nil, err
	}

	res, err := summarizeCPU(samples, p.env.VCPUs, p.cfg.Time, p.cfg.Debug)
	if err != nil {
		os.RemoveAll(logDir)
		return nil, err
	}
	res.LogDir = logDir
	slog.Debug("fio run finished",
		slog.String("mode", p.mode.Name),
		slog.Int("bs", p.bs),
		slog.Float64(CPUUtilizationVMM, res.CPUUtilizationVMM),
		slog.Float64(CPUUtilizationVCPUsTotal, res.CPUUtilizationVCPUsTotal))
	return res, nil
}

// threadSeries returns the only series of the named thread, which must have exactly ticks samples.
func threadSeries(samples systemmonitor.ThreadSamples, name string, ticks int) ([]float64, error) {
	byTid, ok := samples[name]
	if !ok || len(byTid) != 1 {
		return nil, fmt.Errorf("%w: expected one %q thread, found %d", ErrSampleCount, name, len(byTid))
	}
	for _, series := range byTid {
		if len(series) != ticks {
			return nil, fmt.Errorf("%w: %q has %d samples, expected %d", ErrSampleCount, name, len(series), ticks)
		}
		return systemmonitor.Values(series), nil
	}
	return nil, nil
}

func summarizeCPU(samples systemmonitor.ThreadSamples, vcpus int, ticks int, debug bool) (*Result, error) {
	res := &Result{}
	if debug {
		res.Samples = map[string][]float64{}
	}

	vmm, err := threadSeries(samples, vmmThreadName, ticks)
	if err != nil {
		return nil, err
	}
	res.CPUUtilizationVMM = stats.Mean(vmm)
	if debug {
		res.Samples[CPUUtilizationVMMSamples] = vmm
	}

	for vcpu := 0; vcpu < vcpus; vcpu++ {
		data, err := threadSeries(samples, fmt.Sprintf(vcpuThreadNameFormat, vcpu), ticks)
		if err != nil {
			return nil, err
		}
		res.CPUUtilizationVCPUsTotal += stats.Mean(data)
		if debug {
			res.Samples[fmt.Sprintf(vcpuSamplesNameFormat, vcpu)] = data
		}
	}
	return res, nil
}
