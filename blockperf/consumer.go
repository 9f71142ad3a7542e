package blockperf

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/Octogonapus/BlockBenchmark/aggregator"
	"github.com/Octogonapus/BlockBenchmark/exercise"
	"github.com/Octogonapus/BlockBenchmark/fio"
)

var logMeasurements = []string{"iops", "bw"}

type consumeParams struct {
	numJobs int
	mode    fio.Mode
	prefix  string
	debug   bool
}

// expectedMeasurements are the ids a run of mode must produce.
func expectedMeasurements(mode fio.Mode) []string {
	ids := []string{CPUUtilizationVMM, CPUUtilizationVCPUsTotal}
	for _, ms := range logMeasurements {
		for _, d := range mode.Directions {
			ids = append(ids, aggregator.NewMeasurementID(ms, d.String()).String())
		}
	}
	return ids
}

// consume records the CPU utilization and the aligned fio logs of one run. The log directory is
// removed whatever happens.
func consume(_ context.Context, s exercise.Sink, raw any, p consumeParams) error {
	res, ok := raw.(*Result)
	if !ok {
		return fmt.Errorf("unexpected producer output %T", raw)
	}
	defer os.RemoveAll(res.LogDir)

	s.ConsumeStat("value", CPUUtilizationVMM, res.CPUUtilizationVMM)
	s.ConsumeStat("value", CPUUtilizationVCPUsTotal, res.CPUUtilizationVCPUsTotal)
	for name, samples := range res.Samples {
		s.ConsumeCustom(name, samples)
	}

	for _, ms := range logMeasurements {
		al := aggregator.NewAligner(p.numJobs)
		err := fio.ReadLogs(res.LogDir, p.prefix, ms, p.mode, p.numJobs, al)
		if err != nil {
			return err
		}

		series, discarded := al.Aligned()
		for _, id := range al.IDs() {
			if n := len(discarded[id]); n > 0 {
				slog.Debug("discarded samples not reported by every job",
					slog.String("measurement", id),
					slog.Int("count", n),
					slog.Int("jobs", p.numJobs))
			}
			for _, v := range series[id] {
				s.ConsumeData(id, v)
			}
			if p.debug {
				s.ConsumeCustom(id, series[id])
			}
		}
	}
	return nil
}
