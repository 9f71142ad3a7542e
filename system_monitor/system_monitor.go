package systemmonitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Octogonapus/BlockBenchmark/report"
	"github.com/Octogonapus/BlockBenchmark/target"
)

// ThreadSamples holds per-thread CPU utilization series, keyed by thread name then thread id.
type ThreadSamples map[string]map[int][]report.Measurement[float64]

// Values returns the utilization values of one series.
func Values(series []report.Measurement[float64]) []float64 {
	out := make([]float64, len(series))
	for i, m := range series {
		out[i] = m.Value
	}
	return out
}

const (
	defaultLoopTime   = 1 * time.Second
	defaultClockTicks = 100
)

var maxJitter = 1 * time.Second

// CPUSampler samples the CPU utilization of every thread of one process once per loop.
type CPUSampler struct {
	Target target.Target
	PID    int

	// LoopTime is the sampling period, one second by default.
	LoopTime time.Duration

	// ClockTicks is the kernel's USER_HZ, 100 by default.
	ClockTicks float64

	Logger *slog.Logger
}

func NewCPUSampler(t target.Target, pid int) *CPUSampler {
	return &CPUSampler{Target: t, PID: pid}
}

func (s *CPUSampler) loopTime() time.Duration {
	if s.LoopTime <= 0 {
		return defaultLoopTime
	}
	return s.LoopTime
}

func (s *CPUSampler) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *CPUSampler) snapshot(ctx context.Context) (map[int]threadCPUTime, time.Time, error) {
	cmd := fmt.Sprintf("cat /proc/%d/task/*/stat", s.PID)
	out, err := target.Run(ctx, s.Target, cmd)
	t := time.Now()
	if err != nil {
		return nil, t, fmt.Errorf("reading thread stats of pid %d failed: %w", s.PID, err)
	}
	threads, err := parseThreadStats(out)
	return threads, t, err
}

// Sample runs for omit+ticks loops. The first omit loops are discarded, so a thread alive for the
// whole run ends up with exactly ticks samples.
func (s *CPUSampler) Sample(ctx context.Context, ticks int, omit int) (ThreadSamples, error) {
	clk := s.ClockTicks
	if clk <= 0 {
		clk = defaultClockTicks
	}
	loopTime := s.loopTime()

	prev, prevTime, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	samples := ThreadSamples{}
	timer := time.NewTimer(loopTime)
	defer timer.Stop()

	for i := 1; i <= omit+ticks; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
		timer.Reset(loopTime)

		curr, currTime, err := s.snapshot(ctx)
		if err != nil {
			return nil, err
		}

		wall := currTime.Sub(prevTime)
		if jitter := wall - loopTime; jitter > maxJitter {
			s.logger().Warn("CPUSampler: jitter exceeded maximum",
				slog.Int64("jitterMs", jitter.Milliseconds()),
				slog.Int64("maxJitterMs", maxJitter.Milliseconds()))
		}

		if i > omit {
			for tid, c := range curr {
				p, ok := prev[tid]
				if !ok {
					continue
				}
				byTid, ok := samples[c.name]
				if !ok {
					byTid = map[int][]report.Measurement[float64]{}
					samples[c.name] = byTid
				}
				byTid[tid] = append(byTid[tid], report.Measurement[float64]{
					Time:  currTime.Unix(),
					Value: cpuPercent(p, c, clk, wall.Seconds()),
				})
			}
		}

		prev, prevTime = curr, currTime
	}

	s.logger().Debug("CPUSampler: stopped", slog.Int("pid", s.PID), slog.Int("threads", len(samples)))
	return samples, nil
}
