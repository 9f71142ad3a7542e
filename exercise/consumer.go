package exercise

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Octogonapus/BlockBenchmark/aggregator"
	"github.com/Octogonapus/BlockBenchmark/baseline"
	"github.com/Octogonapus/BlockBenchmark/report"
	"github.com/Octogonapus/BlockBenchmark/util"
)

// Sink is what consumer functions write into: samples, finished statistics and free-form
// values that are reported next to the statistics.
type Sink interface {
	aggregator.Sink
	ConsumeCustom(name string, value any)
}

// Consumer turns produced data into statistics and baseline checks.
type Consumer interface {
	// Ingest routes the output of one producer run. It is called once per iteration.
	Ingest(ctx context.Context, iteration int, raw any) error

	// Process finalizes everything ingested so far. The consumer is reset afterwards.
	Process() (*report.PipeResult, error)
}

// Metadata describes how measurements are reduced and where their baselines come from.
type Metadata struct {
	Measurements map[string]aggregator.MeasurementDef
	Baselines    baseline.Provider // nil means no baselines at all
}

type sink struct {
	*aggregator.Aggregator
	custom map[string]any
}

func (s *sink) ConsumeCustom(name string, value any) {
	s.custom[name] = value
}

// LambdaConsumer is a consumer made of a function and the parameters it is always called with.
type LambdaConsumer[P any] struct {
	Func     func(ctx context.Context, s Sink, raw any, params P) error
	Params   P
	Metadata Metadata

	// Expected lists measurements that are reported as no_data if the function never feeds them.
	Expected []string

	Logger *slog.Logger

	sink *sink
}

func NewLambdaConsumer[P any](fn func(ctx context.Context, s Sink, raw any, params P) error, params P, md Metadata, expected ...string) *LambdaConsumer[P] {
	return &LambdaConsumer[P]{Func: fn, Params: params, Metadata: md, Expected: expected}
}

func (c *LambdaConsumer[P]) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func (c *LambdaConsumer[P]) Ingest(ctx context.Context, _ int, raw any) error {
	if c.sink == nil {
		agg := aggregator.New()
		agg.Expect(c.Expected...)
		c.sink = &sink{Aggregator: agg, custom: map[string]any{}}
	}
	return c.Func(ctx, c.sink, raw, c.Params)
}

func (c *LambdaConsumer[P]) Process() (*report.PipeResult, error) {
	if c.sink == nil {
		return nil, fmt.Errorf("nothing was ingested")
	}
	s := c.sink
	c.sink = nil

	finalized, err := s.Finalize(c.Metadata.Measurements)
	if err != nil {
		return nil, fmt.Errorf("computing statistics failed: %w", err)
	}

	res := &report.PipeResult{
		Statistics: map[string]map[string]float64{},
		Custom:     s.custom,
	}
	for _, ms := range util.SortedKeys(finalized) {
		st := finalized[ms]
		if st.NoData {
			res.NoData = append(res.NoData, ms)
			for _, name := range c.statisticNames(ms) {
				res.Checks = append(res.Checks, report.Check{Measurement: ms, Statistic: name, Status: report.StatusNoData})
			}
			c.logger().Warn("no data for measurement", slog.String("measurement", ms))
			continue
		}

		res.Statistics[ms] = st.Values
		for _, name := range util.SortedKeys(st.Values) {
			res.Checks = append(res.Checks, c.check(ms, name, st.Values[name]))
		}
	}
	return res, nil
}

func (c *LambdaConsumer[P]) check(ms, st string, v float64) report.Check {
	chk := report.Check{Measurement: ms, Statistic: st, Value: v, Status: report.StatusNoBaseline}
	if c.Metadata.Baselines == nil {
		return chk
	}
	entry := c.Metadata.Baselines.Get(ms, st)
	if entry == nil {
		return chk
	}
	chk.Baseline = entry
	if entry.Within(v) {
		chk.Status = report.StatusPass
	} else {
		chk.Status = report.StatusFail
	}
	return chk
}

func (c *LambdaConsumer[P]) statisticNames(ms string) []string {
	defs := aggregator.DefaultStatistics
	if def, ok := c.Metadata.Measurements[ms]; ok && len(def.Statistics) > 0 {
		defs = def.Statistics
	}
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.StatName())
	}
	return names
}
