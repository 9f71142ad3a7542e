package report

import (
	"fmt"
	"sort"

	"github.com/Octogonapus/BlockBenchmark/baseline"
)

type Measurement[T any] struct {
	Time  int64
	Value T
}

// Status is the outcome of comparing one statistic against its baseline.
type Status string

const (
	StatusPass       Status = "pass"
	StatusFail       Status = "fail"
	StatusNoBaseline Status = "no_baseline" // informational, never fails a run
	StatusNoData     Status = "no_data"     // expected measurement produced no samples
)

type Check struct {
	Measurement string          `json:"measurement"`
	Statistic   string          `json:"statistic"`
	Value       float64         `json:"value"`
	Baseline    *baseline.Entry `json:"baseline,omitempty"`
	Status      Status          `json:"status"`
}

func (c Check) String() string {
	switch c.Status {
	case StatusNoData:
		return fmt.Sprintf("%s/%s: no data", c.Measurement, c.Statistic)
	case StatusNoBaseline:
		return fmt.Sprintf("%s/%s: measured %g (no baseline)", c.Measurement, c.Statistic, c.Value)
	}
	return fmt.Sprintf("%s/%s: measured %g, target %g ±%g (%s)",
		c.Measurement, c.Statistic, c.Value, c.Baseline.Target, c.Baseline.Delta, c.Status)
}

// PipeResult is what a consumer produces for one tag.
type PipeResult struct {
	Tag        string
	Statistics map[string]map[string]float64 // measurement -> statistic -> value
	Checks     []Check
	NoData     []string
	Custom     map[string]any
}

// Passed is false iff at least one check with a resolvable baseline is out of tolerance.
func (r *PipeResult) Passed() bool {
	for _, c := range r.Checks {
		if c.Status == StatusFail {
			return false
		}
	}
	return true
}

func (r *PipeResult) Failures() []Check {
	var out []Check
	for _, c := range r.Checks {
		if c.Status == StatusFail {
			out = append(out, c)
		}
	}
	return out
}

type ExerciseReport struct {
	Name       string                                   `json:"name"`
	Iterations int                                      `json:"iterations"`
	Results    map[string]map[string]map[string]float64 `json:"results"`
	Checks     map[string][]Check                       `json:"checks"`
	NoData     map[string][]string                      `json:"no_data,omitempty"`
	Custom     map[string]any                           `json:"custom"`
	Passed     bool                                     `json:"passed"`
}

func NewExerciseReport(name string, iterations int, custom map[string]any) *ExerciseReport {
	c := map[string]any{}
	for k, v := range custom {
		c[k] = v
	}
	return &ExerciseReport{
		Name:       name,
		Iterations: iterations,
		Results:    map[string]map[string]map[string]float64{},
		Checks:     map[string][]Check{},
		Custom:     c,
		Passed:     true,
	}
}

// Add folds one finalized pipe into the report.
func (r *ExerciseReport) Add(res *PipeResult) {
	r.Results[res.Tag] = res.Statistics
	r.Checks[res.Tag] = res.Checks
	if len(res.NoData) > 0 {
		if r.NoData == nil {
			r.NoData = map[string][]string{}
		}
		r.NoData[res.Tag] = res.NoData
	}
	if len(res.Custom) > 0 {
		r.Custom[res.Tag] = res.Custom
	}
	r.Passed = r.Passed && res.Passed()
}

// Failures returns the failed checks keyed by tag, tags in sorted order.
func (r *ExerciseReport) Failures() []TaggedCheck {
	tags := make([]string, 0, len(r.Checks))
	for tag := range r.Checks {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	var out []TaggedCheck
	for _, tag := range tags {
		for _, c := range r.Checks[tag] {
			if c.Status == StatusFail {
				out = append(out, TaggedCheck{Tag: tag, Check: c})
			}
		}
	}
	return out
}

type TaggedCheck struct {
	Tag string
	Check
}

func (tc TaggedCheck) String() string {
	return fmt.Sprintf("'%s' %s", tc.Tag, tc.Check.String())
}
