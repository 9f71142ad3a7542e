package baselinebuilder

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/aclements/go-moremath/stats"
	"github.com/mitchellh/mapstructure"

	"github.com/Octogonapus/BlockBenchmark/baseline"
)

// Strategy reduces the observed values of one baseline key into a target and a tolerance.
type Strategy interface {
	CalculateBaseline(values []float64) (baseline.Spec, error)
}

type StrategyKind string

const (
	KindMeanStdDev   StrategyKind = "mean_stddev"
	KindMinMaxSpread StrategyKind = "min_max"
)

type StrategyFactory func(opts map[string]any) (Strategy, error)

var allStrategies map[StrategyKind]StrategyFactory

func init() {
	RegisterStrategy(KindMeanStdDev, func(opts map[string]any) (Strategy, error) {
		s := &MeanStdDev{Sigmas: 2}
		err := mapstructure.WeakDecode(opts, s)
		if err != nil {
			return nil, err
		}
		if s.Sigmas < 0 {
			return nil, fmt.Errorf("sigmas must not be negative, got %g", s.Sigmas)
		}
		return s, nil
	})
	RegisterStrategy(KindMinMaxSpread, func(opts map[string]any) (Strategy, error) {
		s := &MinMaxSpread{}
		err := mapstructure.WeakDecode(opts, s)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

func RegisterStrategy(kind StrategyKind, factory StrategyFactory) {
	if allStrategies == nil {
		allStrategies = map[StrategyKind]StrategyFactory{}
	}
	allStrategies[kind] = factory
}

func NewStrategy(kind StrategyKind, opts map[string]any) (Strategy, error) {
	factory, ok := allStrategies[kind]
	if !ok {
		return nil, fmt.Errorf("unknown baseline strategy: %s", kind)
	}
	s, err := factory(opts)
	if err != nil {
		return nil, fmt.Errorf("configuring %s strategy failed: %w", kind, err)
	}
	return s, nil
}

func ExplainStrategies() string {
	kinds := make([]string, 0, len(allStrategies))
	for kind := range allStrategies {
		kinds = append(kinds, "\""+string(kind)+"\"")
	}
	sort.Strings(kinds)
	return strings.Join(kinds, ", ")
}

// MeanStdDev targets the mean and tolerates Sigmas standard deviations around it.
type MeanStdDev struct {
	Sigmas float64 `mapstructure:"sigmas"`
}

func (s *MeanStdDev) CalculateBaseline(values []float64) (baseline.Spec, error) {
	if len(values) == 0 {
		return baseline.Spec{}, fmt.Errorf("no values")
	}
	mean := stats.Mean(values)
	std := 0.0
	if len(values) > 1 {
		std = stats.StdDev(values)
	}
	return baseline.Spec{Target: mean, DeltaPercentage: percentOf(s.Sigmas*std, mean)}, nil
}

// MinMaxSpread targets the middle of the observed range and tolerates the whole range.
type MinMaxSpread struct {
	// Margin is added to the spread, in percent of the target.
	Margin float64 `mapstructure:"margin"`
}

func (s *MinMaxSpread) CalculateBaseline(values []float64) (baseline.Spec, error) {
	if len(values) == 0 {
		return baseline.Spec{}, fmt.Errorf("no values")
	}
	lo, hi := stats.Bounds(values)
	mid := (lo + hi) / 2
	return baseline.Spec{Target: mid, DeltaPercentage: percentOf((hi-lo)/2, mid) + math.Ceil(s.Margin)}, nil
}

// percentOf returns delta as a whole percentage of target, rounded up. A zero target gets 0.
func percentOf(delta, target float64) float64 {
	if target == 0 {
		return 0
	}
	return math.Ceil(delta * 100 / math.Abs(target))
}
