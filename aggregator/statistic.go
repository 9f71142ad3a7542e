package aggregator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aclements/go-moremath/stats"
)

// Function is the reduction used to turn a sample series into one statistic.
type Function string

const (
	Count  Function = "Count"
	Sum    Function = "Sum"
	Avg    Function = "Avg"
	Min    Function = "Min"
	Max    Function = "Max"
	Stddev Function = "Stddev"
	P50    Function = "P50"
	P90    Function = "P90"
	P99    Function = "P99"

	// Value passes through a statistic recorded with ConsumeStat.
	Value Function = "Value"
)

var allFunctions = []Function{Count, Sum, Avg, Min, Max, Stddev, P50, P90, P99, Value}

var percentiles = map[Function]float64{
	P50: 0.50,
	P90: 0.90,
	P99: 0.99,
}

func (f Function) Valid() bool {
	for _, fn := range allFunctions {
		if f == fn {
			return true
		}
	}
	return false
}

// DefaultName is the statistic name used when a definition doesn't set one.
func (f Function) DefaultName() string {
	return strings.ToLower(string(f))
}

// Compute reduces values, which must be non-empty. Percentiles use the R8 interpolation of
// Hyndman and Fan over the sorted values, so the result only depends on the multiset of values.
func (f Function) Compute(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("computing %s over an empty series", f)
	}

	switch f {
	case Count:
		return float64(len(values)), nil
	case Sum:
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		return sum, nil
	case Avg:
		return stats.Mean(values), nil
	case Min:
		lo, _ := stats.Bounds(values)
		return lo, nil
	case Max:
		_, hi := stats.Bounds(values)
		return hi, nil
	case Stddev:
		if len(values) < 2 {
			return 0, nil
		}
		return stats.Sample{Xs: values}.StdDev(), nil
	case P50, P90, P99:
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)
		return stats.Sample{Xs: sorted, Sorted: true}.Quantile(percentiles[f]), nil
	}
	return 0, fmt.Errorf("function %s can't be computed from raw samples", f)
}

type StatisticDef struct {
	Name     string   `mapstructure:"name"`
	Function Function `mapstructure:"function"`
}

func (d StatisticDef) StatName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Function.DefaultName()
}

type MeasurementDef struct {
	Unit       string         `mapstructure:"unit"`
	Statistics []StatisticDef `mapstructure:"statistics"`
}

func (d MeasurementDef) Validate() error {
	for _, st := range d.Statistics {
		if !st.Function.Valid() {
			return fmt.Errorf("unknown statistic function: %q", st.Function)
		}
	}
	return nil
}

// ValidateRaw is Validate for measurements fed with ConsumeData, which can't report a Value.
func (d MeasurementDef) ValidateRaw() error {
	err := d.Validate()
	if err != nil {
		return err
	}
	for _, st := range d.Statistics {
		if st.Function == Value {
			return fmt.Errorf("statistic %s: %s is only recorded with ConsumeStat", st.StatName(), Value)
		}
	}
	return nil
}

// DefaultStatistics are computed for measurements that have no definition.
var DefaultStatistics = []StatisticDef{
	{Function: Count},
	{Function: Sum},
	{Function: Avg},
	{Function: Min},
	{Function: Max},
}
