package aggregator

import (
	"fmt"

	"github.com/aclements/go-moremath/stats"
)

// Sink is the surface consumer functions route values into.
type Sink interface {
	// Append one raw sample to the series of measurement id.
	ConsumeData(id string, value float64)

	// Record a statistic that was already computed elsewhere (e.g. CPU utilization).
	ConsumeStat(statistic string, id string, value float64)
}

// Statistics is the finalized statistic record of one measurement.
type Statistics struct {
	Unit   string
	Values map[string]float64 // statistic name -> value
	NoData bool               // the measurement was expected but nothing was recorded
}

// Aggregator accumulates samples for one consumer invocation. It is not safe for concurrent use.
type Aggregator struct {
	data     map[string][]float64
	stats    map[string]map[string][]float64
	expected []string
	order    []string
}

func New() *Aggregator {
	return &Aggregator{
		data:  map[string][]float64{},
		stats: map[string]map[string][]float64{},
	}
}

func (a *Aggregator) touch(id string) {
	_, inData := a.data[id]
	_, inStats := a.stats[id]
	if !inData && !inStats {
		a.order = append(a.order, id)
	}
}

func (a *Aggregator) ConsumeData(id string, value float64) {
	a.touch(id)
	a.data[id] = append(a.data[id], value)
}

func (a *Aggregator) ConsumeStat(statistic string, id string, value float64) {
	a.touch(id)
	if a.stats[id] == nil {
		a.stats[id] = map[string][]float64{}
	}
	a.stats[id][statistic] = append(a.stats[id][statistic], value)
}

// Expect declares measurements that must end up with data. Any of them still empty at Finalize is
// reported with NoData set instead of being left out.
func (a *Aggregator) Expect(ids ...string) {
	a.expected = append(a.expected, ids...)
}

// Finalize computes the statistics of every measurement. Raw series are reduced with the
// statistics configured in defs (DefaultStatistics when there is no definition). A statistic
// recorded with ConsumeStat more than once, e.g. over several iterations, reports its mean.
func (a *Aggregator) Finalize(defs map[string]MeasurementDef) (map[string]*Statistics, error) {
	out := map[string]*Statistics{}

	for _, id := range a.order {
		def, hasDef := defs[id]
		st := &Statistics{Unit: def.Unit, Values: map[string]float64{}}

		for name, recorded := range a.stats[id] {
			st.Values[name] = stats.Mean(recorded)
		}

		if samples := a.data[id]; len(samples) > 0 {
			statDefs := DefaultStatistics
			if hasDef && len(def.Statistics) > 0 {
				statDefs = def.Statistics
			}
			for _, sd := range statDefs {
				if sd.Function == Value {
					continue
				}
				v, err := sd.Function.Compute(samples)
				if err != nil {
					return nil, fmt.Errorf("measurement %s: %w", id, err)
				}
				st.Values[sd.StatName()] = v
			}
		}

		out[id] = st
	}

	for _, id := range a.expected {
		if len(a.data[id]) > 0 || len(a.stats[id]) > 0 {
			continue
		}
		out[id] = &Statistics{Unit: defs[id].Unit, Values: map[string]float64{}, NoData: true}
	}

	return out, nil
}
