package aggregator

import "sort"

// Aligner combines the series reported by parallel workers by position. Each worker contributes at
// most one value per index; the values sharing an index are summed and an index that was not
// reported by every worker is dropped.
type Aligner struct {
	workers int
	points  map[string]map[int]map[int]float64 // id -> index -> worker -> value
	order   []string
}

func NewAligner(workers int) *Aligner {
	return &Aligner{
		workers: workers,
		points:  map[string]map[int]map[int]float64{},
	}
}

// Add records worker's value of id at index. It reports false when worker already reported that
// index, in which case the first value is kept.
func (a *Aligner) Add(id string, worker int, index int, value float64) bool {
	byIndex, ok := a.points[id]
	if !ok {
		byIndex = map[int]map[int]float64{}
		a.points[id] = byIndex
		a.order = append(a.order, id)
	}
	byWorker, ok := byIndex[index]
	if !ok {
		byWorker = map[int]float64{}
		byIndex[index] = byWorker
	}
	if _, dup := byWorker[worker]; dup {
		return false
	}
	byWorker[worker] = value
	return true
}

// IDs returns the measurement ids in the order they were first added.
func (a *Aligner) IDs() []string {
	return a.order
}

// Aligned returns each id's combined series in ascending index order, plus the indices that were
// discarded because not every worker reported them.
func (a *Aligner) Aligned() (series map[string][]float64, discarded map[string][]int) {
	series = map[string][]float64{}
	discarded = map[string][]int{}

	for _, id := range a.order {
		byIndex := a.points[id]
		indices := make([]int, 0, len(byIndex))
		for idx := range byIndex {
			indices = append(indices, idx)
		}
		sort.Ints(indices)

		values := []float64{}
		for _, idx := range indices {
			byWorker := byIndex[idx]
			if len(byWorker) != a.workers {
				discarded[id] = append(discarded[id], idx)
				continue
			}
			sum := 0.0
			for _, v := range byWorker {
				sum += v
			}
			values = append(values, sum)
		}
		series[id] = values
	}

	return series, discarded
}
