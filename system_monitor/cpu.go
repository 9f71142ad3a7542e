package systemmonitor

import (
	"fmt"
	"strconv"
	"strings"
)

type threadCPUTime struct {
	tid  int
	name string
	// utime + stime, in clock ticks
	ticks int64
}

// parseThreadStats parses the concatenated /proc/<pid>/task/*/stat files of one process. Thread
// names may contain spaces and parentheses, so the name ends at the last ')'.
func parseThreadStats(buf []byte) (map[int]threadCPUTime, error) {
	threads := map[int]threadCPUTime{}
	for _, line := range strings.Split(string(buf), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		open := strings.IndexByte(line, '(')
		closing := strings.LastIndexByte(line, ')')
		if open < 0 || closing < open {
			return nil, fmt.Errorf("malformed thread stat line: %q", line)
		}
		tid, err := strconv.Atoi(strings.TrimSpace(line[:open]))
		if err != nil {
			return nil, fmt.Errorf("malformed thread id in %q: %w", line, err)
		}

		// fields after the name start at field 3 (state); utime and stime are fields 14 and 15
		rest := strings.Fields(line[closing+1:])
		if len(rest) < 13 {
			return nil, fmt.Errorf("thread %d: stat line has %d fields after the name", tid, len(rest))
		}
		utime, err := strconv.ParseInt(rest[11], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("thread %d: bad utime: %w", tid, err)
		}
		stime, err := strconv.ParseInt(rest[12], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("thread %d: bad stime: %w", tid, err)
		}

		threads[tid] = threadCPUTime{
			tid:   tid,
			name:  line[open+1 : closing],
			ticks: utime + stime,
		}
	}
	return threads, nil
}

// cpuPercent is the share of one CPU a thread used between two snapshots taken wallSeconds apart.
func cpuPercent(prev, curr threadCPUTime, clockTicks float64, wallSeconds float64) float64 {
	if wallSeconds <= 0 {
		return 0
	}
	delta := curr.ticks - prev.ticks
	if delta < 0 {
		return 0
	}
	return 100 * float64(delta) / clockTicks / wallSeconds
}
