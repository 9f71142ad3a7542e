package fio

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Octogonapus/BlockBenchmark/aggregator"
)

// LogEntry is one line of an fio iops or bw log.
type LogEntry struct {
	TimeMs    int64
	Value     int64
	Direction Direction
	BlockSize int64
}

// ParseLogLine parses "time, value, direction, block size[, offset...]".
func ParseLogLine(line string) (LogEntry, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 4 {
		return LogEntry{}, fmt.Errorf("log line has %d fields, expected at least 4: %q", len(fields), line)
	}

	var nums [4]int64
	for i := 0; i < 4; i++ {
		n, err := strconv.ParseInt(strings.TrimSpace(fields[i]), 10, 64)
		if err != nil {
			return LogEntry{}, fmt.Errorf("log line %q: field %d: %w", line, i, err)
		}
		nums[i] = n
	}

	dir, err := DirectionFromCode(int(nums[2]))
	if err != nil {
		return LogEntry{}, fmt.Errorf("log line %q: %w", line, err)
	}
	return LogEntry{TimeMs: nums[0], Value: nums[1], Direction: dir, BlockSize: nums[3]}, nil
}

// LogPath is where job (1-based) of a run writes its log of the given measurement.
func LogPath(dir, prefix, measurement string, job int) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.%d.log", prefix, measurement, job))
}

// ReadLogs feeds the measurement logs of numJobs jobs into al. Logs of a mode with n directions
// have n lines per sample, so line i belongs to sample i/n.
func ReadLogs(dir, prefix, measurement string, mode Mode, numJobs int, al *aggregator.Aligner) error {
	dc := mode.DirectionCount()
	if dc == 0 {
		return fmt.Errorf("fio mode %s declares no directions", mode.Name)
	}

	for job := 1; job <= numJobs; job++ {
		err := readLog(LogPath(dir, prefix, measurement, job), job, measurement, mode, dc, al)
		if err != nil {
			return err
		}
	}
	return nil
}

func readLog(path string, job int, measurement string, mode Mode, dc int, al *aggregator.Aligner) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening fio log failed: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	n := 0
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		entry, err := ParseLogLine(line)
		if err != nil {
			return fmt.Errorf("%s:%d: %w", path, n+1, err)
		}
		if !mode.Has(entry.Direction) {
			return fmt.Errorf("%s:%d: %w: %s is not a direction of mode %s", path, n+1, ErrUnknownDirection, entry.Direction, mode.Name)
		}

		id := aggregator.NewMeasurementID(measurement, entry.Direction.String())
		if !al.Add(id.String(), job, n/dc, float64(entry.Value)) {
			slog.Warn("ignoring repeated fio log sample", slog.String("path", path), slog.Int("line", n+1), slog.String("measurement", id.String()))
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return err
	}
	slog.Debug("read fio log", slog.String("path", path), slog.Int("lines", n))
	return nil
}
