package baselinebuilder

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/hashicorp/go-version"

	"github.com/Octogonapus/BlockBenchmark/baseline"
)

var ErrMalformedRecord = errors.New("malformed exercise report")

// DefaultKeys are the measurement/statistic pairs of the block device test.
var DefaultKeys = []string{
	"iops_read/avg",
	"iops_write/avg",
	"bw_read/avg",
	"bw_write/avg",
	"cpu_utilization_vcpus_total/value",
	"cpu_utilization_vmm/value",
}

type Options struct {
	// Keys are "measurement/statistic" pairs to extract from each report.
	Keys     []string
	Strategy Strategy

	// MinKernel skips records of tags whose kernel is older. Kernel names such as "vmlinux-4.14.bin"
	// are compared by the version they contain.
	MinKernel *version.Version

	Logger *slog.Logger
}

type key struct {
	measurement string
	statistic   string
}

// Builder accumulates historical reports and reduces them into a baseline document.
type Builder struct {
	keys     []key
	strategy Strategy
	minKern  *version.Version
	logger   *slog.Logger
	tree     *Node
	records  int
	skipped  int
}

func NewBuilder(opts Options) (*Builder, error) {
	if opts.Strategy == nil {
		return nil, fmt.Errorf("a baseline strategy is required")
	}
	rawKeys := opts.Keys
	if len(rawKeys) == 0 {
		rawKeys = DefaultKeys
	}

	b := &Builder{
		strategy: opts.Strategy,
		minKern:  opts.MinKernel,
		logger:   opts.Logger,
		tree:     NewTree(),
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	for _, k := range rawKeys {
		ms, st, ok := strings.Cut(k, "/")
		if !ok || ms == "" || st == "" || strings.Contains(st, "/") {
			return nil, fmt.Errorf("key %q is not of the form measurement/statistic", k)
		}
		b.keys = append(b.keys, key{measurement: ms, statistic: st})
	}
	return b, nil
}

type record struct {
	Results map[string]map[string]any `json:"results"`
	Custom  map[string]any            `json:"custom"`
}

// Add ingests one report. Blank lines are ignored.
func (b *Builder) Add(line []byte) error {
	if len(strings.TrimSpace(string(line))) == 0 {
		return nil
	}
	b.records++

	var rec record
	err := json.Unmarshal(line, &rec)
	if err != nil {
		return fmt.Errorf("%w: record %d: %w", ErrMalformedRecord, b.records, err)
	}
	if rec.Results == nil {
		return fmt.Errorf("%w: record %d has no results", ErrMalformedRecord, b.records)
	}
	if rec.Custom == nil {
		return fmt.Errorf("%w: record %d has no custom context", ErrMalformedRecord, b.records)
	}
	cpu, ok := rec.Custom["cpu_model_name"].(string)
	if !ok || cpu == "" {
		return fmt.Errorf("%w: record %d has no cpu_model_name", ErrMalformedRecord, b.records)
	}

	for tag, measurements := range rec.Results {
		parts := strings.Split(tag, "/")
		if len(parts) != 3 {
			return fmt.Errorf("%w: record %d: tag %q is not kernel/rootfs/config", ErrMalformedRecord, b.records, tag)
		}
		kernel, rootfs, config := parts[0], parts[1], parts[2]
		if !b.kernelAllowed(kernel) {
			b.skipped++
			continue
		}

		for _, k := range b.keys {
			msData, ok := measurements[k.measurement]
			if !ok {
				continue
			}
			stats, ok := msData.(map[string]any)
			if !ok {
				return fmt.Errorf("%w: record %d: %s/%s is not an object", ErrMalformedRecord, b.records, tag, k.measurement)
			}
			v, ok := stats[k.statistic].(float64)
			if !ok {
				return fmt.Errorf("%w: record %d: %s/%s has no numeric %s", ErrMalformedRecord, b.records, tag, k.measurement, k.statistic)
			}

			err = b.tree.Append([]string{cpu, k.measurement, kernel, rootfs, k.statistic, config}, v)
			if err != nil {
				return fmt.Errorf("%w: record %d: %w", ErrMalformedRecord, b.records, err)
			}
		}
	}
	return nil
}

// AddFrom ingests one report per line until r is exhausted. progress, if set, is called after
// every line.
func (b *Builder) AddFrom(r io.Reader, progress func()) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for sc.Scan() {
		err := b.Add(sc.Bytes())
		if err != nil {
			return err
		}
		if progress != nil {
			progress()
		}
	}
	return sc.Err()
}

func (b *Builder) kernelAllowed(kernel string) bool {
	if b.minKern == nil {
		return true
	}
	v, err := KernelVersion(kernel)
	if err != nil {
		b.logger.Debug("can't tell kernel version, keeping record", slog.String("kernel", kernel))
		return true
	}
	return v.GreaterThanOrEqual(b.minKern)
}

// KernelVersion extracts the version from a kernel artifact name such as "vmlinux-5.10.bin".
func KernelVersion(name string) (*version.Version, error) {
	s := strings.TrimSuffix(name, ".bin")
	if i := strings.LastIndex(s, "-"); i >= 0 {
		s = s[i+1:]
	}
	return version.NewVersion(s)
}

// Build reduces everything ingested into one baseline tree per CPU model, in the order the CPU
// models were first seen. On error no document is returned.
func (b *Builder) Build() (baseline.Document, error) {
	doc := baseline.Document{}
	for _, cpu := range b.tree.Keys() {
		measurements, err := b.tree.Child(cpu).Reduce(b.strategy)
		if err != nil {
			return nil, fmt.Errorf("computing baselines for %s failed: %w", cpu, err)
		}
		cpuDoc := baseline.CPUBaselines{baseline.ModelKey: cpu}
		for ms, sub := range measurements {
			cpuDoc[ms] = sub
		}
		doc = append(doc, cpuDoc)
	}
	b.logger.Info("built baselines",
		slog.Int("records", b.records),
		slog.Int("skipped_tags", b.skipped),
		slog.Int("cpu_models", len(doc)))
	return doc, nil
}
