package cpuid

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Octogonapus/BlockBenchmark/target"
)

// ParseModelName returns the "model name" of the first processor listed in cpuinfo.
func ParseModelName(r io.Reader) (string, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		k, v, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		if strings.TrimSpace(k) == "model name" {
			return strings.TrimSpace(v), nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("no model name in cpuinfo")
}

// ModelName reads the CPU model name of t.
func ModelName(ctx context.Context, t target.Target) (string, error) {
	out, err := target.Run(ctx, t, "cat /proc/cpuinfo")
	if err != nil {
		return "", fmt.Errorf("reading cpuinfo failed: %w", err)
	}
	return ParseModelName(strings.NewReader(string(out)))
}
