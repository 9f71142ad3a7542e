package fio

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/hashicorp/go-version"

	"github.com/Octogonapus/BlockBenchmark/target"
	"github.com/Octogonapus/BlockBenchmark/util"
)

var ErrUnsupportedVersion = errors.New("unsupported fio version")

// DropCaches flushes the page cache of t.
func DropCaches(ctx context.Context, t target.Target) error {
	_, err := target.Run(ctx, t, "echo 3 > /proc/sys/vm/drop_caches")
	if err != nil {
		return fmt.Errorf("dropping caches failed: %w", err)
	}
	return nil
}

// Prepare disables I/O scheduling on the guest block device and drops the guest caches.
func Prepare(ctx context.Context, guest target.Target, device string) error {
	_, err := target.Run(ctx, guest, fmt.Sprintf("echo 'none' > /sys/block/%s/queue/scheduler", device))
	if err != nil {
		return fmt.Errorf("setting the I/O scheduler of %s failed: %w", device, err)
	}
	return DropCaches(ctx, guest)
}

// Run runs an fio command on the guest, then moves its logs from the guest into localDir. localDir
// is emptied first so logs of an earlier run can't leak into this one.
func Run(ctx context.Context, guest target.Target, cmd string, localDir string) ([]string, error) {
	slog.Debug("running fio", slog.String("command", cmd))
	_, err := target.Run(ctx, guest, cmd)
	if err != nil {
		return nil, fmt.Errorf("fio failed: %w", err)
	}

	err = os.RemoveAll(localDir)
	if err != nil {
		return nil, err
	}
	err = os.MkdirAll(localDir, fs.ModePerm)
	if err != nil {
		return nil, err
	}

	copied, err := guest.CopyFilesFrom(ctx, "*.log", localDir)
	if err != nil {
		return nil, fmt.Errorf("copying fio logs failed: %w", err)
	}
	_, err = target.Run(ctx, guest, "rm *.log")
	if err != nil {
		return nil, fmt.Errorf("removing fio logs from the guest failed: %w", err)
	}
	return copied, nil
}

// ParseVersion parses the output of "fio --version", e.g. "fio-3.28".
func ParseVersion(out []byte) (*version.Version, error) {
	line := strings.TrimSpace(util.LastNonEmptyLine(out))
	v, err := version.NewVersion(strings.TrimPrefix(line, "fio-"))
	if err != nil {
		return nil, fmt.Errorf("parsing fio version from %q failed: %w", line, err)
	}
	return v, nil
}

// CheckVersion fails with ErrUnsupportedVersion when the guest's fio is older than minVersion.
func CheckVersion(ctx context.Context, guest target.Target, minVersion *version.Version) (*version.Version, error) {
	out, err := target.Run(ctx, guest, Binary+" --version")
	if err != nil {
		return nil, err
	}
	v, err := ParseVersion(out)
	if err != nil {
		return nil, err
	}
	if minVersion != nil && v.LessThan(minVersion) {
		return v, fmt.Errorf("%w: %s is older than %s", ErrUnsupportedVersion, v, minVersion)
	}
	return v, nil
}
