package blockperf

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Octogonapus/BlockBenchmark/aggregator"
	"github.com/Octogonapus/BlockBenchmark/baseline"
	"github.com/Octogonapus/BlockBenchmark/exercise"
	"github.com/Octogonapus/BlockBenchmark/fio"
	"github.com/Octogonapus/BlockBenchmark/report"
	systemmonitor "github.com/Octogonapus/BlockBenchmark/system_monitor"
	"github.com/Octogonapus/BlockBenchmark/target"
	"github.com/Octogonapus/BlockBenchmark/target/targettest"
)

const testCPU = "Intel(R) Xeon(R) Platinum 8259CL CPU @ 2.50GHz"

type fakeSampler struct {
	samples systemmonitor.ThreadSamples
	err     error
	delay   time.Duration
	calls   int
}

func (f *fakeSampler) Sample(context.Context, int, int) (systemmonitor.ThreadSamples, error) {
	f.calls++
	time.Sleep(f.delay)
	return f.samples, f.err
}

func series(values ...float64) []report.Measurement[float64] {
	out := make([]report.Measurement[float64], len(values))
	for i, v := range values {
		out[i] = report.Measurement[float64]{Time: int64(i), Value: v}
	}
	return out
}

func healthySamples() systemmonitor.ThreadSamples {
	return systemmonitor.ThreadSamples{
		"firecracker": {100: series(10, 20, 30)},
		"fc_vcpu 0":   {101: series(50, 50, 50)},
		"fc_vcpu 1":   {102: series(20, 40, 60)},
		"fc_api":      {103: series(1)},
	}
}

func testConfig(t *testing.T) *Config {
	return &Config{
		Time:            3,
		Omit:            1,
		LoadFactor:      1,
		BlockDeviceSize: 2048,
		Device:          "vdb",
		FioModes:        []fio.Mode{{Name: "randread", Directions: []fio.Direction{fio.Read}}},
		FioBlockSizes:   []int{4096},
		Measurements: map[string]aggregator.MeasurementDef{
			"iops_read":              {Unit: "io/s", Statistics: []aggregator.StatisticDef{{Function: aggregator.Avg}}},
			"bw_read":                {Unit: "KiB/s", Statistics: []aggregator.StatisticDef{{Function: aggregator.Avg}}},
			CPUUtilizationVMM:        {Unit: "percent", Statistics: []aggregator.StatisticDef{{Function: aggregator.Value}}},
			CPUUtilizationVCPUsTotal: {Unit: "percent", Statistics: []aggregator.StatisticDef{{Function: aggregator.Value}}},
		},
		ResultsDir:    filepath.Join(t.TempDir(), "results"),
		Iterations:    1,
		MinFioVersion: "3.0",
	}
}

func testEnv(guest, host *targettest.Fake) *Environment {
	return &Environment{
		Guest:    guest,
		Host:     host,
		VMMPid:   100,
		VCPUs:    2,
		Microvm:  "2vcpu_1024mb",
		Kernel:   "vmlinux-4.14",
		Rootfs:   "ubuntu-18.04",
		CPUModel: testCPU,
	}
}

// testGuest serves fio logs of two jobs: iops sums to 1040 then 1000, bw to 300 then 310.
func testGuest() *targettest.Fake {
	guest := targettest.New().OnOutput("fio --version", "fio-3.28\n")
	guest.Files["randread4096_iops.1.log"] = []byte("1000, 600, 0, 4096\n2000, 500, 0, 4096\n")
	guest.Files["randread4096_iops.2.log"] = []byte("1000, 440, 0, 4096\n2000, 500, 0, 4096\n")
	guest.Files["randread4096_bw.1.log"] = []byte("1000, 100, 0, 4096\n2000, 110, 0, 4096\n3000, 999, 0, 4096\n")
	guest.Files["randread4096_bw.2.log"] = []byte("1000, 200, 0, 4096\n2000, 200, 0, 4096\n")
	return guest
}

func testDocument(target float64) baseline.Document {
	return baseline.Document{{
		"model": testCPU,
		"iops_read": map[string]any{
			"vmlinux-4.14": map[string]any{
				"ubuntu-18.04": map[string]any{
					"avg": map[string]any{
						"randread-bs4096-2vcpu": map[string]any{"target": target, "delta_percentage": 5.0},
					},
				},
			},
		},
	}}
}

func TestRunPasses(t *testing.T) {
	guest, host := testGuest(), targettest.New()
	cfg := testConfig(t)
	// load factor 1 and 2 vCPUs -> 2 fio jobs
	sampler := &fakeSampler{samples: healthySamples()}

	var done []string
	rep, err := Run(context.Background(), testEnv(guest, host), cfg, testDocument(1000), nil, Options{
		Sampler:  sampler,
		PipeDone: func(res *report.PipeResult) { done = append(done, res.Tag) },
	})
	require.NoError(t, err)
	require.NotNil(t, rep)

	tag := "vmlinux-4.14/ubuntu-18.04/randread-bs4096-2vcpu"
	assert.Equal(t, []string{tag}, done)
	assert.True(t, rep.Passed)
	assert.Equal(t, TestID, rep.Name)
	assert.Equal(t, testCPU, rep.Custom["cpu_model_name"])
	assert.Equal(t, "ubuntu-18.04", rep.Custom["disk"])

	results := rep.Results[tag]
	assert.Equal(t, 1020.0, results["iops_read"]["avg"])
	assert.Equal(t, 305.0, results["bw_read"]["avg"])
	assert.Equal(t, 20.0, results[CPUUtilizationVMM]["value"])
	assert.Equal(t, 90.0, results[CPUUtilizationVCPUsTotal]["value"])

	statuses := map[string]report.Status{}
	for _, c := range rep.Checks[tag] {
		statuses[c.Measurement+"/"+c.Statistic] = c.Status
	}
	assert.Equal(t, report.StatusPass, statuses["iops_read/avg"])
	assert.Equal(t, report.StatusNoBaseline, statuses["bw_read/avg"])

	assert.NoDirExists(t, filepath.Join(cfg.ResultsDir, "vmlinux-4.14", "ubuntu-18.04", "randread4096"))
	assert.Contains(t, host.Commands(), "echo 3 > /proc/sys/vm/drop_caches")
	assert.Contains(t, guest.Commands(), "echo 'none' > /sys/block/vdb/queue/scheduler")
	assert.Equal(t, 1, sampler.calls)
}

func TestRunRegression(t *testing.T) {
	cfg := testConfig(t)
	_, err := Run(context.Background(), testEnv(testGuest(), targettest.New()), cfg, testDocument(900), nil, Options{
		Sampler: &fakeSampler{samples: healthySamples()},
	})
	require.ErrorIs(t, err, exercise.ErrRegression)
	assert.Contains(t, err.Error(), "iops_read/avg: measured 1020, target 900 ±45")
}

func TestRunDumpsInsteadOfChecking(t *testing.T) {
	cfg := testConfig(t)
	cfg.Debug = true
	path := filepath.Join(t.TempDir(), "out", "results.json")
	dumper, err := report.NewFileDumper(path)
	require.NoError(t, err)

	rep, err := Run(context.Background(), testEnv(testGuest(), targettest.New()), cfg, testDocument(900), dumper, Options{
		Sampler: &fakeSampler{samples: healthySamples()},
	})
	require.NoError(t, err)
	require.NoError(t, dumper.Close(context.Background()))
	assert.False(t, rep.Passed)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	sc := bufio.NewScanner(f)
	require.True(t, sc.Scan())

	var line struct {
		Results map[string]map[string]map[string]float64 `json:"results"`
		Custom  map[string]any                           `json:"custom"`
	}
	require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
	tag := "vmlinux-4.14/ubuntu-18.04/randread-bs4096-2vcpu"
	assert.Equal(t, 1020.0, line.Results[tag]["iops_read"]["avg"])
	assert.Equal(t, testCPU, line.Custom["cpu_model_name"])

	debug, ok := line.Custom[tag].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, debug, CPUUtilizationVMMSamples)
	assert.Contains(t, debug, "cpu_utilization_fc_vcpu_1_samples")
	assert.Contains(t, debug, "iops_read")
	assert.False(t, sc.Scan())
}

func TestRunFailsOnSampleCount(t *testing.T) {
	samples := healthySamples()
	samples["fc_vcpu 1"] = map[int][]report.Measurement[float64]{102: series(1, 2)}

	cfg := testConfig(t)
	_, err := Run(context.Background(), testEnv(testGuest(), targettest.New()), cfg, nil, nil, Options{
		Sampler: &fakeSampler{samples: samples},
	})
	require.ErrorIs(t, err, ErrSampleCount)
	var pe *exercise.PipeError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, exercise.StateProducing, pe.State)
	assert.NoDirExists(t, filepath.Join(cfg.ResultsDir, "vmlinux-4.14", "ubuntu-18.04", "randread4096"))
}

func TestRunFailsWhenSamplerFails(t *testing.T) {
	cfg := testConfig(t)
	_, err := Run(context.Background(), testEnv(testGuest(), targettest.New()), cfg, nil, nil, Options{
		Sampler: &fakeSampler{err: fmt.Errorf("pid 100 is gone")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pid 100 is gone")
}

func TestRunJoinsFioBeforeCleanup(t *testing.T) {
	guest := testGuest().On("fio --name", func(string) (*target.CommandResult, error) {
		time.Sleep(50 * time.Millisecond)
		return &target.CommandResult{}, nil
	})
	cfg := testConfig(t)

	_, err := Run(context.Background(), testEnv(guest, targettest.New()), cfg, nil, nil, Options{
		Sampler: &fakeSampler{err: fmt.Errorf("pid gone"), delay: 20 * time.Millisecond},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pid gone")
	assert.NoDirExists(t, filepath.Join(cfg.ResultsDir, "vmlinux-4.14", "ubuntu-18.04", "randread4096"))
}

func TestRunRejectsOldFio(t *testing.T) {
	guest := targettest.New().OnOutput("fio --version", "fio-2.1\n")
	sampler := &fakeSampler{samples: healthySamples()}
	_, err := Run(context.Background(), testEnv(guest, targettest.New()), testConfig(t), nil, nil, Options{Sampler: sampler})
	require.ErrorIs(t, err, fio.ErrUnsupportedVersion)
	assert.Equal(t, 0, sampler.calls)
}

func TestSummarizeCPU(t *testing.T) {
	res, err := summarizeCPU(healthySamples(), 2, 3, false)
	require.NoError(t, err)
	assert.Equal(t, 20.0, res.CPUUtilizationVMM)
	assert.Equal(t, 90.0, res.CPUUtilizationVCPUsTotal)
	assert.Nil(t, res.Samples)

	twoVMMThreads := healthySamples()
	twoVMMThreads["firecracker"][104] = series(1, 1, 1)
	_, err = summarizeCPU(twoVMMThreads, 2, 3, false)
	assert.ErrorIs(t, err, ErrSampleCount)

	_, err = summarizeCPU(healthySamples(), 3, 3, false)
	assert.ErrorIs(t, err, ErrSampleCount)
}

func TestConsumeCleansUpOnParseError(t *testing.T) {
	dir := t.TempDir()
	logDir := filepath.Join(dir, "randread4096")
	require.NoError(t, os.MkdirAll(logDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(logDir, "randread4096_iops.1.log"), []byte("1000, 1, 7, 4096\n"), 0o644))

	mode := fio.Mode{Name: "randread", Directions: []fio.Direction{fio.Read}}
	cons := exercise.NewLambdaConsumer(consume, consumeParams{numJobs: 1, mode: mode, prefix: "randread4096"}, exercise.Metadata{})
	err := cons.Ingest(context.Background(), 0, &Result{LogDir: logDir})
	assert.ErrorIs(t, err, fio.ErrUnknownDirection)
	assert.NoDirExists(t, logDir)
}

func TestExpectedMeasurements(t *testing.T) {
	mode := fio.Mode{Name: "randrw", Directions: []fio.Direction{fio.Read, fio.Write}}
	assert.Equal(t, []string{
		CPUUtilizationVMM, CPUUtilizationVCPUsTotal,
		"iops_read", "iops_write", "bw_read", "bw_write",
	}, expectedMeasurements(mode))
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "block_performance_test_config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"time": 300,
		"omit": 10,
		"load_factor": 1,
		"block_device_size": 2048,
		"fio_modes": [
			{"name": "randread", "directions": ["read"]},
			{"name": "randrw", "directions": ["read", "write"]}
		],
		"fio_blk_sizes": [4096, 65536],
		"pipe_timeout": "15m",
		"measurements": {
			"iops_read": {"unit": "io/s", "statistics": [{"function": "Avg"}, {"name": "p90", "function": "P90"}]}
		},
		"baselines": {"location": "s3://perf/block.json"}
	}`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.Time)
	assert.Equal(t, 15*time.Minute, cfg.PipeTimeout)
	require.Len(t, cfg.FioModes, 2)
	assert.Equal(t, []fio.Direction{fio.Read, fio.Write}, cfg.FioModes[1].Directions)
	assert.Equal(t, []int{4096, 65536}, cfg.FioBlockSizes)
	assert.Equal(t, aggregator.P90, cfg.Measurements["iops_read"].Statistics[1].Function)
	assert.Equal(t, "s3://perf/block.json", cfg.Baselines.Location)
	assert.Equal(t, baseline.DefaultKeyTemplate, cfg.Baselines.KeyTemplate)
	assert.Equal(t, "results", cfg.ResultsDir)
	assert.Equal(t, "vdb", cfg.Device)
	assert.Equal(t, 1, cfg.Iterations)
	assert.Equal(t, 4, cfg.PipeCount())
}

func TestLoadConfigRejectsBadMeasurements(t *testing.T) {
	cases := map[string]string{
		"unlogged base":     `"lat_read": {"statistics": [{"function": "Avg"}]}`,
		"value of raw data": `"iops_read": {"statistics": [{"function": "Value"}]}`,
	}
	for name, ms := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			require.NoError(t, os.WriteFile(path, []byte(`{
				"time": 300, "block_device_size": 2048, "fio_blk_sizes": [4096],
				"fio_modes": [{"name": "randread", "directions": ["read"]}],
				"measurements": {`+ms+`}
			}`), 0o644))

			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigRejectsBadDirection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"time": 300, "block_device_size": 2048, "fio_blk_sizes": [4096],
		"fio_modes": [{"name": "randread", "directions": ["sideways"]}]
	}`), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "sideways"))
}
