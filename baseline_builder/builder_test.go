package baselinebuilder

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/hashicorp/go-version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Octogonapus/BlockBenchmark/baseline"
)

const cpuModel = "Intel(R) Xeon(R) Platinum 8259CL CPU @ 2.50GHz"

func reportLine(kernel string, iops float64) string {
	return `{"name":"block_device_performance","results":{"` + kernel + `/ubuntu-18.04/randread-bs4096-1vcpu":` +
		`{"iops_read":{"avg":` + jsonNumber(iops) + `},"cpu_utilization_vmm":{"value":40}}},` +
		`"custom":{"cpu_model_name":"` + cpuModel + `","kernel":"` + kernel + `"}}`
}

func jsonNumber(v float64) string {
	buf, _ := json.Marshal(v)
	return string(buf)
}

func newTestBuilder(t *testing.T, opts Options) *Builder {
	if opts.Strategy == nil {
		s, err := NewStrategy(KindMeanStdDev, nil)
		require.NoError(t, err)
		opts.Strategy = s
	}
	if opts.Keys == nil {
		opts.Keys = []string{"iops_read/avg", "cpu_utilization_vmm/value", "bw_read/avg"}
	}
	b, err := NewBuilder(opts)
	require.NoError(t, err)
	return b
}

func TestSingleRecordRoundTrip(t *testing.T) {
	b := newTestBuilder(t, Options{})
	require.NoError(t, b.Add([]byte(reportLine("vmlinux-4.14", 1234))))

	doc, err := b.Build()
	require.NoError(t, err)
	require.Len(t, doc, 1)
	assert.Equal(t, cpuModel, doc[0].Model())

	// the document is consumable by the resolver as built and after a JSON round trip
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(doc))
	decoded, err := baseline.ReadDocument(&buf)
	require.NoError(t, err)

	for _, d := range []baseline.Document{doc, decoded} {
		r, err := baseline.NewResolver(d, cpuModel, "", map[string]string{
			"kernel": "vmlinux-4.14",
			"rootfs": "ubuntu-18.04",
			"config": "randread-bs4096-1vcpu",
		})
		require.NoError(t, err)

		e := r.Get("iops_read", "avg")
		require.NotNil(t, e)
		assert.Equal(t, 1234.0, e.Target)
		assert.Equal(t, 0.0, e.Delta)

		cpu := r.Get("cpu_utilization_vmm", "value")
		require.NotNil(t, cpu)
		assert.Equal(t, 40.0, cpu.Target)

		assert.Nil(t, r.Get("bw_read", "avg"))
	}
}

func TestAccumulatesAcrossRecords(t *testing.T) {
	b := newTestBuilder(t, Options{Keys: []string{"iops_read/avg"}})
	input := strings.Join([]string{
		reportLine("vmlinux-4.14", 900),
		"",
		reportLine("vmlinux-4.14", 1000),
		reportLine("vmlinux-4.14", 1100),
		reportLine("vmlinux-5.10", 2000),
	}, "\n")

	lines := 0
	require.NoError(t, b.AddFrom(strings.NewReader(input), func() { lines++ }))
	assert.Equal(t, 5, lines)

	leaf := b.tree.Child(cpuModel).Child("iops_read").Child("vmlinux-4.14").Child("ubuntu-18.04").Child("avg").Child("randread-bs4096-1vcpu")
	require.NotNil(t, leaf)
	assert.True(t, leaf.IsLeaf())
	assert.Equal(t, []float64{900, 1000, 1100}, leaf.Values())
	assert.Equal(t, []string{"vmlinux-4.14", "vmlinux-5.10"}, b.tree.Child(cpuModel).Child("iops_read").Keys())

	doc, err := b.Build()
	require.NoError(t, err)
	spec := doc[0]["iops_read"].(map[string]any)["vmlinux-4.14"].(map[string]any)["ubuntu-18.04"].(map[string]any)["avg"].(map[string]any)["randread-bs4096-1vcpu"].(baseline.Spec)
	assert.Equal(t, 1000.0, spec.Target)
	// 2 * 100 / 1000 -> 20%
	assert.Equal(t, 20.0, spec.DeltaPercentage)
}

func TestMinKernelFilter(t *testing.T) {
	b := newTestBuilder(t, Options{Keys: []string{"iops_read/avg"}, MinKernel: version.Must(version.NewVersion("5.10"))})
	require.NoError(t, b.Add([]byte(reportLine("vmlinux-4.14", 900))))
	require.NoError(t, b.Add([]byte(reportLine("vmlinux-5.10.bin", 1000))))

	assert.Equal(t, []string{"vmlinux-5.10.bin"}, b.tree.Child(cpuModel).Child("iops_read").Keys())
}

func TestMalformedRecords(t *testing.T) {
	cases := map[string]string{
		"not json":          `{"results":`,
		"missing results":   `{"custom":{"cpu_model_name":"x"}}`,
		"missing custom":    `{"results":{}}`,
		"missing cpu model": `{"results":{},"custom":{"kernel":"k"}}`,
		"bad tag":           `{"results":{"k/r":{}},"custom":{"cpu_model_name":"x"}}`,
		"measurement list":  `{"results":{"k/r/c":{"iops_read":[1,2]}},"custom":{"cpu_model_name":"x"}}`,
		"missing statistic": `{"results":{"k/r/c":{"iops_read":{"p50":1}}},"custom":{"cpu_model_name":"x"}}`,
		"string statistic":  `{"results":{"k/r/c":{"iops_read":{"avg":"1"}}},"custom":{"cpu_model_name":"x"}}`,
	}
	for name, line := range cases {
		t.Run(name, func(t *testing.T) {
			b := newTestBuilder(t, Options{Keys: []string{"iops_read/avg"}})
			assert.ErrorIs(t, b.Add([]byte(line)), ErrMalformedRecord)
		})
	}
}

func TestAbsentMeasurementIsSkipped(t *testing.T) {
	b := newTestBuilder(t, Options{Keys: []string{"bw_write/avg"}})
	require.NoError(t, b.Add([]byte(reportLine("vmlinux-4.14", 1))))
	doc, err := b.Build()
	require.NoError(t, err)
	assert.Empty(t, doc)
}

func TestTreeRejectsWrongDepth(t *testing.T) {
	tree := NewTree()
	assert.Error(t, tree.Append([]string{"cpu", "ms", "kernel"}, 1))
	assert.NoError(t, tree.Append([]string{"cpu", "ms", "kernel", "rootfs", "st", "config"}, 1))
	assert.Error(t, tree.Append([]string{"cpu", "ms", "kernel", "rootfs", "st", "config", "extra"}, 1))
}

func TestStrategies(t *testing.T) {
	mm, err := NewStrategy(KindMinMaxSpread, nil)
	require.NoError(t, err)
	spec, err := mm.CalculateBaseline([]float64{90, 110, 100})
	require.NoError(t, err)
	assert.Equal(t, 100.0, spec.Target)
	assert.Equal(t, 10.0, spec.DeltaPercentage)

	msd, err := NewStrategy(KindMeanStdDev, map[string]any{"sigmas": "3"})
	require.NoError(t, err)
	assert.Equal(t, 3.0, msd.(*MeanStdDev).Sigmas)

	spec, err = msd.CalculateBaseline([]float64{0, 0})
	require.NoError(t, err)
	assert.Equal(t, baseline.Spec{}, spec)

	_, err = msd.CalculateBaseline(nil)
	assert.Error(t, err)

	_, err = NewStrategy("median", nil)
	assert.Error(t, err)
	assert.Contains(t, ExplainStrategies(), `"mean_stddev"`)
}
