package blockperf

import (
	"github.com/mitchellh/mapstructure"

	"github.com/Octogonapus/BlockBenchmark/target"
)

// Environment is the microVM under test and the host it runs on.
type Environment struct {
	Guest  target.Target
	Host   target.Target
	VMMPid int
	VCPUs  int

	Microvm  string
	Kernel   string
	Rootfs   string
	CPUModel string
}

func (e *Environment) EnvID() string {
	return e.Kernel + "/" + e.Rootfs
}

type customContext struct {
	Microvm      string `mapstructure:"microvm"`
	Kernel       string `mapstructure:"kernel"`
	Disk         string `mapstructure:"disk"`
	CPUModelName string `mapstructure:"cpu_model_name"`
}

// Custom is the context recorded with every report of this environment.
func (e *Environment) Custom() (map[string]any, error) {
	out := map[string]any{}
	err := mapstructure.Decode(customContext{
		Microvm:      e.Microvm,
		Kernel:       e.Kernel,
		Disk:         e.Rootfs,
		CPUModelName: e.CPUModel,
	}, &out)
	return out, err
}
