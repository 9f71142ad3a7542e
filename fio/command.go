package fio

import (
	"fmt"
	"strings"
)

// CmdBuilder assembles a shell command line one argument at a time.
type CmdBuilder struct {
	bin  string
	args []string
}

func NewCmdBuilder(bin string) *CmdBuilder {
	return &CmdBuilder{bin: bin}
}

func (b *CmdBuilder) WithArg(arg string) *CmdBuilder {
	b.args = append(b.args, arg)
	return b
}

func (b *CmdBuilder) Build() string {
	return strings.Join(append([]string{b.bin}, b.args...), " ")
}

const Binary = "fio"

// Params are the knobs of one fio run.
type Params struct {
	Mode      string
	BlockSize int
	Filename  string
	SizeMiB   int
	RampTime  int // seconds
	Runtime   int // seconds
	NumJobs   int
}

// LogPrefix is the prefix of the iops and bw logs of this run.
func (p Params) LogPrefix() string {
	return fmt.Sprintf("%s%d", p.Mode, p.BlockSize)
}

func (p Params) Command() string {
	prefix := p.LogPrefix()
	return NewCmdBuilder(Binary).
		WithArg(fmt.Sprintf("--name=%s-%d", p.Mode, p.BlockSize)).
		WithArg(fmt.Sprintf("--rw=%s", p.Mode)).
		WithArg(fmt.Sprintf("--bs=%d", p.BlockSize)).
		WithArg(fmt.Sprintf("--filename=%s", p.Filename)).
		WithArg("--time_base=1").
		WithArg(fmt.Sprintf("--size=%dM", p.SizeMiB)).
		WithArg("--direct=1").
		WithArg("--ioengine=libaio").
		WithArg("--iodepth=32").
		WithArg(fmt.Sprintf("--ramp_time=%d", p.RampTime)).
		WithArg(fmt.Sprintf("--numjobs=%d", p.NumJobs)).
		WithArg("--randrepeat=0").
		WithArg(fmt.Sprintf("--runtime=%d", p.Runtime)).
		WithArg(fmt.Sprintf("--write_iops_log=%s", prefix)).
		WithArg(fmt.Sprintf("--write_bw_log=%s", prefix)).
		WithArg("--log_avg_msec=1000").
		WithArg("--output-format=json+").
		Build()
}
