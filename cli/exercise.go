package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/Octogonapus/BlockBenchmark/baseline"
	"github.com/Octogonapus/BlockBenchmark/blockperf"
	"github.com/Octogonapus/BlockBenchmark/cpuid"
	"github.com/Octogonapus/BlockBenchmark/report"
	"github.com/Octogonapus/BlockBenchmark/target"
	"github.com/Octogonapus/BlockBenchmark/util"
)

type exerciseFlags struct {
	configPath  string
	baselines   string
	resultsFile string
	cpuModel    string

	guestIP   string
	guestUser string
	guestPort int
	sshKey    string
	vmmPid    int
	vcpus     int

	microvm string
	kernel  string
	rootfs  string
}

func exerciseCmd() *cobra.Command {
	f := &exerciseFlags{}
	cmd := &cobra.Command{
		Use:   "exercise",
		Short: "Run the fio block device exercise against a running microVM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runExercise(ctx, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.configPath, "config", "block_performance_test_config.json", "The test configuration file.")
	flags.StringVar(&f.baselines, "baselines", "", "The baseline document, a path or s3://bucket/key. Overrides baselines.location from the config.")
	flags.StringVar(&f.resultsFile, "results-file", "", "Append the report to this file (a path or s3://bucket/key) instead of failing on regressions.")
	flags.StringVar(&f.cpuModel, "cpu-model", "", "The host CPU model name. Read from /proc/cpuinfo by default.")
	flags.StringVar(&f.guestIP, "guest-ip", "", "The IP address of the guest.")
	flags.StringVar(&f.guestUser, "guest-user", "root", "The SSH user of the guest.")
	flags.IntVar(&f.guestPort, "guest-port", 22, "The SSH port of the guest.")
	flags.StringVar(&f.sshKey, "ssh-key", "", "The private key used to log into the guest.")
	flags.IntVar(&f.vmmPid, "vmm-pid", 0, "The pid of the VMM process on the host.")
	flags.IntVar(&f.vcpus, "vcpus", 1, "The number of vCPUs of the guest.")
	flags.StringVar(&f.microvm, "microvm", "", "The microVM artifact name.")
	flags.StringVar(&f.kernel, "kernel", "", "The guest kernel artifact name.")
	flags.StringVar(&f.rootfs, "rootfs", "", "The guest rootfs artifact name.")
	for _, name := range []string{"guest-ip", "ssh-key", "vmm-pid", "kernel", "rootfs"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func runExercise(ctx context.Context, f *exerciseFlags) error {
	cfg, err := blockperf.LoadConfig(f.configPath)
	if err != nil {
		return err
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithEC2IMDSRegion())
	if err != nil {
		return err
	}
	s3Client := s3.NewFromConfig(awsCfg)

	location := cfg.Baselines.Location
	if f.baselines != "" {
		location = f.baselines
	}
	var doc baseline.Document
	if location != "" {
		doc, err = baseline.LoadDocument(ctx, location, s3Client)
		if err != nil {
			return err
		}
	} else {
		slog.Warn("no baseline document configured, every check is informational")
	}

	host := &target.LocalTarget{}
	cpuModel := f.cpuModel
	if cpuModel == "" {
		cpuModel, err = cpuid.ModelName(ctx, host)
		if err != nil {
			return err
		}
	}

	guest, err := target.NewSSHTargetFromKeyFile(f.guestUser, f.guestIP, f.guestPort, f.sshKey)
	if err != nil {
		return err
	}

	dumper, err := newDumper(s3Client, f.resultsFile)
	if err != nil {
		return err
	}
	if dumper != nil {
		defer func() {
			err := dumper.Close(context.Background())
			if err != nil {
				slog.Error("failed to close results", slog.String("error", err.Error()))
			}
		}()
	}

	env := &blockperf.Environment{
		Guest:    guest,
		Host:     host,
		VMMPid:   f.vmmPid,
		VCPUs:    f.vcpus,
		Microvm:  f.microvm,
		Kernel:   f.kernel,
		Rootfs:   f.rootfs,
		CPUModel: cpuModel,
	}

	p := progressbar.Default(int64(cfg.PipeCount()), "Running pipes:")
	rep, err := blockperf.Run(ctx, env, cfg, doc, dumper, blockperf.Options{
		PipeDone: func(*report.PipeResult) { p.Add(1) },
	})
	p.Finish()
	if err != nil {
		return err
	}

	for _, fc := range rep.Failures() {
		slog.Error("out of tolerance", slog.String("check", fc.String()))
	}
	if !rep.Passed {
		return fmt.Errorf("%d comparison(s) out of tolerance", len(rep.Failures()))
	}
	slog.Info("exercise passed", slog.String("name", rep.Name))
	return nil
}

func newDumper(client *s3.Client, location string) (report.Dumper, error) {
	if location == "" {
		return nil, nil
	}
	bucket, key, isS3, err := util.ParseS3URI(location)
	if err != nil {
		return nil, err
	}
	if isS3 {
		return report.NewS3Dumper(client, bucket, key), nil
	}
	return report.NewFileDumper(location)
}
