package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/hashicorp/go-version"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	baselinebuilder "github.com/Octogonapus/BlockBenchmark/baseline_builder"
)

func baselinesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "baselines",
		Short: "Work with baseline documents.",
	}
	cmd.AddCommand(baselinesBuildCmd())
	return cmd
}

type buildFlags struct {
	inputs       []string
	output       string
	keys         []string
	strategy     string
	strategyOpts []string
	minKernel    string
}

func baselinesBuildCmd() *cobra.Command {
	f := &buildFlags{}
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Compute a baseline document from historical exercise reports (JSON lines).",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(f)
		},
	}

	flags := cmd.Flags()
	flags.StringArrayVar(&f.inputs, "input", nil, "A JSON lines file of exercise reports, or - for stdin. Can be used multiple times.")
	flags.StringVar(&f.output, "output", "baselines.json", "Where to write the baseline document.")
	flags.StringSliceVar(&f.keys, "keys", baselinebuilder.DefaultKeys, "The measurement/statistic pairs to compute baselines for.")
	flags.StringVar(&f.strategy, "strategy", string(baselinebuilder.KindMeanStdDev), fmt.Sprintf("How baselines are computed. Must be one of: %s.", baselinebuilder.ExplainStrategies()))
	flags.StringArrayVar(&f.strategyOpts, "strategy-opt", nil, "A key=value strategy option, e.g. sigmas=3. Can be used multiple times.")
	flags.StringVar(&f.minKernel, "min-kernel", "", "Ignore results of kernels older than this version.")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func parseOptions(kvs []string) (map[string]any, error) {
	opts := map[string]any{}
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("strategy option %q is not key=value", kv)
		}
		opts[k] = v
	}
	return opts, nil
}

func runBuild(f *buildFlags) error {
	opts, err := parseOptions(f.strategyOpts)
	if err != nil {
		return err
	}
	strategy, err := baselinebuilder.NewStrategy(baselinebuilder.StrategyKind(f.strategy), opts)
	if err != nil {
		return err
	}

	var minKernel *version.Version
	if f.minKernel != "" {
		minKernel, err = version.NewVersion(f.minKernel)
		if err != nil {
			return fmt.Errorf("bad --min-kernel: %w", err)
		}
	}

	b, err := baselinebuilder.NewBuilder(baselinebuilder.Options{
		Keys:      f.keys,
		Strategy:  strategy,
		MinKernel: minKernel,
	})
	if err != nil {
		return err
	}

	p := progressbar.Default(-1, "Ingesting reports:")
	for _, input := range f.inputs {
		err = ingest(b, input, func() { p.Add(1) })
		if err != nil {
			return fmt.Errorf("%s: %w", input, err)
		}
	}
	p.Finish()

	doc, err := b.Build()
	if err != nil {
		return err
	}

	buf, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	err = os.WriteFile(f.output, append(buf, '\n'), 0o644)
	if err != nil {
		return err
	}
	slog.Info("wrote baselines", slog.String("output", f.output), slog.Int("cpu_models", len(doc)))
	return nil
}

func ingest(b *baselinebuilder.Builder, input string, progress func()) error {
	var r io.Reader = os.Stdin
	if input != "-" {
		file, err := os.Open(input)
		if err != nil {
			return err
		}
		defer file.Close()
		r = file
	}
	return b.AddFrom(r, progress)
}
