package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/GiorgioAcossi/wordpress-serverless/internal/stack"
	"github.com/GiorgioAcossi/wordpress-serverless/internal/synth"
)

const defaultRegion = "us-east-1"

func newSynthCmd(opts *globalOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Print the resources a profile registers",
		Long: `Run the stack program against an in-process mock engine and print every
resource it registers, with inputs and dependencies.

Nothing is deployed and no credentials are needed. Secrets are redacted.

Examples:
    wpstack synth -p dev
    wpstack synth -p prod -f json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSynth(cmd.OutOrStdout(), opts, format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "Output format: yaml or json")
	return cmd
}

func runSynth(w io.Writer, opts *globalOptions, format string) error {
	inv, err := synthesize(opts)
	if err != nil {
		return err
	}

	var out []byte
	switch format {
	case "yaml":
		out, err = inv.YAML()
	case "json":
		out, err = inv.JSON()
	default:
		return fmt.Errorf("unknown format: %s (use 'yaml' or 'json')", format)
	}
	if err != nil {
		return fmt.Errorf("rendering inventory: %w", err)
	}

	_, err = w.Write(out)
	return err
}

// synthesize runs the stack program for the selected profile against mocks,
// using the committed stack config plus the region from the environment.
func synthesize(opts *globalOptions) (*synth.Inventory, error) {
	cfg, err := synth.LoadStackConfig(opts.dir, opts.profile)
	if err != nil {
		return nil, err
	}
	if _, ok := cfg["aws:region"]; !ok {
		region := os.Getenv("AWS_REGION")
		if region == "" {
			region = defaultRegion
		}
		cfg["aws:region"] = region
	}

	slog.Debug("synthesizing", "profile", opts.profile, "region", cfg["aws:region"])
	inv, err := synth.Synthesize(synth.Options{
		Project: stack.ProjectName,
		Stack:   opts.profile,
		Config:  cfg,
	}, stack.Program)
	if err != nil {
		return nil, err
	}
	slog.Debug("synthesized", "profile", opts.profile, "resources", len(inv.Resources))
	counts := inv.Counts()
	types := make([]string, 0, len(counts))
	for typ := range counts {
		types = append(types, typ)
	}
	sort.Strings(types)
	for _, typ := range types {
		slog.Debug("resource type", "type", typ, "count", counts[typ])
	}
	return inv, nil
}
