package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/GiorgioAcossi/wordpress-serverless/internal/synth"
)

func newGraphCmd(opts *globalOptions) *cobra.Command {
	var (
		outputFormat string
		cluster      bool
	)

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Render the resource dependency graph of a profile",
		Long: `Generate a DOT or Mermaid graph of the resources a profile registers.

The output can be rendered with Graphviz:
    wpstack graph -p prod | dot -Tpng -o prod.png

Or used in GitHub markdown (Mermaid format):
    wpstack graph -p dev -f mermaid

Examples:
    wpstack graph -p dev
    wpstack graph -p prod -c              # cluster by service`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(cmd.OutOrStdout(), opts, outputFormat, cluster)
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "format", "f", "dot", "Output format: dot or mermaid")
	cmd.Flags().BoolVarP(&cluster, "cluster", "c", false, "Cluster resources by AWS service")
	return cmd
}

func runGraph(w io.Writer, opts *globalOptions, format string, cluster bool) error {
	var graphFormat synth.Format
	switch format {
	case "dot":
		graphFormat = synth.FormatDOT
	case "mermaid":
		graphFormat = synth.FormatMermaid
	default:
		return fmt.Errorf("unknown format: %s (use 'dot' or 'mermaid')", format)
	}

	inv, err := synthesize(opts)
	if err != nil {
		return err
	}

	g := &synth.Grapher{Format: graphFormat, ClusterByService: cluster}
	if err := g.Render(inv, w); err != nil {
		return fmt.Errorf("rendering graph: %w", err)
	}
	return nil
}
