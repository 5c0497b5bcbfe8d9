package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/GiorgioAcossi/wordpress-serverless/internal/dbscan"
)

const dbEngine = "aurora-mysql"

func newStatusCmd(opts *globalOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show stack outputs and the live database state",
		Long: `Print the outputs of the profile's stack, then describe its database cluster
through the RDS API.

With --all, list every Aurora MySQL cluster in the profile's region instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd.OutOrStdout(), opts, all)
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "List every Aurora MySQL cluster in the region")
	return cmd
}

func runStatus(ctx context.Context, w io.Writer, opts *globalOptions, all bool) error {
	s, t, err := selectStack(ctx, opts)
	if err != nil {
		return err
	}

	outputs, err := s.Outputs(ctx)
	if err != nil {
		return fmt.Errorf("reading outputs of %s: %w", opts.profile, err)
	}
	if err := printOutputs(w, outputs); err != nil {
		return err
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(t.Region))
	if err != nil {
		return fmt.Errorf("loading aws config: %w", err)
	}
	api := rds.NewFromConfig(cfg)

	if all {
		clusters, err := dbscan.Scan(ctx, api, dbEngine, slog.Default())
		if err != nil {
			return err
		}
		return writeYAML(w, map[string]interface{}{"clusters": clusters})
	}

	id, ok := outputs["dbClusterIdentifier"].Value.(string)
	if !ok || id == "" {
		slog.Warn("stack has no dbClusterIdentifier output; has it been deployed?", "stack", s.Name())
		return nil
	}

	cluster, err := dbscan.Describe(ctx, api, id)
	if err != nil {
		return err
	}
	return writeYAML(w, map[string]interface{}{"database": cluster})
}

func writeYAML(w io.Writer, v interface{}) error {
	out, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("rendering status: %w", err)
	}
	_, err = w.Write(out)
	return err
}
