package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/pulumi/pulumi/sdk/v3/go/auto"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optdestroy"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optpreview"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optup"
	"github.com/pulumi/pulumi/sdk/v3/go/common/apitype"
	"github.com/spf13/cobra"
)

// openStack selects (creating if needed) the profile's stack in the local
// project and pins it to the profile's account, and to its region unless the
// stack file already pins one.
func openStack(ctx context.Context, opts *globalOptions) (auto.Stack, target, error) {
	t, err := loadTarget(opts)
	if err != nil {
		return auto.Stack{}, target{}, err
	}

	s, err := auto.UpsertStackLocalSource(ctx, opts.profile, opts.dir)
	if err != nil {
		return auto.Stack{}, target{}, fmt.Errorf("selecting stack %s: %w", opts.profile, err)
	}

	if !t.Pinned {
		if err := s.SetConfig(ctx, "aws:region", auto.ConfigValue{Value: t.Region}); err != nil {
			return auto.Stack{}, target{}, fmt.Errorf("setting aws:region: %w", err)
		}
	}
	if err := s.SetConfig(ctx, "aws:allowedAccountIds", auto.ConfigValue{Value: t.allowedAccounts()}); err != nil {
		return auto.Stack{}, target{}, fmt.Errorf("setting aws:allowedAccountIds: %w", err)
	}

	slog.Debug("stack ready", "stack", s.Name(), "account", t.Account, "region", t.Region)
	return s, t, nil
}

// selectStack selects an existing stack for read-only commands. It neither
// creates the stack nor writes its config.
func selectStack(ctx context.Context, opts *globalOptions) (auto.Stack, target, error) {
	t, err := loadTarget(opts)
	if err != nil {
		return auto.Stack{}, target{}, err
	}

	s, err := auto.SelectStackLocalSource(ctx, opts.profile, opts.dir)
	if err != nil {
		return auto.Stack{}, target{}, fmt.Errorf("selecting stack %s (run up first?): %w", opts.profile, err)
	}
	return s, t, nil
}

// checkCredentials runs the account preflight with the ambient AWS credentials.
func checkCredentials(ctx context.Context, t target) error {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(t.Region))
	if err != nil {
		return fmt.Errorf("loading aws config: %w", err)
	}
	return preflight(ctx, sts.NewFromConfig(cfg), t)
}

func newPreviewCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "preview",
		Short: "Show the changes an update would make",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreview(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
}

func runPreview(ctx context.Context, w io.Writer, opts *globalOptions) error {
	s, _, err := selectStack(ctx, opts)
	if err != nil {
		return err
	}

	res, err := s.Preview(ctx, optpreview.ProgressStreams(w))
	if err != nil {
		return fmt.Errorf("previewing %s: %w", opts.profile, err)
	}

	ops := make([]apitype.OpType, 0, len(res.ChangeSummary))
	for op := range res.ChangeSummary {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	for _, op := range ops {
		slog.Info("planned", "op", string(op), "count", res.ChangeSummary[op])
	}
	return nil
}

func newUpCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Deploy the profile's stack",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUp(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
}

func runUp(ctx context.Context, w io.Writer, opts *globalOptions) error {
	s, t, err := openStack(ctx, opts)
	if err != nil {
		return err
	}
	if err := checkCredentials(ctx, t); err != nil {
		return err
	}

	res, err := s.Up(ctx, optup.ProgressStreams(w))
	if err != nil {
		return fmt.Errorf("updating %s: %w", opts.profile, err)
	}

	slog.Info("stack updated", "stack", s.Name(), "result", res.Summary.Result)
	return printOutputs(w, res.Outputs)
}

func newDestroyCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "destroy",
		Short: "Tear down every resource of the profile's stack",
		Long: `Tear down every resource of the profile's stack.

The database cluster has deletion protection off and skips its final snapshot,
so its data is lost.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDestroy(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
}

func runDestroy(ctx context.Context, w io.Writer, opts *globalOptions) error {
	s, t, err := openStack(ctx, opts)
	if err != nil {
		return err
	}
	if err := checkCredentials(ctx, t); err != nil {
		return err
	}

	res, err := s.Destroy(ctx, optdestroy.ProgressStreams(w))
	if err != nil {
		return fmt.Errorf("destroying %s: %w", opts.profile, err)
	}
	slog.Info("stack destroyed", "stack", s.Name(), "result", res.Summary.Result)
	return nil
}

// printOutputs writes stack outputs sorted by name. Secret values are masked.
func printOutputs(w io.Writer, outputs auto.OutputMap) error {
	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v := outputs[name]
		value := fmt.Sprint(v.Value)
		if v.Secret {
			value = "[secret]"
		}
		if _, err := fmt.Fprintf(w, "%-24s %s\n", name, value); err != nil {
			return err
		}
	}
	return nil
}
