// Command wpstack drives the WordPress serverless stacks.
//
// Usage:
//
//	wpstack synth -p dev              Print the resources the dev stack registers
//	wpstack graph -p prod -f mermaid  Render the prod dependency graph
//	wpstack preview -p dev            Show the changes an update would make
//	wpstack up -p prod                Deploy the prod stack
//	wpstack destroy -p dev            Tear the dev stack down
//	wpstack status -p prod            Show stack outputs and database state
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// globalOptions are the flags shared by every command.
type globalOptions struct {
	profile string
	dir     string
	envFile string
	verbose bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "wpstack",
		Short: "Synthesize and deploy the WordPress serverless stacks",
		Long: `wpstack drives the dev and prod WordPress serverless stacks.

Account and region come from the environment (or a .env file):

    AWS_ACCOUNT_DEV   account the dev stack deploys to
    AWS_ACCOUNT_PROD  account the prod stack deploys to
    AWS_REGION        region for stacks whose Pulumi.<stack>.yaml does not
                      pin aws:region

synth and graph run offline against a mock engine; preview, up, destroy and
status talk to Pulumi and AWS. preview and status only read existing stacks.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(opts.verbose)
			return loadEnvFile(opts.envFile)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.profile, "profile", "p", "dev", "Profile (stack) to operate on: dev or prod")
	rootCmd.PersistentFlags().StringVar(&opts.dir, "dir", ".", "Directory containing Pulumi.yaml")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Dotenv file to load before running")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(
		newSynthCmd(opts),
		newGraphCmd(opts),
		newPreviewCmd(opts),
		newUpCmd(opts),
		newDestroyCmd(opts),
		newStatusCmd(opts),
	)
	return rootCmd
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// loadEnvFile loads path into the process environment. A missing file is not
// an error; variables already set win over the file.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Debug("no env file", "path", path)
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	slog.Debug("loaded env file", "path", path)
	return nil
}
