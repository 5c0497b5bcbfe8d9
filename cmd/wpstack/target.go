package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/GiorgioAcossi/wordpress-serverless/internal/stack"
	"github.com/GiorgioAcossi/wordpress-serverless/internal/synth"
)

// target is the AWS account and region a profile deploys to. Pinned is set
// when the region comes from the stack file rather than the environment.
type target struct {
	Profile string
	Account string
	Region  string
	Pinned  bool
}

var accountEnv = map[string]string{
	stack.ProfileDev:  "AWS_ACCOUNT_DEV",
	stack.ProfileProd: "AWS_ACCOUNT_PROD",
}

// resolveTarget maps profile to its account and region using getenv. A
// region pinned in the stack file wins over AWS_REGION.
func resolveTarget(profile, pinnedRegion string, getenv func(string) string) (target, error) {
	key, ok := accountEnv[profile]
	if !ok {
		return target{}, fmt.Errorf("%w %q", stack.ErrUnknownProfile, profile)
	}

	t := target{Profile: profile, Account: getenv(key), Region: getenv("AWS_REGION")}
	if t.Account == "" {
		return target{}, fmt.Errorf("%s is not set", key)
	}
	if pinnedRegion != "" {
		if t.Region != "" && t.Region != pinnedRegion {
			slog.Warn("stack file pins the region, ignoring AWS_REGION",
				"profile", profile, "region", pinnedRegion, "AWS_REGION", t.Region)
		}
		t.Region, t.Pinned = pinnedRegion, true
	}
	if t.Region == "" {
		return target{}, fmt.Errorf("AWS_REGION is not set")
	}
	return t, nil
}

// loadTarget resolves the profile's target from the stack file in dir and the
// process environment.
func loadTarget(opts *globalOptions) (target, error) {
	cfg, err := synth.LoadStackConfig(opts.dir, opts.profile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return target{}, err
	}
	return resolveTarget(opts.profile, cfg["aws:region"], os.Getenv)
}

// allowedAccounts is the JSON list the aws provider reads from
// aws:allowedAccountIds.
func (t target) allowedAccounts() string {
	b, _ := json.Marshal([]string{t.Account})
	return string(b)
}

type stsAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// preflight fails unless the ambient credentials belong to the target account.
func preflight(ctx context.Context, api stsAPI, t target) error {
	id, err := api.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return fmt.Errorf("checking caller identity: %w", err)
	}
	if got := aws.ToString(id.Account); got != t.Account {
		return fmt.Errorf("credentials are for account %s, profile %s deploys to %s", got, t.Profile, t.Account)
	}
	return nil
}
