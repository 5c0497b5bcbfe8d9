package stack

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi/config"
)

// ProjectName is the Pulumi project name and the config namespace for profile fields.
const ProjectName = "wordpress-serverless"

// Profile keys.
const (
	ProfileDev  = "dev"
	ProfileProd = "prod"
)

var (
	// ErrMissingConfig is wrapped by every *ConfigError.
	ErrMissingConfig = errors.New("missing required configuration")
	// ErrUnknownProfile is returned for profile keys other than dev and prod.
	ErrUnknownProfile = errors.New("unknown profile")
)

// ConfigError reports a required profile field that is absent or blank.
type ConfigError struct {
	Profile string
	Field   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("profile %q: %s: %s:%s", e.Profile, ErrMissingConfig, ProjectName, e.Field)
}

func (e *ConfigError) Unwrap() error { return ErrMissingConfig }

// Variant is the deployment flavour of a profile. It is either Dev or Prod.
type Variant interface {
	variant()
}

// Dev serves the site from the CloudFront default domain over plain HTTP origins.
type Dev struct{}

// Prod serves the site from Domain with a DNS-validated certificate.
type Prod struct {
	Domain string
}

func (Dev) variant()  {}
func (Prod) variant() {}

// Profile is the resolved, typed configuration for one stack.
type Profile struct {
	Key     string
	Project string
	Env     string
	Image   string
	Variant Variant
}

// IsProd reports whether the profile deploys the production variant.
func (p Profile) IsProd() bool {
	_, ok := p.Variant.(Prod)
	return ok
}

// Prefix is the "{project}-{env}" stem every logical name derives from.
func (p Profile) Prefix() string {
	return p.Project + "-" + p.Env
}

// Lookup returns the raw value of a profile field and whether it was set.
type Lookup func(key string) (string, bool)

// ResolveProfile builds the Profile for key from lookup. The domain field is
// required for prod and ignored for dev.
func ResolveProfile(key string, lookup Lookup) (Profile, error) {
	if key != ProfileDev && key != ProfileProd {
		return Profile{}, fmt.Errorf("%w %q (expected %q or %q)", ErrUnknownProfile, key, ProfileDev, ProfileProd)
	}

	require := func(field string) (string, error) {
		v, ok := lookup(field)
		v = strings.TrimSpace(v)
		if !ok || v == "" {
			return "", &ConfigError{Profile: key, Field: field}
		}
		return v, nil
	}

	p := Profile{Key: key}
	var err error
	if p.Project, err = require("project"); err != nil {
		return Profile{}, err
	}
	if p.Env, err = require("env"); err != nil {
		return Profile{}, err
	}
	if p.Image, err = require("image"); err != nil {
		return Profile{}, err
	}

	if key == ProfileProd {
		domain, err := require("domain")
		if err != nil {
			return Profile{}, err
		}
		p.Variant = Prod{Domain: domain}
	} else {
		p.Variant = Dev{}
	}
	return p, nil
}

// profileFromConfig resolves the profile named after the current stack from
// the project's config namespace.
func profileFromConfig(ctx *pulumi.Context) (Profile, error) {
	cfg := config.New(ctx, ProjectName)
	return ResolveProfile(ctx.Stack(), func(key string) (string, bool) {
		v, err := cfg.Try(key)
		return v, err == nil
	})
}
