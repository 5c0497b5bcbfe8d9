package stack

import (
	"fmt"
	"regexp"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

const maxRoleNameLen = 64

var roleNamePattern = regexp.MustCompile(`^[\w+=,.@-]+$`)

// name returns the logical resource name "{project}-{env}-{suffix}".
func (p Profile) name(suffix string) string {
	return p.Prefix() + "-" + suffix
}

// tags returns the standard tag set for a resource with the given logical suffix.
func (p Profile) tags(suffix string) pulumi.StringMap {
	return pulumi.StringMap{
		"Name":        pulumi.String(p.name(suffix)),
		"Project":     pulumi.String(p.Project),
		"Environment": pulumi.String(p.Env),
	}
}

// roleName returns the physical IAM role name for the task role. IAM role
// names are global per account, so the name carries both project and env.
func roleName(project, env string) (string, error) {
	n := fmt.Sprintf("%s-%s-task-role", project, env)
	if len(n) > maxRoleNameLen {
		return "", fmt.Errorf("role name %q exceeds %d characters", n, maxRoleNameLen)
	}
	if !roleNamePattern.MatchString(n) {
		return "", fmt.Errorf("role name %q contains characters IAM does not allow", n)
	}
	return n, nil
}
