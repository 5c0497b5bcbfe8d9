package stack

import (
	"encoding/json"
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/ec2"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/iam"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

const (
	ecsTasksPrincipal      = "ecs-tasks.amazonaws.com"
	taskExecutionPolicyArn = "arn:aws:iam::aws:policy/service-role/AmazonECSTaskExecutionRolePolicy"
)

type policyDocument struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Effect    string            `json:"Effect"`
	Principal map[string]string `json:"Principal,omitempty"`
	Action    []string          `json:"Action"`
	Resource  []string          `json:"Resource,omitempty"`
}

// assumeRolePolicy returns a trust policy that only service can assume.
func assumeRolePolicy(service string) (string, error) {
	b, err := json.Marshal(policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Effect:    "Allow",
			Principal: map[string]string{"Service": service},
			Action:    []string{"sts:AssumeRole"},
		}},
	})
	return string(b), err
}

// allowPolicy returns a policy allowing actions on exactly the given resources.
func allowPolicy(actions []string, resources ...string) (string, error) {
	if len(resources) == 0 {
		return "", fmt.Errorf("policy for %v must name at least one resource", actions)
	}
	b, err := json.Marshal(policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Effect:   "Allow",
			Action:   actions,
			Resource: resources,
		}},
	})
	return string(b), err
}

// Roles are the identities the task definition runs with.
type Roles struct {
	Task            *iam.Role
	TaskPolicy      *iam.RolePolicy
	Execution       *iam.Role
	ExecutionPolicy *iam.RolePolicy
}

// createRoles creates the task role, which may act on the one database
// cluster, and the execution role ECS uses to pull the image, write logs and
// resolve the credential secret.
func createRoles(ctx *pulumi.Context, p Profile, data *Data) (*Roles, error) {
	trust, err := assumeRolePolicy(ecsTasksPrincipal)
	if err != nil {
		return nil, err
	}

	name, err := roleName(p.Project, p.Env)
	if err != nil {
		return nil, err
	}

	taskRole, err := iam.NewRole(ctx, p.name("task-role"), &iam.RoleArgs{
		Name:             pulumi.String(name),
		AssumeRolePolicy: pulumi.String(trust),
		Tags:             p.tags("task-role"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating task role: %w", err)
	}

	taskPolicy, err := iam.NewRolePolicy(ctx, p.name("rds-policy"), &iam.RolePolicyArgs{
		Role: taskRole.Name,
		Policy: data.Cluster.Arn.ApplyT(func(arn string) (string, error) {
			return allowPolicy([]string{"rds:*"}, arn)
		}).(pulumi.StringOutput),
	}, pulumi.Parent(taskRole))
	if err != nil {
		return nil, fmt.Errorf("creating task role policy: %w", err)
	}

	execRole, err := iam.NewRole(ctx, p.name("execution-role"), &iam.RoleArgs{
		AssumeRolePolicy: pulumi.String(trust),
		Tags:             p.tags("execution-role"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating execution role: %w", err)
	}

	_, err = iam.NewRolePolicyAttachment(ctx, p.name("execution-role-policy"), &iam.RolePolicyAttachmentArgs{
		Role:      execRole.Name,
		PolicyArn: pulumi.String(taskExecutionPolicyArn),
	}, pulumi.Parent(execRole))
	if err != nil {
		return nil, fmt.Errorf("attaching execution role policy: %w", err)
	}

	execPolicy, err := iam.NewRolePolicy(ctx, p.name("execution-secret-policy"), &iam.RolePolicyArgs{
		Role: execRole.Name,
		Policy: data.Secret.Arn.ApplyT(func(arn string) (string, error) {
			return allowPolicy([]string{"secretsmanager:GetSecretValue", "secretsmanager:DescribeSecret"}, arn)
		}).(pulumi.StringOutput),
	}, pulumi.Parent(execRole))
	if err != nil {
		return nil, fmt.Errorf("creating execution secret policy: %w", err)
	}

	return &Roles{
		Task:            taskRole,
		TaskPolicy:      taskPolicy,
		Execution:       execRole,
		ExecutionPolicy: execPolicy,
	}, nil
}

// Access holds the network grants between tiers.
type Access struct {
	Rules map[string]*ec2.SecurityGroupRule
}

type sgRule struct {
	name        string
	sg          *ec2.SecurityGroup
	kind        string
	port        int
	peer        *ec2.SecurityGroup
	cidr        string
	description string
}

// wireAccess opens the minimum network paths between the load balancer, the
// service, the database and the file system. The rules reference the
// service's security group and are ordered after the service itself.
func wireAccess(ctx *pulumi.Context, p Profile, data *Data, edge *Edge, compute *Compute) (*Access, error) {
	listener := listenerFor(edge)

	rules := []sgRule{
		{name: "alb-to-service", sg: edge.SecurityGroup, kind: "egress", port: containerPort, peer: compute.SecurityGroup, description: "Load balancer to service"},
		{name: "service-from-alb", sg: compute.SecurityGroup, kind: "ingress", port: containerPort, peer: edge.SecurityGroup, description: "Service from load balancer"},
		{name: "db-from-service", sg: data.DBSecurityGroup, kind: "ingress", port: dbPort, peer: compute.SecurityGroup, description: "Database from service"},
		{name: "fs-from-service", sg: data.FSSecurityGroup, kind: "ingress", port: efsPort, peer: compute.SecurityGroup, description: "File system from service"},
		{name: "alb-egress", sg: edge.SecurityGroup, kind: "egress", port: listener.Port, cidr: "0.0.0.0/0", description: "Load balancer egress"},
	}

	access := &Access{Rules: make(map[string]*ec2.SecurityGroupRule, len(rules))}
	for _, r := range rules {
		args := &ec2.SecurityGroupRuleArgs{
			Type:            pulumi.String(r.kind),
			SecurityGroupId: r.sg.ID(),
			Protocol:        pulumi.String("tcp"),
			FromPort:        pulumi.Int(r.port),
			ToPort:          pulumi.Int(r.port),
			Description:     pulumi.String(r.description),
		}
		if r.peer != nil {
			args.SourceSecurityGroupId = r.peer.ID()
		} else {
			args.CidrBlocks = pulumi.StringArray{pulumi.String(r.cidr)}
		}

		rule, err := ec2.NewSecurityGroupRule(ctx, p.name(r.name), args,
			pulumi.Parent(r.sg), pulumi.DependsOn([]pulumi.Resource{compute.Service}))
		if err != nil {
			return nil, fmt.Errorf("creating %s rule: %w", r.name, err)
		}
		access.Rules[r.name] = rule
	}

	return access, nil
}
