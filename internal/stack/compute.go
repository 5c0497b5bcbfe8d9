package stack

import (
	"encoding/json"
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/appautoscaling"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/cloudwatch"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/ec2"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/ecs"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/lb"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi/config"
)

const (
	containerPort      = 80
	containerMountPath = "/var/www/html"
	healthyHTTPCodes   = "200,301,302"

	minTasks = 2
	maxTasks = 50

	scalingTargetPercent = 75
	logRetentionDays     = 14
)

// Compute holds the container workload and its load balancer attachment.
type Compute struct {
	Cluster        *ecs.Cluster
	LogGroup       *cloudwatch.LogGroup
	TaskDefinition *ecs.TaskDefinition
	SecurityGroup  *ec2.SecurityGroup
	TargetGroup    *lb.TargetGroup
	Listener       *lb.Listener
	Service        *ecs.Service
	ScalingTarget  *appautoscaling.Target
	CPUScaling     *appautoscaling.Policy
	MemoryScaling  *appautoscaling.Policy
}

// listenerSpec is the public side of the load balancer listener.
type listenerSpec struct {
	Port           int
	Protocol       string
	CertificateArn pulumi.StringOutput
	TLS            bool
}

// listenerFor derives the public listener from the edge: HTTPS on 443 with
// the validated certificate when the edge carries TLS, HTTP on 80 otherwise.
func listenerFor(edge *Edge) listenerSpec {
	if edge.TLS == nil {
		return listenerSpec{Port: 80, Protocol: "HTTP"}
	}
	return listenerSpec{
		Port:           443,
		Protocol:       "HTTPS",
		CertificateArn: edge.TLS.CertificateArn(),
		TLS:            true,
	}
}

// validateScaling enforces 2 <= min <= max <= 50.
func validateScaling(min, max int) error {
	if min < minTasks || max > maxTasks || min > max {
		return fmt.Errorf("invalid task scaling bounds min=%d max=%d (want %d <= min <= max <= %d)", min, max, minTasks, maxTasks)
	}
	return nil
}

type keyValuePair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type secretRef struct {
	Name      string `json:"name"`
	ValueFrom string `json:"valueFrom"`
}

type portMapping struct {
	ContainerPort int    `json:"containerPort"`
	Protocol      string `json:"protocol"`
}

type mountPoint struct {
	SourceVolume  string `json:"sourceVolume"`
	ContainerPath string `json:"containerPath"`
	ReadOnly      bool   `json:"readOnly"`
}

type logConfiguration struct {
	LogDriver string            `json:"logDriver"`
	Options   map[string]string `json:"options"`
}

type containerDefinition struct {
	Name             string            `json:"name"`
	Image            string            `json:"image"`
	Essential        bool              `json:"essential"`
	PortMappings     []portMapping     `json:"portMappings"`
	Environment      []keyValuePair    `json:"environment"`
	Secrets          []secretRef       `json:"secrets"`
	MountPoints      []mountPoint      `json:"mountPoints"`
	LogConfiguration *logConfiguration `json:"logConfiguration,omitempty"`
}

// secretField references one JSON field of a Secrets Manager secret.
func secretField(secretArn, field string) string {
	return fmt.Sprintf("%s:%s::", secretArn, field)
}

// containerDefinitions renders the task's single WordPress container.
func containerDefinitions(p Profile, volume, dbHost, secretArn, logGroup, region string) (string, error) {
	defs := []containerDefinition{{
		Name:      p.name("container"),
		Image:     p.Image,
		Essential: true,
		PortMappings: []portMapping{
			{ContainerPort: containerPort, Protocol: "tcp"},
		},
		Environment: []keyValuePair{
			{Name: "WORDPRESS_DB_HOST", Value: dbHost},
			{Name: "WORDPRESS_TABLE_PREFIX", Value: "wp_"},
		},
		Secrets: []secretRef{
			{Name: "WORDPRESS_DB_USER", ValueFrom: secretField(secretArn, "username")},
			{Name: "WORDPRESS_DB_PASSWORD", ValueFrom: secretField(secretArn, "password")},
			{Name: "WORDPRESS_DB_NAME", ValueFrom: secretField(secretArn, "dbname")},
		},
		MountPoints: []mountPoint{
			{SourceVolume: volume, ContainerPath: containerMountPath, ReadOnly: false},
		},
		LogConfiguration: &logConfiguration{
			LogDriver: "awslogs",
			Options: map[string]string{
				"awslogs-group":         logGroup,
				"awslogs-region":        region,
				"awslogs-stream-prefix": p.Prefix(),
			},
		},
	}}
	b, err := json.Marshal(defs)
	return string(b), err
}

// createCompute creates the ECS cluster, the WordPress task and service, the
// listener that fronts it and its auto scaling policies.
func createCompute(ctx *pulumi.Context, p Profile, net *Network, data *Data, edge *Edge, roles *Roles) (*Compute, error) {
	if err := validateScaling(minTasks, maxTasks); err != nil {
		return nil, err
	}
	region, err := config.Try(ctx, "aws:region")
	if err != nil {
		return nil, fmt.Errorf("reading region: %w", err)
	}

	cluster, err := ecs.NewCluster(ctx, p.name("cluster"), &ecs.ClusterArgs{
		Tags: p.tags("cluster"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating ecs cluster: %w", err)
	}

	logGroup, err := cloudwatch.NewLogGroup(ctx, p.name("logs"), &cloudwatch.LogGroupArgs{
		RetentionInDays: pulumi.Int(logRetentionDays),
		Tags:            p.tags("logs"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating log group: %w", err)
	}

	volume := p.name("volume")
	defs := pulumi.All(data.Cluster.Endpoint, data.Secret.Arn, logGroup.Name).ApplyT(
		func(args []interface{}) (string, error) {
			return containerDefinitions(p, volume, args[0].(string), args[1].(string), args[2].(string), region)
		}).(pulumi.StringOutput)

	task, err := ecs.NewTaskDefinition(ctx, p.name("task"), &ecs.TaskDefinitionArgs{
		Family:                  pulumi.String(p.name("task")),
		Cpu:                     pulumi.String("256"),
		Memory:                  pulumi.String("512"),
		NetworkMode:             pulumi.String("awsvpc"),
		RequiresCompatibilities: pulumi.StringArray{pulumi.String("FARGATE")},
		TaskRoleArn:             roles.Task.Arn,
		ExecutionRoleArn:        roles.Execution.Arn,
		ContainerDefinitions:    defs,
		Volumes: ecs.TaskDefinitionVolumeArray{
			&ecs.TaskDefinitionVolumeArgs{
				Name: pulumi.String(volume),
				EfsVolumeConfiguration: &ecs.TaskDefinitionVolumeEfsVolumeConfigurationArgs{
					FileSystemId: data.FileSystem.ID(),
				},
			},
		},
		Tags: p.tags("task"),
	}, pulumi.DependsOn([]pulumi.Resource{roles.ExecutionPolicy}))
	if err != nil {
		return nil, fmt.Errorf("creating task definition: %w", err)
	}

	sg, err := ec2.NewSecurityGroup(ctx, p.name("service-sg"), &ec2.SecurityGroupArgs{
		VpcId:       net.Vpc.ID(),
		Description: pulumi.String("WordPress service tasks"),
		Tags:        p.tags("service-sg"),
	}, pulumi.Parent(net.Vpc))
	if err != nil {
		return nil, fmt.Errorf("creating service security group: %w", err)
	}

	_, err = ec2.NewSecurityGroupRule(ctx, p.name("service-egress"), &ec2.SecurityGroupRuleArgs{
		Type:            pulumi.String("egress"),
		SecurityGroupId: sg.ID(),
		Protocol:        pulumi.String("-1"),
		FromPort:        pulumi.Int(0),
		ToPort:          pulumi.Int(0),
		CidrBlocks:      pulumi.StringArray{pulumi.String("0.0.0.0/0")},
		Description:     pulumi.String("Allow all outbound traffic"),
	}, pulumi.Parent(sg))
	if err != nil {
		return nil, fmt.Errorf("creating service egress rule: %w", err)
	}

	targetGroup, err := lb.NewTargetGroup(ctx, p.name("tg"), &lb.TargetGroupArgs{
		Port:       pulumi.Int(containerPort),
		Protocol:   pulumi.String("HTTP"),
		TargetType: pulumi.String("ip"),
		VpcId:      net.Vpc.ID(),
		HealthCheck: &lb.TargetGroupHealthCheckArgs{
			Path:     pulumi.String("/"),
			Protocol: pulumi.String("HTTP"),
			Matcher:  pulumi.String(healthyHTTPCodes),
		},
		Tags: p.tags("tg"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating target group: %w", err)
	}

	spec := listenerFor(edge)
	listenerArgs := &lb.ListenerArgs{
		LoadBalancerArn: edge.LoadBalancer.Arn,
		Port:            pulumi.Int(spec.Port),
		Protocol:        pulumi.String(spec.Protocol),
		DefaultActions: lb.ListenerDefaultActionArray{
			&lb.ListenerDefaultActionArgs{
				Type:           pulumi.String("forward"),
				TargetGroupArn: targetGroup.Arn,
			},
		},
		Tags: p.tags("listener"),
	}
	if spec.TLS {
		listenerArgs.CertificateArn = spec.CertificateArn
		listenerArgs.SslPolicy = pulumi.String("ELBSecurityPolicy-TLS13-1-2-2021-06")
	}
	listener, err := lb.NewListener(ctx, p.name("listener"), listenerArgs, pulumi.Parent(edge.LoadBalancer))
	if err != nil {
		return nil, fmt.Errorf("creating listener: %w", err)
	}

	// The listener is open to the internet on its port.
	_, err = ec2.NewSecurityGroupRule(ctx, p.name("alb-listener-ingress"), &ec2.SecurityGroupRuleArgs{
		Type:            pulumi.String("ingress"),
		SecurityGroupId: edge.SecurityGroup.ID(),
		Protocol:        pulumi.String("tcp"),
		FromPort:        pulumi.Int(spec.Port),
		ToPort:          pulumi.Int(spec.Port),
		CidrBlocks:      pulumi.StringArray{pulumi.String("0.0.0.0/0")},
		Description:     pulumi.String("Public listener"),
	}, pulumi.Parent(edge.SecurityGroup))
	if err != nil {
		return nil, fmt.Errorf("creating listener ingress rule: %w", err)
	}

	serviceDeps := []pulumi.Resource{listener}
	for _, mt := range data.MountTargets {
		serviceDeps = append(serviceDeps, mt)
	}

	service, err := ecs.NewService(ctx, p.name("service"), &ecs.ServiceArgs{
		Cluster:         cluster.Arn,
		TaskDefinition:  task.Arn,
		DesiredCount:    pulumi.Int(minTasks),
		LaunchType:      pulumi.String("FARGATE"),
		PlatformVersion: pulumi.String("1.4.0"),
		NetworkConfiguration: &ecs.ServiceNetworkConfigurationArgs{
			Subnets:        net.PrivateSubnetIDs(),
			SecurityGroups: pulumi.StringArray{sg.ID()},
			AssignPublicIp: pulumi.Bool(false),
		},
		LoadBalancers: ecs.ServiceLoadBalancerArray{
			&ecs.ServiceLoadBalancerArgs{
				TargetGroupArn: targetGroup.Arn,
				ContainerName:  pulumi.String(p.name("container")),
				ContainerPort:  pulumi.Int(containerPort),
			},
		},
		Tags: p.tags("service"),
	}, pulumi.DependsOn(serviceDeps), pulumi.IgnoreChanges([]string{"desiredCount"}))
	if err != nil {
		return nil, fmt.Errorf("creating ecs service: %w", err)
	}

	target, err := appautoscaling.NewTarget(ctx, p.name("scaling-target"), &appautoscaling.TargetArgs{
		MinCapacity:       pulumi.Int(minTasks),
		MaxCapacity:       pulumi.Int(maxTasks),
		ResourceId:        pulumi.Sprintf("service/%s/%s", cluster.Name, service.Name),
		ScalableDimension: pulumi.String("ecs:service:DesiredCount"),
		ServiceNamespace:  pulumi.String("ecs"),
	}, pulumi.Parent(service))
	if err != nil {
		return nil, fmt.Errorf("creating scaling target: %w", err)
	}

	cpu, err := scalingPolicy(ctx, p, target, "cpu-scaling", "ECSServiceAverageCPUUtilization")
	if err != nil {
		return nil, err
	}
	memory, err := scalingPolicy(ctx, p, target, "memory-scaling", "ECSServiceAverageMemoryUtilization")
	if err != nil {
		return nil, err
	}

	return &Compute{
		Cluster:        cluster,
		LogGroup:       logGroup,
		TaskDefinition: task,
		SecurityGroup:  sg,
		TargetGroup:    targetGroup,
		Listener:       listener,
		Service:        service,
		ScalingTarget:  target,
		CPUScaling:     cpu,
		MemoryScaling:  memory,
	}, nil
}

// scalingPolicy tracks metric at scalingTargetPercent. Each policy scales out
// on its own.
func scalingPolicy(ctx *pulumi.Context, p Profile, target *appautoscaling.Target, suffix, metric string) (*appautoscaling.Policy, error) {
	policy, err := appautoscaling.NewPolicy(ctx, p.name(suffix), &appautoscaling.PolicyArgs{
		PolicyType:        pulumi.String("TargetTrackingScaling"),
		ResourceId:        target.ResourceId,
		ScalableDimension: target.ScalableDimension,
		ServiceNamespace:  target.ServiceNamespace,
		TargetTrackingScalingPolicyConfiguration: &appautoscaling.PolicyTargetTrackingScalingPolicyConfigurationArgs{
			TargetValue: pulumi.Float64(scalingTargetPercent),
			PredefinedMetricSpecification: &appautoscaling.PolicyTargetTrackingScalingPolicyConfigurationPredefinedMetricSpecificationArgs{
				PredefinedMetricType: pulumi.String(metric),
			},
		},
	}, pulumi.Parent(target))
	if err != nil {
		return nil, fmt.Errorf("creating %s policy: %w", suffix, err)
	}
	return policy, nil
}
