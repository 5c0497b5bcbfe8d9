// Package stack assembles the WordPress serverless topology for one profile.
//
// The stages run in a fixed order, each consuming the handles produced by the
// ones before it: profile, network, data, edge, roles, compute, access.
package stack

import (
	"fmt"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

// Topology is every handle produced by one run.
type Topology struct {
	Profile Profile
	Network *Network
	Data    *Data
	Edge    *Edge
	Roles   *Roles
	Compute *Compute
	Access  *Access
}

// Program is the Pulumi program: it assembles the topology for the current
// stack and exports its outputs.
func Program(ctx *pulumi.Context) error {
	t, err := Run(ctx)
	if err != nil {
		return err
	}
	t.Export(ctx)
	return nil
}

// Run resolves the profile from the stack config and registers the topology.
func Run(ctx *pulumi.Context) (*Topology, error) {
	p, err := profileFromConfig(ctx)
	if err != nil {
		return nil, err
	}
	return Build(ctx, p)
}

// Build registers the topology for an already resolved profile.
func Build(ctx *pulumi.Context, p Profile) (*Topology, error) {
	if p.Variant == nil {
		return nil, fmt.Errorf("profile %q has no variant", p.Key)
	}
	ctx.Log.Info(fmt.Sprintf("assembling %s (%s variant)", p.Prefix(), p.Key), nil)

	t := &Topology{Profile: p}
	var err error

	// 1. Network
	if t.Network, err = createNetwork(ctx, p); err != nil {
		return nil, err
	}

	// 2. Database and shared file system
	if t.Data, err = createData(ctx, p, t.Network); err != nil {
		return nil, err
	}

	// 3. Load balancer, CDN and, for prod, the custom domain
	if t.Edge, err = createEdge(ctx, p, t.Network); err != nil {
		return nil, err
	}

	// 4. IAM
	if t.Roles, err = createRoles(ctx, p, t.Data); err != nil {
		return nil, err
	}

	// 5. Containers
	if t.Compute, err = createCompute(ctx, p, t.Network, t.Data, t.Edge, t.Roles); err != nil {
		return nil, err
	}

	// 6. Security group rules between tiers
	if t.Access, err = wireAccess(ctx, p, t.Data, t.Edge, t.Compute); err != nil {
		return nil, err
	}

	return t, nil
}

// Export publishes the stack outputs operators and wpstack status read back.
func (t *Topology) Export(ctx *pulumi.Context) {
	ctx.Export("vpcId", t.Network.Vpc.ID())
	ctx.Export("albDnsName", t.Edge.LoadBalancer.DnsName)
	ctx.Export("distributionDomainName", t.Edge.Distribution.DomainName)

	ctx.Export("dbClusterIdentifier", t.Data.Cluster.ClusterIdentifier)
	ctx.Export("dbEndpoint", t.Data.Cluster.Endpoint)
	ctx.Export("fileSystemId", t.Data.FileSystem.ID())

	ctx.Export("clusterName", t.Compute.Cluster.Name)
	ctx.Export("serviceName", t.Compute.Service.Name)
	ctx.Export("taskRoleName", t.Roles.Task.Name)

	if tls := t.Edge.TLS; tls != nil {
		ctx.Export("hostedZoneNameServers", tls.Zone.NameServers)
		ctx.Export("certificateArn", tls.CertificateArn())
	}
}
