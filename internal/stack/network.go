package stack

import (
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/ec2"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

const (
	vpcCIDR   = "10.0.0.0/16"
	zoneCount = 2
)

// Network holds the VPC and its per-zone subnets and NAT gateways.
type Network struct {
	Vpc             *ec2.Vpc
	PublicSubnets   []*ec2.Subnet
	PrivateSubnets  []*ec2.Subnet
	InternetGateway *ec2.InternetGateway
	NatGateways     []*ec2.NatGateway
}

// PublicSubnetIDs returns the IDs of the directly routable subnets.
func (n *Network) PublicSubnetIDs() pulumi.StringArray {
	return subnetIDs(n.PublicSubnets)
}

// PrivateSubnetIDs returns the IDs of the NAT-egress subnets.
func (n *Network) PrivateSubnetIDs() pulumi.StringArray {
	return subnetIDs(n.PrivateSubnets)
}

func subnetIDs(subnets []*ec2.Subnet) pulumi.StringArray {
	ids := make(pulumi.StringArray, 0, len(subnets))
	for _, s := range subnets {
		ids = append(ids, s.ID())
	}
	return ids
}

// subnetCIDR returns the /24 block at index within vpcCIDR. Public subnets
// take indexes [0, zoneCount), private subnets the next zoneCount.
func subnetCIDR(index int) string {
	return fmt.Sprintf("10.0.%d.0/24", index)
}

// createNetwork creates a VPC spanning two availability zones with one public
// and one private subnet per zone and a NAT gateway in each zone.
func createNetwork(ctx *pulumi.Context, p Profile) (*Network, error) {
	zones, err := aws.GetAvailabilityZones(ctx, &aws.GetAvailabilityZonesArgs{
		State: pulumi.StringRef("available"),
	})
	if err != nil {
		return nil, fmt.Errorf("looking up availability zones: %w", err)
	}
	if len(zones.Names) < zoneCount {
		return nil, fmt.Errorf("need %d availability zones, region has %d", zoneCount, len(zones.Names))
	}

	vpc, err := ec2.NewVpc(ctx, p.name("vpc"), &ec2.VpcArgs{
		CidrBlock:          pulumi.String(vpcCIDR),
		EnableDnsSupport:   pulumi.Bool(true),
		EnableDnsHostnames: pulumi.Bool(true),
		Tags:               p.tags("vpc"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating vpc: %w", err)
	}

	igw, err := ec2.NewInternetGateway(ctx, p.name("igw"), &ec2.InternetGatewayArgs{
		VpcId: vpc.ID(),
		Tags:  p.tags("igw"),
	}, pulumi.Parent(vpc))
	if err != nil {
		return nil, fmt.Errorf("creating internet gateway: %w", err)
	}

	// Public subnets share one route table with a default route to the IGW.
	publicRouteTable, err := ec2.NewRouteTable(ctx, p.name("public-rt"), &ec2.RouteTableArgs{
		VpcId: vpc.ID(),
		Routes: ec2.RouteTableRouteArray{
			&ec2.RouteTableRouteArgs{
				CidrBlock: pulumi.String("0.0.0.0/0"),
				GatewayId: igw.ID(),
			},
		},
		Tags: p.tags("public-rt"),
	}, pulumi.Parent(vpc))
	if err != nil {
		return nil, fmt.Errorf("creating public route table: %w", err)
	}

	net := &Network{Vpc: vpc, InternetGateway: igw}
	for i := 0; i < zoneCount; i++ {
		az := zones.Names[i]

		public, err := ec2.NewSubnet(ctx, p.name(fmt.Sprintf("public-subnet-%d", i+1)), &ec2.SubnetArgs{
			VpcId:               vpc.ID(),
			CidrBlock:           pulumi.String(subnetCIDR(i)),
			AvailabilityZone:    pulumi.String(az),
			MapPublicIpOnLaunch: pulumi.Bool(true),
			Tags:                p.tags(fmt.Sprintf("public-subnet-%d", i+1)),
		}, pulumi.Parent(vpc))
		if err != nil {
			return nil, fmt.Errorf("creating public subnet in %s: %w", az, err)
		}

		_, err = ec2.NewRouteTableAssociation(ctx, p.name(fmt.Sprintf("public-rt-assoc-%d", i+1)), &ec2.RouteTableAssociationArgs{
			SubnetId:     public.ID(),
			RouteTableId: publicRouteTable.ID(),
		}, pulumi.Parent(public))
		if err != nil {
			return nil, fmt.Errorf("associating public subnet in %s: %w", az, err)
		}

		eip, err := ec2.NewEip(ctx, p.name(fmt.Sprintf("nat-eip-%d", i+1)), &ec2.EipArgs{
			Vpc:  pulumi.Bool(true),
			Tags: p.tags(fmt.Sprintf("nat-eip-%d", i+1)),
		}, pulumi.Parent(public))
		if err != nil {
			return nil, fmt.Errorf("creating nat eip in %s: %w", az, err)
		}

		nat, err := ec2.NewNatGateway(ctx, p.name(fmt.Sprintf("nat-%d", i+1)), &ec2.NatGatewayArgs{
			AllocationId: eip.ID(),
			SubnetId:     public.ID(),
			Tags:         p.tags(fmt.Sprintf("nat-%d", i+1)),
		}, pulumi.Parent(public), pulumi.DependsOn([]pulumi.Resource{igw}))
		if err != nil {
			return nil, fmt.Errorf("creating nat gateway in %s: %w", az, err)
		}

		private, err := ec2.NewSubnet(ctx, p.name(fmt.Sprintf("private-subnet-%d", i+1)), &ec2.SubnetArgs{
			VpcId:            vpc.ID(),
			CidrBlock:        pulumi.String(subnetCIDR(zoneCount + i)),
			AvailabilityZone: pulumi.String(az),
			Tags:             p.tags(fmt.Sprintf("private-subnet-%d", i+1)),
		}, pulumi.Parent(vpc))
		if err != nil {
			return nil, fmt.Errorf("creating private subnet in %s: %w", az, err)
		}

		// Private subnets only leave the VPC through the NAT gateway in their zone.
		privateRouteTable, err := ec2.NewRouteTable(ctx, p.name(fmt.Sprintf("private-rt-%d", i+1)), &ec2.RouteTableArgs{
			VpcId: vpc.ID(),
			Routes: ec2.RouteTableRouteArray{
				&ec2.RouteTableRouteArgs{
					CidrBlock:    pulumi.String("0.0.0.0/0"),
					NatGatewayId: nat.ID(),
				},
			},
			Tags: p.tags(fmt.Sprintf("private-rt-%d", i+1)),
		}, pulumi.Parent(vpc))
		if err != nil {
			return nil, fmt.Errorf("creating private route table in %s: %w", az, err)
		}

		_, err = ec2.NewRouteTableAssociation(ctx, p.name(fmt.Sprintf("private-rt-assoc-%d", i+1)), &ec2.RouteTableAssociationArgs{
			SubnetId:     private.ID(),
			RouteTableId: privateRouteTable.ID(),
		}, pulumi.Parent(private))
		if err != nil {
			return nil, fmt.Errorf("associating private subnet in %s: %w", az, err)
		}

		net.PublicSubnets = append(net.PublicSubnets, public)
		net.PrivateSubnets = append(net.PrivateSubnets, private)
		net.NatGateways = append(net.NatGateways, nat)
	}

	return net, nil
}
