package stack

import (
	"errors"
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/acm"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/cloudfront"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/ec2"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/lb"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/route53"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi/config"
)

// Managed "CachingOptimized" cache policy.
const cachingOptimizedPolicyID = "658327ea-f89d-4fab-a63d-7e88639e58f6"

// CloudFront only accepts viewer certificates issued in this region.
const cloudfrontCertRegion = "us-east-1"

// ErrCertificateRegion is returned when the prod variant would issue its
// certificate outside cloudfrontCertRegion.
var ErrCertificateRegion = errors.New("cloudfront certificate must be issued in " + cloudfrontCertRegion)

const (
	originProtocolHTTPS = "https-only"
	originProtocolHTTP  = "http-only"
)

// TLS is the prod-only custom domain: hosted zone, certificate and the
// validation that gates every consumer of the certificate.
type TLS struct {
	Domain      string
	Zone        *route53.Zone
	Certificate *acm.Certificate
	Validation  *acm.CertificateValidation
}

// CertificateArn resolves only once DNS validation has completed.
func (t *TLS) CertificateArn() pulumi.StringOutput {
	return t.Validation.CertificateArn
}

// Edge holds the public entry points. TLS is nil for the dev variant.
type Edge struct {
	LoadBalancer  *lb.LoadBalancer
	SecurityGroup *ec2.SecurityGroup
	TLS           *TLS
	Distribution  *cloudfront.Distribution
}

// originProtocolPolicy returns how CloudFront reaches the load balancer.
func originProtocolPolicy(tls *TLS) string {
	if tls == nil {
		return originProtocolHTTP
	}
	return originProtocolHTTPS
}

// createEdge creates the internet-facing load balancer and the CloudFront
// distribution in front of it. The prod variant also gets a hosted zone and a
// DNS-validated certificate for its domain.
func createEdge(ctx *pulumi.Context, p Profile, net *Network) (*Edge, error) {
	sg, err := ec2.NewSecurityGroup(ctx, p.name("alb-sg"), &ec2.SecurityGroupArgs{
		VpcId:       net.Vpc.ID(),
		Description: pulumi.String("Public application load balancer"),
		Tags:        p.tags("alb-sg"),
	}, pulumi.Parent(net.Vpc))
	if err != nil {
		return nil, fmt.Errorf("creating load balancer security group: %w", err)
	}

	alb, err := lb.NewLoadBalancer(ctx, p.name("alb"), &lb.LoadBalancerArgs{
		LoadBalancerType: pulumi.String("application"),
		Internal:         pulumi.Bool(false),
		SecurityGroups:   pulumi.StringArray{sg.ID()},
		Subnets:          net.PublicSubnetIDs(),
		Tags:             p.tags("alb"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating load balancer: %w", err)
	}

	edge := &Edge{LoadBalancer: alb, SecurityGroup: sg}

	switch v := p.Variant.(type) {
	case Prod:
		if region := config.New(ctx, "aws").Get("region"); region != cloudfrontCertRegion {
			return nil, fmt.Errorf("profile %q: %w, aws:region is %q", p.Key, ErrCertificateRegion, region)
		}
		if edge.TLS, err = createTLS(ctx, p, v.Domain); err != nil {
			return nil, err
		}
	case Dev:
	default:
		return nil, fmt.Errorf("unsupported profile variant %T", v)
	}

	edge.Distribution, err = cloudfront.NewDistribution(ctx, p.name("distribution"), distributionArgs(p, alb, edge.TLS))
	if err != nil {
		return nil, fmt.Errorf("creating distribution: %w", err)
	}

	return edge, nil
}

// createTLS creates the public zone for domain and a certificate validated
// through a DNS record in that zone.
func createTLS(ctx *pulumi.Context, p Profile, domain string) (*TLS, error) {
	zone, err := route53.NewZone(ctx, p.name("hosted-zone"), &route53.ZoneArgs{
		Name: pulumi.String(domain),
		Tags: p.tags("hosted-zone"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating hosted zone for %s: %w", domain, err)
	}

	cert, err := acm.NewCertificate(ctx, p.name("certificate"), &acm.CertificateArgs{
		DomainName:       pulumi.String(domain),
		ValidationMethod: pulumi.String("DNS"),
		Tags:             p.tags("certificate"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating certificate for %s: %w", domain, err)
	}

	option := cert.DomainValidationOptions.Index(pulumi.Int(0))
	record, err := route53.NewRecord(ctx, p.name("certificate-validation-record"), &route53.RecordArgs{
		ZoneId:         zone.ZoneId,
		Name:           option.ResourceRecordName().Elem(),
		Type:           option.ResourceRecordType().Elem(),
		Records:        pulumi.StringArray{option.ResourceRecordValue().Elem()},
		Ttl:            pulumi.Int(60),
		AllowOverwrite: pulumi.Bool(true),
	}, pulumi.Parent(cert))
	if err != nil {
		return nil, fmt.Errorf("creating certificate validation record: %w", err)
	}

	validation, err := acm.NewCertificateValidation(ctx, p.name("certificate-validation"), &acm.CertificateValidationArgs{
		CertificateArn:        cert.Arn,
		ValidationRecordFqdns: pulumi.StringArray{record.Fqdn},
	}, pulumi.Parent(cert))
	if err != nil {
		return nil, fmt.Errorf("creating certificate validation: %w", err)
	}

	return &TLS{Domain: domain, Zone: zone, Certificate: cert, Validation: validation}, nil
}

func distributionArgs(p Profile, alb *lb.LoadBalancer, tls *TLS) *cloudfront.DistributionArgs {
	originID := p.name("alb-origin")

	args := &cloudfront.DistributionArgs{
		Enabled:     pulumi.Bool(true),
		Comment:     pulumi.String(p.Prefix()),
		PriceClass:  pulumi.String("PriceClass_All"),
		HttpVersion: pulumi.String("http2"),
		Origins: cloudfront.DistributionOriginArray{
			&cloudfront.DistributionOriginArgs{
				OriginId:   pulumi.String(originID),
				DomainName: alb.DnsName,
				CustomOriginConfig: &cloudfront.DistributionOriginCustomOriginConfigArgs{
					HttpPort:             pulumi.Int(80),
					HttpsPort:            pulumi.Int(443),
					OriginProtocolPolicy: pulumi.String(originProtocolPolicy(tls)),
					OriginSslProtocols:   pulumi.StringArray{pulumi.String("TLSv1.2")},
				},
			},
		},
		DefaultCacheBehavior: &cloudfront.DistributionDefaultCacheBehaviorArgs{
			TargetOriginId:       pulumi.String(originID),
			ViewerProtocolPolicy: pulumi.String("allow-all"),
			AllowedMethods:       pulumi.StringArray{pulumi.String("GET"), pulumi.String("HEAD")},
			CachedMethods:        pulumi.StringArray{pulumi.String("GET"), pulumi.String("HEAD")},
			CachePolicyId:        pulumi.String(cachingOptimizedPolicyID),
			Compress:             pulumi.Bool(true),
		},
		Restrictions: &cloudfront.DistributionRestrictionsArgs{
			GeoRestriction: &cloudfront.DistributionRestrictionsGeoRestrictionArgs{
				RestrictionType: pulumi.String("none"),
			},
		},
		Tags: p.tags("distribution"),
	}

	if tls == nil {
		args.ViewerCertificate = &cloudfront.DistributionViewerCertificateArgs{
			CloudfrontDefaultCertificate: pulumi.Bool(true),
		}
		return args
	}

	args.Aliases = pulumi.StringArray{pulumi.String(tls.Domain)}
	args.ViewerCertificate = &cloudfront.DistributionViewerCertificateArgs{
		AcmCertificateArn:      tls.CertificateArn(),
		SslSupportMethod:       pulumi.String("sni-only"),
		MinimumProtocolVersion: pulumi.String("TLSv1.2_2021"),
	}
	return args
}
