package stack

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GiorgioAcossi/wordpress-serverless/internal/synth"
)

const (
	typeZone        = "aws:route53/zone:Zone"
	typeCertificate = "aws:acm/certificate:Certificate"
	typeValidation  = "aws:acm/certificateValidation:CertificateValidation"
	typeSubnet      = "aws:ec2/subnet:Subnet"
	typeNatGateway  = "aws:ec2/natGateway:NatGateway"
	typeMountTarget = "aws:efs/mountTarget:MountTarget"
	typeScalingPol  = "aws:appautoscaling/policy:Policy"
)

func stackConfig(env string, extra map[string]string) map[string]string {
	cfg := map[string]string{
		"aws:region":                   "us-east-1",
		"wordpress-serverless:project": "wordpress",
		"wordpress-serverless:env":     env,
		"wordpress-serverless:image":   "wordpress:6",
	}
	for k, v := range extra {
		cfg[k] = v
	}
	return cfg
}

func synthesize(stackName string, cfg map[string]string) (*synth.Inventory, error) {
	return synth.Synthesize(synth.Options{
		Project: ProjectName,
		Stack:   stackName,
		Config:  cfg,
	}, Program)
}

func mustSynthesize(t *testing.T, stackName string, cfg map[string]string) *synth.Inventory {
	t.Helper()
	inv, err := synthesize(stackName, cfg)
	require.NoError(t, err)
	return inv
}

func mustGet(t *testing.T, inv *synth.Inventory, name string) synth.Resource {
	t.Helper()
	r, ok := inv.Get(name)
	require.True(t, ok, "resource %s not registered", name)
	return r
}

func containerOf(t *testing.T, inv *synth.Inventory, prefix string) containerDefinition {
	t.Helper()
	task := mustGet(t, inv, prefix+"-task")
	var defs []containerDefinition
	require.NoError(t, json.Unmarshal([]byte(task.Text("containerDefinitions")), &defs))
	require.Len(t, defs, 1)
	return defs[0]
}

func policyOf(t *testing.T, r synth.Resource, field string) policyDocument {
	t.Helper()
	var doc policyDocument
	require.NoError(t, json.Unmarshal([]byte(r.Text(field)), &doc))
	require.Len(t, doc.Statement, 1)
	return doc
}

func TestRun_Dev(t *testing.T) {
	inv := mustSynthesize(t, ProfileDev, stackConfig("dev", nil))

	// No custom domain in dev.
	assert.Empty(t, inv.OfType(typeZone))
	assert.Empty(t, inv.OfType(typeCertificate))
	assert.Empty(t, inv.OfType(typeValidation))

	dist := mustGet(t, inv, "wordpress-dev-distribution")
	origins := dist.Input("origins").([]interface{})
	require.Len(t, origins, 1)
	origin := synth.Resource{Inputs: origins[0].(map[string]interface{})}
	assert.Equal(t, "http-only", origin.Text("customOriginConfig", "originProtocolPolicy"))
	assert.Equal(t, "wordpress-dev-alb.us-east-1.elb.amazonaws.com", origin.Text("domainName"))
	assert.Nil(t, dist.Input("aliases"))
	assert.Equal(t, true, dist.Input("viewerCertificate", "cloudfrontDefaultCertificate"))

	listener := mustGet(t, inv, "wordpress-dev-listener")
	assert.Equal(t, int64(80), listener.Input("port"))
	assert.Equal(t, "HTTP", listener.Text("protocol"))
	assert.Nil(t, listener.Input("certificateArn"))

	egress := mustGet(t, inv, "wordpress-dev-alb-egress")
	assert.Equal(t, "egress", egress.Text("type"))
	assert.Equal(t, int64(80), egress.Input("fromPort"))
	assert.Equal(t, []interface{}{"0.0.0.0/0"}, egress.Input("cidrBlocks"))

	ingress := mustGet(t, inv, "wordpress-dev-alb-listener-ingress")
	assert.Equal(t, int64(80), ingress.Input("fromPort"))
}

func TestRun_Prod(t *testing.T) {
	inv := mustSynthesize(t, ProfileProd, stackConfig("prod", map[string]string{
		"wordpress-serverless:domain": "example.com",
	}))

	zone := mustGet(t, inv, "wordpress-prod-hosted-zone")
	assert.Equal(t, "example.com", zone.Text("name"))

	cert := mustGet(t, inv, "wordpress-prod-certificate")
	assert.Equal(t, "example.com", cert.Text("domainName"))
	assert.Equal(t, "DNS", cert.Text("validationMethod"))
	certArn := "arn:aws:acm:us-east-1:123456789012:wordpress-prod-certificate"

	record := mustGet(t, inv, "wordpress-prod-certificate-validation-record")
	assert.Equal(t, "_validation.example.com.", record.Text("name"))
	assert.Equal(t, "CNAME", record.Text("type"))

	validation := mustGet(t, inv, "wordpress-prod-certificate-validation")
	assert.Contains(t, validation.DependsOn, "wordpress-prod-certificate-validation-record")

	dist := mustGet(t, inv, "wordpress-prod-distribution")
	origins := dist.Input("origins").([]interface{})
	require.Len(t, origins, 1)
	origin := synth.Resource{Inputs: origins[0].(map[string]interface{})}
	assert.Equal(t, "https-only", origin.Text("customOriginConfig", "originProtocolPolicy"))
	assert.Equal(t, []interface{}{"example.com"}, dist.Input("aliases"))
	assert.Equal(t, certArn, dist.Text("viewerCertificate", "acmCertificateArn"))
	assert.Contains(t, dist.DependsOn, "wordpress-prod-certificate-validation")

	listener := mustGet(t, inv, "wordpress-prod-listener")
	assert.Equal(t, int64(443), listener.Input("port"))
	assert.Equal(t, "HTTPS", listener.Text("protocol"))
	assert.Equal(t, certArn, listener.Text("certificateArn"))
	assert.NotEmpty(t, listener.Text("sslPolicy"))
	assert.Contains(t, listener.DependsOn, "wordpress-prod-certificate-validation")

	egress := mustGet(t, inv, "wordpress-prod-alb-egress")
	assert.Equal(t, int64(443), egress.Input("fromPort"))
	assert.Equal(t, int64(443), egress.Input("toPort"))
}

func TestRun_CertificateOnlyInProd(t *testing.T) {
	dev := mustSynthesize(t, ProfileDev, stackConfig("dev", nil))
	prod := mustSynthesize(t, ProfileProd, stackConfig("prod", map[string]string{
		"wordpress-serverless:domain": "example.com",
	}))

	assert.Len(t, dev.OfType(typeCertificate), 0)
	assert.Len(t, prod.OfType(typeCertificate), 1)
	assert.Len(t, prod.OfType(typeValidation), 1)
	assert.Len(t, prod.OfType(typeZone), 1)
}

func TestRun_ProdCertificateRegion(t *testing.T) {
	cfg := stackConfig("prod", map[string]string{
		"aws:region":                  "eu-west-1",
		"wordpress-serverless:domain": "example.com",
	})
	_, err := synthesize(ProfileProd, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCertificateRegion.Error())
	assert.Contains(t, err.Error(), `"eu-west-1"`)

	// Dev has no certificate, so any region is fine.
	dev := mustSynthesize(t, ProfileDev, stackConfig("dev", map[string]string{"aws:region": "eu-west-1"}))
	c := containerOf(t, dev, "wordpress-dev")
	assert.Equal(t, "eu-west-1", c.LogConfiguration.Options["awslogs-region"])
}

func TestRun_ProdWithoutDomain(t *testing.T) {
	_, err := synthesize(ProfileProd, stackConfig("prod", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wordpress-serverless:domain")
}

func TestRun_UnknownStack(t *testing.T) {
	_, err := synthesize("staging", stackConfig("staging", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown profile")
}

func TestRun_Network(t *testing.T) {
	inv := mustSynthesize(t, ProfileDev, stackConfig("dev", nil))

	vpc := mustGet(t, inv, "wordpress-dev-vpc")
	assert.Equal(t, "10.0.0.0/16", vpc.Text("cidrBlock"))

	subnets := inv.OfType(typeSubnet)
	require.Len(t, subnets, 4)
	cidrs := map[string]string{}
	for _, s := range subnets {
		cidrs[s.Name] = s.Text("cidrBlock")
	}
	assert.Equal(t, map[string]string{
		"wordpress-dev-public-subnet-1":  "10.0.0.0/24",
		"wordpress-dev-public-subnet-2":  "10.0.1.0/24",
		"wordpress-dev-private-subnet-1": "10.0.2.0/24",
		"wordpress-dev-private-subnet-2": "10.0.3.0/24",
	}, cidrs)

	assert.Equal(t, "us-east-1a", mustGet(t, inv, "wordpress-dev-private-subnet-1").Text("availabilityZone"))
	assert.Equal(t, "us-east-1b", mustGet(t, inv, "wordpress-dev-private-subnet-2").Text("availabilityZone"))
	assert.Nil(t, mustGet(t, inv, "wordpress-dev-private-subnet-1").Input("mapPublicIpOnLaunch"))

	assert.Len(t, inv.OfType(typeNatGateway), 2)
	rt := mustGet(t, inv, "wordpress-dev-private-rt-2")
	assert.Contains(t, rt.DependsOn, "wordpress-dev-nat-2")
}

func TestRun_Database(t *testing.T) {
	for _, tc := range []struct {
		stack string
		cfg   map[string]string
	}{
		{ProfileDev, stackConfig("dev", nil)},
		{ProfileProd, stackConfig("prod", map[string]string{"wordpress-serverless:domain": "example.com"})},
	} {
		t.Run(tc.stack, func(t *testing.T) {
			inv := mustSynthesize(t, tc.stack, tc.cfg)
			db := mustGet(t, inv, "wordpress-"+tc.stack+"-db")

			assert.Equal(t, "aurora-mysql", db.Text("engine"))
			assert.Equal(t, "serverless", db.Text("engineMode"))
			assert.Equal(t, "WordpressDatabase", db.Text("databaseName"))
			assert.Equal(t, false, db.Input("scalingConfiguration", "autoPause"))
			assert.Equal(t, int64(7), db.Input("backupRetentionPeriod"))
			assert.Equal(t, false, db.Input("deletionProtection"))
			assert.Equal(t, true, db.Input("skipFinalSnapshot"))
			assert.Equal(t, "[secret]", db.Input("masterPassword"))

			version := mustGet(t, inv, "wordpress-"+tc.stack+"-db-secret-version")
			assert.Equal(t, "[secret]", version.Input("secretString"))

			param := mustGet(t, inv, "wordpress-"+tc.stack+"-db-endpoint-param")
			assert.Equal(t, "/wordpress/"+tc.stack+"/db-endpoint", param.Text("name"))

			assert.Len(t, inv.OfType(typeMountTarget), 2)
		})
	}
}

func TestRun_ComputeAndScaling(t *testing.T) {
	inv := mustSynthesize(t, ProfileDev, stackConfig("dev", nil))

	task := mustGet(t, inv, "wordpress-dev-task")
	assert.Equal(t, "256", task.Text("cpu"))
	assert.Equal(t, "512", task.Text("memory"))
	assert.Equal(t, "awsvpc", task.Text("networkMode"))
	volumes := task.Input("volumes").([]interface{})
	require.Len(t, volumes, 1)
	assert.Equal(t, "wordpress-dev-volume", volumes[0].(map[string]interface{})["name"])

	c := containerOf(t, inv, "wordpress-dev")
	assert.Equal(t, "wordpress-dev-container", c.Name)
	assert.Contains(t, c.Environment, keyValuePair{
		Name:  "WORDPRESS_DB_HOST",
		Value: "wordpress-dev-db.cluster-mock.us-east-1.rds.amazonaws.com",
	})
	secretArn := "arn:aws:secretsmanager:us-east-1:123456789012:wordpress-dev-db-secret"
	assert.Contains(t, c.Secrets, secretRef{Name: "WORDPRESS_DB_PASSWORD", ValueFrom: secretArn + ":password::"})
	assert.Equal(t, "us-east-1", c.LogConfiguration.Options["awslogs-region"])

	tg := mustGet(t, inv, "wordpress-dev-tg")
	assert.Equal(t, "ip", tg.Text("targetType"))
	assert.Equal(t, "200,301,302", tg.Text("healthCheck", "matcher"))

	service := mustGet(t, inv, "wordpress-dev-service")
	assert.Equal(t, "FARGATE", service.Text("launchType"))
	assert.Equal(t, "1.4.0", service.Text("platformVersion"))
	assert.Equal(t, int64(2), service.Input("desiredCount"))
	assert.Equal(t, false, service.Input("networkConfiguration", "assignPublicIp"))
	assert.Contains(t, service.DependsOn, "wordpress-dev-listener")
	assert.Contains(t, service.DependsOn, "wordpress-dev-file-system-mt-1")
	assert.Contains(t, service.DependsOn, "wordpress-dev-file-system-mt-2")

	target := mustGet(t, inv, "wordpress-dev-scaling-target")
	minCap := target.Input("minCapacity").(int64)
	maxCap := target.Input("maxCapacity").(int64)
	assert.NoError(t, validateScaling(int(minCap), int(maxCap)))
	assert.Equal(t, int64(2), minCap)
	assert.Equal(t, int64(50), maxCap)

	metrics := map[string]interface{}{}
	for _, p := range inv.OfType(typeScalingPol) {
		cfg := p.Input("targetTrackingScalingPolicyConfiguration").(map[string]interface{})
		metric := cfg["predefinedMetricSpecification"].(map[string]interface{})["predefinedMetricType"].(string)
		metrics[metric] = cfg["targetValue"]
	}
	assert.Equal(t, map[string]interface{}{
		"ECSServiceAverageCPUUtilization":    int64(75),
		"ECSServiceAverageMemoryUtilization": int64(75),
	}, metrics)
}

func TestRun_Access(t *testing.T) {
	inv := mustSynthesize(t, ProfileDev, stackConfig("dev", nil))

	role := mustGet(t, inv, "wordpress-dev-task-role")
	assert.Equal(t, "wordpress-dev-task-role", role.Text("name"))
	trust := policyOf(t, role, "assumeRolePolicy")
	assert.Equal(t, map[string]string{"Service": "ecs-tasks.amazonaws.com"}, trust.Statement[0].Principal)

	rdsPolicy := policyOf(t, mustGet(t, inv, "wordpress-dev-rds-policy"), "policy")
	assert.Equal(t, []string{"rds:*"}, rdsPolicy.Statement[0].Action)
	assert.Equal(t, []string{"arn:aws:rds:us-east-1:123456789012:wordpress-dev-db"}, rdsPolicy.Statement[0].Resource)

	ports := map[string]int64{
		"wordpress-dev-alb-to-service":   80,
		"wordpress-dev-service-from-alb": 80,
		"wordpress-dev-db-from-service":  3306,
		"wordpress-dev-fs-from-service":  2049,
	}
	for name, port := range ports {
		rule := mustGet(t, inv, name)
		assert.Equal(t, port, rule.Input("fromPort"), name)
		assert.NotEmpty(t, rule.Text("sourceSecurityGroupId"), name)
		assert.Contains(t, rule.DependsOn, "wordpress-dev-service", name)
	}
}

func TestRun_RoleNamesDifferAcrossStacks(t *testing.T) {
	dev := mustSynthesize(t, ProfileDev, stackConfig("dev", nil))
	prod := mustSynthesize(t, ProfileProd, stackConfig("prod", map[string]string{
		"wordpress-serverless:domain": "example.com",
	}))

	devRole := mustGet(t, dev, "wordpress-dev-task-role").Text("name")
	prodRole := mustGet(t, prod, "wordpress-prod-task-role").Text("name")
	assert.NotEqual(t, devRole, prodRole)
}

func TestRun_Deterministic(t *testing.T) {
	a := mustSynthesize(t, ProfileDev, stackConfig("dev", nil))
	b := mustSynthesize(t, ProfileDev, stackConfig("dev", nil))

	ya, err := a.YAML()
	require.NoError(t, err)
	yb, err := b.YAML()
	require.NoError(t, err)
	assert.Equal(t, string(ya), string(yb))
}
