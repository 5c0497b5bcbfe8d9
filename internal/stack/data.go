package stack

import (
	"encoding/json"
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/ec2"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/efs"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/rds"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/secretsmanager"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/ssm"
	"github.com/pulumi/pulumi-random/sdk/v4/go/random"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

const (
	dbEngine          = "aurora-mysql"
	dbName            = "WordpressDatabase"
	dbMasterUsername  = "admin"
	dbPort            = 3306
	dbBackupRetention = 7
	dbMinCapacity     = 2
	dbMaxCapacity     = 16

	efsPort = 2049
)

// Data holds the persistent tier: the database cluster with its credential
// secret, and the shared file system.
type Data struct {
	Cluster         *rds.Cluster
	Secret          *secretsmanager.Secret
	DBSecurityGroup *ec2.SecurityGroup

	FileSystem      *efs.FileSystem
	MountTargets    []*efs.MountTarget
	FSSecurityGroup *ec2.SecurityGroup
}

// dbCredentials is the JSON layout of the credential secret. Consumers read
// individual fields with "<secretArn>:<field>::" references.
type dbCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	Engine   string `json:"engine"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
}

// createData creates the Aurora serverless cluster and the EFS file system in
// the private subnets of net.
func createData(ctx *pulumi.Context, p Profile, net *Network) (*Data, error) {
	dbSG, err := ec2.NewSecurityGroup(ctx, p.name("db-sg"), &ec2.SecurityGroupArgs{
		VpcId:       net.Vpc.ID(),
		Description: pulumi.String("Aurora MySQL cluster"),
		Tags:        p.tags("db-sg"),
	}, pulumi.Parent(net.Vpc))
	if err != nil {
		return nil, fmt.Errorf("creating db security group: %w", err)
	}

	subnetGroup, err := rds.NewSubnetGroup(ctx, p.name("db-subnet-group"), &rds.SubnetGroupArgs{
		SubnetIds: net.PrivateSubnetIDs(),
		Tags:      p.tags("db-subnet-group"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating db subnet group: %w", err)
	}

	password, err := random.NewRandomPassword(ctx, p.name("db-password"), &random.RandomPasswordArgs{
		Length:  pulumi.Int(30),
		Special: pulumi.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("creating db password: %w", err)
	}

	cluster, err := rds.NewCluster(ctx, p.name("db"), &rds.ClusterArgs{
		Engine:                pulumi.String(dbEngine),
		EngineMode:            pulumi.String("serverless"),
		DatabaseName:          pulumi.String(dbName),
		MasterUsername:        pulumi.String(dbMasterUsername),
		MasterPassword:        password.Result,
		DbSubnetGroupName:     subnetGroup.Name,
		VpcSecurityGroupIds:   pulumi.StringArray{dbSG.ID()},
		BackupRetentionPeriod: pulumi.Int(dbBackupRetention),
		StorageEncrypted:      pulumi.Bool(true),
		DeletionProtection:    pulumi.Bool(false),
		SkipFinalSnapshot:     pulumi.Bool(true),
		ScalingConfiguration: &rds.ClusterScalingConfigurationArgs{
			// Never pause: a paused cluster adds cold-start latency to page loads.
			AutoPause:   pulumi.Bool(false),
			MinCapacity: pulumi.Int(dbMinCapacity),
			MaxCapacity: pulumi.Int(dbMaxCapacity),
		},
		Tags: p.tags("db"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating db cluster: %w", err)
	}

	if p.IsProd() {
		ctx.Log.Warn("database cluster has deletion protection off and is destroyed with the stack", &pulumi.LogArgs{
			Resource: cluster,
		})
	}

	secret, err := secretsmanager.NewSecret(ctx, p.name("db-secret"), &secretsmanager.SecretArgs{
		Description:          pulumi.String(fmt.Sprintf("%s database credentials", p.Prefix())),
		RecoveryWindowInDays: pulumi.Int(0),
		Tags:                 p.tags("db-secret"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating db secret: %w", err)
	}

	secretString := pulumi.All(cluster.Endpoint, cluster.Port, password.Result).ApplyT(
		func(args []interface{}) (string, error) {
			b, err := json.Marshal(dbCredentials{
				Username: dbMasterUsername,
				Password: args[2].(string),
				DBName:   dbName,
				Engine:   "mysql",
				Host:     args[0].(string),
				Port:     args[1].(int),
			})
			return string(b), err
		}).(pulumi.StringOutput)

	_, err = secretsmanager.NewSecretVersion(ctx, p.name("db-secret-version"), &secretsmanager.SecretVersionArgs{
		SecretId:     secret.ID(),
		SecretString: secretString,
	}, pulumi.Parent(secret))
	if err != nil {
		return nil, fmt.Errorf("creating db secret version: %w", err)
	}

	// Published for operators and tooling that discover the endpoint by path.
	_, err = ssm.NewParameter(ctx, p.name("db-endpoint-param"), &ssm.ParameterArgs{
		Name:  pulumi.String(fmt.Sprintf("/%s/%s/db-endpoint", p.Project, p.Env)),
		Type:  pulumi.String("String"),
		Value: cluster.Endpoint,
		Tags:  p.tags("db-endpoint-param"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating db endpoint parameter: %w", err)
	}

	fsSG, err := ec2.NewSecurityGroup(ctx, p.name("fs-sg"), &ec2.SecurityGroupArgs{
		VpcId:       net.Vpc.ID(),
		Description: pulumi.String("Shared WordPress file system"),
		Tags:        p.tags("fs-sg"),
	}, pulumi.Parent(net.Vpc))
	if err != nil {
		return nil, fmt.Errorf("creating file system security group: %w", err)
	}

	fs, err := efs.NewFileSystem(ctx, p.name("file-system"), &efs.FileSystemArgs{
		PerformanceMode: pulumi.String("generalPurpose"),
		ThroughputMode:  pulumi.String("bursting"),
		Encrypted:       pulumi.Bool(true),
		Tags:            p.tags("file-system"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating file system: %w", err)
	}

	data := &Data{
		Cluster:         cluster,
		Secret:          secret,
		DBSecurityGroup: dbSG,
		FileSystem:      fs,
		FSSecurityGroup: fsSG,
	}
	for i, subnet := range net.PrivateSubnets {
		mt, err := efs.NewMountTarget(ctx, p.name(fmt.Sprintf("file-system-mt-%d", i+1)), &efs.MountTargetArgs{
			FileSystemId:   fs.ID(),
			SubnetId:       subnet.ID(),
			SecurityGroups: pulumi.StringArray{fsSG.ID()},
		}, pulumi.Parent(fs))
		if err != nil {
			return nil, fmt.Errorf("creating file system mount target %d: %w", i+1, err)
		}
		data.MountTargets = append(data.MountTargets, mt)
	}

	return data, nil
}
