// Package dbscan reads the live state of the WordPress database clusters.
package dbscan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/rds/types"
)

// ErrClusterNotFound is returned when no cluster has the requested identifier.
var ErrClusterNotFound = errors.New("db cluster not found")

// API is the subset of the RDS client used here.
type API interface {
	DescribeDBClusters(ctx context.Context, params *rds.DescribeDBClustersInput, optFns ...func(*rds.Options)) (*rds.DescribeDBClustersOutput, error)
}

// Cluster summarizes a database cluster for operators.
type Cluster struct {
	Identifier string `json:"identifier" yaml:"identifier"`
	Engine     string `json:"engine" yaml:"engine"`
	EngineMode string `json:"engineMode" yaml:"engineMode"`
	Status     string `json:"status" yaml:"status"`
	Endpoint   string `json:"endpoint" yaml:"endpoint"`
	Capacity   int32  `json:"capacity" yaml:"capacity"`
}

func summarize(c types.DBCluster) Cluster {
	return Cluster{
		Identifier: aws.ToString(c.DBClusterIdentifier),
		Engine:     aws.ToString(c.Engine),
		EngineMode: aws.ToString(c.EngineMode),
		Status:     aws.ToString(c.Status),
		Endpoint:   aws.ToString(c.Endpoint),
		Capacity:   aws.ToInt32(c.Capacity),
	}
}

// Describe returns the cluster named id.
func Describe(ctx context.Context, api API, id string) (Cluster, error) {
	resp, err := api.DescribeDBClusters(ctx, &rds.DescribeDBClustersInput{
		DBClusterIdentifier: aws.String(id),
	})
	if err != nil {
		var nf *types.DBClusterNotFoundFault
		if errors.As(err, &nf) {
			return Cluster{}, fmt.Errorf("%w: %s", ErrClusterNotFound, id)
		}
		return Cluster{}, fmt.Errorf("describing db cluster %s: %w", id, err)
	}
	if len(resp.DBClusters) == 0 {
		return Cluster{}, fmt.Errorf("%w: %s", ErrClusterNotFound, id)
	}
	return summarize(resp.DBClusters[0]), nil
}

// Scan lists every cluster in the region running engine, following the
// Marker until the last page. Results are sorted by identifier.
func Scan(ctx context.Context, api API, engine string, logger *slog.Logger) ([]Cluster, error) {
	var (
		clusters []Cluster
		marker   *string
		total    int
	)
	for {
		resp, err := api.DescribeDBClusters(ctx, &rds.DescribeDBClustersInput{
			Marker: marker,
		})
		if err != nil {
			return nil, fmt.Errorf("listing db clusters: %w", err)
		}

		total += len(resp.DBClusters)
		for _, c := range resp.DBClusters {
			if aws.ToString(c.Engine) == engine {
				clusters = append(clusters, summarize(c))
			}
		}

		if resp.Marker == nil {
			break
		}
		marker = resp.Marker
	}

	logger.Debug("scanned db clusters", "total", total, "engine", engine, "matched", len(clusters))
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].Identifier < clusters[j].Identifier })
	return clusters, nil
}
