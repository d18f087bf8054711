// Package gateway lists the silos that clients may connect to.
package gateway

import (
	"context"
	"time"

	"github.com/johnewart/go-orleans-sql/cluster"
	"github.com/johnewart/go-orleans-sql/cluster/storage"
	"github.com/johnewart/go-orleans-sql/relational"
	"github.com/johnewart/go-orleans-sql/relational/queries"
	"zombiezen.com/go/log"
)

type Config struct {
	Storage   relational.Storage
	Queries   map[queries.Key]string
	ClusterID string
	// RefreshPeriod is how long a gateway list may be used before it is
	// fetched again.
	RefreshPeriod time.Duration
}

type Provider struct {
	storage       relational.Storage
	query         string
	clusterID     string
	refreshPeriod time.Duration
}

func NewProvider(config Config) (*Provider, error) {
	if config.ClusterID == "" {
		return nil, &cluster.PreconditionError{Argument: "cluster id"}
	}

	mapping := config.Queries
	if mapping == nil {
		mapping = queries.DefaultClusteringQueries(queries.DefaultSchema)
	}

	if registry, err := queries.NewRegistry([]queries.Key{queries.GatewaysQueryKey}, mapping); err != nil {
		return nil, err
	} else {
		return &Provider{
			storage:       config.Storage,
			query:         registry.Get(queries.GatewaysQueryKey),
			clusterID:     config.ClusterID,
			refreshPeriod: config.RefreshPeriod,
		}, nil
	}
}

func (p *Provider) MaxStaleness() time.Duration {
	return p.refreshPeriod
}

func (p *Provider) IsUpdatable() bool {
	return true
}

// GetGateways returns the proxy endpoint of every Active silo. An empty list
// means no gateway is currently available.
func (p *Provider) GetGateways(ctx context.Context) ([]cluster.Address, error) {
	gateways, err := relational.ReadAll(ctx, p.storage, p.query, func(cmd *relational.Command) {
		queries.Bind(cmd).DeploymentID(p.clusterID).Status(cluster.StatusActive)
	}, func(rec *relational.Record, _ int) (cluster.Address, error) {
		return storage.ScanAddress(rec, "ProxyPort")
	})
	if err != nil {
		return nil, err
	}

	log.Debugf(ctx, "found %d gateways for %s", len(gateways), p.clusterID)
	return gateways, nil
}
