package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/johnewart/go-orleans-sql/cluster/gateway"
	"github.com/johnewart/go-orleans-sql/config"
	"github.com/johnewart/go-orleans-sql/relational"
	"github.com/johnewart/go-orleans-sql/util"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"zombiezen.com/go/log"
)

// gateways prints the gateway URIs of the active silos in a cluster and,
// when PROBE is set, the health reported on each gateway port.
func main() {
	ctx := context.Background()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Errorf(ctx, "unable to load config: %v", err)
		os.Exit(1)
	}

	d, err := cfg.Dialect()
	if err != nil {
		log.Errorf(ctx, "%v", err)
		os.Exit(1)
	}

	db, err := relational.Open(d, cfg.Database.DSN)
	if err != nil {
		log.Errorf(ctx, "%v", err)
		os.Exit(1)
	}
	defer db.Close()

	provider, err := gateway.NewProvider(gateway.Config{
		Storage:       db,
		Queries:       cfg.ClusteringQueries(),
		ClusterID:     cfg.Cluster.ClusterID,
		RefreshPeriod: cfg.Cluster.RefreshPeriod,
	})
	if err != nil {
		log.Errorf(ctx, "%v", err)
		os.Exit(1)
	}

	gateways, err := provider.GetGateways(ctx)
	if err != nil {
		log.Errorf(ctx, "unable to list gateways: %v", err)
		os.Exit(1)
	}
	log.Infof(ctx, "Found %d gateways in cluster %s", len(gateways), cfg.Cluster.ClusterID)

	pool := &util.ConnectionPool{}
	defer pool.Close()

	for _, gw := range gateways {
		fmt.Println(gw.GatewayURI())
		if os.Getenv("PROBE") == "" {
			continue
		}

		target := gw.Endpoint()
		conn, err := pool.GetConnection(target)
		if err != nil {
			log.Warnf(ctx, "Unable to dial %s: %v", target, err)
			continue
		}

		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		resp, err := healthpb.NewHealthClient(conn).Check(probeCtx, &healthpb.HealthCheckRequest{})
		cancel()
		if err != nil {
			log.Warnf(ctx, "Unable to check %s: %v", target, err)
		} else {
			log.Infof(ctx, "%s is %v", target, resp.Status)
		}
	}
}
