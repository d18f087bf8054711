package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/johnewart/go-orleans-sql/cluster"
	"github.com/johnewart/go-orleans-sql/cluster/storage"
	"github.com/johnewart/go-orleans-sql/cluster/table"
	"github.com/johnewart/go-orleans-sql/config"
	"github.com/johnewart/go-orleans-sql/grains"
	"github.com/johnewart/go-orleans-sql/metrics"
	"github.com/johnewart/go-orleans-sql/relational"
	"github.com/johnewart/go-orleans-sql/reminders"
	reminderstorage "github.com/johnewart/go-orleans-sql/reminders/storage"
	"github.com/johnewart/go-orleans-sql/silo"
	"github.com/johnewart/go-orleans-sql/util"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"zombiezen.com/go/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Errorf(ctx, "silod: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return err
	}

	log.Infof(ctx, "silo starting up...")
	log.Infof(ctx, "CLUSTER_ID: %s", cfg.Cluster.ClusterID)
	log.Infof(ctx, "DB_DIALECT: %s", cfg.Database.Dialect)
	log.Infof(ctx, "PORT: %d", cfg.Cluster.Port)
	log.Infof(ctx, "METRICS_PORT: %d", cfg.Metrics.Port)

	d, err := cfg.Dialect()
	if err != nil {
		return err
	}

	ip, err := util.GetIP()
	if err != nil {
		return err
	}
	log.Infof(ctx, "ip: %s", ip)

	var metricsRegistry *metrics.MetricsRegistry
	if cfg.Metrics.Enabled {
		metricsRegistry = metrics.NewMetricRegistry(cfg.Metrics.Prefix, cfg.Metrics.Port)
		defer metricsRegistry.Close()
	}

	db, err := relational.Open(d, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	var store relational.Storage = db
	if metricsRegistry != nil {
		store = relational.Instrument(db, metricsRegistry)
	}

	membershipStore, err := storage.NewSQLStore(storage.SQLStoreConfig{
		Storage:   store,
		Queries:   cfg.ClusteringQueries(),
		ClusterID: cfg.Cluster.ClusterID,
		Conflicts: conflictCounter(metricsRegistry),
	})
	if err != nil {
		return err
	}
	if err := membershipStore.Initialize(ctx, true); err != nil {
		return fmt.Errorf("unable to initialize membership table: %v", err)
	}

	tableConfig := table.Config{
		SuspicionWindow: cfg.Cluster.SuspicionWindow,
		SuspicionQuorum: cfg.Cluster.SuspicionQuorum,
		MaxAttempts:     cfg.Cluster.MaxAttempts,
		Backoff:         table.Backoff{Initial: cfg.Cluster.HeartbeatInterval / 10, Max: cfg.Cluster.HeartbeatInterval},
	}
	if metricsRegistry != nil {
		tableConfig.Gauge = metricsRegistry
	}
	membershipTable := table.NewTable(membershipStore, tableConfig)

	var workers []silo.Background
	if cfg.Reminders.Enabled {
		reminderTable, err := reminderstorage.NewSQLStore(reminderstorage.SQLStoreConfig{
			Storage:   store,
			Queries:   cfg.ReminderQueries(),
			ServiceID: cfg.Cluster.ServiceID,
			Conflicts: conflictCounter(metricsRegistry),
		})
		if err != nil {
			return err
		}

		registry, err := reminders.NewReminderRegistry(reminders.ReminderConfig{
			Table:           reminderTable,
			TickInterval:    cfg.Reminders.TickInterval,
			MetricsRegistry: metricsRegistry,
			Callback: func(ctx context.Context, invocation *grains.Invocation) error {
				log.Infof(ctx, "Reminder %s fired for grain %s (%s)", invocation.Data, invocation.GrainID, invocation.InvocationID)
				return nil
			},
		})
		if err != nil {
			return err
		}
		workers = append(workers, registry)
	}

	siloNode, err := silo.NewSilo(silo.SiloConfig{
		Address:           cluster.NewAddress(ip, cfg.Cluster.Port, cluster.NewGeneration()),
		SiloName:          cfg.Cluster.SiloName,
		HostName:          util.Hostname(ip.String()),
		ProxyPort:         cfg.Cluster.ProxyPort,
		HeartbeatInterval: cfg.Cluster.HeartbeatInterval,
		RefreshPeriod:     cfg.Cluster.RefreshPeriod,
		SuspectAfter:      3 * cfg.Cluster.HeartbeatInterval,
		DefunctExpiration: cfg.Cluster.DefunctExpiration,
	}, membershipStore, membershipTable, metricsRegistry, workers...)
	if err != nil {
		return err
	}

	server := grpc.NewServer()
	healthpb.RegisterHealthServer(server, siloNode.Health())

	g, gctx := errgroup.WithContext(ctx)
	for _, port := range []int{cfg.Cluster.Port, cfg.Cluster.ProxyPort} {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			return fmt.Errorf("failed to listen: %v", err)
		}
		g.Go(func() error {
			log.Infof(gctx, "server listening at %v", lis.Addr())
			return server.Serve(lis)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		server.GracefulStop()
		return nil
	})
	g.Go(func() error {
		return siloNode.Start(gctx)
	})
	if metricsRegistry != nil {
		g.Go(func() error {
			return metricsRegistry.Serve(gctx)
		})
	}

	return g.Wait()
}

type conflicts interface {
	CountConcurrencyConflict(operation string)
}

type discardConflicts struct{}

func (discardConflicts) CountConcurrencyConflict(string) {}

func conflictCounter(r *metrics.MetricsRegistry) conflicts {
	if r == nil {
		return discardConflicts{}
	}
	return r
}
