package silo

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/johnewart/go-orleans-sql/cluster"
	"github.com/johnewart/go-orleans-sql/cluster/storage"
	"github.com/johnewart/go-orleans-sql/cluster/table"
	"github.com/johnewart/go-orleans-sql/metrics"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"zombiezen.com/go/log"
)

type SiloConfig struct {
	Address           cluster.Address
	SiloName          string
	HostName          string
	ProxyPort         int
	HeartbeatInterval time.Duration
	RefreshPeriod     time.Duration
	// SuspectAfter is how stale a member's liveness may get before this silo
	// votes against it. Zero disables suspicion.
	SuspectAfter      time.Duration
	DefunctExpiration time.Duration
	Clock             func() time.Time
}

// Background runs alongside the membership loops, e.g. a reminder registry.
type Background interface {
	Start(ctx context.Context) error
}

type Silo struct {
	config  SiloConfig
	entry   *cluster.MembershipEntry
	store   storage.MembershipTable
	table   *table.MembershipTable
	metrics *metrics.MetricsRegistry
	health  *health.Server
	active  atomic.Bool
	workers []Background
}

func NewSilo(config SiloConfig, store storage.MembershipTable, tbl *table.MembershipTable, metricsRegistry *metrics.MetricsRegistry, workers ...Background) (*Silo, error) {
	if config.Address.IsZero() {
		return nil, &cluster.PreconditionError{Argument: "silo address"}
	}
	if config.HeartbeatInterval <= 0 || config.RefreshPeriod <= 0 {
		return nil, &cluster.PreconditionError{Argument: "silo intervals", Reason: "must be positive"}
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	now := config.Clock().UTC()
	s := &Silo{
		config: config,
		entry: &cluster.MembershipEntry{
			Address:      config.Address,
			SiloName:     config.SiloName,
			HostName:     config.HostName,
			Status:       cluster.StatusCreated,
			ProxyPort:    config.ProxyPort,
			StartTime:    now,
			IAmAliveTime: now,
		},
		store:   store,
		table:   tbl,
		metrics: metricsRegistry,
		health:  health.NewServer(),
		workers: workers,
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return s, nil
}

func (s *Silo) Address() cluster.Address {
	return s.config.Address
}

// Health is the gRPC health service; it reports SERVING while the silo is
// Active in the membership table.
func (s *Silo) Health() *health.Server {
	return s.health
}

func (s *Silo) IsActive() bool {
	return s.active.Load()
}

// Join announces this silo as Joining and then promotes it to Active.
func (s *Silo) Join(ctx context.Context) error {
	s.entry.Status = cluster.StatusJoining
	s.entry.IAmAliveTime = s.config.Clock().UTC()

	if err := s.table.Join(ctx, s.entry); err != nil {
		return fmt.Errorf("unable to join cluster: %w", err)
	}
	log.Infof(ctx, "Joined cluster as %v", s.entry)

	if err := s.table.UpdateStatus(ctx, s.entry.Address, cluster.StatusActive); err != nil {
		return fmt.Errorf("unable to become active: %w", err)
	}
	s.entry.Status = cluster.StatusActive
	s.setActive(true)
	log.Infof(ctx, "Silo %v is active, %d members in table", s.entry.Address, s.table.Size())
	return nil
}

// Leave marks this silo as shutting down and then dead.
func (s *Silo) Leave(ctx context.Context) error {
	s.setActive(false)
	for _, status := range []cluster.Status{cluster.StatusShuttingDown, cluster.StatusDead} {
		if err := s.table.UpdateStatus(ctx, s.entry.Address, status); err != nil {
			return fmt.Errorf("unable to set status %v: %w", status, err)
		}
		s.entry.Status = status
	}
	log.Infof(ctx, "Silo %v left the cluster", s.entry.Address)
	return nil
}

func (s *Silo) StartMembershipUpdateProcess(ctx context.Context) error {
	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.table.Heartbeat(ctx, s.entry); err != nil {
				log.Warnf(ctx, "Unable to heartbeat: %v", err)
			} else {
				log.Debugf(ctx, "Heartbeat sent for %v, next in %0.2f seconds", s.entry.Address, s.config.HeartbeatInterval.Seconds())
			}
		}
	}
}

func (s *Silo) StartMonitorProcess(ctx context.Context) error {
	ticker := time.NewTicker(s.config.RefreshPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Monitor(ctx); err != nil {
				log.Warnf(ctx, "Error during table sync: %v", err)
			}
		}
	}
}

// Monitor refreshes the snapshot, votes against stale members and removes
// long dead rows.
func (s *Silo) Monitor(ctx context.Context) error {
	refresh := func() error {
		return s.table.Update(ctx)
	}
	if s.metrics != nil {
		if err := s.metrics.TimeTableSync(refresh); err != nil {
			return err
		}
	} else if err := refresh(); err != nil {
		return err
	}

	now := s.config.Clock()
	if s.config.SuspectAfter > 0 {
		for _, m := range s.table.Active() {
			if m.Address == s.entry.Address || !m.IAmAliveTime.Before(now.Add(-s.config.SuspectAfter)) {
				continue
			}
			log.Infof(ctx, "Suspect that %v is dead, last seen %v", m.Address, m.IAmAliveTime)
			if err := s.table.Suspect(ctx, s.entry.Address, m.Address); err != nil {
				log.Warnf(ctx, "Unable to suspect %v: %v", m.Address, err)
			}
		}
	}

	if s.config.DefunctExpiration > 0 {
		if err := s.store.CleanupDefunctSiloEntries(ctx, now.Add(-s.config.DefunctExpiration)); err != nil {
			return fmt.Errorf("unable to clean up defunct silos: %w", err)
		}
	}
	return nil
}

// Start joins the cluster and runs the membership loops and workers until
// ctx is done, then leaves.
func (s *Silo) Start(ctx context.Context) error {
	if err := s.Join(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof(gctx, "Starting announcement process")
		return s.StartMembershipUpdateProcess(gctx)
	})
	g.Go(func() error {
		log.Infof(gctx, "Starting monitor process")
		return s.StartMonitorProcess(gctx)
	})
	for _, w := range s.workers {
		w := w
		g.Go(func() error {
			return w.Start(gctx)
		})
	}

	err := g.Wait()
	if leaveErr := s.Leave(context.WithoutCancel(ctx)); leaveErr != nil {
		log.Warnf(ctx, "Unable to leave cluster: %v", leaveErr)
	}
	return err
}

func (s *Silo) setActive(active bool) {
	s.active.Store(active)
	if active {
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	} else {
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	}
}
