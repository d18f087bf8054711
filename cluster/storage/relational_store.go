package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/johnewart/go-orleans-sql/cluster"
	"github.com/johnewart/go-orleans-sql/relational"
	"github.com/johnewart/go-orleans-sql/relational/queries"
	"zombiezen.com/go/log"
)

type SQLStoreConfig struct {
	Storage   relational.Storage
	Queries   map[queries.Key]string
	ClusterID string
	Conflicts ConflictCounter
}

type SQLStore struct {
	MembershipTable
	storage   relational.Storage
	queries   *queries.Registry
	clusterID string
	conflicts ConflictCounter
}

func NewSQLStore(config SQLStoreConfig) (*SQLStore, error) {
	if config.ClusterID == "" {
		return nil, &cluster.PreconditionError{Argument: "cluster id"}
	}

	mapping := config.Queries
	if mapping == nil {
		mapping = queries.DefaultClusteringQueries(queries.DefaultSchema)
	}

	if registry, err := queries.NewRegistry(queries.ClusteringKeys, mapping); err != nil {
		return nil, err
	} else {
		return &SQLStore{
			storage:   config.Storage,
			queries:   registry,
			clusterID: config.ClusterID,
			conflicts: config.Conflicts,
		}, nil
	}
}

func (s *SQLStore) Initialize(ctx context.Context, tryInitTableVersion bool) error {
	if !tryInitTableVersion {
		return nil
	}

	created, err := relational.ReadSingle(ctx, s.storage, s.queries.Get(queries.InsertMembershipVersionKey), func(cmd *relational.Command) {
		queries.Bind(cmd).DeploymentID(s.clusterID)
	}, readSingleBool)

	if err != nil {
		if s.storage.Dialect().IsDuplicateKey(err) {
			log.Debugf(ctx, "membership version row for %s was created concurrently", s.clusterID)
			return nil
		}
		return err
	}

	if created {
		log.Infof(ctx, "created membership version row for %s", s.clusterID)
	} else {
		log.Debugf(ctx, "membership version row for %s already exists", s.clusterID)
	}
	return nil
}

func (s *SQLStore) ReadRow(ctx context.Context, addr cluster.Address) (*cluster.MembershipTableData, error) {
	if rows, err := relational.ReadAll(ctx, s.storage, s.queries.Get(queries.MembershipReadRowKey), func(cmd *relational.Command) {
		queries.Bind(cmd).DeploymentID(s.clusterID).SiloAddress(addr)
	}, readMembershipRow); err != nil {
		return nil, err
	} else {
		return toTableData(rows)
	}
}

func (s *SQLStore) ReadAll(ctx context.Context) (*cluster.MembershipTableData, error) {
	if rows, err := relational.ReadAll(ctx, s.storage, s.queries.Get(queries.MembershipReadAllKey), func(cmd *relational.Command) {
		queries.Bind(cmd).DeploymentID(s.clusterID)
	}, readMembershipRow); err != nil {
		return nil, err
	} else {
		return toTableData(rows)
	}
}

func (s *SQLStore) InsertRow(ctx context.Context, entry *cluster.MembershipEntry, version *cluster.TableVersion) (bool, error) {
	if entry == nil {
		return false, &cluster.PreconditionError{Argument: "entry"}
	}
	expected, err := expectedVersion(version)
	if err != nil {
		return false, err
	}

	inserted, err := relational.ReadSingle(ctx, s.storage, s.queries.Get(queries.InsertMembershipKey), func(cmd *relational.Command) {
		queries.Bind(cmd).
			DeploymentID(s.clusterID).
			IAmAliveTime(entry.IAmAliveTime.UTC()).
			SiloName(entry.SiloName).
			HostName(entry.HostName).
			SiloAddress(entry.Address).
			StartTime(entry.StartTime.UTC()).
			Status(entry.Status).
			ProxyPort(entry.ProxyPort).
			Version(expected)
	}, readSingleBool)
	if err != nil {
		return false, err
	}

	if !inserted {
		s.conflict(ctx, "insert", entry.Address, version)
	}
	return inserted, nil
}

// UpdateRow replaces the mutable columns of entry's row. The write is checked
// against the table version; etag is the row etag the entry was read with.
func (s *SQLStore) UpdateRow(ctx context.Context, entry *cluster.MembershipEntry, etag string, version *cluster.TableVersion) (bool, error) {
	if entry == nil {
		return false, &cluster.PreconditionError{Argument: "entry"}
	}
	expected, err := expectedVersion(version)
	if err != nil {
		return false, err
	}

	updated, err := relational.ReadSingle(ctx, s.storage, s.queries.Get(queries.UpdateMembershipKey), func(cmd *relational.Command) {
		queries.Bind(cmd).
			DeploymentID(s.clusterID).
			SiloAddress(entry.Address).
			IAmAliveTime(entry.IAmAliveTime.UTC()).
			Status(entry.Status).
			SuspectTimes(entry.SuspectTimes).
			Version(expected)
	}, readSingleBool)
	if err != nil {
		return false, err
	}

	if !updated {
		log.Debugf(ctx, "row etag %q of %s is stale", etag, entry.Address)
		s.conflict(ctx, "update", entry.Address, version)
	}
	return updated, nil
}

func (s *SQLStore) UpdateIAmAlive(ctx context.Context, entry *cluster.MembershipEntry) error {
	if entry == nil {
		return &cluster.PreconditionError{Argument: "entry"}
	}

	_, err := s.storage.Execute(ctx, s.queries.Get(queries.UpdateIAmAlivetimeKey), func(cmd *relational.Command) {
		queries.Bind(cmd).
			DeploymentID(s.clusterID).
			SiloAddress(entry.Address).
			IAmAliveTime(entry.IAmAliveTime.UTC())
	})
	return err
}

// CleanupDefunctSiloEntries removes Dead silos last seen strictly before
// beforeDate.
func (s *SQLStore) CleanupDefunctSiloEntries(ctx context.Context, beforeDate time.Time) error {
	n, err := s.storage.Execute(ctx, s.queries.Get(queries.CleanupDefunctSiloEntriesKey), func(cmd *relational.Command) {
		queries.Bind(cmd).
			DeploymentID(s.clusterID).
			IAmAliveTime(beforeDate.UTC())
	})
	if err != nil {
		return err
	}

	log.Debugf(ctx, "cleaned up %d defunct silo entries older than %v", n, beforeDate)
	return nil
}

func (s *SQLStore) DeleteMembershipTableEntries(ctx context.Context, clusterID string) error {
	if clusterID == "" {
		return &cluster.PreconditionError{Argument: "cluster id"}
	}

	_, err := s.storage.Execute(ctx, s.queries.Get(queries.DeleteMembershipTableEntriesKey), func(cmd *relational.Command) {
		queries.Bind(cmd).DeploymentID(clusterID)
	})
	return err
}

func (s *SQLStore) conflict(ctx context.Context, operation string, addr cluster.Address, version *cluster.TableVersion) {
	log.Debugf(ctx, "%s of %s rejected at table version %v", operation, addr, version)
	if s.conflicts != nil {
		s.conflicts.CountConcurrencyConflict(operation)
	}
}

// expectedVersion is the stored version a write is conditioned on, taken
// from the etag the caller read.
func expectedVersion(version *cluster.TableVersion) (int, error) {
	if version == nil {
		return 0, &cluster.PreconditionError{Argument: "table version"}
	}
	if v, err := strconv.Atoi(version.VersionEtag); err != nil {
		return 0, &cluster.PreconditionError{Argument: "table version", Reason: fmt.Sprintf("has a malformed etag %q", version.VersionEtag)}
	} else {
		return v, nil
	}
}
