package storage

import (
	"context"
	"time"

	"github.com/johnewart/go-orleans-sql/cluster"
)

// MembershipTable is the durable directory of a cluster's silos. Writes are
// guarded by the table version; a lost race is reported as false and the
// caller is expected to re-read before trying again.
type MembershipTable interface {
	Initialize(ctx context.Context, tryInitTableVersion bool) error
	ReadRow(ctx context.Context, addr cluster.Address) (*cluster.MembershipTableData, error)
	ReadAll(ctx context.Context) (*cluster.MembershipTableData, error)
	InsertRow(ctx context.Context, entry *cluster.MembershipEntry, version *cluster.TableVersion) (bool, error)
	UpdateRow(ctx context.Context, entry *cluster.MembershipEntry, etag string, version *cluster.TableVersion) (bool, error)
	UpdateIAmAlive(ctx context.Context, entry *cluster.MembershipEntry) error
	CleanupDefunctSiloEntries(ctx context.Context, beforeDate time.Time) error
	DeleteMembershipTableEntries(ctx context.Context, clusterID string) error
}

// ConflictCounter is told about every write rejected by the version check.
type ConflictCounter interface {
	CountConcurrencyConflict(operation string)
}
