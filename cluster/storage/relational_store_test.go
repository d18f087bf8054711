package storage

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgconn"
	"github.com/johnewart/go-orleans-sql/cluster"
	"github.com/johnewart/go-orleans-sql/relational/queries"
	"github.com/johnewart/go-orleans-sql/relational/relationaltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const clusterID = "cluster-a"

type conflictCounter struct {
	count atomic.Int64
}

func (c *conflictCounter) CountConcurrencyConflict(string) {
	c.count.Add(1)
}

func newTestStore(t *testing.T) (*SQLStore, *relationaltest.Store, *conflictCounter) {
	t.Helper()
	fake := relationaltest.NewStore(queries.DefaultSchema)
	counter := &conflictCounter{}
	s, err := NewSQLStore(SQLStoreConfig{Storage: fake, ClusterID: clusterID, Conflicts: counter})
	require.NoError(t, err)
	return s, fake, counter
}

func testEntry(i int, status cluster.Status) *cluster.MembershipEntry {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &cluster.MembershipEntry{
		Address:      cluster.NewAddress(netip.MustParseAddr(fmt.Sprintf("10.0.0.%d", i+1)), 11111, 100),
		SiloName:     fmt.Sprintf("silo-%d", i),
		HostName:     "host",
		Status:       status,
		ProxyPort:    30000,
		StartTime:    now,
		IAmAliveTime: now,
	}
}

func insert(t *testing.T, s *SQLStore, entry *cluster.MembershipEntry) {
	t.Helper()
	data, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	next := data.Version.Next()
	ok, err := s.InsertRow(context.Background(), entry, &next)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestReadBeforeInitialize(t *testing.T) {
	s, _, _ := newTestStore(t)

	_, err := s.ReadAll(context.Background())
	assert.ErrorIs(t, err, cluster.ErrTableNotInitialized)
}

func TestInitializeIsIdempotent(t *testing.T) {
	s, fake, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Initialize(ctx, false))
	assert.Empty(t, fake.Calls())

	require.NoError(t, s.Initialize(ctx, true))
	require.NoError(t, s.Initialize(ctx, true))
	assert.Equal(t, int64(0), fake.Version(clusterID))

	data, err := s.ReadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, data.Members)
	assert.Equal(t, cluster.NewTableVersion(0), data.Version)
}

func TestInitializeToleratesConcurrentCreation(t *testing.T) {
	s, fake, _ := newTestStore(t)
	fake.FailWith(queries.InsertMembershipVersionKey, fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}))

	assert.NoError(t, s.Initialize(context.Background(), true))
}

func TestInsertRowWithStaleVersionIsRejected(t *testing.T) {
	s, fake, counter := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx, true))

	stale, err := s.ReadAll(ctx)
	require.NoError(t, err)

	first := testEntry(0, cluster.StatusJoining)
	next := stale.Version.Next()
	ok, err := s.InsertRow(ctx, first, &next)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.InsertRow(ctx, testEntry(1, cluster.StatusJoining), &next)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(1), counter.count.Load())

	data, err := s.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, data.Members, 1)
	assert.Equal(t, first.Address, data.Members[0].Entry.Address)
	assert.Equal(t, 1, data.Version.Version)
	assert.Equal(t, int64(1), fake.Version(clusterID))
}

func TestInsertSameAddressTwiceIsRejected(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx, true))

	entry := testEntry(0, cluster.StatusJoining)
	insert(t, s, entry)

	data, err := s.ReadAll(ctx)
	require.NoError(t, err)
	ok, err := s.InsertRow(ctx, entry, &data.Version)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReadAllReturnsEveryInsert(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx, true))

	const n = 5
	for i := 0; i < n; i++ {
		insert(t, s, testEntry(i, cluster.StatusActive))
	}

	data, err := s.ReadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, data.Members, n)
	assert.Equal(t, n, data.Version.Version)
	for _, m := range data.Members {
		assert.Equal(t, data.Version.VersionEtag, m.ETag)
	}
}

func TestReadRowRoundTrip(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx, true))

	entry := testEntry(0, cluster.StatusActive)
	insert(t, s, entry)

	data, err := s.ReadRow(ctx, entry.Address)
	require.NoError(t, err)
	got := data.Entry()
	require.NotNil(t, got)
	assert.Equal(t, entry.Address, got.Address)
	assert.Equal(t, entry.SiloName, got.SiloName)
	assert.Equal(t, entry.HostName, got.HostName)
	assert.Equal(t, entry.Status, got.Status)
	assert.Equal(t, entry.ProxyPort, got.ProxyPort)
	assert.True(t, entry.StartTime.Equal(got.StartTime))
	assert.True(t, entry.IAmAliveTime.Equal(got.IAmAliveTime))
	assert.Empty(t, got.SuspectTimes)
}

func TestReadRowOfUnknownAddress(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx, true))
	insert(t, s, testEntry(0, cluster.StatusActive))

	data, err := s.ReadRow(ctx, testEntry(9, cluster.StatusActive).Address)
	require.NoError(t, err)
	assert.Nil(t, data.Entry())
	assert.Equal(t, 1, data.Version.Version)
}

func TestConcurrentUpdatesHaveOneWinner(t *testing.T) {
	s, fake, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx, true))

	entry := testEntry(0, cluster.StatusJoining)
	insert(t, s, entry)

	data, err := s.ReadRow(ctx, entry.Address)
	require.NoError(t, err)
	row := data.Members[0]

	const racers = 16
	var wins atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			update := *row.Entry
			update.Status = cluster.StatusActive
			update.AddSuspector(testEntry(i+1, cluster.StatusActive).Address, time.Now())
			next := data.Version.Next()
			ok, err := s.UpdateRow(ctx, &update, row.ETag, &next)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins.Load())
	assert.Equal(t, int64(data.Version.Version+1), fake.Version(clusterID))

	after, err := s.ReadRow(ctx, entry.Address)
	require.NoError(t, err)
	assert.Equal(t, cluster.StatusActive, after.Entry().Status)
	assert.Len(t, after.Entry().SuspectTimes, 1)
}

func TestUpdateIAmAliveIsUnconditional(t *testing.T) {
	s, fake, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx, true))

	entry := testEntry(0, cluster.StatusActive)
	insert(t, s, entry)

	entry.IAmAliveTime = entry.IAmAliveTime.Add(time.Minute)
	require.NoError(t, s.UpdateIAmAlive(ctx, entry))
	assert.Equal(t, int64(1), fake.Version(clusterID))

	data, err := s.ReadRow(ctx, entry.Address)
	require.NoError(t, err)
	assert.True(t, entry.IAmAliveTime.Equal(data.Entry().IAmAliveTime))
}

func TestCleanupDefunctSiloEntries(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx, true))

	cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	deadOld := testEntry(0, cluster.StatusDead)
	deadOld.IAmAliveTime = cutoff.Add(-time.Second)
	deadAtCutoff := testEntry(1, cluster.StatusDead)
	deadAtCutoff.IAmAliveTime = cutoff
	deadRecent := testEntry(2, cluster.StatusDead)
	deadRecent.IAmAliveTime = cutoff.Add(time.Hour)
	activeOld := testEntry(3, cluster.StatusActive)
	activeOld.IAmAliveTime = cutoff.Add(-time.Hour)

	for _, e := range []*cluster.MembershipEntry{deadOld, deadAtCutoff, deadRecent, activeOld} {
		insert(t, s, e)
	}

	require.NoError(t, s.CleanupDefunctSiloEntries(ctx, cutoff))

	data, err := s.ReadAll(ctx)
	require.NoError(t, err)
	remaining := make([]cluster.Address, 0)
	for _, m := range data.Members {
		remaining = append(remaining, m.Entry.Address)
	}
	assert.ElementsMatch(t, []cluster.Address{deadAtCutoff.Address, deadRecent.Address, activeOld.Address}, remaining)
}

func TestDeleteMembershipTableEntries(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx, true))
	insert(t, s, testEntry(0, cluster.StatusActive))

	require.NoError(t, s.DeleteMembershipTableEntries(ctx, clusterID))

	_, err := s.ReadAll(ctx)
	assert.ErrorIs(t, err, cluster.ErrTableNotInitialized)
}

func TestPreconditions(t *testing.T) {
	s, fake, _ := newTestStore(t)
	ctx := context.Background()
	version := cluster.NewTableVersion(0)
	var precondition *cluster.PreconditionError

	_, err := s.InsertRow(ctx, nil, &version)
	assert.ErrorAs(t, err, &precondition)

	_, err = s.InsertRow(ctx, testEntry(0, cluster.StatusActive), nil)
	assert.ErrorAs(t, err, &precondition)

	_, err = s.UpdateRow(ctx, testEntry(0, cluster.StatusActive), "", &cluster.TableVersion{Version: 1, VersionEtag: "x"})
	assert.ErrorAs(t, err, &precondition)

	assert.ErrorAs(t, s.UpdateIAmAlive(ctx, nil), &precondition)
	assert.ErrorAs(t, s.DeleteMembershipTableEntries(ctx, ""), &precondition)
	assert.Empty(t, fake.Calls())

	_, err = NewSQLStore(SQLStoreConfig{Storage: fake})
	assert.ErrorAs(t, err, &precondition)
}

func TestMissingProcedureFailsConstruction(t *testing.T) {
	mapping := queries.DefaultClusteringQueries("")
	delete(mapping, queries.CleanupDefunctSiloEntriesKey)

	_, err := NewSQLStore(SQLStoreConfig{Storage: relationaltest.NewStore(""), ClusterID: clusterID, Queries: mapping})
	var missing *queries.MissingQueriesError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []queries.Key{queries.CleanupDefunctSiloEntriesKey}, missing.Keys)
}

func TestDriverErrorsPropagate(t *testing.T) {
	s, fake, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx, true))

	boom := errors.New("deadlock victim")
	fake.FailWith(queries.MembershipReadAllKey, boom)

	_, err := s.ReadAll(ctx)
	assert.Same(t, boom, err)
}

func TestCancelledContext(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.ReadAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
