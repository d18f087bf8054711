package table

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/johnewart/go-orleans-sql/cluster"
	"github.com/johnewart/go-orleans-sql/cluster/storage"
	"zombiezen.com/go/log"
)

// ErrRetriesExhausted is returned when every attempt of a conditional write
// lost the race for the table version.
var ErrRetriesExhausted = errors.New("optimistic concurrency retries exhausted")

type ActiveMembersGauge interface {
	UpdateActiveMembers(n int)
}

type Config struct {
	SuspicionWindow time.Duration
	SuspicionQuorum int
	MaxAttempts     int
	Backoff         Backoff
	Gauge           ActiveMembersGauge
	Clock           func() time.Time
}

// MembershipTable keeps a local snapshot of the cluster's membership and
// drives the read-modify-write protocol against the durable table.
type MembershipTable struct {
	mu       sync.RWMutex
	snapshot *cluster.MembershipTableData
	store    storage.MembershipTable
	config   Config
}

func NewTable(store storage.MembershipTable, config Config) *MembershipTable {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.SuspicionQuorum < 1 {
		config.SuspicionQuorum = 1
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	return &MembershipTable{
		snapshot: &cluster.MembershipTableData{},
		store:    store,
		config:   config,
	}
}

func (t *MembershipTable) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.snapshot.Members)
}

func (t *MembershipTable) Version() cluster.TableVersion {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshot.Version
}

func (t *MembershipTable) WithMembers(f func(*cluster.MembershipEntry) error) error {
	t.mu.RLock()
	members := t.snapshot.Members
	t.mu.RUnlock()

	for _, m := range members {
		if err := f(m.Entry); err != nil {
			return err
		}
	}
	return nil
}

func (t *MembershipTable) Active() []*cluster.MembershipEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshot.WithStatus(cluster.StatusActive)
}

// Update replaces the snapshot with the current contents of the table.
func (t *MembershipTable) Update(ctx context.Context) error {
	if data, err := t.store.ReadAll(ctx); err != nil {
		return fmt.Errorf("unable to read membership table: %w", err)
	} else {
		t.mu.Lock()
		t.snapshot = data
		t.mu.Unlock()

		if t.config.Gauge != nil {
			t.config.Gauge.UpdateActiveMembers(len(data.WithStatus(cluster.StatusActive)))
		}
		return nil
	}
}

// Join inserts entry, re-reading the table version after every lost race.
func (t *MembershipTable) Join(ctx context.Context, entry *cluster.MembershipEntry) error {
	err := t.retry(ctx, "insert "+entry.Address.String(), func() (bool, error) {
		if data, err := t.store.ReadAll(ctx); err != nil {
			return false, err
		} else {
			next := data.Version.Next()
			return t.store.InsertRow(ctx, entry, &next)
		}
	})
	if err != nil {
		return err
	}
	return t.Update(ctx)
}

func (t *MembershipTable) UpdateStatus(ctx context.Context, addr cluster.Address, status cluster.Status) error {
	return t.modify(ctx, "set status of "+addr.String(), addr, func(entry *cluster.MembershipEntry) bool {
		if entry.Status == status {
			return false
		}
		entry.Status = status
		entry.IAmAliveTime = t.config.Clock().UTC()
		return true
	})
}

// Suspect records accuser's vote against suspect. Votes older than the
// suspicion window are dropped; once a quorum of distinct silos agree the
// suspect is declared dead.
func (t *MembershipTable) Suspect(ctx context.Context, accuser, suspect cluster.Address) error {
	return t.modify(ctx, "suspect "+suspect.String(), suspect, func(entry *cluster.MembershipEntry) bool {
		if entry.Status == cluster.StatusDead {
			return false
		}

		now := t.config.Clock()
		entry.AddSuspector(accuser, now)

		recent := make([]cluster.SuspectTime, 0, len(entry.SuspectTimes))
		for _, s := range entry.SuspectTimes {
			if !s.Time.Before(now.Add(-t.config.SuspicionWindow)) {
				recent = append(recent, s)
			}
		}
		entry.SuspectTimes = recent

		if suspectors := entry.RecentSuspectors(now, t.config.SuspicionWindow); len(suspectors) >= t.config.SuspicionQuorum {
			log.Infof(ctx, "suspicion quorum met for %v (%d votes), declaring it dead", suspect, len(suspectors))
			entry.Status = cluster.StatusDead
		} else {
			log.Infof(ctx, "suspicion quorum not met for %v (%d of %d)", suspect, len(suspectors), t.config.SuspicionQuorum)
		}
		return true
	})
}

// Heartbeat refreshes entry's liveness timestamp without a version check.
func (t *MembershipTable) Heartbeat(ctx context.Context, entry *cluster.MembershipEntry) error {
	entry.IAmAliveTime = t.config.Clock().UTC()
	if err := t.store.UpdateIAmAlive(ctx, entry); err != nil {
		return fmt.Errorf("unable to update liveness of %v: %w", entry.Address, err)
	}
	return nil
}

// modify re-reads the row of addr and writes back the result of change
// until the write is accepted. change returns false when there is nothing
// to write.
func (t *MembershipTable) modify(ctx context.Context, op string, addr cluster.Address, change func(*cluster.MembershipEntry) bool) error {
	err := t.retry(ctx, op, func() (bool, error) {
		data, err := t.store.ReadRow(ctx, addr)
		if err != nil {
			return false, err
		}

		row, ok := data.Get(addr)
		if !ok {
			return false, fmt.Errorf("silo %v is not in the membership table", addr)
		}
		if !change(row.Entry) {
			return true, nil
		}

		next := data.Version.Next()
		return t.store.UpdateRow(ctx, row.Entry, row.ETag, &next)
	})
	if err != nil {
		return err
	}
	return t.Update(ctx)
}

func (t *MembershipTable) retry(ctx context.Context, op string, attempt func() (bool, error)) error {
	for i := 1; i <= t.config.MaxAttempts; i++ {
		if ok, err := attempt(); err != nil {
			return fmt.Errorf("unable to %s: %w", op, err)
		} else if ok {
			return nil
		}

		log.Debugf(ctx, "%s lost a table version race (attempt %d of %d)", op, i, t.config.MaxAttempts)
		if i == t.config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.config.Backoff.Duration(i)):
		}
	}

	return fmt.Errorf("unable to %s after %d attempts: %w", op, t.config.MaxAttempts, ErrRetriesExhausted)
}
