package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/johnewart/go-orleans-sql/cluster"
	"github.com/johnewart/go-orleans-sql/grains"
	"github.com/johnewart/go-orleans-sql/relational"
	"github.com/johnewart/go-orleans-sql/relational/queries"
	"github.com/johnewart/go-orleans-sql/reminders/data"
	"zombiezen.com/go/log"
)

type SQLStoreConfig struct {
	Storage   relational.Storage
	Queries   map[queries.Key]string
	ServiceID string
	Conflicts ConflictCounter
}

type SQLStore struct {
	ReminderTable
	storage   relational.Storage
	queries   *queries.Registry
	serviceID string
	conflicts ConflictCounter
}

func NewSQLStore(config SQLStoreConfig) (*SQLStore, error) {
	if config.ServiceID == "" {
		return nil, &cluster.PreconditionError{Argument: "service id"}
	}

	mapping := config.Queries
	if mapping == nil {
		mapping = queries.DefaultReminderQueries(queries.DefaultSchema)
	}

	if registry, err := queries.NewRegistry(queries.ReminderKeys, mapping); err != nil {
		return nil, err
	} else {
		return &SQLStore{
			storage:   config.Storage,
			queries:   registry,
			serviceID: config.ServiceID,
			conflicts: config.Conflicts,
		}, nil
	}
}

// UpsertRow stores the reminder and returns its new etag.
func (s *SQLStore) UpsertRow(ctx context.Context, reminder *data.Reminder) (string, error) {
	if reminder == nil {
		return "", &cluster.PreconditionError{Argument: "reminder"}
	}
	if err := reminder.GrainID.Validate(); err != nil {
		return "", &cluster.PreconditionError{Argument: "grain id", Reason: err.Error()}
	}
	// Periods are stored in whole milliseconds.
	if reminder.Period < time.Millisecond || reminder.Period%time.Millisecond != 0 {
		return "", &cluster.PreconditionError{Argument: "period", Reason: "must be a positive whole number of milliseconds"}
	}

	return relational.ReadSingle(ctx, s.storage, s.queries.Get(queries.UpsertReminderRowKey), func(cmd *relational.Command) {
		queries.Bind(cmd).
			ServiceID(s.serviceID).
			GrainID(reminder.GrainID.String()).
			ReminderName(reminder.ReminderName).
			StartTime(reminder.StartAt.UTC()).
			Period(reminder.Period).
			GrainHash(reminder.GrainID.UniformHash())
	}, readETag)
}

func (s *SQLStore) ReadRows(ctx context.Context, grainID grains.ID) (*data.TableData, error) {
	if rows, err := relational.ReadAll(ctx, s.storage, s.queries.Get(queries.ReadReminderRowsKey), func(cmd *relational.Command) {
		queries.Bind(cmd).ServiceID(s.serviceID).GrainID(grainID.String())
	}, readReminder); err != nil {
		return nil, err
	} else {
		return toTableData(rows), nil
	}
}

// ReadRange returns the reminders whose grain hash lies in [begin, end]. When
// begin >= end the range wraps and covers [begin, MaxUint32] and [0, end].
func (s *SQLStore) ReadRange(ctx context.Context, begin, end uint32) (*data.TableData, error) {
	query := s.queries.Get(queries.ReadRangeRows1Key)
	if begin >= end {
		query = s.queries.Get(queries.ReadRangeRows2Key)
	}

	if rows, err := relational.ReadAll(ctx, s.storage, query, func(cmd *relational.Command) {
		queries.Bind(cmd).ServiceID(s.serviceID).BeginHash(begin).EndHash(end)
	}, readReminder); err != nil {
		return nil, err
	} else {
		return toTableData(rows), nil
	}
}

// ReadRow returns nil without an error when the reminder does not exist.
func (s *SQLStore) ReadRow(ctx context.Context, grainID grains.ID, name string) (*data.Reminder, error) {
	reminder, _, err := relational.ReadFirstOrDefault(ctx, s.storage, s.queries.Get(queries.ReadReminderRowKey), func(cmd *relational.Command) {
		queries.Bind(cmd).ServiceID(s.serviceID).GrainID(grainID.String()).ReminderName(name)
	}, readReminder)
	return reminder, err
}

// RemoveRow deletes the reminder if it still carries etag.
func (s *SQLStore) RemoveRow(ctx context.Context, grainID grains.ID, name, etag string) (bool, error) {
	version, err := strconv.Atoi(etag)
	if err != nil {
		log.Debugf(ctx, "etag %q of reminder %s on %s can never match", etag, name, grainID)
		return false, nil
	}

	removed, err := relational.ReadSingle(ctx, s.storage, s.queries.Get(queries.DeleteReminderRowKey), func(cmd *relational.Command) {
		queries.Bind(cmd).
			ServiceID(s.serviceID).
			GrainID(grainID.String()).
			ReminderName(name).
			Version(version)
	}, readSingleBool)
	if err != nil {
		return false, err
	}

	if !removed {
		log.Debugf(ctx, "reminder %s on %s no longer has etag %s", name, grainID, etag)
		if s.conflicts != nil {
			s.conflicts.CountConcurrencyConflict("remove_reminder")
		}
	}
	return removed, nil
}

func (s *SQLStore) DeleteAllRows(ctx context.Context, serviceID string) error {
	if serviceID == "" {
		return &cluster.PreconditionError{Argument: "service id"}
	}

	_, err := s.storage.Execute(ctx, s.queries.Get(queries.DeleteReminderRowsKey), func(cmd *relational.Command) {
		queries.Bind(cmd).ServiceID(serviceID)
	})
	return err
}
