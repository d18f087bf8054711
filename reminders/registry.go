package reminders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/johnewart/go-orleans-sql/cluster"
	"github.com/johnewart/go-orleans-sql/grains"
	"github.com/johnewart/go-orleans-sql/metrics"
	"github.com/johnewart/go-orleans-sql/reminders/data"
	"github.com/johnewart/go-orleans-sql/reminders/storage"
	"zombiezen.com/go/log"
)

// ReceiveReminderMethod is the grain method a reminder invokes.
const ReceiveReminderMethod = "ReceiveReminder"

type ReminderCallback func(ctx context.Context, invocation *grains.Invocation) error

type ReminderConfig struct {
	Table           storage.ReminderTable
	TickInterval    time.Duration
	MetricsRegistry *metrics.MetricsRegistry
	// RangeBegin and RangeEnd bound the slice of the hash ring this registry
	// fires reminders for. Equal values cover the whole ring.
	RangeBegin uint32
	RangeEnd   uint32
	Callback   ReminderCallback
	Clock      func() time.Time
}

type ReminderRegistry struct {
	table           storage.ReminderTable
	tickInterval    time.Duration
	metricsRegistry *metrics.MetricsRegistry
	rangeBegin      uint32
	rangeEnd        uint32
	callback        ReminderCallback
	clock           func() time.Time

	mu       sync.Mutex
	lastTick time.Time
}

func NewReminderRegistry(config ReminderConfig) (*ReminderRegistry, error) {
	if config.Table == nil {
		return nil, &cluster.PreconditionError{Argument: "reminder table"}
	}
	if config.Callback == nil {
		return nil, &cluster.PreconditionError{Argument: "reminder callback"}
	}
	if config.TickInterval <= 0 {
		return nil, &cluster.PreconditionError{Argument: "tick interval", Reason: "must be positive"}
	}

	clock := config.Clock
	if clock == nil {
		clock = time.Now
	}

	return &ReminderRegistry{
		table:           config.Table,
		tickInterval:    config.TickInterval,
		metricsRegistry: config.MetricsRegistry,
		rangeBegin:      config.RangeBegin,
		rangeEnd:        config.RangeEnd,
		callback:        config.Callback,
		clock:           clock,
	}, nil
}

func (r *ReminderRegistry) Register(ctx context.Context, grainID grains.ID, name string, startAt time.Time, period time.Duration) (*data.Reminder, error) {
	log.Infof(ctx, "Registering reminder %s for grain %s", name, grainID)

	reminder := &data.Reminder{
		GrainID:      grainID,
		ReminderName: name,
		StartAt:      startAt,
		Period:       period,
	}

	if etag, err := r.table.UpsertRow(ctx, reminder); err != nil {
		return nil, fmt.Errorf("unable to register reminder %s: %w", name, err)
	} else {
		reminder.ETag = etag
		return reminder, nil
	}
}

// Unregister removes the named reminder, reporting false when it does not
// exist or was changed concurrently.
func (r *ReminderRegistry) Unregister(ctx context.Context, grainID grains.ID, name string) (bool, error) {
	if reminder, err := r.table.ReadRow(ctx, grainID, name); err != nil {
		return false, fmt.Errorf("unable to read reminder %s: %w", name, err)
	} else if reminder == nil {
		return false, nil
	} else {
		return r.table.RemoveRow(ctx, grainID, name, reminder.ETag)
	}
}

func (r *ReminderRegistry) Reminders(ctx context.Context, grainID grains.ID) ([]*data.Reminder, error) {
	if rows, err := r.table.ReadRows(ctx, grainID); err != nil {
		return nil, err
	} else {
		return rows.Reminders, nil
	}
}

// Tick fires every reminder in range with an occurrence in (last tick, now].
// Callback failures are logged and do not stop the tick.
func (r *ReminderRegistry) Tick(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	since := r.lastTick
	if since.IsZero() {
		since = now.Add(-r.tickInterval)
	}
	r.mu.Unlock()

	rows, err := r.table.ReadRange(ctx, r.rangeBegin, r.rangeEnd)
	if err != nil {
		return 0, fmt.Errorf("unable to read reminders: %w", err)
	}

	fired := 0
	for _, reminder := range rows.Reminders {
		at, ok := reminder.LastOccurrence(now)
		if !ok || !at.After(since) {
			continue
		}

		invocation := &grains.Invocation{
			InvocationID: fmt.Sprintf("reminder-%s-%s", reminder.ReminderName, uuid.New().String()),
			GrainID:      reminder.GrainID,
			MethodName:   ReceiveReminderMethod,
			Data:         []byte(reminder.ReminderName),
		}

		log.Debugf(ctx, "Firing reminder %s for grain %s (due %v)", reminder.ReminderName, reminder.GrainID, at)
		if r.metricsRegistry != nil {
			r.metricsRegistry.CountReminderInvocation(reminder.ReminderName)
		}
		if err := r.callback(ctx, invocation); err != nil {
			log.Warnf(ctx, "Unable to invoke grain %s for reminder %s: %v", reminder.GrainID, reminder.ReminderName, err)
			continue
		}
		fired++
	}

	r.mu.Lock()
	r.lastTick = now
	r.mu.Unlock()
	return fired, nil
}

// Start ticks until ctx is done.
func (r *ReminderRegistry) Start(ctx context.Context) error {
	log.Infof(ctx, "Starting reminder process for range [%d, %d]", r.rangeBegin, r.rangeEnd)
	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Infof(ctx, "Context is done, stopping reminder process...")
			return nil
		case <-ticker.C:
			tick := func() error {
				n, err := r.Tick(ctx, r.clock())
				if n > 0 {
					log.Infof(ctx, "Fired %d reminders", n)
				}
				return err
			}
			if r.metricsRegistry != nil {
				err := r.metricsRegistry.TimeReminderRegistryTick(tick)
				if err != nil {
					log.Warnf(ctx, "Reminder tick failed: %v", err)
				}
			} else if err := tick(); err != nil {
				log.Warnf(ctx, "Reminder tick failed: %v", err)
			}
		}
	}
}
