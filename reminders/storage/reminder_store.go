package storage

import (
	"context"

	"github.com/johnewart/go-orleans-sql/grains"
	"github.com/johnewart/go-orleans-sql/reminders/data"
)

// ReminderTable persists reminders for one service. Hash ranges are
// inclusive at both ends and wrap around the ring when begin >= end.
type ReminderTable interface {
	UpsertRow(ctx context.Context, reminder *data.Reminder) (string, error)
	ReadRows(ctx context.Context, grainID grains.ID) (*data.TableData, error)
	ReadRange(ctx context.Context, begin, end uint32) (*data.TableData, error)
	ReadRow(ctx context.Context, grainID grains.ID, name string) (*data.Reminder, error)
	RemoveRow(ctx context.Context, grainID grains.ID, name, etag string) (bool, error)
	DeleteAllRows(ctx context.Context, serviceID string) error
}

// ConflictCounter is told about every removal rejected by the etag check.
type ConflictCounter interface {
	CountConcurrencyConflict(operation string)
}
