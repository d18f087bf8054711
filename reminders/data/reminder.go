package data

import (
	"fmt"
	"time"

	"github.com/johnewart/go-orleans-sql/grains"
)

// Reminder is a persisted periodic callback registered by a grain. It is
// keyed by service, grain and name.
type Reminder struct {
	GrainID      grains.ID
	ReminderName string
	StartAt      time.Time
	Period       time.Duration
	ETag         string
}

func (r *Reminder) String() string {
	return fmt.Sprintf("Reminder{GrainID: %s, Name: %s, StartAt: %v, Period: %v, ETag: %s}",
		r.GrainID, r.ReminderName, r.StartAt, r.Period, r.ETag)
}

// LastOccurrence returns the latest scheduled firing at or before now, or
// false when the reminder has not started yet.
func (r *Reminder) LastOccurrence(now time.Time) (time.Time, bool) {
	if now.Before(r.StartAt) || r.Period <= 0 {
		return time.Time{}, false
	}
	elapsed := now.Sub(r.StartAt)
	return r.StartAt.Add(elapsed - elapsed%r.Period), true
}

type TableData struct {
	Reminders []*Reminder
}

func (d *TableData) Len() int {
	return len(d.Reminders)
}

// InRange reports whether hash falls in the ring range [begin, end]. Both
// ends are inclusive. When begin >= end the range wraps past the top of the
// ring, so begin == end covers every hash.
func InRange(begin, end, hash uint32) bool {
	if begin < end {
		return hash >= begin && hash <= end
	}
	return hash >= begin || hash <= end
}
