package storage

import (
	"strconv"
	"time"

	"github.com/johnewart/go-orleans-sql/grains"
	"github.com/johnewart/go-orleans-sql/relational"
	"github.com/johnewart/go-orleans-sql/reminders/data"
)

// readReminder converts one reminder row. A row without a grain id carries no
// reminder and yields nil.
func readReminder(rec *relational.Record, _ int) (*data.Reminder, error) {
	grainID, ok, err := rec.NullString("GrainId")
	if err != nil || !ok {
		return nil, err
	}

	r := &data.Reminder{}
	if r.GrainID, err = grains.ParseID(grainID); err != nil {
		return nil, err
	}
	if r.ReminderName, err = rec.String("ReminderName"); err != nil {
		return nil, err
	}
	if start, err := rec.Time("StartTime"); err != nil {
		return nil, err
	} else {
		r.StartAt = start.UTC()
	}
	if period, err := rec.Int64("Period"); err != nil {
		return nil, err
	} else {
		r.Period = time.Duration(period) * time.Millisecond
	}
	if r.ETag, err = readETag(rec, 0); err != nil {
		return nil, err
	}
	return r, nil
}

func readETag(rec *relational.Record, _ int) (string, error) {
	if version, err := rec.Int64("Version"); err != nil {
		return "", err
	} else {
		return strconv.FormatInt(version, 10), nil
	}
}

func readSingleBool(rec *relational.Record, _ int) (bool, error) {
	return rec.Bool(0)
}

func toTableData(rows []*data.Reminder) *data.TableData {
	reminders := make([]*data.Reminder, 0, len(rows))
	for _, r := range rows {
		if r != nil {
			reminders = append(reminders, r)
		}
	}
	return &data.TableData{Reminders: reminders}
}
