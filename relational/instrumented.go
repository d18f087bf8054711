package relational

import (
	"context"

	"github.com/johnewart/go-orleans-sql/relational/dialect"
)

// QueryTimer records the outcome and latency of one stored procedure call.
type QueryTimer interface {
	TimeQuery(procedure string, f func() error) error
}

type instrumentedStorage struct {
	storage Storage
	timer   QueryTimer
}

// Instrument times every call made through s.
func Instrument(s Storage, timer QueryTimer) Storage {
	return &instrumentedStorage{storage: s, timer: timer}
}

func (i *instrumentedStorage) Dialect() dialect.Dialect {
	return i.storage.Dialect()
}

func (i *instrumentedStorage) Query(ctx context.Context, query string, bind Binder, each RowFunc) error {
	return i.timer.TimeQuery(query, func() error {
		return i.storage.Query(ctx, query, bind, each)
	})
}

func (i *instrumentedStorage) Execute(ctx context.Context, query string, bind Binder) (int64, error) {
	var affected int64
	err := i.timer.TimeQuery(query, func() error {
		n, err := i.storage.Execute(ctx, query, bind)
		affected = n
		return err
	})
	return affected, err
}
