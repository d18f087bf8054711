package relational

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/johnewart/go-orleans-sql/relational/dialect"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"zombiezen.com/go/log"
)

type SQLStorage struct {
	Storage
	db      *gorm.DB
	dialect dialect.Dialect
}

func Open(d dialect.Dialect, dsn string) (*SQLStorage, error) {
	if db, err := gorm.Open(d.Dialector(dsn), &gorm.Config{Logger: NewLogger(logger.Warn)}); err != nil {
		return nil, fmt.Errorf("unable to open %s storage: %v", d, err)
	} else {
		return New(db, d), nil
	}
}

func New(db *gorm.DB, d dialect.Dialect) *SQLStorage {
	return &SQLStorage{
		db:      db,
		dialect: d,
	}
}

func (s *SQLStorage) Dialect() dialect.Dialect {
	return s.dialect
}

func (s *SQLStorage) DB() *gorm.DB {
	return s.db
}

func (s *SQLStorage) Close() error {
	if sqlDB, err := s.db.DB(); err != nil {
		return err
	} else {
		return sqlDB.Close()
	}
}

func (s *SQLStorage) prepare(query string, bind Binder) (string, []interface{}) {
	cmd := dialect.NewCommand(query)
	if bind != nil {
		bind(cmd)
	}
	s.dialect.Intercept(cmd)
	return s.dialect.CallText(cmd)
}

func (s *SQLStorage) Query(ctx context.Context, query string, bind Binder, each RowFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	text, args := s.prepare(query, bind)

	return s.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		// The command runs on a context the caller cannot cancel directly so
		// that cancellation can be withheld once the reader has been closed.
		cmdCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()

		var gate *readerGate
		if s.dialect.SupportsCommandCancellation {
			gate = watchCommand(ctx, cancel)
			defer gate.stop()
		}

		rows, err := conn.WithContext(cmdCtx).Raw(text, args...).Rows()
		if err != nil {
			return err
		}
		defer func() {
			if gate != nil {
				gate.close()
			}
			rows.Close()
		}()

		return s.readResultSets(ctx, rows, each)
	})
}

// readerGate forwards cancellation of ctx to a command only until its reader
// has been closed.
type readerGate struct {
	closed atomic.Bool
	stop   func() bool
}

func watchCommand(ctx context.Context, cancel context.CancelFunc) *readerGate {
	g := &readerGate{}
	g.stop = context.AfterFunc(ctx, func() {
		if !g.closed.Load() {
			cancel()
		}
	})
	return g
}

func (g *readerGate) close() {
	g.closed.Store(true)
}

func (s *SQLStorage) readResultSets(ctx context.Context, rows *sql.Rows, each RowFunc) error {
	for resultSet := 0; ; resultSet++ {
		columns, err := rows.Columns()
		if err != nil {
			return err
		}

		for rows.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			values := make([]interface{}, len(columns))
			targets := make([]interface{}, len(columns))
			for i := range values {
				targets[i] = &values[i]
			}
			if err := rows.Scan(targets...); err != nil {
				return err
			}

			if err := each(NewRecord(columns, values), resultSet); err != nil {
				return err
			}
		}

		if err := rows.Err(); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}

		if !rows.NextResultSet() {
			return rows.Err()
		}
	}
}

func (s *SQLStorage) Execute(ctx context.Context, query string, bind Binder) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	text, args := s.prepare(query, bind)

	var affected int64
	err := s.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		result := conn.Exec(text, args...)
		affected = result.RowsAffected
		return result.Error
	})
	return affected, err
}

type logWriter struct{}

func (logWriter) Printf(format string, args ...interface{}) {
	log.Warnf(context.Background(), format, args...)
}

// NewLogger routes gorm's statement log into the process logger.
func NewLogger(level logger.LogLevel) logger.Interface {
	return logger.New(logWriter{}, logger.Config{
		SlowThreshold:             500 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
