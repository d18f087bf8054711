// Package relational executes stored procedure calls against a relational
// database and streams their result sets back to the caller.
package relational

import (
	"context"
	"errors"

	"github.com/johnewart/go-orleans-sql/relational/dialect"
)

type Command = dialect.Command

// Binder adds the parameters of a single call to cmd.
type Binder func(cmd *Command)

// RowFunc receives every row along with the index of the result set it
// belongs to. Returning an error stops the iteration.
type RowFunc func(rec *Record, resultSet int) error

// Selector projects a row into a value.
type Selector[T any] func(rec *Record, resultSet int) (T, error)

var (
	ErrNoRows       = errors.New("relational: query returned no rows")
	ErrTooManyRows  = errors.New("relational: query returned more than one row")
	ErrUnknownField = errors.New("relational: unknown column")
)

// Storage runs named stored procedures. Each call uses its own connection and
// never retries.
type Storage interface {
	Dialect() dialect.Dialect
	Query(ctx context.Context, query string, bind Binder, each RowFunc) error
	Execute(ctx context.Context, query string, bind Binder) (int64, error)
}

// ReadAll collects the projection of every row of every result set.
func ReadAll[T any](ctx context.Context, s Storage, query string, bind Binder, selector Selector[T]) ([]T, error) {
	results := make([]T, 0)
	err := s.Query(ctx, query, bind, func(rec *Record, resultSet int) error {
		if v, err := selector(rec, resultSet); err != nil {
			return err
		} else {
			results = append(results, v)
			return nil
		}
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// ReadSingle expects exactly one row.
func ReadSingle[T any](ctx context.Context, s Storage, query string, bind Binder, selector Selector[T]) (T, error) {
	var zero T
	if results, err := ReadAll(ctx, s, query, bind, selector); err != nil {
		return zero, err
	} else {
		switch len(results) {
		case 0:
			return zero, ErrNoRows
		case 1:
			return results[0], nil
		default:
			return zero, ErrTooManyRows
		}
	}
}

// ReadFirstOrDefault returns the first row, or the zero value and false when
// the call produced no rows.
func ReadFirstOrDefault[T any](ctx context.Context, s Storage, query string, bind Binder, selector Selector[T]) (T, bool, error) {
	var zero T
	if results, err := ReadAll(ctx, s, query, bind, selector); err != nil {
		return zero, false, err
	} else if len(results) == 0 {
		return zero, false, nil
	} else {
		return results[0], true, nil
	}
}
