package relational

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/johnewart/go-orleans-sql/relational/stream"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// Record is one fully buffered row. Column lookups ignore case.
type Record struct {
	columns []string
	values  []interface{}
}

var _ stream.ColumnSource = (*Record)(nil)

func NewRecord(columns []string, values []interface{}) *Record {
	return &Record{
		columns: columns,
		values:  values,
	}
}

func (r *Record) FieldCount() int {
	return len(r.columns)
}

func (r *Record) Ordinal(column string) (int, error) {
	for i, c := range r.columns {
		if strings.EqualFold(c, column) {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w %q", ErrUnknownField, column)
}

func (r *Record) Value(column string) (interface{}, error) {
	if i, err := r.Ordinal(column); err != nil {
		return nil, err
	} else {
		return r.values[i], nil
	}
}

// IsNull reports whether column is NULL. Missing columns count as NULL.
func (r *Record) IsNull(column string) bool {
	v, err := r.Value(column)
	return err != nil || v == nil
}

func (r *Record) NullString(column string) (string, bool, error) {
	v, err := r.Value(column)
	if err != nil || v == nil {
		return "", false, err
	}

	switch t := v.(type) {
	case string:
		return t, true, nil
	case []byte:
		return string(t), true, nil
	case fmt.Stringer:
		return t.String(), true, nil
	default:
		return fmt.Sprint(t), true, nil
	}
}

func (r *Record) String(column string) (string, error) {
	if s, ok, err := r.NullString(column); err != nil {
		return "", err
	} else if !ok {
		return "", fmt.Errorf("column %q is null", column)
	} else {
		return s, nil
	}
}

func (r *Record) NullInt64(column string) (int64, bool, error) {
	v, err := r.Value(column)
	if err != nil || v == nil {
		return 0, false, err
	}
	if n, err := toInt64(v); err != nil {
		return 0, false, fmt.Errorf("column %q: %v", column, err)
	} else {
		return n, true, nil
	}
}

func (r *Record) Int64(column string) (int64, error) {
	if n, ok, err := r.NullInt64(column); err != nil {
		return 0, err
	} else if !ok {
		return 0, fmt.Errorf("column %q is null", column)
	} else {
		return n, nil
	}
}

func (r *Record) Int32(column string) (int32, error) {
	n, err := r.Int64(column)
	if err != nil {
		return 0, err
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, fmt.Errorf("column %q: %d overflows int32", column, n)
	}
	return int32(n), nil
}

func (r *Record) NullTime(column string) (time.Time, bool, error) {
	v, err := r.Value(column)
	if err != nil || v == nil {
		return time.Time{}, false, err
	}
	if t, err := toTime(v); err != nil {
		return time.Time{}, false, fmt.Errorf("column %q: %v", column, err)
	} else {
		return t, true, nil
	}
}

func (r *Record) Time(column string) (time.Time, error) {
	if t, ok, err := r.NullTime(column); err != nil {
		return time.Time{}, err
	} else if !ok {
		return time.Time{}, fmt.Errorf("column %q is null", column)
	} else {
		return t, nil
	}
}

// Bool reads a column by position, which is how single-column boolean
// results from conditional procedures are consumed.
func (r *Record) Bool(ordinal int) (bool, error) {
	if ordinal < 0 || ordinal >= len(r.values) {
		return false, fmt.Errorf("%w at ordinal %d", ErrUnknownField, ordinal)
	}

	switch t := r.values[ordinal].(type) {
	case nil:
		return false, fmt.Errorf("column %d is null", ordinal)
	case bool:
		return t, nil
	case []byte:
		return parseBool(string(t))
	case string:
		return parseBool(t)
	default:
		if n, err := toInt64(t); err != nil {
			return false, err
		} else {
			return n != 0, nil
		}
	}
}

func (r *Record) Bytes(column string) ([]byte, error) {
	v, err := r.Value(column)
	if err != nil || v == nil {
		return nil, err
	}
	switch t := v.(type) {
	case []byte:
		return append([]byte(nil), t...), nil
	case string:
		return []byte(t), nil
	default:
		return nil, fmt.Errorf("column %q: cannot read %T as bytes", column, v)
	}
}

// Stream exposes a text or binary column as a forward-only reader.
func (r *Record) Stream(column string) (*stream.Reader, error) {
	if i, err := r.Ordinal(column); err != nil {
		return nil, err
	} else {
		return stream.NewReader(r, i)
	}
}

func (r *Record) raw(ordinal int) ([]byte, error) {
	if ordinal < 0 || ordinal >= len(r.values) {
		return nil, fmt.Errorf("%w at ordinal %d", ErrUnknownField, ordinal)
	}
	switch t := r.values[ordinal].(type) {
	case nil:
		return nil, nil
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	default:
		return nil, fmt.Errorf("column %d: cannot stream %T", ordinal, t)
	}
}

func (r *Record) ColumnLength(ordinal int) (int64, error) {
	if b, err := r.raw(ordinal); err != nil {
		return 0, err
	} else {
		return int64(len(b)), nil
	}
}

func (r *Record) ReadColumn(ordinal int, offset int64, p []byte) (int, error) {
	b, err := r.raw(ordinal)
	if err != nil {
		return 0, err
	}
	if offset >= int64(len(b)) {
		return 0, nil
	}
	return copy(p, b[offset:]), nil
}

func toInt64(v interface{}) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int32:
		return int64(t), nil
	case int:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", t)
		}
		return int64(t), nil
	case float64:
		return int64(t), nil
	case float32:
		return int64(t), nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case []byte:
		return strconv.ParseInt(strings.TrimSpace(string(t)), 10, 64)
	case string:
		return strconv.ParseInt(strings.TrimSpace(t), 10, 64)
	default:
		return 0, fmt.Errorf("cannot read %T as an integer", v)
	}
}

func toTime(v interface{}) (time.Time, error) {
	var s string
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case []byte:
		s = string(t)
	case string:
		s = t
	default:
		return time.Time{}, fmt.Errorf("cannot read %T as a time", v)
	}

	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "t", "true":
		return true, nil
	case "0", "f", "false":
		return false, nil
	default:
		return false, fmt.Errorf("cannot read %q as a boolean", s)
	}
}
