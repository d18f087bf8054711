package relational

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordColumnsIgnoreCase(t *testing.T) {
	rec := NewRecord([]string{"SiloName", "Port"}, []interface{}{[]byte("silo-1"), int32(11111)})

	name, err := rec.String("siloname")
	require.NoError(t, err)
	assert.Equal(t, "silo-1", name)

	port, err := rec.Int32("PORT")
	require.NoError(t, err)
	assert.Equal(t, int32(11111), port)

	_, err = rec.String("HostName")
	assert.True(t, errors.Is(err, ErrUnknownField))
	assert.Equal(t, 2, rec.FieldCount())
}

func TestRecordNulls(t *testing.T) {
	rec := NewRecord([]string{"SuspectTimes", "StartTime"}, []interface{}{nil, nil})

	_, ok, err := rec.NullString("SuspectTimes")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, rec.IsNull("StartTime"))

	_, err = rec.Time("StartTime")
	assert.Error(t, err)
}

func TestRecordConversions(t *testing.T) {
	when := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := NewRecord(
		[]string{"Period", "StartTime", "Text", "Flag", "Big"},
		[]interface{}{[]byte("300000"), "2024-01-01 00:00:00", "t", int64(1), int64(1) << 40},
	)

	period, err := rec.Int64("Period")
	require.NoError(t, err)
	assert.Equal(t, int64(300000), period)

	start, err := rec.Time("StartTime")
	require.NoError(t, err)
	assert.True(t, when.Equal(start))

	b, err := rec.Bool(3)
	require.NoError(t, err)
	assert.True(t, b)

	b, err = rec.Bool(2)
	require.NoError(t, err)
	assert.True(t, b)

	_, err = rec.Int32("Big")
	assert.Error(t, err)

	_, err = rec.Bool(9)
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestRecordStream(t *testing.T) {
	payload := []byte("a large serialized payload")
	rec := NewRecord([]string{"Payload"}, []interface{}{payload})

	r, err := rec.Stream("payload")
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), r.Len())

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}
