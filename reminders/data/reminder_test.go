package data

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInRange(t *testing.T) {
	tests := []struct {
		name             string
		begin, end, hash uint32
		want             bool
	}{
		{"inside", 10, 20, 15, true},
		{"begin inclusive", 10, 20, 10, true},
		{"end inclusive", 10, 20, 20, true},
		{"below", 10, 20, 9, false},
		{"above", 10, 20, 21, false},
		{"wrap upper", math.MaxUint32 - 5, 5, math.MaxUint32, true},
		{"wrap lower", math.MaxUint32 - 5, 5, 0, true},
		{"wrap end inclusive", math.MaxUint32 - 5, 5, 5, true},
		{"wrap begin inclusive", math.MaxUint32 - 5, 5, math.MaxUint32 - 5, true},
		{"wrap gap", math.MaxUint32 - 5, 5, 6, false},
		{"equal covers ring", 7, 7, 1 << 31, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InRange(tt.begin, tt.end, tt.hash))
		})
	}
}

func TestLastOccurrence(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := &Reminder{StartAt: start, Period: 5 * time.Minute}

	_, ok := r.LastOccurrence(start.Add(-time.Second))
	assert.False(t, ok)

	at, ok := r.LastOccurrence(start)
	assert.True(t, ok)
	assert.Equal(t, start, at)

	at, _ = r.LastOccurrence(start.Add(12 * time.Minute))
	assert.Equal(t, start.Add(10*time.Minute), at)
}
