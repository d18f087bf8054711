package cluster

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuspectTimesRoundTrip(t *testing.T) {
	a := NewAddress(netip.MustParseAddr("10.0.0.1"), 11111, 7)
	b := NewAddress(netip.MustParseAddr("10.0.0.2"), 11111, 9)
	times := []SuspectTime{
		{Address: a, Time: time.Date(2024, 1, 1, 12, 30, 0, 125000000, time.UTC)},
		{Address: b, Time: time.Date(2024, 1, 2, 0, 0, 1, 0, time.UTC)},
	}

	s := FormatSuspectTimes(times)
	assert.Equal(t, "10.0.0.1:11111@7,2024-01-01 12:30:00.125 GMT|10.0.0.2:11111@9,2024-01-02 00:00:01.000 GMT", s)

	parsed, err := ParseSuspectTimes(s)
	require.NoError(t, err)
	assert.Equal(t, times, parsed)

	empty, err := ParseSuspectTimes("  ")
	require.NoError(t, err)
	assert.Nil(t, empty)

	_, err = ParseSuspectTimes("10.0.0.1:11111@7")
	assert.Error(t, err)
}

func TestRecentSuspectors(t *testing.T) {
	now := time.Now()
	a := NewAddress(netip.MustParseAddr("10.0.0.1"), 11111, 1)
	b := NewAddress(netip.MustParseAddr("10.0.0.2"), 11111, 1)

	e := &MembershipEntry{}
	e.AddSuspector(a, now.Add(-time.Hour))
	e.AddSuspector(b, now.Add(-time.Second))
	e.AddSuspector(b, now)

	assert.Equal(t, []Address{b}, e.RecentSuspectors(now, time.Minute))
	assert.Len(t, e.RecentSuspectors(now, 2*time.Hour), 2)
}

func TestTableVersion(t *testing.T) {
	v := NewTableVersion(3)
	assert.Equal(t, "3", v.VersionEtag)
	next := v.Next()
	assert.Equal(t, 4, next.Version)
	assert.Equal(t, "3", next.VersionEtag)
}

func TestMembershipTableData(t *testing.T) {
	empty := MembershipTableData{Version: NewTableVersion(1)}
	assert.Nil(t, empty.Entry())

	addr := NewAddress(netip.MustParseAddr("10.0.0.1"), 11111, 1)
	data := MembershipTableData{
		Members: []MemberRow{
			{Entry: &MembershipEntry{Address: addr, Status: StatusActive, ProxyPort: 30000}},
			{Entry: &MembershipEntry{Status: StatusDead}},
		},
	}
	assert.Equal(t, addr, data.Entry().Address)

	row, ok := data.Get(addr)
	require.True(t, ok)
	assert.Equal(t, 30000, row.Entry.Gateway().Port)
	assert.Len(t, data.WithStatus(StatusActive), 1)
}
