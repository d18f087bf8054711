package cluster

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const suspectTimeLayout = "2006-01-02 15:04:05.000 GMT"

type Status int

const (
	StatusNone Status = iota
	StatusCreated
	StatusJoining
	StatusActive
	StatusShuttingDown
	StatusStopping
	StatusDead
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "None"
	case StatusCreated:
		return "Created"
	case StatusJoining:
		return "Joining"
	case StatusActive:
		return "Active"
	case StatusShuttingDown:
		return "ShuttingDown"
	case StatusStopping:
		return "Stopping"
	case StatusDead:
		return "Dead"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

func (s Status) IsTerminating() bool {
	return s == StatusShuttingDown || s == StatusStopping || s == StatusDead
}

// SuspectTime records that Address voted the owning silo dead at Time.
type SuspectTime struct {
	Address Address
	Time    time.Time
}

type MembershipEntry struct {
	Address      Address
	SiloName     string
	HostName     string
	Status       Status
	ProxyPort    int
	StartTime    time.Time
	IAmAliveTime time.Time
	SuspectTimes []SuspectTime
}

// Gateway is the endpoint clients use to reach this silo.
func (e *MembershipEntry) Gateway() Address {
	return Address{
		IP:         e.Address.IP,
		Port:       e.ProxyPort,
		Generation: e.Address.Generation,
	}
}

func (e *MembershipEntry) AddSuspector(suspector Address, at time.Time) {
	e.SuspectTimes = append(e.SuspectTimes, SuspectTime{Address: suspector, Time: at.UTC()})
}

// RecentSuspectors returns the distinct silos that suspected this one after
// now-window.
func (e *MembershipEntry) RecentSuspectors(now time.Time, window time.Duration) []Address {
	cutoff := now.Add(-window)
	seen := make(map[Address]bool)
	suspectors := make([]Address, 0)
	for _, s := range e.SuspectTimes {
		if s.Time.Before(cutoff) || seen[s.Address] {
			continue
		}
		seen[s.Address] = true
		suspectors = append(suspectors, s.Address)
	}
	return suspectors
}

func (e *MembershipEntry) String() string {
	return fmt.Sprintf("MembershipEntry{Address: %s, SiloName: %s, Status: %s, ProxyPort: %d, Suspicions: %d}",
		e.Address, e.SiloName, e.Status, e.ProxyPort, len(e.SuspectTimes))
}

// FormatSuspectTimes renders suspicions as "address,date|address,date".
func FormatSuspectTimes(times []SuspectTime) string {
	parts := make([]string, 0, len(times))
	for _, s := range times {
		parts = append(parts, s.Address.String()+","+s.Time.UTC().Format(suspectTimeLayout))
	}
	return strings.Join(parts, "|")
}

func ParseSuspectTimes(s string) ([]SuspectTime, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	parts := strings.Split(s, "|")
	times := make([]SuspectTime, 0, len(parts))
	for _, part := range parts {
		comma := strings.IndexByte(part, ',')
		if comma < 0 {
			return nil, fmt.Errorf("invalid suspect time %q", part)
		}

		if addr, err := ParseAddress(part[:comma]); err != nil {
			return nil, err
		} else if at, err := time.Parse(suspectTimeLayout, part[comma+1:]); err != nil {
			return nil, fmt.Errorf("invalid suspect time %q: %v", part, err)
		} else {
			times = append(times, SuspectTime{Address: addr, Time: at})
		}
	}
	return times, nil
}

// TableVersion guards every write to a cluster's membership table.
type TableVersion struct {
	Version     int
	VersionEtag string
}

func NewTableVersion(version int) TableVersion {
	return TableVersion{Version: version, VersionEtag: strconv.Itoa(version)}
}

// Next is the version a successful write produces. It keeps the etag of the
// version it was derived from, which is what the write is checked against.
func (v TableVersion) Next() TableVersion {
	return TableVersion{Version: v.Version + 1, VersionEtag: v.VersionEtag}
}

func (v TableVersion) String() string {
	return fmt.Sprintf("<%d, %s>", v.Version, v.VersionEtag)
}

type MemberRow struct {
	Entry *MembershipEntry
	ETag  string
}

type MembershipTableData struct {
	Members []MemberRow
	Version TableVersion
}

// Entry returns the first member row, or nil for a snapshot without members.
func (d *MembershipTableData) Entry() *MembershipEntry {
	if len(d.Members) == 0 {
		return nil
	}
	return d.Members[0].Entry
}

func (d *MembershipTableData) Get(addr Address) (MemberRow, bool) {
	for _, m := range d.Members {
		if m.Entry.Address == addr {
			return m, true
		}
	}
	return MemberRow{}, false
}

func (d *MembershipTableData) WithStatus(status Status) []*MembershipEntry {
	entries := make([]*MembershipEntry, 0)
	for _, m := range d.Members {
		if m.Entry.Status == status {
			entries = append(entries, m.Entry)
		}
	}
	return entries
}
