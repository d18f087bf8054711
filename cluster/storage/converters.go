package storage

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/johnewart/go-orleans-sql/cluster"
	"github.com/johnewart/go-orleans-sql/relational"
)

type versionedEntry struct {
	entry   *cluster.MembershipEntry
	version int
}

// ScanAddress reads a silo address, taking the port from portColumn.
func ScanAddress(rec *relational.Record, portColumn string) (cluster.Address, error) {
	if address, err := rec.String("Address"); err != nil {
		return cluster.Address{}, err
	} else if ip, err := netip.ParseAddr(address); err != nil {
		return cluster.Address{}, fmt.Errorf("unable to parse silo ip %q: %v", address, err)
	} else if port, err := rec.Int32(portColumn); err != nil {
		return cluster.Address{}, err
	} else if generation, err := rec.Int32("Generation"); err != nil {
		return cluster.Address{}, err
	} else {
		return cluster.NewAddress(ip, int(port), generation), nil
	}
}

// readMembershipRow converts one row of a membership read. Every read carries
// the table version; rows without a start time carry nothing else.
func readMembershipRow(rec *relational.Record, _ int) (versionedEntry, error) {
	version, err := rec.Int64("Version")
	if err != nil {
		return versionedEntry{}, err
	}

	startTime, ok, err := rec.NullTime("StartTime")
	if err != nil {
		return versionedEntry{}, err
	}
	if !ok {
		return versionedEntry{version: int(version)}, nil
	}

	entry := &cluster.MembershipEntry{StartTime: startTime}
	if entry.Address, err = ScanAddress(rec, "Port"); err != nil {
		return versionedEntry{}, err
	}

	// Older tables do not have a SiloName column.
	if name, _, err := rec.NullString("SiloName"); err != nil && !errors.Is(err, relational.ErrUnknownField) {
		return versionedEntry{}, err
	} else {
		entry.SiloName = name
	}

	if entry.HostName, _, err = rec.NullString("HostName"); err != nil {
		return versionedEntry{}, err
	}

	if status, err := rec.Int32("Status"); err != nil {
		return versionedEntry{}, err
	} else if status < int32(cluster.StatusNone) || status > int32(cluster.StatusDead) {
		return versionedEntry{}, fmt.Errorf("unknown silo status %d", status)
	} else {
		entry.Status = cluster.Status(status)
	}

	if proxyPort, err := rec.Int32("ProxyPort"); err != nil {
		return versionedEntry{}, err
	} else {
		entry.ProxyPort = int(proxyPort)
	}

	if entry.IAmAliveTime, err = rec.Time("IAmAliveTime"); err != nil {
		return versionedEntry{}, err
	}

	if suspects, _, err := rec.NullString("SuspectTimes"); err != nil {
		return versionedEntry{}, err
	} else if entry.SuspectTimes, err = cluster.ParseSuspectTimes(suspects); err != nil {
		return versionedEntry{}, err
	}

	return versionedEntry{entry: entry, version: int(version)}, nil
}

func readSingleBool(rec *relational.Record, _ int) (bool, error) {
	if rec.FieldCount() != 1 {
		return false, fmt.Errorf("expected a single column, got %d", rec.FieldCount())
	}
	return rec.Bool(0)
}

// toTableData folds membership rows into a snapshot. Row etags are the
// version etag the row was read at.
func toTableData(rows []versionedEntry) (*cluster.MembershipTableData, error) {
	if len(rows) == 0 {
		return nil, cluster.ErrTableNotInitialized
	}

	version := cluster.NewTableVersion(rows[0].version)
	data := &cluster.MembershipTableData{
		Members: make([]cluster.MemberRow, 0, len(rows)),
		Version: version,
	}
	for _, r := range rows {
		if r.entry != nil {
			data.Members = append(data.Members, cluster.MemberRow{Entry: r.entry, ETag: version.VersionEtag})
		}
	}
	return data, nil
}
