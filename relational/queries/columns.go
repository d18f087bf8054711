package queries

import (
	"math"
	"time"

	"github.com/johnewart/go-orleans-sql/cluster"
	"github.com/johnewart/go-orleans-sql/relational/dialect"
)

const (
	nameSize         = 150
	addressSize      = 45
	suspectTimesSize = 8000
)

// Columns binds domain values onto a command under the parameter names the
// stored procedures expect.
type Columns struct {
	cmd *dialect.Command
}

func Bind(cmd *dialect.Command) *Columns {
	return &Columns{cmd: cmd}
}

func (c *Columns) add(name string, value interface{}, t dialect.DbType, size int) *Columns {
	c.cmd.AddParameter(name, value, t, size)
	return c
}

func (c *Columns) DeploymentID(id string) *Columns {
	return c.add("DeploymentId", id, dialect.String, nameSize)
}

func (c *Columns) ServiceID(id string) *Columns {
	return c.add("ServiceId", id, dialect.String, nameSize)
}

func (c *Columns) SiloAddress(addr cluster.Address) *Columns {
	c.add("Address", addr.IP.String(), dialect.AnsiString, addressSize)
	c.add("Port", int32(addr.Port), dialect.Int32, 0)
	return c.add("Generation", addr.Generation, dialect.Int32, 0)
}

func (c *Columns) SiloName(name string) *Columns {
	return c.add("SiloName", name, dialect.String, nameSize)
}

func (c *Columns) HostName(name string) *Columns {
	return c.add("HostName", name, dialect.String, nameSize)
}

func (c *Columns) Status(s cluster.Status) *Columns {
	return c.add("Status", int32(s), dialect.Int32, 0)
}

func (c *Columns) ProxyPort(port int) *Columns {
	return c.add("ProxyPort", int32(port), dialect.Int32, 0)
}

func (c *Columns) StartTime(t time.Time) *Columns {
	return c.add("StartTime", t, dialect.DateTime, 0)
}

func (c *Columns) IAmAliveTime(t time.Time) *Columns {
	return c.add("IAmAliveTime", t, dialect.DateTime, 0)
}

// SuspectTimes binds NULL for an empty list.
func (c *Columns) SuspectTimes(times []cluster.SuspectTime) *Columns {
	var value interface{}
	if len(times) > 0 {
		value = cluster.FormatSuspectTimes(times)
	}
	return c.add("SuspectTimes", value, dialect.AnsiString, suspectTimesSize)
}

func (c *Columns) Version(v int) *Columns {
	return c.add("Version", int32(v), dialect.Int32, 0)
}

func (c *Columns) GrainID(id string) *Columns {
	return c.add("GrainId", id, dialect.AnsiString, nameSize)
}

func (c *Columns) ReminderName(name string) *Columns {
	return c.add("ReminderName", name, dialect.String, nameSize)
}

// Hashes are unsigned 32-bit values carried in a 64-bit column so that
// range comparisons in the database follow unsigned order.
func (c *Columns) GrainHash(h uint32) *Columns {
	return c.add("GrainHash", int64(h), dialect.Int64, 0)
}

func (c *Columns) BeginHash(h uint32) *Columns {
	return c.add("BeginHash", int64(h), dialect.Int64, 0)
}

func (c *Columns) EndHash(h uint32) *Columns {
	return c.add("EndHash", int64(h), dialect.Int64, 0)
}

// Period is sent in milliseconds, as a 32-bit value whenever it fits.
func (c *Columns) Period(p time.Duration) *Columns {
	ms := p.Milliseconds()
	if ms <= math.MaxInt32 {
		return c.add("Period", int32(ms), dialect.Int32, 0)
	}
	return c.add("Period", ms, dialect.Int64, 0)
}
