// Package relationaltest provides an in-memory Storage that behaves like the
// clustering and reminder stored procedures.
package relationaltest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/johnewart/go-orleans-sql/cluster"
	"github.com/johnewart/go-orleans-sql/relational"
	"github.com/johnewart/go-orleans-sql/relational/dialect"
	"github.com/johnewart/go-orleans-sql/relational/queries"
)

var (
	memberColumns   = []string{"Address", "Port", "Generation", "SiloName", "HostName", "Status", "ProxyPort", "StartTime", "IAmAliveTime", "SuspectTimes", "Version"}
	gatewayColumns  = []string{"Address", "ProxyPort", "Generation"}
	reminderColumns = []string{"GrainId", "ReminderName", "StartTime", "Period", "Version"}
)

type memberRow struct {
	address      string
	port         int64
	generation   int64
	siloName     interface{}
	hostName     interface{}
	status       int64
	proxyPort    int64
	startTime    interface{}
	iAmAliveTime time.Time
	suspectTimes interface{}
}

type deployment struct {
	version int64
	members map[string]*memberRow
}

type reminderRow struct {
	grainID   string
	name      string
	startTime interface{}
	period    int64
	grainHash int64
	version   int64
}

// Store is safe for concurrent use. Each procedure call runs atomically.
type Store struct {
	mu          sync.Mutex
	d           dialect.Dialect
	procedures  map[string]queries.Key
	deployments map[string]*deployment
	reminders   map[string]map[string]*reminderRow
	etags       int64
	calls       []string
	failures    map[queries.Key]error
}

var _ relational.Storage = (*Store)(nil)

// NewStore answers to the default procedure names in the given schema.
func NewStore(schema string) *Store {
	procedures := make(map[string]queries.Key)
	for k, p := range queries.DefaultClusteringQueries(schema) {
		procedures[p] = k
	}
	for k, p := range queries.DefaultReminderQueries(schema) {
		procedures[p] = k
	}

	return &Store{
		d:           dialect.Profile(dialect.PostgreSQL),
		procedures:  procedures,
		deployments: make(map[string]*deployment),
		reminders:   make(map[string]map[string]*reminderRow),
		failures:    make(map[queries.Key]error),
	}
}

func (s *Store) Dialect() dialect.Dialect {
	return s.d
}

// FailWith makes every call of the procedure behind key return err until it
// is cleared with a nil error.
func (s *Store) FailWith(key queries.Key, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, key)
	} else {
		s.failures[key] = err
	}
}

// Calls returns the procedures invoked so far, in order.
func (s *Store) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Version returns the stored table version of a deployment, or -1 when it
// has none.
func (s *Store) Version(deploymentID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.deployments[deploymentID]; ok {
		return d.version
	}
	return -1
}

func (s *Store) Query(ctx context.Context, query string, bind relational.Binder, each relational.RowFunc) error {
	rows, err := s.call(ctx, query, bind)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := each(r, 0); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Execute(ctx context.Context, query string, bind relational.Binder) (int64, error) {
	rows, err := s.call(ctx, query, bind)
	if err != nil {
		return 0, err
	}
	if len(rows) == 1 {
		if n, ok, err := rows[0].NullInt64("Affected"); err == nil && ok {
			return n, nil
		}
	}
	return 0, nil
}

func (s *Store) call(ctx context.Context, query string, bind relational.Binder) ([]*relational.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := dialect.NewCommand(query)
	if bind != nil {
		bind(cmd)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, query)
	key, ok := s.procedures[query]
	if !ok {
		return nil, fmt.Errorf("could not find stored procedure '%s'", query)
	}
	if err := s.failures[key]; err != nil {
		return nil, err
	}

	switch key {
	case queries.InsertMembershipVersionKey:
		return s.insertVersion(cmd), nil
	case queries.MembershipReadRowKey:
		return s.readMembers(cmd, true), nil
	case queries.MembershipReadAllKey:
		return s.readMembers(cmd, false), nil
	case queries.GatewaysQueryKey:
		return s.gateways(cmd), nil
	case queries.InsertMembershipKey:
		return s.insertMember(cmd), nil
	case queries.UpdateMembershipKey:
		return s.updateMember(cmd), nil
	case queries.UpdateIAmAlivetimeKey:
		return s.updateIAmAlive(cmd), nil
	case queries.CleanupDefunctSiloEntriesKey:
		return s.cleanupDefunct(cmd), nil
	case queries.DeleteMembershipTableEntriesKey:
		return s.deleteDeployment(cmd), nil
	case queries.UpsertReminderRowKey:
		return s.upsertReminder(cmd), nil
	case queries.ReadReminderRowsKey:
		return s.readReminders(cmd, func(r *reminderRow) bool {
			return r.grainID == str(cmd, "GrainId")
		}), nil
	case queries.ReadReminderRowKey:
		return s.readReminders(cmd, func(r *reminderRow) bool {
			return r.grainID == str(cmd, "GrainId") && r.name == str(cmd, "ReminderName")
		}), nil
	case queries.ReadRangeRows1Key:
		begin, end := num(cmd, "BeginHash"), num(cmd, "EndHash")
		return s.readReminders(cmd, func(r *reminderRow) bool {
			return r.grainHash >= begin && r.grainHash <= end
		}), nil
	case queries.ReadRangeRows2Key:
		begin, end := num(cmd, "BeginHash"), num(cmd, "EndHash")
		return s.readReminders(cmd, func(r *reminderRow) bool {
			return r.grainHash >= begin || r.grainHash <= end
		}), nil
	case queries.DeleteReminderRowKey:
		return s.deleteReminder(cmd), nil
	case queries.DeleteReminderRowsKey:
		return s.deleteReminders(cmd), nil
	default:
		return nil, fmt.Errorf("procedure '%s' is not supported", query)
	}
}

func (s *Store) insertVersion(cmd *dialect.Command) []*relational.Record {
	id := str(cmd, "DeploymentId")
	if _, ok := s.deployments[id]; ok {
		return result(false)
	}
	s.deployments[id] = &deployment{members: make(map[string]*memberRow)}
	return result(true)
}

func (s *Store) readMembers(cmd *dialect.Command, single bool) []*relational.Record {
	d, ok := s.deployments[str(cmd, "DeploymentId")]
	if !ok {
		return nil
	}

	rows := make([]*relational.Record, 0)
	for _, key := range sortedKeys(d.members) {
		m := d.members[key]
		if single && key != memberKey(cmd) {
			continue
		}
		rows = append(rows, relational.NewRecord(memberColumns, []interface{}{
			m.address, m.port, m.generation, m.siloName, m.hostName, m.status,
			m.proxyPort, m.startTime, m.iAmAliveTime, m.suspectTimes, d.version,
		}))
	}

	if len(rows) == 0 {
		rows = append(rows, relational.NewRecord(memberColumns, []interface{}{
			nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, d.version,
		}))
	}
	return rows
}

func (s *Store) gateways(cmd *dialect.Command) []*relational.Record {
	rows := make([]*relational.Record, 0)
	d, ok := s.deployments[str(cmd, "DeploymentId")]
	if !ok {
		return rows
	}

	status := num(cmd, "Status")
	for _, key := range sortedKeys(d.members) {
		m := d.members[key]
		if m.status == status {
			rows = append(rows, relational.NewRecord(gatewayColumns, []interface{}{m.address, m.proxyPort, m.generation}))
		}
	}
	return rows
}

func (s *Store) insertMember(cmd *dialect.Command) []*relational.Record {
	d, ok := s.deployments[str(cmd, "DeploymentId")]
	if !ok || d.version != num(cmd, "Version") {
		return result(false)
	}

	key := memberKey(cmd)
	if _, exists := d.members[key]; exists {
		return result(false)
	}

	alive, _ := cmd.Value("IAmAliveTime").(time.Time)
	d.members[key] = &memberRow{
		address:      str(cmd, "Address"),
		port:         num(cmd, "Port"),
		generation:   num(cmd, "Generation"),
		siloName:     cmd.Value("SiloName"),
		hostName:     cmd.Value("HostName"),
		status:       num(cmd, "Status"),
		proxyPort:    num(cmd, "ProxyPort"),
		startTime:    cmd.Value("StartTime"),
		iAmAliveTime: alive,
		suspectTimes: cmd.Value("SuspectTimes"),
	}
	d.version++
	return result(true)
}

func (s *Store) updateMember(cmd *dialect.Command) []*relational.Record {
	d, ok := s.deployments[str(cmd, "DeploymentId")]
	if !ok || d.version != num(cmd, "Version") {
		return result(false)
	}

	m, exists := d.members[memberKey(cmd)]
	if !exists {
		return result(false)
	}

	m.status = num(cmd, "Status")
	m.suspectTimes = cmd.Value("SuspectTimes")
	if alive, ok := cmd.Value("IAmAliveTime").(time.Time); ok {
		m.iAmAliveTime = alive
	}
	d.version++
	return result(true)
}

func (s *Store) updateIAmAlive(cmd *dialect.Command) []*relational.Record {
	d, ok := s.deployments[str(cmd, "DeploymentId")]
	if !ok {
		return affected(0)
	}
	m, exists := d.members[memberKey(cmd)]
	if !exists {
		return affected(0)
	}
	m.iAmAliveTime, _ = cmd.Value("IAmAliveTime").(time.Time)
	return affected(1)
}

func (s *Store) cleanupDefunct(cmd *dialect.Command) []*relational.Record {
	d, ok := s.deployments[str(cmd, "DeploymentId")]
	if !ok {
		return affected(0)
	}

	before, _ := cmd.Value("IAmAliveTime").(time.Time)
	removed := int64(0)
	for key, m := range d.members {
		if m.status == int64(cluster.StatusDead) && m.iAmAliveTime.Before(before) {
			delete(d.members, key)
			removed++
		}
	}
	return affected(removed)
}

func (s *Store) deleteDeployment(cmd *dialect.Command) []*relational.Record {
	id := str(cmd, "DeploymentId")
	d, ok := s.deployments[id]
	if !ok {
		return affected(0)
	}
	delete(s.deployments, id)
	return affected(int64(len(d.members)) + 1)
}

func (s *Store) upsertReminder(cmd *dialect.Command) []*relational.Record {
	service := str(cmd, "ServiceId")
	if _, ok := s.reminders[service]; !ok {
		s.reminders[service] = make(map[string]*reminderRow)
	}

	s.etags++
	r := &reminderRow{
		grainID:   str(cmd, "GrainId"),
		name:      str(cmd, "ReminderName"),
		startTime: cmd.Value("StartTime"),
		period:    num(cmd, "Period"),
		grainHash: num(cmd, "GrainHash"),
		version:   s.etags,
	}
	s.reminders[service][r.grainID+"/"+r.name] = r
	return []*relational.Record{relational.NewRecord([]string{"Version"}, []interface{}{r.version})}
}

func (s *Store) readReminders(cmd *dialect.Command, match func(*reminderRow) bool) []*relational.Record {
	rows := make([]*relational.Record, 0)
	byKey := s.reminders[str(cmd, "ServiceId")]
	for _, key := range sortedKeys(byKey) {
		r := byKey[key]
		if match(r) {
			rows = append(rows, relational.NewRecord(reminderColumns, []interface{}{
				r.grainID, r.name, r.startTime, r.period, r.version,
			}))
		}
	}
	return rows
}

func (s *Store) deleteReminder(cmd *dialect.Command) []*relational.Record {
	byKey := s.reminders[str(cmd, "ServiceId")]
	key := str(cmd, "GrainId") + "/" + str(cmd, "ReminderName")
	if r, ok := byKey[key]; ok && r.version == num(cmd, "Version") {
		delete(byKey, key)
		return result(true)
	}
	return result(false)
}

func (s *Store) deleteReminders(cmd *dialect.Command) []*relational.Record {
	service := str(cmd, "ServiceId")
	n := int64(len(s.reminders[service]))
	delete(s.reminders, service)
	return affected(n)
}

func result(ok bool) []*relational.Record {
	return []*relational.Record{relational.NewRecord([]string{"Result"}, []interface{}{ok})}
}

func affected(n int64) []*relational.Record {
	return []*relational.Record{relational.NewRecord([]string{"Affected"}, []interface{}{n})}
}

func memberKey(cmd *dialect.Command) string {
	return fmt.Sprintf("%s:%d@%d", str(cmd, "Address"), num(cmd, "Port"), num(cmd, "Generation"))
}

func str(cmd *dialect.Command, name string) string {
	switch v := cmd.Value(name).(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func num(cmd *dialect.Command, name string) int64 {
	switch v := cmd.Value(name).(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	default:
		return 0
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
