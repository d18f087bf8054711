// Package queries maps logical operations onto the stored procedures that
// implement them and binds domain values as typed procedure parameters.
package queries

import (
	"fmt"
	"strings"
)

type Key string

const (
	GatewaysQueryKey                Key = "GatewaysQueryKey"
	MembershipReadRowKey            Key = "MembershipReadRowKey"
	MembershipReadAllKey            Key = "MembershipReadAllKey"
	InsertMembershipVersionKey      Key = "InsertMembershipVersionKey"
	UpdateIAmAlivetimeKey           Key = "UpdateIAmAlivetimeKey"
	InsertMembershipKey             Key = "InsertMembershipKey"
	UpdateMembershipKey             Key = "UpdateMembershipKey"
	DeleteMembershipTableEntriesKey Key = "DeleteMembershipTableEntriesKey"
	CleanupDefunctSiloEntriesKey    Key = "CleanupDefunctSiloEntriesKey"

	ReadReminderRowsKey   Key = "ReadReminderRowsKey"
	ReadRangeRows1Key     Key = "ReadRangeRows1Key"
	ReadRangeRows2Key     Key = "ReadRangeRows2Key"
	ReadReminderRowKey    Key = "ReadReminderRowKey"
	UpsertReminderRowKey  Key = "UpsertReminderRowKey"
	DeleteReminderRowKey  Key = "DeleteReminderRowKey"
	DeleteReminderRowsKey Key = "DeleteReminderRowsKey"
)

const DefaultSchema = "dbo"

var ClusteringKeys = []Key{
	GatewaysQueryKey,
	MembershipReadRowKey,
	MembershipReadAllKey,
	InsertMembershipVersionKey,
	UpdateIAmAlivetimeKey,
	InsertMembershipKey,
	UpdateMembershipKey,
	DeleteMembershipTableEntriesKey,
	CleanupDefunctSiloEntriesKey,
}

var ReminderKeys = []Key{
	ReadReminderRowsKey,
	ReadRangeRows1Key,
	ReadRangeRows2Key,
	ReadReminderRowKey,
	UpsertReminderRowKey,
	DeleteReminderRowKey,
	DeleteReminderRowsKey,
}

// MissingQueriesError lists every required key without a procedure.
type MissingQueriesError struct {
	Keys []Key
}

func (e *MissingQueriesError) Error() string {
	names := make([]string, 0, len(e.Keys))
	for _, k := range e.Keys {
		names = append(names, string(k))
	}
	return fmt.Sprintf("missing stored procedures for: %s", strings.Join(names, ", "))
}

type Registry struct {
	queries map[Key]string
}

// NewRegistry fails unless mapping names a procedure for every required key.
func NewRegistry(required []Key, mapping map[Key]string) (*Registry, error) {
	missing := make([]Key, 0)
	queries := make(map[Key]string, len(mapping))
	for _, k := range required {
		if q := strings.TrimSpace(mapping[k]); q == "" {
			missing = append(missing, k)
		} else {
			queries[k] = q
		}
	}

	if len(missing) > 0 {
		return nil, &MissingQueriesError{Keys: missing}
	}
	return &Registry{queries: queries}, nil
}

// Get returns the procedure for key. Keys outside the required set resolve
// to the empty string.
func (r *Registry) Get(key Key) string {
	return r.queries[key]
}

func DefaultClusteringQueries(schema string) map[Key]string {
	return defaults(schema, ClusteringKeys)
}

func DefaultReminderQueries(schema string) map[Key]string {
	return defaults(schema, ReminderKeys)
}

// Merge overlays the non-empty entries of overrides on base.
func Merge(base map[Key]string, overrides map[string]string) map[Key]string {
	merged := make(map[Key]string, len(base))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		if strings.TrimSpace(v) != "" {
			merged[Key(k)] = v
		}
	}
	return merged
}

func defaults(schema string, keys []Key) map[Key]string {
	if schema == "" {
		schema = DefaultSchema
	}
	m := make(map[Key]string, len(keys))
	for _, k := range keys {
		m[k] = schema + "." + strings.TrimSuffix(string(k), "Key")
	}
	return m
}
