package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/johnewart/go-orleans-sql/relational/dialect"
	"github.com/johnewart/go-orleans-sql/relational/queries"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "silo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadLayersFileAndEnvironment(t *testing.T) {
	path := writeConfig(t, `
database:
  dialect: sqlserver
  dsn: sqlserver://sa@localhost:1433?database=orleans
  queries:
    GatewaysQueryKey: custom.Gateways
cluster:
  cluster_id: from-file
  service_id: svc
  heartbeat_interval: 2s
reminders:
  tick_interval: 250ms
`)
	t.Setenv("CLUSTER_ID", "from-env")
	t.Setenv("PROXY_PORT", "31000")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Cluster.ClusterID)
	assert.Equal(t, "svc", cfg.Cluster.ServiceID)
	assert.Equal(t, 31000, cfg.Cluster.ProxyPort)
	assert.Equal(t, 11111, cfg.Cluster.Port)
	assert.Equal(t, 2*time.Second, cfg.Cluster.HeartbeatInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.Reminders.TickInterval)

	d, err := cfg.Dialect()
	require.NoError(t, err)
	assert.Equal(t, dialect.SQLServer, d.Kind)

	assert.Equal(t, "custom.Gateways", cfg.ClusteringQueries()[queries.GatewaysQueryKey])
	assert.Equal(t, "dbo.MembershipReadRow", cfg.ClusteringQueries()[queries.MembershipReadRowKey])
	assert.Equal(t, "dbo.UpsertReminderRow", cfg.ReminderQueries()[queries.UpsertReminderRowKey])
}

func TestLoadWithoutFileUsesEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/orleans")
	t.Setenv("CLUSTER_ID", "c")
	t.Setenv("SERVICE_ID", "s")
	t.Setenv("DB_SCHEMA", "orleans")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/orleans", cfg.Database.DSN)
	assert.Equal(t, "orleans.GatewaysQuery", cfg.ClusteringQueries()[queries.GatewaysQueryKey])
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.Dialect = "oracle"
	cfg.Cluster.Port = 0
	cfg.Cluster.SuspicionQuorum = 0

	err := cfg.Validate()
	require.Error(t, err)

	merr, ok := err.(*multierror.Error)
	require.True(t, ok)
	// dialect, dsn, cluster id, service id, port, quorum
	assert.Len(t, merr.Errors, 6)

	var cfgErr *dialect.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Database.DSN = "postgres://localhost/orleans"
	cfg.Cluster.ClusterID = "c"
	cfg.Cluster.ServiceID = "s"
	return cfg
}

func TestValidateRejectsZeroRefreshPeriod(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	cfg.Cluster.RefreshPeriod = 0
	assert.ErrorContains(t, cfg.Validate(), "cluster.refresh_period")
}

func TestValidateRejectsUnknownQueryOverrides(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Queries = map[string]string{
		"GatewaysQueryKey":     "custom.Gateways",
		"UpsertReminderRowKey": "custom.Upsert",
		"GatewayQueryKey":      "custom.Typo",
	}

	err := cfg.Validate()
	require.Error(t, err)
	merr, ok := err.(*multierror.Error)
	require.True(t, ok)
	require.Len(t, merr.Errors, 1)
	assert.Contains(t, merr.Errors[0].Error(), `"GatewayQueryKey"`)
}

func TestValidateReportsPortsInOrder(t *testing.T) {
	cfg := validConfig()
	cfg.Cluster.Port = 0
	cfg.Cluster.ProxyPort = -1
	cfg.Metrics.Port = 70000

	for i := 0; i < 10; i++ {
		merr, ok := cfg.Validate().(*multierror.Error)
		require.True(t, ok)
		require.Len(t, merr.Errors, 3)
		assert.Contains(t, merr.Errors[0].Error(), "cluster.port")
		assert.Contains(t, merr.Errors[1].Error(), "cluster.proxy_port")
		assert.Contains(t, merr.Errors[2].Error(), "metrics.port")
	}
}

func TestBadNumericEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/orleans")
	t.Setenv("CLUSTER_ID", "c")
	t.Setenv("SERVICE_ID", "s")
	t.Setenv("METRICS_PORT", "ninety")

	_, err := Load("")
	assert.ErrorContains(t, err, "METRICS_PORT")
}

func TestMalformedFile(t *testing.T) {
	_, err := Load(writeConfig(t, "cluster: [unterminated"))
	assert.Error(t, err)
}
