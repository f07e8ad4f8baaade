package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/henriblancke/dagster/internal/ir"
	"github.com/henriblancke/dagster/internal/scope"
	"github.com/henriblancke/dagster/internal/sensor"
)

const fullConfig = `
database: /var/lib/sensord/sensord.db
location: analytics
repository: warehouse
poll_interval: 2s
http_addr: ":8080"
log:
  level: debug
sensors:
  - name: notify_on_failure
    run_status: FAILURE
    minimum_interval_seconds: 10
    default_status: RUNNING
    description: Pages the on-call engineer.
    monitored_jobs:
      - job: nightly_etl
      - job: export
        location: billing
        repository: ledger
      - location: marketing
    reaction:
      action: log
  - name: rerun_on_cancel
    run_status: CANCELED
    monitor_all_repositories: true
    request_jobs: [rerun]
    reaction:
      action: request_job
      job: rerun
      tags:
        reason: "{status} {job}"
`

func TestParse_Defaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "sensord.db", cfg.Database)
	assert.Equal(t, "local", cfg.Location)
	assert.Equal(t, scope.DefaultRepositoryName, cfg.Repository)
	assert.Equal(t, "5s", cfg.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.PollIntervalDuration())
	assert.Equal(t, CursorStoreSQLite, cfg.CursorStore)
	assert.Nil(t, cfg.Redis)
	assert.Empty(t, cfg.HTTPAddr)
	assert.Equal(t, LogConfig{Level: "info", Format: "text"}, cfg.Log)
	assert.Empty(t, cfg.Sensors)
}

func TestParse_Full(t *testing.T) {
	cfg, err := Parse([]byte(fullConfig))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/sensord/sensord.db", cfg.Database)
	assert.Equal(t, ir.RepositoryOrigin{Location: "analytics", Repository: "warehouse"}, cfg.Origin())
	assert.Equal(t, 2*time.Second, cfg.PollIntervalDuration())
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format, "unset nested fields take defaults")
	require.Len(t, cfg.Sensors, 2)

	notify := cfg.Sensors[0]
	assert.Equal(t, "notify_on_failure", notify.Name)
	assert.Equal(t, 10, notify.MinimumIntervalSeconds)
	assert.Equal(t, "RUNNING", notify.DefaultStatus)
	assert.Len(t, notify.MonitoredJobs, 3)

	rerun, ok := cfg.Sensor("rerun_on_cancel")
	require.True(t, ok)
	assert.Equal(t, 30, rerun.MinimumIntervalSeconds)
	assert.Equal(t, "STOPPED", rerun.DefaultStatus)
	assert.True(t, rerun.MonitorAllRepositories)
	assert.Equal(t, map[string]string{"reason": "{status} {job}"}, rerun.Reaction.Tags)

	_, ok = cfg.Sensor("missing")
	assert.False(t, ok)
}

func TestParse_FullRegistry(t *testing.T) {
	cfg, err := Parse([]byte(fullConfig))
	require.NoError(t, err)
	registry, err := cfg.Registry()
	require.NoError(t, err)
	assert.Equal(t, []string{"notify_on_failure", "rerun_on_cancel"}, registry.Names())

	notify, ok := registry.Get("notify_on_failure")
	require.True(t, ok)
	assert.Equal(t, ir.RunStatusFailure, notify.RunStatus)
	assert.Equal(t, ir.EventTypeRunFailure, notify.EventType)
	assert.Equal(t, 10, notify.MinimumIntervalSeconds)
	assert.Equal(t, ir.SensorStatusRunning, notify.DefaultStatus)
	assert.Equal(t, "Pages the on-call engineer.", notify.Description)
	assert.Equal(t, scope.Scope{
		CurrentJobs:          []string{"nightly_etl"},
		ExternalJobs:         []scope.JobSelector{{Location: "billing", Repository: "ledger", Job: "export"}},
		ExternalRepositories: []scope.RepositorySelector{{Location: "marketing", Repository: scope.DefaultRepositoryName}},
	}, notify.Scope)

	rerun, ok := registry.Get("rerun_on_cancel")
	require.True(t, ok)
	assert.Equal(t, sensor.DefaultMinimumIntervalSeconds, rerun.MinimumIntervalSeconds)
	assert.Equal(t, ir.SensorStatusStopped, rerun.DefaultStatus)
	assert.Equal(t, scope.Scope{AllRepositories: true}, rerun.Scope)
	assert.Equal(t, []string{"rerun"}, rerun.RequestJobs)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		code  string
		field string
	}{
		{
			name:  "invalid yaml",
			input: "sensors: [",
			code:  ErrCodeSyntax,
		},
		{
			name:  "top level list",
			input: "- a\n- b\n",
			code:  ErrCodeSyntax,
		},
		{
			name:  "unknown key",
			input: "databse: x.db\n",
			code:  ErrCodeSchema,
			field: "databse",
		},
		{
			name: "unknown run status",
			input: `
sensors:
  - name: s
    run_status: BOGUS
    reaction: {action: log}
`,
			code:  ErrCodeSchema,
			field: "run_status",
		},
		{
			name: "status without lifecycle event",
			input: `
sensors:
  - name: s
    run_status: NOT_STARTED
    reaction: {action: log}
`,
			code:  ErrCodeSchema,
			field: "run_status",
		},
		{
			name: "interval below one second",
			input: `
sensors:
  - name: s
    run_status: SUCCESS
    minimum_interval_seconds: 0
    reaction: {action: log}
`,
			code:  ErrCodeSchema,
			field: "minimum_interval_seconds",
		},
		{
			name: "unknown action",
			input: `
sensors:
  - name: s
    run_status: SUCCESS
    reaction: {action: launch}
`,
			code:  ErrCodeSchema,
			field: "action",
		},
		{
			name:  "bad poll interval",
			input: "poll_interval: soon\n",
			code:  ErrCodeSchema,
			field: "poll_interval",
		},
		{
			name:  "zero poll interval",
			input: "poll_interval: 0s\n",
			code:  ErrCodeInvalid,
			field: "poll_interval",
		},
		{
			name:  "redis without address",
			input: "cursor_store: redis\n",
			code:  ErrCodeInvalid,
			field: "redis.addr",
		},
		{
			name: "duplicate sensor",
			input: `
sensors:
  - {name: s, run_status: SUCCESS, reaction: {action: log}}
  - {name: s, run_status: FAILURE, reaction: {action: log}}
`,
			code:  ErrCodeInvalid,
			field: "sensors.1.name",
		},
		{
			name: "all repositories with targets",
			input: `
sensors:
  - name: s
    run_status: SUCCESS
    monitor_all_repositories: true
    monitored_jobs: [{job: a}]
    reaction: {action: log}
`,
			code:  ErrCodeInvalid,
			field: "sensors.0.monitored_jobs",
		},
		{
			name: "repository without location",
			input: `
sensors:
  - name: s
    run_status: SUCCESS
    monitored_jobs: [{repository: r}]
    reaction: {action: log}
`,
			code:  ErrCodeInvalid,
			field: "sensors.0.monitored_jobs.0",
		},
		{
			name: "request_job without job",
			input: `
sensors:
  - name: s
    run_status: SUCCESS
    reaction: {action: request_job}
`,
			code:  ErrCodeInvalid,
			field: "sensors.0.reaction.job",
		},
		{
			name: "request_job outside request_jobs",
			input: `
sensors:
  - name: s
    run_status: SUCCESS
    request_jobs: [a, b]
    reaction: {action: request_job, job: c}
`,
			code:  ErrCodeInvalid,
			field: "sensors.0.reaction.job",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.input))
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.True(t, IsError(err, tt.code), "want code %s, got: %v", tt.code, err)
			assert.True(t, IsError(err, ""))
			if tt.field != "" {
				assert.Contains(t, err.Error(), tt.field)
			}
		})
	}
}

func TestParse_Redis(t *testing.T) {
	cfg, err := Parse([]byte("cursor_store: redis\nredis:\n  addr: localhost:6379\n"))
	require.NoError(t, err)

	require.NotNil(t, cfg.Redis)
	assert.Equal(t, RedisConfig{Addr: "localhost:6379", Prefix: "sensord"}, *cfg.Redis)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensord.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fullConfig), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Sensors, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, IsError(err, ErrCodeRead))
}

func TestError_Format(t *testing.T) {
	err := &Error{Code: ErrCodeInvalid, Field: "redis.addr", Message: "required"}
	assert.Equal(t, "C004: redis.addr: required", err.Error())

	err = &Error{Code: ErrCodeRead, Message: "no such file"}
	assert.Equal(t, "C001: no such file", err.Error())

	assert.False(t, IsError(nil, ""))
	assert.False(t, IsError(assert.AnError, ""))
}

func TestTargetConfig_Target(t *testing.T) {
	tests := []struct {
		name   string
		target TargetConfig
		want   scope.Target
		err    bool
	}{
		{"job", TargetConfig{Job: "etl"}, scope.Job("etl"), false},
		{"job selector", TargetConfig{Job: "etl", Location: "l", Repository: "r"},
			scope.JobSelector{Location: "l", Repository: "r", Job: "etl"}, false},
		{"job in default repository", TargetConfig{Job: "etl", Location: "l"},
			scope.JobSelector{Location: "l", Repository: scope.DefaultRepositoryName, Job: "etl"}, false},
		{"repository selector", TargetConfig{Location: "l", Repository: "r"},
			scope.RepositorySelector{Location: "l", Repository: "r"}, false},
		{"code location", TargetConfig{Location: "l"}, scope.CodeLocationSelector{Location: "l"}, false},
		{"empty", TargetConfig{}, nil, true},
		{"repository only", TargetConfig{Repository: "r"}, nil, true},
		{"job and repository", TargetConfig{Job: "etl", Repository: "r"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.target.Target()
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
