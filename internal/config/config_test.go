package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 5494, cfg.Port)
	assert.Equal(t, ResolverStatic, cfg.HostResolver)
	assert.Equal(t, "PATH", cfg.SearchPathEnv)
	assert.Equal(t, 100*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, "cmaster", cfg.Slurm.MasterJobName)
	assert.Equal(t, "cworkers", cfg.Slurm.WorkerJobName)
	assert.Equal(t, "localhost:5494", cfg.Addr())
	assert.Equal(t, ":5494", cfg.ListenAddr())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cw.yaml")
	content := `
host: node17
port: 6000
report_schedule: "*/5 * * * *"
slurm:
  master_job_name: mymaster
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "node17:6000", cfg.Addr())
	assert.Equal(t, "mymaster", cfg.Slurm.MasterJobName)
	assert.Equal(t, "cworkers", cfg.Slurm.WorkerJobName)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CW_PORT", "7000")
	t.Setenv("CW_HOST", "master.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "master.example:7000", cfg.Addr())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Host:              "localhost",
			Port:              5494,
			HostResolver:      ResolverStatic,
			ReportSchedule:    "@every 30s",
			LogLevel:          "INFO",
			SearchPathEnv:     "PATH",
			PollInterval:      100 * time.Millisecond,
			FuncCacheSize:     16,
			LeaderElectionTTL: 10 * time.Second,
			Slurm:             SlurmConfig{MasterJobName: "cmaster", WorkerJobName: "cworkers"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.Port = 70000 }, wantErr: true},
		{name: "bad resolver", mutate: func(c *Config) { c.HostResolver = "dns" }, wantErr: true},
		{name: "bad schedule", mutate: func(c *Config) { c.ReportSchedule = "every now and then" }, wantErr: true},
		{name: "empty schedule", mutate: func(c *Config) { c.ReportSchedule = "" }},
		{name: "etcd without endpoints", mutate: func(c *Config) { c.HostResolver = ResolverEtcd }, wantErr: true},
		{name: "etcd with endpoints", mutate: func(c *Config) {
			c.HostResolver = ResolverEtcd
			c.EtcdEndpoints = []string{"localhost:2379"}
		}},
		{name: "zero poll interval", mutate: func(c *Config) { c.PollInterval = 0 }, wantErr: true},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "chatty" }, wantErr: true},
		{name: "missing slurm job name", mutate: func(c *Config) { c.Slurm.MasterJobName = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
