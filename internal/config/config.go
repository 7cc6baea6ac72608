package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/sampsyo/cluster-workers/internal/protocol"
)

// Host resolver kinds.
const (
	ResolverStatic = "static"
	ResolverSlurm  = "slurm"
	ResolverEtcd   = "etcd"
)

// Config holds all configuration shared by the master, workers, clients and
// the provisioning CLI. The mapstructure tags are used by Viper to unmarshal
// the data.
type Config struct {
	// Host is the master host used by workers and clients when HostResolver
	// is "static".
	Host         string `mapstructure:"host" validate:"required"`
	Port         int    `mapstructure:"port" validate:"gte=1,lte=65535"`
	HostResolver string `mapstructure:"host_resolver" validate:"oneof=static slurm etcd"`

	// ListenHost is the interface the master binds; empty means all.
	ListenHost string `mapstructure:"listen_host"`
	// AdvertiseHost is the name the master publishes when electing itself
	// through etcd.
	AdvertiseHost  string `mapstructure:"advertise_host"`
	HttpListenAddr string `mapstructure:"http_listen_addr"`
	ReportSchedule string `mapstructure:"report_schedule" validate:"omitempty,cron"`

	LogLevel       string `mapstructure:"log_level" validate:"oneof=DEBUG INFO WARN ERROR debug info warn error"`
	TracingEnabled bool   `mapstructure:"tracing_enabled"`

	// SearchPathEnv names the environment variable whose list of
	// directories is shipped with each job and prepended on the worker.
	SearchPathEnv string        `mapstructure:"search_path_env" validate:"required"`
	PollInterval  time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	FuncCacheSize int           `mapstructure:"func_cache_size" validate:"gt=0"`

	EtcdEndpoints     []string      `mapstructure:"etcd_endpoints" validate:"required_if=HostResolver etcd"`
	EtcdTimeout       time.Duration `mapstructure:"etcd_timeout"`
	LeaderElectionTTL time.Duration `mapstructure:"leader_election_ttl" validate:"gte=1s"`

	Slurm SlurmConfig `mapstructure:"slurm"`
}

// SlurmConfig names the Slurm jobs that carry the master and the workers.
type SlurmConfig struct {
	MasterJobName string `mapstructure:"master_job_name" validate:"required"`
	WorkerJobName string `mapstructure:"worker_job_name" validate:"required"`
	// StartupWait is how long the launcher waits for a job to be scheduled
	// before querying it.
	StartupWait time.Duration `mapstructure:"startup_wait"`
}

// Addr returns the master's host:port as configured.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ListenAddr returns the address the master listens on.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ListenHost, c.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "localhost")
	v.SetDefault("port", protocol.DefaultPort)
	v.SetDefault("host_resolver", ResolverStatic)
	v.SetDefault("listen_host", "")
	v.SetDefault("http_listen_addr", ":8080")
	v.SetDefault("report_schedule", "@every 30s")
	v.SetDefault("log_level", "INFO")
	v.SetDefault("tracing_enabled", false)
	v.SetDefault("search_path_env", "PATH")
	v.SetDefault("poll_interval", "100ms")
	v.SetDefault("func_cache_size", 128)
	v.SetDefault("etcd_timeout", "5s")
	v.SetDefault("leader_election_ttl", "10s")
	v.SetDefault("slurm.master_job_name", "cmaster")
	v.SetDefault("slurm.worker_job_name", "cworkers")
	v.SetDefault("slurm.startup_wait", "5s")
}

// Load loads configuration from ./configs/config.yaml or ./config.yaml (both
// optional) and CW_* environment variables.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is like Load but reads the named file instead of searching for
// config.yaml. An empty path falls back to the search.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")    // name of config file (without extension)
		v.SetConfigType("yaml")      // or "json", "toml"
		v.AddConfigPath("./configs") // path to look for the config file in
		v.AddConfigPath(".")         // optionally look for config in the working directory
	}

	v.SetEnvPrefix("CW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// No config file; defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, "field '"+fe.Namespace()+"' failed on the '"+fe.Tag()+"' tag")
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func newValidator() *validator.Validate {
	validate := validator.New()
	_ = validate.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseStandard(fl.Field().String())
		return err == nil
	})
	return validate
}
