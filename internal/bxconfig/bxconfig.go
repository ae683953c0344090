// Package bxconfig loads spec.md §6's environment/runtime knobs and
// per-backend connection settings, layered defaults < YAML file < env
// var, the way the teacher's internal/labelmutex.ParseMutexGroups and
// cmd/bd/config.go's validateSyncConfig stand up a scoped
// `viper.New()` instance pointed at one config file rather than
// relying on viper's global singleton.
//
// Backend DSN profiles additionally support a TOML file, parsed with
// github.com/BurntSushi/toml the way internal/formula/parser.go parses
// its `.formula.toml` files, for operators who keep connection secrets
// in a format separate from the YAML settings file.
package bxconfig

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Viper keys / env var names, verbatim from spec.md §6.
const (
	KeyInitialCleanup   = "INDEX_INITIAL_CLEANUP"
	KeySupportDelete    = "INDEX_SUPPORT_DELETE"
	KeySleepTimePurge   = "SLEEP_TIME_PURGE"
	KeySingleStepLimit  = "SINGLE_STEP_PURGE_LIMIT"
	KeyCleanupInterval  = "TIME_INDEX_CLEANUP"
	KeyDatabaseTimeout  = "DATABASE_TIMEOUT"
)

// Defaults per spec.md §6.
const (
	DefaultSleepTimePurge  = 2 * time.Second
	DefaultSingleStepLimit = 4096
	DefaultCleanupInterval = 4 * time.Hour
	DefaultDatabaseTimeout = 30 * time.Second
)

// Config holds the resolved runtime knobs.
type Config struct {
	InitialCleanup  bool          `yaml:"initial_cleanup"`
	SupportDelete   bool          `yaml:"support_delete"`
	SleepTimePurge  time.Duration `yaml:"sleep_time_purge"`
	SingleStepLimit int           `yaml:"single_step_purge_limit"`
	CleanupInterval time.Duration `yaml:"time_index_cleanup"`
	DatabaseTimeout time.Duration `yaml:"database_timeout"`

	Backends map[string]BackendDSN `yaml:"backends,omitempty"`
}

// Dump renders cfg as YAML, for an operator asking what settings the
// layered defaults/file/env resolution actually produced (the same
// question cmd/bd/config.go's effective-value report answers for
// beads's own config sources).
func (c *Config) Dump() ([]byte, error) {
	return yaml.Marshal(c)
}

// BackendDSN is one named backend's connection profile (sqlite path,
// or mysql/dolt DSN).
type BackendDSN struct {
	Dialect string `toml:"dialect" yaml:"dialect"`
	DSN     string `toml:"dsn" yaml:"dsn"`
}

// Load builds a Config from defaults, an optional YAML settings file,
// and environment variables, in that priority order (env wins). yamlPath
// may be empty to skip the file layer.
func Load(yamlPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault(KeyInitialCleanup, true)
	v.SetDefault(KeySupportDelete, true)
	v.SetDefault(KeySleepTimePurge, DefaultSleepTimePurge.Seconds())
	v.SetDefault(KeySingleStepLimit, DefaultSingleStepLimit)
	v.SetDefault(KeyCleanupInterval, DefaultCleanupInterval.Seconds())
	v.SetDefault(KeyDatabaseTimeout, DefaultDatabaseTimeout.Seconds())

	if yamlPath != "" {
		v.SetConfigFile(yamlPath)
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("bxconfig: read %s: %w", yamlPath, err)
			}
		}
	}

	v.AutomaticEnv()
	for _, key := range []string{KeyInitialCleanup, KeySupportDelete, KeySleepTimePurge, KeySingleStepLimit, KeyCleanupInterval, KeyDatabaseTimeout} {
		_ = v.BindEnv(key, key)
	}

	cfg := &Config{
		InitialCleanup:  v.GetBool(KeyInitialCleanup),
		SupportDelete:   v.GetBool(KeySupportDelete),
		SleepTimePurge:  time.Duration(v.GetFloat64(KeySleepTimePurge) * float64(time.Second)),
		SingleStepLimit: v.GetInt(KeySingleStepLimit),
		CleanupInterval: time.Duration(v.GetFloat64(KeyCleanupInterval) * float64(time.Second)),
		DatabaseTimeout: time.Duration(v.GetFloat64(KeyDatabaseTimeout) * float64(time.Second)),
		Backends:        map[string]BackendDSN{},
	}
	return cfg, nil
}

// LoadBackendProfiles parses a TOML file of named backend connection
// profiles, e.g.:
//
//	[primary]
//	dialect = "dolt"
//	dsn = "root@tcp(127.0.0.1:3306)/bxindex"
func LoadBackendProfiles(tomlPath string) (map[string]BackendDSN, error) {
	data, err := os.ReadFile(tomlPath) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("bxconfig: read %s: %w", tomlPath, err)
	}
	var profiles map[string]BackendDSN
	if err := toml.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("bxconfig: parse %s: %w", tomlPath, err)
	}
	return profiles, nil
}

// MergeBackendProfiles loads profiles from tomlPath (if non-empty) into
// cfg.Backends.
func (c *Config) MergeBackendProfiles(tomlPath string) error {
	if tomlPath == "" {
		return nil
	}
	profiles, err := LoadBackendProfiles(tomlPath)
	if err != nil {
		return err
	}
	for name, p := range profiles {
		c.Backends[name] = p
	}
	return nil
}
