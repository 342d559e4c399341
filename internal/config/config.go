// Package config loads the sessionctl configuration from a YAML file,
// environment variables and command line flags.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/jjeffery/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Backend names.
const (
	BackendSurrealDB = "surrealdb"
	BackendPostgres  = "postgres"
	BackendDynamoDB  = "dynamodb"
)

// EnvPrefix is the prefix of environment variables that override configuration
// values. SESSIONCTL_SURREALDB_URL sets surrealdb.url, for example.
const EnvPrefix = "sessionctl"

// Config is the sessionctl configuration.
type Config struct {
	Backend   string    `mapstructure:"backend" yaml:"backend"`
	Tables    Tables    `mapstructure:"tables" yaml:"tables"`
	SurrealDB SurrealDB `mapstructure:"surrealdb" yaml:"surrealdb"`
	Postgres  Postgres  `mapstructure:"postgres" yaml:"postgres"`
	DynamoDB  DynamoDB  `mapstructure:"dynamodb" yaml:"dynamodb"`
	Log       Log       `mapstructure:"log" yaml:"log"`
}

// Tables names the session and user tables. Blank names select the
// backend's defaults.
type Tables struct {
	Session string `mapstructure:"session" yaml:"session"`
	User    string `mapstructure:"user" yaml:"user"`
}

// SurrealDB holds the connection details for a SurrealDB server.
type SurrealDB struct {
	URL       string `mapstructure:"url" yaml:"url"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
	Database  string `mapstructure:"database" yaml:"database"`
	Username  string `mapstructure:"username" yaml:"username"`
	Password  string `mapstructure:"password" yaml:"password"`
}

// Postgres holds the connection details for a PostgreSQL database.
type Postgres struct {
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

// DynamoDB holds the connection details for AWS DynamoDB. Endpoint is
// only needed for a local DynamoDB.
type DynamoDB struct {
	Region   string `mapstructure:"region" yaml:"region"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
}

// Log configures logging.
type Log struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// Defaults returns the default configuration values, keyed by viper key.
func Defaults() map[string]any {
	return map[string]any{
		"backend":             BackendSurrealDB,
		"tables.session":      "",
		"tables.user":         "",
		"surrealdb.url":       "ws://localhost:8000",
		"surrealdb.namespace": "",
		"surrealdb.database":  "",
		"surrealdb.username":  "",
		"surrealdb.password":  "",
		"postgres.dsn":        "",
		"dynamodb.region":     "",
		"dynamodb.endpoint":   "",
		"log.level":           "info",
	}
}

// flagKeys maps command line flag names to configuration keys.
var flagKeys = map[string]string{
	"backend":   "backend",
	"log-level": "log.level",
}

// configPaths returns the directories searched for sessionctl.yaml.
func configPaths() []string {
	var paths []string
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "sessionctl"))
	}
	if runtime.GOOS == "windows" {
		paths = append(paths, filepath.Join(os.Getenv("ProgramData"), "sessionctl"))
	} else {
		paths = append(paths, "/etc/sessionctl")
	}
	return append(paths, ".")
}

// Load reads the configuration. Values are taken, in increasing order of
// precedence, from the defaults, the configuration file, environment
// variables and the command's flags. If configFile is blank, sessionctl.yaml
// is looked for in the user's config directory, the system config directory
// and the current directory, and it is not an error if none is found.
func Load(cmd *cobra.Command, configFile string) (Config, error) {
	var c Config
	v := viper.New()

	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}

	v.SetConfigName("sessionctl")
	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
	}
	for _, path := range configPaths() {
		v.AddConfigPath(path)
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return c, errors.Wrap(err, "cannot read config file").With("file", configFile)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		for name, key := range flagKeys {
			if flag := cmd.Flags().Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return c, errors.Wrap(err, "cannot bind flag").With("flag", name)
				}
			}
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, errors.Wrap(err, "cannot parse config")
	}
	return c, nil
}

// Validate reports the first problem found with the configuration.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendSurrealDB:
		if c.SurrealDB.URL == "" {
			return errors.New("surrealdb.url is required")
		}
		if c.SurrealDB.Namespace == "" || c.SurrealDB.Database == "" {
			return errors.New("surrealdb.namespace and surrealdb.database are required")
		}
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required")
		}
	case BackendDynamoDB:
		if c.DynamoDB.Region == "" {
			return errors.New("dynamodb.region is required")
		}
	default:
		return errors.New("unknown backend").With("backend", c.Backend)
	}
	if c.Log.Level != "" {
		if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
			return errors.Wrap(err, "invalid log.level").With("level", c.Log.Level)
		}
	}
	return nil
}

// WriteFile writes the configuration to path as YAML, creating the
// directory if necessary.
func WriteFile(c *Config, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "cannot marshal config")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "cannot create config directory").With("dir", dir)
	}
	// may contain passwords
	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.Wrap(err, "cannot write config file").With("file", path)
	}
	return nil
}
