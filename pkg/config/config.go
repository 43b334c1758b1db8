// Package config loads the configuration of tablemon.
//
// The configuration is a flat key/value space, plus a few registries. Values are
// resolved from defaults, then a config file, then environment variables.
//
// The config file is looked up in the current directory (.tablemon.yaml), then in
// $HOME/.tablemon and /etc/tablemon (tablemon.yaml). The TABLEMON_CONFIG environment
// variable points to an explicit file instead.
//
// Example:
//
//	TBL_NAMESPACE: acme
//	TBL_LOG_LEVEL: warn
//	commands:
//	  LOAD_CSV: csv
//	external_handlers:
//	  shared:
//	    implementation: FILE
//	    params:
//	      path: /mnt/shared/objects
//	remotes:
//	  hub:
//	    endpoint: https://hub.example.com
//	    token: eyJhbGciOi...
//	    handler: shared
package config

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/oneconcern/tablemon/pkg/core/status"
	"github.com/oneconcern/tablemon/pkg/handlers"
	"github.com/spf13/viper"
)

// EnvConfigLocation is the environment variable pointing to an explicit config file
const EnvConfigLocation = "TABLEMON_CONFIG"

const (
	sectionCommands = "commands"
	sectionHandlers = "external_handlers"
	sectionRemotes  = "remotes"
)

// Remote is an alias to the metadata endpoint of a remote
type Remote struct {
	Endpoint string `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`
	Token    string `json:"token,omitempty" yaml:"token,omitempty" mapstructure:"token"`

	// Handler is the external handler used to upload objects when pushing to this remote
	Handler string `json:"handler,omitempty" yaml:"handler,omitempty" mapstructure:"handler"`
}

// Config is the resolved configuration. It is not modified once loaded.
type Config struct {
	values   map[string]string
	commands map[string]string
	handlers map[string]handlers.Spec
	remotes  map[string]Remote
	file     string
}

// Load the configuration.
//
// When file is empty, the config file is the one set by TABLEMON_CONFIG, or the first one found
// in the search path. A missing config file is not an error, unless it is set explicitly.
func Load(file string) (*Config, error) {
	v := viper.New()
	for _, key := range Keys {
		v.SetDefault(key, defaults[key])
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	if file == "" {
		file = os.Getenv(EnvConfigLocation)
	}
	explicit := file != ""
	if explicit {
		v.SetConfigFile(file)
	} else {
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.SetConfigName(".tablemon")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !errors.As(err, &notFound) {
			return nil, status.ErrInvalidArgument.Wrapf("reading config file: %v", err)
		}
		if err = searchConfig(v); err != nil {
			return nil, err
		}
	}

	c := &Config{
		values:   make(map[string]string, len(Keys)),
		commands: make(map[string]string),
		handlers: make(map[string]handlers.Spec),
		remotes:  make(map[string]Remote),
		file:     v.ConfigFileUsed(),
	}
	for _, key := range Keys {
		c.values[key] = expandHome(v.GetString(key))
	}

	// command names are case-insensitive in the config file, and upper case in splitfiles
	for name, implementation := range v.GetStringMapString(sectionCommands) {
		c.commands[strings.ToUpper(name)] = implementation
	}
	if err := v.UnmarshalKey(sectionHandlers, &c.handlers); err != nil {
		return nil, status.ErrInvalidArgument.Wrapf("invalid %s section: %v", sectionHandlers, err)
	}
	if err := v.UnmarshalKey(sectionRemotes, &c.remotes); err != nil {
		return nil, status.ErrInvalidArgument.Wrapf("invalid %s section: %v", sectionRemotes, err)
	}
	for name, spec := range c.handlers {
		if spec.Implementation == "" {
			return nil, status.ErrInvalidArgument.Wrapf("external handler %s has no implementation", name)
		}
	}
	for name, r := range c.remotes {
		if r.Endpoint == "" {
			return nil, status.ErrInvalidArgument.Wrapf("remote %s has no endpoint", name)
		}
	}
	return c, nil
}

// searchConfig looks for tablemon.yaml in the user and system config directories
func searchConfig(v *viper.Viper) error {
	v.SetConfigName("tablemon")
	v.AddConfigPath("$HOME/.tablemon")
	v.AddConfigPath("/etc/tablemon")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return status.ErrInvalidArgument.Wrapf("reading config file: %v", err)
		}
	}
	return nil
}

func expandHome(value string) string {
	if value != "~" && !strings.HasPrefix(value, "~/") {
		return value
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return value
	}
	return filepath.Join(home, strings.TrimPrefix(value, "~"))
}

// File is the config file in use, if any
func (c *Config) File() string {
	return c.file
}

// Get the value of a key
func (c *Config) Get(key string) string {
	return c.values[strings.ToUpper(key)]
}

// Namespace is the default namespace of repositories
func (c *Config) Namespace() string {
	return c.Get(KeyNamespace)
}

// LogLevel of the CLI
func (c *Config) LogLevel() string {
	return c.Get(KeyLogLevel)
}

// Commands maps custom splitfile commands to their implementation
func (c *Config) Commands() map[string]string {
	res := make(map[string]string, len(c.commands))
	for k, v := range c.commands {
		res[k] = v
	}
	return res
}

// Handlers lists the configured external handlers, including the S3 handler derived from the TBL_S3_* keys
func (c *Config) Handlers() map[string]handlers.Spec {
	res := make(map[string]handlers.Spec, len(c.handlers)+1)
	if bucket := c.Get(KeyS3Bucket); bucket != "" {
		res[strings.ToLower(handlers.S3)] = handlers.Spec{
			Implementation: handlers.S3,
			Params: handlers.Params{
				"bucket":     bucket,
				"endpoint":   "http://" + c.Get(KeyS3Host) + ":" + c.Get(KeyS3Port),
				"access_key": c.Get(KeyS3Key),
				"secret_key": c.Get(KeyS3Pwd),
			},
		}
	}
	for name, spec := range c.handlers {
		res[name] = spec
	}
	return res
}

// Remotes lists the aliases of remotes
func (c *Config) Remotes() []string {
	names := make([]string, 0, len(c.remotes))
	for name := range c.remotes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Remote resolves an alias to a remote
func (c *Config) Remote(alias string) (Remote, error) {
	r, ok := c.remotes[strings.ToLower(alias)]
	if !ok {
		return Remote{}, status.ErrNotFound.Wrapf("remote %s is not configured", alias)
	}
	return r, nil
}
