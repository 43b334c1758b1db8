package config

import (
	"sort"
	"strings"

	"gopkg.in/yaml.v2"
)

// Configuration keys
const (
	KeyNamespace    = "TBL_NAMESPACE"
	KeyEnginePath   = "TBL_ENGINE_PATH"
	KeyWorkspaceDir = "TBL_WORKSPACE_DIR"
	KeyObjectDir    = "TBL_OBJECT_DIR"
	KeyLogLevel     = "TBL_LOG_LEVEL"
	KeyS3Host       = "TBL_S3_HOST"
	KeyS3Port       = "TBL_S3_PORT"
	KeyS3Key        = "TBL_S3_KEY"
	KeyS3Pwd        = "TBL_S3_PWD"
	KeyS3Bucket     = "TBL_S3_BUCKET"
	KeyAPISecret    = "TBL_API_SECRET"
	KeyAPIAddr      = "TBL_API_ADDR"
	KeyTagPolicy    = "TBL_TAG_POLICY"
)

// Keys lists all flat configuration keys
var Keys = []string{
	KeyNamespace,
	KeyEnginePath,
	KeyWorkspaceDir,
	KeyObjectDir,
	KeyLogLevel,
	KeyS3Host,
	KeyS3Port,
	KeyS3Key,
	KeyS3Pwd,
	KeyS3Bucket,
	KeyAPISecret,
	KeyAPIAddr,
	KeyTagPolicy,
}

var defaults = map[string]string{
	KeyNamespace:    "default",
	KeyEnginePath:   "~/.tablemon/meta.db",
	KeyWorkspaceDir: "~/.tablemon/workspaces",
	KeyObjectDir:    "~/.tablemon/objects",
	KeyLogLevel:     "info",
	KeyS3Host:       "localhost",
	KeyS3Port:       "9000",
	KeyAPIAddr:      ":8642",
	KeyTagPolicy:    "keep",
}

const shield = "*******"

// IsSensitive tells if the value of a key must be shielded when displayed
func IsSensitive(key string) bool {
	key = strings.ToUpper(key)
	return strings.Contains(key, "_PWD") || strings.Contains(key, "_SECRET")
}

// Shield a sensitive value, keeping only its first character
func Shield(value string) string {
	if value == "" {
		return ""
	}
	return value[:1] + shield
}

// Values returns the flat configuration, with sensitive values shielded unless told otherwise
func (c *Config) Values(shielded bool) map[string]string {
	res := make(map[string]string, len(c.values))
	for k, v := range c.values {
		if shielded && IsSensitive(k) {
			v = Shield(v)
		}
		res[k] = v
	}
	return res
}

type dump struct {
	Defaults         yaml.MapSlice      `yaml:"defaults"`
	Commands         map[string]string  `yaml:"commands,omitempty"`
	ExternalHandlers map[string]handler `yaml:"external_handlers,omitempty"`
	Remotes          map[string]Remote  `yaml:"remotes,omitempty"`
}

type handler struct {
	Implementation string            `yaml:"implementation"`
	Params         map[string]string `yaml:"params,omitempty"`
}

// Dump the configuration in the format of a config file.
//
// Sensitive values are shielded when asked to. This applies to the params of external handlers and to remote tokens.
func (c *Config) Dump(shielded bool) ([]byte, error) {
	values := c.Values(shielded)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d := dump{
		Defaults: make(yaml.MapSlice, 0, len(keys)),
		Commands: c.Commands(),
	}
	for _, k := range keys {
		d.Defaults = append(d.Defaults, yaml.MapItem{Key: k, Value: values[k]})
	}

	if len(c.handlers) > 0 {
		d.ExternalHandlers = make(map[string]handler, len(c.handlers))
		for name, spec := range c.handlers {
			h := handler{Implementation: spec.Implementation, Params: make(map[string]string, len(spec.Params))}
			for k, v := range spec.Params {
				if shielded && (IsSensitive(k) || strings.Contains(strings.ToUpper(k), "SECRET")) {
					v = Shield(v)
				}
				h.Params[k] = v
			}
			d.ExternalHandlers[name] = h
		}
	}

	if len(c.remotes) > 0 {
		d.Remotes = make(map[string]Remote, len(c.remotes))
		for name, r := range c.remotes {
			if shielded {
				r.Token = Shield(r.Token)
			}
			d.Remotes[name] = r
		}
	}
	return yaml.Marshal(d)
}
