// Package config loads the server configuration from a CUE file.
package config

import (
	"os"
	"strconv"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/cockroachdb/errors"

	"github.com/matthewbaird/metaui/internal/layout"
	"github.com/matthewbaird/metaui/internal/represent"
)

// schema constrains the configuration file and supplies its defaults.
const schema = `
#Config: {
	listen_port:        int & >0 & <65536 | *8080
	backend_url:        string | *""
	locale:             string | *"en-US"
	round_decimals:     int & >=0 & <=12 | *2
	minimize_threshold: int & >0 | *30
	maximum_length:     int & >=0 | *0
	list_view_items:    int & >=0 | *3
	empty_array_value:  string | *"[]"
	page_size:          int & >0 & <=500 | *50
	fixture_dsn:        string | *""
	schema_dir:         string | *""
	session_idle:       string | *"30m"
	session_max_age:    string | *"24h"
	expr_cache_size:    int & >0 | *256
}
`

// Config is the decoded configuration.
type Config struct {
	ListenPort        int    `json:"listen_port"`
	BackendURL        string `json:"backend_url"`
	Locale            string `json:"locale"`
	RoundDecimals     int    `json:"round_decimals"`
	MinimizeThreshold int    `json:"minimize_threshold"`
	MaximumLength     int    `json:"maximum_length"`
	ListViewItems     int    `json:"list_view_items"`
	EmptyArrayValue   string `json:"empty_array_value"`
	PageSize          int    `json:"page_size"`
	FixtureDSN        string `json:"fixture_dsn"`
	SchemaDir         string `json:"schema_dir"`
	SessionIdle       string `json:"session_idle"`
	SessionMaxAge     string `json:"session_max_age"`
	ExprCacheSize     int    `json:"expr_cache_size"`

	sessionIdle   time.Duration
	sessionMaxAge time.Duration
}

// Load reads the file at path, applies defaults and then environment
// overrides. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "reading config")
		}
		data = b
	}
	cfg, err := Parse(data, path)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse validates CUE source against the schema and decodes it.
func Parse(data []byte, filename string) (*Config, error) {
	ctx := cuecontext.New()

	def := ctx.CompileString(schema).LookupPath(cue.ParsePath("#Config"))
	if err := def.Err(); err != nil {
		return nil, errors.Wrap(err, "compiling config schema")
	}

	if len(data) == 0 {
		data = []byte("{}")
	}
	val := ctx.CompileBytes(data, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, errors.Wrap(err, "compiling config")
	}

	merged := def.Unify(val)
	if err := merged.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating config")
	}

	var cfg Config
	if err := merged.Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	if err := cfg.parseDurations(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) parseDurations() error {
	idle, err := time.ParseDuration(c.SessionIdle)
	if err != nil {
		return errors.Wrapf(err, "session_idle %q", c.SessionIdle)
	}
	maxAge, err := time.ParseDuration(c.SessionMaxAge)
	if err != nil {
		return errors.Wrapf(err, "session_max_age %q", c.SessionMaxAge)
	}
	c.sessionIdle, c.sessionMaxAge = idle, maxAge
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if p := getenv("PORT"); p != "" {
		v, err := strconv.Atoi(p)
		if err != nil || v <= 0 || v >= 65536 {
			return errors.Newf("PORT %q is not a valid port", p)
		}
		c.ListenPort = v
	}
	if u := getenv("BACKEND_URL"); u != "" {
		c.BackendURL = u
	}
	if dsn := getenv("DATABASE_URL"); dsn != "" {
		c.FixtureDSN = dsn
	}
	return nil
}

// SessionTimeouts returns the idle and maximum session lifetimes.
func (c *Config) SessionTimeouts() (idle, maxAge time.Duration) {
	return c.sessionIdle, c.sessionMaxAge
}

// RepresentOptions returns the formatting options the configuration implies.
func (c *Config) RepresentOptions() represent.Options {
	return represent.Options{
		Locale:          c.Locale,
		RoundDecimals:   c.RoundDecimals,
		MaximumLength:   c.MaximumLength,
		EmptyArrayValue: c.EmptyArrayValue,
		ListViewItems:   c.ListViewItems,
	}
}

// ColumnOptions returns the column projection options.
func (c *Config) ColumnOptions() layout.ColumnOptions {
	return layout.ColumnOptions{MinimizeThreshold: c.MinimizeThreshold}
}
