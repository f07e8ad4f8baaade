// Package config loads the sensord configuration file.
//
// The file is YAML. It is checked against an embedded CUE schema, which also
// supplies defaults, and then decoded into Config.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"

	"github.com/henriblancke/dagster/internal/ir"
)

//go:embed schema.cue
var schemaSource string

// Error codes for configuration failures.
const (
	ErrCodeRead    = "C001" // file cannot be read
	ErrCodeSyntax  = "C002" // not valid YAML
	ErrCodeSchema  = "C003" // violates the schema
	ErrCodeInvalid = "C004" // passes the schema but cannot be used
)

// Cursor store backends.
const (
	CursorStoreSQLite = "sqlite"
	CursorStoreRedis  = "redis"
)

// Config is the decoded configuration file.
type Config struct {
	Database     string         `json:"database" yaml:"database"`
	Location     string         `json:"location" yaml:"location"`
	Repository   string         `json:"repository" yaml:"repository"`
	PollInterval string         `json:"poll_interval" yaml:"poll_interval"`
	CursorStore  string         `json:"cursor_store" yaml:"cursor_store"`
	Redis        *RedisConfig   `json:"redis,omitempty" yaml:"redis,omitempty"`
	HTTPAddr     string         `json:"http_addr,omitempty" yaml:"http_addr,omitempty"`
	Log          LogConfig      `json:"log" yaml:"log"`
	Sensors      []SensorConfig `json:"sensors" yaml:"sensors"`
}

// RedisConfig configures the Redis cursor store.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Prefix   string `json:"prefix" yaml:"prefix"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// SensorConfig declares one run status sensor.
type SensorConfig struct {
	Name                   string         `json:"name" yaml:"name"`
	RunStatus              string         `json:"run_status" yaml:"run_status"`
	MinimumIntervalSeconds int            `json:"minimum_interval_seconds" yaml:"minimum_interval_seconds"`
	DefaultStatus          string         `json:"default_status" yaml:"default_status"`
	MonitorAllRepositories bool           `json:"monitor_all_repositories" yaml:"monitor_all_repositories"`
	MonitoredJobs          []TargetConfig `json:"monitored_jobs" yaml:"monitored_jobs"`
	RequestJobs            []string       `json:"request_jobs" yaml:"request_jobs"`
	Description            string         `json:"description,omitempty" yaml:"description,omitempty"`
	Reaction               ReactionConfig `json:"reaction" yaml:"reaction"`
}

// TargetConfig is one monitored_jobs entry. Which fields are set decides the
// kind of target; see Target.
type TargetConfig struct {
	Job        string `json:"job,omitempty" yaml:"job,omitempty"`
	Repository string `json:"repository,omitempty" yaml:"repository,omitempty"`
	Location   string `json:"location,omitempty" yaml:"location,omitempty"`
}

// ReactionConfig selects a built-in reaction.
type ReactionConfig struct {
	Action  string            `json:"action" yaml:"action"`
	Message string            `json:"message,omitempty" yaml:"message,omitempty"`
	Job     string            `json:"job,omitempty" yaml:"job,omitempty"`
	Tags    map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Error is a configuration failure. Field is a dotted path such as
// "sensors.0.reaction.job" when the failure concerns one value.
type Error struct {
	Code    string
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Pos.IsValid() {
		fmt.Fprintf(&b, "%s:%d:%d: ", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column())
	}
	b.WriteString(e.Code)
	if e.Field != "" {
		b.WriteString(": ")
		b.WriteString(e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

// IsError reports whether err holds a configuration *Error with the given
// code. An empty code matches any.
func IsError(err error, code string) bool {
	switch e := err.(type) {
	case nil:
		return false
	case *Error:
		return code == "" || e.Code == code
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			if IsError(inner, code) {
				return true
			}
		}
		return false
	default:
		return IsError(errors.Unwrap(err), code)
	}
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Code: ErrCodeRead, Message: err.Error()}
	}
	return Parse(data)
}

// Default returns the configuration of an empty file.
func Default() *Config {
	cfg, err := Parse(nil)
	if err != nil {
		panic(fmt.Sprintf("config: defaults do not satisfy the schema: %v", err))
	}
	return cfg
}

// Parse decodes YAML configuration data. Schema violations are returned as
// joined *Error values, one per offending field.
func Parse(data []byte) (*Config, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &Error{Code: ErrCodeSyntax, Message: err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if _, ok := raw.(map[string]any); !ok {
		return nil, &Error{Code: ErrCodeSyntax, Message: fmt.Sprintf("top level must be a mapping, got %T", raw)}
	}

	// Unknown keys and type mismatches are reported with YAML line numbers.
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var probe Config
	if err := dec.Decode(&probe); err != nil && !errors.Is(err, io.EOF) {
		return nil, &Error{Code: ErrCodeSchema, Message: err.Error()}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}

	value := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(raw))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, schemaErrors(err)
	}

	var cfg Config
	if err := value.Decode(&cfg); err != nil {
		return nil, &Error{Code: ErrCodeSchema, Message: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// schemaErrors converts CUE errors into *Error values.
func schemaErrors(err error) error {
	list := cueerrors.Errors(err)
	errs := make([]error, 0, len(list))
	for _, e := range list {
		format, args := e.Msg()
		errs = append(errs, &Error{
			Code:    ErrCodeSchema,
			Field:   strings.Join(trimDefinition(e.Path()), "."),
			Message: fmt.Sprintf(format, args...),
			Pos:     e.Position(),
		})
	}
	if len(errs) == 0 {
		return &Error{Code: ErrCodeSchema, Message: err.Error()}
	}
	return errors.Join(errs...)
}

// trimDefinition drops the leading "#Config" selector from a CUE path.
func trimDefinition(path []string) []string {
	if len(path) > 0 && path[0] == "#Config" {
		return path[1:]
	}
	return path
}

// Validate checks the rules the schema cannot express.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &Error{Code: ErrCodeInvalid, Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if d, err := time.ParseDuration(c.PollInterval); err != nil {
		add("poll_interval", "%v", err)
	} else if d <= 0 {
		add("poll_interval", "must be positive")
	}
	if c.CursorStore == CursorStoreRedis && (c.Redis == nil || c.Redis.Addr == "") {
		add("redis.addr", "required when cursor_store is %q", CursorStoreRedis)
	}

	seen := make(map[string]int, len(c.Sensors))
	for i, s := range c.Sensors {
		field := fmt.Sprintf("sensors.%d", i)
		if prev, dup := seen[s.Name]; dup {
			add(field+".name", "sensor %q is already declared by sensors.%d", s.Name, prev)
		}
		seen[s.Name] = i

		if s.MonitorAllRepositories && len(s.MonitoredJobs) > 0 {
			add(field+".monitored_jobs", "cannot be combined with monitor_all_repositories")
		}
		for j, t := range s.MonitoredJobs {
			if _, err := t.Target(); err != nil {
				add(fmt.Sprintf("%s.monitored_jobs.%d", field, j), "%v", err)
			}
		}
		if s.Reaction.Action == ActionRequestJob && s.Reaction.Job == "" && len(s.RequestJobs) != 1 {
			add(field+".reaction.job", "required for action %q unless exactly one request job is declared",
				ActionRequestJob)
		}
		if s.Reaction.Job != "" && len(s.RequestJobs) > 0 && !slices.Contains(s.RequestJobs, s.Reaction.Job) {
			add(field+".reaction.job", "job %q is not one of request_jobs", s.Reaction.Job)
		}
	}
	return errors.Join(errs...)
}

// PollIntervalDuration returns the parsed poll interval.
func (c *Config) PollIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil {
		return 0
	}
	return d
}

// Origin returns the repository the configured sensors live in.
func (c *Config) Origin() ir.RepositoryOrigin {
	return ir.RepositoryOrigin{Location: c.Location, Repository: c.Repository}
}

// Sensor returns the sensor named name.
func (c *Config) Sensor(name string) (SensorConfig, bool) {
	for _, s := range c.Sensors {
		if s.Name == name {
			return s, true
		}
	}
	return SensorConfig{}, false
}
