package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	appLog "github.com/PhictionalOne/Toot2Cal/internal/log"
)

const (
	DefaultCalendarPath = "mastodon_posts.ics"
	DefaultLimit        = 40
	DefaultCutoff       = 40
	DefaultTimezone     = "UTC"
	DefaultTimeout      = 30 * time.Second
	DefaultLogLevel     = "info"
	DefaultUserAgent    = "toot2cal/1.0"
)

var (
	// ErrHelp matches the *HelpError returned by Load for --help.
	ErrHelp = errors.New("help requested")
	// ErrMissingRequired is returned by Validate when a required value is
	// empty after flags, environment and config file are merged.
	ErrMissingRequired = errors.New("missing required configuration")
)

// HelpError carries the usage text when --help was requested.
type HelpError struct {
	Text string
}

func (e *HelpError) Error() string { return e.Text }

func (e *HelpError) Is(target error) bool { return target == ErrHelp }

// Config is the effective configuration of one toot2cal process.
type Config struct {
	// Token is the Mastodon API access token.
	Token string `yaml:"token"`
	// Instance is the Mastodon instance base URL, e.g. "https://mastodon.social".
	Instance string `yaml:"instance"`
	// Username is the handle of the account whose posts are converted.
	Username string `yaml:"username"`

	// Input is the calendar to start from: a file path or an http(s) URL.
	Input string `yaml:"input"`
	// Output is the file the resulting calendar is written to.
	Output string `yaml:"output"`

	// Limit is the page size used for timeline requests.
	Limit int `yaml:"limit"`

	Prefix      string `yaml:"prefix"`
	Description string `yaml:"description"`
	// Cutoff is the maximum event title length before "..." is appended.
	Cutoff int `yaml:"cutoff"`

	// Timezone is the IANA zone whose calendar date a post falls on.
	Timezone string `yaml:"timezone"`
	// Timeout bounds every HTTP request.
	Timeout time.Duration `yaml:"timeout"`
	// Schedule, if set, is a standard 5-field cron expression; the
	// conversion then repeats until the process is signalled.
	Schedule string `yaml:"schedule"`

	LogLevel  string `yaml:"log_level"`
	UserAgent string `yaml:"user_agent"`
}

// options mirrors Config for command-line and environment parsing. Zero
// values mean "not given" so that a config file can fill them in.
type options struct {
	Config string `long:"config" env:"TOOT2CAL_CONFIG" description:"Optional YAML config file"`

	Token    string `long:"token" env:"MASTODON_TOKEN" description:"Mastodon API access token (required)"`
	Instance string `long:"instance" env:"MASTODON_INSTANCE" description:"Mastodon instance URL (required)"`
	Username string `long:"username" env:"MASTODON_USERNAME" description:"Mastodon account username (required)"`

	Input       string `long:"input" env:"TOOT2CAL_INPUT" description:"Input iCal file path or URL (default: mastodon_posts.ics)"`
	Output      string `long:"output" env:"TOOT2CAL_OUTPUT" description:"Output iCal file path (default: mastodon_posts.ics)"`
	Limit       int    `long:"limit" env:"TOOT2CAL_LIMIT" description:"Number of posts requested per page (default: 40)"`
	Prefix      string `long:"prefix" env:"TOOT2CAL_PREFIX" description:"Information prefixing the event title"`
	Description string `long:"description" env:"TOOT2CAL_DESCRIPTION" description:"Additional information put into the event description beside the post content"`
	Cutoff      int    `long:"cutoff" env:"TOOT2CAL_CUTOFF" description:"Number of characters in the event title (default: 40)"`

	Timezone  string        `long:"timezone" env:"TOOT2CAL_TIMEZONE" description:"Time zone used to date events (default: UTC)"`
	Timeout   time.Duration `long:"timeout" env:"TOOT2CAL_TIMEOUT" description:"HTTP request timeout (default: 30s)"`
	Schedule  string        `long:"schedule" env:"TOOT2CAL_SCHEDULE" description:"Cron expression; keep running and convert on this schedule"`
	LogLevel  string        `long:"log-level" env:"TOOT2CAL_LOG_LEVEL" description:"Log level: debug, info, warn, error (default: info)"`
	UserAgent string        `long:"user-agent" env:"TOOT2CAL_USER_AGENT" description:"User-Agent for HTTP requests"`
}

// Load builds the configuration from command-line arguments (without the
// program name), their environment variable fallbacks and, when --config is
// given, a YAML file. Values given on the command line or in the environment
// win over the file; built-in defaults fill whatever remains empty.
func Load(args []string) (*Config, error) {
	var opts options
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.Name = "toot2cal"
	parser.ShortDescription = "Convert Mastodon posts to iCal"

	rest, err := parser.ParseArgs(args)
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, &HelpError{Text: flagsErr.Message}
		}
		return nil, fmt.Errorf("failed to parse arguments: %w", err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(rest, " "))
	}

	cfg := &Config{}
	if opts.Config != "" {
		cfg, err = LoadFile(opts.Config)
		if err != nil {
			return nil, err
		}
	}

	cfg.overlay(opts)
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads a YAML config file. Defaults are not applied.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	appLog.Debug("config file loaded", "path", path)
	return &cfg, nil
}

func (c *Config) overlay(o options) {
	setString(&c.Token, o.Token)
	setString(&c.Instance, o.Instance)
	setString(&c.Username, o.Username)
	setString(&c.Input, o.Input)
	setString(&c.Output, o.Output)
	setString(&c.Prefix, o.Prefix)
	setString(&c.Description, o.Description)
	setString(&c.Timezone, o.Timezone)
	setString(&c.Schedule, o.Schedule)
	setString(&c.LogLevel, o.LogLevel)
	setString(&c.UserAgent, o.UserAgent)
	if o.Limit != 0 {
		c.Limit = o.Limit
	}
	if o.Cutoff != 0 {
		c.Cutoff = o.Cutoff
	}
	if o.Timeout != 0 {
		c.Timeout = o.Timeout
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Normalize fills in missing/zero values with defaults.
func (c *Config) Normalize() {
	if c.Input == "" {
		c.Input = DefaultCalendarPath
	}
	if c.Output == "" {
		c.Output = DefaultCalendarPath
	}
	if c.Limit <= 0 {
		c.Limit = DefaultLimit
	}
	if c.Cutoff <= 0 {
		c.Cutoff = DefaultCutoff
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	c.Schedule = strings.TrimSpace(c.Schedule)
}

// Validate checks required values and the syntax of derived settings.
func (c *Config) Validate() error {
	var missing []string
	if c.Token == "" {
		missing = append(missing, "--token")
	}
	if c.Instance == "" {
		missing = append(missing, "--instance")
	}
	if c.Username == "" {
		missing = append(missing, "--username")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingRequired, strings.Join(missing, ", "))
	}

	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := appLog.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", c.Schedule, err)
		}
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Level resolves LogLevel, falling back to info.
func (c *Config) Level() appLog.Level {
	l, _ := appLog.ParseLevel(c.LogLevel)
	return l
}
