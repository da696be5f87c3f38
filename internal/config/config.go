// Package config resolves the bot options from defaults, an optional
// YAML or JSON file, environment variables and command-line flags, in
// that order of increasing priority.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Environment variables read by Parse.
const (
	EnvConfig          = "WABOT_CONFIG"
	EnvAuthDSN         = "WABOT_AUTH_DSN"
	EnvCacheDSN        = "WABOT_CACHE_DSN"
	EnvCachePassphrase = "WABOT_CACHE_PASSPHRASE"
	EnvStatusAddr      = "WABOT_STATUS_ADDR"
	EnvStatusToken     = "WABOT_STATUS_TOKEN"
)

// Supported storage backends.
const (
	DialectSQLite   = "sqlite3"
	DialectPostgres = "postgres"
	CacheFile       = "file"
	CachePostgres   = "postgres"
)

// Duration is a time.Duration read from "10s" style strings.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// AuthOptions locate the credential store.
type AuthOptions struct {
	Dialect string `yaml:"dialect" json:"dialect"`
	DSN     string `yaml:"dsn" json:"dsn"`
}

// CacheOptions configure the local message cache.
type CacheOptions struct {
	Backend       string   `yaml:"backend" json:"backend"`
	Path          string   `yaml:"path" json:"path"`
	DSN           string   `yaml:"dsn" json:"dsn"`
	Passphrase    string   `yaml:"passphrase" json:"passphrase"`
	FlushInterval Duration `yaml:"flush_interval" json:"flush_interval"`
	Retention     Duration `yaml:"retention" json:"retention"`
	PruneInterval Duration `yaml:"prune_interval" json:"prune_interval"`
}

// ReplyOptions configure the auto-reply.
type ReplyOptions struct {
	Trigger        string   `yaml:"trigger" json:"trigger"`
	Text           string   `yaml:"text" json:"text"`
	SubscribeDelay Duration `yaml:"subscribe_delay" json:"subscribe_delay"`
	TypingDelay    Duration `yaml:"typing_delay" json:"typing_delay"`
}

// VersionOptions configure the protocol version lookup.
type VersionOptions struct {
	URL     string   `yaml:"url" json:"url"`
	Timeout Duration `yaml:"timeout" json:"timeout"`
	// Strict turns a failed lookup into a bootstrap error instead of
	// falling back to the library default.
	Strict bool `yaml:"strict" json:"strict"`
}

// ReconnectOptions bound the reconnect loop. MaxAttempts 0 means retry
// forever.
type ReconnectOptions struct {
	Initial     Duration `yaml:"initial" json:"initial"`
	Max         Duration `yaml:"max" json:"max"`
	Factor      float64  `yaml:"factor" json:"factor"`
	MaxAttempts int      `yaml:"max_attempts" json:"max_attempts"`
}

// LogOptions configure the logger.
type LogOptions struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// Options holds the configuration values for the application.
type Options struct {
	UsePairingCode     bool `yaml:"use_pairing_code" json:"use_pairing_code"`
	EnableMessageCache bool `yaml:"enable_message_cache" json:"enable_message_cache"`
	EnableAutoReply    bool `yaml:"enable_auto_reply" json:"enable_auto_reply"`

	Auth      AuthOptions      `yaml:"auth" json:"auth"`
	Cache     CacheOptions     `yaml:"cache" json:"cache"`
	Reply     ReplyOptions     `yaml:"reply" json:"reply"`
	Version   VersionOptions   `yaml:"version" json:"version"`
	Reconnect ReconnectOptions `yaml:"reconnect" json:"reconnect"`
	Log       LogOptions       `yaml:"log" json:"log"`

	// StatusAddr enables the status endpoint when not empty.
	StatusAddr string `yaml:"status_addr" json:"status_addr"`
	// StatusToken, when set, is required as a bearer token on /status.
	StatusToken string `yaml:"status_token" json:"status_token"`

	// Config is the path of the file that was loaded, if any.
	Config string `yaml:"-" json:"-"`
	// ShowVersion asks main to print build metadata and exit.
	ShowVersion bool `yaml:"-" json:"-"`
}

// Default returns the built-in options.
func Default() *Options {
	return &Options{
		EnableMessageCache: true,
		Auth: AuthOptions{
			Dialect: DialectSQLite,
			DSN:     "file:auth_info.db?_foreign_keys=on",
		},
		Cache: CacheOptions{
			Backend:       CacheFile,
			Path:          "baileys_store_multi.bin",
			FlushInterval: Duration(10 * time.Second),
			Retention:     Duration(30 * 24 * time.Hour),
			PruneInterval: Duration(time.Hour),
		},
		Reply: ReplyOptions{
			Trigger:        "!ping",
			Text:           "Hello there!",
			SubscribeDelay: Duration(500 * time.Millisecond),
			TypingDelay:    Duration(2 * time.Second),
		},
		Version: VersionOptions{
			URL:     "https://raw.githubusercontent.com/WhiskeySockets/Baileys/master/src/Defaults/baileys-version.json",
			Timeout: Duration(10 * time.Second),
		},
		Reconnect: ReconnectOptions{
			Initial:     Duration(time.Second),
			Max:         Duration(30 * time.Second),
			Factor:      2,
			MaxAttempts: 10,
		},
		Log: LogOptions{
			Level: "debug",
			File:  "wa-logs.txt",
		},
	}
}

type flagValues struct {
	config         string
	usePairingCode bool
	noStore        bool
	doReply        bool
	logLevel       string
	logFile        string
	statusAddr     string
	showVersion    bool
}

func newFlagSet(v *flagValues) *pflag.FlagSet {
	fs := pflag.NewFlagSet("wabot", pflag.ContinueOnError)
	fs.StringVarP(&v.config, "config", "c", "", "path to a YAML or JSON config file")
	fs.BoolVar(&v.usePairingCode, "use-pairing-code", false, "link with a pairing code instead of a QR code")
	fs.BoolVar(&v.noStore, "no-store", false, "disable the local message cache")
	fs.BoolVar(&v.doReply, "do-reply", false, "reply to the trigger message")
	fs.StringVar(&v.logLevel, "log-level", "", "trace log level (debug, info, warn, error)")
	fs.StringVar(&v.logFile, "log-file", "", "trace log file")
	fs.StringVar(&v.statusAddr, "status-addr", "", "serve /healthz and /status on this address")
	fs.BoolVar(&v.showVersion, "version", false, "show build version and date")
	return fs
}

// Parse resolves the options from args (without the program name) and
// the environment lookup getenv.
func Parse(args []string, getenv func(string) string) (*Options, error) {
	var fv flagValues
	fs := newFlagSet(&fv)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	opts := Default()

	path := fv.config
	if !fs.Changed("config") {
		path = getenv(EnvConfig)
	}
	if path != "" {
		if err := loadFile(path, opts); err != nil {
			return nil, err
		}
		opts.Config = path
	}

	if v := getenv(EnvAuthDSN); v != "" {
		opts.Auth.DSN = v
	}
	if v := getenv(EnvCacheDSN); v != "" {
		opts.Cache.DSN = v
	}
	if v := getenv(EnvCachePassphrase); v != "" {
		opts.Cache.Passphrase = v
	}
	if v := getenv(EnvStatusAddr); v != "" {
		opts.StatusAddr = v
	}
	if v := getenv(EnvStatusToken); v != "" {
		opts.StatusToken = v
	}

	if fs.Changed("use-pairing-code") {
		opts.UsePairingCode = fv.usePairingCode
	}
	if fs.Changed("no-store") {
		opts.EnableMessageCache = !fv.noStore
	}
	if fs.Changed("do-reply") {
		opts.EnableAutoReply = fv.doReply
	}
	if fs.Changed("log-level") {
		opts.Log.Level = fv.logLevel
	}
	if fs.Changed("log-file") {
		opts.Log.File = fv.logFile
	}
	if fs.Changed("status-addr") {
		opts.StatusAddr = fv.statusAddr
	}
	opts.ShowVersion = fv.showVersion

	return opts, nil
}

// MustParse parses os.Args and the process environment, exiting on error.
func MustParse() *Options {
	opts, err := Parse(os.Args[1:], os.Getenv)
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return opts
}

func loadFile(path string, opts *Options) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, opts)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, opts)
	default:
		return fmt.Errorf("config file %q: unsupported extension", path)
	}
	if err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// Validate checks the resolved options.
func (o *Options) Validate() error {
	var errs []error
	switch o.Auth.Dialect {
	case DialectSQLite, DialectPostgres:
	default:
		errs = append(errs, fmt.Errorf("auth.dialect %q: want %s or %s", o.Auth.Dialect, DialectSQLite, DialectPostgres))
	}
	if o.Auth.DSN == "" {
		errs = append(errs, errors.New("auth.dsn is required"))
	}
	if o.EnableMessageCache {
		switch o.Cache.Backend {
		case CacheFile:
			if o.Cache.Path == "" {
				errs = append(errs, errors.New("cache.path is required for the file backend"))
			}
		case CachePostgres:
			if o.Cache.DSN == "" {
				errs = append(errs, errors.New("cache.dsn is required for the postgres backend"))
			}
			if o.Cache.PruneInterval <= 0 {
				errs = append(errs, errors.New("cache.prune_interval must be positive for the postgres backend"))
			}
			if o.Cache.Retention <= 0 {
				errs = append(errs, errors.New("cache.retention must be positive for the postgres backend"))
			}
		default:
			errs = append(errs, fmt.Errorf("cache.backend %q: want %s or %s", o.Cache.Backend, CacheFile, CachePostgres))
		}
		if o.Cache.FlushInterval <= 0 {
			errs = append(errs, errors.New("cache.flush_interval must be positive"))
		}
		if o.Cache.Retention < 0 {
			errs = append(errs, errors.New("cache.retention must not be negative"))
		}
	}
	if o.EnableAutoReply && o.Reply.Trigger == "" {
		errs = append(errs, errors.New("reply.trigger must not be empty"))
	}
	if o.Reply.SubscribeDelay < 0 || o.Reply.TypingDelay < 0 {
		errs = append(errs, errors.New("reply delays must not be negative"))
	}
	if o.Reconnect.Initial <= 0 {
		errs = append(errs, errors.New("reconnect.initial must be positive"))
	}
	if o.Reconnect.Max < o.Reconnect.Initial {
		errs = append(errs, errors.New("reconnect.max must not be below reconnect.initial"))
	}
	if o.Reconnect.Factor < 1 {
		errs = append(errs, errors.New("reconnect.factor must be at least 1"))
	}
	if o.Reconnect.MaxAttempts < 0 {
		errs = append(errs, errors.New("reconnect.max_attempts must not be negative"))
	}
	return errors.Join(errs...)
}
