package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type GitHub struct {
	Token  string
	Repo   string
	Branch string
	APIURL string
	RawURL string
}

type Store struct {
	Driver       string
	DocumentPath string
	ImagesFolder string
}

type Canvas struct {
	Size           int
	AlphaThreshold uint8
}

type Server struct {
	Port           int
	MaxUploadBytes int64
	HandlerTimeout time.Duration
}

type Playback struct {
	DocumentURL   string
	PollInterval  time.Duration
	BatchInterval time.Duration
	BatchSize     int
	Output        string
}

type Log struct {
	Level  string
	Format string
}

// Config is built once at startup and never mutated.
type Config struct {
	GitHub      GitHub
	Store       Store
	Canvas      Canvas
	Server      Server
	Playback    Playback
	Log         Log
	HTTPTimeout time.Duration
}

const (
	DriverGitHub = "github"
	DriverMemory = "memory"
)

var envBindings = map[string]string{
	"github.token":            "GITHUB_TOKEN",
	"github.repo":             "GITHUB_REPO",
	"github.branch":           "GITHUB_BRANCH",
	"github.api_url":          "GITHUB_API_URL",
	"github.raw_url":          "GITHUB_RAW_URL",
	"store.driver":            "STORE_DRIVER",
	"store.document_path":     "DOCUMENT_PATH",
	"store.images_folder":     "IMAGES_FOLDER",
	"canvas.size":             "CANVAS_SIZE",
	"canvas.alpha_threshold":  "ALPHA_THRESHOLD",
	"server.port":             "PORT",
	"handler.timeout":         "HANDLER_TIMEOUT",
	"http.timeout":            "HTTP_TIMEOUT",
	"playback.document_url":   "DOCUMENT_URL",
	"playback.poll_interval":  "POLL_INTERVAL",
	"playback.batch_interval": "BATCH_INTERVAL",
	"playback.batch_size":     "BATCH_SIZE",
	"playback.output":         "PLAYBACK_OUTPUT",
	"log.level":               "LOG_LEVEL",
	"log.format":              "LOG_FORMAT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("github.branch", "main")
	v.SetDefault("github.api_url", "https://api.github.com")
	v.SetDefault("github.raw_url", "https://raw.githubusercontent.com")
	v.SetDefault("store.driver", DriverGitHub)
	v.SetDefault("store.document_path", "drawing.json")
	v.SetDefault("store.images_folder", "images")
	v.SetDefault("canvas.size", 64)
	v.SetDefault("canvas.alpha_threshold", 10)
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.max_upload_bytes", 10<<20)
	v.SetDefault("handler.timeout", "60s")
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("playback.poll_interval", "10s")
	v.SetDefault("playback.batch_interval", "50ms")
	v.SetDefault("playback.batch_size", 200)
	v.SetDefault("playback.output", "canvas.png")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// ReadFile loads an optional config.toml from the working directory.
func ReadFile(v *viper.Viper) error {
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			log.Debug().Msg("no config file, using environment")
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	log.Info().Str("file", v.ConfigFileUsed()).Msg("config file loaded")

	return nil
}

// Load resolves every setting from v. Malformed numbers and durations are
// errors; missing credentials are reported by Issues instead.
func Load(v *viper.Viper) (Config, error) {
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	var errs []error
	duration := func(key string) time.Duration {
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("invalid duration for %s: %q", key, v.GetString(key)))
		}
		return d
	}
	integer := func(key string, lo, hi int) int {
		raw := strings.TrimSpace(v.GetString(key))
		n, err := strconv.Atoi(raw)
		if err != nil || n < lo || n > hi {
			errs = append(errs, fmt.Errorf("invalid value for %s: %q (want %d..%d)", key, raw, lo, hi))
		}
		return n
	}

	c := Config{
		GitHub: GitHub{
			Token:  strings.TrimSpace(v.GetString("github.token")),
			Repo:   strings.TrimSpace(v.GetString("github.repo")),
			Branch: v.GetString("github.branch"),
			APIURL: strings.TrimRight(v.GetString("github.api_url"), "/"),
			RawURL: strings.TrimRight(v.GetString("github.raw_url"), "/"),
		},
		Store: Store{
			Driver:       strings.ToLower(v.GetString("store.driver")),
			DocumentPath: strings.Trim(v.GetString("store.document_path"), "/"),
			ImagesFolder: strings.Trim(v.GetString("store.images_folder"), "/"),
		},
		Canvas: Canvas{
			Size:           integer("canvas.size", 1, 4096),
			AlphaThreshold: uint8(integer("canvas.alpha_threshold", 0, 255)),
		},
		Server: Server{
			Port:           integer("server.port", 1, 65535),
			MaxUploadBytes: int64(integer("server.max_upload_bytes", 1, 1<<30)),
			HandlerTimeout: duration("handler.timeout"),
		},
		Playback: Playback{
			DocumentURL:   strings.TrimSpace(v.GetString("playback.document_url")),
			PollInterval:  duration("playback.poll_interval"),
			BatchInterval: duration("playback.batch_interval"),
			BatchSize:     integer("playback.batch_size", 1, 1<<20),
			Output:        v.GetString("playback.output"),
		},
		Log: Log{
			Level:  strings.ToLower(v.GetString("log.level")),
			Format: strings.ToLower(v.GetString("log.format")),
		},
		HTTPTimeout: duration("http.timeout"),
	}

	switch c.Store.Driver {
	case DriverGitHub, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}

	if c.Store.DocumentPath == "" {
		errs = append(errs, errors.New("store.document_path is empty"))
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}

	return c, nil
}

// Issues lists what keeps the store from being usable. An empty list means
// the configuration is complete.
func (c Config) Issues() []string {
	if c.Store.Driver != DriverGitHub {
		return nil
	}

	var issues []string
	if c.GitHub.Token == "" {
		issues = append(issues, "GITHUB_TOKEN is not set")
	}

	if c.GitHub.Repo == "" {
		issues = append(issues, "GITHUB_REPO is not set")
	} else if owner, name, ok := strings.Cut(c.GitHub.Repo, "/"); !ok || owner == "" || name == "" ||
		strings.Contains(name, "/") {
		issues = append(issues, fmt.Sprintf("GITHUB_REPO %q is not in owner/name form", c.GitHub.Repo))
	}

	return issues
}

// DocumentURL is the URL the playback agent polls. Without an explicit
// setting it is the raw URL of the published document.
func (c Config) DocumentURL() string {
	if c.Playback.DocumentURL != "" {
		return c.Playback.DocumentURL
	}

	if c.GitHub.Repo == "" {
		return ""
	}

	return fmt.Sprintf("%s/%s/%s/%s", c.GitHub.RawURL, c.GitHub.Repo, c.GitHub.Branch, c.Store.DocumentPath)
}

// SetupLogging applies the log level and output format.
func (c Config) SetupLogging() {
	SetupLogging(c.Log.Level, c.Log.Format, os.Stderr)
}

func SetupLogging(level, format string, w io.Writer) {
	var logLevel zerolog.Level

	switch level {
	case "debug":
		logLevel = zerolog.DebugLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	default:
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)

	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}
