// Package config parses and validates the primecount server and client
// configuration. Values come from command-line flags, then PRIMECOUNT_*
// environment variables, then defaults.
package config

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	apperrors "github.com/agbru/primecount/internal/errors"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "PRIMECOUNT_"

// Run modes.
const (
	ModeAPI        = "api"
	ModeWorker     = "worker"
	ModeStandalone = "standalone"
)

// Defaults.
const (
	DefaultAddr           = ":8000"
	DefaultJobTTL         = time.Hour
	DefaultRetireGrace    = 5 * time.Minute
	DefaultHardTimeLimit  = time.Hour
	DefaultSoftTimeLimit  = 50 * time.Minute
	DefaultRetryDelay     = 30 * time.Second
	DefaultMaxRetries     = 3
	DefaultResultExpires  = time.Hour
	DefaultAllowedOrigins = "http://localhost:3000"
	DefaultMinN           = 10000
	DefaultMaxChunks      = 128
	DefaultHeartbeat      = 10 * time.Second
)

// AppConfig holds everything the primecount server needs.
type AppConfig struct {
	Mode        string
	Addr        string
	RedisURL    string
	Concurrency int

	JobTTL        time.Duration
	RetireGrace   time.Duration
	HardTimeLimit time.Duration
	SoftTimeLimit time.Duration
	RetryDelay    time.Duration
	MaxRetries    int
	ResultExpires time.Duration
	Heartbeat     time.Duration

	MinN      uint64
	MaxChunks int

	AllowedOrigins []string
	EnableCORS     bool

	LogLevel  string
	LogFormat string
	Tracing   string
	Breaker   bool
}

// ParseConfig parses args (without the program name) into an AppConfig.
// Flag parse errors, including flag.ErrHelp, are returned unchanged so the
// caller can distinguish a help request.
func ParseConfig(programName string, args []string, errWriter io.Writer) (AppConfig, error) {
	fs := flag.NewFlagSet(programName, flag.ContinueOnError)
	fs.SetOutput(errWriter)

	config := AppConfig{}
	var origins string
	fs.StringVar(&config.Mode, "mode", ModeStandalone, "Run mode: api, worker or standalone.")
	fs.StringVar(&config.Addr, "addr", DefaultAddr, "HTTP listen address (api and standalone modes).")
	fs.StringVar(&config.RedisURL, "redis-url", "", "Redis URL for the store and queue (empty: in-memory, standalone only).")
	fs.IntVar(&config.Concurrency, "concurrency", 0, "Worker goroutines per process (0: number of CPUs).")
	fs.DurationVar(&config.JobTTL, "job-ttl", DefaultJobTTL, "Lifetime of job progress counters.")
	fs.DurationVar(&config.RetireGrace, "retire-grace", DefaultRetireGrace, "How long the final progress snapshot is kept.")
	fs.DurationVar(&config.HardTimeLimit, "time-limit", DefaultHardTimeLimit, "Hard per-task time limit.")
	fs.DurationVar(&config.SoftTimeLimit, "soft-time-limit", DefaultSoftTimeLimit, "Soft per-task time limit (cancels the computation).")
	fs.DurationVar(&config.RetryDelay, "retry-delay", DefaultRetryDelay, "Delay before a failed task is retried.")
	fs.IntVar(&config.MaxRetries, "max-retries", DefaultMaxRetries, "Maximum retries per task.")
	fs.DurationVar(&config.ResultExpires, "result-expires", DefaultResultExpires, "Lifetime of task state and results.")
	fs.DurationVar(&config.Heartbeat, "heartbeat", DefaultHeartbeat, "Worker heartbeat interval.")
	fs.Uint64Var(&config.MinN, "min-n", DefaultMinN, "Smallest accepted upper bound.")
	fs.IntVar(&config.MaxChunks, "max-chunks", DefaultMaxChunks, "Largest accepted chunk count.")
	fs.StringVar(&origins, "allowed-origins", DefaultAllowedOrigins, "Comma-separated CORS origins.")
	fs.BoolVar(&config.EnableCORS, "cors", true, "Enable CORS headers.")
	fs.StringVar(&config.LogLevel, "log-level", "info", "Log level: debug, info, warn, error.")
	fs.StringVar(&config.LogFormat, "log-format", "json", "Log format: json or text.")
	fs.StringVar(&config.Tracing, "tracing", "none", "Trace exporter: none or stdout.")
	fs.BoolVar(&config.Breaker, "breaker", true, "Wrap the store in a circuit breaker.")

	if err := fs.Parse(args); err != nil {
		return AppConfig{}, err
	}

	config.AllowedOrigins = splitList(origins)
	applyEnvOverrides(&config, fs)
	config.Mode = strings.ToLower(strings.TrimSpace(config.Mode))

	if err := config.Validate(); err != nil {
		fmt.Fprintln(errWriter, "Configuration error:", err)
		fs.Usage()
		return AppConfig{}, err
	}
	return config, nil
}

// Validate checks semantic consistency of the configuration.
func (c AppConfig) Validate() error {
	switch c.Mode {
	case ModeAPI, ModeWorker, ModeStandalone:
	default:
		return apperrors.NewConfigError("invalid mode %q (want api, worker or standalone)", c.Mode)
	}
	if c.Mode != ModeStandalone && c.RedisURL == "" {
		return apperrors.NewConfigError("mode %q requires --redis-url", c.Mode)
	}
	if c.Concurrency < 0 {
		return apperrors.NewConfigError("concurrency cannot be negative: %d", c.Concurrency)
	}
	for name, d := range map[string]time.Duration{
		"job-ttl":         c.JobTTL,
		"retire-grace":    c.RetireGrace,
		"time-limit":      c.HardTimeLimit,
		"soft-time-limit": c.SoftTimeLimit,
		"result-expires":  c.ResultExpires,
		"heartbeat":       c.Heartbeat,
	} {
		if d <= 0 {
			return apperrors.NewConfigError("%s must be positive, got %s", name, d)
		}
	}
	if c.RetryDelay < 0 {
		return apperrors.NewConfigError("retry-delay cannot be negative: %s", c.RetryDelay)
	}
	if c.SoftTimeLimit > c.HardTimeLimit {
		return apperrors.NewConfigError("soft-time-limit (%s) exceeds time-limit (%s)", c.SoftTimeLimit, c.HardTimeLimit)
	}
	if c.MaxRetries < 0 {
		return apperrors.NewConfigError("max-retries cannot be negative: %d", c.MaxRetries)
	}
	if c.MinN < 1 {
		return apperrors.NewConfigError("min-n must be at least 1")
	}
	if c.MaxChunks < 1 {
		return apperrors.NewConfigError("max-chunks must be at least 1, got %d", c.MaxChunks)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return apperrors.NewConfigError("invalid log format %q", c.LogFormat)
	}
	switch c.Tracing {
	case "none", "stdout":
	default:
		return apperrors.NewConfigError("invalid tracing exporter %q", c.Tracing)
	}
	return nil
}

// ClientConfig holds the primectl settings.
type ClientConfig struct {
	Server   string
	Command  string
	Args     []string
	N        uint64
	Chunks   int
	Interval time.Duration
	Timeout  time.Duration
	Wait     bool
	TUI      bool
	JSON     bool
	NoColor  bool
	Theme    string
}

// Client subcommands.
const (
	CommandSubmit     = "submit"
	CommandStatus     = "status"
	CommandWatch      = "watch"
	CommandHealth     = "health"
	CommandCompletion = "completion"
)

// ParseClientConfig parses the primectl command line:
//
//	primectl [flags] submit
//	primectl [flags] status <job-id>
//	primectl [flags] watch <job-id>
//	primectl [flags] health
//	primectl completion bash|zsh|fish
func ParseClientConfig(programName string, args []string, errWriter io.Writer) (ClientConfig, error) {
	fs := flag.NewFlagSet(programName, flag.ContinueOnError)
	fs.SetOutput(errWriter)
	fs.Usage = func() {
		fmt.Fprintf(errWriter, "Usage: %s [flags] submit | status <job-id> | watch <job-id> | health | completion <shell>\n", programName)
		fs.PrintDefaults()
	}

	config := ClientConfig{}
	fs.StringVar(&config.Server, "server", "http://localhost:8000", "primecount API base URL.")
	fs.Uint64Var(&config.N, "n", 1000000, "Upper bound for submit.")
	fs.IntVar(&config.Chunks, "chunks", 8, "Number of chunks for submit.")
	fs.DurationVar(&config.Interval, "interval", 500*time.Millisecond, "Polling interval.")
	fs.DurationVar(&config.Timeout, "timeout", 10*time.Minute, "Give up waiting after this long.")
	fs.BoolVar(&config.Wait, "wait", false, "After submit, watch the job until it finishes.")
	fs.BoolVar(&config.TUI, "tui", false, "Watch with the interactive dashboard.")
	fs.BoolVar(&config.JSON, "json", false, "Print raw JSON responses.")
	fs.BoolVar(&config.NoColor, "no-color", false, "Disable colored output.")
	fs.StringVar(&config.Theme, "theme", "dark", "Color theme: dark, light or none.")

	if err := fs.Parse(args); err != nil {
		return ClientConfig{}, err
	}

	if !isFlagSet(fs, "server") {
		if v := getEnvString("SERVER", ""); v != "" {
			config.Server = v
		}
	}
	if !isFlagSet(fs, "no-color") {
		config.NoColor = getEnvBool("NO_COLOR", config.NoColor)
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return ClientConfig{}, apperrors.NewConfigError("missing command")
	}
	config.Command, config.Args = rest[0], rest[1:]

	if err := config.Validate(); err != nil {
		fmt.Fprintln(errWriter, "Configuration error:", err)
		return ClientConfig{}, err
	}
	return config, nil
}

// Validate checks the client configuration.
func (c ClientConfig) Validate() error {
	switch c.Command {
	case CommandSubmit:
		if c.Chunks < 1 {
			return apperrors.NewConfigError("chunks must be at least 1, got %d", c.Chunks)
		}
	case CommandStatus, CommandWatch:
		if len(c.Args) != 1 || strings.TrimSpace(c.Args[0]) == "" {
			return apperrors.NewConfigError("%s requires exactly one job id", c.Command)
		}
	case CommandHealth:
	case CommandCompletion:
		if len(c.Args) != 1 {
			return apperrors.NewConfigError("completion requires a shell name (bash, zsh or fish)")
		}
	default:
		return apperrors.NewConfigError("unknown command %q", c.Command)
	}
	if c.Interval <= 0 {
		return apperrors.NewConfigError("interval must be positive, got %s", c.Interval)
	}
	if c.Timeout <= 0 {
		return apperrors.NewConfigError("timeout must be positive, got %s", c.Timeout)
	}
	return nil
}

// JobID returns the positional job id of status and watch.
func (c ClientConfig) JobID() string {
	if len(c.Args) == 0 {
		return ""
	}
	return strings.TrimSpace(c.Args[0])
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
