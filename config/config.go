// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: config.go — Layered process configuration
//
// Purpose:
//   - Builds one Config from built-in defaults, an optional YAML file,
//     HYBRIDSCHED_* environment variables and command-line flags.
//
// Notes:
//   - Later layers win. -config is located before flags are parsed so the
//     file can sit below the environment.
//   - Validate rejects what the fabric or executor would refuse at startup.
// ─────────────────────────────────────────────────────────────────────────────

package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"hybridsched/constants"
	"hybridsched/executor"
	"hybridsched/schedule"
)

// ErrInvalid wraps every rejected configuration value.
var ErrInvalid = errors.New("config: invalid value")

// EnvPrefix prefixes every environment override, e.g. HYBRIDSCHED_HOSTS.
const EnvPrefix = "HYBRIDSCHED_"

// Config holds process configuration for hybridsched.
type Config struct {
	Hosts             int     `yaml:"hosts"`
	Schedule          string  `yaml:"schedule"` // initial schedule, empty for idle
	Resize            bool    `yaml:"resize"`
	InAdvanceUs       int64   `yaml:"in_advance_us"`
	SmallCapacity     int     `yaml:"small_capacity"`
	BigCapacity       int     `yaml:"big_capacity"`
	SmallThreshold    int     `yaml:"small_threshold"`
	BigThreshold      int     `yaml:"big_threshold"`
	ExtraCircuitDelay float64 `yaml:"extra_circuit_delay"` // seconds
	QueueCapacity     int     `yaml:"queue_capacity"`      // initial VOQ capacity
	MarkingThreshold  int     `yaml:"marking_threshold"`   // initial VOQ threshold
	MarkingEnabled    bool    `yaml:"marking_enabled"`
	Accounting        bool    `yaml:"accounting"`
	LogLevel          string  `yaml:"log_level"`
	JournalPath       string  `yaml:"journal_path"` // empty disables the journal
	ControlAddr       string  `yaml:"control_addr"` // empty disables the control server
	ExecutorCPU       int     `yaml:"executor_cpu"` // negative leaves the thread unpinned
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Hosts:            2,
		InAdvanceUs:      constants.DefaultInAdvanceUs,
		SmallCapacity:    constants.DefaultSmallCapacity,
		BigCapacity:      constants.DefaultBigCapacity,
		SmallThreshold:   constants.DefaultSmallThreshold,
		BigThreshold:     constants.DefaultBigThreshold,
		QueueCapacity:    constants.DefaultQueueCapacity,
		MarkingThreshold: constants.DefaultMarkingThreshold,
		MarkingEnabled:   true,
		LogLevel:         "info",
		JournalPath:      "hybridsched.db",
		ControlAddr:      "127.0.0.1:7070",
		ExecutorCPU:      -1,
	}
}

// Load builds the configuration from defaults, the YAML file named by
// -config (or HYBRIDSCHED_CONFIG), the environment and finally args.
// Later layers win.
func Load(args []string) (Config, error) {
	return loadWithFlagSet(flag.NewFlagSet("hybridsched", flag.ContinueOnError), args)
}

func loadWithFlagSet(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Default()

	path := configPath(args)
	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return cfg, err
	}

	// Flags override everything. -config is declared so Parse accepts it.
	fs.String("config", path, "YAML configuration file")
	fs.IntVar(&cfg.Hosts, "hosts", cfg.Hosts, "number of racks (1..9)")
	fs.StringVar(&cfg.Schedule, "schedule", cfg.Schedule, "initial schedule string")
	fs.BoolVar(&cfg.Resize, "resize", cfg.Resize, "grow and shrink VOQs ahead of circuits")
	fs.Int64Var(&cfg.InAdvanceUs, "in-advance", cfg.InAdvanceUs, "resize lookahead in microseconds")
	fs.IntVar(&cfg.SmallCapacity, "small-capacity", cfg.SmallCapacity, "VOQ capacity away from circuits")
	fs.IntVar(&cfg.BigCapacity, "big-capacity", cfg.BigCapacity, "VOQ capacity near circuits")
	fs.IntVar(&cfg.SmallThreshold, "small-threshold", cfg.SmallThreshold, "marking threshold away from circuits")
	fs.IntVar(&cfg.BigThreshold, "big-threshold", cfg.BigThreshold, "marking threshold near circuits")
	fs.Float64Var(&cfg.ExtraCircuitDelay, "extra-circuit-delay", cfg.ExtraCircuitDelay, "extra circuit delay in seconds on alternate passes")
	fs.IntVar(&cfg.QueueCapacity, "queue-capacity", cfg.QueueCapacity, "initial VOQ capacity")
	fs.IntVar(&cfg.MarkingThreshold, "marking-threshold", cfg.MarkingThreshold, "initial VOQ marking threshold")
	fs.BoolVar(&cfg.MarkingEnabled, "marking", cfg.MarkingEnabled, "tag packets past the marking threshold")
	fs.BoolVar(&cfg.Accounting, "accounting", cfg.Accounting, "track per-flow application bytes")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.JournalPath, "journal", cfg.JournalPath, "SQLite journal path, empty to disable")
	fs.StringVar(&cfg.ControlAddr, "control-addr", cfg.ControlAddr, "WebSocket control listen address, empty to disable")
	fs.IntVar(&cfg.ExecutorCPU, "executor-cpu", cfg.ExecutorCPU, "CPU to pin the executor to, -1 for none")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// configPath finds -config/--config in args without parsing the rest.
func configPath(args []string) string {
	for i, a := range args {
		if a == "--" {
			break
		}
		name, value, hasValue := strings.Cut(strings.TrimLeft(a, "-"), "=")
		if !strings.HasPrefix(a, "-") || name != "config" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s%s=%q", ErrInvalid, EnvPrefix, name, v))
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s%s=%q", ErrInvalid, EnvPrefix, name, v))
				return
			}
			*dst = b
		}
	}

	num("HOSTS", &c.Hosts)
	str("SCHEDULE", &c.Schedule)
	boolean("RESIZE", &c.Resize)
	if v := os.Getenv(EnvPrefix + "IN_ADVANCE_US"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %sIN_ADVANCE_US=%q", ErrInvalid, EnvPrefix, v))
		} else {
			c.InAdvanceUs = n
		}
	}
	num("SMALL_CAPACITY", &c.SmallCapacity)
	num("BIG_CAPACITY", &c.BigCapacity)
	num("SMALL_THRESHOLD", &c.SmallThreshold)
	num("BIG_THRESHOLD", &c.BigThreshold)
	if v := os.Getenv(EnvPrefix + "EXTRA_CIRCUIT_DELAY"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %sEXTRA_CIRCUIT_DELAY=%q", ErrInvalid, EnvPrefix, v))
		} else {
			c.ExtraCircuitDelay = f
		}
	}
	num("QUEUE_CAPACITY", &c.QueueCapacity)
	num("MARKING_THRESHOLD", &c.MarkingThreshold)
	boolean("MARKING", &c.MarkingEnabled)
	boolean("ACCOUNTING", &c.Accounting)
	str("LOG_LEVEL", &c.LogLevel)
	str("JOURNAL", &c.JournalPath)
	str("CONTROL_ADDR", &c.ControlAddr)
	num("EXECUTOR_CPU", &c.ExecutorCPU)
	return errors.Join(errs...)
}

// Validate rejects values the fabric or executor would refuse.
func (c Config) Validate() error {
	if c.Hosts <= 0 || c.Hosts > constants.MaxHosts {
		return fmt.Errorf("%w: hosts %d outside 1..%d", ErrInvalid, c.Hosts, constants.MaxHosts)
	}
	if c.QueueCapacity <= 0 || c.QueueCapacity > constants.MaxQueueCapacity {
		return fmt.Errorf("%w: queue capacity %d outside 1..%d", ErrInvalid, c.QueueCapacity, constants.MaxQueueCapacity)
	}
	if c.MarkingThreshold <= 0 {
		return fmt.Errorf("%w: marking threshold %d must be positive", ErrInvalid, c.MarkingThreshold)
	}
	_, err := c.ExecutorParams()
	return err
}

// ExecutorParams converts the executor fields, parsing the initial schedule.
func (c Config) ExecutorParams() (executor.Params, error) {
	p := executor.DefaultParams()
	p.Resize = c.Resize
	p.InAdvanceUs = c.InAdvanceUs
	p.SmallCapacity, p.BigCapacity = c.SmallCapacity, c.BigCapacity
	p.SmallThresh, p.BigThresh = c.SmallThreshold, c.BigThreshold
	p.ExtraDelaySec = c.ExtraCircuitDelay
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if strings.TrimSpace(c.Schedule) != "" {
		s, err := schedule.Parse(c.Schedule, c.Hosts)
		if err != nil {
			return p, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		p.Schedule = s
	}
	return p, nil
}
