package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Interval time.Duration `yaml:"interval"`

	// Sampler selects the GPU backend: nvml, smi or none.
	Sampler string `yaml:"sampler"`
	SMIPath string `yaml:"smi_path"`

	// UnitScale converts the driver's raw usage unit into a percentage.
	UnitScale float64 `yaml:"unit_scale"`

	SortColumn    int  `yaml:"sort_column"`
	SortAscending bool `yaml:"sort_ascending"`
	NumericSort   bool `yaml:"numeric_sort"`

	Theme string `yaml:"theme"`

	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level"`

	// Format is the dump command's output: table or json.
	Format string `yaml:"format"`

	// Listen is the address used by the serve command.
	Listen string `yaml:"listen"`

	// HostFailureLimit is how many consecutive host enumeration failures
	// stop the refresh loop.
	HostFailureLimit int `yaml:"host_failure_limit"`

	// ConfigFile is the YAML file loaded beneath env and flags.
	ConfigFile string `yaml:"-"`
}

func Default() Config {
	return Config{
		Interval:         time.Second,
		Sampler:          "nvml",
		SMIPath:          "nvidia-smi",
		UnitScale:        10.0,
		SortColumn:       2,
		Theme:            "dark",
		LogLevel:         "info",
		Format:           "table",
		Listen:           ":8080",
		HostFailureLimit: 3,
	}
}

// FromEnvAndFlags layers configuration as defaults < YAML file < GPUTOP_*
// environment < command line flags.
func FromEnvAndFlags(name string, args []string) (Config, error) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	cfg := Default()
	cfg.ConfigFile = envString("GPUTOP_CONFIG", "")

	// The config file has to be known before the other flags get their
	// defaults, so peek at it first.
	if path := peekConfigFlag(args); path != "" {
		cfg.ConfigFile = path
	}
	if cfg.ConfigFile != "" {
		if err := loadFile(cfg.ConfigFile, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.Interval = envDuration("GPUTOP_INTERVAL", cfg.Interval)
	cfg.Sampler = envString("GPUTOP_SAMPLER", cfg.Sampler)
	cfg.SMIPath = envString("GPUTOP_SMI_PATH", cfg.SMIPath)
	cfg.UnitScale = envFloat("GPUTOP_UNIT_SCALE", cfg.UnitScale)
	cfg.SortColumn = envInt("GPUTOP_SORT_COLUMN", cfg.SortColumn)
	cfg.SortAscending = envBool("GPUTOP_SORT_ASCENDING", cfg.SortAscending)
	cfg.NumericSort = envBool("GPUTOP_NUMERIC_SORT", cfg.NumericSort)
	cfg.Theme = envString("GPUTOP_THEME", cfg.Theme)
	cfg.LogFile = envString("GPUTOP_LOG_FILE", cfg.LogFile)
	cfg.LogLevel = envString("GPUTOP_LOG_LEVEL", cfg.LogLevel)
	cfg.Format = envString("GPUTOP_FORMAT", cfg.Format)
	cfg.Listen = envString("GPUTOP_LISTEN", cfg.Listen)
	cfg.HostFailureLimit = envInt("GPUTOP_HOST_FAILURE_LIMIT", cfg.HostFailureLimit)

	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "YAML config file")
	fs.DurationVarP(&cfg.Interval, "interval", "i", cfg.Interval, "Refresh interval")
	fs.StringVar(&cfg.Sampler, "sampler", cfg.Sampler, "GPU backend: nvml, smi or none")
	fs.StringVar(&cfg.SMIPath, "smi-path", cfg.SMIPath, "Path to nvidia-smi for the smi backend")
	fs.Float64Var(&cfg.UnitScale, "unit-scale", cfg.UnitScale, "Divisor turning raw GPU usage units into percent")
	fs.IntVarP(&cfg.SortColumn, "sort", "s", cfg.SortColumn, "Initial sort column (0=pid 1=name 2=cpu 3=mem 4=gpu 5=vram)")
	fs.BoolVar(&cfg.SortAscending, "ascending", cfg.SortAscending, "Sort ascending instead of descending")
	fs.BoolVar(&cfg.NumericSort, "numeric-sort", cfg.NumericSort, "Compare numeric columns by value instead of as text")
	fs.StringVar(&cfg.Theme, "theme", cfg.Theme, "TUI theme: dark or light")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Write logs to this file")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error, off")
	fs.StringVarP(&cfg.Format, "format", "o", cfg.Format, "Output of the dump command: table or json")
	fs.StringVar(&cfg.Listen, "listen", cfg.Listen, "Listen address for the serve command")
	fs.IntVar(&cfg.HostFailureLimit, "host-failure-limit", cfg.HostFailureLimit, "Consecutive host enumeration failures before giving up")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %s", c.Interval))
	}
	if c.UnitScale <= 0 {
		errs = append(errs, fmt.Errorf("unit scale must be positive, got %g", c.UnitScale))
	}
	switch strings.ToLower(c.Sampler) {
	case "nvml", "smi", "nvidia-smi", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown sampler %q", c.Sampler))
	}
	if c.SortColumn < 0 || c.SortColumn > 5 {
		errs = append(errs, fmt.Errorf("sort column must be between 0 and 5, got %d", c.SortColumn))
	}
	switch strings.ToLower(c.Theme) {
	case "dark", "light":
	default:
		errs = append(errs, fmt.Errorf("unknown theme %q", c.Theme))
	}
	switch strings.ToLower(c.Format) {
	case "table", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown format %q", c.Format))
	}
	if c.HostFailureLimit < 1 {
		errs = append(errs, fmt.Errorf("host failure limit must be at least 1, got %d", c.HostFailureLimit))
	}
	return errors.Join(errs...)
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func peekConfigFlag(args []string) string {
	for i, a := range args {
		if a == "--" {
			break
		}
		if v, ok := strings.CutPrefix(a, "--config="); ok {
			return v
		}
		if a == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func envString(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
