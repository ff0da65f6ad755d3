package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Graph() GraphConfig
	Analysis() AnalysisConfig
	Categorize() CategorizeConfig
	Paths() PathsConfig

	SetAnalysisWorkers(int)
	SetGraphFrontend(string)
}

// Config holds the entire application configuration. Sections are exported so viper can
// populate them and are read through the Interface getters.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	GraphCfg      GraphConfig      `mapstructure:"graph" yaml:"graph"`
	AnalysisCfg   AnalysisConfig   `mapstructure:"analysis" yaml:"analysis"`
	CategorizeCfg CategorizeConfig `mapstructure:"categorize" yaml:"categorize"`
	PathsCfg      PathsConfig      `mapstructure:"paths" yaml:"paths"`
}

var _ Interface = (*Config)(nil)

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig     { return c.DatabaseCfg }
func (c *Config) Graph() GraphConfig           { return c.GraphCfg }
func (c *Config) Analysis() AnalysisConfig     { return c.AnalysisCfg }
func (c *Config) Categorize() CategorizeConfig { return c.CategorizeCfg }
func (c *Config) Paths() PathsConfig           { return c.PathsCfg }

func (c *Config) SetAnalysisWorkers(n int)  { c.AnalysisCfg.Workers = n }
func (c *Config) SetGraphFrontend(f string) { c.GraphCfg.Frontend = f }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details. An empty URL disables persistence.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// Graph backends and front-ends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"

	FrontendTreeSitter = "treesitter"
	FrontendGoja       = "goja"
)

// GraphConfig selects where the program graph lives and how scripts are parsed into it.
type GraphConfig struct {
	Backend  string `mapstructure:"backend" yaml:"backend"`
	Frontend string `mapstructure:"frontend" yaml:"frontend"`
	// QueryRate caps graph queries per second against the postgres backend. Zero is unlimited.
	QueryRate  float64 `mapstructure:"query_rate" yaml:"query_rate"`
	QueryBurst int     `mapstructure:"query_burst" yaml:"query_burst"`
}

// AnalysisConfig tunes the per-page flow analysis.
type AnalysisConfig struct {
	MaxResolveDepth int  `mapstructure:"max_resolve_depth" yaml:"max_resolve_depth"`
	Workers         int  `mapstructure:"workers" yaml:"workers"`
	Beautify        bool `mapstructure:"beautify" yaml:"beautify"`
	Persist         bool `mapstructure:"persist" yaml:"persist"`
}

// CategorizeConfig tunes the URL-structure categorizer batch.
type CategorizeConfig struct {
	Workers int  `mapstructure:"workers" yaml:"workers"`
	Persist bool `mapstructure:"persist" yaml:"persist"`
}

// PathsConfig locates the batch inputs and outputs.
type PathsConfig struct {
	DataDir   string `mapstructure:"data_dir" yaml:"data_dir"`
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`
	InputDir  string `mapstructure:"input_dir" yaml:"input_dir"`
}

// Resolve expands a leading ~ in every path and cleans them.
func (p PathsConfig) Resolve() (PathsConfig, error) {
	var err error
	expand := func(s string) string {
		if err != nil || s == "" {
			return s
		}
		var out string
		out, err = homedir.Expand(s)
		return filepath.Clean(out)
	}
	resolved := PathsConfig{
		DataDir:   expand(p.DataDir),
		OutputDir: expand(p.OutputDir),
		InputDir:  expand(p.InputDir),
	}
	if err != nil {
		return PathsConfig{}, fmt.Errorf("failed to expand paths: %w", err)
	}
	return resolved, nil
}

// NewDefaultConfig returns a configuration populated purely from defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "reqhijack")
	v.SetDefault("logger.log_file", "reqhijack.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Graph --
	v.SetDefault("graph.backend", BackendMemory)
	v.SetDefault("graph.frontend", FrontendTreeSitter)
	v.SetDefault("graph.query_rate", 0)
	v.SetDefault("graph.query_burst", 50)

	// -- Analysis --
	v.SetDefault("analysis.max_resolve_depth", 16)
	v.SetDefault("analysis.workers", 4)
	v.SetDefault("analysis.beautify", true)
	v.SetDefault("analysis.persist", false)

	// -- Categorize --
	v.SetDefault("categorize.workers", 4)
	v.SetDefault("categorize.persist", false)

	// -- Paths --
	v.SetDefault("paths.data_dir", "data")
	v.SetDefault("paths.output_dir", "outputs")
	v.SetDefault("paths.input_dir", "input")
}

// NewConfigFromViper unmarshals and validates the configuration held by v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("database.url", "REQHIJACK_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	paths, err := cfg.PathsCfg.Resolve()
	if err != nil {
		return nil, err
	}
	cfg.PathsCfg = paths

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.GraphCfg.Validate(); err != nil {
		return err
	}
	if c.GraphCfg.Backend == BackendPostgres && c.DatabaseCfg.URL == "" {
		return fmt.Errorf("database.url is required when graph.backend is %q", BackendPostgres)
	}
	if c.AnalysisCfg.MaxResolveDepth <= 0 {
		return fmt.Errorf("analysis.max_resolve_depth must be a positive integer")
	}
	if c.AnalysisCfg.Workers <= 0 {
		return fmt.Errorf("analysis.workers must be a positive integer")
	}
	if c.CategorizeCfg.Workers <= 0 {
		return fmt.Errorf("categorize.workers must be a positive integer")
	}
	if (c.AnalysisCfg.Persist || c.CategorizeCfg.Persist) && c.DatabaseCfg.URL == "" {
		return fmt.Errorf("database.url is required when persistence is enabled")
	}
	return nil
}

// Validate checks the graph section.
func (g *GraphConfig) Validate() error {
	switch strings.ToLower(g.Backend) {
	case BackendMemory, BackendPostgres:
	default:
		return fmt.Errorf("graph.backend must be one of %q or %q, got %q", BackendMemory, BackendPostgres, g.Backend)
	}
	switch strings.ToLower(g.Frontend) {
	case FrontendTreeSitter, FrontendGoja:
	default:
		return fmt.Errorf("graph.frontend must be one of %q or %q, got %q", FrontendTreeSitter, FrontendGoja, g.Frontend)
	}
	if g.QueryRate < 0 {
		return fmt.Errorf("graph.query_rate must not be negative")
	}
	if g.QueryRate > 0 && g.QueryBurst <= 0 {
		return fmt.Errorf("graph.query_burst must be a positive integer when graph.query_rate is set")
	}
	return nil
}
