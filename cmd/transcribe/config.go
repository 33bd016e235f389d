package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds the launcher settings.
type Config struct {
	ClassPath     []string `mapstructure:"classpath" toml:"classpath"`
	Heap          string   `mapstructure:"heap" toml:"heap"`
	Class         string   `mapstructure:"class" toml:"class"`
	Method        string   `mapstructure:"method" toml:"method"`
	Construct     bool     `mapstructure:"construct" toml:"construct"`
	AbortOnLookup bool     `mapstructure:"abort_on_lookup_failure" toml:"abort_on_lookup_failure"`
	DebugAddress  string   `mapstructure:"debug_address" toml:"debug_address,omitempty"`
	DebugSuspend  bool     `mapstructure:"debug_suspend" toml:"debug_suspend"`
	Verbose       bool     `mapstructure:"verbose" toml:"verbose"`
}

// Defaults.
const (
	DefaultHeap   = "512m"
	DefaultClass  = "Transcriber"
	DefaultMethod = "main"
	configName    = "transcribe.toml"
)

// loadConfig merges, highest first: flags, TRANSCRIBE_* environment
// variables, the config file, defaults.
func loadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetDefault("heap", DefaultHeap)
	v.SetDefault("class", DefaultClass)
	v.SetDefault("method", DefaultMethod)
	v.SetDefault("construct", true)
	v.SetDefault("abort_on_lookup_failure", true)

	v.SetEnvPrefix("TRANSCRIBE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile == "" {
		if _, err := os.Stat(configName); err == nil {
			cfgFile = configName
		}
	}
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", cfgFile, err)
		}
	}

	bind := map[string]string{
		"classpath":               "classpath",
		"heap":                    "heap",
		"class":                   "class",
		"method":                  "method",
		"construct":               "construct",
		"abort_on_lookup_failure": "abort-on-lookup-failure",
		"debug_address":           "debug-address",
		"debug_suspend":           "debug-suspend",
		"verbose":                 "verbose",
	}
	for key, name := range bind {
		if f := flags.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("binding flag --%s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}

// Validate checks settings the runtime does not check itself.
func (c *Config) Validate() error {
	if len(c.ClassPath) == 0 {
		return fmt.Errorf("no class path: pass --classpath or set classpath in %s", configName)
	}
	if c.Class == "" {
		return fmt.Errorf("class is required")
	}
	if c.Method == "" {
		return fmt.Errorf("method is required")
	}
	if c.DebugSuspend && c.DebugAddress == "" {
		return fmt.Errorf("debug_suspend needs debug_address")
	}
	return nil
}
