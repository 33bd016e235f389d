package main

import (
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRootCmd() *cobra.Command {
	var cfgFile string
	var cfg *Config

	root := &cobra.Command{
		Use:   "transcribe [flags] [-- main-args...]",
		Short: "Run a managed entry point inside the embedded runtime",
		Long: `transcribe starts the embedded runtime with the configured class path,
resolves the entry class, optionally constructs it, and invokes its static
main with the remaining arguments.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			var err error
			cfg, err = loadConfig(cfgFile, cmd.Flags())
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			log, err := newLogger(cfg.Verbose)
			if err != nil {
				return err
			}
			defer log.Sync()
			return launch(cmd.Context(), cfg, args, log)
		},
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./"+configName+" if present)")
	pf.StringSliceP("classpath", "c", nil, "class path entries, in load order")
	pf.String("heap", "", "maximum heap size with unit suffix (default "+DefaultHeap+")")
	pf.String("class", "", "entry class (default "+DefaultClass+")")
	pf.String("method", "", "static entry method (default "+DefaultMethod+")")
	pf.Bool("construct", true, "construct an instance of the entry class before calling main")
	pf.Bool("abort-on-lookup-failure", true, "shut the runtime down when a lookup fails")
	pf.String("debug-address", "", "enable the debug transport on this port or host:port")
	pf.Bool("debug-suspend", false, "wait for a debugger before loading the class path")
	pf.BoolP("verbose", "v", false, "debug logging")

	root.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := toml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})
	return root
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	zc := zap.NewProductionConfig()
	zc.Encoding = "console"
	zc.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	return zc.Build()
}
