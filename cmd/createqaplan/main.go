package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"createqaplan/pkg/config"
)

var (
	logger  *zap.Logger
	verbose bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "createqaplan",
		Short: "Create and calculate QA verification plans",
		Long: `createqaplan rebuilds every treated field of a plan on a QA phantom,
shifts the isocenter superiorly when a field would extend past the phantom,
and calculates dose with the MU of the source plan.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initLogger()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().String("config", "", "application config file (YAML)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))

	viper.SetEnvPrefix("QAPLAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newSettingsCmd())
	rootCmd.AddCommand(newInitConfigCmd())
	rootCmd.AddCommand(newHistoryCmd())
	return rootCmd
}

// loadConfig reads the application config named by --config or QAPLAN_CONFIG
func loadConfig() (*config.Config, error) {
	path := viper.GetString("config")
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(path)
}

func initLogger() error {
	level := viper.GetString("log-level")
	if level == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		level = cfg.Output.LogLevel
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Encoding = "console"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		zcfg = zap.NewDevelopmentConfig()
		level = "debug"
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err = zcfg.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}
