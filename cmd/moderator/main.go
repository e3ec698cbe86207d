package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/whisper/guardbot/internal/config"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:          "moderator",
		Short:        "Chat group moderator and daily reward bot",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Consume chat events from NATS and publish moderation actions",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context())
			},
		},
		newOCRCommand(),
		newProvidersCommand(),
		newRestockCommand(),
		newReloadCommand(),
		newKeywordsCommand(),
		newStockCommand(),
		newActionsCommand(),
		newKicksCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("keywords", defaults.GetString("keywords.path"), "Keyword document (JSON or YAML)")
	cmd.PersistentFlags().String("nats-url", defaults.GetString("nats.url"), "NATS server URL")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address; empty keeps state in memory")
	cmd.PersistentFlags().String("reward-store", defaults.GetString("reward.store"), "Reward store (file, sqlite)")
	cmd.PersistentFlags().String("metrics-address", defaults.GetString("metrics.address"), "Prometheus listen address; empty disables")

	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "keywords.path", "keywords")
	bindFlag(cmd, "nats.url", "nats-url")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "reward.store", "reward-store")
	bindFlag(cmd, "metrics.address", "metrics-address")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("guardbot")
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}
	return nil
}
