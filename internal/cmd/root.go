// Package cmd implements the formrunner command line.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	configcmd "github.com/Iron-Ham/formrunner/internal/cmd/config"
	"github.com/Iron-Ham/formrunner/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "formrunner",
	Short: "Concurrent web form submission orchestrator",
	Long: `Formrunner submits large item lists through a multi-step web form,
spreading the work over a bounded pool of browser sessions. It is driven by
line-delimited JSON commands on stdin and reports progress as line-delimited
JSON events on stdout.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/formrunner/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))

	configcmd.Register(rootCmd)
}

func initConfig() {
	// Defaults first so they apply without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("FORMRUNNER")
	// e.g. FORMRUNNER_SESSIONS_MAX_SESSIONS for sessions.max_sessions
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// A missing config file is fine
	_ = viper.ReadInConfig()
}
