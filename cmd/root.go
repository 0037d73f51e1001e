// -- cmd/root.go --
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/custodian-cli/internal/config"
	"github.com/xkilldash9x/custodian-cli/internal/observability"
)

var (
	cfgFile string
	cfg     *config.Config

	// loggerReady flips once the global logger has been initialized; before
	// that, fatal errors go straight to stderr.
	loggerReady bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "custodian",
	Short:   "Custodian is an autonomous caretaker agent for repositories and running services.",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Runs before any command, setting up config and logging.
		if err := initializeConfig(); err != nil {
			return err
		}

		loaded, err := config.NewConfigFromViper(viper.GetViper())
		if err != nil {
			// Fallback logger so the failure itself is visible.
			observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "custodian-cli"})
			loggerReady = true
			return err
		}
		cfg = loaded

		observability.InitializeLogger(cfg.Logger())
		loggerReady = true
		observability.GetLogger().Info("Starting custodian", zap.String("version", Version))
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		reportFailure(os.Stderr, err)
		os.Exit(1)
	}
}

// reportFailure routes a fatal command error through the logger once one is
// up, and to the given writer before that (flag parse and config errors).
func reportFailure(w io.Writer, err error) {
	if loggerReady {
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
		return
	}
	fmt.Fprintln(w, err)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml, then ~/.custodian/config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

// initializeConfig reads the config file and environment variables.
func initializeConfig() error {
	v := viper.GetViper()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(home + "/.custodian")
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("CUSTODIAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults and env vars.
	}
	return nil
}
