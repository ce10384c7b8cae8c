// Package main provides the agent console CLI: agent and workspace
// management plus an interactive chat against an agent console server.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ashureev/agentconsole/internal/app"
	"github.com/ashureev/agentconsole/internal/console"
)

var (
	cfgFile string
	version = "0.1.0"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "console",
	Short:         "Agent Console - chat with and manage AI agents",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return initLogger()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("Agent Console v%s\n", version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default $HOME/.agentconsole.yaml)")
	flags.String("server", "http://localhost:8080", "agent console server URL")
	flags.Duration("timeout", 30*time.Second, "HTTP request timeout")
	flags.Int("retry-limit", 5, "consecutive channel failures before reconnecting stops")
	flags.Duration("retry-delay", time.Second, "base reconnect delay, multiplied by the attempt number")
	flags.String("log-level", "warn", "log level (debug|info|warn|error)")
	flags.Bool("no-color", false, "disable styled output")
	flags.Bool("markdown", true, "render agent replies as markdown")

	for _, name := range []string{"server", "timeout", "retry-limit", "retry-delay", "log-level", "no-color", "markdown"} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			fmt.Fprintf(os.Stderr, "Error binding %s flag: %v\n", name, err)
			os.Exit(1)
		}
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(newAgentsCmd())
	rootCmd.AddCommand(newWorkspacesCmd())
	rootCmd.AddCommand(newChatCmd())
	rootCmd.AddCommand(newStatusCmd())
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".agentconsole")
	}

	viper.SetEnvPrefix("AGENTCONSOLE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && cfgFile != "" {
			fmt.Fprintf(os.Stderr, "Error reading config %s: %v\n", filepath.Clean(cfgFile), err)
			os.Exit(1)
		}
	}
}

func initLogger() error {
	level, err := log.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	handler := log.NewWithOptions(os.Stderr, log.Options{
		Level:           level,
		ReportTimestamp: false,
		Prefix:          "console",
	})
	slog.SetDefault(slog.New(handler))
	return nil
}

func newApp() (*app.App, error) {
	return app.New(app.Config{
		ServerURL:      viper.GetString("server"),
		RequestTimeout: viper.GetDuration("timeout"),
		RetryLimit:     viper.GetInt("retry-limit"),
		RetryBaseDelay: viper.GetDuration("retry-delay"),
	}, slog.Default())
}

func newRenderer() (*console.Renderer, error) {
	styles := console.DefaultStyles()
	if viper.GetBool("no-color") {
		styles = console.PlainStyles()
	}
	return console.NewRenderer(styles, viper.GetBool("markdown"), 100)
}
