// File: cmd/root.go
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/greasewire/greasewire/internal/config"
	"github.com/greasewire/greasewire/internal/observability"
)

var (
	cfgFile string
	cfg     config.Config
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "greasewire",
	Short: "greasewire injects userscripts into a Chrome instance over CDP.",
	Long: `greasewire drives a Chromium browser over the DevTools Protocol,
matches Greasemonkey/Tampermonkey style userscripts against every navigated
frame, and injects them with an emulated GM_* capability surface.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			// A fallback logger keeps the failure visible.
			observability.InitializeLogger(config.LoggerConfig{
				Level: "info", Format: "console", ServiceName: "greasewire",
			})
			return err
		}
		observability.InitializeLogger(cfg.Logger)
		observability.GetLogger().Debug("Configuration loaded.", zap.String("version", Version))
		return nil
	},
}

// Execute runs the CLI.
func Execute() {
	defer observability.Sync()
	if err := rootCmd.Execute(); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command failed.", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default ./config.yaml, then ~/.greasewire/config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}
