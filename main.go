package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ngenohkevin/browseruse-agent/config"
	"github.com/ngenohkevin/browseruse-agent/internal/server"
)

var version = "1.0.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "browseruse-agent",
		Short: "HTTP API for natural-language browser automation",
		Long: `browseruse-agent accepts natural-language tasks over HTTP, runs them
against a browser, streams goal-level progress over server-sent events and
keeps per-user preference insights.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFrom(v)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg)
		},
	}

	flags := root.Flags()
	flags.String("host", "", "address to listen on (HOST)")
	flags.Int("port", 0, "port to listen on (PORT)")
	flags.String("env-file", "", "path to a .env file (ENV_FILE)")
	flags.String("log-level", "", "debug, info, warn or error (LOG_LEVEL)")
	flags.String("browser-mode", "", "cdp, launch or docker (BROWSER_MODE)")

	bindChanged(v, root, map[string]string{
		"host":         "HOST",
		"port":         "PORT",
		"env-file":     "ENV_FILE",
		"log-level":    "LOG_LEVEL",
		"browser-mode": "BROWSER_MODE",
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "browseruse-agent %s\n", version)
		},
	})

	server.Version = version
	return root
}

// bindChanged copies explicitly set flags into v before the command runs,
// so unset flags never shadow the environment
func bindChanged(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		for flag, key := range keys {
			f := cmd.Flags().Lookup(flag)
			if f != nil && f.Changed {
				v.Set(key, f.Value.String())
			}
		}
		return nil
	}
}
