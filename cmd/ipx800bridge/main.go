// IPX800 Bridge - relay controller gateway
//
// ipx800bridge connects a GCE Electronics IPX800 V3 relay board to MQTT,
// a REST/WebSocket API and an SQLite audit trail. The device is polled via
// status.xml, pushes changes to the webhook endpoint and receives commands
// through a serialised queue.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nerrad567/ipx800-bridge/internal/auth"
	"github.com/nerrad567/ipx800-bridge/internal/infrastructure/config"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path, used when it exists.
const defaultConfigPath = "configs/config.yaml"

// configEnv names the environment variable holding the config file path.
const configEnv = "IPX800_CONFIG"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type serveFlags struct {
	configPath string
	host       string
	port       int
	listenPort int
}

type tokenFlags struct {
	configPath string
	subject    string
	role       string
	ttl        time.Duration
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "ipx800bridge",
		Short:         "Bridge an IPX800 V3 relay controller to MQTT and HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			// A missing .env file is normal outside development.
			_ = godotenv.Load() //nolint:errcheck // optional file
		},
	}

	root.AddCommand(newServeCommand(), newTokenCommand(), newMigrateCommand(), newDiscoverCommand(), newVersionCommand())
	return root
}

func newServeCommand() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Cancels on Ctrl+C or SIGTERM for graceful shutdown.
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			cfg, err := config.Load(resolveConfigPath(flags.configPath), serveOverrides(cmd, flags)...)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return run(ctx, cfg)
		},
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "config file (default $"+configEnv+" or "+defaultConfigPath+")")
	cmd.Flags().StringVarP(&flags.host, "host", "H", "", "IPX800 host or IP address")
	cmd.Flags().IntVarP(&flags.port, "port", "p", 0, "IPX800 HTTP port")
	cmd.Flags().IntVarP(&flags.listenPort, "listen-port", "l", 0, "API and webhook listen port")
	return cmd
}

// serveOverrides turns explicitly set flags into config options.
func serveOverrides(cmd *cobra.Command, flags serveFlags) []config.Option {
	var opts []config.Option
	if cmd.Flags().Changed("host") {
		opts = append(opts, func(c *config.Config) { c.Device.Host = flags.host })
	}
	if cmd.Flags().Changed("port") {
		opts = append(opts, func(c *config.Config) { c.Device.Port = flags.port })
	}
	if cmd.Flags().Changed("listen-port") {
		opts = append(opts, func(c *config.Config) { c.API.Port = flags.listenPort })
	}
	return opts
}

func newTokenCommand() *cobra.Command {
	var flags tokenFlags

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token signed with security.jwt.secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(resolveConfigPath(flags.configPath))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			token, err := issueToken(cfg, flags)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "config file (default $"+configEnv+" or "+defaultConfigPath+")")
	cmd.Flags().StringVarP(&flags.subject, "subject", "s", "", "token subject, recorded as the command source")
	cmd.Flags().StringVarP(&flags.role, "role", "r", string(auth.RoleOperator), "role: viewer, operator or admin")
	cmd.Flags().DurationVar(&flags.ttl, "ttl", 0, "token lifetime (default security.jwt.token_ttl)")
	_ = cmd.MarkFlagRequired("subject") //nolint:errcheck // flag is defined above
	return cmd
}

func issueToken(cfg *config.Config, flags tokenFlags) (string, error) {
	if cfg.Security.JWT.Secret == "" {
		return "", fmt.Errorf("issuing token: %w", auth.ErrSecretRequired)
	}
	role := auth.Role(flags.role)
	if !auth.IsValidRole(role) {
		return "", fmt.Errorf("issuing token: %w: %q", auth.ErrInvalidRole, flags.role)
	}
	ttl := flags.ttl
	if ttl <= 0 {
		ttl = time.Duration(cfg.Security.JWT.TokenTTL) * time.Minute
	}
	token, err := auth.GenerateToken(flags.subject, role, cfg.Security.JWT.Secret, ttl)
	if err != nil {
		return "", fmt.Errorf("issuing token: %w", err)
	}
	return token, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ipx800bridge %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// resolveConfigPath picks the --config flag, then $IPX800_CONFIG, then the
// default path if it exists. An empty result loads defaults and environment only.
func resolveConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if path := os.Getenv(configEnv); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}
