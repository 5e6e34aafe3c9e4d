package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lukaszraczylo/sessionbridge/internal/logger"
	"github.com/lukaszraczylo/sessionbridge/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway in front of the upstream application",
	Long: `Run the session gateway. Every request is authenticated and checked
against the route table before it is proxied to the upstream. The session
endpoints are served under /api/auth, health under /healthz and /readyz and
Prometheus metrics under the configured metrics path.

The gateway refuses to start when any route listed under routes.known has no
classification in the route table.

Example:
  sessionbridge serve --config /etc/sessionbridge/config.yaml
  SESSIONBRIDGE_UPSTREAM_URL=http://localhost:3000 sessionbridge serve --addr :9000`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	log := logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

