package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"talkpip/api"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Accept talk batches over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
				return err
			}
			taskManager, err := newManager(cfg)
			if err != nil {
				return err
			}

			gin.SetMode(gin.ReleaseMode)
			router := api.SetupRouter(taskManager, cfg)
			srv := &http.Server{
				Addr:    ":" + cfg.Port,
				Handler: router,
			}

			// Create a context that can be canceled
			sigCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			taskManager.Start(sigCtx)

			serveErr := make(chan error, 1)
			go func() {
				log.Info().Str("port", cfg.Port).Msg("server starting")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
			}()

			select {
			case <-sigCtx.Done():
			case err := <-serveErr:
				return err
			}

			// Restore default behavior on the interrupt signal and notify user of shutdown.
			stop()
			log.Info().Msg("shutting down gracefully, press Ctrl+C again to force")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("server forced to shutdown")
			}
			taskManager.Drain()

			log.Info().Msg("server exiting")
			return nil
		},
	}
}
