package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ptparser/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve [extract.osm.pbf]",
	Short: "Serve routes over HTTP",
	Long: `Load the extract once and serve routes:

  GET /health
  GET /api/routes?gap=&format=json|geojson&mode=
  GET /api/routes/{id}?gap=`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		p, err := newParser(ctx, args)
		if err != nil {
			return err
		}

		handler := api.NewRouteHandler(state.logger, p, state.cfg.Gap)
		srv := &http.Server{
			Addr:              state.cfg.HTTPAddr,
			Handler:           api.NewRouter(state.logger, handler, state.cfg.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errc := make(chan error, 1)
		go func() {
			state.logger.Info("api listening", zap.String("addr", srv.Addr), zap.Int("relations", p.Len()))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
			close(errc)
		}()

		select {
		case err := <-errc:
			return err
		case <-ctx.Done():
		}

		// Shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		state.logger.Info("shutdown complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
