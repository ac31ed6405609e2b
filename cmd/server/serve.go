package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/arencloud/depot/internal/api"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if a.cfg.Env != "dev" {
				gin.SetMode(gin.ReleaseMode)
			}
			r := api.Router(api.Deps{
				Config:     a.cfg,
				Logger:     a.logger,
				Store:      a.store,
				Provider:   a.provider,
				Runner:     a.runner,
				Reconciler: a.reconciler,
				Teardown:   a.teardown,
				Commands:   a.commands,
			})

			srv := &http.Server{
				Addr:              ":" + a.cfg.HttpPort,
				Handler:           r,
				ReadHeaderTimeout: 15 * time.Second,
				ReadTimeout:       0, // deploy and teardown streams run for minutes
				WriteTimeout:      0,
				MaxHeaderBytes:    1 << 20, // 1MB headers
			}
			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("server starting", "addr", srv.Addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-cmd.Context().Done():
			}
			a.logger.Info("server shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}
}
