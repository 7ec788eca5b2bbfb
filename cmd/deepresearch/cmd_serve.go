package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/auth"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/httpapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the research HTTP API with SSE and WebSocket streaming",
	RunE:  serve,
}

func serve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	stopWatch := followConfig()
	defer stopWatch()

	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	var jwt *auth.JWTManager
	if a.cfg.HTTP.JWTSecret != "" {
		jwt = auth.NewJWTManager(a.cfg.HTTP.JWTSecret, a.cfg.HTTP.JWTIssuer)
	} else {
		logger.Warn("Authentication disabled: http.jwt_secret is empty")
	}

	srv := &http.Server{
		Addr: a.cfg.HTTP.Addr,
		Handler: httpapi.NewRouter(httpapi.RouterOptions{
			Service: a.service,
			Streams: a.streams,
			Health:  a.health,
			JWT:     jwt,
			Logger:  logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("Shutting down HTTP server")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
