/*
Copyright 2024 Shelfwise Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/gin-gonic/gin"
	"github.com/shelfwise/shelfwise/api"
	"github.com/shelfwise/shelfwise/config"
	trace "github.com/shelfwise/shelfwise/internal/traces"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// serveTLS runs the HTTPS server with certificates managed by CertMagic. Without a
// domain it falls back to localhost.
func serveTLS(ctx context.Context, r *gin.Engine, conf config.ServerConfig) error {
	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = conf.Email
	cfg := certmagic.NewDefault()
	cfg.Storage = &certmagic.FileStorage{Path: "certmagic"}

	domains := []string{conf.Domain}
	if conf.Domain == "" {
		logrus.Warn("no domain specified, defaulting to localhost")
		domains = []string{"localhost"}
	}
	if err := cfg.ManageSync(ctx, domains); err != nil {
		return err
	}

	server := &http.Server{
		Addr:      ":" + conf.Port,
		Handler:   r,
		TLSConfig: cfg.TLSConfig(),
	}
	logrus.Infof("starting HTTPS server on %s", conf.Port)
	return runUntilDone(ctx, server, func() error { return server.ListenAndServeTLS("", "") })
}

// runUntilDone serves until ctx is cancelled, then drains in-flight requests.
func runUntilDone(ctx context.Context, server *http.Server, serve func() error) error {
	errCh := make(chan error, 1)
	go func() { errCh <- serve() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func startServer(ctx context.Context, router *gin.Engine, cfg config.ServerConfig) error {
	if cfg.SSL {
		return serveTLS(ctx, router, cfg)
	}
	server := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	logrus.Infof("starting server on http://localhost:%s", cfg.Port)
	return runUntilDone(ctx, server, server.ListenAndServe)
}

func initializeTracing(ctx context.Context, cfg *config.Configuration) (func(context.Context) error, error) {
	if !cfg.EnableTelemetry {
		return func(context.Context) error { return nil }, nil
	}
	shutdown, err := trace.SetupOTelSDK(ctx, cfg.ProjectName)
	if err != nil {
		return nil, fmt.Errorf("error setting up OTel SDK: %v", err)
	}
	return shutdown, nil
}

// serverCommands starts the HTTP API. The local rate limit store is swept on the
// configured interval for as long as the server runs.
func serverCommands(s *shelfwiseInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start shelfwise server",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdown, err := initializeTracing(ctx, s.cnf)
			if err != nil {
				logrus.Fatal(err)
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logrus.WithError(err).Error("error during tracer shutdown")
				}
			}()

			sweep := time.Duration(*s.cnf.RateLimit.CleanupIntervalSec) * time.Second
			s.shelfwise.Limiter().Local().Start(ctx, sweep)

			a := api.NewAPI(s.shelfwise)
			if a == nil {
				logrus.Fatal("configuration not loaded")
			}
			if err := startServer(ctx, a.Router(), s.cnf.Server); err != nil {
				logrus.Fatal(err)
			}
		},
	}
	return cmd
}
