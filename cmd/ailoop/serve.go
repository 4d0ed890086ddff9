package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/alfredjeanlab/ailoop/internal/events"
	"github.com/alfredjeanlab/ailoop/internal/export"
	"github.com/alfredjeanlab/ailoop/internal/server"
	"github.com/alfredjeanlab/ailoop/internal/store"
	"github.com/alfredjeanlab/ailoop/internal/store/postgres"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the broker (HTTP, WebSocket, SSE and gRPC)",
	GroupID: "system",
	// Override PersistentPreRunE so we don't create a client connection.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return configErr },
	RunE: func(cmd *cobra.Command, args []string) error {
		if v, _ := cmd.Flags().GetString("http-addr"); v != "" {
			cfg.HTTPAddr = v
		}
		if v, _ := cmd.Flags().GetString("grpc-addr"); v != "" {
			cfg.GRPCAddr = v
		}
		logger := newLogger(cfg.LogLevel)
		if cfg.Path != "" {
			logger.Info("loaded config file", "path", cfg.Path)
		}

		// Audit log: Postgres when configured, otherwise in memory.
		var st store.Store
		if cfg.DatabaseURL != "" {
			pg, err := postgres.New(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			st = pg
			logger.Info("audit log in postgres")
		} else {
			st = store.NewMemory(0)
		}

		// Create event publisher.
		var publisher events.Publisher
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				st.Close()
				return err
			}
			publisher = pub
			logger.Info("events enabled", "nats_url", cfg.NATSURL)
		} else {
			publisher = &events.NoopPublisher{}
			logger.Info("events disabled (AILOOP_NATS_URL not set)")
		}

		srv := server.New(server.Options{
			HistorySize:     cfg.HistorySize,
			ViewerQueueSize: cfg.ViewerQueueSize,
			MaxConnections:  cfg.MaxConnections,
			DefaultTimeout:  cfg.DefaultTimeout,
			DefaultChannel:  cfg.DefaultChannel,
			Publisher:       publisher,
			Store:           st,
			Logger:          logger,
		})

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		g, gctx := errgroup.WithContext(ctx)

		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           srv.NewHTTPHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
		if err != nil {
			publisher.Close()
			st.Close()
			return err
		}
		g.Go(func() error {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server: %w", err)
			}
			return nil
		})

		if cfg.GRPCEnabled() {
			grpcServer := server.NewGRPCServer(srv)
			lis, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				httpServer.Close()
				publisher.Close()
				st.Close()
				return err
			}
			g.Go(func() error {
				logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
				return grpcServer.Serve(lis)
			})
			g.Go(func() error {
				<-gctx.Done()
				grpcServer.GracefulStop()
				logger.Info("gRPC server stopped")
				return nil
			})
		}

		// Replies published on NATS answer pending requests.
		if cfg.NATSURL != "" {
			sub, err := events.NewNATSSubscriber(cfg.NATSURL)
			if err != nil {
				logger.Error("failed to create replies subscriber", "err", err)
			} else {
				g.Go(func() error {
					defer sub.Close()
					logger.Info("replies subscriber started")
					return srv.ConsumeReplies(gctx, sub)
				})
			}
		}

		scheduler := startExport(gctx, srv, logger)

		g.Go(func() error {
			<-gctx.Done()
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP server shutdown error", "err", err)
			}
			logger.Info("HTTP server stopped")
			return nil
		})

		logger.Info("ailoop broker started",
			"http_addr", cfg.HTTPAddr,
			"grpc_addr", cfg.GRPCAddr,
			"default_channel", cfg.DefaultChannel,
		)
		err = g.Wait()

		if scheduler != nil {
			scheduler.Stop()
			logger.Info("export scheduler stopped")
		}
		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
		if err := st.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}
		logger.Info("shutdown complete")
		return err
	},
}

func init() {
	serveCmd.Flags().String("http-addr", "", "HTTP listen address (overrides AILOOP_HTTP_ADDR)")
	serveCmd.Flags().String("grpc-addr", "", `gRPC listen address, "off" to disable (overrides AILOOP_GRPC_ADDR)`)
}

// startExport starts the snapshot scheduler when an interval and at least one
// destination are configured.
func startExport(ctx context.Context, srv *server.Server, logger *slog.Logger) *export.Scheduler {
	if !cfg.ExportEnabled() {
		return nil
	}
	var dests []export.Destination
	if cfg.ExportS3Bucket != "" {
		s3Dest, err := export.NewS3Destination(ctx, cfg.ExportS3Bucket, cfg.ExportS3Key, cfg.ExportS3Region, cfg.ExportS3Endpoint)
		if err != nil {
			logger.Error("failed to create S3 export destination", "err", err)
		} else {
			dests = append(dests, s3Dest)
			logger.Info("export S3 destination enabled", "bucket", cfg.ExportS3Bucket, "key", cfg.ExportS3Key)
		}
	}
	if cfg.ExportFile != "" {
		dests = append(dests, export.NewFileDestination(cfg.ExportFile))
		logger.Info("export file destination enabled", "path", cfg.ExportFile)
	}
	if len(dests) == 0 {
		return nil
	}
	scheduler := export.NewScheduler(srv.Snapshot(), dests, cfg.ExportInterval, logger)
	scheduler.Start()
	logger.Info("export scheduler started", "interval", cfg.ExportInterval)
	return scheduler
}

// newLogger returns a text logger on stderr at the named level. Unknown
// levels fall back to info.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
