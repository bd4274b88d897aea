package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	metrics "github.com/slok/go-http-metrics/metrics/prometheus"
	httpmetrics "github.com/slok/go-http-metrics/middleware"
	"github.com/slok/go-http-metrics/middleware/std"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/kiesman99/tilevas/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for rendered tiles",
	Long: `Start an HTTP server that serves rendered tiles, raw tiles and stitched images.

Endpoints:
  GET  /api/v1/health
  GET  /api/v1/tiles/{zoom}/{x}/{y}.png?scale=2
  GET  /api/v1/tiles/{zoom}/{x}/{y}.raw?source=cache
  GET  /api/v1/preload/{zoom}/{x}/{y}
  POST /api/v1/stitch
  GET  /metrics

A gRPC health service listens on the health port.

Examples:
  # Start server on default port 8080
  tilevas serve

  # Start server on custom port
  tilevas serve --port 3000

  # Serve vector tiles with a custom style on all interfaces
  tilevas serve --type vector --style style.yaml --bind 0.0.0.0`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server configuration
	serveCmd.Flags().StringP("bind", "b", "localhost", "bind address")
	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	serveCmd.Flags().Int("health-port", 8081, "gRPC health port (0 disables it)")
	serveCmd.Flags().Duration("timeout", 30*time.Second, "request timeout")

	// Bind flags to viper
	viper.BindPFlag("server.bind", serveCmd.Flags().Lookup("bind"))
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.health-port", serveCmd.Flags().Lookup("health-port"))
	viper.BindPFlag("server.timeout", serveCmd.Flags().Lookup("timeout"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	cfg := a.cfg.Server
	addr := fmt.Sprintf("%s:%d", cfg.Bind, cfg.Port)
	log := a.logger

	// Create Chi router
	r := chi.NewRouter()

	// Add middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(server.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Timeout))
	r.Use(server.CORS)

	// Create server implementation
	apiServer := server.NewServer(version, server.Options{
		Loader:   a.loader,
		Renderer: a.renderer,
		Stitcher: a.stitcher,
		Source:   a.cfg.Source.Name,
		MaxZoom:  a.cfg.Source.MaxZoom,
		Vector:   a.cfg.IsVector(),
		Timeout:  cfg.Timeout,
		Logger:   log,
	})

	// metrics middleware
	mdlw := httpmetrics.New(httpmetrics.Config{
		Recorder: metrics.NewRecorder(metrics.Config{Prefix: appName}),
	})

	// Mount API routes at /api/v1, one handler id keeps tile paths out of the labels
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(std.HandlerProvider("/api/v1", mdlw))
		apiServer.Routes(r)
	})
	r.Handle("/metrics", promhttp.Handler())

	// Legacy health endpoint (without /api/v1 prefix for backward compatibility)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		// Redirect to the API health endpoint
		http.Redirect(w, r, "/api/v1/health", http.StatusMovedPermanently)
	})

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout + 5*time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// gRPC Health Server
	healthServer := health.NewServer()
	var grpcHealthServer *grpc.Server
	if cfg.HealthPort > 0 {
		grpcHealthServer = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcHealthServer, healthServer)

		haddr := fmt.Sprintf("%s:%d", cfg.Bind, cfg.HealthPort)
		hln, err := net.Listen("tcp", haddr)
		if err != nil {
			return fmt.Errorf("gRPC health server: failed to listen: %w", err)
		}
		g.Go(func() error {
			log.Info("gRPC health server listening", zap.String("addr", haddr))
			return grpcHealthServer.Serve(hln)
		})
	}

	g.Go(func() error {
		log.Info("starting tilevas server",
			zap.String("addr", addr),
			zap.String("version", version),
			zap.String("health", fmt.Sprintf("http://%s/api/v1/health", addr)),
			zap.String("tiles", fmt.Sprintf("http://%s/api/v1/tiles/{zoom}/{x}/{y}.png", addr)))

		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	healthServer.SetServingStatus(fmt.Sprintf("grpc.health.v1.%s", appName), healthpb.HealthCheckResponse_SERVING)

	// Graceful shutdown
	g.Go(func() error {
		<-ctx.Done()
		log.Warn("shutting down server")
		healthServer.SetServingStatus(fmt.Sprintf("grpc.health.v1.%s", appName), healthpb.HealthCheckResponse_NOT_SERVING)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown error", zap.Error(err))
		}
		if grpcHealthServer != nil {
			grpcHealthServer.GracefulStop()
		}
		return nil
	})

	return g.Wait()
}
