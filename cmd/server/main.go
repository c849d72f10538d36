package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	grpcHandler "github.com/wekeepgrowing/entitlement-service/internal/adapter/handler/grpc"
	httpHandler "github.com/wekeepgrowing/entitlement-service/internal/adapter/handler/http"
	"github.com/wekeepgrowing/entitlement-service/internal/app"
	"github.com/wekeepgrowing/entitlement-service/internal/config"
	grpcServer "github.com/wekeepgrowing/entitlement-service/internal/infrastructure/grpc"
	httpServer "github.com/wekeepgrowing/entitlement-service/internal/infrastructure/http"
	"github.com/wekeepgrowing/entitlement-service/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

func main() {
	// Used until the configured logger exists
	bootLogger := logger.DefaultZapLogger()

	// .env is optional
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		bootLogger.Warn("Failed to load .env", zap.Error(err))
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		bootLogger.Fatal("Failed to load config", zap.Error(err))
	}

	// Initialize logger
	zapLogger, err := logger.NewZapLogger(cfg.Log)
	if err != nil {
		bootLogger.Fatal("Failed to initialize logger", zap.Error(err))
	}
	_ = bootLogger.Sync()
	defer zapLogger.Sync()
	zapLogger = zapLogger.With(
		zap.String("service", cfg.Service.Name),
		zap.String("environment", cfg.Service.Environment),
		zap.String("version", cfg.Service.Version))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, zapLogger, app.Options{})
	if err != nil {
		zapLogger.Fatal("Failed to initialize application", zap.Error(err))
	}
	defer a.Close()

	// Initialize servers
	httpSrv := httpServer.NewServer(cfg, zapLogger, httpServer.Handlers{
		Entitlement:  httpHandler.NewEntitlementHandler(zapLogger, a.Service, a.Gate, a.Catalog),
		Subscription: httpHandler.NewSubscriptionHandler(zapLogger, a.Service, a.Gate, a.Catalog),
		Webhook:      httpHandler.NewWebhookHandler(zapLogger, a.Ingestor),
		Plans:        httpHandler.NewPlansHandler(zapLogger, a.Catalog),
	})

	var grpcSrv *grpcServer.Server
	if cfg.Server.GRPC.Enabled {
		grpcSrv = grpcServer.NewServer(cfg, zapLogger)
		grpcSrv.RegisterService(grpcHandler.ServiceName, func(server *grpc.Server) {
			grpcHandler.RegisterAccessGateServer(server, grpcHandler.NewAccessGateHandler(a.Gate, a.Service, a.Catalog, zapLogger))
		})
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(httpSrv.Start)
	if grpcSrv != nil {
		g.Go(grpcSrv.Start)
	}
	g.Go(func() error {
		return a.Sweeper.Run(gctx)
	})

	// Shut the servers down on a signal or when any of them fails
	g.Go(func() error {
		<-gctx.Done()
		zapLogger.Info("Shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.HTTP.ShutdownTimeout)
		defer cancel()

		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			zapLogger.Error("Failed to shutdown HTTP server", zap.Error(err))
		}
		if grpcSrv != nil {
			if err := grpcSrv.Shutdown(shutdownCtx); err != nil {
				zapLogger.Error("Failed to shutdown gRPC server", zap.Error(err))
			}
		}
		return nil
	})

	zapLogger.Info("Entitlement service started",
		zap.String("http", cfg.Server.HTTP.Address()),
		zap.Bool("grpc", cfg.Server.GRPC.Enabled),
		zap.Duration("sweeper_interval", cfg.Sweeper.Interval))

	if err := g.Wait(); err != nil {
		zapLogger.Error("Server exited with error", zap.Error(err))
		return
	}
	zapLogger.Info("Servers stopped")
}
