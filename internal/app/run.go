package app

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	grpcadapter "github.com/KlistenesLima/krt-bank-sub000/internal/adapter/grpc"
	httpadapter "github.com/KlistenesLima/krt-bank-sub000/internal/adapter/http"
	"github.com/KlistenesLima/krt-bank-sub000/internal/adapter/messaging/taskbus"
	"github.com/KlistenesLima/krt-bank-sub000/internal/config"
)

// Component names accepted by ParseComponents
const (
	ComponentAPI     = "api"
	ComponentSaga    = "saga"
	ComponentWorkers = "workers"
)

// Components selects what a process runs
type Components struct {
	API     bool // gRPC intake and the ops HTTP server
	Saga    bool // Fact Log consumer groups
	Workers bool // Task Bus workers
}

// AllComponents runs everything in one process
func AllComponents() Components {
	return Components{API: true, Saga: true, Workers: true}
}

// ParseComponents reads a comma separated list such as "api,saga"
func ParseComponents(list []string) (Components, error) {
	var c Components
	for _, raw := range list {
		for _, name := range strings.Split(raw, ",") {
			switch strings.TrimSpace(strings.ToLower(name)) {
			case ComponentAPI:
				c.API = true
			case ComponentSaga:
				c.Saga = true
			case ComponentWorkers:
				c.Workers = true
			case "":
			default:
				return Components{}, fmt.Errorf("unknown component %q", name)
			}
		}
	}
	if !c.API && !c.Saga && !c.Workers {
		return Components{}, fmt.Errorf("no component selected")
	}
	return c, nil
}

// Run connects, serves the selected components and blocks until ctx is cancelled.
// On cancellation every server and consumer drains, bounded by worker.shutdown_timeout.
func Run(ctx context.Context, cfg *config.Config, components Components, logger *zap.Logger) error {
	infra, err := Connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := infra.Close(); err != nil {
			logger.Warn("failed to close infrastructure", zap.Error(err))
		}
	}()

	svc, err := NewServices(cfg, infra, logger)
	if err != nil {
		return err
	}

	var runners []taskbus.Runner
	if components.Saga {
		runners = append(runners, FactConsumers(cfg, infra.FactBroker, svc, logger)...)
	}
	if components.Workers {
		runners = append(runners, TaskWorkers(cfg, infra.TaskBroker, svc, logger)...)
	}
	if components.API {
		api, err := newAPI(cfg, infra, svc, logger)
		if err != nil {
			return err
		}
		runners = append(runners, api...)
	}

	logger.Info("payments service started",
		zap.Bool("api", components.API),
		zap.Bool("saga", components.Saga),
		zap.Bool("workers", components.Workers),
	)

	done := make(chan struct{})
	go func() {
		taskbus.RunAll(ctx, logger, cfg.Worker.RestartBackoff, runners...)
		close(done)
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		logger.Warn("shutdown timed out", zap.Duration("timeout", cfg.Worker.ShutdownTimeout))
	}
	return nil
}

func newAPI(cfg *config.Config, infra *Infra, svc *Services, logger *zap.Logger) ([]taskbus.Runner, error) {
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth.jwt_secret is required to serve the api")
	}

	grpcServer, healthServer := grpcadapter.NewGRPCServer(grpcadapter.NewServer(svc.Intake), grpcadapter.Options{
		JWTSecret: []byte(cfg.Auth.JWTSecret),
		Issuer:    cfg.Auth.Issuer,
		Logger:    logger.Named("grpc"),
	})

	ops := httpadapter.NewServer(svc.Intake, map[string]httpadapter.Check{
		"database": infra.DB.Ready,
	}, logger.Named("http"))

	return []taskbus.Runner{
		&grpcRunner{addr: cfg.GRPC.Addr, server: grpcServer, health: healthServer, logger: logger},
		runnerFunc(func(ctx context.Context) error { return ops.Run(ctx, cfg.HTTP.Addr) }),
	}, nil
}

type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }

type grpcRunner struct {
	addr   string
	server *grpc.Server
	health *health.Server
	logger *zap.Logger
}

func (r *grpcRunner) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", r.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", r.addr, err)
	}

	go func() {
		<-ctx.Done()
		r.health.Shutdown()
		r.server.GracefulStop()
	}()

	r.logger.Info("gRPC server listening", zap.String("addr", r.addr))
	if err := r.server.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}
	r.logger.Info("gRPC server stopped")
	return nil
}
