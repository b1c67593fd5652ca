// Package app wires the primecount service: configuration, logging,
// tracing, the shared store, the broker, the orchestrator and the HTTP API.
package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/agbru/primecount/internal/config"
	apperrors "github.com/agbru/primecount/internal/errors"
	"github.com/agbru/primecount/internal/logging"
	"github.com/agbru/primecount/internal/server"
	"github.com/agbru/primecount/internal/telemetry"
)

// Application represents the primecount service instance.
type Application struct {
	Config    config.AppConfig
	ErrWriter io.Writer
}

// New creates an Application by parsing command-line arguments. args[0] is
// the program name.
func New(args []string, errWriter io.Writer) (*Application, error) {
	programName := "primecount"
	var cmdArgs []string
	if len(args) > 0 {
		programName = args[0]
		cmdArgs = args[1:]
	}

	cfg, err := config.ParseConfig(programName, cmdArgs, errWriter)
	if err != nil {
		return nil, err
	}
	return &Application{Config: cfg, ErrWriter: errWriter}, nil
}

// Run starts the configured mode and blocks until ctx is canceled or a
// signal arrives. It returns a process exit code.
func (a *Application) Run(ctx context.Context) int {
	ctx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	logger := logging.NewServiceLogger(a.ErrWriter, "primecount", a.Config.LogLevel, a.Config.LogFormat)

	shutdownTracing, err := telemetry.Init("primecount", a.Config.Tracing, a.ErrWriter)
	if err != nil {
		logger.Error("tracing setup failed", err)
		return apperrors.ExitErrorConfig
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("tracing shutdown failed", err)
		}
	}()

	svc, err := buildServices(ctx, a.Config, logger)
	if err != nil {
		logger.Error("startup failed", err, logging.String("mode", a.Config.Mode))
		return apperrors.ExitErrorGeneric
	}
	defer svc.Close()

	logger.Info("primecount starting",
		logging.String("mode", a.Config.Mode),
		logging.String("version", Version),
		logging.Int("concurrency", svc.broker.Config().Concurrency))

	if err := a.serve(ctx, svc, logger); err != nil {
		logger.Error("primecount stopped", err)
		return apperrors.ExitErrorGeneric
	}
	logger.Info("primecount stopped")
	return apperrors.ExitSuccess
}

// serve runs the worker pool and/or the API until ctx ends.
func (a *Application) serve(ctx context.Context, svc *services, logger logging.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	if a.Config.Mode != config.ModeAPI {
		g.Go(func() error { return svc.broker.Run(ctx) })
	}
	if a.Config.Mode != config.ModeWorker {
		api := server.New(a.Config.Addr, svc.orch, svc.broker,
			server.WithLogger(logger),
			server.WithMetrics(svc.metrics),
			server.WithSecurity(securityConfig(a.Config)),
			server.WithVersion(Version))
		g.Go(func() error { return api.ListenAndServe(ctx) })
	}
	if err := g.Wait(); err != nil && !apperrors.IsContextError(err) {
		return err
	}
	return nil
}

func securityConfig(cfg config.AppConfig) server.SecurityConfig {
	sec := server.DefaultSecurityConfig()
	sec.EnableCORS = cfg.EnableCORS
	sec.AllowedOrigins = cfg.AllowedOrigins
	return sec
}

// IsHelpError reports whether err is a --help request.
func IsHelpError(err error) bool {
	return errors.Is(err, flag.ErrHelp)
}

// ExitCodeForParseError maps a configuration parse error to an exit code.
func ExitCodeForParseError(err error) int {
	if IsHelpError(err) {
		return apperrors.ExitSuccess
	}
	return apperrors.ExitErrorConfig
}

func fprintErr(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)
}
