package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/agbru/primecount/internal/cli"
	"github.com/agbru/primecount/internal/client"
	"github.com/agbru/primecount/internal/config"
	apperrors "github.com/agbru/primecount/internal/errors"
	"github.com/agbru/primecount/internal/orchestration"
	"github.com/agbru/primecount/internal/tui"
	"github.com/agbru/primecount/internal/ui"
)

// RunClient executes one primectl command and returns the exit code. args[0]
// is the program name.
func RunClient(ctx context.Context, args []string, out, errOut io.Writer) int {
	programName := "primectl"
	var cmdArgs []string
	if len(args) > 0 {
		programName = args[0]
		cmdArgs = args[1:]
	}
	if HasVersionFlag(cmdArgs) {
		PrintVersion(out)
		return apperrors.ExitSuccess
	}

	cfg, err := config.ParseClientConfig(programName, cmdArgs, errOut)
	if err != nil {
		return ExitCodeForParseError(err)
	}
	ui.InitTheme(cfg.NoColor, cfg.Theme)

	ctx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	c := client.New(cfg.Server)
	code, err := dispatch(ctx, cfg, c, out)
	if err != nil {
		fprintErr(errOut, err)
		return clientExitCode(err)
	}
	return code
}

func dispatch(ctx context.Context, cfg config.ClientConfig, c *client.Client, out io.Writer) (int, error) {
	switch cfg.Command {
	case config.CommandSubmit:
		sub, err := c.Submit(ctx, cfg.N, cfg.Chunks)
		if err != nil {
			return 0, err
		}
		if !cfg.Wait {
			if cfg.JSON {
				return apperrors.ExitSuccess, cli.DisplayJSON(out, sub)
			}
			cli.DisplaySubmission(out, sub.JobID)
			return apperrors.ExitSuccess, nil
		}
		if !cfg.JSON && !cfg.TUI {
			cli.DisplaySubmission(out, sub.JobID)
		}
		return watch(ctx, cfg, c, sub.JobID, out)

	case config.CommandStatus:
		st, err := c.Status(ctx, cfg.JobID())
		if err != nil {
			return 0, err
		}
		if cfg.JSON {
			return apperrors.ExitSuccess, cli.DisplayJSON(out, st)
		}
		cli.DisplayStatus(out, st)
		return apperrors.ExitSuccess, nil

	case config.CommandWatch:
		return watch(ctx, cfg, c, cfg.JobID(), out)

	case config.CommandHealth:
		h, err := c.Health(ctx)
		if err != nil {
			return 0, err
		}
		if cfg.JSON {
			return apperrors.ExitSuccess, cli.DisplayJSON(out, h)
		}
		fmt.Fprintf(out, "Status:  %s\nStore:   %s\nWorkers: %d\nVersion: %s\n", h.Status, h.Store, h.Workers, h.Version)
		if h.Status != "healthy" {
			return apperrors.ExitErrorGeneric, nil
		}
		return apperrors.ExitSuccess, nil

	case config.CommandCompletion:
		return apperrors.ExitSuccess, cli.GenerateCompletion(out, cfg.Args[0])
	}
	return 0, apperrors.NewConfigError("unknown command %q", cfg.Command)
}

// watch follows jobID until it finishes or cfg.Timeout elapses.
func watch(ctx context.Context, cfg config.ClientConfig, c *client.Client, jobID string, out io.Writer) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	var (
		st  orchestration.JobStatus
		err error
	)
	switch {
	case cfg.TUI:
		st, err = tui.Run(ctx, c, jobID, cfg.Interval, Version)
	case cfg.JSON:
		st, err = c.Watch(ctx, jobID, cfg.Interval, nil)
		if err == nil {
			err = cli.DisplayJSON(out, st)
		}
	default:
		st, err = cli.DisplayWatch(ctx, c, jobID, cfg.Interval, out)
	}
	if err != nil {
		return 0, err
	}
	return cli.ExitCode(st), nil
}

// clientExitCode maps a primectl failure to an exit code.
func clientExitCode(err error) int {
	var apiErr *client.APIError
	var cfgErr apperrors.ConfigError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.ExitErrorTimeout
	case errors.Is(err, context.Canceled):
		return apperrors.ExitErrorCanceled
	case errors.As(err, &cfgErr):
		return apperrors.ExitErrorConfig
	case errors.As(err, &apiErr) && apiErr.StatusCode == 422:
		return apperrors.ExitErrorConfig
	default:
		return apperrors.ExitErrorGeneric
	}
}
