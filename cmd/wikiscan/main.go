package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/reshetovitsme/wikiscan/internal/di"
	pipelineService "github.com/reshetovitsme/wikiscan/internal/modules/pipeline/service"
	"github.com/reshetovitsme/wikiscan/internal/shared/config"
	apperrors "github.com/reshetovitsme/wikiscan/internal/shared/errors"
	"github.com/reshetovitsme/wikiscan/internal/shared/prompt"
	httpServer "github.com/reshetovitsme/wikiscan/internal/transport/http"
	"github.com/reshetovitsme/wikiscan/internal/transport/telegram"
	"github.com/samber/do/v2"
	slogmulti "github.com/samber/slog-multi"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "wikiscan <filter>",
		Short: "Scan live wiki edits for regexes",
		Long: `Subscribe to the wiki's recent changes stream and check the text of every
edit that passes the named filter against its regexes. Matches are logged
according to log_level:

  0  log nothing
  1  log revision IDs
  2  also log flagged changes
  3  also archive the content of flagged changes`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(verbose)
			err := run(cmd.Context(), di.Options{
				ConfigPath: configPath,
				FilterName: args[0],
				Verbose:    verbose,
				Prompter:   prompt.NewTerminal(os.Stdin, os.Stdout),
			})
			if err != nil {
				if apperrors.IsConfigError(err) {
					slog.Error("Invalid configuration", "error", err)
				} else {
					slog.Error("Scanner stopped", "error", err)
				}
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (default: config.yaml|yml|json|toml in the working directory)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print all changes, even ones that don't match")

	return cmd
}

func setupLogging(verbose bool) {
	// Setup structured logging with multiple handlers using slog-multi
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	textHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	jsonHandler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	})

	multiHandler := slogmulti.Fanout(textHandler, jsonHandler)
	slog.SetDefault(slog.New(multiHandler))
}

func run(ctx context.Context, opts di.Options) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Setup dependency injection
	injector, err := di.Setup(opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := di.Shutdown(injector); err != nil {
			slog.Error("Error during shutdown", "error", err)
		}
	}()

	cfg, err := do.Invoke[*config.Config](injector)
	if err != nil {
		return err
	}
	pipeline, err := do.Invoke[*pipelineService.Pipeline](injector)
	if err != nil {
		return err
	}

	notifier, err := do.Invoke[*telegram.Notifier](injector)
	if err != nil {
		return err
	}
	if notifier != nil {
		handler := do.MustInvoke[*telegram.Handler](injector)
		go notifier.Listen(ctx, handler)
	}

	if cfg.HTTPPort != "" {
		server := do.MustInvoke[*httpServer.Server](injector)
		go func() {
			if err := server.Start(); err != nil {
				slog.Error("Failed to start status server", "error", err)
			}
		}()
	}

	err = pipeline.Run(ctx)
	slog.Info("Shutting down...")
	return err
}
