package di

import (
	"context"
	"log/slog"
	"time"

	archiveRepo "github.com/reshetovitsme/wikiscan/internal/modules/archive/repository"
	feedService "github.com/reshetovitsme/wikiscan/internal/modules/feed/service"
	filterDomain "github.com/reshetovitsme/wikiscan/internal/modules/filter/domain"
	filterService "github.com/reshetovitsme/wikiscan/internal/modules/filter/service"
	flagRepo "github.com/reshetovitsme/wikiscan/internal/modules/flag/repository"
	ledgerRepo "github.com/reshetovitsme/wikiscan/internal/modules/ledger/repository"
	pipelineService "github.com/reshetovitsme/wikiscan/internal/modules/pipeline/service"
	"github.com/reshetovitsme/wikiscan/internal/shared/config"
	"github.com/reshetovitsme/wikiscan/internal/shared/prompt"
	"github.com/reshetovitsme/wikiscan/internal/transport/eventstream"
	httpServer "github.com/reshetovitsme/wikiscan/internal/transport/http"
	"github.com/reshetovitsme/wikiscan/internal/transport/mediawiki"
	"github.com/reshetovitsme/wikiscan/internal/transport/telegram"
	"github.com/samber/do/v2"
	"github.com/samber/oops"
)

// Options are the command-line inputs of a run
type Options struct {
	ConfigPath string
	FilterName string
	Verbose    bool
	Prompter   prompt.Prompter
}

// Setup initializes the dependency injection container
func Setup(opts Options) (do.Injector, error) {
	injector := do.New()

	// Register Config
	do.Provide(injector, func(i do.Injector) (*config.Config, error) {
		cfg, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, oops.With("context", "failed to load config").Wrap(err)
		}
		return cfg, nil
	})

	// Register the selected filter rule
	do.Provide(injector, func(i do.Injector) (*filterDomain.Rule, error) {
		cfg := do.MustInvoke[*config.Config](i)
		fc, err := cfg.Filter(opts.FilterName)
		if err != nil {
			return nil, err
		}
		return filterDomain.NewRule(fc, cfg.LogLevel)
	})

	// Register Repositories
	do.Provide(injector, func(i do.Injector) (*flagRepo.FileStorage, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return flagRepo.NewFileStorage(cfg.FlaggedChangesPath()), nil
	})
	do.Provide(injector, func(i do.Injector) (*ledgerRepo.FileLedger, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return ledgerRepo.NewFileLedger(cfg.RevidLogPath()), nil
	})
	do.Provide(injector, func(i do.Injector) (*archiveRepo.FileArchiver, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return archiveRepo.NewFileArchiver(cfg.ChangesPath()), nil
	})

	// Register Lookup Client
	do.Provide(injector, func(i do.Injector) (*mediawiki.Client, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return mediawiki.New(cfg.UserAgent, cfg.RequestTimeout()), nil
	})

	// Register Evaluator
	do.Provide(injector, func(i do.Injector) (*filterService.Evaluator, error) {
		rule := do.MustInvoke[*filterDomain.Rule](i)
		lookup := do.MustInvoke[*mediawiki.Client](i)
		flags := do.MustInvoke[*flagRepo.FileStorage](i)
		return filterService.New(rule, lookup, flags), nil
	})

	// Register Change Source
	do.Provide(injector, func(i do.Injector) (*eventstream.Client, error) {
		cfg := do.MustInvoke[*config.Config](i)
		rule := do.MustInvoke[*filterDomain.Rule](i)
		return eventstream.New(eventstream.Options{
			BaseURL:             cfg.Stream.URL,
			Streams:             rule.Streams,
			UserAgent:           cfg.UserAgent,
			Accept:              rule.StreamFilter.Match,
			ReadTimeout:         time.Duration(cfg.Stream.ReadTimeout) * time.Second,
			MaxReconnectElapsed: time.Duration(cfg.Stream.MaxReconnectElapsed) * time.Second,
		}), nil
	})

	// Register Notifier; nil when Telegram is not configured
	do.Provide(injector, func(i do.Injector) (*telegram.Notifier, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if cfg.TelegramBotToken == "" || cfg.TelegramChatID == 0 {
			return nil, nil
		}
		return telegram.New(cfg.TelegramBotToken, cfg.TelegramChatID)
	})

	// Register Pipeline
	do.Provide(injector, func(i do.Injector) (*pipelineService.Pipeline, error) {
		deps := pipelineService.Deps{
			Config:    do.MustInvoke[*config.Config](i),
			Source:    do.MustInvoke[*eventstream.Client](i),
			Evaluator: do.MustInvoke[*filterService.Evaluator](i),
			Ledger:    do.MustInvoke[*ledgerRepo.FileLedger](i),
			Flags:     do.MustInvoke[*flagRepo.FileStorage](i),
			Archive:   do.MustInvoke[*archiveRepo.FileArchiver](i),
			Prompter:  opts.Prompter,
			Logger:    slog.Default(),
		}
		if notifier := do.MustInvoke[*telegram.Notifier](i); notifier != nil {
			deps.Notifier = notifier
		}
		return pipelineService.New(deps, opts.Verbose), nil
	})

	// Register Feed Service
	do.Provide(injector, func(i do.Injector) (*feedService.Service, error) {
		flags := do.MustInvoke[*flagRepo.FileStorage](i)
		return feedService.New(flags), nil
	})

	// Register Telegram command handler
	do.Provide(injector, func(i do.Injector) (*telegram.Handler, error) {
		cfg := do.MustInvoke[*config.Config](i)
		rule := do.MustInvoke[*filterDomain.Rule](i)
		pipeline := do.MustInvoke[*pipelineService.Pipeline](i)
		flags := do.MustInvoke[*flagRepo.FileStorage](i)
		return telegram.NewHandler(cfg.TelegramChatID, rule.Name, pipeline, flags), nil
	})

	// Register HTTP Server
	do.Provide(injector, func(i do.Injector) (*httpServer.Server, error) {
		cfg := do.MustInvoke[*config.Config](i)
		feeds := do.MustInvoke[*feedService.Service](i)
		pipeline := do.MustInvoke[*pipelineService.Pipeline](i)
		rule := do.MustInvoke[*filterDomain.Rule](i)
		server := httpServer.New(cfg, feeds, pipeline, rule.Name)
		server.SetLogger(slog.Default())
		return server, nil
	})

	return injector, nil
}

// Shutdown gracefully shuts down all services
func Shutdown(injector do.Injector) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Shutdown HTTP server if it exists
	if server, err := do.Invoke[*httpServer.Server](injector); err == nil && server != nil {
		if err := server.Shutdown(ctx); err != nil {
			return oops.With("context", "failed to stop status server").Wrap(err)
		}
	}

	// Close the event stream if it exists
	if source, err := do.Invoke[*eventstream.Client](injector); err == nil && source != nil {
		source.Close()
	}

	return nil
}
