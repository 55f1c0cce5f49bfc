package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	archiveRepo "github.com/reshetovitsme/wikiscan/internal/modules/archive/repository"
	changeDomain "github.com/reshetovitsme/wikiscan/internal/modules/change/domain"
	filterDomain "github.com/reshetovitsme/wikiscan/internal/modules/filter/domain"
	filterService "github.com/reshetovitsme/wikiscan/internal/modules/filter/service"
	flagDomain "github.com/reshetovitsme/wikiscan/internal/modules/flag/domain"
	flagRepo "github.com/reshetovitsme/wikiscan/internal/modules/flag/repository"
	ledgerRepo "github.com/reshetovitsme/wikiscan/internal/modules/ledger/repository"
	"github.com/reshetovitsme/wikiscan/internal/shared/config"
	apperrors "github.com/reshetovitsme/wikiscan/internal/shared/errors"
	"github.com/reshetovitsme/wikiscan/internal/shared/prompt"
	"github.com/samber/lo"
	"github.com/samber/oops"
)

const resetQuestion = "RESET ALL DATA? (y/n)  (If this is your first time running the scanner at log level 2 or higher, say 'y'.)"

// ChangeSource yields changes from the live stream
type ChangeSource interface {
	Next(ctx context.Context) (changeDomain.Change, error)
	// Reset drops the subscription; the next call to Next re-subscribes
	Reset()
}

// Evaluator decides whether a change matches
type Evaluator interface {
	Rule() *filterDomain.Rule
	Evaluate(ctx context.Context, c *changeDomain.Change) (filterService.Result, error)
}

// Notifier is told about every logged match
type Notifier interface {
	Notify(ctx context.Context, c *changeDomain.Change, message string) error
}

// Deps are the collaborators of a Pipeline. Ledger, Flags and Archive are
// only used when the logging tier enables them; Notifier is optional.
type Deps struct {
	Config    *config.Config
	Source    ChangeSource
	Evaluator Evaluator
	Ledger    ledgerRepo.Repository
	Flags     flagRepo.Repository
	Archive   archiveRepo.Repository
	Prompter  prompt.Prompter
	Notifier  Notifier
	Logger    *slog.Logger
}

// Pipeline drives changes from the source through the evaluator into the
// durable logs, one change at a time
type Pipeline struct {
	cfg       *config.Config
	source    ChangeSource
	evaluator Evaluator
	ledger    ledgerRepo.Repository
	flags     flagRepo.Repository
	archive   archiveRepo.Repository
	prompter  prompt.Prompter
	notifier  Notifier
	logger    *slog.Logger
	verbose   bool
	state     atomic.Int32
	matches   atomic.Int64
	processed atomic.Int64
}

// New creates a pipeline. verbose also reports changes that do not match.
func New(deps Deps, verbose bool) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		cfg:       deps.Config,
		source:    deps.Source,
		evaluator: deps.Evaluator,
		ledger:    deps.Ledger,
		flags:     deps.Flags,
		archive:   deps.Archive,
		prompter:  deps.Prompter,
		notifier:  deps.Notifier,
		logger:    logger,
		verbose:   verbose,
	}
	p.setState(StateStarting)
	return p
}

func (p *Pipeline) State() State {
	return State(p.state.Load())
}

func (p *Pipeline) setState(s State) {
	p.state.Store(int32(s))
}

// Stats returns how many changes were processed and how many matched
func (p *Pipeline) Stats() (processed, matches int64) {
	return p.processed.Load(), p.matches.Load()
}

// Provision validates the tier and creates the storage every enabled tier needs
func (p *Pipeline) Provision() error {
	tier := p.cfg.LogLevel
	if !tier.Valid() {
		return oops.In("pipeline").Code(apperrors.CodeConfig).With("log_level", int(tier)).Wrap(apperrors.ErrInvalidTier)
	}
	if tier.LogsRevisions() {
		if err := p.ledger.Init(); err != nil {
			return err
		}
	}
	if tier.LogsFlags() {
		if err := p.flags.Init(); err != nil {
			return err
		}
	}
	if tier.ArchivesContent() {
		if err := p.archive.Init(); err != nil {
			return err
		}
	}
	return nil
}

// Run consumes the stream until ctx is done, the operator declines a restart
// after a transport failure, or an unrecoverable error occurs.
func (p *Pipeline) Run(ctx context.Context) error {
	p.setState(StateStarting)
	defer p.setState(StateShutDown)

	if err := p.Provision(); err != nil {
		return err
	}

	p.logger.Info("Current settings:")
	if p.verbose {
		p.logger.Info("verbose = true")
	}
	for _, line := range p.cfg.Settings() {
		p.logger.Info(line)
	}
	p.logger.Info("filter = " + p.evaluator.Rule().String())
	p.logger.Info("Waiting for first edit.")

	for {
		err := p.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if !errors.Is(err, apperrors.ErrTransport) {
			return err
		}

		p.logger.Error("Event stream failed", "error", err)
		if !p.prompter.YesNo(fmt.Sprintf("%v.  Restart? (y/n)", err)) {
			return err
		}
		p.source.Reset()
		p.logger.Info("Restarting. Waiting for next edit.")
	}
}

func (p *Pipeline) consume(ctx context.Context) error {
	for {
		p.setState(StateWaiting)
		change, err := p.source.Next(ctx)
		if err != nil {
			return err
		}
		if err := p.Process(ctx, &change); err != nil {
			return err
		}
	}
}

// Process evaluates one change and logs it if it matched. Only errors that
// must end the run are returned.
func (p *Pipeline) Process(ctx context.Context, c *changeDomain.Change) error {
	p.setState(StateEvaluating)
	p.processed.Add(1)

	result, err := p.evaluator.Evaluate(ctx, c)
	if errors.Is(err, apperrors.ErrStoreCorrupt) {
		if err := p.resolveCorruption(err); err != nil {
			return err
		}
		result, err = p.evaluator.Evaluate(ctx, c)
	}
	if err != nil {
		p.setState(StateIdle)
		switch {
		case errors.Is(err, apperrors.ErrQueryRaceCondition) && apperrors.Reason(err) == apperrors.ReasonInvalidUser:
			p.logger.Warn("Anonymous or invalid user, skipping change",
				"summary", c.Summary(), "user", c.User, "title", c.Title, "dt", c.Meta.DT)
			return nil
		case errors.Is(err, apperrors.ErrQueryRaceCondition):
			p.logger.Warn("Query race condition, skipping change",
				"summary", c.Summary(), "user", c.User, "title", c.Title, "dt", c.Meta.DT,
				"body", apperrors.Body(err), "error", err)
			return nil
		case errors.Is(err, apperrors.ErrStoreCorrupt):
			return err
		case ctx.Err() != nil:
			return nil
		default:
			p.logger.Error("Failed to evaluate change",
				"summary", c.Summary(), "user", c.User, "title", c.Title, "dt", c.Meta.DT, "error", err)
			return nil
		}
	}

	if !result.Matched() {
		p.setState(StateIdle)
		p.reportMiss(c, result)
		return nil
	}

	p.setState(StateLogging)
	p.matches.Add(1)
	message := result.Message(c)
	patterns := lo.Map(result.Hits, func(pt filterDomain.Pattern, _ int) string { return pt.Source })
	p.logger.Info(c.Summary(), "user", c.User, "title", c.Title, "dt", c.Meta.DT)
	p.logger.Info(message, "user", c.User, "title", c.Title, "dt", c.Meta.DT, "patterns", patterns)

	if err := p.record(c, result, message); err != nil {
		return err
	}

	if p.notifier != nil {
		if err := p.notifier.Notify(ctx, c, message); err != nil {
			p.logger.Error("Failed to send notification", "title", c.Title, "error", err)
		}
	}

	p.setState(StateIdle)
	return nil
}

func (p *Pipeline) reportMiss(c *changeDomain.Change, result filterService.Result) {
	level := slog.LevelDebug
	if p.verbose {
		level = slog.LevelInfo
	}
	ctx := context.Background()
	switch result.Skip {
	case filterService.SkipNone:
		p.logger.Log(ctx, level, c.Summary(), "user", c.User, "title", c.Title, "dt", c.Meta.DT)
	case filterService.SkipEditCount, filterService.SkipRepeat:
		p.logger.Log(ctx, level, result.SkipMessage(p.evaluator.Rule()),
			"user", c.User, "title", c.Title, "dt", c.Meta.DT, "reason", result.Skip.String())
	default:
		p.logger.Debug(result.SkipMessage(p.evaluator.Rule()), "user", c.User, "title", c.Title, "site", c.ServerName)
	}
}

// record writes the match to every log the tier enables: the ledger first,
// then the archive, then the flag store entry pointing at the archive.
func (p *Pipeline) record(c *changeDomain.Change, result filterService.Result, message string) error {
	tier := p.cfg.LogLevel

	if tier.LogsRevisions() {
		if err := p.ledger.Append(c.NewRevision()); err != nil {
			p.logger.Error("Failed to log revision ID", "revid", c.NewRevision(), "error", err)
		}
	}

	var location *flagDomain.Location
	if tier.ArchivesContent() {
		loc, err := p.archive.Archive(c.Day(), archiveRepo.FileName(c), archiveContent(c, result, message))
		if err != nil {
			p.logger.Error("Failed to archive content", "user", c.User, "revid", c.NewRevision(), "error", err)
		} else {
			location = &loc
		}
	}

	if tier.LogsFlags() {
		entry := flagDomain.Entry{
			Filter: p.evaluator.Rule().Name,
			Change: *c,
			Log:    location,
		}
		if err := p.appendFlag(entry); err != nil {
			return err
		}
	}

	return nil
}

func (p *Pipeline) appendFlag(entry flagDomain.Entry) error {
	err := p.flags.Append(entry)
	if errors.Is(err, apperrors.ErrStoreCorrupt) {
		if err := p.resolveCorruption(err); err != nil {
			return err
		}
		err = p.flags.Append(entry)
	}
	if errors.Is(err, apperrors.ErrStoreCorrupt) {
		return err
	}
	if err != nil {
		p.logger.Error("Failed to log flagged change", "title", entry.Change.Title, "error", err)
	}
	return nil
}

// resolveCorruption asks the operator whether to discard a corrupt flag
// store. Declining returns the corruption error, which ends the run.
func (p *Pipeline) resolveCorruption(cause error) error {
	p.logger.Error("Failed to read flagged changes log", "error", cause)
	if !p.prompter.YesNo(resetQuestion) {
		return oops.In("pipeline").With("context", "operator declined to reset the flagged changes log").Wrap(cause)
	}
	if err := p.flags.Reset(); err != nil {
		return oops.In("pipeline").With("context", "failed to reset the flagged changes log").Wrap(err)
	}
	p.logger.Warn("Flagged changes log was reset")
	return nil
}

func archiveContent(c *changeDomain.Change, result filterService.Result, message string) string {
	raw, err := json.MarshalIndent(c, "", "    ")
	if err != nil {
		raw = []byte(fmt.Sprintf("%+v", *c))
	}
	return message + "\n\n" + string(raw) + "\n\n" + result.Text
}
