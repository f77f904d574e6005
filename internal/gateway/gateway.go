package gateway

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stellarlinkco/birthdaybot/internal/birthday"
	"github.com/stellarlinkco/birthdaybot/internal/bus"
	"github.com/stellarlinkco/birthdaybot/internal/channel"
	"github.com/stellarlinkco/birthdaybot/internal/config"
	"github.com/stellarlinkco/birthdaybot/internal/cron"
	"github.com/stellarlinkco/birthdaybot/internal/httpapi"
	"github.com/stellarlinkco/birthdaybot/internal/ledger"
	"github.com/stellarlinkco/birthdaybot/internal/llm"
	"github.com/stellarlinkco/birthdaybot/internal/logging"
)

// Options for creating a Gateway
type Options struct {
	// Completer replaces the configured LLM provider (for tests).
	Completer llm.Completer
	// Channels replaces the channel manager built from config.
	Channels   *channel.ChannelManager
	SignalChan chan os.Signal // for testing signal handling
}

type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	channels   *channel.ChannelManager
	store      *ledger.Store
	engine     *birthday.Engine
	cron       *cron.Service
	api        *httpapi.Server
	dispatch   *Dispatcher
	log        zerolog.Logger
	signalChan chan os.Signal // for testing
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{cfg: cfg, log: logging.Named("gateway"), signalChan: opts.SignalChan}

	g.bus = bus.NewMessageBus(config.DefaultBufSize)

	completer := opts.Completer
	if completer == nil {
		c, err := llm.NewFromConfig(cfg)
		if err != nil {
			return nil, err
		}
		completer = c
	}

	store, err := OpenLedger(cfg)
	if err != nil {
		return nil, err
	}
	g.store = store

	g.channels = opts.Channels
	if g.channels == nil {
		g.channels, err = channel.NewChannelManager(cfg.Channels, g.bus)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("create channel manager: %w", err)
		}
	}

	g.engine = BuildEngine(cfg, completer, store, g.channels)
	g.dispatch = NewDispatcher(g.engine)

	g.cron = cron.NewService(cron.StatePath(config.ConfigDir()), cfg.Location())
	if err := cron.RegisterMaintenance(g.cron, store, cfg.Store.AuditRetentionDays, logging.Named("summary")); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("register maintenance jobs: %w", err)
	}

	if cfg.Gateway.Enabled {
		g.api = httpapi.New(httpapi.Options{
			Host:           cfg.Gateway.Host,
			Port:           cfg.Gateway.Port,
			AllowedOrigins: cfg.Gateway.AllowedOrigins,
			Conversations:  cfg.Conversations(),
			Channels:       g.channels.EnabledChannels,
		}, store, g.cron, g.engine, logging.Named("http"))
	}

	return g, nil
}

// OpenLedger opens the configured sqlite ledger.
func OpenLedger(cfg *config.Config) (*ledger.Store, error) {
	store, err := ledger.Open(cfg.DBPath(), cfg.Birthday.DailyCap, ledger.DayClock{
		BoundaryHour: cfg.Birthday.DayBoundaryHour,
		Location:     cfg.Location(),
	})
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return store, nil
}

// NewComposer wires the LLM-backed generator, approver and optional name
// confirmer into a reply composer.
func NewComposer(cfg *config.Config, completer llm.Completer) *birthday.Composer {
	model := cfg.Models.Generate
	var confirmer birthday.NameConfirmer
	if cfg.Birthday.ConfirmNames {
		confirmer = birthday.NewLLMNameConfirmer(completer, model)
	}
	return birthday.NewComposer(
		birthday.NewLLMGenerator(completer, model),
		birthday.NewLLMApprover(completer, model),
		confirmer,
		birthday.ComposerOptions{
			MaxAttempts:  cfg.Birthday.MaxAttempts,
			FallbackName: cfg.Birthday.FallbackName,
			Disclaimer:   cfg.Birthday.Disclaimer,
		},
		logging.Named("composer"),
	)
}

// BuildEngine assembles the birthday engine from config.
func BuildEngine(cfg *config.Config, completer llm.Completer, store *ledger.Store, sender birthday.Sender) *birthday.Engine {
	b := cfg.Birthday
	delayMin, delayMax := cfg.DelayBounds()
	return birthday.NewEngine(birthday.Deps{
		Classifier: birthday.NewLLMClassifier(completer, cfg.Models.Classify, logging.Named("classifier")),
		Replier:    NewComposer(cfg, completer),
		Ledger:     store,
		Sender:     sender,
		Auditor:    store,
		Contexts:   birthday.NewContextCache(b.ContextWindowSize, cfg.Staleness(), cfg.Location()),
		Pending:    birthday.NewPendingTracker(b.PendingMaxMessages).WithMaxAge(cfg.Staleness()),
	}, birthday.Options{
		ConfidenceThreshold:     b.ConfidenceThreshold,
		DelayMin:                delayMin,
		DelayMax:                delayMax,
		DryRun:                  b.DryRun,
		RequireAdditionalMarker: b.RequireAdditionalMarker,
		SkipRepeatedNames:       b.SkipRepeatedNames,
		FallbackName:            b.FallbackName,
		Conversations:           cfg.Conversations(),
	}, logging.Named("engine"))
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	grp, gctx := errgroup.WithContext(ctx)

	if err := g.channels.StartAll(gctx); err != nil {
		_ = g.Shutdown()
		return fmt.Errorf("start channels: %w", err)
	}
	g.log.Info().Strs("channels", g.channels.EnabledChannels()).Msg("channels started")

	if err := g.cron.Start(gctx); err != nil {
		g.log.Warn().Err(err).Msg("cron start warning")
	}

	grp.Go(func() error {
		g.dispatch.Run(gctx, g.bus.Inbound)
		return nil
	})
	if g.api != nil {
		grp.Go(func() error { return g.api.Run(gctx) })
	}

	opts := g.engine.Options()
	g.log.Info().
		Strs("conversations", opts.Conversations).
		Bool("dry_run", opts.DryRun).
		Msg("running")

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	select {
	case <-sigCh:
	case <-gctx.Done():
	}

	g.log.Info().Msg("shutting down...")
	cancel()
	err := grp.Wait()
	if serr := g.Shutdown(); err == nil {
		err = serr
	}
	return err
}

// Connect starts the channels and waits until they are usable, for
// one-shot commands that send without running the full gateway.
func (g *Gateway) Connect(ctx context.Context, timeout time.Duration) error {
	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return g.channels.WaitReady(waitCtx)
}

// Store exposes the ledger.
func (g *Gateway) Store() *ledger.Store { return g.store }

// Engine exposes the birthday engine, mainly for the CLI.
func (g *Gateway) Engine() *birthday.Engine { return g.engine }

func (g *Gateway) Shutdown() error {
	g.cron.Stop()
	_ = g.channels.StopAll()
	if g.store != nil {
		if err := g.store.Close(); err != nil {
			g.log.Warn().Err(err).Msg("close ledger warning")
		}
	}
	g.log.Info().Msg("shutdown complete")
	return nil
}
