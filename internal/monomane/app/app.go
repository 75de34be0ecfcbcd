// Package app wires the Monomane subsystems together and owns the run loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oqilov/monomane/common/trace"
	"github.com/oqilov/monomane/internal/monomane/autoreply"
	"github.com/oqilov/monomane/internal/monomane/chat"
	"github.com/oqilov/monomane/internal/monomane/commands"
	"github.com/oqilov/monomane/internal/monomane/cooldown"
	"github.com/oqilov/monomane/internal/monomane/finder"
	"github.com/oqilov/monomane/internal/monomane/gen"
	"github.com/oqilov/monomane/internal/monomane/history"
	"github.com/oqilov/monomane/internal/monomane/matrix"
	"github.com/oqilov/monomane/internal/monomane/persona"
	"github.com/oqilov/monomane/internal/monomane/repeater"
	"github.com/oqilov/monomane/internal/monomane/settings"
	"github.com/oqilov/monomane/internal/monomane/store"
)

// keepAliveInterval is the online-mode loop tick.
const keepAliveInterval = 60 * time.Second

// Self-destruct delays for ephemeral command confirmations.
const (
	ephemeralTTL     = 15 * time.Second
	ephemeralHelpTTL = 60 * time.Second
)

// Config holds application configuration.
type Config struct {
	DatabasePath string
	Matrix       matrix.Config
	Gemini       gen.GeminiConfig

	// PersonaPath points at the optional persona YAML file.
	PersonaPath string

	// CooldownWindow overrides the anti-flood window; zero uses the default.
	CooldownWindow time.Duration

	// SearchDeadline overrides the prior-reply search budget; zero uses the
	// default.
	SearchDeadline time.Duration
}

// App is the assembled application.
type App struct {
	config       *Config
	store        *store.Store
	matrix       *matrix.Client
	settings     *settings.Service
	repeater     *repeater.Manager
	router       *commands.Router
	orchestrator *autoreply.Orchestrator
}

// New builds the application: database, transport, stores, persona, the
// auto-reply pipeline, the repeating-send manager, and the command surface.
func New(config *Config) (*App, error) {
	slog.Info("opening database", "path", config.DatabasePath)
	db, err := store.New(config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	matrixCfg := config.Matrix
	matrixCfg.DB = db.DB()
	slog.Info("connecting to Matrix", "homeserver", matrixCfg.Homeserver)
	matrixClient, err := matrix.New(&matrixCfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize Matrix client: %w", err)
	}

	svc, err := settings.Load(context.Background(), db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	activeSet := settings.NewActiveSet(db)
	histStore := history.New(db)

	// A missing persona file means "no persona" (Load returns nil, nil), but
	// a present, unusable one is a configuration error: starting without it
	// would silently change how the account talks.
	p, err := persona.Load(config.PersonaPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load persona %q: %w", config.PersonaPath, err)
	}
	if p != nil {
		slog.Info("persona loaded", "path", config.PersonaPath)
	}

	baseURL := config.Gemini.BaseURL
	if baseURL == "" {
		baseURL = gen.DefaultBaseURL
	}
	generator := gen.NewGenerator(
		gen.NewGemini(config.Gemini),
		histStore,
		p,
		config.Gemini.APIKey, baseURL,
	)

	gate := cooldown.New(config.CooldownWindow)
	replyFinder := finder.New(matrixClient, config.Matrix.UserID)

	orchestrator := autoreply.New(autoreply.Config{
		Transport:      matrixClient,
		Searcher:       replyFinder,
		Generator:      generator,
		Gate:           gate,
		Active:         activeSet,
		Switches:       svc,
		SelfID:         config.Matrix.UserID,
		SearchDeadline: config.SearchDeadline,
	})

	repeatManager := repeater.NewManager(matrixClient)

	router := commands.NewRouter(".")
	handlers := commands.NewHandlers(commands.HandlersConfig{
		Settings:  svc,
		Active:    activeSet,
		History:   histStore,
		Generator: generator,
		Repeater:  repeatManager,
		Transport: matrixClient,
		SelfID:    config.Matrix.UserID,
	})
	handlers.RegisterAll(router)

	return &App{
		config:       config,
		store:        db,
		matrix:       matrixClient,
		settings:     svc,
		repeater:     repeatManager,
		router:       router,
		orchestrator: orchestrator,
	}, nil
}

// Run starts the sync loop and blocks until an interrupt signal arrives.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slog.Info("starting Matrix sync")
	if err := a.matrix.Start(ctx, a.handleMessage); err != nil {
		return fmt.Errorf("failed to start Matrix client: %w", err)
	}

	go a.keepAliveLoop(ctx)

	slog.Info("Monomane is running; press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down")
	return nil
}

// Stop tears the application down: live repeating-send tasks are cancelled
// and awaited before the transport and database close under them.
func (a *App) Stop() {
	slog.Info("stopping repeating-send tasks")
	a.repeater.StopAll()

	slog.Info("stopping Matrix client")
	a.matrix.Stop()

	slog.Info("closing database")
	a.store.Close()
}

// handleMessage is the single dispatch point for incoming messages: operator
// commands first, everything else through the auto-reply pipeline. Each
// message gets a trace ID so its log lines can be correlated across the
// command and reply paths.
func (a *App) handleMessage(ctx context.Context, msg chat.Message) {
	if msg.Text == "" {
		return
	}
	ctx = trace.WithTraceID(ctx, trace.GenerateID())

	cmd, err := a.router.Parse(msg.Text)
	if err == nil {
		reply, handled, err := a.router.Dispatch(ctx, cmd, msg)
		if err != nil {
			slog.Error("command failed", "command", cmd.Name, "trace_id", trace.FromContext(ctx), "err", err)
			return
		}
		if handled {
			if reply != "" {
				ttl := ephemeralTTL
				if cmd.Name == "help" {
					ttl = ephemeralHelpTTL
				}
				a.sendEphemeral(ctx, msg, reply, ttl)
			}
			return
		}
		// Unregistered dot-leading text is ordinary chat; fall through.
	} else if !errors.Is(err, commands.ErrNotACommand) {
		return
	}

	a.orchestrator.HandleMessage(ctx, msg)
}

// sendEphemeral shows a command confirmation and removes it after ttl. For
// the operator's own commands the command message itself is edited into the
// confirmation and later deleted; messages from other senders cannot be
// edited or redacted, so those get a plain reply that self-destructs instead.
func (a *App) sendEphemeral(ctx context.Context, msg chat.Message, text string, ttl time.Duration) {
	cleanupID := msg.ID
	if msg.SenderID == a.config.Matrix.UserID {
		if err := a.matrix.EditMessage(ctx, msg.ConversationID, msg.ID, text); err != nil {
			slog.Warn("editing command confirmation failed", "err", err)
			return
		}
	} else {
		replyID, err := a.matrix.SendReplyID(ctx, msg.ConversationID, text, msg.ID)
		if err != nil {
			slog.Warn("sending command confirmation failed", "err", err)
			return
		}
		cleanupID = replyID
	}

	go func() {
		time.Sleep(ttl)
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.matrix.DeleteMessage(cleanupCtx, msg.ConversationID, cleanupID); err != nil {
			slog.Debug("deleting command confirmation failed", "err", err)
		}
	}()
}

// keepAliveLoop ticks while online mode is on. The tick itself only logs:
// the act of syncing already keeps the account visibly online, matching the
// original behaviour of this mode.
func (a *App) keepAliveLoop(ctx context.Context) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.settings.OnlineMode() {
				slog.Debug("keep-alive tick, account held online")
			}
		}
	}
}
