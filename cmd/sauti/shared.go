package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/jkaninda/sauti/internal/config"
	"github.com/jkaninda/sauti/internal/gateway"
	"github.com/jkaninda/sauti/internal/lifecycle"
	"github.com/jkaninda/sauti/internal/observability"
	"github.com/jkaninda/sauti/internal/registry"
	"github.com/jkaninda/sauti/internal/sandbox"
	"github.com/jkaninda/sauti/internal/storage"
	pgstore "github.com/jkaninda/sauti/internal/storage/postgres"
	sqlitestore "github.com/jkaninda/sauti/internal/storage/sqlite"
	"github.com/jkaninda/sauti/internal/tts"
	"github.com/jkaninda/sauti/internal/voice"
	"github.com/jkaninda/sauti/internal/workspace"
)

// SharedComponents holds all initialized subsystems the commands require.
// Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config    *config.Config
	Logger    *slog.Logger
	Workspace *workspace.Workspace
	Store     storage.Store // Unified store (SQLite or PostgreSQL).

	Obs       *observability.Observability
	Registry  *registry.Registry
	Engine    sandbox.Engine
	Credits   storage.CreditStore
	Lifecycle *lifecycle.Manager
	Gateway   *gateway.Client
	Voice     *voice.Pipeline // nil = voice disabled.

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// initShared performs all common initialization shared between the commands.
// Callers must call sc.Cleanup() when done.
func initShared(cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Workspace.
	ws, err := initWorkspace(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing workspace: %w", err)
	}
	if err := ws.EnsureAll(); err != nil {
		return nil, fmt.Errorf("preparing workspace directories: %w", err)
	}
	sc.Workspace = ws
	logger.Debug("workspace initialized", slog.String("root", ws.Root))

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	})
	if obs != nil {
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
		)
	}

	// Storage (unified: SQLite default, PostgreSQL optional).
	store, err := initStore(cfg, ws, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	sc.Store = store
	sc.addCleanup(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	})

	// Run migrations.
	if err := store.Migrate(context.Background()); err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	logger.Debug("storage initialized", slog.String("driver", store.Driver()))

	// Credit store, instrumented when metrics are on.
	credits := store.Credits()
	if obs != nil && obs.Metrics != nil {
		credits = observability.NewInstrumentedCreditStore(credits, obs.Metrics)
	}
	sc.Credits = credits

	// Shared binding registry with debounced gateway reload.
	registryPath := cfg.Gateway.RegistryPath
	if registryPath == "" {
		registryPath = ws.RegistryPath()
	}
	reg := registry.New(registryPath, gatewayReloader(cfg.Gateway.ReloadCommand, logger), logger,
		registry.WithDebounce(cfg.Gateway.Debounce()),
	)
	sc.Registry = reg
	sc.addCleanup(reg.Close)
	logger.Debug("registry initialized", slog.String("path", registryPath))

	// Sandbox engine, instrumented when metrics are on.
	var engine sandbox.Engine = sandbox.NewDockerEngine(sandbox.DockerConfig{
		Image:     cfg.Sandbox.Image,
		MemoryMB:  cfg.Sandbox.MaxMemoryMB,
		CPUCores:  cfg.Sandbox.CPUCores,
		PIDsLimit: cfg.Sandbox.PIDsLimit,
		AgentPort: cfg.Sandbox.AgentPort,
		Network:   cfg.Sandbox.Network,
	}, logger)
	if obs != nil && obs.Metrics != nil {
		engine = observability.NewInstrumentedEngine(engine, obs.Metrics, obs.TracerOrNil())
	}
	sc.Engine = engine

	// Lifecycle manager.
	sc.Lifecycle = lifecycle.NewManager(engine, store.AgentRecords(), reg, ws, logger,
		lifecycle.WithHealthBudget(cfg.Sandbox.HealthPollInterval(), cfg.Sandbox.HealthAttempts()),
		lifecycle.WithBindingDefaults(cfg.Gateway.GatewayModel(), cfg.Gateway.GatewayBinding()),
	)

	// Routing gateway client.
	sc.Gateway = gateway.NewClient(cfg.Gateway.URL, logger,
		gateway.WithModel(cfg.Gateway.GatewayModel()),
	)

	// Voice pipeline (optional).
	if cfg.Voice != nil {
		sc.Voice = initVoice(cfg.Voice, credits, obs, logger)
		logger.Debug("voice pipeline initialized",
			slog.Float64("credit_cost", cfg.Voice.Cost()),
			slog.Int("batch_size", cfg.Voice.SynthBatchSize()),
		)
	}

	return sc, nil
}

func initWorkspace(cfg *config.Config) (*workspace.Workspace, error) {
	if cfg.Workspace != "" {
		return workspace.New(cfg.Workspace)
	}
	return workspace.Default()
}

func initStore(cfg *config.Config, ws *workspace.Workspace, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Storage.StorageDriver() {
	case storage.DriverPostgres:
		return pgstore.Open(pgstore.Config{
			DSN:             cfg.Storage.Postgres.DSN,
			MaxOpenConns:    cfg.Storage.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.Postgres.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Storage.Postgres.ConnMaxLifetimeS) * time.Second,
		}, logger)
	default:
		path := ws.DatabasePath()
		journalMode := ""
		if cfg.Storage != nil && cfg.Storage.SQLite != nil {
			if cfg.Storage.SQLite.Path != "" {
				path = cfg.Storage.SQLite.Path
			}
			journalMode = cfg.Storage.SQLite.JournalMode
		}
		return sqlitestore.Open(sqlitestore.Config{
			Path:        path,
			JournalMode: journalMode,
		}, logger)
	}
}

func initVoice(vc *config.VoiceConfig, credits storage.CreditStore, obs *observability.Observability, logger *slog.Logger) *voice.Pipeline {
	var ttsOpts []tts.Option
	if vc.TTS.BaseURL != "" {
		ttsOpts = append(ttsOpts, tts.WithBaseURL(vc.TTS.BaseURL))
	}
	if vc.TTS.Model != "" {
		ttsOpts = append(ttsOpts, tts.WithModel(vc.TTS.Model))
	}
	if vc.TTS.Voice != "" {
		ttsOpts = append(ttsOpts, tts.WithVoice(vc.TTS.Voice))
	}
	if vc.TTS.Format != "" {
		ttsOpts = append(ttsOpts, tts.WithFormat(vc.TTS.Format))
	}

	var synth tts.Synthesizer = tts.NewClient(vc.TTS.APIKey, logger, ttsOpts...)
	if obs != nil && obs.Metrics != nil {
		synth = observability.NewInstrumentedSynthesizer(synth, obs.Metrics, obs.TracerOrNil())
	}

	return voice.New(synth, credits, logger,
		voice.WithCreditCost(vc.Cost()),
		voice.WithBatchSize(vc.SynthBatchSize()),
	)
}

// gatewayReloader builds the registry's reload callback. The configured shell
// command tells the shared gateway to re-read its binding registry; without
// one, the change is only logged.
func gatewayReloader(command string, logger *slog.Logger) registry.ReloadFunc {
	if command == "" {
		return func() {
			logger.Info("registry changed; no gateway reload command configured")
		}
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		out, err := exec.CommandContext(ctx, "sh", "-c", command).CombinedOutput()
		if err != nil {
			logger.Error("gateway reload command failed",
				slog.String("error", err.Error()),
				slog.String("output", strings.TrimSpace(string(out))),
			)
			return
		}
		logger.Info("gateway reloaded", slog.String("output", strings.TrimSpace(string(out))))
	}
}
