package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ent0n29/vtutor/internal/audio"
	"github.com/ent0n29/vtutor/internal/config"
	"github.com/ent0n29/vtutor/internal/httpapi"
	"github.com/ent0n29/vtutor/internal/journal"
	"github.com/ent0n29/vtutor/internal/logging"
	"github.com/ent0n29/vtutor/internal/observability"
	"github.com/ent0n29/vtutor/internal/playback"
	"github.com/ent0n29/vtutor/internal/vtube"
)

type VoiceInfo struct {
	Provider string
	Detail   string
}

type BuildResult struct {
	Config    config.Config
	Logger    zerolog.Logger
	API       *httpapi.Server
	Connector *vtube.Connector
	Engine    *playback.Engine
	Journal   journal.Store
	Metrics   *observability.Metrics
	Voice     VoiceInfo

	// Cleanup stops playback, closes the avatar socket and releases stores.
	Cleanup func() error
}

// Build wires every component once. Nothing here dials the avatar server;
// call Connector.Start for that.
func Build(ctx context.Context, cfg config.Config, log zerolog.Logger) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace, nil)

	var closers []func() error
	fail := func(err error) (*BuildResult, error) {
		_ = closeAll(closers)
		return nil, err
	}

	profile := vtube.DefaultProfile()
	if cfg.AvatarProfile != "" {
		p, err := vtube.LoadProfile(cfg.AvatarProfile)
		if err != nil {
			return nil, fmt.Errorf("avatar profile: %w", err)
		}
		profile = p
	}
	if !profile.Has(cfg.MouthParameter) {
		return nil, fmt.Errorf("mouth parameter %q is not declared in the avatar profile", cfg.MouthParameter)
	}

	identity := vtube.Identity{Name: cfg.VTSPluginName, Developer: cfg.VTSPluginDeveloper}
	tokens, closeTokens, err := buildTokenStore(ctx, cfg, identity)
	if err != nil {
		return nil, err
	}
	if closeTokens != nil {
		closers = append(closers, closeTokens)
	}

	store, err := journal.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fail(fmt.Errorf("journal store init failed: %w", err))
	}
	closers = append(closers, store.Close)

	registry, err := vtube.NewRegistry(profile.Parameters, logging.Component(log, "params"), metrics)
	if err != nil {
		return fail(fmt.Errorf("parameter registry: %w", err))
	}
	client := vtube.NewClient(vtube.ClientOptions{
		URL:            cfg.VTSURL,
		PingInterval:   cfg.VTSPingInterval,
		PingTimeout:    cfg.VTSPingTimeout,
		RequestTimeout: cfg.VTSRequestTimeout,
		ReconnectBase:  cfg.VTSReconnectBase,
		ReconnectMax:   cfg.VTSReconnectMax,
		Logger:         logging.Component(log, "vts"),
		Metrics:        metrics,
	})
	auth := vtube.NewAuthenticator(identity, tokens, logging.Component(log, "auth"), metrics)
	connector := vtube.NewConnector(client, auth, registry, profile, logging.Component(log, "vts"))
	closers = append(closers, connector.Close)

	if err := os.MkdirAll(cfg.AudioDir, 0o755); err != nil {
		return fail(fmt.Errorf("audio dir: %w", err))
	}
	voice, err := resolveSynthesizer(ctx, cfg, logging.Component(log, "speech"))
	if err != nil {
		return fail(err)
	}
	cfg.VoiceProvider = voice.resolvedProvider

	player, closePlayer := buildPlayer(cfg)
	if closePlayer != nil {
		closers = append(closers, closePlayer)
	}

	engine, err := playback.NewEngine(playback.Options{
		Synthesizer:    voice.synth,
		Player:         player,
		Avatar:         connector,
		Journal:        store,
		Metrics:        metrics,
		Logger:         logging.Component(log, "engine"),
		MouthParameter: cfg.MouthParameter,
		ReferenceRMS:   cfg.MouthReferenceRMS,
		SampleInterval: cfg.MouthSampleInterval,
		Workers:        cfg.PlaybackWorkers,
	})
	if err != nil {
		return fail(err)
	}
	// Engine stops first so nothing writes to a closed socket or store.
	closers = append(closers, engine.Close)

	api := httpapi.New(engine, connector, store, metrics, logging.Component(log, "httpapi"))

	return &BuildResult{
		Config:    cfg,
		Logger:    log,
		API:       api,
		Connector: connector,
		Engine:    engine,
		Journal:   store,
		Metrics:   metrics,
		Voice:     VoiceInfo{Provider: voice.resolvedProvider, Detail: voice.detail},
		Cleanup:   func() error { return closeAll(closers) },
	}, nil
}

func buildTokenStore(ctx context.Context, cfg config.Config, identity vtube.Identity) (vtube.TokenStore, func() error, error) {
	switch cfg.VTSTokenStore {
	case "postgres":
		s, err := vtube.NewPostgresTokenStore(ctx, cfg.DatabaseURL, identity)
		if err != nil {
			return nil, nil, fmt.Errorf("token store init failed: %w", err)
		}
		return s, s.Close, nil
	default:
		return vtube.NewFileTokenStore(cfg.VTSTokenFile), nil, nil
	}
}

func buildPlayer(cfg config.Config) (audio.Player, func() error) {
	if cfg.AudioOutput == "silent" {
		return audio.SilentPlayer{Pace: 1}, nil
	}
	p := audio.NewPortAudioPlayer()
	return p, p.Close
}

// closeAll runs closers in reverse registration order.
func closeAll(closers []func() error) error {
	var errs []string
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil && !errors.Is(err, vtube.ErrClientClosed) {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
