package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"emocall/internal/analytics"
	"emocall/internal/audio"
	"emocall/internal/capture"
	"emocall/internal/config"
	"emocall/internal/httpapi"
	"emocall/internal/identity"
	"emocall/internal/insights"
	"emocall/internal/logger"
	"emocall/internal/ports"
	"emocall/internal/rules"
	"emocall/internal/store"
	"emocall/internal/transport"
	"emocall/internal/usecase"
	"emocall/internal/visual"
)

// Services is the assembled runtime graph.
type Services struct {
	Config      config.Config
	Logger      *slog.Logger
	Controller  *usecase.SessionController
	Auth        *identity.Client
	Identity    *identity.Service
	Insights    *insights.Service
	Analytics   *analytics.Service
	Calls       ports.CallStore
	Blobs       ports.BlobStore
	Diagnostics *httpapi.Server

	profiles ports.ProfileStore
	shares   ports.ShareStore
	closers  []func() error
}

// Build wires all backend dependencies for the current runtime.
func Build(ctx context.Context, events ports.EventSink, frames ports.FrameSink) (*Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return BuildWithConfig(ctx, cfg, events, frames)
}

// BuildWithConfig wires the graph from an already resolved config. On error
// everything opened so far is closed.
func BuildWithConfig(ctx context.Context, cfg config.Config, events ports.EventSink, frames ports.FrameSink) (_ *Services, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logger.New(cfg.App.Env, cfg.App.LogLevel)
	svc := &Services{Config: cfg, Logger: log}
	defer func() {
		if err != nil {
			_ = svc.closeAll()
		}
	}()

	formatter, err := rules.NewFormatter(cfg.Rules.Path)
	if err != nil {
		return nil, err
	}

	if err := svc.openStores(ctx, cfg, log); err != nil {
		return nil, err
	}

	svc.Auth = identity.NewClient(identity.Config{
		APIKey:  cfg.Identity.APIKey,
		BaseURL: cfg.Identity.BaseURL,
	}, log)

	svc.Identity = identity.NewService(svc.Auth, identity.Stores{
		Profiles: svc.profiles,
		Calls:    svc.Calls,
		Shares:   svc.shares,
		Blobs:    svc.Blobs,
	}, log)

	svc.Insights, err = svc.buildInsights(ctx, cfg, formatter, log)
	if err != nil {
		return nil, err
	}
	svc.Analytics = analytics.NewService(svc.Calls, time.Local, log)

	socket, err := transport.NewSocket(transport.Config{
		BaseURL:        cfg.Classifier.WSURL,
		ReconnectDelay: time.Duration(cfg.Classifier.ReconnectDelayMS) * time.Millisecond,
		SendQueue:      cfg.Classifier.SendQueue,
	}, log)
	if err != nil {
		return nil, err
	}
	svc.closers = append(svc.closers, socket.Close)

	engine, err := capture.NewEngine(ctx, audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand, log), socket, capture.Config{
		Audio: ports.AudioConfig{
			SampleRate:       cfg.Audio.SampleRate,
			Channels:         cfg.Audio.Channels,
			InputFormat:      cfg.Audio.InputFormat,
			InputDevice:      cfg.Audio.InputDevice,
			Codec:            cfg.Audio.Codec,
			Bitrate:          cfg.Audio.Bitrate,
			EchoCancellation: cfg.Audio.EchoCancellation,
			NoiseSuppression: cfg.Audio.NoiseSuppression,
			AutoGain:         cfg.Audio.AutoGain,
			EchoCancelSource: cfg.Audio.EchoCancelSource,
		},
		ChunkInterval: time.Duration(cfg.Session.ChunkIntervalMS) * time.Millisecond,
	}, log)
	if err != nil {
		return nil, err
	}

	svc.Controller = usecase.NewSessionController(
		engine,
		visual.NewDriver(time.Duration(cfg.Session.FrameIntervalMS)*time.Millisecond, frames, log),
		usecase.Persistence{Identity: svc.Auth, Blobs: svc.Blobs, Calls: svc.Calls},
		events,
		usecase.Config{
			TimelineSize:   cfg.Session.TimelineSize,
			PersistTimeout: time.Duration(cfg.Session.PersistTimeoutMS) * time.Millisecond,
		},
		log,
	)

	if cfg.Diagnostics.Addr != "" {
		router := httpapi.NewRouter(httpapi.Deps{
			Session:  svc.Controller,
			Exporter: svc.Analytics,
			Identity: svc.Auth,
		}, log)
		svc.Diagnostics, err = httpapi.Listen(cfg.Diagnostics.Addr, router, log)
		if err != nil {
			return nil, err
		}
	}

	log.Info("services ready",
		"classifier", cfg.Classifier.WSURL,
		"postgres", cfg.Store.PostgresDSN != "",
		"redis", cfg.Redis.Addr != "",
		"llm", cfg.LLM.APIKey != "",
	)
	return svc, nil
}

func (s *Services) openStores(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if cfg.Store.PostgresDSN != "" {
		pg, err := store.OpenPostgres(ctx, cfg.Store.PostgresDSN, store.PoolConfig{})
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		s.closers = append(s.closers, pg.Close)
		s.Calls, s.profiles, s.shares = pg, pg, pg
	} else {
		log.Warn("no postgres dsn configured; call history is kept in memory")
		mem := store.NewMemory()
		s.Calls, s.profiles, s.shares = mem, mem, mem
	}

	if cfg.Store.BlobDBPath == "" {
		s.Blobs = store.NewMemoryBlobs()
		return nil
	}
	blobs, err := store.OpenSQLiteBlobs(cfg.Store.BlobDBPath)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	s.closers = append(s.closers, blobs.Close)
	s.Blobs = blobs
	return nil
}

func (s *Services) buildInsights(ctx context.Context, cfg config.Config, formatter ports.RulesEngine, log *slog.Logger) (*insights.Service, error) {
	var gen ports.TextGenerator
	if cfg.LLM.APIKey != "" {
		openaiGen, err := insights.NewOpenAIGenerator(insights.GeneratorConfig{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
		})
		if err != nil {
			return nil, err
		}
		gen = openaiGen
	} else {
		log.Warn("no llm api key configured; insights use fallbacks")
	}

	var cache insights.Cache
	if cfg.Redis.Addr != "" {
		rdb, err := insights.OpenRedis(ctx, insights.RedisConfig{Addr: cfg.Redis.Addr})
		if err != nil {
			// The cache is optional; replies are regenerated without it.
			log.Warn("redis unavailable; insight cache disabled", "error", err)
		} else {
			rc := insights.NewRedisCache(rdb)
			s.closers = append(s.closers, rc.Close)
			cache = rc
		}
	}

	ttl := time.Duration(cfg.Redis.InsightCacheTTL) * time.Second
	return insights.NewService(gen, formatter, cache, ttl, log), nil
}

// Close stops any live call, waits for pending saves and releases every
// opened resource.
func (s *Services) Close(ctx context.Context) error {
	var errs []error
	if s.Controller != nil {
		s.Controller.Close(ctx)
	}
	if s.Diagnostics != nil {
		if err := s.Diagnostics.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.closeAll(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Services) closeAll() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
