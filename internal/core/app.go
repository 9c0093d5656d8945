package core

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"formulabot/internal/adapters/telegram"
	"formulabot/internal/formula"
	"formulabot/internal/kit"
	"formulabot/internal/metrics"
	"formulabot/internal/notifier"
	"formulabot/internal/storage"
	"formulabot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	logs *logx.Service
	zlog logx.Logger
	log  *slog.Logger

	adapter kit.Adapter

	catalog *formula.Client
	store   storage.Store
	metrics *metrics.Metrics

	serv *Services

	cmdm *CommandManager
	pm   *PluginManager

	// dailyHash detects effective daily-section changes on hot-reload.
	dailyHash [32]byte

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, zlog := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log := logx.Slog(zlog).With(slog.String("comp", "app"))

	pollTimeout, err := parseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, logx.Slog(zlog.With(logx.String("comp", "telegram"))))
	if err != nil {
		return nil, err
	}

	catTimeout, err := parseDurationOrDefault("catalog.timeout", cfg.Catalog.Timeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	catalog, err := formula.NewClient(formula.Config{
		BaseURL:  cfg.Catalog.BaseURL,
		APIKey:   cfg.Catalog.APIKey,
		Timeout:  catTimeout,
		RetryMax: cfg.Catalog.RetryMax,
	}, logx.Slog(zlog.With(logx.String("comp", "catalog"))))
	if err != nil {
		return nil, err
	}

	busy, err := parseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, zlog.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	mx := metrics.New()

	daily, err := buildDaily(cfg, catalog, ad, store, mx, zlog)
	if err != nil {
		return nil, err
	}

	serv := &Services{
		Catalog: catalog,
		Store:   store,
		Metrics: mx,
	}
	serv.SetDaily(daily)

	cmdm := NewCommandManager(logx.Slog(zlog.With(logx.String("comp", "commands"))),
		ad, cfgm, serv, cfg.Telegram.OwnerUserIDs)

	pm := NewPluginManager(logx.Slog(zlog.With(logx.String("comp", "plugins"))),
		cfgm, PluginDeps{
			Logger:      logx.Slog(zlog),
			Adapter:     ad,
			Config:      cfgm,
			Services:    serv,
			OwnerUserID: cfg.Telegram.OwnerUserIDs,
			Commands:    cmdm,
		}, cmdm)

	return &App{
		cfgPath:   cfgPath,
		cfgm:      cfgm,
		logs:      logSvc,
		zlog:      zlog,
		log:       log,
		adapter:   ad,
		catalog:   catalog,
		store:     store,
		metrics:   mx,
		serv:      serv,
		cmdm:      cmdm,
		pm:        pm,
		dailyHash: dailySectionHash(cfg),
		updates:   make(chan kit.Update, 256),
	}, nil
}

func buildDaily(cfg *Config, catalog *formula.Client, ad kit.Adapter, store storage.Store, mx *metrics.Metrics, zlog logx.Logger) (*notifier.Service, error) {
	d := cfg.Daily
	grace, err := parseDurationOrDefault("daily.grace", d.Grace, 0)
	if err != nil {
		return nil, err
	}
	retry, err := parseDurationOrDefault("daily.retry_delay", d.RetryDelay, 0)
	if err != nil {
		return nil, err
	}
	sendDelay, err := parseDurationOrDefault("daily.send_delay", d.SendDelay, 0)
	if err != nil {
		return nil, err
	}
	policy, err := notifier.ParsePolicy(d.Window)
	if err != nil {
		return nil, fmt.Errorf("daily.window: %w", err)
	}
	mode, err := notifier.ParseMode(d.Mode)
	if err != nil {
		return nil, fmt.Errorf("daily.mode: %w", err)
	}

	at := strings.TrimSpace(d.At)
	if at == "" {
		at = "09:00"
	}
	return notifier.New(notifier.Config{
		Enabled:    d.Enabled,
		At:         at,
		Timezone:   d.Timezone,
		Grace:      grace,
		RetryDelay: retry,
		Policy:     policy,
		Render: notifier.RenderConfig{
			Mode:         mode,
			SummaryLimit: d.SummaryLimit,
			MaxImages:    d.MaxImages,
			SendDelay:    sendDelay,
		},
		Target:   kit.ChatTarget{ChatID: d.ChatID},
		Observer: mx,
	}, catalog, ad, store, zlog)
}

func dailySectionHash(cfg *Config) [32]byte {
	b, _ := json.Marshal(cfg.Daily)
	return sha256.Sum256(b)
}

func (a *App) Plugins() *PluginManager { return a.pm }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.zlog.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *Config) error {
		if err := validateConfig(cfg); err != nil {
			return err
		}
		if a.pm != nil {
			return a.pm.ValidateConfig(c, cfg)
		}
		return nil
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	if daily := a.serv.Daily(); daily != nil && a.cfgm.Get().Daily.Enabled {
		daily.Start(a.sup.Context())
	}

	if err := a.pm.StartAll(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(c, newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if cfg := a.cfgm.Get(); cfg.Metrics.Enabled {
		listen := strings.TrimSpace(cfg.Metrics.Listen)
		if listen == "" {
			listen = ":9090"
		}
		a.sup.Go("metrics.serve", func(c context.Context) error {
			return a.metrics.Serve(c, listen)
		})
	}

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(ctx context.Context, cfg *Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	// Owner list feeds AccessOwnerOnly checks and plugin deps.
	a.cmdm.SetOwners(cfg.Telegram.OwnerUserIDs)
	a.pm.SetOwnerUserIDs(cfg.Telegram.OwnerUserIDs)

	// The daily loop has no live apply: on an effective change the old
	// loop stops and a fresh one takes its place.
	if h := dailySectionHash(cfg); h != a.dailyHash {
		a.dailyHash = h
		if old := a.serv.Daily(); old != nil {
			old.Stop()
		}
		daily, err := buildDaily(cfg, a.catalog, a.adapter, a.store, a.metrics, a.zlog)
		if err != nil {
			// validator should have caught this; keep the old loop stopped
			a.log.Error("daily config rebuild failed", slog.Any("err", err))
		} else {
			a.serv.SetDaily(daily)
			if cfg.Daily.Enabled {
				daily.Start(ctx)
			}
			a.log.Info("daily notifier reconfigured", slog.Bool("enabled", cfg.Daily.Enabled))
		}
	}

	// apply plugin enable/disable + per-plugin config
	a.pm.OnConfigUpdate(ctx, cfg)

	a.log.Info("config reloaded")
}

func validateConfig(cfg *Config) error {
	if _, err := parseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 0); err != nil {
		return err
	}
	if _, err := parseDurationOrDefault("catalog.timeout", cfg.Catalog.Timeout, 0); err != nil {
		return err
	}
	if _, err := parseDurationOrDefault("daily.grace", cfg.Daily.Grace, 0); err != nil {
		return err
	}
	if _, err := parseDurationOrDefault("daily.retry_delay", cfg.Daily.RetryDelay, 0); err != nil {
		return err
	}
	if _, err := parseDurationOrDefault("daily.send_delay", cfg.Daily.SendDelay, 0); err != nil {
		return err
	}
	if at := strings.TrimSpace(cfg.Daily.At); at != "" {
		if _, err := time.Parse("15:04", at); err != nil {
			return fmt.Errorf("daily.at: want HH:MM, got %q", at)
		}
	}
	if tz := strings.TrimSpace(cfg.Daily.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("daily.timezone: invalid %q: %w", tz, err)
		}
	}
	if _, err := notifier.ParsePolicy(cfg.Daily.Window); err != nil {
		return fmt.Errorf("daily.window: %w", err)
	}
	if _, err := notifier.ParseMode(cfg.Daily.Mode); err != nil {
		return fmt.Errorf("daily.mode: %w", err)
	}
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", slog.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Bound each shutdown step so one component cannot stall the stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", slog.String("name", name), slog.String("err", err.Error()))
			}
			a.log.Debug("stop step end", slog.String("name", name), slog.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				slog.String("name", name),
				slog.String("err", stepCtx.Err().Error()),
				slog.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// Plugins first since they depend on services.
	step("plugins", 4*time.Second, func(c context.Context) error { a.pm.StopAll(c, reason); return nil })

	step("daily", 2*time.Second, func(context.Context) error {
		if d := a.serv.Daily(); d != nil {
			d.Stop()
		}
		return nil
	})
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })

	// Wait for supervised goroutines (config watch/reload, dispatcher).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	if a.store != nil {
		step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })
	}
	_ = a.logs.Close()

	a.log.Info("stopped")
	return nil
}
