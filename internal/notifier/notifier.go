package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"formulabot/internal/formula"
	kit "formulabot/internal/kit"
	"formulabot/internal/storage"
	logx "formulabot/pkg/logx"
	"formulabot/pkg/tgui"
)

// ErrNoChannel aborts a pass when no notification chat is configured.
var ErrNoChannel = errors.New("notification channel not configured")

const (
	defaultGrace      = 5 * time.Minute
	defaultRetryDelay = time.Hour

	// stateLastNotified is the storage key recording the last reference
	// day a pass completed for, so a restart inside the grace window
	// does not notify twice.
	stateLastNotified = "daily.last_notified"
	stateDayLayout    = "2006-01-02"
)

// Catalog is the slice of the formula client the notifier needs.
type Catalog interface {
	Window(ctx context.Context, from, to time.Time) ([]formula.Record, error)
	Since(ctx context.Context, t time.Time) ([]formula.Record, error)
	Tags(ctx context.Context) ([]formula.Tag, error)
}

// Observer receives delivery accounting from every pass, scheduled or
// manual. Implemented by the metrics registry; nil disables it.
type Observer interface {
	ObserveDailyPass(ok bool)
	AddDelivered(n int)
	AddSendFailures(n int)
}

// Config tunes the daily notification loop.
type Config struct {
	Enabled bool
	At      string // "HH:MM" in Timezone
	// Timezone is an IANA name. Empty uses the catalog's reference zone.
	Timezone string
	// Grace fires immediately when the loop wakes shortly after today's
	// fire instant instead of waiting a day.
	Grace      time.Duration
	RetryDelay time.Duration
	Policy     WindowPolicy
	Render     RenderConfig
	Target     kit.ChatTarget
	// Observer gets pass/delivery counts; nil is fine.
	Observer Observer
}

// Service runs one delivery pass per day at the configured local time.
// At most one loop runs per process; the composition root owns the
// handle and injects it into the command plugins.
type Service struct {
	log      logx.Logger
	catalog  Catalog
	renderer *Renderer
	store    storage.Store // may be nil

	cfg   Config
	loc   *time.Location
	sched cron.Schedule

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	// lastNotified mirrors the storage key when no store is configured.
	lastNotified string

	now func() time.Time
}

func New(cfg Config, catalog Catalog, adapter kit.Adapter, store storage.Store, log logx.Logger) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	hh, mm, err := parseFireTime(cfg.At)
	if err != nil {
		return nil, err
	}
	sched, err := cron.ParseStandard(fmt.Sprintf("%d %d * * *", mm, hh))
	if err != nil {
		return nil, fmt.Errorf("daily schedule: %w", err)
	}

	loc := formula.ReferenceZone
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("daily timezone: %w", err)
		}
	}
	if cfg.Grace <= 0 {
		cfg.Grace = defaultGrace
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyDay
	}

	return &Service{
		log:      log.With(logx.String("comp", "daily")),
		catalog:  catalog,
		renderer: NewRenderer(cfg.Render, adapter, log),
		store:    store,
		cfg:      cfg,
		loc:      loc,
		sched:    sched,
		now:      time.Now,
	}, nil
}

// Running reports whether the loop is live.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil
}

// NextFire returns the next scheduled fire instant in the reference zone.
func (s *Service) NextFire() time.Time {
	now := s.now().In(s.loc)
	return s.nextFire(now)
}

// Start launches the daily loop. A no-op when already running.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	go s.run(runCtx, done)
}

// Stop cancels the in-flight wait immediately and waits for the loop to
// exit. A no-op when stopped.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Service) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	s.log.Info("daily loop started", logx.String("at", s.cfg.At), logx.String("policy", string(s.cfg.Policy)))

	for {
		now := s.now().In(s.loc)
		fire := s.nextFire(now)
		if wait := fire.Sub(now); wait > 0 {
			s.log.Debug("daily waiting", logx.Time("fire", fire), logx.Duration("wait", wait))
			if !sleep(ctx, wait) {
				return
			}
		}

		ref := s.now().In(s.loc)
		for {
			count, err := s.Pass(ctx, ref)
			if err == nil {
				s.log.Info("daily pass done", logx.Int("records", count))
				s.markNotified(ref)
				break
			}
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("daily pass failed", logx.Any("err", err), logx.Duration("retry_in", s.cfg.RetryDelay))
			if !sleep(ctx, s.cfg.RetryDelay) {
				return
			}
		}
	}
}

// nextFire returns when the loop should next deliver. When now sits just
// past today's fire instant (within the grace) and today has not been
// notified yet, it fires immediately.
func (s *Service) nextFire(now time.Time) time.Time {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	fire := s.sched.Next(today.Add(-time.Second))
	if !now.Before(fire) && now.Before(fire.Add(s.cfg.Grace)) && !s.notifiedOn(now) {
		return now
	}
	return s.sched.Next(now)
}

// Check runs one delivery pass for the given day and returns the record
// count. A zero day means today. This is the manual-trigger path; it
// shares all logic with the scheduled pass.
func (s *Service) Check(ctx context.Context, day time.Time) (int, error) {
	ref := day
	if ref.IsZero() {
		ref = s.now()
	}
	ref = ref.In(s.loc)
	count, err := s.Pass(ctx, ref)
	if err != nil {
		return 0, err
	}
	if sameDay(ref, s.now().In(s.loc)) {
		s.markNotified(ref)
	}
	return count, nil
}

// Pass performs one delivery: fetch the window, render, send. A zero
// record count sends a single nothing-new notice. Individual send
// failures are logged by the renderer and do not fail the pass.
func (s *Service) Pass(ctx context.Context, ref time.Time) (int, error) {
	n, err := s.pass(ctx, ref)
	if s.cfg.Observer != nil {
		s.cfg.Observer.ObserveDailyPass(err == nil)
		if err == nil {
			s.cfg.Observer.AddDelivered(n)
		}
	}
	return n, err
}

func (s *Service) pass(ctx context.Context, ref time.Time) (int, error) {
	if s.cfg.Target.ChatID == 0 {
		return 0, ErrNoChannel
	}
	from, to := bounds(s.cfg.Policy, ref, s.loc)

	var (
		recs []formula.Record
		err  error
	)
	if to.IsZero() {
		recs, err = s.catalog.Since(ctx, from)
	} else {
		recs, err = s.catalog.Window(ctx, from, to)
	}
	if err != nil {
		return 0, err
	}

	if len(recs) == 0 {
		body := tgui.I("No new formulas for " + ref.Format(stateDayLayout) + ".")
		_, err := s.renderer.adapter.SendText(ctx, s.cfg.Target, body.String(), &kit.SendOptions{ParseMode: "HTML"})
		if err != nil {
			return 0, fmt.Errorf("nothing-new notice: %w", err)
		}
		return 0, nil
	}

	tags := map[int]string{}
	if list, terr := s.catalog.Tags(ctx); terr == nil {
		for _, t := range list {
			tags[t.ID] = t.Name
		}
	} else {
		s.log.Warn("tag catalog fetch failed, using raw ids", logx.Any("err", terr))
	}

	sent, failedN := s.renderer.Deliver(ctx, s.cfg.Target, recs, tags)
	if failedN > 0 && s.cfg.Observer != nil {
		s.cfg.Observer.AddSendFailures(failedN)
	}
	s.log.Debug("daily delivered", logx.Int("records", len(recs)), logx.Int("sent", sent), logx.Int("failed", failedN))
	return len(recs), nil
}

func (s *Service) notifiedOn(day time.Time) bool {
	want := day.In(s.loc).Format(stateDayLayout)
	if s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		v, ok, err := s.store.GetState(ctx, stateLastNotified)
		cancel()
		if err == nil {
			return ok && v == want
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastNotified == want
}

func (s *Service) markNotified(day time.Time) {
	v := day.In(s.loc).Format(stateDayLayout)
	s.mu.Lock()
	s.lastNotified = v
	s.mu.Unlock()
	if s.store == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	if err := s.store.PutState(sctx, stateLastNotified, v); err != nil {
		s.log.Debug("persist last-notified failed", logx.Any("err", err))
	}
}

func parseFireTime(at string) (hh, mm int, err error) {
	at = strings.TrimSpace(at)
	if at == "" {
		return 0, 0, nil // midnight
	}
	t, err2 := time.Parse("15:04", at)
	if err2 != nil {
		return 0, 0, fmt.Errorf("daily fire time %q: want HH:MM", at)
	}
	return t.Hour(), t.Minute(), nil
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// sleep waits d or until ctx cancels; false means cancelled.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
