// Package register drives the guided formula submission workflow: a
// per-user session collects title, expression, image, categories and
// tags step by step, then commits the draft to the catalog on confirm.
package register

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"formulabot/internal/core"
	"formulabot/internal/kit"
	"formulabot/internal/register"
	"formulabot/internal/storage"
)

type Config struct {
	// Timeout is the idle expiry for a submission session (Go duration).
	Timeout string `json:"timeout"`
	// SweepInterval is how often expired sessions are reaped (Go duration).
	SweepInterval string `json:"sweep_interval"`
}

type Plugin struct {
	core.PluginBase
	log *slog.Logger

	// sessions is created once in Init; reloads retune it in place so
	// live drafts survive a config change.
	sessions *register.Manager

	mu       sync.Mutex
	sweepEvr time.Duration
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "register" }

func (p *Plugin) Init(ctx context.Context, deps core.PluginDeps) error {
	p.InitBase(deps)
	p.log = deps.Logger.With(slog.String("plugin", p.Name()))
	if p.sessions == nil {
		p.sessions = register.NewManager(0)
	}
	if p.sweepEvr <= 0 {
		p.sweepEvr = 30 * time.Second
	}
	return nil
}

func (p *Plugin) ValidateConfig(ctx context.Context, raw json.RawMessage) error {
	c, err := core.DecodePluginConfig[Config](raw)
	if err != nil {
		return err
	}
	for _, f := range []struct{ name, v string }{
		{"timeout", c.Timeout},
		{"sweep_interval", c.SweepInterval},
	} {
		if strings.TrimSpace(f.v) == "" {
			continue
		}
		if _, err := time.ParseDuration(f.v); err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
	}
	return nil
}

func (p *Plugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	c, err := core.DecodePluginConfig[Config](raw)
	if err != nil {
		return err
	}
	timeout := time.Duration(0)
	if s := strings.TrimSpace(c.Timeout); s != "" {
		timeout, _ = time.ParseDuration(s)
	}
	p.sessions.SetTimeout(timeout)

	evr := 30 * time.Second
	if s := strings.TrimSpace(c.SweepInterval); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			evr = d
		}
	}
	p.mu.Lock()
	p.sweepEvr = evr
	p.mu.Unlock()
	return nil
}

// sweepEvery is read by the sweep loop, written by config reloads.
func (p *Plugin) sweepEvery() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sweepEvr
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	if cm := p.Deps().Commands; cm != nil {
		cm.SetTextInterceptor(p.onText)
	}
	go p.sweepLoop(ctx)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error {
	if cm := p.Deps().Commands; cm != nil {
		cm.SetTextInterceptor(nil)
	}
	p.StopBase()
	return nil
}

func (p *Plugin) Commands() []core.Command {
	return []core.Command{
		{
			Route:       "register",
			Aliases:     []string{"submit"},
			Description: "submit a new formula",
			Usage:       "/register",
			Access:      core.AccessEveryone,
			Handle:      p.cmdRegister,
		},
		{
			Route:       "cancel",
			Description: "cancel your in-progress submission",
			Usage:       "/cancel",
			Access:      core.AccessEveryone,
			Handle:      p.cmdCancel,
		},
	}
}

func (p *Plugin) cmdRegister(ctx context.Context, req *core.Request) error {
	s, replaced := p.sessions.Begin(req.FromID, req.Chat.ChatID)
	s.Lock()
	err := s.Flow.Start()
	s.Unlock()
	if err != nil {
		return err
	}
	if replaced != nil {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "Your previous draft was discarded.", nil)
	}
	_, err = req.Adapter.SendText(ctx, req.Chat, promptTitle, nil)
	return err
}

func (p *Plugin) cmdCancel(ctx context.Context, req *core.Request) error {
	s, err := p.sessions.ByUser(req.FromID)
	if errors.Is(err, register.ErrNoSession) {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "You have no submission in progress.", nil)
		return nil
	}
	if err != nil {
		return err
	}
	s.Lock()
	s.Flow.Cancel()
	s.Unlock()
	p.sessions.End(s)
	p.observe("cancelled")
	_, err = req.Adapter.SendText(ctx, req.Chat, "Submission cancelled.", nil)
	return err
}

// onText feeds plain messages into the sender's live session.
// Messages from users without a session stay unhandled.
func (p *Plugin) onText(ctx context.Context, req *core.Request) (bool, error) {
	msg := req.Update.Message
	if msg == nil {
		return false, nil
	}
	s, err := p.sessions.ByUser(req.FromID)
	if err != nil {
		return false, nil
	}
	if s.ChatID != req.Chat.ChatID {
		// a session is per chat; text elsewhere is not ours
		return false, nil
	}

	// Two workers can carry texts from the same user at once; the
	// session lock makes the flow see them one at a time.
	s.Lock()
	defer s.Unlock()

	switch s.Flow.State() {
	case register.StateTitle:
		return true, p.step(ctx, req, s, s.Flow.SubmitTitle(msg.Text), promptTitleEN)
	case register.StateTitleEN:
		return true, p.step(ctx, req, s, s.Flow.SubmitTitleEN(msg.Text), promptBody)
	case register.StateBody:
		return true, p.step(ctx, req, s, s.Flow.SubmitBody(msg.Text), promptImageURL)
	case register.StateImageURL:
		if err := s.Flow.SubmitImageURL(msg.Text); err != nil {
			return true, p.reject(ctx, req, err)
		}
		_, err := req.Adapter.SendText(ctx, req.Chat, promptCategory,
			&kit.SendOptions{ReplyMarkupAdapter: categoryKeyboard(s)})
		return true, err
	case register.StateTags:
		if err := s.Flow.SubmitTagSelection(msg.Text); err != nil {
			return true, p.reject(ctx, req, err)
		}
		return true, p.sendConfirm(ctx, req.Adapter, s)
	case register.StateCategories, register.StateConfirm:
		_, err := req.Adapter.SendText(ctx, req.Chat, "Use the buttons above to continue, or /cancel.", nil)
		return true, err
	default:
		return false, nil
	}
}

// step handles the common text steps: on validation failure re-prompt,
// on success advance with the next prompt.
func (p *Plugin) step(ctx context.Context, req *core.Request, s *register.Session, err error, next string) error {
	if err != nil {
		return p.reject(ctx, req, err)
	}
	_, serr := req.Adapter.SendText(ctx, req.Chat, next, nil)
	return serr
}

// reject reports a validation error and keeps the flow on its step.
// Non-validation errors bubble up.
func (p *Plugin) reject(ctx context.Context, req *core.Request, err error) error {
	var verr *register.ValidationError
	if errors.As(err, &verr) {
		_, serr := req.Adapter.SendText(ctx, req.Chat, verr.Msg+". Try again, or /cancel.", nil)
		return serr
	}
	return err
}

func (p *Plugin) sendConfirm(ctx context.Context, ad kit.Adapter, s *register.Session) error {
	_, err := ad.SendText(ctx, kit.ChatTarget{ChatID: s.ChatID}, confirmSummary(s), &kit.SendOptions{
		ParseMode:          "HTML",
		DisablePreview:     true,
		ReplyMarkupAdapter: confirmKeyboard(s),
	})
	return err
}

func (p *Plugin) sweepLoop(ctx context.Context) {
	t := time.NewTimer(p.sweepEvery())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, s := range p.sessions.Sweep() {
				p.observe("timed_out")
				ad := p.Adapter()
				if ad == nil {
					continue
				}
				_, _ = ad.SendText(ctx, kit.ChatTarget{ChatID: s.ChatID},
					"Your submission timed out and was discarded. Start over with /register.", nil)
			}
			t.Reset(p.sweepEvery())
		}
	}
}

func (p *Plugin) observe(outcome string) {
	if sv := p.Services(); sv != nil && sv.Metrics != nil {
		sv.Metrics.ObserveSubmission(outcome)
	}
}

func (p *Plugin) audit(ctx context.Context, e storage.AuditEntry) {
	sv := p.Services()
	if sv == nil || sv.Store == nil {
		return
	}
	e.At = time.Now()
	e.Plugin = p.Name()
	if err := sv.Store.AppendAudit(ctx, e); err != nil {
		p.log.Warn("audit append failed", slog.Any("err", err))
	}
}
