// Package daily gives operators control over the daily notification
// loop: status, start/stop, and a manual check for any date.
package daily

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"formulabot/internal/core"
	catalog "formulabot/internal/formula"
	"formulabot/internal/storage"
)

type Plugin struct {
	core.PluginBase
	log *slog.Logger
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "daily" }

func (p *Plugin) Init(ctx context.Context, deps core.PluginDeps) error {
	p.InitBase(deps)
	p.log = deps.Logger.With(slog.String("plugin", p.Name()))
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error {
	p.StopBase()
	return nil
}

func (p *Plugin) Commands() []core.Command {
	return []core.Command{
		{
			Route:       "daily status",
			Description: "show the notification loop state",
			Usage:       "/daily status",
			Access:      core.AccessOwnerOnly,
			Handle:      p.cmdStatus,
		},
		{
			Route:       "daily start",
			Description: "start the notification loop",
			Usage:       "/daily start",
			Access:      core.AccessOwnerOnly,
			Handle:      p.cmdStart,
		},
		{
			Route:       "daily stop",
			Description: "stop the notification loop",
			Usage:       "/daily stop",
			Access:      core.AccessOwnerOnly,
			Handle:      p.cmdStop,
		},
		{
			Route:       "daily check",
			Description: "deliver now for today or a given date",
			Usage:       "/daily check [YYYY-MM-DD]",
			Access:      core.AccessOwnerOnly,
			Timeout:     2 * time.Minute,
			Handle:      p.cmdCheck,
		},
	}
}

func (p *Plugin) cmdStatus(ctx context.Context, req *core.Request) error {
	d := req.Services.Daily()
	if d == nil {
		_, err := req.Adapter.SendText(ctx, req.Chat, "daily notifier is not configured", nil)
		return err
	}
	text := "daily: stopped"
	if d.Running() {
		next := d.NextFire()
		text = "daily: running, next fire " + next.Format("2006-01-02 15:04 MST")
	}
	_, err := req.Adapter.SendText(ctx, req.Chat, text, nil)
	return err
}

func (p *Plugin) cmdStart(ctx context.Context, req *core.Request) error {
	d := req.Services.Daily()
	if d == nil {
		_, err := req.Adapter.SendText(ctx, req.Chat, "daily notifier is not configured", nil)
		return err
	}
	if d.Running() {
		_, err := req.Adapter.SendText(ctx, req.Chat, "already running", nil)
		return err
	}
	// the loop outlives this request; bind it to the plugin lifecycle
	d.Start(p.Context())
	p.audit(ctx, req, "start", "", true, "")
	_, err := req.Adapter.SendText(ctx, req.Chat, "daily notifications started", nil)
	return err
}

func (p *Plugin) cmdStop(ctx context.Context, req *core.Request) error {
	d := req.Services.Daily()
	if d == nil || !d.Running() {
		_, err := req.Adapter.SendText(ctx, req.Chat, "not running", nil)
		return err
	}
	d.Stop()
	p.audit(ctx, req, "stop", "", true, "")
	_, err := req.Adapter.SendText(ctx, req.Chat, "daily notifications stopped", nil)
	return err
}

func (p *Plugin) cmdCheck(ctx context.Context, req *core.Request) error {
	d := req.Services.Daily()
	if d == nil {
		_, err := req.Adapter.SendText(ctx, req.Chat, "daily notifier is not configured", nil)
		return err
	}

	var day time.Time
	target := "today"
	if len(req.Args) > 0 {
		t, err := time.ParseInLocation("2006-01-02", req.Args[0], catalog.ReferenceZone)
		if err != nil {
			_, serr := req.Adapter.SendText(ctx, req.Chat, "bad date, want YYYY-MM-DD", nil)
			return serr
		}
		day = t
		target = req.Args[0]
	}

	count, err := d.Check(ctx, day)
	if err != nil {
		p.audit(ctx, req, "check", target, false, err.Error())
		_, _ = req.Adapter.SendText(ctx, req.Chat, "check failed: "+err.Error(), nil)
		return err
	}
	p.audit(ctx, req, "check", target, true, "")
	_, err = req.Adapter.SendText(ctx, req.Chat, fmt.Sprintf("delivered %d record(s) for %s", count, target), nil)
	return err
}

func (p *Plugin) audit(ctx context.Context, req *core.Request, action, target string, ok bool, errText string) {
	sv := p.Services()
	if sv == nil || sv.Store == nil {
		return
	}
	e := storage.AuditEntry{
		At:      time.Now(),
		ActorID: req.FromID,
		ChatID:  req.Chat.ChatID,
		Plugin:  p.Name(),
		Action:  action,
		Target:  target,
		Error:   errText,
	}
	if ok {
		e.OK = 1
	} else {
		e.Fail = 1
	}
	if err := sv.Store.AppendAudit(ctx, e); err != nil {
		p.log.Warn("audit append failed", slog.Any("err", err))
	}
}
