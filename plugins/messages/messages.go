// Package messages manages named reusable texts (announcements, FAQ
// answers) persisted in the storage backend.
package messages

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"formulabot/internal/core"
	"formulabot/internal/kit"
	"formulabot/internal/storage"
)

type Plugin struct {
	core.PluginBase
	log *slog.Logger
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "messages" }

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
			Route:       "msg list",
			Description: "list saved messages",
			Usage:       "/msg list",
			Access:      core.AccessOwnerOnly,
			Handle:      p.cmdList,
		},
		{
			Route:       "msg add",
			Description: "save a new message",
			Usage:       "/msg add <name> <text...>",
			Access:      core.AccessOwnerOnly,
			Handle:      p.cmdAdd,
		},
		{
			Route:       "msg edit",
			Description: "replace an existing message",
			Usage:       "/msg edit <name> <text...>",
			Access:      core.AccessOwnerOnly,
			Handle:      p.cmdEdit,
		},
		{
			Route:       "msg show",
			Description: "show a saved message",
			Usage:       "/msg show <name>",
			Access:      core.AccessOwnerOnly,
			Handle:      p.cmdShow,
		},
		{
			Route:       "msg remove",
			Description: "delete a saved message",
			Usage:       "/msg remove <name>",
			Access:      core.AccessOwnerOnly,
			Handle:      p.cmdRemove,
		},
		{
			Route:       "msg send",
			Description: "send a saved message here or to a chat id",
			Usage:       "/msg send <name> [chat_id]",
			Access:      core.AccessOwnerOnly,
			Handle:      p.cmdSend,
		},
	}
}

func (p *Plugin) store(ctx context.Context, req *core.Request) storage.Store {
	if req.Services == nil || req.Services.Store == nil {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "storage is disabled", nil)
		return nil
	}
	return req.Services.Store
}

func (p *Plugin) cmdList(ctx context.Context, req *core.Request) error {
	st := p.store(ctx, req)
	if st == nil {
		return nil
	}
	names, err := st.ListMessages(ctx)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		_, err := req.Adapter.SendText(ctx, req.Chat, "no saved messages", nil)
		return err
	}
	_, err = req.Adapter.SendText(ctx, req.Chat, strings.Join(names, "\n"), nil)
	return err
}

func (p *Plugin) cmdAdd(ctx context.Context, req *core.Request) error {
	st := p.store(ctx, req)
	if st == nil {
		return nil
	}
	if len(req.Args) < 2 {
		_, err := req.Adapter.SendText(ctx, req.Chat, "usage: /msg add <name> <text...>", nil)
		return err
	}
	name := req.Args[0]
	if _, ok, err := st.GetMessage(ctx, name); err != nil {
		return err
	} else if ok {
		_, err := req.Adapter.SendText(ctx, req.Chat, name+" already exists, use /msg edit", nil)
		return err
	}
	text := strings.Join(req.Args[1:], " ")
	if err := st.PutMessage(ctx, name, text); err != nil {
		return err
	}
	p.audit(ctx, st, req, "add", name)
	_, err := req.Adapter.SendText(ctx, req.Chat, "saved "+name, nil)
	return err
}

func (p *Plugin) cmdEdit(ctx context.Context, req *core.Request) error {
	st := p.store(ctx, req)
	if st == nil {
		return nil
	}
	if len(req.Args) < 2 {
		_, err := req.Adapter.SendText(ctx, req.Chat, "usage: /msg edit <name> <text...>", nil)
		return err
	}
	name := req.Args[0]
	if _, ok, err := st.GetMessage(ctx, name); err != nil {
		return err
	} else if !ok {
		_, err := req.Adapter.SendText(ctx, req.Chat, "no such message, use /msg add", nil)
		return err
	}
	text := strings.Join(req.Args[1:], " ")
	if err := st.PutMessage(ctx, name, text); err != nil {
		return err
	}
	p.audit(ctx, st, req, "edit", name)
	_, err := req.Adapter.SendText(ctx, req.Chat, "updated "+name, nil)
	return err
}

func (p *Plugin) cmdShow(ctx context.Context, req *core.Request) error {
	st := p.store(ctx, req)
	if st == nil {
		return nil
	}
	if len(req.Args) < 1 {
		_, err := req.Adapter.SendText(ctx, req.Chat, "usage: /msg show <name>", nil)
		return err
	}
	text, ok, err := st.GetMessage(ctx, req.Args[0])
	if err != nil {
		return err
	}
	if !ok {
		_, err := req.Adapter.SendText(ctx, req.Chat, "no such message", nil)
		return err
	}
	_, err = req.Adapter.SendText(ctx, req.Chat, text, nil)
	return err
}

func (p *Plugin) cmdRemove(ctx context.Context, req *core.Request) error {
	st := p.store(ctx, req)
	if st == nil {
		return nil
	}
	if len(req.Args) < 1 {
		_, err := req.Adapter.SendText(ctx, req.Chat, "usage: /msg remove <name>", nil)
		return err
	}
	if err := st.DeleteMessage(ctx, req.Args[0]); err != nil {
		return err
	}
	p.audit(ctx, st, req, "remove", req.Args[0])
	_, err := req.Adapter.SendText(ctx, req.Chat, "deleted "+req.Args[0], nil)
	return err
}

func (p *Plugin) cmdSend(ctx context.Context, req *core.Request) error {
	st := p.store(ctx, req)
	if st == nil {
		return nil
	}
	if len(req.Args) < 1 {
		_, err := req.Adapter.SendText(ctx, req.Chat, "usage: /msg send <name> [chat_id]", nil)
		return err
	}
	text, ok, err := st.GetMessage(ctx, req.Args[0])
	if err != nil {
		return err
	}
	if !ok {
		_, err := req.Adapter.SendText(ctx, req.Chat, "no such message", nil)
		return err
	}

	target := req.Chat
	if len(req.Args) > 1 {
		id, perr := strconv.ParseInt(req.Args[1], 10, 64)
		if perr != nil {
			_, err := req.Adapter.SendText(ctx, req.Chat, "bad chat id", nil)
			return err
		}
		target = kit.ChatTarget{ChatID: id}
	}
	if _, err := req.Adapter.SendText(ctx, target, text, nil); err != nil {
		return err
	}
	p.audit(ctx, st, req, "send", req.Args[0])
	if target != req.Chat {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "sent", nil)
	}
	return nil
}

func (p *Plugin) audit(ctx context.Context, st storage.Store, req *core.Request, action, target string) {
	e := storage.AuditEntry{
		At:      time.Now(),
		ActorID: req.FromID,
		ChatID:  req.Chat.ChatID,
		Plugin:  p.Name(),
		Action:  action,
		Target:  target,
		OK:      1,
	}
	if err := st.AppendAudit(ctx, e); err != nil {
		p.log.Warn("audit append failed", slog.Any("err", err))
	}
}
