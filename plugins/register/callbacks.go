package register

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"formulabot/internal/core"
	"formulabot/internal/kit"
	"formulabot/internal/register"
	"formulabot/internal/storage"
	"formulabot/pkg/tgui"
)

func (p *Plugin) Callbacks() []core.CallbackRoute {
	return []core.CallbackRoute{
		{Action: "cat", Description: "toggle a category", Handle: p.cbCategory},
		{Action: "catdone", Description: "finish category selection", Handle: p.cbCategoryDone},
		{Action: "confirm", Description: "commit the draft", Handle: p.cbConfirm},
		{Action: "abort", Description: "cancel the submission", Handle: p.cbAbort},
	}
}

// resolve maps a callback payload's session id to the presser's live
// session. Stale keyboards and other users' buttons get a toast only.
func (p *Plugin) resolve(ctx context.Context, req *core.Request, sessionID string) *register.Session {
	s, err := p.sessions.Resolve(sessionID, req.FromID)
	if err == nil {
		return s
	}
	text := "This menu has expired."
	if errors.Is(err, register.ErrNotOwner) {
		text = "This is someone else's submission."
	}
	_ = req.Adapter.AnswerCallback(ctx, req.Update.Callback.ID, text)
	return nil
}

func (p *Plugin) cbCategory(ctx context.Context, req *core.Request, payload string) error {
	sid, name, ok := strings.Cut(payload, ":")
	if !ok {
		return nil
	}
	s := p.resolve(ctx, req, sid)
	if s == nil {
		return nil
	}
	s.Lock()
	defer s.Unlock()
	if err := s.Flow.ToggleCategory(name); err != nil {
		var verr *register.ValidationError
		if errors.As(err, &verr) {
			_ = req.Adapter.AnswerCallback(ctx, req.Update.Callback.ID, verr.Msg)
			return nil
		}
		return err
	}
	ref := kit.MessageRef{ChatID: req.Chat.ChatID, ThreadID: req.Chat.ThreadID, MessageID: req.Update.Callback.MessageID}
	return req.Adapter.EditText(ctx, ref, promptCategory,
		&kit.SendOptions{ReplyMarkupAdapter: categoryKeyboard(s)})
}

func (p *Plugin) cbCategoryDone(ctx context.Context, req *core.Request, payload string) error {
	s := p.resolve(ctx, req, payload)
	if s == nil {
		return nil
	}
	s.Lock()
	defer s.Unlock()
	if err := s.Flow.FinishCategories(); err != nil {
		var verr *register.ValidationError
		if errors.As(err, &verr) {
			_ = req.Adapter.AnswerCallback(ctx, req.Update.Callback.ID, verr.Msg)
			return nil
		}
		return err
	}

	tags, err := p.Services().Catalog.Tags(ctx)
	if err != nil {
		// tagging is optional; a broken tag fetch must not block the flow
		p.log.Warn("tag catalog fetch failed", slog.Any("err", err))
		tags = nil
	}
	s.Flow.SetTagCatalog(tags)
	_, err = req.Adapter.SendText(ctx, req.Chat, tagPrompt(tags), nil)
	return err
}

func (p *Plugin) cbConfirm(ctx context.Context, req *core.Request, payload string) error {
	s := p.resolve(ctx, req, payload)
	if s == nil {
		return nil
	}
	// Held across the append so a double press cannot commit twice: the
	// second press waits, then finds the flow past Confirm.
	s.Lock()
	defer s.Unlock()
	if s.Flow.State() != register.StateConfirm {
		_ = req.Adapter.AnswerCallback(ctx, req.Update.Callback.ID, "Nothing to submit.")
		return nil
	}

	id, err := p.Services().Catalog.Append(ctx, s.Flow.Draft())
	if err != nil {
		p.observe("failed")
		// the flow stays in confirm so the same button retries
		_, _ = req.Adapter.SendText(ctx, req.Chat, "Saving failed. Press Submit again to retry, or /cancel.", nil)
		return err
	}

	_ = s.Flow.MarkCommitted(id)
	p.sessions.End(s)
	p.observe("committed")
	p.audit(ctx, storage.AuditEntry{
		ActorID: req.FromID,
		ChatID:  req.Chat.ChatID,
		Action:  "commit",
		Target:  id,
		OK:      1,
	})

	body := tgui.Esc("Registered! The new formula id is "+id+".").String() +
		"\n" + tgui.Link("view it here", p.Services().Catalog.RecordURL(id)).String()
	_, err = req.Adapter.SendText(ctx, req.Chat, body, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

func (p *Plugin) cbAbort(ctx context.Context, req *core.Request, payload string) error {
	s := p.resolve(ctx, req, payload)
	if s == nil {
		return nil
	}
	s.Lock()
	s.Flow.Cancel()
	s.Unlock()
	p.sessions.End(s)
	p.observe("cancelled")
	_, err := req.Adapter.SendText(ctx, req.Chat, "Submission cancelled.", nil)
	return err
}
