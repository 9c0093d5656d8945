// Package formula exposes the catalog browsing commands: lookup by id,
// full-text search, random pick, category filter and the tag list.
package formula

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"formulabot/internal/core"
	catalog "formulabot/internal/formula"
	"formulabot/internal/kit"
	"formulabot/internal/register"
	"formulabot/pkg/tgui"
)

type Config struct {
	// MaxResults caps list replies (search, category, latest).
	MaxResults int `json:"max_results"`
}

type Plugin struct {
	core.PluginBase
	log *slog.Logger

	mu  sync.Mutex
	cfg Config
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "formula" }

func (p *Plugin) Init(ctx context.Context, deps core.PluginDeps) error {
	p.InitBase(deps)
	p.log = deps.Logger.With(slog.String("plugin", p.Name()))
	return nil
}

func (p *Plugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	c, err := core.DecodePluginConfig[Config](raw)
	if err != nil {
		return err
	}
	if c.MaxResults <= 0 {
		c.MaxResults = 5
	}
	p.mu.Lock()
	p.cfg = c
	p.mu.Unlock()
	return nil
}

// maxResults is read by handlers on dispatch workers while reloads
// rewrite the config.
func (p *Plugin) maxResults() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg.MaxResults <= 0 {
		return 5
	}
	return p.cfg.MaxResults
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error {
	p.StopBase()
	return nil
}

var htmlOpts = &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}

func (p *Plugin) Commands() []core.Command {
	return []core.Command{
		{
			Route:       "get",
			Description: "show one formula by id",
			Usage:       "/get <id>",
			Access:      core.AccessEveryone,
			Handle:      p.cmdGet,
		},
		{
			Route:       "search",
			Aliases:     []string{"find"},
			Description: "search formulas by title or expression",
			Usage:       "/search <query>",
			Access:      core.AccessEveryone,
			Handle:      p.cmdSearch,
		},
		{
			Route:       "random",
			Description: "show a random formula",
			Usage:       "/random",
			Access:      core.AccessEveryone,
			Handle:      p.cmdRandom,
		},
		{
			Route:       "category",
			Aliases:     []string{"cat"},
			Description: "list formulas in a category",
			Usage:       "/category [name]",
			Access:      core.AccessEveryone,
			Handle:      p.cmdCategory,
		},
		{
			Route:       "tags",
			Description: "list the tag catalog",
			Usage:       "/tags",
			Access:      core.AccessEveryone,
			Handle:      p.cmdTags,
		},
		{
			Route:       "latest",
			Description: "show the newest formulas",
			Usage:       "/latest",
			Access:      core.AccessEveryone,
			Handle:      p.cmdLatest,
		},
	}
}

func (p *Plugin) cmdGet(ctx context.Context, req *core.Request) error {
	if len(req.Args) == 0 {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "usage: /get <id>", nil)
		return nil
	}
	id := req.Args[0]
	rec, err := req.Services.Catalog.Get(ctx, id)
	if errors.Is(err, catalog.ErrNotFound) {
		_, _ = req.Adapter.SendText(ctx, req.Chat, fmt.Sprintf("no formula with id %s", id), nil)
		return nil
	}
	if err != nil {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "catalog unavailable, try again later", nil)
		return err
	}
	return p.sendRecord(ctx, req, rec)
}

func (p *Plugin) cmdSearch(ctx context.Context, req *core.Request) error {
	query := strings.TrimSpace(strings.Join(req.Args, " "))
	if query == "" {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "usage: /search <query>", nil)
		return nil
	}
	recs, err := req.Services.Catalog.Search(ctx, query)
	if err != nil {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "catalog unavailable, try again later", nil)
		return err
	}
	if len(recs) == 0 {
		_, _ = req.Adapter.SendText(ctx, req.Chat, fmt.Sprintf("nothing found for %q", query), nil)
		return nil
	}
	return p.sendList(ctx, req, fmt.Sprintf("results for %q", query), recs)
}

func (p *Plugin) cmdRandom(ctx context.Context, req *core.Request) error {
	rec, err := req.Services.Catalog.Random(ctx)
	if errors.Is(err, catalog.ErrNotFound) {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "the catalog is empty", nil)
		return nil
	}
	if err != nil {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "catalog unavailable, try again later", nil)
		return err
	}
	return p.sendRecord(ctx, req, rec)
}

func (p *Plugin) cmdCategory(ctx context.Context, req *core.Request) error {
	if len(req.Args) == 0 {
		names := strings.Join(register.Categories, ", ")
		_, _ = req.Adapter.SendText(ctx, req.Chat, "categories: "+names+"\nusage: /category <name>", nil)
		return nil
	}
	name := strings.ToLower(req.Args[0])
	recs, err := req.Services.Catalog.ByCategory(ctx, name)
	if err != nil {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "catalog unavailable, try again later", nil)
		return err
	}
	if len(recs) == 0 {
		_, _ = req.Adapter.SendText(ctx, req.Chat, fmt.Sprintf("no formulas in category %q", name), nil)
		return nil
	}
	return p.sendList(ctx, req, "category "+name, recs)
}

func (p *Plugin) cmdTags(ctx context.Context, req *core.Request) error {
	tags, err := req.Services.Catalog.Tags(ctx)
	if err != nil {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "catalog unavailable, try again later", nil)
		return err
	}
	if len(tags) == 0 {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "no tags defined yet", nil)
		return nil
	}
	var b strings.Builder
	b.WriteString(tgui.B("tags").String())
	for _, t := range tags {
		b.WriteString("\n")
		b.WriteString(tgui.Esc(fmt.Sprintf("%d. %s", t.ID, t.Name)).String())
		if t.NameEN != "" && t.NameEN != t.Name {
			b.WriteString(" ")
			b.WriteString(tgui.I(t.NameEN).String())
		}
	}
	_, err = req.Adapter.SendText(ctx, req.Chat, b.String(), htmlOpts)
	return err
}

func (p *Plugin) cmdLatest(ctx context.Context, req *core.Request) error {
	recs, err := req.Services.Catalog.All(ctx)
	if err != nil {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "catalog unavailable, try again later", nil)
		return err
	}
	if len(recs) == 0 {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "the catalog is empty", nil)
		return nil
	}
	return p.sendList(ctx, req, "latest formulas", recs)
}

func (p *Plugin) sendRecord(ctx context.Context, req *core.Request, rec catalog.Record) error {
	names := p.tagNames(ctx, req)
	if _, err := req.Adapter.SendText(ctx, req.Chat, recordCard(rec, names), htmlOpts); err != nil {
		return err
	}
	if rec.ImageURL != "" {
		if _, err := req.Adapter.SendPhoto(ctx, req.Chat, rec.ImageURL, rec.Title, nil); err != nil {
			p.log.Warn("photo send failed", slog.String("id", rec.ID), slog.Any("err", err))
		}
	}
	return nil
}

func (p *Plugin) sendList(ctx context.Context, req *core.Request, header string, recs []catalog.Record) error {
	limit := p.maxResults()
	var b strings.Builder
	b.WriteString(tgui.B(header).String())
	for i, r := range recs {
		if i >= limit {
			b.WriteString("\n")
			b.WriteString(tgui.I(fmt.Sprintf("and %d more. narrow it down, or /get <id>.", len(recs)-limit)).String())
			break
		}
		b.WriteString("\n")
		b.WriteString(recordLine(r))
	}
	_, err := req.Adapter.SendText(ctx, req.Chat, b.String(), htmlOpts)
	return err
}

// tagNames fetches the tag catalog for hashtag rendering. A fetch
// failure degrades to id-less output instead of failing the command.
func (p *Plugin) tagNames(ctx context.Context, req *core.Request) map[int]string {
	tags, err := req.Services.Catalog.Tags(ctx)
	if err != nil {
		p.log.Warn("tag catalog fetch failed", slog.Any("err", err))
		return nil
	}
	names := make(map[int]string, len(tags))
	for _, t := range tags {
		names[t.ID] = t.Name
	}
	return names
}
