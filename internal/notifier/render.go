package notifier

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"formulabot/internal/formula"
	kit "formulabot/internal/kit"
	logx "formulabot/pkg/logx"
	"formulabot/pkg/tgui"
)

// RenderMode selects how a delivery pass presents its records.
type RenderMode string

const (
	// ModeEach sends one message (plus image) per record.
	ModeEach RenderMode = "each"
	// ModeSummary sends one capped digest plus a few image details.
	ModeSummary RenderMode = "summary"
)

// ParseMode validates a config string. Empty means the default.
func ParseMode(s string) (RenderMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ModeSummary):
		return ModeSummary, nil
	case string(ModeEach):
		return ModeEach, nil
	default:
		return "", fmt.Errorf("unknown render mode %q (want %q or %q)", s, ModeEach, ModeSummary)
	}
}

const (
	defaultSummaryLimit = 5
	defaultMaxImages    = 3
	defaultSendDelay    = time.Second
	excerptRunes        = 100
)

// RenderConfig tunes the renderer. Zero values take the defaults above.
type RenderConfig struct {
	Mode         RenderMode
	SummaryLimit int
	MaxImages    int
	SendDelay    time.Duration
}

// Renderer turns a batch of records into chat messages, pacing sends so
// the platform does not throttle us. One failed send is logged and the
// rest of the batch continues.
type Renderer struct {
	adapter kit.Adapter
	log     logx.Logger

	mode         RenderMode
	summaryLimit int
	maxImages    int
	limiter      *rate.Limiter
}

func NewRenderer(cfg RenderConfig, adapter kit.Adapter, log logx.Logger) *Renderer {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeSummary
	}
	if cfg.SummaryLimit <= 0 {
		cfg.SummaryLimit = defaultSummaryLimit
	}
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = defaultMaxImages
	}
	if cfg.SendDelay <= 0 {
		cfg.SendDelay = defaultSendDelay
	}
	return &Renderer{
		adapter:      adapter,
		log:          log,
		mode:         cfg.Mode,
		summaryLimit: cfg.SummaryLimit,
		maxImages:    cfg.MaxImages,
		limiter:      rate.NewLimiter(rate.Every(cfg.SendDelay), 1),
	}
}

// Deliver sends recs to target in store order and reports how many sends
// succeeded and failed.
func (r *Renderer) Deliver(ctx context.Context, target kit.ChatTarget, recs []formula.Record, tags map[int]string) (sent, failed int) {
	if len(recs) == 0 {
		return 0, 0
	}
	switch r.mode {
	case ModeEach:
		return r.deliverEach(ctx, target, recs, tags)
	default:
		return r.deliverSummary(ctx, target, recs, tags)
	}
}

func (r *Renderer) deliverEach(ctx context.Context, target kit.ChatTarget, recs []formula.Record, tags map[int]string) (sent, failed int) {
	for _, rec := range recs {
		if ctx.Err() != nil {
			return sent, failed
		}
		if r.sendText(ctx, target, recordBody(rec, tags)) {
			sent++
		} else {
			failed++
		}
		if rec.ImageURL == "" {
			continue
		}
		if r.sendPhoto(ctx, target, rec.ImageURL, rec.Title) {
			sent++
		} else {
			failed++
		}
	}
	return sent, failed
}

func (r *Renderer) deliverSummary(ctx context.Context, target kit.ChatTarget, recs []formula.Record, tags map[int]string) (sent, failed int) {
	if r.sendText(ctx, target, summaryBody(recs, r.summaryLimit)) {
		sent++
	} else {
		failed++
	}

	shown := 0
	for _, rec := range recs {
		if shown >= r.maxImages || ctx.Err() != nil {
			break
		}
		if rec.ImageURL == "" {
			continue
		}
		if r.sendPhoto(ctx, target, rec.ImageURL, captionFor(rec, tags)) {
			sent++
		} else {
			failed++
		}
		shown++
	}
	return sent, failed
}

func (r *Renderer) sendText(ctx context.Context, target kit.ChatTarget, body tgui.H) bool {
	if err := r.limiter.Wait(ctx); err != nil {
		return false
	}
	_, err := r.adapter.SendText(ctx, target, body.String(), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	if err != nil {
		r.log.Warn("delivery send failed", logx.Any("err", err), logx.Int64("chat", target.ChatID))
		return false
	}
	return true
}

func (r *Renderer) sendPhoto(ctx context.Context, target kit.ChatTarget, url, caption string) bool {
	if err := r.limiter.Wait(ctx); err != nil {
		return false
	}
	_, err := r.adapter.SendPhoto(ctx, target, url, caption, nil)
	if err != nil {
		r.log.Warn("delivery photo failed", logx.Any("err", err), logx.Int64("chat", target.ChatID))
		return false
	}
	return true
}

// recordBody renders one record in full.
func recordBody(rec formula.Record, tags map[int]string) tgui.H {
	title := tgui.B(rec.Title)
	if rec.TitleEN != "" {
		title = tgui.JoinH(" ", title, tgui.I("("+rec.TitleEN+")"))
	}
	parts := []tgui.H{title, tgui.Pre(rec.Body)}
	if len(rec.Categories) > 0 {
		parts = append(parts, tgui.Esc("type: "+strings.Join(rec.Categories, ", ")))
	}
	if names := tagNames(rec, tags); len(names) > 0 {
		parts = append(parts, tgui.Esc("tags: "+strings.Join(names, ", ")))
	}
	return tgui.JoinH("\n", parts...)
}

// summaryBody renders the capped digest.
func summaryBody(recs []formula.Record, limit int) tgui.H {
	var b strings.Builder
	b.WriteString(tgui.B(fmt.Sprintf("%d new formulas", len(recs))).String())
	b.WriteString("\n")
	shown := len(recs)
	if shown > limit {
		shown = limit
	}
	for i := 0; i < shown; i++ {
		rec := recs[i]
		line := tgui.JoinH(" ",
			tgui.Esc(strconv.Itoa(i+1)+"."),
			tgui.B(rec.Title),
			tgui.Code(tgui.TruncRunes(rec.Body, excerptRunes)),
		)
		b.WriteString("\n")
		b.WriteString(line.String())
	}
	if rest := len(recs) - shown; rest > 0 {
		b.WriteString("\n\n")
		b.WriteString(tgui.I(fmt.Sprintf("…and %d more", rest)).String())
	}
	return tgui.Raw(b.String())
}

// captionFor is the short plain-text caption under a detail image.
func captionFor(rec formula.Record, tags map[int]string) string {
	caption := rec.Title
	if names := tagNames(rec, tags); len(names) > 0 {
		caption += " [" + strings.Join(names, ", ") + "]"
	}
	return caption
}

// tagNames resolves tag ids via the catalog, falling back to the raw id
// when the catalog does not know it.
func tagNames(rec formula.Record, tags map[int]string) []string {
	if len(rec.TagIDs) == 0 {
		return nil
	}
	names := make([]string, 0, len(rec.TagIDs))
	for _, id := range rec.TagIDs {
		if name, ok := tags[id]; ok && name != "" {
			names = append(names, name)
		} else {
			names = append(names, "#"+strconv.Itoa(id))
		}
	}
	return names
}
