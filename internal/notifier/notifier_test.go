package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"formulabot/internal/formula"
	kit "formulabot/internal/kit"
	logx "formulabot/pkg/logx"
)

type sentText struct {
	to   kit.ChatTarget
	text string
}

type sentPhoto struct {
	to      kit.ChatTarget
	url     string
	caption string
}

type fakeAdapter struct {
	mu     sync.Mutex
	texts  []sentText
	photos []sentPhoto

	// failTextAt fails the nth SendText call (1-based), once.
	failTextAt int
	textCalls  int
}

func (a *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (a *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.textCalls++
	if a.failTextAt > 0 && a.textCalls == a.failTextAt {
		return kit.MessageRef{}, errors.New("send failed")
	}
	a.texts = append(a.texts, sentText{to: to, text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: a.textCalls}, nil
}

func (a *fakeAdapter) SendPhoto(ctx context.Context, to kit.ChatTarget, photoURL, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.photos = append(a.photos, sentPhoto{to: to, url: photoURL, caption: caption})
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (a *fakeAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	return nil
}
func (a *fakeAdapter) AnswerCallback(ctx context.Context, callbackID, text string) error { return nil }

type fakeCatalog struct {
	recs []formula.Record
	tags []formula.Tag
	err  error

	gotFrom, gotTo time.Time
	sinceCalls     int
	windowCalls    int
}

func (c *fakeCatalog) Window(ctx context.Context, from, to time.Time) ([]formula.Record, error) {
	c.windowCalls++
	c.gotFrom, c.gotTo = from, to
	return c.recs, c.err
}

func (c *fakeCatalog) Since(ctx context.Context, t time.Time) ([]formula.Record, error) {
	c.sinceCalls++
	c.gotFrom, c.gotTo = t, time.Time{}
	return c.recs, c.err
}

func (c *fakeCatalog) Tags(ctx context.Context) ([]formula.Tag, error) {
	return c.tags, nil
}

func records(n int) []formula.Record {
	recs := make([]formula.Record, 0, n)
	for i := 1; i <= n; i++ {
		recs = append(recs, formula.Record{
			ID:       fmt.Sprintf("f_%03d", i),
			Title:    fmt.Sprintf("Formula %d", i),
			Body:     fmt.Sprintf("y = %d*x", i),
			ImageURL: fmt.Sprintf("https://img.example/%d.png", i),
			TagIDs:   []int{1},
		})
	}
	return recs
}

func newService(t *testing.T, cfg Config, cat Catalog, ad kit.Adapter) *Service {
	t.Helper()
	if cfg.Target.ChatID == 0 {
		cfg.Target = kit.ChatTarget{ChatID: -100}
	}
	if cfg.Render.SendDelay == 0 {
		cfg.Render.SendDelay = time.Millisecond
	}
	s, err := New(cfg, cat, ad, nil, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]WindowPolicy{"": PolicyDay, "day": PolicyDay, " Since ": PolicySince} {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Fatalf("ParsePolicy(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParsePolicy("week"); err == nil {
		t.Fatal("want error for unknown policy")
	}
}

func TestParseRenderMode(t *testing.T) {
	for in, want := range map[string]RenderMode{"": ModeSummary, "each": ModeEach, "SUMMARY": ModeSummary} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseMode("digest"); err == nil {
		t.Fatal("want error for unknown mode")
	}
}

func TestDayWindow(t *testing.T) {
	ref := time.Date(2026, 8, 29, 21, 30, 0, 0, formula.ReferenceZone)
	from, to := DayWindow(ref, formula.ReferenceZone)
	if from.Hour() != 0 || from.Day() != 29 {
		t.Fatalf("from = %v", from)
	}
	if !to.Equal(from.AddDate(0, 0, 1)) {
		t.Fatalf("to = %v", to)
	}
}

func TestPassNoChannel(t *testing.T) {
	cfg := Config{At: "00:00", Render: RenderConfig{SendDelay: time.Millisecond}}
	s, err := New(cfg, &fakeCatalog{}, &fakeAdapter{}, nil, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Pass(context.Background(), time.Now()); !errors.Is(err, ErrNoChannel) {
		t.Fatalf("err = %v, want ErrNoChannel", err)
	}
}

func TestPassNothingNew(t *testing.T) {
	ad := &fakeAdapter{}
	cat := &fakeCatalog{}
	s := newService(t, Config{At: "00:00"}, cat, ad)

	ref := time.Date(2026, 8, 29, 0, 1, 0, 0, formula.ReferenceZone)
	count, err := s.Pass(context.Background(), ref)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("count = %d, want 0", count)
	}
	if len(ad.texts) != 1 || !strings.Contains(ad.texts[0].text, "No new formulas") {
		t.Fatalf("texts = %v", ad.texts)
	}
	if cat.windowCalls != 1 || cat.gotFrom.Day() != 29 || cat.gotTo.Day() != 30 {
		t.Fatalf("window = [%v, %v), calls = %d", cat.gotFrom, cat.gotTo, cat.windowCalls)
	}
}

func TestPassSincePolicy(t *testing.T) {
	ad := &fakeAdapter{}
	cat := &fakeCatalog{recs: records(1)}
	s := newService(t, Config{At: "00:00", Policy: PolicySince}, cat, ad)

	ref := time.Date(2026, 8, 29, 0, 1, 0, 0, formula.ReferenceZone)
	if _, err := s.Pass(context.Background(), ref); err != nil {
		t.Fatal(err)
	}
	if cat.sinceCalls != 1 || cat.windowCalls != 0 {
		t.Fatalf("since = %d, window = %d", cat.sinceCalls, cat.windowCalls)
	}
	if cat.gotFrom.Hour() != 0 || cat.gotFrom.Day() != 29 {
		t.Fatalf("since from = %v", cat.gotFrom)
	}
}

func TestPassSummaryCapsAndOverflows(t *testing.T) {
	ad := &fakeAdapter{}
	cat := &fakeCatalog{recs: records(7), tags: []formula.Tag{{ID: 1, Name: "curves"}}}
	s := newService(t, Config{At: "00:00"}, cat, ad)

	count, err := s.Pass(context.Background(), time.Date(2026, 8, 29, 0, 1, 0, 0, formula.ReferenceZone))
	if err != nil {
		t.Fatal(err)
	}
	if count != 7 {
		t.Fatalf("count = %d, want 7", count)
	}
	if len(ad.texts) != 1 {
		t.Fatalf("texts = %d, want 1 digest", len(ad.texts))
	}
	digest := ad.texts[0].text
	if !strings.Contains(digest, "7 new formulas") {
		t.Fatalf("digest header missing: %q", digest)
	}
	if !strings.Contains(digest, "Formula 5") || strings.Contains(digest, "Formula 6") {
		t.Fatalf("digest cap wrong: %q", digest)
	}
	if !strings.Contains(digest, "and 2 more") {
		t.Fatalf("overflow note missing: %q", digest)
	}
	if len(ad.photos) != 3 {
		t.Fatalf("photos = %d, want 3", len(ad.photos))
	}
	if ad.photos[0].url != "https://img.example/1.png" {
		t.Fatalf("photo order wrong: %v", ad.photos)
	}
	if !strings.Contains(ad.photos[0].caption, "curves") {
		t.Fatalf("caption lacks tag name: %q", ad.photos[0].caption)
	}
}

func TestPassEachModeIsolatesFailures(t *testing.T) {
	ad := &fakeAdapter{failTextAt: 2}
	cat := &fakeCatalog{recs: records(3)}
	s := newService(t, Config{At: "00:00", Render: RenderConfig{Mode: ModeEach, SendDelay: time.Millisecond}}, cat, ad)

	count, err := s.Pass(context.Background(), time.Date(2026, 8, 29, 0, 1, 0, 0, formula.ReferenceZone))
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
	// 3 record texts with one failure, plus 3 photos.
	if len(ad.texts) != 2 {
		t.Fatalf("texts = %d, want 2 (one failed)", len(ad.texts))
	}
	if len(ad.photos) != 3 {
		t.Fatalf("photos = %d, want 3", len(ad.photos))
	}
	// Unknown tag ids fall back to the raw id.
	if !strings.Contains(ad.texts[0].text, "#1") {
		t.Fatalf("raw tag fallback missing: %q", ad.texts[0].text)
	}
}

func TestNextFireGrace(t *testing.T) {
	ad := &fakeAdapter{}
	s := newService(t, Config{At: "00:00", Grace: 5 * time.Minute}, &fakeCatalog{}, ad)

	// Inside the grace window, not yet notified: fire now.
	now := time.Date(2026, 8, 29, 0, 2, 0, 0, formula.ReferenceZone)
	if fire := s.nextFire(now); !fire.Equal(now) {
		t.Fatalf("fire = %v, want now", fire)
	}

	// Already notified today: skip to tomorrow.
	s.markNotified(now)
	if fire := s.nextFire(now); fire.Day() != 30 || fire.Hour() != 0 {
		t.Fatalf("fire = %v, want tomorrow 00:00", fire)
	}

	// Past the grace window: tomorrow regardless.
	later := time.Date(2026, 8, 29, 0, 6, 0, 0, formula.ReferenceZone)
	if fire := s.nextFire(later); fire.Day() != 30 {
		t.Fatalf("fire = %v, want tomorrow", fire)
	}

	// Before today's fire instant with a non-midnight schedule.
	s2 := newService(t, Config{At: "21:00"}, &fakeCatalog{}, ad)
	mid := time.Date(2026, 8, 29, 12, 0, 0, 0, formula.ReferenceZone)
	if fire := s2.nextFire(mid); fire.Day() != 29 || fire.Hour() != 21 {
		t.Fatalf("fire = %v, want today 21:00", fire)
	}
}

func TestCheckExplicitDate(t *testing.T) {
	ad := &fakeAdapter{}
	cat := &fakeCatalog{recs: records(2)}
	s := newService(t, Config{At: "00:00"}, cat, ad)
	s.now = func() time.Time {
		return time.Date(2026, 8, 29, 15, 0, 0, 0, formula.ReferenceZone)
	}

	day := time.Date(2026, 8, 10, 0, 0, 0, 0, formula.ReferenceZone)
	count, err := s.Check(context.Background(), day)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
	if cat.gotFrom.Day() != 10 || cat.gotTo.Day() != 11 {
		t.Fatalf("window = [%v, %v)", cat.gotFrom, cat.gotTo)
	}
	// A past-day check must not mark today notified.
	if s.notifiedOn(s.now()) {
		t.Fatal("past-day check marked today notified")
	}
}

func TestStartStop(t *testing.T) {
	ad := &fakeAdapter{}
	s := newService(t, Config{At: "00:00"}, &fakeCatalog{}, ad)
	// Keep the loop waiting: mid-day, fire at midnight.
	s.now = func() time.Time {
		return time.Date(2026, 8, 29, 12, 0, 0, 0, formula.ReferenceZone)
	}

	s.Start(context.Background())
	if !s.Running() {
		t.Fatal("not running after Start")
	}
	s.Start(context.Background()) // idempotent

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not cancel the wait")
	}
	if s.Running() {
		t.Fatal("still running after Stop")
	}
	s.Stop() // idempotent
	if len(ad.texts) != 0 {
		t.Fatalf("unexpected sends: %v", ad.texts)
	}
}
