package register

import (
	"errors"
	"strings"
	"testing"
	"time"

	"formulabot/internal/formula"
)

func advanceToTags(t *testing.T) *Flow {
	t.Helper()
	f := NewFlow()
	if err := f.Start(); err != nil {
		t.Fatal(err)
	}
	if err := f.SubmitTitle("Heart curve"); err != nil {
		t.Fatal(err)
	}
	if err := f.SubmitTitleEN("-"); err != nil {
		t.Fatal(err)
	}
	if err := f.SubmitBody("x^2 + (y - |x|^(2/3))^2 = 1"); err != nil {
		t.Fatal(err)
	}
	if err := f.SubmitImageURL("https://img.example/heart.png"); err != nil {
		t.Fatal(err)
	}
	if err := f.ToggleCategory("implicit"); err != nil {
		t.Fatal(err)
	}
	if err := f.FinishCategories(); err != nil {
		t.Fatal(err)
	}
	return f
}

func TestFlowHappyPath(t *testing.T) {
	f := advanceToTags(t)
	f.SetTagCatalog([]formula.Tag{{ID: 10, Name: "curves"}, {ID: 20, Name: "classic"}, {ID: 30, Name: "art"}})

	if err := f.SubmitTagSelection("1, 3"); err != nil {
		t.Fatal(err)
	}
	if f.State() != StateConfirm {
		t.Fatalf("state = %s, want %s", f.State(), StateConfirm)
	}

	d := f.Draft()
	if d.Title != "Heart curve" || d.TitleEN != "" {
		t.Fatalf("titles = %q / %q", d.Title, d.TitleEN)
	}
	if len(d.Categories) != 1 || d.Categories[0] != "implicit" {
		t.Fatalf("categories = %v", d.Categories)
	}
	if len(d.TagIDs) != 2 || d.TagIDs[0] != 10 || d.TagIDs[1] != 30 {
		t.Fatalf("tag ids = %v, want [10 30]", d.TagIDs)
	}

	if err := f.MarkCommitted("f_051"); err != nil {
		t.Fatal(err)
	}
	if f.State() != StateCommitted || f.CommittedID() != "f_051" {
		t.Fatalf("state = %s, id = %q", f.State(), f.CommittedID())
	}
}

func TestFlowValidationKeepsStep(t *testing.T) {
	f := NewFlow()
	if err := f.Start(); err != nil {
		t.Fatal(err)
	}

	var verr *ValidationError
	if err := f.SubmitTitle("   "); !errors.As(err, &verr) {
		t.Fatalf("blank title err = %v, want ValidationError", err)
	}
	if f.State() != StateTitle {
		t.Fatalf("state after bad title = %s, want %s", f.State(), StateTitle)
	}
	if err := f.SubmitTitle("Rose"); err != nil {
		t.Fatal(err)
	}
	if err := f.SubmitTitleEN("Rose curve"); err != nil {
		t.Fatal(err)
	}
	if err := f.SubmitBody(strings.Repeat("x", MaxBodyRunes+1)); !errors.As(err, &verr) {
		t.Fatalf("oversize body err = %v, want ValidationError", err)
	}
	if err := f.SubmitBody("r = sin(3θ)"); err != nil {
		t.Fatal(err)
	}

	for _, bad := range []string{"ftp://x/y.png", "img.example/a.png", "javascript:alert(1)"} {
		if err := f.SubmitImageURL(bad); !errors.As(err, &verr) {
			t.Fatalf("url %q err = %v, want ValidationError", bad, err)
		}
		if f.State() != StateImageURL {
			t.Fatalf("state after bad url = %s", f.State())
		}
	}
	if err := f.SubmitImageURL("http://img.example/rose.png"); err != nil {
		t.Fatal(err)
	}
	if f.State() != StateCategories {
		t.Fatalf("state = %s, want %s", f.State(), StateCategories)
	}
}

func TestFlowCategoryToggle(t *testing.T) {
	f := NewFlow()
	f.state = StateCategories

	var verr *ValidationError
	if err := f.FinishCategories(); !errors.As(err, &verr) {
		t.Fatalf("finish with none selected err = %v, want ValidationError", err)
	}
	if err := f.ToggleCategory("cubist"); !errors.As(err, &verr) {
		t.Fatalf("unknown category err = %v, want ValidationError", err)
	}
	if err := f.ToggleCategory("polar"); err != nil {
		t.Fatal(err)
	}
	if err := f.ToggleCategory("function"); err != nil {
		t.Fatal(err)
	}
	if err := f.ToggleCategory("polar"); err != nil { // toggle off
		t.Fatal(err)
	}
	if !f.CategorySelected("function") || f.CategorySelected("polar") {
		t.Fatalf("selection = %v", f.Draft().Categories)
	}
	if err := f.FinishCategories(); err != nil {
		t.Fatal(err)
	}
	if f.State() != StateTags {
		t.Fatalf("state = %s, want %s", f.State(), StateTags)
	}
}

func TestFlowCancelDiscardsDraft(t *testing.T) {
	f := advanceToTags(t)
	f.Cancel()
	if f.State() != StateCancelled {
		t.Fatalf("state = %s", f.State())
	}
	if d := f.Draft(); d.Title != "" || len(d.Categories) != 0 {
		t.Fatalf("draft not discarded: %+v", d)
	}
	// terminal states stay put
	f.Expire()
	if f.State() != StateCancelled {
		t.Fatalf("expire overwrote terminal state: %s", f.State())
	}
}

func TestFlowCommitRetryable(t *testing.T) {
	f := advanceToTags(t)
	f.SetTagCatalog([]formula.Tag{{ID: 1, Name: "t"}})
	if err := f.SubmitTagSelection("none"); err != nil {
		t.Fatal(err)
	}
	if len(f.Draft().TagIDs) != 0 {
		t.Fatalf("tag ids = %v, want empty", f.Draft().TagIDs)
	}
	// A failed append leaves the flow on Confirm; nothing to unwind.
	if f.State() != StateConfirm {
		t.Fatalf("state = %s, want %s", f.State(), StateConfirm)
	}
	if err := f.MarkCommitted("f_007"); err != nil {
		t.Fatal(err)
	}
}

func TestParseSelection(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		count int
		want  []int
		errIn string
	}{
		{name: "single", in: "2", count: 5, want: []int{2}},
		{name: "multi with spaces", in: "1 , 3", count: 5, want: []int{1, 3}},
		{name: "dedup keeps first", in: "3,1,3,1", count: 5, want: []int{3, 1}},
		{name: "none sentinel", in: "none", count: 5, want: nil},
		{name: "none case-insensitive", in: " NONE ", count: 5, want: nil},
		{name: "out of range high", in: "1,6", count: 5, errIn: "6 is out of range; valid numbers are 1 to 5"},
		{name: "out of range zero", in: "0", count: 5, errIn: "0 is out of range"},
		{name: "not a number", in: "1,two", count: 5, errIn: `"two" is not a number`},
		{name: "empty input", in: "   ", count: 5, errIn: "enter numbers"},
		{name: "only commas", in: ",,", count: 5, errIn: "enter numbers"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseSelection(tc.in, tc.count)
			if tc.errIn != "" {
				if err == nil || !strings.Contains(err.Error(), tc.errIn) {
					t.Fatalf("err = %v, want containing %q", err, tc.errIn)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("got %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestManagerLifecycle(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewManager(DefaultTimeout)
	m.now = func() time.Time { return now }

	s, replaced := m.Begin(42, 100)
	if replaced != nil {
		t.Fatalf("replaced = %v on first begin", replaced)
	}
	if s.ID == "" {
		t.Fatal("empty session id")
	}

	got, err := m.ByUser(42)
	if err != nil || got != s {
		t.Fatalf("ByUser = %v, %v", got, err)
	}
	if _, err := m.ByUser(7); !errors.Is(err, ErrNoSession) {
		t.Fatalf("err = %v, want ErrNoSession", err)
	}

	// Another user pressing this session's buttons is refused.
	if _, err := m.Resolve(s.ID, 99); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("err = %v, want ErrNotOwner", err)
	}
	if _, err := m.Resolve("no-such-id", 42); !errors.Is(err, ErrStale) {
		t.Fatalf("err = %v, want ErrStale", err)
	}

	// Restarting replaces and cancels the old flow.
	s2, replaced := m.Begin(42, 100)
	if replaced != s {
		t.Fatalf("replaced = %v, want original session", replaced)
	}
	if s.Flow.State() != StateCancelled {
		t.Fatalf("old flow state = %s", s.Flow.State())
	}
	if _, err := m.Resolve(s.ID, 42); !errors.Is(err, ErrStale) {
		t.Fatalf("old session resolve err = %v, want ErrStale", err)
	}

	m.End(s2)
	if _, err := m.ByUser(42); !errors.Is(err, ErrNoSession) {
		t.Fatalf("err after End = %v, want ErrNoSession", err)
	}
}

func TestManagerIdleExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewManager(DefaultTimeout)
	m.now = func() time.Time { return now }

	s, _ := m.Begin(42, 100)
	s.Flow.Start()

	now = now.Add(DefaultTimeout + time.Second)
	if _, err := m.ByUser(42); !errors.Is(err, ErrNoSession) {
		t.Fatalf("err = %v, want ErrNoSession", err)
	}
	if s.Flow.State() != StateTimedOut {
		t.Fatalf("flow state = %s, want %s", s.Flow.State(), StateTimedOut)
	}
}

func TestManagerSweep(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewManager(60 * time.Second)
	m.now = func() time.Time { return now }

	stale, _ := m.Begin(1, 10)
	now = now.Add(30 * time.Second)
	fresh, _ := m.Begin(2, 20)
	now = now.Add(45 * time.Second)

	expired := m.Sweep()
	if len(expired) != 1 || expired[0] != stale {
		t.Fatalf("expired = %v", expired)
	}
	if stale.Flow.State() != StateTimedOut {
		t.Fatalf("stale flow state = %s", stale.Flow.State())
	}
	if _, err := m.ByUser(fresh.UserID); err != nil {
		t.Fatalf("fresh session gone: %v", err)
	}
}
