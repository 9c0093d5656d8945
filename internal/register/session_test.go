package register

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// Two dispatch workers can carry updates for the same user at once.
// Each worker resolves the session, takes its lock, and feeds the flow
// whatever its current step expects; the end state must come out as if
// the inputs arrived one after the other.
func TestSessionLockSerializesFlow(t *testing.T) {
	m := NewManager(DefaultTimeout)
	s, _ := m.Begin(42, 100)
	s.Lock()
	if err := s.Flow.Start(); err != nil {
		t.Fatal(err)
	}
	s.Unlock()

	var wg sync.WaitGroup
	for _, text := range []string{"half angle", "half angle en"} {
		wg.Add(1)
		go func(text string) {
			defer wg.Done()
			cur, err := m.ByUser(42)
			if err != nil {
				t.Error(err)
				return
			}
			cur.Lock()
			defer cur.Unlock()
			switch cur.Flow.State() {
			case StateTitle:
				if err := cur.Flow.SubmitTitle(text); err != nil {
					t.Error(err)
				}
			case StateTitleEN:
				if err := cur.Flow.SubmitTitleEN(text); err != nil {
					t.Error(err)
				}
			default:
				t.Errorf("unexpected state %s", cur.Flow.State())
			}
		}(text)
	}
	wg.Wait()

	s.Lock()
	defer s.Unlock()
	if got := s.Flow.State(); got != StateBody {
		t.Fatalf("state = %s, want %s", got, StateBody)
	}
	if d := s.Flow.Draft(); d.Title == "" || d.TitleEN == "" {
		t.Fatalf("draft = %+v, want both titles filled", d)
	}
}

// A timeout retune must not discard live drafts: the session begun
// before SetTimeout stays resolvable, and the new value governs expiry.
func TestManagerSetTimeoutKeepsSessions(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewManager(DefaultTimeout)
	m.now = func() time.Time { return now }

	s, _ := m.Begin(42, 100)
	m.SetTimeout(60 * time.Second)

	got, err := m.ByUser(42)
	if err != nil || got != s {
		t.Fatalf("ByUser after retune = %v, %v", got, err)
	}

	now = now.Add(61 * time.Second)
	if _, err := m.ByUser(42); !errors.Is(err, ErrNoSession) {
		t.Fatalf("err = %v, want ErrNoSession", err)
	}
	if s.Flow.State() != StateTimedOut {
		t.Fatalf("flow state = %s, want %s", s.Flow.State(), StateTimedOut)
	}

	m.SetTimeout(0)
	if m.timeout != DefaultTimeout {
		t.Fatalf("timeout = %v, want default", m.timeout)
	}
}
