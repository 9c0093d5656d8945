package register

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"formulabot/internal/register"
)

// A register-section reload retunes the session manager in place, so a
// draft begun before the reload is still there after it.
func TestReloadKeepsLiveSessions(t *testing.T) {
	p := New()
	p.sessions = register.NewManager(0)

	s, _ := p.sessions.Begin(42, 100)
	s.Lock()
	if err := s.Flow.Start(); err != nil {
		t.Fatal(err)
	}
	s.Unlock()

	raw := json.RawMessage(`{"timeout": "60s", "sweep_interval": "5s"}`)
	if err := p.OnConfigChange(context.Background(), raw); err != nil {
		t.Fatal(err)
	}

	got, err := p.sessions.ByUser(42)
	if err != nil || got != s {
		t.Fatalf("ByUser after reload = %v, %v", got, err)
	}
	if got := p.sweepEvery(); got != 5*time.Second {
		t.Fatalf("sweep interval = %v, want 5s", got)
	}
}
