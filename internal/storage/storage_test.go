package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "formulabot/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none", "  NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("driver %q: %v", driver, err)
		}
		if st != nil {
			t.Fatalf("driver %q: store = %v, want nil", driver, st)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatal("want error for unknown driver")
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	st, err := Open(Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	exerciseStore(t, ctx, st)
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bot.db")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	exerciseStore(t, ctx, st)
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopen: the journal replays into the same view.
	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st2.Close()

	text, ok, err := st2.GetMessage(ctx, "greeting")
	if err != nil || !ok || text != "hello there" {
		t.Fatalf("GetMessage after reopen = %q, %v, %v", text, ok, err)
	}
	if _, ok, _ := st2.GetMessage(ctx, "farewell"); ok {
		t.Fatal("deleted message survived reopen")
	}
	v, ok, err := st2.GetState(ctx, "daily.last_notified")
	if err != nil || !ok || v != "2026/08/29" {
		t.Fatalf("GetState after reopen = %q, %v, %v", v, ok, err)
	}
}

func exerciseStore(t *testing.T, ctx context.Context, st Store) {
	t.Helper()

	if err := st.AppendAudit(ctx, AuditEntry{
		At: time.Now(), ActorID: 1, Plugin: "daily", Action: "start", OK: 1,
	}); err != nil {
		t.Fatal(err)
	}

	if err := st.PutMessage(ctx, "greeting", "hello there"); err != nil {
		t.Fatal(err)
	}
	if err := st.PutMessage(ctx, "farewell", "bye"); err != nil {
		t.Fatal(err)
	}
	names, err := st.ListMessages(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "farewell" || names[1] != "greeting" {
		t.Fatalf("names = %v", names)
	}
	if err := st.DeleteMessage(ctx, "farewell"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := st.GetMessage(ctx, "farewell"); ok {
		t.Fatal("farewell still present after delete")
	}

	if err := st.PutState(ctx, "daily.last_notified", "2026/08/29"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := st.GetState(ctx, "daily.last_notified")
	if err != nil || !ok || v != "2026/08/29" {
		t.Fatalf("GetState = %q, %v, %v", v, ok, err)
	}
	if _, ok, _ := st.GetState(ctx, "missing"); ok {
		t.Fatal("missing state key reported present")
	}
}
