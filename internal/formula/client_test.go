package formula

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{BaseURL: srv.URL, RetryMax: 2}, discardLogger())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c, srv
}

func TestAllDecodesRows(t *testing.T) {
	rows := `[
		{"id":"F012","title":"Cardioid","title_EN":"Cardioid","formula":"r = a(1+cos θ)","formula_type":"polar","tags":"1, 3","image_url":"https://img.example/f012.png","timestamp":"2025/03/06 12:09:08"},
		{"id":"F013","title":"Circle","formula":"x^2+y^2=1","formula_type":"implicit, function","tags":"","timestamp":""}
	]`
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(rows))
	})

	got, err := c.All(context.Background())
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	r := got[0]
	if r.ID != "F012" || r.Body != "r = a(1+cos θ)" {
		t.Fatalf("unexpected record: %+v", r)
	}
	if len(r.TagIDs) != 2 || r.TagIDs[0] != 1 || r.TagIDs[1] != 3 {
		t.Fatalf("TagIDs = %v, want [1 3]", r.TagIDs)
	}
	want := time.Date(2025, 3, 6, 12, 9, 8, 0, ReferenceZone)
	if !r.CreatedAt.Equal(want) {
		t.Fatalf("CreatedAt = %v, want %v", r.CreatedAt, want)
	}
	if len(got[1].Categories) != 2 || got[1].Categories[0] != "implicit" {
		t.Fatalf("Categories = %v", got[1].Categories)
	}
	if !got[1].CreatedAt.IsZero() {
		t.Fatalf("empty timestamp should keep zero CreatedAt, got %v", got[1].CreatedAt)
	}
}

func TestSinceFiltersAndSortsNewestFirst(t *testing.T) {
	mk := func(id, ts string) map[string]string {
		return map[string]string{"id": id, "title": id, "formula": "x", "timestamp": ts}
	}
	rows := []map[string]string{
		mk("old", "2025/03/01 10:00:00"),
		mk("mid", "2025/03/06 08:00:00"),
		mk("new", "2025/03/06 22:30:00"),
		mk("broken", "not-a-date"),
	}
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(rows)
	})

	anchor := time.Date(2025, 3, 6, 0, 0, 0, 0, ReferenceZone)
	got, err := c.Since(context.Background(), anchor)
	if err != nil {
		t.Fatalf("Since: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "new" || got[1].ID != "mid" {
		t.Fatalf("order = [%s %s], want [new mid]", got[0].ID, got[1].ID)
	}

	// Window excludes the upper bound.
	to := time.Date(2025, 3, 6, 22, 30, 0, 0, ReferenceZone)
	win, err := c.Window(context.Background(), anchor, to)
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if len(win) != 1 || win[0].ID != "mid" {
		t.Fatalf("window = %+v, want [mid]", win)
	}
}

func TestGetNotFound(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	_, err := c.Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestTagsSortedAndStringIDsTolerated(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("name") != "tagsList" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`[{"tagID":"12","tagName":"spiral"},{"tagID":1,"tagName":"beautiful","tagName_EN":"Beautiful"}]`))
	})
	tags, err := c.Tags(context.Background())
	if err != nil {
		t.Fatalf("Tags: %v", err)
	}
	if len(tags) != 2 || tags[0].ID != 1 || tags[1].ID != 12 {
		t.Fatalf("tags = %+v, want ascending ids", tags)
	}
	if tags[0].NameEN != "Beautiful" {
		t.Fatalf("NameEN = %q", tags[0].NameEN)
	}
}

func TestGetRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`[]`))
	})
	if _, err := c.All(context.Background()); err != nil {
		t.Fatalf("All after retry: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestFetchErrorIsErrFetch(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	_ = srv
	_, err := c.All(context.Background())
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("err = %v, want ErrFetch", err)
	}
}

func TestAppend(t *testing.T) {
	var gotPayload appendPayload
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "want POST", http.StatusMethodNotAllowed)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"success":true,"result":{"id":"F099"}}`))
	})

	d := Draft{
		Title:      "Lemniscate",
		Body:       "(x^2+y^2)^2 = a^2(x^2-y^2)",
		Categories: []string{"implicit", "polar"},
		TagIDs:     []int{1, 3},
		ImageURL:   "https://img.example/lem.png",
	}
	id, err := c.Append(context.Background(), d)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if id != "F099" {
		t.Fatalf("id = %q, want F099", id)
	}
	if gotPayload.Type != "formula" {
		t.Fatalf("payload type = %q", gotPayload.Type)
	}
	if gotPayload.FormType != "implicit, polar" {
		t.Fatalf("formula_type = %q", gotPayload.FormType)
	}
	if gotPayload.Tags != "1,3" {
		t.Fatalf("tags = %q", gotPayload.Tags)
	}
}

func TestAppendRejectionCarriesReason(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"error":"duplicate title"}`))
	})
	_, err := c.Append(context.Background(), Draft{Title: "x"})
	if !errors.Is(err, ErrAppend) {
		t.Fatalf("err = %v, want ErrAppend", err)
	}
	if want := "duplicate title"; !strings.Contains(err.Error(), want) {
		t.Fatalf("err %q does not mention %q", err, want)
	}
}
