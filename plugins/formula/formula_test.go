package formula

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
)

func TestMaxResultsReload(t *testing.T) {
	p := New()
	if got := p.maxResults(); got != 5 {
		t.Fatalf("default limit = %d, want 5", got)
	}

	if err := p.OnConfigChange(context.Background(), json.RawMessage(`{"max_results": 8}`)); err != nil {
		t.Fatal(err)
	}
	if got := p.maxResults(); got != 8 {
		t.Fatalf("limit = %d, want 8", got)
	}

	// Handlers keep reading the limit while a reload rewrites it.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				if got := p.maxResults(); got <= 0 {
					t.Errorf("limit = %d", got)
					return
				}
			}
		}()
	}
	if err := p.OnConfigChange(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	wg.Wait()

	if got := p.maxResults(); got != 5 {
		t.Fatalf("limit after empty config = %d, want 5", got)
	}
}
