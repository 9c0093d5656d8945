package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	kit "formulabot/internal/kit"
)

// PluginBase carries the boilerplate every plugin needs. Embed it and
// call InitBase/StartBase/StopBase from the matching lifecycle hooks.
type PluginBase struct {
	mu   sync.Mutex
	deps PluginDeps
	ctx  context.Context
}

func (b *PluginBase) InitBase(deps PluginDeps) {
	b.mu.Lock()
	b.deps = deps
	b.mu.Unlock()
}

func (b *PluginBase) StartBase(ctx context.Context) {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()
}

func (b *PluginBase) StopBase() {
	b.mu.Lock()
	b.ctx = nil
	b.mu.Unlock()
}

// Context returns the plugin's lifecycle context, or a Background
// context when the plugin is not started.
func (b *PluginBase) Context() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx == nil {
		return context.Background()
	}
	return b.ctx
}

func (b *PluginBase) Deps() PluginDeps {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deps
}

func (b *PluginBase) Logger() *slog.Logger {
	d := b.Deps()
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (b *PluginBase) Adapter() kit.Adapter { return b.Deps().Adapter }

func (b *PluginBase) Services() *Services { return b.Deps().Services }

// DecodePluginConfig strictly decodes a plugin's raw config blob.
// An empty blob yields the zero value.
func DecodePluginConfig[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, fmt.Errorf("decode plugin config: %w", err)
	}
	return out, nil
}
