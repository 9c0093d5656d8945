// Package ping answers /ping with process uptime, a cheap liveness probe.
package ping

import (
	"context"
	"fmt"
	"time"

	"formulabot/internal/core"
)

type Plugin struct {
	core.PluginBase
	started time.Time
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "ping" }

func (p *Plugin) Init(ctx context.Context, deps core.PluginDeps) error {
	p.InitBase(deps)
	p.started = time.Now()
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error {
	p.StopBase()
	return nil
}

func (p *Plugin) Commands() []core.Command {
	return []core.Command{
		{
			Route:       "ping",
			Description: "liveness check",
			Usage:       "/ping",
			Access:      core.AccessEveryone,
			Handle: func(ctx context.Context, req *core.Request) error {
				up := time.Since(p.started).Truncate(time.Second)
				_, err := req.Adapter.SendText(ctx, req.Chat, fmt.Sprintf("pong (up %s)", up), nil)
				return err
			},
		},
	}
}
