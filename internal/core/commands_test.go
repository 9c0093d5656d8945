package core

import (
	"context"
	"strings"
	"sync"
	"testing"

	"formulabot/internal/notifier"
)

func nop(ctx context.Context, req *Request) error { return nil }

func testManager(t *testing.T) *CommandManager {
	t.Helper()
	m := NewCommandManager(nil, nil, NewConfigManager(""), &Services{}, []int64{1})
	m.SetRegistry([]Command{
		{Route: "ping", Description: "liveness check", Handle: nop},
		{Route: "daily status", Description: "show loop state", Handle: nop},
		{Route: "daily check", Description: "deliver now", Aliases: []string{"dc"}, Handle: nop},
		{Route: "search", Aliases: []string{"find"}, Description: "search formulas", Handle: nop},
	}, nil)
	return m
}

func TestRegistryAliases(t *testing.T) {
	m := testManager(t)

	for _, alias := range []string{"find", "dc", "daily_check", "daily_status", "h"} {
		leaf, ok := m.alias[alias]
		if !ok || leaf == nil || leaf.cmd == nil {
			t.Fatalf("alias %q not registered", alias)
		}
	}
	if m.alias["dc"].cmd.Route != "daily check" {
		t.Fatalf("dc resolves to %q", m.alias["dc"].cmd.Route)
	}
}

func TestHelpTopLevel(t *testing.T) {
	m := testManager(t)
	text := m.helpText(nil)
	for _, want := range []string{"/ping", "/daily", "/search", "/help"} {
		if !strings.Contains(text, want) {
			t.Fatalf("help missing %q:\n%s", want, text)
		}
	}
}

func TestHelpContainer(t *testing.T) {
	m := testManager(t)
	text := m.helpText([]string{"daily"})
	if !strings.Contains(text, "status") || !strings.Contains(text, "check") {
		t.Fatalf("container help missing subcommands:\n%s", text)
	}
}

func TestHelpLeafAndAlias(t *testing.T) {
	m := testManager(t)
	leaf := m.helpText([]string{"daily", "check"})
	if !strings.Contains(leaf, "deliver now") {
		t.Fatalf("leaf help:\n%s", leaf)
	}
	viaAlias := m.helpText([]string{"dc"})
	if viaAlias != leaf {
		t.Fatalf("alias help differs:\n%s\nvs\n%s", viaAlias, leaf)
	}
	if got := m.helpText([]string{"nope"}); !strings.Contains(got, "not found") {
		t.Fatalf("unknown help: %s", got)
	}
}

func TestCommandTree(t *testing.T) {
	root := newRoot()
	root.add(splitRoute("a b c"), Command{Route: "a b c", Handle: nop})

	if n := root.find([]string{"a", "b", "c"}); n == nil || n.cmd == nil {
		t.Fatalf("leaf not found")
	}
	if n := root.find([]string{"a", "b"}); n == nil || n.cmd != nil {
		t.Fatalf("intermediate node should be a container")
	}
	if n := root.find([]string{"a", "x"}); n != nil {
		t.Fatalf("unexpected node %+v", n)
	}
	if names := root.childNames(); len(names) != 1 || names[0] != "a" {
		t.Fatalf("childNames = %v", names)
	}
}

func TestIsOwner(t *testing.T) {
	owners := []int64{10, 20}
	if !isOwner(20, owners) || isOwner(30, owners) {
		t.Fatalf("owner check wrong")
	}
}

// A config reload swaps the daily notifier while dispatch workers read
// it through the same Services handle.
func TestServicesDailySwap(t *testing.T) {
	sv := &Services{}
	if sv.Daily() != nil {
		t.Fatal("zero Services should carry no notifier")
	}

	first := &notifier.Service{}
	sv.SetDaily(first)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				if sv.Daily() == nil {
					t.Error("notifier vanished mid-swap")
					return
				}
			}
		}()
	}
	second := &notifier.Service{}
	sv.SetDaily(second)
	wg.Wait()

	if sv.Daily() != second {
		t.Fatalf("Daily() = %p, want the swapped-in service", sv.Daily())
	}
}
