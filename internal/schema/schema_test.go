package schema

import (
	"strings"
	"testing"

	"github.com/ggonzalez94/ethpilot/internal/conversation"
)

func find(items []CommandSchema, name string) (CommandSchema, bool) {
	for _, item := range items {
		if item.Name == name {
			return item, true
		}
	}
	return CommandSchema{}, false
}

func TestBuildDescribesCatalog(t *testing.T) {
	items := Build(conversation.Specs(), nil)
	buy, ok := find(items, "buy")
	if !ok {
		t.Fatalf("buy missing from %+v", items)
	}
	if !buy.Confirm || !buy.Enabled || buy.Usage != "/buy <token> <usdAmount> <slippage>" {
		t.Fatalf("unexpected buy schema %+v", buy)
	}
	if len(buy.Params) != 3 || buy.Params[0].Type != "contract address" || buy.Params[1].Prompt == "" {
		t.Fatalf("unexpected buy params %+v", buy.Params)
	}
	unwatch, _ := find(items, "unwatch")
	if len(unwatch.Params) != 1 || !unwatch.Params[0].Optional {
		t.Fatalf("unwatch argument should be optional: %+v", unwatch)
	}
	balance, _ := find(items, "balance")
	if balance.Usage != "/balance [wallet]" || len(balance.Params) != 1 || balance.Params[0].Type != "wallet address" {
		t.Fatalf("balance should take an optional wallet: %+v", balance)
	}
	help, _ := find(items, "help")
	if len(help.Aliases) != 1 || help.Aliases[0] != "start" {
		t.Fatalf("unexpected help aliases %+v", help.Aliases)
	}
	if last := items[len(items)-1]; last.Name != "cancel" || !last.Enabled {
		t.Fatalf("cancel should close the catalog, got %+v", last)
	}
}

func TestBuildAppliesAllowlist(t *testing.T) {
	items := Build(conversation.Specs(), []string{"/gas", "scan"})
	for _, item := range items {
		want := item.Name == "gas" || item.Name == "scan" || item.Name == "cancel"
		if item.Enabled != want {
			t.Fatalf("%s enabled=%v, want %v", item.Name, item.Enabled, want)
		}
	}

	menu := Menu(items)
	if len(menu) != 3 {
		t.Fatalf("expected gas, scan and cancel in menu, got %+v", menu)
	}
	if menu[1].Command != "scan" || !strings.HasPrefix(menu[1].Description, "<contract>: ") {
		t.Fatalf("unexpected scan menu entry %+v", menu[1])
	}
	if menu[0].Description != "Show current gas price and swap costs" {
		t.Fatalf("unexpected gas menu entry %+v", menu[0])
	}
}
