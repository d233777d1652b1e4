package schema

import (
	"strings"

	"github.com/ggonzalez94/ethpilot/internal/conversation"
	"github.com/ggonzalez94/ethpilot/internal/policy"
)

// telegramDescriptionLimit is the Bot API cap on a menu entry description.
const telegramDescriptionLimit = 256

type CommandSchema struct {
	Name    string        `json:"name"`
	Usage   string        `json:"usage"`
	Summary string        `json:"summary"`
	Aliases []string      `json:"aliases,omitempty"`
	Params  []ParamSchema `json:"params,omitempty"`
	Confirm bool          `json:"requires_confirmation"`
	Enabled bool          `json:"enabled"`
}

type ParamSchema struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Prompt   string `json:"prompt,omitempty"`
	Optional bool   `json:"optional"`
}

// Build describes the chat command catalog. enabled is the operator
// allowlist; an empty list enables every command.
func Build(specs []conversation.CommandSpec, enabled []string) []CommandSchema {
	items := make([]CommandSchema, 0, len(specs)+1)
	for _, spec := range specs {
		s := CommandSchema{
			Name:    spec.Name,
			Usage:   spec.Usage(),
			Summary: spec.Summary,
			Aliases: spec.Aliases,
			Confirm: spec.Confirm,
			Enabled: policy.CheckCommandAllowed(enabled, spec.Name) == nil,
		}
		for _, p := range spec.Params {
			s.Params = append(s.Params, ParamSchema{
				Name:     p.Name,
				Type:     p.Type.String(),
				Prompt:   p.Prompt,
				Optional: spec.ArgsOptional,
			})
		}
		items = append(items, s)
	}
	// /cancel always works, allowlist or not.
	items = append(items, CommandSchema{
		Name:    "cancel",
		Usage:   "/cancel",
		Summary: "Abort the current command",
		Enabled: true,
	})
	return items
}

// MenuEntry is the (command, description) pair a chat client menu shows.
type MenuEntry struct {
	Command     string
	Description string
}

// Menu lists the enabled commands for a chat client menu.
func Menu(items []CommandSchema) []MenuEntry {
	var menu []MenuEntry
	for _, item := range items {
		if !item.Enabled {
			continue
		}
		desc := item.Summary
		if len(item.Params) > 0 {
			desc = strings.TrimSpace(strings.TrimPrefix(item.Usage, "/"+item.Name)) + ": " + desc
		}
		if len(desc) > telegramDescriptionLimit {
			desc = desc[:telegramDescriptionLimit]
		}
		menu = append(menu, MenuEntry{Command: item.Name, Description: desc})
	}
	return menu
}
