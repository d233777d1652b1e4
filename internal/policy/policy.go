package policy

import (
	"slices"
	"strings"

	clierr "github.com/ggonzalez94/ethpilot/internal/errors"
)

// CheckCommandAllowed enforces the enabled-commands allowlist. Names match
// with or without the leading slash. An empty list allows everything.
func CheckCommandAllowed(allowlist []string, command string) error {
	if len(allowlist) == 0 {
		return nil
	}
	name := normalize(command)
	for _, allowed := range allowlist {
		if normalize(allowed) == name {
			return nil
		}
	}
	return clierr.New(clierr.CodeBlocked, "command disabled")
}

// ChatAllowed reports whether messages from chatID are served. An empty
// list serves every chat.
func ChatAllowed(allowed []int64, chatID int64) bool {
	return len(allowed) == 0 || slices.Contains(allowed, chatID)
}

func normalize(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	return strings.TrimPrefix(v, "/")
}
