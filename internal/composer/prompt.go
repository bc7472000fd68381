// Package composer renders session state into the text blocks sent to the
// model: the selected documents and the prior turns of a thread.
package composer

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/copilot/internal/document"
)

// Turn is one prior message of a thread.
type Turn struct {
	Role    string // "user" or "assistant"
	Content string
}

// Composer assembles document context and thread history. The full context
// is always sent; MaxContextTokens only triggers a warning when exceeded.
type Composer struct {
	MaxContextTokens int
	logger           *slog.Logger
}

// New creates a Composer. maxContextTokens <= 0 disables the budget warning.
func New(maxContextTokens int, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{MaxContextTokens: maxContextTokens, logger: logger}
}

// Documents concatenates docs in order, each prefixed by a delimiter line
// carrying its name.
func (c *Composer) Documents(docs []document.Document) string {
	var sb strings.Builder
	for i, d := range docs {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "--- Document: %s ---\n", d.Name)
		sb.WriteString(strings.TrimSpace(d.Content))
		sb.WriteString("\n")
	}
	out := sb.String()
	c.checkBudget("documents", out)
	return out
}

// History renders turns as alternating role-labeled lines.
func (c *Composer) History(turns []Turn) string {
	var sb strings.Builder
	for _, t := range turns {
		label := "User"
		if t.Role == "assistant" {
			label = "Assistant"
		}
		fmt.Fprintf(&sb, "%s: %s\n", label, strings.TrimSpace(t.Content))
	}
	return sb.String()
}

func (c *Composer) checkBudget(section, text string) {
	if c.MaxContextTokens <= 0 {
		return
	}
	if n := EstimateTokens(text); n > c.MaxContextTokens {
		c.logger.Warn("context exceeds token budget",
			"section", section, "estimated_tokens", n, "budget", c.MaxContextTokens)
	}
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
