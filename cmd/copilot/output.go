package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/kalambet/copilot/internal/contract"
	"github.com/kalambet/copilot/internal/conversation"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// stderr receives status output. Tests swap it out.
var stderr io.Writer = os.Stderr

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	fmt.Fprintln(stderr, colorize(colorGreen, "✓ "+fmt.Sprintf(format, args...)))
}

func printError(format string, args ...any) {
	fmt.Fprintln(stderr, colorize(colorRed, "✗ "+fmt.Sprintf(format, args...)))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(stderr, colorize(colorYellow, "⚠ "+fmt.Sprintf(format, args...)))
}

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(stderr, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

func printStep(format string, args ...any) {
	fmt.Fprintln(stderr, colorize(colorCyan, "→ "+fmt.Sprintf(format, args...)))
}

type providerInfo struct {
	name    string
	console string
}

var providerConsoles = map[contract.Provider]providerInfo{
	contract.ProviderGCP:   {"GCP", "https://console.cloud.google.com/"},
	contract.ProviderAWS:   {"AWS", "https://console.aws.amazon.com/"},
	contract.ProviderAzure: {"Azure", "https://portal.azure.com/"},
}

// messageMarkdown renders one thread message as markdown.
func messageMarkdown(m conversation.Message) string {
	var sb strings.Builder
	if m.Role == conversation.RoleUser {
		fmt.Fprintf(&sb, "**You** `#%d`\n\n%s\n", m.ID, m.Content)
		return sb.String()
	}

	fmt.Fprintf(&sb, "**Assistant** `#%d`\n\n%s\n", m.ID, m.Content)
	if m.Failed() {
		return sb.String()
	}

	if !m.Implementation.Empty() {
		sb.WriteString("\n### Implementation guide\n")
		for _, p := range contract.Providers {
			steps := m.Implementation.Steps(p)
			if len(steps) == 0 {
				continue
			}
			info := providerConsoles[p]
			fmt.Fprintf(&sb, "\n#### %s ([console](%s))\n\n", info.name, info.console)
			for i, st := range steps {
				fmt.Fprintf(&sb, "%d. **%s**: %s\n", i+1, st.Title, st.Instruction)
				if st.BestPractice != "" {
					fmt.Fprintf(&sb, "   - Best practice: %s\n", st.BestPractice)
				}
				if st.ReferenceURL != "" {
					fmt.Fprintf(&sb, "   - Reference: %s\n", st.ReferenceURL)
				}
			}
		}
	}
	if m.ReferenceURL != "" {
		fmt.Fprintf(&sb, "\nSource: %s\n", m.ReferenceURL)
	}
	if m.EscalationOffer != nil {
		fmt.Fprintf(&sb, "\n> %s\n>\n> Escalate with `/escalate %d`.\n", m.EscalationOffer.SuggestionText, m.ID)
	}
	return sb.String()
}

// markdownRenderer renders markdown for the terminal, falling back to the
// raw text when glamour cannot.
type markdownRenderer struct {
	tr *glamour.TermRenderer
}

func newMarkdownRenderer(width int) *markdownRenderer {
	style := glamour.WithAutoStyle()
	if noColor {
		style = glamour.WithStylePath("notty")
	}
	tr, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
	if err != nil {
		return &markdownRenderer{}
	}
	return &markdownRenderer{tr: tr}
}

func (r *markdownRenderer) Render(md string) string {
	if r.tr == nil {
		return md
	}
	out, err := r.tr.Render(md)
	if err != nil {
		return md
	}
	return out
}

func printMessage(w io.Writer, r *markdownRenderer, m conversation.Message) {
	text := r.Render(messageMarkdown(m))
	if m.Failed() {
		text = colorize(colorRed, text)
	}
	fmt.Fprint(w, text)
}

func printThread(w io.Writer, r *markdownRenderer, th conversation.Thread) {
	if len(th.Messages) == 0 {
		fmt.Fprintf(w, "The %s thread is empty.\n", th.Kind)
		return
	}
	for _, m := range th.Messages {
		printMessage(w, r, m)
	}
}
