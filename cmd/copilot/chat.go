package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kalambet/copilot/internal/config"
	"github.com/kalambet/copilot/internal/conversation"
	"github.com/kalambet/copilot/internal/document"
	"github.com/kalambet/copilot/internal/ingest"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive session in this terminal",
	Long: `Interactive session in this terminal. Documents and threads live only
as long as the session. Type /help for commands.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		level := "warn"
		if strings.EqualFold(cfg.Log.Level, "debug") {
			level = "debug"
		}
		a, err := newApp(cfg, newLogger(level), nil)
		if err != nil {
			return err
		}
		defer a.Close()

		if !a.session.HasCredential() {
			printWarning("no %s credential configured; use /key or %s", cfg.Model.Backend, config.CredentialHint(cfg))
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runChat(ctx, a, os.Stdin, os.Stdout)
	},
}

const chatHelp = `Type a question to ask the active thread.

  /add <file>...           upload documents
  /rm <name>               remove a document
  /docs                    list documents
  /scope [name|all]        show or set the document scope
  /edit <id> <text>        edit a question in the active thread and resubmit
  /imagine <question>      start a new general-knowledge thread
  /escalate [id]           escalate the last unanswered question, or message id
  /primary                 switch back to the document thread
  /show [primary|imagination]
  /key                     set the model API key for this session
  /model <name>            select the model
  /reset                   clear both threads
  /quit
`

type chatSession struct {
	app    *app
	out    io.Writer
	in     *bufio.Scanner
	render *markdownRenderer
	active conversation.ThreadKind
}

func runChat(ctx context.Context, a *app, in io.Reader, out io.Writer) error {
	s := &chatSession{
		app:    a,
		out:    out,
		in:     bufio.NewScanner(in),
		render: newMarkdownRenderer(renderWidth),
		active: conversation.ThreadPrimary,
	}
	s.in.Buffer(make([]byte, 0, 64*1024), 1<<20)

	fmt.Fprintln(out, "copilot chat. Type /help for commands.")
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprintf(out, "%s> ", s.active)
		if !s.in.Scan() {
			fmt.Fprintln(out)
			return s.in.Err()
		}
		line := strings.TrimSpace(s.in.Text())
		if line == "" {
			continue
		}
		if quit := s.handle(ctx, line); quit {
			return nil
		}
	}
}

// handle runs one input line and reports whether the session should end.
func (s *chatSession) handle(ctx context.Context, line string) bool {
	if !strings.HasPrefix(line, "/") {
		s.ask(ctx, line)
		return false
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprint(s.out, chatHelp)
	case "/add":
		s.add(ctx, strings.Fields(rest))
	case "/rm":
		s.remove(rest)
	case "/docs":
		s.listDocs()
	case "/scope":
		s.scope(rest)
	case "/edit":
		s.edit(ctx, rest)
	case "/imagine":
		if s.showTurn(s.app.engine.Escalate(ctx, rest, false)) {
			s.active = conversation.ThreadImagination
		}
	case "/escalate":
		s.escalate(ctx, rest)
	case "/primary":
		s.active = conversation.ThreadPrimary
	case "/show":
		kind := s.active
		if rest != "" {
			k, err := conversation.ParseThreadKind(rest)
			if err != nil {
				printError("%v", err)
				return false
			}
			kind = k
		}
		printThread(s.out, s.render, s.app.engine.Thread(kind))
	case "/key":
		s.setKey(ctx)
	case "/model":
		if rest == "" {
			fmt.Fprintf(s.out, "model: %s\n", s.app.session.Model())
			return false
		}
		s.app.session.SetModel(rest)
		printSuccess("Model set to %s", rest)
	case "/reset":
		s.app.engine.Reset()
		s.active = conversation.ThreadPrimary
		printSuccess("Threads cleared")
	default:
		printError("unknown command %s (try /help)", cmd)
	}
	return false
}

func (s *chatSession) ask(ctx context.Context, question string) {
	if s.active == conversation.ThreadImagination {
		s.showTurn(s.app.engine.SubmitImaginationFollowup(ctx, question))
		return
	}
	s.showTurn(s.app.engine.SubmitPrimary(ctx, question))
}

// showTurn prints the reply, or the reason nothing was submitted. It
// reports whether a turn was recorded.
func (s *chatSession) showTurn(turn conversation.Turn, err error) bool {
	if err != nil {
		var fail *conversation.Failure
		if errors.As(err, &fail) {
			printError("%s", fail.Message)
		} else {
			printError("%v", err)
		}
		return false
	}
	printMessage(s.out, s.render, turn.Reply)
	return true
}

func (s *chatSession) add(ctx context.Context, paths []string) {
	if len(paths) == 0 {
		printError("usage: /add <file>...")
		return
	}
	files := make([]ingest.File, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			printError("reading %s: %v", p, err)
			return
		}
		files = append(files, ingest.File{Name: p, Data: data})
	}

	printStep("Extracting text from %d file(s)...", len(files))
	docs, err := s.app.parser.ParseAll(ctx, files)
	if err != nil {
		printError("%v", err)
		return
	}
	for _, d := range docs {
		if err := s.app.library.Add(d); err != nil {
			printError("%v", err)
			return
		}
		printSuccess("Added %s (%d chars)", d.Name, len([]rune(d.Content)))
	}
}

func (s *chatSession) remove(name string) {
	if name == "" {
		printError("usage: /rm <name>")
		return
	}
	if err := s.app.library.Remove(name); err != nil {
		printError("%v", err)
		return
	}
	printSuccess("Removed %s", name)
}

func (s *chatSession) listDocs() {
	docs, err := s.app.library.List()
	if err != nil {
		printError("%v", err)
		return
	}
	if len(docs) == 0 {
		fmt.Fprintln(s.out, "No documents uploaded.")
		return
	}
	for _, d := range docs {
		fmt.Fprintf(s.out, "%s  %d chars\n", colorize(colorCyan, d.Name), len([]rune(d.Content)))
	}
}

func (s *chatSession) scope(arg string) {
	if arg == "" {
		scope := s.app.session.Scope()
		effective, err := s.app.library.Resolve(scope)
		if err != nil {
			printError("%v", err)
			return
		}
		fmt.Fprintf(s.out, "scope: %s\n", scopeLabel(string(scope), string(effective)))
		return
	}

	scope := document.Scope(arg)
	if scope != document.ScopeAll {
		resolved, err := s.app.library.Resolve(scope)
		if err != nil {
			printError("%v", err)
			return
		}
		if resolved != scope {
			printError("no document named %q", arg)
			return
		}
	}
	s.app.session.SetScope(scope)
	printSuccess("Scope set to %s", scope)
}

func (s *chatSession) edit(ctx context.Context, arg string) {
	idStr, text, _ := strings.Cut(arg, " ")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || strings.TrimSpace(text) == "" {
		printError("usage: /edit <id> <text>")
		return
	}
	s.showTurn(s.app.engine.EditAndResubmit(ctx, s.active, id, text))
}

func (s *chatSession) escalate(ctx context.Context, arg string) {
	var id int64
	if arg != "" {
		n, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			printError("usage: /escalate [id]")
			return
		}
		id = n
	} else {
		id = lastEscalationOffer(s.app.engine.Thread(conversation.ThreadPrimary))
		if id == 0 {
			printError("nothing to escalate; ask a question first or use /imagine <question>")
			return
		}
	}
	if s.showTurn(s.app.engine.EscalateFrom(ctx, id)) {
		s.active = conversation.ThreadImagination
	}
}

// lastEscalationOffer returns the id of the newest assistant message that
// offers escalation, or 0.
func lastEscalationOffer(th conversation.Thread) int64 {
	for i := len(th.Messages) - 1; i >= 0; i-- {
		if m := th.Messages[i]; m.EscalationOffer != nil {
			return m.ID
		}
	}
	return 0
}

func (s *chatSession) setKey(ctx context.Context) {
	fmt.Fprint(s.out, "API key: ")
	if !s.in.Scan() {
		return
	}
	cred := strings.TrimSpace(s.in.Text())
	if cred == "" {
		printError("API key is empty")
		return
	}

	printStep("Validating key...")
	if err := s.app.gateway.ValidateCredential(ctx, cred); err != nil {
		printError("%v", err)
		return
	}
	s.app.session.SetCredential(cred)
	slog.Debug("session credential replaced")
	printSuccess("Credential set for this session")
}
