package main

import (
	"bufio"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/copilot/internal/api"
	"github.com/kalambet/copilot/internal/config"
	"github.com/kalambet/copilot/internal/conversation"
)

const renderWidth = 100

// --- docs ---

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Manage the uploaded documents",
}

var docsAddCmd = &cobra.Command{
	Use:   "add <file>...",
	Short: "Upload documents (txt, md, csv, json, pdf, html, docx, xlsx)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.upload(cmd.Context(), args)
		if err != nil {
			return err
		}
		var docs []api.DocumentSummary
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}

		for _, d := range docs {
			printSuccess("Added %s (%d chars)", d.Name, d.Chars)
		}
		return nil
	},
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List uploaded documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/documents")
		if err != nil {
			return err
		}
		var docs []api.DocumentSummary
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}

		if len(docs) == 0 {
			fmt.Println("No documents uploaded.")
			return nil
		}
		for _, d := range docs {
			fmt.Printf("%s  %s  %d bytes, %d chars\n", colorize(colorCyan, d.Name), d.Format, d.SizeBytes, d.Chars)
		}
		return nil
	},
}

var docsRmCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Remove an uploaded document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/documents/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}

		printSuccess("Removed %s", args[0])
		return nil
	},
}

func init() {
	docsCmd.AddCommand(docsAddCmd)
	docsCmd.AddCommand(docsListCmd)
	docsCmd.AddCommand(docsRmCmd)
}

// --- ask / imagine ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question answered from the uploaded documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/threads/primary/messages", map[string]string{
			"question": strings.Join(args, " "),
		})
		if err != nil {
			return err
		}
		return printTurn(resp)
	},
}

var imagineCmd = &cobra.Command{
	Use:   "imagine [question]",
	Short: "Answer from general knowledge in the imagination thread",
	Long: `Answer from general knowledge in the imagination thread.

Without flags a new imagination thread is started for the question.

Examples:
  copilot imagine "What does SOC 2 Type II cover?"
  copilot imagine --from 4
  copilot imagine --follow-up "How long is the audit window?"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetInt64("from")
		followUp, _ := cmd.Flags().GetBool("follow-up")
		withHistory, _ := cmd.Flags().GetBool("with-history")
		question := strings.Join(args, " ")

		if from == 0 && strings.TrimSpace(question) == "" {
			return fmt.Errorf("a question or --from <message id> is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path, body := imaginationRequest(question, from, followUp, withHistory)
		resp, err := client.post(cmd.Context(), path, body)
		if err != nil {
			return err
		}
		return printTurn(resp)
	},
}

func imaginationRequest(question string, from int64, followUp, withHistory bool) (string, any) {
	switch {
	case followUp:
		return "/threads/imagination/messages", map[string]string{"question": question}
	case from > 0:
		return "/escalations", map[string]int64{"messageId": from}
	}
	return "/escalations", map[string]any{"question": question, "withPrimaryHistory": withHistory}
}

func init() {
	imagineCmd.Flags().Int64("from", 0, "escalate the question behind this primary-thread message id")
	imagineCmd.Flags().Bool("follow-up", false, "continue the open imagination thread")
	imagineCmd.Flags().Bool("with-history", false, "send the primary thread as history")
}

// printTurn renders the reply of a submission.
func printTurn(resp *http.Response) error {
	var turn conversation.Turn
	if err := decodeJSON(resp, &turn); err != nil {
		return err
	}
	printMessage(os.Stdout, newMarkdownRenderer(renderWidth), turn.Reply)
	return nil
}

// --- thread ---

var threadCmd = &cobra.Command{
	Use:   "thread",
	Short: "Show, edit or reset the conversation threads",
}

var threadShowCmd = &cobra.Command{
	Use:   "show [primary|imagination]",
	Short: "Show a thread",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := conversation.ThreadPrimary
		if len(args) == 1 {
			k, err := conversation.ParseThreadKind(args[0])
			if err != nil {
				return err
			}
			kind = k
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/threads/"+string(kind))
		if err != nil {
			return err
		}
		var th conversation.Thread
		if err := decodeJSON(resp, &th); err != nil {
			return err
		}

		printThread(os.Stdout, newMarkdownRenderer(renderWidth), th)
		return nil
	},
}

var threadEditCmd = &cobra.Command{
	Use:   "edit <primary|imagination> <message id> <new text>",
	Short: "Edit a question and resubmit it, dropping everything after it",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := conversation.ParseThreadKind(args[0])
		if err != nil {
			return err
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid message id %q", args[1])
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.put(cmd.Context(), fmt.Sprintf("/threads/%s/messages/%d", kind, id), map[string]string{
			"content": strings.Join(args[2:], " "),
		})
		if err != nil {
			return err
		}
		return printTurn(resp)
	},
}

var threadResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard both threads",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/threads")
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Threads cleared")
		return nil
	},
}

func init() {
	threadCmd.AddCommand(threadShowCmd)
	threadCmd.AddCommand(threadEditCmd)
	threadCmd.AddCommand(threadResetCmd)
}

// --- session ---

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Show or change the running session's scope, model and credential",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the session settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/session")
		if err != nil {
			return err
		}
		var view api.SessionView
		if err := decodeJSON(resp, &view); err != nil {
			return err
		}
		printSession(view)
		return nil
	},
}

var sessionScopeCmd = &cobra.Command{
	Use:   "scope <document name|all>",
	Short: "Restrict grounded answers to one document, or use all",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return patchSession(cmd, map[string]string{"scope": args[0]})
	},
}

var sessionModelCmd = &cobra.Command{
	Use:   "model <name>",
	Short: "Select the model for subsequent questions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return patchSession(cmd, map[string]string{"model": args[0]})
	},
}

var sessionCredentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Read a model API key from stdin, validate it and use it for this session",
	RunE: func(cmd *cobra.Command, args []string) error {
		skipValidate, _ := cmd.Flags().GetBool("no-validate")

		fmt.Fprint(stderr, "API key: ")
		cred, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && cred == "" {
			return fmt.Errorf("reading API key: %w", err)
		}
		cred = strings.TrimSpace(cred)
		if cred == "" {
			return fmt.Errorf("API key is empty")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if !skipValidate {
			printStep("Validating key...")
			resp, err := client.post(cmd.Context(), "/session/credential/validate", map[string]string{"credential": cred})
			if err != nil {
				return err
			}
			var res api.ValidationResult
			if err := decodeJSON(resp, &res); err != nil {
				return err
			}
			if !res.Valid {
				return fmt.Errorf("API key rejected: %s", res.Message)
			}
		}

		resp, err := client.put(cmd.Context(), "/session/credential", map[string]string{"credential": cred})
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Credential set for this session")
		return nil
	},
}

func patchSession(cmd *cobra.Command, body map[string]string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	resp, err := client.patch(cmd.Context(), "/session", body)
	if err != nil {
		return err
	}
	var view api.SessionView
	if err := decodeJSON(resp, &view); err != nil {
		return err
	}
	printSession(view)
	return nil
}

func printSession(view api.SessionView) {
	printStatus("Scope", "%s", scopeLabel(string(view.Scope), string(view.EffectiveScope)))
	printStatus("Backend", "%s", view.Backend)
	printStatus("Model", "%s", view.Model)
	printStatus("Credential", "%v", view.CredentialSet)
}

func init() {
	sessionCredentialCmd.Flags().Bool("no-validate", false, "skip checking the key with the provider")
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionScopeCmd)
	sessionCmd.AddCommand(sessionModelCmd)
	sessionCmd.AddCommand(sessionCredentialCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}

		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
