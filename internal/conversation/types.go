package conversation

import (
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/copilot/internal/contract"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ThreadKind selects one of the engine's two threads.
type ThreadKind string

const (
	ThreadPrimary     ThreadKind = "primary"
	ThreadImagination ThreadKind = "imagination"
)

// ParseThreadKind accepts "primary" or "imagination".
func ParseThreadKind(s string) (ThreadKind, error) {
	switch ThreadKind(s) {
	case ThreadPrimary, ThreadImagination:
		return ThreadKind(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownThread, s)
}

// Status is Submitting while a model call for the thread is outstanding.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusSubmitting Status = "submitting"
)

// FailureKind classifies a failed turn.
type FailureKind string

const (
	FailureNoContext      FailureKind = "no_context"
	FailureAuthentication FailureKind = "authentication_failed"
	FailureTransport      FailureKind = "transport_failed"
	FailureContract       FailureKind = "contract_violation"
	FailureUpstream       FailureKind = "upstream_rejected"
)

// EscalationOffer invites the user to retry a question from general
// knowledge.
type EscalationOffer struct {
	SuggestionText string `json:"suggestionText"`
}

// Message is one turn of a thread. Messages are never modified once
// appended.
type Message struct {
	ID      int64  `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Assistant-only fields.
	Implementation      *contract.Implementation `json:"implementation,omitempty"`
	AnswerFound         *bool                    `json:"answerFound,omitempty"`
	EscalationOffer     *EscalationOffer         `json:"escalationOffer,omitempty"`
	OriginatingQuestion string                   `json:"originatingQuestion,omitempty"`
	ReferenceURL        string                   `json:"referenceUrl,omitempty"`
	Failure             FailureKind              `json:"failure,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Failed reports whether m is a synthetic failure message.
func (m Message) Failed() bool { return m.Failure != "" }

// Thread is an immutable snapshot of a thread.
type Thread struct {
	ID       string     `json:"id"`
	Kind     ThreadKind `json:"kind"`
	Status   Status     `json:"status"`
	Messages []Message  `json:"messages"`
}

// Turn is the outcome of a submission: the appended user message and the
// assistant reply, which may be a failure message.
type Turn struct {
	ThreadID string  `json:"threadId"`
	Question Message `json:"question"`
	Reply    Message `json:"reply"`
}

var (
	ErrBusy                = errors.New("thread is busy with another submission")
	ErrEmptyQuestion       = errors.New("question is empty")
	ErrMessageNotFound     = errors.New("message not found")
	ErrNotEditable         = errors.New("only user messages can be edited")
	ErrNotEscalatable      = errors.New("message has no originating question")
	ErrNoImaginationThread = errors.New("no imagination thread is open")
	ErrUnknownThread       = errors.New("unknown thread")
)

// Failure is returned when a submission is refused before anything is
// appended to a thread.
type Failure struct {
	Kind    FailureKind
	Message string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}
