// Package conversation runs the assistant's two conversation threads: the
// primary thread answered from the uploaded documents, and the imagination
// thread answered from general knowledge.
package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/copilot/internal/composer"
	"github.com/kalambet/copilot/internal/contract"
	"github.com/kalambet/copilot/internal/document"
	"github.com/kalambet/copilot/internal/gateway"
	"github.com/kalambet/copilot/internal/session"
)

// DefaultEscalationText is offered when the model reports no answer but
// gives no suggestion of its own.
const DefaultEscalationText = "I couldn't find an answer in the provided documents. Would you like me to try answering from general knowledge?"

// Gateway performs one model call per method invocation.
type Gateway interface {
	Grounded(ctx context.Context, in contract.GroundedInput, snap session.Snapshot) (contract.GroundedOutput, error)
	OpenKnowledge(ctx context.Context, in contract.OpenKnowledgeInput, snap session.Snapshot) (contract.OpenKnowledgeOutput, error)
}

// Documents resolves the documents selected by a scope.
type Documents interface {
	ListForScope(scope document.Scope) ([]document.Document, error)
}

// Session provides the settings a submission runs with.
type Session interface {
	Snapshot() session.Snapshot
}

type thread struct {
	id       string
	kind     ThreadKind
	status   Status
	messages []Message
	lastID   int64
}

func newThread(kind ThreadKind) *thread {
	return &thread{id: uuid.NewString(), kind: kind, status: StatusIdle}
}

func (t *thread) append(m Message, now time.Time) Message {
	t.lastID++
	m.ID = t.lastID
	m.CreatedAt = now
	t.messages = append(t.messages, m)
	return m
}

func (t *thread) indexOf(id int64) int {
	for i, m := range t.messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (t *thread) view() Thread {
	msgs := make([]Message, len(t.messages))
	copy(msgs, t.messages)
	return Thread{ID: t.id, Kind: t.kind, Status: t.status, Messages: msgs}
}

// Engine is safe for concurrent use. Each thread admits one outstanding
// submission; further submissions are rejected with ErrBusy until it
// settles.
type Engine struct {
	gw       Gateway
	docs     Documents
	sess     Session
	composer *composer.Composer
	logger   *slog.Logger
	now      func() time.Time

	mu          sync.Mutex
	primary     *thread
	imagination *thread
}

func New(gw Gateway, docs Documents, sess Session, comp *composer.Composer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if comp == nil {
		comp = composer.New(0, logger)
	}
	return &Engine{
		gw:       gw,
		docs:     docs,
		sess:     sess,
		composer: comp,
		logger:   logger,
		now:      time.Now,
		primary:  newThread(ThreadPrimary),
	}
}

// Thread returns a snapshot of the requested thread. The imagination
// thread is reported with no ID and no messages until the first
// escalation.
func (e *Engine) Thread(kind ThreadKind) Thread {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t := e.threadLocked(kind); t != nil {
		return t.view()
	}
	return Thread{Kind: kind, Status: StatusIdle, Messages: []Message{}}
}

// Reset discards both threads. Calls still in flight settle into the
// discarded threads.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.primary = newThread(ThreadPrimary)
	e.imagination = nil
}

func (e *Engine) threadLocked(kind ThreadKind) *thread {
	if kind == ThreadImagination {
		return e.imagination
	}
	return e.primary
}

// SubmitPrimary asks question against the documents in the session's
// scope. With no documents in scope it returns a NoContext *Failure and
// leaves the thread untouched.
func (e *Engine) SubmitPrimary(ctx context.Context, question string) (Turn, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Turn{}, ErrEmptyQuestion
	}

	e.mu.Lock()
	t := e.primary
	if t.status == StatusSubmitting {
		e.mu.Unlock()
		return Turn{}, ErrBusy
	}
	snap := e.sess.Snapshot()
	docs, err := e.contextLocked(snap)
	if err != nil {
		e.mu.Unlock()
		return Turn{}, err
	}
	q := t.append(Message{Role: RoleUser, Content: question}, e.now())
	t.status = StatusSubmitting
	e.mu.Unlock()

	return e.settleGrounded(ctx, t, q, docs, snap), nil
}

// EditAndResubmit replaces the user message id in the given thread and
// everything after it with newContent, then submits it again. The
// replacement message gets a fresh ID.
func (e *Engine) EditAndResubmit(ctx context.Context, kind ThreadKind, id int64, newContent string) (Turn, error) {
	newContent = strings.TrimSpace(newContent)
	if newContent == "" {
		return Turn{}, ErrEmptyQuestion
	}

	e.mu.Lock()
	t := e.threadLocked(kind)
	if t == nil {
		e.mu.Unlock()
		return Turn{}, ErrNoImaginationThread
	}
	if t.status == StatusSubmitting {
		e.mu.Unlock()
		return Turn{}, ErrBusy
	}
	k := t.indexOf(id)
	if k < 0 {
		e.mu.Unlock()
		return Turn{}, ErrMessageNotFound
	}
	if t.messages[k].Role != RoleUser {
		e.mu.Unlock()
		return Turn{}, ErrNotEditable
	}

	snap := e.sess.Snapshot()
	var (
		docs    string
		history string
		err     error
	)
	if kind == ThreadPrimary {
		// Check before truncating so a refused edit keeps the history.
		docs, err = e.contextLocked(snap)
	} else {
		docs, err = e.optionalContextLocked(snap)
		history = e.composer.History(turns(t.messages[:k]))
	}
	if err != nil {
		e.mu.Unlock()
		return Turn{}, err
	}

	t.messages = t.messages[:k:k]
	q := t.append(Message{Role: RoleUser, Content: newContent}, e.now())
	t.status = StatusSubmitting
	e.mu.Unlock()

	e.logger.Debug("message edited", "thread", string(kind), "edited_id", id, "new_id", q.ID, "kept", k)
	if kind == ThreadPrimary {
		return e.settleGrounded(ctx, t, q, docs, snap), nil
	}
	return e.settleOpen(ctx, t, q, docs, history, snap), nil
}

// Escalate opens a fresh imagination thread seeded with question,
// discarding any previous one. With withPrimaryHistory the primary thread
// is sent along as conversation history.
func (e *Engine) Escalate(ctx context.Context, question string, withPrimaryHistory bool) (Turn, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Turn{}, ErrEmptyQuestion
	}

	e.mu.Lock()
	snap := e.sess.Snapshot()
	docs, err := e.optionalContextLocked(snap)
	if err != nil {
		e.mu.Unlock()
		return Turn{}, err
	}
	var history string
	if withPrimaryHistory {
		history = e.composer.History(turns(e.primary.messages))
	}

	t := newThread(ThreadImagination)
	e.imagination = t
	q := t.append(Message{Role: RoleUser, Content: question}, e.now())
	t.status = StatusSubmitting
	e.mu.Unlock()

	e.logger.Debug("imagination thread opened", "thread_id", t.id)
	return e.settleOpen(ctx, t, q, docs, history, snap), nil
}

// EscalateFrom escalates the question answered by the primary-thread
// assistant message id.
func (e *Engine) EscalateFrom(ctx context.Context, id int64) (Turn, error) {
	e.mu.Lock()
	k := e.primary.indexOf(id)
	if k < 0 {
		e.mu.Unlock()
		return Turn{}, ErrMessageNotFound
	}
	question := e.primary.messages[k].OriginatingQuestion
	e.mu.Unlock()

	if question == "" {
		return Turn{}, ErrNotEscalatable
	}
	return e.Escalate(ctx, question, false)
}

// SubmitImaginationFollowup continues the open imagination thread, sending
// its prior turns as history.
func (e *Engine) SubmitImaginationFollowup(ctx context.Context, question string) (Turn, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Turn{}, ErrEmptyQuestion
	}

	e.mu.Lock()
	t := e.imagination
	if t == nil {
		e.mu.Unlock()
		return Turn{}, ErrNoImaginationThread
	}
	if t.status == StatusSubmitting {
		e.mu.Unlock()
		return Turn{}, ErrBusy
	}
	snap := e.sess.Snapshot()
	docs, err := e.optionalContextLocked(snap)
	if err != nil {
		e.mu.Unlock()
		return Turn{}, err
	}
	history := e.composer.History(turns(t.messages))
	q := t.append(Message{Role: RoleUser, Content: question}, e.now())
	t.status = StatusSubmitting
	e.mu.Unlock()

	return e.settleOpen(ctx, t, q, docs, history, snap), nil
}

// contextLocked renders the documents in scope, failing with NoContext
// when there are none.
func (e *Engine) contextLocked(snap session.Snapshot) (string, error) {
	docs, err := e.docs.ListForScope(snap.Scope)
	if err != nil {
		return "", err
	}
	if len(docs) == 0 {
		return "", &Failure{Kind: FailureNoContext, Message: "No documents are available for the selected scope. Upload a document first."}
	}
	return e.composer.Documents(docs), nil
}

func (e *Engine) optionalContextLocked(snap session.Snapshot) (string, error) {
	docs, err := e.docs.ListForScope(snap.Scope)
	if err != nil {
		return "", err
	}
	if len(docs) == 0 {
		return "", nil
	}
	return e.composer.Documents(docs), nil
}

func (e *Engine) settleGrounded(ctx context.Context, t *thread, q Message, docs string, snap session.Snapshot) Turn {
	out, err := e.gw.Grounded(context.WithoutCancel(ctx), contract.GroundedInput{Documents: docs, Question: q.Content}, snap)

	reply := Message{Role: RoleAssistant, OriginatingQuestion: q.Content}
	if err != nil {
		reply = failureMessage(err, q.Content)
	} else {
		found := out.AnswerFound
		reply.Content = out.Answer
		reply.AnswerFound = &found
		reply.Implementation = out.Implementation
		reply.ReferenceURL = out.ReferenceURL
		if !found {
			text := strings.TrimSpace(out.EscalationMessage)
			if text == "" {
				text = DefaultEscalationText
			}
			reply.EscalationOffer = &EscalationOffer{SuggestionText: text}
		}
	}
	return e.settle(t, q, reply, err)
}

func (e *Engine) settleOpen(ctx context.Context, t *thread, q Message, docs, history string, snap session.Snapshot) Turn {
	out, err := e.gw.OpenKnowledge(context.WithoutCancel(ctx), contract.OpenKnowledgeInput{
		Question:  q.Content,
		Documents: docs,
		History:   history,
	}, snap)

	reply := Message{Role: RoleAssistant, Content: out.Answer, OriginatingQuestion: q.Content}
	if err != nil {
		reply = failureMessage(err, q.Content)
	}
	return e.settle(t, q, reply, err)
}

func (e *Engine) settle(t *thread, q, reply Message, callErr error) Turn {
	e.mu.Lock()
	reply = t.append(reply, e.now())
	t.status = StatusIdle
	e.mu.Unlock()

	if callErr != nil {
		e.logger.Warn("turn failed", "thread", string(t.kind), "thread_id", t.id, "failure", string(reply.Failure))
	}
	return Turn{ThreadID: t.id, Question: q, Reply: reply}
}

// failureMessage turns a failed call into a visible assistant message.
func failureMessage(err error, question string) Message {
	kind := FailureTransport
	detail := ""
	var gerr *gateway.Error
	if errors.As(err, &gerr) {
		detail = gerr.Message
		switch gerr.Kind {
		case gateway.AuthenticationFailed:
			kind = FailureAuthentication
		case gateway.ContractViolation:
			kind = FailureContract
		case gateway.UpstreamRejected:
			kind = FailureUpstream
		}
	}

	var content string
	switch kind {
	case FailureAuthentication:
		content = "**Authentication failed.** The model credential is missing or was rejected. Check your API key and try again."
	case FailureContract:
		content = "**The model returned an answer in an unexpected format**, so it was discarded. Please try again."
	case FailureUpstream:
		content = "**The model declined to answer this question.**"
		if detail != "" {
			content += " Reason: " + detail
		}
	default:
		content = "**Could not reach the model.** Please check your connection and try again."
		if detail != "" {
			content += " (" + detail + ")"
		}
	}
	return Message{Role: RoleAssistant, Content: content, Failure: kind, OriginatingQuestion: question}
}

// turns renders messages for history, leaving out failure messages.
func turns(msgs []Message) []composer.Turn {
	out := make([]composer.Turn, 0, len(msgs))
	for _, m := range msgs {
		if m.Failed() {
			continue
		}
		out = append(out, composer.Turn{Role: string(m.Role), Content: m.Content})
	}
	return out
}
