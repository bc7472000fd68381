package conversation

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/copilot/internal/contract"
	"github.com/kalambet/copilot/internal/document"
	"github.com/kalambet/copilot/internal/gateway"
	"github.com/kalambet/copilot/internal/session"
	"github.com/kalambet/copilot/internal/storage"
)

// fakeGateway records every call. When gate is set, calls block until it
// is closed; entered receives one value per call as it starts.
type fakeGateway struct {
	mu       sync.Mutex
	grounded []contract.GroundedInput
	open     []contract.OpenKnowledgeInput
	snaps    []session.Snapshot

	groundedOut contract.GroundedOutput
	groundedErr error
	openOut     contract.OpenKnowledgeOutput
	openErr     error

	gate    chan struct{}
	entered chan struct{}
}

func wait(gate, entered chan struct{}) {
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
}

func (f *fakeGateway) Grounded(ctx context.Context, in contract.GroundedInput, snap session.Snapshot) (contract.GroundedOutput, error) {
	f.mu.Lock()
	f.grounded = append(f.grounded, in)
	f.snaps = append(f.snaps, snap)
	out, err := f.groundedOut, f.groundedErr
	gate, entered := f.gate, f.entered
	f.mu.Unlock()
	wait(gate, entered)
	return out, err
}

func (f *fakeGateway) OpenKnowledge(ctx context.Context, in contract.OpenKnowledgeInput, snap session.Snapshot) (contract.OpenKnowledgeOutput, error) {
	f.mu.Lock()
	f.open = append(f.open, in)
	f.snaps = append(f.snaps, snap)
	out, err := f.openOut, f.openErr
	gate, entered := f.gate, f.entered
	f.mu.Unlock()
	wait(gate, entered)
	return out, err
}

func (f *fakeGateway) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.grounded), len(f.open)
}

type fixture struct {
	engine *Engine
	gw     *fakeGateway
	lib    *document.Library
	sess   *session.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.Open()
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		gw:   &fakeGateway{},
		lib:  document.NewLibrary(store, nil),
		sess: session.New("test-key", "gemini-2.0-flash"),
	}
	f.engine = New(f.gw, f.lib, f.sess, nil, nil)
	return f
}

func (f *fixture) addDoc(t *testing.T, name, content string) {
	t.Helper()
	if err := f.lib.Add(document.Document{Name: name, Content: content}); err != nil {
		t.Fatalf("Add(%s): %v", name, err)
	}
}

// startBlocked runs fn in a goroutine with the gateway gated and waits
// until the model call has started.
func (f *fixture) startBlocked(t *testing.T, fn func() (Turn, error)) (release func() (Turn, error)) {
	t.Helper()
	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	f.gw.mu.Lock()
	f.gw.gate, f.gw.entered = gate, entered
	f.gw.mu.Unlock()

	type result struct {
		turn Turn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		turn, err := fn()
		done <- result{turn, err}
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("model call never started")
	}

	return func() (Turn, error) {
		close(gate)
		select {
		case r := <-done:
			f.gw.mu.Lock()
			f.gw.gate, f.gw.entered = nil, nil
			f.gw.mu.Unlock()
			return r.turn, r.err
		case <-time.After(2 * time.Second):
			t.Fatal("submission never settled")
			return Turn{}, nil
		}
	}
}

func contents(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func TestGroundedScenario(t *testing.T) {
	f := newFixture(t)
	f.addDoc(t, "gdpr.txt", "Article 32 requires encryption at rest.")
	f.sess.SetScope(document.ScopeAll)
	f.gw.groundedOut = contract.GroundedOutput{AnswerFound: true, Answer: "Yes, encryption at rest is required."}

	turn, err := f.engine.SubmitPrimary(context.Background(), "Is encryption required?")
	if err != nil {
		t.Fatalf("SubmitPrimary: %v", err)
	}

	if g, _ := f.gw.counts(); g != 1 {
		t.Fatalf("grounded calls = %d, want 1", g)
	}
	in := f.gw.grounded[0]
	if !strings.Contains(in.Documents, "Article 32 requires encryption at rest.") {
		t.Errorf("documents = %q", in.Documents)
	}
	if in.Question != "Is encryption required?" {
		t.Errorf("question = %q", in.Question)
	}

	th := f.engine.Thread(ThreadPrimary)
	if len(th.Messages) != 2 {
		t.Fatalf("thread length = %d, want 2", len(th.Messages))
	}
	if th.Messages[0].Role != RoleUser || th.Messages[1].Role != RoleAssistant {
		t.Errorf("roles = %s, %s", th.Messages[0].Role, th.Messages[1].Role)
	}
	reply := th.Messages[1]
	if reply.AnswerFound == nil || !*reply.AnswerFound {
		t.Error("expected answerFound = true")
	}
	if reply.EscalationOffer != nil {
		t.Error("no escalation offer expected when the answer was found")
	}
	if reply.OriginatingQuestion != "Is encryption required?" {
		t.Errorf("OriginatingQuestion = %q", reply.OriginatingQuestion)
	}
	if turn.Reply.ID != reply.ID || th.Status != StatusIdle {
		t.Errorf("turn reply id = %d, thread status = %s", turn.Reply.ID, th.Status)
	}
}

func TestEscalationScenario(t *testing.T) {
	f := newFixture(t)
	f.addDoc(t, "gdpr.txt", "Article 32 requires encryption at rest.")
	f.gw.groundedOut = contract.GroundedOutput{
		AnswerFound:        false,
		Answer:             "Not found.",
		SuggestsEscalation: true,
		EscalationMessage:  "Try imagination?",
	}

	turn, err := f.engine.SubmitPrimary(context.Background(), "Is encryption required?")
	if err != nil {
		t.Fatalf("SubmitPrimary: %v", err)
	}
	if turn.Reply.EscalationOffer == nil || turn.Reply.EscalationOffer.SuggestionText != "Try imagination?" {
		t.Fatalf("EscalationOffer = %+v", turn.Reply.EscalationOffer)
	}
	if _, o := f.gw.counts(); o != 0 {
		t.Fatal("engine must not escalate on its own")
	}

	f.gw.openOut = contract.OpenKnowledgeOutput{Answer: "General best practice is..."}
	if _, err := f.engine.Escalate(context.Background(), "Is encryption required?", false); err != nil {
		t.Fatalf("Escalate: %v", err)
	}

	if _, o := f.gw.counts(); o != 1 {
		t.Fatalf("open knowledge calls = %d, want 1", o)
	}
	if q := f.gw.open[0].Question; q != "Is encryption required?" {
		t.Errorf("question = %q", q)
	}
	if !strings.Contains(f.gw.open[0].Documents, "Article 32") {
		t.Errorf("expected document context, got %q", f.gw.open[0].Documents)
	}
	if f.gw.open[0].History != "" {
		t.Errorf("fresh escalation sent history %q", f.gw.open[0].History)
	}

	im := f.engine.Thread(ThreadImagination)
	if got := contents(im.Messages); !reflect.DeepEqual(got, []string{"Is encryption required?", "General best practice is..."}) {
		t.Errorf("imagination thread = %v", got)
	}
	if len(f.engine.Thread(ThreadPrimary).Messages) != 2 {
		t.Error("escalation must not touch the primary thread")
	}
}

func TestDefaultEscalationText(t *testing.T) {
	f := newFixture(t)
	f.addDoc(t, "a.txt", "x")
	f.gw.groundedOut = contract.GroundedOutput{AnswerFound: false, Answer: "Not found."}

	turn, err := f.engine.SubmitPrimary(context.Background(), "q")
	if err != nil {
		t.Fatalf("SubmitPrimary: %v", err)
	}
	if turn.Reply.EscalationOffer == nil || turn.Reply.EscalationOffer.SuggestionText != DefaultEscalationText {
		t.Errorf("EscalationOffer = %+v", turn.Reply.EscalationOffer)
	}
}

func TestNoContextFastFail(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.SubmitPrimary(context.Background(), "Is encryption required?")
	var fail *Failure
	if !errors.As(err, &fail) || fail.Kind != FailureNoContext {
		t.Fatalf("err = %v, want NoContext failure", err)
	}
	if fail.Message == "" {
		t.Error("failure must carry a readable message")
	}
	if g, o := f.gw.counts(); g+o != 0 {
		t.Errorf("gateway called %d times", g+o)
	}
	if n := len(f.engine.Thread(ThreadPrimary).Messages); n != 0 {
		t.Errorf("thread length = %d, want 0", n)
	}
}

func TestConformantReplyRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.addDoc(t, "a.txt", "x")
	impl := &contract.Implementation{
		GCP: []contract.Step{{Title: "Enable CMEK", Instruction: "gcloud kms keys create", ReferenceURL: "https://cloud.google.com/kms/docs"}},
	}
	f.gw.groundedOut = contract.GroundedOutput{AnswerFound: true, Answer: "**Yes.**", Implementation: impl, ReferenceURL: "https://cloud.google.com/security"}

	turn, err := f.engine.SubmitPrimary(context.Background(), "q")
	if err != nil {
		t.Fatalf("SubmitPrimary: %v", err)
	}
	r := turn.Reply
	if r.Content != "**Yes.**" || !reflect.DeepEqual(r.Implementation, impl) || r.AnswerFound == nil || !*r.AnswerFound {
		t.Errorf("reply does not mirror output: %+v", r)
	}
	if r.ReferenceURL != "https://cloud.google.com/security" {
		t.Errorf("ReferenceURL = %q", r.ReferenceURL)
	}
}

func TestFailuresBecomeMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"auth", gateway.NewError(gateway.AuthenticationFailed, "no credential configured", nil), FailureAuthentication},
		{"transport", gateway.NewError(gateway.TransportFailed, "model call timed out", context.DeadlineExceeded), FailureTransport},
		{"contract", gateway.NewError(gateway.ContractViolation, "bad format", &contract.ViolationError{Kind: contract.KindGrounded, Problems: []string{"answer: required field missing"}}), FailureContract},
		{"upstream", gateway.NewError(gateway.UpstreamRejected, "response blocked: SAFETY", nil), FailureUpstream},
		{"untyped", errors.New("weird"), FailureTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.addDoc(t, "a.txt", "x")
			f.gw.groundedErr = tt.err

			turn, err := f.engine.SubmitPrimary(context.Background(), "my question")
			if err != nil {
				t.Fatalf("SubmitPrimary: %v", err)
			}

			th := f.engine.Thread(ThreadPrimary)
			if len(th.Messages) != 2 {
				t.Fatalf("thread length = %d, want 2", len(th.Messages))
			}
			if th.Messages[0].Content != "my question" {
				t.Errorf("user message = %q", th.Messages[0].Content)
			}
			reply := th.Messages[1]
			if reply.Role != RoleAssistant || reply.Failure != tt.want || reply.Content == "" {
				t.Errorf("reply = %+v, want failure %q", reply, tt.want)
			}
			if reply.AnswerFound != nil || reply.Implementation != nil || reply.EscalationOffer != nil {
				t.Errorf("failure message carries a partial answer: %+v", reply)
			}
			if turn.Reply.Failure != tt.want || th.Status != StatusIdle {
				t.Errorf("turn failure = %q, status = %s", turn.Reply.Failure, th.Status)
			}
		})
	}
}

func TestUpstreamRejectionDistinguishable(t *testing.T) {
	up := failureMessage(gateway.NewError(gateway.UpstreamRejected, "response blocked: SAFETY", nil), "q")
	tr := failureMessage(gateway.NewError(gateway.TransportFailed, "model call failed", nil), "q")
	if up.Content == tr.Content {
		t.Error("upstream rejection and transport failure must read differently")
	}
	if !strings.Contains(up.Content, "declined") {
		t.Errorf("upstream content = %q", up.Content)
	}
}

func TestSubmissionWhileBusyIsRejected(t *testing.T) {
	f := newFixture(t)
	f.addDoc(t, "a.txt", "x")
	f.gw.groundedOut = contract.GroundedOutput{AnswerFound: true, Answer: "first answer"}

	release := f.startBlocked(t, func() (Turn, error) {
		return f.engine.SubmitPrimary(context.Background(), "first")
	})

	if st := f.engine.Thread(ThreadPrimary).Status; st != StatusSubmitting {
		t.Errorf("status = %s, want submitting", st)
	}
	if _, err := f.engine.SubmitPrimary(context.Background(), "second"); !errors.Is(err, ErrBusy) {
		t.Errorf("second submit err = %v, want ErrBusy", err)
	}
	if _, err := f.engine.EditAndResubmit(context.Background(), ThreadPrimary, 1, "edited"); !errors.Is(err, ErrBusy) {
		t.Errorf("edit while submitting err = %v, want ErrBusy", err)
	}

	if _, err := release(); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	if _, err := f.engine.SubmitPrimary(context.Background(), "third"); err != nil {
		t.Fatalf("third submit: %v", err)
	}
	got := contents(f.engine.Thread(ThreadPrimary).Messages)
	want := []string{"first", "first answer", "third", "first answer"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("thread = %v, want %v", got, want)
	}
}

func TestThreadsAreIndependent(t *testing.T) {
	f := newFixture(t)
	f.addDoc(t, "a.txt", "x")
	f.gw.groundedOut = contract.GroundedOutput{AnswerFound: true, Answer: "a"}
	f.gw.openOut = contract.OpenKnowledgeOutput{Answer: "b"}

	release := f.startBlocked(t, func() (Turn, error) {
		return f.engine.SubmitPrimary(context.Background(), "primary question")
	})
	f.gw.mu.Lock()
	entered := f.gw.entered
	f.gw.mu.Unlock()

	// The imagination thread is not blocked by the primary one.
	esc := make(chan error, 1)
	go func() {
		_, err := f.engine.Escalate(context.Background(), "side question", false)
		esc <- err
	}()
	<-entered

	if _, err := release(); err != nil {
		t.Fatalf("primary: %v", err)
	}
	if err := <-esc; err != nil {
		t.Fatalf("escalate: %v", err)
	}
}

func TestEditTruncates(t *testing.T) {
	f := newFixture(t)
	f.addDoc(t, "a.txt", "x")
	ctx := context.Background()

	for _, q := range []string{"q1", "q2", "q3"} {
		f.gw.groundedOut = contract.GroundedOutput{AnswerFound: true, Answer: "a-" + q}
		if _, err := f.engine.SubmitPrimary(ctx, q); err != nil {
			t.Fatalf("SubmitPrimary(%s): %v", q, err)
		}
	}
	before := f.engine.Thread(ThreadPrimary)
	if len(before.Messages) != 6 {
		t.Fatalf("thread length = %d, want 6", len(before.Messages))
	}

	// Edit q2 at position k = 2.
	k := 2
	target := before.Messages[k]
	f.gw.groundedOut = contract.GroundedOutput{AnswerFound: true, Answer: "a-edited"}

	release := f.startBlocked(t, func() (Turn, error) {
		return f.engine.EditAndResubmit(ctx, ThreadPrimary, target.ID, "q2 edited")
	})

	mid := f.engine.Thread(ThreadPrimary)
	if len(mid.Messages) != k+1 {
		t.Fatalf("thread length during edit = %d, want %d", len(mid.Messages), k+1)
	}
	if last := mid.Messages[k]; last.Content != "q2 edited" || last.Role != RoleUser {
		t.Errorf("last message = %+v", last)
	}

	turn, err := release()
	if err != nil {
		t.Fatalf("EditAndResubmit: %v", err)
	}

	after := f.engine.Thread(ThreadPrimary)
	if len(after.Messages) != k+2 {
		t.Fatalf("thread length after settle = %d, want %d", len(after.Messages), k+2)
	}
	want := []string{"q1", "a-q1", "q2 edited", "a-edited"}
	if got := contents(after.Messages); !reflect.DeepEqual(got, want) {
		t.Errorf("thread = %v, want %v", got, want)
	}
	for i := 1; i < len(after.Messages); i++ {
		if after.Messages[i].ID <= after.Messages[i-1].ID {
			t.Errorf("ids not strictly increasing: %d then %d", after.Messages[i-1].ID, after.Messages[i].ID)
		}
	}
	if turn.Question.ID <= before.Messages[5].ID {
		t.Errorf("replacement id %d must exceed every previous id", turn.Question.ID)
	}
	if f.gw.grounded[len(f.gw.grounded)-1].Question != "q2 edited" {
		t.Error("edited content was not resubmitted")
	}
}

func TestEditErrors(t *testing.T) {
	f := newFixture(t)
	f.addDoc(t, "a.txt", "x")
	ctx := context.Background()
	f.gw.groundedOut = contract.GroundedOutput{AnswerFound: true, Answer: "a"}
	turn, err := f.engine.SubmitPrimary(ctx, "q")
	if err != nil {
		t.Fatalf("SubmitPrimary: %v", err)
	}

	if _, err := f.engine.EditAndResubmit(ctx, ThreadPrimary, turn.Reply.ID, "x"); !errors.Is(err, ErrNotEditable) {
		t.Errorf("edit assistant err = %v, want ErrNotEditable", err)
	}
	if _, err := f.engine.EditAndResubmit(ctx, ThreadPrimary, 999, "x"); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("edit missing err = %v, want ErrMessageNotFound", err)
	}
	if _, err := f.engine.EditAndResubmit(ctx, ThreadPrimary, turn.Question.ID, "  "); !errors.Is(err, ErrEmptyQuestion) {
		t.Errorf("edit empty err = %v, want ErrEmptyQuestion", err)
	}
	if _, err := f.engine.EditAndResubmit(ctx, ThreadImagination, 1, "x"); !errors.Is(err, ErrNoImaginationThread) {
		t.Errorf("edit imagination err = %v, want ErrNoImaginationThread", err)
	}

	// Removing every document refuses the edit without truncating.
	if err := f.lib.Remove("a.txt"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	_, err = f.engine.EditAndResubmit(ctx, ThreadPrimary, turn.Question.ID, "q again")
	var fail *Failure
	if !errors.As(err, &fail) || fail.Kind != FailureNoContext {
		t.Errorf("err = %v, want NoContext", err)
	}
	if n := len(f.engine.Thread(ThreadPrimary).Messages); n != 2 {
		t.Errorf("thread length = %d, want 2", n)
	}
}

func TestEscalateAlwaysStartsFresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gw.openOut = contract.OpenKnowledgeOutput{Answer: "answer"}

	first, err := f.engine.Escalate(ctx, "first question", false)
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	for _, q := range []string{"follow 1", "follow 2"} {
		if _, err := f.engine.SubmitImaginationFollowup(ctx, q); err != nil {
			t.Fatalf("SubmitImaginationFollowup: %v", err)
		}
	}
	if m := len(f.engine.Thread(ThreadImagination).Messages); m != 6 {
		t.Fatalf("imagination length = %d, want 6", m)
	}

	release := f.startBlocked(t, func() (Turn, error) {
		return f.engine.Escalate(ctx, "new question", false)
	})
	mid := f.engine.Thread(ThreadImagination)
	if len(mid.Messages) != 1 || mid.Messages[0].Content != "new question" {
		t.Fatalf("imagination thread during escalate = %v, want [new question]", contents(mid.Messages))
	}
	if mid.ID == first.ThreadID {
		t.Error("escalation must open a new thread")
	}
	if mid.Status != StatusSubmitting {
		t.Errorf("status = %s, want submitting", mid.Status)
	}

	if _, err := release(); err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if n := len(f.engine.Thread(ThreadImagination).Messages); n != 2 {
		t.Errorf("imagination length after settle = %d, want 2", n)
	}
	if h := f.gw.open[len(f.gw.open)-1].History; h != "" {
		t.Errorf("new thread sent history %q", h)
	}
}

func TestLateReplyStaysInReplacedThread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gw.openOut = contract.OpenKnowledgeOutput{Answer: "late answer"}

	release := f.startBlocked(t, func() (Turn, error) {
		return f.engine.Escalate(ctx, "old question", false)
	})
	old := f.engine.Thread(ThreadImagination)

	// The blocked call keeps its own gate; the next call runs straight through.
	f.gw.mu.Lock()
	f.gw.gate, f.gw.entered = nil, nil
	f.gw.openOut = contract.OpenKnowledgeOutput{Answer: "fresh answer"}
	f.gw.mu.Unlock()

	fresh, err := f.engine.Escalate(ctx, "new question", false)
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if fresh.ThreadID == old.ID {
		t.Fatal("second escalation reused the pending thread")
	}

	late, err := release()
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if late.ThreadID != old.ID || late.Reply.Content != "late answer" {
		t.Errorf("late turn = %+v, want reply in thread %s", late, old.ID)
	}

	th := f.engine.Thread(ThreadImagination)
	if th.ID != fresh.ThreadID {
		t.Errorf("imagination thread = %s, want %s", th.ID, fresh.ThreadID)
	}
	if got := contents(th.Messages); !reflect.DeepEqual(got, []string{"new question", "fresh answer"}) {
		t.Errorf("imagination thread = %v, want [new question fresh answer]", got)
	}
	if th.Status != StatusIdle {
		t.Errorf("status = %s, want idle", th.Status)
	}
}

func TestImaginationFollowupSendsHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.SubmitImaginationFollowup(ctx, "q"); !errors.Is(err, ErrNoImaginationThread) {
		t.Fatalf("err = %v, want ErrNoImaginationThread", err)
	}

	f.gw.openOut = contract.OpenKnowledgeOutput{Answer: "SOC 2 is an audit framework."}
	if _, err := f.engine.Escalate(ctx, "What is SOC 2?", false); err != nil {
		t.Fatalf("Escalate: %v", err)
	}

	f.gw.openErr = gateway.NewError(gateway.TransportFailed, "boom", nil)
	if _, err := f.engine.SubmitImaginationFollowup(ctx, "Lost question"); err != nil {
		t.Fatalf("SubmitImaginationFollowup: %v", err)
	}

	f.gw.openErr = nil
	f.gw.openOut = contract.OpenKnowledgeOutput{Answer: "Type II covers a period."}
	if _, err := f.engine.SubmitImaginationFollowup(ctx, "And type II?"); err != nil {
		t.Fatalf("SubmitImaginationFollowup: %v", err)
	}

	last := f.gw.open[len(f.gw.open)-1]
	if last.Question != "And type II?" {
		t.Errorf("question = %q", last.Question)
	}
	wantHistory := "User: What is SOC 2?\nAssistant: SOC 2 is an audit framework.\nUser: Lost question\n"
	if last.History != wantHistory {
		t.Errorf("history = %q, want %q", last.History, wantHistory)
	}
	if last.Documents != "" {
		t.Errorf("documents = %q, want none", last.Documents)
	}
	if n := len(f.engine.Thread(ThreadImagination).Messages); n != 6 {
		t.Errorf("imagination length = %d, want 6", n)
	}
}

func TestEscalateWithPrimaryHistory(t *testing.T) {
	f := newFixture(t)
	f.addDoc(t, "a.txt", "x")
	ctx := context.Background()
	f.gw.groundedOut = contract.GroundedOutput{AnswerFound: false, Answer: "Not found."}
	if _, err := f.engine.SubmitPrimary(ctx, "Retention period?"); err != nil {
		t.Fatalf("SubmitPrimary: %v", err)
	}

	f.gw.openOut = contract.OpenKnowledgeOutput{Answer: "Typically one year."}
	if _, err := f.engine.Escalate(ctx, "Retention period?", true); err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if h := f.gw.open[0].History; h != "User: Retention period?\nAssistant: Not found.\n" {
		t.Errorf("history = %q", h)
	}
}

func TestEscalateFrom(t *testing.T) {
	f := newFixture(t)
	f.addDoc(t, "a.txt", "x")
	ctx := context.Background()
	f.gw.groundedOut = contract.GroundedOutput{AnswerFound: false, Answer: "Not found."}
	turn, err := f.engine.SubmitPrimary(ctx, "Who is the DPO?")
	if err != nil {
		t.Fatalf("SubmitPrimary: %v", err)
	}

	f.gw.openOut = contract.OpenKnowledgeOutput{Answer: "Usually appointed by..."}
	if _, err := f.engine.EscalateFrom(ctx, turn.Reply.ID); err != nil {
		t.Fatalf("EscalateFrom: %v", err)
	}
	if q := f.gw.open[0].Question; q != "Who is the DPO?" {
		t.Errorf("question = %q", q)
	}

	if _, err := f.engine.EscalateFrom(ctx, 999); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("err = %v, want ErrMessageNotFound", err)
	}
	if _, err := f.engine.EscalateFrom(ctx, turn.Question.ID); !errors.Is(err, ErrNotEscalatable) {
		t.Errorf("err = %v, want ErrNotEscalatable", err)
	}
}

func TestEditImaginationThread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gw.openOut = contract.OpenKnowledgeOutput{Answer: "a"}
	if _, err := f.engine.Escalate(ctx, "q1", false); err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	turn, err := f.engine.SubmitImaginationFollowup(ctx, "q2")
	if err != nil {
		t.Fatalf("SubmitImaginationFollowup: %v", err)
	}

	if _, err := f.engine.EditAndResubmit(ctx, ThreadImagination, turn.Question.ID, "q2 edited"); err != nil {
		t.Fatalf("EditAndResubmit: %v", err)
	}
	last := f.gw.open[len(f.gw.open)-1]
	if last.Question != "q2 edited" || last.History != "User: q1\nAssistant: a\n" {
		t.Errorf("unexpected request: %+v", last)
	}
	if got := contents(f.engine.Thread(ThreadImagination).Messages); !reflect.DeepEqual(got, []string{"q1", "a", "q2 edited", "a"}) {
		t.Errorf("thread = %v", got)
	}
}

func TestSubmissionUsesSnapshot(t *testing.T) {
	f := newFixture(t)
	f.addDoc(t, "a.txt", "alpha")
	f.addDoc(t, "b.txt", "beta")
	f.sess.SetScope("a.txt")
	f.gw.groundedOut = contract.GroundedOutput{AnswerFound: true, Answer: "ok"}

	release := f.startBlocked(t, func() (Turn, error) {
		return f.engine.SubmitPrimary(context.Background(), "q")
	})
	f.sess.SetCredential("other-key")
	f.sess.SetScope(document.ScopeAll)
	if _, err := release(); err != nil {
		t.Fatalf("SubmitPrimary: %v", err)
	}

	if f.gw.snaps[0].Credential != "test-key" || f.gw.snaps[0].Scope != "a.txt" {
		t.Errorf("call used %v, want the snapshot taken at submission", f.gw.snaps[0])
	}
	docs := f.gw.grounded[0].Documents
	if !strings.Contains(docs, "alpha") || strings.Contains(docs, "beta") {
		t.Errorf("documents = %q, want only a.txt", docs)
	}
}

func TestDeletedScopeFallsBackToAll(t *testing.T) {
	f := newFixture(t)
	f.addDoc(t, "a.txt", "alpha")
	f.addDoc(t, "b.txt", "beta")
	f.sess.SetScope("a.txt")
	if err := f.lib.Remove("a.txt"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	f.gw.groundedOut = contract.GroundedOutput{AnswerFound: true, Answer: "ok"}

	if _, err := f.engine.SubmitPrimary(context.Background(), "q"); err != nil {
		t.Fatalf("SubmitPrimary: %v", err)
	}
	if docs := f.gw.grounded[0].Documents; !strings.Contains(docs, "beta") {
		t.Errorf("documents = %q, want fallback to all", docs)
	}
}

func TestCanceledCallerStillSettles(t *testing.T) {
	f := newFixture(t)
	f.addDoc(t, "a.txt", "x")
	f.gw.groundedOut = contract.GroundedOutput{AnswerFound: true, Answer: "ok"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	turn, err := f.engine.SubmitPrimary(ctx, "q")
	if err != nil {
		t.Fatalf("SubmitPrimary: %v", err)
	}
	if turn.Reply.Failed() {
		t.Errorf("reply failed: %+v", turn.Reply)
	}
}

func TestResetAndEmptyQuestion(t *testing.T) {
	f := newFixture(t)
	f.addDoc(t, "a.txt", "x")
	ctx := context.Background()

	if _, err := f.engine.SubmitPrimary(ctx, "   "); !errors.Is(err, ErrEmptyQuestion) {
		t.Errorf("err = %v, want ErrEmptyQuestion", err)
	}
	if _, err := f.engine.Escalate(ctx, "", false); !errors.Is(err, ErrEmptyQuestion) {
		t.Errorf("err = %v, want ErrEmptyQuestion", err)
	}

	f.gw.groundedOut = contract.GroundedOutput{AnswerFound: true, Answer: "a"}
	f.gw.openOut = contract.OpenKnowledgeOutput{Answer: "b"}
	f.engine.SubmitPrimary(ctx, "q")
	f.engine.Escalate(ctx, "q", false)
	oldID := f.engine.Thread(ThreadPrimary).ID

	f.engine.Reset()
	p := f.engine.Thread(ThreadPrimary)
	if len(p.Messages) != 0 || p.ID == oldID {
		t.Errorf("primary after reset = %+v", p)
	}
	im := f.engine.Thread(ThreadImagination)
	if len(im.Messages) != 0 || im.ID != "" {
		t.Errorf("imagination after reset = %+v", im)
	}
}

func TestParseThreadKind(t *testing.T) {
	for _, s := range []string{"primary", "imagination"} {
		if k, err := ParseThreadKind(s); err != nil || string(k) != s {
			t.Errorf("ParseThreadKind(%q) = %q, %v", s, k, err)
		}
	}
	if _, err := ParseThreadKind("side"); !errors.Is(err, ErrUnknownThread) {
		t.Errorf("err = %v, want ErrUnknownThread", err)
	}
}
