package contract

import (
	"fmt"
	"strings"
	"text/template"
)

// NotFoundAnswer is the answer the grounded prompt asks for when the
// documents do not cover the question.
const NotFoundAnswer = "I could not find an answer to this question in the provided document(s)."

// Prompt is a rendered request: standing instructions plus the user turn.
type Prompt struct {
	Kind    Kind
	Version string
	System  string
	User    string
}

const groundedSystemPrompt = `You are a compliance analyst. You answer questions using ONLY the compliance documents supplied by the user. Respond with a single JSON object that conforms to the provided schema and nothing else.

Rules, in order:

1. Answer from the documents. Put a direct, concise Markdown answer in "answer". Use only information contained in the documents. Set "answerFound" to true when the documents answer the question.

2. Implementation guide. When you can, populate "implementation" for gcp, aws and azure.
   - For technical questions ("how do I...", "what are the steps to...", "show me the command for..."), give a step-by-step guide. Every step MUST have a "title", an executable CLI command or precise console actions in "instruction", and an official provider documentation link in "referenceUrl".
   - For general questions, give security best practices relevant to the answer. "instruction" summarizes the action; "referenceUrl" may be omitted.
   - Never return a provider with an empty list. Omit "implementation" entirely if you have nothing to add.

3. Missing answers. If the documents do not answer the question, set "answerFound" to false, state in "answer" that the information was not found (for example: "` + NotFoundAnswer + `"), set "suggestsEscalation" to true and put a short invitation to answer from general knowledge in "escalationMessage".

4. Optionally put one highly relevant documentation URL in "referenceUrl".`

const openKnowledgeSystemPrompt = `You are a helpful and knowledgeable compliance assistant. Answer the user's question using everything available to you:

1. Your general knowledge.
2. The history of the current conversation.
3. The compliance documents provided by the user, when present.

Use all available context to give a comprehensive, relevant Markdown answer. Respond with a single JSON object that conforms to the provided schema and nothing else.`

var groundedUserTmpl = template.Must(template.New("grounded").Parse(
	`Analyze the following compliance documents:
{{.Documents}}
Now, answer this user question: "{{.Question}}"`))

var openKnowledgeUserTmpl = template.Must(template.New("open_knowledge").Parse(
	`{{if .History}}CONVERSATION HISTORY:
{{.History}}
{{end}}{{if .Documents}}COMPLIANCE DOCUMENTS:
{{.Documents}}
{{end}}Now, answer this user question: "{{.Question}}"`))

// RenderGrounded validates in and renders the grounded prompt.
func RenderGrounded(in GroundedInput) (Prompt, error) {
	if err := in.Validate(); err != nil {
		return Prompt{}, err
	}
	user, err := render(groundedUserTmpl, in)
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{Kind: KindGrounded, Version: Version, System: groundedSystemPrompt, User: user}, nil
}

// RenderOpenKnowledge validates in and renders the open-knowledge prompt.
func RenderOpenKnowledge(in OpenKnowledgeInput) (Prompt, error) {
	if err := in.Validate(); err != nil {
		return Prompt{}, err
	}
	user, err := render(openKnowledgeUserTmpl, in)
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{Kind: KindOpenKnowledge, Version: Version, System: openKnowledgeSystemPrompt, User: user}, nil
}

func render(t *template.Template, data any) (string, error) {
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("rendering %s prompt: %w", t.Name(), err)
	}
	return sb.String(), nil
}
