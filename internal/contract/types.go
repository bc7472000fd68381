// Package contract defines the two model operations the assistant supports,
// grounded question answering and open-knowledge answering, together with
// their prompts, output schemas and response validation.
package contract

import (
	"errors"
	"strings"
)

// Kind names a contract.
type Kind string

const (
	KindGrounded      Kind = "grounded"
	KindOpenKnowledge Kind = "open_knowledge"
)

// Version tags every rendered request so prompt revisions can be told apart
// in logs.
const Version = "v1"

// Provider is a cloud provider tag used in implementation guides.
type Provider string

const (
	ProviderGCP   Provider = "gcp"
	ProviderAWS   Provider = "aws"
	ProviderAzure Provider = "azure"
)

// Providers lists every provider in presentation order.
var Providers = []Provider{ProviderGCP, ProviderAWS, ProviderAzure}

// Step is one instruction of an implementation guide.
type Step struct {
	Title        string `json:"title"`
	Instruction  string `json:"instruction"`
	BestPractice string `json:"bestPractice,omitempty"`
	ReferenceURL string `json:"referenceUrl,omitempty"`
}

// Implementation maps each provider to an ordered list of steps.
type Implementation struct {
	GCP   []Step `json:"gcp,omitempty"`
	AWS   []Step `json:"aws,omitempty"`
	Azure []Step `json:"azure,omitempty"`
}

// Steps returns the steps for p.
func (im *Implementation) Steps(p Provider) []Step {
	if im == nil {
		return nil
	}
	switch p {
	case ProviderGCP:
		return im.GCP
	case ProviderAWS:
		return im.AWS
	case ProviderAzure:
		return im.Azure
	}
	return nil
}

// Empty reports whether no provider has any step.
func (im *Implementation) Empty() bool {
	return im == nil || len(im.GCP)+len(im.AWS)+len(im.Azure) == 0
}

var (
	ErrEmptyQuestion  = errors.New("question is empty")
	ErrEmptyDocuments = errors.New("documents are empty")
)

// GroundedInput is the request for a document-grounded answer.
type GroundedInput struct {
	Documents string `json:"documents"`
	Question  string `json:"question"`
}

func (in GroundedInput) Validate() error {
	if strings.TrimSpace(in.Question) == "" {
		return ErrEmptyQuestion
	}
	if strings.TrimSpace(in.Documents) == "" {
		return ErrEmptyDocuments
	}
	return nil
}

// GroundedOutput is a validated grounded answer.
type GroundedOutput struct {
	AnswerFound        bool            `json:"answerFound"`
	Answer             string          `json:"answer"`
	Implementation     *Implementation `json:"implementation,omitempty"`
	SuggestsEscalation bool            `json:"suggestsEscalation,omitempty"`
	EscalationMessage  string          `json:"escalationMessage,omitempty"`
	ReferenceURL       string          `json:"referenceUrl,omitempty"`
}

// OpenKnowledgeInput is the request for an answer unconstrained by the
// documents. Documents and History are optional context.
type OpenKnowledgeInput struct {
	Question  string `json:"question"`
	Documents string `json:"documents,omitempty"`
	History   string `json:"history,omitempty"`
}

func (in OpenKnowledgeInput) Validate() error {
	if strings.TrimSpace(in.Question) == "" {
		return ErrEmptyQuestion
	}
	return nil
}

// OpenKnowledgeOutput is a validated open-knowledge answer.
type OpenKnowledgeOutput struct {
	Answer string `json:"answer"`
}
