package contract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ViolationError reports every way a model reply failed its contract.
type ViolationError struct {
	Kind     Kind
	Problems []string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("%s response violates contract: %s", e.Kind, strings.Join(e.Problems, "; "))
}

type checker struct {
	problems []string
}

func (c *checker) addf(format string, args ...any) {
	c.problems = append(c.problems, fmt.Sprintf(format, args...))
}

// present reports whether key holds a non-null value.
func present(obj map[string]json.RawMessage, key string) bool {
	raw, ok := obj[key]
	return ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func (c *checker) str(obj map[string]json.RawMessage, path, key string, required, nonEmpty bool) string {
	if !present(obj, key) {
		if required {
			c.addf("%s%s: required field missing", path, key)
		}
		return ""
	}
	var s string
	if err := json.Unmarshal(obj[key], &s); err != nil {
		c.addf("%s%s: want string", path, key)
		return ""
	}
	if nonEmpty && strings.TrimSpace(s) == "" {
		c.addf("%s%s: must not be empty", path, key)
	}
	return s
}

func (c *checker) boolean(obj map[string]json.RawMessage, path, key string, required bool) bool {
	if !present(obj, key) {
		if required {
			c.addf("%s%s: required field missing", path, key)
		}
		return false
	}
	var b bool
	if err := json.Unmarshal(obj[key], &b); err != nil {
		c.addf("%s%s: want boolean", path, key)
		return false
	}
	return b
}

func (c *checker) object(raw json.RawMessage, path string) map[string]json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		c.addf("%s: want object", path)
		return nil
	}
	return obj
}

func (c *checker) implementation(raw json.RawMessage) *Implementation {
	obj := c.object(raw, "implementation")
	if obj == nil {
		return nil
	}

	known := make(map[string]bool, len(Providers))
	for _, p := range Providers {
		known[string(p)] = true
	}
	for key := range obj {
		if !known[key] {
			c.addf("implementation.%s: unknown provider", key)
		}
	}

	im := &Implementation{}
	for _, p := range Providers {
		if !present(obj, string(p)) {
			continue
		}
		path := "implementation." + string(p)
		var items []json.RawMessage
		if err := json.Unmarshal(obj[string(p)], &items); err != nil {
			c.addf("%s: want array", path)
			continue
		}
		steps := make([]Step, 0, len(items))
		for i, item := range items {
			stepPath := fmt.Sprintf("%s[%d]", path, i)
			so := c.object(item, stepPath)
			if so == nil {
				continue
			}
			steps = append(steps, Step{
				Title:        c.str(so, stepPath+".", "title", true, true),
				Instruction:  c.str(so, stepPath+".", "instruction", true, true),
				BestPractice: c.str(so, stepPath+".", "bestPractice", false, false),
				ReferenceURL: c.str(so, stepPath+".", "referenceUrl", false, false),
			})
		}
		switch p {
		case ProviderGCP:
			im.GCP = steps
		case ProviderAWS:
			im.AWS = steps
		case ProviderAzure:
			im.Azure = steps
		}
	}
	return im
}

func decodeObject(kind Kind, raw string) (map[string]json.RawMessage, *checker, error) {
	text := extractJSON(raw)
	if text == "" {
		return nil, nil, &ViolationError{Kind: kind, Problems: []string{"response contains no JSON object"}}
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, nil, &ViolationError{Kind: kind, Problems: []string{"malformed JSON: " + err.Error()}}
	}
	return obj, &checker{}, nil
}

// DecodeGrounded validates a raw model reply against the grounded contract.
// The reply is accepted whole or rejected with a *ViolationError; a
// provider-less implementation is normalized to nil.
func DecodeGrounded(raw string) (GroundedOutput, error) {
	obj, c, err := decodeObject(KindGrounded, raw)
	if err != nil {
		return GroundedOutput{}, err
	}

	out := GroundedOutput{
		AnswerFound:        c.boolean(obj, "", "answerFound", true),
		Answer:             c.str(obj, "", "answer", true, true),
		SuggestsEscalation: c.boolean(obj, "", "suggestsEscalation", false),
		EscalationMessage:  c.str(obj, "", "escalationMessage", false, false),
		ReferenceURL:       c.str(obj, "", "referenceUrl", false, false),
	}
	if present(obj, "implementation") {
		out.Implementation = c.implementation(obj["implementation"])
	}

	if len(c.problems) > 0 {
		return GroundedOutput{}, &ViolationError{Kind: KindGrounded, Problems: c.problems}
	}
	if out.Implementation.Empty() {
		out.Implementation = nil
	}
	return out, nil
}

// DecodeOpenKnowledge validates a raw model reply against the
// open-knowledge contract.
func DecodeOpenKnowledge(raw string) (OpenKnowledgeOutput, error) {
	obj, c, err := decodeObject(KindOpenKnowledge, raw)
	if err != nil {
		return OpenKnowledgeOutput{}, err
	}
	out := OpenKnowledgeOutput{Answer: c.str(obj, "", "answer", true, true)}
	if len(c.problems) > 0 {
		return OpenKnowledgeOutput{}, &ViolationError{Kind: KindOpenKnowledge, Problems: c.problems}
	}
	return out, nil
}
