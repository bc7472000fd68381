package contract

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func violation(t *testing.T, err error) *ViolationError {
	t.Helper()
	var ve *ViolationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *ViolationError", err)
	}
	return ve
}

func hasProblem(ve *ViolationError, substr string) bool {
	for _, p := range ve.Problems {
		if strings.Contains(p, substr) {
			return true
		}
	}
	return false
}

func TestDecodeGroundedConformant(t *testing.T) {
	raw := `{
  "answerFound": true,
  "answer": "Yes, encryption at rest is required.",
  "implementation": {
    "gcp": [{"title": "Enable CMEK", "instruction": "gcloud kms keys create k --keyring r --location global --purpose encryption", "referenceUrl": "https://cloud.google.com/kms/docs"}],
    "aws": [{"title": "Default EBS encryption", "instruction": "aws ec2 enable-ebs-encryption-by-default", "bestPractice": "Use a customer managed key."}]
  }
}`
	got, err := DecodeGrounded(raw)
	if err != nil {
		t.Fatalf("DecodeGrounded: %v", err)
	}

	want := GroundedOutput{
		AnswerFound: true,
		Answer:      "Yes, encryption at rest is required.",
		Implementation: &Implementation{
			GCP: []Step{{Title: "Enable CMEK", Instruction: "gcloud kms keys create k --keyring r --location global --purpose encryption", ReferenceURL: "https://cloud.google.com/kms/docs"}},
			AWS: []Step{{Title: "Default EBS encryption", Instruction: "aws ec2 enable-ebs-encryption-by-default", BestPractice: "Use a customer managed key."}},
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DecodeGrounded() =\n%+v\nwant\n%+v", got, want)
	}
}

func TestDecodeGroundedNotFound(t *testing.T) {
	got, err := DecodeGrounded(`{"answerFound": false, "answer": "Not found.", "suggestsEscalation": true, "escalationMessage": "Try imagination?"}`)
	if err != nil {
		t.Fatalf("DecodeGrounded: %v", err)
	}
	if got.AnswerFound || !got.SuggestsEscalation || got.EscalationMessage != "Try imagination?" {
		t.Errorf("unexpected output: %+v", got)
	}
	if got.Implementation != nil {
		t.Errorf("Implementation = %+v, want nil", got.Implementation)
	}
}

func TestDecodeGroundedMissingAnswer(t *testing.T) {
	_, err := DecodeGrounded(`{"answerFound": true}`)
	ve := violation(t, err)
	if ve.Kind != KindGrounded {
		t.Errorf("Kind = %q, want %q", ve.Kind, KindGrounded)
	}
	if !hasProblem(ve, "answer: required field missing") {
		t.Errorf("Problems = %v, want missing answer", ve.Problems)
	}
}

func TestDecodeGroundedReportsAllProblems(t *testing.T) {
	raw := `{
  "answerFound": "yes",
  "answer": 42,
  "suggestsEscalation": "true",
  "implementation": {
    "gcp": [{"title": "", "instruction": "x"}, "oops"],
    "oracle": []
  }
}`
	_, err := DecodeGrounded(raw)
	ve := violation(t, err)

	for _, want := range []string{
		"answerFound: want boolean",
		"answer: want string",
		"suggestsEscalation: want boolean",
		"implementation.gcp[0].title: must not be empty",
		"implementation.gcp[1]: want object",
		"implementation.oracle: unknown provider",
	} {
		if !hasProblem(ve, want) {
			t.Errorf("Problems = %v, missing %q", ve.Problems, want)
		}
	}
}

func TestDecodeGroundedWrongShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"implementation array", `{"answerFound":true,"answer":"a","implementation":[]}`, "implementation: want object"},
		{"provider object", `{"answerFound":true,"answer":"a","implementation":{"aws":{}}}`, "implementation.aws: want array"},
		{"step missing instruction", `{"answerFound":true,"answer":"a","implementation":{"azure":[{"title":"t"}]}}`, "implementation.azure[0].instruction: required field missing"},
		{"empty answer", `{"answerFound":true,"answer":"  "}`, "answer: must not be empty"},
		{"null answer", `{"answerFound":true,"answer":null}`, "answer: required field missing"},
		{"not json", `I cannot help with that.`, "no JSON object"},
		{"malformed", `{"answerFound": true, "answer": }`, "malformed JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeGrounded(tt.raw)
			ve := violation(t, err)
			if !hasProblem(ve, tt.want) {
				t.Errorf("Problems = %v, want %q", ve.Problems, tt.want)
			}
		})
	}
}

func TestDecodeGroundedNormalizesEmptyImplementation(t *testing.T) {
	got, err := DecodeGrounded(`{"answerFound":true,"answer":"a","implementation":{"gcp":[],"aws":[],"azure":null}}`)
	if err != nil {
		t.Fatalf("DecodeGrounded: %v", err)
	}
	if got.Implementation != nil {
		t.Errorf("Implementation = %+v, want nil", got.Implementation)
	}
}

func TestDecodeGroundedToleratesFencesAndComments(t *testing.T) {
	raw := "Here you go:\n```json\n{\n  \"answerFound\": true, // found it\n  \"answer\": \"See https://example.com/a\",\n}\n```"
	got, err := DecodeGrounded(raw)
	if err != nil {
		t.Fatalf("DecodeGrounded: %v", err)
	}
	if got.Answer != "See https://example.com/a" {
		t.Errorf("Answer = %q", got.Answer)
	}
}

func TestDecodeOpenKnowledge(t *testing.T) {
	got, err := DecodeOpenKnowledge(`{"answer": "General best practice is..."}`)
	if err != nil {
		t.Fatalf("DecodeOpenKnowledge: %v", err)
	}
	if got.Answer != "General best practice is..." {
		t.Errorf("Answer = %q", got.Answer)
	}

	_, err = DecodeOpenKnowledge(`{"text": "hi"}`)
	ve := violation(t, err)
	if ve.Kind != KindOpenKnowledge || !hasProblem(ve, "answer: required field missing") {
		t.Errorf("unexpected violation: %v", ve)
	}
}

func TestImplementationHelpers(t *testing.T) {
	var nilImpl *Implementation
	if !nilImpl.Empty() {
		t.Error("nil implementation should be empty")
	}
	im := &Implementation{Azure: []Step{{Title: "t", Instruction: "i"}}}
	if im.Empty() {
		t.Error("implementation with azure steps should not be empty")
	}
	if len(im.Steps(ProviderAzure)) != 1 || len(im.Steps(ProviderGCP)) != 0 {
		t.Error("Steps() returned wrong provider")
	}
}

func TestDecodeGroundedKeepsConformantTextVerbatim(t *testing.T) {
	answer := "Allowed values: [AES-256, ] and {TLS, }. Keep // as written."
	instruction := `aws kms put-key-policy --policy '{"Statement": [{"Effect": "Allow",}, ]}'`
	raw := `{"answerFound": true, "answer": "Allowed values: [AES-256, ] and {TLS, }. Keep // as written.", ` +
		`"implementation": {"aws": [{"title": "Key policy", "instruction": "aws kms put-key-policy --policy '{\"Statement\": [{\"Effect\": \"Allow\",}, ]}'"}]}}`

	got, err := DecodeGrounded(raw)
	if err != nil {
		t.Fatalf("DecodeGrounded: %v", err)
	}
	if got.Answer != answer {
		t.Errorf("Answer = %q, want %q", got.Answer, answer)
	}
	if steps := got.Implementation.Steps(ProviderAWS); len(steps) != 1 || steps[0].Instruction != instruction {
		t.Errorf("AWS steps = %+v, want instruction %q", steps, instruction)
	}
}

func TestDecodeGroundedRepairKeepsStrings(t *testing.T) {
	// Trailing comma outside strings forces the repair path.
	raw := `{"answerFound": true, "answer": "Use [a, ] or {b, }",}`
	got, err := DecodeGrounded(raw)
	if err != nil {
		t.Fatalf("DecodeGrounded: %v", err)
	}
	if got.Answer != "Use [a, ] or {b, }" {
		t.Errorf("Answer = %q", got.Answer)
	}
}

func TestStripTrailingCommas(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a": 1,}`, `{"a": 1}`},
		{"[1, 2,\n ]", "[1, 2\n ]"},
		{`{"s": "x, ]", "t": [1,],}`, `{"s": "x, ]", "t": [1]}`},
		{`{"s": "q\", }"}`, `{"s": "q\", }"}`},
	}
	for _, tt := range tests {
		if got := stripTrailingCommas(tt.in); got != tt.want {
			t.Errorf("stripTrailingCommas(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
