// Package gemini is a gateway backend for the Gemini API built on the
// official Google Gen AI SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/kalambet/copilot/internal/contract"
	"github.com/kalambet/copilot/internal/gateway"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com"

// Client creates a short-lived SDK client per call, since the credential
// belongs to the session rather than the process.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	temperature float32
}

// NewClient creates a Gemini backend. An empty baseURL selects the public
// endpoint.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{},
		temperature: 0.2,
	}
}

func (c *Client) Name() string { return "gemini" }

func (c *Client) newSDKClient(ctx context.Context, credential string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     credential,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: c.httpClient,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: c.baseURL + "/",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}
	return client, nil
}

// Generate asks for a JSON reply constrained by req.Schema.
func (c *Client) Generate(ctx context.Context, req gateway.Request) (string, error) {
	client, err := c.newSDKClient(ctx, req.Credential)
	if err != nil {
		return "", err
	}

	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(c.temperature),
		ResponseMIMEType: "application/json",
		ResponseSchema:   toGenAISchema(req.Schema),
	}
	if req.Prompt.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.Prompt.System}},
		}
	}
	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: req.Prompt.User}},
	}}

	resp, err := client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return "", classifyAPIError(err)
	}
	return replyText(resp)
}

// replyText extracts the text of the first candidate, reporting safety
// blocks as rejections.
func replyText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", errors.New("empty response")
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		msg := "prompt blocked: " + string(fb.BlockReason)
		if fb.BlockReasonMessage != "" {
			msg += ": " + fb.BlockReasonMessage
		}
		return "", gateway.NewError(gateway.UpstreamRejected, msg, nil)
	}
	if len(resp.Candidates) == 0 {
		return "", errors.New("response has no candidates")
	}

	cand := resp.Candidates[0]
	switch cand.FinishReason {
	case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent,
		genai.FinishReasonBlocklist, genai.FinishReasonSPII, genai.FinishReasonRecitation:
		return "", gateway.NewError(gateway.UpstreamRejected, "response blocked: "+string(cand.FinishReason), nil)
	}

	var sb strings.Builder
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if part != nil && !part.Thought {
				sb.WriteString(part.Text)
			}
		}
	}
	return sb.String(), nil
}

// classifyAPIError maps SDK errors onto gateway kinds. Only a rejected key
// is an authentication failure; every other HTTP error, quota included, is
// a transport failure. Model refusals surface through finish reasons.
func classifyAPIError(err error) error {
	code, status, msg, ok := apiErrorDetails(err)
	if !ok {
		return fmt.Errorf("generating content: %w", err)
	}
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden,
		code == http.StatusBadRequest && (status == "INVALID_ARGUMENT" && strings.Contains(strings.ToLower(msg), "api key")):
		return gateway.NewError(gateway.AuthenticationFailed, "credential rejected: "+msg, nil)
	}
	return gateway.NewError(gateway.TransportFailed, fmt.Sprintf("Gemini API error %d %s: %s", code, status, msg), nil)
}

func apiErrorDetails(err error) (int, string, string, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, apiErr.Status, apiErr.Message, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, apiErrPtr.Status, apiErrPtr.Message, true
	}
	return 0, "", "", false
}

// ValidateCredential lists models with the key, which succeeds for any
// valid Gemini API key.
func (c *Client) ValidateCredential(ctx context.Context, credential string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1beta/models?pageSize=1", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("x-goog-api-key", credential)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("listing models: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return gateway.NewError(gateway.AuthenticationFailed, "API key is not valid", nil)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
	return gateway.NewError(gateway.TransportFailed,
		fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
}

// toGenAISchema converts the contract schema to the SDK representation.
func toGenAISchema(s *contract.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:             genaiType(s.Type),
		Description:      s.Description,
		Required:         s.Required,
		PropertyOrdering: s.Ordering,
		Items:            toGenAISchema(s.Items),
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toGenAISchema(prop)
		}
	}
	return out
}

func genaiType(t string) genai.Type {
	switch t {
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	case "string":
		return genai.TypeString
	case "boolean":
		return genai.TypeBoolean
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	}
	return genai.TypeUnspecified
}
