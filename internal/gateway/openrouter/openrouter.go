// Package openrouter is a gateway backend for the OpenRouter
// chat completions API.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kalambet/copilot/internal/gateway"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	maxErrorBody   = 4 << 10
)

// Client sends one chat completion per Generate call. It never retries.
type Client struct {
	baseURL    string
	httpClient *http.Client
	referer    string
	title      string
}

// NewClient creates an OpenRouter backend. An empty baseURL selects the
// public API.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		referer:    "https://github.com/kalambet/copilot",
		title:      "copilot",
	}
}

func (c *Client) Name() string { return "openrouter" }

// Generate requests a JSON reply conforming to req.Schema.
func (c *Client) Generate(ctx context.Context, req gateway.Request) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.Prompt.System},
			{Role: "user", Content: req.Prompt.User},
		},
		ResponseFormat: &responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchemaFormat{
				Name:   string(req.Prompt.Kind) + "_answer",
				Schema: req.Schema,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(httpReq, req.Credential)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp)
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if cr.Error != nil {
		return "", gateway.NewError(gateway.TransportFailed, "upstream error: "+cr.Error.Message, nil)
	}
	if len(cr.Choices) == 0 {
		return "", errors.New("response has no choices")
	}

	choice := cr.Choices[0]
	if choice.Message.Refusal != "" {
		return "", gateway.NewError(gateway.UpstreamRejected, choice.Message.Refusal, nil)
	}
	if choice.FinishReason == "content_filter" {
		return "", gateway.NewError(gateway.UpstreamRejected, "response blocked by content filter", nil)
	}

	var text string
	if err := json.Unmarshal(choice.Message.Content, &text); err != nil {
		// Some providers return the structured object itself.
		text = string(choice.Message.Content)
	}
	return text, nil
}

// ValidateCredential checks the key against the key info endpoint.
func (c *Client) ValidateCredential(ctx context.Context, credential string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/key", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req, credential)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("requesting key info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return nil
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(raw))
	var er errorResponse
	if json.Unmarshal(raw, &er) == nil && er.Error.Message != "" {
		msg = er.Error.Message
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return gateway.NewError(gateway.AuthenticationFailed, "credential rejected: "+msg, nil)
	case http.StatusPaymentRequired:
		return gateway.NewError(gateway.UpstreamRejected, "insufficient credits: "+msg, nil)
	}
	return gateway.NewError(gateway.TransportFailed, fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, msg), nil)
}

func (c *Client) setHeaders(req *http.Request, credential string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("HTTP-Referer", c.referer)
	req.Header.Set("X-Title", c.title)
}
