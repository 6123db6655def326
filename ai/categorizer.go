package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"ai-maildigest/pipeline"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	anthropicVersion = "2023-06-01"
	maxBodyInPrompt  = 3000
	maxSummaryLen    = 500
	maxReasoningLen  = 300
)

// Config holds the categorization collaborator's settings.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	BaseURL     string // defaults to the Anthropic API
}

// Categorizer classifies batches of messages with a single model call per
// batch, using a forced tool so the response is machine-parseable.
type Categorizer struct {
	cfg          Config
	systemPrompt string
	httpc        *http.Client
	log          *zap.Logger
}

// NewCategorizer validates credentials and builds the client.
func NewCategorizer(cfg Config, systemPrompt string, log *zap.Logger) (*Categorizer, error) {
	if cfg.APIKey == "" {
		return nil, pipeline.Errorf(pipeline.KindConfig, "anthropic api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &Categorizer{
		cfg:          cfg,
		systemPrompt: systemPrompt,
		httpc:        &http.Client{Timeout: 120 * time.Second},
		log:          log,
	}, nil
}

// Anthropic Messages API shapes (request side).
type messagesRequest struct {
	Model       string      `json:"model"`
	MaxTokens   int         `json:"max_tokens"`
	Temperature float64     `json:"temperature"`
	System      string      `json:"system,omitempty"`
	Messages    []message   `json:"messages"`
	Tools       []toolDef   `json:"tools,omitempty"`
	ToolChoice  *toolChoice `json:"tool_choice,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type toolDef struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema schema `json:"input_schema"`
}

type toolChoice struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type schema struct {
	Type       string            `json:"type"`
	Enum       []string          `json:"enum,omitempty"`
	Minimum    *int              `json:"minimum,omitempty"`
	Maximum    *int              `json:"maximum,omitempty"`
	Items      *schema           `json:"items,omitempty"`
	Properties map[string]schema `json:"properties,omitempty"`
	Required   []string          `json:"required,omitempty"`
}

type messagesResponse struct {
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type  string          `json:"type"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// categorizationRow is one entry the model submits through the tool.
type categorizationRow struct {
	EmailID        string `json:"email_id"`
	Category       string `json:"category"`
	Priority       int    `json:"priority"`
	Summary        string `json:"summary"`
	Reasoning      string `json:"reasoning"`
	SuggestedReply string `json:"suggested_reply"`
}

func intPtr(n int) *int { return &n }

var categorizationTool = toolDef{
	Name:        "submit_categorizations",
	Description: "Submit the categorization results for a batch of emails.",
	InputSchema: schema{
		Type: "object",
		Properties: map[string]schema{
			"categorizations": {
				Type: "array",
				Items: &schema{
					Type: "object",
					Properties: map[string]schema{
						"email_id": {Type: "string"},
						"category": {
							Type: "string",
							Enum: []string{"Summary Only", "Action Eventually", "Action Immediately"},
						},
						"priority":        {Type: "integer", Minimum: intPtr(1), Maximum: intPtr(10)},
						"summary":         {Type: "string"},
						"reasoning":       {Type: "string"},
						"suggested_reply": {Type: "string"},
					},
					Required: []string{"email_id", "category", "priority", "summary", "reasoning"},
				},
			},
		},
		Required: []string{"categorizations"},
	},
}

// CategorizeBatch sends one batch in a single API call and parses the
// forced tool response. Malformed output never leaves this boundary
// unvalidated: a response without a usable tool call is a ValidationError.
func (c *Categorizer) CategorizeBatch(ctx context.Context, batch []pipeline.RawMessage) ([]pipeline.CategorizedMessage, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	reqBody := messagesRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		System:      c.systemPrompt,
		Messages:    []message{{Role: "user", Content: buildBatchPrompt(batch)}},
		Tools:       []toolDef{categorizationTool},
		ToolChoice:  &toolChoice{Type: "tool", Name: "submit_categorizations"},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, pipeline.Errorf(pipeline.KindValidation, "marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, pipeline.Errorf(pipeline.KindTransient, "build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, pipeline.Errorf(pipeline.KindTransient, "request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, pipeline.Errorf(pipeline.KindTransient, "API error %d: %s", resp.StatusCode, b)
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, pipeline.Errorf(pipeline.KindConfig, "API auth error %d: %s", resp.StatusCode, b)
		default:
			return nil, pipeline.Errorf(pipeline.KindValidation, "API error %d: %s", resp.StatusCode, b)
		}
	}

	var result messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, pipeline.Errorf(pipeline.KindValidation, "decode response: %w", err)
	}

	return c.parseResponse(result, batch)
}

// parseResponse maps the tool rows back onto batch messages. Unknown IDs
// are skipped with a warning; a response yielding zero valid rows is
// malformed.
func (c *Categorizer) parseResponse(result messagesResponse, batch []pipeline.RawMessage) ([]pipeline.CategorizedMessage, error) {
	byID := make(map[string]pipeline.RawMessage, len(batch))
	for _, m := range batch {
		byID[m.ID] = m
	}

	var out []pipeline.CategorizedMessage
	sawToolUse := false

	for _, block := range result.Content {
		if block.Type != "tool_use" {
			continue
		}
		sawToolUse = true

		var input struct {
			Categorizations []categorizationRow `json:"categorizations"`
		}
		if err := json.Unmarshal(block.Input, &input); err != nil {
			return nil, pipeline.Errorf(pipeline.KindValidation, "malformed tool input: %w", err)
		}

		for _, row := range input.Categorizations {
			msg, ok := byID[row.EmailID]
			if !ok {
				c.log.Warn("model returned unknown email id", zap.String("id", row.EmailID))
				continue
			}

			category, ok := pipeline.ParseCategory(row.Category)
			if !ok {
				c.log.Warn("invalid category, defaulting to Summary Only",
					zap.String("id", row.EmailID),
					zap.String("category", row.Category))
				category = pipeline.SummaryOnly
			}

			out = append(out, pipeline.CategorizedMessage{
				Msg: msg,
				Cat: pipeline.Categorization{
					Category:   category,
					Priority:   clamp(row.Priority, 1, 10),
					Summary:    capLen(row.Summary, maxSummaryLen),
					Reasoning:  capLen(row.Reasoning, maxReasoningLen),
					DraftReply: strings.TrimSpace(row.SuggestedReply),
				},
			})
		}
	}

	if !sawToolUse {
		return nil, pipeline.Errorf(pipeline.KindValidation, "response contains no tool_use block")
	}
	if len(out) == 0 {
		return nil, pipeline.Errorf(pipeline.KindValidation,
			"no valid categorizations for batch of %d", len(batch))
	}
	return out, nil
}

// buildBatchPrompt renders the batch in the XML-tagged form the system
// prompt expects.
func buildBatchPrompt(batch []pipeline.RawMessage) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Analyze the following %d emails and categorize each one.\n\n", len(batch))

	for _, m := range batch {
		body := m.Body
		if body == "" {
			body = m.Snippet
		}
		if len(body) > maxBodyInPrompt {
			body = body[:maxBodyInPrompt]
		}
		from := m.Sender
		if m.FromOwner {
			from += " (the account owner)"
		}
		fmt.Fprintf(&sb, "<email id=%q>\n<from>%s</from>\n<subject>%s</subject>\n<date>%s</date>\n<body>\n%s\n</body>\n</email>\n\n",
			m.ID, from, m.Subject, m.Date.Format(time.RFC3339), body)
	}

	sb.WriteString(`Call submit_categorizations with one entry per email:
- "email_id": the id attribute from the email element
- "category": one of "Summary Only", "Action Eventually", "Action Immediately"
- "priority": integer 1-10
- "summary": brief 1-2 sentence summary
- "reasoning": short explanation for the categorization
- "suggested_reply": a concise draft reply, ONLY when the email is actionable, was not sent by the account owner, and awaits a reply from the owner; omit it otherwise`)
	return sb.String()
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func capLen(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
