package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"ai-maildigest/pipeline"
)

const (
	apiBase      = "https://slack.com/api"
	maxBlocks    = 50
	blocksPerMsg = 48 // leaves room for the continuation header
)

// Config holds the Slack collaborator's settings.
type Config struct {
	BotToken string
	UserID   string
	BaseURL  string // defaults to the Slack Web API
}

// Notifier delivers digests and alerts as Slack DMs: conversations.open
// once to resolve the DM channel, then chat.postMessage with Block Kit
// payloads.
type Notifier struct {
	cfg       Config
	httpc     *http.Client
	channelID string
	log       *zap.Logger
}

// New validates the Slack credentials and builds the notifier.
func New(cfg Config, log *zap.Logger) (*Notifier, error) {
	if cfg.BotToken == "" || cfg.UserID == "" {
		return nil, pipeline.Errorf(pipeline.KindConfig,
			"slack bot token and user id are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = apiBase
	}
	return &Notifier{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 15 * time.Second},
		log:   log,
	}, nil
}

// SendDigest delivers the ranked digest.
func (n *Notifier) SendDigest(ctx context.Context, fallback string, blocks []pipeline.Block) error {
	return n.send(ctx, fallback, blocks)
}

// SendAlert delivers the failure alert.
func (n *Notifier) SendAlert(ctx context.Context, fallback string, blocks []pipeline.Block) error {
	return n.send(ctx, fallback, blocks)
}

func (n *Notifier) send(ctx context.Context, fallback string, blocks []pipeline.Block) error {
	channel, err := n.dmChannel(ctx)
	if err != nil {
		return err
	}

	if len(blocks) <= maxBlocks {
		return n.postMessage(ctx, channel, fallback, blocks)
	}

	// Long digests are split; each continuation gets a small header.
	var chunks [][]pipeline.Block
	for i := 0; i < len(blocks); i += blocksPerMsg {
		end := i + blocksPerMsg
		if end > len(blocks) {
			end = len(blocks)
		}
		chunks = append(chunks, blocks[i:end])
	}
	for i, chunk := range chunks {
		if i > 0 {
			cont := pipeline.Block{
				"type": "context",
				"elements": []map[string]any{
					{"type": "mrkdwn", "text": fmt.Sprintf("_...continued (%d/%d)_", i+1, len(chunks))},
				},
			}
			chunk = append([]pipeline.Block{cont}, chunk...)
		}
		if err := n.postMessage(ctx, channel, fallback, chunk); err != nil {
			return err
		}
	}
	return nil
}

// dmChannel opens (or returns the cached) DM channel with the target user.
func (n *Notifier) dmChannel(ctx context.Context) (string, error) {
	if n.channelID != "" {
		return n.channelID, nil
	}

	resp, err := n.apiCall(ctx, "conversations.open", map[string]any{"users": n.cfg.UserID})
	if err != nil {
		return "", err
	}
	if resp.Channel.ID == "" {
		return "", pipeline.Errorf(pipeline.KindDelivery, "conversations.open returned no channel")
	}
	n.channelID = resp.Channel.ID
	n.log.Info("opened slack DM channel", zap.String("channel", n.channelID))
	return n.channelID, nil
}

func (n *Notifier) postMessage(ctx context.Context, channel, fallback string, blocks []pipeline.Block) error {
	body := map[string]any{
		"channel":      channel,
		"text":         fallback,
		"blocks":       blocks,
		"unfurl_links": false,
		"unfurl_media": false,
	}
	if _, err := n.apiCall(ctx, "chat.postMessage", body); err != nil {
		return err
	}
	n.log.Info("slack message sent", zap.Int("blocks", len(blocks)))
	return nil
}

type apiResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Channel struct {
		ID string `json:"id"`
	} `json:"channel"`
}

// apiCall posts JSON to a Slack Web API method and checks the ok envelope.
func (n *Notifier) apiCall(ctx context.Context, method string, body map[string]any) (*apiResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, pipeline.Errorf(pipeline.KindDelivery, "marshal %s: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", n.cfg.BaseURL+"/"+method, bytes.NewReader(payload))
	if err != nil {
		return nil, pipeline.Errorf(pipeline.KindDelivery, "build %s request: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json; charset=utf-8")
	httpReq.Header.Set("Authorization", "Bearer "+n.cfg.BotToken)

	resp, err := n.httpc.Do(httpReq)
	if err != nil {
		return nil, pipeline.Errorf(pipeline.KindDelivery, "%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, pipeline.Errorf(pipeline.KindDelivery, "%s HTTP %d: %s", method, resp.StatusCode, b)
	}

	var result apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, pipeline.Errorf(pipeline.KindDelivery, "decode %s response: %w", method, err)
	}
	if !result.OK {
		return nil, pipeline.Errorf(pipeline.KindDelivery, "%s API error: %s", method, result.Error)
	}
	return &result, nil
}
