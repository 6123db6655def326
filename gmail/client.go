package gmail

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"ai-maildigest/pipeline"
)

const (
	user            = "me"
	maxBodyChars    = 5000
	messageLinkTmpl = "https://mail.google.com/mail/u/0/#inbox/"
)

// Config holds the Gmail collaborator's settings and credentials.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	UserEmail    string
	Query        string
	MaxPerPage   int64
	MaxTotal     int64
}

// Client fetches unlabeled messages from the Gmail API.
type Client struct {
	srv *gmail.Service
	cfg Config
	log *zap.Logger
}

// NewClient builds a Gmail service from a refresh token. The token source
// refreshes access tokens transparently on each run.
func NewClient(ctx context.Context, cfg Config, log *zap.Logger) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, pipeline.Errorf(pipeline.KindConfig,
			"gmail client id, secret and refresh token are required")
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmail.GmailReadonlyScope},
	}
	ts := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	srv, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, pipeline.Errorf(pipeline.KindTransient, "create gmail service: %w", err)
	}
	return &Client{srv: srv, cfg: cfg, log: log}, nil
}

// FetchUnlabeled lists messages matching the configured query, paginating
// up to MaxTotal, and fetches each in full. A single message that fails to
// fetch or parse is skipped with a warning; a failing list call aborts the
// stage.
func (c *Client) FetchUnlabeled(ctx context.Context) ([]pipeline.RawMessage, error) {
	var messages []pipeline.RawMessage
	pageToken := ""

	for int64(len(messages)) < c.cfg.MaxTotal {
		perPage := c.cfg.MaxPerPage
		if remaining := c.cfg.MaxTotal - int64(len(messages)); remaining < perPage {
			perPage = remaining
		}

		call := c.srv.Users.Messages.List(user).
			Q(c.cfg.Query).
			MaxResults(perPage).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		list, err := call.Do()
		if err != nil {
			return nil, pipeline.Errorf(pipeline.KindTransient, "list gmail messages: %w", err)
		}
		if len(list.Messages) == 0 {
			break
		}

		for _, stub := range list.Messages {
			msg, err := c.srv.Users.Messages.Get(user, stub.Id).Format("full").Context(ctx).Do()
			if err != nil {
				c.log.Warn("skipping message that failed to fetch",
					zap.String("id", stub.Id), zap.Error(err))
				continue
			}
			messages = append(messages, c.parseMessage(msg))
		}

		pageToken = list.NextPageToken
		if pageToken == "" {
			break
		}
	}

	c.log.Info("fetched messages",
		zap.Int("count", len(messages)),
		zap.String("query", c.cfg.Query))
	return messages, nil
}

func (c *Client) parseMessage(msg *gmail.Message) pipeline.RawMessage {
	raw := pipeline.RawMessage{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
		Link:     messageLinkTmpl + msg.Id,
	}

	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch h.Name {
			case "Subject":
				raw.Subject = h.Value
			case "From":
				raw.Sender = h.Value
				raw.SenderAddr = pipeline.ExtractAddr(h.Value)
			case "To":
				raw.Recipient = h.Value
			case "Date":
				raw.Date = parseDate(h.Value)
			}
		}
		if body := plainTextBody(msg.Payload); body != "" {
			if len(body) > maxBodyChars {
				body = body[:maxBodyChars]
			}
			raw.Body = body
		}
	}
	if raw.Subject == "" {
		raw.Subject = "(No Subject)"
	}
	if raw.Date.IsZero() {
		raw.Date = time.Now().UTC()
	}
	if c.cfg.UserEmail != "" {
		raw.FromOwner = strings.EqualFold(raw.SenderAddr, c.cfg.UserEmail)
	}
	return raw
}

var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 -0700",
}

func parseDate(value string) time.Time {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}

// plainTextBody walks the MIME tree for the first text/plain part.
func plainTextBody(payload *gmail.MessagePart) string {
	if payload.MimeType == "text/plain" && payload.Body != nil && payload.Body.Data != "" {
		// The API emits base64url, sometimes without padding.
		data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(payload.Body.Data, "="))
		if err == nil {
			return string(data)
		}
	}
	for _, part := range payload.Parts {
		mt := strings.ToLower(part.MimeType)
		if strings.HasPrefix(mt, "text/") || strings.HasPrefix(mt, "multipart/") {
			if body := plainTextBody(part); body != "" {
				return body
			}
		}
	}
	return ""
}
