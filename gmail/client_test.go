package gmail

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/gmail/v1"
)

func b64(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }

func testClient(userEmail string) *Client {
	return &Client{cfg: Config{UserEmail: userEmail}, log: zap.NewNop()}
}

func TestParseMessageHeaders(t *testing.T) {
	c := testClient("me@example.com")

	raw := c.parseMessage(&gmail.Message{
		Id:       "abc123",
		ThreadId: "thread9",
		Snippet:  "snippet text",
		Payload: &gmail.MessagePart{
			MimeType: "text/plain",
			Headers: []*gmail.MessagePartHeader{
				{Name: "Subject", Value: "Hello"},
				{Name: "From", Value: "Alice Smith <alice@example.com>"},
				{Name: "To", Value: "me@example.com"},
				{Name: "Date", Value: "Mon, 02 Jun 2025 09:30:00 +0200"},
			},
			Body: &gmail.MessagePartBody{Data: b64("body text")},
		},
	})

	assert.Equal(t, "abc123", raw.ID)
	assert.Equal(t, "thread9", raw.ThreadID)
	assert.Equal(t, "Hello", raw.Subject)
	assert.Equal(t, "Alice Smith <alice@example.com>", raw.Sender)
	assert.Equal(t, "alice@example.com", raw.SenderAddr)
	assert.Equal(t, "body text", raw.Body)
	assert.Equal(t, "https://mail.google.com/mail/u/0/#inbox/abc123", raw.Link)
	assert.False(t, raw.FromOwner)
	assert.Equal(t, time.Date(2025, 6, 2, 7, 30, 0, 0, time.UTC), raw.Date.UTC())
}

func TestParseMessageDefaultsAndOwner(t *testing.T) {
	c := testClient("me@example.com")

	raw := c.parseMessage(&gmail.Message{
		Id: "x",
		Payload: &gmail.MessagePart{
			Headers: []*gmail.MessagePartHeader{
				{Name: "From", Value: "ME@Example.com"},
				{Name: "Date", Value: "not a date"},
			},
		},
	})

	assert.Equal(t, "(No Subject)", raw.Subject)
	assert.True(t, raw.FromOwner)
	// Unparseable date falls back to now rather than zero.
	assert.WithinDuration(t, time.Now().UTC(), raw.Date, time.Minute)
}

func TestPlainTextBodyWalksMultipart(t *testing.T) {
	payload := &gmail.MessagePart{
		MimeType: "multipart/alternative",
		Parts: []*gmail.MessagePart{
			{
				MimeType: "text/html",
				Body:     &gmail.MessagePartBody{Data: b64("<p>html</p>")},
			},
			{
				MimeType: "multipart/mixed",
				Parts: []*gmail.MessagePart{
					{
						MimeType: "text/plain",
						Body:     &gmail.MessagePartBody{Data: b64("nested plain text")},
					},
				},
			},
		},
	}

	assert.Equal(t, "nested plain text", plainTextBody(payload))
}

func TestPlainTextBodyAcceptsPaddedEncoding(t *testing.T) {
	padded := base64.URLEncoding.EncodeToString([]byte("padded body"))
	require.Contains(t, padded, "=")

	payload := &gmail.MessagePart{
		MimeType: "text/plain",
		Body:     &gmail.MessagePartBody{Data: padded},
	}
	assert.Equal(t, "padded body", plainTextBody(payload))
}

func TestParseMessageTruncatesLongBodies(t *testing.T) {
	c := testClient("")

	raw := c.parseMessage(&gmail.Message{
		Id: "big",
		Payload: &gmail.MessagePart{
			MimeType: "text/plain",
			Body:     &gmail.MessagePartBody{Data: b64(strings.Repeat("a", maxBodyChars+500))},
		},
	})

	assert.Len(t, raw.Body, maxBodyChars)
}

func TestParseDateLayouts(t *testing.T) {
	tests := []string{
		"Mon, 02 Jun 2025 09:30:00 +0000",
		"Mon, 2 Jun 2025 09:30:00 +0000",
		"2 Jun 2025 09:30:00 +0000",
	}
	for _, v := range tests {
		parsed := parseDate(v)
		require.False(t, parsed.IsZero(), "layout not handled: %s", v)
		assert.Equal(t, time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC), parsed.UTC())
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(context.Background(), Config{ClientID: "id"}, zap.NewNop())
	require.Error(t, err)
}
