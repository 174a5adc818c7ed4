// Package message composes outgoing message payloads, staging remote
// attachments locally for the duration of a send.
package message

import (
	"context"

	"zalo-connector-go/internal/platform/logging"
	"zalo-connector-go/internal/zalo"
)

// Attachment references a remote file to attach.
type Attachment struct {
	URL string `json:"url"`
}

// Request describes one message to compose and send.
type Request struct {
	ThreadID    string          `json:"threadId"`
	ThreadType  zalo.ThreadType `json:"threadType"`
	Message     string          `json:"message"`
	Urgency     int             `json:"urgency,omitempty"`
	Quote       *zalo.Quote     `json:"quote,omitempty"`
	Mentions    []zalo.Mention  `json:"mentions,omitempty"`
	Attachments []Attachment    `json:"attachments,omitempty"`
}

// Composer builds MessageContent payloads from requests.
type Composer struct {
	stager *Stager
	logger *logging.Logger
}

func NewComposer(stager *Stager, logger *logging.Logger) *Composer {
	return &Composer{
		stager: stager,
		logger: logger,
	}
}

// Compose builds the payload and stages any URL attachments. The returned
// cleanup func removes staged files and must be called after the send.
// Attachments that fail to download are skipped, not fatal.
func (c *Composer) Compose(ctx context.Context, req Request) (zalo.MessageContent, func()) {
	content := zalo.MessageContent{
		Msg:      req.Message,
		Quote:    req.Quote,
		Mentions: req.Mentions,
	}
	if req.Urgency != 0 {
		content.Urgency = req.Urgency
	}

	var staged []string
	for _, attachment := range req.Attachments {
		if attachment.URL == "" {
			continue
		}
		local, err := c.stager.Save(ctx, attachment.URL)
		if err != nil {
			c.logger.WarnTag("message", "skipping attachment %s: %v", attachment.URL, err)
			continue
		}
		staged = append(staged, local)
	}
	content.Attachments = staged

	cleanup := func() {
		for _, path := range staged {
			c.stager.Remove(path)
		}
	}
	return content, cleanup
}
