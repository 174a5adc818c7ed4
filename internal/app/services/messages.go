package services

import (
	"context"

	"zalo-connector-go/internal/domain/message"
	"zalo-connector-go/internal/platform/errors"
	"zalo-connector-go/internal/platform/logging"
	"zalo-connector-go/internal/zalo"
)

// MessageService sends messages through the active session.
type MessageService struct {
	registry *Registry
	composer *message.Composer
	logger   *logging.Logger
}

func NewMessageService(registry *Registry, composer *message.Composer, logger *logging.Logger) *MessageService {
	return &MessageService{
		registry: registry,
		composer: composer,
		logger:   logger,
	}
}

// Send composes and delivers one message. A typing indicator is sent first
// on a best-effort basis; staged attachments are removed after the send.
func (s *MessageService) Send(ctx context.Context, req message.Request) (zalo.SendResult, error) {
	if req.ThreadID == "" {
		return zalo.SendResult{}, errors.New(errors.KindTransport, "message.send", "threadId is required")
	}

	api, _, ok := s.registry.Current()
	if !ok {
		return zalo.SendResult{}, errors.New(errors.KindLogin, "message.send", "no active session, scan a QR code first")
	}

	content, cleanup := s.composer.Compose(ctx, req)
	defer cleanup()

	if err := api.SendTypingEvent(ctx, req.ThreadID, req.ThreadType); err != nil {
		s.logger.WarnTag("message", "typing indicator failed for thread %s: %v", req.ThreadID, err)
	}

	result, err := api.SendMessage(ctx, content, req.ThreadID, req.ThreadType)
	if err != nil {
		return zalo.SendResult{}, errors.Wrap(errors.KindTransport, "message.send", "message delivery failed", err)
	}

	s.logger.InfoTag("message", "sent message %s to thread %s", result.MsgID, req.ThreadID)
	return result, nil
}
