// Package webapi exposes the connector operations over JSON endpoints.
package webapi

import (
	"context"
	"encoding/base64"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"zalo-connector-go/internal/app/services"
	"zalo-connector-go/internal/domain/license"
	"zalo-connector-go/internal/domain/login"
	"zalo-connector-go/internal/domain/message"
	"zalo-connector-go/internal/platform/errors"
	"zalo-connector-go/internal/platform/logging"
	"zalo-connector-go/internal/platform/storage"
	httptransport "zalo-connector-go/internal/transport/http"
)

// Service is the HTTP transport for the connector operations.
type Service struct {
	relogin  *services.ReloginService
	messages *services.MessageService
	accounts *services.AccountService
	attempts *storage.AttemptRepo
	logger   *logging.Logger
}

// NewService wires the handlers. attempts may be nil to hide the audit
// endpoint.
func NewService(
	relogin *services.ReloginService,
	messages *services.MessageService,
	accounts *services.AccountService,
	attempts *storage.AttemptRepo,
	logger *logging.Logger,
) *Service {
	return &Service{
		relogin:  relogin,
		messages: messages,
		accounts: accounts,
		attempts: attempts,
		logger:   logger,
	}
}

// Register mounts the routes. Health stays on the open group; everything
// else requires the server token.
func (s *Service) Register(ctx context.Context, api, secured *gin.RouterGroup) error {
	api.GET("/health", s.handleHealth)

	secured.POST("/relogin", s.handleRelogin)
	secured.POST("/messages", s.handleSendMessage)
	secured.GET("/user-id", s.handleUserID)
	if s.attempts != nil {
		secured.GET("/attempts", s.handleAttempts)
	}

	s.logger.InfoTag("HTTP", "web API routes registered")
	return nil
}

func (s *Service) handleHealth(c *gin.Context) {
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{"status": "ok"}, "")
}

func (s *Service) handleRelogin(c *gin.Context) {
	var req services.ReloginRequest
	if err := c.ShouldBindJSON(&req); err != nil && !stderrors.Is(err, io.EOF) {
		httptransport.RespondError(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	result, err := s.relogin.Relogin(c.Request.Context(), req)
	if err != nil {
		httptransport.RespondError(c, statusFor(err), err.Error(), nil)
		return
	}

	httptransport.RespondSuccess(c, http.StatusOK, gin.H{
		"attemptId":    result.AttemptID,
		"qrImage":      base64.StdEncoding.EncodeToString(result.Image),
		"artifactPath": result.ArtifactPath,
	}, "scan the QR code with the Zalo app")
}

func (s *Service) handleSendMessage(c *gin.Context) {
	var req message.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	result, err := s.messages.Send(c.Request.Context(), req)
	if err != nil {
		httptransport.RespondError(c, statusFor(err), err.Error(), nil)
		return
	}

	httptransport.RespondSuccess(c, http.StatusOK, gin.H{"msgId": result.MsgID}, "message sent")
}

func (s *Service) handleUserID(c *gin.Context) {
	id, err := s.accounts.OwnID(c.Request.Context(), c.Query("licenseCode"))
	if err != nil {
		httptransport.RespondError(c, statusFor(err), err.Error(), nil)
		return
	}

	httptransport.RespondSuccess(c, http.StatusOK, gin.H{"userId": id}, "")
}

func (s *Service) handleAttempts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	attempts, err := s.attempts.Recent(c.Request.Context(), limit)
	if err != nil {
		httptransport.RespondError(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}

	httptransport.RespondSuccess(c, http.StatusOK, attempts, "")
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case stderrors.Is(err, license.ErrMissingCode),
		stderrors.Is(err, license.ErrInvalidCode),
		stderrors.Is(err, license.ErrExpiredCode):
		return http.StatusUnauthorized
	case stderrors.Is(err, license.ErrCodeInUse):
		return http.StatusForbidden
	case stderrors.Is(err, login.ErrQRTimeout):
		return http.StatusGatewayTimeout
	case errors.IsKind(err, errors.KindTransport):
		return http.StatusBadRequest
	case errors.IsKind(err, errors.KindLogin):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
