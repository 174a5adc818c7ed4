package services

import (
	"context"

	"zalo-connector-go/internal/domain/license"
	"zalo-connector-go/internal/platform/errors"
	"zalo-connector-go/internal/platform/logging"
)

// AccountService answers identity queries about the active session.
type AccountService struct {
	registry *Registry
	verifier *license.Verifier
	logger   *logging.Logger
}

// NewAccountService wires the service. verifier may be nil to disable
// license gating.
func NewAccountService(registry *Registry, verifier *license.Verifier, logger *logging.Logger) *AccountService {
	return &AccountService{
		registry: registry,
		verifier: verifier,
		logger:   logger,
	}
}

// OwnID returns the account id of the active session. The license code is
// verified against the session's phone number before anything is revealed.
func (s *AccountService) OwnID(ctx context.Context, licenseCode string) (string, error) {
	api, profile, ok := s.registry.Current()
	if !ok {
		return "", errors.New(errors.KindLogin, "account.own_id", "no active session, scan a QR code first")
	}

	if s.verifier != nil {
		if err := s.verifier.Verify(ctx, licenseCode, profile.PhoneNumber); err != nil {
			return "", err
		}
	}

	return api.GetOwnID(), nil
}
