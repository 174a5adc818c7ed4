package account

import (
	"context"

	"zalo-connector-go/internal/domain/login"
	"zalo-connector-go/internal/platform/errors"
	"zalo-connector-go/internal/platform/logging"
	"zalo-connector-go/internal/zalo"
)

// Resolver turns captured session secrets into an account profile by
// performing a fresh, independent authentication against the account server.
type Resolver struct {
	client zalo.Client
	logger *logging.Logger
}

func NewResolver(client zalo.Client, logger *logging.Logger) *Resolver {
	return &Resolver{
		client: client,
		logger: logger,
	}
}

// Resolve logs in with the secrets and asks the account server who they
// belong to. Failures here are non-fatal to the login flow: callers degrade
// to create-only reconciliation with an empty profile.
func (r *Resolver) Resolve(ctx context.Context, secrets login.SessionSecrets) (Profile, error) {
	api, err := r.client.Login(ctx, secrets)
	if err != nil {
		return Profile{}, errors.Wrap(errors.KindResolve, "account.login",
			"transient login with captured secrets failed", err)
	}

	userID := api.GetOwnID()
	if userID == "" {
		return Profile{}, errors.New(errors.KindResolve, "account.own_id", "account server returned no own id")
	}
	r.logger.InfoTag("account", "resolved own user id %s", userID)

	info, err := api.GetUserInfo(ctx, userID)
	if err != nil {
		return Profile{}, errors.Wrap(errors.KindResolve, "account.user_info",
			"profile lookup failed", err)
	}

	// The identity endpoint partitions records by change status; the changed
	// bucket wins when the id appears in both.
	raw, ok := info.ChangedProfiles[userID]
	if !ok {
		raw, ok = info.UnchangedProfiles[userID]
	}
	if !ok {
		return Profile{UserID: userID}, nil
	}

	profile := Profile{
		UserID:      userID,
		DisplayName: displayName(raw),
		PhoneNumber: NormalizePhone(raw.PhoneNumber),
	}

	r.logger.InfoTag("account", "resolved profile name=%q phone=%q", profile.DisplayName, profile.PhoneNumber)
	return profile, nil
}

func displayName(raw zalo.RawProfile) string {
	switch {
	case raw.DisplayName != "":
		return raw.DisplayName
	case raw.ZaloName != "":
		return raw.ZaloName
	default:
		return raw.Name
	}
}
