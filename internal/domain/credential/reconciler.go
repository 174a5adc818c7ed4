// Package credential reconciles freshly captured session secrets with the
// credential store: one credential per phone number, updated in place across
// relogins, created when no match exists.
package credential

import (
	"context"
	"fmt"

	"zalo-connector-go/internal/domain/account"
	"zalo-connector-go/internal/domain/login"
	"zalo-connector-go/internal/platform/errors"
	"zalo-connector-go/internal/platform/logging"
	"zalo-connector-go/internal/store"
)

// ActionKind reports what the reconciler did.
type ActionKind string

const (
	ActionUpdated ActionKind = "updated"
	ActionCreated ActionKind = "created"
)

// Action is the reconciliation outcome.
type Action struct {
	Kind         ActionKind
	CredentialID string
	Name         string
}

const fallbackCredentialName = "Zalo API Credentials"

// Reconciler performs the update-or-create against the credential store.
type Reconciler struct {
	store          store.Client
	credentialType string
	logger         *logging.Logger
}

func NewReconciler(storeClient store.Client, credentialType string, logger *logging.Logger) *Reconciler {
	if credentialType == "" {
		credentialType = "zaloApi"
	}
	return &Reconciler{
		store:          storeClient,
		credentialType: credentialType,
		logger:         logger,
	}
}

// Reconcile matches the profile's phone number against stored credentials and
// updates the match in place, or creates a new credential. operatorProxy is
// the proxy supplied with the relogin request; an already-stored proxy wins
// over it on updates so an operator-configured network path survives
// relogins.
func (r *Reconciler) Reconcile(
	ctx context.Context,
	secrets login.SessionSecrets,
	profile account.Profile,
	operatorProxy string,
) (Action, error) {
	if secrets.Empty() {
		return Action{}, errors.New(errors.KindReconcile, "reconcile", "no session secrets to store")
	}

	var existing *store.Credential
	if profile.PhoneNumber != "" {
		match, err := r.findByPhone(ctx, profile.PhoneNumber)
		if err != nil {
			return Action{}, err
		}
		existing = match
	} else {
		// Degraded path: without a phone number no search is meaningful.
		r.logger.WarnTag("reconcile", "profile has no phone number, creating a credential without matching")
	}

	name := credentialName(profile)
	data := store.CredentialData{
		Cookie:      string(secrets.Cookie),
		IMEI:        secrets.IMEI,
		UserAgent:   secrets.UserAgent,
		Proxy:       operatorProxy,
		Name:        profile.DisplayName,
		PhoneNumber: profile.PhoneNumber,
		UserID:      profile.UserID,
	}

	if existing != nil {
		if existing.Data.Proxy != "" {
			data.Proxy = existing.Data.Proxy
		}
		if err := r.update(ctx, existing, name, data); err != nil {
			return Action{}, err
		}
		r.logger.InfoTag("reconcile", "updated credential %s (%s)", existing.ID, name)
		return Action{Kind: ActionUpdated, CredentialID: existing.ID, Name: name}, nil
	}

	created, err := r.store.Create(ctx, store.ReplaceRequest{
		Name:        name,
		Type:        r.credentialType,
		NodesAccess: []map[string]any{},
		Data:        data,
	})
	if err != nil {
		return Action{}, errors.Wrap(errors.KindReconcile, "credential.create",
			"failed to create credential", err)
	}
	r.logger.InfoTag("reconcile", "created credential %s (%s)", created.ID, name)
	return Action{Kind: ActionCreated, CredentialID: created.ID, Name: name}, nil
}

// findByPhone scans stored credentials of the connector's type for an exact
// phone match. The store has no phone index, so this is a linear scan over
// the full list.
func (r *Reconciler) findByPhone(ctx context.Context, phone string) (*store.Credential, error) {
	creds, err := r.store.List(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.KindReconcile, "credential.list",
			"failed to list credentials", err)
	}

	for i := range creds {
		if creds[i].Type == r.credentialType && creds[i].Data.PhoneNumber == phone {
			return &creds[i], nil
		}
	}
	return nil, nil
}

// updateStrategy is one way of writing an update to the store. Strategies are
// tried in order until one succeeds or a non-retryable error occurs.
type updateStrategy struct {
	name  string
	apply func(ctx context.Context, existing *store.Credential, name string, data store.CredentialData) error
}

func (r *Reconciler) strategies() []updateStrategy {
	return []updateStrategy{
		{
			name: "patch",
			apply: func(ctx context.Context, existing *store.Credential, name string, data store.CredentialData) error {
				return r.store.Patch(ctx, existing.ID, store.UpdateRequest{Name: name, Data: data})
			},
		},
		{
			name: "put",
			apply: func(ctx context.Context, existing *store.Credential, name string, data store.CredentialData) error {
				nodesAccess := existing.NodesAccess
				if nodesAccess == nil {
					nodesAccess = []map[string]any{}
				}
				return r.store.Put(ctx, existing.ID, store.ReplaceRequest{
					Name:        name,
					Type:        r.credentialType,
					NodesAccess: nodesAccess,
					Data:        data,
				})
			},
		},
	}
}

func (r *Reconciler) update(ctx context.Context, existing *store.Credential, name string, data store.CredentialData) error {
	var lastErr error
	for _, strategy := range r.strategies() {
		err := strategy.apply(ctx, existing, name, data)
		if err == nil {
			return nil
		}
		lastErr = err
		r.logger.WarnTag("reconcile", "update strategy %s failed for credential %s: %v",
			strategy.name, existing.ID, err)
	}
	return errors.Wrap(errors.KindReconcile, "credential.update",
		fmt.Sprintf("all update strategies failed for credential %s", existing.ID), lastErr)
}

// credentialName builds the operator-facing display name.
func credentialName(profile account.Profile) string {
	switch {
	case profile.DisplayName != "" && profile.PhoneNumber != "":
		return profile.DisplayName + " - " + profile.PhoneNumber
	case profile.DisplayName != "":
		return profile.DisplayName
	case profile.PhoneNumber != "":
		return profile.PhoneNumber
	case profile.UserID != "":
		return "Zalo Account - " + profile.UserID
	default:
		return fallbackCredentialName
	}
}
