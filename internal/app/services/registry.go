// Package services wires the login, reconciliation and messaging domains into
// the operations the HTTP layer exposes.
package services

import (
	"sync"

	"zalo-connector-go/internal/domain/account"
	"zalo-connector-go/internal/zalo"
)

// Registry holds the currently authenticated session handle. A relogin
// replaces it; message sending and identity lookups read it.
type Registry struct {
	mu      sync.RWMutex
	api     zalo.API
	profile account.Profile
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Set installs a new session handle, replacing any previous one.
func (r *Registry) Set(api zalo.API, profile account.Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.api = api
	r.profile = profile
}

// Current returns the active handle, or ok=false when no login completed yet.
func (r *Registry) Current() (zalo.API, account.Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.api, r.profile, r.api != nil
}

// Clear drops the active handle.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.api = nil
	r.profile = account.Profile{}
}
