package service

import "context"

// Provider abstracts an external identity provider (OAuth-style). None ship
// yet; the interface pins the contract future connections implement.
type Provider interface {
	// AuthorizationURL builds the URL the browser is sent to.
	AuthorizationURL(state, redirectURI string) (string, error)
	// Exchange turns the callback code into a profile.
	Exchange(ctx context.Context, code string) (ProviderUser, error)
}

// ProviderUser is the normalized profile an external provider returns.
type ProviderUser struct {
	ID       string
	Email    string
	Username string
	Name     string
}

// Providers is the registry of configured external providers, keyed by
// provider name. Empty until a provider is added.
var Providers = map[string]Provider{}
