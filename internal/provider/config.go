// Package provider is the stateless client for a single configured OAuth
// provider (Claude). Grounded on internal/oauth/flow.go's authorize URL
// building and internal/oauth/token.go's token endpoint handling, adapted
// from form-encoded to the JSON wire format and narrowed from a per-row
// OAuthProvider to one frozen Config.
package provider

// Config is the frozen provider configuration for the one supported
// provider. There is no dynamic provider registry: multi-tenant provider
// configuration is out of scope.
type Config struct {
	ClientID        string
	AuthorizeURL    string
	TokenURL        string
	RefreshURL      string
	RedirectURI     string
	Scopes          []string
	OAuthBetaHeader string
}
