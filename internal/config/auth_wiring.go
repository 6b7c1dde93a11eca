package config

import (
	"golang.org/x/oauth2"

	"github.com/xynehq/jaf-sub004/internal/toolauth"
)

// OAuthSchemes projects each configured provider into the
// toolauth.OAuth2Scheme the Auth Store & Flow component needs, keyed by
// provider name (the toolauth authKey it answers for).
func (c AuthConfig) OAuthSchemes() map[string]toolauth.OAuth2Scheme {
	schemes := make(map[string]toolauth.OAuth2Scheme, len(c.Providers))
	for _, p := range c.Providers {
		schemes[p.Name] = toolauth.OAuth2Scheme{
			Name: p.Name,
			Config: oauth2.Config{
				ClientID:     p.ClientID,
				ClientSecret: p.ClientSecret,
				Endpoint: oauth2.Endpoint{
					AuthURL:  p.AuthURL,
					TokenURL: p.TokenURL,
				},
				RedirectURL: p.RedirectURL,
				Scopes:      p.Scopes,
			},
			UsePKCE: p.UsePKCE,
		}
	}
	return schemes
}
