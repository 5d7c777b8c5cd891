package services

import (
	"context"

	"github.com/healwise/apiserver/config"
	"github.com/healwise/apiserver/internal/apperr"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	googleoauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// OAuthIdentity is what a provider tells us about the signed-in user.
type OAuthIdentity struct {
	Subject       string
	Email         string
	Name          string
	EmailVerified bool
}

// OAuthProvider runs the authorization-code flow against one provider.
type OAuthProvider interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (OAuthIdentity, error)
}

// GoogleProvider signs users in with their Google account.
type GoogleProvider struct {
	oauth *oauth2.Config
}

func NewGoogleProvider(cfg config.GoogleConfig) *GoogleProvider {
	return &GoogleProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Endpoint:     google.Endpoint,
			Scopes: []string{
				googleoauth2.UserinfoProfileScope,
				googleoauth2.UserinfoEmailScope,
			},
		},
	}
}

func (p *GoogleProvider) Name() string { return "google" }

func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades code for a token and fetches the userinfo record.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (OAuthIdentity, error) {
	if code == "" {
		return OAuthIdentity{}, apperr.Validation("missing authorization code")
	}
	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return OAuthIdentity{}, apperr.Upstream("google token exchange failed", err)
	}

	svc, err := googleoauth2.NewService(ctx, option.WithTokenSource(p.oauth.TokenSource(ctx, tok)))
	if err != nil {
		return OAuthIdentity{}, apperr.Upstream("google client setup failed", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return OAuthIdentity{}, apperr.Upstream("google userinfo failed", err)
	}

	verified := info.VerifiedEmail != nil && *info.VerifiedEmail
	return OAuthIdentity{
		Subject:       info.Id,
		Email:         info.Email,
		Name:          info.Name,
		EmailVerified: verified,
	}, nil
}
