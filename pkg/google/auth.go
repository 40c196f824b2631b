package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/klokku/lunarcal/internal/config"
	"github.com/klokku/lunarcal/pkg/event"
	"github.com/klokku/lunarcal/pkg/settings"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
)

const (
	tokenKey  = "google.token"
	stateKey  = "google.state"
	deniedKey = "google.denied"

	callbackPath = "/api/integrations/google/auth/callback"
)

// Auth keeps the OAuth token of the Google account in the settings store.
type Auth struct {
	settings    settings.Repository
	oauthConfig *oauth2.Config
	// called after login and logout
	onStatusChange func(ctx context.Context)
}

func OAuthConfig(cfg config.Application) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.Google.ClientId,
		ClientSecret: cfg.Google.ClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.Host + callbackPath,
		Scopes:       []string{calendar.CalendarEventsScope, calendar.CalendarReadonlyScope},
	}
}

func NewAuth(settingsRepo settings.Repository, oauthConfig *oauth2.Config) *Auth {
	return &Auth{settings: settingsRepo, oauthConfig: oauthConfig}
}

func (a *Auth) OnStatusChange(fn func(ctx context.Context)) {
	a.onStatusChange = fn
}

func (a *Auth) statusChanged(ctx context.Context) {
	if a.onStatusChange != nil {
		a.onStatusChange(ctx)
	}
}

// Status is Granted with a stored token, Denied after a failed login and NotDetermined
// before the first one.
func (a *Auth) Status(ctx context.Context) event.AuthorizationStatus {
	token, err := a.token(ctx)
	if err != nil {
		log.Warnf("Failed to read Google token: %v", err)
		return event.NotDetermined
	}
	if token != nil {
		return event.Granted
	}
	_, denied, err := a.settings.GetValue(ctx, deniedKey)
	if err == nil && denied {
		return event.Denied
	}
	return event.NotDetermined
}

// Client returns an HTTP client authorized with the stored token, or nil without one.
// Refreshed tokens are written back to the settings store.
func (a *Auth) Client(ctx context.Context) (*http.Client, error) {
	token, err := a.token(ctx)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, nil
	}
	source := &persistingTokenSource{
		auth:        a,
		base:        a.oauthConfig.TokenSource(context.Background(), token),
		accessToken: token.AccessToken,
	}
	return oauth2.NewClient(context.Background(), source), nil
}

func (a *Auth) token(ctx context.Context) (*oauth2.Token, error) {
	value, ok, err := a.settings.GetValue(ctx, tokenKey)
	if err != nil {
		return nil, err
	}
	if !ok || value == "" {
		return nil, nil
	}
	var token oauth2.Token
	if err := json.Unmarshal([]byte(value), &token); err != nil {
		log.Warnf("Ignoring undecodable Google token: %v", err)
		return nil, nil
	}
	return &token, nil
}

func (a *Auth) saveToken(ctx context.Context, token *oauth2.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to encode Google token: %w", err)
	}
	if err := a.settings.SetValue(ctx, tokenKey, string(data)); err != nil {
		return err
	}
	return a.settings.DeleteValue(ctx, deniedKey)
}

func (a *Auth) clear(ctx context.Context) error {
	if err := a.settings.DeleteValue(ctx, tokenKey); err != nil {
		return err
	}
	return a.settings.DeleteValue(ctx, stateKey)
}

type persistingTokenSource struct {
	auth        *Auth
	base        oauth2.TokenSource
	mu          sync.Mutex
	accessToken string
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if token.AccessToken != p.accessToken {
		p.accessToken = token.AccessToken
		log.Debug("Google token refreshed")
		if err := p.auth.saveToken(context.Background(), token); err != nil {
			log.Errorf("Failed to store refreshed Google token: %v", err)
		}
	}
	return token, nil
}
