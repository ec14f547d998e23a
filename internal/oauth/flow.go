// Package oauth runs the Monday.com authorization-code flow: it issues
// state nonces on connect and turns the provider callback into a stored
// integration plus a redirect back to the app.
package oauth

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"mondayease/api/internal/monday"
	"mondayease/api/internal/session"
	"mondayease/api/internal/store"
	"mondayease/api/internal/util"
)

const StateTTL = 10 * time.Minute

// State is the connection state of an integration as seen by the app.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// Error codes reported to the app in the callback redirect.
const (
	CodeDenied             = "oauth_denied"
	CodeTokenExchange      = "token_exchange_failed"
	CodeMondayAPI          = "monday_api_error"
	CodeDatabase           = "database_error"
	CodeMissingParameters  = "missing_parameters"
	CodeUnexpected         = "unexpected_error"
	successConnectedMonday = "monday_connected"
)

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	// AppURL is where the callback sends the browser afterwards.
	AppURL string
}

type StateStore interface {
	SaveOAuthState(ctx context.Context, nonce string, state session.OAuthState, ttl time.Duration) error
	ConsumeOAuthState(ctx context.Context, nonce string) (session.OAuthState, error)
}

type IdentityClient interface {
	Me(ctx context.Context, token string) (monday.Account, error)
}

type IntegrationStore interface {
	UpsertIntegration(ctx context.Context, in store.Integration) (store.Integration, error)
}

type Flow struct {
	oauth        *oauth2.Config
	appURL       string
	states       StateStore
	identity     IdentityClient
	integrations IntegrationStore
	logger       *zap.Logger
}

func NewFlow(cfg Config, states StateStore, identity IdentityClient, integrations IntegrationStore, logger *zap.Logger) *Flow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flow{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		appURL:       strings.TrimRight(cfg.AppURL, "/"),
		states:       states,
		identity:     identity,
		integrations: integrations,
		logger:       logger.Named("oauth"),
	}
}

func (f *Flow) Configured() bool {
	return f.oauth.ClientID != "" && f.oauth.ClientSecret != "" && f.oauth.Endpoint.AuthURL != ""
}

// Start records a state nonce for userID and returns the provider
// authorize URL.
func (f *Flow) Start(ctx context.Context, userID string) (string, error) {
	nonce, err := util.NewToken(24)
	if err != nil {
		return "", err
	}
	state := session.OAuthState{UserID: userID, Provider: store.IntegrationMonday}
	if err := f.states.SaveOAuthState(ctx, nonce, state, StateTTL); err != nil {
		return "", err
	}
	return f.oauth.AuthCodeURL(nonce), nil
}

// CallbackParams are the query parameters the provider sends back.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

func ParamsFromQuery(q url.Values) CallbackParams {
	return CallbackParams{
		Code:             strings.TrimSpace(q.Get("code")),
		State:            strings.TrimSpace(q.Get("state")),
		Error:            strings.TrimSpace(q.Get("error")),
		ErrorDescription: q.Get("error_description"),
	}
}

// Result is the outcome of a callback. Redirect is always set.
type Result struct {
	State       State
	Code        string
	Redirect    string
	Integration store.Integration
}

// Callback exchanges the code, resolves the account identity and stores
// the integration. Failures are reported through Result.Code, never as an
// error.
func (f *Flow) Callback(ctx context.Context, params CallbackParams) Result {
	if params.Error != "" {
		f.logger.Info("authorization denied", zap.String("error", params.Error), zap.String("description", params.ErrorDescription))
		if params.State != "" {
			_, _ = f.states.ConsumeOAuthState(ctx, params.State)
		}
		return f.fail(CodeDenied)
	}
	if params.Code == "" || params.State == "" {
		return f.fail(CodeMissingParameters)
	}

	state, err := f.states.ConsumeOAuthState(ctx, params.State)
	if errors.Is(err, session.ErrNotFound) {
		return f.fail(CodeMissingParameters)
	}
	if err != nil {
		f.logger.Error("consume state", zap.Error(err))
		return f.fail(CodeUnexpected)
	}

	token, err := f.oauth.Exchange(ctx, params.Code)
	if err != nil {
		f.logger.Warn("token exchange failed", zap.String("user_id", state.UserID), zap.Error(err))
		return f.fail(CodeTokenExchange)
	}

	account, err := f.identity.Me(ctx, token.AccessToken)
	if err != nil {
		f.logger.Warn("identity lookup failed", zap.String("user_id", state.UserID), zap.Error(err))
		return f.fail(CodeMondayAPI)
	}

	scopes, _ := token.Extra("scope").(string)
	integration, err := f.integrations.UpsertIntegration(ctx, store.Integration{
		ID:              util.NewID("int"),
		UserID:          state.UserID,
		IntegrationType: store.IntegrationMonday,
		AccountID:       account.AccountID,
		AccountName:     account.AccountName,
		AccountSlug:     account.AccountSlug,
		RemoteUserID:    account.UserID,
		AccessToken:     token.AccessToken,
		Scopes:          scopes,
	})
	if err != nil {
		f.logger.Error("store integration", zap.String("user_id", state.UserID), zap.Error(err))
		return f.fail(CodeDatabase)
	}

	f.logger.Info("integration connected",
		zap.String("user_id", state.UserID),
		zap.String("account_id", account.AccountID),
	)
	return Result{
		State:       StateConnected,
		Redirect:    f.appURL + "/settings/integrations?success=" + successConnectedMonday,
		Integration: integration,
	}
}

func (f *Flow) fail(code string) Result {
	return Result{
		State:    StateError,
		Code:     code,
		Redirect: f.appURL + "/settings/integrations?error=" + url.QueryEscape(code),
	}
}
