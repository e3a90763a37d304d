package vtube

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ent0n29/vtutor/internal/observability"
	"github.com/ent0n29/vtutor/internal/protocol"
)

// Identity names this plugin to the avatar server.
type Identity struct {
	Name      string
	Developer string
	Icon      string
}

// TokenStore persists the long-lived authentication token.
// Load returns an empty token and no error when nothing is stored.
type TokenStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

// Authenticator runs the token handshake and per-session authentication.
type Authenticator struct {
	identity Identity
	store    TokenStore
	log      zerolog.Logger
	metrics  *observability.Metrics
}

func NewAuthenticator(identity Identity, store TokenStore, log zerolog.Logger, metrics *observability.Metrics) *Authenticator {
	return &Authenticator{identity: identity, store: store, log: log, metrics: metrics}
}

// InitConnection authenticates the session behind s, issuing a token first
// when none is stored. A stored token that the server rejects is cleared and
// reissued once.
func (a *Authenticator) InitConnection(ctx context.Context, s Sender) error {
	token, err := a.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load auth token: %w", err)
	}
	fromStore := token != ""
	if !fromStore {
		if token, err = a.issueToken(ctx, s); err != nil {
			return err
		}
	}

	err = a.AuthenticateSession(ctx, s, token)
	if err == nil || !fromStore || !errors.Is(err, ErrAuthRejected) {
		return err
	}

	a.log.Info().Err(err).Msg("stored auth token rejected, requesting a new one")
	a.metrics.ObserveAuth("token_rejected")
	if err := a.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear auth token: %w", err)
	}
	if token, err = a.issueToken(ctx, s); err != nil {
		return err
	}
	return a.AuthenticateSession(ctx, s, token)
}

// AuthenticateSession sends an AuthenticationRequest carrying token.
func (a *Authenticator) AuthenticateSession(ctx context.Context, s Sender, token string) error {
	resp, err := s.Send(ctx, protocol.NewRequest(protocol.TypeAuthenticationRequest, protocol.AuthenticationRequest{
		PluginName:          a.identity.Name,
		PluginDeveloper:     a.identity.Developer,
		AuthenticationToken: token,
	}))
	if err != nil {
		return err
	}
	var out protocol.AuthenticationResponse
	if err := resp.Expect(protocol.TypeAuthenticationResponse, &out); err != nil {
		var apiErr *protocol.APIError
		if errors.As(err, &apiErr) {
			apiErr.RequestType = protocol.TypeAuthenticationRequest
			return fmt.Errorf("%w: %w", ErrAuthRejected, apiErr)
		}
		return err
	}
	if !out.Authenticated {
		a.metrics.ObserveAuth("session_rejected")
		return fmt.Errorf("%w: %s", ErrAuthRejected, strings.TrimSpace(out.Reason))
	}
	a.metrics.ObserveAuth("authenticated")
	a.log.Info().Str("plugin", a.identity.Name).Msg("avatar session authenticated")
	return nil
}

func (a *Authenticator) issueToken(ctx context.Context, s Sender) (string, error) {
	resp, err := s.Send(ctx, protocol.NewRequest(protocol.TypeAuthenticationTokenRequest, protocol.AuthenticationTokenRequest{
		PluginName:      a.identity.Name,
		PluginDeveloper: a.identity.Developer,
		PluginIcon:      a.identity.Icon,
	}))
	if err != nil {
		return "", err
	}
	var out protocol.AuthenticationTokenResponse
	if err := resp.Expect(protocol.TypeAuthenticationTokenResponse, &out); err != nil {
		var apiErr *protocol.APIError
		if errors.As(err, &apiErr) {
			apiErr.RequestType = protocol.TypeAuthenticationTokenRequest
			return "", fmt.Errorf("%w: %w", ErrAuthRejected, apiErr)
		}
		return "", err
	}
	token := strings.TrimSpace(out.AuthenticationToken)
	if token == "" {
		return "", fmt.Errorf("%w: server issued an empty token", ErrAuthRejected)
	}
	if err := a.store.Save(ctx, token); err != nil {
		return "", fmt.Errorf("save auth token: %w", err)
	}
	a.metrics.ObserveAuth("token_issued")
	a.log.Info().Msg("avatar auth token issued and stored")
	return token, nil
}
