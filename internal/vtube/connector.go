package vtube

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/ent0n29/vtutor/internal/protocol"
)

// Connector ties the client, authenticator and parameter registry into one
// avatar session. Authentication and parameter setup rerun on every reconnect.
type Connector struct {
	client   *Client
	auth     *Authenticator
	registry *Registry
	profile  Profile
	log      zerolog.Logger
}

func NewConnector(client *Client, auth *Authenticator, registry *Registry, profile Profile, log zerolog.Logger) *Connector {
	c := &Connector{client: client, auth: auth, registry: registry, profile: profile, log: log}
	client.OnSession(auth.InitConnection)
	client.OnSession(registry.Setup)
	return c
}

func (c *Connector) Start(ctx context.Context) error { return c.client.Connect(ctx) }

func (c *Connector) Reauthenticate(ctx context.Context) error {
	c.log.Info().Msg("re-authenticating avatar session")
	return c.client.Reauthenticate(ctx)
}

// Resume restores the session after a transport failure. The failed socket
// was already dropped by Send, so a session keep-alive has published since
// is kept as is.
func (c *Connector) Resume(ctx context.Context) error { return c.client.Connect(ctx) }

func (c *Connector) Connected() bool { return c.client.Connected() }

func (c *Connector) Close() error { return c.client.Close() }

func (c *Connector) Registry() *Registry { return c.registry }

func (c *Connector) SetParameter(name string, value float64) error {
	return c.registry.Set(name, value)
}

func (c *Connector) SendParameterValues(ctx context.Context) error {
	return c.registry.Inject(ctx, c.client)
}

func (c *Connector) ParameterValues() map[string]float64 { return c.registry.Values() }

func (c *Connector) LiveParameterValues(ctx context.Context) (map[string]float64, error) {
	return c.registry.LiveValues(ctx, c.client)
}

func (c *Connector) LiveParameterValue(ctx context.Context, name string) (float64, error) {
	return c.registry.LiveValue(ctx, c.client, name)
}

func (c *Connector) Hotkeys(ctx context.Context) ([]protocol.Hotkey, error) {
	return ListHotkeys(ctx, c.client)
}

// Expressions lists the configured expression names.
func (c *Connector) Expressions() []string {
	names := make([]string, 0, len(c.profile.Expressions))
	for name := range c.profile.Expressions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TriggerExpression fires the hotkey mapped to an expression name.
func (c *Connector) TriggerExpression(ctx context.Context, name string) error {
	id, ok := c.profile.Expressions[name]
	if !ok {
		return invalid("expression", "%q is not configured", name)
	}
	return TriggerHotkey(ctx, c.client, id)
}
