package vtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/vtutor/internal/observability"
	"github.com/ent0n29/vtutor/internal/protocol"
	"github.com/ent0n29/vtutor/internal/reliability"
)

// Sender performs one request/response exchange with the avatar server.
type Sender interface {
	Send(ctx context.Context, req protocol.Request) (protocol.Response, error)
}

// SessionHook runs on every freshly dialed socket before it is published.
// Requests made through s go straight to the new socket.
type SessionHook func(ctx context.Context, s Sender) error

type ClientOptions struct {
	URL            string
	PingInterval   time.Duration
	PingTimeout    time.Duration
	RequestTimeout time.Duration
	ReconnectBase  time.Duration
	ReconnectMax   time.Duration
	Logger         zerolog.Logger
	Metrics        *observability.Metrics
}

// Client owns the single socket to the avatar server. Requests are strictly
// sequential: one request is written and its response awaited before the next.
type Client struct {
	url            string
	pingInterval   time.Duration
	pingTimeout    time.Duration
	requestTimeout time.Duration
	dialer         websocket.Dialer
	backoff        *reliability.Backoff
	log            zerolog.Logger
	metrics        *observability.Metrics

	// sleep waits out a reconnect delay; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	lifetime context.Context
	cancel   context.CancelFunc

	// connecting is a one-slot semaphore so waiters can give up on ctx.
	connecting chan struct{}
	reqMu      sync.Mutex

	mu     sync.Mutex
	sess   *session
	hooks  []SessionHook
	closed bool
	// lost marks that a published session died; the next dial waits first.
	lost bool
	wg   sync.WaitGroup
}

func NewClient(opts ClientOptions) *Client {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 10 * time.Second
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 10 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	lifetime, cancel := context.WithCancel(context.Background())
	return &Client{
		url:            opts.URL,
		pingInterval:   opts.PingInterval,
		pingTimeout:    opts.PingTimeout,
		requestTimeout: opts.RequestTimeout,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 4 * time.Second,
		},
		backoff:    reliability.NewBackoff(opts.ReconnectBase, opts.ReconnectMax),
		log:        opts.Logger,
		metrics:    opts.Metrics,
		sleep:      sleepCtx,
		lifetime:   lifetime,
		cancel:     cancel,
		connecting: make(chan struct{}, 1),
	}
}

// OnSession appends a hook run after each successful dial. Register hooks before Connect.
func (c *Client) OnSession(hook SessionHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, hook)
}

// Connected reports whether an authenticated socket is currently published.
func (c *Client) Connected() bool {
	return c.current() != nil
}

// Connect returns once a socket is open and every session hook succeeded.
// Transport failures are retried forever with exponential backoff; hook
// failures that are not transport failures are returned as-is.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case c.connecting <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.lifetime.Done():
		return ErrClientClosed
	}
	defer func() { <-c.connecting }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.lifetime, cancel)
	defer stop()

	for {
		if c.isClosed() {
			return ErrClientClosed
		}
		if c.current() != nil {
			return nil
		}
		if delay, ok := c.reconnectDelay(); ok {
			c.metrics.IncReconnect()
			c.log.Warn().Dur("delay", delay).Str("url", c.url).Msg("avatar session lost, reconnecting")
			if err := c.sleep(ctx, delay); err != nil {
				if c.isClosed() {
					return ErrClientClosed
				}
				return err
			}
			continue
		}
		err := c.connectOnce(ctx)
		if err == nil {
			c.backoff.Reset()
			return nil
		}
		if c.isClosed() {
			return ErrClientClosed
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.Is(err, ErrConnectionClosed) {
			return err
		}
		delay := c.backoff.Next()
		c.metrics.IncReconnect()
		c.log.Warn().Err(err).Dur("delay", delay).Str("url", c.url).Msg("avatar connect failed, retrying")
		if err := c.sleep(ctx, delay); err != nil {
			if c.isClosed() {
				return ErrClientClosed
			}
			return err
		}
	}
}

// Reauthenticate drops the current socket and reconnects with the full
// handshake, without a reconnect delay.
func (c *Client) Reauthenticate(ctx context.Context) error {
	c.unpublish(c.current(), errors.New("reauthentication requested"), false)
	return c.Connect(ctx)
}

// Send ensures a connection, writes req and waits for the matching response.
// A transport failure tears down the socket and returns ErrConnectionClosed;
// the request is not retried.
func (c *Client) Send(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	s := c.current()
	if s == nil {
		if err := c.Connect(ctx); err != nil {
			return protocol.Response{}, err
		}
		if s = c.current(); s == nil {
			return protocol.Response{}, fmt.Errorf("%w: no session after connect", ErrConnectionClosed)
		}
	}
	resp, err := c.roundTrip(ctx, s, req)
	if errors.Is(err, ErrConnectionClosed) {
		c.drop(s, err)
	}
	return resp, err
}

// Close releases the socket and stops keep-alive and reconnect loops.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	s := c.sess
	c.sess = nil
	c.mu.Unlock()

	c.cancel()
	if s != nil {
		s.shutdown(ErrClientClosed)
	}
	c.metrics.SetConnected(false)
	c.wg.Wait()
	return nil
}

func (c *Client) connectOnce(ctx context.Context) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("%w: dial failed (%s): %v", ErrConnectionClosed, resp.Status, err)
		}
		return fmt.Errorf("%w: dial failed: %v", ErrConnectionClosed, err)
	}

	s := newSession(conn)
	c.mu.Lock()
	hooks := append([]SessionHook(nil), c.hooks...)
	c.mu.Unlock()

	bound := sessionSender{client: c, sess: s}
	for _, hook := range hooks {
		if err := hook(ctx, bound); err != nil {
			s.shutdown(err)
			return err
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		s.shutdown(ErrClientClosed)
		return ErrClientClosed
	}
	c.sess = s
	c.wg.Add(1)
	c.mu.Unlock()

	c.metrics.SetConnected(true)
	c.log.Info().Str("url", c.url).Msg("avatar session established")

	go c.keepAlive(s)
	return nil
}

func (c *Client) roundTrip(ctx context.Context, s *session, req protocol.Request) (protocol.Response, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	s.discardPending()

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	msgType := string(req.MessageType)
	if err := s.writeJSON(req, c.requestTimeout); err != nil {
		c.metrics.ObserveRequest(msgType, "closed")
		s.shutdown(err)
		return protocol.Response{}, fmt.Errorf("%w: write %s: %v", ErrConnectionClosed, msgType, err)
	}

	for {
		select {
		case <-reqCtx.Done():
			if ctx.Err() != nil {
				c.metrics.ObserveRequest(msgType, "canceled")
				return protocol.Response{}, ctx.Err()
			}
			c.metrics.ObserveRequest(msgType, "timeout")
			s.shutdown(errors.New("request timeout"))
			return protocol.Response{}, fmt.Errorf("%w: %s timed out after %s", ErrConnectionClosed, msgType, c.requestTimeout)
		case <-s.done:
			c.metrics.ObserveRequest(msgType, "closed")
			return protocol.Response{}, fmt.Errorf("%w: %v", ErrConnectionClosed, s.cause())
		case data := <-s.msgs:
			resp, err := protocol.ParseResponse(data)
			if err != nil {
				c.metrics.ObserveRequest(msgType, "malformed")
				return protocol.Response{}, err
			}
			if resp.RequestID != req.RequestID {
				c.log.Debug().Str("request_id", resp.RequestID).Str("type", string(resp.MessageType)).Msg("discarding uncorrelated frame")
				continue
			}
			outcome := "ok"
			if resp.MessageType == protocol.TypeAPIError {
				outcome = "api_error"
			}
			c.metrics.ObserveRequest(msgType, outcome)
			return resp, nil
		}
	}
}

// keepAlive pings on a fixed interval. A missed pong drops the socket and
// reconnects in the background.
func (c *Client) keepAlive(s *session) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.lifetime.Done():
			return
		case <-s.done:
			c.recoverFrom(s)
			return
		case <-ticker.C:
		}

		if err := s.ping(c.pingTimeout); err != nil {
			c.log.Warn().Err(err).Msg("avatar ping failed")
			c.drop(s, err)
			c.recoverFrom(s)
			return
		}
		select {
		case <-s.pongs:
		case <-s.done:
			c.recoverFrom(s)
			return
		case <-c.lifetime.Done():
			return
		case <-time.After(c.pingTimeout):
			c.log.Warn().Dur("timeout", c.pingTimeout).Msg("avatar pong timeout")
			c.drop(s, errors.New("pong timeout"))
			c.recoverFrom(s)
			return
		}
	}
}

// recoverFrom reconnects after s died unless someone already replaced it.
func (c *Client) recoverFrom(s *session) {
	c.drop(s, s.cause())
	if c.isClosed() || c.current() != nil {
		return
	}
	if err := c.Connect(c.lifetime); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrClientClosed) {
		c.log.Error().Err(err).Msg("avatar reconnect gave up")
	}
}

func (c *Client) current() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || !c.sess.alive() {
		return nil
	}
	return c.sess
}

// drop unpublishes s if it is still the current session and closes it. The
// next Connect waits out a reconnect delay before dialing.
func (c *Client) drop(s *session, cause error) {
	c.unpublish(s, cause, true)
}

func (c *Client) unpublish(s *session, cause error, lost bool) {
	if s == nil {
		return
	}
	c.mu.Lock()
	wasCurrent := c.sess == s
	if wasCurrent {
		c.sess = nil
		c.lost = lost
	}
	c.mu.Unlock()
	s.shutdown(cause)
	if wasCurrent {
		c.metrics.SetConnected(false)
	}
}

// reconnectDelay reports the backoff delay owed after a lost session. A
// published session that died without being dropped yet counts as lost.
func (c *Client) reconnectDelay() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil && !c.sess.alive() {
		c.sess = nil
		c.lost = true
		c.metrics.SetConnected(false)
	}
	if !c.lost {
		return 0, false
	}
	c.lost = false
	return c.backoff.Next(), true
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type sessionSender struct {
	client *Client
	sess   *session
}

func (b sessionSender) Send(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	return b.client.roundTrip(ctx, b.sess, req)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
