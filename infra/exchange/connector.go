package exchange

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"merger/domain/orderbook"
	"merger/infra/logging"
	"merger/infra/metrics"
)

// Publisher receives every successfully decoded snapshot, latest wins.
type Publisher interface {
	Publish(snap orderbook.DepthSnapshot) error
}

type Options struct {
	BaseURL          string
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration // 0 disables the read deadline
	PingInterval     time.Duration // 0 disables pings

	ReconnectInterval time.Duration
	MaxFailures       uint32
	BreakerTimeout    time.Duration

	Metrics *metrics.Registry
}

// Connector owns the streaming connection to one venue.
//
// A session dials, subscribes, drops the venue's acknowledgement frames and
// then decodes frames until the transport fails. Decode failures are skipped.
// A failed session never publishes anything, so the last good snapshot of
// this venue stays in the merged book while Run reconnects.
type Connector struct {
	venue Venue
	pair  string
	sink  Publisher
	opts  Options

	dialer  *websocket.Dialer
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

func NewConnector(venue Venue, pair string, sink Publisher, opts Options) *Connector {
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = 2 * time.Second
	}
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}

	c := &Connector{
		venue:   venue,
		pair:    pair,
		sink:    sink,
		opts:    opts,
		dialer:  &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
		limiter: rate.NewLimiter(rate.Every(opts.ReconnectInterval), 1),
		log:     logging.Component("feed").With().Str("exchange", venue.Name()).Logger(),
	}

	maxFailures := opts.MaxFailures
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    venue.Name(),
		Timeout: opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("connect breaker changed state")
		},
	})
	return c
}

func (c *Connector) Name() string {
	return c.venue.Name()
}

// Run keeps a session alive until ctx is cancelled. It only returns ctx's error.
func (c *Connector) Run(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}
		if attempt > 0 && c.opts.Metrics != nil {
			c.opts.Metrics.FeedReconnects.WithLabelValues(c.venue.Name()).Inc()
		}

		err := c.RunSession(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		switch {
		case errors.Is(err, gobreaker.ErrOpenState):
			c.log.Debug().Msg("connect breaker open, waiting")
		case err != nil:
			c.log.Warn().Err(err).Msg("session ended")
		}
	}
}

// RunSession runs one connection from dial to failure.
func (c *Connector) RunSession(ctx context.Context) error {
	res, err := c.breaker.Execute(func() (any, error) {
		return c.connect(ctx)
	})
	if err != nil {
		return err
	}
	sess := res.(*session)
	defer sess.close()

	c.setConnected(true)
	defer c.setConnected(false)

	if c.opts.PingInterval > 0 {
		go c.pingLoop(sess.conn, sess.done)
	}
	return c.readLoop(sess.conn)
}

// session is a dialed connection that is closed when ctx is done or close
// is called, whichever comes first.
type session struct {
	conn *websocket.Conn
	done chan struct{}
	once sync.Once
}

func watch(ctx context.Context, conn *websocket.Conn) *session {
	s := &session{conn: conn, done: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		}
		conn.Close()
	}()
	return s
}

func (s *session) close() {
	s.once.Do(func() { close(s.done) })
}

// connect dials, subscribes and consumes the acknowledgement frames.
// Cancelling ctx at any point after the dial unblocks it.
func (c *Connector) connect(ctx context.Context) (*session, error) {
	url := c.venue.Endpoint(c.opts.BaseURL, c.pair)
	conn, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, c.connErr("dial", err)
	}
	sess := watch(ctx, conn)

	fail := func(op string, err error) (*session, error) {
		sess.close()
		return nil, c.connErr(op, err)
	}

	payload, err := c.venue.Subscription(c.pair)
	if err != nil {
		return fail("subscribe", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fail("subscribe", err)
	}

	c.extendDeadline(conn)
	for i := 0; i < c.venue.AckFrames(); i++ {
		if _, _, err := conn.ReadMessage(); err != nil {
			return fail("subscribe ack", err)
		}
	}

	c.log.Info().Str("url", url).Str("pair", c.pair).Msg("subscribed")
	return sess, nil
}

func (c *Connector) readLoop(conn *websocket.Conn) error {
	conn.SetPongHandler(func(string) error {
		c.extendDeadline(conn)
		return nil
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return c.connErr("read", err)
		}
		c.extendDeadline(conn)

		snap, err := c.venue.Decode(msg)
		if errors.Is(err, ErrReconnectRequested) {
			return c.connErr("read", err)
		}
		if err != nil {
			if c.opts.Metrics != nil {
				c.opts.Metrics.FeedDecodeErrors.WithLabelValues(c.venue.Name()).Inc()
			}
			c.log.Debug().Err(err).Int("bytes", len(msg)).Msg("frame dropped")
			continue
		}

		if err := c.sink.Publish(snap); err != nil {
			c.log.Error().Err(err).Msg("publish rejected")
			continue
		}
		if c.opts.Metrics != nil {
			c.opts.Metrics.FeedMessages.WithLabelValues(c.venue.Name()).Inc()
		}
	}
}

func (c *Connector) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.opts.PingInterval)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

func (c *Connector) extendDeadline(conn *websocket.Conn) {
	if c.opts.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	}
}

func (c *Connector) setConnected(up bool) {
	if c.opts.Metrics == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	c.opts.Metrics.FeedConnected.WithLabelValues(c.venue.Name()).Set(v)
}

func (c *Connector) connErr(op string, err error) error {
	return &ConnectionError{Exchange: c.venue.Name(), Op: op, Err: err}
}
