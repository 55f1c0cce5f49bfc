package eventstream

import (
	"context"
	"encoding/json"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	changeDomain "github.com/reshetovitsme/wikiscan/internal/modules/change/domain"
	"github.com/reshetovitsme/wikiscan/internal/shared/errors"
	"github.com/samber/oops"
	sse "github.com/tmaxmax/go-sse"
)

// Options configures a Client
type Options struct {
	// BaseURL is the EventStreams endpoint, e.g. https://stream.wikimedia.org/v2/stream
	BaseURL   string
	Streams   []string
	UserAgent string
	// Accept drops changes before they reach the caller; nil accepts all
	Accept func(*changeDomain.Change) bool
	// ReadTimeout is the longest the connection may stay silent
	ReadTimeout time.Duration
	// MaxReconnectElapsed bounds automatic reconnection
	MaxReconnectElapsed time.Duration
	HTTPClient          *http.Client
}

// Client reads changes from a server-sent events stream and reconnects
// automatically when the connection drops
type Client struct {
	opts        Options
	body        io.ReadCloser
	events      func() (sse.Event, error, bool)
	stop        func()
	cancel      context.CancelFunc
	timer       *time.Timer
	timedOut    atomic.Bool
	lastEventID string
	// connections in a row that closed before delivering an event
	emptyDrops int
	gotEvent   bool
}

const maxEmptyDrops = 5

// maxEventSize bounds a single event; recentchange events are a few KiB
const maxEventSize = 1 << 20

func New(opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	return &Client{opts: opts}
}

// URL is the subscription URL for the configured streams
func (c *Client) URL() string {
	return strings.TrimRight(c.opts.BaseURL, "/") + "/" + strings.Join(c.opts.Streams, ",")
}

// Next blocks until the next accepted change arrives. Transport failures
// that automatic reconnection cannot recover from wrap ErrTransport.
func (c *Client) Next(ctx context.Context) (changeDomain.Change, error) {
	for {
		if err := ctx.Err(); err != nil {
			return changeDomain.Change{}, err
		}

		if c.events == nil {
			if err := c.connect(ctx); err != nil {
				return changeDomain.Change{}, err
			}
		}

		ev, err := c.readEvent()
		if err != nil {
			timedOut := c.timedOut.Load()
			c.Reset()
			if ctx.Err() != nil {
				return changeDomain.Change{}, ctx.Err()
			}
			if timedOut {
				return changeDomain.Change{}, oops.In("eventstream").
					Code(errors.CodeTransport).
					With("url", c.URL(), "read_timeout", c.opts.ReadTimeout.String()).
					Wrapf(errors.ErrTransport, "read timed out")
			}
			if c.gotEvent {
				c.emptyDrops = 0
			} else {
				c.emptyDrops++
			}
			if c.emptyDrops >= maxEmptyDrops {
				c.emptyDrops = 0
				return changeDomain.Change{}, oops.In("eventstream").
					Code(errors.CodeTransport).
					With("url", c.URL(), "cause", err.Error()).
					Wrapf(errors.ErrTransport, "stream keeps closing without events")
			}
			slog.Warn("Event stream connection lost, reconnecting", "url", c.URL(), "error", err)
			continue
		}
		c.gotEvent = true

		if ev.LastEventID != "" {
			c.lastEventID = ev.LastEventID
		}
		if ev.Data == "" || (ev.Type != "" && ev.Type != "message") {
			continue
		}

		var change changeDomain.Change
		if err := json.Unmarshal([]byte(ev.Data), &change); err != nil {
			slog.Warn("Dropping undecodable event", "error", err, "event_id", ev.LastEventID)
			continue
		}
		if err := change.Validate(); err != nil {
			slog.Warn("Dropping invalid event", "error", err)
			continue
		}
		if c.opts.Accept != nil && !c.opts.Accept(&change) {
			continue
		}

		return change, nil
	}
}

// Reset closes the current connection; the next call to Next re-subscribes
func (c *Client) Reset() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.body != nil {
		c.body.Close()
		c.body = nil
	}
	if c.stop != nil {
		c.stop()
		c.stop = nil
	}
	c.events = nil
	c.timedOut.Store(false)
}

func (c *Client) Close() error {
	c.Reset()
	return nil
}

func (c *Client) connect(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = c.opts.MaxReconnectElapsed

	attempt := 0
	operation := func() error {
		attempt++
		return c.dial(ctx)
	}
	notify := func(err error, next time.Duration) {
		slog.Warn("Event stream connect failed", "url", c.URL(), "attempt", attempt, "retry_in", next, "error", err)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return oops.In("eventstream").
			Code(errors.CodeTransport).
			With("url", c.URL(), "attempts", attempt, "cause", err.Error()).
			Wrap(errors.ErrTransport)
	}
	return nil
}

func (c *Client) dial(ctx context.Context) error {
	connCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, c.URL(), nil)
	if err != nil {
		cancel()
		return backoff.Permanent(err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	if c.lastEventID != "" {
		req.Header.Set("Last-Event-ID", c.lastEventID)
	}

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		cancel()
		return err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		err := oops.In("eventstream").With("url", c.URL(), "status", resp.StatusCode).Errorf("stream returned status: %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}

	c.cancel = cancel
	c.body = resp.Body
	c.gotEvent = false
	c.timedOut.Store(false)

	var body io.Reader = resp.Body
	if c.opts.ReadTimeout > 0 {
		timer := time.AfterFunc(c.opts.ReadTimeout, func() {
			c.timedOut.Store(true)
			cancel()
		})
		c.timer = timer
		body = &activityReader{r: resp.Body, touch: func() { timer.Reset(c.opts.ReadTimeout) }}
	}
	events := sse.Read(body, &sse.ReadConfig{MaxEventSize: maxEventSize})
	c.events, c.stop = iter.Pull2(iter.Seq2[sse.Event, error](events))

	slog.Info("Subscribed to event stream", "url", c.URL())
	return nil
}

// readEvent returns the next dispatched event of the current connection.
// A stream that ends cleanly is reported as io.EOF.
func (c *Client) readEvent() (sse.Event, error) {
	ev, err, ok := c.events()
	if !ok {
		return sse.Event{}, io.EOF
	}
	if err != nil {
		return sse.Event{}, err
	}
	return ev, nil
}

// activityReader calls touch whenever bytes arrive, comments and
// heartbeats included, so only a silent connection times out
type activityReader struct {
	r     io.Reader
	touch func()
}

func (a *activityReader) Read(p []byte) (int, error) {
	n, err := a.r.Read(p)
	if n > 0 {
		a.touch()
	}
	return n, err
}
