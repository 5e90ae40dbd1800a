// Package conductor is a client for the conductor app interface: one persistent
// websocket carrying correlated request/response pairs and an independent stream
// of signals pushed by the conductor.
package conductor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"honeyworks/hive-client/internal/conductor/wire"
)

const (
	DefaultConnectTimeout = 20 * time.Second
	DefaultCallTimeout    = 20 * time.Second
	DefaultSignalBuffer   = 64

	defaultRetryInterval = 250 * time.Millisecond
	writeWait            = 10 * time.Second
	maxMessageSize       = 16 << 20
)

const (
	opAppInfo  = "app_info"
	opZomeCall = "call_zome"
)

// Observer receives per-request and per-signal outcomes. metrics.Client implements it.
type Observer interface {
	ObserveRequest(op string, started time.Time, err error)
	ObserveSignal(kind string, dropped bool)
}

type Options struct {
	// Timeout bounds how long Dial keeps trying to reach the endpoint.
	Timeout time.Duration
	// CallTimeout applies to requests whose context carries no deadline.
	CallTimeout   time.Duration
	SignalBuffer  int
	RetryInterval time.Duration
	Header        http.Header
	Dialer        *websocket.Dialer
	Logger        *slog.Logger
	Observer      Observer
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultConnectTimeout
	}
	if o.CallTimeout < 0 {
		o.CallTimeout = 0
	}
	if o.SignalBuffer <= 0 {
		o.SignalBuffer = DefaultSignalBuffer
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = defaultRetryInterval
	}
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: o.Timeout,
		}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	return o
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(string, time.Time, error) {}
func (nopObserver) ObserveSignal(string, bool)              {}

type pendingResult struct {
	env wire.RawEnvelope
	err error
}

// Conn is a single connection to the conductor app interface.
type Conn struct {
	url         string
	ws          *websocket.Conn
	logger      *slog.Logger
	observer    Observer
	callTimeout time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan pendingResult

	signals chan Signal
	dropped atomic.Uint64

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	readDone  chan struct{}
}

// Dial opens the connection. Refused or failing dials are retried at a constant
// interval until opts.Timeout elapses; the returned error is a *ConnectionError.
func Dial(ctx context.Context, endpoint string, opts Options) (*Conn, error) {
	opts = opts.withDefaults()
	dialCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	var (
		ws      *websocket.Conn
		lastErr error
		tries   int
	)
	op := func() error {
		tries++
		c, resp, err := opts.Dialer.DialContext(dialCtx, endpoint, opts.Header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			lastErr = err
			if errors.Is(err, websocket.ErrBadHandshake) {
				return backoff.Permanent(err)
			}
			return err
		}
		ws = c
		return nil
	}
	policy := backoff.WithContext(backoff.NewConstantBackOff(opts.RetryInterval), dialCtx)
	if err := backoff.Retry(op, policy); err != nil {
		if lastErr == nil {
			lastErr = err
		}
		opts.Logger.Warn("conductor dial failed", "component", "conductor", "url", endpoint, "attempts", tries, "error", lastErr.Error())
		return nil, &ConnectionError{URL: endpoint, Timeout: opts.Timeout, Err: lastErr}
	}

	c := newConn(endpoint, ws, opts)
	opts.Logger.Info("conductor connected", "component", "conductor", "url", endpoint, "attempts", tries)
	return c, nil
}

func newConn(endpoint string, ws *websocket.Conn, opts Options) *Conn {
	c := &Conn{
		url:         endpoint,
		ws:          ws,
		logger:      opts.Logger,
		observer:    opts.Observer,
		callTimeout: opts.CallTimeout,
		pending:     make(map[uint64]chan pendingResult),
		signals:     make(chan Signal, opts.SignalBuffer),
		done:        make(chan struct{}),
		readDone:    make(chan struct{}),
	}
	ws.SetReadLimit(maxMessageSize)
	go c.readLoop()
	return c
}

func (c *Conn) URL() string { return c.url }

// Signals is closed once the connection is gone.
func (c *Conn) Signals() <-chan Signal { return c.signals }

// DroppedSignals counts signals discarded because the consumer fell behind.
func (c *Conn) DroppedSignals() uint64 { return c.dropped.Load() }

// Done is closed when the connection is shut down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended, if it has.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.closeErr
	default:
		return nil
	}
}

func (c *Conn) Close() error {
	c.shutdown(ErrClosed)
	c.writeMu.Lock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	err := c.ws.Close()
	<-c.readDone
	return err
}

func (c *Conn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.closeErr = cause
		close(c.done)
	})
}

func (c *Conn) readLoop() {
	defer close(c.readDone)
	defer close(c.signals)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("conductor connection lost", "component", "conductor", "url", c.url, "error", err.Error())
				c.shutdown(fmt.Errorf("%w: %v", ErrClosed, err))
			}
			return
		}
		var msg wire.Message
		if err := wire.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("conductor frame dropped", "component", "conductor", "error", err.Error())
			continue
		}
		switch msg.Type {
		case wire.TypeResponse:
			c.deliver(msg)
		case wire.TypeSignal:
			c.dispatchSignal(msg.Data)
		default:
			c.logger.Debug("conductor frame ignored", "component", "conductor", "type", msg.Type)
		}
	}
}

func (c *Conn) deliver(msg wire.Message) {
	c.mu.Lock()
	ch, ok := c.pending[msg.ID]
	delete(c.pending, msg.ID)
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("conductor response without request", "component", "conductor", "request_id", msg.ID)
		return
	}
	var env wire.RawEnvelope
	if err := wire.Unmarshal(msg.Data, &env); err != nil {
		ch <- pendingResult{err: &DecodeError{What: "response envelope", Err: err}}
		return
	}
	ch <- pendingResult{env: env}
}

func (c *Conn) dispatchSignal(data []byte) {
	sig, err := decodeSignal(data)
	if err != nil {
		c.logger.Warn("conductor signal dropped", "component", "conductor", "error", err.Error())
		return
	}
	select {
	case c.signals <- sig:
		c.observer.ObserveSignal(sig.Kind, false)
		return
	default:
	}
	// Consumer is behind: drop the oldest queued signal to make room.
	select {
	case <-c.signals:
	default:
	}
	select {
	case c.signals <- sig:
	default:
	}
	c.dropped.Add(1)
	c.observer.ObserveSignal(sig.Kind, true)
}

func decodeSignal(data []byte) (Signal, error) {
	var env wire.SignalEnvelope
	if err := wire.Unmarshal(data, &env); err != nil {
		return Signal{}, &DecodeError{What: "signal", Err: err}
	}
	sig := Signal{ReceivedAt: time.Now().UTC()}
	switch {
	case env.App != nil:
		if err := env.App.CellID.Validate(); err != nil {
			return Signal{}, &DecodeError{What: "signal cell id", Err: err}
		}
		cell := env.App.CellID
		sig.Kind = SignalApp
		sig.CellID = &cell
		if len(env.App.Payload) > 0 {
			if err := wire.Unmarshal(env.App.Payload, &sig.Payload); err != nil {
				return Signal{}, &DecodeError{What: "signal payload", Err: err}
			}
		}
	case env.System != nil:
		sig.Kind = SignalSystem
		sig.Payload = env.System
	default:
		return Signal{}, &DecodeError{What: "signal", Err: errors.New("unknown signal variant")}
	}
	return sig, nil
}

func (c *Conn) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.BinaryMessage, frame)
}

// request sends body as a Request and suspends until the matching Response, the
// context deadline, or the end of the connection.
func (c *Conn) request(ctx context.Context, op string, body wire.Envelope) (wire.RawEnvelope, error) {
	timeout := time.Duration(0)
	if _, ok := ctx.Deadline(); !ok && c.callTimeout > 0 {
		timeout = c.callTimeout
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case <-c.done:
		return wire.RawEnvelope{}, c.closeErr
	default:
	}

	ch := make(chan pendingResult, 1)
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	frame, err := wire.Frame(wire.TypeRequest, id, body)
	if err != nil {
		return wire.RawEnvelope{}, fmt.Errorf("conductor: encode %s request: %w", op, err)
	}
	if err := c.write(frame); err != nil {
		return wire.RawEnvelope{}, &ConnectionError{URL: c.url, Err: err}
	}
	c.logger.Debug("conductor request sent", "component", "conductor", "operation", op, "request_id", id)

	select {
	case res := <-ch:
		return res.env, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return wire.RawEnvelope{}, &TimeoutError{Op: op, After: timeout}
		}
		return wire.RawEnvelope{}, ctx.Err()
	case <-c.done:
		return wire.RawEnvelope{}, c.closeErr
	}
}

func remoteError(op string, env wire.RawEnvelope) error {
	var payload wire.ErrorPayload
	if err := wire.Unmarshal(env.Data, &payload); err != nil {
		return &DecodeError{What: op + " error payload", Err: err}
	}
	return &RemoteError{Op: op, Type: payload.Type, Data: payload.Data}
}
