// Package stream implements the streaming chat client: it connects to a
// provider, retries with exponential backoff, and incrementally decodes the
// dialect's line protocol into model text.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/netoneko/meow/internal/llm"
	"github.com/netoneko/meow/internal/llm/providers/ollama"
	"github.com/netoneko/meow/internal/llm/providers/openai"
)

// Dialer opens transport connections.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Recorder receives stream telemetry.
type Recorder interface {
	RecordStreamAttempt(provider, outcome string)
	RecordTimeToFirstToken(provider string, d time.Duration)
}

// Options tunes retry and read behaviour.
type Options struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	IdleTimeout    time.Duration // longest silence tolerated while reading
	TickInterval   time.Duration // cadence of the OnTick hook
	ChunkSize      int
	MaxTokens      int
	TLSConfig      *tls.Config
	UserAgent      string
}

// DefaultOptions returns the stock retry policy: 10 attempts, 500ms initial
// backoff doubling per retry.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:    10,
		InitialBackoff: 500 * time.Millisecond,
		IdleTimeout:    60 * time.Second,
		TickInterval:   100 * time.Millisecond,
		ChunkSize:      4096,
		MaxTokens:      4096,
		UserAgent:      "meow",
	}
}

// Hooks are side-channel notifications for presentation layers.
type Hooks struct {
	OnStatus func(phase string, elapsed time.Duration)
	OnDelta  func(text string)
	OnTick   func()
}

// Request is one streamed completion call.
type Request struct {
	Model        string
	Provider     llm.Provider
	Messages     []llm.ChatMessage
	Continuation bool
	Hooks        Hooks
}

// Client streams chat completions.
type Client struct {
	opts    Options
	dialer  Dialer
	logger  *zap.Logger
	metrics Recorder

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewClient builds a client. A nil dialer uses net.Dialer with a 30s connect
// timeout.
func NewClient(opts Options, dialer Dialer, logger *zap.Logger) *Client {
	def := DefaultOptions()
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = def.InitialBackoff
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = def.IdleTimeout
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = def.TickInterval
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = def.ChunkSize
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = def.MaxTokens
	}
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}
	if dialer == nil {
		dialer = &net.Dialer{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		opts:   opts,
		dialer: dialer,
		logger: logger,
		sleep:  sleepContext,
		now:    time.Now,
	}
}

// SetRecorder attaches a telemetry recorder.
func (c *Client) SetRecorder(r Recorder) {
	c.metrics = r
}

// Send streams one completion, retrying transient failures. A transport that
// closes before the completion signal yields an outcome with Complete=false.
// Cancellation of ctx aborts immediately with KindCancelled.
func (c *Client) Send(ctx context.Context, req Request) (llm.StreamOutcome, error) {
	start := c.now()
	endpoint, secure, err := req.Provider.Endpoint()
	if err != nil {
		return llm.StreamOutcome{}, llm.NewError(llm.KindConnectionFailed, "endpoint", err)
	}
	wire, err := c.buildRequest(req, endpoint)
	if err != nil {
		return llm.StreamOutcome{}, llm.NewError(llm.KindWriteFailed, "build request", err)
	}

	log := c.logger.With(
		zap.String("provider", req.Provider.Name),
		zap.String("model", req.Model),
		zap.Bool("continuation", req.Continuation),
	)

	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return llm.StreamOutcome{}, cancelled(ctx)
		}
		if attempt > 1 {
			delay := c.backoff(attempt)
			req.Hooks.status(fmt.Sprintf("retrying in %s (attempt %d/%d)", delay, attempt, c.opts.MaxAttempts), c.now().Sub(start))
			log.Warn("stream attempt failed, backing off",
				zap.Int("attempt", attempt-1),
				zap.Duration("delay", delay),
				zap.String("kind", string(llm.KindOf(lastErr))),
				zap.Error(lastErr),
			)
			if err := c.sleep(ctx, delay); err != nil {
				return llm.StreamOutcome{}, cancelled(ctx)
			}
		}

		outcome, err := c.attempt(ctx, req, wire, endpoint, secure, start)
		if err == nil {
			c.record(req.Provider.Name, outcome)
			log.Debug("stream finished",
				zap.Bool("complete", outcome.Complete),
				zap.Int("bytes", outcome.Stats.Bytes),
				zap.Duration("ttft", outcome.Stats.TimeToFirstToken),
			)
			return outcome, nil
		}
		if c.metrics != nil {
			c.metrics.RecordStreamAttempt(req.Provider.Name, string(llm.KindOf(err)))
		}
		if llm.KindOf(err) == llm.KindCancelled || ctx.Err() != nil {
			return llm.StreamOutcome{}, cancelled(ctx)
		}
		if !llm.IsRetryable(err) {
			return llm.StreamOutcome{}, err
		}
		lastErr = err
	}

	log.Error("stream failed after retries", zap.Int("attempts", c.opts.MaxAttempts), zap.Error(lastErr))
	return llm.StreamOutcome{}, lastErr
}

// backoff returns the wait before the given attempt (attempt >= 2).
func (c *Client) backoff(attempt int) time.Duration {
	return c.opts.InitialBackoff << uint(attempt-2)
}

func (c *Client) record(provider string, outcome llm.StreamOutcome) {
	if c.metrics == nil {
		return
	}
	result := "complete"
	if !outcome.Complete {
		result = "partial"
	}
	c.metrics.RecordStreamAttempt(provider, result)
	if outcome.Stats.TimeToFirstToken > 0 {
		c.metrics.RecordTimeToFirstToken(provider, outcome.Stats.TimeToFirstToken)
	}
}

func (c *Client) buildRequest(req Request, endpoint *url.URL) (llm.WireRequest, error) {
	maxTokens := req.Provider.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.opts.MaxTokens
	}
	switch req.Provider.Dialect {
	case llm.DialectOllama:
		return ollama.BuildRequest(req.Model, req.Messages, maxTokens)
	case llm.DialectOpenAI:
		return openai.BuildRequest(req.Provider, endpoint.Path, req.Model, req.Messages, maxTokens)
	default:
		return llm.WireRequest{}, fmt.Errorf("unsupported dialect %q", req.Provider.Dialect)
	}
}

// attempt performs one connect/write/read cycle.
func (c *Client) attempt(ctx context.Context, req Request, wire llm.WireRequest, endpoint *url.URL, secure bool, start time.Time) (llm.StreamOutcome, error) {
	req.Hooks.status("connecting", c.now().Sub(start))
	conn, err := c.connect(ctx, endpoint, secure)
	if err != nil {
		return llm.StreamOutcome{}, err
	}
	defer conn.Close()
	// Closing the connection is what unblocks an in-flight read on cancel.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := c.write(conn, endpoint, wire); err != nil {
		if ctx.Err() != nil {
			return llm.StreamOutcome{}, cancelled(ctx)
		}
		return llm.StreamOutcome{}, llm.NewError(llm.KindWriteFailed, "write request", err)
	}

	phase := "waiting for response"
	if req.Continuation {
		phase = "continuing"
	}
	req.Hooks.status(phase, c.now().Sub(start))
	return c.read(ctx, conn, req, start)
}

func (c *Client) connect(ctx context.Context, endpoint *url.URL, secure bool) (net.Conn, error) {
	port := endpoint.Port()
	if port == "" {
		port = "80"
		if secure {
			port = "443"
		}
	}
	addr := net.JoinHostPort(endpoint.Hostname(), port)

	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}
		return nil, llm.NewError(llm.KindConnectionFailed, "dial "+addr, err)
	}
	if !secure {
		return conn, nil
	}

	cfg := &tls.Config{}
	if c.opts.TLSConfig != nil {
		cfg = c.opts.TLSConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = endpoint.Hostname()
	}
	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}
		return nil, llm.NewError(llm.KindTLSFailed, "handshake "+addr, err)
	}
	return tlsConn, nil
}

func (c *Client) write(conn net.Conn, endpoint *url.URL, wire llm.WireRequest) error {
	target := *endpoint
	target.Path = wire.Path
	target.RawPath = ""

	httpReq, err := http.NewRequest(http.MethodPost, target.String(), bytes.NewReader(wire.Body))
	if err != nil {
		return err
	}
	httpReq.Header = wire.Header.Clone()
	httpReq.Header.Set("User-Agent", c.opts.UserAgent)
	httpReq.Close = true
	httpReq.ContentLength = int64(len(wire.Body))

	_ = conn.SetWriteDeadline(c.now().Add(c.opts.IdleTimeout))
	defer conn.SetWriteDeadline(time.Time{}) //nolint:errcheck // best-effort
	return httpReq.Write(conn)
}

// chunk is one event from the body pump.
type chunk struct {
	data []byte
	err  error
	eof  bool
	body bool // err happened after the response headers were read
}

// read consumes the response until the completion signal, end of transport,
// idle timeout or cancellation.
func (c *Client) read(ctx context.Context, conn net.Conn, req Request, start time.Time) (llm.StreamOutcome, error) {
	done := make(chan struct{})
	defer close(done)
	chunks := make(chan chunk, 4)
	go c.pump(conn, chunks, done)

	sent := c.now()
	dec := newLineDecoder(req.Provider.Dialect, sent, c.now, req.Hooks.OnDelta)

	ticker := time.NewTicker(c.opts.TickInterval)
	defer ticker.Stop()
	idle := time.NewTimer(c.opts.IdleTimeout)
	defer idle.Stop()

	streaming := false
	for {
		select {
		case <-ctx.Done():
			return llm.StreamOutcome{}, cancelled(ctx)
		case <-ticker.C:
			req.Hooks.tick()
		case <-idle.C:
			return llm.StreamOutcome{}, llm.Errorf(llm.KindTimeout, "read", "no data for %s", c.opts.IdleTimeout)
		case ch := <-chunks:
			switch {
			case ch.err != nil && ctx.Err() != nil:
				return llm.StreamOutcome{}, cancelled(ctx)
			case ch.err != nil && (!ch.body || dec.bytes == 0):
				if llm.KindOf(ch.err) != "" {
					return llm.StreamOutcome{}, ch.err
				}
				return llm.StreamOutcome{}, llm.NewError(llm.KindConnectionFailed, "read response", ch.err)
			case ch.err != nil || ch.eof:
				if ch.err != nil {
					c.logger.Debug("transport ended mid-stream", zap.Error(ch.err))
				}
				if _, err := dec.finish(); err != nil {
					return llm.StreamOutcome{}, err
				}
				return dec.outcome(), nil
			}

			if !streaming {
				streaming = true
				req.Hooks.status("streaming", c.now().Sub(start))
			}
			idle.Reset(c.opts.IdleTimeout)
			complete, err := dec.feed(ch.data)
			if err != nil {
				return llm.StreamOutcome{}, err
			}
			if complete {
				return dec.outcome(), nil
			}
		}
	}
}

// pump reads the response head and then the body in bounded chunks,
// forwarding them until EOF, error, or done is closed.
func (c *Client) pump(conn net.Conn, out chan<- chunk, done <-chan struct{}) {
	send := func(ch chunk) bool {
		select {
		case out <- ch:
			return true
		case <-done:
			return false
		}
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		send(chunk{err: err})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		send(chunk{err: llm.Errorf(llm.KindServerError, "response", "status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))})
		return
	}

	for {
		buf := make([]byte, c.opts.ChunkSize)
		n, err := resp.Body.Read(buf)
		if n > 0 && !send(chunk{data: buf[:n]}) {
			return
		}
		if errors.Is(err, io.EOF) {
			send(chunk{eof: true})
			return
		}
		if err != nil {
			send(chunk{err: err, body: true})
			return
		}
	}
}

func (h Hooks) status(phase string, elapsed time.Duration) {
	if h.OnStatus != nil {
		h.OnStatus(phase, elapsed)
	}
}

func (h Hooks) tick() {
	if h.OnTick != nil {
		h.OnTick()
	}
}

func cancelled(ctx context.Context) error {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = context.Canceled
	}
	return llm.NewError(llm.KindCancelled, "stream", cause)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
