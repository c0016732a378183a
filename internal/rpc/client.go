package rpc

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/http2"

	"forkbench/internal/stats"
)

// DefaultPort is used for endpoints given without a port.
const DefaultPort = "21212"

var ErrNotConnected = errors.New("client not connected")

type ClientConfig struct {
	Endpoints []string
	// QueueSize bounds the calls handed to the transport at once.
	QueueSize int
	Timeout   time.Duration
	// HTTPClient overrides the default h2c client.
	HTTPClient *http.Client
}

type endpoint struct {
	name     string
	base     string
	counters stats.Counters
}

// HTTPClient calls procedures as JSON over HTTP/2 cleartext, spreading calls
// round-robin over every endpoint that answered the health check.
type HTTPClient struct {
	cfg    ClientConfig
	http   *http.Client
	slots  chan struct{}
	tracer trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.RWMutex
	live []*endpoint
	next atomic.Uint64
}

func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 50 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = defaultHTTPClient()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &HTTPClient{
		cfg:    cfg,
		http:   hc,
		slots:  make(chan struct{}, cfg.QueueSize),
		tracer: otel.Tracer("forkbench/rpc"),
		ctx:    ctx,
		cancel: cancel,
	}
}

func defaultHTTPClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	tr := &http2.Transport{
		AllowHTTP: true,
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
		ReadIdleTimeout: 30 * time.Second,
		PingTimeout:     10 * time.Second,
	}
	// per-call contexts carry the query timeout
	return &http.Client{Transport: tr}
}

// NormalizeEndpoint turns "host", "host:port" or a URL into a base URL.
func NormalizeEndpoint(ep string) string {
	ep = strings.TrimRight(strings.TrimSpace(ep), "/")
	if strings.Contains(ep, "://") {
		return ep
	}
	if _, _, err := net.SplitHostPort(ep); err != nil {
		ep = net.JoinHostPort(ep, DefaultPort)
	}
	return "http://" + ep
}

// Connect health-checks every endpoint and keeps the ones that answer.
func (c *HTTPClient) Connect(ctx context.Context) error {
	if len(c.cfg.Endpoints) == 0 {
		return &ConnectionError{Err: errors.New("no endpoints configured")}
	}

	var live []*endpoint
	var errs []error
	for _, ep := range c.cfg.Endpoints {
		base := NormalizeEndpoint(ep)
		if err := c.ping(ctx, base); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ep, err))
			continue
		}
		live = append(live, &endpoint{name: ep, base: base})
	}
	if len(live) == 0 {
		return &ConnectionError{Endpoints: c.cfg.Endpoints, Err: errors.Join(errs...)}
	}

	c.mu.Lock()
	c.live = live
	c.mu.Unlock()
	return nil
}

func (c *HTTPClient) ping(ctx context.Context, base string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+HealthPath, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check status %d", resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) pick() *endpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.live) == 0 {
		return nil
	}
	n := c.next.Add(1) - 1
	return c.live[n%uint64(len(c.live))]
}

// Call implements Caller. It never blocks the caller.
func (c *HTTPClient) Call(proc string, params []any, onComplete CompleteFunc, onAccepted AcceptFunc) {
	id := uuid.NewString()
	ep := c.pick()
	if ep == nil {
		go func() {
			onAccepted()
			onComplete(Result{}, &CallError{Procedure: proc, CallID: id, Err: ErrNotConnected})
		}()
		return
	}

	go func() {
		select {
		case c.slots <- struct{}{}:
		case <-c.ctx.Done():
			onAccepted()
			onComplete(Result{}, &CallError{Procedure: proc, CallID: id, Err: c.ctx.Err()})
			return
		}
		onAccepted()

		start := time.Now()
		res, err := c.do(ep, id, proc, params)
		ep.counters.Add(err == nil, time.Since(start))
		<-c.slots

		onComplete(res, err)
	}()
}

func (c *HTTPClient) do(ep *endpoint, id, proc string, params []any) (Result, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.Timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, proc,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rpc.method", proc),
			attribute.String("rpc.endpoint", ep.name),
			attribute.String("rpc.call_id", id),
		),
	)
	defer span.End()

	res, err := c.post(ctx, ep, id, proc, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (c *HTTPClient) post(ctx context.Context, ep *endpoint, id, proc string, params []any) (Result, error) {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(CallRequest{ID: id, Procedure: proc, Params: params})
	if err != nil {
		return Result{}, &CallError{Procedure: proc, CallID: id, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.base+CallPathPrefix+proc, bytes.NewReader(body))
	if err != nil {
		return Result{}, &CallError{Procedure: proc, CallID: id, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(CallIDHeader, id)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, &CallError{Procedure: proc, CallID: id, Err: err}
	}
	defer resp.Body.Close()

	var out CallResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, &CallError{Procedure: proc, CallID: id, Err: fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)}
	}
	if out.Status != StatusOK {
		return Result{}, &CallError{Procedure: proc, CallID: id, Status: out.Status, Message: out.Error}
	}
	return Result{CallID: id, Rows: out.Rows}, nil
}

// Stats returns per-endpoint totals for the connected endpoints.
func (c *HTTPClient) Stats() []EndpointStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]EndpointStats, 0, len(c.live))
	for _, ep := range c.live {
		out = append(out, EndpointStats{
			Endpoint:    ep.name,
			Calls:       ep.counters.Calls.Load(),
			Errors:      ep.counters.Fail.Load(),
			MeanLatency: ep.counters.MeanLatency(),
		})
	}
	return out
}

// Close cancels calls that are still waiting for a send slot.
func (c *HTTPClient) Close() error {
	c.cancel()
	c.http.CloseIdleConnections()
	return nil
}
