package data

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"DualLane/internal/conf"
	"DualLane/internal/model"
	"DualLane/pkg/httpclient"
	pkglog "DualLane/pkg/log"
	"DualLane/pkg/reliability"

	"github.com/go-kratos/kratos/v2/log"
)

const defaultDirectTimeout = 15 * time.Second

// directRequest is the wire form sent to the provider endpoint.
type directRequest struct {
	Payload       string `json:"payload"`
	CorrelationID string `json:"correlation_id"`
}

// directResponse is the provider's reply.
type directResponse struct {
	Data  string `json:"data"`
	Error string `json:"error,omitempty"`
}

// DirectHTTPTransport implements biz.DirectTransport: a synchronous HTTP
// call to the provider endpoint, optionally through a proxy.
type DirectHTTPTransport struct {
	endpoint string
	proxyURL string
	timeout  time.Duration

	// client is swapped atomically by Reconnect while requests are in flight.
	client atomic.Pointer[http.Client]

	pending atomic.Int64
	logger  *pkglog.LogHelper
}

// NewDirectTransport creates the direct path transport.
func NewDirectTransport(c *conf.Transport, logger log.Logger) (*DirectHTTPTransport, error) {
	if c == nil || c.Direct == nil || c.Direct.Endpoint == "" {
		return nil, fmt.Errorf("direct transport endpoint is required")
	}

	timeout := c.Direct.Timeout.AsDuration()
	if timeout <= 0 {
		timeout = defaultDirectTimeout
	}

	client, err := httpclient.New(c.Direct.ProxyUrl, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create direct transport client: %w", err)
	}

	t := &DirectHTTPTransport{
		endpoint: c.Direct.Endpoint,
		proxyURL: c.Direct.ProxyUrl,
		timeout:  timeout,
		logger:   pkglog.NewLogHelper(logger),
	}
	t.client.Store(client)
	return t, nil
}

// RouteRequest posts the payload to the provider endpoint. HTTP 429 and 5xx
// responses are retryable; other non-2xx responses are terminal.
func (t *DirectHTTPTransport) RouteRequest(ctx context.Context, payload, correlationID string) (*model.TransportResult, error) {
	t.pending.Add(1)
	defer t.pending.Add(-1)

	body, err := json.Marshal(directRequest{Payload: payload, CorrelationID: correlationID})
	if err != nil {
		return nil, &reliability.TerminalOperationError{Reason: "failed to encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &reliability.TerminalOperationError{Reason: "failed to build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-ID", correlationID)

	resp, err := t.client.Load().Do(req)
	if err != nil {
		// Network-level failures (refused, reset, timeout) are worth a retry.
		return nil, &reliability.RetryableOperationError{Reason: "direct request failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &reliability.RetryableOperationError{Reason: "failed to read response", Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out directResponse
		if err := json.Unmarshal(respBody, &out); err != nil {
			return nil, &reliability.TerminalOperationError{Reason: "malformed provider response", Err: err}
		}
		return &model.TransportResult{Success: true, Data: out.Data, CorrelationID: correlationID}, nil

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &reliability.RetryableOperationError{
			Reason: fmt.Sprintf("provider returned status %d", resp.StatusCode),
		}

	default:
		return nil, &reliability.TerminalOperationError{
			Reason: fmt.Sprintf("provider rejected request with status %d", resp.StatusCode),
		}
	}
}

// GetHealthStatus probes the provider's health endpoint.
func (t *DirectHTTPTransport) GetHealthStatus(ctx context.Context) model.HealthStatus {
	status := model.HealthStatus{PendingOperations: t.pending.Load()}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint+"/health", nil)
	if err != nil {
		return status
	}
	resp, err := t.client.Load().Do(req)
	if err != nil {
		t.logger.Transport("direct health probe failed", "error", err)
		return status
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<10))

	status.IsHealthy = resp.StatusCode >= 200 && resp.StatusCode < 300
	return status
}

// Reconnect rebuilds the HTTP client, dropping any pooled connections that
// may be stuck on a dead proxy or peer.
func (t *DirectHTTPTransport) Reconnect(ctx context.Context) error {
	client, err := httpclient.New(t.proxyURL, t.timeout)
	if err != nil {
		return fmt.Errorf("failed to rebuild direct transport client: %w", err)
	}
	old := t.client.Swap(client)
	if old != nil {
		if tr, ok := old.Transport.(*http.Transport); ok && tr != nil {
			tr.CloseIdleConnections()
		}
	}
	t.logger.Info("direct transport reconnected")
	return nil
}
