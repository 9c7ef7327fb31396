package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"DualLane/internal/conf"
	"DualLane/internal/model"
	pkglog "DualLane/pkg/log"
	"DualLane/pkg/reliability"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	// brokerRequestQueue is the list brokered workers consume from.
	brokerRequestQueue = "duallane:broker:requests"
	// brokerReplyPrefix keys the per-request reply list.
	brokerReplyPrefix = "duallane:broker:reply:"

	defaultReplyTimeout = 30 * time.Second
	defaultMaxQueueSize = 1000
)

// brokerEnvelope is the wire form pushed onto the request queue.
type brokerEnvelope struct {
	Payload       string `json:"payload"`
	CorrelationID string `json:"correlation_id"`
	ReplyQueue    string `json:"reply_queue"`
	EnqueuedAt    int64  `json:"enqueued_at"`
}

// brokerReply is what a worker pushes onto the reply queue.
type brokerReply struct {
	Data  string `json:"data"`
	Error string `json:"error,omitempty"`
}

// BrokerQueueTransport implements biz.BrokerTransport over a Redis list
// queue: requests are LPUSHed to a shared queue and the reply is awaited on
// a per-correlation-ID list with BRPOP.
type BrokerQueueTransport struct {
	rdb          *redis.Client
	replyTimeout time.Duration
	maxQueueSize int64
	logger       *pkglog.LogHelper
}

// NewBrokerTransport creates the broker path transport. A nil Redis client
// is tolerated: the transport reports unhealthy and refuses requests with a
// retryable error, which steers the router to the direct path.
func NewBrokerTransport(c *conf.Transport, d *Data, logger log.Logger) *BrokerQueueTransport {
	var rdb *redis.Client
	if d != nil {
		rdb = d.GetRedisClient()
	}
	replyTimeout := defaultReplyTimeout
	maxQueueSize := int64(defaultMaxQueueSize)
	if c != nil && c.Broker != nil {
		if rt := c.Broker.ReplyTimeout.AsDuration(); rt > 0 {
			replyTimeout = rt
		}
		if c.Broker.MaxQueueSize > 0 {
			maxQueueSize = int64(c.Broker.MaxQueueSize)
		}
	}

	return &BrokerQueueTransport{
		rdb:          rdb,
		replyTimeout: replyTimeout,
		maxQueueSize: maxQueueSize,
		logger:       pkglog.NewLogHelper(logger),
	}
}

// RouteRequest enqueues the payload and blocks for the worker's reply.
func (t *BrokerQueueTransport) RouteRequest(ctx context.Context, payload, correlationID string) (*model.TransportResult, error) {
	if t.rdb == nil {
		return nil, &reliability.RetryableOperationError{Reason: "broker queue unavailable"}
	}

	replyQueue := brokerReplyPrefix + correlationID
	envelope, err := json.Marshal(brokerEnvelope{
		Payload:       payload,
		CorrelationID: correlationID,
		ReplyQueue:    replyQueue,
		EnqueuedAt:    time.Now().UnixMilli(),
	})
	if err != nil {
		return nil, &reliability.TerminalOperationError{Reason: "failed to encode broker envelope", Err: err}
	}

	// Refuse to grow the queue past its configured bound.
	depth, err := t.rdb.LLen(ctx, brokerRequestQueue).Result()
	if err != nil {
		return nil, &reliability.RetryableOperationError{Reason: "failed to check broker queue depth", Err: err}
	}
	if depth >= t.maxQueueSize {
		return nil, &reliability.RetryableOperationError{
			Reason: fmt.Sprintf("broker queue full (%d waiting)", depth),
		}
	}

	if err := t.rdb.LPush(ctx, brokerRequestQueue, envelope).Err(); err != nil {
		return nil, &reliability.RetryableOperationError{Reason: "failed to enqueue broker request", Err: err}
	}

	values, err := t.rdb.BRPop(ctx, t.replyTimeout, replyQueue).Result()
	if err != nil {
		// Clean up the reply key so abandoned requests do not accumulate.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = t.rdb.Del(cleanupCtx, replyQueue).Err()

		if err == redis.Nil {
			return nil, &reliability.RetryableOperationError{
				Reason: fmt.Sprintf("no broker reply within %s", t.replyTimeout),
			}
		}
		return nil, &reliability.RetryableOperationError{Reason: "failed to await broker reply", Err: err}
	}

	// BRPop returns [key, value].
	if len(values) != 2 {
		return nil, &reliability.RetryableOperationError{Reason: "malformed broker reply"}
	}
	var reply brokerReply
	if err := json.Unmarshal([]byte(values[1]), &reply); err != nil {
		return nil, &reliability.TerminalOperationError{Reason: "malformed broker reply", Err: err}
	}
	if reply.Error != "" {
		return nil, &reliability.TerminalOperationError{Reason: reply.Error}
	}

	return &model.TransportResult{Success: true, Data: reply.Data, CorrelationID: correlationID}, nil
}

// GetHealthStatus pings the broker and reports the request queue depth. A
// queue at or beyond its configured bound counts as unhealthy even when
// Redis itself responds.
func (t *BrokerQueueTransport) GetHealthStatus(ctx context.Context) model.HealthStatus {
	status := model.HealthStatus{}
	if t.rdb == nil {
		return status
	}

	if err := t.rdb.Ping(ctx).Err(); err != nil {
		t.logger.Transport("broker health probe failed", "error", err)
		return status
	}

	depth, err := t.rdb.LLen(ctx, brokerRequestQueue).Result()
	if err != nil {
		return status
	}
	status.QueueSize = depth
	status.IsHealthy = depth < t.maxQueueSize
	return status
}

// Reconnect verifies the connection is usable again. go-redis re-dials
// internally, so a successful ping is all a reconnect needs.
func (t *BrokerQueueTransport) Reconnect(ctx context.Context) error {
	if t.rdb == nil {
		return fmt.Errorf("broker queue is not configured")
	}
	if err := t.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("broker still unreachable: %w", err)
	}
	t.logger.Info("broker transport reconnected")
	return nil
}
