package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// QueueGenerator hands requests to a worker through Redis lists: the
// request is LPUSHed to the request queue and the reply is awaited with
// BRPOP on a list named after the request id.
type QueueGenerator struct {
	rdb            *redis.Client
	requestQueue   string
	responsePrefix string
	timeout        time.Duration
	logger         *zap.Logger
}

type queueRequest struct {
	RequestID string `json:"request_id"`
	Request
}

type queueResponse struct {
	RequestID string `json:"request_id"`
	Response
	Error string `json:"error,omitempty"`
}

func NewQueue(rdb *redis.Client, requestQueue, responsePrefix string, timeout time.Duration, logger *zap.Logger) *QueueGenerator {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &QueueGenerator{
		rdb:            rdb,
		requestQueue:   requestQueue,
		responsePrefix: responsePrefix,
		timeout:        timeout,
		logger:         logger,
	}
}

func (g *QueueGenerator) Name() string { return "queue" }

func (g *QueueGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	if req.ChatHistory == nil {
		req.ChatHistory = []HistoryItem{}
	}
	id := uuid.NewString()
	payload, err := json.Marshal(queueRequest{RequestID: id, Request: req})
	if err != nil {
		return nil, err
	}
	if err := g.rdb.LPush(ctx, g.requestQueue, payload).Err(); err != nil {
		g.logger.Error("enqueue AI request failed", zap.String("request_id", id), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	key := g.responsePrefix + id
	res, err := g.rdb.BRPop(ctx, g.timeout, key).Result()
	if errors.Is(err, redis.Nil) {
		g.logger.Warn("AI request timed out in queue", zap.String("request_id", id))
		return nil, fmt.Errorf("%w: no reply for %s within %s", ErrTimeout, id, g.timeout)
	}
	if err != nil {
		return nil, classifyTransport(err)
	}
	// the worker also sets a TTL; deleting right away keeps the keyspace small
	_ = g.rdb.Del(context.WithoutCancel(ctx), key).Err()

	if len(res) != 2 {
		return nil, &RemoteError{Detail: "unexpected queue reply"}
	}
	var out queueResponse
	if err := json.Unmarshal([]byte(res[1]), &out); err != nil {
		return nil, &RemoteError{Detail: fmt.Sprintf("malformed reply: %v", err)}
	}
	if out.Error != "" {
		return nil, &RemoteError{Detail: out.Error}
	}
	if out.Response.Response == "" {
		return nil, &RemoteError{Detail: "empty response"}
	}
	resp := out.Response
	return &resp, nil
}

// Health pings Redis; the worker itself has no probe.
func (g *QueueGenerator) Health(ctx context.Context) error {
	if err := g.rdb.Ping(ctx).Err(); err != nil {
		return classifyTransport(err)
	}
	return nil
}
