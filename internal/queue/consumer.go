package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "os"
    "path/filepath"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "go.uber.org/zap"
)

const maxBackoff = 30 * time.Second

// Consumer records chat.turn.completed events as single lines in a log
// file (logs/chat_turns.log by default).
type Consumer struct {
    URL     string
    LogPath string
    Log     *zap.Logger

    mu sync.Mutex
}

// Run consumes until ctx is cancelled, reconnecting with exponential
// back-off whenever the broker connection is lost.
func (c *Consumer) Run(ctx context.Context) error {
    log := c.logger()
    backoff := time.Second
    for {
        conn, err := amqp.Dial(c.URL)
        if err != nil {
            log.Warn("dial broker failed", zap.Error(err), zap.Duration("retry_in", backoff))
            if !sleep(ctx, backoff) {
                return ctx.Err()
            }
            backoff = nextBackoff(backoff)
            continue
        }
        backoff = time.Second

        err = c.consume(ctx, conn)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        log.Warn("consume loop ended, reconnecting", zap.Error(err))
        if !sleep(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        c.logger().Warn("set qos failed", zap.Error(err))
    }
    if _, err := ch.QueueDeclare(TurnCompletedQueue, true, false, false, false, nil); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }
    msgs, err := ch.ConsumeWithContext(ctx, TurnCompletedQueue, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }

    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case d, ok := <-msgs:
            if !ok {
                return errors.New("deliveries channel closed")
            }
            if err := c.Handle(d.Body); err != nil {
                c.logger().Error("handle event failed", zap.Error(err))
                _ = d.Nack(false, false) // no requeue, a bad message would loop forever
                continue
            }
            _ = d.Ack(false)
        }
    }
}

// Handle decodes one message body and appends it to the log file.
func (c *Consumer) Handle(body []byte) error {
    var ev TurnCompletedEvent
    if err := json.Unmarshal(body, &ev); err != nil {
        return fmt.Errorf("unmarshal: %w", err)
    }
    if ev.PatientID == "" || ev.AssistantMessageID == "" {
        return errors.New("event without patient or message id")
    }

    path := c.LogPath
    if path == "" {
        path = filepath.Join("logs", "chat_turns.log")
    }
    c.mu.Lock()
    defer c.mu.Unlock()
    if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
        return fmt.Errorf("mkdir logs: %w", err)
    }
    f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
    if err != nil {
        return fmt.Errorf("open log file: %w", err)
    }
    defer f.Close()
    return WriteLine(f, ev)
}

// WriteLine renders ev as one human readable line.
func WriteLine(w io.Writer, ev TurnCompletedEvent) error {
    kind := "reply"
    if ev.Emergency {
        kind = "EMERGENCY"
    }
    _, err := fmt.Fprintf(w, "[%s] Chat turn completed (%s) | patient_id=%s | user_id=%s | user_message_id=%s | assistant_message_id=%s | mode=%s | generator=%s | chars=%d | duration=%dms\n",
        ev.CompletedAt, kind, ev.PatientID, ev.UserID, ev.UserMessageID, ev.AssistantMessageID, ev.Mode, ev.Generator, ev.ResponseChars, ev.DurationMs)
    if err != nil {
        return fmt.Errorf("write log: %w", err)
    }
    return nil
}

func (c *Consumer) logger() *zap.Logger {
    if c.Log == nil {
        return zap.NewNop()
    }
    return c.Log
}

func nextBackoff(d time.Duration) time.Duration {
    d *= 2
    if d > maxBackoff {
        return maxBackoff
    }
    return d
}

// sleep waits for d and reports false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}
