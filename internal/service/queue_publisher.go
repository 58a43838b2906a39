// Package service publishes domain events to RabbitMQ.  Errors are logged
// and returned so callers can ignore failures without interrupting the
// request that produced the event.
package service

import (
    "context"
    "encoding/json"
    "net"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "go.uber.org/zap"

    "github.com/iliyamo/dental-clinic-admin/internal/queue"
)

// Publisher sends chat.turn.completed events.  It opens a connection per
// event; turns are slow compared to a dial, and a broker outage never
// leaves a stale connection behind.
type Publisher struct {
    url string
    log *zap.Logger
}

func NewPublisher(url string, log *zap.Logger) *Publisher {
    if log == nil {
        log = zap.NewNop()
    }
    return &Publisher{url: url, log: log.Named("publisher")}
}

// PublishTurnCompleted publishes ev to the durable chat.turn.completed
// queue as a persistent JSON message.
func (p *Publisher) PublishTurnCompleted(ctx context.Context, ev queue.TurnCompletedEvent) error {
    body, err := json.Marshal(ev)
    if err != nil {
        return err
    }
    return p.publish(ctx, queue.TurnCompletedQueue, ev.EventID, body)
}

// dialTimeout bounds the TCP dial and AMQP handshake when ctx has no deadline.
const dialTimeout = 5 * time.Second

func (p *Publisher) publish(ctx context.Context, queueName, messageID string, body []byte) error {
    conn, err := amqp.DialConfig(p.url, amqp.Config{Dial: contextDial(ctx)})
    if err != nil {
        p.log.Warn("rabbitmq dial failed", zap.Error(err))
        return err
    }
    defer func() { _ = conn.Close() }()
    // channel setup and publish block on broker replies; closing the
    // connection unblocks them once ctx is done
    stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
    defer stop()

    ch, err := conn.Channel()
    if err != nil {
        p.log.Warn("rabbitmq channel open failed", zap.Error(err))
        return err
    }
    defer func() { _ = ch.Close() }()

    // idempotent; durable so messages survive broker restarts
    if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
        p.log.Warn("rabbitmq queue declare failed", zap.String("queue", queueName), zap.Error(err))
        return err
    }

    msg := amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent,
        MessageId:    messageID,
        Timestamp:    time.Now().UTC(),
        Body:         body,
    }
    if err := ch.PublishWithContext(ctx, "", queueName, false, false, msg); err != nil {
        p.log.Warn("rabbitmq publish failed", zap.String("queue", queueName), zap.Error(err))
        return err
    }
    return nil
}

// contextDial dials with ctx and sets the handshake deadline from it.  The
// amqp client clears the deadline once the connection is open.
func contextDial(ctx context.Context) func(network, addr string) (net.Conn, error) {
    return func(network, addr string) (net.Conn, error) {
        deadline := time.Now().Add(dialTimeout)
        if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
            deadline = d
        }
        dctx, cancel := context.WithDeadline(ctx, deadline)
        defer cancel()
        conn, err := (&net.Dialer{}).DialContext(dctx, network, addr)
        if err != nil {
            return nil, err
        }
        if err := conn.SetDeadline(deadline); err != nil {
            _ = conn.Close()
            return nil, err
        }
        return conn, nil
    }
}
