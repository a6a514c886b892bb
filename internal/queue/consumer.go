// Package queue carries change events over RabbitMQ. Services publish to a
// topic exchange; every server instance consumes a private queue that feeds
// its realtime hub, and a durable queue of finalized lots is written to
// logs/lots.log for audit.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/auction-bidding/internal/config"
	"github.com/iliyamo/auction-bidding/internal/realtime"
)

// Binding names the queue a consumer reads and what it binds to.
type Binding struct {
	Queue      string // empty for a server-named queue
	Durable    bool
	Exclusive  bool
	RoutingKey string
}

// Handler processes one delivery. A returned error rejects the message
// without requeue.
type Handler func(ctx context.Context, d amqp.Delivery) error

// Consume connects to the broker, binds b to the exchange and hands every
// delivery to h. It reconnects with exponential backoff capped at 30s and
// returns only when ctx is done.
func Consume(ctx context.Context, cfg config.BrokerConfig, b Binding, h Handler, log *slog.Logger) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(cfg.URL)
		if err != nil {
			log.Warn("consumer: dial failed", "queue", b.Queue, "err", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = consumeLoop(ctx, conn, cfg.Exchange, b, h, log)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("consumer: loop ended, reconnecting", "queue", b.Queue, "err", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, exchange string, b Binding, h Handler, log *slog.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Warn("consumer: set QoS failed", "err", err)
	}
	if err := declareExchange(ch, exchange); err != nil {
		return err
	}
	q, err := ch.QueueDeclare(b.Queue, b.Durable, !b.Durable, b.Exclusive, false, nil)
	if err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.QueueBind(q.Name, b.RoutingKey, exchange, false, nil); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}
	msgs, err := ch.Consume(q.Name, "", false, b.Exclusive, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	log.Info("consumer: started", "queue", q.Name, "binding", b.RoutingKey)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := h(ctx, d); err != nil {
				log.Error("consumer: handle message failed", "queue", q.Name, "message_id", d.MessageId, "err", err)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// RunFeed forwards every change event on the exchange into pub, normally
// the local hub. Each server instance gets its own exclusive queue.
func RunFeed(ctx context.Context, cfg config.BrokerConfig, pub realtime.Publisher, log *slog.Logger) error {
	b := Binding{Exclusive: true, RoutingKey: "#"}
	return Consume(ctx, cfg, b, func(ctx context.Context, d amqp.Delivery) error {
		var ev realtime.ChangeEvent
		if err := json.Unmarshal(d.Body, &ev); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		return pub.Publish(ctx, ev)
	}, log)
}

// RunAudit appends every finalized lot to <AuditLogDir>/lots.log.
func RunAudit(ctx context.Context, cfg config.BrokerConfig, log *slog.Logger) error {
	b := Binding{Queue: cfg.AuditQueue, Durable: true, RoutingKey: realtime.TableLots + ".*.finalized"}
	w := AuditWriter{Dir: cfg.AuditLogDir}
	return Consume(ctx, cfg, b, func(_ context.Context, d amqp.Delivery) error {
		var ev realtime.ChangeEvent
		if err := json.Unmarshal(d.Body, &ev); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		lf, err := LotFinalizedFromChange(ev)
		if err != nil {
			return err
		}
		return w.Write(lf)
	}, log)
}

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
