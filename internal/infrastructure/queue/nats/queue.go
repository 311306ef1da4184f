package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/trade-evidence/internal/infrastructure/resilience"
)

const attemptHeader = "Trade-Delivery-Attempt"

type Queue struct {
	conn            *nats.Conn
	subject         string
	group           string
	maxDeliveries   int
	redeliveryDelay time.Duration
	executor        *resilience.Executor
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	QueueGroup           string
	// MaxDeliveries bounds how often a document id is handed to the handler when it keeps failing.
	MaxDeliveries      int
	RedeliveryDelay    time.Duration
	ResilienceExecutor *resilience.Executor
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	group := options.QueueGroup
	if group == "" {
		group = "evidence-workers"
	}
	maxDeliveries := options.MaxDeliveries
	if maxDeliveries <= 0 {
		maxDeliveries = 3
	}
	redeliveryDelay := options.RedeliveryDelay
	if redeliveryDelay <= 0 {
		redeliveryDelay = 5 * time.Second
	}

	conn, err := nats.Connect(
		url,
		nats.Name("trade-evidence"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:            conn,
		subject:         subject,
		group:           group,
		maxDeliveries:   maxDeliveries,
		redeliveryDelay: redeliveryDelay,
		executor:        options.ResilienceExecutor,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishDocumentUploaded(ctx context.Context, documentID string) error {
	return q.publish(ctx, documentID, 1)
}

func (q *Queue) publish(ctx context.Context, documentID string, attempt int) error {
	msg := nats.NewMsg(q.subject)
	msg.Data = []byte(documentID)
	msg.Header.Set(attemptHeader, strconv.Itoa(attempt))

	call := func(_ context.Context) error {
		if err := q.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	var err error
	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// SubscribeDocumentUploaded blocks until ctx is done. A handler error schedules one more
// delivery of the same id until MaxDeliveries is reached.
func (q *Queue) SubscribeDocumentUploaded(ctx context.Context, handler func(context.Context, string) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, q.group, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		documentID := string(msg.Data)
		attempt := deliveryAttempt(msg)

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		err := handler(handlerCtx, documentID)
		if err == nil {
			return
		}
		if attempt >= q.maxDeliveries {
			slog.Error("document_delivery_exhausted", "document_id", documentID, "attempt", attempt, "error", err)
			return
		}
		slog.Warn("document_redelivery_scheduled",
			"document_id", documentID,
			"attempt", attempt,
			"delay_ms", q.redeliveryDelay.Milliseconds(),
			"error", err,
		)
		time.AfterFunc(q.redeliveryDelay, func() {
			if ctx.Err() != nil {
				return
			}
			if err := q.publish(context.WithoutCancel(ctx), documentID, attempt+1); err != nil {
				slog.Error("document_redelivery_failed", "document_id", documentID, "error", err)
			}
		})
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func deliveryAttempt(msg *nats.Msg) int {
	if msg.Header == nil {
		return 1
	}
	n, err := strconv.Atoi(msg.Header.Get(attemptHeader))
	if err != nil || n < 1 {
		return 1
	}
	return n
}
